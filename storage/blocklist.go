package storage

import (
	"errors"
	"fmt"
	"strings"
)

// BlockSender adds sender to the persistent block set. Blocking twice is a no-op.
func (s *Store) BlockSender(sender string, blockedAt int64) error {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return errors.New("sender is required")
	}
	if blockedAt == 0 {
		blockedAt = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO blocked_senders (sender, blocked_at)
		VALUES (?, ?)
		ON CONFLICT(sender) DO NOTHING`,
		sender,
		blockedAt,
	)
	if err != nil {
		return fmt.Errorf("block sender %q: %w", sender, err)
	}

	return nil
}

// UnblockSender removes sender from the block set. It reports whether a row was removed.
func (s *Store) UnblockSender(sender string) (bool, error) {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return false, errors.New("sender is required")
	}

	res, err := s.db.Exec(`DELETE FROM blocked_senders WHERE sender = ?`, sender)
	if err != nil {
		return false, fmt.Errorf("unblock sender %q: %w", sender, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("read rows affected for unblock %q: %w", sender, err)
	}

	return rowsAffected > 0, nil
}

// IsBlocked returns true if sender is in the block set.
func (s *Store) IsBlocked(sender string) (bool, error) {
	if sender == "" {
		return false, errors.New("sender is required")
	}

	var exists int
	if err := s.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM blocked_senders WHERE sender = ?)`,
		sender,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check blocked sender %q: %w", sender, err)
	}

	return exists == 1, nil
}

// ListBlockedSenders returns the block set ordered by block time.
func (s *Store) ListBlockedSenders() ([]string, error) {
	rows, err := s.db.Query(`SELECT sender FROM blocked_senders ORDER BY blocked_at ASC, sender ASC`)
	if err != nil {
		return nil, fmt.Errorf("list blocked senders: %w", err)
	}
	defer rows.Close()

	senders := make([]string, 0)
	for rows.Next() {
		var sender string
		if err := rows.Scan(&sender); err != nil {
			return nil, fmt.Errorf("scan blocked sender row: %w", err)
		}
		senders = append(senders, sender)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blocked sender rows: %w", err)
	}

	return senders, nil
}
