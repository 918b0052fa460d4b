package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// MessageStats holds mirror counters for non-blocked senders.
type MessageStats struct {
	Total  int
	Unread int
	Recent int
}

// InsertMessagesIfAbsent stores every message whose ID is not yet mirrored.
//
// Existing rows are left untouched, including their read flag. The returned
// slice holds only the rows that were actually inserted, in input order.
func (s *Store) InsertMessagesIfAbsent(messages []Message) ([]Message, error) {
	if len(messages) == 0 {
		return nil, nil
	}
	for _, message := range messages {
		if message.MessageID == "" {
			return nil, errors.New("message_id is required")
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin merge transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.Prepare(
		`INSERT INTO messages (
			message_id,
			sender,
			body,
			timestamp,
			is_read,
			first_seen
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO NOTHING`,
	)
	if err != nil {
		return nil, fmt.Errorf("prepare merge insert: %w", err)
	}
	defer stmt.Close()

	now := nowUnixMilli()
	inserted := make([]Message, 0)
	for _, message := range messages {
		if message.FirstSeen == 0 {
			message.FirstSeen = now
		}
		res, err := stmt.Exec(
			message.MessageID,
			message.Sender,
			message.Body,
			message.Timestamp,
			boolToInt(message.IsRead),
			message.FirstSeen,
		)
		if err != nil {
			return nil, fmt.Errorf("insert message %q: %w", message.MessageID, err)
		}
		rowsAffected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("read rows affected for message %q: %w", message.MessageID, err)
		}
		if rowsAffected == 1 {
			inserted = append(inserted, message)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit merge transaction: %w", err)
	}

	return inserted, nil
}

// ListMessages returns mirrored messages newest first.
func (s *Store) ListMessages(filter MessageFilter) ([]Message, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT
		message_id,
		sender,
		body,
		timestamp,
		is_read,
		first_seen
	FROM messages`)

	where := make([]string, 0, 3)
	args := make([]any, 0, 1)

	if filter.UnreadOnly {
		where = append(where, "is_read = 0")
	}
	if !filter.IncludeBlocked {
		where = append(where, "sender NOT IN (SELECT sender FROM blocked_senders)")
	}
	if filter.Sender != "" {
		where = append(where, "sender = ?")
		args = append(args, filter.Sender)
	}

	if len(where) > 0 {
		query.WriteString(" WHERE ")
		query.WriteString(strings.Join(where, " AND "))
	}
	query.WriteString(" ORDER BY timestamp DESC, message_id ASC")

	rows, err := s.db.Query(query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, *message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	return messages, nil
}

// GetMessageByID fetches one message by message ID.
func (s *Store) GetMessageByID(messageID string) (*Message, error) {
	if messageID == "" {
		return nil, errors.New("message_id is required")
	}

	row := s.db.QueryRow(
		`SELECT
			message_id,
			sender,
			body,
			timestamp,
			is_read,
			first_seen
		FROM messages
		WHERE message_id = ?`,
		messageID,
	)

	message, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message %q: %w", messageID, err)
	}
	return message, nil
}

// SetRead updates the read flag for one message. Unknown IDs return ErrNotFound.
func (s *Store) SetRead(messageID string, read bool) error {
	if messageID == "" {
		return errors.New("message_id is required")
	}

	res, err := s.db.Exec(
		`UPDATE messages
		SET is_read = ?
		WHERE message_id = ?`,
		boolToInt(read),
		messageID,
	)
	if err != nil {
		return fmt.Errorf("set read for message %q: %w", messageID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for set read %q: %w", messageID, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// ClearMessages removes every mirrored message and its read state.
func (s *Store) ClearMessages() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM messages`)
	if err != nil {
		return 0, fmt.Errorf("clear messages: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for clear messages: %w", err)
	}

	return rowsAffected, nil
}

// MessageStats counts visible messages. Recent counts messages with a
// timestamp at or after recentSince.
func (s *Store) MessageStats(recentSince int64) (MessageStats, error) {
	var stats MessageStats
	err := s.db.QueryRow(
		`SELECT
			COUNT(1),
			COALESCE(SUM(CASE WHEN is_read = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN timestamp >= ? THEN 1 ELSE 0 END), 0)
		FROM messages
		WHERE sender NOT IN (SELECT sender FROM blocked_senders)`,
		recentSince,
	).Scan(&stats.Total, &stats.Unread, &stats.Recent)
	if err != nil {
		return MessageStats{}, fmt.Errorf("count message stats: %w", err)
	}
	return stats, nil
}

func scanMessage(row scanner) (*Message, error) {
	var (
		message Message
		isRead  int
	)

	if err := row.Scan(
		&message.MessageID,
		&message.Sender,
		&message.Body,
		&message.Timestamp,
		&isRead,
		&message.FirstSeen,
	); err != nil {
		return nil, err
	}

	message.IsRead = isRead == 1
	return &message, nil
}
