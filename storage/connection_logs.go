package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SetConnectionLogRetention configures automatic connection-log pruning horizon.
func (s *Store) SetConnectionLogRetention(retention time.Duration) {
	if retention <= 0 {
		retention = DefaultConnectionLogRetention
	}
	s.connectionLogRetention = retention
}

// AppendConnectionLog inserts one connection lifecycle row and applies retention pruning.
func (s *Store) AppendConnectionLog(entry ConnectionLog) (int64, error) {
	if err := validateLogType(entry.LogType); err != nil {
		return 0, err
	}
	if err := validateMode(entry.Mode); err != nil {
		return 0, err
	}
	if strings.TrimSpace(entry.Target) == "" {
		return 0, errors.New("target is required")
	}
	if entry.StartedAt == 0 {
		entry.StartedAt = nowUnixMilli()
	}

	res, err := s.db.Exec(
		`INSERT INTO connection_logs (
			log_type,
			mode,
			target,
			started_at,
			ended_at
		) VALUES (?, ?, ?, ?, ?)`,
		entry.LogType,
		entry.Mode,
		entry.Target,
		entry.StartedAt,
		nullInt64(entry.EndedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert connection log %q: %w", entry.LogType, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read connection log id: %w", err)
	}

	if err := s.pruneExpiredConnectionLogs(); err != nil {
		return id, err
	}

	return id, nil
}

// ListConnectionLogs returns connection log rows in append order.
func (s *Store) ListConnectionLogs() ([]ConnectionLog, error) {
	rows, err := s.db.Query(
		`SELECT
			id,
			log_type,
			mode,
			target,
			started_at,
			ended_at
		FROM connection_logs
		ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list connection logs: %w", err)
	}
	defer rows.Close()

	entries := make([]ConnectionLog, 0)
	for rows.Next() {
		entry, err := scanConnectionLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection log row: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connection log rows: %w", err)
	}

	return entries, nil
}

// PruneConnectionLogs removes rows that started before cutoffTimestamp.
func (s *Store) PruneConnectionLogs(cutoffTimestamp int64) (int64, error) {
	if cutoffTimestamp <= 0 {
		return 0, errors.New("cutoff timestamp must be > 0")
	}

	res, err := s.db.Exec(`DELETE FROM connection_logs WHERE started_at < ?`, cutoffTimestamp)
	if err != nil {
		return 0, fmt.Errorf("prune connection logs: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for connection log prune: %w", err)
	}

	return rowsAffected, nil
}

func scanConnectionLog(row scanner) (*ConnectionLog, error) {
	var (
		entry   ConnectionLog
		endedAt sql.NullInt64
	)
	if err := row.Scan(
		&entry.ID,
		&entry.LogType,
		&entry.Mode,
		&entry.Target,
		&entry.StartedAt,
		&endedAt,
	); err != nil {
		return nil, err
	}

	entry.EndedAt = int64Ptr(endedAt)
	return &entry, nil
}
