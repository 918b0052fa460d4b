package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

const (
	logTypeConnect    = "connect"
	logTypeDisconnect = "disconnect"
)

const (
	modeNetwork = "network"
	modeBridge  = "bridge"
)

// Message is the SQLite representation of one mirrored SMS.
type Message struct {
	MessageID string
	Sender    string
	Body      string
	Timestamp int64
	IsRead    bool
	FirstSeen int64
}

// MessageFilter narrows ListMessages results.
type MessageFilter struct {
	UnreadOnly     bool
	IncludeBlocked bool
	Sender         string
}

// ConnectionLog is one append-only connection lifecycle row.
type ConnectionLog struct {
	ID        int64
	LogType   string
	Mode      string
	Target    string
	StartedAt int64
	EndedAt   *int64
}

type scanner interface {
	Scan(dest ...any) error
}

func validateLogType(logType string) error {
	switch logType {
	case logTypeConnect, logTypeDisconnect:
		return nil
	default:
		return fmt.Errorf("invalid connection log type %q", logType)
	}
}

func validateMode(mode string) error {
	switch mode {
	case modeNetwork, modeBridge:
		return nil
	default:
		return fmt.Errorf("invalid connection mode %q", mode)
	}
}

func nullInt64(ptr *int64) sql.NullInt64 {
	if ptr == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *ptr, Valid: true}
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
