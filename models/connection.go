package models

import "time"

// ConnectionMode selects how the desktop reaches the device agent.
type ConnectionMode string

const (
	// ModeNetwork addresses the agent directly by IP over Wi-Fi.
	ModeNetwork ConnectionMode = "network"
	// ModeBridge reaches the agent through a wired adb port-forward.
	ModeBridge ConnectionMode = "bridge"
)

// Valid reports whether m is a known connection mode.
func (m ConnectionMode) Valid() bool {
	return m == ModeNetwork || m == ModeBridge
}

// ConnectionState is the lifecycle phase of the current connection target.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateFailed       ConnectionState = "failed"
)

// LogType marks a connection log entry as the start or end of a session.
type LogType string

const (
	LogConnect    LogType = "connect"
	LogDisconnect LogType = "disconnect"
)

// Device is one wired device reported by the bridge tool.
type Device struct {
	Serial string `json:"serial"`
	State  string `json:"state"`
}

// ConnectionLogEntry records one connection lifecycle transition.
type ConnectionLogEntry struct {
	ID      int64          `json:"-"`
	Type    LogType        `json:"type"`
	Mode    ConnectionMode `json:"mode"`
	Target  string         `json:"target"`
	Time    time.Time      `json:"time"`
	EndTime *time.Time     `json:"end_time,omitempty"`
}

// Status describes the current connection target.
type Status struct {
	Active bool            `json:"active"`
	Device string          `json:"device,omitempty"`
	Type   ConnectionMode  `json:"type,omitempty"`
	State  ConnectionState `json:"state"`
	Error  string          `json:"error,omitempty"`
}

// Preferences are the user-facing alert toggles persisted in config.json.
type Preferences struct {
	SoundEnabled        bool `json:"sound_enabled"`
	NotificationEnabled bool `json:"notification_enabled"`
}
