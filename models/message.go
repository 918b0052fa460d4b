package models

// Message is one mirrored inbound SMS as served to the presentation layer.
type Message struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Body      string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	Read      bool   `json:"read"`
}

// AgentRecord is one entry of the device agent's /sms snapshot.
type AgentRecord struct {
	Address string `json:"address"`
	Body    string `json:"body"`
	Date    int64  `json:"date"`
}

// Stats summarizes the visible part of the mirror.
type Stats struct {
	Total     int `json:"total"`
	Unread    int `json:"unread"`
	Read      int `json:"read"`
	Recent24h int `json:"recent_24h"`
}
