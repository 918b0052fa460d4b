package models

import "sort"

// Conversation groups the messages of one sender in chronological order.
type Conversation struct {
	Sender      string    `json:"sender"`
	Messages    []Message `json:"messages"`
	LastMessage *Message  `json:"last_message,omitempty"`
	UnreadCount int       `json:"unread_count"`
}

// GroupConversations builds per-sender conversations from a flat message list.
// Conversations are ordered by their most recent message, newest first.
func GroupConversations(messages []Message) []Conversation {
	bySender := make(map[string]*Conversation)
	order := make([]string, 0)

	for _, msg := range messages {
		conv, ok := bySender[msg.Sender]
		if !ok {
			conv = &Conversation{Sender: msg.Sender}
			bySender[msg.Sender] = conv
			order = append(order, msg.Sender)
		}
		conv.Messages = append(conv.Messages, msg)
		if !msg.Read {
			conv.UnreadCount++
		}
	}

	out := make([]Conversation, 0, len(order))
	for _, sender := range order {
		conv := bySender[sender]
		sort.SliceStable(conv.Messages, func(i, j int) bool {
			return conv.Messages[i].Timestamp < conv.Messages[j].Timestamp
		})
		last := conv.Messages[len(conv.Messages)-1]
		conv.LastMessage = &last
		out = append(out, *conv)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastMessage.Timestamp == out[j].LastMessage.Timestamp {
			return out[i].Sender < out[j].Sender
		}
		return out[i].LastMessage.Timestamp > out[j].LastMessage.Timestamp
	})
	return out
}
