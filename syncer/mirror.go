package syncer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"smsrelay/models"
	"smsrelay/storage"
)

const recentWindow = 24 * time.Hour

// Messages returns visible mirrored messages, newest first.
func (s *Synchronizer) Messages() ([]models.Message, error) {
	return s.listMessages(storage.MessageFilter{})
}

// Unread returns visible unread messages, newest first.
func (s *Synchronizer) Unread() ([]models.Message, error) {
	return s.listMessages(storage.MessageFilter{UnreadOnly: true})
}

// Conversations groups visible messages by sender.
func (s *Synchronizer) Conversations() ([]models.Conversation, error) {
	messages, err := s.Messages()
	if err != nil {
		return nil, err
	}
	return models.GroupConversations(messages), nil
}

func (s *Synchronizer) listMessages(filter storage.MessageFilter) ([]models.Message, error) {
	s.mu.Lock()
	rows, err := s.opts.Store.ListMessages(filter)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		out = append(out, toModelMessage(row))
	}
	return out, nil
}

// MarkRead sets the read flag of one mirrored message.
func (s *Synchronizer) MarkRead(messageID string, read bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.opts.Store.SetRead(messageID, read); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
		}
		return fmt.Errorf("%w: %v", ErrPersistenceWrite, err)
	}
	return nil
}

// Block hides sender from every read path. Mirrored rows are retained.
func (s *Synchronizer) Block(sender string) error {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return ErrInvalidSender
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.opts.Store.BlockSender(sender, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceWrite, err)
	}
	s.log.Info().Str("sender", sender).Msg("sender blocked")
	return nil
}

// Unblock makes sender visible again. It reports whether sender was blocked.
func (s *Synchronizer) Unblock(sender string) (bool, error) {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return false, ErrInvalidSender
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.opts.Store.UnblockSender(sender)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrPersistenceWrite, err)
	}
	if removed {
		s.log.Info().Str("sender", sender).Msg("sender unblocked")
	}
	return removed, nil
}

// BlockedSenders lists the block set.
func (s *Synchronizer) BlockedSenders() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.Store.ListBlockedSenders()
}

// Stats counts visible messages.
func (s *Synchronizer) Stats() (models.Stats, error) {
	since := time.Now().Add(-recentWindow).UnixMilli()

	s.mu.Lock()
	stats, err := s.opts.Store.MessageStats(since)
	s.mu.Unlock()
	if err != nil {
		return models.Stats{}, err
	}

	return models.Stats{
		Total:     stats.Total,
		Unread:    stats.Unread,
		Read:      stats.Total - stats.Unread,
		Recent24h: stats.Recent,
	}, nil
}

// Logs returns the connection history in append order.
func (s *Synchronizer) Logs() ([]models.ConnectionLogEntry, error) {
	s.mu.Lock()
	rows, err := s.opts.Store.ListConnectionLogs()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]models.ConnectionLogEntry, 0, len(rows))
	for _, row := range rows {
		entry := models.ConnectionLogEntry{
			ID:     row.ID,
			Type:   models.LogType(row.LogType),
			Mode:   models.ConnectionMode(row.Mode),
			Target: row.Target,
			Time:   time.UnixMilli(row.StartedAt).UTC(),
		}
		if row.EndedAt != nil {
			end := time.UnixMilli(*row.EndedAt).UTC()
			entry.EndTime = &end
		}
		out = append(out, entry)
	}
	return out, nil
}
