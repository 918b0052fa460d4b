package syncer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"smsrelay/crypto"
	"smsrelay/models"
	"smsrelay/notify"
	"smsrelay/storage"
)

const unknownSender = "Unknown"

// Poll runs one synchronization pass against the connected agent and returns
// the number of newly mirrored messages.
func (s *Synchronizer) Poll(ctx context.Context) (int, error) {
	s.mu.Lock()
	sess := s.session
	connected := sess != nil && sess.connected
	s.mu.Unlock()
	if !connected {
		return 0, ErrNotConnected
	}

	if !sess.inFlight.CompareAndSwap(false, true) {
		return 0, ErrPollInFlight
	}
	defer sess.inFlight.Store(false)

	return s.pollOnce(ctx, sess)
}

func (s *Synchronizer) pollLoop(sess *session) {
	defer sess.wg.Done()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	s.spawnPoll(sess)
	for {
		select {
		case <-sess.ctx.Done():
			return
		case <-ticker.C:
			s.spawnPoll(sess)
		}
	}
}

func (s *Synchronizer) spawnPoll(sess *session) {
	if !sess.inFlight.CompareAndSwap(false, true) {
		s.log.Debug().Str("session", sess.id).Msg("poll still in flight, skipping tick")
		return
	}

	sess.wg.Add(1)
	go func() {
		defer sess.wg.Done()
		defer sess.inFlight.Store(false)
		_, _ = s.pollOnce(context.Background(), sess)
	}()
}

// pollOnce fetches a snapshot for sess and merges it. The caller must own sess.inFlight.
func (s *Synchronizer) pollOnce(ctx context.Context, sess *session) (int, error) {
	fetchCtx, cancel := context.WithTimeout(sess.ctx, s.opts.FetchTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	records, fetchErr := s.opts.Transport.Fetch(fetchCtx, sess.endpoint)

	s.mu.Lock()
	if s.session != sess || sess.ctx.Err() != nil {
		s.mu.Unlock()
		s.log.Debug().Str("session", sess.id).Msg("discarding poll result for stale session")
		return 0, ErrStaleSession
	}

	if fetchErr != nil {
		if ctx.Err() != nil {
			s.mu.Unlock()
			return 0, ctx.Err()
		}
		sess.failures++
		failures := sess.failures
		if failures >= s.opts.FailureThreshold && !sess.demoting {
			sess.demoting = true
			s.bg.Add(1)
			go s.demote(sess, fetchErr)
		}
		s.mu.Unlock()

		s.log.Debug().Err(fetchErr).Str("session", sess.id).Int("failures", failures).Msg("poll failed")
		return 0, fetchErr
	}
	sess.failures = 0

	inserted, err := s.opts.Store.InsertMessagesIfAbsent(toStorageMessages(sess.target.Identifier, records))
	if err != nil {
		s.mu.Unlock()
		s.log.Error().Err(err).Str("session", sess.id).Msg("merge snapshot")
		return 0, fmt.Errorf("%w: %v", ErrPersistenceWrite, err)
	}

	seeding := !sess.seeded
	sess.seeded = true
	prefs := s.preferencesLocked()

	var fresh []models.Message
	if !seeding && len(inserted) > 0 && (prefs.NotificationEnabled || prefs.SoundEnabled) {
		fresh, err = s.visibleLocked(inserted)
		if err != nil {
			s.log.Error().Err(err).Msg("filter blocked senders")
		}
	}
	s.mu.Unlock()

	if len(fresh) > 0 {
		s.opts.Notifier.Publish(notify.Event{
			Type:     notify.EventSMSReceived,
			Messages: fresh,
			Sound:    prefs.SoundEnabled,
			Desktop:  prefs.NotificationEnabled,
			Time:     time.Now().UTC(),
		})
	}

	if len(inserted) > 0 {
		s.log.Info().
			Str("session", sess.id).
			Int("received", len(records)).
			Int("new", len(inserted)).
			Bool("seeding", seeding).
			Msg("mirrored messages")
	}
	return len(inserted), nil
}

// visibleLocked drops messages from blocked senders. The caller must hold mu.
func (s *Synchronizer) visibleLocked(messages []storage.Message) ([]models.Message, error) {
	blocked, err := s.opts.Store.ListBlockedSenders()
	if err != nil {
		return nil, err
	}
	blockedSet := make(map[string]struct{}, len(blocked))
	for _, sender := range blocked {
		blockedSet[sender] = struct{}{}
	}

	out := make([]models.Message, 0, len(messages))
	for _, message := range messages {
		if _, ok := blockedSet[message.Sender]; ok {
			continue
		}
		out = append(out, toModelMessage(message))
	}
	return out, nil
}

func toStorageMessages(device string, records []models.AgentRecord) []storage.Message {
	out := make([]storage.Message, 0, len(records))
	for _, record := range records {
		sender := strings.TrimSpace(record.Address)
		if sender == "" {
			sender = unknownSender
		}
		out = append(out, storage.Message{
			MessageID: crypto.MessageID(device, record.Date, sender, record.Body),
			Sender:    sender,
			Body:      record.Body,
			Timestamp: record.Date,
		})
	}
	return out
}

func toModelMessage(message storage.Message) models.Message {
	return models.Message{
		ID:        message.MessageID,
		Sender:    message.Sender,
		Body:      message.Body,
		Timestamp: message.Timestamp,
		Read:      message.IsRead,
	}
}
