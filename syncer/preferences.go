package syncer

import (
	"fmt"
	"time"

	"smsrelay/models"
	"smsrelay/notify"
)

// Preferences returns the current alert preferences.
func (s *Synchronizer) Preferences() models.Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preferencesLocked()
}

// SavePreferences persists prefs. When the write fails the previous
// preferences stay in effect and are returned along with ErrPersistenceWrite.
func (s *Synchronizer) SavePreferences(prefs models.Preferences) (models.Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg.Clone()
	next.SoundEnabled = prefs.SoundEnabled
	next.NotificationEnabled = prefs.NotificationEnabled

	if err := s.opts.SaveConfig(next); err != nil {
		s.log.Error().Err(err).Msg("save preferences")
		return s.preferencesLocked(), fmt.Errorf("%w: %v", ErrPersistenceWrite, err)
	}

	s.cfg = next
	return s.preferencesLocked(), nil
}

// TestNotification publishes a test event carrying the current alert flags.
func (s *Synchronizer) TestNotification() models.Preferences {
	prefs := s.Preferences()
	s.opts.Notifier.Publish(notify.Event{
		Type:    notify.EventTest,
		Sound:   prefs.SoundEnabled,
		Desktop: prefs.NotificationEnabled,
		Time:    time.Now().UTC(),
	})
	return prefs
}

func (s *Synchronizer) preferencesLocked() models.Preferences {
	return models.Preferences{
		SoundEnabled:        s.cfg.SoundEnabled,
		NotificationEnabled: s.cfg.NotificationEnabled,
	}
}
