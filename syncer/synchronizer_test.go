package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smsrelay/config"
	"smsrelay/models"
	"smsrelay/notify"
	"smsrelay/storage"
	"smsrelay/transport"
)

type fakeTransport struct {
	mu         sync.Mutex
	resolveErr map[string]error
	snapshots  map[string][]models.AgentRecord
	fetchErr   error
	fetchCalls int
	delay      time.Duration
	active     int
	maxActive  int

	// When set, Fetch signals started and waits on release, ignoring ctx.
	started chan struct{}
	release chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		resolveErr: make(map[string]error),
		snapshots:  make(map[string][]models.AgentRecord),
	}
}

func (f *fakeTransport) Resolve(_ context.Context, target transport.Target) (*transport.Endpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.resolveErr[target.Identifier]; err != nil {
		return nil, err
	}
	return &transport.Endpoint{
		BaseURL:    "http://" + target.Identifier + ":8080",
		Mode:       target.Mode,
		Identifier: target.Identifier,
	}, nil
}

func (f *fakeTransport) Fetch(_ context.Context, endpoint *transport.Endpoint) ([]models.AgentRecord, error) {
	f.mu.Lock()
	f.fetchCalls++
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	started, release, delay := f.started, f.release, f.delay
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if started != nil {
		started <- struct{}{}
		<-release
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	records := f.snapshots[endpoint.Identifier]
	return append([]models.AgentRecord(nil), records...), nil
}

func (f *fakeTransport) ListDevices(context.Context) ([]models.Device, error) {
	return []models.Device{{Serial: "emulator-5554", State: "device"}}, nil
}

func (f *fakeTransport) setSnapshot(identifier string, records ...models.AgentRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[identifier] = records
}

func (f *fakeTransport) fetchStats() (calls, maxActive int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls, f.maxActive
}

func (f *fakeTransport) setFetchErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErr = err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingPublisher) Publish(event notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingPublisher) ofType(eventType notify.EventType) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, event := range r.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

func newTestSynchronizer(t *testing.T, ft *fakeTransport, mutate func(*Options)) (*Synchronizer, *recordingPublisher) {
	t.Helper()

	store, err := storage.OpenPath(filepath.Join(t.TempDir(), storage.DefaultDBFileName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	pub := &recordingPublisher{}
	opts := Options{
		Store:      store,
		Transport:  ft,
		Notifier:   pub,
		Config:     config.Default(),
		ManualPoll: true,
		Log:        zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&opts)
	}

	s, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, pub
}

func networkTarget(ip string) transport.Target {
	return transport.Target{Mode: models.ModeNetwork, Identifier: ip}
}

func TestNewRequiresStoreAndTransport(t *testing.T) {
	_, err := New(Options{Transport: newFakeTransport()})
	require.Error(t, err)

	_, err = New(Options{})
	require.Error(t, err)
}

func TestReceivedMessageIsMirroredUnread(t *testing.T) {
	ft := newFakeTransport()
	ft.setSnapshot("192.168.1.20", models.AgentRecord{Address: "+1555", Body: "hi", Date: 1000})
	s, _ := newTestSynchronizer(t, ft, nil)

	status, err := s.Connect(context.Background(), networkTarget("192.168.1.20"))
	require.NoError(t, err)
	assert.True(t, status.Active)
	assert.Equal(t, models.StateConnected, status.State)
	assert.Equal(t, "192.168.1.20", status.Device)
	assert.Equal(t, models.ModeNetwork, status.Type)

	n, err := s.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	messages, err := s.Messages()
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "+1555", messages[0].Sender)
	assert.Equal(t, "hi", messages[0].Body)
	assert.Equal(t, int64(1000), messages[0].Timestamp)
	assert.False(t, messages[0].Read)
	assert.NotEmpty(t, messages[0].ID)

	unread, err := s.Unread()
	require.NoError(t, err)
	assert.Len(t, unread, 1)

	conversations, err := s.Conversations()
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Equal(t, "+1555", conversations[0].Sender)
	assert.Equal(t, 1, conversations[0].UnreadCount)

	require.NoError(t, s.MarkRead(messages[0].ID, true))
	unread, err = s.Unread()
	require.NoError(t, err)
	assert.Empty(t, unread)

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, models.Stats{Total: 1, Unread: 0, Read: 1, Recent24h: 0}, stats)
}

func TestMergeIsIdempotentAndPreservesRead(t *testing.T) {
	ft := newFakeTransport()
	first := models.AgentRecord{Address: "+1555", Body: "one", Date: 1000}
	second := models.AgentRecord{Address: "+1666", Body: "two", Date: 2000}
	ft.setSnapshot("10.0.0.2", first, second)
	s, _ := newTestSynchronizer(t, ft, nil)

	_, err := s.Connect(context.Background(), networkTarget("10.0.0.2"))
	require.NoError(t, err)

	n, err := s.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	messages, err := s.Messages()
	require.NoError(t, err)
	require.Len(t, messages, 2)
	readID := messages[1].ID
	require.Equal(t, "one", messages[1].Body)
	require.NoError(t, s.MarkRead(readID, true))

	// A superset snapshot adds only the new message.
	ft.setSnapshot("10.0.0.2", models.AgentRecord{Address: "+1777", Body: "three", Date: 3000}, second, first)
	n, err = s.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	messages, err = s.Messages()
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, []string{"three", "two", "one"}, []string{messages[0].Body, messages[1].Body, messages[2].Body})
	assert.True(t, messages[2].Read)
	assert.Equal(t, readID, messages[2].ID)
}

func TestEmptySenderBecomesUnknown(t *testing.T) {
	ft := newFakeTransport()
	ft.setSnapshot("10.0.0.2", models.AgentRecord{Address: "  ", Body: "anon", Date: 1000})
	s, _ := newTestSynchronizer(t, ft, nil)

	_, err := s.Connect(context.Background(), networkTarget("10.0.0.2"))
	require.NoError(t, err)
	_, err = s.Poll(context.Background())
	require.NoError(t, err)

	messages, err := s.Messages()
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "Unknown", messages[0].Sender)
}

func TestMarkReadUnknownMessage(t *testing.T) {
	s, _ := newTestSynchronizer(t, newFakeTransport(), nil)
	err := s.MarkRead("missing", true)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestBlockHidesSenderAndSuppressesNotifications(t *testing.T) {
	ft := newFakeTransport()
	ft.setSnapshot("10.0.0.2", models.AgentRecord{Address: "+1666", Body: "spam", Date: 1000})
	s, pub := newTestSynchronizer(t, ft, nil)

	_, err := s.Connect(context.Background(), networkTarget("10.0.0.2"))
	require.NoError(t, err)
	_, err = s.Poll(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Block("+1666"))
	messages, err := s.Messages()
	require.NoError(t, err)
	assert.Empty(t, messages)

	ft.setSnapshot("10.0.0.2",
		models.AgentRecord{Address: "+1555", Body: "hello", Date: 3000},
		models.AgentRecord{Address: "+1666", Body: "more spam", Date: 2000},
		models.AgentRecord{Address: "+1666", Body: "spam", Date: 1000},
	)
	n, err := s.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	messages, err = s.Messages()
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "+1555", messages[0].Sender)

	events := pub.ofType(notify.EventSMSReceived)
	require.Len(t, events, 1)
	require.Len(t, events[0].Messages, 1)
	assert.Equal(t, "+1555", events[0].Messages[0].Sender)

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)

	blocked, err := s.BlockedSenders()
	require.NoError(t, err)
	assert.Equal(t, []string{"+1666"}, blocked)

	removed, err := s.Unblock("+1666")
	require.NoError(t, err)
	assert.True(t, removed)
	messages, err = s.Messages()
	require.NoError(t, err)
	assert.Len(t, messages, 3)

	assert.ErrorIs(t, s.Block("  "), ErrInvalidSender)
}

func TestFirstPollSeedsWithoutNotifying(t *testing.T) {
	ft := newFakeTransport()
	ft.setSnapshot("10.0.0.2", models.AgentRecord{Address: "+1555", Body: "old", Date: 1000})
	s, pub := newTestSynchronizer(t, ft, nil)

	_, err := s.Connect(context.Background(), networkTarget("10.0.0.2"))
	require.NoError(t, err)
	_, err = s.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pub.ofType(notify.EventSMSReceived))

	ft.setSnapshot("10.0.0.2",
		models.AgentRecord{Address: "+1555", Body: "new", Date: 2000},
		models.AgentRecord{Address: "+1555", Body: "old", Date: 1000},
	)
	_, err = s.Poll(context.Background())
	require.NoError(t, err)

	events := pub.ofType(notify.EventSMSReceived)
	require.Len(t, events, 1)
	assert.True(t, events[0].Sound)
	assert.True(t, events[0].Desktop)
	require.Len(t, events[0].Messages, 1)
	assert.Equal(t, "new", events[0].Messages[0].Body)
}

func TestNotificationsRespectPreferences(t *testing.T) {
	ft := newFakeTransport()
	s, pub := newTestSynchronizer(t, ft, nil)

	_, err := s.SavePreferences(models.Preferences{SoundEnabled: false, NotificationEnabled: false})
	require.NoError(t, err)

	_, err = s.Connect(context.Background(), networkTarget("10.0.0.2"))
	require.NoError(t, err)
	_, err = s.Poll(context.Background())
	require.NoError(t, err)

	ft.setSnapshot("10.0.0.2", models.AgentRecord{Address: "+1555", Body: "quiet", Date: 1000})
	n, err := s.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, pub.ofType(notify.EventSMSReceived))

	_, err = s.SavePreferences(models.Preferences{SoundEnabled: true, NotificationEnabled: false})
	require.NoError(t, err)
	ft.setSnapshot("10.0.0.2",
		models.AgentRecord{Address: "+1555", Body: "beep", Date: 2000},
		models.AgentRecord{Address: "+1555", Body: "quiet", Date: 1000},
	)
	_, err = s.Poll(context.Background())
	require.NoError(t, err)

	events := pub.ofType(notify.EventSMSReceived)
	require.Len(t, events, 1)
	assert.True(t, events[0].Sound)
	assert.False(t, events[0].Desktop)
}

func TestDisconnectClearsMirrorAndStopsPolling(t *testing.T) {
	ft := newFakeTransport()
	ft.setSnapshot("10.0.0.2", models.AgentRecord{Address: "+1555", Body: "hi", Date: 1000})
	s, pub := newTestSynchronizer(t, ft, nil)

	_, err := s.Connect(context.Background(), networkTarget("10.0.0.2"))
	require.NoError(t, err)
	_, err = s.Poll(context.Background())
	require.NoError(t, err)

	status, err := s.Disconnect(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Active)
	assert.Equal(t, models.StateDisconnected, status.State)
	assert.Empty(t, status.Device)

	messages, err := s.Messages()
	require.NoError(t, err)
	assert.Empty(t, messages)

	_, err = s.Poll(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)

	logs, err := s.Logs()
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, models.LogConnect, logs[0].Type)
	assert.Equal(t, models.LogDisconnect, logs[1].Type)
	require.NotNil(t, logs[1].EndTime)

	changes := pub.ofType(notify.EventConnectionChanged)
	require.NotEmpty(t, changes)
	assert.False(t, changes[len(changes)-1].Status.Active)
}

func TestSwitchingTargetsLogsDisconnectThenConnect(t *testing.T) {
	ft := newFakeTransport()
	ft.setSnapshot("10.0.0.2", models.AgentRecord{Address: "+1555", Body: "from a", Date: 1000})
	ft.setSnapshot("emulator-5554", models.AgentRecord{Address: "+1777", Body: "from b", Date: 2000})
	s, _ := newTestSynchronizer(t, ft, nil)

	_, err := s.Connect(context.Background(), networkTarget("10.0.0.2"))
	require.NoError(t, err)
	_, err = s.Poll(context.Background())
	require.NoError(t, err)

	status, err := s.Connect(context.Background(), transport.Target{Mode: models.ModeBridge, Identifier: "emulator-5554"})
	require.NoError(t, err)
	assert.Equal(t, "emulator-5554", status.Device)
	assert.Equal(t, models.ModeBridge, status.Type)

	messages, err := s.Messages()
	require.NoError(t, err)
	assert.Empty(t, messages)

	_, err = s.Poll(context.Background())
	require.NoError(t, err)
	messages, err = s.Messages()
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "from b", messages[0].Body)

	logs, err := s.Logs()
	require.NoError(t, err)
	require.Len(t, logs, 3)

	assert.Equal(t, models.LogConnect, logs[0].Type)
	assert.Equal(t, "10.0.0.2", logs[0].Target)
	assert.Nil(t, logs[0].EndTime)

	assert.Equal(t, models.LogDisconnect, logs[1].Type)
	assert.Equal(t, "10.0.0.2", logs[1].Target)
	assert.Equal(t, models.ModeNetwork, logs[1].Mode)
	assert.Equal(t, logs[0].Time, logs[1].Time)
	require.NotNil(t, logs[1].EndTime)
	assert.False(t, logs[1].EndTime.Before(logs[1].Time))

	assert.Equal(t, models.LogConnect, logs[2].Type)
	assert.Equal(t, "emulator-5554", logs[2].Target)
	assert.Equal(t, models.ModeBridge, logs[2].Mode)
}

func TestConnectFailureLeavesFailedState(t *testing.T) {
	ft := newFakeTransport()
	ft.resolveErr["10.0.0.9"] = errors.New("dial tcp 10.0.0.9:8080: connection refused")
	s, _ := newTestSynchronizer(t, ft, nil)

	status, err := s.Connect(context.Background(), networkTarget("10.0.0.9"))
	require.ErrorIs(t, err, ErrTransportUnreachable)
	assert.False(t, status.Active)
	assert.Equal(t, models.StateFailed, status.State)
	assert.Equal(t, "10.0.0.9", status.Device)
	assert.Contains(t, status.Error, "connection refused")

	_, err = s.Poll(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)

	logs, err := s.Logs()
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, models.LogConnect, logs[0].Type)
	assert.Equal(t, models.LogDisconnect, logs[1].Type)
	assert.NotNil(t, logs[1].EndTime)
}

func TestConnectRejectsInvalidTarget(t *testing.T) {
	s, _ := newTestSynchronizer(t, newFakeTransport(), nil)

	_, err := s.Connect(context.Background(), transport.Target{Mode: "usb", Identifier: "x"})
	assert.ErrorIs(t, err, ErrInvalidTarget)

	_, err = s.Connect(context.Background(), transport.Target{Mode: models.ModeNetwork, Identifier: " "})
	assert.ErrorIs(t, err, ErrInvalidTarget)

	assert.Equal(t, models.StateDisconnected, s.Status().State)
}

func TestConsecutiveFailuresDemoteToDisconnected(t *testing.T) {
	ft := newFakeTransport()
	ft.setSnapshot("10.0.0.2", models.AgentRecord{Address: "+1555", Body: "hi", Date: 1000})
	s, _ := newTestSynchronizer(t, ft, nil)

	_, err := s.Connect(context.Background(), networkTarget("10.0.0.2"))
	require.NoError(t, err)
	_, err = s.Poll(context.Background())
	require.NoError(t, err)

	fetchErr := errors.New("agent timed out")
	ft.setFetchErr(fetchErr)
	for i := 0; i < 2; i++ {
		_, err = s.Poll(context.Background())
		require.ErrorIs(t, err, fetchErr)
	}

	// A success resets the counter.
	ft.setFetchErr(nil)
	_, err = s.Poll(context.Background())
	require.NoError(t, err)
	ft.setFetchErr(fetchErr)
	for i := 0; i < 2; i++ {
		_, err = s.Poll(context.Background())
		require.ErrorIs(t, err, fetchErr)
	}
	assert.True(t, s.Status().Active)

	_, err = s.Poll(context.Background())
	require.ErrorIs(t, err, fetchErr)

	require.Eventually(t, func() bool {
		return s.Status().State == models.StateDisconnected
	}, 2*time.Second, 10*time.Millisecond)

	status := s.Status()
	assert.False(t, status.Active)
	assert.NotEmpty(t, status.Error)

	messages, err := s.Messages()
	require.NoError(t, err)
	assert.Empty(t, messages)

	logs, err := s.Logs()
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, models.LogDisconnect, logs[1].Type)
}

func TestPollLoopPollsImmediatelyAndDemotes(t *testing.T) {
	ft := newFakeTransport()
	ft.setSnapshot("10.0.0.2", models.AgentRecord{Address: "+1555", Body: "hi", Date: 1000})
	s, _ := newTestSynchronizer(t, ft, func(o *Options) {
		o.ManualPoll = false
		o.PollInterval = 20 * time.Millisecond
	})

	_, err := s.Connect(context.Background(), networkTarget("10.0.0.2"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		messages, err := s.Messages()
		return err == nil && len(messages) == 1
	}, 2*time.Second, 5*time.Millisecond)

	ft.setFetchErr(errors.New("connection reset"))
	require.Eventually(t, func() bool {
		return s.Status().State == models.StateDisconnected
	}, 2*time.Second, 10*time.Millisecond)

	messages, err := s.Messages()
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestAtMostOnePollInFlight(t *testing.T) {
	ft := newFakeTransport()
	ft.setSnapshot("10.0.0.2", models.AgentRecord{Address: "+1555", Body: "hi", Date: 1000})
	started := make(chan struct{})
	release := make(chan struct{})
	ft.started, ft.release = started, release

	s, _ := newTestSynchronizer(t, ft, func(o *Options) {
		o.ManualPoll = false
		o.PollInterval = 10 * time.Millisecond
	})

	_, err := s.Connect(context.Background(), networkTarget("10.0.0.2"))
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("poll loop did not start a fetch")
	}

	_, err = s.Poll(context.Background())
	assert.ErrorIs(t, err, ErrPollInFlight)

	// Several ticks pass while the first fetch is blocked.
	time.Sleep(60 * time.Millisecond)
	calls, _ := ft.fetchStats()
	assert.Equal(t, 1, calls)

	ft.mu.Lock()
	ft.started, ft.release = nil, nil
	ft.delay = 30 * time.Millisecond
	ft.mu.Unlock()
	close(release)

	require.Eventually(t, func() bool {
		calls, _ := ft.fetchStats()
		return calls >= 4
	}, 2*time.Second, 5*time.Millisecond)

	_, maxActive := ft.fetchStats()
	assert.Equal(t, 1, maxActive)
	assert.Equal(t, models.StateConnected, s.Status().State)
}

func TestStaleResponseIsDiscarded(t *testing.T) {
	ft := newFakeTransport()
	ft.setSnapshot("10.0.0.2", models.AgentRecord{Address: "+1555", Body: "late", Date: 1000})
	s, _ := newTestSynchronizer(t, ft, nil)

	_, err := s.Connect(context.Background(), networkTarget("10.0.0.2"))
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	ft.mu.Lock()
	ft.started, ft.release = started, release
	ft.mu.Unlock()

	result := make(chan error, 1)
	go func() {
		_, err := s.Poll(context.Background())
		result <- err
	}()
	<-started

	ft.mu.Lock()
	ft.started, ft.release = nil, nil
	ft.mu.Unlock()

	_, err = s.Connect(context.Background(), networkTarget("10.0.0.3"))
	require.NoError(t, err)

	close(release)
	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrStaleSession)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stale poll")
	}

	messages, err := s.Messages()
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestSavePreferencesFailureKeepsCurrentValue(t *testing.T) {
	saveErr := errors.New("disk full")
	var saved *config.Config
	failing := true
	s, _ := newTestSynchronizer(t, newFakeTransport(), func(o *Options) {
		o.SaveConfig = func(cfg *config.Config) error {
			if failing {
				return saveErr
			}
			saved = cfg
			return nil
		}
	})

	before := s.Preferences()
	assert.Equal(t, models.Preferences{SoundEnabled: true, NotificationEnabled: true}, before)

	got, err := s.SavePreferences(models.Preferences{SoundEnabled: false, NotificationEnabled: true})
	require.ErrorIs(t, err, ErrPersistenceWrite)
	assert.Equal(t, before, got)
	assert.Equal(t, before, s.Preferences())

	failing = false
	got, err = s.SavePreferences(models.Preferences{SoundEnabled: false, NotificationEnabled: true})
	require.NoError(t, err)
	assert.Equal(t, models.Preferences{SoundEnabled: false, NotificationEnabled: true}, got)
	require.NotNil(t, saved)
	assert.False(t, saved.SoundEnabled)
	assert.NotEmpty(t, saved.InstanceID)
}

func TestTestNotificationPublishesPreferences(t *testing.T) {
	s, pub := newTestSynchronizer(t, newFakeTransport(), nil)

	prefs := s.TestNotification()
	events := pub.ofType(notify.EventTest)
	require.Len(t, events, 1)
	assert.Equal(t, prefs.SoundEnabled, events[0].Sound)
	assert.Equal(t, prefs.NotificationEnabled, events[0].Desktop)
}

func TestListDevicesDelegatesToTransport(t *testing.T) {
	s, _ := newTestSynchronizer(t, newFakeTransport(), nil)
	devices, err := s.ListDevices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.Device{{Serial: "emulator-5554", State: "device"}}, devices)
	assert.Equal(t, models.StateDisconnected, s.Status().State)
}
