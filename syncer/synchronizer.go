package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"smsrelay/config"
	"smsrelay/models"
	"smsrelay/notify"
	"smsrelay/storage"
	"smsrelay/transport"
)

var (
	// ErrTransportUnreachable indicates a connect attempt could not reach the agent.
	ErrTransportUnreachable = errors.New("syncer: transport unreachable")
	// ErrMessageNotFound indicates an unknown message ID.
	ErrMessageNotFound = errors.New("syncer: message not found")
	// ErrPersistenceWrite indicates a durable write failed and in-memory state was kept.
	ErrPersistenceWrite = errors.New("syncer: persistence write failed")
	// ErrInvalidTarget indicates a connect request with an unknown mode or empty identifier.
	ErrInvalidTarget = errors.New("syncer: invalid connection target")
	// ErrInvalidSender indicates an empty sender for block operations.
	ErrInvalidSender = errors.New("syncer: sender is required")
	// ErrNotConnected indicates no connected session to poll.
	ErrNotConnected = errors.New("syncer: not connected")
	// ErrPollInFlight indicates a poll was skipped because another is running.
	ErrPollInFlight = errors.New("syncer: poll already in flight")
	// ErrStaleSession indicates a poll result arrived for a session that is no longer current.
	ErrStaleSession = errors.New("syncer: stale session")
)

const (
	// DefaultPollInterval is the sync poll cadence.
	DefaultPollInterval = 5 * time.Second
	// DefaultFetchTimeout bounds one snapshot fetch.
	DefaultFetchTimeout = 10 * time.Second
	// DefaultFailureThreshold is the number of consecutive failed polls that demotes a session.
	DefaultFailureThreshold = 3

	releaseTimeout = 5 * time.Second
)

// Transport resolves targets into endpoints and reads agent snapshots.
type Transport interface {
	Resolve(ctx context.Context, target transport.Target) (*transport.Endpoint, error)
	Fetch(ctx context.Context, endpoint *transport.Endpoint) ([]models.AgentRecord, error)
	ListDevices(ctx context.Context) ([]models.Device, error)
}

// Options configures a Synchronizer.
type Options struct {
	Store     *storage.Store
	Transport Transport
	Notifier  notify.Publisher

	// Config is the persisted configuration and SaveConfig writes it back.
	Config     *config.Config
	SaveConfig func(cfg *config.Config) error

	PollInterval     time.Duration
	FetchTimeout     time.Duration
	FailureThreshold int
	// ManualPoll disables the background poll loop; callers drive Poll themselves.
	ManualPoll bool

	Log zerolog.Logger
}

func (o Options) withDefaults() Options {
	out := o
	if out.Notifier == nil {
		out.Notifier = notify.Discard{}
	}
	if out.Config == nil {
		out.Config = config.Default()
	}
	if out.SaveConfig == nil {
		out.SaveConfig = func(*config.Config) error { return nil }
	}
	if out.PollInterval <= 0 {
		out.PollInterval = DefaultPollInterval
	}
	if out.FetchTimeout <= 0 {
		out.FetchTimeout = DefaultFetchTimeout
	}
	if out.FailureThreshold <= 0 {
		out.FailureThreshold = DefaultFailureThreshold
	}
	return out
}

func (o Options) validate() error {
	if o.Store == nil {
		return errors.New("store is required")
	}
	if o.Transport == nil {
		return errors.New("transport is required")
	}
	return nil
}

type session struct {
	id        string
	target    transport.Target
	startedAt time.Time
	endpoint  *transport.Endpoint

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	inFlight atomic.Bool

	// Guarded by Synchronizer.mu.
	failures  int
	seeded    bool
	demoting  bool
	connected bool
}

// Synchronizer owns the connection state machine and the local mirror.
type Synchronizer struct {
	opts Options
	log  zerolog.Logger

	// connectMu serializes connection transitions.
	connectMu sync.Mutex

	// mu guards the fields below and serializes every mirror mutation.
	mu      sync.Mutex
	state   models.ConnectionState
	target  *transport.Target
	lastErr string
	session *session
	cfg     *config.Config

	bg sync.WaitGroup
}

// New builds a Synchronizer in the disconnected state with an empty mirror.
func New(options Options) (*Synchronizer, error) {
	if err := options.validate(); err != nil {
		return nil, err
	}
	opts := options.withDefaults()

	if _, err := opts.Store.ClearMessages(); err != nil {
		return nil, fmt.Errorf("reset mirror: %w", err)
	}

	return &Synchronizer{
		opts:  opts,
		log:   opts.Log.With().Str("component", "syncer").Logger(),
		state: models.StateDisconnected,
		cfg:   opts.Config.Clone(),
	}, nil
}

// Connect switches to target. Any current session is torn down first. A failed
// attempt leaves the synchronizer in the failed state and returns an error
// wrapping ErrTransportUnreachable.
func (s *Synchronizer) Connect(ctx context.Context, target transport.Target) (models.Status, error) {
	target.Identifier = strings.TrimSpace(target.Identifier)
	if !target.Mode.Valid() || target.Identifier == "" {
		return s.Status(), fmt.Errorf("%w: mode %q identifier %q", ErrInvalidTarget, target.Mode, target.Identifier)
	}

	s.cancelCurrent()

	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.mu.Lock()
	previous := s.session
	s.mu.Unlock()
	s.teardown(previous)

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &session{
		id:        uuid.NewString(),
		target:    target,
		startedAt: time.Now(),
		ctx:       sessCtx,
		cancel:    cancel,
	}

	s.mu.Lock()
	s.session = sess
	s.state = models.StateConnecting
	t := target
	s.target = &t
	s.lastErr = ""
	s.appendLog(models.LogConnect, target, sess.startedAt, nil)
	s.mu.Unlock()
	s.publishStatus()

	s.log.Info().Str("target", target.String()).Str("session", sess.id).Msg("connecting")

	resolveCtx, stopResolve := context.WithCancel(sessCtx)
	stopWatch := context.AfterFunc(ctx, stopResolve)
	endpoint, err := s.opts.Transport.Resolve(resolveCtx, target)
	stopWatch()
	stopResolve()

	if err != nil {
		cancel()
		now := time.Now()
		s.mu.Lock()
		s.session = nil
		s.state = models.StateFailed
		s.lastErr = err.Error()
		s.appendLog(models.LogDisconnect, target, sess.startedAt, &now)
		s.mu.Unlock()
		s.publishStatus()

		s.log.Warn().Err(err).Str("target", target.String()).Msg("connect failed")
		return s.Status(), fmt.Errorf("%w: %v", ErrTransportUnreachable, err)
	}

	s.mu.Lock()
	sess.endpoint = endpoint
	sess.connected = true
	s.state = models.StateConnected
	s.mu.Unlock()

	if !s.opts.ManualPoll {
		sess.wg.Add(1)
		go s.pollLoop(sess)
	}

	s.publishStatus()
	s.log.Info().Str("target", target.String()).Str("endpoint", endpoint.BaseURL).Msg("connected")
	return s.Status(), nil
}

// Disconnect halts polling, clears the mirror and logs the end of the current session.
func (s *Synchronizer) Disconnect(ctx context.Context) (models.Status, error) {
	s.cancelCurrent()

	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.mu.Lock()
	current := s.session
	s.mu.Unlock()
	s.teardown(current)

	s.mu.Lock()
	s.state = models.StateDisconnected
	s.target = nil
	s.lastErr = ""
	s.mu.Unlock()
	s.publishStatus()

	if current != nil {
		s.log.Info().Str("target", current.target.String()).Msg("disconnected")
	}
	return s.Status(), ctx.Err()
}

// Close disconnects and waits for background work.
func (s *Synchronizer) Close() error {
	_, _ = s.Disconnect(context.Background())
	s.bg.Wait()
	return nil
}

// Status reports the current connection target and state.
func (s *Synchronizer) Status() models.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := models.Status{
		Active: s.state == models.StateConnected,
		State:  s.state,
		Error:  s.lastErr,
	}
	if s.target != nil {
		status.Device = s.target.Identifier
		status.Type = s.target.Mode
	}
	return status
}

// ListDevices lists wired devices without touching connection state.
func (s *Synchronizer) ListDevices(ctx context.Context) ([]models.Device, error) {
	return s.opts.Transport.ListDevices(ctx)
}

func (s *Synchronizer) cancelCurrent() {
	s.mu.Lock()
	if s.session != nil {
		s.session.cancel()
	}
	s.mu.Unlock()
}

// teardown stops sess, logs its end, releases its endpoint and clears the
// mirror. The caller must hold connectMu.
func (s *Synchronizer) teardown(sess *session) {
	if sess != nil {
		sess.cancel()
		sess.wg.Wait()
	}

	now := time.Now()
	s.mu.Lock()
	if sess != nil && s.session == sess {
		s.session = nil
		s.appendLog(models.LogDisconnect, sess.target, sess.startedAt, &now)
	}
	if _, err := s.opts.Store.ClearMessages(); err != nil {
		s.log.Error().Err(err).Msg("clear mirror")
	}
	s.mu.Unlock()

	if sess != nil && sess.endpoint != nil {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := sess.endpoint.Close(ctx); err != nil {
			s.log.Warn().Err(err).Str("target", sess.target.String()).Msg("release endpoint")
		}
	}
}

// demote ends sess after sustained poll failures.
func (s *Synchronizer) demote(sess *session, cause error) {
	defer s.bg.Done()

	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.mu.Lock()
	current := s.session == sess
	s.mu.Unlock()
	if !current {
		return
	}

	s.teardown(sess)

	s.mu.Lock()
	s.state = models.StateDisconnected
	s.target = nil
	s.lastErr = fmt.Sprintf("connection lost after %d failed polls: %v", s.opts.FailureThreshold, cause)
	s.mu.Unlock()
	s.publishStatus()

	s.log.Warn().Err(cause).Str("target", sess.target.String()).Msg("connection demoted")
}

// appendLog writes one connection log row. The caller must hold mu.
func (s *Synchronizer) appendLog(logType models.LogType, target transport.Target, start time.Time, end *time.Time) {
	entry := storage.ConnectionLog{
		LogType:   string(logType),
		Mode:      string(target.Mode),
		Target:    target.Identifier,
		StartedAt: start.UnixMilli(),
	}
	if end != nil {
		ms := end.UnixMilli()
		entry.EndedAt = &ms
	}
	if _, err := s.opts.Store.AppendConnectionLog(entry); err != nil {
		s.log.Error().Err(err).Str("type", string(logType)).Msg("append connection log")
	}
}

func (s *Synchronizer) publishStatus() {
	status := s.Status()
	s.opts.Notifier.Publish(notify.Event{
		Type:   notify.EventConnectionChanged,
		Status: &status,
		Time:   time.Now().UTC(),
	})
}
