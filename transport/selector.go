package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"smsrelay/bridge"
	"smsrelay/discovery"
	"smsrelay/models"
)

const (
	// DefaultAgentPort is the agent's TCP port on the device.
	DefaultAgentPort = 8080
	// DefaultConnectTimeout bounds endpoint resolution including probe retries.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultProbeRetries is the number of extra probe attempts.
	DefaultProbeRetries = 2

	releaseTimeout = 5 * time.Second
)

// Target names the device to connect to.
type Target struct {
	Mode       models.ConnectionMode `json:"mode"`
	Identifier string                `json:"identifier"`
}

// String renders the target for logs.
func (t Target) String() string {
	return string(t.Mode) + ":" + t.Identifier
}

// Endpoint is a resolved, probed agent address. Close releases any bridge
// forward held for it.
type Endpoint struct {
	BaseURL    string
	Mode       models.ConnectionMode
	Identifier string

	release   func(ctx context.Context) error
	closeOnce sync.Once
	closeErr  error
}

// Close releases resources held for the endpoint. It is safe to call more than once.
func (e *Endpoint) Close(ctx context.Context) error {
	if e == nil {
		return nil
	}
	e.closeOnce.Do(func() {
		if e.release != nil {
			e.closeErr = e.release(ctx)
		}
	})
	return e.closeErr
}

// AgentLister exposes agents found by mDNS browsing.
type AgentLister interface {
	Refresh(ctx context.Context) error
	ListAgents() []discovery.DiscoveredAgent
}

// Options configures a Selector.
type Options struct {
	Bridge         bridge.Bridge
	Client         *Client
	Agents         AgentLister
	AgentPort      int
	ConnectTimeout time.Duration
	ProbeRetries   int
	Log            zerolog.Logger
}

func (o Options) withDefaults() Options {
	out := o
	if out.Client == nil {
		out.Client = NewClient(ClientOptions{Log: o.Log})
	}
	if out.AgentPort <= 0 {
		out.AgentPort = DefaultAgentPort
	}
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = DefaultConnectTimeout
	}
	if out.ProbeRetries < 0 {
		out.ProbeRetries = 0
	}
	return out
}

// Selector turns a connection target into a reachable agent endpoint.
type Selector struct {
	opts Options
	log  zerolog.Logger
}

// NewSelector returns a selector with defaults applied. A zero ProbeRetries
// means DefaultProbeRetries; use a negative value to disable retries.
func NewSelector(options Options) *Selector {
	if options.ProbeRetries == 0 {
		options.ProbeRetries = DefaultProbeRetries
	}
	opts := options.withDefaults()
	return &Selector{
		opts: opts,
		log:  opts.Log.With().Str("component", "transport").Logger(),
	}
}

// Resolve produces a probed endpoint for target. Every failure wraps ErrUnreachable.
func (s *Selector) Resolve(ctx context.Context, target Target) (*Endpoint, error) {
	identifier := strings.TrimSpace(target.Identifier)
	if identifier == "" {
		return nil, fmt.Errorf("%w: identifier is required", ErrUnreachable)
	}

	resolveCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	switch target.Mode {
	case models.ModeNetwork:
		return s.resolveNetwork(resolveCtx, identifier)
	case models.ModeBridge:
		return s.resolveBridge(resolveCtx, identifier)
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrUnreachable, target.Mode)
	}
}

func (s *Selector) resolveNetwork(ctx context.Context, identifier string) (*Endpoint, error) {
	hostPort, err := networkHostPort(identifier, s.opts.AgentPort)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	endpoint := &Endpoint{
		BaseURL:    "http://" + hostPort,
		Mode:       models.ModeNetwork,
		Identifier: identifier,
	}
	if err := s.probe(ctx, endpoint.BaseURL); err != nil {
		return nil, err
	}
	s.log.Info().Str("endpoint", endpoint.BaseURL).Msg("agent reachable over network")
	return endpoint, nil
}

func (s *Selector) resolveBridge(ctx context.Context, serial string) (*Endpoint, error) {
	if s.opts.Bridge == nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, bridge.ErrUnavailable)
	}

	localPort, err := s.opts.Bridge.Forward(ctx, serial, s.opts.AgentPort)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	br := s.opts.Bridge
	endpoint := &Endpoint{
		BaseURL:    "http://127.0.0.1:" + strconv.Itoa(localPort),
		Mode:       models.ModeBridge,
		Identifier: serial,
		release: func(ctx context.Context) error {
			return br.ReleaseForward(ctx, serial)
		},
	}

	if err := s.probe(ctx, endpoint.BaseURL); err != nil {
		releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if relErr := endpoint.Close(releaseCtx); relErr != nil {
			s.log.Warn().Err(relErr).Str("serial", serial).Msg("release forward after failed probe")
		}
		return nil, err
	}
	s.log.Info().Str("serial", serial).Int("local_port", localPort).Msg("agent reachable over bridge")
	return endpoint, nil
}

func (s *Selector) probe(ctx context.Context, baseURL string) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = time.Second
	policy.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := s.opts.Client.Probe(ctx, baseURL)
		if err != nil {
			s.log.Debug().Err(err).Int("attempt", attempt).Str("endpoint", baseURL).Msg("probe failed")
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.opts.ProbeRetries)), ctx))
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnreachable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// Fetch reads the agent snapshot through endpoint.
func (s *Selector) Fetch(ctx context.Context, endpoint *Endpoint) ([]models.AgentRecord, error) {
	if endpoint == nil {
		return nil, fmt.Errorf("%w: no endpoint", ErrUnreachable)
	}
	return s.opts.Client.FetchMessages(ctx, endpoint.BaseURL)
}

// ListDevices lists wired devices. A missing bridge tool yields an empty list.
func (s *Selector) ListDevices(ctx context.Context) ([]models.Device, error) {
	if s.opts.Bridge == nil {
		return []models.Device{}, nil
	}
	devices, err := s.opts.Bridge.ListDevices(ctx)
	if err != nil {
		if errors.Is(err, bridge.ErrUnavailable) {
			s.log.Debug().Err(err).Msg("bridge tool unavailable")
			return []models.Device{}, nil
		}
		return nil, err
	}
	return devices, nil
}

// Discover returns agents advertised on the LAN.
func (s *Selector) Discover(ctx context.Context) ([]discovery.DiscoveredAgent, error) {
	if s.opts.Agents == nil {
		return []discovery.DiscoveredAgent{}, nil
	}
	if err := s.opts.Agents.Refresh(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("refresh agents: %w", err)
	}
	return s.opts.Agents.ListAgents(), nil
}

func networkHostPort(identifier string, defaultPort int) (string, error) {
	identifier = strings.TrimPrefix(identifier, "http://")
	identifier = strings.TrimRight(identifier, "/")

	if ip := net.ParseIP(strings.Trim(identifier, "[]")); ip != nil {
		return net.JoinHostPort(ip.String(), strconv.Itoa(defaultPort)), nil
	}

	host, port, err := net.SplitHostPort(identifier)
	if err != nil {
		if strings.Contains(identifier, ":") {
			return "", fmt.Errorf("invalid address %q", identifier)
		}
		return net.JoinHostPort(identifier, strconv.Itoa(defaultPort)), nil
	}
	if host == "" {
		return "", fmt.Errorf("invalid address %q: missing host", identifier)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return "", fmt.Errorf("invalid port in %q", identifier)
	}
	return net.JoinHostPort(host, port), nil
}
