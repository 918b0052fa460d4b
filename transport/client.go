package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"smsrelay/models"
)

var (
	// ErrUnreachable indicates the agent could not be reached or probed.
	ErrUnreachable = errors.New("transport: agent unreachable")
	// ErrPollTimeout indicates a snapshot fetch exceeded its deadline.
	ErrPollTimeout = errors.New("transport: poll timed out")
	// ErrAgentRead indicates the agent answered with a non-success status.
	ErrAgentRead = errors.New("transport: agent read error")
	// ErrMalformedBody indicates the snapshot body was not a JSON array.
	ErrMalformedBody = errors.New("transport: malformed snapshot body")
)

const (
	// DefaultProbeTimeout bounds one liveness probe.
	DefaultProbeTimeout = 3 * time.Second
	// DefaultFetchTimeout bounds one snapshot fetch.
	DefaultFetchTimeout = 10 * time.Second

	maxSnapshotBytes = 8 << 20
	maxErrorDetail   = 256
)

// ClientOptions configures the agent HTTP client.
type ClientOptions struct {
	ProbeTimeout time.Duration
	FetchTimeout time.Duration
	HTTPClient   *http.Client
	Log          zerolog.Logger
}

func (o ClientOptions) withDefaults() ClientOptions {
	out := o
	if out.ProbeTimeout <= 0 {
		out.ProbeTimeout = DefaultProbeTimeout
	}
	if out.FetchTimeout <= 0 {
		out.FetchTimeout = DefaultFetchTimeout
	}
	if out.HTTPClient == nil {
		out.HTTPClient = newHTTPClient()
	}
	return out
}

// Client talks to a device agent over HTTP.
type Client struct {
	opts ClientOptions
	log  zerolog.Logger
}

// NewClient returns an agent client with defaults applied.
func NewClient(options ClientOptions) *Client {
	opts := options.withDefaults()
	return &Client{
		opts: opts,
		log:  opts.Log.With().Str("component", "agent_client").Logger(),
	}
}

func newHTTPClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   DefaultProbeTimeout,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			MaxIdleConns:        4,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: DefaultProbeTimeout,
		},
	}
}

// Probe checks that the agent liveness page answers.
func (c *Client) Probe(ctx context.Context, baseURL string) error {
	probeCtx, cancel := context.WithTimeout(ctx, c.opts.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/", nil)
	if err != nil {
		return fmt.Errorf("%w: build probe request: %v", ErrUnreachable, err)
	}
	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorDetail))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: probe status %d", ErrUnreachable, resp.StatusCode)
	}
	return nil
}

// FetchMessages reads the agent snapshot. Records that cannot be decoded are
// skipped; a body that is not a JSON array fails the whole fetch.
func (c *Client) FetchMessages(ctx context.Context, baseURL string) ([]models.AgentRecord, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/sms", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build fetch request: %v", ErrUnreachable, err)
	}
	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, classifyFetchError(fetchCtx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorDetail))
		return nil, fmt.Errorf("%w: status %d: %s", ErrAgentRead, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, classifyFetchError(fetchCtx, err)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}

	records := make([]models.AgentRecord, 0, len(items))
	for i, item := range items {
		var record models.AgentRecord
		if err := json.Unmarshal(item, &record); err != nil {
			c.log.Debug().Err(err).Int("index", i).Msg("skipping malformed record")
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func classifyFetchError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrPollTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrPollTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
