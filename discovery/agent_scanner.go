package discovery

import (
	"cmp"
	"context"
	"errors"
	"net"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// EventAgentUpserted is emitted when an agent appears or its metadata changes.
	EventAgentUpserted EventType = "agent_upserted"
	// EventAgentRemoved is emitted when a previously seen agent disappears.
	EventAgentRemoved EventType = "agent_removed"
)

// ErrScannerStopped is returned by Refresh after Stop.
var ErrScannerStopped = errors.New("discovery: agent scanner is stopped")

// EventType identifies agent discovery updates.
type EventType string

// Event carries discovery updates.
type Event struct {
	Type  EventType
	Agent DiscoveredAgent
}

// DiscoveredAgent is one device agent advertised on the LAN.
type DiscoveredAgent struct {
	DeviceID  string    `json:"device_id"`
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	HostName  string    `json:"host_name"`
	Port      int       `json:"port"`
	Addresses []string  `json:"addresses"`
	LastSeen  time.Time `json:"last_seen"`
}

// Identifier returns the network-mode target for this agent, preferring IPv4.
func (a DiscoveredAgent) Identifier() string {
	if len(a.Addresses) == 0 {
		return ""
	}
	host := a.Addresses[0]
	for _, addr := range a.Addresses {
		if ip := net.ParseIP(addr); ip != nil && ip.To4() != nil {
			host = addr
			break
		}
	}
	return net.JoinHostPort(host, strconv.Itoa(a.Port))
}

func (a DiscoveredAgent) sameAdvertisement(b DiscoveredAgent) bool {
	return a.DeviceID == b.DeviceID &&
		a.Name == b.Name &&
		a.Version == b.Version &&
		a.HostName == b.HostName &&
		a.Port == b.Port &&
		slices.Equal(a.Addresses, b.Addresses)
}

// AgentScanner keeps a snapshot of agents seen by the latest mDNS browse.
// Browses run in the background every RefreshInterval and on Refresh.
type AgentScanner struct {
	cfg    Config
	browse browseFunc

	// scanMu serializes browses.
	scanMu sync.Mutex

	mu     sync.RWMutex
	agents map[string]DiscoveredAgent
	closed bool
	events chan Event

	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewAgentScanner creates a scanner with config defaults applied.
func NewAgentScanner(config Config) (*AgentScanner, error) {
	cfg := config.withDefaults()

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, err
		}
		browse = resolver.Browse
	}

	return &AgentScanner{
		cfg:    cfg,
		browse: browse,
		agents: make(map[string]DiscoveredAgent),
		events: make(chan Event, 128),
	}, nil
}

// Start begins background browsing.
func (s *AgentScanner) Start() {
	s.startOnce.Do(func() {
		s.ctx, s.cancel = context.WithCancel(context.Background())
		s.wg.Add(1)
		go s.loop()
	})
}

// Stop halts browsing and closes the events channel.
func (s *AgentScanner) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()

		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
}

// Events provides asynchronous discovery updates. Updates are dropped when
// nobody drains the channel.
func (s *AgentScanner) Events() <-chan Event {
	return s.events
}

// Refresh browses immediately and returns once the snapshot is replaced.
func (s *AgentScanner) Refresh(ctx context.Context) error {
	if s.ctx == nil {
		return errors.New("agent scanner is not started")
	}
	if s.ctx.Err() != nil {
		return ErrScannerStopped
	}
	return s.scan(ctx)
}

// ListAgents returns the current snapshot sorted by name.
func (s *AgentScanner) ListAgents() []DiscoveredAgent {
	s.mu.RLock()
	out := make([]DiscoveredAgent, 0, len(s.agents))
	for _, agent := range s.agents {
		out = append(out, agent)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].DeviceID < out[j].DeviceID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (s *AgentScanner) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		_ = s.scan(s.ctx)
		select {
		case <-ticker.C:
		case <-s.ctx.Done():
			return
		}
	}
}

// scan browses for one ScanTimeout window and replaces the snapshot with what
// it saw. A cancelled caller or a stopped scanner leaves the snapshot alone.
func (s *AgentScanner) scan(ctx context.Context) error {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	scanCtx, cancel := context.WithTimeout(s.ctx, s.cfg.ScanTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	browseDone := make(chan error, 1)
	go func() {
		browseDone <- s.browse(scanCtx, s.cfg.Service, s.cfg.Domain, entries)
	}()

	seen := make(map[string]DiscoveredAgent)
	for {
		select {
		case entry := <-entries:
			if agent, ok := parseEntry(entry, s.cfg.IgnoreDeviceID); ok {
				agent.LastSeen = time.Now()
				seen[agent.DeviceID] = agent
			}
		case err := <-browseDone:
			if err != nil && scanCtx.Err() == nil {
				return err
			}
			// The resolver keeps delivering entries until scanCtx ends.
			browseDone = nil
		case <-scanCtx.Done():
			if ctx.Err() != nil || s.ctx.Err() != nil {
				return nil
			}
			s.replace(seen)
			return nil
		}
	}
}

func (s *AgentScanner) replace(next map[string]DiscoveredAgent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.agents
	s.agents = next
	if s.closed {
		return
	}

	for id, agent := range next {
		if old, ok := previous[id]; !ok || !old.sameAdvertisement(agent) {
			s.emit(Event{Type: EventAgentUpserted, Agent: agent})
		}
	}
	for id, agent := range previous {
		if _, ok := next[id]; !ok {
			s.emit(Event{Type: EventAgentRemoved, Agent: agent})
		}
	}
}

func (s *AgentScanner) emit(event Event) {
	select {
	case s.events <- event:
	default:
	}
}

// parseEntry turns a browse result into an agent. Entries without a device
// id, a port or an address are not agents.
func parseEntry(entry *zeroconf.ServiceEntry, ignoreDeviceID string) (DiscoveredAgent, bool) {
	if entry == nil || entry.Port <= 0 {
		return DiscoveredAgent{}, false
	}

	txt := make(map[string]string, len(entry.Text))
	for _, field := range entry.Text {
		key, value, ok := strings.Cut(field, "=")
		if ok && strings.TrimSpace(key) != "" {
			txt[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}

	deviceID := txt["device_id"]
	if deviceID == "" || deviceID == ignoreDeviceID {
		return DiscoveredAgent{}, false
	}

	addresses := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range slices.Concat(entry.AddrIPv4, entry.AddrIPv6) {
		if ip != nil {
			addresses = append(addresses, ip.String())
		}
	}
	if len(addresses) == 0 {
		return DiscoveredAgent{}, false
	}
	slices.Sort(addresses)
	addresses = slices.Compact(addresses)

	version, _ := strconv.Atoi(txt["version"])

	name := cmp.Or(strings.TrimSpace(entry.Instance), strings.TrimSpace(entry.HostName), deviceID)

	return DiscoveredAgent{
		DeviceID:  deviceID,
		Name:      name,
		Version:   version,
		HostName:  entry.HostName,
		Port:      entry.Port,
		Addresses: addresses,
	}, true
}
