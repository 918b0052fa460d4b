package bridge

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"smsrelay/models"
)

var (
	// ErrUnavailable indicates the bridge tool could not be executed.
	ErrUnavailable = errors.New("bridge: tool unavailable")
	// ErrDeviceNotFound indicates the serial is not attached.
	ErrDeviceNotFound = errors.New("bridge: device not found")
	// ErrDeviceNotReady indicates the device is attached but unauthorized or offline.
	ErrDeviceNotReady = errors.New("bridge: device not ready")
)

// DeviceStateReady is the only device state that can be forwarded.
const DeviceStateReady = "device"

// Bridge is the wired-device capability used by bridge-mode connections.
type Bridge interface {
	ListDevices(ctx context.Context) ([]models.Device, error)
	Forward(ctx context.Context, serial string, remotePort int) (int, error)
	ReleaseForward(ctx context.Context, serial string) error
}

// ADB implements Bridge on top of the adb command line tool.
type ADB struct {
	path   string
	runner Runner

	mu       sync.Mutex
	forwards map[string]int
}

// NewADB returns an adb-backed bridge. An empty path means "adb" on PATH and a
// nil runner means ExecRunner.
func NewADB(path string, runner Runner) *ADB {
	if strings.TrimSpace(path) == "" {
		path = "adb"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &ADB{
		path:     path,
		runner:   runner,
		forwards: make(map[string]int),
	}
}

// Path returns the adb executable used by this bridge.
func (a *ADB) Path() string {
	return a.path
}

// Runner returns the command runner used by this bridge.
func (a *ADB) Runner() Runner {
	return a.runner
}

// ListDevices returns attached devices and their states.
func (a *ADB) ListDevices(ctx context.Context) ([]models.Device, error) {
	out, err := a.runner.Run(ctx, a.path, "devices")
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return ParseDevices(out), nil
}

// Forward maps an ephemeral local TCP port to remotePort on the device. An
// existing forward for the same serial is reused.
func (a *ADB) Forward(ctx context.Context, serial string, remotePort int) (int, error) {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return 0, errors.New("serial is required")
	}
	if remotePort <= 0 || remotePort > 65535 {
		return 0, fmt.Errorf("invalid remote port %d", remotePort)
	}

	a.mu.Lock()
	if port, ok := a.forwards[serial]; ok {
		a.mu.Unlock()
		return port, nil
	}
	a.mu.Unlock()

	devices, err := a.ListDevices(ctx)
	if err != nil {
		return 0, err
	}
	if err := checkReady(devices, serial); err != nil {
		return 0, err
	}

	out, err := a.runner.Run(ctx, a.path, "-s", serial, "forward", "tcp:0", fmt.Sprintf("tcp:%d", remotePort))
	if err != nil {
		return 0, fmt.Errorf("forward %s: %w", serial, err)
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil || port <= 0 {
		return 0, fmt.Errorf("forward %s: unexpected local port %q", serial, strings.TrimSpace(string(out)))
	}

	a.mu.Lock()
	a.forwards[serial] = port
	a.mu.Unlock()
	return port, nil
}

// ReleaseForward removes the forward created for serial. Releasing an unknown
// serial is a no-op.
func (a *ADB) ReleaseForward(ctx context.Context, serial string) error {
	a.mu.Lock()
	port, ok := a.forwards[serial]
	delete(a.forwards, serial)
	a.mu.Unlock()
	if !ok {
		return nil
	}

	if _, err := a.runner.Run(ctx, a.path, "-s", serial, "forward", "--remove", fmt.Sprintf("tcp:%d", port)); err != nil {
		return fmt.Errorf("release forward %s: %w", serial, err)
	}
	return nil
}

// ParseDevices parses `adb devices` output. The header and blank lines are skipped.
func ParseDevices(out []byte) []models.Device {
	devices := make([]models.Device, 0)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		devices = append(devices, models.Device{Serial: fields[0], State: fields[1]})
	}
	return devices
}

func checkReady(devices []models.Device, serial string) error {
	for _, device := range devices {
		if device.Serial != serial {
			continue
		}
		if device.State != DeviceStateReady {
			return fmt.Errorf("%w: %s is %s", ErrDeviceNotReady, serial, device.State)
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrDeviceNotFound, serial)
}
