package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"smsrelay/bridge"
	"smsrelay/models"
)

// ErrMalformedRecord marks a source record that cannot be served.
var ErrMalformedRecord = errors.New("agent: malformed record")

const (
	unknownAddress = "Unknown"
	// maxRecordBytes bounds one inbox line; longer lines are skipped.
	maxRecordBytes = 1024 * 1024
)

// Source yields the most recent inbound messages held by the device.
type Source interface {
	Recent(ctx context.Context, limit int) ([]models.AgentRecord, error)
}

// JSONLinesSource reads an inbox file holding one JSON record per line.
type JSONLinesSource struct {
	Path string
	Log  zerolog.Logger
}

// Recent parses the inbox file and returns the newest records first.
// Malformed lines are skipped.
func (s JSONLinesSource) Recent(_ context.Context, limit int) ([]models.AgentRecord, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read inbox %q: %w", s.Path, err)
	}

	records := make([]models.AgentRecord, 0)
	for i, line := range bytes.Split(raw, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if len(line) > maxRecordBytes {
			s.Log.Debug().Int("line", i+1).Int("bytes", len(line)).Msg("skipping oversized inbox line")
			continue
		}
		record, err := decodeRecord(line)
		if err != nil {
			s.Log.Debug().Err(err).Int("line", i+1).Msg("skipping inbox line")
			continue
		}
		records = append(records, record)
	}

	return newestFirst(records, limit), nil
}

func decodeRecord(line []byte) (models.AgentRecord, error) {
	var record models.AgentRecord
	if err := json.Unmarshal(line, &record); err != nil {
		return models.AgentRecord{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if record.Date <= 0 {
		return models.AgentRecord{}, fmt.Errorf("%w: missing date", ErrMalformedRecord)
	}
	if strings.TrimSpace(record.Address) == "" {
		record.Address = unknownAddress
	}
	return record, nil
}

var (
	rowDatePattern    = regexp.MustCompile(`date=([0-9]+)`)
	rowAddressPattern = regexp.MustCompile(`address=(.*?)(, body=|, date=|$)`)
	rowBodyPattern    = regexp.MustCompile(`(?s)body=(.*)$`)
	blockedPattern    = regexp.MustCompile(`original_number=(.*?)($|,)`)
)

// ContentQuerySource reads the inbox through the Android content provider,
// either on-device or through `adb -s <serial> shell`.
type ContentQuerySource struct {
	Runner bridge.Runner
	// ADBPath and Serial select the wired device. An empty Serial runs
	// `content` directly.
	ADBPath string
	Serial  string
	// HonorDeviceBlocklist drops senders present in the device's own block list.
	HonorDeviceBlocklist bool
	Log                  zerolog.Logger
}

// Recent queries the inbox provider and returns the newest records first.
func (s ContentQuerySource) Recent(ctx context.Context, limit int) ([]models.AgentRecord, error) {
	out, err := s.query(ctx, "content://sms/inbox", "date:address:body")
	if err != nil {
		return nil, fmt.Errorf("query inbox: %w", err)
	}
	records := ParseContentRows(out)

	if s.HonorDeviceBlocklist {
		blocked, err := s.deviceBlocklist(ctx)
		if err != nil {
			s.Log.Debug().Err(err).Msg("device blocklist unavailable")
		}
		if len(blocked) > 0 {
			filtered := records[:0]
			for _, record := range records {
				if _, skip := blocked[record.Address]; !skip {
					filtered = append(filtered, record)
				}
			}
			records = filtered
		}
	}

	return newestFirst(records, limit), nil
}

func (s ContentQuerySource) deviceBlocklist(ctx context.Context) (map[string]struct{}, error) {
	out, err := s.query(ctx, "content://com.android.blockednumber/blocked", "original_number")
	if err != nil {
		return nil, err
	}
	blocked := make(map[string]struct{})
	for _, line := range strings.Split(string(out), "\n") {
		match := blockedPattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		if number := strings.TrimSpace(match[1]); number != "" {
			blocked[number] = struct{}{}
		}
	}
	return blocked, nil
}

func (s ContentQuerySource) query(ctx context.Context, uri, projection string) ([]byte, error) {
	runner := s.Runner
	if runner == nil {
		runner = bridge.ExecRunner{}
	}
	args := []string{"content", "query", "--uri", uri, "--projection", projection}
	if s.Serial == "" {
		return runner.Run(ctx, args[0], args[1:]...)
	}
	adb := s.ADBPath
	if adb == "" {
		adb = "adb"
	}
	return runner.Run(ctx, adb, append([]string{"-s", s.Serial, "shell"}, args...)...)
}

// ParseContentRows parses `content query` output rows such as
// "Row: 0 date=1700000000000, address=+1555, body=hi". A body spanning
// several lines continues on lines without the "Row: " prefix. Rows without
// an address or a date are skipped.
func ParseContentRows(out []byte) []models.AgentRecord {
	rows := make([]string, 0)
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "Row: "):
			rows = append(rows, line)
		case line == "No result found.":
		case len(rows) > 0:
			rows[len(rows)-1] += "\n" + line
		}
	}

	records := make([]models.AgentRecord, 0, len(rows))
	for _, row := range rows {
		if !strings.Contains(row, "address=") {
			continue
		}
		record, err := parseContentRow(row)
		if err != nil {
			continue
		}
		records = append(records, record)
	}
	return records
}

func parseContentRow(line string) (models.AgentRecord, error) {
	dateMatch := rowDatePattern.FindStringSubmatch(line)
	if dateMatch == nil {
		return models.AgentRecord{}, fmt.Errorf("%w: missing date", ErrMalformedRecord)
	}
	date, err := strconv.ParseInt(dateMatch[1], 10, 64)
	if err != nil {
		return models.AgentRecord{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	addrMatch := rowAddressPattern.FindStringSubmatch(line)
	if addrMatch == nil {
		return models.AgentRecord{}, fmt.Errorf("%w: missing address", ErrMalformedRecord)
	}
	address := strings.TrimSpace(addrMatch[1])
	if address == "" || address == "NULL" {
		return models.AgentRecord{}, fmt.Errorf("%w: empty address", ErrMalformedRecord)
	}

	body := ""
	if bodyMatch := rowBodyPattern.FindStringSubmatch(line); bodyMatch != nil {
		body = strings.TrimSpace(bodyMatch[1])
	}

	return models.AgentRecord{Address: address, Body: body, Date: date}, nil
}

func newestFirst(records []models.AgentRecord, limit int) []models.AgentRecord {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Date > records[j].Date
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records
}
