package eventlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Entry is one decoded log line.
type Entry struct {
	Timestamp  time.Time
	Level      string
	EventType  string
	User       string
	Message    string
	Component  string
	Status     string
	ErrorType  string
	DurationMS int64
	TraceID    string
	Raw        string
}

// Filter selects entries. Zero fields match everything.
type Filter struct {
	Level       string
	EventType   string
	Since       time.Time
	Component   string
	Status      string
	ErrorType   string
	MinDuration time.Duration
	MaxDuration time.Duration
	Contains    string
	Pattern     *regexp.Regexp
}

func (f Filter) match(e Entry) bool {
	switch {
	case f.Level != "" && !strings.EqualFold(e.Level, f.Level):
		return false
	case f.EventType != "" && e.EventType != f.EventType:
		return false
	case !f.Since.IsZero() && e.Timestamp.Before(f.Since):
		return false
	case f.Component != "" && e.Component != f.Component:
		return false
	case f.Status != "" && e.Status != f.Status:
		return false
	case f.ErrorType != "" && e.ErrorType != f.ErrorType:
		return false
	case f.MinDuration > 0 && e.DurationMS <= f.MinDuration.Milliseconds():
		return false
	case f.MaxDuration > 0 && e.DurationMS >= f.MaxDuration.Milliseconds():
		return false
	case f.Contains != "" && !strings.Contains(strings.ToLower(e.Message), strings.ToLower(f.Contains)):
		return false
	case f.Pattern != nil && !f.Pattern.MatchString(e.Message):
		return false
	}
	return true
}

// Query returns a user's entries that pass f, oldest first. A user with no
// log yet yields no entries.
func Query(dir, user string, f Filter) ([]Entry, error) {
	path := filepath.Join(UserDir(dir, user), "consolidated.log")
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening log: %w", err)
	}
	defer file.Close()
	return Scan(file, f)
}

// Scan filters JSON lines read from r. Malformed lines are skipped.
func Scan(r io.Reader, f Filter) ([]Entry, error) {
	var out []Entry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !gjson.Valid(line) {
			continue
		}
		e := decode(line)
		if f.match(e) {
			out = append(out, e)
		}
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("reading log: %w", err)
	}
	return out, nil
}

func decode(line string) Entry {
	r := gjson.Parse(line)
	ts, _ := time.Parse(time.RFC3339Nano, r.Get("timestamp").String())
	return Entry{
		Timestamp:  ts,
		Level:      r.Get("level").String(),
		EventType:  r.Get("event_type").String(),
		User:       r.Get("user").String(),
		Message:    r.Get("data.message").String(),
		Component:  r.Get("data.component").String(),
		Status:     r.Get("data.status").String(),
		ErrorType:  r.Get("data.error_type").String(),
		DurationMS: r.Get("data.duration_ms").Int(),
		TraceID:    r.Get("metadata.trace_id").String(),
		Raw:        line,
	}
}

// ParseSince accepts "2h", "2h ago", "7d", "30m", a date (2006-01-02) or
// an RFC 3339 timestamp.
func ParseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "ago"))
	if s == "" {
		return time.Time{}, errors.New("empty since value")
	}
	if n, err := strconv.Atoi(s[:len(s)-1]); err == nil && n >= 0 {
		switch s[len(s)-1] {
		case 'm':
			return now.Add(-time.Duration(n) * time.Minute), nil
		case 'h':
			return now.Add(-time.Duration(n) * time.Hour), nil
		case 'd':
			return now.AddDate(0, 0, -n), nil
		}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized since value %q", s)
}

// ParseDuration accepts ">5000" or "<200" (milliseconds) and sets the
// matching bound on f.
func (f *Filter) ParseDuration(expr string) error {
	expr = strings.TrimSpace(expr)
	if len(expr) < 2 {
		return fmt.Errorf("duration filter %q must look like >5000 or <200", expr)
	}
	ms, err := strconv.Atoi(expr[1:])
	if err != nil || ms < 0 {
		return fmt.Errorf("duration filter %q must look like >5000 or <200", expr)
	}
	d := time.Duration(ms) * time.Millisecond
	switch expr[0] {
	case '>':
		f.MinDuration = d
	case '<':
		f.MaxDuration = d
	default:
		return fmt.Errorf("duration filter %q must start with > or <", expr)
	}
	return nil
}
