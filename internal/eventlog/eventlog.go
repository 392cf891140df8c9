// Package eventlog writes a per-user audit trail of interactions as JSON
// lines, one consolidated file plus one file per event type.
package eventlog

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"
)

// Event types.
const (
	TypeInteraction = "user_interaction"
	TypeLLM         = "llm_response"
	TypeError       = "error"
	TypeSystem      = "system"
	TypeDelivery    = "delivery"
)

// Levels.
const (
	LevelInfo    = "INFO"
	LevelWarning = "WARNING"
	LevelError   = "ERROR"
)

const formatVersion = "1.0"

type Event struct {
	Level     string
	Type      string
	User      string
	Message   string
	Component string
	Duration  time.Duration
	Status    string
	ErrorType string
	TraceID   string
	Extra     map[string]any
}

// Logger appends events under dir/users/<user>/. A nil *Logger discards
// everything.
type Logger struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

func New(dir string) *Logger {
	return &Logger{dir: dir, now: time.Now}
}

func (l *Logger) Dir() string {
	if l == nil {
		return ""
	}
	return l.dir
}

// UserDir returns the directory holding a user's logs.
func UserDir(dir, user string) string {
	return filepath.Join(dir, "users", safeName(user))
}

func safeName(user string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")
	if s := r.Replace(strings.TrimSpace(user)); s != "" {
		return s
	}
	return "unknown"
}

// Log writes e to the consolidated log and the per-type log.
func (l *Logger) Log(e Event) error {
	if l == nil {
		return nil
	}
	if e.User == "" {
		return errors.New("event has no user")
	}
	line, err := l.encode(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	userDir := UserDir(l.dir, e.User)
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Join(userDir, "by_type"), 0o755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}
	for _, path := range []string{
		filepath.Join(userDir, "consolidated.log"),
		filepath.Join(userDir, "by_type", safeName(e.Type)+".log"),
	} {
		if err := appendLine(path, line); err != nil {
			return err
		}
	}
	return nil
}

func (l *Logger) encode(e Event) (string, error) {
	if e.Level == "" {
		e.Level = LevelInfo
	}
	if e.Status == "" {
		e.Status = "success"
	}
	if e.TraceID == "" {
		e.TraceID = uuid.NewString()
	}

	doc := "{}"
	set := func(path string, v any) {
		if doc == "" {
			return
		}
		var err error
		if doc, err = sjson.Set(doc, path, v); err != nil {
			doc = ""
		}
	}
	set("timestamp", l.now().UTC().Format(time.RFC3339Nano))
	set("level", e.Level)
	set("event_type", e.Type)
	set("user", e.User)
	set("data.message", e.Message)
	set("data.component", e.Component)
	if e.Duration > 0 {
		set("data.duration_ms", e.Duration.Milliseconds())
	} else {
		set("data.duration_ms", nil)
	}
	set("data.status", e.Status)
	if e.ErrorType != "" {
		set("data.error_type", e.ErrorType)
	} else {
		set("data.error_type", nil)
	}
	for k, v := range e.Extra {
		set("data."+escapeKey(k), v)
	}
	set("metadata.trace_id", e.TraceID)
	set("metadata.version", formatVersion)
	if doc == "" {
		return "", errors.New("building event document")
	}
	return doc, nil
}

// escapeKey escapes sjson path syntax in a field name.
func escapeKey(k string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`)
	return r.Replace(k)
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	w.WriteString(line)
	w.WriteByte('\n')
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

func (l *Logger) Interaction(user, message string, extra map[string]any) error {
	return l.Log(Event{Type: TypeInteraction, User: user, Message: message, Component: "sms", Extra: extra})
}

func (l *Logger) LLM(user, message string, d time.Duration, extra map[string]any) error {
	return l.Log(Event{Type: TypeLLM, User: user, Message: message, Component: "llm", Duration: d, Extra: extra})
}

func (l *Logger) Error(user, message, errorType string, extra map[string]any) error {
	return l.Log(Event{
		Level:     LevelError,
		Type:      TypeError,
		User:      user,
		Message:   message,
		Component: "system",
		Status:    "failed",
		ErrorType: errorType,
		Extra:     extra,
	})
}

func (l *Logger) System(user, message string, extra map[string]any) error {
	return l.Log(Event{Type: TypeSystem, User: user, Message: message, Component: "system", Extra: extra})
}
