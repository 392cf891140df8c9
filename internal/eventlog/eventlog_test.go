package eventlog

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newTestLogger(t *testing.T, at time.Time) *Logger {
	t.Helper()
	l := New(t.TempDir())
	l.now = func() time.Time { return at }
	return l
}

func TestLogWritesConsolidatedAndByType(t *testing.T) {
	at := time.Date(2026, 10, 15, 15, 0, 0, 0, time.UTC)
	l := newTestLogger(t, at)

	require.NoError(t, l.Interaction("+15551234567", "Write the Q3 report", map[string]any{"message_type": "morning_planning"}))
	require.NoError(t, l.LLM("+15551234567", "model replied", 1250*time.Millisecond, nil))

	dir := UserDir(l.Dir(), "+15551234567")
	consolidated, err := os.ReadFile(filepath.Join(dir, "consolidated.log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(consolidated)), "\n")
	require.Len(t, lines, 2)

	first := gjson.Parse(lines[0])
	assert.Equal(t, "2026-10-15T15:00:00Z", first.Get("timestamp").String())
	assert.Equal(t, "INFO", first.Get("level").String())
	assert.Equal(t, TypeInteraction, first.Get("event_type").String())
	assert.Equal(t, "sms", first.Get("data.component").String())
	assert.Equal(t, "success", first.Get("data.status").String())
	assert.Equal(t, "morning_planning", first.Get("data.message_type").String())
	assert.Equal(t, gjson.Null, first.Get("data.duration_ms").Type)
	assert.NotEmpty(t, first.Get("metadata.trace_id").String())
	assert.Equal(t, "1.0", first.Get("metadata.version").String())

	byType, err := os.ReadFile(filepath.Join(dir, "by_type", TypeLLM+".log"))
	require.NoError(t, err)
	assert.Equal(t, int64(1250), gjson.Get(strings.TrimSpace(string(byType)), "data.duration_ms").Int())
}

func TestLogSanitizesUserDir(t *testing.T) {
	l := newTestLogger(t, time.Now())
	require.NoError(t, l.System("discord:42", "registered", nil))
	_, err := os.Stat(filepath.Join(l.Dir(), "users", "discord_42", "consolidated.log"))
	assert.NoError(t, err)

	assert.Error(t, l.System("", "no user", nil))
}

func TestNilLoggerDiscards(t *testing.T) {
	var l *Logger
	assert.NoError(t, l.Error("u1", "boom", "llm", nil))
	assert.Empty(t, l.Dir())
}

func TestQueryFilters(t *testing.T) {
	base := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
	l := newTestLogger(t, base)
	user := "+15551234567"

	require.NoError(t, l.Interaction(user, "Morning! Big day", nil))
	l.now = func() time.Time { return base.Add(2 * time.Hour) }
	require.NoError(t, l.LLM(user, "slow reply", 6*time.Second, nil))
	l.now = func() time.Time { return base.Add(3 * time.Hour) }
	require.NoError(t, l.Error(user, "model timeout", "llm_timeout", nil))

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all", Filter{}, []string{"Morning! Big day", "slow reply", "model timeout"}},
		{"level", Filter{Level: "error"}, []string{"model timeout"}},
		{"event type", Filter{EventType: TypeLLM}, []string{"slow reply"}},
		{"since", Filter{Since: base.Add(90 * time.Minute)}, []string{"slow reply", "model timeout"}},
		{"component", Filter{Component: "sms"}, []string{"Morning! Big day"}},
		{"status", Filter{Status: "failed"}, []string{"model timeout"}},
		{"error type", Filter{ErrorType: "llm_timeout"}, []string{"model timeout"}},
		{"min duration", Filter{MinDuration: 5 * time.Second}, []string{"slow reply"}},
		{"contains", Filter{Contains: "BIG"}, []string{"Morning! Big day"}},
		{"pattern", Filter{Pattern: regexp.MustCompile(`^(slow|model)`)}, []string{"slow reply", "model timeout"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := Query(l.Dir(), user, tt.filter)
			require.NoError(t, err)
			var got []string
			for _, e := range entries {
				got = append(got, e.Message)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQueryMissingUser(t *testing.T) {
	entries, err := Query(t.TempDir(), "nobody", Filter{})
	assert.NoError(t, err)
	assert.Empty(t, entries)
}

func TestScanSkipsMalformedLines(t *testing.T) {
	in := "not json\n" + `{"level":"INFO","data":{"message":"ok"}}` + "\n{broken\n"
	entries, err := Scan(strings.NewReader(in), Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ok", entries[0].Message)
}

func TestParseSince(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	tests := map[string]time.Time{
		"2h":                   now.Add(-2 * time.Hour),
		"2h ago":               now.Add(-2 * time.Hour),
		"30m":                  now.Add(-30 * time.Minute),
		"7d":                   now.AddDate(0, 0, -7),
		"2026-10-01":           time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		"2026-10-14T09:00:00Z": time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC),
	}
	for in, want := range tests {
		got, err := ParseSince(in, now)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), "%s: want %v, got %v", in, want, got)
	}
	for _, bad := range []string{"", "ago", "yesterday", "5w"} {
		_, err := ParseSince(bad, now)
		assert.Error(t, err, bad)
	}
}

func TestFilterParseDuration(t *testing.T) {
	var f Filter
	require.NoError(t, f.ParseDuration(">5000"))
	assert.Equal(t, 5*time.Second, f.MinDuration)
	require.NoError(t, f.ParseDuration("<200"))
	assert.Equal(t, 200*time.Millisecond, f.MaxDuration)

	for _, bad := range []string{"", "5000", "=5", ">abc"} {
		assert.Error(t, f.ParseDuration(bad), bad)
	}
}
