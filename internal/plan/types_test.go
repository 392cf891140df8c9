package plan

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessageType(t *testing.T) {
	tests := map[string]MessageType{
		"morning_planning":   MorningPlanning,
		"REPLANNING":         Replanning,
		" reflection ":       Reflection,
		"evening_reflection": Reflection,
		"ad_hoc":             AdHoc,
		"":                   AdHoc,
		"celebration":        AdHoc,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseMessageType(in), "input %q", in)
	}
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("09:05")
	require.NoError(t, err)
	assert.Equal(t, Clock(545), c)
	assert.Equal(t, "09:05", c.String())

	c, err = ParseClock("24:00")
	require.NoError(t, err)
	assert.Equal(t, EndOfDay, c)

	for _, bad := range []string{"", "9", "25:00", "12:60", "12:5", "12:30pm", "ab:cd"} {
		_, err := ParseClock(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestClockJSON(t *testing.T) {
	var tm Timing
	err := json.Unmarshal([]byte(`{"duration_minutes":30,"deadline":"17:00","preferred_time":null,"constraints":[{"start_time":"11:00","end_time":"11:30","description":"standup","is_focus_block":false}]}`), &tm)
	require.NoError(t, err)
	assert.Equal(t, 30, tm.Duration())
	require.NotNil(t, tm.Deadline)
	assert.Equal(t, "17:00", tm.Deadline.String())
	assert.Nil(t, tm.PreferredTime)
	require.Len(t, tm.Constraints, 1)
	assert.Equal(t, "11:00-11:30", tm.Constraints[0].String())

	err = json.Unmarshal([]byte(`{"deadline":1700}`), &tm)
	assert.Error(t, err)
}

func TestTimingMerge(t *testing.T) {
	d60, d90 := 60, 90
	base := &Timing{DurationMinutes: &d60, Constraints: []TimeBlock{busy("10:00", "11:00")}}

	merged := base.Merge(&Timing{DurationMinutes: &d90})
	assert.Equal(t, 90, merged.Duration())
	assert.Len(t, merged.Constraints, 1, "constraints kept when not provided")

	merged = base.Merge(&Timing{Constraints: []TimeBlock{}})
	assert.Equal(t, 60, merged.Duration())
	assert.NotNil(t, merged.Constraints)
	assert.Empty(t, merged.Constraints)

	var none *Timing
	assert.Nil(t, none.Merge(nil))
	assert.Equal(t, 90, none.Merge(&Timing{DurationMinutes: &d90}).Duration())
}

func TestKeyAndMidnight(t *testing.T) {
	la, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	// 23:30 in LA is already the next day in UTC; the key follows local time.
	at := time.Date(2026, 3, 7, 23, 30, 0, 0, la)
	assert.Equal(t, "+15551234567:20260307", Key("+15551234567", at))

	next := NextMidnight(at)
	assert.Equal(t, time.Date(2026, 3, 8, 0, 0, 0, 0, la), next)
	assert.Equal(t, time.Date(2026, 3, 7, 0, 0, 0, 0, la), StartOfDay(at))
}

func TestClockOn(t *testing.T) {
	day := time.Date(2026, 10, 15, 7, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 15, 14, 30, 0, 0, time.UTC), MustClock("14:30").On(day))
	assert.Equal(t, Clock(7*60), ClockOf(day))
}
