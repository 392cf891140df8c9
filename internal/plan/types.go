package plan

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MessageType tags the flow that last touched a day's context.
type MessageType string

const (
	MorningPlanning MessageType = "morning_planning"
	Replanning      MessageType = "replanning"
	Reflection      MessageType = "reflection"
	AdHoc           MessageType = "ad_hoc"
)

// ParseMessageType maps a model-supplied label onto a known type.
// Unknown or empty labels become AdHoc.
func ParseMessageType(s string) MessageType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "morning_planning":
		return MorningPlanning
	case "replanning":
		return Replanning
	case "reflection", "evening_reflection":
		return Reflection
	default:
		return AdHoc
	}
}

// Clock is a time of day in minutes since local midnight.
type Clock int

// EndOfDay is the exclusive upper bound of a day.
const EndOfDay Clock = 24 * 60

// ParseClock parses "HH:MM". "24:00" is accepted as the end of the day.
func ParseClock(s string) (Clock, error) {
	hs, ms, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(ms) != 2 {
		return 0, fmt.Errorf("clock %q is not HH:MM", s)
	}
	h, err := strconv.Atoi(hs)
	if err != nil {
		return 0, fmt.Errorf("parsing clock %q: %w", s, err)
	}
	m, err := strconv.Atoi(ms)
	if err != nil {
		return 0, fmt.Errorf("parsing clock %q: %w", s, err)
	}
	if h == 24 && m == 0 {
		return EndOfDay, nil
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock %q out of range", s)
	}
	return Clock(h*60 + m), nil
}

// MustClock is ParseClock for literals.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ClockOf returns the local time of day of t, rounded down to the minute.
func ClockOf(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// On returns the instant at this clock on t's local date.
func (c Clock) On(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, int(c)/60, int(c)%60, 0, 0, t.Location())
}

func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Clock) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("clock must be a \"HH:MM\" string: %w", err)
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// TimeBlock is an interval within a single day.
type TimeBlock struct {
	Start        Clock  `json:"start_time"`
	End          Clock  `json:"end_time"`
	Description  string `json:"description"`
	IsFocusBlock bool   `json:"is_focus_block"`
}

func (b TimeBlock) Valid() bool { return b.End > b.Start }

func (b TimeBlock) Minutes() int { return int(b.End - b.Start) }

func (b TimeBlock) overlaps(start, end Clock) bool {
	return start < b.End && b.Start < end
}

func (b TimeBlock) String() string {
	return b.Start.String() + "-" + b.End.String()
}

// Timing is what the user has told us about when the task can happen.
// A nil Constraints slice means "not asked yet"; an empty one means "no
// conflicts".
type Timing struct {
	DurationMinutes *int        `json:"duration_minutes"`
	Deadline        *Clock      `json:"deadline"`
	PreferredTime   *Clock      `json:"preferred_time"`
	Constraints     []TimeBlock `json:"constraints"`
}

// Merge overlays the fields set in next onto t and returns the result.
func (t *Timing) Merge(next *Timing) *Timing {
	if t == nil && next == nil {
		return nil
	}
	out := &Timing{}
	if t != nil {
		*out = *t
	}
	if next == nil {
		return out
	}
	if next.DurationMinutes != nil {
		out.DurationMinutes = next.DurationMinutes
	}
	if next.Deadline != nil {
		out.Deadline = next.Deadline
	}
	if next.PreferredTime != nil {
		out.PreferredTime = next.PreferredTime
	}
	if next.Constraints != nil {
		out.Constraints = next.Constraints
	}
	return out
}

// Duration returns the requested duration in minutes, or 0 if unknown.
func (t *Timing) Duration() int {
	if t == nil || t.DurationMinutes == nil {
		return 0
	}
	return *t.DurationMinutes
}

// Completion records the evening reflection.
type Completion struct {
	Completed    bool   `json:"completed"`
	Note         string `json:"note,omitempty"`
	FollowUpTask string `json:"follow_up_task,omitempty"`
}

// DailyContext is the per-user, per-day conversation record.
type DailyContext struct {
	MessageType     MessageType `json:"message_type"`
	CurrentTask     string      `json:"current_task,omitempty"`
	Timing          *Timing     `json:"timing,omitempty"`
	FocusBlock      *TimeBlock  `json:"focus_block,omitempty"`
	CalendarLink    string      `json:"calendar_link,omitempty"`
	Completion      *Completion `json:"completion,omitempty"`
	LastInteraction time.Time   `json:"last_interaction"`
}

// Key is the storage key for a user's record on the local date of day.
func Key(userID string, day time.Time) string {
	return userID + ":" + DayStamp(day)
}

// DayStamp formats the local date of t as YYYYMMDD.
func DayStamp(t time.Time) string {
	return t.Format("20060102")
}

// NextMidnight returns the first instant of the day after t, in t's zone.
func NextMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}

// StartOfDay returns local midnight at the start of t's date.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
