package calendar

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/chris/anchor/internal/plan"
)

const renderURL = "https://calendar.google.com/calendar/render"

// ErrInvalidInterval is returned when an event does not end after it starts.
var ErrInvalidInterval = errors.New("invalid interval: end must be after start")

type Event struct {
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	Location    string
}

// Link builds a Google Calendar event-creation URL. It performs no I/O.
func Link(e Event) (string, error) {
	if !e.End.After(e.Start) {
		return "", fmt.Errorf("%w (%s to %s)", ErrInvalidInterval, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
	}
	q := url.Values{}
	q.Set("action", "TEMPLATE")
	q.Set("text", e.Title)
	q.Set("details", e.Description)
	q.Set("dates", stamp(e.Start)+"/"+stamp(e.End))
	if e.Location != "" {
		q.Set("location", e.Location)
	}
	return renderURL + "?" + q.Encode(), nil
}

func stamp(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

// FocusEvent places a focus block on the local date of day.
func FocusEvent(task string, block plan.TimeBlock, day time.Time) Event {
	return Event{
		Title:       "Focus: " + task,
		Description: "Anchor focus block for today's most important task: " + task,
		Start:       block.Start.On(day),
		End:         block.End.On(day),
	}
}
