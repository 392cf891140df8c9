package plan

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrInvalidDuration means the requested duration is not positive.
	ErrInvalidDuration = errors.New("duration must be positive")

	// ErrNoSlot means no gap in the working window fits the duration.
	ErrNoSlot = errors.New("no free slot fits the requested duration")
)

// Window is the part of the day the user is willing to work in.
type Window struct {
	Start Clock
	End   Clock
}

// DefaultWindow is 09:00-18:00.
var DefaultWindow = Window{Start: 9 * 60, End: 18 * 60}

// BlockRequest describes a focus-block search.
type BlockRequest struct {
	DurationMinutes int
	Constraints     []TimeBlock
	Preferred       *Clock
	Deadline        *Clock
	Window          Window
	// NotBefore excludes slots that start earlier, e.g. the current time
	// when planning the rest of today. Zero means no lower bound.
	NotBefore Clock
	Title     string
}

// SelectBlock returns the first slot that fits the request. A preferred
// start is tried first; otherwise the earliest free gap wins.
func SelectBlock(req BlockRequest) (TimeBlock, error) {
	if req.DurationMinutes <= 0 {
		return TimeBlock{}, ErrInvalidDuration
	}
	w := req.Window
	if w.End <= w.Start {
		w = DefaultWindow
	}
	lo, hi := w.Start, w.End
	if req.NotBefore > lo {
		lo = req.NotBefore
	}
	if req.Deadline != nil && *req.Deadline < hi {
		hi = *req.Deadline
	}
	dur := Clock(req.DurationMinutes)
	if hi-lo < dur {
		return TimeBlock{}, fmt.Errorf("%w: window %s-%s", ErrNoSlot, lo, hi)
	}

	busy := mergeBusy(req.Constraints)

	if p := req.Preferred; p != nil && *p >= lo && *p+dur <= hi && free(busy, *p, *p+dur) {
		return focus(*p, *p+dur, req.Title), nil
	}

	cursor := lo
	for _, b := range busy {
		if b.End <= cursor {
			continue
		}
		if b.Start >= hi {
			break
		}
		if b.Start-cursor >= dur {
			return focus(cursor, cursor+dur, req.Title), nil
		}
		cursor = b.End
	}
	if hi-cursor >= dur {
		return focus(cursor, cursor+dur, req.Title), nil
	}
	return TimeBlock{}, fmt.Errorf("%w: %d minutes between %s and %s", ErrNoSlot, req.DurationMinutes, lo, hi)
}

func focus(start, end Clock, title string) TimeBlock {
	return TimeBlock{Start: start, End: end, Description: title, IsFocusBlock: true}
}

func free(busy []TimeBlock, start, end Clock) bool {
	for _, b := range busy {
		if b.overlaps(start, end) {
			return false
		}
	}
	return true
}

// mergeBusy sorts valid constraints by start and merges overlapping ones.
// Blocks that merely touch stay separate; a zero-length gap fits nothing.
func mergeBusy(in []TimeBlock) []TimeBlock {
	var busy []TimeBlock
	for _, b := range in {
		if b.Valid() {
			busy = append(busy, b)
		}
	}
	sort.SliceStable(busy, func(i, j int) bool { return busy[i].Start < busy[j].Start })

	var out []TimeBlock
	for _, b := range busy {
		if n := len(out); n > 0 && b.Start < out[n-1].End {
			if b.End > out[n-1].End {
				out[n-1].End = b.End
			}
			continue
		}
		out = append(out, b)
	}
	return out
}
