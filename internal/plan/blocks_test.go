package plan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clockPtr(s string) *Clock {
	c := MustClock(s)
	return &c
}

func busy(start, end string) TimeBlock {
	return TimeBlock{Start: MustClock(start), End: MustClock(end), Description: "busy"}
}

func TestSelectBlock(t *testing.T) {
	tests := []struct {
		name      string
		req       BlockRequest
		wantStart string
		wantEnd   string
	}{
		{
			name: "earliest gap before a mid-morning meeting",
			req: BlockRequest{
				DurationMinutes: 120,
				Constraints:     []TimeBlock{busy("11:00", "11:30")},
				Window:          DefaultWindow,
			},
			wantStart: "09:00",
			wantEnd:   "11:00",
		},
		{
			name: "gap too short before meeting, take the one after",
			req: BlockRequest{
				DurationMinutes: 120,
				Constraints:     []TimeBlock{busy("10:00", "11:30")},
				Window:          DefaultWindow,
			},
			wantStart: "11:30",
			wantEnd:   "13:30",
		},
		{
			name: "preferred time honored when free",
			req: BlockRequest{
				DurationMinutes: 60,
				Constraints:     []TimeBlock{busy("11:00", "11:30")},
				Preferred:       clockPtr("14:00"),
				Window:          DefaultWindow,
			},
			wantStart: "14:00",
			wantEnd:   "15:00",
		},
		{
			name: "preferred time conflicts, fall back to scan",
			req: BlockRequest{
				DurationMinutes: 60,
				Constraints:     []TimeBlock{busy("09:00", "10:00"), busy("14:30", "15:00")},
				Preferred:       clockPtr("14:00"),
				Window:          DefaultWindow,
			},
			wantStart: "10:00",
			wantEnd:   "11:00",
		},
		{
			name: "unsorted and overlapping constraints are merged",
			req: BlockRequest{
				DurationMinutes: 30,
				Constraints: []TimeBlock{
					busy("10:00", "12:00"),
					busy("09:00", "10:30"),
					busy("12:00", "12:15"),
				},
				Window: DefaultWindow,
			},
			wantStart: "12:15",
			wantEnd:   "12:45",
		},
		{
			name: "touching intervals leave exact-fit gap",
			req: BlockRequest{
				DurationMinutes: 60,
				Constraints:     []TimeBlock{busy("09:00", "10:00"), busy("11:00", "12:00")},
				Window:          DefaultWindow,
			},
			wantStart: "10:00",
			wantEnd:   "11:00",
		},
		{
			name: "not before current time",
			req: BlockRequest{
				DurationMinutes: 45,
				Window:          DefaultWindow,
				NotBefore:       MustClock("13:10"),
			},
			wantStart: "13:10",
			wantEnd:   "13:55",
		},
		{
			name: "invalid constraint ignored",
			req: BlockRequest{
				DurationMinutes: 30,
				Constraints:     []TimeBlock{busy("10:00", "09:00")},
				Window:          DefaultWindow,
			},
			wantStart: "09:00",
			wantEnd:   "09:30",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectBlock(tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, got.Start.String())
			assert.Equal(t, tt.wantEnd, got.End.String())
			assert.True(t, got.IsFocusBlock)
			for _, c := range tt.req.Constraints {
				if c.Valid() {
					assert.False(t, c.overlaps(got.Start, got.End), "block %s overlaps %s", got, c)
				}
			}
		})
	}
}

func TestSelectBlock_DeadlineLimitsWindow(t *testing.T) {
	_, err := SelectBlock(BlockRequest{
		DurationMinutes: 90,
		Constraints:     []TimeBlock{busy("09:00", "10:00")},
		Deadline:        clockPtr("11:00"),
		Window:          DefaultWindow,
	})
	assert.True(t, errors.Is(err, ErrNoSlot))

	got, err := SelectBlock(BlockRequest{
		DurationMinutes: 60,
		Constraints:     []TimeBlock{busy("09:00", "10:00")},
		Deadline:        clockPtr("11:00"),
		Window:          DefaultWindow,
	})
	require.NoError(t, err)
	assert.Equal(t, "10:00-11:00", got.String())
}

func TestSelectBlock_Errors(t *testing.T) {
	_, err := SelectBlock(BlockRequest{DurationMinutes: 0, Window: DefaultWindow})
	assert.ErrorIs(t, err, ErrInvalidDuration)

	_, err = SelectBlock(BlockRequest{
		DurationMinutes: 60,
		Constraints:     []TimeBlock{busy("09:00", "18:00")},
		Window:          DefaultWindow,
	})
	assert.ErrorIs(t, err, ErrNoSlot)

	_, err = SelectBlock(BlockRequest{DurationMinutes: 600, Window: DefaultWindow})
	assert.ErrorIs(t, err, ErrNoSlot)
}

func TestSelectBlock_ZeroWindowUsesDefault(t *testing.T) {
	got, err := SelectBlock(BlockRequest{DurationMinutes: 30})
	require.NoError(t, err)
	assert.Equal(t, "09:00-09:30", got.String())
}
