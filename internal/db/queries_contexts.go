package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chris/anchor/internal/plan"
)

// GetContext returns the record for the local date of day, or nil if there
// is none or it has expired.
func (d *DB) GetContext(ctx context.Context, userID string, day time.Time) (*plan.DailyContext, error) {
	var (
		dc                                    plan.DailyContext
		msgType, lastAt                       string
		task, timing, block, link, completion sql.NullString
		expiresAt                             int64
	)
	err := d.conn.QueryRowContext(ctx,
		`SELECT message_type, current_task, timing, focus_block, calendar_link, completion, last_interaction, expires_at
		 FROM daily_contexts WHERE user_id = ? AND day = ?`,
		userID, plan.DayStamp(day),
	).Scan(&msgType, &task, &timing, &block, &link, &completion, &lastAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting context: %w", err)
	}
	if expiresAt <= d.now().Unix() {
		return nil, nil
	}

	dc.MessageType = plan.ParseMessageType(msgType)
	dc.CurrentTask = task.String
	dc.CalendarLink = link.String
	if err := scanJSON(timing.String, &dc.Timing); err != nil {
		return nil, fmt.Errorf("decoding timing: %w", err)
	}
	if err := scanJSON(block.String, &dc.FocusBlock); err != nil {
		return nil, fmt.Errorf("decoding focus block: %w", err)
	}
	if err := scanJSON(completion.String, &dc.Completion); err != nil {
		return nil, fmt.Errorf("decoding completion: %w", err)
	}
	if dc.LastInteraction, err = time.Parse(time.RFC3339Nano, lastAt); err != nil {
		return nil, fmt.Errorf("parsing last interaction: %w", err)
	}
	return &dc, nil
}

// PutContext replaces the record for the local date of day. It expires at
// the next local midnight.
func (d *DB) PutContext(ctx context.Context, userID string, day time.Time, dc *plan.DailyContext) error {
	if dc == nil {
		return fmt.Errorf("putting context: nil record")
	}
	timing, err := nullJSON(dc.Timing)
	if err != nil {
		return fmt.Errorf("encoding timing: %w", err)
	}
	block, err := nullJSON(dc.FocusBlock)
	if err != nil {
		return fmt.Errorf("encoding focus block: %w", err)
	}
	completion, err := nullJSON(dc.Completion)
	if err != nil {
		return fmt.Errorf("encoding completion: %w", err)
	}
	_, err = d.conn.ExecContext(ctx,
		`INSERT INTO daily_contexts
		   (user_id, day, message_type, current_task, timing, focus_block, calendar_link, completion, last_interaction, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, day) DO UPDATE SET
		   message_type = excluded.message_type,
		   current_task = excluded.current_task,
		   timing = excluded.timing,
		   focus_block = excluded.focus_block,
		   calendar_link = excluded.calendar_link,
		   completion = excluded.completion,
		   last_interaction = excluded.last_interaction,
		   expires_at = excluded.expires_at`,
		userID, plan.DayStamp(day), string(dc.MessageType), nullStr(dc.CurrentTask),
		timing, block, nullStr(dc.CalendarLink), completion,
		dc.LastInteraction.Format(time.RFC3339Nano), plan.NextMidnight(day).Unix(),
	)
	if err != nil {
		return fmt.Errorf("putting context: %w", err)
	}
	return nil
}

// CleanupContexts deletes records dated before now minus olderThanDays.
// A record exactly olderThanDays old is kept.
func (d *DB) CleanupContexts(ctx context.Context, olderThanDays int, now time.Time) (int64, error) {
	if olderThanDays < 0 {
		return 0, fmt.Errorf("cleanup threshold must not be negative, got %d", olderThanDays)
	}
	cutoff := plan.DayStamp(plan.StartOfDay(now).AddDate(0, 0, -olderThanDays))
	res, err := d.conn.ExecContext(ctx, "DELETE FROM daily_contexts WHERE day < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleaning up contexts: %w", err)
	}
	return res.RowsAffected()
}

// PurgeExpiredContexts deletes records that expired at or before now.
func (d *DB) PurgeExpiredContexts(ctx context.Context, now time.Time) (int64, error) {
	res, err := d.conn.ExecContext(ctx, "DELETE FROM daily_contexts WHERE expires_at <= ?", now.Unix())
	if err != nil {
		return 0, fmt.Errorf("purging expired contexts: %w", err)
	}
	return res.RowsAffected()
}
