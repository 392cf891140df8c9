package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chris/anchor/internal/plan"
)

const keyPrefix = "anchor:ctx:"

// Hash fields of a stored record.
const (
	fieldMessageType     = "message_type"
	fieldCurrentTask     = "current_task"
	fieldTiming          = "timing"
	fieldFocusBlock      = "focus_block"
	fieldCalendarLink    = "calendar_link"
	fieldCompletion      = "completion"
	fieldLastInteraction = "last_interaction"
)

// Redis stores each day's record as a hash that expires at the user's
// next local midnight.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// NewRedisURL connects using a redis:// URL.
func NewRedisURL(url string) (*Redis, error) {
	if url == "" {
		return nil, errors.New("REDIS_URL is required for the redis context backend")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return NewRedis(redis.NewClient(opts)), nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func redisKey(userID string, day time.Time) string {
	return keyPrefix + plan.Key(userID, day)
}

func (r *Redis) GetContext(ctx context.Context, userID string, day time.Time) (*plan.DailyContext, error) {
	fields, err := r.client.HGetAll(ctx, redisKey(userID, day)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting context: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	dc := &plan.DailyContext{
		MessageType:  plan.ParseMessageType(fields[fieldMessageType]),
		CurrentTask:  fields[fieldCurrentTask],
		CalendarLink: fields[fieldCalendarLink],
	}
	if err := decodeField(fields, fieldTiming, &dc.Timing); err != nil {
		return nil, err
	}
	if err := decodeField(fields, fieldFocusBlock, &dc.FocusBlock); err != nil {
		return nil, err
	}
	if err := decodeField(fields, fieldCompletion, &dc.Completion); err != nil {
		return nil, err
	}
	if raw := fields[fieldLastInteraction]; raw != "" {
		if dc.LastInteraction, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return nil, fmt.Errorf("parsing last interaction: %w", err)
		}
	}
	return dc, nil
}

// PutContext replaces the whole hash in one transaction.
func (r *Redis) PutContext(ctx context.Context, userID string, day time.Time, dc *plan.DailyContext) error {
	if dc == nil {
		return errors.New("putting context: nil record")
	}
	values := map[string]any{
		fieldMessageType:     string(dc.MessageType),
		fieldLastInteraction: dc.LastInteraction.Format(time.RFC3339Nano),
	}
	if dc.CurrentTask != "" {
		values[fieldCurrentTask] = dc.CurrentTask
	}
	if dc.CalendarLink != "" {
		values[fieldCalendarLink] = dc.CalendarLink
	}
	for field, v := range map[string]any{
		fieldTiming:     dc.Timing,
		fieldFocusBlock: dc.FocusBlock,
		fieldCompletion: dc.Completion,
	} {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", field, err)
		}
		if string(b) != "null" {
			values[field] = string(b)
		}
	}

	key := redisKey(userID, day)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, values)
		pipe.ExpireAt(ctx, key, plan.NextMidnight(day))
		return nil
	})
	if err != nil {
		return fmt.Errorf("putting context: %w", err)
	}
	return nil
}

// CleanupContexts deletes keys whose date suffix is before now minus
// olderThanDays. Expiry normally removes them first.
func (r *Redis) CleanupContexts(ctx context.Context, olderThanDays int, now time.Time) (int64, error) {
	if olderThanDays < 0 {
		return 0, fmt.Errorf("cleanup threshold must not be negative, got %d", olderThanDays)
	}
	cutoff := plan.DayStamp(plan.StartOfDay(now).AddDate(0, 0, -olderThanDays))

	var removed int64
	iter := r.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		i := strings.LastIndexByte(key, ':')
		if i < 0 || len(key)-i-1 != len("20060102") {
			continue
		}
		if key[i+1:] >= cutoff {
			continue
		}
		n, err := r.client.Del(ctx, key).Result()
		if err != nil {
			return removed, fmt.Errorf("deleting %s: %w", key, err)
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scanning contexts: %w", err)
	}
	return removed, nil
}

func decodeField(fields map[string]string, name string, dst any) error {
	raw, ok := fields[name]
	if !ok || raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decoding %s: %w", name, err)
	}
	return nil
}
