// Package store defines the per-day context store and its backends.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/chris/anchor/internal/db"
	"github.com/chris/anchor/internal/plan"
)

// ContextStore persists one DailyContext per user per local day.
// Absent records are returned as nil with a nil error.
type ContextStore interface {
	GetContext(ctx context.Context, userID string, day time.Time) (*plan.DailyContext, error)
	PutContext(ctx context.Context, userID string, day time.Time, dc *plan.DailyContext) error
	CleanupContexts(ctx context.Context, olderThanDays int, now time.Time) (int64, error)
}

var (
	_ ContextStore = (*db.DB)(nil)
	_ ContextStore = (*Redis)(nil)
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Open returns the store for backend. The sqlite backend shares database
// with the rest of the app; redis connects to redisURL.
func Open(backend string, database *db.DB, redisURL string) (ContextStore, error) {
	switch backend {
	case "", BackendSQLite:
		return database, nil
	case BackendRedis:
		return NewRedisURL(redisURL)
	default:
		return nil, fmt.Errorf("unknown context backend %q (use %s or %s)", backend, BackendSQLite, BackendRedis)
	}
}
