package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdle = 10 * time.Minute

// senderLimiter keeps a token bucket per sender. A nil limiter allows
// everything.
type senderLimiter struct {
	mu      sync.Mutex
	perMin  int
	buckets map[string]*bucket
	swept   time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newSenderLimiter(perMinute int) *senderLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &senderLimiter{perMin: perMinute, buckets: make(map[string]*bucket)}
}

func (l *senderLimiter) allow(sender string, now time.Time) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.swept) > limiterIdle {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > limiterIdle {
				delete(l.buckets, k)
			}
		}
		l.swept = now
	}

	b, ok := l.buckets[sender]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMin)), l.perMin)}
		l.buckets[sender] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}
