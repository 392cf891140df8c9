package notify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRetryExhausted is returned when every attempt failed or the send
// window closed first.
var ErrRetryExhausted = errors.New("delivery retries exhausted")

// RetryPolicy bounds delivery attempts. The delay doubles after each
// failure. No attempt starts after Deadline, if set.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
	Deadline time.Time
	Now      func() time.Time // defaults to time.Now
}

// SendWithRetry sends body and retries on failure. It returns the number
// of attempts made.
func SendWithRetry(ctx context.Context, s Sender, to, body string, p RetryPolicy) (int, error) {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	delay := p.Backoff
	var lastErr error
	attempts := 0
	for i := 0; i < p.Attempts; i++ {
		if !p.Deadline.IsZero() && !p.Now().Before(p.Deadline) {
			break
		}
		attempts++
		lastErr = s.Send(ctx, to, body)
		if lastErr == nil {
			return attempts, nil
		}
		if errors.Is(lastErr, ErrNoRoute) {
			// No sender can ever take this recipient.
			return attempts, lastErr
		}
		if i == p.Attempts-1 {
			break
		}
		if !p.Deadline.IsZero() && p.Now().Add(delay).After(p.Deadline) {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempts, fmt.Errorf("%w: %v", ErrRetryExhausted, ctx.Err())
		case <-timer.C:
		}
		delay *= 2
	}
	if lastErr == nil {
		return attempts, fmt.Errorf("%w: send window closed", ErrRetryExhausted)
	}
	return attempts, fmt.Errorf("%w after %d attempt(s): %w", ErrRetryExhausted, attempts, lastErr)
}
