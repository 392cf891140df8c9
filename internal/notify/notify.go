// Package notify delivers outbound messages to users over SMS, Discord, or
// a generic webhook.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNoRoute means no sender is configured for a recipient.
var ErrNoRoute = errors.New("no delivery method for recipient")

type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, to, body string) error

func (f SenderFunc) Send(ctx context.Context, to, body string) error {
	return f(ctx, to, body)
}

// DiscordPrefix marks user ids that belong to Discord users.
const DiscordPrefix = "discord:"

// LocalPrefix marks terminal chat users, who have nowhere to receive
// scheduled prompts.
const LocalPrefix = "cli:"

// Router picks a sender by recipient. Discord ids go to Discord, everything
// else to SMS. The webhook, if set, is used when the preferred sender is
// missing.
type Router struct {
	SMS     Sender
	Discord Sender
	Webhook Sender
}

func (r *Router) Send(ctx context.Context, to, body string) error {
	var preferred Sender
	if strings.HasPrefix(to, LocalPrefix) {
		return fmt.Errorf("%w: %s", ErrNoRoute, to)
	}
	if strings.HasPrefix(to, DiscordPrefix) {
		preferred = r.Discord
	} else {
		preferred = r.SMS
	}
	if preferred != nil {
		return preferred.Send(ctx, to, body)
	}
	if r.Webhook != nil {
		return r.Webhook.Send(ctx, to, body)
	}
	return fmt.Errorf("%w: %s", ErrNoRoute, to)
}

// NewDiscordSender sends through a DM function that takes a bare Discord
// user id.
func NewDiscordSender(dm func(userID, content string) error) Sender {
	return SenderFunc(func(_ context.Context, to, body string) error {
		id := strings.TrimPrefix(to, DiscordPrefix)
		if err := dm(id, body); err != nil {
			return fmt.Errorf("discord dm to %s: %w", id, err)
		}
		return nil
	})
}
