package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chris/anchor/internal/db"
)

// Fixed replies. None of them include internal detail.
const (
	EmptyBodyReply  = "I didn't receive any message content. Please try again."
	ErrorReply      = "I encountered an error processing your message. Please try again."
	MediaReply      = "I've received your image, but I can only process text messages for now."
	MediaNoURLReply = "I received a media message but couldn't process it. Please send text only."

	MenuReply = "Here's what I can help you with:\n" +
		"📝 Tell me your most important task for today\n" +
		"🕒 Ask me to reschedule a task\n" +
		"✓ Check your task status\n" +
		"⏸ STOP pauses daily check-ins, START resumes them\n" +
		"🌍 TZ <zone> sets your timezone, e.g. TZ America/New_York\n\n" +
		"Reply with 'menu' anytime to see this list again!"

	stopReply  = "Okay, I'll stop sending daily check-ins. Text START to turn them back on."
	startReply = "You're back on! I'll check in each morning and evening."
)

// command handles keyword messages that never reach the model. It reports
// false when body is not a command.
func (a *Agent) command(ctx context.Context, user *db.User, body string) (string, bool) {
	word, arg, _ := strings.Cut(strings.TrimSpace(body), " ")
	log := a.logger(ctx)

	switch strings.ToLower(word) {
	case "menu", "help":
		if arg != "" {
			return "", false
		}
		return MenuReply, true

	case "stop", "start":
		if arg != "" {
			return "", false
		}
		active := strings.EqualFold(word, "start")
		if err := a.db.SetUserActive(user.ID, active); err != nil {
			log.Error("agent[command]: updating active flag", "user", user.ID, "error", err)
			return ErrorReply, true
		}
		if active {
			a.events.System(user.ID, "scheduled check-ins resumed", nil)
			return startReply, true
		}
		a.events.System(user.ID, "scheduled check-ins paused", nil)
		return stopReply, true

	case "tz", "timezone":
		zone := strings.TrimSpace(arg)
		if zone == "" {
			return fmt.Sprintf("Your timezone is %s. Reply TZ <zone> to change it, e.g. TZ America/New_York.", user.Timezone), true
		}
		if strings.Contains(zone, " ") {
			return "", false
		}
		loc, err := time.LoadLocation(zone)
		if err != nil {
			return fmt.Sprintf("I don't recognize the timezone %q. Try something like America/Chicago.", zone), true
		}
		if err := a.db.SetUserTimezone(user.ID, loc.String()); err != nil {
			log.Error("agent[command]: updating timezone", "user", user.ID, "error", err)
			return ErrorReply, true
		}
		return fmt.Sprintf("Got it, I'll use %s for your check-ins.", loc), true
	}
	return "", false
}
