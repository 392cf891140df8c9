package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chris/anchor/internal/calendar"
	"github.com/chris/anchor/internal/db"
	"github.com/chris/anchor/internal/eventlog"
	"github.com/chris/anchor/internal/llm"
	"github.com/chris/anchor/internal/metrics"
	"github.com/chris/anchor/internal/observability"
	"github.com/chris/anchor/internal/plan"
	"github.com/chris/anchor/internal/store"
)

// Options tune an Agent. Zero values fall back to sensible defaults.
type Options struct {
	Defaults db.UserDefaults
	Window   plan.Window
	Metrics  *metrics.Metrics
	Events   *eventlog.Logger
	Now      func() time.Time
}

type Agent struct {
	db       *db.DB
	contexts store.ContextStore
	client   llm.Client
	defaults db.UserDefaults
	fallback *time.Location
	window   plan.Window
	metrics  *metrics.Metrics
	events   *eventlog.Logger
	now      func() time.Time
}

func New(database *db.DB, contexts store.ContextStore, client llm.Client, opts Options) *Agent {
	a := &Agent{
		db:       database,
		contexts: contexts,
		client:   client,
		defaults: opts.Defaults,
		window:   opts.Window,
		metrics:  opts.Metrics,
		events:   opts.Events,
		now:      opts.Now,
	}
	if a.defaults.Timezone == "" {
		a.defaults.Timezone = "America/Los_Angeles"
	}
	if a.defaults.MorningTime == "" {
		a.defaults.MorningTime = "08:00"
	}
	if a.defaults.EveningTime == "" {
		a.defaults.EveningTime = "20:00"
	}
	if a.window.End <= a.window.Start {
		a.window = plan.DefaultWindow
	}
	if a.now == nil {
		a.now = time.Now
	}
	loc, err := time.LoadLocation(a.defaults.Timezone)
	if err != nil {
		loc = time.UTC
	}
	a.fallback = loc
	return a
}

// Inbound is a message received from a user.
type Inbound struct {
	UserID     string
	Body       string
	ReceivedAt time.Time // zero means now
}

// Reply is what gets sent back. Text is always safe to show the user.
type Reply struct {
	Text         string
	MessageType  plan.MessageType
	CalendarLink string
	// Degraded is set when the context store could not be read.
	Degraded bool
}

// HandleMessage runs one conversation turn for an incoming message.
func (a *Agent) HandleMessage(ctx context.Context, in Inbound) Reply {
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return Reply{Text: EmptyBodyReply, MessageType: plan.AdHoc}
	}
	log := a.logger(ctx).With("user", in.UserID)

	user, err := a.db.EnsureUser(in.UserID, a.defaults)
	if err != nil {
		log.Error("agent[turn]: resolving user", "error", err)
		user = &db.User{ID: in.UserID, Timezone: a.defaults.Timezone}
	}
	a.events.Interaction(user.ID, body, nil)

	if text, ok := a.command(ctx, user, body); ok {
		return Reply{Text: text, MessageType: plan.AdHoc}
	}

	at := in.ReceivedAt
	if at.IsZero() {
		at = a.now()
	}
	reply, err := a.turn(ctx, user, at.In(user.Location(a.fallback)), body, "")
	if err != nil {
		log.Error("agent[turn]: failed", "error", err)
		a.events.Error(user.ID, "turn failed", "llm", map[string]any{"detail": err.Error()})
		return Reply{Text: ErrorReply, MessageType: plan.AdHoc}
	}
	return reply
}

// Trigger starts a scheduled flow (morning planning or reflection) for a
// user. If the model is unreachable a static opener is returned instead.
func (a *Agent) Trigger(ctx context.Context, userID string, flow plan.MessageType) (Reply, error) {
	if flow != plan.MorningPlanning && flow != plan.Reflection {
		return Reply{}, fmt.Errorf("flow %q cannot be scheduled", flow)
	}
	user, err := a.db.EnsureUser(userID, a.defaults)
	if err != nil {
		return Reply{}, fmt.Errorf("resolving user: %w", err)
	}
	now := a.now().In(user.Location(a.fallback))

	reply, err := a.turn(ctx, user, now, "", flow)
	if err == nil {
		return reply, nil
	}

	a.logger(ctx).Warn("agent[trigger]: model unavailable, using static opener", "user", userID, "flow", flow, "error", err)
	stored, err := a.contexts.GetContext(ctx, user.ID, now)
	if err != nil {
		a.logger(ctx).Error("agent[trigger]: loading context for opener", "user", userID, "error", err)
		a.metrics.StoreError("get")
		stored = nil
	}
	return Reply{Text: staticOpener(flow, stored), MessageType: flow}, nil
}

func (a *Agent) turn(ctx context.Context, user *db.User, now time.Time, message string, flow plan.MessageType) (Reply, error) {
	log := a.logger(ctx).With("user", user.ID)

	stored, err := a.contexts.GetContext(ctx, user.ID, now)
	degraded := err != nil
	if degraded {
		log.Error("agent[turn]: loading context, continuing without it", "error", err)
		a.metrics.StoreError("get")
		a.events.Error(user.ID, "context store unavailable", "storage", nil)
		stored = nil
	}

	prompt := BuildTurnPrompt(TurnInput{
		Now:     now,
		Flow:    flow,
		Context: stored,
		Hint:    hintFor(user, now),
		Message: message,
	})
	log.Debug("agent[turn]: prompt built", "tokens", llm.EstimateTokens(llm.SystemPrompt)+llm.EstimateTokens(prompt))

	start := time.Now()
	raw, err := a.client.Complete(ctx, llm.SystemPrompt, prompt)
	elapsed := time.Since(start)
	a.metrics.LLMLatency(elapsed)
	if err != nil {
		return Reply{}, fmt.Errorf("llm complete: %w", err)
	}

	parsed := llm.ParseResponse(raw)
	if parsed.Fallback {
		a.metrics.ParseFallback()
		log.Warn("agent[turn]: unparseable model output", "error", parsed.Err)
	}
	mt := decideFlow(parsed, stored, degraded, flow)
	a.events.LLM(user.ID, parsed.Response, elapsed, map[string]any{
		"message_type": string(mt),
		"fallback":     parsed.Fallback,
	})

	next, out := a.apply(ctx, user, now, stored, parsed, mt)

	if degraded {
		// Writing now could clobber a record we failed to read.
		log.Warn("agent[turn]: skipping context write after failed read")
	} else if err := a.contexts.PutContext(ctx, user.ID, now, next); err != nil {
		log.Error("agent[turn]: saving context", "error", err)
		a.metrics.StoreError("put")
		a.events.Error(user.ID, "context save failed", "storage", nil)
	}
	a.metrics.Turn(string(mt))

	text := parsed.Response
	if out.link != "" {
		text += "\n\n📅 Add it to your calendar: " + out.link
	}
	if out.note != "" {
		text += "\n\n" + out.note
	}
	return Reply{
		Text:         text,
		MessageType:  mt,
		CalendarLink: next.CalendarLink,
		Degraded:     degraded,
	}, nil
}

// decideFlow picks the flow whose update rules apply to this turn.
func decideFlow(p llm.Parsed, stored *plan.DailyContext, degraded bool, scheduled plan.MessageType) plan.MessageType {
	if degraded || p.Fallback {
		return plan.AdHoc
	}
	mt := p.MessageType
	if scheduled != "" && mt == plan.AdHoc {
		mt = scheduled
	}
	if mt == plan.Replanning && (stored == nil || stored.CurrentTask == "") {
		return plan.AdHoc
	}
	return mt
}

// outcome is what a turn adds to the model's reply.
type outcome struct {
	link string // calendar link produced this turn
	note string // apology when no block or link could be produced
}

// apply builds the next context from the stored one.
func (a *Agent) apply(ctx context.Context, user *db.User, now time.Time, stored *plan.DailyContext, p llm.Parsed, mt plan.MessageType) (*plan.DailyContext, outcome) {
	next := &plan.DailyContext{}
	if stored != nil {
		*next = *stored
	}
	next.MessageType = mt
	next.LastInteraction = now

	var out outcome
	switch mt {
	case plan.MorningPlanning:
		if p.Task != "" && p.Task != next.CurrentTask {
			next.CurrentTask = p.Task
			next.FocusBlock = nil
			next.CalendarLink = ""
			if next.Timing != nil {
				t := *next.Timing
				t.DurationMinutes = nil
				next.Timing = &t
			}
		}
		next.Timing = next.Timing.Merge(p.Timing)
		if next.CurrentTask != "" && next.Timing.Duration() > 0 && next.Timing.Constraints != nil {
			out = a.schedule(ctx, next, now)
		}

	case plan.Replanning:
		next.Timing = next.Timing.Merge(p.Timing)
		if next.Timing.Duration() > 0 {
			out = a.schedule(ctx, next, now)
		}

	case plan.Reflection:
		if p.Completion != nil {
			c := *p.Completion
			next.Completion = &c
			if c.FollowUpTask != "" {
				if err := a.db.SetHint(user.ID, c.FollowUpTask, plan.DayStamp(now)); err != nil {
					a.logger(ctx).Error("agent[turn]: saving follow-up hint", "user", user.ID, "error", err)
				}
			}
		}
	}
	return next, out
}

// schedule selects a focus block for next and attaches a calendar link.
func (a *Agent) schedule(ctx context.Context, next *plan.DailyContext, now time.Time) outcome {
	t := next.Timing
	block, err := plan.SelectBlock(plan.BlockRequest{
		DurationMinutes: t.Duration(),
		Constraints:     t.Constraints,
		Preferred:       t.PreferredTime,
		Deadline:        t.Deadline,
		Window:          a.window,
		NotBefore:       plan.ClockOf(now),
		Title:           next.CurrentTask,
	})
	if err != nil {
		a.logger(ctx).Info("agent[schedule]: no focus block", "error", err)
		next.FocusBlock = nil
		next.CalendarLink = ""
		return outcome{note: fmt.Sprintf("I couldn't find a free %d-minute slot today, so there's no calendar link yet. Any flexibility in your schedule?", t.Duration())}
	}
	link, err := calendar.Link(calendar.FocusEvent(next.CurrentTask, block, now))
	if err != nil {
		a.logger(ctx).Error("agent[schedule]: building calendar link", "error", err)
		next.FocusBlock = &block
		next.CalendarLink = ""
		return outcome{note: "Sorry, I couldn't create a calendar link this time."}
	}
	next.FocusBlock = &block
	next.CalendarLink = link
	return outcome{link: link}
}

// hintFor returns the follow-up task saved during yesterday's reflection.
func hintFor(user *db.User, now time.Time) string {
	if user.Hint == "" || user.HintDay != plan.DayStamp(now.AddDate(0, 0, -1)) {
		return ""
	}
	return user.Hint
}

func (a *Agent) logger(ctx context.Context) *slog.Logger {
	return observability.LoggerFromContext(ctx)
}
