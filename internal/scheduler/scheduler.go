package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/chris/anchor/internal/agent"
	"github.com/chris/anchor/internal/db"
	"github.com/chris/anchor/internal/eventlog"
	"github.com/chris/anchor/internal/metrics"
	"github.com/chris/anchor/internal/notify"
	"github.com/chris/anchor/internal/observability"
	"github.com/chris/anchor/internal/plan"
	"github.com/chris/anchor/internal/store"
)

// Flow names as stored in prompt_runs.
const (
	FlowMorning = "morning"
	FlowEvening = "evening"
)

// MessageType maps a flow name to the conversation flow it starts.
func MessageType(flow string) (plan.MessageType, error) {
	switch flow {
	case FlowMorning:
		return plan.MorningPlanning, nil
	case FlowEvening:
		return plan.Reflection, nil
	default:
		return "", fmt.Errorf("unknown flow %q (use %s or %s)", flow, FlowMorning, FlowEvening)
	}
}

// Triggerer starts a scheduled flow and returns the text to send.
type Triggerer interface {
	Trigger(ctx context.Context, userID string, flow plan.MessageType) (agent.Reply, error)
}

type Config struct {
	Location    *time.Location // for users without a valid zone, and for cleanup
	Morning     plan.Clock     // used when a user's stored time is invalid
	Evening     plan.Clock
	CleanupDays int
	Attempts    int
	Backoff     time.Duration
	SendWindow  time.Duration
	ReloadEvery time.Duration
}

func (c *Config) setDefaults() {
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.Morning == 0 {
		c.Morning = plan.MustClock("08:00")
	}
	if c.Evening == 0 {
		c.Evening = plan.MustClock("20:00")
	}
	if c.CleanupDays <= 0 {
		c.CleanupDays = 7
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 2 * time.Second
	}
	if c.SendWindow <= 0 {
		c.SendWindow = time.Hour
	}
	if c.ReloadEvery <= 0 {
		c.ReloadEvery = 5 * time.Minute
	}
}

type Scheduler struct {
	cron     *cron.Cron
	db       *db.DB
	contexts store.ContextStore
	agent    Triggerer
	sender   notify.Sender
	cfg      Config
	metrics  *metrics.Metrics
	events   *eventlog.Logger
	now      func() time.Time

	mu       sync.Mutex
	entryIDs []cron.EntryID
	stop     chan struct{}
	stopOnce sync.Once
}

func New(database *db.DB, contexts store.ContextStore, ag Triggerer, sender notify.Sender, cfg Config, m *metrics.Metrics, events *eventlog.Logger) *Scheduler {
	cfg.setDefaults()
	return &Scheduler{
		cron:     cron.New(),
		db:       database,
		contexts: contexts,
		agent:    ag,
		sender:   sender,
		cfg:      cfg,
		metrics:  m,
		events:   events,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	s.loadSchedules()
	s.cron.Start()

	// Reload every few minutes to pick up new users and changed zones.
	go func() {
		t := time.NewTicker(s.cfg.ReloadEvery)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				s.loadSchedules()
			case <-s.stop:
				return
			}
		}
	}()

	// Catch up on prompts whose send window is still open.
	go func() {
		ctx := context.Background()
		for _, flow := range []string{FlowMorning, FlowEvening} {
			if err := s.RunDue(ctx, flow, s.now()); err != nil {
				observability.Logger().Warn("scheduler: catch-up run", "flow", flow, "error", err)
			}
		}
	}()

	observability.Logger().Info("scheduler started")
}

// Stop halts new runs and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.cron.Stop().Done()
}

func (s *Scheduler) loadSchedules() {
	log := observability.Logger()
	users, err := s.db.ListActiveUsers()
	if err != nil {
		log.Error("scheduler: loading users", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Remove all existing entries and re-register.
	for _, id := range s.entryIDs {
		s.cron.Remove(id)
	}
	s.entryIDs = s.entryIDs[:0]

	cleanupSpec := "CRON_TZ=" + s.cfg.Location.String() + " 0 0 * * *"
	if id, err := s.cron.AddFunc(cleanupSpec, func() { s.runCleanup(context.Background(), s.now()) }); err != nil {
		log.Error("scheduler: registering cleanup", "spec", cleanupSpec, "error", err)
	} else {
		s.entryIDs = append(s.entryIDs, id)
	}

	for _, u := range users {
		u := u
		if !reachable(u) {
			continue
		}
		for _, flow := range []string{FlowMorning, FlowEvening} {
			flow := flow
			spec := s.cronSpec(u, flow)
			id, err := s.cron.AddFunc(spec, func() {
				if err := s.runFlow(context.Background(), u, flow, s.now()); err != nil {
					log.Warn(fmt.Sprintf("scheduler[%s]: run failed", flow), "user", u.ID, "error", err)
				}
			})
			if err != nil {
				log.Error(fmt.Sprintf("scheduler[%s]: invalid schedule", flow), "user", u.ID, "spec", spec, "error", err)
				continue
			}
			s.entryIDs = append(s.entryIDs, id)
		}
	}

	log.Info("scheduler: loaded schedules", "users", len(users), "entries", len(s.entryIDs))
}

// reachable reports whether scheduled prompts can be delivered to u.
// Terminal chat users have no channel.
func reachable(u db.User) bool {
	return !strings.HasPrefix(u.ID, notify.LocalPrefix)
}

// cronSpec returns a daily spec at the user's local time for flow.
func (s *Scheduler) cronSpec(u db.User, flow string) string {
	at := s.userClock(u, flow)
	return fmt.Sprintf("CRON_TZ=%s %d %d * * *", u.Location(s.cfg.Location), int(at)%60, int(at)/60)
}

func (s *Scheduler) userClock(u db.User, flow string) plan.Clock {
	raw, fallback := u.MorningTime, s.cfg.Morning
	if flow == FlowEvening {
		raw, fallback = u.EveningTime, s.cfg.Evening
	}
	c, err := plan.ParseClock(raw)
	if err != nil || c >= plan.EndOfDay {
		return fallback
	}
	return c
}

// RunDue runs flow for every active user whose send window for today is
// open at now. Each user gets its own goroutine so one user's retries
// never hold up another's first attempt.
func (s *Scheduler) RunDue(ctx context.Context, flow string, now time.Time) error {
	if _, err := MessageType(flow); err != nil {
		return err
	}
	users, err := s.db.ListActiveUsers()
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}

	var g errgroup.Group
	for _, u := range users {
		u := u
		if !reachable(u) {
			continue
		}
		local := now.In(u.Location(s.cfg.Location))
		fireAt := s.userClock(u, flow).On(local)
		if local.Before(fireAt) || !local.Before(fireAt.Add(s.cfg.SendWindow)) {
			continue
		}
		g.Go(func() error {
			return s.runFlow(ctx, u, flow, fireAt)
		})
	}
	return g.Wait()
}

// runFlow sends one scheduled prompt. firedAt is when the prompt was due;
// retries stop once the send window after it has closed.
func (s *Scheduler) runFlow(ctx context.Context, u db.User, flow string, firedAt time.Time) error {
	log := observability.Logger().With("user", u.ID, "flow", flow)
	mt, err := MessageType(flow)
	if err != nil {
		return err
	}
	day := plan.DayStamp(firedAt.In(u.Location(s.cfg.Location)))

	claimed, err := s.db.ClaimPromptRun(u.ID, flow, day)
	if err != nil {
		return fmt.Errorf("claiming run: %w", err)
	}
	if !claimed {
		log.Debug(fmt.Sprintf("scheduler[%s]: already sent today", flow))
		s.metrics.Delivery("skipped")
		return nil
	}

	reply, err := s.agent.Trigger(ctx, u.ID, mt)
	if err != nil {
		s.finish(u.ID, flow, day, db.RunFailed, 0)
		return fmt.Errorf("triggering %s: %w", flow, err)
	}

	attempts, err := notify.SendWithRetry(ctx, s.sender, u.ID, reply.Text, notify.RetryPolicy{
		Attempts: s.cfg.Attempts,
		Backoff:  s.cfg.Backoff,
		Deadline: firedAt.Add(s.cfg.SendWindow),
		Now:      s.now,
	})
	if err != nil {
		s.finish(u.ID, flow, day, db.RunFailed, attempts)
		s.metrics.Delivery("failed")
		s.events.Log(eventlog.Event{
			Level:     eventlog.LevelError,
			Type:      eventlog.TypeDelivery,
			User:      u.ID,
			Message:   flow + " prompt not delivered",
			Component: "scheduler",
			Status:    "failed",
			ErrorType: "delivery",
			Extra:     map[string]any{"attempts": attempts},
		})
		return fmt.Errorf("delivering %s: %w", flow, err)
	}

	s.finish(u.ID, flow, day, db.RunSent, attempts)
	s.metrics.Delivery("sent")
	s.events.Log(eventlog.Event{
		Type:      eventlog.TypeDelivery,
		User:      u.ID,
		Message:   reply.Text,
		Component: "scheduler",
		Extra:     map[string]any{"flow": flow, "attempts": attempts},
	})
	log.Info(fmt.Sprintf("scheduler[%s]: completed", flow), "attempts", attempts)
	return nil
}

func (s *Scheduler) finish(userID, flow, day, status string, attempts int) {
	if err := s.db.FinishPromptRun(userID, flow, day, status, attempts); err != nil {
		observability.Logger().Error("scheduler: recording run", "user", userID, "flow", flow, "error", err)
	}
}

// RunCleanup removes stale contexts and run records. It is what the
// midnight job runs.
func (s *Scheduler) RunCleanup(ctx context.Context, now time.Time) (int64, error) {
	return s.runCleanup(ctx, now)
}

func (s *Scheduler) runCleanup(ctx context.Context, now time.Time) (int64, error) {
	log := observability.Logger()
	local := now.In(s.cfg.Location)

	removed, err := s.contexts.CleanupContexts(ctx, s.cfg.CleanupDays, local)
	if err != nil {
		s.metrics.StoreError("cleanup")
		log.Error("scheduler[cleanup]: contexts", "error", err)
		return 0, err
	}
	if purged, err := s.db.PurgeExpiredContexts(ctx, local); err != nil {
		log.Error("scheduler[cleanup]: expired contexts", "error", err)
	} else {
		removed += purged
	}
	cutoff := plan.DayStamp(plan.StartOfDay(local).AddDate(0, 0, -s.cfg.CleanupDays))
	if _, err := s.db.PrunePromptRuns(cutoff); err != nil {
		log.Error("scheduler[cleanup]: prompt runs", "error", err)
	}
	log.Info("scheduler[cleanup]: completed", "removed", removed, "older_than_days", s.cfg.CleanupDays)
	return removed, nil
}
