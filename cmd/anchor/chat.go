package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/chris/anchor/internal/agent"
	"github.com/chris/anchor/internal/db"
	"github.com/chris/anchor/internal/observability"
	"github.com/chris/anchor/internal/plan"
	"github.com/chris/anchor/internal/store"
)

const chatHelp = `Available commands:
  /help             Show this help message
  /clear            Clear today's context
  /context          Show today's context
  /time             Show the current time
  /type <kind>      Change message type (morning, replan, evening, adhoc)
  /trigger <flow>   Run a scheduled check-in now (morning, evening)
  /quit             Exit

Anything else is sent as a message, the same way an SMS would be.`

var chatTypes = map[string]plan.MessageType{
	"morning": plan.MorningPlanning,
	"replan":  plan.Replanning,
	"evening": plan.Reflection,
	"adhoc":   plan.AdHoc,
}

func chatCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant from the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Keep the REPL readable unless debugging.
			if observability.ParseLevel(cfg.LogLevel) != slog.LevelDebug {
				observability.Setup(os.Stderr, "warn")
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			s := &chatSession{
				agent:       a.agent,
				db:          a.db,
				contexts:    a.contexts,
				user:        user,
				fallback:    cfg.Location(),
				now:         time.Now,
				out:         cmd.OutOrStdout(),
				interactive: isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()),
			}
			return s.run(cmd.Context(), os.Stdin)
		},
	}
	cmd.Flags().StringVar(&user, "user", "cli:local", "user id to chat as")
	return cmd
}

type chatAgent interface {
	HandleMessage(ctx context.Context, in agent.Inbound) agent.Reply
	Trigger(ctx context.Context, userID string, flow plan.MessageType) (agent.Reply, error)
}

type chatSession struct {
	agent       chatAgent
	db          *db.DB
	contexts    store.ContextStore
	user        string
	fallback    *time.Location
	now         func() time.Time
	out         io.Writer
	interactive bool
}

func (s *chatSession) run(ctx context.Context, in io.Reader) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.interactive {
		fmt.Fprintln(s.out, "Anchor planning chat. Type /help for commands.")
	}
	scanner := bufio.NewScanner(in)
	s.prompt()
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		switch {
		case input == "":
		case strings.HasPrefix(input, "/"):
			if quit := s.command(ctx, input); quit {
				return nil
			}
		default:
			reply := s.agent.HandleMessage(ctx, agent.Inbound{UserID: s.user, Body: input, ReceivedAt: s.now()})
			s.printReply(reply)
		}
		s.prompt()
	}
	return scanner.Err()
}

func (s *chatSession) prompt() {
	if s.interactive {
		fmt.Fprint(s.out, "you> ")
	}
}

func (s *chatSession) printReply(r agent.Reply) {
	fmt.Fprintf(s.out, "anchor [%s]> %s\n", r.MessageType, r.Text)
	if r.Degraded {
		fmt.Fprintln(s.out, "  (context store unavailable, nothing was saved)")
	}
}

// command handles a slash command and reports whether to exit.
func (s *chatSession) command(ctx context.Context, input string) bool {
	fields := strings.Fields(strings.ToLower(input[1:]))
	if len(fields) == 0 {
		fmt.Fprintln(s.out, chatHelp)
		return false
	}
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch fields[0] {
	case "help":
		fmt.Fprintln(s.out, chatHelp)
	case "quit", "exit":
		fmt.Fprintln(s.out, "Goodbye!")
		return true
	case "time":
		fmt.Fprintf(s.out, "Current time: %s\n", s.localNow().Format("Mon 03:04 PM MST"))
	case "context":
		s.printContext(ctx)
	case "clear":
		now := s.localNow()
		if err := s.contexts.PutContext(ctx, s.user, now, &plan.DailyContext{MessageType: plan.AdHoc, LastInteraction: now}); err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
			return false
		}
		fmt.Fprintln(s.out, "Context cleared.")
	case "type":
		mt, ok := chatTypes[arg]
		if !ok {
			fmt.Fprintf(s.out, "Unknown type %q. Available types: morning, replan, evening, adhoc\n", arg)
			return false
		}
		s.setType(ctx, mt)
	case "trigger":
		var flow plan.MessageType
		switch arg {
		case "morning":
			flow = plan.MorningPlanning
		case "evening":
			flow = plan.Reflection
		default:
			fmt.Fprintf(s.out, "Unknown flow %q. Available flows: morning, evening\n", arg)
			return false
		}
		reply, err := s.agent.Trigger(ctx, s.user, flow)
		if err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
			return false
		}
		s.printReply(reply)
	default:
		fmt.Fprintf(s.out, "Unknown command: /%s\n%s\n", fields[0], chatHelp)
	}
	return false
}

func (s *chatSession) setType(ctx context.Context, mt plan.MessageType) {
	now := s.localNow()
	dc, err := s.contexts.GetContext(ctx, s.user, now)
	if err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
		return
	}
	if dc == nil {
		dc = &plan.DailyContext{}
	}
	dc.MessageType = mt
	dc.LastInteraction = now
	if err := s.contexts.PutContext(ctx, s.user, now, dc); err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "Changed message type to %s\n", mt)
}

func (s *chatSession) printContext(ctx context.Context) {
	dc, err := s.contexts.GetContext(ctx, s.user, s.localNow())
	if err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
		return
	}
	if dc == nil {
		fmt.Fprintln(s.out, "No context for today.")
		return
	}
	task := dc.CurrentTask
	if task == "" {
		task = "(not set)"
	}
	fmt.Fprintf(s.out, "Message type:     %s\n", dc.MessageType)
	fmt.Fprintf(s.out, "Current task:     %s\n", task)
	if dc.Timing != nil && dc.Timing.DurationMinutes != nil {
		fmt.Fprintf(s.out, "Duration:         %d minutes\n", *dc.Timing.DurationMinutes)
	}
	if dc.FocusBlock != nil {
		fmt.Fprintf(s.out, "Focus block:      %s\n", dc.FocusBlock)
	}
	if dc.CalendarLink != "" {
		fmt.Fprintf(s.out, "Calendar link:    %s\n", dc.CalendarLink)
	}
	if dc.Completion != nil {
		fmt.Fprintf(s.out, "Completed:        %t\n", dc.Completion.Completed)
	}
	if !dc.LastInteraction.IsZero() {
		fmt.Fprintf(s.out, "Last interaction: %s\n", humanize.RelTime(dc.LastInteraction, s.now(), "ago", "from now"))
	}
}

// localNow is the current time in the chat user's zone.
func (s *chatSession) localNow() time.Time {
	loc := s.fallback
	if s.db != nil {
		if u, err := s.db.GetUser(s.user); err == nil && u != nil {
			loc = u.Location(s.fallback)
		}
	}
	return s.now().In(loc)
}
