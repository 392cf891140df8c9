package main

import (
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/chris/anchor/internal/db"
	"github.com/chris/anchor/internal/eventlog"
	"github.com/chris/anchor/internal/metrics"
	"github.com/chris/anchor/internal/scheduler"
	"github.com/chris/anchor/internal/store"
)

func cleanupCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete daily contexts older than --days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("days") {
				days = cfg.CleanupDays
			}
			if days < 0 {
				return fmt.Errorf("--days must not be negative, got %d", days)
			}

			database, err := db.Open(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer database.Close()
			contexts, err := store.Open(cfg.ContextBackend, database, cfg.RedisURL)
			if err != nil {
				return err
			}
			if r, ok := contexts.(*store.Redis); ok {
				defer r.Close()
			}

			sched := scheduler.New(database, contexts, nil, nil, scheduler.Config{
				Location:    cfg.Location(),
				CleanupDays: days,
			}, metrics.New(), eventlog.New(cfg.LogDir))
			removed, err := sched.RunCleanup(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s context record(s) older than %d day(s)\n", humanize.Comma(removed), days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "keep records from the last N days")
	return cmd
}

type logsFlags struct {
	level     string
	eventType string
	since     string
	component string
	status    string
	errorType string
	duration  string
	contains  string
	pattern   string
	raw       bool
}

func logsCmd() *cobra.Command {
	var f logsFlags
	cmd := &cobra.Command{
		Use:   "logs <user>",
		Short: "Show a user's event log",
		Example: `  anchor logs +15551234567 --since 2h
  anchor logs +15551234567 --type llm --duration ">5000"
  anchor logs discord:42 --level ERROR --contains timeout`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := f.filter(time.Now())
			if err != nil {
				return err
			}
			entries, err := eventlog.Query(cfg.LogDir, args[0], filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "no matching entries")
				return nil
			}
			for _, e := range entries {
				printEntry(out, e, f.raw, time.Now())
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.level, "level", "", "INFO, WARNING or ERROR")
	fl.StringVar(&f.eventType, "type", "", "event type (interaction, llm, error, system, delivery)")
	fl.StringVar(&f.since, "since", "", `only entries after this ("2h", "7d", "30m ago", 2006-01-02)`)
	fl.StringVar(&f.component, "component", "", "component name")
	fl.StringVar(&f.status, "status", "", "status (success, failed, ...)")
	fl.StringVar(&f.errorType, "error-type", "", "error type")
	fl.StringVar(&f.duration, "duration", "", `duration bound in ms (">5000" or "<200")`)
	fl.StringVar(&f.contains, "contains", "", "case-insensitive message substring")
	fl.StringVar(&f.pattern, "pattern", "", "regular expression matched against the message")
	fl.BoolVar(&f.raw, "raw", false, "print the raw JSON lines")
	return cmd
}

func (lf logsFlags) filter(now time.Time) (eventlog.Filter, error) {
	f := eventlog.Filter{
		Level:     lf.level,
		EventType: lf.eventType,
		Component: lf.component,
		Status:    lf.status,
		ErrorType: lf.errorType,
		Contains:  lf.contains,
	}
	if lf.since != "" {
		t, err := eventlog.ParseSince(lf.since, now)
		if err != nil {
			return f, err
		}
		f.Since = t
	}
	if lf.duration != "" {
		if err := f.ParseDuration(lf.duration); err != nil {
			return f, err
		}
	}
	if lf.pattern != "" {
		re, err := regexp.Compile(lf.pattern)
		if err != nil {
			return f, fmt.Errorf("invalid --pattern: %w", err)
		}
		f.Pattern = re
	}
	return f, nil
}

func printEntry(w io.Writer, e eventlog.Entry, raw bool, now time.Time) {
	if raw {
		fmt.Fprintln(w, e.Raw)
		return
	}
	line := fmt.Sprintf("%s (%s) %-7s %-11s [%s] %s",
		e.Timestamp.Local().Format("2006-01-02 15:04:05"),
		humanize.RelTime(e.Timestamp, now, "ago", "from now"),
		e.Level, e.EventType, e.Component, e.Message)
	if e.DurationMS > 0 {
		line += fmt.Sprintf(" (%dms)", e.DurationMS)
	}
	if e.Status != "" {
		line += " status=" + e.Status
	}
	if e.ErrorType != "" {
		line += " error_type=" + e.ErrorType
	}
	fmt.Fprintln(w, line)
}
