package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chris/anchor/config"
	"github.com/chris/anchor/internal/agent"
	"github.com/chris/anchor/internal/db"
	"github.com/chris/anchor/internal/eventlog"
	"github.com/chris/anchor/internal/llm"
	"github.com/chris/anchor/internal/metrics"
	"github.com/chris/anchor/internal/observability"
	"github.com/chris/anchor/internal/store"
)

var (
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:          "anchor",
		Short:        "Daily planning assistant over SMS and Discord",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			cfg = c
			observability.Setup(os.Stderr, cfg.LogLevel)
			return nil
		},
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("db", "./anchor.db", "path to the sqlite database")
	flags.String("log-dir", "logs", "directory for per-user event logs")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	for key, flag := range map[string]string{
		config.KeyDatabasePath: "db",
		config.KeyLogDir:       "log-dir",
		config.KeyLogLevel:     "log-level",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(serveCmd(), chatCmd(), cleanupCmd(), logsCmd(), serviceCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds what every command that talks to the agent needs.
type app struct {
	db       *db.DB
	contexts store.ContextStore
	redis    *store.Redis
	agent    *agent.Agent
	metrics  *metrics.Metrics
	events   *eventlog.Logger
}

func newApp() (*app, error) {
	database, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	contexts, err := store.Open(cfg.ContextBackend, database, cfg.RedisURL)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("opening context store: %w", err)
	}

	client, err := llm.NewClient(llm.ProviderConfig{
		Provider:  cfg.LLMProvider,
		APIKey:    cfg.APIKey(),
		AuthToken: cfg.AnthropicToken,
		Model:     cfg.LLMModel,
		BaseURL:   cfg.OllamaBaseURL,
	})
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("creating LLM client: %w", err)
	}

	a := &app{
		db:       database,
		contexts: contexts,
		metrics:  metrics.New(),
		events:   eventlog.New(cfg.LogDir),
	}
	if r, ok := contexts.(*store.Redis); ok {
		a.redis = r
	}
	a.agent = agent.New(database, contexts, client, agent.Options{
		Defaults: db.UserDefaults{
			Timezone:    cfg.DefaultTimezone,
			MorningTime: cfg.MorningTime,
			EveningTime: cfg.EveningTime,
		},
		Window:  cfg.Window(),
		Metrics: a.metrics,
		Events:  a.events,
	})
	return a, nil
}

// health reports whether both stores answer.
func (a *app) health(ctx context.Context) error {
	if err := a.db.Ping(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	a.db.Close()
}
