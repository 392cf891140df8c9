package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chris/anchor/config"
	"github.com/chris/anchor/internal/discord"
	"github.com/chris/anchor/internal/notify"
	"github.com/chris/anchor/internal/observability"
	"github.com/chris/anchor/internal/plan"
	"github.com/chris/anchor/internal/scheduler"
	"github.com/chris/anchor/internal/server"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the SMS webhook, the daily scheduler and the optional Discord bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	cmd.Flags().Int("port", 8080, "HTTP port for the webhook")
	if err := viper.BindPFlag(config.KeyPort, cmd.Flags().Lookup("port")); err != nil {
		panic(err)
	}
	return cmd
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	log := observability.Logger()

	router := &notify.Router{}
	if cfg.SMSEnabled() {
		router.SMS = notify.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioPhoneNumber)
	} else {
		log.Warn("serve: twilio not configured, SMS check-ins disabled")
	}
	if cfg.DiscordWebhook != "" {
		router.Webhook = notify.NewWebhookSender(cfg.DiscordWebhook)
	}

	if cfg.DiscordToken != "" {
		bot, err := discord.NewBot(cfg.DiscordToken, a.agent)
		if err != nil {
			return fmt.Errorf("starting Discord bot: %w", err)
		}
		defer bot.Close()
		router.Discord = bot.Sender()
	}

	sched := scheduler.New(a.db, a.contexts, a.agent, router, scheduler.Config{
		Location:    cfg.Location(),
		Morning:     plan.MustClock(cfg.MorningTime),
		Evening:     plan.MustClock(cfg.EveningTime),
		CleanupDays: cfg.CleanupDays,
		Attempts:    cfg.DeliveryAttempts,
		Backoff:     cfg.DeliveryBackoff,
		SendWindow:  cfg.SendWindow,
	}, a.metrics, a.events)
	sched.Start()
	defer sched.Stop()

	srv := server.New(a.agent, server.Config{
		TwilioAuthToken:   cfg.TwilioAuthToken,
		ValidateSignature: cfg.ValidateSignature,
		PublicURL:         cfg.PublicURL,
		RatePerMinute:     cfg.RatePerMinute,
	}, a.metrics, a.health)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(fmt.Sprintf(":%d", cfg.Port))
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down.")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
