package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/elie-eliseai/callzilla/internal/api"
	"github.com/elie-eliseai/callzilla/internal/classify"
	"github.com/elie-eliseai/callzilla/internal/config"
	"github.com/elie-eliseai/callzilla/internal/disclaimer"
	"github.com/elie-eliseai/callzilla/internal/driver"
	"github.com/elie-eliseai/callzilla/internal/queue"
	"github.com/elie-eliseai/callzilla/internal/results"
	"github.com/elie-eliseai/callzilla/internal/session"
	slackalert "github.com/elie-eliseai/callzilla/internal/slack"
	"github.com/elie-eliseai/callzilla/internal/store"
	"github.com/elie-eliseai/callzilla/internal/transcribe"
	"github.com/elie-eliseai/callzilla/internal/twilio"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("callzilla starting",
		"port", cfg.Port,
		"nats_url", cfg.NatsURL,
		"max_tree_depth", cfg.MaxTreeDepth,
		"max_human_retries", cfg.MaxHumanRetries,
		"max_concurrent_sessions", cfg.MaxConcurrentSessions,
	)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: Connect to Postgres.
	db, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		slog.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}
	slog.Info("database connected")

	// Step 2: Start the buffered results writer.
	writer := results.New(db, results.Config{
		FlushInterval:  cfg.ResultFlushInterval,
		FlushThreshold: cfg.ResultFlushThreshold,
		BufferMax:      cfg.ResultBufferMax,
	})
	writer.Start(ctx)

	// Step 3: Build the call pipeline.
	twilioClient, err := twilio.New(twilio.Config{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
	})
	if err != nil {
		slog.Error("failed to create telephony client", "error", err)
		os.Exit(1)
	}

	callDriver := driver.New(twilioClient, driver.Config{
		CallWaitTimeout: cfg.CallWaitTimeout,
	}, slog.Default())

	stt := transcribe.New(cfg.OpenAIAPIKey, cfg.TranscribeTimeout)
	classifier := classify.New(cfg.OpenAIAPIKey)
	matcher := disclaimer.NewMatcher(cfg.TargetDisclaimer)

	// Conditionally create the Slack alerter.
	var notifier session.Notifier
	var alerter *slackalert.Alerter
	if cfg.SlackBotToken != "" && cfg.SlackAlertChannel != "" {
		alerter = slackalert.NewAlerter(cfg.SlackBotToken, cfg.SlackAlertChannel)
		notifier = &slackalert.SessionNotifier{Alerter: alerter}
		slog.Info("Slack alerter enabled", "channel", cfg.SlackAlertChannel)
	}

	runner := session.NewRunner(callDriver, stt, classifier, matcher, writer, notifier, session.Config{
		FromNumber:      cfg.TwilioPhoneNumber,
		ProbeMessage:    cfg.ProbeMessage,
		MaxTreeDepth:    cfg.MaxTreeDepth,
		MaxHumanRetries: cfg.MaxHumanRetries,
		TreeStepDelay:   cfg.TreeStepDelay,
		HumanRetryDelay: cfg.HumanRetryDelay,
	}, slog.Default())

	// Step 4: Connect to NATS and start consuming dial jobs.
	consumer, err := queue.New(cfg.NatsURL, runner, db, cfg.MaxConcurrentSessions)
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	// Writer failures go to NATS, and to Slack when configured.
	writer.SetAlertPublisher(func(subject string, data []byte) error {
		if alerter != nil {
			if err := alerter.PostWriteFailureAlert(ctx, subject, data); err != nil {
				slog.Warn("failed to post writer alert to Slack", "error", err)
			}
		}
		return consumer.Publish(subject, data)
	})

	if err := consumer.Start(); err != nil {
		slog.Error("failed to start dial job consumer", "error", err)
		os.Exit(1)
	}
	slog.Info("dial job consumer started")

	// Step 5: Start HTTP API.
	srv := api.NewServer(db, writer, cfg.Port)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("callzilla ready", "port", cfg.Port)

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	slog.Info("shutting down", "signal", sig)
	cancel()
	writer.Wait()
	slog.Info("callzilla stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
