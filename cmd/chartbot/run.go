package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Akshay-Anand-Code/chart-analyzer/internal/analysis"
	"github.com/Akshay-Anand-Code/chart-analyzer/internal/bus"
	"github.com/Akshay-Anand-Code/chart-analyzer/internal/channel"
	"github.com/Akshay-Anand-Code/chart-analyzer/internal/config"
	"github.com/Akshay-Anand-Code/chart-analyzer/internal/fetch"
	"github.com/Akshay-Anand-Code/chart-analyzer/internal/orchestrator"
	"github.com/Akshay-Anand-Code/chart-analyzer/internal/supervisor"
	"github.com/Akshay-Anand-Code/chart-analyzer/internal/web"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bot (Telegram long polling, optional web server)",
		Long:  "Starts the Telegram poll loop, the dispatch loop, the health probe and, when enabled, the web server. Press Ctrl+C to stop.",
		RunE:  runBot,
	}
}

func newAnalyzer(cfg *config.Config) *analysis.Client {
	return analysis.New(analysis.Config{
		APIKey:  cfg.OpenAI.APIKey,
		APIBase: cfg.OpenAI.APIBase,
		Model:   cfg.OpenAI.Model,
		Timeout: cfg.OpenAI.Timeout,
		Logger:  logger,
	})
}

func newTelegram(cfg *config.Config) (*channel.Telegram, error) {
	return channel.NewTelegram(channel.TelegramConfig{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.Telegram.PollTimeout,
		RetryDelay:  cfg.Telegram.RetryDelay,
		APIEndpoint: cfg.Telegram.APIEndpoint,
		Logger:      logger,
	})
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := config.RequireCredentials(cfg, true, true); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tg, err := newTelegram(cfg)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	analyzer := newAnalyzer(cfg)
	fetcher := fetch.New(fetch.Config{
		AttemptTimeout: cfg.Fetch.AttemptTimeout,
		MaxBytes:       cfg.Fetch.MaxBytes,
		UserAgent:      cfg.Fetch.UserAgent,
		Logger:         logger,
	})

	// Event queue between the poll loop and dispatch (closed during shutdown below)
	queue := bus.New(bus.Config{Logger: logger})

	orch := orchestrator.New(orchestrator.Config{
		Transport: tg,
		Fetcher:   fetcher,
		Analyzer:  analyzer,
		Policy:    cfg.RetryPolicy(),
		Logger:    logger,
	})

	sup := supervisor.New(supervisor.Config{
		Prober:        tg,
		ProbeInterval: cfg.Supervisor.ProbeInterval,
		FlushDelay:    cfg.Supervisor.FlushDelay,
		Logger:        logger,
	})

	sup.Go(ctx, "poller", func(ctx context.Context) error { return tg.Run(ctx, queue) })
	dispatchDone := make(chan struct{})
	sup.Go(ctx, "dispatch", func(ctx context.Context) error {
		defer close(dispatchDone)
		return dispatch(ctx, orch, queue)
	})
	sup.Go(ctx, "probe", sup.RunProbe)

	if cfg.Web.Enabled {
		srv := web.New(web.Config{
			Addr:           cfg.Web.Addr,
			MaxUploadBytes: cfg.Web.MaxUploadBytes,
			Analyzer:       analyzer,
			Registerer:     prometheus.DefaultRegisterer,
			Gatherer:       prometheus.DefaultGatherer,
			Version:        version,
			Logger:         logger,
		})
		sup.Go(ctx, "web", srv.Run)
	} else {
		logger.Info("web server disabled")
	}

	logger.Info("Bot is running...", "model", analyzer.Model(), "version", version)

	select {
	case <-ctx.Done():
	case <-sup.Done():
		// the supervisor exits the process after its flush delay
		<-ctx.Done()
	}
	logger.Info("shutting down...")

	shutdown(queue, orch, dispatchDone, cfg.Supervisor.ShutdownGrace)
	return nil
}

// dispatch feeds queued events to the orchestrator until the queue is closed.
// It ignores cancellation of ctx so that events queued before shutdown are
// still handled.
func dispatch(ctx context.Context, orch *orchestrator.Orchestrator, queue *bus.Queue) error {
	return orch.Serve(context.WithoutCancel(ctx), queue.Subscribe())
}

// shutdown closes the queue, waits for dispatch to drain it, then gives
// in-flight runs up to grace to finish. It reports whether they all did.
func shutdown(queue *bus.Queue, orch *orchestrator.Orchestrator, dispatchDone <-chan struct{}, grace time.Duration) bool {
	logger.Info("closing event queue", "pending", queue.Len())
	queue.Close()
	<-dispatchDone

	if !orch.Wait(grace) {
		logger.Warn("shutdown grace elapsed with runs still in flight", "grace", grace)
		return false
	}
	logger.Info("shutdown complete")
	return true
}
