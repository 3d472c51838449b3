// Package supervisor keeps the process honest: it probes transport liveness
// on a ticker and turns an unexpected failure of a critical loop into a
// delayed exit with status 1.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Akshay-Anand-Code/chart-analyzer/internal/domain"
	"github.com/Akshay-Anand-Code/chart-analyzer/internal/metrics"
)

const (
	defaultProbeInterval = 30 * time.Second
	defaultFlushDelay    = time.Second
)

type Config struct {
	Prober        domain.Prober
	ProbeInterval time.Duration
	// FlushDelay is the pause between a fatal failure and process exit so
	// that logs can be written.
	FlushDelay time.Duration
	// Exit terminates the process. Defaults to os.Exit.
	Exit   func(code int)
	Logger *slog.Logger
}

type Supervisor struct {
	prober        domain.Prober
	probeInterval time.Duration
	flushDelay    time.Duration
	exit          func(int)
	logger        *slog.Logger

	once  sync.Once
	fatal chan struct{}
}

func New(cfg Config) *Supervisor {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = defaultProbeInterval
	}
	if cfg.FlushDelay <= 0 {
		cfg.FlushDelay = defaultFlushDelay
	}
	if cfg.Exit == nil {
		cfg.Exit = os.Exit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Supervisor{
		prober:        cfg.Prober,
		probeInterval: cfg.ProbeInterval,
		flushDelay:    cfg.FlushDelay,
		exit:          cfg.Exit,
		logger:        cfg.Logger,
		fatal:         make(chan struct{}),
	}
}

// RunProbe checks liveness every probe interval until ctx is done. Failures
// are logged and counted, never escalated.
func (s *Supervisor) RunProbe(ctx context.Context) error {
	if s.prober == nil {
		return nil
	}
	s.logger.Info("health probe started", "interval", s.probeInterval)

	ticker := time.NewTicker(s.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("health probe stopped")
			return nil
		case <-ticker.C:
			s.probe(ctx)
		}
	}
}

func (s *Supervisor) probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.probeInterval)
	defer cancel()

	if err := s.prober.Probe(ctx); err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return
		}
		metrics.ProbeFailures.Inc()
		s.logger.Warn("Bot connection check failed", "error", err)
		return
	}
	s.logger.Debug("Bot connection healthy")
}

// Go runs fn in a goroutine. A panic, or an error other than context
// cancellation, is fatal.
func (s *Supervisor) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("uncaught panic", "loop", name, "panic", r, "stack", string(debug.Stack()))
				s.Fatal(name, fmt.Errorf("panic: %v", r))
			}
		}()

		err := fn(ctx)
		switch {
		case err == nil:
			s.logger.Debug("loop exited", "loop", name)
		case errors.Is(err, context.Canceled) && ctx.Err() != nil:
			s.logger.Debug("loop cancelled", "loop", name)
		default:
			s.Fatal(name, err)
		}
	}()
}

// Fatal logs err and schedules process exit with status 1 after the flush
// delay. Only the first call has any effect.
func (s *Supervisor) Fatal(name string, err error) {
	s.once.Do(func() {
		s.logger.Error("fatal error, exiting", "loop", name, "error", err, "exit_in", s.flushDelay)
		close(s.fatal)
		go func() {
			time.Sleep(s.flushDelay)
			s.exit(1)
		}()
	})
}

// Done is closed once a fatal failure has been reported.
func (s *Supervisor) Done() <-chan struct{} {
	return s.fatal
}
