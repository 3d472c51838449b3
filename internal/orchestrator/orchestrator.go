// Package orchestrator runs the per-image pipeline and dispatches inbound
// events to it, one goroutine per event.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Akshay-Anand-Code/chart-analyzer/internal/domain"
	"github.com/Akshay-Anand-Code/chart-analyzer/internal/metrics"
	"github.com/google/uuid"
)

// State is a step of one orchestration run.
type State string

const (
	StateReceived        State = "received"
	StatePlaceholderSent State = "placeholder_sent"
	StateResolving       State = "resolving"
	StateDownloading     State = "downloading"
	StateAnalyzing       State = "analyzing"
	StateDelivering      State = "delivering"
	StateDone            State = "done"
	StateErrorCleanup    State = "error_cleanup"
)

// Outcome summarizes a finished run.
type Outcome struct {
	RunID string
	State State // StateDone or StateErrorCleanup
	Kind  domain.Kind
	Err   error
}

// Orchestrator owns no per-request state; every run keeps its placeholder
// and image on its own stack. The transport, fetcher and analyzer are
// shared by all runs.
type Orchestrator struct {
	transport domain.Transport
	fetcher   domain.Fetcher
	analyzer  domain.Analyzer
	policy    domain.RetryPolicy
	observer  func(runID string, s State)
	logger    *slog.Logger

	wg sync.WaitGroup
}

type Config struct {
	Transport domain.Transport
	Fetcher   domain.Fetcher
	Analyzer  domain.Analyzer
	Policy    domain.RetryPolicy
	// Observer, when set, is called on every state transition.
	Observer func(runID string, s State)
	Logger   *slog.Logger
}

func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		transport: cfg.Transport,
		fetcher:   cfg.Fetcher,
		analyzer:  cfg.Analyzer,
		policy:    cfg.Policy,
		observer:  cfg.Observer,
		logger:    cfg.Logger,
	}
}

// Serve dispatches events until the channel is closed or ctx is done. Runs
// it starts are detached from ctx and keep going after Serve returns; use
// Wait to drain them.
func (o *Orchestrator) Serve(ctx context.Context, events <-chan domain.InboundEvent) error {
	o.logger.Info("dispatch loop started")
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("dispatch loop stopped")
			return nil
		case ev, ok := <-events:
			if !ok {
				o.logger.Info("event queue closed, dispatch loop stopped")
				return nil
			}
			o.Dispatch(ctx, ev)
		}
	}
}

// Dispatch starts handling one event without blocking on it.
func (o *Orchestrator) Dispatch(ctx context.Context, ev domain.InboundEvent) {
	runCtx := context.WithoutCancel(ctx)

	switch e := ev.(type) {
	case domain.PhotoEvent:
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.HandlePhoto(runCtx, e)
		}()
	case domain.CommandEvent:
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.HandleCommand(runCtx, e)
		}()
	case domain.ConnectivityIssueEvent:
		metrics.ConnectivityIssues.Inc()
		o.logger.Warn("Connection issue detected, will retry automatically...", "detail", e.Detail)
	default:
		o.logger.Debug("ignoring event", "type", fmt.Sprintf("%T", ev))
	}
}

// Wait blocks until every dispatched run has finished or timeout elapses.
// It reports whether all runs finished.
func (o *Orchestrator) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// HandleCommand answers /start and /help. Other commands are ignored.
func (o *Orchestrator) HandleCommand(ctx context.Context, ev domain.CommandEvent) {
	var text string
	switch ev.Name {
	case "start":
		text = WelcomeText
	case "help":
		text = HelpText
	default:
		return
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic handling command", "command", ev.Name, "panic", r)
		}
	}()

	metrics.CommandsTotal.WithLabelValues(ev.Name).Inc()
	if err := o.transport.SendText(ctx, ev.ChatID, text); err != nil {
		o.logger.Warn("command reply failed", "command", ev.Name, "chat_id", ev.ChatID, "error", err)
	}
}

// run is the state of one orchestration run. It never escapes the goroutine
// that created it.
type run struct {
	id           string
	chatID       int64
	placeholder  *domain.Placeholder
	terminalSent bool
	state        State
	logger       *slog.Logger
}

// HandlePhoto runs the full pipeline for one photo event. It always ends
// with either the analysis or one failure message in the chat.
func (o *Orchestrator) HandlePhoto(ctx context.Context, ev domain.PhotoEvent) (out Outcome) {
	r := &run{id: newRunID(), chatID: ev.ChatID}
	r.logger = o.logger.With("run_id", r.id, "chat_id", ev.ChatID)
	start := time.Now()

	metrics.InFlightRuns.Inc()
	defer metrics.InFlightRuns.Dec()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic in run", "state", r.state, "panic", rec, "stack", string(debug.Stack()))
			err := fmt.Errorf("panic in state %s: %v", r.state, rec)
			if !r.terminalSent {
				o.cleanup(ctx, r, err)
			}
			out = Outcome{RunID: r.id, State: StateErrorCleanup, Kind: domain.KindUnknown, Err: err}
		}
		metrics.RunsTotal.WithLabelValues(outcomeLabel(out), string(out.Kind)).Inc()
		metrics.StageLatency.WithLabelValues("total").Observe(time.Since(start).Seconds())
	}()

	o.enter(r, StateReceived)
	r.logger.Info("photo received", "variants", len(ev.Variants), "user", ev.DisplayName)

	o.enter(r, StatePlaceholderSent)
	if p, err := o.transport.SendPlaceholder(ctx, ev.ChatID, PlaceholderText); err != nil {
		r.logger.Warn("placeholder not sent, continuing without it", "error", err)
	} else {
		r.placeholder = &p
	}

	text, err := o.process(ctx, r, ev)
	if err != nil {
		o.cleanup(ctx, r, err)
		return Outcome{RunID: r.id, State: StateErrorCleanup, Kind: domain.KindOf(err), Err: err}
	}

	o.enter(r, StateDelivering)
	o.deletePlaceholder(ctx, r)
	r.terminalSent = true
	if err := o.transport.SendResult(ctx, ev.ChatID, text); err != nil {
		r.logger.Error("result delivery failed", "error", err)
		o.enter(r, StateDone)
		return Outcome{RunID: r.id, State: StateDone, Kind: domain.KindOf(err), Err: err}
	}

	o.enter(r, StateDone)
	r.logger.Info("analysis delivered", "duration", time.Since(start))
	return Outcome{RunID: r.id, State: StateDone}
}

// process runs resolve, download and analyze, returning the text to deliver.
func (o *Orchestrator) process(ctx context.Context, r *run, ev domain.PhotoEvent) (string, error) {
	o.enter(r, StateResolving)
	best, ok := ev.Best()
	if !ok {
		return "", &domain.ResolutionError{Err: errors.New("message has no photo variants")}
	}
	url, err := timed("resolve", func() (string, error) {
		return o.transport.ResolveFileURL(ctx, best)
	})
	if err != nil {
		return "", err
	}

	o.enter(r, StateDownloading)
	image, err := timed("download", func() ([]byte, error) {
		return o.fetcher.Download(ctx, url, o.policy)
	})
	if err != nil {
		return "", err
	}
	r.logger.Debug("image downloaded", "bytes", len(image))

	o.enter(r, StateAnalyzing)
	return timed("analyze", func() (string, error) {
		return o.analyzer.Analyze(ctx, domain.AnalysisRequest{
			ChatID:      ev.ChatID,
			DisplayName: ev.DisplayName,
			Image:       image,
		})
	})
}

// cleanup deletes the placeholder and sends exactly one failure message.
func (o *Orchestrator) cleanup(ctx context.Context, r *run, cause error) {
	o.enter(r, StateErrorCleanup)
	r.logger.Error("Error processing image", "kind", domain.KindOf(cause), "error", cause)

	o.deletePlaceholder(ctx, r)
	r.terminalSent = true
	if err := o.transport.SendText(ctx, r.chatID, UserMessage(cause)); err != nil {
		r.logger.Error("failure message not delivered", "error", err)
	}
}

func (o *Orchestrator) deletePlaceholder(ctx context.Context, r *run) {
	if r.placeholder == nil {
		return
	}
	p := *r.placeholder
	r.placeholder = nil
	o.transport.DeletePlaceholder(ctx, p)
}

func (o *Orchestrator) enter(r *run, s State) {
	r.state = s
	r.logger.Debug("state", "state", s)
	if o.observer != nil {
		o.observer(r.id, s)
	}
}

func timed[T any](stage string, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := fn()
	metrics.StageLatency.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	return v, err
}

func outcomeLabel(o Outcome) string {
	if o.State == StateDone && o.Err == nil {
		return metrics.OutcomeDelivered
	}
	return metrics.OutcomeFailed
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
