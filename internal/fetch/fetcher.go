// Package fetch downloads binary content with bounded, fixed-delay retries.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Akshay-Anand-Code/chart-analyzer/internal/domain"
	"github.com/Akshay-Anand-Code/chart-analyzer/internal/httpclient"
	"github.com/Akshay-Anand-Code/chart-analyzer/internal/metrics"
)

const (
	DefaultAttemptTimeout = 15 * time.Second
	// DefaultMaxBytes matches the Bot API's file download limit.
	DefaultMaxBytes  = 20 << 20
	defaultUserAgent = "ANALYZE-AI-Bot/1.0"
)

// ErrBodyTooLarge is returned when a response exceeds the configured size.
// It is not retried.
var ErrBodyTooLarge = errors.New("response body too large")

// Clock supplies the retry wait. Tests substitute a fake.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Fetcher implements domain.Fetcher over HTTP. It holds no per-request
// state and may be shared by any number of concurrent downloads.
type Fetcher struct {
	client         *http.Client
	attemptTimeout time.Duration
	maxBytes       int64
	userAgent      string
	clock          Clock
	logger         *slog.Logger
}

type Config struct {
	Client         *http.Client // default: httpclient.Shared(0)
	AttemptTimeout time.Duration
	MaxBytes       int64 // default DefaultMaxBytes
	UserAgent      string
	Clock          Clock
	Logger         *slog.Logger
}

func New(cfg Config) *Fetcher {
	if cfg.Client == nil {
		cfg.Client = httpclient.Shared(0)
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Fetcher{
		client:         cfg.Client,
		attemptTimeout: cfg.AttemptTimeout,
		maxBytes:       cfg.MaxBytes,
		userAgent:      cfg.UserAgent,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
	}
}

// statusError is a non-2xx response.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d %s", e.code, http.StatusText(e.code))
}

// Download fetches url, making up to policy.MaxAttempts attempts spaced by
// policy.BaseDelay. It returns the body of the first successful attempt or
// a *domain.DownloadError describing the last failure.
func (f *Fetcher) Download(ctx context.Context, url string, policy domain.RetryPolicy) ([]byte, error) {
	attempts := policy.Attempts()
	var (
		lastErr     error
		lastStatus  int
		lastTimeout bool
	)

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, &domain.DownloadError{
					Attempts:   attempt - 1,
					LastStatus: lastStatus,
					Timeout:    lastTimeout,
					Err:        fmt.Errorf("retry wait interrupted: %w", ctx.Err()),
				}
			case <-f.clock.After(policy.BaseDelay):
			}
		}

		body, status, err := f.attempt(ctx, url)
		if err == nil {
			metrics.DownloadAttempts.WithLabelValues("ok").Inc()
			if attempt > 1 {
				f.logger.Info("download succeeded after retry", "attempt", attempt)
			}
			return body, nil
		}

		metrics.DownloadAttempts.WithLabelValues("error").Inc()
		lastErr, lastStatus, lastTimeout = err, status, isTimeout(err)
		f.logger.Warn("download attempt failed",
			"attempt", attempt,
			"max_attempts", attempts,
			"status", status,
			"timeout", lastTimeout,
			"error", err,
		)
		if errors.Is(err, ErrBodyTooLarge) {
			return nil, &domain.DownloadError{Attempts: attempt, LastStatus: status, Err: err}
		}
	}

	return nil, &domain.DownloadError{
		Attempts:   attempts,
		LastStatus: lastStatus,
		Timeout:    lastTimeout,
		Err:        lastErr,
	}
}

// attempt performs one bounded GET. status is zero when no response arrived.
func (f *Fetcher) attempt(ctx context.Context, url string) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, f.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, &statusError{code: resp.StatusCode}
	}

	if resp.ContentLength > f.maxBytes {
		return nil, resp.StatusCode, fmt.Errorf("%w: %d bytes, limit %d", ErrBodyTooLarge, resp.ContentLength, f.maxBytes)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("read body: %w", ctx.Err())
		}
		return nil, resp.StatusCode, err
	}
	if int64(len(body)) > f.maxBytes {
		return nil, resp.StatusCode, fmt.Errorf("%w: limit %d", ErrBodyTooLarge, f.maxBytes)
	}
	return body, resp.StatusCode, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
