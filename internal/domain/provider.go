package domain

import (
	"context"
	"time"
)

// Analyzer turns a chart image into analysis text. Errors are one of the
// pipeline error types; see KindOf.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (string, error)
}

// Fetcher downloads binary content according to a RetryPolicy.
type Fetcher interface {
	Download(ctx context.Context, url string, policy RetryPolicy) ([]byte, error)
}

// RetryPolicy is a plain configuration value shared by all attempts of one download.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Attempts returns MaxAttempts clamped to at least one.
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}
