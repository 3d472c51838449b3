package domain

import "context"

// Transport is the chat platform as seen by the orchestrator. Every call is
// visible to the end user, so callers must respect ordering: placeholder
// first, deletion before the final message.
type Transport interface {
	// SendText sends a plain-text message.
	SendText(ctx context.Context, chatID int64, text string) error
	// SendPlaceholder sends the transient "working" message and returns its identity.
	SendPlaceholder(ctx context.Context, chatID int64, text string) (Placeholder, error)
	// SendResult sends rich-formatted text with link previews disabled.
	SendResult(ctx context.Context, chatID int64, text string) error
	// DeletePlaceholder removes a placeholder. Failures are logged and swallowed.
	DeletePlaceholder(ctx context.Context, p Placeholder)
	// ResolveFileURL returns a download URL for a photo variant, or a *ResolutionError.
	ResolveFileURL(ctx context.Context, photo PhotoVariant) (string, error)
}

// EventSink accepts inbound events from a transport's poll loop. Publish
// reports false when the event was dropped.
type EventSink interface {
	Publish(ev InboundEvent) bool
}

// Prober reports liveness of an external dependency.
type Prober interface {
	Probe(ctx context.Context) error
}
