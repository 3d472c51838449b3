package domain

import "time"

// InboundEvent is one item of the transport's event stream. The concrete
// types are CommandEvent, PhotoEvent and ConnectivityIssueEvent.
type InboundEvent interface {
	isInboundEvent()
}

// CommandEvent is a bot command such as /start. Name has no leading slash.
type CommandEvent struct {
	ChatID int64
	UserID int64
	Name   string
}

// PhotoVariant describes one resolution of a submitted photo.
type PhotoVariant struct {
	FileID       string
	FileUniqueID string
	Width        int
	Height       int
	FileSize     int
}

// PhotoEvent is a chat message carrying photo attachments. Variants are
// ordered by increasing resolution, as the platform delivers them.
type PhotoEvent struct {
	ChatID      int64
	UserID      int64
	MessageID   int
	DisplayName string
	Variants    []PhotoVariant
	ReceivedAt  time.Time
}

// Best returns the highest-resolution variant (the last one).
func (e PhotoEvent) Best() (PhotoVariant, bool) {
	if len(e.Variants) == 0 {
		return PhotoVariant{}, false
	}
	return e.Variants[len(e.Variants)-1], true
}

// ConnectivityIssueEvent reports a failed poll. The transport reconnects on
// its own; consumers only log it.
type ConnectivityIssueEvent struct {
	Detail string
	At     time.Time
}

func (CommandEvent) isInboundEvent()           {}
func (PhotoEvent) isInboundEvent()             {}
func (ConnectivityIssueEvent) isInboundEvent() {}

// Placeholder identifies the transient "analyzing" message of one request.
type Placeholder struct {
	ChatID    int64
	MessageID int
}

// AnalysisRequest is the per-run input to the analyzer. It lives only on the
// stack of one orchestration run. ChatID is zero outside the bot.
type AnalysisRequest struct {
	ChatID      int64
	DisplayName string
	Image       []byte
}
