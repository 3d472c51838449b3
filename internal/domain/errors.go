package domain

import (
	"errors"
	"fmt"
)

// ErrMissingCredential is returned by config validation when a required secret is absent.
var ErrMissingCredential = errors.New("missing credential")

// Kind classifies a pipeline failure. It decides which single message the
// user sees.
type Kind string

const (
	KindNone            Kind = ""
	KindResolution      Kind = "resolution"
	KindDownload        Kind = "download"
	KindInvalidImage    Kind = "invalid_image"
	KindInvalidResponse Kind = "invalid_response"
	KindProvider        Kind = "provider"
	KindDelivery        Kind = "delivery"
	KindUnknown         Kind = "unknown"
)

// ResolutionError means the chat platform could not locate the submitted file.
type ResolutionError struct {
	FileID string
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolve file %s: %v", e.FileID, e.Err)
	}
	return fmt.Sprintf("resolve file %s: no file path", e.FileID)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// DownloadError is returned once every attempt of a download has failed.
// LastStatus is zero when the final attempt got no HTTP response. Timeout
// reports whether the final attempt timed out.
type DownloadError struct {
	Attempts   int
	LastStatus int
	Timeout    bool
	Err        error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download failed after %d attempt(s) (last status %d, timeout %t): %v",
		e.Attempts, e.LastStatus, e.Timeout, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// InvalidImageError means the downloaded bytes are not an image the provider can read.
type InvalidImageError struct {
	Reason string
}

func (e *InvalidImageError) Error() string {
	return "invalid image: " + e.Reason
}

// InvalidResponseError means the provider echoed its instructions or refused.
// Marker is the phrase that tripped the check; it is for logs only.
type InvalidResponseError struct {
	Marker string
}

func (e *InvalidResponseError) Error() string {
	if e.Marker == "" {
		return "invalid analysis response: empty text"
	}
	return fmt.Sprintf("invalid analysis response: contains %q", e.Marker)
}

// ProviderError covers every other failure talking to the analysis provider.
type ProviderError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// DeliveryError is a failed send or delete. It is logged, never shown to the user.
type DeliveryError struct {
	Op     string
	ChatID int64
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s to chat %d: %v", e.Op, e.ChatID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// KindOf classifies err by the first pipeline error type found in its chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var (
		resErr      *ResolutionError
		dlErr       *DownloadError
		imgErr      *InvalidImageError
		invalidErr  *InvalidResponseError
		providerErr *ProviderError
		deliveryErr *DeliveryError
	)
	switch {
	case errors.As(err, &resErr):
		return KindResolution
	case errors.As(err, &dlErr):
		return KindDownload
	case errors.As(err, &imgErr):
		return KindInvalidImage
	case errors.As(err, &invalidErr):
		return KindInvalidResponse
	case errors.As(err, &providerErr):
		return KindProvider
	case errors.As(err, &deliveryErr):
		return KindDelivery
	default:
		return KindUnknown
	}
}
