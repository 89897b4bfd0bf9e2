// Package fetch drives thumbnail retrieval for grid items: the source
// abstraction over the thumbnail endpoint, the retry policy and the per-item
// state machine deciding what happens after every response.
package fetch

import (
	"context"
	"time"

	"github.com/ST2Projects/media-grid/pkg/models"
)

// Outcome is the server's answer to one thumbnail request
type Outcome int

const (
	OutcomeReady Outcome = iota
	OutcomeProcessing
	OutcomeFailed
	OutcomeRateLimited
	OutcomeNotFound
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReady:
		return "ready"
	case OutcomeProcessing:
		return "processing"
	case OutcomeFailed:
		return "failed"
	case OutcomeRateLimited:
		return "rate-limited"
	case OutcomeNotFound:
		return "not-found"
	default:
		return "unknown"
	}
}

// Response is a classified thumbnail response. Body carries the thumbnail
// for ready, an optional preview for processing and optional fallback bytes
// for failed.
type Response struct {
	Outcome    Outcome
	Body       []byte
	RetryAfter time.Duration
}

// Source fetches thumbnails. A non-nil error means a transport failure.
type Source interface {
	Fetch(ctx context.Context, item models.Item) (Response, error)
}

// SourceFunc adapts a function to Source
type SourceFunc func(ctx context.Context, item models.Item) (Response, error)

func (f SourceFunc) Fetch(ctx context.Context, item models.Item) (Response, error) {
	return f(ctx, item)
}
