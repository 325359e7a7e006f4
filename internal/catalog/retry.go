package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"quote-agent/internal/domain"
)

// Querier is the gateway contract the retry decorator wraps.
type Querier interface {
	Query(ctx context.Context, category, specification string) ([]domain.CatalogOffer, error)
}

// Retrying retries a failed catalog query once after a short backoff before
// surfacing the failure. Invalid-input errors are not retried.
type Retrying struct {
	next    Querier
	backoff time.Duration
	log     zerolog.Logger
}

// NewRetrying wraps next with a single-retry policy.
func NewRetrying(next Querier, backoff time.Duration, log zerolog.Logger) (*Retrying, error) {
	if next == nil {
		return nil, errors.New("catalog: wrapped querier must not be nil")
	}
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	return &Retrying{next: next, backoff: backoff, log: log}, nil
}

func (r *Retrying) Query(ctx context.Context, category, specification string) ([]domain.CatalogOffer, error) {
	offers, err := r.next.Query(ctx, category, specification)
	if err == nil || ctx.Err() != nil {
		return offers, err
	}

	r.log.Warn().Err(err).Str("category", category).Msg("catalog query failed, retrying once")
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(r.backoff):
	}

	offers, retryErr := r.next.Query(ctx, category, specification)
	if retryErr != nil {
		return nil, retryErr
	}
	return offers, nil
}
