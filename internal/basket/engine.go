// Package basket resolves extracted item requests against the catalog,
// deciding per item whether to auto-select an offer or ask a clarifying
// question, and keeps the partially resolved basket across turns.
package basket

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quote-agent/internal/clock"
	"quote-agent/internal/domain"
)

// Catalog is the read-only offer source the engine consults.
type Catalog interface {
	Query(ctx context.Context, category, specification string) ([]domain.CatalogOffer, error)
}

// Engine owns basket lifecycle per user. Baskets expire after the
// inactivity TTL and are destroyed on finalize or explicit discard.
type Engine struct {
	catalog Catalog
	ttl     time.Duration
	clk     clock.Clock
	log     zerolog.Logger

	mu      sync.Mutex
	baskets map[string]*domain.Basket
}

// NewEngine creates a disambiguation engine.
func NewEngine(catalog Catalog, ttl time.Duration, clk clock.Clock, log zerolog.Logger) (*Engine, error) {
	if catalog == nil {
		return nil, errors.New("basket: catalog must not be nil")
	}
	if ttl <= 0 {
		return nil, errors.New("basket: ttl must be positive")
	}
	if clk == nil {
		return nil, errors.New("basket: clock must not be nil")
	}
	return &Engine{
		catalog: catalog,
		ttl:     ttl,
		clk:     clk,
		log:     log,
		baskets: make(map[string]*domain.Basket),
	}, nil
}

// Resolve merges the requests into the user's basket, creating it on first
// call, and resolves each new line against the catalog. Lines already
// resolved are never touched; re-requesting a resolved category is a no-op.
func (e *Engine) Resolve(ctx context.Context, userID string, reqs []domain.ItemRequest) (*domain.Basket, error) {
	e.mu.Lock()
	b := e.liveBasketLocked(userID)
	if b == nil {
		now := e.clk.Now()
		b = &domain.Basket{
			UserID:       userID,
			Lines:        make(map[string]*domain.BasketLine),
			CreatedAt:    now,
			LastActivity: now,
		}
		e.baskets[userID] = b
	}
	e.mu.Unlock()

	for _, req := range reqs {
		category := normalizeCategory(req.Category)
		if category == "" {
			continue
		}
		quantity := req.Quantity
		if quantity <= 0 {
			quantity = 1
		}

		e.mu.Lock()
		line, exists := b.Lines[category]
		if exists && line.Status == domain.LineResolved {
			e.mu.Unlock()
			continue
		}
		if !exists {
			line = &domain.BasketLine{Category: category, Quantity: quantity}
			b.Lines[category] = line
			b.Order = append(b.Order, category)
		}
		line.RequestedSpec = strings.TrimSpace(req.Specification)
		line.Quantity = quantity
		e.mu.Unlock()

		if err := e.resolveLine(ctx, line); err != nil {
			return b, err
		}
		e.log.Debug().
			Str("user", userID).
			Str("category", category).
			Str("status", string(line.Status)).
			Bool("unavailable", line.Unavailable).
			Msg("basket line resolved")
	}

	e.touch(b)
	return b, nil
}

// Clarify treats answer as the missing specification of the first open
// line and re-resolves that line only. The second return is false when the
// user has no open clarification.
func (e *Engine) Clarify(ctx context.Context, userID, answer string) (*domain.Basket, bool, error) {
	e.mu.Lock()
	b := e.liveBasketLocked(userID)
	e.mu.Unlock()
	if b == nil {
		return nil, false, nil
	}
	line := b.FirstOpenLine()
	if line == nil {
		return b, false, nil
	}

	answer = strings.TrimSpace(answer)
	offers, err := e.catalog.Query(ctx, line.Category, answer)
	if err != nil {
		return b, true, err
	}
	if len(offers) > 0 {
		e.mu.Lock()
		line.RequestedSpec = answer
		resolveWithOffers(line, offers)
		e.mu.Unlock()
	}
	// No match: the line stays open and the question is re-asked.

	e.touch(b)
	return b, true, nil
}

// Basket returns the user's live basket, discarding it first if the
// inactivity TTL has passed.
func (e *Engine) Basket(userID string) (*domain.Basket, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.liveBasketLocked(userID)
	return b, b != nil
}

// Discard destroys the user's basket.
func (e *Engine) Discard(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.baskets, userID)
}

// SweepExpired removes every basket past the inactivity TTL.
func (e *Engine) SweepExpired() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clk.Now()
	removed := 0
	for userID, b := range e.baskets {
		if now.Sub(b.LastActivity) > e.ttl {
			delete(e.baskets, userID)
			removed++
		}
	}
	if removed > 0 {
		e.log.Info().Int("removed", removed).Msg("basket sweep removed expired baskets")
	}
	return removed
}

func (e *Engine) liveBasketLocked(userID string) *domain.Basket {
	b, ok := e.baskets[userID]
	if !ok {
		return nil
	}
	if e.clk.Now().Sub(b.LastActivity) > e.ttl {
		delete(e.baskets, userID)
		return nil
	}
	return b
}

func (e *Engine) touch(b *domain.Basket) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b.LastActivity = e.clk.Now()
}

func (e *Engine) resolveLine(ctx context.Context, line *domain.BasketLine) error {
	if line.RequestedSpec != "" {
		offers, err := e.catalog.Query(ctx, line.Category, line.RequestedSpec)
		if err != nil {
			return err
		}
		if len(offers) > 0 {
			resolveWithOffers(line, offers)
			return nil
		}
		// The stated specification matched nothing; fall through to the
		// unfiltered set so the user is asked instead of stonewalled.
	}

	offers, err := e.catalog.Query(ctx, line.Category, "")
	if err != nil {
		return err
	}

	groups := groupBySignature(offers)
	switch len(groups) {
	case 0:
		// No offers at all: the line resolves as explicitly unavailable
		// so one missing category never blocks the rest of the quote.
		line.Status = domain.LineResolved
		line.Unavailable = true
		line.ChosenOffer = nil
		line.Offers = nil
		line.Candidates = nil
	case 1:
		// A category with only one real variation never requires a question.
		resolveWithOffers(line, groups[0])
	default:
		line.Status = domain.LineNeedsClarification
		line.ChosenOffer = nil
		line.Candidates = representatives(groups)
	}
	return nil
}

// resolveWithOffers marks the line resolved, choosing the cheapest offer
// with deterministic tie-breaks and retaining the full match set for
// vendor-by-vendor pricing.
func resolveWithOffers(line *domain.BasketLine, offers []domain.CatalogOffer) {
	line.Status = domain.LineResolved
	line.Unavailable = false
	line.Candidates = nil
	line.Offers = offers
	chosen := cheapestOffer(offers)
	line.ChosenOffer = &chosen
}

// cheapestOffer picks the minimum unit price, ties broken by
// lexicographically smallest vendor name, then smallest vendor id.
func cheapestOffer(offers []domain.CatalogOffer) domain.CatalogOffer {
	best := offers[0]
	for _, o := range offers[1:] {
		if offerLess(o, best) {
			best = o
		}
	}
	return best
}

func offerLess(a, b domain.CatalogOffer) bool {
	if a.UnitPrice != b.UnitPrice {
		return a.UnitPrice < b.UnitPrice
	}
	if a.VendorName != b.VendorName {
		return a.VendorName < b.VendorName
	}
	return a.VendorID < b.VendorID
}

// groupBySignature splits offers into distinct specification groups.
func groupBySignature(offers []domain.CatalogOffer) [][]domain.CatalogOffer {
	bySig := make(map[string][]domain.CatalogOffer)
	var sigs []string
	for _, o := range offers {
		sig := o.SpecSignature()
		if _, seen := bySig[sig]; !seen {
			sigs = append(sigs, sig)
		}
		bySig[sig] = append(bySig[sig], o)
	}
	groups := make([][]domain.CatalogOffer, 0, len(sigs))
	for _, sig := range sigs {
		groups = append(groups, bySig[sig])
	}
	return groups
}

// representatives returns the cheapest offer of each group, ordered by
// price with the usual tie-breaks, for rendering the clarification menu.
func representatives(groups [][]domain.CatalogOffer) []domain.CatalogOffer {
	reps := make([]domain.CatalogOffer, 0, len(groups))
	for _, g := range groups {
		reps = append(reps, cheapestOffer(g))
	}
	sort.Slice(reps, func(i, j int) bool { return offerLess(reps[i], reps[j]) })
	return reps
}

func normalizeCategory(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}
