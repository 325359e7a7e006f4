// Package usecase wires the settled-turn pipeline: extraction, basket
// resolution, price comparison and the quote menu, producing one outbound
// reply per settled turn.
package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quote-agent/internal/basket"
	"quote-agent/internal/clock"
	"quote-agent/internal/domain"
	"quote-agent/internal/pricing"
	"quote-agent/internal/quote"
	"quote-agent/internal/render"
)

const defaultRecentLimit = 10

// Extractor turns a settled user turn into structured item requests.
type Extractor interface {
	ExtractItems(ctx context.Context, merged string, history []domain.Turn) ([]domain.ItemRequest, error)
}

// SessionLog persists conversation turns and answers the once-a-day
// welcome question.
type SessionLog interface {
	Append(ctx context.Context, userID, role, content string) error
	Recent(ctx context.Context, userID string, limit int) ([]domain.Turn, error)
	IsFirstToday(ctx context.Context, userID string, ref time.Time) (bool, error)
}

// Sender delivers an outbound text to the user's chat channel.
type Sender interface {
	Send(ctx context.Context, userID, text string) error
}

// Ingester accepts raw inbound fragments for merging. Satisfied by the
// debouncer; bound after construction because the debouncer's settle
// callback points back at the pipeline.
type Ingester interface {
	Ingest(userID, content string)
}

type Pipeline struct {
	extractor   Extractor
	sessions    SessionLog
	sender      Sender
	baskets     *basket.Engine
	quotes      *quote.Manager
	clk         clock.Clock
	log         zerolog.Logger
	recentLimit int
	ingest      Ingester

	lanesMu sync.Mutex
	lanes   map[string]*sync.Mutex
}

func New(extractor Extractor, sessions SessionLog, sender Sender, baskets *basket.Engine, quotes *quote.Manager, clk clock.Clock, recentLimit int, log zerolog.Logger) (*Pipeline, error) {
	if extractor == nil {
		return nil, errors.New("usecase: extractor must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("usecase: session log must not be nil")
	}
	if sender == nil {
		return nil, errors.New("usecase: sender must not be nil")
	}
	if baskets == nil {
		return nil, errors.New("usecase: basket engine must not be nil")
	}
	if quotes == nil {
		return nil, errors.New("usecase: quote manager must not be nil")
	}
	if clk == nil {
		return nil, errors.New("usecase: clock must not be nil")
	}
	if recentLimit <= 0 {
		recentLimit = defaultRecentLimit
	}
	return &Pipeline{
		extractor:   extractor,
		sessions:    sessions,
		sender:      sender,
		baskets:     baskets,
		quotes:      quotes,
		clk:         clk,
		log:         log,
		recentLimit: recentLimit,
		lanes:       make(map[string]*sync.Mutex),
	}, nil
}

// Bind attaches the debouncer. Must be called once before HandleInbound.
func (p *Pipeline) Bind(ing Ingester) {
	p.ingest = ing
}

// HandleInbound records an inbound fragment and hands it to the debouncer.
// The daily welcome is sent immediately; the fragment itself still waits
// for the settle window. Session log failures degrade to a log line so a
// storage hiccup never drops a user message.
func (p *Pipeline) HandleInbound(ctx context.Context, userID, content string) error {
	userID = strings.TrimSpace(userID)
	content = strings.TrimSpace(content)
	if userID == "" {
		return newError(ErrorInvalidInput, "empty_user", nil)
	}
	if content == "" {
		return newError(ErrorInvalidInput, "empty_content", nil)
	}
	if p.ingest == nil {
		return newError(ErrorInternal, "debouncer_not_bound", nil)
	}

	first, err := p.sessions.IsFirstToday(ctx, userID, p.clk.Now())
	if err != nil {
		p.log.Warn().Err(err).Str("code", string(ErrorSessionStore)).Str("user", userID).Msg("first-of-day check failed, skipping welcome")
		first = false
	}
	if first {
		p.deliver(ctx, userID, render.Welcome())
	}

	if err := p.sessions.Append(ctx, userID, domain.RoleUser, content); err != nil {
		p.log.Warn().Err(err).Str("code", string(ErrorSessionStore)).Str("user", userID).Msg("append user turn failed")
	}

	p.ingest.Ingest(userID, content)
	return nil
}

// ProcessSettled handles one settled (merged) turn end to end. It is the
// debouncer's settle callback; per-user lanes keep a user's turns strictly
// sequential while different users proceed in parallel.
func (p *Pipeline) ProcessSettled(userID, merged string) {
	ctx := context.Background()
	lane := p.lane(userID)
	lane.Lock()
	defer lane.Unlock()

	reply := p.respond(ctx, userID, merged)
	if reply == "" {
		return
	}
	p.deliver(ctx, userID, reply)
}

func (p *Pipeline) lane(userID string) *sync.Mutex {
	p.lanesMu.Lock()
	defer p.lanesMu.Unlock()
	m, ok := p.lanes[userID]
	if !ok {
		m = &sync.Mutex{}
		p.lanes[userID] = m
	}
	return m
}

func (p *Pipeline) deliver(ctx context.Context, userID, text string) {
	if err := p.sender.Send(ctx, userID, text); err != nil {
		p.log.Error().Err(err).Str("user", userID).Msg("send reply failed")
		return
	}
	if err := p.sessions.Append(ctx, userID, domain.RoleAssistant, text); err != nil {
		p.log.Warn().Err(err).Str("code", string(ErrorSessionStore)).Str("user", userID).Msg("append assistant turn failed")
	}
}

func (p *Pipeline) respond(ctx context.Context, userID, merged string) string {
	sess := p.quotes.Session(userID)
	action := quote.ClassifyReply(merged)

	if action != quote.ActionNewRequest {
		if sess.Phase == domain.PhaseFinalized {
			return render.AlreadyFinalized()
		}
		if menuPhase(sess.Phase) {
			return p.applyMenu(userID, sess, action)
		}
	}

	// Non-menu content supersedes any shown or finalized quote: the old
	// basket is discarded and the request starts a clean one.
	if sess.Phase != domain.PhaseCollecting {
		p.quotes.Reset(userID)
		p.baskets.Discard(userID)
	}
	return p.handleRequest(ctx, userID, merged)
}

func menuPhase(phase domain.Phase) bool {
	switch phase {
	case domain.PhaseQuoteShown, domain.PhaseBestDetailShown, domain.PhaseAllDetailShown:
		return true
	}
	return false
}

func (p *Pipeline) applyMenu(userID string, sess *domain.QuoteSession, action quote.MenuAction) string {
	next, ok := p.quotes.Apply(userID, action)
	cmp := sess.LastQuote
	if !ok {
		p.log.Debug().Str("code", string(ErrorInvalidMenuReply)).Str("user", userID).Str("action", action.String()).Str("phase", string(sess.Phase)).Msg("menu action not valid in phase")
		return p.renderPhase(userID, sess.Phase, cmp)
	}

	switch next {
	case domain.PhaseFinalized:
		winner := cmp.Cheapest()
		if winner == nil {
			p.quotes.Reset(userID)
			return render.GenericError()
		}
		orderRef := newOrderRef()
		p.baskets.Discard(userID)
		p.log.Info().Str("user", userID).Str("order_ref", orderRef).Str("vendor", winner.VendorID).Msg("quote finalized")
		return render.Finalized(winner, orderRef)
	case domain.PhaseBestDetailShown:
		return render.BestDetails(cmp)
	case domain.PhaseAllDetailShown:
		return render.AllDetails(cmp)
	default:
		return p.renderPhase(userID, next, cmp)
	}
}

// renderPhase re-renders whatever view the given phase shows.
func (p *Pipeline) renderPhase(userID string, phase domain.Phase, cmp *domain.Comparison) string {
	switch phase {
	case domain.PhaseQuoteShown:
		b, _ := p.baskets.Basket(userID)
		return render.QuoteSummary(cmp, b.UnavailableLines())
	case domain.PhaseBestDetailShown:
		return render.BestDetails(cmp)
	case domain.PhaseAllDetailShown:
		return render.AllDetails(cmp)
	default:
		return render.GenericError()
	}
}

func (p *Pipeline) handleRequest(ctx context.Context, userID, merged string) string {
	history, err := p.sessions.Recent(ctx, userID, p.recentLimit)
	if err != nil {
		p.log.Warn().Err(err).Str("code", string(ErrorSessionStore)).Str("user", userID).Msg("recent turns unavailable, extracting without context")
		history = nil
	}

	items, err := p.extractor.ExtractItems(ctx, merged, history)
	if err != nil {
		p.log.Error().Err(err).Str("code", string(ErrorUpstream)).Str("user", userID).Msg("item extraction failed")
		return render.GenericError()
	}

	var b *domain.Basket
	if len(items) == 0 {
		var handled bool
		b, handled, err = p.baskets.Clarify(ctx, userID, merged)
		if err != nil {
			p.log.Error().Err(err).Str("code", string(ErrorCatalogUnavailable)).Str("user", userID).Msg("catalog unavailable during clarification")
			return render.DegradedService()
		}
		if !handled {
			p.log.Debug().Str("code", string(ErrorExtractionEmpty)).Str("user", userID).Msg("no items recognized in settled turn")
			return render.NoItemsPrompt()
		}
	} else {
		b, err = p.baskets.Resolve(ctx, userID, items)
		if err != nil {
			p.log.Error().Err(err).Str("code", string(ErrorCatalogUnavailable)).Str("user", userID).Msg("catalog unavailable during resolution")
			return render.DegradedService()
		}
	}
	return p.advance(userID, b)
}

// advance inspects the basket after a resolution step and produces either
// the next clarification question or the quote itself.
func (p *Pipeline) advance(userID string, b *domain.Basket) string {
	if line := b.FirstOpenLine(); line != nil {
		return render.Clarification(line)
	}
	if !b.Complete() {
		return render.NoItemsPrompt()
	}

	if len(b.ResolvedLines()) == 0 {
		unavailable := b.UnavailableLines()
		p.baskets.Discard(userID)
		return render.AllUnavailable(unavailable)
	}

	cmp := pricing.Compare(b)
	p.quotes.SetQuote(userID, &cmp)
	p.log.Info().
		Str("user", userID).
		Int("vendors", len(cmp.Vendors)).
		Bool("has_runner_up", cmp.HasRunnerUp).
		Msg("quote computed")
	return render.QuoteSummary(&cmp, b.UnavailableLines())
}

func newOrderRef() string {
	return "PED-" + strings.ToUpper(uuid.NewString()[:8])
}
