// Package quote owns the per-user dialogue phase around a computed quote
// and interprets numeric menu replies.
package quote

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quote-agent/internal/clock"
	"quote-agent/internal/domain"
)

// Manager holds one QuoteSession per user. Sessions reset to collecting
// after the inactivity TTL, so a stale menu digit becomes a new request.
type Manager struct {
	ttl time.Duration
	clk clock.Clock
	log zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*domain.QuoteSession
}

// NewManager creates a quote session manager.
func NewManager(ttl time.Duration, clk clock.Clock, log zerolog.Logger) (*Manager, error) {
	if ttl <= 0 {
		return nil, errors.New("quote: ttl must be positive")
	}
	if clk == nil {
		return nil, errors.New("quote: clock must not be nil")
	}
	return &Manager{
		ttl:      ttl,
		clk:      clk,
		log:      log,
		sessions: make(map[string]*domain.QuoteSession),
	}, nil
}

// Session returns the user's session, creating a collecting one on first
// access and resetting any session past the inactivity TTL.
func (m *Manager) Session(userID string) *domain.QuoteSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clk.Now()

	s, ok := m.sessions[userID]
	if !ok {
		s = &domain.QuoteSession{UserID: userID, Phase: domain.PhaseCollecting, LastActivityAt: now}
		m.sessions[userID] = s
		return s
	}
	if now.Sub(s.LastActivityAt) > m.ttl {
		m.log.Info().Str("user", userID).Str("phase", string(s.Phase)).Msg("quote session expired, resetting")
		s.Phase = domain.PhaseCollecting
		s.LastQuote = nil
	}
	s.LastActivityAt = now
	return s
}

// SetQuote records a freshly computed comparison and moves the session to
// quote_shown.
func (m *Manager) SetQuote(userID string, cmp *domain.Comparison) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		s = &domain.QuoteSession{UserID: userID}
		m.sessions[userID] = s
	}
	s.Phase = domain.PhaseQuoteShown
	s.LastQuote = cmp
	s.LastActivityAt = m.clk.Now()
}

// Apply runs one menu action through the transition table. It returns the
// new phase and false when the action is not valid in the current phase,
// leaving the session unchanged (the caller re-renders the current menu).
func (m *Manager) Apply(userID string, action MenuAction) (domain.Phase, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return domain.PhaseCollecting, false
	}

	next, valid := transition(s.Phase, action)
	if !valid {
		return s.Phase, false
	}
	s.Phase = next
	if next == domain.PhaseFinalized || next == domain.PhaseCollecting {
		s.LastQuote = keepQuoteFor(next, s.LastQuote)
	}
	s.LastActivityAt = m.clk.Now()
	m.log.Debug().Str("user", userID).Str("action", action.String()).Str("phase", string(next)).Msg("quote phase transition")
	return next, true
}

// Reset returns the session to collecting with no quote. Used when a new
// non-menu request supersedes a shown or finalized quote.
func (m *Manager) Reset(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return
	}
	s.Phase = domain.PhaseCollecting
	s.LastQuote = nil
	s.LastActivityAt = m.clk.Now()
}

// SweepExpired resets every session past the inactivity TTL.
func (m *Manager) SweepExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clk.Now()
	reset := 0
	for _, s := range m.sessions {
		if s.Phase != domain.PhaseCollecting && now.Sub(s.LastActivityAt) > m.ttl {
			s.Phase = domain.PhaseCollecting
			s.LastQuote = nil
			reset++
		}
	}
	return reset
}

// transition is the exhaustive phase/action table.
func transition(phase domain.Phase, action MenuAction) (domain.Phase, bool) {
	switch phase {
	case domain.PhaseQuoteShown:
		switch action {
		case ActionFinalize:
			return domain.PhaseFinalized, true
		case ActionShowBest:
			return domain.PhaseBestDetailShown, true
		case ActionShowAll:
			return domain.PhaseAllDetailShown, true
		}
	case domain.PhaseBestDetailShown, domain.PhaseAllDetailShown:
		switch action {
		case ActionFinalize:
			return domain.PhaseFinalized, true
		case ActionBack:
			return domain.PhaseQuoteShown, true
		}
	}
	return phase, false
}

// keepQuoteFor drops the comparison when leaving the quote lifecycle; the
// finalized phase keeps it so the confirmation can cite the chosen vendor.
func keepQuoteFor(next domain.Phase, cmp *domain.Comparison) *domain.Comparison {
	if next == domain.PhaseFinalized {
		return cmp
	}
	return nil
}
