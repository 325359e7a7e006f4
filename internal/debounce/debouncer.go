// Package debounce coalesces bursts of messages from one user into a single
// settled turn. The quiescence window is measured from the last arrival, so
// every new message pushes settlement out again.
package debounce

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quote-agent/internal/clock"
)

// Delimiter separates buffered contents in a settled turn. The extraction
// prompt tells the model each line may be a fragment of one request.
const Delimiter = "\n"

// SettleFunc receives the merged content of one settled turn.
type SettleFunc func(userID, merged string)

type pendingTurn struct {
	contents  []string
	firstSeen time.Time
	timer     clock.Timer
	gen       int
}

// Debouncer holds one pending buffer and one timer per user. Timers for
// different users are independent and never block each other.
type Debouncer struct {
	window time.Duration
	clk    clock.Clock
	emit   SettleFunc
	log    zerolog.Logger

	mu      sync.Mutex
	pending map[string]*pendingTurn
}

// New creates a Debouncer emitting settled turns through emit.
func New(window time.Duration, clk clock.Clock, emit SettleFunc, log zerolog.Logger) (*Debouncer, error) {
	if window <= 0 {
		return nil, errors.New("debounce: window must be positive")
	}
	if clk == nil {
		return nil, errors.New("debounce: clock must not be nil")
	}
	if emit == nil {
		return nil, errors.New("debounce: settle func must not be nil")
	}
	return &Debouncer{
		window:  window,
		clk:     clk,
		emit:    emit,
		log:     log,
		pending: make(map[string]*pendingTurn),
	}, nil
}

// Ingest buffers one inbound message. The first message after quiescence
// starts the timer; every subsequent message appends and resets it.
func (d *Debouncer) Ingest(userID, content string) {
	content = strings.TrimSpace(content)
	if userID == "" || content == "" {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pending[userID]
	if !ok {
		p = &pendingTurn{firstSeen: d.clk.Now()}
		p.contents = append(p.contents, content)
		gen := p.gen
		p.timer = d.clk.AfterFunc(d.window, func() { d.settle(userID, gen) })
		d.pending[userID] = p
		d.log.Debug().Str("user", userID).Msg("debounce window opened")
		return
	}

	p.contents = append(p.contents, content)
	p.gen++
	gen := p.gen
	// Replace rather than Reset: a timer that already fired may have a
	// settle queued with the old generation; the generation check turns
	// that stale settle into a no-op.
	p.timer.Stop()
	p.timer = d.clk.AfterFunc(d.window, func() { d.settle(userID, gen) })
	d.log.Debug().Str("user", userID).Int("buffered", len(p.contents)).Msg("debounce window reset")
}

// Flush settles every pending buffer immediately. Called on shutdown so
// buffered text is not lost.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	users := make([]string, 0, len(d.pending))
	for userID, p := range d.pending {
		p.timer.Stop()
		users = append(users, userID)
	}
	d.mu.Unlock()

	for _, userID := range users {
		d.mu.Lock()
		p := d.pending[userID]
		var gen int
		if p != nil {
			gen = p.gen
		}
		d.mu.Unlock()
		if p != nil {
			d.settle(userID, gen)
		}
	}
}

// Pending reports whether the user currently has a buffered turn.
func (d *Debouncer) Pending(userID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[userID]
	return ok
}

func (d *Debouncer) settle(userID string, gen int) {
	d.mu.Lock()
	p, ok := d.pending[userID]
	if !ok || p.gen != gen {
		// A newer arrival superseded this timer.
		d.mu.Unlock()
		return
	}
	delete(d.pending, userID)
	merged := strings.Join(p.contents, Delimiter)
	held := d.clk.Now().Sub(p.firstSeen)
	d.mu.Unlock()

	d.log.Info().Str("user", userID).Int("messages", len(p.contents)).Dur("held", held).Msg("turn settled")
	d.emit(userID, merged)
}
