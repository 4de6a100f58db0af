package application

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-reseller-checkout/internal/domain/model"
)

// Outcome is the last terminal callback a hosted checkout received.
type Outcome struct {
	Kind       string    `json:"kind"` // success|failure|cancel
	Message    string    `json:"message,omitempty"`
	PurchaseID string    `json:"purchase_id,omitempty"`
	At         time.Time `json:"at"`
}

// SessionView is what a polling client sees of its checkout.
type SessionView struct {
	State   State
	Outcome *Outcome
}

// Builder constructs a Checkout wired to cb.
type Builder func(cb Callbacks) *Checkout

type hosted struct {
	c       *Checkout
	mu      sync.Mutex
	last    time.Time
	outcome *Outcome
}

func (h *hosted) record(o Outcome) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outcome = &o
}

func (h *hosted) touch(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = now
}

func (h *hosted) idleSince() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// Sessions hosts one Checkout per user so the browser widget bridge can drive it over HTTP.
type Sessions struct {
	build Builder
	idle  time.Duration
	log   *zerolog.Logger
	now   func() time.Time

	mu     sync.Mutex
	byUser map[string]*hosted
}

func NewSessions(build Builder, idle time.Duration, logger *zerolog.Logger) *Sessions {
	if idle <= 0 {
		idle = 30 * time.Minute
	}
	l := logger.With().Str("component", "checkout_sessions").Logger()
	return &Sessions{
		build:  build,
		idle:   idle,
		log:    &l,
		now:    time.Now,
		byUser: make(map[string]*hosted),
	}
}

// Get returns the user's checkout, creating it on first use.
func (s *Sessions) Get(userID string) *Checkout {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.byUser[userID]; ok {
		h.touch(s.now())
		return h.c
	}

	h := &hosted{last: s.now()}
	h.c = s.build(Callbacks{
		OnSuccess: func(p *model.Purchase) {
			h.record(Outcome{Kind: "success", PurchaseID: p.ID, At: s.now()})
		},
		OnFailure: func(msg string) {
			h.record(Outcome{Kind: "failure", Message: msg, At: s.now()})
		},
		OnCancel: func() {
			h.record(Outcome{Kind: "cancel", At: s.now()})
		},
	})
	s.byUser[userID] = h
	return h.c
}

// View reports the user's checkout state, false when the user has none.
func (s *Sessions) View(userID string) (SessionView, bool) {
	s.mu.Lock()
	h, ok := s.byUser[userID]
	s.mu.Unlock()
	if !ok {
		return SessionView{}, false
	}
	h.touch(s.now())

	h.mu.Lock()
	var o *Outcome
	if h.outcome != nil {
		cp := *h.outcome
		o = &cp
	}
	h.mu.Unlock()
	return SessionView{State: h.c.State(), Outcome: o}, true
}

// Drop closes and forgets the user's checkout.
func (s *Sessions) Drop(userID string) bool {
	s.mu.Lock()
	h, ok := s.byUser[userID]
	delete(s.byUser, userID)
	s.mu.Unlock()
	if ok {
		h.c.Close()
	}
	return ok
}

// Len is the number of hosted checkouts.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byUser)
}

func (s *Sessions) Name() string { return "checkout_session_gc" }

// Run closes checkouts idle for longer than the idle window. A checkout still processing a payment is kept.
func (s *Sessions) Run(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.idle)

	s.mu.Lock()
	var stale []*hosted
	for user, h := range s.byUser {
		if h.idleSince().After(cutoff) || h.c.State().IsProcessing {
			continue
		}
		stale = append(stale, h)
		delete(s.byUser, user)
	}
	s.mu.Unlock()

	for _, h := range stale {
		h.c.Close()
	}
	if len(stale) > 0 {
		s.log.Debug().Int("count", len(stale)).Msg("idle checkouts closed")
	}
	return len(stale), nil
}

// Close shuts every hosted checkout down.
func (s *Sessions) Close() {
	s.mu.Lock()
	all := s.byUser
	s.byUser = make(map[string]*hosted)
	s.mu.Unlock()
	for _, h := range all {
		h.c.Close()
	}
}
