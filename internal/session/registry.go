package session

import (
	"context"
	"errors"
	"sync"
	"time"

	rand "math/rand/v2"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/player00001-26/number-guess/internal/sessionid"
)

// Config holds the game rules the registry enforces.
type Config struct {
	MinNumber int           // lowest claimable number, inclusive
	MaxNumber int           // highest claimable number, inclusive
	DrawDelay time.Duration // delay between closing entries and the draw
	ClaimWait time.Duration // how long a claim waits for per-session exclusivity
}

// DefaultConfig returns the reference game rules: numbers 1-100 and a
// 10 second countdown to the draw.
func DefaultConfig() Config {
	return Config{
		MinNumber: 1,
		MaxNumber: 100,
		DrawDelay: 10 * time.Second,
		ClaimWait: 100 * time.Millisecond,
	}
}

// handle is the per-session concurrency state: a one-slot semaphore
// serializing mutations and the pending draw timer, if any.
type handle struct {
	sem  chan struct{}
	draw *quartz.Timer
}

// Registry owns the process-wide set of live sessions. All mutating
// operations go through a per-session semaphore so that check-then-write
// sequences are atomic; operations on different sessions never serialize
// against each other. The registry is an explicit object so tests can run
// several independent instances side by side.
type Registry struct {
	store  Store
	clock  quartz.Clock
	logger zerolog.Logger
	cfg    Config

	rng   *rand.Rand
	rngMu sync.Mutex

	mu      sync.Mutex
	handles map[string]*handle
	closed  bool
}

// NewRegistry constructs a registry over the given store. The clock is
// injected so tests can drive the draw countdown deterministically.
func NewRegistry(logger zerolog.Logger, store Store, rng *rand.Rand, clock quartz.Clock, cfg Config) *Registry {
	return &Registry{
		store:   store,
		clock:   clock,
		logger:  logger.With().Str("component", "registry").Logger(),
		cfg:     cfg,
		rng:     rng,
		handles: make(map[string]*handle),
	}
}

// withRNG executes fn with exclusive access to the registry's RNG.
func (r *Registry) withRNG(fn func(*rand.Rand)) {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	fn(r.rng)
}

// handleFor returns the concurrency handle for a session, creating it on
// first use. Handles are created lazily so a store-backed session that
// predates this process still gets arbitration.
func (r *Registry) handleFor(id string) *handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok {
		h = &handle{sem: make(chan struct{}, 1)}
		r.handles[id] = h
	}
	return h
}

// acquire takes the session's semaphore, waiting at most cfg.ClaimWait.
// It fails closed with ErrBusy rather than proceeding unsynchronized.
func (r *Registry) acquire(ctx context.Context, id string) (release func(), err error) {
	h := r.handleFor(id)

	timeout := r.clock.NewTimer(r.cfg.ClaimWait)
	defer timeout.Stop()

	select {
	case h.sem <- struct{}{}:
		return func() { <-h.sem }, nil
	case <-timeout.C:
		return nil, ErrBusy
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// acquireBlocking takes the semaphore without a deadline. Only internal
// work that must eventually run (the deferred draw) uses it; holders
// always release promptly so this cannot deadlock.
func (r *Registry) acquireBlocking(id string) (release func()) {
	h := r.handleFor(id)
	h.sem <- struct{}{}
	return func() { <-h.sem }
}

// CreateSession creates a new session in the Active state and returns it.
func (r *Registry) CreateSession(ctx context.Context) (*Session, error) {
	s := &Session{
		ID:        sessionid.Generate(),
		Status:    StatusActive,
		CreatedAt: r.clock.Now(),
		Claims:    make(map[int]Claim),
	}
	if err := r.store.Create(ctx, s); err != nil {
		return nil, err
	}
	r.handleFor(s.ID)

	r.logger.Info().Str("session_id", s.ID).Msg("session created")
	return s, nil
}

// GetSession returns the full session including its claim map.
func (r *Registry) GetSession(ctx context.Context, id string) (*Session, error) {
	return r.store.Get(ctx, id)
}

// ListSessions returns summaries of all sessions, newest first.
func (r *Registry) ListSessions(ctx context.Context) ([]Summary, error) {
	return r.store.List(ctx)
}

// ClaimNumber stakes one number for one player. Preconditions are checked
// in order under the session's semaphore: session exists, entries are
// open, the player has no prior claim, the number is free. Either the
// claim fully commits or the session is left untouched.
func (r *Registry) ClaimNumber(ctx context.Context, id string, number int, playerID, displayName string) error {
	if number < r.cfg.MinNumber || number > r.cfg.MaxNumber {
		return ErrNumberOutOfRange
	}
	if playerID == "" || displayName == "" {
		return ErrInvalidInput
	}

	release, err := r.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	_, err = r.store.Update(ctx, id, func(s *Session) error {
		if s.Status != StatusActive {
			return ErrEntriesClosed
		}
		if _, claimed := s.ClaimedBy(playerID); claimed {
			return ErrDuplicatePlayer
		}
		if _, taken := s.Claims[number]; taken {
			return ErrNumberTaken
		}
		s.Claims[number] = Claim{
			PlayerID:    playerID,
			DisplayName: displayName,
			ClaimedAt:   r.clock.Now(),
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Info().
		Str("session_id", id).
		Int("number", number).
		Str("player_id", playerID).
		Msg("number claimed")
	return nil
}

// CloseEntries transitions a session from Active to EntriesClosed and
// schedules the deferred draw. Closing is legal only from Active. The
// scheduled draw is a single cancellable one-shot per session; any prior
// timer is replaced, never doubled.
func (r *Registry) CloseEntries(ctx context.Context, id string) error {
	release, err := r.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	_, err = r.store.Update(ctx, id, func(s *Session) error {
		if s.Status != StatusActive {
			return ErrAlreadyClosed
		}
		now := r.clock.Now()
		s.Status = StatusEntriesClosed
		s.EntriesClosedAt = &now
		return nil
	})
	if err != nil {
		return err
	}

	r.scheduleDraw(id)

	r.logger.Info().
		Str("session_id", id).
		Dur("draw_delay", r.cfg.DrawDelay).
		Msg("entries closed, draw scheduled")
	return nil
}

// scheduleDraw arms the one-shot draw timer, replacing any pending one.
func (r *Registry) scheduleDraw(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	h, ok := r.handles[id]
	if !ok {
		return
	}
	if h.draw != nil {
		h.draw.Stop()
	}
	h.draw = r.clock.AfterFunc(r.cfg.DrawDelay, func() {
		r.runDeferredDraw(id)
	})
}

// runDeferredDraw is the timer callback. It re-reads the session after the
// delay: the status re-check is the cancellation mechanism, so a session
// that was completed or deleted mid-countdown is a no-op. A session with
// no claims stays EntriesClosed indefinitely.
func (r *Registry) runDeferredDraw(id string) {
	release := r.acquireBlocking(id)
	defer release()

	ctx := context.Background()
	s, err := r.store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.logger.Error().Err(err).Str("session_id", id).Msg("deferred draw read failed")
		}
		return
	}
	if s.Status != StatusEntriesClosed {
		return
	}
	if len(s.Claims) == 0 {
		r.logger.Info().Str("session_id", id).Msg("draw fired with no claims, session stays closed")
		return
	}

	if _, err := r.completeDraw(ctx, id); err != nil {
		r.logger.Error().Err(err).Str("session_id", id).Msg("deferred draw failed")
	}
}

// completeDraw picks a winner over the current claim set and writes the
// terminal state. Caller must hold the session's semaphore and have
// verified the session is drawable.
func (r *Registry) completeDraw(ctx context.Context, id string) (*Session, error) {
	updated, err := r.store.Update(ctx, id, func(s *Session) error {
		var (
			number int
			name   string
			pickEr error
		)
		r.withRNG(func(rng *rand.Rand) {
			number, name, pickEr = PickWinner(s.Claims, rng)
		})
		if pickEr != nil {
			return pickEr
		}
		now := r.clock.Now()
		s.Status = StatusCompleted
		s.Winner = name
		s.WinnerNumber = number
		s.EndTime = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.cancelDraw(id)

	r.logger.Info().
		Str("session_id", id).
		Int("winner_number", updated.WinnerNumber).
		Str("winner", updated.Winner).
		Msg("winner drawn")
	return updated, nil
}

// SelectWinnerNow draws immediately, without waiting for the countdown.
// Legal from any non-terminal state with at least one claim. A completed
// session is final: re-drawing fails with ErrAlreadyCompleted.
func (r *Registry) SelectWinnerNow(ctx context.Context, id string) (winner string, winnerNumber int, err error) {
	release, err := r.acquire(ctx, id)
	if err != nil {
		return "", 0, err
	}
	defer release()

	s, err := r.store.Get(ctx, id)
	if err != nil {
		return "", 0, err
	}
	if s.Status == StatusCompleted {
		return "", 0, ErrAlreadyCompleted
	}
	if len(s.Claims) == 0 {
		return "", 0, ErrNoClaims
	}

	done, err := r.completeDraw(ctx, id)
	if err != nil {
		return "", 0, err
	}
	return done.Winner, done.WinnerNumber, nil
}

// DeleteSession removes a session in any state, cancelling a pending draw
// and releasing its arbitration state. Deleting an unknown id is a no-op.
// Deletion serializes with in-flight mutations through the session's
// semaphore: a claim mid-write either commits before the delete or sees
// the session gone, never resurrects it. The handle is dropped only after
// the delete committed, so no operation runs unserialized alongside one
// that is still in flight.
func (r *Registry) DeleteSession(ctx context.Context, id string) error {
	release, err := r.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	if err := r.store.Delete(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	if h, ok := r.handles[id]; ok {
		if h.draw != nil {
			h.draw.Stop()
		}
		delete(r.handles, id)
	}
	r.mu.Unlock()

	r.logger.Info().Str("session_id", id).Msg("session deleted")
	return nil
}

// cancelDraw stops and clears the session's pending draw timer.
func (r *Registry) cancelDraw(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[id]; ok && h.draw != nil {
		h.draw.Stop()
		h.draw = nil
	}
}

// Close stops all pending draw timers. New draws are no longer scheduled;
// in-flight operations drain normally.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for _, h := range r.handles {
		if h.draw != nil {
			h.draw.Stop()
			h.draw = nil
		}
	}
}
