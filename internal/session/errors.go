package session

import "errors"

// Sentinel errors forming the core's failure taxonomy. Callers distinguish
// them with errors.Is; anything else coming out of the registry is an
// internal store fault and must not be treated as one of these.
var (
	// ErrNotFound reports an unknown session id.
	ErrNotFound = errors.New("session not found")

	// ErrEntriesClosed reports a claim attempted after entries closed.
	ErrEntriesClosed = errors.New("entries are closed")

	// ErrAlreadyClosed reports a close on a session no longer active.
	ErrAlreadyClosed = errors.New("entries already closed")

	// ErrAlreadyCompleted reports a draw attempted on a completed session.
	// A completed session's winner is final; re-drawing is never legal.
	ErrAlreadyCompleted = errors.New("session already completed")

	// ErrDuplicatePlayer reports a second claim by the same player.
	ErrDuplicatePlayer = errors.New("player already claimed a number in this session")

	// ErrNumberTaken reports a claim on an already-claimed number.
	ErrNumberTaken = errors.New("number already claimed")

	// ErrNumberOutOfRange reports a claim outside the configured pool.
	ErrNumberOutOfRange = errors.New("number outside the claimable range")

	// ErrInvalidInput reports a claim missing its player identity.
	ErrInvalidInput = errors.New("playerId and displayName are required")

	// ErrNoClaims reports a draw on a session with an empty claim set.
	ErrNoClaims = errors.New("no numbers have been claimed")

	// ErrBusy reports that per-session exclusivity could not be acquired
	// within the configured wait. Transient; safe to retry with backoff.
	ErrBusy = errors.New("session is busy, try again")
)
