// Package session implements the lottery game-session state machine: the
// registry of live sessions, the per-session claim arbiter, the lifecycle
// controller with its deferred winner draw, and the store contract the
// registry persists through.
package session

import "time"

// Status describes where a session is in its lifecycle. Transitions only
// move forward: Active -> EntriesClosed -> Completed.
type Status string

const (
	StatusActive        Status = "active"
	StatusEntriesClosed Status = "entries-closed"
	StatusCompleted     Status = "completed"
)

// rank orders statuses for monotonicity checks.
func (s Status) rank() int {
	switch s {
	case StatusActive:
		return 0
	case StatusEntriesClosed:
		return 1
	case StatusCompleted:
		return 2
	}
	return -1
}

// Before reports whether s precedes other in the lifecycle order.
func (s Status) Before(other Status) bool {
	return s.rank() < other.rank()
}

// Claim is one player's stake on one number within a session.
type Claim struct {
	PlayerID    string    `json:"playerId"`
	DisplayName string    `json:"displayName"`
	ClaimedAt   time.Time `json:"claimedAt"`
}

// Session is the aggregate root for one lottery round. The claim map and
// status are the only fields mutated after creation; everything else is
// write-once at its corresponding transition.
type Session struct {
	ID              string        `json:"id"`
	Status          Status        `json:"status"`
	CreatedAt       time.Time     `json:"createdAt"`
	EntriesClosedAt *time.Time    `json:"entriesClosedAt,omitempty"`
	EndTime         *time.Time    `json:"endTime,omitempty"`
	Claims          map[int]Claim `json:"claims"`
	Winner          string        `json:"winner,omitempty"`
	WinnerNumber    int           `json:"winnerNumber,omitempty"`
}

// Summary is the lightweight listing form of a session. It omits the claim
// map so list responses stay small while players poll.
type Summary struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	Status       Status    `json:"status"`
	ClaimCount   int       `json:"claimCount"`
	Winner       string    `json:"winner,omitempty"`
	WinnerNumber int       `json:"winnerNumber,omitempty"`
}

// Summary returns the listing form of s.
func (s *Session) Summary() Summary {
	return Summary{
		ID:           s.ID,
		CreatedAt:    s.CreatedAt,
		Status:       s.Status,
		ClaimCount:   len(s.Claims),
		Winner:       s.Winner,
		WinnerNumber: s.WinnerNumber,
	}
}

// ClaimedBy returns the number claimed by the given player, if any.
func (s *Session) ClaimedBy(playerID string) (int, bool) {
	for number, claim := range s.Claims {
		if claim.PlayerID == playerID {
			return number, true
		}
	}
	return 0, false
}

// Clone returns a deep copy of s. Stores hand out clones so callers can
// never mutate committed state behind the registry's back.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Claims = make(map[int]Claim, len(s.Claims))
	for number, claim := range s.Claims {
		out.Claims[number] = claim
	}
	if s.EntriesClosedAt != nil {
		t := *s.EntriesClosedAt
		out.EntriesClosedAt = &t
	}
	if s.EndTime != nil {
		t := *s.EndTime
		out.EndTime = &t
	}
	return &out
}
