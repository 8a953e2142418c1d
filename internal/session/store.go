package session

import "context"

// EventType describes what happened to a session.
type EventType string

const (
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// Event is one store notification. Session is nil for EventDeleted.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	Session   *Session  `json:"session,omitempty"`
}

// Store is the persistence contract the registry depends on. A backend must
// guarantee read-your-writes for a single session within one authoritative
// owner; the registry provides the per-session serialization on top.
//
// Get returns ErrNotFound for unknown ids. Update applies mutate to a copy
// of the stored session and commits only when mutate returns nil, so a
// failed mutation leaves no partial write. Delete of an unknown id is not
// an error. List returns summaries newest-first.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, id string, mutate func(*Session) error) (*Session, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Summary, error)

	// Watch subscribes to events for one session, or for all sessions when
	// id is empty. The channel is closed when ctx is cancelled. Backends may
	// drop events for slow consumers; watchers treat events as invalidation
	// hints and re-read, never as the source of truth.
	Watch(ctx context.Context, id string) (<-chan Event, error)
}
