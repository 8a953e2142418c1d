package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is the in-process Store backing. It is the default backend:
// the registry is the single authoritative owner per session, so a mutex
// guarded map already gives read-your-writes.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	watchMu  sync.Mutex
	watchers map[int]*watcher
	nextID   int
}

type watcher struct {
	sessionID string // empty means all sessions
	ch        chan Event
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		watchers: make(map[int]*watcher),
	}
}

// Create stores a new session. The id must not already exist.
func (m *MemoryStore) Create(ctx context.Context, s *Session) error {
	m.mu.Lock()
	if _, exists := m.sessions[s.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("session %s already exists", s.ID)
	}
	stored := s.Clone()
	m.sessions[s.ID] = stored
	m.mu.Unlock()

	m.notify(Event{Type: EventUpdated, SessionID: s.ID, Session: stored.Clone()})
	return nil
}

// Get returns a copy of the stored session or ErrNotFound.
func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// Update applies mutate to a copy of the stored session and commits it only
// when mutate succeeds. Returns the committed state.
func (m *MemoryStore) Update(ctx context.Context, id string, mutate func(*Session) error) (*Session, error) {
	m.mu.Lock()
	current, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	next := current.Clone()
	if err := mutate(next); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.sessions[id] = next
	m.mu.Unlock()

	m.notify(Event{Type: EventUpdated, SessionID: id, Session: next.Clone()})
	return next.Clone(), nil
}

// Delete removes a session. Deleting an unknown id is a no-op.
func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	_, existed := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if existed {
		m.notify(Event{Type: EventDeleted, SessionID: id})
	}
	return nil
}

// List returns summaries of all sessions, newest first.
func (m *MemoryStore) List(ctx context.Context) ([]Summary, error) {
	m.mu.RLock()
	summaries := make([]Summary, 0, len(m.sessions))
	for _, s := range m.sessions {
		summaries = append(summaries, s.Summary())
	}
	m.mu.RUnlock()

	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
		}
		return summaries[i].ID > summaries[j].ID
	})
	return summaries, nil
}

// Watch subscribes to session events. Events for slow consumers are
// dropped rather than blocking writers.
func (m *MemoryStore) Watch(ctx context.Context, id string) (<-chan Event, error) {
	w := &watcher{sessionID: id, ch: make(chan Event, 16)}

	m.watchMu.Lock()
	key := m.nextID
	m.nextID++
	m.watchers[key] = w
	m.watchMu.Unlock()

	go func() {
		<-ctx.Done()
		m.watchMu.Lock()
		delete(m.watchers, key)
		m.watchMu.Unlock()
		close(w.ch)
	}()

	return w.ch, nil
}

func (m *MemoryStore) notify(ev Event) {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	for _, w := range m.watchers {
		if w.sessionID != "" && w.sessionID != ev.SessionID {
			continue
		}
		select {
		case w.ch <- ev:
		default:
		}
	}
}
