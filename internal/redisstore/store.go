// Package redisstore backs the session store contract with redis, for
// deployments where the session owner process should survive restarts.
// Sessions are JSON documents keyed by id, indexed in a sorted set by
// creation time, with store events fanned out over pub/sub.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/player00001-26/number-guess/internal/session"
)

const (
	keyPrefix    = "session:"
	indexKey     = "sessions"
	eventChannel = "session-events"
)

// Store is a redis-backed session.Store. It relies on the registry being
// the single authoritative owner per session: the registry's per-session
// semaphore serializes the read-modify-write in Update, so no CAS loop is
// needed here.
type Store struct {
	client *redis.Client
	logger zerolog.Logger
}

// Options configures the redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// New connects to redis and verifies the connection with a ping.
func New(ctx context.Context, logger zerolog.Logger, opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            opts.Addr,
		Password:        opts.Password,
		DB:              opts.DB,
		MaxRetries:      5,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Store{
		client: client,
		logger: logger.With().Str("component", "redisstore").Logger(),
	}, nil
}

// Close releases the redis connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

func sessionKey(id string) string {
	return keyPrefix + id
}

// Create stores a new session document and indexes it by creation time.
func (s *Store) Create(ctx context.Context, sess *session.Session) error {
	body, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, sessionKey(sess.ID), body, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("session %s already exists", sess.ID)
	}

	err = s.client.ZAdd(ctx, indexKey, redis.Z{
		Score:  float64(sess.CreatedAt.UnixMilli()),
		Member: sess.ID,
	}).Err()
	if err != nil {
		return err
	}

	s.publish(ctx, session.Event{Type: session.EventUpdated, SessionID: sess.ID, Session: sess})
	return nil
}

// Get fetches and decodes one session document.
func (s *Store) Get(ctx context.Context, id string) (*session.Session, error) {
	body, err := s.client.Get(ctx, sessionKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var sess session.Session
	if err := json.Unmarshal([]byte(body), &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	if sess.Claims == nil {
		sess.Claims = make(map[int]session.Claim)
	}
	return &sess, nil
}

// Update reads the current document, applies mutate to it, and writes it
// back only when mutate succeeds. The registry holds the session's
// semaphore across this call, so the read-modify-write is not raced.
func (s *Store) Update(ctx context.Context, id string, mutate func(*session.Session) error) (*session.Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := mutate(sess); err != nil {
		return nil, err
	}

	body, err := json.Marshal(sess)
	if err != nil {
		return nil, err
	}
	if err := s.client.Set(ctx, sessionKey(id), body, 0).Err(); err != nil {
		return nil, err
	}

	s.publish(ctx, session.Event{Type: session.EventUpdated, SessionID: id, Session: sess})
	return sess.Clone(), nil
}

// Delete removes the document and its index entry. Unknown ids are a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	deleted, err := s.client.Del(ctx, sessionKey(id)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if err := s.client.ZRem(ctx, indexKey, id).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	if deleted > 0 {
		s.publish(ctx, session.Event{Type: session.EventDeleted, SessionID: id})
	}
	return nil
}

// List returns summaries for all indexed sessions, newest first.
func (s *Store) List(ctx context.Context) ([]session.Summary, error) {
	ids, err := s.client.ZRevRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []session.Summary{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sessionKey(id)
	}
	bodies, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	summaries := make([]session.Summary, 0, len(bodies))
	for i, body := range bodies {
		text, ok := body.(string)
		if !ok {
			// Index entry without a document: deleted concurrently.
			continue
		}
		var sess session.Session
		if err := json.Unmarshal([]byte(text), &sess); err != nil {
			s.logger.Error().Err(err).Str("session_id", ids[i]).Msg("skipping undecodable session")
			continue
		}
		summaries = append(summaries, sess.Summary())
	}
	return summaries, nil
}

// Watch subscribes to the pub/sub event channel, filtered to one session
// when id is non-empty. The returned channel closes when ctx ends.
func (s *Store) Watch(ctx context.Context, id string) (<-chan session.Event, error) {
	sub := s.client.Subscribe(ctx, eventChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan session.Event, 16)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()

		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				var ev session.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					s.logger.Error().Err(err).Msg("dropping undecodable store event")
					continue
				}
				if id != "" && ev.SessionID != id {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *Store) publish(ctx context.Context, ev session.Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error().Err(err).Msg("encode store event")
		return
	}
	if err := s.client.Publish(ctx, eventChannel, body).Err(); err != nil {
		s.logger.Error().Err(err).Str("session_id", ev.SessionID).Msg("publish store event")
	}
}
