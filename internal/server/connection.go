package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/player00001-26/number-guess/internal/session"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

// Connection is one WebSocket client of the live-update feed. A client
// watches a single target at a time: one session id, or all sessions.
type Connection struct {
	conn   *websocket.Conn
	send   chan *Message
	store  session.Store
	logger zerolog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu        sync.Mutex
	stopWatch context.CancelFunc
}

// NewConnection wraps a raw WebSocket connection.
func NewConnection(conn *websocket.Conn, logger zerolog.Logger, store session.Store) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		conn:   conn,
		send:   make(chan *Message, 64),
		store:  store,
		logger: logger.With().Str("component", "conn").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins the read and write pumps.
func (c *Connection) Start() {
	go c.writePump()
	go c.readPump()
}

// Done is closed once the connection has shut down.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close tears down the connection and any active watch.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.stopWatch != nil {
			c.stopWatch()
			c.stopWatch = nil
		}
		c.mu.Unlock()
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// sendMessage queues a message without blocking; a client that cannot
// keep up is disconnected rather than stalling the feed.
func (c *Connection) sendMessage(msg *Message) {
	select {
	case c.send <- msg:
	case <-c.ctx.Done():
	default:
		c.logger.Warn().Msg("send buffer full, closing connection")
		_ = c.Close()
	}
}

func (c *Connection) readPump() {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error().Err(err).Msg("websocket read error")
			}
			return
		}
		c.handleMessage(&msg)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Error().Err(err).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) handleMessage(msg *Message) {
	switch msg.Type {
	case MessageTypeWatch:
		var data WatchData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid_message", "failed to parse watch data")
			return
		}
		c.handleWatch(data)

	case MessageTypeUnwatch:
		c.handleUnwatch()

	default:
		c.sendError("unknown_message_type", "unknown message type: "+msg.Type.String())
	}
}

// handleWatch replaces the connection's watch target and starts streaming
// store events for it.
func (c *Connection) handleWatch(data WatchData) {
	watchCtx, stop := context.WithCancel(c.ctx)

	events, err := c.store.Watch(watchCtx, data.SessionID)
	if err != nil {
		stop()
		c.sendError("watch_failed", "could not subscribe to session updates")
		return
	}

	c.mu.Lock()
	if c.stopWatch != nil {
		c.stopWatch()
	}
	c.stopWatch = stop
	c.mu.Unlock()

	go c.forwardEvents(events)

	ack, err := NewMessage(MessageTypeWatching, WatchData{SessionID: data.SessionID})
	if err == nil {
		c.sendMessage(ack)
	}

	// Seed the watcher with current state so it need not wait for the
	// next mutation.
	if data.SessionID != "" {
		if sess, err := c.store.Get(watchCtx, data.SessionID); err == nil {
			if msg, err := NewMessage(MessageTypeSessionUpdate, SessionUpdateData{Session: sess}); err == nil {
				c.sendMessage(msg)
			}
		}
	}
}

func (c *Connection) handleUnwatch() {
	c.mu.Lock()
	if c.stopWatch != nil {
		c.stopWatch()
		c.stopWatch = nil
	}
	c.mu.Unlock()
}

// forwardEvents pushes store events to the client until the watch ends.
func (c *Connection) forwardEvents(events <-chan session.Event) {
	for ev := range events {
		var (
			msg *Message
			err error
		)
		switch ev.Type {
		case session.EventUpdated:
			msg, err = NewMessage(MessageTypeSessionUpdate, SessionUpdateData{Session: ev.Session})
		case session.EventDeleted:
			msg, err = NewMessage(MessageTypeSessionDeleted, SessionDeletedData{SessionID: ev.SessionID})
		default:
			continue
		}
		if err != nil {
			c.logger.Error().Err(err).Msg("failed to encode session event")
			continue
		}
		c.sendMessage(msg)
	}
}

func (c *Connection) sendError(code, message string) {
	msg, err := NewMessage(MessageTypeError, ErrorData{Code: code, Message: message})
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to create error message")
		return
	}
	c.sendMessage(msg)
}
