package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/player00001-26/number-guess/internal/session"
)

// Server exposes the session registry over HTTP and pushes live session
// updates over WebSocket.
type Server struct {
	registry   *session.Registry
	store      session.Store
	adminToken string
	upgrader   websocket.Upgrader
	logger     zerolog.Logger

	mu          sync.RWMutex
	connections map[*Connection]bool

	ctx    context.Context
	cancel context.CancelFunc
	httpl  *http.Server
}

// NewServer constructs a server over the given registry and store. The
// store is used directly for the live-update feed; everything mutating
// goes through the registry.
func NewServer(logger zerolog.Logger, registry *session.Registry, store session.Store, adminToken string) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		registry:   registry,
		store:      store,
		adminToken: adminToken,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:      logger.With().Str("component", "server").Logger(),
		connections: make(map[*Connection]bool),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Handler builds the HTTP routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("GET /api/sessions", s.noCache(s.handleListSessions))
	mux.HandleFunc("GET /api/sessions/{id}", s.noCache(s.handleGetSession))
	mux.HandleFunc("POST /api/sessions/{id}/claims", s.noCache(s.handleClaimNumber))

	mux.HandleFunc("POST /api/sessions", s.noCache(s.requireAdmin(s.handleCreateSession)))
	mux.HandleFunc("POST /api/sessions/{id}/close", s.noCache(s.requireAdmin(s.handleCloseEntries)))
	mux.HandleFunc("POST /api/sessions/{id}/draw", s.noCache(s.requireAdmin(s.handleSelectWinner)))
	mux.HandleFunc("DELETE /api/sessions/{id}", s.noCache(s.requireAdmin(s.handleDeleteSession)))

	return mux
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	s.httpl = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	s.logger.Info().Str("addr", addr).Msg("starting server")
	return s.httpl.ListenAndServe()
}

// Shutdown gracefully stops the HTTP listener and closes all live
// WebSocket connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	s.mu.Lock()
	for conn := range s.connections {
		_ = conn.Close()
	}
	s.connections = make(map[*Connection]bool)
	s.mu.Unlock()

	if s.httpl == nil {
		return nil
	}
	return s.httpl.Shutdown(ctx)
}

// noCache stamps the caching-disabled headers every read depends on:
// players poll for live state and must never see a stale response.
func (s *Server) noCache(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
		h.Set("Pragma", "no-cache")
		h.Set("Expires", "0")
		next(w, r)
	}
}

// requireAdmin gates an endpoint on the pre-validated admin capability.
// The core never sees authentication; this comparison is the whole gate.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			next(w, r)
			return
		}
		token := r.Header.Get("X-Admin-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next(w, r)
	}
}

// handleHealth handles liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "OK")
}

// handleWebSocket upgrades the connection and hands it to the live feed.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := NewConnection(conn, s.logger, s.store)
	s.register(client)
	client.Start()

	go func() {
		<-client.Done()
		s.unregister(client)
	}()
}

func (s *Server) register(conn *Connection) {
	s.mu.Lock()
	s.connections[conn] = true
	total := len(s.connections)
	s.mu.Unlock()
	s.logger.Info().Int("total", total).Msg("client connected")
}

func (s *Server) unregister(conn *Connection) {
	s.mu.Lock()
	if _, ok := s.connections[conn]; ok {
		delete(s.connections, conn)
		_ = conn.Close()
	}
	total := len(s.connections)
	s.mu.Unlock()
	s.logger.Info().Int("total", total).Msg("client disconnected")
}
