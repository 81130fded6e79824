package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/gravitas-games/slotkeeper/internal/catalog"
	"github.com/gravitas-games/slotkeeper/internal/config"
	"github.com/gravitas-games/slotkeeper/internal/events"
)

// RedisClient is the subset of *redis.Client the server depends on.
type RedisClient interface {
	Blacklist
	events.Publisher
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Server hosts player inventories behind an authenticated WebSocket endpoint
type Server struct {
	config       *config.Config
	catalog      *catalog.Catalog
	session      *Session
	upgrader     websocket.Upgrader
	httpSrv      *http.Server
	jwtValidator *JWTValidator
	redis        RedisClient
	log          logrus.FieldLogger

	// Connection tracking
	connections map[*Connection]bool
	connMu      sync.RWMutex

	// Shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new server instance
func New(cfg *config.Config, cat *catalog.Catalog, rdb RedisClient, l logrus.FieldLogger) (*Server, error) {
	l.Info("Initializing server.")

	ctx, cancel := context.WithCancel(context.Background())

	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	l.Debug("Connected to Redis.")

	srv := &Server{
		config:      cfg,
		catalog:     cat,
		connections: make(map[*Connection]bool),
		ctx:         ctx,
		cancel:      cancel,
		redis:       rdb,
		log:         l,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	jwtValidator, err := NewJWTValidator(ctx, cfg, rdb, l.WithField("component", "auth"))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize JWT validator: %w", err)
	}
	srv.jwtValidator = jwtValidator

	srv.session = NewSession(ctx, "main", cfg, cat, rdb, l.WithField("component", "session"))

	l.Infof("Server initialized with [%d] catalog items.", cat.Len())
	return srv, nil
}

// Handler returns the HTTP routes served by the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start begins listening for connections
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Infof("WebSocket endpoint: ws://%s/ws", addr)
	s.log.Infof("Health endpoint: http://%s/health", addr)

	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.log.Info("Shutting down server.")

	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error.")
		}
	}

	s.connMu.RLock()
	conns := make([]*Connection, 0, len(s.connections))
	for conn := range s.connections {
		conns = append(conns, conn)
	}
	s.connMu.RUnlock()
	for _, conn := range conns {
		conn.Close()
	}

	if err := s.redis.Close(); err != nil {
		s.log.WithError(err).Warn("Redis close error.")
	}

	s.log.Info("Server shutdown complete.")
	return nil
}

// ConnectionCount returns the number of open WebSocket connections
func (s *Server) ConnectionCount() int {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return len(s.connections)
}

// handleWebSocket authenticates and upgrades a connection request
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.log.Debugf("New WebSocket connection request from [%s].", r.RemoteAddr)

	tokenString := extractTokenFromHeader(r)
	if tokenString == "" {
		s.log.Debugf("Missing JWT token from [%s].", r.RemoteAddr)
		http.Error(w, "Missing authentication token", http.StatusUnauthorized)
		return
	}

	player, err := s.jwtValidator.ValidateToken(tokenString)
	if err != nil {
		s.log.WithError(err).Debugf("Invalid JWT token from [%s].", r.RemoteAddr)
		http.Error(w, fmt.Sprintf("Invalid token: %v", err), http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("WebSocket upgrade failed.")
		return
	}

	conn := NewConnection(ws, s, player)

	s.connMu.Lock()
	s.connections[conn] = true
	s.connMu.Unlock()

	s.log.Infof("WebSocket connection established for [%s] from [%s].", player.Username, r.RemoteAddr)

	conn.Handle()

	s.connMu.Lock()
	delete(s.connections, conn)
	s.connMu.Unlock()

	s.log.Infof("WebSocket connection closed for [%s].", player.Username)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","players":%d,"connections":%d}`, s.session.PlayerCount(), s.ConnectionCount())
}
