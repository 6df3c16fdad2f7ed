package view

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/catalogops/metasync/internal/actions"
	"github.com/catalogops/metasync/internal/entity"
)

// MessageType defines the type of server broadcast message.
type MessageType string

const (
	// MessageTypeViewRefreshed indicates a reconciled view was reloaded.
	MessageTypeViewRefreshed MessageType = "view_refreshed"

	// MessageTypeActionComplete indicates a batch action finished.
	MessageTypeActionComplete MessageType = "action_complete"

	// MessageTypeStats carries updated reconciliation statistics.
	MessageTypeStats MessageType = "stats"
)

// Message represents a broadcast message sent to WebSocket clients.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ActionCompleteData describes the result of a batch action.
type ActionCompleteData struct {
	EntityType string            `json:"entity_type"`
	Action     string            `json:"action"`
	Outcomes   []actions.Outcome `json:"outcomes"`
	Succeeded  int               `json:"succeeded"`
	Failed     int               `json:"failed"`
}

// Server exposes the reconciled view and action endpoints over HTTP and
// broadcasts sync events to WebSocket clients.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	service    *Service
	dispatcher actions.Dispatcher

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Port to listen on (default: 8480).
	Port int

	// Logger for server activity (default: log.Default()).
	Logger *log.Logger
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:   8480,
		Logger: log.Default(),
	}
}

// NewServer creates the view server.
func NewServer(service *Service, dispatcher actions.Dispatcher, config *ServerConfig) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:       fmt.Sprintf(":%d", config.Port),
		service:    service,
		dispatcher: dispatcher,
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan Message, 100),
		ctx:        ctx,
		cancel:     cancel,
		logger:     config.Logger,
	}
}

// Start begins serving HTTP and the WebSocket broadcast loop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/entities/{type}", s.handleReconciledView)
	mux.HandleFunc("GET /api/entities/{type}/tree", s.handleTree)
	mux.HandleFunc("POST /api/entities/{type}/actions", s.handleActions)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("View server listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.logger.Println("Stopping view server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()

	s.logger.Println("View server stopped")
	return nil
}

// GetAddr returns the server's listening address.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// handleReconciledView serves GET /api/entities/{type}.
func (s *Server) handleReconciledView(w http.ResponseWriter, r *http.Request) {
	entityType, ok := s.parseEntityType(w, r)
	if !ok {
		return
	}

	opts := optionsFromQuery(r)
	v, err := s.service.ReconciledView(r.Context(), entityType, opts)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}

	// Explicit refreshes are worth announcing so other clients reload too.
	if opts.ForceRefresh && !v.Stale {
		if payload, err := json.Marshal(map[string]interface{}{"entity_type": entityType}); err == nil {
			s.Broadcast(Message{Type: MessageTypeViewRefreshed, Timestamp: time.Now(), Data: payload})
		}
		if payload, err := json.Marshal(v.Stats); err == nil {
			s.Broadcast(Message{Type: MessageTypeStats, Timestamp: time.Now(), Data: payload})
		}
	}

	s.writeJSON(w, http.StatusOK, v)
}

// handleTree serves GET /api/entities/{type}/tree.
func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	entityType, ok := s.parseEntityType(w, r)
	if !ok {
		return
	}

	opts := optionsFromQuery(r)
	v, roots, err := s.service.Tree(r.Context(), entityType, opts)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entity_type": entityType,
		"stale":       v.Stale,
		"stats":       v.Stats,
		"roots":       roots,
	})
}

// actionRequest is the body of POST /api/entities/{type}/actions.
type actionRequest struct {
	Action string   `json:"action"`
	IDs    []string `json:"ids"`
}

// handleActions serves POST /api/entities/{type}/actions.
//
// The batch is applied with partial-failure semantics; the response always
// carries per-item outcomes, never a single aborted batch.
func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	entityType, ok := s.parseEntityType(w, r)
	if !ok {
		return
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if len(req.IDs) == 0 {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("ids must not be empty"))
		return
	}

	outcomes := s.dispatcher.Batch(r.Context(), actions.Action(req.Action), entityType, req.IDs)
	s.service.Invalidate(entityType)

	succeeded, failed := 0, 0
	for _, o := range outcomes {
		if o.OK {
			succeeded++
		} else {
			failed++
		}
	}

	data := ActionCompleteData{
		EntityType: entityType.String(),
		Action:     req.Action,
		Outcomes:   outcomes,
		Succeeded:  succeeded,
		Failed:     failed,
	}

	if payload, err := json.Marshal(data); err == nil {
		s.Broadcast(Message{Type: MessageTypeActionComplete, Timestamp: time.Now(), Data: payload})
	}

	s.writeJSON(w, http.StatusOK, data)
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// Broadcast sends a message to all connected WebSocket clients.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// broadcastLoop delivers queued messages to all clients.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			// Write outside the read lock so a slow client can't stall
			// new broadcasts.
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	go s.readLoop(conn)
}

// readLoop keeps the connection alive and handles client disconnects.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, _, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
		// Client messages are ignored; the socket is broadcast-only.
	}
}

// removeClient safely removes a client connection.
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

// parseEntityType extracts and validates the {type} path segment.
func (s *Server) parseEntityType(w http.ResponseWriter, r *http.Request) (entity.Type, bool) {
	t, err := entity.ParseType(r.PathValue("type"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return "", false
	}
	return t, true
}

// optionsFromQuery builds view options from request query parameters.
func optionsFromQuery(r *http.Request) Options {
	q := r.URL.Query()
	opts := Options{
		ForceRefresh: q.Get("refresh") == "true",
	}
	opts.Filter.Status = q.Get("status")
	opts.Filter.NameContains = q.Get("q")
	return opts
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("Failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
