package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agent-racer/observer/internal/bus"
	"github.com/agent-racer/observer/internal/command"
	"github.com/agent-racer/observer/internal/config"
	"github.com/agent-racer/observer/internal/poller"
	"github.com/agent-racer/observer/internal/session"
	"github.com/agent-racer/observer/internal/store"
	"github.com/gorilla/websocket"
)

// Server is the HTTP/WebSocket surface: the outbound broadcast fabric (C8),
// the hook ingestion endpoint, and the client command channel (C9).
type Server struct {
	config          *config.Config
	sessionStore    *session.Store
	persist         *store.Store
	broadcaster     *Broadcaster
	surface         *command.Surface
	bus             *bus.Bus
	frontendDir     string
	dev             bool
	embeddedHandler http.Handler
	allowedOrigins  map[string]bool
	allowedHosts    map[string]bool
	authToken       string
}

func NewServer(cfg *config.Config, sessionStore *session.Store, persist *store.Store, broadcaster *Broadcaster, surface *command.Surface, b *bus.Bus, frontendDir string, dev bool, embeddedHandler http.Handler, allowedOrigins []string, authToken string) *Server {
	s := &Server{
		config:          cfg,
		sessionStore:    sessionStore,
		persist:         persist,
		broadcaster:     broadcaster,
		surface:         surface,
		bus:             b,
		frontendDir:     frontendDir,
		dev:             dev,
		embeddedHandler: embeddedHandler,
		allowedOrigins:  make(map[string]bool),
		allowedHosts:    make(map[string]bool),
		authToken:       authToken,
	}

	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

// securityHeaders wraps a handler with the baseline response headers every
// route on this server should carry.
func securityHeaders(next http.Handler) http.Handler {
	const csp = "default-src 'self'; connect-src 'self' ws: wss:; style-src 'self' 'unsafe-inline'; img-src 'self' data:; object-src 'none'; base-uri 'self'"
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Content-Security-Policy", csp)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionRoutes)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/command", s.handleCommand)
	mux.HandleFunc("/hook", s.handleHook)

	if s.dev {
		log.Printf("Serving frontend from filesystem: %s", s.frontendDir)
		mux.Handle("/", http.FileServer(http.Dir(s.frontendDir)))
	} else if s.embeddedHandler != nil {
		log.Println("Serving embedded frontend")
		mux.Handle("/", s.embeddedHandler)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	log.Printf("WebSocket client connected: %s", r.RemoteAddr)
	c, err := s.broadcaster.AddClient(conn)
	if err != nil {
		return
	}

	defer func() {
		s.broadcaster.RemoveClient(c)
		log.Printf("WebSocket client disconnected: %s", r.RemoteAddr)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req CommandRequest
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		resp := s.dispatchCommand(r.Context(), req)
		out, err := json.Marshal(Message{Type: MsgCommandResult, Payload: resp})
		if err != nil {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
			return
		}
	}
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.broadcaster.Sessions())
}

// handleSessionRoutes dispatches the /api/sessions/{id}/... sub-resources;
// only {id}/focus exists today, grounded on the teacher's own
// handleSessionRoutes/handleFocus pair.
func (s *Server) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[1] != "focus" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	terminalID, err := url.PathUnescape(parts[0])
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}
	s.handleFocus(w, r, terminalID)
}

// handleFocus switches the attached multiplexer client onto terminalID's
// pane. The session must currently exist in the store; a stale or unknown
// id is rejected before the adapter is ever touched.
func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request, terminalID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if _, ok := s.sessionStore.Get(terminalID); !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	if err := s.surface.Focus(r.Context(), terminalID); err != nil {
		http.Error(w, fmt.Sprintf("focus failed: %v", err), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.config.Sound)
}

// handleCommand is the HTTP half of the client command channel (spec.md
// §4.9); the same dispatch also services commands arriving over an open
// WebSocket connection in handleWS.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	resp := s.dispatchCommand(r.Context(), req)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) dispatchCommand(ctx context.Context, req CommandRequest) CommandResponse {
	var err error
	switch req.Command {
	case "send_text":
		flags := command.SendFlags{PermissionResponse: req.Flags.PermissionResponse}
		if req.Flags.Submit != nil {
			flags.Submit = *req.Flags.Submit
		}
		err = s.surface.SendText(ctx, req.TerminalID, req.Text, flags)
	case "send_signal":
		err = s.surface.SendSignal(ctx, req.TerminalID, req.Signal)
	case "dismiss_waiting":
		err = s.surface.DismissWaiting(req.TerminalID)
	case "refresh":
		var content string
		content, err = s.surface.Refresh(ctx, req.TerminalID, 0)
		if err == nil {
			s.broadcaster.broadcastCaptured(captureFor(req.TerminalID, content))
		}
	case "close":
		err = s.surface.Close(ctx, req.TerminalID)
	case "create_pane":
		_, err = s.surface.CreatePane(ctx, req.GroupID)
	case "create_group":
		_, err = s.surface.CreateGroup(ctx, req.Session, req.Name)
	case "close_group":
		err = s.surface.CloseGroup(ctx, req.GroupID)
	case "rename_group":
		err = s.surface.RenameGroup(ctx, req.GroupID, req.Name)
	default:
		return CommandResponse{OK: false, Error: "unknown command: " + req.Command}
	}

	if err != nil {
		return CommandResponse{OK: false, Error: err.Error()}
	}
	return CommandResponse{OK: true}
}

// handleHook is spec.md §6.4's assistant hook ingestion endpoint: event ids
// are deduplicated against the persisted events table before the reconciler
// ever sees them, so a retried hook delivery never double-applies.
func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req HookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.EventID == "" || req.TerminalID == "" || req.Kind == "" {
		json.NewEncoder(w).Encode(HookResponse{OK: false, Error: "event_id, terminal_id, and kind are required"})
		return
	}

	inserted, err := s.persist.InsertEvent(r.Context(), store.Event{
		EventID:    req.EventID,
		TerminalID: req.TerminalID,
		EventType:  req.Kind,
		ToolName:   req.Tool,
		Payload:    req.Payload,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		json.NewEncoder(w).Encode(HookResponse{OK: false, Error: err.Error()})
		return
	}
	if !inserted {
		json.NewEncoder(w).Encode(HookResponse{OK: true})
		return
	}

	ingest := command.HookIngest{}
	ev := ingest.ToEvent(req.EventID, req.TerminalID, req.Kind, req.Tool, req.Payload, req.SessionID)
	s.bus.Publish(bus.Event{Topic: bus.TopicHook, Payload: ev, High: true})

	json.NewEncoder(w).Encode(HookResponse{OK: true})
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Agent-Racer-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return len(s.allowedOrigins) == 0
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

func ListenAndServe(host string, port int, mux *http.ServeMux) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("Server listening on %s", addr)
	return http.ListenAndServe(addr, securityHeaders(mux))
}

func captureFor(terminalID, content string) poller.Captured {
	return poller.Captured{TerminalID: terminalID, Content: content, CapturedAt: time.Now()}
}
