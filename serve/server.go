package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Paranoid-AF/ghostline"
	defaults "github.com/Paranoid-AF/ghostline/default"
	"github.com/Paranoid-AF/ghostline/fetch"
	"github.com/Paranoid-AF/ghostline/generate"
)

const (
	maxRequestBytes = 4 << 20
	shutdownTimeout = 5 * time.Second
)

// Completer processes a suggestion request and returns a response.
type Completer interface {
	Complete(ctx context.Context, req *ghostline.Request) *ghostline.Response
	WarmContext(ctx context.Context, dir string)
	Close()
}

// sessionEntry tracks a cancellable in-flight request for a session.
type sessionEntry struct {
	requestID uint64
	cancel    context.CancelFunc
}

// contextRequest asks the service to pre-gather workspace context.
type contextRequest struct {
	Dir string `json:"dir"`
}

// contextResponse acknowledges a contextRequest.
type contextResponse struct {
	OK    bool             `json:"ok"`
	Error *ghostline.Error `json:"error,omitempty"`
}

// activeEngine counts the requests still using an engine so a reload can
// close it only after they finish.
type activeEngine struct {
	Completer
	inflight sync.WaitGroup
}

// Server serves suggestion requests over HTTP on a Unix domain socket or a
// TCP address.
type Server struct {
	listener  net.Listener
	sockPath  string // empty when listening on TCP
	http      *http.Server
	newEngine func() Completer

	mu       sync.Mutex
	engine   *activeEngine
	sessions map[string]sessionEntry
	nextID   uint64
}

// NewServer creates a server bound to network ("unix" or "tcp") and address.
func NewServer(network, address string) (*Server, error) {
	return NewServerWithCompleter(network, address, func() Completer { return generate.NewEngine() })
}

// NewServerWithCompleter creates a server whose engines come from newEngine.
// newEngine is called once now and again on every config reload.
func NewServerWithCompleter(network, address string, newEngine func() Completer) (*Server, error) {
	sockPath := ""
	if network == "unix" {
		sockPath = address
		// Remove stale socket file if it exists
		if err := os.Remove(sockPath); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}

	listener, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	if sockPath != "" {
		if err := os.Chmod(sockPath, 0600); err != nil {
			listener.Close()
			return nil, err
		}
	}

	s := &Server{
		listener:  listener,
		sockPath:  sockPath,
		newEngine: newEngine,
		engine:    &activeEngine{Completer: newEngine()},
		sessions:  make(map[string]sessionEntry),
	}
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Handler returns the HTTP routes of the service.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/suggestion", s.handleSuggestion)
	mux.HandleFunc("POST /api/context", s.handleContext)
	mux.HandleFunc("GET /api/config", s.handleConfig)
	mux.HandleFunc("POST /api/config/reload", s.handleReload)
	return mux
}

// Serve accepts connections until the server is shut down.
func (s *Server) Serve() error {
	if err := s.http.Serve(s.listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones, closes the
// engine and removes the socket file.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	// Serve may never have been called.
	s.listener.Close()

	s.mu.Lock()
	for _, e := range s.sessions {
		e.cancel()
	}
	if s.engine != nil {
		s.engine.Close()
		s.engine = nil
	}
	s.mu.Unlock()

	if s.sockPath != "" {
		os.Remove(s.sockPath)
	}
	return err
}

// Close shuts the server down without waiting longer than shutdownTimeout.
func (s *Server) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		slog.Warn("shutdown incomplete", "error", err)
	}
}

// acquireEngine returns the current engine, or nil once shut down. The
// caller must call inflight.Done when it no longer uses it.
func (s *Server) acquireEngine() *activeEngine {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return nil
	}
	s.engine.inflight.Add(1)
	return s.engine
}

func (s *Server) handleSuggestion(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	slog.Debug("request", "data", string(raw))

	req, err := ghostline.DecodeRequest(raw)
	if err != nil {
		slog.Warn("invalid request", "error", err)
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	// Cancel any in-flight request for this session and create a new context.
	ctx, cancel := context.WithCancel(r.Context())
	sid := r.Header.Get(fetch.SessionHeader)
	var reqID uint64
	s.mu.Lock()
	s.nextID++
	reqID = s.nextID
	if sid != "" {
		if prev, ok := s.sessions[sid]; ok {
			prev.cancel()
		}
		s.sessions[sid] = sessionEntry{requestID: reqID, cancel: cancel}
	}
	s.mu.Unlock()
	defer func() {
		cancel()
		if sid != "" {
			s.mu.Lock()
			if cur, ok := s.sessions[sid]; ok && cur.requestID == reqID {
				delete(s.sessions, sid)
			}
			s.mu.Unlock()
		}
	}()

	engine := s.acquireEngine()
	if engine == nil {
		writeError(w, http.StatusServiceUnavailable, "shutting_down", "service is shutting down")
		return
	}
	resp := engine.Complete(ctx, req)
	engine.inflight.Done()

	// The client has gone away; nobody reads the reply.
	if r.Context().Err() != nil {
		return
	}
	// Superseded by a newer request of the same session.
	if ctx.Err() != nil {
		resp = &ghostline.Response{}
	}

	status := http.StatusOK
	if resp.Error != nil {
		status = errorStatus(resp.Error.Code)
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, contextResponse{Error: &ghostline.Error{Code: "invalid_request", Message: err.Error()}})
		return
	}

	dir := strings.TrimRight(req.Dir, "\n")
	if dir == "" {
		writeJSON(w, http.StatusBadRequest, contextResponse{Error: &ghostline.Error{Code: "invalid_request", Message: "dir is required"}})
		return
	}

	// Gather in background, respond immediately
	if engine := s.acquireEngine(); engine != nil {
		go func() {
			defer engine.inflight.Done()
			engine.WarmContext(context.Background(), dir)
		}()
	}
	writeJSON(w, http.StatusAccepted, contextResponse{OK: true})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")
	if action == "" {
		action = "get"
	}

	var resp ghostline.ConfigResponse
	status := http.StatusOK

	switch action {
	case "get":
		cfg, err := ghostline.LoadConfig()
		if err != nil {
			resp.Error = &ghostline.Error{Code: "config_error", Message: err.Error()}
			status = http.StatusInternalServerError
		} else {
			resp.Config = cfg
		}

	case "defaults":
		resp.Config = ghostline.DefaultConfig()

	case "default_prompt":
		resp.Prompt = defaults.DefaultPrompt

	case "validate":
		cfg, err := ghostline.LoadConfig()
		if err != nil {
			resp.Error = &ghostline.Error{Code: "config_error", Message: err.Error()}
			status = http.StatusInternalServerError
		} else {
			resp.Warnings = ghostline.ValidateConfig(cfg)
		}

	default:
		resp.Error = &ghostline.Error{Code: "unknown_action", Message: "unknown config action: " + action}
		status = http.StatusBadRequest
	}

	writeJSON(w, status, resp)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	// Respond immediately; building the engine may touch the network.
	go s.reloadEngine()

	cfg, err := ghostline.LoadConfig()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ghostline.ConfigResponse{
			Error: &ghostline.Error{Code: "config_error", Message: err.Error()},
		})
		return
	}
	writeJSON(w, http.StatusAccepted, ghostline.ConfigResponse{Config: cfg})
}

func (s *Server) reloadEngine() {
	next := &activeEngine{Completer: s.newEngine()}

	s.mu.Lock()
	prev := s.engine
	if prev == nil {
		// Shut down while the new engine was being built.
		s.mu.Unlock()
		next.Close()
		return
	}
	s.engine = next
	s.mu.Unlock()
	slog.Info("engine reloaded")

	// Requests started on prev keep it until they finish.
	prev.inflight.Wait()
	prev.Close()
}

// errorStatus maps a wire error code to an HTTP status.
func errorStatus(code string) int {
	switch code {
	case "invalid_request":
		return http.StatusBadRequest
	case "not_configured":
		return http.StatusServiceUnavailable
	case "api_error":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ghostline.Response{Error: &ghostline.Error{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	slog.Debug("response", "status", status, "data", string(data))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
