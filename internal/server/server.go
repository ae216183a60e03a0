// Package server accepts WebSocket connections and runs one session per
// connection against the shared model.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/config"
	"github.com/book-expert/tts-gateway/internal/core"
	"github.com/book-expert/tts-gateway/internal/protocol"
	"github.com/book-expert/tts-gateway/internal/session"
	"github.com/book-expert/tts-gateway/internal/validate"
	"github.com/gorilla/websocket"
)

const (
	healthPath        = "/healthz"
	readHeaderTimeout = 5 * time.Second
	closeWriteTimeout = time.Second
	statusOK          = "ok"
	statusUnavailable = "unavailable"
)

// ErrModelLoad wraps a model that could not be loaded at startup.
var ErrModelLoad = errors.New("failed to load model")

// ModelHandle is the process-wide model shared by every session.
type ModelHandle interface {
	Load(ctx context.Context) error
	Model() (core.Model, error)
	Device() string
}

// Health is the body of the health endpoint.
type Health struct {
	Status     string `json:"status"`
	Device     string `json:"device"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// Server binds the listening endpoint and spawns sessions.
type Server struct {
	cfg       *config.Config
	handle    ModelHandle
	synth     session.Synthesizer
	validator *validate.Validator
	log       *logger.Logger
	upgrader  websocket.Upgrader

	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
	sessions sync.WaitGroup
}

// New creates a server. Nothing is loaded or bound until Serve.
func New(
	cfg *config.Config,
	handle ModelHandle,
	synth session.Synthesizer,
	validator *validate.Validator,
	log *logger.Logger,
) *Server {
	return &Server{
		cfg:       cfg,
		handle:    handle,
		synth:     synth,
		validator: validator,
		log:       log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Address(), err)
	}

	return s.Serve(ctx, listener)
}

// Serve loads the model, then accepts connections on listener until ctx is
// cancelled. A model that fails to load aborts startup before any connection
// is accepted.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	loadErr := s.handle.Load(ctx)
	if loadErr != nil {
		_ = listener.Close()

		return fmt.Errorf("%w: %w", ErrModelLoad, loadErr)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(healthPath, s.handleHealth)
	mux.HandleFunc("/", s.handleWebSocket)

	httpServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- httpServer.Serve(listener)
	}()

	s.log.System("TTS gateway listening on ws://%s (device %s)", listener.Addr(), s.handle.Device())

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	case <-ctx.Done():
	}

	return s.shutdown(httpServer)
}

func (s *Server) shutdown(httpServer *http.Server) error {
	s.log.Info("Shutting down TTS gateway")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout())
	defer cancel()

	shutdownErr := httpServer.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		s.log.Warn("Graceful shutdown error: %v", shutdownErr)
		_ = httpServer.Close()
	}

	s.closeConnections()
	s.sessions.Wait()

	s.log.Info("TTS gateway stopped")

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := Health{Status: statusOK, Device: s.handle.Device()}
	code := http.StatusOK

	model, err := s.handle.Model()
	if err != nil {
		health.Status = statusUnavailable
		code = http.StatusServiceUnavailable
	} else {
		health.SampleRate = model.SampleRate()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	encodeErr := json.NewEncoder(w).Encode(health)
	if encodeErr != nil {
		s.log.Warn("Failed to write health response: %v", encodeErr)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed for %s: %v", r.RemoteAddr, err)

		return
	}

	if !s.track(conn) {
		_ = conn.Close()

		return
	}
	defer s.untrack(conn)

	conn.SetReadLimit(s.cfg.Server.ReadLimitBytes)

	remote := conn.RemoteAddr().String()
	s.log.Info("Client connected: %s", remote)

	sess := session.New(conn, remote, s.serverInfo(), s.validator, s.synth, s.log)

	runErr := sess.Run(r.Context())
	if runErr != nil {
		s.log.Warn("Session %s ended: %v", remote, runErr)
	}
}

func (s *Server) serverInfo() protocol.ServerInfo {
	return protocol.ServerInfo{
		Message:            protocol.ServerBanner,
		SupportedLanguages: validate.LanguageIDs(),
		DefaultLanguage:    validate.DefaultLanguage,
		Device:             s.handle.Device(),
	}
}

// track registers a live connection. It refuses new connections once the
// server has started closing them.
func (s *Server) track(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conns == nil {
		return false
	}

	s.conns[conn] = struct{}{}
	s.sessions.Add(1)

	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conns != nil {
		delete(s.conns, conn)
	}
	s.mu.Unlock()

	_ = conn.Close()

	s.sessions.Done()
}

// closeConnections sends a going-away close frame to every live session and
// closes its transport, which ends the session's read loop.
func (s *Server) closeConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	message := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")

	for conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(closeWriteTimeout))
		_ = conn.Close()
	}
}
