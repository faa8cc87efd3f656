package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"k8s.io/utils/ptr"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/core"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/encoder"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/session"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/util"
)

const (
	DefaultPort = 28091

	shutdownTimeout = 5 * time.Second
	maxRequestBody  = 1 << 20
)

// Defaults fill in the fields a start request leaves out.
type Defaults struct {
	Transport   core.TransportConfig
	Output      string
	Preset      string
	SnapshotDir string
	// FrameRate applies to monitor sessions; recordings follow the preset.
	FrameRate int
}

// Server exposes a session controller over HTTP and WebSocket.
type Server struct {
	port     int
	ctrl     *session.Controller
	defaults Defaults
	logger   *slog.Logger

	done     chan struct{}
	doneOnce sync.Once

	mu        sync.Mutex
	server    *http.Server
	listener  net.Listener
	isRunning bool
}

// NewServer creates a control server listening on port. Port 0 picks a free
// port.
func NewServer(port int, ctrl *session.Controller, defaults Defaults, logger *slog.Logger) *Server {
	if logger == nil {
		logger = util.GetLogger()
	}
	return &Server{
		port:     port,
		ctrl:     ctrl,
		defaults: defaults,
		logger:   logger.With("component", "api"),
		done:     make(chan struct{}),
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/capture/start", s.handleStart)
	mux.HandleFunc("POST /api/capture/stop", s.handleStop)
	mux.HandleFunc("GET /api/capture/status", s.handleStatus)
	mux.HandleFunc("GET /api/capture/events", s.handleEvents)
	return mux
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return fmt.Errorf("server already running")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("server failed to start: %w", err)
	}
	srv := &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
	}
	s.server = srv
	s.listener = ln
	s.isRunning = true

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server error", "error", err)
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}
	}()

	s.logger.Info("API server started", "addr", ln.Addr().String())
	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the HTTP server down. Event streams are closed with it.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	srv := s.server
	s.mu.Unlock()

	s.logger.Info("Stopping API server")
	s.doneOnce.Do(func() { close(s.done) })
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Warn("Graceful shutdown failed, closing", "error", err)
		return srv.Close()
	}
	return nil
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// startRequest is the JSON body of POST /api/capture/start. Data is base64.
type startRequest struct {
	ResultCode  *int   `json:"resultCode"`
	Data        []byte `json:"data"`
	Mode        string `json:"mode"`
	RemoteHost  string `json:"remoteHost"`
	RemotePort  uint16 `json:"remotePort"`
	UseDatagram *bool  `json:"useDatagram"`
	Quality     *int   `json:"quality"`
	Output      string `json:"output"`
	Preset      string `json:"preset"`
	FrameRate   int    `json:"frameRate"`
}

func (s *Server) toStartRequest(body startRequest) (session.StartRequest, error) {
	req := session.StartRequest{
		Grant: core.GrantRequest{
			ResultCode: ptr.Deref(body.ResultCode, core.ResultOK),
			Data:       body.Data,
		},
		Mode:      session.Mode(body.Mode),
		Transport: s.defaults.Transport,
		Output:    s.defaults.Output,
	}
	if req.Mode == "" {
		req.Mode = session.ModeMonitor
	}

	if body.RemoteHost != "" {
		req.Transport.RemoteHost = body.RemoteHost
	}
	if body.RemotePort != 0 {
		req.Transport.RemotePort = body.RemotePort
	}
	req.Transport.UseDatagram = ptr.Deref(body.UseDatagram, req.Transport.UseDatagram)
	req.Transport.Quality = ptr.Deref(body.Quality, req.Transport.Quality)
	if req.Mode == session.ModeMonitor {
		req.SnapshotDir = s.defaults.SnapshotDir
		req.FrameRate = s.defaults.FrameRate
	}

	if body.Output != "" {
		req.Output = body.Output
	}
	if body.FrameRate > 0 {
		req.FrameRate = body.FrameRate
	}

	presetName := body.Preset
	if presetName == "" {
		presetName = s.defaults.Preset
	}
	if presetName != "" {
		preset, err := encoder.PresetByName(presetName)
		if err != nil {
			return req, fmt.Errorf("%w: %v", core.ErrInvalidConfig, err)
		}
		req.Preset = preset
	}
	return req, nil
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var body startRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&body); err != nil {
		respondError(w, fmt.Errorf("%w: %v", core.ErrInvalidConfig, err))
		return
	}

	req, err := s.toStartRequest(body)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := s.ctrl.Start(r.Context(), req); err != nil {
		s.logger.Warn("Start request failed", "mode", req.Mode, "error", err)
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Stop(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.ctrl.Status())
}

// statusCode maps pipeline errors to HTTP status codes.
func statusCode(err error) int {
	switch {
	case errors.Is(err, core.ErrBusy), errors.Is(err, session.ErrStartAborted):
		return http.StatusConflict
	case errors.Is(err, core.ErrGrantDenied):
		return http.StatusForbidden
	case errors.Is(err, core.ErrGrantRevoked):
		return http.StatusGone
	case errors.Is(err, core.ErrInvalidConfig):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondError(w http.ResponseWriter, err error) {
	respondJSON(w, statusCode(err), map[string]string{"error": err.Error()})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		util.GetLogger().Warn("Failed to encode JSON response", "error", err)
	}
}
