package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/lumaops/provisioner/pkg/engine"
)

// maxBodySize bounds event payloads (1MB).
const maxBodySize = 1 << 20

// ServerConfig configures the push endpoint.
type ServerConfig struct {
	ListenAddr               string
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
	GracefulShutdownDuration time.Duration
}

// Server exposes the listener over HTTP. Any non-2xx answer makes the
// delivery mechanism redeliver the event.
type Server struct {
	cfg      ServerConfig
	listener *Listener
	states   engine.StateTracker
	metrics  http.Handler
	isReady  atomic.Bool
	log      zerolog.Logger

	srv *http.Server
}

// NewServer creates the server. metrics may be nil.
func NewServer(cfg ServerConfig, listener *Listener, states engine.StateTracker, metrics http.Handler, logger zerolog.Logger) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.GracefulShutdownDuration <= 0 {
		cfg.GracefulShutdownDuration = 30 * time.Second
	}

	s := &Server{
		cfg:      cfg,
		listener: listener,
		states:   states,
		metrics:  metrics,
		log:      logger.With().Str("component", "http").Logger(),
	}
	s.isReady.Store(true)
	s.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)

	mux.Get("/healthz", s.handleHealth)
	mux.Get("/readyz", s.handleReady)
	if s.metrics != nil {
		mux.Method(http.MethodGet, "/metrics", s.metrics)
	}

	mux.Route("/v1", func(r chi.Router) {
		r.Use(s.requestLogger)
		r.Post("/events/firestore", s.handleEvent)
		r.Post("/clients/{clientID}/provision", s.handleProvision)
		r.Get("/clients/{clientID}/state", s.handleState)
	})
	return mux
}

// SetReady toggles the readiness probe.
func (s *Server) SetReady(ready bool) {
	s.isReady.Store(ready)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("listen_addr", s.cfg.ListenAddr).Msg("starting HTTP server")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GracefulShutdownDuration)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.log.Error().Err(err).Msg("graceful HTTP shutdown failed")
		return err
	}
	s.log.Info().Msg("HTTP server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.isReady.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		s.writeResult(w, nil, engine.NewTransientError("failed to read request body", err))
		return
	}
	if len(body) > maxBodySize {
		s.writeResult(w, nil, engine.NewValidationError("event payload too large", nil))
		return
	}

	ev, err := ParseEvent(body)
	if err != nil {
		s.writeResult(w, nil, err)
		return
	}

	res, err := s.listener.Handle(r.Context(), ev)
	s.writeResult(w, res, err)
}

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	res, err := s.listener.ProvisionByID(r.Context(), chi.URLParam(r, "clientID"))
	s.writeResult(w, res, err)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state, err := s.states.Get(r.Context(), chi.URLParam(r, "clientID"))
	switch {
	case errors.Is(err, engine.ErrStateNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Message: "no provisioning state for client"})
	case err != nil:
		s.log.Error().Err(err).Msg("failed to read provisioning state")
		writeJSON(w, http.StatusInternalServerError, errorBody{Message: "failed to read provisioning state"})
	default:
		writeJSON(w, http.StatusOK, state)
	}
}

type errorBody struct {
	Class   engine.ErrorClass `json:"class,omitempty"`
	Code    string            `json:"code,omitempty"`
	Step    engine.Step       `json:"step,omitempty"`
	Message string            `json:"message"`
}

type resultBody struct {
	ClientID  string        `json:"client_id,omitempty"`
	Status    engine.Status `json:"status,omitempty"`
	Duplicate bool          `json:"duplicate,omitempty"`
	Executed  []engine.Step `json:"executed,omitempty"`
	Error     *errorBody    `json:"error,omitempty"`
}

func (s *Server) writeResult(w http.ResponseWriter, res *engine.Result, err error) {
	body := resultBody{}
	if res != nil {
		body.ClientID, body.Status, body.Duplicate, body.Executed = res.ClientID, res.Status, res.Duplicate, res.Executed
	}
	if err == nil {
		writeJSON(w, http.StatusOK, body)
		return
	}

	eb := &errorBody{Class: engine.ClassOf(err), Code: engine.CodeOf(err), Message: err.Error()}
	var e *engine.Error
	if errors.As(err, &e) {
		eb.Step = e.Step
	}
	body.Error = eb
	writeJSON(w, StatusCode(err), body)
}

// StatusCode maps a workflow error onto the HTTP status returned to the
// delivery mechanism.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case engine.IsValidation(err):
		return http.StatusUnprocessableEntity
	case engine.IsClaimConflict(err):
		return http.StatusConflict
	case engine.IsManifestConflict(err), engine.IsTransient(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
