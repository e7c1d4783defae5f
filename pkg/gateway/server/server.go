// Package server wires the voice relay gateway: one agent registry, one
// recording store, one live-session tracker, and the HTTP surface over them.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pitchlab/voicerelay/pkg/gateway/agents"
	"github.com/pitchlab/voicerelay/pkg/gateway/config"
	"github.com/pitchlab/voicerelay/pkg/gateway/handlers"
	"github.com/pitchlab/voicerelay/pkg/gateway/lifecycle"
	"github.com/pitchlab/voicerelay/pkg/gateway/live/recording"
	"github.com/pitchlab/voicerelay/pkg/gateway/live/sessions"
	"github.com/pitchlab/voicerelay/pkg/gateway/metrics"
	"github.com/pitchlab/voicerelay/pkg/gateway/mw"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	metrics   *metrics.Metrics
	registry  *agents.Registry
	store     *recording.Store
	tracker   *sessions.Tracker
	lifecycle *lifecycle.Lifecycle
}

func New(cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	var provisioner agents.Provisioner
	if strings.TrimSpace(cfg.ProvisionerEndpoint) != "" {
		provisioner = agents.NewHTTPProvisioner(
			cfg.ProvisionerEndpoint,
			cfg.ProvisionerAPIKey,
			cfg.ProvisionerAPIVersion,
			cfg.ProvisionerTimeout,
		)
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		metrics:   metrics.NewMetrics("voicerelay"),
		registry:  agents.NewRegistry(logger, provisioner, cfg.DefaultModel),
		store:     recording.NewStore(cfg.RecordingStoreLimit),
		tracker:   sessions.NewTracker(cfg.MaxSessions),
		lifecycle: lifecycle.New(),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("GET /healthz", handlers.HealthHandler{})
	s.mux.Handle("GET /readyz", handlers.ReadyHandler{
		Config:    s.cfg,
		Lifecycle: s.lifecycle,
		Sessions:  s.tracker,
	})
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	agentsHandler := handlers.AgentsHandler{
		Logger:   s.logger,
		Registry: s.registry,
		Metrics:  s.metrics,
	}
	s.mux.HandleFunc("POST /v1/agents", agentsHandler.Create)
	s.mux.HandleFunc("GET /v1/agents/{id}", agentsHandler.Get)

	s.mux.HandleFunc("GET /v1/sessions/{id}/recording", handlers.RecordingsHandler{Store: s.store}.Get)

	s.mux.Handle("GET /v1/voice", handlers.VoiceHandler{
		Config:       s.cfg,
		Logger:       s.logger,
		Agents:       s.registry,
		Recordings:   s.store,
		LiveSessions: s.tracker,
		Lifecycle:    s.lifecycle,
		Metrics:      s.metrics,
	})

	// Everything else gets the JSON 404, not the stdlib text one.
	s.mux.Handle("/", handlers.NotFoundHandler{})
}

// Handler returns the mux behind the middleware chain.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining flips readiness so new sessions stop arriving. Live sessions
// keep running.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

// WarnLiveSessionsDraining starts a close handshake on every live session so
// well-behaved clients wrap up before the cancel deadline.
func (s *Server) WarnLiveSessionsDraining() {
	warned := s.tracker.WarnAll("draining", "gateway is shutting down")
	if warned > 0 {
		s.logger.Info("warned live sessions", "sessions", warned)
	}
}

// WaitLiveSessions blocks until every live session has finished or ctx
// expires; reports whether they all finished.
func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.tracker.Wait(ctx)
}

// CancelLiveSessions force-ends whatever is still running.
func (s *Server) CancelLiveSessions() {
	canceled := s.tracker.CancelAll()
	if canceled > 0 {
		s.logger.Warn("canceled live sessions at shutdown", "sessions", canceled)
	}
}
