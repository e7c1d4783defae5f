package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pitchlab/voicerelay/pkg/gateway/config"
	"github.com/pitchlab/voicerelay/pkg/gateway/lifecycle"
	"github.com/pitchlab/voicerelay/pkg/gateway/live/sessions"
)

type HealthHandler struct{}

func (HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports whether the process should receive new sessions.
// Draining takes it out of rotation ahead of shutdown.
type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	Sessions  *sessions.Tracker
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK           bool     `json:"ok"`
		Draining     bool     `json:"draining"`
		LiveSessions int      `json:"live_sessions"`
		UptimeS      int64    `json:"uptime_s"`
		Issues       []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 3)

	draining := h.Lifecycle.IsDraining()
	if draining {
		issues = append(issues, "draining")
	}
	if strings.TrimSpace(h.Config.UpstreamEndpoint) == "" {
		issues = append(issues, "upstream endpoint not configured")
	}
	if strings.TrimSpace(h.Config.UpstreamAPIKey) == "" {
		issues = append(issues, "upstream api key not configured")
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	liveSessions := 0
	if h.Sessions != nil {
		liveSessions = h.Sessions.Count()
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:           ok,
		Draining:     draining,
		LiveSessions: liveSessions,
		UptimeS:      int64(h.Lifecycle.Uptime().Seconds()),
		Issues:       issues,
	})
}
