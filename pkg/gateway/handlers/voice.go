package handlers

import (
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pitchlab/voicerelay/pkg/gateway/agents"
	"github.com/pitchlab/voicerelay/pkg/gateway/apierror"
	"github.com/pitchlab/voicerelay/pkg/gateway/config"
	"github.com/pitchlab/voicerelay/pkg/gateway/lifecycle"
	"github.com/pitchlab/voicerelay/pkg/gateway/live/protocol"
	"github.com/pitchlab/voicerelay/pkg/gateway/live/recording"
	"github.com/pitchlab/voicerelay/pkg/gateway/live/relay"
	"github.com/pitchlab/voicerelay/pkg/gateway/live/sessions"
	"github.com/pitchlab/voicerelay/pkg/gateway/metrics"
)

// VoiceHandler handles /v1/voice websocket sessions. It owns the handshake:
// upgrade, read the client's opening session.update, resolve the agent
// routing, then hand the connection to a relay session for the rest of the
// call.
type VoiceHandler struct {
	Config       config.Config
	Logger       *slog.Logger
	Agents       *agents.Registry
	Recordings   *recording.Store
	LiveSessions *sessions.Tracker
	Lifecycle    *lifecycle.Lifecycle
	Metrics      *metrics.Metrics

	// Dialer and Negotiator are optional; tests inject fakes, production
	// leaves them nil for the relay defaults.
	Dialer     relay.Dialer
	Negotiator relay.Negotiator
}

func (h VoiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Lifecycle.IsDraining() {
		writeErrorJSON(w, &apierror.Error{
			Type:      apierror.ErrOverloaded,
			Message:   "gateway is draining",
			RequestID: requestIDFromContext(r.Context()),
		}, http.StatusServiceUnavailable)
		return
	}
	if !h.originAllowed(r) {
		writeErrorJSON(w, &apierror.Error{
			Type:      apierror.ErrInvalidRequest,
			Message:   "origin is not allowed",
			Param:     "Origin",
			RequestID: requestIDFromContext(r.Context()),
		}, http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		HandshakeTimeout: h.Config.HandshakeTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		// Origin was checked above against the configured allowlist.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.MaxClientMessageBytes > 0 {
		conn.SetReadLimit(h.Config.MaxClientMessageBytes)
	}

	handshakeTimeout := h.Config.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 5 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	messageType, firstFrame, err := conn.ReadMessage()
	if err != nil {
		h.writeWSError(conn, "bad_handshake", "failed to read opening session.update")
		return
	}
	if messageType != websocket.TextMessage {
		h.writeWSError(conn, "bad_handshake", "first frame must be a text session.update")
		return
	}
	// The relay never sets read deadlines once the session is active;
	// silence between turns is normal on a voice call.
	_ = conn.SetReadDeadline(time.Time{})

	// The opening frame is consumed here, not forwarded: the relay sends its
	// own canonical configuration upstream.
	agentID, _ := protocol.ExtractAgentID(firstFrame)
	route, persona, ephemeral := h.resolveRoute(agentID)

	target, err := protocol.NewTarget(h.Config.UpstreamEndpoint, h.Config.UpstreamAPIVersion, route)
	if err != nil {
		h.writeWSError(conn, "bad_handshake", "invalid session routing")
		return
	}
	configMsg, err := protocol.BuildConfigMessage(protocol.SessionConfig{
		Voice:   protocol.Voice{Name: h.Config.VoiceName, Type: h.Config.VoiceType},
		Avatar:  protocol.Avatar{Character: h.Config.AvatarCharacter, Style: h.Config.AvatarStyle},
		Persona: persona,
	})
	if err != nil {
		h.writeWSError(conn, "internal", "failed to build session configuration")
		return
	}

	sessionID := newSessionID()
	buf := recording.New(h.Config.RecordingMaxAudioBytes, h.Config.RecordingMaxTurns)

	sess, err := relay.New(relay.Dependencies{
		ClientConn:    conn,
		Dialer:        h.Dialer,
		Target:        target,
		APIKey:        h.Config.UpstreamAPIKey,
		ConfigMessage: configMsg,
		SessionID:     sessionID,
		Logger:        h.Logger,
		Metrics:       h.Metrics,
		Recording:     buf,
		Negotiator:    h.Negotiator,
		Config: relay.Config{
			ConnectTimeout:          h.Config.ConnectTimeout,
			QueueSize:               h.Config.RelayQueueSize,
			WriteTimeout:            h.Config.WriteTimeout,
			PingInterval:            h.Config.PingInterval,
			DrainTimeout:            h.Config.DrainTimeout,
			MaxUpstreamMessageBytes: h.Config.MaxUpstreamMessageBytes,
		},
	})
	if err != nil {
		h.writeWSError(conn, "internal", "failed to initialize session")
		return
	}

	unregister := func() {}
	if h.LiveSessions != nil {
		var regErr error
		unregister, regErr = h.LiveSessions.Register(sessionID, sessions.Handle{
			AgentID:   agentID,
			Ephemeral: ephemeral,
			Cancel:    sess.Cancel,
			Warn:      sess.Warn,
		})
		if regErr != nil {
			code := "session_limit"
			if errors.Is(regErr, sessions.ErrAgentInUse) {
				code = "agent_in_use"
			}
			h.writeWSError(conn, code, regErr.Error())
			return
		}
	}
	defer unregister()

	if h.Recordings != nil {
		h.Recordings.Add(sessionID, buf)
	}

	if err := sess.Run(); err != nil {
		if h.Logger != nil {
			h.Logger.Warn("voice session ended with error",
				"session_id", sessionID,
				"request_id", requestIDFromContext(r.Context()),
				"error", err,
			)
		}
	}
}

// resolveRoute turns the client-supplied agent id into upstream routing. A
// registry hit routes ephemeral agents by model with the persona embedded in
// the configuration frame, and persistent agents by their provisioned id. An
// unknown non-empty id is passed through as an agent route so agents
// provisioned out of band keep working. No id at all means the default model
// with no persona.
func (h VoiceHandler) resolveRoute(agentID string) (protocol.Route, *protocol.Persona, bool) {
	if agentID == "" {
		return protocol.Route{Model: h.Config.DefaultModel}, nil, false
	}

	agent, err := h.Agents.GetAgent(agentID)
	if err != nil {
		return protocol.Route{AgentID: agentID, ProjectName: h.Config.UpstreamProject}, nil, false
	}

	if agent.Kind == agents.KindEphemeral {
		return protocol.Route{Model: agent.Model}, &protocol.Persona{
			Model:             agent.Model,
			Instructions:      agent.EffectiveInstructions(),
			Temperature:       agent.Temperature,
			MaxResponseTokens: agent.MaxResponseTokens,
		}, true
	}
	return protocol.Route{AgentID: agent.ID, ProjectName: h.Config.UpstreamProject}, nil, false
}

func (h VoiceHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

func (h VoiceHandler) writeWSError(conn *websocket.Conn, code, message string) {
	_ = conn.WriteJSON(protocol.NewErrorFrame(code, message))
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message),
		time.Now().Add(2*time.Second))
}

func newSessionID() string {
	u := uuid.New()
	return "vs_" + hex.EncodeToString(u[:])[:8]
}
