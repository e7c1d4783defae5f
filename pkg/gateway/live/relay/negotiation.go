package relay

import (
	"log/slog"
	"sync"

	"github.com/pitchlab/voicerelay/pkg/gateway/live/protocol"
)

// NegotiationPhase tracks where media negotiation stands for a session.
// Negotiation is best-effort relative to the audio/text session: a frame
// arriving out of phase is logged and ignored, never fatal.
type NegotiationPhase int

const (
	PhaseIdle NegotiationPhase = iota
	PhaseAwaitingAnswer
	PhaseConnected
)

func (p NegotiationPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingAnswer:
		return "awaiting_answer"
	case PhaseConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Negotiator is the client-side media-negotiation collaborator. It receives
// the upstream's connectivity parameters exactly once per session.
type Negotiator interface {
	HandleConnectivityParams(sessionID string, servers []protocol.ICEServer)
}

// NewLoggingNegotiator returns the production default. The forwarded
// session.updated frame already reaches the client verbatim, so in-process
// there is nothing to act on; the handoff is recorded for operators.
func NewLoggingNegotiator(log *slog.Logger) Negotiator {
	if log == nil {
		log = slog.Default()
	}
	return loggingNegotiator{log: log}
}

type loggingNegotiator struct {
	log *slog.Logger
}

func (n loggingNegotiator) HandleConnectivityParams(sessionID string, servers []protocol.ICEServer) {
	n.log.Info("negotiation connectivity handed off", "session_id", sessionID, "servers", len(servers))
}

// negotiationState is touched by both duties, one frame at a time.
type negotiationState struct {
	mu    sync.Mutex
	phase NegotiationPhase
}

// beginAnswerWait moves Idle to AwaitingAnswer; reports whether this call
// won the transition.
func (n *negotiationState) beginAnswerWait() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.phase != PhaseIdle {
		return false
	}
	n.phase = PhaseAwaitingAnswer
	return true
}

// completeWithOffer moves AwaitingAnswer to Connected.
func (n *negotiationState) completeWithOffer() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.phase != PhaseAwaitingAnswer {
		return false
	}
	n.phase = PhaseConnected
	return true
}

func (n *negotiationState) current() NegotiationPhase {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.phase
}

// negotiateFromUpstream inspects a session-negotiation frame from upstream.
// The frame is forwarded verbatim either way; connectivity parameters reach
// the negotiator exactly once per session.
func (s *Session) negotiateFromUpstream(data []byte) {
	servers, ok := protocol.ExtractICEServers(data)
	if !ok {
		return
	}
	if !s.neg.beginAnswerWait() {
		s.met.RecordNegotiationOutOfPhase()
		s.log.Warn("negotiation frame out of phase",
			"session_id", s.id, "origin", sideUpstream, "phase", s.neg.current().String())
		return
	}
	s.negotiator.HandleConnectivityParams(s.id, servers)
}

// negotiateFromClient rewrites an in-phase client offer into the canonical
// avatar-connect shape; the rewrite replaces the original frame on the
// ordered outbound queue, so exactly one message goes upstream for it.
// Negotiation frames without an offer pass through unchanged; out-of-phase
// offers are dropped.
func (s *Session) negotiateFromClient(data []byte) ([]byte, bool) {
	sdp, ok := protocol.ExtractClientOffer(data)
	if !ok {
		return data, true
	}
	if !s.neg.completeWithOffer() {
		s.met.RecordNegotiationOutOfPhase()
		s.log.Warn("negotiation frame out of phase",
			"session_id", s.id, "origin", sideClient, "phase", s.neg.current().String())
		return nil, false
	}
	wrapped, err := protocol.WrapClientOffer(sdp)
	if err != nil {
		return data, true
	}
	return wrapped, true
}
