// Package relay carries one live voice session: a client websocket on one
// side, the upstream voice service on the other, and two forwarding duties
// between them. Each duty tapes what it forwards into the session's recording
// buffer and hands negotiation frames to the sub-relay inline, so every frame
// leaves in the order it arrived on its side.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pitchlab/voicerelay/pkg/gateway/live/protocol"
	"github.com/pitchlab/voicerelay/pkg/gateway/live/recording"
	"github.com/pitchlab/voicerelay/pkg/gateway/metrics"
)

// State is the session lifecycle stage. Closed and Failed are terminal.
type State int

const (
	StateConnecting State = iota
	StateActive
	StateDraining
	StateClosed
	StateFailed
)

func (st State) String() string {
	switch st {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(st))
	}
}

// Coarse close reasons shown to the client. Upstream protocol internals never
// leak past these.
const (
	ReasonConnectTimeout = "connect-timeout"
	ReasonAuthFailure    = "auth-failure"
	ReasonTransportDrop  = "transport-drop"
	ReasonNormalEnd      = "normal-end"
)

const (
	sideClient   = "client"
	sideUpstream = "upstream"

	directionClientToUpstream = "client_to_upstream"
	directionUpstreamToClient = "upstream_to_client"
)

// Conn is the slice of a websocket connection the relay drives. It is
// satisfied by *websocket.Conn.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Config bounds the relay's transport behavior. QueueSize is the bounded
// per-direction forwarding queue; when it fills, the sending duty blocks
// until the writer catches up or the session ends.
type Config struct {
	ConnectTimeout          time.Duration
	QueueSize               int
	WriteTimeout            time.Duration
	PingInterval            time.Duration
	DrainTimeout            time.Duration
	MaxUpstreamMessageBytes int64
}

// Dependencies carries everything a session needs. ClientConn, Target,
// ConfigMessage, SessionID, Metrics and Recording are required; the rest
// default to production implementations.
type Dependencies struct {
	ClientConn    Conn
	Dialer        Dialer
	Target        protocol.Target
	APIKey        string
	ConfigMessage []byte
	SessionID     string
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
	Recording     *recording.Buffer
	Negotiator    Negotiator
	Config        Config
	Now           func() time.Time
}

// Session relays one client connection to one upstream connection. It owns
// both legs for its whole lifetime; there is no reconnect, a broken leg ends
// the session.
type Session struct {
	id         string
	log        *slog.Logger
	met        *metrics.Metrics
	client     Conn
	dialer     Dialer
	target     protocol.Target
	apiKey     string
	configMsg  []byte
	buf        *recording.Buffer
	negotiator Negotiator
	cfg        Config
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	neg negotiationState

	mu     sync.Mutex
	state  State
	reason string

	// Sequence counters are duty-owned: userSeq by the client duty,
	// agentSeq by the upstream duty.
	userSeq  int64
	agentSeq int64
}

type frame struct {
	messageType int
	data        []byte
}

type dutyResult struct {
	side     string
	graceful bool
	err      error
}

// New validates dependencies and returns a session in Connecting state.
func New(deps Dependencies) (*Session, error) {
	if deps.ClientConn == nil {
		return nil, fmt.Errorf("client connection is required")
	}
	if deps.Recording == nil {
		return nil, fmt.Errorf("recording buffer is required")
	}
	if deps.Metrics == nil {
		return nil, fmt.Errorf("metrics are required")
	}
	if len(deps.ConfigMessage) == 0 {
		return nil, fmt.Errorf("session configuration message is required")
	}
	if strings.TrimSpace(deps.SessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Dialer == nil {
		deps.Dialer = NewDialer()
	}
	if deps.Negotiator == nil {
		deps.Negotiator = NewLoggingNegotiator(deps.Logger)
	}
	if deps.Config.ConnectTimeout <= 0 {
		deps.Config.ConnectTimeout = 10 * time.Second
	}
	if deps.Config.QueueSize <= 0 {
		deps.Config.QueueSize = 64
	}
	if deps.Config.WriteTimeout <= 0 {
		deps.Config.WriteTimeout = 10 * time.Second
	}
	if deps.Config.PingInterval <= 0 {
		deps.Config.PingInterval = 20 * time.Second
	}
	if deps.Config.DrainTimeout <= 0 {
		deps.Config.DrainTimeout = 3 * time.Second
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:         deps.SessionID,
		log:        deps.Logger,
		met:        deps.Metrics,
		client:     deps.ClientConn,
		dialer:     deps.Dialer,
		target:     deps.Target,
		apiKey:     deps.APIKey,
		configMsg:  deps.ConfigMessage,
		buf:        deps.Recording,
		negotiator: deps.Negotiator,
		cfg:        deps.Config,
		now:        deps.Now,
		ctx:        ctx,
		cancel:     cancel,
		state:      StateConnecting,
	}, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// State reports the current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CloseReason reports the coarse close reason once the session has settled,
// empty before that.
func (s *Session) CloseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Cancel aborts the session immediately. Blocked duties unblock, both legs
// close, the recording freezes with whatever it holds.
func (s *Session) Cancel() {
	s.cancel()
}

// Warn asks the client to wrap up by starting a close handshake from our
// side. A well-behaved client answers with its own close frame, which drains
// the session normally.
func (s *Session) Warn(code, message string) error {
	text := code
	if message != "" {
		text = code + ": " + message
	}
	if len(text) > 120 {
		text = text[:120]
	}
	return s.client.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, text), s.controlDeadline())
}

// Run drives the session to a terminal state and returns once both legs are
// closed and the recording is frozen. The error reports why a session failed;
// a drained session returns nil.
func (s *Session) Run() error {
	defer s.cancel()

	start := s.now()
	s.met.RecordSessionStart()

	// Connecting: open the upstream leg and put the session configuration
	// in flight before anything is relayed.
	dialStart := s.now()
	upstream, dialReason, err := s.dial()
	if err != nil {
		s.met.RecordError("connect")
		s.failBeforeActive(dialReason, "upstream connection failed", start)
		return fmt.Errorf("connect upstream: %w", err)
	}
	s.met.RecordUpstreamConnect(s.now().Sub(dialStart))
	if s.cfg.MaxUpstreamMessageBytes > 0 {
		upstream.SetReadLimit(s.cfg.MaxUpstreamMessageBytes)
	}

	if err := s.writeText(upstream, s.configMsg); err != nil {
		_ = upstream.Close()
		s.met.RecordError("configure")
		s.failBeforeActive(ReasonTransportDrop, "could not configure upstream session", start)
		return fmt.Errorf("send session configuration: %w", err)
	}

	s.transition(StateActive)

	ack, err := json.Marshal(protocol.NewConnectedAck(s.id))
	if err == nil {
		err = s.writeText(s.client, ack)
	}
	if err != nil {
		_ = upstream.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), s.controlDeadline())
		_ = upstream.Close()
		_ = s.client.Close()
		s.met.RecordError("ack")
		s.finish(StateFailed, ReasonTransportDrop, start)
		return fmt.Errorf("ack client: %w", err)
	}

	s.log.Info("voice session active", "session_id", s.id, "route", s.target.RouteKind())

	// Active: one bounded ordered queue per direction, one writer per
	// destination, one reading duty per source.
	toUpstream := make(chan frame, s.cfg.QueueSize)
	toClient := make(chan frame, s.cfg.QueueSize)

	clientWriteDone := make(chan error, 1)
	upstreamWriteDone := make(chan error, 1)
	results := make(chan dutyResult, 2)

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		w := &outboundWriter{ws: s.client, ctx: s.ctx, queue: toClient,
			pingInterval: s.cfg.PingInterval, writeTimeout: s.cfg.WriteTimeout}
		clientWriteDone <- w.run()
	}()
	go func() {
		defer wg.Done()
		w := &outboundWriter{ws: upstream, ctx: s.ctx, queue: toUpstream,
			pingInterval: s.cfg.PingInterval, writeTimeout: s.cfg.WriteTimeout}
		upstreamWriteDone <- w.run()
	}()
	go func() {
		defer wg.Done()
		s.pumpClient(toUpstream, results)
	}()
	go func() {
		defer wg.Done()
		s.pumpUpstream(upstream, toClient, results)
	}()

	var first dutyResult
	select {
	case first = <-results:
	case err := <-clientWriteDone:
		first = writerResult(sideClient, err)
	case err := <-upstreamWriteDone:
		first = writerResult(sideUpstream, err)
	}

	final := StateClosed
	reason := ReasonNormalEnd
	var runErr error

	switch {
	case errors.Is(first.err, context.Canceled):
		// Cancel() ended the session from our side; say goodbye to both
		// legs instead of leaving them to time out.
		s.transition(StateDraining)
		_ = s.client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), s.controlDeadline())
		_ = upstream.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), s.controlDeadline())

	case first.graceful:
		// One side closed cleanly: flush what it already queued toward the
		// still-open side, then close that leg with a close frame.
		s.transition(StateDraining)
		if first.side == sideClient {
			close(toUpstream)
			s.waitWriter(upstreamWriteDone)
			_ = upstream.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), s.controlDeadline())
		} else {
			close(toClient)
			s.waitWriter(clientWriteDone)
			_ = s.client.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), s.controlDeadline())
		}

	default:
		final = StateFailed
		reason = ReasonTransportDrop
		runErr = fmt.Errorf("%s transport: %w", first.side, first.err)
		s.met.RecordError(first.side + "_transport")
		s.cancel()
		if first.side == sideUpstream {
			// The client leg is presumed healthy: tell it why the session
			// died before closing. The text frame needs the client writer
			// gone first; the close frame is safe regardless.
			if s.waitWriter(clientWriteDone) {
				s.writeClientError(reason, "upstream connection lost")
			}
			_ = s.client.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, reason), s.controlDeadline())
		} else {
			_ = upstream.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), s.controlDeadline())
		}
	}

	s.cancel()
	_ = upstream.Close()
	_ = s.client.Close()
	wg.Wait()

	s.finish(final, reason, start)
	return runErr
}

// pumpClient is the client→upstream duty: read, tape, forward in order.
func (s *Session) pumpClient(out chan<- frame, results chan<- dutyResult) {
	for {
		messageType, data, err := s.client.ReadMessage()
		if err != nil {
			results <- dutyResult{side: sideClient, graceful: isGracefulClose(err), err: err}
			return
		}
		fwd, ok := s.tapClient(data)
		if !ok {
			continue
		}
		select {
		case out <- frame{messageType: messageType, data: fwd}:
			s.met.RecordForwarded(directionClientToUpstream)
		case <-s.ctx.Done():
			results <- dutyResult{side: sideClient, err: s.ctx.Err()}
			return
		}
	}
}

// pumpUpstream is the upstream→client duty.
func (s *Session) pumpUpstream(upstream Conn, out chan<- frame, results chan<- dutyResult) {
	for {
		messageType, data, err := upstream.ReadMessage()
		if err != nil {
			results <- dutyResult{side: sideUpstream, graceful: isGracefulClose(err), err: err}
			return
		}
		s.tapUpstream(data)
		select {
		case out <- frame{messageType: messageType, data: data}:
			s.met.RecordForwarded(directionUpstreamToClient)
		case <-s.ctx.Done():
			results <- dutyResult{side: sideUpstream, err: s.ctx.Err()}
			return
		}
	}
}

// tapClient records what the client sent and reports what to forward. Client
// audio and finalized user transcripts land in the recording; negotiation
// frames may be rewritten by the sub-relay.
func (s *Session) tapClient(data []byte) ([]byte, bool) {
	msg := protocol.Classify(data)
	switch msg.Class {
	case protocol.ClassAudioInput:
		s.recordAudio(recording.RoleUser, directionClientToUpstream, msg)
	case protocol.ClassUserTranscript:
		s.recordTurn(recording.RoleUser, msg.Transcript)
	case protocol.ClassNegotiation:
		return s.negotiateFromClient(data)
	}
	return data, true
}

// tapUpstream records agent audio and finalized agent transcripts. Upstream
// frames are always forwarded verbatim; negotiation frames are additionally
// shown to the sub-relay.
func (s *Session) tapUpstream(data []byte) {
	msg := protocol.Classify(data)
	switch msg.Class {
	case protocol.ClassAudioOutput:
		s.recordAudio(recording.RoleAgent, directionUpstreamToClient, msg)
	case protocol.ClassAgentTranscript:
		s.recordTurn(recording.RoleAgent, msg.Transcript)
	case protocol.ClassNegotiation:
		s.negotiateFromUpstream(data)
	}
}

func (s *Session) recordAudio(role recording.Role, direction string, msg protocol.Message) {
	raw, err := msg.DecodeAudio()
	if err != nil {
		s.buf.MarkDropped(role)
		s.met.RecordDroppedSegment(string(role), "decode")
		s.log.Warn("audio segment dropped", "session_id", s.id, "role", role, "cause", "decode", "error", err)
		return
	}
	if err := s.buf.AppendAudio(role, s.nextSeq(role), raw); err != nil {
		cause := dropCause(err)
		s.met.RecordDroppedSegment(string(role), cause)
		s.log.Warn("audio segment dropped", "session_id", s.id, "role", role, "cause", cause)
		return
	}
	s.met.RecordAudio(direction, len(raw))
}

func (s *Session) recordTurn(role recording.Role, text string) {
	if err := s.buf.AppendTurn(role, text); err != nil {
		s.log.Warn("turn dropped", "session_id", s.id, "role", role, "error", err)
	}
}

func (s *Session) nextSeq(role recording.Role) int64 {
	if role == recording.RoleAgent {
		seq := s.agentSeq
		s.agentSeq++
		return seq
	}
	seq := s.userSeq
	s.userSeq++
	return seq
}

func dropCause(err error) string {
	switch {
	case errors.Is(err, recording.ErrDuplicateSequence):
		return "duplicate"
	case errors.Is(err, recording.ErrBudgetExceeded):
		return "budget"
	case errors.Is(err, recording.ErrFrozen):
		return "frozen"
	default:
		return "append"
	}
}

func (s *Session) transition(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed || s.state == StateFailed {
		return false
	}
	s.state = to
	return true
}

// settle moves to a terminal state exactly once and pins the close reason.
func (s *Session) settle(final State, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed || s.state == StateFailed {
		return
	}
	s.state = final
	s.reason = reason
}

func (s *Session) finish(final State, reason string, start time.Time) {
	s.settle(final, reason)
	s.buf.Freeze()
	duration := s.now().Sub(start)
	s.met.RecordSessionEnd(s.target.RouteKind(), reason, duration)
	s.log.Info("voice session ended",
		"session_id", s.id,
		"state", s.State().String(),
		"reason", reason,
		"duration_ms", duration.Milliseconds())
}

// failBeforeActive settles a Connecting-stage failure. The recording freezes
// with whatever it holds (normally nothing), so a snapshot of a session that
// never connected is an empty result, not an error.
func (s *Session) failBeforeActive(reason, message string, start time.Time) {
	s.writeClientError(reason, message)
	_ = s.client.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseInternalServerErr, reason), s.controlDeadline())
	_ = s.client.Close()
	s.finish(StateFailed, reason, start)
}

func (s *Session) writeClientError(code, message string) {
	payload, err := json.Marshal(protocol.NewErrorFrame(code, message))
	if err != nil {
		return
	}
	_ = s.writeText(s.client, payload)
}

func (s *Session) writeText(conn Conn, payload []byte) error {
	if err := conn.SetWriteDeadline(s.controlDeadline()); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *Session) controlDeadline() time.Time {
	return time.Now().Add(s.cfg.WriteTimeout)
}

// waitWriter gives a writer up to the drain timeout to exit; reports whether
// it did.
func (s *Session) waitWriter(done <-chan error) bool {
	timer := time.NewTimer(s.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

func writerResult(side string, err error) dutyResult {
	if err == nil {
		err = errors.New("writer stopped unexpectedly")
	}
	return dutyResult{side: side, err: err}
}

func isGracefulClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
