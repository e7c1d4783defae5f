// Package protocol implements the wire vocabulary spoken between the relay,
// the browser client, and the upstream voice service. It classifies frames so
// the relay knows which ones to tap for recording or negotiation, builds the
// session configuration frame, and constructs validated upstream connection
// targets.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// Message types observed on the wire.
const (
	TypeSessionUpdate   = "session.update"
	TypeSessionCreated  = "session.created"
	TypeSessionUpdated  = "session.updated"
	TypeAvatarConnect   = "session.avatar.connect"
	TypeAudioInput      = "input_audio_buffer.append"
	TypeAudioOutput     = "response.audio.delta"
	TypeUserTranscript  = "conversation.item.input_audio_transcription.completed"
	TypeAgentTranscript = "response.audio_transcript.done"
	TypeProxyConnected  = "proxy.connected"
	TypeError           = "error"
)

// Session configuration constants.
const (
	turnDetectionType    = "azure_semantic_vad"
	noiseReductionType   = "azure_deep_noise_suppression"
	echoCancellationType = "server_echo_cancellation"
)

var defaultModalities = []string{"text", "audio"}

// Class says what a frame means to the relay. Every frame is forwarded
// verbatim regardless of class; the class only controls side effects
// (recording taps, negotiation handling).
type Class int

const (
	// ClassUnrecognized frames are forwarded unchanged with no side effects.
	ClassUnrecognized Class = iota
	// ClassAudioInput is a caller audio chunk (base64 in "audio").
	ClassAudioInput
	// ClassAudioOutput is an agent audio chunk (base64 in "delta").
	ClassAudioOutput
	// ClassUserTranscript is a finished caller turn transcript.
	ClassUserTranscript
	// ClassAgentTranscript is a finished agent turn transcript.
	ClassAgentTranscript
	// ClassNegotiation frames carry media connectivity material.
	ClassNegotiation
	// ClassLifecycle frames describe session state changes.
	ClassLifecycle
)

func (c Class) String() string {
	switch c {
	case ClassAudioInput:
		return "audio_input"
	case ClassAudioOutput:
		return "audio_output"
	case ClassUserTranscript:
		return "user_transcript"
	case ClassAgentTranscript:
		return "agent_transcript"
	case ClassNegotiation:
		return "negotiation"
	case ClassLifecycle:
		return "lifecycle"
	default:
		return "unrecognized"
	}
}

// Message is one classified frame plus the fields the relay taps.
type Message struct {
	Class      Class
	Type       string
	AudioB64   string
	Transcript string
}

// DecodeAudio decodes the frame's base64 audio payload.
func (m Message) DecodeAudio() ([]byte, error) {
	return base64.StdEncoding.DecodeString(m.AudioB64)
}

// Classify inspects a frame and reports what it means to the relay. It never
// fails: anything it cannot make sense of comes back ClassUnrecognized so the
// relay forwards it untouched.
func Classify(data []byte) Message {
	var envelope struct {
		Type       string `json:"type"`
		Audio      string `json:"audio"`
		Delta      string `json:"delta"`
		Transcript string `json:"transcript"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Message{Class: ClassUnrecognized}
	}
	typ := strings.TrimSpace(envelope.Type)

	switch typ {
	case TypeAudioInput:
		return Message{Class: ClassAudioInput, Type: typ, AudioB64: envelope.Audio}
	case TypeAudioOutput:
		return Message{Class: ClassAudioOutput, Type: typ, AudioB64: envelope.Delta}
	case TypeUserTranscript:
		return Message{Class: ClassUserTranscript, Type: typ, Transcript: envelope.Transcript}
	case TypeAgentTranscript:
		return Message{Class: ClassAgentTranscript, Type: typ, Transcript: envelope.Transcript}
	case TypeAvatarConnect:
		return Message{Class: ClassNegotiation, Type: typ}
	case TypeSessionUpdated:
		// session.updated doubles as the negotiation kickoff when the
		// upstream attaches connectivity parameters to it.
		if _, ok := ExtractICEServers(data); ok {
			return Message{Class: ClassNegotiation, Type: typ}
		}
		return Message{Class: ClassLifecycle, Type: typ}
	case TypeSessionUpdate, TypeSessionCreated:
		return Message{Class: ClassLifecycle, Type: typ}
	default:
		return Message{Class: ClassUnrecognized, Type: typ}
	}
}

// ExtractAgentID returns session.agent_id from a session.update frame. The
// first client frame of a session carries it; anything else reports false.
func ExtractAgentID(data []byte) (string, bool) {
	var frame struct {
		Type    string `json:"type"`
		Session struct {
			AgentID string `json:"agent_id"`
		} `json:"session"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return "", false
	}
	if frame.Type != TypeSessionUpdate {
		return "", false
	}
	id := strings.TrimSpace(frame.Session.AgentID)
	return id, id != ""
}

// Voice selects the synthetic voice for the session.
type Voice struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Avatar selects the rendered character for the session.
type Avatar struct {
	Character string `json:"character"`
	Style     string `json:"style"`
}

// Persona is the agent configuration embedded into the session for agents
// that exist only in this process. Remotely provisioned agents carry their
// persona server-side and must not embed one.
type Persona struct {
	Model             string
	Instructions      string
	Temperature       float64
	MaxResponseTokens int
}

// SessionConfig describes the session.update frame the relay sends upstream
// immediately after connecting, before any client traffic flows.
type SessionConfig struct {
	Voice   Voice
	Avatar  Avatar
	Persona *Persona
}

type sessionBody struct {
	Modalities                 []string  `json:"modalities"`
	TurnDetection              typeField `json:"turn_detection"`
	InputAudioNoiseReduction   typeField `json:"input_audio_noise_reduction"`
	InputAudioEchoCancellation typeField `json:"input_audio_echo_cancellation"`
	Avatar                     Avatar    `json:"avatar"`
	Voice                      Voice     `json:"voice"`
	Model                      string    `json:"model,omitempty"`
	Instructions               string    `json:"instructions,omitempty"`
	Temperature                *float64  `json:"temperature,omitempty"`
	MaxResponseOutputTokens    int       `json:"max_response_output_tokens,omitempty"`
}

type typeField struct {
	Type string `json:"type"`
}

// BuildConfigMessage renders the session configuration frame.
func BuildConfigMessage(cfg SessionConfig) ([]byte, error) {
	body := sessionBody{
		Modalities:                 defaultModalities,
		TurnDetection:              typeField{Type: turnDetectionType},
		InputAudioNoiseReduction:   typeField{Type: noiseReductionType},
		InputAudioEchoCancellation: typeField{Type: echoCancellationType},
		Avatar:                     cfg.Avatar,
		Voice:                      cfg.Voice,
	}
	if p := cfg.Persona; p != nil {
		body.Model = p.Model
		body.Instructions = p.Instructions
		temp := p.Temperature
		body.Temperature = &temp
		body.MaxResponseOutputTokens = p.MaxResponseTokens
	}
	return json.Marshal(struct {
		Type    string      `json:"type"`
		Session sessionBody `json:"session"`
	}{Type: TypeSessionUpdate, Session: body})
}

// ConnectedAck tells the client the upstream leg is up and configured.
type ConnectedAck struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// NewConnectedAck builds the ready signal sent once per session.
func NewConnectedAck(sessionID string) ConnectedAck {
	return ConnectedAck{
		Type:      TypeProxyConnected,
		SessionID: sessionID,
		Message:   "connected to voice service",
	}
}

// ErrorFrame mirrors the upstream error shape so clients only ever parse one
// error format, whichever side produced it.
type ErrorFrame struct {
	Type  string    `json:"type"`
	Error ErrorBody `json:"error"`
}

// ErrorBody carries a short stable code and a human-readable message.
type ErrorBody struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// NewErrorFrame builds an error frame for the client.
func NewErrorFrame(code, message string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Error: ErrorBody{Code: code, Message: message}}
}
