// Package agents holds the registry of virtual customer personas that voice
// sessions run against. Agents are created over the management API and live
// for the lifetime of the process; sessions look them up by id when they
// start. Nothing deletes an agent, so a client that created one can always
// open a session against it later.
package agents

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes where an agent's persona is applied.
type Kind string

const (
	// KindEphemeral agents exist only in this process. Their persona is
	// embedded into the session configuration message on every connect.
	KindEphemeral Kind = "ephemeral"
	// KindPersistent agents are provisioned on the remote agent service and
	// referenced by id when connecting.
	KindPersistent Kind = "persistent"
)

const (
	defaultTemperature       = 0.7
	defaultMaxResponseTokens = 2000

	localAgentIDPrefix    = "local-agent"
	provisionedNamePrefix = "agent"
)

// baselineInstructions is prepended to every agent's persona instructions so
// the voiced customer behaves like a person on a phone call regardless of how
// the scenario author wrote the persona.
const baselineInstructions = `CRITICAL INTERACTION GUIDELINES:
- You are playing the role of a CUSTOMER. The user is the SELLER who is practicing their sales skills.
- Keep responses SHORT and conversational (3 sentences max, as if speaking on phone)
- ALWAYS stay in character as the customer - never break role or acknowledge you're an AI
- Simulate natural human speech patterns with pauses, "um", "well", occasional hesitation
- Respond as a real customer would in this business context
- Use natural phone conversation style - direct, clear, but personable
- Show genuine human emotions and reactions appropriate to the situation as a customer
- Ask follow-up questions to keep the conversation flowing naturally
- Avoid overly formal or robotic language - speak like a real customer would`

var (
	// ErrNotFound is returned when no agent matches the requested id.
	ErrNotFound = errors.New("agent not found")
	// ErrInvalidParams is returned when the caller-supplied fields fail
	// validation. Nothing is registered or provisioned in that case.
	ErrInvalidParams = errors.New("invalid agent parameters")
	// ErrCreationFailed is returned when a persistent agent could not be
	// provisioned on the remote agent service; no partial record is kept.
	ErrCreationFailed = errors.New("agent creation failed")
)

// Agent is one virtual customer persona.
type Agent struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Instructions      string    `json:"instructions"`
	Model             string    `json:"model"`
	Temperature       float64   `json:"temperature"`
	MaxResponseTokens int       `json:"max_response_tokens"`
	Kind              Kind      `json:"kind"`
	CreatedAt         time.Time `json:"created_at"`
}

// EffectiveInstructions is the full prompt the upstream service receives:
// the behavioral baseline followed by the persona instructions.
func (a Agent) EffectiveInstructions() string {
	persona := strings.TrimSpace(a.Instructions)
	if persona == "" {
		return baselineInstructions
	}
	return baselineInstructions + "\n\n" + persona
}

// CreateParams carries the caller-supplied fields for a new agent. Nil
// Temperature and MaxResponseTokens take the registry defaults; an empty
// Model takes the configured default model; an empty Kind means ephemeral.
type CreateParams struct {
	Name              string
	Instructions      string
	Model             string
	Temperature       *float64
	MaxResponseTokens *int
	Kind              Kind
}

// ProvisionSpec is what the remote agent service needs to create an agent.
type ProvisionSpec struct {
	Name         string
	Model        string
	Instructions string
	Temperature  float64
}

// Provisioner creates agents on a remote agent service and returns the
// service-assigned id.
type Provisioner interface {
	Provision(ctx context.Context, spec ProvisionSpec) (string, error)
}

// Registry stores agents keyed by id. Safe for concurrent use.
type Registry struct {
	log          *slog.Logger
	provisioner  Provisioner
	defaultModel string

	mu   sync.RWMutex
	byID map[string]Agent
}

// NewRegistry returns an empty registry. provisioner may be nil, in which
// case persistent agents cannot be created.
func NewRegistry(log *slog.Logger, provisioner Provisioner, defaultModel string) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:          log,
		provisioner:  provisioner,
		defaultModel: defaultModel,
		byID:         make(map[string]Agent),
	}
}

// CreateAgent validates params, provisions remotely for persistent agents,
// and registers the result. A provisioning failure registers nothing.
func (r *Registry) CreateAgent(ctx context.Context, params CreateParams) (Agent, error) {
	agent, err := r.buildAgent(params)
	if err != nil {
		return Agent{}, err
	}

	switch agent.Kind {
	case KindEphemeral:
		agent.ID = fmt.Sprintf("%s-%s-%s", localAgentIDPrefix, slugify(agent.Name), shortID())
	case KindPersistent:
		if r.provisioner == nil {
			return Agent{}, fmt.Errorf("%w: no provisioner configured for persistent agents", ErrCreationFailed)
		}
		spec := ProvisionSpec{
			Name:         fmt.Sprintf("%s-%s-%s", provisionedNamePrefix, slugify(agent.Name), shortID()),
			Model:        agent.Model,
			Instructions: agent.EffectiveInstructions(),
			Temperature:  agent.Temperature,
		}
		remoteID, err := r.provisioner.Provision(ctx, spec)
		if err != nil {
			r.log.Error("agent provisioning failed", "name", agent.Name, "error", err)
			return Agent{}, fmt.Errorf("%w: %v", ErrCreationFailed, err)
		}
		agent.ID = remoteID
	}

	r.mu.Lock()
	r.byID[agent.ID] = agent
	r.mu.Unlock()

	r.log.Info("agent created", "agent_id", agent.ID, "kind", agent.Kind, "model", agent.Model)
	return agent, nil
}

// GetAgent returns the agent with the given id, or ErrNotFound.
func (r *Registry) GetAgent(id string) (Agent, error) {
	r.mu.RLock()
	agent, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return Agent{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return agent, nil
}

func (r *Registry) buildAgent(params CreateParams) (Agent, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return Agent{}, fmt.Errorf("%w: name is required", ErrInvalidParams)
	}

	kind := params.Kind
	if kind == "" {
		kind = KindEphemeral
	}
	if kind != KindEphemeral && kind != KindPersistent {
		return Agent{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidParams, params.Kind)
	}

	model := strings.TrimSpace(params.Model)
	if model == "" {
		model = r.defaultModel
	}

	temperature := defaultTemperature
	if params.Temperature != nil {
		temperature = *params.Temperature
	}
	if temperature < 0 || temperature > 2 {
		return Agent{}, fmt.Errorf("%w: temperature %v out of range [0, 2]", ErrInvalidParams, temperature)
	}

	maxTokens := defaultMaxResponseTokens
	if params.MaxResponseTokens != nil {
		maxTokens = *params.MaxResponseTokens
	}
	if maxTokens <= 0 {
		return Agent{}, fmt.Errorf("%w: max_response_tokens must be > 0", ErrInvalidParams)
	}

	return Agent{
		Name:              name,
		Instructions:      params.Instructions,
		Model:             model,
		Temperature:       temperature,
		MaxResponseTokens: maxTokens,
		Kind:              kind,
		CreatedAt:         time.Now().UTC(),
	}, nil
}

func shortID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])[:8]
}

// slugify keeps generated agent ids url- and log-friendly when callers name
// agents with spaces or punctuation.
func slugify(name string) string {
	var b strings.Builder
	lastHyphen := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
