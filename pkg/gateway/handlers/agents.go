package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/pitchlab/voicerelay/pkg/gateway/agents"
	"github.com/pitchlab/voicerelay/pkg/gateway/apierror"
	"github.com/pitchlab/voicerelay/pkg/gateway/metrics"
)

const maxAgentBodyBytes = 1 << 20

// AgentsHandler serves the agent management endpoints.
type AgentsHandler struct {
	Logger   *slog.Logger
	Registry *agents.Registry
	Metrics  *metrics.Metrics
}

type createAgentRequest struct {
	Name         string   `json:"name"`
	Instructions string   `json:"instructions"`
	Model        string   `json:"model"`
	Temperature  *float64 `json:"temperature"`
	MaxTokens    *int     `json:"max_tokens"`
	Kind         string   `json:"kind"`
}

func (h AgentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAgentBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeErrorJSON(w, &apierror.Error{
			Type:      apierror.ErrInvalidRequest,
			Message:   "invalid JSON body: " + err.Error(),
			RequestID: requestIDFromContext(r.Context()),
		}, http.StatusBadRequest)
		return
	}

	agent, err := h.Registry.CreateAgent(r.Context(), agents.CreateParams{
		Name:              req.Name,
		Instructions:      req.Instructions,
		Model:             req.Model,
		Temperature:       req.Temperature,
		MaxResponseTokens: req.MaxTokens,
		Kind:              agents.Kind(req.Kind),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	if h.Metrics != nil {
		h.Metrics.RecordAgentCreated(string(agent.Kind))
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (h AgentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	agent, err := h.Registry.GetAgent(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}
