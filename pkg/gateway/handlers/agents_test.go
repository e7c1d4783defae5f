package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pitchlab/voicerelay/pkg/gateway/agents"
	"github.com/pitchlab/voicerelay/pkg/gateway/metrics"
)

func newAgentsHandler(p agents.Provisioner) AgentsHandler {
	return AgentsHandler{
		Logger:   discardLogger(),
		Registry: agents.NewRegistry(discardLogger(), p, "gpt-realtime-mini"),
		Metrics:  metrics.NewMetrics("voicerelay"),
	}
}

func postAgent(t *testing.T, h AgentsHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/agents", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.Create(rr, req)
	return rr
}

func decodeErrorEnvelope(t *testing.T, rr *httptest.ResponseRecorder) (errType, message string) {
	t.Helper()
	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode error envelope %q: %v", rr.Body.String(), err)
	}
	return envelope.Error.Type, envelope.Error.Message
}

func TestAgentsCreate_Ephemeral(t *testing.T) {
	h := newAgentsHandler(nil)

	rr := postAgent(t, h, `{
		"name": "skeptical CFO",
		"instructions": "You are a skeptical CFO evaluating a CRM pitch.",
		"temperature": 0.5,
		"max_tokens": 1024,
		"kind": "ephemeral"
	}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	var agent agents.Agent
	if err := json.Unmarshal(rr.Body.Bytes(), &agent); err != nil {
		t.Fatalf("decode agent: %v", err)
	}
	if !strings.HasPrefix(agent.ID, "local-agent-") {
		t.Fatalf("ephemeral agent id = %q", agent.ID)
	}
	if agent.Kind != agents.KindEphemeral {
		t.Fatalf("kind = %q", agent.Kind)
	}
	if agent.Model != "gpt-realtime-mini" {
		t.Fatalf("model = %q, want registry default", agent.Model)
	}
	if agent.Temperature != 0.5 || agent.MaxResponseTokens != 1024 {
		t.Fatalf("agent params = %+v", agent)
	}
	if agent.CreatedAt.IsZero() {
		t.Fatal("created_at not set")
	}

	// The created agent is immediately fetchable.
	req := httptest.NewRequest(http.MethodGet, "/v1/agents/"+agent.ID, nil)
	req.SetPathValue("id", agent.ID)
	got := httptest.NewRecorder()
	h.Get(got, req)
	if got.Code != http.StatusOK {
		t.Fatalf("get status = %d", got.Code)
	}
	var fetched agents.Agent
	if err := json.Unmarshal(got.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("decode fetched agent: %v", err)
	}
	if fetched.ID != agent.ID {
		t.Fatalf("fetched id = %q, want %q", fetched.ID, agent.ID)
	}
}

func TestAgentsCreate_DefaultsToEphemeral(t *testing.T) {
	h := newAgentsHandler(nil)

	rr := postAgent(t, h, `{"name": "quick prospect", "instructions": "Be hurried."}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var agent agents.Agent
	if err := json.Unmarshal(rr.Body.Bytes(), &agent); err != nil {
		t.Fatalf("decode agent: %v", err)
	}
	if agent.Kind != agents.KindEphemeral {
		t.Fatalf("kind = %q, want ephemeral default", agent.Kind)
	}
}

func TestAgentsCreate_InvalidJSON(t *testing.T) {
	h := newAgentsHandler(nil)

	rr := postAgent(t, h, `{nope`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	errType, message := decodeErrorEnvelope(t, rr)
	if errType != "invalid_request_error" {
		t.Fatalf("error type = %q", errType)
	}
	if !strings.Contains(message, "invalid JSON body") {
		t.Fatalf("message = %q", message)
	}
}

func TestAgentsCreate_RejectsUnknownFields(t *testing.T) {
	h := newAgentsHandler(nil)

	rr := postAgent(t, h, `{"name": "x", "persona": "not a field"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestAgentsCreate_ValidationFailures(t *testing.T) {
	h := newAgentsHandler(nil)

	cases := []struct {
		name string
		body string
	}{
		{"missing name", `{"instructions": "hi"}`},
		{"unknown kind", `{"name": "x", "kind": "eternal"}`},
		{"temperature out of range", `{"name": "x", "temperature": 3.5}`},
		{"non-positive max tokens", `{"name": "x", "max_tokens": 0}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := postAgent(t, h, tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
			}
			errType, _ := decodeErrorEnvelope(t, rr)
			if errType != "invalid_request_error" {
				t.Fatalf("error type = %q", errType)
			}
		})
	}
}

func TestAgentsCreate_PersistentWithoutProvisioner(t *testing.T) {
	h := newAgentsHandler(nil)

	rr := postAgent(t, h, `{"name": "x", "kind": "persistent"}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	errType, _ := decodeErrorEnvelope(t, rr)
	if errType != "upstream_error" {
		t.Fatalf("error type = %q", errType)
	}
}

func TestAgentsCreate_ProvisionerFailure(t *testing.T) {
	h := newAgentsHandler(stubProvisioner{err: errors.New("remote service said no")})

	rr := postAgent(t, h, `{"name": "x", "kind": "persistent"}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rr.Code)
	}

	// Nothing was registered for the failed creation.
	if _, err := h.Registry.GetAgent("x"); !errors.Is(err, agents.ErrNotFound) {
		t.Fatalf("registry lookup after failure = %v", err)
	}
}

func TestAgentsCreate_Persistent(t *testing.T) {
	h := newAgentsHandler(stubProvisioner{id: "asst_41xp"})

	rr := postAgent(t, h, `{"name": "renewal shopper", "instructions": "Push on price.", "kind": "persistent"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var agent agents.Agent
	if err := json.Unmarshal(rr.Body.Bytes(), &agent); err != nil {
		t.Fatalf("decode agent: %v", err)
	}
	if agent.ID != "asst_41xp" {
		t.Fatalf("agent id = %q, want the provisioned id", agent.ID)
	}
	if agent.Kind != agents.KindPersistent {
		t.Fatalf("kind = %q", agent.Kind)
	}
}

func TestAgentsGet_NotFound(t *testing.T) {
	h := newAgentsHandler(nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/agents/agent_missing", nil)
	req.SetPathValue("id", "agent_missing")
	rr := httptest.NewRecorder()
	h.Get(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
	errType, message := decodeErrorEnvelope(t, rr)
	if errType != "not_found_error" {
		t.Fatalf("error type = %q", errType)
	}
	if !strings.Contains(message, "agent_missing") {
		t.Fatalf("message = %q", message)
	}
}
