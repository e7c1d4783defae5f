package protocol

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const voiceAgentPath = "/voice-agent/realtime"

// ErrInvalidRouting is returned when a target does not name exactly one of a
// model deployment or a provisioned agent.
var ErrInvalidRouting = errors.New("invalid routing")

// Route selects how the upstream session is addressed: by model deployment
// (the persona travels in the configuration frame) or by provisioned agent id
// (the persona lives upstream). Exactly one of Model and AgentID must be set.
type Route struct {
	Model       string
	AgentID     string
	ProjectName string
}

// Target is a validated upstream connection target.
type Target struct {
	endpoint   string
	apiVersion string
	route      Route
}

// NewTarget validates the routing contract and returns a target. The
// endpoint is the scheme+host part, e.g. wss://res.cognitiveservices.azure.com.
func NewTarget(endpoint, apiVersion string, route Route) (Target, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return Target{}, fmt.Errorf("upstream endpoint is required")
	}
	if strings.TrimSpace(apiVersion) == "" {
		return Target{}, fmt.Errorf("upstream api version is required")
	}

	hasModel := strings.TrimSpace(route.Model) != ""
	hasAgent := strings.TrimSpace(route.AgentID) != ""
	switch {
	case hasModel && hasAgent:
		return Target{}, fmt.Errorf("%w: both model and agent-id set", ErrInvalidRouting)
	case !hasModel && !hasAgent:
		return Target{}, fmt.Errorf("%w: neither model nor agent-id set", ErrInvalidRouting)
	}

	return Target{endpoint: endpoint, apiVersion: apiVersion, route: route}, nil
}

// URL renders the connection URL with a fresh client request id. Call it once
// per dial attempt; request ids are never reused.
func (t Target) URL() string {
	q := url.Values{}
	q.Set("api-version", t.apiVersion)
	q.Set("x-ms-client-request-id", uuid.NewString())
	if t.route.Model != "" {
		q.Set("model", t.route.Model)
	} else {
		q.Set("agent-id", t.route.AgentID)
		if t.route.ProjectName != "" {
			q.Set("agent-project-name", t.route.ProjectName)
		}
	}
	return t.endpoint + voiceAgentPath + "?" + q.Encode()
}

// RouteKind reports "model" or "agent", usable as a metric label.
func (t Target) RouteKind() string {
	if t.route.Model != "" {
		return "model"
	}
	return "agent"
}
