package apierror

import (
	"context"
	"fmt"
	"testing"

	"github.com/pitchlab/voicerelay/pkg/gateway/agents"
)

func TestFromError_AgentNotFound_Is404(t *testing.T) {
	err := fmt.Errorf("%w: local-agent-x-1234", agents.ErrNotFound)
	apiErr, status := FromError(err, "req_test")
	if status != 404 {
		t.Fatalf("status=%d", status)
	}
	if apiErr.Type != ErrNotFound {
		t.Fatalf("type=%q", apiErr.Type)
	}
	if apiErr.RequestID != "req_test" {
		t.Fatalf("request_id=%q", apiErr.RequestID)
	}
}

func TestFromError_InvalidParams_Is400(t *testing.T) {
	err := fmt.Errorf("%w: name is required", agents.ErrInvalidParams)
	apiErr, status := FromError(err, "req_test")
	if status != 400 {
		t.Fatalf("status=%d", status)
	}
	if apiErr.Type != ErrInvalidRequest {
		t.Fatalf("type=%q", apiErr.Type)
	}
}

func TestFromError_ProvisioningFailure_Is502(t *testing.T) {
	err := fmt.Errorf("%w: agent service returned 503", agents.ErrCreationFailed)
	apiErr, status := FromError(err, "req_test")
	if status != 502 {
		t.Fatalf("status=%d", status)
	}
	if apiErr.Type != ErrUpstream {
		t.Fatalf("type=%q", apiErr.Type)
	}
}

func TestFromError_CanonicalErrorKeepsTypeAndGainsRequestID(t *testing.T) {
	in := &Error{Type: ErrNotFound, Message: "recording not found"}
	apiErr, status := FromError(in, "req_test")
	if status != 404 {
		t.Fatalf("status=%d", status)
	}
	if apiErr.RequestID != "req_test" {
		t.Fatalf("request_id=%q", apiErr.RequestID)
	}
	if in.RequestID != "" {
		t.Fatalf("input mutated: request_id=%q", in.RequestID)
	}
}

func TestFromError_Timeout_Is504(t *testing.T) {
	_, status := FromError(context.DeadlineExceeded, "req_test")
	if status != 504 {
		t.Fatalf("status=%d", status)
	}
}

func TestFromError_Unknown_IsOpaque500(t *testing.T) {
	apiErr, status := FromError(fmt.Errorf("pq: connection refused"), "req_test")
	if status != 500 {
		t.Fatalf("status=%d", status)
	}
	if apiErr.Message != "internal error" {
		t.Fatalf("message=%q leaked", apiErr.Message)
	}
}
