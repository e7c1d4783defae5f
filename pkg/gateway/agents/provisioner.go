package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxErrorBodyBytes bounds how much of a provisioner error response we read.
const maxErrorBodyBytes = 8 << 10

// HTTPProvisioner creates agents on a remote agent service over REST.
type HTTPProvisioner struct {
	endpoint   string
	apiKey     string
	apiVersion string
	httpClient *http.Client
}

// NewHTTPProvisioner returns a provisioner posting to
// {endpoint}/assistants?api-version={apiVersion} with an api-key header.
func NewHTTPProvisioner(endpoint, apiKey, apiVersion string, timeout time.Duration) *HTTPProvisioner {
	return &HTTPProvisioner{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		apiVersion: apiVersion,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type provisionRequest struct {
	Model        string  `json:"model"`
	Name         string  `json:"name"`
	Instructions string  `json:"instructions"`
	Temperature  float64 `json:"temperature"`
}

type provisionResponse struct {
	ID string `json:"id"`
}

// Provision creates the agent remotely and returns its service-assigned id.
func (p *HTTPProvisioner) Provision(ctx context.Context, spec ProvisionSpec) (string, error) {
	body, err := json.Marshal(provisionRequest{
		Model:        spec.Model,
		Name:         spec.Name,
		Instructions: spec.Instructions,
		Temperature:  spec.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	target := fmt.Sprintf("%s/assistants?api-version=%s", p.endpoint, url.QueryEscape(p.apiVersion))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return "", fmt.Errorf("agent service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var created provisionResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("agent service returned no id")
	}
	return created.ID, nil
}
