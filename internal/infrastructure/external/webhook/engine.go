// Package webhook talks to automation platforms that expose a scenario as a
// plain HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/taxcredit-docflow/internal/application/port"
)

const maxResponseSize = 1 << 20

// Config holds the webhook endpoint settings
type Config struct {
	// URL receives dispatch POSTs; status is read from {URL}/executions/{id}
	URL     string
	Token   string
	Timeout time.Duration
}

type dispatchResponse struct {
	ExecutionID string `json:"execution_id"`
	ScenarioID  string `json:"scenario_id"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Engine implements port.WorkflowEngine over HTTP
type Engine struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *zap.Logger
}

// NewEngine creates a webhook Engine
func NewEngine(cfg Config, logger *zap.Logger) (*Engine, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook url is required")
	}
	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid webhook url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Engine{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		token:   cfg.Token,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}, nil
}

// Dispatch posts the payload and expects the execution id in the response
func (e *Engine) Dispatch(ctx context.Context, payload []byte) (*port.DispatchResult, error) {
	body, status, err := e.do(ctx, http.MethodPost, e.baseURL, payload)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("webhook returned %d: %s", status, truncate(body))
	}

	var resp dispatchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode dispatch response: %w", err)
	}
	if resp.ExecutionID == "" {
		return nil, errors.New("webhook response has no execution_id")
	}
	return &port.DispatchResult{ExecutionID: resp.ExecutionID, ScenarioID: resp.ScenarioID, Raw: string(body)}, nil
}

// QueryStatus reads the execution status; the vocabulary is passed through as reported
func (e *Engine) QueryStatus(ctx context.Context, executionID, scenarioID string) (*port.ExecutionStatus, error) {
	u := e.baseURL + "/executions/" + url.PathEscape(executionID)
	if scenarioID != "" {
		u += "?" + url.Values{"scenario_id": {scenarioID}}.Encode()
	}

	body, status, err := e.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %d: %s", status, truncate(body))
	}

	var resp statusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}
	return &port.ExecutionStatus{
		Status:  strings.ToLower(strings.TrimSpace(resp.Status)),
		Message: resp.Message,
		Raw:     string(body),
	}, nil
}

func (e *Engine) do(ctx context.Context, method, u string, payload []byte) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func truncate(b []byte) string {
	if len(b) > 200 {
		return string(b[:200]) + "..."
	}
	return string(b)
}

var _ port.WorkflowEngine = (*Engine)(nil)
