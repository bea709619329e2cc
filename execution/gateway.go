package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/praxisworks/actuator/core"
)

// ToolGateway performs the actual side-effecting tool call. The production
// implementation posts to the downstream gateway service; tests substitute
// a fake.
type ToolGateway interface {
	Invoke(ctx context.Context, in *InvokeInput) (*ToolResponse, error)
}

// HTTPGateway posts invocation envelopes to the tool-gateway service.
type HTTPGateway struct {
	client *http.Client
	logger core.Logger
}

// NewHTTPGateway creates the gateway client with traced transport.
func NewHTTPGateway(timeout time.Duration, logger core.Logger) *HTTPGateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &HTTPGateway{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

type gatewayRequest struct {
	ToolName          string                 `json:"tool_name"`
	ToolArguments     map[string]interface{} `json:"tool_arguments"`
	ToolSchemaVersion string                 `json:"tool_schema_version"`
	IdempotencyKey    string                 `json:"idempotency_key"`
	ActionIntentID    string                 `json:"action_intent_id"`
	TenantID          string                 `json:"tenant_id"`
	AccountID         string                 `json:"account_id"`
	TraceID           string                 `json:"trace_id"`
}

// Invoke posts the envelope and decodes the gateway's response envelope.
// Transport failures and non-2xx statuses are errors; a decoded envelope
// with success=false is a valid response, not an error.
func (g *HTTPGateway) Invoke(ctx context.Context, in *InvokeInput) (*ToolResponse, error) {
	body, err := json.Marshal(gatewayRequest{
		ToolName:          in.ToolName,
		ToolArguments:     in.ToolArguments,
		ToolSchemaVersion: in.ToolSchemaVersion,
		IdempotencyKey:    in.IdempotencyKey,
		ActionIntentID:    in.ActionIntentID,
		TenantID:          in.TenantID,
		AccountID:         in.AccountID,
		TraceID:           in.TraceID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, in.GatewayURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", in.IdempotencyKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tool gateway call failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.logger.Error("Tool gateway returned non-2xx", map[string]interface{}{
			"tool_name":        in.ToolName,
			"action_intent_id": in.ActionIntentID,
			"status_code":      resp.StatusCode,
		})
		return nil, fmt.Errorf("tool gateway returned status %d: %s", resp.StatusCode, truncate(string(raw), 256))
	}

	var out ToolResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return &out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
