// Package llmclient implements SPEC_FULL §4.13: the chat wrapper that turns
// internal/turn's abstract ChatRequest into an HTTP call against an
// OpenAI-compatible chat-completions endpoint, bounded by one concurrency
// semaphore per LLM service and retried with exponential backoff. There is
// no semaphore shared across services, so the total number of in-flight
// requests can exceed any single service's limit.
//
// Grounded on the teacher's internal/agent/failover.go (retry/backoff loop
// shape, error classification by string matching) and
// internal/agent/provider_types.go (request/response field naming), adapted
// from a multi-provider failover orchestrator into a single-provider-per-
// call client that resolves its provider per request via the organization's
// role→service mapping rather than iterating a fixed provider list.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/runtime/internal/llmservice"
	"github.com/agentmesh/runtime/internal/multiagent"
	"github.com/agentmesh/runtime/internal/rterr"
	"github.com/agentmesh/runtime/internal/runtimestate"
	"github.com/agentmesh/runtime/internal/turn"
	"github.com/agentmesh/runtime/pkg/models"
)

// defaultMaxConcurrentRequests is used when a runtime config supplies an
// invalid (<=0) maxConcurrentLlmRequests value, per SPEC_FULL §6's
// fallback-to-3-with-warning rule.
const defaultMaxConcurrentRequests = 3

// defaultRequestTimeout applies when an LlmService omits
// RequestTimeoutSeconds.
const defaultRequestTimeout = 60 * time.Second

// BackoffConfig configures the retry loop. Mirrors the teacher's
// FailoverConfig fields relevant to a single provider (no circuit breaker:
// there is exactly one backend per call here, not a provider list to fail
// over across).
type BackoffConfig struct {
	MaxRetries      int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
}

// DefaultBackoffConfig returns sensible defaults, matching the teacher's
// DefaultFailoverConfig values for backoff.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		MaxRetries:      2,
		RetryBackoff:    200 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
	}
}

// Client implements turn.LLMClient against an OpenAI-compatible
// chat-completions API, resolving which LlmService backs a call via the
// requesting agent's role.
type Client struct {
	registry   *llmservice.Registry
	org        *multiagent.Organization
	state      *runtimestate.Manager
	http       *http.Client
	backoff    BackoffConfig
	logger     *slog.Logger
	defaultMax int

	semMu sync.Mutex
	sems  map[string]chan struct{}
}

// New builds a Client. maxConcurrentLlmRequests <= 0 falls back to 3 with a
// logged warning, per SPEC_FULL §6.
func New(registry *llmservice.Registry, org *multiagent.Organization, state *runtimestate.Manager, maxConcurrentLlmRequests int, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrentLlmRequests <= 0 {
		logger.Warn("invalid maxConcurrentLlmRequests, falling back to default", "configured", maxConcurrentLlmRequests, "default", defaultMaxConcurrentRequests)
		maxConcurrentLlmRequests = defaultMaxConcurrentRequests
	}
	return &Client{
		registry:   registry,
		org:        org,
		state:      state,
		http:       &http.Client{},
		backoff:    DefaultBackoffConfig(),
		logger:     logger,
		defaultMax: maxConcurrentLlmRequests,
		sems:       make(map[string]chan struct{}),
	}
}

// Chat implements turn.LLMClient. It resolves the agent's effective LLM
// service, bounds concurrency per service, and retries transient failures
// with exponential backoff, aborting early if the agent's status turns
// halting mid-retry.
func (c *Client) Chat(ctx context.Context, req turn.ChatRequest) (turn.ChatResponse, error) {
	requestID := uuid.NewString()
	logger := c.logger.With("request_id", requestID, "agent_id", req.AgentID)

	serviceID, ok := c.org.ResolveServiceID(req.AgentID)
	if !ok {
		return turn.ChatResponse{}, rterr.New(rterr.CodeAgentNotFound, "")
	}
	svc := c.registry.GetServiceByID(serviceID)
	if svc == nil {
		return turn.ChatResponse{}, rterr.New(rterr.CodeLLMUnavailable, "no llm service registered for id %q", serviceID)
	}

	sem := c.semaphoreFor(svc)
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return turn.ChatResponse{}, ctx.Err()
	}
	defer func() { <-sem }()

	timeout := defaultRequestTimeout
	if svc.RequestTimeoutSeconds > 0 {
		timeout = time.Duration(svc.RequestTimeoutSeconds) * time.Second
	}

	body := buildRequestBody(svc, req)

	backoff := c.backoff.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= c.backoff.MaxRetries; attempt++ {
		if c.isAborted(req.AgentID) {
			return turn.ChatResponse{}, rterr.New(rterr.CodeLLMAborted, "")
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := c.doRequest(callCtx, svc, body)
		cancel()
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return turn.ChatResponse{}, ctx.Err()
		}
		if !isRetryable(err) {
			return turn.ChatResponse{}, rterr.Wrap(rterr.CodeLLMUnavailable, err)
		}
		if attempt >= c.backoff.MaxRetries {
			break
		}

		logger.Warn("llm request failed, retrying", "attempt", attempt, "error", err, "backoff", backoff)
		select {
		case <-time.After(backoff):
			backoff *= 2
			if backoff > c.backoff.MaxRetryBackoff {
				backoff = c.backoff.MaxRetryBackoff
			}
		case <-ctx.Done():
			return turn.ChatResponse{}, ctx.Err()
		}
	}

	return turn.ChatResponse{}, rterr.Wrap(rterr.CodeLLMRetryExhausted, lastErr)
}

func (c *Client) isAborted(agentID string) bool {
	return c.state.Status(agentID).Halting()
}

// semaphoreFor returns (lazily creating) the per-service concurrency gate,
// sized by the service's own override or the client-wide default.
func (c *Client) semaphoreFor(svc *models.LlmService) chan struct{} {
	c.semMu.Lock()
	defer c.semMu.Unlock()
	sem, ok := c.sems[svc.ID]
	if ok {
		return sem
	}
	max := c.defaultMax
	if svc.MaxConcurrentRequests > 0 {
		max = svc.MaxConcurrentRequests
	}
	sem = make(chan struct{}, max)
	c.sems[svc.ID] = sem
	return sem
}

type wireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    any            `json:"content,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools    []wireTool    `json:"tools,omitempty"`
}

type wireResponse struct {
	Choices []struct {
		Message struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

func buildRequestBody(svc *models.LlmService, req turn.ChatRequest) wireRequest {
	out := wireRequest{Model: svc.Model}
	if req.SystemPrompt != "" {
		out.Messages = append(out.Messages, wireMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, t := range req.Turns {
		out.Messages = append(out.Messages, turnToWireMessage(t))
	}
	for _, spec := range req.Tools {
		out.Tools = append(out.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  json.RawMessage(spec.Schema),
			},
		})
	}
	return out
}

func turnToWireMessage(t models.Turn) wireMessage {
	wm := wireMessage{Role: string(t.Role), Content: t.Content}
	if t.Role == models.TurnTool {
		wm.ToolCallID = t.ToolCallID
		if t.ToolError != nil {
			wm.Content = fmt.Sprintf("[%s] %s", t.ToolError.Code, t.ToolError.Message)
		}
	}
	for _, tc := range t.ToolCalls {
		wc := wireToolCall{ID: tc.ID, Type: "function"}
		wc.Function.Name = tc.Name
		wc.Function.Arguments = string(tc.Args)
		wm.ToolCalls = append(wm.ToolCalls, wc)
	}
	return wm
}

func (c *Client) doRequest(ctx context.Context, svc *models.LlmService, body wireRequest) (turn.ChatResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return turn.ChatResponse{}, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(svc.BaseURL, "/")+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return turn.ChatResponse{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if svc.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+svc.APIKey)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return turn.ChatResponse{}, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return turn.ChatResponse{}, fmt.Errorf("read chat response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return turn.ChatResponse{}, fmt.Errorf("chat completions request failed: %d %s", httpResp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed wireResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return turn.ChatResponse{}, fmt.Errorf("parse chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return turn.ChatResponse{}, fmt.Errorf("chat completions response had no choices")
	}

	choice := parsed.Choices[0].Message
	resp := turn.ChatResponse{Text: choice.Content}
	for _, tc := range choice.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: json.RawMessage(tc.Function.Arguments),
		})
	}
	return resp, nil
}

// isRetryable classifies a raw transport/HTTP error by message content,
// mirroring the teacher's classifyProviderError string-matching approach.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return true
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"), strings.Contains(msg, "429"):
		return true
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"), strings.Contains(msg, "503"), strings.Contains(msg, "504"),
		strings.Contains(msg, "internal server"), strings.Contains(msg, "server error"):
		return true
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"), strings.Contains(msg, "eof"):
		return true
	default:
		return false
	}
}
