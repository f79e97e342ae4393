// Package turn implements the agent turn driver of SPEC_FULL §4.9: the
// state machine that flushes an agent's inbox into its conversation, drives
// the LLM chat/tool-call loop, and returns the agent to idle.
//
// Grounded on the teacher's internal/agent/loop.go (AgenticLoop's
// init/stream/execute-tools/continue phase machine, and its mid-loop
// steering-message splice) and internal/agent/trace.go's span-per-phase
// instrumentation style, reimplemented here with go.opentelemetry.io/otel
// spans instead of JSONL trace events. This is the only package that
// imports otel.
package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentmesh/runtime/internal/artifacts"
	"github.com/agentmesh/runtime/internal/bus"
	"github.com/agentmesh/runtime/internal/conversation"
	"github.com/agentmesh/runtime/internal/format"
	"github.com/agentmesh/runtime/internal/multiagent"
	"github.com/agentmesh/runtime/internal/rterr"
	"github.com/agentmesh/runtime/internal/runtimestate"
	"github.com/agentmesh/runtime/internal/toolexec"
	"github.com/agentmesh/runtime/pkg/models"
)

// ToolSpec is the tool-calling surface offered to the LLM for one request:
// the fixed subset of toolexec.Tool an LLM client needs to advertise a tool.
type ToolSpec struct {
	Name        string
	Description string
	Schema      string
}

// ChatRequest is what the driver asks an LLMClient to answer.
type ChatRequest struct {
	AgentID      string
	SystemPrompt string
	Turns        []models.Turn
	Tools        []ToolSpec
}

// ChatResponse is an LLM client's answer: either final text, or one or more
// tool calls the driver must execute before calling the LLM again.
type ChatResponse struct {
	Text      string
	ToolCalls []models.ToolCall
}

// LLMClient is the narrow surface the turn driver needs from an LLM
// client, declared here (rather than imported from internal/llmclient) so
// this package has no dependency on that package's concurrency/retry
// internals and can be unit-tested against a stub.
type LLMClient interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// MaxToolIterations bounds the tool-call loop within a single turn, guarding
// against a misbehaving LLM that never stops requesting tools.
const MaxToolIterations = 25

// Driver drives one full turn for one agent at a time (the caller, normally
// internal/processor.Processor, is responsible for not calling RunTurn
// concurrently for the same agent id — SPEC_FULL I1).
type Driver struct {
	org          *multiagent.Organization
	bus          *bus.Bus
	state        *runtimestate.Manager
	conversation *conversation.Manager
	tools        *toolexec.Executor
	artifacts    artifacts.Store
	router       *multiagent.CapabilityRouter
	llm          LLMClient
	logger       *slog.Logger
	tracer       trace.Tracer
}

// New wires a Driver from its collaborators.
func New(
	org *multiagent.Organization,
	b *bus.Bus,
	state *runtimestate.Manager,
	conv *conversation.Manager,
	tools *toolexec.Executor,
	artifactStore artifacts.Store,
	router *multiagent.CapabilityRouter,
	llm LLMClient,
	logger *slog.Logger,
) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		org:          org,
		bus:          b,
		state:        state,
		conversation: conv,
		tools:        tools,
		artifacts:    artifactStore,
		router:       router,
		llm:          llm,
		logger:       logger,
		tracer:       otel.Tracer("internal/turn"),
	}
}

// RunTurn executes the 5-step turn state machine for agentID: inbox flush,
// LLM call, tool loop, interruption drain, termination. It satisfies
// internal/processor.TurnRunner. maxMessages bounds the inbox flush in step
// 1 (0 means unbounded); it returns how many queued messages were actually
// flushed, so a caller draining an inbox in bounded batches (e.g.
// internal/processor.Processor.DrainAgentQueue) can tell how much progress
// this turn made.
func (d *Driver) RunTurn(ctx context.Context, agentID string, maxMessages int) int {
	ctx, span := d.tracer.Start(ctx, "agent.turn", trace.WithAttributes(attribute.String("agent.id", agentID)))
	defer span.End()

	agent, ok := d.org.GetAgent(agentID)
	if !ok {
		d.logger.Warn("turn requested for unknown agent", "agent_id", agentID)
		return 0
	}
	span.SetAttributes(attribute.String("agent.trace_id", agent.TraceID))

	flushed := d.flushInbox(ctx, agent, maxMessages)

	for iteration := 0; iteration < MaxToolIterations; iteration++ {
		if agent.Status.Halting() {
			break
		}

		resp, err := d.callLLM(ctx, agent)
		if err != nil {
			d.logger.Error("llm call failed, ending turn", "agent_id", agentID, "error", err)
			break
		}
		if agent.Status.Halting() {
			d.logger.Info("discarding llm response after halting transition", "agent_id", agentID)
			break
		}

		if len(resp.ToolCalls) == 0 {
			d.conversation.Append(agentID, models.Turn{Role: models.TurnAssistant, Content: resp.Text})
			break
		}

		d.conversation.Append(agentID, models.Turn{
			Role:      models.TurnAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		if d.runToolLoop(ctx, agent, resp.ToolCalls) {
			break // halting mid-loop
		}

		d.drainMidTurnMessages(ctx, agent)
	}

	d.conversation.ProcessAutoCompression(ctx, agentID)
	d.terminate(agent)
	return flushed
}

// flushInbox implements step 1: pop up to max queued messages (max <= 0
// pops the whole inbox), adapt each one's attachments via the capability
// router, wrap it in the fixed formatter envelope, and append it as a user
// turn. Returns how many messages were popped.
func (d *Driver) flushInbox(ctx context.Context, agent *models.Agent, max int) int {
	msgs := d.bus.PopAll(agent.AgentID, max)
	for _, msg := range msgs {
		d.appendInboundTurn(ctx, agent, msg)
	}
	return len(msgs)
}

func (d *Driver) appendInboundTurn(ctx context.Context, agent *models.Agent, msg *models.Message) {
	sender := format.SenderInfo{}
	if msg.From != models.UserAgentID {
		if senderAgent, ok := d.org.GetAgent(msg.From); ok {
			sender.Role = senderAgent.RoleName
		}
	}

	serviceID, _ := d.org.ResolveServiceID(agent.AgentID)
	content := d.buildTurnContent(ctx, msg, sender, serviceID)
	d.conversation.Append(agent.AgentID, models.Turn{Role: models.TurnUser, Content: content})
}

// buildTurnContent combines the fixed textual envelope (internal/format)
// with the capability router's multimodal attachment adaptation.
//
// When the router actually inlines an attachment as non-text content (e.g.
// an image the target service declares input capability for), the envelope
// replaces the router's own leading text part so the header and reply hint
// are never duplicated against the attachment list, and the inlined part is
// appended after it.
//
// When no attachment becomes non-text content — no router configured, or
// every attachment degraded to a text description because the target
// can't consume it — the attachments are left on the envelope so
// format.FormatMessage renders its own 【附件列表】 block (SPEC_FULL §8
// property 6: the target service sees the literal "[图片]"/"[文件]"
// marker plus the artifactRef as plain text).
func (d *Driver) buildTurnContent(ctx context.Context, msg *models.Message, sender format.SenderInfo, targetServiceID string) any {
	if len(msg.Payload.Attachments) == 0 {
		return format.FormatMessage(msg, sender)
	}

	if d.router != nil {
		routed := d.router.RouteContent(ctx, msg, targetServiceID)
		if parts, ok := routed.([]models.ContentPart); ok && hasInlineContent(parts) {
			envelopeSource := *msg
			envelopeSource.Payload = models.Payload{Text: msg.Payload.Text}
			header := format.FormatMessage(&envelopeSource, sender)

			out := make([]models.ContentPart, 0, len(parts))
			out = append(out, models.ContentPart{Type: "text", Text: header})
			out = append(out, parts[1:]...) // parts[0] is the router's own text part; replaced by header above
			return out
		}
	}

	return format.FormatMessage(msg, sender)
}

// hasInlineContent reports whether parts contains an attachment adapted
// into genuinely non-text content (currently only inlined images); a part
// degraded to a text stub doesn't count, since the envelope's own
// attachment list already covers that case in plain text.
func hasInlineContent(parts []models.ContentPart) bool {
	for _, p := range parts {
		if p.Type != "text" {
			return true
		}
	}
	return false
}

// callLLM implements step 2: set waiting_llm, call the client, and restore a
// non-halting status on return.
func (d *Driver) callLLM(ctx context.Context, agent *models.Agent) (ChatResponse, error) {
	ctx, span := d.tracer.Start(ctx, "llm.chat", trace.WithAttributes(attribute.String("agent.id", agent.AgentID)))
	defer span.End()

	d.setStatus(agent, models.StatusWaitingLLM)

	role, _ := d.org.GetRole(agent.RoleID)
	systemPrompt := ""
	if role != nil {
		systemPrompt = role.Prompt
	}

	req := ChatRequest{
		AgentID:      agent.AgentID,
		SystemPrompt: systemPrompt,
		Turns:        d.conversation.Snapshot(agent.AgentID),
		Tools:        d.toolSpecs(agent),
	}

	resp, err := d.llm.Chat(ctx, req)
	if err != nil {
		span.RecordError(err)
		if !agent.Status.Halting() {
			d.setStatus(agent, models.StatusIdle)
		}
		return ChatResponse{}, rterr.Wrap(rterr.CodeLLMUnavailable, err)
	}

	if !agent.Status.Halting() {
		d.setStatus(agent, models.StatusProcessing)
	}
	return resp, nil
}

func (d *Driver) toolSpecs(agent *models.Agent) []ToolSpec {
	tools := d.tools.GetToolDefinitionsForAgent(agent)
	specs := make([]ToolSpec, 0, len(tools))
	for _, t := range tools {
		specs = append(specs, ToolSpec{Name: t.Name, Description: t.Description, Schema: t.ParamsSchema})
	}
	return specs
}

// runToolLoop implements step 3: dispatch every requested tool call,
// appending a result (or error) turn for each, breaking early if the
// agent's status turns halting between calls. Returns true if it broke
// early due to a halting transition.
func (d *Driver) runToolLoop(ctx context.Context, agent *models.Agent, calls []models.ToolCall) (halted bool) {
	for _, call := range calls {
		if agent.Status.Halting() {
			return true
		}

		d.executeOneToolCall(ctx, agent, call)

		if agent.Status.Halting() {
			return true
		}
	}
	return false
}

func (d *Driver) executeOneToolCall(ctx context.Context, agent *models.Agent, call models.ToolCall) {
	ctx, span := d.tracer.Start(ctx, "agent.tool_call", trace.WithAttributes(
		attribute.String("agent.id", agent.AgentID),
		attribute.String("tool.name", call.Name),
	))
	defer span.End()

	tc := toolexec.ToolContext{
		Agent:         agent,
		Runtime:       d.state,
		ArtifactStore: d.artifacts,
		Bus:           d.bus,
		Organization:  d.org,
	}

	result, err := d.tools.ExecuteToolCall(ctx, tc, call.Name, call.Args)
	if err != nil {
		span.RecordError(err)
		d.conversation.Append(agent.AgentID, models.Turn{
			Role:       models.TurnTool,
			ToolCallID: call.ID,
			ToolError:  toToolError(err),
		})
		return
	}

	content, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		content = []byte(fmt.Sprintf("%v", result))
	}
	d.conversation.Append(agent.AgentID, models.Turn{
		Role:       models.TurnTool,
		ToolCallID: call.ID,
		Content:    string(content),
	})
}

func toToolError(err error) *models.ToolError {
	var rt *rterr.Error
	if errors.As(err, &rt) {
		return &models.ToolError{Code: string(rt.Code), Message: rt.Message}
	}
	return &models.ToolError{Code: string(rterr.CodeCommandFailed), Message: err.Error()}
}

// drainMidTurnMessages implements step 4: any message that landed on the
// bus for this agent during the tool loop (a genuine mid-turn interruption,
// since flushInbox already emptied the inbox before the loop started), plus
// anything explicitly queued via runtimestate.QueueInterrupt, is appended as
// a fresh user turn before the loop calls the LLM again — mirroring the
// teacher's steering-message splice in its agentic loop.
func (d *Driver) drainMidTurnMessages(ctx context.Context, agent *models.Agent) {
	for _, msg := range d.bus.PopAll(agent.AgentID, 0) {
		d.appendInboundTurn(ctx, agent, msg)
	}
	for _, msg := range d.state.DrainInterrupts(agent.AgentID) {
		d.appendInboundTurn(ctx, agent, msg)
	}
}

// terminate implements step 5: return the agent to idle, resolve an
// in-flight abort (stopping) to its rest state (stopped) per SPEC_FULL
// §4.11's stop/terminate API, and record last activity. A concurrent
// terminateAgent call owns the terminating/terminated transition, so
// those statuses are left untouched here.
func (d *Driver) terminate(agent *models.Agent) {
	switch agent.Status {
	case models.StatusStopping:
		d.setStatus(agent, models.StatusStopped)
	case models.StatusTerminating, models.StatusTerminated, models.StatusStopped:
		// owned by a concurrent terminateAgent/abort caller
	default:
		d.setStatus(agent, models.StatusIdle)
	}
	now := time.Now()
	agent.LastActivityAt = now
	d.state.TouchActivity(agent.AgentID, now)
}

func (d *Driver) setStatus(agent *models.Agent, status models.AgentStatus) {
	agent.Status = status
	d.state.SetAgentComputeStatus(agent.AgentID, status)
}
