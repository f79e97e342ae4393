package models

import "encoding/json"

// TurnRole identifies the speaker of a conversation turn.
type TurnRole string

const (
	TurnSystem    TurnRole = "system"
	TurnUser      TurnRole = "user"
	TurnAssistant TurnRole = "assistant"
	TurnTool      TurnRole = "tool"
)

// ToolCall is a single invocation requested by the LLM in an assistant turn.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolError is the structured error object attached to a failing tool turn.
// Code is one of the kinds enumerated in SPEC_FULL §7.
type ToolError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Turn is one entry in an agent's conversation. Owned by
// internal/conversation.Manager.
type Turn struct {
	Role TurnRole `json:"role"`

	// Content is the turn's content: a string for system/user/assistant
	// text, or an LLMContent array for multimodal user turns (see
	// internal/multiagent capability router).
	Content any `json:"content"`

	// ToolCalls is set on assistant turns that request tool execution.
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`

	// ToolCallID links a tool turn back to the ToolCall it answers.
	ToolCallID string `json:"toolCallId,omitempty"`

	// ToolError is set when a tool turn represents a failed invocation.
	ToolError *ToolError `json:"toolError,omitempty"`
}

// ContentPart is one element of a multimodal LLMContent array.
type ContentPart struct {
	Type     string    `json:"type"` // "text" | "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL wraps a data: URL for an inlined image content part.
type ImageURL struct {
	URL string `json:"url"`
}
