package llm

import (
	"context"
	"errors"
)

// ErrNoChoice is returned when the model response carries no candidate message
var ErrNoChoice = errors.New("model response has no choices")

// Role describes who a message is from
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single entry in a conversation history
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`

	// ToolCalls is set on assistant messages that request tool execution
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool message to the call it answers
	ToolCallID string `json:"tool_call_id,omitempty"`
	// Name is the tool name on tool messages
	Name string `json:"name,omitempty"`
}

// HasToolCalls reports whether the message requests tool execution
func (m Message) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// ToolCall is a structured request from the model to invoke a named function
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Usage counts tokens for one or more model requests
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add returns the sum of two usages
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

// ToolChoice is the tool-use policy sent with a request
type ToolChoice string

const (
	ToolChoiceAuto ToolChoice = "auto"
	ToolChoiceNone ToolChoice = "none"
)

// Tool describes a function the model may call
type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON schema document for the arguments object
	Parameters any
}

// Request is one chat-completion request
type Request struct {
	Model       string
	Messages    []Message
	Tools       []Tool
	ToolChoice  ToolChoice
	Temperature *float32
	MaxTokens   int
}

// Response is the model's chosen message for a request
type Response struct {
	Message      Message
	FinishReason string
	Usage        Usage
}

// StreamFunc receives incremental content as it arrives
type StreamFunc func(chunk string)

// ChatModel is the language-model capability
type ChatModel interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	// Stream performs a single request, invoking onChunk for every content
	// delta. Tool-call fragments are accumulated and returned, not executed.
	Stream(ctx context.Context, req Request, onChunk StreamFunc) (*Response, error)
}

// ToolCallAccumulator merges streamed tool-call fragments by index
type ToolCallAccumulator struct {
	calls []ToolCall
}

// Add merges one fragment. Name and id are taken from the first fragment that
// carries them; argument fragments are concatenated.
func (a *ToolCallAccumulator) Add(index int, id, name, arguments string) {
	for len(a.calls) <= index {
		a.calls = append(a.calls, ToolCall{})
	}
	call := &a.calls[index]
	if call.ID == "" {
		call.ID = id
	}
	if call.Name == "" {
		call.Name = name
	}
	call.Arguments += arguments
}

// Calls returns the accumulated calls, skipping empty slots
func (a *ToolCallAccumulator) Calls() []ToolCall {
	var calls []ToolCall
	for _, call := range a.calls {
		if call.Name == "" && call.Arguments == "" {
			continue
		}
		calls = append(calls, call)
	}
	return calls
}

// ErrUnavailable marks failures caused by the capability being unreachable or
// overloaded rather than by the request itself
var ErrUnavailable = errors.New("model service unavailable")

// ToolContext is the caller context handed to tool execution
type ToolContext struct {
	TenantID       string
	UserID         string
	OrderSessionID string
}
