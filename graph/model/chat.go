// Package model defines the chat model contract used by nodes and by the
// interrupt coordinator to classify free-form human feedback.
//
// Provider adapters are not part of this module. Anything satisfying
// ChatModel can be plugged in.
package model

import "context"

// ChatModel is an LLM chat provider.
//
// Implementations must respect ctx cancellation. When tools are passed the
// model may answer with ToolCalls instead of (or in addition to) Text.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// ChatFunc adapts a function to ChatModel.
type ChatFunc func(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)

// Chat implements ChatModel.
func (f ChatFunc) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	return f(ctx, messages, tools)
}

// Message is a single conversation turn.
type Message struct {
	// Role is one of the Role* constants.
	Role string

	// Content may be empty for messages that only carry tool calls.
	Content string
}

// Standard roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolSpec describes a tool the model can call. Schema is a JSON Schema
// object describing the tool input.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ChatOut is a model response.
type ChatOut struct {
	Text      string
	ToolCalls []ToolCall

	// Usage reports token consumption when the provider returns it.
	Usage TokenUsage
}

// ToolCall is a request from the model to invoke the tool Name.
type ToolCall struct {
	Name  string
	Input map[string]interface{}
}

// TokenUsage counts prompt and completion tokens of one call.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
}

// Total returns prompt plus completion tokens.
func (u TokenUsage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// FindToolCall returns the first call named name.
func (o ChatOut) FindToolCall(name string) (ToolCall, bool) {
	for _, c := range o.ToolCalls {
		if c.Name == name {
			return c, true
		}
	}
	return ToolCall{}, false
}
