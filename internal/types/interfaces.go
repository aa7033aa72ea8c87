package types

import (
	"context"
)

// LLMClient defines the interface for LLM interactions.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	// CompleteStructured asks for a single JSON object matching schema and
	// returns the raw JSON text. Providers use native structured output when
	// available and fall back to a prompt-forced JSON request otherwise.
	CompleteStructured(ctx context.Context, prompt string, schema *JSONSchema) (string, error)
	// CompleteWithTools sends a prompt with tool definitions and returns the
	// response with any tool calls. Streaming providers enforce a wall-clock
	// budget and report partial output via LLMToolResponse.TimedOut.
	CompleteWithTools(ctx context.Context, prompt string, tools []ToolDefinition) (*LLMToolResponse, error)
}

// JSONSchema names a JSON schema for structured output requests.
type JSONSchema struct {
	Name   string                 `json:"name"`
	Schema map[string]interface{} `json:"schema"`
}

// ToolDefinition describes a tool that the LLM can invoke.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"` // JSON Schema for arguments
}

// LLMToolResponse contains both text response and tool calls from the LLM.
type LLMToolResponse struct {
	Text       string     `json:"text"`
	ToolCalls  []ToolCall `json:"tool_calls"`
	StopReason string     `json:"stop_reason,omitempty"`
	// TimedOut is set when the streaming budget expired; Text holds whatever
	// arrived before the cutoff and ToolCalls must be treated as incomplete.
	TimedOut bool `json:"timed_out,omitempty"`
}
