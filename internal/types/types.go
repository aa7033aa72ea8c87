// Package types holds the shared data structures passed between the
// router, safety, pipeline and orchestrator layers.
package types

// InteractionMode controls how eagerly the assistant executes canvas
// operations without asking for confirmation.
type InteractionMode string

const (
	ModePlan     InteractionMode = "plan"
	ModeAgent    InteractionMode = "agent"
	ModeAgentMax InteractionMode = "agent_max"
)

// Valid reports whether the mode is one of the three supported values.
func (m InteractionMode) Valid() bool {
	switch m {
	case ModePlan, ModeAgent, ModeAgentMax:
		return true
	}
	return false
}

// ToolTier is the mutually-exclusive tool surface chosen for a single turn.
type ToolTier string

const (
	TierNone   ToolTier = "none"
	TierCanvas ToolTier = "canvas"
	TierRAG    ToolTier = "rag"
)

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is a single conversation entry.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// ToolCall is one canvas operation the assistant asks the frontend to
// execute. Arguments are always a decoded JSON object; string-encoded
// arguments are parsed (or the call dropped) before they reach here.
type ToolCall struct {
	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// QuickReply is a user-facing action button. Input is the full message the
// frontend sends when the button is pressed.
type QuickReply struct {
	Label string `json:"label"`
	Input string `json:"input"`
}

// RoleDecision is the routing outcome for a turn.
type RoleDecision struct {
	RoleID                 string   `json:"role_id"`
	RoleName               string   `json:"role_name"`
	Reason                 string   `json:"reason"`
	AllowCanvasTools       bool     `json:"allow_canvas_tools"`
	AllowCanvasToolsReason string   `json:"allow_canvas_tools_reason"`
	Intent                 string   `json:"intent,omitempty"`
	ToolTier               ToolTier `json:"tool_tier"`
}

// SafetyDecision is the content-safety classification for a turn.
type SafetyDecision struct {
	Sexual         bool   `json:"sexual"`
	Nudity         bool   `json:"nudity"`
	Gore           bool   `json:"gore"`
	Violence       bool   `json:"violence"`
	ShouldBlock    bool   `json:"should_block"`
	ShouldSanitize bool   `json:"should_sanitize"`
	Reason         string `json:"reason"`
}

// Source is one retrieval citation surfaced to the frontend.
type Source struct {
	Label    string `json:"label"`
	Value    string `json:"value"`
	ShortURL string `json:"short_url,omitempty"`
}

// LLMError carries a compact provider failure description for diagnostics.
type LLMError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"`
}

// TurnRequest is everything the orchestrator needs to answer one turn.
// The caller owns persistence; the orchestrator never stores state itself.
type TurnRequest struct {
	ConversationID string          `json:"conversationId"`
	Mode           InteractionMode `json:"interactionMode"`
	Messages       []Message       `json:"messages"`
	Summary        string          `json:"conversationSummary,omitempty"`
	Canvas         *CanvasContext  `json:"canvasContext,omitempty"`
	LoopCount      int             `json:"loopCount,omitempty"`
}

// LastUserText returns the content of the most recent user message.
func (r *TurnRequest) LastUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}

// TurnResponse is the outbound message produced for one turn.
type TurnResponse struct {
	Content      string          `json:"content"`
	ToolCalls    []ToolCall      `json:"toolCalls,omitempty"`
	QuickReplies []QuickReply    `json:"quickReplies,omitempty"`
	Role         RoleDecision    `json:"role"`
	Safety       *SafetyDecision `json:"safety,omitempty"`
	Summary      string          `json:"conversationSummary,omitempty"`
	LoopCount    int             `json:"loopCount"`
	Sources      []Source        `json:"sources,omitempty"`
	LLMError     *LLMError       `json:"llmError,omitempty"`
}
