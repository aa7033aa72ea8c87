// Package safety gates and softens content before canvas generation:
// a model classifier decides, lexicons rewrite, and Apply enforces.
package safety

import (
	"context"
	"encoding/json"
	"strings"

	"tapcanvas/internal/prompt"
	"tapcanvas/internal/types"
)

// DecisionSchema constrains classifier output.
func DecisionSchema() *types.JSONSchema {
	boolProp := func() map[string]interface{} {
		return map[string]interface{}{"type": "boolean"}
	}
	return &types.JSONSchema{
		Name: "safety_decision",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"sexual":          boolProp(),
				"nudity":          boolProp(),
				"gore":            boolProp(),
				"violence":        boolProp(),
				"should_block":    boolProp(),
				"should_sanitize": boolProp(),
				"reason":          map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"sexual", "nudity", "gore", "violence", "should_block", "should_sanitize", "reason"},
		},
	}
}

// FallbackDecision is used when the classifier cannot be reached; it softens
// output without blocking.
func FallbackDecision() types.SafetyDecision {
	return types.SafetyDecision{
		ShouldSanitize: true,
		ShouldBlock:    false,
		Reason:         "Fallback: classifier unavailable.",
	}
}

// Classify runs the content safety classifier over the user's text and the
// prompts the model plans to send to generators. Never returns an error; a
// failed call falls back to sanitize-only.
func Classify(ctx context.Context, client types.LLMClient, userText string, plannedPrompts []string) types.SafetyDecision {
	if client == nil {
		return FallbackDecision()
	}
	p := prompt.SafetyClassifier(userText, strings.Join(plannedPrompts, "\n---\n"))
	raw, err := client.CompleteStructured(ctx, p, DecisionSchema())
	if err != nil {
		return FallbackDecision()
	}
	var decision types.SafetyDecision
	if err := json.Unmarshal([]byte(raw), &decision); err != nil {
		return FallbackDecision()
	}
	return decision
}
