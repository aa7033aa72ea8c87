package safety

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapcanvas/internal/types"
)

type stubClient struct {
	structured string
	err        error
}

func (s *stubClient) Complete(ctx context.Context, prompt string) (string, error) {
	return "", errors.New("not implemented")
}

func (s *stubClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", errors.New("not implemented")
}

func (s *stubClient) CompleteStructured(ctx context.Context, prompt string, schema *types.JSONSchema) (string, error) {
	return s.structured, s.err
}

func (s *stubClient) CompleteWithTools(ctx context.Context, prompt string, tools []types.ToolDefinition) (*types.LLMToolResponse, error) {
	return nil, errors.New("not implemented")
}

func TestClassifyParsesDecision(t *testing.T) {
	client := &stubClient{structured: `{"sexual":true,"nudity":false,"gore":false,"violence":false,"should_block":true,"should_sanitize":false,"reason":"explicit"}`}
	decision := Classify(context.Background(), client, "text", nil)
	assert.True(t, decision.Sexual)
	assert.True(t, decision.ShouldBlock)
	assert.Equal(t, "explicit", decision.Reason)
}

func TestClassifyFallsBackOnError(t *testing.T) {
	client := &stubClient{err: errors.New("boom")}
	decision := Classify(context.Background(), client, "text", nil)
	assert.False(t, decision.ShouldBlock)
	assert.True(t, decision.ShouldSanitize)
	assert.Equal(t, "Fallback: classifier unavailable.", decision.Reason)
}

func TestClassifyFallsBackOnMalformedJSON(t *testing.T) {
	client := &stubClient{structured: `not json`}
	decision := Classify(context.Background(), client, "text", nil)
	assert.True(t, decision.ShouldSanitize)
}

func TestApplyBlocksExplicitSexualContent(t *testing.T) {
	decision := types.SafetyDecision{Sexual: true, ShouldBlock: true}
	calls := []types.ToolCall{{Name: "createNode", Arguments: map[string]interface{}{"label": "x"}}}

	text, outCalls, menus, blocked := Apply(decision, "原始回复", calls)
	assert.True(t, blocked)
	assert.Empty(t, outCalls)
	assert.Contains(t, text, "PG-13")
	require.Len(t, menus, 4)
	assert.Equal(t, "改成含蓄浪漫（不露骨）", menus[0].Label)
	assert.Equal(t, "我只是要分镜（无色情）", menus[3].Label)
}

func TestApplySanitizesSexualPrompts(t *testing.T) {
	decision := types.SafetyDecision{Sexual: true, ShouldSanitize: true}
	calls := []types.ToolCall{{
		Name: "createNode",
		Arguments: map[string]interface{}{
			"label": "场景图",
			"config": map[string]interface{}{
				"prompt":         "一个裸体人物站在窗边",
				"negativePrompt": "低画质",
			},
		},
	}}

	_, outCalls, _, blocked := Apply(decision, "回复", calls)
	assert.False(t, blocked)
	config := outCalls[0].Arguments["config"].(map[string]interface{})
	assert.Equal(t, "一个穿着完整（不露骨）人物站在窗边", config["prompt"])
	assert.Equal(t, "低画质\n"+sexualNegativeSuffix, config["negativePrompt"])
}

func TestApplySanitizesViolentTextAndPrompts(t *testing.T) {
	decision := types.SafetyDecision{Violence: true, Gore: true, ShouldSanitize: true}
	calls := []types.ToolCall{{
		Name: "createNode",
		Arguments: map[string]interface{}{
			"config": map[string]interface{}{"prompt": "断肢与喷血的特写"},
		},
	}}

	text, outCalls, _, blocked := Apply(decision, "镜头里出现爆头", calls)
	assert.False(t, blocked)
	assert.Equal(t, "镜头里出现强烈冲击（不展示细节）", text)
	config := outCalls[0].Arguments["config"].(map[string]interface{})
	assert.Equal(t, "受伤倒下（不展示细节）与用剪影/反应镜头表达冲击（不展示细节）的特写", config["prompt"])
	assert.Equal(t, violentNegativeSuffix, config["negativePrompt"])
}

func TestApplyNegativeSuffixIdempotent(t *testing.T) {
	decision := types.SafetyDecision{Sexual: true, ShouldSanitize: true}
	calls := []types.ToolCall{{
		Name: "createNode",
		Arguments: map[string]interface{}{
			"config": map[string]interface{}{
				"prompt":         "安静的街道",
				"negativePrompt": sexualNegativeSuffix,
			},
		},
	}}

	_, outCalls, _, _ := Apply(decision, "回复", calls)
	config := outCalls[0].Arguments["config"].(map[string]interface{})
	assert.Equal(t, sexualNegativeSuffix, config["negativePrompt"])
	assert.Equal(t, 1, strings.Count(config["negativePrompt"].(string), "nude"))
}

func TestApplyIgnoresNonNodeCalls(t *testing.T) {
	decision := types.SafetyDecision{Violence: true, ShouldSanitize: true}
	calls := []types.ToolCall{{Name: "connectNodes", Arguments: map[string]interface{}{"sourceNodeId": "a"}}}
	_, outCalls, _, _ := Apply(decision, "ok", calls)
	assert.Equal(t, calls, outCalls)
}
