package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapcanvas/internal/types"
)

type stubClient struct {
	out     string
	err     error
	prompts []string
}

func (s *stubClient) Complete(ctx context.Context, prompt string) (string, error) {
	return s.out, s.err
}

func (s *stubClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	return s.out, s.err
}

func (s *stubClient) CompleteStructured(ctx context.Context, prompt string, schema *types.JSONSchema) (string, error) {
	s.prompts = append(s.prompts, prompt)
	return s.out, s.err
}

func (s *stubClient) CompleteWithTools(ctx context.Context, prompt string, tools []types.ToolDefinition) (*types.LLMToolResponse, error) {
	return &types.LLMToolResponse{Text: s.out}, s.err
}

func request(mode types.InteractionMode, userText string) *types.TurnRequest {
	return &types.TurnRequest{
		ConversationID: "conv",
		Mode:           mode,
		Messages:       []types.Message{{Role: types.RoleUser, Content: userText}},
	}
}

func TestSelectStructuredDecision(t *testing.T) {
	client := &stubClient{out: `{
		"role_id": "storyboard_artist",
		"role_name": "分镜师",
		"reason": "用户要分镜。",
		"allow_canvas_tools": true,
		"allow_canvas_tools_reason": "明确创作请求。",
		"intent": "storyboard",
		"tool_tier": "canvas"
	}`}
	r := New(client, nil)

	d := r.Select(context.Background(), request(types.ModeAgent, "帮我生成九宫格分镜"))
	assert.Equal(t, "storyboard_artist", d.RoleID)
	assert.Equal(t, "分镜师", d.RoleName)
	assert.Equal(t, "storyboard", d.Intent)
	assert.True(t, d.AllowCanvasTools)
	assert.Equal(t, types.TierCanvas, d.ToolTier)
	require.Len(t, client.prompts, 1)
	assert.Contains(t, client.prompts[0], "storyboard_artist")
	assert.Contains(t, client.prompts[0], "帮我生成九宫格分镜")
}

func TestTierExclusivity(t *testing.T) {
	t.Run("allow forces canvas tier", func(t *testing.T) {
		d := resolvePayload(decisionPayload{RoleID: "screenwriter", ToolTier: "none", AllowCanvasTools: boolPtr(true)})
		assert.Equal(t, types.TierCanvas, d.ToolTier)
	})

	t.Run("canvas tier without permission collapses to none", func(t *testing.T) {
		d := resolvePayload(decisionPayload{RoleID: "screenwriter", ToolTier: "canvas", AllowCanvasTools: boolPtr(false)})
		assert.Equal(t, types.TierNone, d.ToolTier)
	})

	t.Run("web is treated as rag and disables canvas", func(t *testing.T) {
		d := resolvePayload(decisionPayload{RoleID: "screenwriter", ToolTier: "web", AllowCanvasTools: boolPtr(false)})
		assert.Equal(t, types.TierRAG, d.ToolTier)
		assert.False(t, d.AllowCanvasTools)
		assert.Equal(t, "本轮为知识库检索（RAG）意图，禁用画布工具以保持互斥。", d.AllowCanvasToolsReason)
	})

	t.Run("absent allow defaults to true", func(t *testing.T) {
		d := resolvePayload(decisionPayload{RoleID: "art_director"})
		assert.True(t, d.AllowCanvasTools)
		assert.Equal(t, types.TierCanvas, d.ToolTier)
		assert.Equal(t, "根据用户意图判断。", d.AllowCanvasToolsReason)
	})
}

func TestApplyModePolicy(t *testing.T) {
	base := types.RoleDecision{
		RoleID:           "storyboard_artist",
		AllowCanvasTools: true,
		ToolTier:         types.TierCanvas,
	}

	t.Run("agent max forces execution", func(t *testing.T) {
		d := base
		d.AllowCanvasTools = false
		d.ToolTier = types.TierNone
		got := ApplyModePolicy(d, types.ModeAgentMax, "随便聊聊")
		assert.True(t, got.AllowCanvasTools)
		assert.Equal(t, types.TierCanvas, got.ToolTier)
		assert.Equal(t, "Agent Max 模式：允许自执行画布工具（包含图片/视频自动执行）。", got.AllowCanvasToolsReason)
	})

	t.Run("agent forces execution", func(t *testing.T) {
		got := ApplyModePolicy(base, types.ModeAgent, "hi")
		assert.Equal(t, "Agent 模式：允许自执行画布工具（尽量不反复询问）。", got.AllowCanvasToolsReason)
	})

	t.Run("plan revokes without execute hint", func(t *testing.T) {
		got := ApplyModePolicy(base, types.ModePlan, "帮我生成一个分镜图")
		assert.False(t, got.AllowCanvasTools)
		assert.Equal(t, types.TierNone, got.ToolTier)
		assert.Equal(t, "Plan 模式：按步骤询问确认，本轮不自动执行画布工具。", got.AllowCanvasToolsReason)
	})

	t.Run("plan keeps execution with explicit hint", func(t *testing.T) {
		got := ApplyModePolicy(base, types.ModePlan, "直接执行，生成九宫格分镜")
		assert.True(t, got.AllowCanvasTools)
		assert.Equal(t, types.TierCanvas, got.ToolTier)
	})

	t.Run("plan short message without creation intent revoked", func(t *testing.T) {
		got := ApplyModePolicy(base, types.ModePlan, "run")
		assert.False(t, got.AllowCanvasTools)
		assert.Equal(t, "用户输入过短且未表达明确创作动作，先用选项确认下一步。", got.AllowCanvasToolsReason)
	})

	t.Run("plan short message with creation intent kept", func(t *testing.T) {
		got := ApplyModePolicy(base, types.ModePlan, "直接生成视频")
		assert.True(t, got.AllowCanvasTools)
	})

	t.Run("invalid mode behaves as agent", func(t *testing.T) {
		got := ApplyModePolicy(base, types.InteractionMode("bogus"), "hi")
		assert.True(t, got.AllowCanvasTools)
	})
}

func TestSelectFallbacks(t *testing.T) {
	t.Run("provider error falls back to default role", func(t *testing.T) {
		r := New(&stubClient{err: errors.New("boom")}, nil)
		d := r.Select(context.Background(), request(types.ModePlan, "hello"))
		assert.Equal(t, "art_director", d.RoleID)
		assert.Contains(t, d.Reason, "Fallback due to provider error")
	})

	t.Run("garbled output recovers role by name", func(t *testing.T) {
		r := New(&stubClient{out: "我觉得应该让分镜师来处理这个请求。"}, nil)
		d := r.Select(context.Background(), request(types.ModePlan, "hello"))
		assert.Equal(t, "storyboard_artist", d.RoleID)
		assert.Contains(t, d.Reason, "Fallback parse from model output")
	})

	t.Run("empty output yields default with placeholder reason", func(t *testing.T) {
		r := New(&stubClient{out: ""}, nil)
		d := r.Select(context.Background(), request(types.ModePlan, "hello"))
		assert.Equal(t, "art_director", d.RoleID)
		assert.Contains(t, d.Reason, "无理由")
	})

	t.Run("json embedded in prose is recovered", func(t *testing.T) {
		r := New(&stubClient{out: "Sure! Here is the decision: {\"role_id\": \"screenwriter\", \"role_name\": \"编剧\", \"reason\": \"要写故事。\"}"}, nil)
		d := r.Select(context.Background(), request(types.ModeAgent, "写个故事"))
		assert.Equal(t, "screenwriter", d.RoleID)
		assert.Equal(t, "要写故事。", d.Reason)
	})

	t.Run("nil client routes to default", func(t *testing.T) {
		r := New(nil, nil)
		d := r.Select(context.Background(), request(types.ModeAgent, "hi"))
		assert.Equal(t, "art_director", d.RoleID)
	})
}

func boolPtr(b bool) *bool { return &b }
