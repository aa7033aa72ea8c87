package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"tapcanvas/internal/config"
	"tapcanvas/internal/perception"
	"tapcanvas/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubLLM struct {
	structuredOut string
	structuredErr error
	toolsResp     *types.LLMToolResponse
	toolsErr      error
	completeOut   string
	completeErr   error

	toolPrompts []string
}

func (s *stubLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return s.completeOut, s.completeErr
}

func (s *stubLLM) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	return s.completeOut, s.completeErr
}

func (s *stubLLM) CompleteStructured(ctx context.Context, prompt string, schema *types.JSONSchema) (string, error) {
	return s.structuredOut, s.structuredErr
}

func (s *stubLLM) CompleteWithTools(ctx context.Context, prompt string, tools []types.ToolDefinition) (*types.LLMToolResponse, error) {
	s.toolPrompts = append(s.toolPrompts, prompt)
	if s.toolsErr != nil {
		return nil, s.toolsErr
	}
	if s.toolsResp != nil {
		return s.toolsResp, nil
	}
	return &types.LLMToolResponse{}, nil
}

func routerStub(roleID string, allow bool, tier string) *stubLLM {
	out := `{"role_id": "` + roleID + `", "role_name": "x", "reason": "测试路由。", ` +
		`"allow_canvas_tools": ` + boolLit(allow) + `, "allow_canvas_tools_reason": "测试。", "tool_tier": "` + tier + `"}`
	return &stubLLM{structuredOut: out}
}

func boolLit(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func storyText() string {
	var b strings.Builder
	b.WriteString("是夜，李长安抱着一本线装书走进老宅。\n")
	b.WriteString("李老头在门口烧纸钱，忽然抬头看他。\n")
	for i := 0; i < 30; i++ {
		b.WriteString("他翻开书页，恶鬼的画像在烛光里微微晃动，像是要从纸面上爬出来。")
	}
	b.WriteString("帮我做成15秒的视频。")
	return b.String()
}

func request(mode types.InteractionMode, userText string) *types.TurnRequest {
	return &types.TurnRequest{
		ConversationID: "conv",
		Mode:           mode,
		Messages:       []types.Message{{Role: types.RoleUser, Content: userText}},
	}
}

func newOrchestrator(clients Clients) *Orchestrator {
	return NewWithClients(config.Default(), clients, nil)
}

func callsByName(calls []types.ToolCall, name string) []types.ToolCall {
	var out []types.ToolCall
	for _, c := range calls {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

func TestStoryPipelineAgentMax(t *testing.T) {
	o := newOrchestrator(Clients{
		Router: routerStub("screenwriter", true, "canvas"),
		Answer: &stubLLM{structuredErr: errors.New("extraction offline")},
		Safety: &stubLLM{structuredErr: errors.New("classifier offline")},
	})

	resp := o.Turn(context.Background(), request(types.ModeAgentMax, storyText()))

	creates := callsByName(resp.ToolCalls, "createNode")
	runs := callsByName(resp.ToolCalls, "runNode")
	connects := callsByName(resp.ToolCalls, "connectNodes")

	var labels []string
	for _, c := range creates {
		labels = append(labels, c.Arguments["label"].(string))
	}
	assert.Contains(t, labels, "角色三视图-李长安")
	assert.Contains(t, labels, "九宫格分镜-故事提炼15秒（日漫2D）")
	assert.Contains(t, labels, "短片-故事提炼15秒（日漫2D）")
	assert.NotEmpty(t, connects)

	// agent_max auto-runs the video node.
	var ranVideo bool
	for _, r := range runs {
		if r.Arguments["nodeId"] == "短片-故事提炼15秒（日漫2D）" {
			ranVideo = true
		}
	}
	assert.True(t, ranVideo)
	assert.Contains(t, resp.Content, "已从故事中自动提取主要角色")
	assert.Equal(t, 1, resp.LoopCount)
}

func TestStoryPlanModeGated(t *testing.T) {
	o := newOrchestrator(Clients{
		Router: routerStub("screenwriter", true, "canvas"),
		Answer: &stubLLM{toolsResp: &types.LLMToolResponse{Text: "好的，我先规划分镜。"}},
		Safety: &stubLLM{structuredErr: errors.New("offline")},
	})

	resp := o.Turn(context.Background(), request(types.ModePlan, storyText()))

	assert.Empty(t, resp.ToolCalls)
	require.Len(t, resp.QuickReplies, 4)
	assert.Equal(t, "继续（锁定+先做角色设定图）", resp.QuickReplies[0].Label)
	assert.Contains(t, resp.Content, "请先确认锁定规则")
	assert.False(t, resp.Role.AllowCanvasTools)
}

func TestSafetyBlockClearsCalls(t *testing.T) {
	answer := &stubLLM{toolsResp: &types.LLMToolResponse{
		Text: "开始生成。",
		ToolCalls: []types.ToolCall{
			{Name: "createNode", Arguments: map[string]interface{}{
				"type": "image", "label": "分镜-夜戏",
				"config": map[string]interface{}{"kind": "image", "prompt": "裸体场景"},
			}},
		},
	}}
	o := newOrchestrator(Clients{
		Router: routerStub("storyboard_artist", true, "canvas"),
		Answer: answer,
		Safety: &stubLLM{structuredOut: `{"sexual": true, "nudity": false, "gore": false, "violence": false, "should_block": true, "should_sanitize": false, "reason": "explicit"}`},
	})

	resp := o.Turn(context.Background(), request(types.ModeAgent, "生成一段露骨的性爱视频分镜"))

	assert.Empty(t, resp.ToolCalls)
	require.Len(t, resp.QuickReplies, 4)
	assert.Equal(t, "改成含蓄浪漫（不露骨）", resp.QuickReplies[0].Label)
	assert.Contains(t, resp.Content, "PG-13")
	require.NotNil(t, resp.Safety)
	assert.True(t, resp.Safety.ShouldBlock)
}

func TestComposeVideoDurationClamp(t *testing.T) {
	answer := &stubLLM{toolsResp: &types.LLMToolResponse{
		Text: "成片已安排。",
		ToolCalls: []types.ToolCall{
			{Name: "createNode", Arguments: map[string]interface{}{
				"type": "composeVideo", "label": "成片-45秒",
				"config": map[string]interface{}{
					"kind": "composeVideo", "prompt": "完整成片提示词",
					"durationSeconds": float64(45),
				},
			}},
		},
	}}
	o := newOrchestrator(Clients{
		Router: routerStub("storyboard_artist", true, "canvas"),
		Answer: answer,
		Safety: &stubLLM{structuredErr: errors.New("offline")},
	})

	resp := o.Turn(context.Background(), request(types.ModeAgent, "把成片做成45秒的视频"))

	creates := callsByName(resp.ToolCalls, "createNode")
	require.Len(t, creates, 1)
	cfg := creates[0].Arguments["config"].(map[string]interface{})
	assert.Equal(t, 15, cfg["durationSeconds"])
	assert.Contains(t, cfg["prompt"].(string), "分段生成第2段")
}

func TestTimeoutFallback(t *testing.T) {
	answer := &stubLLM{toolsResp: &types.LLMToolResponse{
		Text:     "部分结论已经写到一半",
		TimedOut: true,
		ToolCalls: []types.ToolCall{
			{Name: "createNode", Arguments: map[string]interface{}{"type": "image", "label": "x"}},
		},
	}}
	o := newOrchestrator(Clients{
		Router: routerStub("art_director", false, "none"),
		Answer: answer,
		Safety: &stubLLM{structuredErr: errors.New("offline")},
	})

	resp := o.Turn(context.Background(), request(types.ModePlan, "随便聊聊项目"))

	assert.Empty(t, resp.ToolCalls)
	assert.Contains(t, resp.Content, "部分结论已经写到一半")
	assert.Contains(t, resp.Content, "生成超时，先给出当前可用结论")
}

func TestMissingCredentialApology(t *testing.T) {
	o := newOrchestrator(Clients{
		Router: routerStub("art_director", false, "none"),
	})

	resp := o.Turn(context.Background(), request(types.ModePlan, "你好"))

	assert.Contains(t, resp.Content, "后端未配置模型密钥")
	require.NotNil(t, resp.LLMError)
	assert.Equal(t, string(perception.KindMissingCredential), resp.LLMError.Type)
	assert.Empty(t, resp.ToolCalls)
}

func TestProviderErrorApology(t *testing.T) {
	o := newOrchestrator(Clients{
		Router: routerStub("art_director", false, "none"),
		Answer: &stubLLM{toolsErr: perception.NewCallError(perception.KindProvider, "upstream 502")},
	})

	resp := o.Turn(context.Background(), request(types.ModePlan, "你好"))

	assert.Contains(t, resp.Content, "OpenAI 接口异常")
	assert.Contains(t, resp.Content, "upstream 502")
}

func TestRouterVetoMenus(t *testing.T) {
	o := newOrchestrator(Clients{
		Router: routerStub("art_director", false, "none"),
		Answer: &stubLLM{toolsResp: &types.LLMToolResponse{}},
		Safety: &stubLLM{structuredErr: errors.New("offline")},
	})

	resp := o.Turn(context.Background(), request(types.ModePlan, "嗯"))

	assert.Empty(t, resp.ToolCalls)
	require.Len(t, resp.QuickReplies, 3)
	assert.Equal(t, "继续创作（先选方向）", resp.QuickReplies[0].Label)
	assert.Equal(t, "我先不动画布。你想先聊清楚需求，还是直接点一个选项让我开始执行？", resp.Content)
}

func TestSuggestionMenuOverride(t *testing.T) {
	o := newOrchestrator(Clients{
		Router: routerStub("screenwriter", false, "none"),
		Answer: &stubLLM{toolsResp: &types.LLMToolResponse{Text: "可以往这些方向走。"}},
		Safety: &stubLLM{structuredErr: errors.New("offline")},
	})

	resp := o.Turn(context.Background(), request(types.ModePlan, "帮我推荐几个续写方向"))

	assert.Empty(t, resp.ToolCalls)
	require.Len(t, resp.QuickReplies, 4)
	assert.Equal(t, "方向A：暖心日常", resp.QuickReplies[0].Label)
	assert.Contains(t, resp.Content, "3 个续写方向")
}

func TestSuggestionRequestBypassesLockGate(t *testing.T) {
	reply := "可以先定方向再动手。\n```tapcanvas_actions\n" +
		`{"title":"选一个方向","actions":[{"label":"方向A：旧宅寻书","input":"按方向A续写"},{"label":"方向B：恶鬼现身","input":"按方向B续写"}]}` +
		"\n```"
	o := newOrchestrator(Clients{
		Router: routerStub("screenwriter", true, "canvas"),
		Answer: &stubLLM{toolsResp: &types.LLMToolResponse{Text: reply}},
		Safety: &stubLLM{structuredErr: errors.New("offline")},
	})

	resp := o.Turn(context.Background(), request(types.ModePlan, "帮我推荐接下来的续写方向，然后生成视频"))

	assert.NotContains(t, resp.Content, "请先确认锁定规则")
	assert.NotContains(t, resp.Content, "锁定“主场景")
	require.Len(t, resp.QuickReplies, 2)
	assert.Equal(t, "方向A：旧宅寻书", resp.QuickReplies[0].Label)
	assert.Equal(t, "按方向B续写", resp.QuickReplies[1].Input)
}

func TestQuickRepliesAndHook(t *testing.T) {
	answer := &stubLLM{toolsResp: &types.LLMToolResponse{
		Text: "分镜和成片节点已经建好。",
		ToolCalls: []types.ToolCall{
			{Name: "createNode", Arguments: map[string]interface{}{
				"type": "image", "label": "九宫格分镜-第二幕",
				"config": map[string]interface{}{"kind": "image", "prompt": "九宫格分镜"},
			}},
			{Name: "createNode", Arguments: map[string]interface{}{
				"type": "composeVideo", "label": "第二幕-15s视频",
				"config": map[string]interface{}{"kind": "composeVideo", "prompt": "成片", "durationSeconds": float64(15)},
			}},
			{Name: "connectNodes", Arguments: map[string]interface{}{
				"sourceNodeId": "九宫格分镜-第二幕", "targetNodeId": "第二幕-15s视频",
			}},
		},
	}}
	o := newOrchestrator(Clients{
		Router: routerStub("storyboard_artist", true, "canvas"),
		Answer: answer,
		Safety: &stubLLM{structuredErr: errors.New("offline")},
	})

	resp := o.Turn(context.Background(), request(types.ModeAgent, "继续生成第二幕的九宫格分镜和视频"))

	require.NotEmpty(t, resp.ToolCalls)
	assert.Contains(t, resp.Content, "分镜生成后，点下面选项继续。")

	var labels []string
	for _, qr := range resp.QuickReplies {
		labels = append(labels, qr.Label)
	}
	assert.Contains(t, labels, "继续生成15s视频")
	assert.Contains(t, labels, "微调九宫格分镜")
	assert.Contains(t, labels, "换一个方向/风格")
}

func TestFallbackTextFromToolCalls(t *testing.T) {
	answer := &stubLLM{toolsResp: &types.LLMToolResponse{
		ToolCalls: []types.ToolCall{
			{Name: "createNode", Arguments: map[string]interface{}{
				"type": "image", "label": "场景设定-老宅",
				"config": map[string]interface{}{"kind": "image", "prompt": "老宅夜景"},
			}},
		},
	}}
	o := newOrchestrator(Clients{
		Router: routerStub("scene_designer", true, "canvas"),
		Answer: answer,
		Safety: &stubLLM{structuredErr: errors.New("offline")},
	})

	resp := o.Turn(context.Background(), request(types.ModeAgent, "继续，直接生成老宅场景图"))

	assert.Contains(t, resp.Content, "已在画布创建节点：场景设定-老宅")
	// auto-run is appended for the created image node
	runs := callsByName(resp.ToolCalls, "runNode")
	require.NotEmpty(t, runs)
	assert.Equal(t, "场景设定-老宅", runs[0].Arguments["nodeId"])
}

func TestInlineActionsExtraction(t *testing.T) {
	text := "下一步可以这样。\n\ntapcanvas_actions\n{\"actions\": [{\"label\": \"继续\", \"input\": \"继续生成分镜\"}]}"
	o := newOrchestrator(Clients{
		Router: routerStub("art_director", false, "none"),
		Answer: &stubLLM{toolsResp: &types.LLMToolResponse{Text: text}},
		Safety: &stubLLM{structuredErr: errors.New("offline")},
	})

	resp := o.Turn(context.Background(), request(types.ModePlan, "聊聊接下来怎么安排"))

	assert.NotContains(t, resp.Content, "tapcanvas_actions")
	require.Len(t, resp.QuickReplies, 1)
	assert.Equal(t, "继续", resp.QuickReplies[0].Label)
	assert.Equal(t, "继续生成分镜", resp.QuickReplies[0].Input)
}
