// Package router selects the assistant role and the tool surface for a
// turn. Selection never fails: any model or parse problem falls back to the
// default role with canvas tools governed by the interaction mode.
package router

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"tapcanvas/internal/articulation"
	"tapcanvas/internal/canvas"
	"tapcanvas/internal/prompt"
	"tapcanvas/internal/roles"
	"tapcanvas/internal/session"
	"tapcanvas/internal/types"
)

// Router wraps the role-selection model call.
type Router struct {
	client types.LLMClient
	logger *zap.Logger
}

// New builds a router. client may be nil for offline fallback routing.
func New(client types.LLMClient, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{client: client, logger: logger}
}

// DecisionSchema constrains the routing output.
func DecisionSchema() *types.JSONSchema {
	strProp := func() map[string]interface{} {
		return map[string]interface{}{"type": "string"}
	}
	return &types.JSONSchema{
		Name: "role_decision",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"role_id":                   strProp(),
				"role_name":                 strProp(),
				"reason":                    strProp(),
				"allow_canvas_tools":        map[string]interface{}{"type": "boolean"},
				"allow_canvas_tools_reason": strProp(),
				"intent":                    strProp(),
				"tool_tier": map[string]interface{}{
					"type": "string",
					"enum": []interface{}{"none", "canvas", "rag", "web"},
				},
			},
			"required": []interface{}{"role_id", "role_name", "reason"},
		},
	}
}

// decisionPayload mirrors the model's JSON so absent optional fields keep
// their documented defaults.
type decisionPayload struct {
	RoleID                 string `json:"role_id"`
	RoleName               string `json:"role_name"`
	Reason                 string `json:"reason"`
	AllowCanvasTools       *bool  `json:"allow_canvas_tools"`
	AllowCanvasToolsReason string `json:"allow_canvas_tools_reason"`
	Intent                 string `json:"intent"`
	ToolTier               string `json:"tool_tier"`
}

// Select picks the role and tool tier for this turn. It never returns an
// error; routing failures resolve to the default role.
func (r *Router) Select(ctx context.Context, req *types.TurnRequest) types.RoleDecision {
	conversation := session.CompactConversation(req.Summary, req.Messages)
	canvasContext := canvas.RenderForPrompt(req.Canvas)
	p := prompt.RoleRouter(roles.PromptBlock(), roles.DefaultRoleID, conversation, canvasContext)

	payload := r.complete(ctx, p)
	decision := resolvePayload(payload)
	return ApplyModePolicy(decision, req.Mode, req.LastUserText())
}

func (r *Router) complete(ctx context.Context, p string) decisionPayload {
	if r.client == nil {
		return fallbackPayload("", "Fallback: routing model unavailable.")
	}
	raw, err := r.client.CompleteStructured(ctx, p, DecisionSchema())
	if err != nil {
		r.logger.Warn("role routing call failed", zap.Error(err))
		return fallbackPayload("", "Fallback due to provider error: "+err.Error())
	}

	var payload decisionPayload
	if err := json.Unmarshal([]byte(raw), &payload); err == nil && payload.RoleID != "" {
		return payload
	}
	for _, candidate := range articulation.FindJSONCandidates(raw) {
		if err := json.Unmarshal([]byte(candidate), &payload); err == nil && payload.RoleID != "" {
			return payload
		}
	}
	return fallbackPayload(raw, "")
}

// fallbackPayload recovers a minimal decision from garbled output by
// scanning for a known role id or name.
func fallbackPayload(raw, reason string) decisionPayload {
	trimmed := strings.TrimSpace(raw)
	chosen := roles.DefaultRoleID
	if id, ok := roles.RecoverID(trimmed); ok {
		chosen = id
	}
	if reason == "" {
		excerpt := trimmed
		if r := []rune(excerpt); len(r) > 120 {
			excerpt = string(r[:120])
		}
		if excerpt == "" {
			excerpt = "无理由"
		}
		reason = "Fallback parse from model output: " + excerpt
	}
	return decisionPayload{RoleID: chosen, Reason: reason}
}

// resolvePayload normalizes the parsed payload into a RoleDecision with the
// mutually-exclusive tool tier enforced.
func resolvePayload(p decisionPayload) types.RoleDecision {
	resolvedID, profile := roles.Resolve(p.RoleID)

	reason := p.Reason
	if reason == "" {
		reason = "基于对话意图的默认选择。"
	}
	allow := true
	if p.AllowCanvasTools != nil {
		allow = *p.AllowCanvasTools
	}
	allowReason := p.AllowCanvasToolsReason
	if allowReason == "" {
		allowReason = "根据用户意图判断。"
	}
	tier := strings.ToLower(strings.TrimSpace(p.ToolTier))
	if tier == "" {
		tier = string(types.TierNone)
	}

	// Tiers are mutually exclusive: canvas permission wins, and the legacy
	// web tier collapses into knowledge-base retrieval.
	if allow {
		tier = string(types.TierCanvas)
	} else if tier == string(types.TierCanvas) {
		tier = string(types.TierNone)
	}
	if tier == "web" || tier == string(types.TierRAG) {
		tier = string(types.TierRAG)
		allow = false
		allowReason = "本轮为知识库检索（RAG）意图，禁用画布工具以保持互斥。"
	}

	return types.RoleDecision{
		RoleID:                 resolvedID,
		RoleName:               profile.Name,
		Reason:                 reason,
		AllowCanvasTools:       allow,
		AllowCanvasToolsReason: allowReason,
		Intent:                 p.Intent,
		ToolTier:               types.ToolTier(tier),
	}
}

var explicitExecuteHints = []string{
	"不用确认", "不必确认", "别问", "直接执行", "直接生成", "自动执行", "自执行", "run", "tool",
}

var creationHints = []string{
	"生成", "创建", "画", "做", "帮", "续写", "分镜", "故事板", "九宫格",
	"视频", "图片", "改", "调整", "修改", "连接", "运行",
}

// ApplyModePolicy layers the interaction-mode overrides on a routed
// decision. Agent modes force canvas execution; plan mode revokes it unless
// the user explicitly asked to execute, and treats very short messages
// without creation intent as not-yet-confirmed.
func ApplyModePolicy(d types.RoleDecision, mode types.InteractionMode, lastUserText string) types.RoleDecision {
	if !mode.Valid() {
		mode = types.ModeAgent
	}

	if mode == types.ModeAgent || mode == types.ModeAgentMax {
		d.AllowCanvasTools = true
		if mode == types.ModeAgentMax {
			d.AllowCanvasToolsReason = "Agent Max 模式：允许自执行画布工具（包含图片/视频自动执行）。"
		} else {
			d.AllowCanvasToolsReason = "Agent 模式：允许自执行画布工具（尽量不反复询问）。"
		}
		d.ToolTier = types.TierCanvas
		return d
	}

	compact := strings.Join(strings.Fields(strings.TrimSpace(lastUserText)), " ")

	if d.AllowCanvasTools && !containsAny(compact, explicitExecuteHints) {
		d.AllowCanvasTools = false
		d.AllowCanvasToolsReason = "Plan 模式：按步骤询问确认，本轮不自动执行画布工具。"
		d.ToolTier = types.TierNone
	}

	if d.AllowCanvasTools && compact != "" && len([]rune(compact)) <= 8 && !containsAny(compact, creationHints) {
		d.AllowCanvasTools = false
		d.AllowCanvasToolsReason = "用户输入过短且未表达明确创作动作，先用选项确认下一步。"
	}
	return d
}

func containsAny(s string, keys []string) bool {
	for _, k := range keys {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
