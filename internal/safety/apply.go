package safety

import (
	"tapcanvas/internal/canvas"
	"tapcanvas/internal/types"
)

// BlockText replaces the drafted reply when explicit sexual content must be
// renegotiated before any generation happens.
const BlockText = "内容安全检查判定为需要先降级到 PG-13（不露骨、不裸露）。我不会生成露骨色情内容；可以先把表达改成含蓄、电影化暗示再继续做分镜/视频。点一个按钮继续。"

// BlockMenus returns the rewrite choices shown alongside BlockText.
func BlockMenus() []types.QuickReply {
	return []types.QuickReply{
		{
			Label: "改成含蓄浪漫（不露骨）",
			Input: "把刚才的内容改写成含蓄浪漫、PG-13表达：不出现裸体/性行为/露骨描写，用暗示与情绪推进；然后再生成九宫格分镜。",
		},
		{
			Label: "改成亲密但克制",
			Input: "把亲密内容改成拥抱/牵手/靠近等克制表达（不涉及色情），强调关系与情绪；然后再生成分镜/视频。",
		},
		{
			Label: "只保留剧情，不生成画面",
			Input: "先不要生成画面。把内容改成适合大众平台的剧情梗概（不露骨），并给我3个可选走向按钮。",
		},
		{
			Label: "我只是要分镜（无色情）",
			Input: "我这段没有色情/裸露/性行为内容，只是要做分镜与提示词；请按原剧情继续生成九宫格分镜与统一提示词，并在提示词里明确：无裸露、无性行为、PG-13。",
		},
	}
}

// Apply enforces decision on a drafted reply. It returns the possibly
// rewritten text and tool calls, replacement quick replies when the turn is
// blocked, and whether it was blocked.
func Apply(decision types.SafetyDecision, text string, calls []types.ToolCall) (string, []types.ToolCall, []types.QuickReply, bool) {
	if decision.ShouldBlock && (decision.Sexual || decision.Nudity) {
		return BlockText, nil, BlockMenus(), true
	}

	if decision.ShouldSanitize && (decision.Sexual || decision.Nudity) {
		for i := range calls {
			rewriteNodePrompt(&calls[i], SoftenSexual, sexualNegativeSuffix)
		}
	}

	if decision.ShouldSanitize && (decision.Gore || decision.Violence) {
		text = SoftenViolent(text)
		for i := range calls {
			rewriteNodePrompt(&calls[i], SoftenViolent, violentNegativeSuffix)
		}
	}

	return text, calls, nil, false
}

// rewriteNodePrompt softens config.prompt on node-creating calls and appends
// the matching negative prompt terms.
func rewriteNodePrompt(call *types.ToolCall, soften func(string) string, negativeSuffix string) {
	if call.Name != canvas.OpCreateNode && call.Name != canvas.OpUpdateNode {
		return
	}
	config, ok := call.Arguments["config"].(map[string]interface{})
	if !ok {
		return
	}
	promptText, ok := config["prompt"].(string)
	if !ok || promptText == "" {
		return
	}
	config["prompt"] = soften(promptText)
	existing, _ := config["negativePrompt"].(string)
	config["negativePrompt"] = appendNegative(existing, negativeSuffix)
}
