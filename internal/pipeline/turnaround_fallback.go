package pipeline

import (
	"strings"

	"tapcanvas/internal/canvas"
	"tapcanvas/internal/types"
)

var turnaroundMentionKeywords = []string{"三视", "三视图", "角色三视", "角色三视图"}

const fallbackTurnaroundPromptSuffix = "日漫2D角色设定图，三视图同画面（正面/侧面/背面），全身站姿，比例统一，三视同一身高与肩宽，脸型五官一致，发型轮廓一致；" +
	"线条干净，赛璐璐平涂，少量高光与阴影；纯浅灰背景；脚底对齐同一地面线；清晰服装结构与褶皱逻辑；适合后续分镜复用。\n"

const fallbackTurnaroundNegative = "写实3D, 真人照片风, Q版, 夸张大眼幼态, 换脸, 换发型, 换衣服, 多余人物, 多张脸, 背景复杂, 血腥细节, 肢体缺失, 手指畸形"

// MentionsTurnaround reports whether the reply promised character
// turnaround sheets.
func MentionsTurnaround(text string) bool {
	return containsAny(text, turnaroundMentionKeywords)
}

// TurnaroundFallbackCalls builds turnaround create+run calls when an
// agent_max reply promised 三视图 but issued no tool calls. Character names
// come from keyword heuristics over the recent user messages.
func TurnaroundFallbackCalls(messages []types.Message) []types.ToolCall {
	tail := messages
	if len(tail) > 12 {
		tail = tail[len(tail)-12:]
	}
	var userText strings.Builder
	for _, m := range tail {
		if m.Role == types.RoleUser {
			userText.WriteString(m.Content)
			userText.WriteString("\n")
		}
	}

	names := HeuristicCharacters(userText.String())
	if len(names) > 6 {
		names = names[:6]
	}

	var calls []types.ToolCall
	for _, name := range names {
		label := "角色三视图-" + name
		prompt := fallbackTurnaroundPromptSuffix +
			"角色：" + name + "。\n" +
			"风格：民俗志怪+现实荒诞的日漫2D，克制写实（非Q版）。\n" +
			"要求：不要换脸、不要换衣服、不要改变发型分缝；三视一致。"
		calls = append(calls, types.ToolCall{
			Name: canvas.OpCreateNode,
			Arguments: map[string]interface{}{
				"type":  "image",
				"label": label,
				"config": map[string]interface{}{
					"kind":           "image",
					"imageModel":     imageModel,
					"prompt":         prompt,
					"negativePrompt": fallbackTurnaroundNegative,
				},
			},
		})
		calls = append(calls, types.ToolCall{
			Name:      canvas.OpRunNode,
			Arguments: map[string]interface{}{"nodeId": label},
		})
	}
	return calls
}
