package orchestrator

import (
	"fmt"
	"strings"

	"tapcanvas/internal/canvas"
	"tapcanvas/internal/types"
)

const maxSynthesizedReplies = 4

// fallbackTextFromToolCalls builds a short confirmation when the model
// answered with tool calls only.
func fallbackTextFromToolCalls(calls []types.ToolCall) string {
	var creates, updates, connects, runs int
	var labels []string
	for _, c := range calls {
		switch c.Name {
		case canvas.OpCreateNode:
			creates++
			if label, ok := c.Arguments["label"].(string); ok && strings.TrimSpace(label) != "" {
				labels = append(labels, strings.TrimSpace(label))
			}
		case canvas.OpUpdateNode:
			updates++
		case canvas.OpConnectNodes:
			connects++
		case canvas.OpRunNode:
			runs++
		}
	}

	var parts []string
	if creates > 0 {
		if len(labels) > 0 {
			head := strings.Join(labels[:min(len(labels), 3)], "、")
			tail := ""
			if len(labels) > 3 {
				tail = "…"
			}
			parts = append(parts, "已在画布创建节点："+head+tail)
		} else {
			parts = append(parts, fmt.Sprintf("已在画布创建 %d 个节点", creates))
		}
	}
	if updates > 0 {
		parts = append(parts, fmt.Sprintf("已更新 %d 个节点", updates))
	}
	if connects > 0 {
		parts = append(parts, fmt.Sprintf("已连接 %d 条连线", connects))
	}
	if runs > 0 {
		parts = append(parts, fmt.Sprintf("已触发运行 %d 个节点", runs))
	}
	if len(parts) == 0 {
		return "已更新画布。"
	}
	return strings.Join(parts, "；") + "。"
}

// synthesizeQuickReplies offers the next steps after canvas operations:
// run the still-unrun video, refine the freshest storyboard image, or pivot
// direction.
func synthesizeQuickReplies(calls []types.ToolCall) []types.QuickReply {
	var createdImages, createdVideos []string
	ranNodes := map[string]bool{}
	for _, c := range calls {
		switch c.Name {
		case canvas.OpCreateNode:
			label, _ := c.Arguments["label"].(string)
			label = strings.TrimSpace(label)
			if label == "" {
				continue
			}
			switch c.Arguments["type"] {
			case "image", "textToImage":
				createdImages = append(createdImages, label)
			case "composeVideo":
				createdVideos = append(createdVideos, label)
			}
		case canvas.OpRunNode:
			if id, ok := c.Arguments["nodeId"].(string); ok && strings.TrimSpace(id) != "" {
				ranNodes[strings.TrimSpace(id)] = true
			}
		}
	}

	var actions []types.QuickReply
	for _, v := range createdVideos {
		if ranNodes[v] {
			continue
		}
		actions = append(actions, types.QuickReply{
			Label: "继续生成15s视频",
			Input: "请运行节点：" + v + "。",
		})
		break
	}
	if len(createdImages) > 0 {
		img := createdImages[len(createdImages)-1]
		actions = append(actions, types.QuickReply{
			Label: "微调九宫格分镜",
			Input: "请基于刚生成的九宫格分镜图（" + img + "）做微调：镜头更紧凑、关键转折更清晰、字幕更短更有黑色幽默；然后再生成15s视频。",
		})
	}
	actions = append(actions, types.QuickReply{
		Label: "换一个方向/风格",
		Input: "我想换一个方向/风格：\n- 新风格：\n- 重点改动：\n请基于当前项目重新生成九宫格分镜并继续生成15s视频。",
	})
	if len(actions) > maxSynthesizedReplies {
		actions = actions[:maxSynthesizedReplies]
	}
	return actions
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
