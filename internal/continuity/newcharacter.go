package continuity

import (
	"strings"

	"tapcanvas/internal/canvas"
	"tapcanvas/internal/types"
)

var continuationStepKeywords = []string{"我选择方向", "自定义续写", "续写"}

var storyboardLabelKeywords = []string{"分镜", "九宫格", "storyboard"}

// NewCharacterText asks the user to confirm a freshly designed character
// before the continuation storyboard is generated.
const NewCharacterText = "我先为续写新增了一个角色设定图。你确认角色外观后，我再继续生成续写分镜。"

// NewCharacterMenus returns the confirm/redo/skip buttons for a new
// character introduced by a continuation.
func NewCharacterMenus() []types.QuickReply {
	return []types.QuickReply{
		{
			Label: "角色OK，继续分镜",
			Input: "新角色我确认OK。请把新角色纳入同一项目设定，基于已有剧情续写下一段，并生成九宫格分镜（image）再连接到15s视频（composeVideo）。",
		},
		{
			Label: "重做这个角色",
			Input: "这个新角色不满意。请保持同一角色定位与风格，重做 3 个版本给我选（同一个 image 节点出 3 张即可）。",
		},
		{
			Label: "不要新角色",
			Input: "不要新增角色了。请只用现有角色基于已有剧情续写，并生成九宫格分镜与15s视频。",
		},
	}
}

// IsContinuationStep reports whether the user asked to continue the story
// (as opposed to asking for direction suggestions).
func IsContinuationStep(lastUserText string) bool {
	return containsAny(lastUserText, continuationStepKeywords) && !IsStorySuggestionRequest(lastUserText)
}

// HoldForNewCharacter checks whether a continuation turn introduces a new
// character alongside a storyboard. If so, everything except the new
// character's create+run calls is dropped and the user is asked to confirm
// the design first. Returns the possibly reduced calls and whether the hold
// applied.
func HoldForNewCharacter(calls []types.ToolCall, lastUserText string, canvasCtx *types.CanvasContext) ([]types.ToolCall, bool) {
	if !IsContinuationStep(lastUserText) {
		return calls, false
	}

	existing := canvas.Labels(canvasCtx)

	var newCharacters []string
	hasStoryboardCreate := false
	for _, c := range calls {
		if c.Name != canvas.OpCreateNode {
			continue
		}
		if s, _ := c.Arguments["type"].(string); s != "image" {
			continue
		}
		label, _ := c.Arguments["label"].(string)
		label = strings.TrimSpace(label)

		promptText := ""
		if cfg, ok := c.Arguments["config"].(map[string]interface{}); ok {
			promptText, _ = cfg["prompt"].(string)
		}
		if canvas.HasStoryboardHint(label + "\n" + promptText) {
			hasStoryboardCreate = true
		}

		if label == "" {
			continue
		}
		isCharacter := strings.Contains(label, "角色") || strings.Contains(strings.ToLower(label), "character")
		if isCharacter && !existing[label] && !containsAny(label, storyboardLabelKeywords) {
			newCharacters = append(newCharacters, label)
		}
	}

	if len(newCharacters) == 0 || !hasStoryboardCreate {
		return calls, false
	}

	keep := map[string]bool{}
	for _, l := range newCharacters {
		keep[l] = true
	}
	var kept []types.ToolCall
	for _, c := range calls {
		switch c.Name {
		case canvas.OpCreateNode:
			label, _ := c.Arguments["label"].(string)
			if t, _ := c.Arguments["type"].(string); t == "image" && keep[strings.TrimSpace(label)] {
				kept = append(kept, c)
			}
		case canvas.OpRunNode:
			nodeID, _ := c.Arguments["nodeId"].(string)
			if keep[strings.TrimSpace(nodeID)] {
				kept = append(kept, c)
			}
		}
	}
	return kept, true
}
