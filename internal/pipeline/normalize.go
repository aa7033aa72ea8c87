package pipeline

import (
	"fmt"
	"strings"

	"tapcanvas/internal/canvas"
	"tapcanvas/internal/types"
)

var storyboardUserKeywords = []string{"分镜", "故事板", "storyboard", "九宫格", "15s"}

var referenceIntentKeywords = []string{"基于", "同款", "同风格", "沿用", "续写", "延展", "变体", "参考", "保持一致"}

const storyboardContinuityConstraint = "\n\n连续性要求（很重要）：\n" +
	"- 九宫格面板之间要有“衔接帧”感觉：面板N的结尾姿态/构图/机位/光线，应与面板N+1的开场保持一致（像同一动作的承接），避免突兀跳切。\n" +
	"- 如果上游参考里包含上一张九宫格分镜图：请让本次面板1自然承接上一张的面板9（构图/主体位置/光线延续），再继续推进新内容。\n" +
	"- 场景不要自由切换；主体数量不要在分镜中途增删。\n"

const durationSplitHint = "\n\n约束：本次为第1段（<=15秒）。如需更长成片，请分段生成第2段/第3段。"

// PostProcess applies the storyboard-workflow normalization passes to the
// model's tool calls: node type fixes, duration clamping, reference wiring,
// the automatic storyboard->video chain, and run scheduling.
func PostProcess(calls []types.ToolCall, lastUserText string, canvasCtx *types.CanvasContext) []types.ToolCall {
	normalizeTextToImage(calls)
	normalizeComposeVideo(calls)

	wantsStoryboardByUser := containsAny(lastUserText, storyboardUserKeywords)
	hasComposeVideo := false
	for _, c := range calls {
		if c.Name == canvas.OpCreateNode && argString(c.Arguments, "type") == "composeVideo" {
			hasComposeVideo = true
			break
		}
	}
	storyboardLabel, storyboardPrompt := findStoryboardCreate(calls)
	wantsStoryboard := wantsStoryboardByUser || storyboardLabel != ""

	if wantsStoryboard && storyboardLabel != "" {
		injectStoryboardContinuity(calls, storyboardLabel)
		calls = connectStoryboardReferences(calls, storyboardLabel, canvasCtx)
	}

	if wantsStoryboard && storyboardLabel != "" && !hasComposeVideo {
		calls = appendAutoComposeVideo(calls, storyboardLabel, storyboardPrompt)
	}

	if containsAny(lastUserText, referenceIntentKeywords) {
		calls = connectReferenceUpstream(calls, canvasCtx)
	}

	calls = dropPrematureVideoRuns(calls)
	return appendAutoRuns(calls)
}

// normalizeTextToImage maps the legacy textToImage node type to image.
func normalizeTextToImage(calls []types.ToolCall) {
	for _, c := range calls {
		if c.Name != canvas.OpCreateNode || argString(c.Arguments, "type") != "textToImage" {
			continue
		}
		c.Arguments["type"] = "image"
		if cfg := argConfig(c.Arguments); cfg != nil && cfg["kind"] == "textToImage" {
			cfg["kind"] = "image"
		}
	}
}

// normalizeComposeVideo clamps single-run durations to 10-15 seconds and
// backfills a usable prompt from structured shot configs.
func normalizeComposeVideo(calls []types.ToolCall) {
	for _, c := range calls {
		if c.Name != canvas.OpCreateNode || argString(c.Arguments, "type") != "composeVideo" {
			continue
		}
		cfg := argConfig(c.Arguments)
		if cfg == nil {
			continue
		}

		raw := cfg["durationSeconds"]
		if raw == nil {
			raw = cfg["duration"]
		}
		if requested, ok := asFloat(raw); ok {
			switch {
			case requested < 10:
				cfg["durationSeconds"] = 10
			case requested > 15:
				cfg["durationSeconds"] = 15
				if p, ok := cfg["prompt"].(string); ok && !strings.Contains(p, "分段") {
					cfg["prompt"] = strings.TrimRight(p, " \n\t") + durationSplitHint
				}
			default:
				cfg["durationSeconds"] = int(requested + 0.5)
			}
		}

		if p, ok := cfg["prompt"].(string); ok && strings.TrimSpace(p) != "" {
			continue
		}
		_, hasShots := cfg["shots"].([]interface{})
		_, hasChars := cfg["characters"].([]interface{})
		if hasShots || hasChars {
			if coerced := PromptFromStructuredConfig(cfg); coerced != "" {
				cfg["prompt"] = coerced
			}
		}
	}
}

// findStoryboardCreate locates the first created image node that looks like
// a 3x3 storyboard grid.
func findStoryboardCreate(calls []types.ToolCall) (label, promptText string) {
	for _, c := range calls {
		if c.Name != canvas.OpCreateNode || argString(c.Arguments, "type") != "image" {
			continue
		}
		l := strings.TrimSpace(argString(c.Arguments, "label"))
		p := ""
		if cfg := argConfig(c.Arguments); cfg != nil {
			p, _ = cfg["prompt"].(string)
		}
		if canvas.HasStoryboardHint(l + "\n" + p) {
			return l, p
		}
	}
	return "", ""
}

func injectStoryboardContinuity(calls []types.ToolCall, storyboardLabel string) {
	for _, c := range calls {
		if c.Name != canvas.OpCreateNode || argString(c.Arguments, "type") != "image" {
			continue
		}
		if strings.TrimSpace(argString(c.Arguments, "label")) != storyboardLabel {
			continue
		}
		cfg := argConfig(c.Arguments)
		if cfg == nil {
			return
		}
		p, ok := cfg["prompt"].(string)
		if !ok || strings.TrimSpace(p) == "" {
			return
		}
		if strings.Contains(p, "衔接帧") || strings.Contains(strings.ToLower(p), "bridge frame") {
			return
		}
		cfg["prompt"] = strings.TrimRight(p, " \n\t") + storyboardContinuityConstraint
		return
	}
}

// connectStoryboardReferences wires existing character/prop/previous-episode
// images into the storyboard node before it runs.
func connectStoryboardReferences(calls []types.ToolCall, storyboardLabel string, canvasCtx *types.CanvasContext) []types.ToolCall {
	refs := canvas.PickReferenceLabels(canvasCtx, storyboardLabel)
	if len(refs) == 0 {
		return calls
	}

	pairs := canvas.ExistingPairsByLabel(canvasCtx)
	for _, c := range calls {
		if src, tgt := connectPair(c); src != "" && tgt != "" {
			pairs[canvas.EdgePair{Source: src, Target: tgt}] = true
		}
	}

	createIdx, runIdx := -1, -1
	for i, c := range calls {
		if c.Name == canvas.OpCreateNode && strings.TrimSpace(argString(c.Arguments, "label")) == storyboardLabel {
			createIdx = i
			continue
		}
		if c.Name == canvas.OpRunNode && strings.TrimSpace(argString(c.Arguments, "nodeId")) == storyboardLabel {
			runIdx = i
			break
		}
	}
	insertAt := len(calls)
	if runIdx >= 0 {
		insertAt = runIdx
	}
	if createIdx >= 0 && insertAt <= createIdx {
		insertAt = createIdx + 1
	}

	var connects []types.ToolCall
	for _, src := range refs {
		if pairs[canvas.EdgePair{Source: src, Target: storyboardLabel}] {
			continue
		}
		connects = append(connects, types.ToolCall{
			ID:   fmt.Sprintf("auto_ref_%s_to_%s", src, storyboardLabel),
			Name: canvas.OpConnectNodes,
			Arguments: map[string]interface{}{
				"sourceNodeId": src,
				"targetNodeId": storyboardLabel,
				"sourceHandle": "out-image",
				"targetHandle": "in-image",
			},
		})
	}
	if len(connects) == 0 {
		return calls
	}
	out := make([]types.ToolCall, 0, len(calls)+len(connects))
	out = append(out, calls[:insertAt]...)
	out = append(out, connects...)
	out = append(out, calls[insertAt:]...)
	return out
}

// appendAutoComposeVideo chains a 15s video node off the storyboard when the
// model forgot to create one.
func appendAutoComposeVideo(calls []types.ToolCall, storyboardLabel, storyboardPrompt string) []types.ToolCall {
	videoLabel := strings.ReplaceAll(storyboardLabel, "九宫格分镜", "15s视频")
	videoLabel = strings.ReplaceAll(videoLabel, "分镜", "15s视频")
	if videoLabel == storyboardLabel {
		videoLabel = storyboardLabel + "-15s视频"
	}

	storyboardHint := ""
	if strings.TrimSpace(storyboardPrompt) != "" {
		var lines []string
		for _, ln := range strings.Split(strings.TrimSpace(storyboardPrompt), "\n") {
			if ln = strings.TrimSpace(ln); ln != "" {
				lines = append(lines, ln)
			}
		}
		normalized := strings.Join(lines, "\n")
		if r := []rune(normalized); len(r) > 1200 {
			normalized = strings.TrimRight(string(r[:1200]), " \n\t") + "…"
		}
		storyboardHint = "\n\n分镜补充（来自九宫格分镜的镜头描述，用于动作/镜头节奏对齐；以参考图为准）：\n" + normalized
	}

	videoPrompt := "根据上游参考图片（九宫格分镜图）生成一个15秒的二维动画视频：\n" +
		"- 画面风格/角色外观严格跟随参考图；不要改变角色造型与配色。\n" +
		"- 按参考图的镜头节奏推进（从1到9），镜头之间自然衔接；保持同一场景光线连续。\n" +
		"- 不要出现任何可读文字/水印/Logo。\n" +
		"- 输出16:9，动作清晰，镜头稳定，节奏温暖治愈。" +
		storyboardHint

	calls = append(calls, types.ToolCall{
		ID:   "auto_create_video_" + videoLabel,
		Name: canvas.OpCreateNode,
		Arguments: map[string]interface{}{
			"type":  "composeVideo",
			"label": videoLabel,
			"config": map[string]interface{}{
				"kind":            "composeVideo",
				"durationSeconds": 15,
				"aspectRatio":     "16:9",
				"prompt":          videoPrompt,
			},
		},
	})
	return append(calls, types.ToolCall{
		ID:   fmt.Sprintf("auto_connect_%s_to_%s", storyboardLabel, videoLabel),
		Name: canvas.OpConnectNodes,
		Arguments: map[string]interface{}{
			"sourceNodeId": storyboardLabel,
			"targetNodeId": videoLabel,
			"sourceHandle": "out-image",
			"targetHandle": "in-image",
		},
	})
}

// connectReferenceUpstream links the latest successful image on the canvas
// into each new image node with no inbound edge yet.
func connectReferenceUpstream(calls []types.ToolCall, canvasCtx *types.CanvasContext) []types.ToolCall {
	upstream := canvas.LatestSuccessImageLabel(canvasCtx)
	if upstream == "" {
		return calls
	}

	pairs := canvas.ExistingPairsByLabel(canvasCtx)
	targets := map[string]bool{}
	for pair := range pairs {
		targets[pair.Target] = true
	}
	for _, c := range calls {
		if src, tgt := connectPair(c); src != "" && tgt != "" {
			pairs[canvas.EdgePair{Source: src, Target: tgt}] = true
			targets[tgt] = true
		}
	}

	for idx := 0; idx < len(calls); idx++ {
		c := calls[idx]
		if c.Name != canvas.OpCreateNode || argString(c.Arguments, "type") != "image" {
			continue
		}
		target := strings.TrimSpace(argString(c.Arguments, "label"))
		if target == "" || target == upstream {
			continue
		}
		promptText := ""
		if cfg := argConfig(c.Arguments); cfg != nil {
			promptText, _ = cfg["prompt"].(string)
		}
		// Storyboard grids get their multi-reference wiring above.
		if canvas.HasStoryboardHint(target + "\n" + promptText) {
			continue
		}
		if targets[target] || pairs[canvas.EdgePair{Source: upstream, Target: target}] {
			continue
		}

		insertAt := idx + 1
		for j := idx + 1; j < len(calls); j++ {
			if calls[j].Name == canvas.OpRunNode && strings.TrimSpace(argString(calls[j].Arguments, "nodeId")) == target {
				insertAt = j
				break
			}
		}
		connect := types.ToolCall{
			ID:   fmt.Sprintf("auto_ref_%s_to_%s", upstream, target),
			Name: canvas.OpConnectNodes,
			Arguments: map[string]interface{}{
				"sourceNodeId": upstream,
				"targetNodeId": target,
				"sourceHandle": "out-image",
				"targetHandle": "in-image",
			},
		}
		calls = append(calls[:insertAt], append([]types.ToolCall{connect}, calls[insertAt:]...)...)
		targets[target] = true
	}
	return calls
}

// dropPrematureVideoRuns removes runNode(video) when the same payload also
// creates image nodes: the video needs the rendered image first.
func dropPrematureVideoRuns(calls []types.ToolCall) []types.ToolCall {
	createdImages := map[string]bool{}
	createdVideos := map[string]bool{}
	for _, c := range calls {
		if c.Name != canvas.OpCreateNode {
			continue
		}
		label := strings.TrimSpace(argString(c.Arguments, "label"))
		if label == "" {
			continue
		}
		switch argString(c.Arguments, "type") {
		case "image", "textToImage":
			createdImages[label] = true
		case "composeVideo":
			createdVideos[label] = true
		}
	}
	if len(createdImages) == 0 || len(createdVideos) == 0 {
		return calls
	}
	out := calls[:0]
	for _, c := range calls {
		if c.Name == canvas.OpRunNode && createdVideos[strings.TrimSpace(argString(c.Arguments, "nodeId"))] {
			continue
		}
		out = append(out, c)
	}
	return out
}

// appendAutoRuns schedules a run for every created image node that the
// payload does not already run.
func appendAutoRuns(calls []types.ToolCall) []types.ToolCall {
	running := map[string]bool{}
	var created []string
	for _, c := range calls {
		switch c.Name {
		case canvas.OpRunNode:
			if id := strings.TrimSpace(argString(c.Arguments, "nodeId")); id != "" {
				running[id] = true
			}
		case canvas.OpCreateNode:
			t := argString(c.Arguments, "type")
			label := strings.TrimSpace(argString(c.Arguments, "label"))
			if (t == "image" || t == "textToImage") && label != "" {
				created = append(created, label)
			}
		}
	}
	for _, label := range created {
		if running[label] {
			continue
		}
		calls = append(calls, types.ToolCall{
			ID:        "auto_run_" + label,
			Name:      canvas.OpRunNode,
			Arguments: map[string]interface{}{"nodeId": label},
		})
	}
	return calls
}

func connectPair(c types.ToolCall) (src, tgt string) {
	if c.Name != canvas.OpConnectNodes {
		return "", ""
	}
	src = strings.TrimSpace(argString(c.Arguments, "sourceNodeId"))
	if src == "" {
		src = strings.TrimSpace(argString(c.Arguments, "sourceId"))
	}
	tgt = strings.TrimSpace(argString(c.Arguments, "targetNodeId"))
	if tgt == "" {
		tgt = strings.TrimSpace(argString(c.Arguments, "targetId"))
	}
	return src, tgt
}

func argString(args map[string]interface{}, key string) string {
	if args == nil {
		return ""
	}
	s, _ := args[key].(string)
	return s
}

func argConfig(args map[string]interface{}) map[string]interface{} {
	if args == nil {
		return nil
	}
	cfg, _ := args["config"].(map[string]interface{})
	return cfg
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
