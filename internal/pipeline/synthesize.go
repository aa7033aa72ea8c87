package pipeline

import (
	"context"
	"fmt"

	"tapcanvas/internal/canvas"
	"tapcanvas/internal/types"
)

const maxStoryboardExcerpt = 4800

const maxStoryboardRefs = 6

const imageModel = "nano-banana-fast"

const videoModel = "sora-2"

// SynthesisText is the chat confirmation that accompanies the generated
// tool calls.
const SynthesisText = "已从故事中自动提取主要角色并生成角色三视参考，随后生成九宫格分镜并生成短片。如果你想把更长剧情拆成多段 10–15 秒连续短片，我可以继续自动拆分生成 Part 2/3。"

var propSheetTriggers = []string{"线装书", "恶鬼", "画像"}

// synthesizer accumulates tool calls while tracking what the canvas already
// has, so re-running the same story is idempotent.
type synthesizer struct {
	existing map[string]types.CanvasNode
	pairs    map[canvas.EdgePair]bool
	created  map[string]bool
	calls    []types.ToolCall
}

func newSynthesizer(canvasCtx *types.CanvasContext) *synthesizer {
	return &synthesizer{
		existing: canvas.LabelIndex(canvasCtx),
		pairs:    canvas.ExistingPairsByLabel(canvasCtx),
		created:  map[string]bool{},
	}
}

// ensureImageNode creates and runs an image node unless the canvas already
// holds a successful render under the same label.
func (s *synthesizer) ensureImageNode(label, promptText, negative string) bool {
	if node, ok := s.existing[label]; ok && node.HasSuccessMedia() {
		return false
	}
	if _, ok := s.existing[label]; !ok && !s.created[label] {
		s.calls = append(s.calls, types.ToolCall{
			ID:   DeterministicToolID("auto:createNode:image", label),
			Name: canvas.OpCreateNode,
			Arguments: map[string]interface{}{
				"type":  "image",
				"label": label,
				"config": map[string]interface{}{
					"kind":           "image",
					"imageModel":     imageModel,
					"prompt":         promptText,
					"negativePrompt": negative,
				},
			},
		})
		s.created[label] = true
	}
	s.calls = append(s.calls, types.ToolCall{
		ID:        DeterministicToolID("auto:runNode", label),
		Name:      canvas.OpRunNode,
		Arguments: map[string]interface{}{"nodeId": label},
	})
	return true
}

// ensureComposeVideoCreate creates the video node unless any node with that
// label exists already.
func (s *synthesizer) ensureComposeVideoCreate(label, promptText string, durationSeconds int) {
	if _, ok := s.existing[label]; ok || s.created[label] {
		return
	}
	s.calls = append(s.calls, types.ToolCall{
		ID:   DeterministicToolID("auto:createNode:composeVideo", label),
		Name: canvas.OpCreateNode,
		Arguments: map[string]interface{}{
			"type":  "composeVideo",
			"label": label,
			"config": map[string]interface{}{
				"kind":                 "composeVideo",
				"videoModel":           videoModel,
				"videoDurationSeconds": durationSeconds,
				"prompt":               promptText,
			},
		},
	})
	s.created[label] = true
}

func (s *synthesizer) ensureEdge(source, target string) {
	pair := canvas.EdgePair{Source: source, Target: target}
	if s.pairs[pair] {
		return
	}
	s.pairs[pair] = true
	s.calls = append(s.calls, types.ToolCall{
		ID:   DeterministicToolID("auto:connectNodes", source, "->", target),
		Name: canvas.OpConnectNodes,
		Arguments: map[string]interface{}{
			"sourceNodeId": source,
			"targetNodeId": target,
			"sourceHandle": "out-image",
			"targetHandle": "in-image",
		},
	})
}

func (s *synthesizer) runNode(label string) {
	s.calls = append(s.calls, types.ToolCall{
		ID:        DeterministicToolID("auto:runNode", label),
		Name:      canvas.OpRunNode,
		Arguments: map[string]interface{}{"nodeId": label},
	})
}

func (s *synthesizer) hasSuccessMedia(label string) bool {
	node, ok := s.existing[label]
	return ok && node.HasSuccessMedia()
}

// Synthesize builds the deterministic story pipeline for a pasted story:
// character turnarounds, optional prop sheet, a 3x3 storyboard image fed by
// the references, and a short composeVideo clip chained off the storyboard.
func Synthesize(ctx context.Context, client types.LLMClient, storyText string, mode types.InteractionMode, canvasCtx *types.CanvasContext) (string, []types.ToolCall) {
	style := DefaultStyle
	duration := RequestedDuration(storyText)
	autoRunVideo := mode == types.ModeAgentMax || WantsVideo(storyText)

	mains, _ := ExtractCharacters(ctx, client, storyText)
	if len(mains) > 3 {
		mains = mains[:3]
	}

	s := newSynthesizer(canvasCtx)

	var refs []string
	for _, name := range mains {
		label := "角色三视图-" + name
		s.ensureImageNode(label, CharacterTurnaroundPrompt(name, style), turnaroundNegative)
		refs = append(refs, label)
	}

	if containsAny(storyText, propSheetTriggers) {
		s.ensureImageNode(propSheetLabel, propSheetPrompt, propSheetNegative)
		refs = append(refs, propSheetLabel)
	}

	storyboardLabel := fmt.Sprintf("九宫格分镜-故事提炼%d秒（日漫2D）", duration)
	if !s.hasSuccessMedia(storyboardLabel) {
		if _, ok := s.existing[storyboardLabel]; !ok && !s.created[storyboardLabel] {
			excerpt := truncateRunes(storyText, maxStoryboardExcerpt)
			s.calls = append(s.calls, types.ToolCall{
				ID:   DeterministicToolID("auto:createNode:image", storyboardLabel),
				Name: canvas.OpCreateNode,
				Arguments: map[string]interface{}{
					"type":  "image",
					"label": storyboardLabel,
					"config": map[string]interface{}{
						"kind":           "image",
						"imageModel":     imageModel,
						"prompt":         StoryboardPrompt(excerpt, style, duration),
						"negativePrompt": storyboardNegative,
					},
				},
			})
			s.created[storyboardLabel] = true
		}
		if len(refs) > maxStoryboardRefs {
			refs = refs[:maxStoryboardRefs]
		}
		for _, ref := range refs {
			s.ensureEdge(ref, storyboardLabel)
		}
		s.runNode(storyboardLabel)
	}

	videoLabel := fmt.Sprintf("短片-故事提炼%d秒（日漫2D）", duration)
	if !s.hasSuccessMedia(videoLabel) {
		s.ensureComposeVideoCreate(videoLabel, ShortFilmPrompt(duration), duration)
		s.ensureEdge(storyboardLabel, videoLabel)
		if autoRunVideo {
			s.runNode(videoLabel)
		}
	}

	return SynthesisText, s.calls
}
