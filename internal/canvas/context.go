// Package canvas reads the frontend canvas snapshot: prompt-context
// rendering, label/edge indexes and reference selection for continuity.
package canvas

import (
	"fmt"
	"strings"

	"tapcanvas/internal/types"
)

// imageKinds are node kinds that can serve as image references.
var imageKinds = map[string]bool{"image": true, "textToImage": true, "mosaic": true}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// RenderForPrompt renders a compact canvas summary for prompts.
//
// Negative prompts are never included: they contaminate safety
// classification and can re-trigger keyword loops.
func RenderForPrompt(ctx *types.CanvasContext) string {
	if ctx == nil {
		return ""
	}
	var parts []string

	if s := ctx.Summary; s != nil {
		var meta []string
		meta = append(meta, fmt.Sprintf("nodes=%d", s.NodeCount))
		meta = append(meta, fmt.Sprintf("edges=%d", s.EdgeCount))
		if len(s.Kinds) > 0 {
			kinds := s.Kinds
			if len(kinds) > 8 {
				kinds = kinds[:8]
			}
			meta = append(meta, "kinds=["+strings.Join(kinds, ", ")+"]")
		}
		parts = append(parts, "summary: "+strings.Join(meta, " | "))
	}

	if len(ctx.Characters) > 0 {
		parts = append(parts, "characters:")
		for i, c := range ctx.Characters {
			if i >= 6 {
				break
			}
			label := c.Label
			if label == "" {
				label = c.NodeID
			}
			line := "- (unnamed)"
			if label != "" {
				line = "- " + truncate(label, 80)
			}
			if desc := strings.TrimSpace(c.Description); desc != "" {
				line += " | " + truncate(desc, 140)
			}
			parts = append(parts, line)
		}
	}

	if len(ctx.StoryContext) > 0 {
		var lines []string
		for i, item := range ctx.StoryContext {
			if i >= 2 {
				break
			}
			excerpt := strings.TrimSpace(item.PromptExcerpt)
			if excerpt == "" {
				continue
			}
			label := item.Label
			if label == "" {
				label = item.NodeID
			}
			lines = append(lines, fmt.Sprintf("- %s: %s", truncate(label, 60), truncate(excerpt, 500)))
		}
		if len(lines) > 0 {
			parts = append(parts, "storyContext (recent excerpts):")
			parts = append(parts, lines...)
		}
	}

	if len(ctx.Timeline) > 0 {
		parts = append(parts, "timeline (top):")
		for i, t := range ctx.Timeline {
			if i >= 6 {
				break
			}
			var bits []string
			if t.Label != "" {
				bits = append(bits, truncate(t.Label, 80))
			} else if t.ID != "" {
				bits = append(bits, truncate(t.ID, 80))
			}
			if t.Kind != "" {
				bits = append(bits, "kind="+truncate(t.Kind, 24))
			}
			if t.Status != "" {
				bits = append(bits, "status="+truncate(t.Status, 16))
			}
			if t.Duration > 0 {
				bits = append(bits, fmt.Sprintf("duration=%ds", int(t.Duration)))
			}
			if len(bits) > 0 {
				parts = append(parts, "- "+strings.Join(bits, " | "))
			}
		}
	}

	if len(ctx.Nodes) > 0 {
		parts = append(parts, "nodes (sample):")
		for i, n := range ctx.Nodes {
			if i >= 10 {
				break
			}
			var bits []string
			if n.Label != "" {
				bits = append(bits, truncate(n.Label, 80))
			} else if n.ID != "" {
				bits = append(bits, truncate(n.ID, 80))
			}
			if n.Kind != "" {
				bits = append(bits, "kind="+truncate(n.Kind, 24))
			}
			if n.Status != "" {
				bits = append(bits, "status="+truncate(n.Status, 16))
			}
			if p := strings.TrimSpace(n.PromptPreview); p != "" {
				bits = append(bits, "prompt='"+truncate(p, 120)+"'")
			}
			if len(bits) > 0 {
				parts = append(parts, "- "+strings.Join(bits, " | "))
			}
		}
	}

	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// LabelIndex returns nodes keyed by trimmed label.
func LabelIndex(ctx *types.CanvasContext) map[string]types.CanvasNode {
	out := map[string]types.CanvasNode{}
	if ctx == nil {
		return out
	}
	for _, n := range ctx.Nodes {
		label := strings.TrimSpace(n.Label)
		if label == "" {
			continue
		}
		out[label] = n
	}
	return out
}

// Labels returns the set of node labels on the canvas.
func Labels(ctx *types.CanvasContext) map[string]bool {
	out := map[string]bool{}
	if ctx == nil {
		return out
	}
	for _, n := range ctx.Nodes {
		if label := strings.TrimSpace(n.Label); label != "" {
			out[label] = true
		}
	}
	return out
}

// EdgePair is a (sourceLabel, targetLabel) connection.
type EdgePair struct {
	Source string
	Target string
}

// ExistingPairsByLabel maps canvas edges (which reference node ids) back to
// label pairs using the node list.
func ExistingPairsByLabel(ctx *types.CanvasContext) map[EdgePair]bool {
	out := map[EdgePair]bool{}
	if ctx == nil {
		return out
	}
	idToLabel := map[string]string{}
	for _, n := range ctx.Nodes {
		id := strings.TrimSpace(n.ID)
		label := strings.TrimSpace(n.Label)
		if id != "" && label != "" {
			idToLabel[id] = label
		}
	}
	for _, e := range ctx.Edges {
		sl := idToLabel[strings.TrimSpace(e.Source)]
		tl := idToLabel[strings.TrimSpace(e.Target)]
		if sl != "" && tl != "" {
			out[EdgePair{Source: sl, Target: tl}] = true
		}
	}
	return out
}

// storyboardHintKeywords mark a node as a storyboard grid.
var storyboardHintKeywords = []string{"九宫格", "3x3", "分镜", "storyboard"}

// HasStoryboardHint reports whether label/prompt text looks like a
// storyboard grid node.
func HasStoryboardHint(hint string) bool {
	for _, k := range storyboardHintKeywords {
		if strings.Contains(hint, k) {
			return true
		}
	}
	return false
}

// PickReferenceLabels selects up to three upstream reference images for a
// new storyboard node: the most recent successful storyboard first (the
// continuity anchor for the previous segment), then subject anchors scored
// by label hints.
func PickReferenceLabels(ctx *types.CanvasContext, storyboardLabel string) []string {
	if ctx == nil || len(ctx.Nodes) == 0 {
		return nil
	}

	var anchor string
	for i := len(ctx.Nodes) - 1; i >= 0; i-- {
		n := ctx.Nodes[i]
		label := strings.TrimSpace(n.Label)
		if label == "" || label == storyboardLabel {
			continue
		}
		if !imageKinds[n.Kind] || n.Status != "success" || strings.TrimSpace(n.ImageURL) == "" {
			continue
		}
		if HasStoryboardHint(label + "\n" + n.PromptPreview) {
			anchor = label
			break
		}
	}

	type candidate struct {
		score int
		index int
		label string
	}
	var candidates []candidate
	for idx, n := range ctx.Nodes {
		label := strings.TrimSpace(n.Label)
		if label == "" || label == storyboardLabel {
			continue
		}
		if !imageKinds[n.Kind] || n.Status != "success" || strings.TrimSpace(n.ImageURL) == "" {
			continue
		}
		if containsAny(label, "分镜", "九宫格", "storyboard", "视频", "15s视频") {
			continue
		}
		score := 0
		if containsAny(label, "角色", "设定", "立绘", "主视觉", "character", "design") {
			score += 3
		}
		if containsAny(label, "产品", "道具", "物件", "prop", "product") {
			score += 2
		}
		lower := strings.ToLower(label)
		if containsAny(lower, "fox", "bunny", "rabbit") || containsAny(label, "狐狸", "兔子") {
			score += 2
		}
		candidates = append(candidates, candidate{score: score, index: idx, label: label})
	}

	// higher score first, later nodes break ties
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			a, b := candidates[i], candidates[j]
			if b.score > a.score || (b.score == a.score && b.index > a.index) {
				candidates[i], candidates[j] = b, a
			}
		}
	}

	var picked []string
	if anchor != "" {
		picked = append(picked, anchor)
	}
	for _, c := range candidates {
		if contains(picked, c.label) {
			continue
		}
		picked = append(picked, c.label)
		if len(picked) >= 3 {
			break
		}
	}
	if len(picked) > 3 {
		picked = picked[:3]
	}
	return picked
}

// LatestSuccessImageLabel returns the most recent successful non-storyboard
// image node label, used to wire "same style" follow-up generations.
func LatestSuccessImageLabel(ctx *types.CanvasContext) string {
	if ctx == nil {
		return ""
	}
	for i := len(ctx.Nodes) - 1; i >= 0; i-- {
		n := ctx.Nodes[i]
		if !imageKinds[n.Kind] || n.Status != "success" {
			continue
		}
		label := strings.TrimSpace(n.Label)
		if label == "" {
			continue
		}
		if containsAny(label, "分镜", "九宫格", "storyboard") {
			continue
		}
		if strings.TrimSpace(n.ImageURL) == "" {
			continue
		}
		return label
	}
	return ""
}

func containsAny(s string, keys ...string) bool {
	for _, k := range keys {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
