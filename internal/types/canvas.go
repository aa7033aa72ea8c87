package types

// CanvasContext is the frontend-provided snapshot of the project canvas.
// It is read-only input: the orchestrator uses it to dedupe node creation,
// wire references and render prompt context, never to mutate the canvas.
type CanvasContext struct {
	Summary      *CanvasSummary       `json:"summary,omitempty"`
	Characters   []CanvasCharacter    `json:"characters,omitempty"`
	StoryContext []CanvasStoryExcerpt `json:"storyContext,omitempty"`
	Timeline     []CanvasNode         `json:"timeline,omitempty"`
	Nodes        []CanvasNode         `json:"nodes,omitempty"`
	Edges        []CanvasEdge         `json:"edges,omitempty"`
}

// CanvasSummary holds aggregate canvas counts.
type CanvasSummary struct {
	NodeCount int      `json:"nodeCount"`
	EdgeCount int      `json:"edgeCount"`
	Kinds     []string `json:"kinds,omitempty"`
}

// CanvasCharacter is a recurring character already established on the canvas.
type CanvasCharacter struct {
	Label       string `json:"label,omitempty"`
	NodeID      string `json:"nodeId,omitempty"`
	Description string `json:"description,omitempty"`
}

// CanvasStoryExcerpt is a recent narrative excerpt attached to a node.
type CanvasStoryExcerpt struct {
	Label         string `json:"label,omitempty"`
	NodeID        string `json:"nodeId,omitempty"`
	PromptExcerpt string `json:"promptExcerpt,omitempty"`
}

// CanvasNode is one node of the canvas graph. Kind mirrors the logical node
// type (image/textToImage/composeVideo/video/mosaic).
type CanvasNode struct {
	ID            string  `json:"id,omitempty"`
	Label         string  `json:"label,omitempty"`
	Kind          string  `json:"kind,omitempty"`
	Status        string  `json:"status,omitempty"`
	ImageURL      string  `json:"imageUrl,omitempty"`
	VideoURL      string  `json:"videoUrl,omitempty"`
	PromptPreview string  `json:"promptPreview,omitempty"`
	Duration      float64 `json:"duration,omitempty"`
}

// HasSuccessMedia reports whether the node finished successfully and carries
// a usable image or video output.
func (n CanvasNode) HasSuccessMedia() bool {
	if n.Status != "success" {
		return false
	}
	return n.ImageURL != "" || n.VideoURL != ""
}

// CanvasEdge is a directed connection between two canvas nodes by id.
type CanvasEdge struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}
