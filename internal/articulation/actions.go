package articulation

import (
	"encoding/json"
	"strings"

	"tapcanvas/internal/types"
)

// ActionsMarker is the machine-readable block name the answer prompt asks
// the model to emit for user-facing choice buttons.
const ActionsMarker = "tapcanvas_actions"

const maxActions = 6

type actionsPayload struct {
	Title   string `json:"title"`
	Actions []struct {
		Label string `json:"label"`
		Input string `json:"input"`
	} `json:"actions"`
}

// ExtractActions strips the tapcanvas_actions block from text and returns
// the cleaned text plus any normalized quick replies.
//
// The fenced form (```tapcanvas_actions ... ```) is preferred. Some models
// omit the fence, so a bare marker at the start of a line followed by a
// balanced JSON object is accepted as a fallback.
func ExtractActions(text string) (string, []types.QuickReply) {
	if text == "" {
		return text, nil
	}

	cleaned := text
	var raw json.RawMessage

	marker := "```" + ActionsMarker
	if start := strings.Index(text, marker); start >= 0 {
		payloadStart := strings.Index(text[start+len(marker):], "\n")
		if payloadStart >= 0 {
			payloadStart += start + len(marker) + 1
			if endFence := strings.Index(text[payloadStart:], "```"); endFence >= 0 {
				endFence += payloadStart
				payload := strings.TrimSpace(text[payloadStart:endFence])
				cleaned = strings.TrimSpace(text[:start] + text[endFence+3:])
				if json.Valid([]byte(payload)) {
					raw = json.RawMessage(payload)
				}
			}
		}
	}

	if raw == nil && strings.Contains(text, ActionsMarker) {
		tokenIdx := lineStartIndex(text, ActionsMarker)
		if tokenIdx >= 0 {
			if obj, end, ok := ScanJSONObject(text, tokenIdx+len(ActionsMarker)); ok {
				removeStart := tokenIdx
				if tokenIdx > 0 && text[tokenIdx-1] == '\n' {
					removeStart = tokenIdx - 1
				}
				cleaned = strings.TrimSpace(text[:removeStart] + text[end:])
				if json.Valid([]byte(obj)) {
					raw = json.RawMessage(obj)
				}
			}
		}
	}

	if raw == nil {
		return cleaned, nil
	}

	var payload actionsPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return cleaned, nil
	}
	return cleaned, NormalizeActions(payload.Actions)
}

// NormalizeActions keeps entries with a non-empty label and input, capped
// at six buttons.
func NormalizeActions(actions []struct {
	Label string `json:"label"`
	Input string `json:"input"`
}) []types.QuickReply {
	var out []types.QuickReply
	for _, a := range actions {
		if strings.TrimSpace(a.Label) == "" || strings.TrimSpace(a.Input) == "" {
			continue
		}
		out = append(out, types.QuickReply{Label: strings.TrimSpace(a.Label), Input: a.Input})
		if len(out) >= maxActions {
			break
		}
	}
	return out
}

// lineStartIndex returns the first occurrence of token that sits at the
// start of a line, or -1.
func lineStartIndex(s, token string) int {
	idx := strings.Index(s, token)
	for idx >= 0 {
		if idx == 0 || s[idx-1] == '\n' {
			return idx
		}
		idx2 := strings.Index(s[idx+len(token):], token)
		if idx2 < 0 {
			return -1
		}
		idx = idx + len(token) + idx2
	}
	return -1
}
