package pipeline

import (
	"context"
	"encoding/json"
	"strings"

	"tapcanvas/internal/prompt"
	"tapcanvas/internal/types"
)

const maxExtractExcerpt = 6000

const maxMainCharacters = 4

// CharacterExtraction is the structured result of the extraction call.
type CharacterExtraction struct {
	Characters []ExtractedCharacter `json:"characters"`
	// MainCharacters names the recurring cast that should get turnarounds.
	MainCharacters []string `json:"main_characters"`
	KeyProps       []string `json:"key_props"`
}

// ExtractedCharacter is one cast entry from the story text.
type ExtractedCharacter struct {
	Name       string `json:"name"`
	Role       string `json:"role"`
	Appearance string `json:"appearance"`
	IsMain     bool   `json:"is_main"`
}

func extractionSchema() *types.JSONSchema {
	stringArray := func(desc string) map[string]interface{} {
		return map[string]interface{}{
			"type":        "array",
			"items":       map[string]interface{}{"type": "string"},
			"description": desc,
		}
	}
	return &types.JSONSchema{
		Name: "character_extraction",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"characters": map[string]interface{}{
					"type": "array",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"name":       map[string]interface{}{"type": "string"},
							"role":       map[string]interface{}{"type": "string"},
							"appearance": map[string]interface{}{"type": "string"},
							"is_main":    map[string]interface{}{"type": "boolean"},
						},
						"required": []interface{}{"name"},
					},
				},
				"main_characters": stringArray("names of recurring main characters"),
				"key_props":       stringArray("recurring props that need visual consistency"),
			},
			"required": []interface{}{"characters", "main_characters", "key_props"},
		},
	}
}

// ExtractCharacters pulls main characters and key props from story text.
// When the model call fails or returns nothing usable, keyword heuristics
// take over so the pipeline never stalls.
func ExtractCharacters(ctx context.Context, client types.LLMClient, storyText string) (mains, props []string) {
	excerpt := truncateRunes(storyText, maxExtractExcerpt)

	var extraction CharacterExtraction
	if client != nil {
		raw, err := client.CompleteStructured(ctx, prompt.CharacterExtraction(excerpt), extractionSchema())
		if err == nil {
			_ = json.Unmarshal([]byte(raw), &extraction)
		}
	}

	mains = extraction.MainCharacters
	if len(mains) == 0 {
		for _, c := range extraction.Characters {
			if c.IsMain && c.Name != "" {
				mains = append(mains, c.Name)
			}
		}
	}
	mains = dedupeNonEmpty(mains, maxMainCharacters)
	if len(mains) == 0 {
		mains = HeuristicCharacters(storyText)
	}

	props = dedupeNonEmpty(extraction.KeyProps, maxMainCharacters)
	if len(props) == 0 {
		props = heuristicProps(storyText)
	}
	return mains, props
}

// HeuristicCharacters guesses the recurring cast from well-known name
// patterns, falling back to a single generic protagonist.
func HeuristicCharacters(text string) []string {
	var names []string
	for _, n := range []string{"李长安", "李老头"} {
		if strings.Contains(text, n) {
			names = append(names, n)
		}
	}
	if strings.Contains(text, "开发商") {
		names = append(names, "开发商")
	}
	if strings.Contains(text, "黑西装") || strings.Contains(text, "黑老大") {
		names = append(names, "黑西装老大")
	}
	names = dedupeNonEmpty(names, maxMainCharacters)
	if len(names) == 0 {
		names = []string{"主角"}
	}
	return names
}

func heuristicProps(text string) []string {
	var props []string
	if strings.Contains(text, "线装书") || (strings.Contains(text, "线装") && strings.Contains(text, "书")) {
		props = append(props, "线装书")
	}
	for _, p := range []string{"棺材", "挖掘机", "纸钱"} {
		if strings.Contains(text, p) {
			props = append(props, p)
		}
	}
	return dedupeNonEmpty(props, maxMainCharacters)
}

func dedupeNonEmpty(in []string, max int) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if len(out) == max {
			break
		}
	}
	return out
}
