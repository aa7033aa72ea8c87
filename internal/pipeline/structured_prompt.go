package pipeline

import (
	"fmt"
	"strings"
)

// PromptFromStructuredConfig flattens a structured storyboard config (shot
// list plus character refs) into a single video generation prompt.
func PromptFromStructuredConfig(cfg map[string]interface{}) string {
	duration := firstNumber(cfg, "durationSeconds", "duration", "duration_sec")
	fps := firstNumber(cfg, "fps")
	aspect := firstString(cfg, "aspectRatio", "aspect", "ratio")
	style := firstString(cfg, "style", "visualStyle", "look")
	music := firstString(cfg, "musicSfx", "music", "sfx")
	characters, _ := cfg["characters"].([]interface{})
	shots, _ := cfg["shots"].([]interface{})

	var parts []string
	parts = append(parts, "10–15秒分镜视频提示词（分镜清单 + 镜头语言）")

	var meta []string
	if duration != nil {
		meta = append(meta, fmt.Sprintf("时长: %vs", *duration))
	}
	if fps != nil {
		meta = append(meta, fmt.Sprintf("FPS: %d", int(*fps)))
	}
	if aspect != "" {
		meta = append(meta, "画幅: "+aspect)
	}
	if len(meta) > 0 {
		parts = append(parts, strings.Join(meta, " / "))
	}
	if style != "" {
		parts = append(parts, "风格基准: "+style)
	}
	if music != "" {
		parts = append(parts, "音乐/音效: "+music)
	}

	if len(characters) > 0 {
		var lines []string
		for _, raw := range characters {
			c, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			ref := firstString(c, "ref", "label", "nodeId")
			name := firstString(c, "name")
			notes := firstString(c, "notes")
			line := "- "
			if name != "" {
				line += name
			}
			if ref != "" {
				if strings.TrimSpace(line) != "-" {
					line += "（参考: " + ref + "）"
				} else {
					line += ref
				}
			}
			if notes != "" {
				line += "：" + notes
			}
			if strings.TrimSpace(line) != "-" {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			parts = append(parts, "", "角色（保持与画布设定一致）：")
			parts = append(parts, lines...)
		}
	}

	if len(shots) > 0 {
		var lines []string
		for idx, raw := range shots {
			s, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			header := firstString(s, "id")
			if header == "" {
				header = fmt.Sprintf("S%d", idx+1)
			}
			if timeRange := firstString(s, "time"); timeRange != "" {
				header += "（" + timeRange + "）"
			}
			seg := []string{header}
			if v := firstString(s, "shotSize"); v != "" {
				seg = append(seg, "景别: "+v)
			}
			if v := firstString(s, "camera"); v != "" {
				seg = append(seg, "机位/镜头: "+v)
			}
			if v := firstString(s, "movement"); v != "" {
				seg = append(seg, "运动: "+v)
			}
			if v := firstString(s, "action"); v != "" {
				seg = append(seg, "内容: "+v)
			}
			if v := firstString(s, "composition"); v != "" {
				seg = append(seg, "构图: "+v)
			}
			lines = append(lines, "- "+strings.Join(seg, "；"))
		}
		if len(lines) > 0 {
			parts = append(parts, "", "分镜（逐镜头）：")
			parts = append(parts, lines...)
		}
	}

	if out := strings.TrimSpace(strings.Join(parts, "\n")); out != "" {
		return out
	}
	return firstString(cfg, "prompt", "videoPrompt", "storyboard")
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func firstNumber(m map[string]interface{}, keys ...string) *float64 {
	for _, k := range keys {
		if n, ok := asFloat(m[k]); ok {
			return &n
		}
	}
	return nil
}
