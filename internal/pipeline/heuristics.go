// Package pipeline turns pasted long-form story text into a deterministic
// chain of canvas tool calls: character turnarounds, a 3x3 storyboard image
// and a short video, without waiting for the model to plan them.
package pipeline

import "strings"

var storyIntentKeywords = []string{"分镜", "九宫格", "故事板", "动画", "短片", "成片", "视频", "日漫", "2d", "2D"}

var narrativeCues = []string{"“", "”", "他", "她", "他们", "忽然", "转身", "抬头", "回头", "是夜"}

var canvasOptOutKeywords = []string{"先不操作画布", "不要操作画布", "只聊", "只写", "不要生成", "不生成"}

var videoIntentKeywords = []string{"视频", "动画", "短片", "成片", "生成"}

// LooksLikeStoryRequest reports whether text reads like pasted story prose
// that should go through the deterministic storyboard pipeline. Code-like
// payloads are rejected outright.
func LooksLikeStoryRequest(text string) bool {
	if strings.Contains(text, "```") {
		return false
	}
	if strings.Count(text, "{") > 20 || strings.Count(text, ";") > 40 {
		return false
	}
	if len([]rune(text)) < 500 {
		return false
	}
	longForm := strings.Count(text, "\n") >= 2 ||
		strings.Count(text, "。") >= 6 ||
		strings.Count(text, ".") >= 8
	if !longForm {
		return false
	}
	return containsAny(text, storyIntentKeywords) || containsAny(text, narrativeCues)
}

// HasCanvasOptOut reports whether the user explicitly asked to keep the
// canvas untouched this turn.
func HasCanvasOptOut(text string) bool {
	return containsAny(text, canvasOptOutKeywords)
}

// WantsVideo reports whether the story request implies producing a video.
func WantsVideo(text string) bool {
	return containsAny(text, videoIntentKeywords)
}

// RequestedDuration picks the target clip length from the story text.
func RequestedDuration(text string) int {
	if strings.Contains(text, "15秒") || strings.Contains(text, "15") {
		return 15
	}
	return 12
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
