// Package continuity guards storyboard and video generation behind an
// explicit "lock" confirmation so scenes, subjects and style stay stable
// across segments.
package continuity

import (
	"strings"

	"tapcanvas/internal/types"
)

var lockConfirmKeywords = []string{"确认锁定", "锁定场景", "锁定主体", "锁定风格", "确认风格", "风格锁定", "我确认", "确认："}

var implicitConfirmKeywords = []string{"继续", "按你给的", "就按这个", "照这个来", "不用确认", "直接生成", "别问了"}

var styleLockPrefixes = []string{"确认锁定风格：", "风格锁定：", "锁定风格："}

var storyboardIntentKeywords = []string{"九宫格", "分镜图", "故事板", "storyboard"}

var generationVerbs = []string{"生成", "出", "做成"}

var generationTargets = []string{"分镜", "九宫格", "故事板", "图片", "生图", "视频", "15s", "15秒"}

var suggestionContinuationKeywords = []string{"续写", "后续剧情", "接下来", "续作"}

var suggestionAskKeywords = []string{"推荐", "方向", "灵感", "怎么写"}

var suggestionExcludeKeywords = []string{"九宫格", "分镜", "故事板", "storyboard", "15s"}

// IsStorySuggestionRequest reports whether the user is asking for plot
// directions rather than generation.
func IsStorySuggestionRequest(lastUserText string) bool {
	return containsAny(lastUserText, suggestionContinuationKeywords) &&
		containsAny(lastUserText, suggestionAskKeywords) &&
		!containsAny(lastUserText, suggestionExcludeKeywords)
}

// StoryboardGenerationIntent reports whether this turn is about producing
// storyboard/image/video output. Text-only deliverables (scripts, shot
// lists) do not trip the gate.
func StoryboardGenerationIntent(lastUserText string, hasCanvasToolCalls bool) bool {
	if hasCanvasToolCalls {
		return true
	}
	if containsAny(lastUserText, storyboardIntentKeywords) {
		return true
	}
	return containsAny(lastUserText, generationVerbs) && containsAny(lastUserText, generationTargets)
}

// HasLockConfirmation reports an explicit lock confirmation in the user's
// message.
func HasLockConfirmation(lastUserText string) bool {
	return containsAny(lastUserText, lockConfirmKeywords)
}

// HasImplicitConfirmation reports phrasing that counts as a go-ahead when
// generation intent is already established.
func HasImplicitConfirmation(lastUserText string) bool {
	return containsAny(lastUserText, implicitConfirmKeywords)
}

// LockConfirmed resolves the gate for one turn. The loop cap stops the gate
// from re-asking forever in the same thread, and agent modes self-confirm.
func LockConfirmed(lastUserText string, mode types.InteractionMode, generationIntent bool, loopCount, hardTurnCap int) bool {
	if HasLockConfirmation(lastUserText) {
		return true
	}
	if hardTurnCap > 0 && loopCount >= hardTurnCap {
		return true
	}
	if generationIntent && HasImplicitConfirmation(lastUserText) {
		return true
	}
	if generationIntent && (mode == types.ModeAgent || mode == types.ModeAgentMax) {
		return true
	}
	return false
}

// ExtractStyleLock scans user messages newest-first for a confirmed style
// lock and returns its first line, truncated to 80 runes.
func ExtractStyleLock(messages []types.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role != types.RoleUser || m.Content == "" {
			continue
		}
		for _, key := range styleLockPrefixes {
			idx := strings.Index(m.Content, key)
			if idx < 0 {
				continue
			}
			after := strings.TrimSpace(m.Content[idx+len(key):])
			if after == "" {
				continue
			}
			firstLine := strings.TrimSpace(strings.SplitN(after, "\n", 2)[0])
			if firstLine == "" {
				continue
			}
			if r := []rune(firstLine); len(r) > 80 {
				firstLine = string(r[:80])
			}
			return firstLine
		}
	}
	return ""
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
