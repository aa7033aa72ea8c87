package prompt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCurrentDate(t *testing.T) {
	ts := time.Date(2026, time.March, 7, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "March 07, 2026", CurrentDate(ts))
}

func TestRoleRouterInterpolation(t *testing.T) {
	out := RoleRouter("- art_director | 艺术总监", "art_director", "User: 你好", "summary: nodes=0")
	assert.Contains(t, out, "- art_director | 艺术总监")
	assert.Contains(t, out, `default to "art_director"`)
	assert.Contains(t, out, "User: 你好")
	assert.Contains(t, out, "summary: nodes=0")
	assert.Contains(t, out, `tool_tier="rag"`)
}

func TestAnswerInterpolation(t *testing.T) {
	out := Answer(AnswerParams{
		CurrentDate:     "March 07, 2026",
		InteractionMode: "agent_max",
		ResearchTopic:   "把故事做成短片",
		RoleDirective:   "主执行角色（分镜师）",
		Summaries:       []string{"KB snippet one", "KB snippet two"},
		CanvasContext:   "nodes (sample):",
	})
	assert.Contains(t, out, "The current date is March 07, 2026.")
	assert.Contains(t, out, `Interaction mode is agent_max`)
	assert.Contains(t, out, "把故事做成短片")
	assert.Contains(t, out, "主执行角色（分镜师）")
	assert.Contains(t, out, "KB snippet one\n---\n\nKB snippet two")
	assert.Contains(t, out, "tapcanvas_actions")
	assert.Contains(t, out, "10–15 seconds")
}

func TestSafetyClassifierIncludesBothInputs(t *testing.T) {
	out := SafetyClassifier("some user text", "planned prompt text")
	assert.Contains(t, out, "USER_TEXT:\nsome user text")
	assert.Contains(t, out, "PLANNED_PROMPTS (may be empty):\nplanned prompt text")
	assert.Contains(t, out, "should_block=true")
}

func TestSummarizerIncludesSections(t *testing.T) {
	out := Summarizer(SummarizerParams{
		CanvasContext:   "ctx",
		PreviousSummary: "prev",
		OlderMessages:   "older",
		RecentTurns:     "recent",
	})
	assert.Contains(t, out, "CANVAS_CONTEXT:\nctx")
	assert.Contains(t, out, "PREVIOUS_SUMMARY:\nprev")
	assert.Contains(t, out, "OLDER_MESSAGES_TO_COMPRESS:\nolder")
	assert.Contains(t, out, "RECENT_TURNS")
	assert.Contains(t, out, "Max 1800 characters.")
}
