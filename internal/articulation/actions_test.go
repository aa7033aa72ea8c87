package articulation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractActionsFencedBlock(t *testing.T) {
	text := "先看分镜方案。\n\n```tapcanvas_actions\n{\"title\": \"可选操作\", \"actions\": [{\"label\": \"继续生成\", \"input\": \"请继续生成九宫格分镜。\"}, {\"label\": \"换风格\", \"input\": \"换成美漫2D风格。\"}]}\n```\n"
	cleaned, replies := ExtractActions(text)
	assert.Equal(t, "先看分镜方案。", cleaned)
	require.Len(t, replies, 2)
	assert.Equal(t, "继续生成", replies[0].Label)
	assert.Equal(t, "请继续生成九宫格分镜。", replies[0].Input)
}

func TestExtractActionsBareMarker(t *testing.T) {
	text := "方案如下。\ntapcanvas_actions\n{\"actions\": [{\"label\": \"A\", \"input\": \"走方向A\"}]} 之后的文字"
	cleaned, replies := ExtractActions(text)
	require.Len(t, replies, 1)
	assert.Equal(t, "A", replies[0].Label)
	assert.NotContains(t, cleaned, "tapcanvas_actions")
	assert.Contains(t, cleaned, "方案如下。")
	assert.Contains(t, cleaned, "之后的文字")
}

func TestExtractActionsMarkerMidLineIgnored(t *testing.T) {
	text := "这里提到 tapcanvas_actions 但没有块。"
	cleaned, replies := ExtractActions(text)
	assert.Nil(t, replies)
	assert.Equal(t, text, cleaned)
}

func TestExtractActionsDropsInvalidEntries(t *testing.T) {
	text := "```tapcanvas_actions\n{\"actions\": [{\"label\": \"\", \"input\": \"x\"}, {\"label\": \"ok\", \"input\": \"\"}, {\"label\": \"好\", \"input\": \"继续\"}]}\n```"
	_, replies := ExtractActions(text)
	require.Len(t, replies, 1)
	assert.Equal(t, "好", replies[0].Label)
}

func TestExtractActionsCapsAtSix(t *testing.T) {
	var b strings.Builder
	b.WriteString("```tapcanvas_actions\n{\"actions\": [")
	for i := 0; i < 9; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("{\"label\": \"L\", \"input\": \"I\"}")
	}
	b.WriteString("]}\n```")
	_, replies := ExtractActions(b.String())
	assert.Len(t, replies, 6)
}

func TestExtractActionsMalformedJSONKeepsText(t *testing.T) {
	text := "正文。\n```tapcanvas_actions\n{broken json\n```"
	cleaned, replies := ExtractActions(text)
	assert.Nil(t, replies)
	assert.Equal(t, "正文。", cleaned)
}
