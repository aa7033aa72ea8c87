package continuity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapcanvas/internal/types"
)

func TestIsStorySuggestionRequest(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"asks for directions", "续写有什么推荐的方向吗", true},
		{"direct storyboard request excluded", "续写并推荐九宫格分镜", false},
		{"no ask keyword", "帮我续写下一段", false},
		{"no continuation keyword", "推荐一个方向", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsStorySuggestionRequest(tt.text))
		})
	}
}

func TestStoryboardGenerationIntent(t *testing.T) {
	assert.True(t, StoryboardGenerationIntent("给我一个九宫格", false))
	assert.True(t, StoryboardGenerationIntent("生成一个视频", false))
	assert.True(t, StoryboardGenerationIntent("随便聊聊", true))
	assert.False(t, StoryboardGenerationIntent("写一个分镜脚本文字版", false))
	assert.False(t, StoryboardGenerationIntent("随便聊聊", false))
}

func TestLockConfirmed(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		mode    types.InteractionMode
		intent  bool
		loops   int
		cap     int
		confirm bool
	}{
		{"explicit lock", "确认锁定风格：日漫2D", types.ModePlan, true, 0, 10, true},
		{"implicit with intent", "继续，生成九宫格", types.ModePlan, true, 0, 10, true},
		{"implicit without intent", "继续聊聊", types.ModePlan, false, 0, 10, false},
		{"agent self-confirms", "生成九宫格分镜", types.ModeAgent, true, 0, 10, true},
		{"agent_max self-confirms", "生成九宫格分镜", types.ModeAgentMax, true, 0, 10, true},
		{"plan blocks", "生成九宫格分镜", types.ModePlan, true, 0, 10, false},
		{"loop cap force-unlocks", "生成九宫格分镜", types.ModePlan, true, 10, 10, true},
		{"zero cap never force-unlocks", "生成九宫格分镜", types.ModePlan, true, 99, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.confirm, LockConfirmed(tt.text, tt.mode, tt.intent, tt.loops, tt.cap))
		})
	}
}

func TestExtractStyleLock(t *testing.T) {
	messages := []types.Message{
		{Role: types.RoleUser, Content: "锁定风格：美漫2D（粗线条）\n然后继续"},
		{Role: types.RoleAssistant, Content: "好的"},
		{Role: types.RoleUser, Content: "确认锁定风格：日漫2D（干净线稿+赛璐璐）。继续生成"},
	}
	assert.Equal(t, "日漫2D（干净线稿+赛璐璐）。继续生成", ExtractStyleLock(messages))

	assert.Equal(t, "", ExtractStyleLock([]types.Message{{Role: types.RoleUser, Content: "随便聊聊"}}))

	long := "确认锁定风格：" + strings.Repeat("风", 120)
	got := ExtractStyleLock([]types.Message{{Role: types.RoleUser, Content: long}})
	assert.Len(t, []rune(got), 80)
}

func TestLockMenusWithoutStyleLock(t *testing.T) {
	menus := LockMenus("")
	require.Len(t, menus, 4)
	assert.Equal(t, "继续（锁定+先做角色设定图）", menus[0].Label)
	assert.Contains(t, menus[0].Input, "确认锁定风格：日漫2D（干净线稿+赛璐璐）")
	assert.Equal(t, "自定义风格…", menus[3].Label)
}

func TestLockMenusWithStyleLock(t *testing.T) {
	menus := LockMenus("美漫2D（粗线条+高对比）")
	require.Len(t, menus, 4)
	assert.Equal(t, "继续（按已锁定风格生成分镜）", menus[0].Label)
	assert.Contains(t, menus[0].Input, "确认锁定风格：美漫2D（粗线条+高对比）。")
	assert.Equal(t, "新增主体…（先出设定图）", menus[1].Label)
}

func TestVetoMenus(t *testing.T) {
	menus := VetoMenus()
	require.Len(t, menus, 3)
	assert.Equal(t, "只聊不操作画布", menus[2].Label)
}

func TestHoldForNewCharacter(t *testing.T) {
	canvasCtx := &types.CanvasContext{
		Nodes: []types.CanvasNode{{ID: "n1", Label: "角色三视图-阿狸", Kind: "image", Status: "success"}},
	}
	calls := []types.ToolCall{
		{Name: "createNode", Arguments: map[string]interface{}{
			"type": "image", "label": "角色设定-新来的小满",
			"config": map[string]interface{}{"prompt": "新角色设定图"},
		}},
		{Name: "runNode", Arguments: map[string]interface{}{"nodeId": "角色设定-新来的小满"}},
		{Name: "createNode", Arguments: map[string]interface{}{
			"type": "image", "label": "九宫格分镜-第2集",
			"config": map[string]interface{}{"prompt": "3x3 分镜"},
		}},
		{Name: "runNode", Arguments: map[string]interface{}{"nodeId": "九宫格分镜-第2集"}},
	}

	kept, held := HoldForNewCharacter(calls, "我选择方向A，续写下一段", canvasCtx)
	assert.True(t, held)
	require.Len(t, kept, 2)
	assert.Equal(t, "角色设定-新来的小满", kept[0].Arguments["label"])
	assert.Equal(t, "runNode", kept[1].Name)
}

func TestHoldForNewCharacterSkipsExistingCharacters(t *testing.T) {
	canvasCtx := &types.CanvasContext{
		Nodes: []types.CanvasNode{{ID: "n1", Label: "角色三视图-阿狸", Kind: "image", Status: "success"}},
	}
	calls := []types.ToolCall{
		{Name: "createNode", Arguments: map[string]interface{}{
			"type": "image", "label": "角色三视图-阿狸",
			"config": map[string]interface{}{"prompt": "同一角色"},
		}},
		{Name: "createNode", Arguments: map[string]interface{}{
			"type": "image", "label": "九宫格分镜-第2集",
			"config": map[string]interface{}{"prompt": "3x3 分镜"},
		}},
	}
	kept, held := HoldForNewCharacter(calls, "续写下一段", canvasCtx)
	assert.False(t, held)
	assert.Equal(t, calls, kept)
}

func TestHoldForNewCharacterIgnoresSuggestionRequests(t *testing.T) {
	calls := []types.ToolCall{
		{Name: "createNode", Arguments: map[string]interface{}{
			"type": "image", "label": "角色设定-小满",
			"config": map[string]interface{}{"prompt": "新角色"},
		}},
		{Name: "createNode", Arguments: map[string]interface{}{
			"type": "image", "label": "九宫格分镜-第2集",
			"config": map[string]interface{}{"prompt": "3x3 分镜"},
		}},
	}
	_, held := HoldForNewCharacter(calls, "续写有什么推荐的方向吗", nil)
	assert.False(t, held)
}
