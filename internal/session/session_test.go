package session

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapcanvas/internal/config"
	"tapcanvas/internal/types"
)

type stubClient struct {
	out string
	err error
}

func (s *stubClient) Complete(ctx context.Context, prompt string) (string, error) {
	return s.out, s.err
}

func (s *stubClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	return s.out, s.err
}

func (s *stubClient) CompleteStructured(ctx context.Context, prompt string, schema *types.JSONSchema) (string, error) {
	return s.out, s.err
}

func (s *stubClient) CompleteWithTools(ctx context.Context, prompt string, tools []types.ToolDefinition) (*types.LLMToolResponse, error) {
	return &types.LLMToolResponse{Text: s.out}, s.err
}

func TestFormatMessages(t *testing.T) {
	got := FormatMessages([]types.Message{
		{Role: types.RoleSystem, Content: "ignored"},
		{Role: types.RoleUser, Content: "  帮我写个故事  "},
		{Role: types.RoleAssistant, Content: "好的"},
	})
	assert.Equal(t, "User: 帮我写个故事\nAssistant: 好的", got)
}

func TestCompactConversation(t *testing.T) {
	msgs := []types.Message{
		{Role: types.RoleUser, Content: "你好"},
		{Role: types.RoleAssistant, Content: "你好，想做什么？"},
	}

	t.Run("no summary", func(t *testing.T) {
		got := CompactConversation("", msgs)
		assert.Equal(t, FormatMessages(msgs), got)
	})

	t.Run("with summary", func(t *testing.T) {
		got := CompactConversation("之前聊了民俗志怪故事。", msgs)
		assert.True(t, strings.HasPrefix(got, "Conversation summary:\n之前聊了民俗志怪故事。"))
		assert.Contains(t, got, "Recent turns:\nUser: 你好")
	})

	t.Run("tail clamped", func(t *testing.T) {
		var long []types.Message
		for i := 0; i < 40; i++ {
			long = append(long, types.Message{Role: types.RoleUser, Content: "msg"})
		}
		got := CompactConversation("", long)
		assert.Equal(t, tailKeep, strings.Count(got, "User: msg"))
	})
}

func TestResearchTopic(t *testing.T) {
	single := []types.Message{{Role: types.RoleUser, Content: " 讲个故事 "}}
	assert.Equal(t, "讲个故事", ResearchTopic(single))

	multi := append(single, types.Message{Role: types.RoleAssistant, Content: "好"})
	assert.Equal(t, FormatMessages(multi), ResearchTopic(multi))
}

func summarizerConfig() config.Summarizer {
	return config.Summarizer{
		TailKeep:                16,
		TriggerChars:            120000,
		FirstSummaryMinMessages: 40,
		MaxChars:                2200,
	}
}

func manyMessages(n int, content string) []types.Message {
	msgs := make([]types.Message, 0, n)
	for i := 0; i < n; i++ {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		msgs = append(msgs, types.Message{Role: role, Content: content})
	}
	return msgs
}

func TestShouldCompress(t *testing.T) {
	s := NewSummarizer(&stubClient{}, summarizerConfig(), nil)

	t.Run("short thread skipped", func(t *testing.T) {
		assert.False(t, s.ShouldCompress(manyMessages(16, "hi"), ""))
	})

	t.Run("first summary after long thread", func(t *testing.T) {
		assert.False(t, s.ShouldCompress(manyMessages(39, "hi"), ""))
		assert.True(t, s.ShouldCompress(manyMessages(41, "hi"), ""))
	})

	t.Run("existing summary waits for size trigger", func(t *testing.T) {
		assert.False(t, s.ShouldCompress(manyMessages(41, "hi"), "prev"))
		big := manyMessages(41, strings.Repeat("长", 3000))
		assert.True(t, s.ShouldCompress(big, "prev"))
	})
}

func TestMaybe(t *testing.T) {
	msgs := manyMessages(41, "hi")

	t.Run("refresh", func(t *testing.T) {
		s := NewSummarizer(&stubClient{out: "新摘要"}, summarizerConfig(), nil)
		assert.Equal(t, "新摘要", s.Maybe(context.Background(), msgs, "", ""))
	})

	t.Run("below threshold keeps previous", func(t *testing.T) {
		s := NewSummarizer(&stubClient{out: "新摘要"}, summarizerConfig(), nil)
		assert.Equal(t, "旧摘要", s.Maybe(context.Background(), manyMessages(10, "hi"), "旧摘要", ""))
	})

	t.Run("client error keeps previous", func(t *testing.T) {
		s := NewSummarizer(&stubClient{err: errors.New("boom")}, summarizerConfig(), nil)
		assert.Equal(t, "", s.Maybe(context.Background(), msgs, "", ""))
	})

	t.Run("nil client keeps previous", func(t *testing.T) {
		s := NewSummarizer(nil, summarizerConfig(), nil)
		assert.Equal(t, "prev", s.Maybe(context.Background(), msgs, "prev", ""))
	})

	t.Run("clamped to max chars", func(t *testing.T) {
		cfg := summarizerConfig()
		cfg.MaxChars = 10
		s := NewSummarizer(&stubClient{out: strings.Repeat("摘", 50)}, cfg, nil)
		got := s.Maybe(context.Background(), msgs, "", "")
		assert.Equal(t, 10, len([]rune(got)))
	})
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.db")
	store, err := OpenStore(path, nil)
	require.NoError(t, err)
	defer store.Close()

	t.Run("unknown conversation is empty", func(t *testing.T) {
		snap, err := store.Load("missing")
		require.NoError(t, err)
		assert.Empty(t, snap.Messages)
		assert.Equal(t, "", snap.Summary)
		assert.Equal(t, 0, snap.LoopCount)
	})

	t.Run("save and reload", func(t *testing.T) {
		want := &Snapshot{
			Messages: []types.Message{
				{Role: types.RoleUser, Content: "写个故事"},
				{Role: types.RoleAssistant, Content: "好的，开始。"},
			},
			Summary:   "民俗志怪短片创作中。",
			LoopCount: 2,
			LastRole:  "storyboard_artist",
			LastTier:  "canvas",
			LastAllow: true,
		}
		require.NoError(t, store.Save("conv-1", want))

		got, err := store.Load("conv-1")
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("save replaces history", func(t *testing.T) {
		next := &Snapshot{
			Messages:  []types.Message{{Role: types.RoleUser, Content: "换个方向"}},
			Summary:   "改走轻冒险方向。",
			LoopCount: 0,
		}
		require.NoError(t, store.Save("conv-1", next))

		got, err := store.Load("conv-1")
		require.NoError(t, err)
		require.Len(t, got.Messages, 1)
		assert.Equal(t, "换个方向", got.Messages[0].Content)
		assert.Equal(t, 0, got.LoopCount)
	})
}
