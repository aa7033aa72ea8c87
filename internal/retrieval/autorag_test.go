package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapcanvas/internal/config"
	"tapcanvas/internal/types"
)

func TestBuildQuery(t *testing.T) {
	msgs := []types.Message{
		{Role: types.RoleUser, Content: "民俗志怪  短片里\n恶鬼画像的设定是什么？"},
	}

	t.Run("summary and question", func(t *testing.T) {
		q := BuildQuery("项目在做15秒民俗志怪短片。", msgs)
		assert.Contains(t, q, "摘要: 项目在做15秒民俗志怪短片。")
		assert.Contains(t, q, "用户问题: 民俗志怪 短片里 恶鬼画像的设定是什么？")
	})

	t.Run("whitespace collapsed and clamped", func(t *testing.T) {
		long := strings.Repeat("长 ", 900)
		q := BuildQuery(long, nil)
		assert.True(t, strings.HasSuffix(q, "…"))
		assert.LessOrEqual(t, len([]rune(q)), maxTotalQueryChars+1)
		assert.NotContains(t, q, "  ")
	})

	t.Run("topic fallback", func(t *testing.T) {
		q := BuildQuery("", []types.Message{{Role: types.RoleSystem, Content: "sys"}, {Role: types.RoleAssistant, Content: "上次我们定了风格。"}})
		assert.Contains(t, q, "Assistant: 上次我们定了风格。")
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Equal(t, "", BuildQuery("", nil))
	})
}

func autoragConfig(endpoint string) config.AutoRAG {
	return config.AutoRAG{
		Endpoint:       endpoint,
		ID:             "project-kb",
		Secret:         "s3cret",
		TimeoutSeconds: 5,
	}
}

func TestRetrieve(t *testing.T) {
	t.Run("normalizes answer and sources", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("content-type"))
			assert.Equal(t, "s3cret", r.Header.Get("x-internal-secret"))

			var req searchRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "project-kb", req.RagID)
			assert.Contains(t, req.Query, "恶鬼画像")

			json.NewEncoder(w).Encode(map[string]interface{}{
				"result": map[string]interface{}{
					"answer": "恶鬼画像出自第三幕的线装书。",
					"sources": []interface{}{
						map[string]interface{}{
							"title": "设定集",
							"url":   "https://kb.example.com/doc/1",
							"text":  "线装书内页画着恶鬼。",
							"score": 0.912,
						},
						map[string]interface{}{
							"content": "无标题片段。",
						},
					},
				},
			})
		}))
		defer srv.Close()

		c := NewClient(autoragConfig(srv.URL), nil)
		snippets, sources := c.Retrieve(context.Background(), BuildQuery("", []types.Message{{Role: types.RoleUser, Content: "恶鬼画像的设定？"}}))

		require.Len(t, snippets, 3)
		assert.Equal(t, "恶鬼画像出自第三幕的线装书。", snippets[0])
		assert.Equal(t, "[1] 设定集 | https://kb.example.com/doc/1 | score=0.912\n线装书内页画着恶鬼。", snippets[1])
		assert.Equal(t, "[2] KB#2\n无标题片段。", snippets[2])
		require.Len(t, sources, 1)
		assert.Equal(t, types.Source{Label: "设定集", Value: "https://kb.example.com/doc/1", ShortURL: "https://kb.example.com/doc/1"}, sources[0])
	})

	t.Run("http error becomes diagnostic snippet", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "forbidden", http.StatusForbidden)
		}))
		defer srv.Close()

		c := NewClient(autoragConfig(srv.URL), nil)
		snippets, sources := c.Retrieve(context.Background(), "query")
		require.Len(t, snippets, 1)
		assert.True(t, strings.HasPrefix(snippets[0], "[AutoRAG] HTTP 403:"))
		assert.Empty(t, sources)
	})

	t.Run("non json body reported", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>oops</html>"))
		}))
		defer srv.Close()

		c := NewClient(autoragConfig(srv.URL), nil)
		snippets, _ := c.Retrieve(context.Background(), "query")
		require.Len(t, snippets, 1)
		assert.True(t, strings.HasPrefix(snippets[0], "[AutoRAG] 非 JSON 响应:"))
	})

	t.Run("connection failure reported", func(t *testing.T) {
		c := NewClient(autoragConfig("http://127.0.0.1:1"), nil)
		snippets, _ := c.Retrieve(context.Background(), "query")
		require.Len(t, snippets, 1)
		assert.True(t, strings.HasPrefix(snippets[0], "[AutoRAG] 请求失败:"))
	})

	t.Run("unconfigured client is a no-op", func(t *testing.T) {
		c := NewClient(config.AutoRAG{}, nil)
		snippets, sources := c.Retrieve(context.Background(), "query")
		assert.Nil(t, snippets)
		assert.Nil(t, sources)
	})

	t.Run("empty snippets fall back to json dump", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"result": {"unknown_field": 1}}`))
		}))
		defer srv.Close()

		c := NewClient(autoragConfig(srv.URL), nil)
		snippets, _ := c.Retrieve(context.Background(), "query")
		require.Len(t, snippets, 1)
		assert.Contains(t, snippets[0], "unknown_field")
	})
}
