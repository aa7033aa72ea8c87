package perception

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapcanvas/internal/types"
)

func newTestGeminiClient(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGeminiClientWithConfig(GeminiConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "gemini-2.5-pro",
		Timeout: 10 * time.Second,
	})
}

func TestGeminiCompleteWithSystem(t *testing.T) {
	client := newTestGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.5-pro:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))

		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.SystemInstruction)
		require.Len(t, req.Contents, 1)
		assert.Equal(t, "hello", req.Contents[0].Parts[0].Text)

		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"hi"}],"role":"model"},"finishReason":"STOP"}]}`)
	})

	out, err := client.CompleteWithSystem(context.Background(), "sys", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}

func TestGeminiCompleteStructured(t *testing.T) {
	client := newTestGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "application/json", req.GenerationConfig.ResponseMimeType)
		_, hasExtra := req.GenerationConfig.ResponseSchema["additionalProperties"]
		assert.False(t, hasExtra)

		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"{\"sexual\": false, \"should_block\": false}"}]}}]}`)
	})

	out, err := client.CompleteStructured(context.Background(), "classify", &types.JSONSchema{
		Name: "safety_decision",
		Schema: map[string]interface{}{
			"type":                 "object",
			"additionalProperties": false,
		},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"sexual":false,"should_block":false}`, out)
}

func TestGeminiCompleteWithToolsStreaming(t *testing.T) {
	client := newTestGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.5-pro:streamGenerateContent", r.URL.Path)
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))

		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Tools, 1)
		require.Len(t, req.Tools[0].FunctionDeclarations, 1)
		assert.Equal(t, "runNode", req.Tools[0].FunctionDeclarations[0].Name)

		w.Header().Set("Content-Type", "text/event-stream")
		lines := []string{
			`data: {"candidates":[{"content":{"parts":[{"text":"运行"}]}}]}`,
			`data: {"candidates":[{"content":{"parts":[{"text":"中。"},{"functionCall":{"name":"runNode","args":{"nodeId":"九宫格分镜"}}}]},"finishReason":"STOP"}]}`,
		}
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n\n", line)
		}
	})

	resp, err := client.CompleteWithTools(context.Background(), "run it", []types.ToolDefinition{
		{Name: "runNode", Description: "run", Parameters: map[string]interface{}{"type": "object"}},
	})
	require.NoError(t, err)
	assert.False(t, resp.TimedOut)
	assert.Equal(t, "运行中。", resp.Text)
	assert.Equal(t, "STOP", resp.StopReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "runNode", resp.ToolCalls[0].Name)
	assert.Equal(t, "九宫格分镜", resp.ToolCalls[0].Arguments["nodeId"])
}

func TestGeminiCompleteWithToolsNonStreamingFallback(t *testing.T) {
	var streaming, nonStreaming int32
	client := newTestGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/models/gemini-2.5-pro:streamGenerateContent" {
			atomic.AddInt32(&streaming, 1)
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":{"code":500,"message":"stream backend unavailable","status":"INTERNAL"}}`)
			return
		}

		atomic.AddInt32(&nonStreaming, 1)
		assert.Equal(t, "/models/gemini-2.5-pro:generateContent", r.URL.Path)
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"运行中。"},{"functionCall":{"name":"runNode","args":{"nodeId":"九宫格分镜"}}}]},"finishReason":"STOP"}]}`)
	})

	resp, err := client.CompleteWithTools(context.Background(), "run it", []types.ToolDefinition{
		{Name: "runNode", Description: "run", Parameters: map[string]interface{}{"type": "object"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "运行中。", resp.Text)
	assert.Equal(t, "STOP", resp.StopReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "runNode", resp.ToolCalls[0].Name)
	assert.EqualValues(t, 1, atomic.LoadInt32(&streaming))
	assert.EqualValues(t, 1, atomic.LoadInt32(&nonStreaming))
}

func TestGeminiProviderError(t *testing.T) {
	client := newTestGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":403,"message":"permission denied","status":"PERMISSION_DENIED"}}`)
	})

	_, err := client.Complete(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, KindProvider, KindOf(err))
}

func TestSanitizeGeminiSchema(t *testing.T) {
	in := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]interface{}{
			"characters": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type":                 "object",
					"additionalProperties": false,
				},
			},
		},
	}
	out := sanitizeGeminiSchema(in)
	_, ok := out["additionalProperties"]
	assert.False(t, ok)
	props := out["properties"].(map[string]interface{})
	chars := props["characters"].(map[string]interface{})
	items := chars["items"].(map[string]interface{})
	_, ok = items["additionalProperties"]
	assert.False(t, ok)
}
