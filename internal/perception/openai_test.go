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

func newTestOpenAIClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIClientWithConfig(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "gpt-5.2",
		Timeout: 10 * time.Second,
	})
}

func TestOpenAICompleteWithSystem(t *testing.T) {
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "hello", req.Messages[1].Content)

		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"  hi there  "}}]}`)
	})

	out, err := client.CompleteWithSystem(context.Background(), "sys", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi there", out)
}

func TestOpenAIMissingCredential(t *testing.T) {
	client := NewOpenAIClientWithConfig(OpenAIConfig{BaseURL: "http://127.0.0.1:0", Model: "gpt-5.2", Timeout: time.Second})
	_, err := client.Complete(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, KindMissingCredential, KindOf(err))
}

func TestOpenAICompleteStructuredFormatFallback(t *testing.T) {
	var calls int32
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if atomic.AddInt32(&calls, 1) == 1 {
			require.NotNil(t, req.ResponseFormat)
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"message":"response_format is not supported"}}`)
			return
		}
		assert.Nil(t, req.ResponseFormat)
		fmt.Fprint(w, `{"choices":[{"message":{"content":"Sure, here it is: {\"role_id\": \"art_director\"} hope that helps"}}]}`)
	})

	out, err := client.CompleteStructured(context.Background(), "route", &types.JSONSchema{
		Name:   "role_decision",
		Schema: map[string]interface{}{"type": "object"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role_id":"art_director"}`, out)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestOpenAIRateLimitRetry(t *testing.T) {
	var calls int32
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	})

	out, err := client.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestOpenAICompleteWithToolsStreaming(t *testing.T) {
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		require.Len(t, req.Tools, 1)
		assert.Equal(t, "createNode", req.Tools[0].Function.Name)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		lines := []string{
			`data: {"choices":[{"delta":{"content":"已创建"}}]}`,
			`data: {"choices":[{"delta":{"content":"节点。"}}]}`,
			`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"createNode","arguments":"{\"label\":"}}]}}]}`,
			`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"角色三视图-主角\"}"}}]}}]}`,
			`data: {"choices":[{"finish_reason":"tool_calls"}]}`,
			`data: [DONE]`,
		}
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n\n", line)
			flusher.Flush()
		}
	})

	resp, err := client.CompleteWithTools(context.Background(), "make a node", []types.ToolDefinition{
		{Name: "createNode", Description: "create", Parameters: map[string]interface{}{"type": "object"}},
	})
	require.NoError(t, err)
	assert.False(t, resp.TimedOut)
	assert.Equal(t, "已创建节点。", resp.Text)
	assert.Equal(t, "tool_calls", resp.StopReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "createNode", resp.ToolCalls[0].Name)
	assert.Equal(t, "角色三视图-主角", resp.ToolCalls[0].Arguments["label"])
}

func TestOpenAICompleteWithToolsBudgetExpiry(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"部分结论\"}}]}\n\n")
		flusher.Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	resp, err := client.CompleteWithTools(ctx, "slow", nil)
	require.NoError(t, err)
	assert.True(t, resp.TimedOut)
	assert.Equal(t, "部分结论", resp.Text)
	assert.Empty(t, resp.ToolCalls)
}

func TestOpenAICompleteWithToolsDropsTruncatedCall(t *testing.T) {
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		lines := []string{
			`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"createNode","arguments":"{\"label\":\"incomp"}}]}}]}`,
			`data: [DONE]`,
		}
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n\n", line)
		}
	})

	resp, err := client.CompleteWithTools(context.Background(), "make a node", nil)
	require.NoError(t, err)
	assert.Empty(t, resp.ToolCalls)
}

func TestOpenAICompleteWithToolsNonStreamingFallback(t *testing.T) {
	var streaming, nonStreaming int32
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if req.Stream {
			atomic.AddInt32(&streaming, 1)
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":{"message":"streaming unavailable"}}`)
			return
		}

		atomic.AddInt32(&nonStreaming, 1)
		assert.Nil(t, req.StreamOptions)
		require.Len(t, req.Tools, 1)
		assert.Equal(t, "createNode", req.Tools[0].Function.Name)
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"已创建节点。","tool_calls":[{"id":"call_1","type":"function","function":{"name":"createNode","arguments":"{\"label\":\"角色三视图-主角\"}"}}]},"finish_reason":"tool_calls"}]}`)
	})

	resp, err := client.CompleteWithTools(context.Background(), "make a node", []types.ToolDefinition{
		{Name: "createNode", Description: "create", Parameters: map[string]interface{}{"type": "object"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "已创建节点。", resp.Text)
	assert.Equal(t, "tool_calls", resp.StopReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "createNode", resp.ToolCalls[0].Name)
	assert.Equal(t, "角色三视图-主角", resp.ToolCalls[0].Arguments["label"])
	assert.EqualValues(t, 1, atomic.LoadInt32(&streaming))
	assert.EqualValues(t, 1, atomic.LoadInt32(&nonStreaming))
}

func TestOpenAICompleteWithToolsBothProtocolsFail(t *testing.T) {
	var calls int32
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"error":{"message":"upstream down"}}`)
	})

	_, err := client.CompleteWithTools(context.Background(), "make a node", nil)
	require.Error(t, err)
	assert.Equal(t, KindProvider, KindOf(err))
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}
