package perception

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"tapcanvas/internal/articulation"
	"tapcanvas/internal/types"
)

const defaultSystemPrompt = "You are a helpful creative assistant for a visual canvas tool. Follow the instructions in the user prompt exactly."

// OpenAIClient implements types.LLMClient against any OpenAI-compatible
// chat/completions endpoint.
type OpenAIClient struct {
	apiKey      string
	baseURL     string
	model       string
	httpClient  *http.Client
	mu          sync.Mutex
	lastRequest time.Time
}

// DefaultOpenAIConfig returns sensible defaults.
func DefaultOpenAIConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{
		APIKey:  apiKey,
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-5.2",
		Timeout: 10 * time.Minute,
	}
}

// NewOpenAIClient creates a new OpenAI client with default config.
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return NewOpenAIClientWithConfig(DefaultOpenAIConfig(apiKey))
}

// NewOpenAIClientWithConfig creates a new OpenAI client with custom config.
func NewOpenAIClientWithConfig(config OpenAIConfig) *OpenAIClient {
	return &OpenAIClient{
		apiKey:  config.APIKey,
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		model:   config.Model,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// SetModel changes the model used for completions.
func (c *OpenAIClient) SetModel(model string) { c.model = model }

// GetModel returns the current model.
func (c *OpenAIClient) GetModel() string { return c.model }

// Complete sends a prompt and returns the completion.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system message.
func (c *OpenAIClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = defaultSystemPrompt
	}
	reqBody := openAIRequest{
		Model: c.model,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens:   4096,
		Temperature: 0.1,
	}
	resp, err := c.doChat(ctx, &reqBody, false)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// CompleteStructured requests a single JSON object matching schema. If the
// provider rejects response_format the request is retried without it and the
// first balanced JSON object is recovered from the raw text.
func (c *OpenAIClient) CompleteStructured(ctx context.Context, prompt string, schema *types.JSONSchema) (string, error) {
	reqBody := openAIRequest{
		Model: c.model,
		Messages: []openAIMessage{
			{Role: "system", Content: "Respond with a single JSON object and nothing else."},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   4096,
		Temperature: 0.1,
	}
	if schema != nil {
		reqBody.ResponseFormat = &openAIResponseFormat{
			Type: "json_schema",
			JSONSchema: &openAIJSONSchema{
				Name:   schema.Name,
				Strict: true,
				Schema: schema.Schema,
			},
		}
	}
	resp, err := c.doChat(ctx, &reqBody, true)
	if err != nil {
		return "", err
	}
	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	if json.Valid([]byte(raw)) {
		return raw, nil
	}
	for _, candidate := range articulation.FindJSONCandidates(raw) {
		if json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}
	return "", NewCallError(KindMalformedOutput, "no JSON object in response: %.200s", raw)
}

// doChat runs the non-streaming request with the retry loop shared by all
// plain completions. allowFormatFallback drops response_format once when the
// provider rejects it.
func (c *OpenAIClient) doChat(ctx context.Context, reqBody *openAIRequest, allowFormatFallback bool) (*openAIResponse, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	if c.apiKey == "" {
		return nil, NewCallError(KindMissingCredential, "API key not configured")
	}

	c.throttle()

	maxRetries := 3
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			time.Sleep(time.Duration(1<<uint(i-1)) * time.Second)
		}

		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = classifyTransport(err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = &CallError{Kind: KindConnectivity, Message: err.Error()}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = &CallError{Kind: KindProvider, Message: "rate limit exceeded", Status: resp.StatusCode}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			// Some providers reject response_format; retry once without it.
			if allowFormatFallback && reqBody.ResponseFormat != nil && resp.StatusCode == http.StatusBadRequest {
				bodyStr := string(body)
				if strings.Contains(bodyStr, "response_format") || strings.Contains(bodyStr, "json_schema") {
					reqBody.ResponseFormat = nil
					lastErr = &CallError{Kind: KindProvider, Message: "structured output rejected, retrying without response_format", Status: resp.StatusCode}
					continue
				}
			}
			return nil, &CallError{Kind: KindProvider, Message: strings.TrimSpace(string(body)), Status: resp.StatusCode}
		}

		var parsed openAIResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, NewCallError(KindMalformedOutput, "failed to parse response: %v", err)
		}
		if parsed.Error != nil {
			return nil, NewCallError(KindProvider, "API error: %s", parsed.Error.Message)
		}
		if len(parsed.Choices) == 0 {
			return nil, NewCallError(KindMalformedOutput, "no completion returned")
		}
		return &parsed, nil
	}

	if ce, ok := lastErr.(*CallError); ok {
		return nil, ce
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// CompleteWithTools streams the response with function tools attached. The
// context deadline acts as the wall-clock budget: when it expires mid-stream
// the accumulated text is returned with TimedOut set instead of an error, so
// the caller can degrade to a partial answer. If the streaming request fails
// outright, exactly one non-streaming attempt with the same messages and
// tools is made before the error is surfaced.
func (c *OpenAIClient) CompleteWithTools(ctx context.Context, prompt string, tools []types.ToolDefinition) (*types.LLMToolResponse, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	if c.apiKey == "" {
		return nil, NewCallError(KindMissingCredential, "API key not configured")
	}

	c.throttle()

	reqBody := openAIRequest{
		Model: c.model,
		Messages: []openAIMessage{
			{Role: "system", Content: defaultSystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature:   0.3,
		Stream:        true,
		StreamOptions: &openAIStreamOptions{IncludeUsage: true},
	}
	for _, t := range tools {
		reqBody.Tools = append(reqBody.Tools, openAITool{
			Type: "function",
			Function: openAIFunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	if len(reqBody.Tools) > 0 {
		reqBody.ToolChoice = "auto"
	}

	out, err := c.streamToolCall(ctx, &reqBody)
	if err == nil {
		return out, nil
	}
	if KindOf(err) == KindTimeout {
		return &types.LLMToolResponse{TimedOut: true}, nil
	}
	return c.completeToolsNonStreaming(ctx, &reqBody)
}

// streamToolCall runs the single streaming attempt.
func (c *OpenAIClient) streamToolCall(ctx context.Context, reqBody *openAIRequest) (*types.LLMToolResponse, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &CallError{Kind: KindProvider, Message: strings.TrimSpace(string(body)), Status: resp.StatusCode}
	}

	out, err := c.consumeToolStream(ctx, resp.Body)
	resp.Body.Close()
	return out, err
}

// completeToolsNonStreaming is the one protocol fallback after a failed
// stream: the same messages and tools over a plain chat/completions call.
func (c *OpenAIClient) completeToolsNonStreaming(ctx context.Context, reqBody *openAIRequest) (*types.LLMToolResponse, error) {
	fallback := *reqBody
	fallback.Stream = false
	fallback.StreamOptions = nil

	jsonData, err := json.Marshal(&fallback)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if KindOf(err) == KindTimeout {
			return &types.LLMToolResponse{TimedOut: true}, nil
		}
		return nil, classifyTransport(err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, &CallError{Kind: KindConnectivity, Message: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &CallError{Kind: KindProvider, Message: strings.TrimSpace(string(body)), Status: resp.StatusCode}
	}

	var parsed openAIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, NewCallError(KindMalformedOutput, "failed to parse response: %v", err)
	}
	if parsed.Error != nil {
		return nil, NewCallError(KindProvider, "API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, NewCallError(KindMalformedOutput, "no completion returned")
	}

	choice := parsed.Choices[0]
	out := &types.LLMToolResponse{
		Text:       choice.Message.Content,
		StopReason: choice.FinishReason,
	}
	for _, tc := range choice.Message.ToolCalls {
		if tc.Function.Name == "" {
			continue
		}
		args := map[string]interface{}{}
		if raw := strings.TrimSpace(tc.Function.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				continue
			}
		}
		out.ToolCalls = append(out.ToolCalls, types.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return out, nil
}

// toolCallAccumulator stitches streamed tool-call argument fragments back
// together by choice index.
type toolCallAccumulator struct {
	id   string
	name string
	args strings.Builder
}

func (c *OpenAIClient) consumeToolStream(ctx context.Context, body io.ReadCloser) (*types.LLMToolResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var text strings.Builder
	accum := map[int]*toolCallAccumulator{}
	stopReason := ""

	scanDone := make(chan struct{})
	scanErrChan := make(chan error, 1)

	go func() {
		defer close(scanDone)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" {
				continue
			}
			if data == "[DONE]" {
				return
			}

			var chunk openAIResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if chunk.Error != nil {
				scanErrChan <- NewCallError(KindProvider, "API error: %s", chunk.Error.Message)
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if choice.FinishReason != "" {
				stopReason = choice.FinishReason
			}
			if choice.Delta == nil {
				continue
			}
			text.WriteString(choice.Delta.Content)
			for _, tc := range choice.Delta.ToolCalls {
				acc, ok := accum[tc.Index]
				if !ok {
					acc = &toolCallAccumulator{}
					accum[tc.Index] = acc
				}
				if tc.ID != "" {
					acc.id = tc.ID
				}
				if tc.Function.Name != "" {
					acc.name = tc.Function.Name
				}
				acc.args.WriteString(tc.Function.Arguments)
			}
		}
		if err := scanner.Err(); err != nil {
			scanErrChan <- err
		}
	}()

	timedOut := false
	select {
	case <-scanDone:
		select {
		case err := <-scanErrChan:
			if KindOf(err) == KindTimeout {
				timedOut = true
			} else {
				return nil, fmt.Errorf("stream error: %w", err)
			}
		default:
		}
	case <-ctx.Done():
		body.Close()
		<-scanDone
		timedOut = true
	}

	out := &types.LLMToolResponse{
		Text:       text.String(),
		StopReason: stopReason,
		TimedOut:   timedOut,
	}
	indexes := make([]int, 0, len(accum))
	for idx := range accum {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		acc := accum[idx]
		if acc.name == "" {
			continue
		}
		args := map[string]interface{}{}
		raw := strings.TrimSpace(acc.args.String())
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				// Truncated or garbled arguments; a partial call is worse
				// than no call.
				continue
			}
		}
		out.ToolCalls = append(out.ToolCalls, types.ToolCall{
			ID:        acc.id,
			Name:      acc.name,
			Arguments: args,
		})
	}
	return out, nil
}

// throttle keeps at least 100ms between requests.
func (c *OpenAIClient) throttle() {
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()
}
