package perception

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"tapcanvas/internal/articulation"
	"tapcanvas/internal/types"
)

// GeminiClient implements types.LLMClient for the Gemini REST API.
type GeminiClient struct {
	apiKey          string
	baseURL         string
	model           string
	maxOutputTokens int
	httpClient      *http.Client
	mu              sync.Mutex
	lastRequest     time.Time
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:          apiKey,
		BaseURL:         "https://generativelanguage.googleapis.com/v1beta",
		Model:           "gemini-2.5-pro",
		Timeout:         10 * time.Minute,
		MaxOutputTokens: 8192,
	}
}

// NewGeminiClient creates a new Gemini client with default config.
func NewGeminiClient(apiKey string) *GeminiClient {
	return NewGeminiClientWithConfig(DefaultGeminiConfig(apiKey))
}

// NewGeminiClientWithConfig creates a new Gemini client with custom config.
func NewGeminiClientWithConfig(config GeminiConfig) *GeminiClient {
	maxTokens := config.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &GeminiClient{
		apiKey:          config.APIKey,
		baseURL:         strings.TrimRight(config.BaseURL, "/"),
		model:           config.Model,
		maxOutputTokens: maxTokens,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// SetModel changes the model used for completions.
func (c *GeminiClient) SetModel(model string) { c.model = model }

// GetModel returns the current model.
func (c *GeminiClient) GetModel() string { return c.model }

// Complete sends a prompt and returns the completion.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system instruction.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	req := c.baseRequest(systemPrompt, userPrompt)
	resp, err := c.generate(ctx, req)
	if err != nil {
		return "", err
	}
	text := collectGeminiText(resp)
	if text == "" {
		return "", NewCallError(KindMalformedOutput, "empty candidate")
	}
	return text, nil
}

// CompleteStructured requests JSON output constrained by schema.
func (c *GeminiClient) CompleteStructured(ctx context.Context, prompt string, schema *types.JSONSchema) (string, error) {
	req := c.baseRequest("", prompt)
	req.GenerationConfig.ResponseMimeType = "application/json"
	if schema != nil {
		req.GenerationConfig.ResponseSchema = sanitizeGeminiSchema(schema.Schema)
	}
	resp, err := c.generate(ctx, req)
	if err != nil {
		return "", err
	}
	raw := strings.TrimSpace(collectGeminiText(resp))
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

// CompleteWithTools streams a prompt with function declarations attached
// (streamGenerateContent over SSE). A deadline mid-stream keeps the partial
// text and reports TimedOut rather than an error. If the stream cannot be
// established, exactly one non-streaming generateContent attempt is made
// before the error is surfaced.
func (c *GeminiClient) CompleteWithTools(ctx context.Context, prompt string, tools []types.ToolDefinition) (*types.LLMToolResponse, error) {
	req := c.baseRequest("", prompt)
	if len(tools) > 0 {
		decl := make([]geminiFunctionDeclaration, 0, len(tools))
		for _, t := range tools {
			decl = append(decl, geminiFunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  sanitizeGeminiSchema(t.Parameters),
			})
		}
		req.Tools = []geminiTool{{FunctionDeclarations: decl}}
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}
	if c.apiKey == "" {
		return nil, NewCallError(KindMissingCredential, "API key not configured")
	}
	c.throttle()

	out, err := c.streamGenerate(ctx, req)
	if err == nil {
		return out, nil
	}
	if KindOf(err) == KindTimeout {
		return &types.LLMToolResponse{TimedOut: true}, nil
	}

	resp, err := c.generateOnce(ctx, req)
	if err != nil {
		if KindOf(err) == KindTimeout {
			return &types.LLMToolResponse{TimedOut: true}, nil
		}
		return nil, err
	}
	return toolResponseFromGemini(resp), nil
}

// toolResponseFromGemini maps a complete candidate into the tool-call
// response shape.
func toolResponseFromGemini(resp *geminiResponse) *types.LLMToolResponse {
	out := &types.LLMToolResponse{}
	if len(resp.Candidates) == 0 {
		return out
	}
	out.StopReason = resp.Candidates[0].FinishReason
	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
		if part.FunctionCall != nil {
			args := part.FunctionCall.Args
			if args == nil {
				args = map[string]interface{}{}
			}
			out.ToolCalls = append(out.ToolCalls, types.ToolCall{
				Name:      part.FunctionCall.Name,
				Arguments: args,
			})
		}
	}
	out.Text = text.String()
	return out
}

// streamGenerate runs the single streaming attempt against
// streamGenerateContent with SSE framing.
func (c *GeminiClient) streamGenerate(ctx context.Context, reqBody *geminiRequest) (*types.LLMToolResponse, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &CallError{Kind: KindProvider, Message: strings.TrimSpace(string(body)), Status: resp.StatusCode}
	}

	out, err := c.consumeStream(ctx, resp.Body)
	resp.Body.Close()
	return out, err
}

func (c *GeminiClient) consumeStream(ctx context.Context, body io.ReadCloser) (*types.LLMToolResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var text strings.Builder
	var calls []types.ToolCall
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

			var chunk geminiResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if chunk.Error != nil {
				scanErrChan <- NewCallError(KindProvider, "API error: %s", chunk.Error.Message)
				return
			}
			if len(chunk.Candidates) == 0 {
				continue
			}
			cand := chunk.Candidates[0]
			if cand.FinishReason != "" {
				stopReason = cand.FinishReason
			}
			for _, part := range cand.Content.Parts {
				text.WriteString(part.Text)
				if part.FunctionCall != nil {
					args := part.FunctionCall.Args
					if args == nil {
						args = map[string]interface{}{}
					}
					calls = append(calls, types.ToolCall{
						Name:      part.FunctionCall.Name,
						Arguments: args,
					})
				}
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

	return &types.LLMToolResponse{
		Text:       text.String(),
		StopReason: stopReason,
		TimedOut:   timedOut,
		ToolCalls:  calls,
	}, nil
}

func (c *GeminiClient) baseRequest(systemPrompt, userPrompt string) *geminiRequest {
	req := &geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: userPrompt}}},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     0.2,
			MaxOutputTokens: c.maxOutputTokens,
		},
	}
	if strings.TrimSpace(systemPrompt) != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}}
	}
	return req
}

func (c *GeminiClient) generate(ctx context.Context, reqBody *geminiRequest) (*geminiResponse, error) {
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

		parsed, err := c.generateOnce(ctx, reqBody)
		if err == nil {
			return parsed, nil
		}
		if errors.Is(err, context.DeadlineExceeded) || KindOf(err) == KindTimeout {
			return nil, err
		}

		var ce *CallError
		if errors.As(err, &ce) {
			retryable := ce.Kind == KindConnectivity ||
				ce.Status == http.StatusTooManyRequests ||
				ce.Status == http.StatusServiceUnavailable
			if retryable {
				lastErr = err
				continue
			}
		}
		return nil, err
	}

	if ce, ok := lastErr.(*CallError); ok {
		return nil, ce
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// generateOnce performs a single non-streaming generateContent call with no
// retries. The caller handles credentials, deadlines and pacing.
func (c *GeminiClient) generateOnce(ctx context.Context, reqBody *geminiRequest) (*geminiResponse, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
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

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, NewCallError(KindMalformedOutput, "failed to parse response: %v", err)
	}
	if parsed.Error != nil {
		return nil, NewCallError(KindProvider, "API error: %s", parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 {
		return nil, NewCallError(KindMalformedOutput, "no candidates returned")
	}
	return &parsed, nil
}

// throttle keeps at least 100ms between outbound requests.
func (c *GeminiClient) throttle() {
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()
}

func collectGeminiText(resp *geminiResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return strings.TrimSpace(b.String())
}

// sanitizeGeminiSchema strips JSON Schema keywords the Gemini API rejects.
func sanitizeGeminiSchema(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return nil
	}
	out := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		if k == "additionalProperties" || k == "$schema" || k == "strict" {
			continue
		}
		switch inner := v.(type) {
		case map[string]interface{}:
			out[k] = sanitizeGeminiSchema(inner)
		case []interface{}:
			items := make([]interface{}, 0, len(inner))
			for _, item := range inner {
				if m, ok := item.(map[string]interface{}); ok {
					items = append(items, sanitizeGeminiSchema(m))
				} else {
					items = append(items, item)
				}
			}
			out[k] = items
		default:
			out[k] = v
		}
	}
	return out
}
