// Package retrieval grounds answers in the project knowledge base through
// the Worker-side AutoRAG proxy. Retrieval is best effort: failures surface
// as diagnostic snippets, never as turn-aborting errors.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"tapcanvas/internal/config"
	"tapcanvas/internal/session"
	"tapcanvas/internal/types"
)

const (
	maxSummaryQueryChars  = 800
	maxQuestionQueryChars = 400
	maxTopicQueryChars    = 600
	maxTotalQueryChars    = 1200
	maxRawSources         = 8
	maxErrorBodyChars     = 2000
	maxDumpChars          = 4000
)

// Client talks to the AutoRAG search proxy.
type Client struct {
	cfg        config.AutoRAG
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds an AutoRAG client from config. The secret travels only
// in the x-internal-secret header; it is never logged or serialized.
func NewClient(cfg config.AutoRAG, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Enabled reports whether retrieval is configured at all.
func (c *Client) Enabled() bool {
	return strings.TrimSpace(c.cfg.Endpoint) != "" && strings.TrimSpace(c.cfg.ID) != ""
}

// compressQueryText collapses whitespace and clamps to maxChars, marking
// the cut with an ellipsis.
func compressQueryText(text string, maxChars int) string {
	cleaned := strings.Join(strings.Fields(text), " ")
	r := []rune(cleaned)
	if len(r) <= maxChars {
		return cleaned
	}
	return strings.TrimRight(string(r[:maxChars]), " ") + "…"
}

// BuildQuery condenses the conversation into a compact retrieval query so
// the proxy never receives full thread history.
func BuildQuery(summary string, messages []types.Message) string {
	var parts []string
	if s := strings.TrimSpace(summary); s != "" {
		parts = append(parts, "摘要: "+compressQueryText(s, maxSummaryQueryChars))
	}
	lastUser := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == types.RoleUser {
			lastUser = messages[i].Content
			break
		}
	}
	if s := strings.TrimSpace(lastUser); s != "" {
		parts = append(parts, "用户问题: "+compressQueryText(s, maxQuestionQueryChars))
	}
	if len(parts) == 0 {
		topic := strings.TrimSpace(session.ResearchTopic(session.Tail(messages, 6)))
		if topic != "" {
			parts = append(parts, compressQueryText(topic, maxTopicQueryChars))
		}
	}
	return compressQueryText(strings.Join(parts, "\n"), maxTotalQueryChars)
}

type searchRequest struct {
	RagID string `json:"ragId"`
	Query string `json:"query"`
}

// Retrieve runs one knowledge-base search. The returned snippets ground
// the answer prompt; sources become frontend citations. Transport and
// decode failures come back as a single diagnostic snippet.
func (c *Client) Retrieve(ctx context.Context, query string) ([]string, []types.Source) {
	query = strings.TrimSpace(query)
	if !c.Enabled() || query == "" {
		return nil, nil
	}

	payload, err := json.Marshal(searchRequest{RagID: strings.TrimSpace(c.cfg.ID), Query: query})
	if err != nil {
		return []string{fmt.Sprintf("[AutoRAG] 请求失败: %v", err)}, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSpace(c.cfg.Endpoint), bytes.NewReader(payload))
	if err != nil {
		return []string{fmt.Sprintf("[AutoRAG] 请求失败: %v", err)}, nil
	}
	req.Header.Set("content-type", "application/json")
	if secret := strings.TrimSpace(c.cfg.Secret); secret != "" {
		req.Header.Set("x-internal-secret", secret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("autorag request failed", zap.Error(err))
		return []string{fmt.Sprintf("[AutoRAG] 请求失败: %v", err)}, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return []string{fmt.Sprintf("[AutoRAG] HTTP %d: %s", resp.StatusCode, clampRunes(string(body), maxErrorBodyChars))}, nil
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return []string{"[AutoRAG] 非 JSON 响应: " + clampRunes(string(body), maxErrorBodyChars)}, nil
	}

	result, ok := decoded["result"].(map[string]interface{})
	if !ok {
		result = decoded
	}
	snippets, sources := normalizeResult(result)
	c.logger.Debug("autorag retrieval done",
		zap.Int("snippets", len(snippets)),
		zap.Int("sources", len(sources)))
	return snippets, sources
}

// normalizeResult maps the proxy's loosely-shaped payload onto snippets
// and citations. Field names vary across AutoRAG versions, so every lookup
// tries the known aliases.
func normalizeResult(result map[string]interface{}) ([]string, []types.Source) {
	var snippets []string
	var sources []types.Source

	if answer := firstStringField(result, "answer", "output", "response"); answer != "" {
		snippets = append(snippets, answer)
	}

	raw := firstListField(result, "sources", "results", "documents")
	if len(raw) > maxRawSources {
		raw = raw[:maxRawSources]
	}
	for i, item := range raw {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		idx := i + 1
		title := firstStringField(entry, "title", "label", "name")
		if title == "" {
			title = fmt.Sprintf("KB#%d", idx)
		}
		url := firstStringField(entry, "url", "source_url", "source")
		body := firstStringField(entry, "text", "content", "snippet")

		var headerBits []string
		if title != "" {
			headerBits = append(headerBits, title)
		}
		if url != "" {
			headerBits = append(headerBits, url)
		}
		if score, ok := firstNumberField(entry, "score", "similarity"); ok {
			headerBits = append(headerBits, fmt.Sprintf("score=%.3f", score))
		}
		header := strings.Join(headerBits, " | ")

		if body != "" {
			if header != "" {
				snippets = append(snippets, fmt.Sprintf("[%d] %s\n%s", idx, header, body))
			} else {
				snippets = append(snippets, fmt.Sprintf("[%d]\n%s", idx, body))
			}
		}
		if url != "" {
			sources = append(sources, types.Source{Label: title, Value: url, ShortURL: url})
		}
	}

	if len(snippets) == 0 {
		if dump, err := json.Marshal(result); err == nil {
			snippets = append(snippets, clampRunes(string(dump), maxDumpChars))
		}
	}
	return snippets, sources
}

func firstStringField(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func firstListField(m map[string]interface{}, keys ...string) []interface{} {
	for _, k := range keys {
		if list, ok := m[k].([]interface{}); ok && len(list) > 0 {
			return list
		}
	}
	return nil
}

func firstNumberField(m map[string]interface{}, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return v, true
		case string:
			var f float64
			if _, err := fmt.Sscanf(strings.TrimSpace(v), "%f", &f); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func clampRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
