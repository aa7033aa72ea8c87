package perception

import (
	"fmt"
	"os"
	"strings"

	"tapcanvas/internal/config"
	"tapcanvas/internal/types"
)

// NewClient builds an LLM client for the resolved provider in cfg, using
// model for this specific call site (router, answer, classifier, summarizer
// each pin their own model).
func NewClient(cfg *config.Config, model string) (types.LLMClient, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, NewCallError(KindMissingCredential, "OPENAI_API_KEY is not set")
		}
		conf := DefaultOpenAIConfig(apiKey)
		if base := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); base != "" {
			conf.BaseURL = base
		}
		if model != "" {
			conf.Model = model
		}
		return NewOpenAIClientWithConfig(conf), nil
	case "gemini":
		apiKey := os.Getenv("GEMINI_API_KEY")
		if apiKey == "" {
			apiKey = os.Getenv("GOOGLE_API_KEY")
		}
		if apiKey == "" {
			return nil, NewCallError(KindMissingCredential, "GEMINI_API_KEY is not set")
		}
		conf := DefaultGeminiConfig(apiKey)
		if model != "" {
			conf.Model = model
		}
		return NewGeminiClientWithConfig(conf), nil
	default:
		return nil, fmt.Errorf("unknown provider: %q", cfg.Provider)
	}
}
