// Package config loads orchestrator configuration from an optional YAML
// file plus environment overrides. Every field has a usable default so the
// zero configuration path works out of the box.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	// Provider selects the LLM backend: "auto", "openai" or "gemini".
	// "auto" resolves to openai when OPENAI_API_KEY is set, gemini otherwise.
	Provider string `yaml:"provider" json:"provider"`

	Models     Models     `yaml:"models" json:"models"`
	Limits     Limits     `yaml:"limits" json:"limits"`
	Summarizer Summarizer `yaml:"summarizer" json:"summarizer"`
	AutoRAG    AutoRAG    `yaml:"autorag" json:"autorag"`

	// Debug enables verbose logging.
	Debug bool `yaml:"debug" json:"debug"`
}

// Models names the model used at each pipeline stage.
type Models struct {
	RoleSelector     string `yaml:"role_selector" json:"role_selector"`
	Answer           string `yaml:"answer" json:"answer"`
	SafetyClassifier string `yaml:"safety_classifier" json:"safety_classifier"`
	Summarizer       string `yaml:"summarizer" json:"summarizer"`
}

// Limits carries the turn-level guard rails.
type Limits struct {
	// HardMaxTurnLoops caps repeated in-thread loops; after this many turns
	// the continuity gate stops blocking on lock confirmation.
	HardMaxTurnLoops int `yaml:"hard_max_turn_loops" json:"hard_max_turn_loops"`
	// AnswerBudgetSeconds is the wall-clock budget for the streaming answer
	// call, measured from stream start.
	AnswerBudgetSeconds int `yaml:"answer_budget_seconds" json:"answer_budget_seconds"`
}

// Summarizer controls background conversation compression.
type Summarizer struct {
	// TailKeep messages are never compressed.
	TailKeep int `yaml:"tail_keep" json:"tail_keep"`
	// TriggerChars is the rendered-history size that forces a summary pass.
	TriggerChars int `yaml:"trigger_chars" json:"trigger_chars"`
	// FirstSummaryMinMessages allows an initial summary before TriggerChars
	// once the thread reaches this many messages.
	FirstSummaryMinMessages int `yaml:"first_summary_min_messages" json:"first_summary_min_messages"`
	// MaxChars clamps the produced summary.
	MaxChars int `yaml:"max_chars" json:"max_chars"`
}

// AutoRAG configures the knowledge-base retrieval proxy.
type AutoRAG struct {
	Endpoint       string `yaml:"endpoint" json:"endpoint"`
	ID             string `yaml:"id" json:"id"`
	Secret         string `yaml:"-" json:"-"` // env only, never serialized
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Provider: "auto",
		Models: Models{
			RoleSelector:     "gemini-2.0-flash",
			Answer:           "gemini-2.5-pro",
			SafetyClassifier: "gemini-2.0-flash",
			Summarizer:       "gemini-2.5-flash",
		},
		Limits: Limits{
			HardMaxTurnLoops:    10,
			AnswerBudgetSeconds: 600,
		},
		Summarizer: Summarizer{
			TailKeep:                16,
			TriggerChars:            120000,
			FirstSummaryMinMessages: 40,
			MaxChars:                2200,
		},
		AutoRAG: AutoRAG{
			TimeoutSeconds: 20,
		},
	}
}

// Load reads the YAML file at path (missing file is fine), applies
// TAPCANVAS_* environment overrides, then resolves the provider.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.resolve()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TAPCANVAS_PROVIDER"); v != "" {
		c.Provider = v
	}
	if v := os.Getenv("TAPCANVAS_ROLE_SELECTOR_MODEL"); v != "" {
		c.Models.RoleSelector = v
	}
	if v := os.Getenv("TAPCANVAS_ANSWER_MODEL"); v != "" {
		c.Models.Answer = v
	}
	if v := os.Getenv("TAPCANVAS_SAFETY_CLASSIFIER_MODEL"); v != "" {
		c.Models.SafetyClassifier = v
	}
	if v := os.Getenv("TAPCANVAS_SUMMARIZER_MODEL"); v != "" {
		c.Models.Summarizer = v
	}
	if v := os.Getenv("TAPCANVAS_HARD_MAX_TURN_LOOPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Limits.HardMaxTurnLoops = n
		}
	}
	if v := os.Getenv("TAPCANVAS_ANSWER_BUDGET_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Limits.AnswerBudgetSeconds = n
		}
	}
	if v := os.Getenv("TAPCANVAS_AUTORAG_ENDPOINT"); v != "" {
		c.AutoRAG.Endpoint = v
	}
	if v := os.Getenv("TAPCANVAS_AUTORAG_ID"); v != "" {
		c.AutoRAG.ID = v
	}
	if v := os.Getenv("INTERNAL_API_SECRET"); v != "" {
		c.AutoRAG.Secret = v
	}
	if v := os.Getenv("TAPCANVAS_DEBUG"); v == "1" || strings.EqualFold(v, "true") {
		c.Debug = true
	}
}

// resolve normalizes the provider and pins OpenAI model names. Proxy
// deployments commonly misconfigure gpt-5.x variants, so any gpt-5.*
// value collapses to gpt-5.2.
func (c *Config) resolve() {
	p := strings.ToLower(strings.TrimSpace(c.Provider))
	if p != "openai" && p != "gemini" {
		if os.Getenv("OPENAI_API_KEY") != "" {
			p = "openai"
		} else if os.Getenv("GEMINI_API_KEY") != "" || os.Getenv("GOOGLE_API_KEY") != "" {
			p = "gemini"
		} else {
			p = "openai"
		}
	}
	c.Provider = p

	if p == "openai" {
		fix := func(m *string) {
			if *m == "" || strings.HasPrefix(*m, "gemini") {
				*m = "gpt-5.2"
			} else if strings.HasPrefix(*m, "gpt-5.") && *m != "gpt-5.2" {
				*m = "gpt-5.2"
			}
		}
		fix(&c.Models.RoleSelector)
		fix(&c.Models.Answer)
		fix(&c.Models.SafetyClassifier)
		fix(&c.Models.Summarizer)
	}

	if c.Limits.HardMaxTurnLoops <= 0 {
		c.Limits.HardMaxTurnLoops = 10
	}
	if c.Limits.AnswerBudgetSeconds <= 0 {
		c.Limits.AnswerBudgetSeconds = 600
	}
	if c.Summarizer.TailKeep <= 0 {
		c.Summarizer.TailKeep = 16
	}
	if c.Summarizer.TriggerChars <= 0 {
		c.Summarizer.TriggerChars = 120000
	}
	if c.Summarizer.FirstSummaryMinMessages <= 0 {
		c.Summarizer.FirstSummaryMinMessages = 40
	}
	if c.Summarizer.MaxChars <= 0 {
		c.Summarizer.MaxChars = 2200
	}
	if c.AutoRAG.TimeoutSeconds <= 0 {
		c.AutoRAG.TimeoutSeconds = 20
	}
}
