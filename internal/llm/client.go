package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/hierarchical-browser-agent/internal/config"
)

// Client is the free-text side of a model provider.
type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Name() string
}

// StructuredClient can constrain its answer to a JSON schema.
type StructuredClient interface {
	Client
	GenerateStructured(ctx context.Context, req Request, schema Schema) (Response, error)
}

// ErrStructuredUnsupported is returned by wrappers whose inner client has no
// structured mode.
var ErrStructuredUnsupported = errors.New("structured output not supported")

type Request struct {
	System      string
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// User builds a single-turn request.
func User(system, prompt string) Request {
	return Request{System: system, Messages: []Message{{Role: "user", Content: prompt}}}
}

type Response struct {
	Text string
}

// Options configure the HTTP provider clients.
type Options struct {
	APIKey         string
	Model          string
	BaseURL        string
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	MaxTokens      int
}

const (
	envAnthropicKey   = "ANTHROPIC_API_KEY"
	envAnthropicModel = "ANTHROPIC_MODEL"
	envOpenAIKey      = "OPENAI_API_KEY"
	envOpenAIModel    = "OPENAI_MODEL"
	envOllamaModel    = "OLLAMA_MODEL"
)

// New builds the provider client named by cfg and wraps it in a rate
// limiter when requests_per_second is set.
func New(cfg config.LLM, logger zerolog.Logger) (Client, error) {
	opts := Options{
		Model:      cfg.Model,
		BaseURL:    cfg.BaseURL,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		MaxTokens:  cfg.MaxTokens,
	}

	var (
		client Client
		err    error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "anthropic":
		opts.APIKey = env(envAnthropicKey)
		if opts.Model == "" {
			opts.Model = env(envAnthropicModel)
		}
		client, err = NewAnthropic(opts, logger)
	case "openai":
		opts.APIKey = env(envOpenAIKey)
		if opts.Model == "" {
			opts.Model = env(envOpenAIModel)
		}
		client, err = NewOpenAI(opts, logger)
	case "ollama":
		if opts.Model == "" {
			opts.Model = env(envOllamaModel)
		}
		client, err = NewOllama(opts, logger)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (use 'anthropic', 'openai' or 'ollama')", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.RequestsPerSecond > 0 {
		client = WithRateLimit(client, cfg.RequestsPerSecond, cfg.Burst)
	}
	return client, nil
}

// Structured reports whether c (or the client it wraps) supports structured
// output.
func Structured(c Client) (StructuredClient, bool) {
	if rl, ok := c.(*RateLimited); ok {
		if _, inner := rl.next.(StructuredClient); !inner {
			return nil, false
		}
		return rl, true
	}
	sc, ok := c.(StructuredClient)
	return sc, ok
}

func env(name string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(name)), "\"'")
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// clampRequest truncates oversized prompts in place.
func clampRequest(req *Request, limit int, logger zerolog.Logger) {
	for i, m := range req.Messages {
		if len(m.Content) > limit {
			logger.Warn().Int("message_idx", i).Int("size", len(m.Content)).Msg("message too large, truncating")
			req.Messages[i].Content = m.Content[:limit] + "... [truncated]"
		}
	}
	if len(req.System) > limit {
		logger.Warn().Int("size", len(req.System)).Msg("system prompt too large, truncating")
		req.System = req.System[:limit] + "... [truncated]"
	}
}
