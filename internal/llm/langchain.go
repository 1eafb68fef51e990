package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

const defaultOllamaModel = "llama3.1"

// LangChain adapts any langchaingo model. Structured calls use JSON mode and
// carry the schema in the system prompt.
type LangChain struct {
	model     llms.Model
	name      string
	maxTokens int
	logger    zerolog.Logger
}

// NewOllama connects to a local ollama server through langchaingo.
func NewOllama(opts Options, logger zerolog.Logger) (*LangChain, error) {
	name := opts.Model
	if name == "" {
		name = defaultOllamaModel
	}
	ollamaOpts := []ollama.Option{ollama.WithModel(name)}
	if opts.BaseURL != "" {
		ollamaOpts = append(ollamaOpts, ollama.WithServerURL(opts.BaseURL))
	}
	m, err := ollama.New(ollamaOpts...)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	return NewLangChain(m, name, opts.MaxTokens, logger), nil
}

func NewLangChain(m llms.Model, name string, maxTokens int, logger zerolog.Logger) *LangChain {
	return &LangChain{model: m, name: name, maxTokens: maxTokens, logger: logger}
}

func (c *LangChain) Name() string { return c.name }

func (c *LangChain) Generate(ctx context.Context, req Request) (Response, error) {
	return c.call(ctx, req)
}

func (c *LangChain) GenerateStructured(ctx context.Context, req Request, schema Schema) (Response, error) {
	raw, err := json.Marshal(schema.Parameters)
	if err != nil {
		return Response{}, fmt.Errorf("marshal schema: %w", err)
	}
	req.System += fmt.Sprintf("\n\nRespond with a single JSON object (%s) matching this JSON schema:\n%s", schema.Name, raw)
	return c.call(ctx, req, llms.WithJSONMode())
}

func (c *LangChain) call(ctx context.Context, req Request, extra ...llms.CallOption) (Response, error) {
	if len(req.Messages) == 0 {
		return Response{}, errors.New("no messages")
	}
	clampRequest(&req, maxRequestSize, c.logger)

	msgs := make([]llms.MessageContent, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	for _, m := range req.Messages {
		role := llms.ChatMessageTypeHuman
		if m.Role == "assistant" {
			role = llms.ChatMessageTypeAI
		}
		msgs = append(msgs, llms.TextParts(role, m.Content))
	}

	opts := []llms.CallOption{llms.WithTemperature(float64(req.Temperature))}
	maxTok := req.MaxTokens
	if maxTok <= 0 {
		maxTok = c.maxTokens
	}
	if maxTok > 0 {
		opts = append(opts, llms.WithMaxTokens(maxTok))
	}
	opts = append(opts, extra...)

	c.logger.Debug().
		Str("model", c.name).
		Int("messages", len(msgs)).
		Msg("langchain request")

	resp, err := c.model.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		return Response{}, fmt.Errorf("%s: %w", c.name, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("no choices in response")
	}
	text := resp.Choices[0].Content
	if text == "" {
		return Response{}, fmt.Errorf("empty response content")
	}
	c.logger.Debug().
		Str("response_preview", truncateString(text, 200)).
		Msg("langchain success")
	return Response{Text: text}, nil
}
