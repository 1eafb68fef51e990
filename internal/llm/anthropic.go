package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-5-20250929"
	anthropicBaseURL      = "https://api.anthropic.com"
	anthropicVersion      = "2023-06-01"
	anthropicMaxTokens    = 2048
)

type Anthropic struct {
	apiKey    string
	model     string
	url       string
	maxTokens int
	poster    poster
	logger    zerolog.Logger
}

func NewAnthropic(opts Options, logger zerolog.Logger) (*Anthropic, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("missing %s", envAnthropicKey)
	}
	model := opts.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = anthropicBaseURL
	}
	maxTok := opts.MaxTokens
	if maxTok <= 0 {
		maxTok = anthropicMaxTokens
	}
	return &Anthropic{
		apiKey:    opts.APIKey,
		model:     model,
		url:       base + "/v1/messages",
		maxTokens: maxTok,
		poster:    newPoster("Anthropic", opts, logger),
		logger:    logger,
	}, nil
}

func (c *Anthropic) Name() string { return c.model }

func (c *Anthropic) Generate(ctx context.Context, req Request) (Response, error) {
	payload, err := c.payload(req)
	if err != nil {
		return Response{}, err
	}
	ar, err := c.send(ctx, payload)
	if err != nil {
		return Response{}, err
	}
	var buf bytes.Buffer
	for _, content := range ar.Content {
		if content.Type == "text" {
			buf.WriteString(content.Text)
		}
	}
	c.logger.Debug().
		Int("response_length", buf.Len()).
		Str("stop_reason", ar.StopReason).
		Msg("Anthropic API success")
	return Response{Text: buf.String()}, nil
}

// GenerateStructured forces a single tool call whose input schema is the
// requested shape and returns the tool input as JSON text.
func (c *Anthropic) GenerateStructured(ctx context.Context, req Request, schema Schema) (Response, error) {
	payload, err := c.payload(req)
	if err != nil {
		return Response{}, err
	}
	payload.Tools = []anthropicTool{{
		Name:        schema.Name,
		Description: schema.Description,
		InputSchema: schema.Parameters,
	}}
	payload.ToolChoice = &anthropicToolChoice{Type: "tool", Name: schema.Name}

	ar, err := c.send(ctx, payload)
	if err != nil {
		return Response{}, err
	}
	for _, content := range ar.Content {
		if content.Type == "tool_use" && content.Name == schema.Name && len(content.Input) > 0 {
			c.logger.Debug().
				Str("tool", content.Name).
				Str("input_preview", truncateString(string(content.Input), 200)).
				Msg("Anthropic structured output")
			return Response{Text: string(content.Input)}, nil
		}
	}
	return Response{}, fmt.Errorf("anthropic: no %s tool call in response (stop_reason %s)", schema.Name, ar.StopReason)
}

func (c *Anthropic) payload(req Request) (anthropicPayload, error) {
	if len(req.Messages) == 0 {
		return anthropicPayload{}, errors.New("no messages")
	}
	clampRequest(&req, maxRequestSize, c.logger)

	maxTok := req.MaxTokens
	if maxTok <= 0 {
		maxTok = c.maxTokens
	}
	payload := anthropicPayload{
		Model:       c.model,
		System:      req.System,
		MaxTokens:   maxTok,
		Temperature: float64(req.Temperature),
	}
	for _, m := range req.Messages {
		payload.Messages = append(payload.Messages, anthropicMessage{
			Role:    m.Role,
			Content: []anthropicContent{{Type: "text", Text: m.Content}},
		})
	}
	return payload, nil
}

func (c *Anthropic) send(ctx context.Context, payload anthropicPayload) (anthropicResponse, error) {
	c.logger.Debug().
		Str("model", c.model).
		Int("messages", len(payload.Messages)).
		Int("tools", len(payload.Tools)).
		Int("max_tokens", payload.MaxTokens).
		Msg("Anthropic API request")

	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": anthropicVersion,
	}
	data, err := c.poster.post(ctx, c.url, headers, payload, decodeAnthropicError)
	if err != nil {
		return anthropicResponse{}, err
	}
	var ar anthropicResponse
	if err := json.Unmarshal(data, &ar); err != nil {
		return anthropicResponse{}, fmt.Errorf("parse response: %w", err)
	}
	return ar, nil
}

func decodeAnthropicError(status int, data []byte) (bool, error) {
	var envelope struct {
		Error anthropicError `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error.Error() == "" {
		return true, fmt.Errorf("anthropic %d: %s", status, truncateString(string(data), 500))
	}
	apiErr := envelope.Error
	// usage limits will not clear on retry
	if status == 400 && apiErr.Type == "invalid_request_error" && strings.Contains(apiErr.Message, "API usage limits") {
		return false, fmt.Errorf("API usage limit reached: %s", apiErr.Message)
	}
	return true, fmt.Errorf("anthropic %d: %s (type: %s)", status, apiErr.Error(), apiErr.Type)
}

type anthropicPayload struct {
	Model       string               `json:"model"`
	System      string               `json:"system,omitempty"`
	Messages    []anthropicMessage   `json:"messages"`
	Tools       []anthropicTool      `json:"tools,omitempty"`
	ToolChoice  *anthropicToolChoice `json:"tool_choice,omitempty"`
	MaxTokens   int                  `json:"max_tokens"`
	Temperature float64              `json:"temperature"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e anthropicError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Type
}
