package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

const (
	defaultOpenAIModel = "gpt-4o-mini"
	openAIBaseURL      = "https://api.openai.com/v1"
	openAIMaxTokens    = 2048
)

type OpenAI struct {
	apiKey    string
	model     string
	url       string
	maxTokens int
	poster    poster
	logger    zerolog.Logger
}

type openAIPayload struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
	Temperature    float64               `json:"temperature"`
	MaxTokens      int                   `json:"max_tokens"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *openAIJSONSchema `json:"json_schema,omitempty"`
}

type openAIJSONSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"schema"`
	Strict      bool           `json:"strict"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
			Refusal string `json:"refusal,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIErrorBody struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// NewOpenAI talks to the chat completions API. BaseURL may point at any
// compatible server.
func NewOpenAI(opts Options, logger zerolog.Logger) (*OpenAI, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("missing %s", envOpenAIKey)
	}
	model := opts.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = openAIBaseURL
	}
	maxTok := opts.MaxTokens
	if maxTok <= 0 {
		maxTok = openAIMaxTokens
	}
	return &OpenAI{
		apiKey:    opts.APIKey,
		model:     model,
		url:       base + "/chat/completions",
		maxTokens: maxTok,
		poster:    newPoster("OpenAI", opts, logger),
		logger:    logger,
	}, nil
}

func (c *OpenAI) Name() string { return c.model }

func (c *OpenAI) Generate(ctx context.Context, req Request) (Response, error) {
	payload, err := c.payload(req)
	if err != nil {
		return Response{}, err
	}
	return c.send(ctx, payload)
}

// GenerateStructured uses response_format json_schema.
func (c *OpenAI) GenerateStructured(ctx context.Context, req Request, schema Schema) (Response, error) {
	payload, err := c.payload(req)
	if err != nil {
		return Response{}, err
	}
	payload.ResponseFormat = &openAIResponseFormat{
		Type: "json_schema",
		JSONSchema: &openAIJSONSchema{
			Name:        schema.Name,
			Description: schema.Description,
			Schema:      schema.Parameters,
		},
	}
	return c.send(ctx, payload)
}

func (c *OpenAI) payload(req Request) (openAIPayload, error) {
	if len(req.Messages) == 0 {
		return openAIPayload{}, errors.New("no messages")
	}
	clampRequest(&req, maxRequestSize, c.logger)

	// system prompt goes first with role "system"
	messages := make([]openAIMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, openAIMessage{Role: m.Role, Content: m.Content})
	}
	maxTok := req.MaxTokens
	if maxTok <= 0 {
		maxTok = c.maxTokens
	}
	return openAIPayload{
		Model:       c.model,
		Messages:    messages,
		Temperature: float64(req.Temperature),
		MaxTokens:   maxTok,
	}, nil
}

func (c *OpenAI) send(ctx context.Context, payload openAIPayload) (Response, error) {
	c.logger.Debug().
		Str("model", c.model).
		Int("messages", len(payload.Messages)).
		Bool("structured", payload.ResponseFormat != nil).
		Int("max_tokens", payload.MaxTokens).
		Msg("OpenAI API request")

	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	data, err := c.poster.post(ctx, c.url, headers, payload, decodeOpenAIError)
	if err != nil {
		return Response{}, err
	}

	var apiResp openAIResponse
	if err := json.Unmarshal(data, &apiResp); err != nil {
		return Response{}, fmt.Errorf("parse response: %w (raw: %s)", err, truncateString(string(data), 500))
	}
	if len(apiResp.Choices) == 0 {
		return Response{}, fmt.Errorf("no choices in response")
	}
	choice := apiResp.Choices[0]
	if choice.Message.Refusal != "" {
		return Response{}, fmt.Errorf("openai refused: %s", choice.Message.Refusal)
	}
	text := choice.Message.Content
	if text == "" {
		return Response{}, fmt.Errorf("empty response content")
	}

	c.logger.Debug().
		Str("finish_reason", choice.FinishReason).
		Int("prompt_tokens", apiResp.Usage.PromptTokens).
		Int("completion_tokens", apiResp.Usage.CompletionTokens).
		Int("total_tokens", apiResp.Usage.TotalTokens).
		Str("response_preview", truncateString(text, 200)).
		Msg("OpenAI API success")

	return Response{Text: text}, nil
}

func decodeOpenAIError(status int, data []byte) (bool, error) {
	var body openAIErrorBody
	if err := json.Unmarshal(data, &body); err != nil || body.Error == nil {
		return true, fmt.Errorf("openai %d: %s", status, truncateString(string(data), 500))
	}
	msg := body.Error.Message
	if msg == "" {
		msg = truncateString(string(data), 500)
	}
	return true, fmt.Errorf("openai %d: %s (type: %s, code: %s)", status, msg, body.Error.Type, body.Error.Code)
}
