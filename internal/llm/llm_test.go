package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/polzovatel/hierarchical-browser-agent/internal/config"
)

func testOptions(url string) Options {
	return Options{APIKey: "test-key", BaseURL: url, Timeout: 5 * time.Second, MaxRetries: 2, RetryBaseDelay: time.Millisecond}
}

type answer struct {
	Steps []string `json:"steps"`
}

func TestAnthropic_Generate(t *testing.T) {
	var got anthropicPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"content":[{"type":"text","text":"hello "},{"type":"text","text":"world"}],"stop_reason":"end_turn"}`)
	}))
	defer srv.Close()

	c, err := NewAnthropic(testOptions(srv.URL), zerolog.Nop())
	require.NoError(t, err)
	resp, err := c.Generate(context.Background(), User("be brief", "hi"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", resp.Text)
	assert.Equal(t, "be brief", got.System)
	assert.Equal(t, anthropicMaxTokens, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hi", got.Messages[0].Content[0].Text)
}

func TestAnthropic_GenerateStructured(t *testing.T) {
	schema := MustSchema("submit_steps", "return steps", answer{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p anthropicPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		if assert.Len(t, p.Tools, 1) && assert.NotNil(t, p.ToolChoice) {
			assert.Equal(t, "submit_steps", p.Tools[0].Name)
			assert.Equal(t, "tool", p.ToolChoice.Type)
			assert.Equal(t, "submit_steps", p.ToolChoice.Name)
		}
		_, _ = io.WriteString(w, `{"content":[{"type":"tool_use","id":"t1","name":"submit_steps","input":{"steps":["a"]}}],"stop_reason":"tool_use"}`)
	}))
	defer srv.Close()

	c, err := NewAnthropic(testOptions(srv.URL), zerolog.Nop())
	require.NoError(t, err)
	resp, err := c.GenerateStructured(context.Background(), User("", "go"), schema)
	require.NoError(t, err)
	assert.JSONEq(t, `{"steps":["a"]}`, resp.Text)
}

func TestAnthropic_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`)
			return
		}
		_, _ = io.WriteString(w, `{"content":[{"type":"text","text":"ok"}]}`)
	}))
	defer srv.Close()

	c, err := NewAnthropic(testOptions(srv.URL), zerolog.Nop())
	require.NoError(t, err)
	resp, err := c.Generate(context.Background(), User("", "hi"))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.EqualValues(t, 3, calls.Load())
}

func TestAnthropic_UsageLimitIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"invalid_request_error","message":"You have reached your API usage limits"}}`)
	}))
	defer srv.Close()

	c, err := NewAnthropic(testOptions(srv.URL), zerolog.Nop())
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), User("", "hi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API usage limit reached")
	assert.EqualValues(t, 1, calls.Load())
}

func TestAnthropic_MissingKey(t *testing.T) {
	_, err := NewAnthropic(Options{}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), envAnthropicKey)
}

func TestOpenAI_GenerateStructured(t *testing.T) {
	schema := MustSchema("steps", "", answer{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var p openAIPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		if assert.Len(t, p.Messages, 2) && assert.NotNil(t, p.ResponseFormat) {
			assert.Equal(t, "system", p.Messages[0].Role)
			assert.Equal(t, "json_schema", p.ResponseFormat.Type)
			assert.Equal(t, "steps", p.ResponseFormat.JSONSchema.Name)
			assert.Contains(t, p.ResponseFormat.JSONSchema.Schema, "properties")
		}
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"{\"steps\":[]}"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	c, err := NewOpenAI(testOptions(srv.URL), zerolog.Nop())
	require.NoError(t, err)
	resp, err := c.GenerateStructured(context.Background(), User("sys", "go"), schema)
	require.NoError(t, err)
	assert.Equal(t, `{"steps":[]}`, resp.Text)
}

func TestOpenAI_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key"}}`)
	}))
	defer srv.Close()

	c, err := NewOpenAI(testOptions(srv.URL), zerolog.Nop())
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), User("", "hi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai 401: bad key")
	assert.EqualValues(t, 1, calls.Load())
}

func TestOpenAI_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	c, err := NewOpenAI(testOptions(srv.URL), zerolog.Nop())
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), User("", "hi"))
	require.Error(t, err)
}

func TestGenerate_NoMessages(t *testing.T) {
	c, err := NewOpenAI(testOptions("http://127.0.0.1:1"), zerolog.Nop())
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), Request{})
	require.Error(t, err)
}

type fakeModel struct {
	lastMsgs []llms.MessageContent
	lastOpts llms.CallOptions
	reply    string
	err      error
}

func (f *fakeModel) GenerateContent(_ context.Context, msgs []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.lastMsgs = msgs
	f.lastOpts = llms.CallOptions{}
	for _, o := range options {
		o(&f.lastOpts)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestLangChain_Structured(t *testing.T) {
	m := &fakeModel{reply: `{"steps":["x"]}`}
	c := NewLangChain(m, "llama", 512, zerolog.Nop())

	resp, err := c.GenerateStructured(context.Background(), User("base", "go"), MustSchema("steps", "", answer{}))
	require.NoError(t, err)
	assert.Equal(t, `{"steps":["x"]}`, resp.Text)
	assert.True(t, m.lastOpts.JSONMode)
	assert.Equal(t, 512, m.lastOpts.MaxTokens)
	require.Len(t, m.lastMsgs, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, m.lastMsgs[0].Role)
	sys := m.lastMsgs[0].Parts[0].(llms.TextContent).Text
	assert.Contains(t, sys, "base")
	assert.Contains(t, sys, `"steps"`)
}

func TestLangChain_Error(t *testing.T) {
	c := NewLangChain(&fakeModel{err: errors.New("connection refused")}, "llama", 0, zerolog.Nop())
	_, err := c.Generate(context.Background(), User("", "hi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

type plainClient struct{ calls int }

func (p *plainClient) Generate(context.Context, Request) (Response, error) {
	p.calls++
	return Response{Text: "ok"}, nil
}
func (p *plainClient) Name() string { return "plain" }

func TestRateLimited(t *testing.T) {
	inner := &plainClient{}
	rl := WithRateLimit(inner, 0.01, 1)

	_, err := rl.Generate(context.Background(), User("", "a"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = rl.Generate(ctx, User("", "b"))
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)

	_, ok := Structured(rl)
	assert.False(t, ok)
	_, err = rl.GenerateStructured(context.Background(), User("", "c"), Schema{})
	assert.ErrorIs(t, err, ErrStructuredUnsupported)
}

func TestStructured_UnwrapsRateLimit(t *testing.T) {
	c, err := NewOpenAI(testOptions("http://127.0.0.1:1"), zerolog.Nop())
	require.NoError(t, err)
	sc, ok := Structured(WithRateLimit(c, 10, 1))
	require.True(t, ok)
	assert.Equal(t, c.Name(), sc.Name())
}

func TestNew_Providers(t *testing.T) {
	t.Setenv(envOpenAIKey, "k")
	cfg := config.Default().LLM
	cfg.Provider = "openai"
	cfg.RequestsPerSecond = 0
	c, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, c)

	cfg.RequestsPerSecond = 1
	c, err = New(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &RateLimited{}, c)

	cfg.Provider = "gemini"
	_, err = New(cfg, zerolog.Nop())
	require.Error(t, err)
}

func TestSchemaFor(t *testing.T) {
	s, err := SchemaFor("steps", "d", &answer{})
	require.NoError(t, err)
	assert.Equal(t, "object", s.Parameters["type"])
	props, ok := s.Parameters["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "steps")
	assert.NotContains(t, s.Parameters, "$schema")
}
