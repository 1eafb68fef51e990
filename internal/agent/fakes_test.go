package agent

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/polzovatel/hierarchical-browser-agent/internal/llm"
	"github.com/polzovatel/hierarchical-browser-agent/internal/plan"
	"github.com/polzovatel/hierarchical-browser-agent/internal/tools"
)

// scriptedLLM answers free-text calls with reply.
type scriptedLLM struct {
	mu    sync.Mutex
	reply func(req llm.Request) (string, error)
	calls []llm.Request
}

func (s *scriptedLLM) Name() string { return "scripted" }

func (s *scriptedLLM) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	reply := s.reply
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return llm.Response{}, err
	}
	if reply == nil {
		return llm.Response{}, errors.New("no reply scripted")
	}
	text, err := reply(req)
	return llm.Response{Text: text}, err
}

func (s *scriptedLLM) Calls() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Request(nil), s.calls...)
}

func (s *scriptedLLM) callsWith(system string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.System == system {
			n++
		}
	}
	return n
}

// structuredLLM also supports schema-constrained calls.
type structuredLLM struct {
	scriptedLLM
	structured func(req llm.Request, schema llm.Schema) (string, error)
	schemas    []string
}

func (s *structuredLLM) GenerateStructured(ctx context.Context, req llm.Request, schema llm.Schema) (llm.Response, error) {
	s.mu.Lock()
	s.schemas = append(s.schemas, schema.Name)
	fn := s.structured
	s.mu.Unlock()
	text, err := fn(req, schema)
	return llm.Response{Text: text}, err
}

func prompt(req llm.Request) string {
	if len(req.Messages) == 0 {
		return ""
	}
	return req.Messages[len(req.Messages)-1].Content
}

// fakePage is a scripted page. exec decides each step's outcome; by
// default every step succeeds.
type fakePage struct {
	mu         sync.Mutex
	url        string
	title      string
	content    string
	exec       func(step plan.ActionStep) tools.Outcome
	executed   []plan.ActionStep
	captureErr error
	captures   int
}

func newFakePage() *fakePage {
	return &fakePage{
		url:     "https://app.test/login",
		title:   "Login",
		content: `<html><head><title>Login</title></head><body><form id="auth"><input name="email" placeholder="Email"><button type="submit" id="sign-in">Sign in</button></form></body></html>`,
	}
}

func (p *fakePage) ExecuteStep(ctx context.Context, step plan.ActionStep) tools.Outcome {
	p.mu.Lock()
	p.executed = append(p.executed, step)
	exec := p.exec
	p.mu.Unlock()
	if exec == nil {
		return succeed(step)
	}
	return exec(step)
}

func (p *fakePage) CaptureState(ctx context.Context) (*plan.PageState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.captures++
	if p.captureErr != nil {
		return nil, p.captureErr
	}
	return &plan.PageState{URL: p.url, Title: p.title, Content: p.content, Viewport: plan.Viewport{Width: 1280, Height: 800}}, nil
}

func (p *fakePage) Info(ctx context.Context) (*plan.PageInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &plan.PageInfo{URL: p.url, Title: p.title}, nil
}

func (p *fakePage) setURL(u string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = u
}

func (p *fakePage) Executed() []plan.ActionStep {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]plan.ActionStep(nil), p.executed...)
}

func (p *fakePage) selectors() []string {
	var out []string
	for _, s := range p.Executed() {
		out = append(out, s.Target.Selector)
	}
	return out
}

func succeed(step plan.ActionStep) tools.Outcome {
	return tools.Outcome{Success: true, CanContinue: true, SelectorUsed: step.Target.Selector, ValueEntered: step.Value}
}

func failed(step plan.ActionStep, msg string) tools.Outcome {
	return tools.Outcome{Error: msg, CanContinue: step.Type.CanContinueOnFailure()}
}

// failSelectors fails steps whose selector contains any of bad.
func failSelectors(bad ...string) func(plan.ActionStep) tools.Outcome {
	return func(step plan.ActionStep) tools.Outcome {
		for _, b := range bad {
			if strings.Contains(step.Target.Selector, b) {
				return failed(step, "element not found: "+step.Target.Selector)
			}
		}
		return succeed(step)
	}
}

type fakeRefiner struct {
	mu    sync.Mutex
	calls int
	fn    func(step plan.ActionStep, failure string) (plan.ActionStep, error)
}

func (f *fakeRefiner) RefineStep(ctx context.Context, step plan.ActionStep, failure string, page *plan.PageState) (plan.ActionStep, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(step, failure)
}

type fakeRegen struct {
	steps []plan.ActionStep
	err   error
	panic bool
	calls int
}

func (f *fakeRegen) RegenerateRemaining(ctx context.Context, sp *plan.SubPlan, remaining []plan.ActionStep, failure string, page *plan.PageState) ([]plan.ActionStep, error) {
	f.calls++
	if f.panic {
		panic("regen exploded")
	}
	return f.steps, f.err
}

func mkStep(id string, t plan.ActionType, sel string) plan.ActionStep {
	return plan.ActionStep{ID: id, Type: t, Description: strings.ToLower(string(t)) + " " + sel, Target: plan.Target{Selector: sel}}
}
