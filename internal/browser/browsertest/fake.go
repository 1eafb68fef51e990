// Package browsertest provides an in-memory browser.Controller for tests.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/polzovatel/hierarchical-browser-agent/internal/browser"
	"github.com/polzovatel/hierarchical-browser-agent/internal/plan"
)

var _ browser.Controller = (*Fake)(nil)

// Call is one recorded controller invocation.
type Call struct {
	Op    string
	Arg   string
	Value string
}

// Fake is a scripted page. Selectors act on success unless listed in Broken
// or still owed failures in FailTimes. Clicking a selector listed in Links
// moves the page to that URL.
type Fake struct {
	mu sync.Mutex

	URL     string
	Title   string
	Content string

	Texts     map[string]string
	Links     map[string]string
	Broken    map[string]error
	FailTimes map[string]int

	NavigateErr error
	StateErr    error
	Shot        []byte

	calls []Call
}

func New(url, title, content string) *Fake {
	return &Fake{
		URL:       url,
		Title:     title,
		Content:   content,
		Texts:     map[string]string{},
		Links:     map[string]string{},
		Broken:    map[string]error{},
		FailTimes: map[string]int{},
		Shot:      []byte{0xff, 0xd8, 0xff},
	}
}

// Calls returns a copy of the recorded invocations.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsOf filters recorded calls by operation.
func (f *Fake) CallsOf(op string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) record(op, arg, value string) {
	f.calls = append(f.calls, Call{Op: op, Arg: arg, Value: value})
}

// check must be called with mu held.
func (f *Fake) check(sel string) error {
	if err, ok := f.Broken[sel]; ok {
		if err == nil {
			err = fmt.Errorf("element not found: %s", sel)
		}
		return err
	}
	if n := f.FailTimes[sel]; n > 0 {
		f.FailTimes[sel] = n - 1
		return fmt.Errorf("timeout waiting for selector %s", sel)
	}
	return nil
}

func (f *Fake) Close(context.Context) error { return nil }

func (f *Fake) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("navigate", url, "")
	if f.NavigateErr != nil {
		return f.NavigateErr
	}
	f.URL = url
	return nil
}

func (f *Fake) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("click", selector, "")
	if err := f.check(selector); err != nil {
		return err
	}
	if to, ok := f.Links[selector]; ok {
		f.URL = to
	}
	return nil
}

func (f *Fake) ClickText(ctx context.Context, text string, exact bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("click_text", text, "")
	if !strings.Contains(strings.ToLower(f.Content), strings.ToLower(text)) {
		return fmt.Errorf("no element with text %q", text)
	}
	return nil
}

func (f *Fake) ClickByCoordinates(ctx context.Context, x, y float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("click_xy", fmt.Sprintf("%.0f,%.0f", x, y), "")
	return nil
}

func (f *Fake) Fill(ctx context.Context, selector, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("fill", selector, text)
	return f.check(selector)
}

func (f *Fake) Type(ctx context.Context, selector, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("type", selector, text)
	return f.check(selector)
}

func (f *Fake) Read(ctx context.Context, selector string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("read", selector, "")
	if selector == "" || selector == "body" {
		return f.Content, nil
	}
	if err := f.check(selector); err != nil {
		return "", err
	}
	if t, ok := f.Texts[selector]; ok {
		return t, nil
	}
	return "", fmt.Errorf("element not found: %s", selector)
}

func (f *Fake) Scroll(ctx context.Context, direction string, distance int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("scroll", direction, fmt.Sprint(distance))
	if distance == 0 {
		distance = 600
	}
	return distance, nil
}

func (f *Fake) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("wait_for", selector, "")
	return f.check(selector)
}

func (f *Fake) WaitForStableDOM(ctx context.Context, timeout time.Duration) error { return nil }

func (f *Fake) Screenshot(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("screenshot", "", "")
	return append([]byte(nil), f.Shot...), nil
}

func (f *Fake) State(ctx context.Context) (plan.PageState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StateErr != nil {
		return plan.PageState{}, f.StateErr
	}
	return plan.PageState{
		URL:      f.URL,
		Title:    f.Title,
		Content:  f.Content,
		Viewport: plan.Viewport{Width: 1280, Height: 800},
	}, nil
}

func (f *Fake) SaveState(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("save_state", path, "")
	return nil
}
