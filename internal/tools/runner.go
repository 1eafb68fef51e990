// Package tools maps action steps onto browser controller primitives.
package tools

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/hierarchical-browser-agent/internal/browser"
	"github.com/polzovatel/hierarchical-browser-agent/internal/plan"
)

const (
	maxExtract       = 4000
	defaultWait      = time.Second
	maxWait          = 30 * time.Second
	settleAfterNav   = 5 * time.Second
	settleAfterClick = 2 * time.Second
)

// Outcome is the result of one execution of one step.
type Outcome struct {
	Success      bool
	Error        string
	Data         string
	CanContinue  bool
	SelectorUsed string
	ValueEntered string
	Screenshot   []byte
}

// Runner executes single steps against one page.
type Runner struct {
	ctrl   browser.Controller
	logger zerolog.Logger
}

func New(ctrl browser.Controller, logger zerolog.Logger) *Runner {
	return &Runner{ctrl: ctrl, logger: logger}
}

// ExecuteStep performs step once. Failures are reported in the outcome,
// with CanContinue set from the step type.
func (r *Runner) ExecuteStep(ctx context.Context, step plan.ActionStep) Outcome {
	out, err := r.execute(ctx, step)
	if err != nil {
		out.Success = false
		out.Error = err.Error()
		out.CanContinue = step.Type.CanContinueOnFailure()
		r.logger.Debug().
			Str("type", step.Type.String()).
			Str("selector", step.Target.Selector).
			Err(err).
			Msg("step failed")
		return out
	}
	out.Success = true
	out.CanContinue = true
	return out
}

// CaptureState reads the page with a screenshot. A failed screenshot is not
// an error.
func (r *Runner) CaptureState(ctx context.Context) (*plan.PageState, error) {
	st, err := r.ctrl.State(ctx)
	if err != nil {
		return nil, err
	}
	if shot, err := r.ctrl.Screenshot(ctx); err == nil {
		st.Screenshot = shot
	} else {
		r.logger.Debug().Err(err).Msg("screenshot for page state failed")
	}
	return &st, nil
}

// Info reads url and title only.
func (r *Runner) Info(ctx context.Context) (*plan.PageInfo, error) {
	st, err := r.ctrl.State(ctx)
	if err != nil {
		return nil, err
	}
	return st.Info(), nil
}

func (r *Runner) execute(ctx context.Context, step plan.ActionStep) (Outcome, error) {
	var out Outcome
	sel := sanitizeSelector(step.Target.Selector)

	switch step.Type {
	case plan.ActionNavigate:
		url := navigationURL(step)
		if url == "" {
			return out, errors.New("navigate: no url in value")
		}
		if err := r.ctrl.Navigate(ctx, url); err != nil {
			return out, err
		}
		out.ValueEntered = url
		r.settle(ctx, settleAfterNav)

	case plan.ActionClick:
		switch {
		case sel != "":
			if err := r.ctrl.Click(ctx, sel); err != nil {
				return out, err
			}
			out.SelectorUsed = sel
		case step.Target.Coordinates != nil:
			c := step.Target.Coordinates
			if err := r.ctrl.ClickByCoordinates(ctx, c.X, c.Y); err != nil {
				return out, err
			}
		case strings.TrimSpace(step.Target.Description) != "":
			if err := r.ctrl.ClickText(ctx, step.Target.Description, false); err != nil {
				return out, err
			}
		default:
			return out, errors.New("click: no selector, coordinates or target text")
		}
		r.settle(ctx, settleAfterClick)

	case plan.ActionTypeText, plan.ActionFill:
		if sel == "" {
			return out, fmt.Errorf("%s: selector is invalid or empty after sanitization", strings.ToLower(step.Type.String()))
		}
		var err error
		if step.Type == plan.ActionFill {
			err = r.ctrl.Fill(ctx, sel, step.Value)
		} else {
			err = r.ctrl.Type(ctx, sel, step.Value)
		}
		if err != nil {
			return out, err
		}
		out.SelectorUsed = sel
		out.ValueEntered = step.Value

	case plan.ActionScroll:
		dir, dist := scrollArgs(step.Value)
		moved, err := r.ctrl.Scroll(ctx, dir, dist)
		if err != nil {
			return out, err
		}
		out.Data = fmt.Sprintf("scrolled %s %d", dir, moved)

	case plan.ActionWait:
		d := waitDuration(step.Value)
		if sel != "" {
			if err := r.ctrl.WaitFor(ctx, sel, d); err != nil {
				return out, err
			}
			out.SelectorUsed = sel
			break
		}
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-time.After(d):
		}

	case plan.ActionExtract:
		text, err := r.ctrl.Read(ctx, sel)
		if err != nil {
			return out, err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return out, fmt.Errorf("extract: no text at %q", sel)
		}
		out.Data = truncate(text, maxExtract)
		out.SelectorUsed = sel

	case plan.ActionVerify:
		if sel != "" && step.Value == "" {
			if err := r.ctrl.WaitFor(ctx, sel, 0); err != nil {
				return out, fmt.Errorf("verification failed: %w", err)
			}
			out.SelectorUsed = sel
			break
		}
		text, err := r.ctrl.Read(ctx, sel)
		if err != nil {
			return out, err
		}
		if !strings.Contains(strings.ToLower(text), strings.ToLower(strings.TrimSpace(step.Value))) {
			return out, fmt.Errorf("verification failed: %q not found", step.Value)
		}
		out.SelectorUsed = sel
		out.Data = truncate(strings.TrimSpace(text), 200)

	case plan.ActionScreenshot:
		shot, err := r.ctrl.Screenshot(ctx)
		if err != nil {
			return out, err
		}
		out.Screenshot = shot
		out.Data = fmt.Sprintf("screenshot (%d bytes)", len(shot))

	default:
		return out, &plan.UnsupportedActionTypeError{Type: step.Type.String()}
	}
	return out, nil
}

func (r *Runner) settle(ctx context.Context, timeout time.Duration) {
	if err := r.ctrl.WaitForStableDOM(ctx, timeout); err != nil {
		r.logger.Debug().Err(err).Msg("wait for stable DOM")
	}
}

// navigationURL reads the url from the value, or from the selector slot when
// the model put it there.
func navigationURL(step plan.ActionStep) string {
	u := strings.TrimSpace(step.Value)
	if u == "" {
		u = strings.TrimSpace(step.Target.Selector)
	}
	if u == "" || strings.ContainsAny(u, " \t\n") {
		return ""
	}
	if strings.Contains(u, "://") || strings.HasPrefix(u, "about:") || strings.HasPrefix(u, "data:") {
		return u
	}
	if strings.Contains(u, ".") || strings.HasPrefix(u, "localhost") {
		return "https://" + u
	}
	return ""
}

// scrollArgs accepts "down", "up 300", "500" or "".
func scrollArgs(value string) (string, int) {
	dir, dist := "down", 0
	for _, f := range strings.Fields(strings.ToLower(value)) {
		if n, err := strconv.Atoi(strings.TrimSuffix(f, "px")); err == nil {
			if n < 0 {
				dir, n = "up", -n
			}
			dist = n
			continue
		}
		dir = f
	}
	return dir, dist
}

// waitDuration accepts Go durations ("2s") or plain milliseconds.
func waitDuration(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultWait
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		ms, convErr := strconv.Atoi(value)
		if convErr != nil {
			return defaultWait
		}
		d = time.Duration(ms) * time.Millisecond
	}
	if d <= 0 {
		return defaultWait
	}
	if d > maxWait {
		return maxWait
	}
	return d
}

// sanitizeSelector cleans a model-written CSS selector: whitespace runs are
// collapsed and overlong aria-label substring values are cut.
func sanitizeSelector(sel string) string {
	sel = strings.Join(strings.Fields(sel), " ")
	if sel == "" {
		return ""
	}
	const marker = "aria-label*="
	if i := strings.Index(sel, marker); i >= 0 {
		rest := sel[i+len(marker):]
		if end := strings.Index(rest, "]"); end > 0 {
			value := rest[:end]
			if len(value) > 50 {
				quote := value[:1]
				value = value[:50]
				if (quote == `"` || quote == `'`) && !strings.HasSuffix(value, quote) {
					value += quote
				}
			}
			sel = sel[:i+len(marker)] + value + rest[end:]
		}
	}
	return sel
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
