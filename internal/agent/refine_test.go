package agent

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/hierarchical-browser-agent/internal/plan"
	"github.com/polzovatel/hierarchical-browser-agent/internal/snapshot"
)

func TestAlternativeSelector(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"ul li:first-child a", "ul li:first-of-type a"},
		{"tr:nth-child(2) td:last-child", "tr:nth-of-type(2) td:last-of-type"},
		{"button.btn.btn-primary", `button[class*="btn"][class*="btn-primary"]`},
		{"#login", `[id*="login"]`},
		{`input[name="email"]`, `input[name*="email"]`},
		{`a[href="https://x.test/a.b#c"]`, `a[href*="https://x.test/a.b#c"]`},
		{`[id*="login"]`, `[id*="login"]`},
		{"button", "button"},
		{`text="Sign in.now"`, `text="Sign in.now"`},
		{`xpath=//div[@id='a.b']`, `xpath=//div[@id='a.b']`},
		{`button:has-text("Sign in.now")`, `button:has-text("Sign in.now")`},
		{`.menu a:has-text('Log.in #1')`, `[class*="menu"] a:has-text('Log.in #1')`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, AlternativeSelector(tt.in))
		})
	}
}

func TestContextualReuse(t *testing.T) {
	s := ContextualReuse{}
	ctx := t.Context()

	t.Run("fills missing selector", func(t *testing.T) {
		step := plan.ActionStep{ID: "s", Type: plan.ActionClick, Description: "press the checkout button"}
		got, err := s.Attempt(ctx, step, RefineContext{Selectors: []string{"#search", "#checkout"}})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "#checkout", got.Target.Selector)
	})
	t.Run("replaces only on strong match", func(t *testing.T) {
		step := plan.ActionStep{Type: plan.ActionFill, Description: "type email address", Target: plan.Target{Selector: "#mail"}}
		got, _ := s.Attempt(ctx, step, RefineContext{Selectors: []string{`input[name="email-address"]`}})
		require.NotNil(t, got)
		assert.Equal(t, `input[name="email-address"]`, got.Target.Selector)

		weak := plan.ActionStep{Type: plan.ActionFill, Description: "type password", Target: plan.Target{Selector: "#pw"}}
		got, _ = s.Attempt(ctx, weak, RefineContext{Selectors: []string{`input[name="email-address"]`}})
		assert.Nil(t, got)
	})
	t.Run("nothing to reuse", func(t *testing.T) {
		got, _ := s.Attempt(ctx, mkStep("s", plan.ActionClick, "#login"), RefineContext{})
		assert.Nil(t, got)
		got, _ = s.Attempt(ctx, plan.ActionStep{Type: plan.ActionNavigate, Value: "x.test"}, RefineContext{Selectors: []string{"#a"}})
		assert.Nil(t, got)
	})
	t.Run("selector already known", func(t *testing.T) {
		got, _ := s.Attempt(ctx, mkStep("s", plan.ActionClick, "#checkout"), RefineContext{Selectors: []string{"#checkout"}})
		assert.Nil(t, got)
	})
}

func TestAlternativeSelectors_FindsElementOnPage(t *testing.T) {
	page := newFakePage()
	a := AlternativeSelectors{Page: page, Extractor: snapshot.NewExtractor(0, zerolog.Nop())}
	step := plan.ActionStep{Type: plan.ActionClick, Description: "press sign in", Target: plan.Target{Selector: `[id*="submit"]`, Description: "Sign in"}}

	got, err := a.Attempt(t.Context(), step, RefineContext{})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "#sign-in", got.Target.Selector)
}

func TestAlternativeSelectors_ClickByTextLast(t *testing.T) {
	step := plan.ActionStep{Type: plan.ActionClick, Target: plan.Target{Selector: `[id*="x"]`, Description: "Continue"}}

	got, err := AlternativeSelectors{}.Attempt(t.Context(), step, RefineContext{})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.Target.Selector)
	assert.Equal(t, "Continue", got.Target.Description)

	none, _ := AlternativeSelectors{}.Attempt(t.Context(), plan.ActionStep{Type: plan.ActionFill, Target: plan.Target{Selector: "input"}}, RefineContext{})
	assert.Nil(t, none)
}

func TestAIRederivation(t *testing.T) {
	page := newFakePage()
	refiner := &fakeRefiner{fn: func(step plan.ActionStep, failure string) (plan.ActionStep, error) {
		assert.Equal(t, "element not found", failure)
		step.Target.Selector = "#sign-in"
		return step, nil
	}}
	got, err := AIRederivation{Refiner: refiner, Page: page}.Attempt(t.Context(), mkStep("s", plan.ActionClick, "#login"), RefineContext{Failure: "element not found"})
	require.NoError(t, err)
	assert.Equal(t, "#sign-in", got.Target.Selector)
	assert.Equal(t, 1, page.captures)
}

func TestDefaultLadder(t *testing.T) {
	ladder := DefaultLadder(&fakeRefiner{}, newFakePage(), nil)
	names := make([]string, 0, len(ladder))
	for _, s := range ladder {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"contextual_reuse", "alternative_selectors", "ai_rederivation"}, names)
	assert.Len(t, DefaultLadder(nil, nil, nil), 2)
}

func TestClassifyError(t *testing.T) {
	tests := map[string]ErrorClass{
		"playwright: Unexpected token \"}\" while parsing selector":            ErrSelectorParse,
		"Execution context was destroyed, most likely because of a navigation": ErrContextDestroyed,
		"playwright: timeout 10000ms exceeded":                                 ErrTimeout,
		"element not found: #a":                                                ErrElementNotFound,
		"element is not interactable":                                          ErrNotInteractable,
		"element is detached from the DOM":                                     ErrStaleElement,
		"net::ERR_CONNECTION_RESET":                                            ErrNetwork,
		`unsupported action type "HOVER"`:                                      ErrUnsupportedAction,
		"something odd":                                                        ErrUnknown,
	}
	for msg, want := range tests {
		assert.Equal(t, want, classifyError(msg), msg)
	}
}
