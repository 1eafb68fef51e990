package agent

import (
	"context"
	"regexp"
	"strings"

	"github.com/polzovatel/hierarchical-browser-agent/internal/plan"
	"github.com/polzovatel/hierarchical-browser-agent/internal/snapshot"
)

// RefineContext is what a refinement strategy may look at.
type RefineContext struct {
	Attempt   int
	Failure   string
	Class     ErrorClass
	Selectors []string
	Recent    []plan.StepResult
	Original  plan.ActionStep
}

// RefinementStrategy proposes a replacement for step before an attempt. A
// nil step means "no idea, retry as is". Only Target and Value of the
// returned step are applied.
type RefinementStrategy interface {
	Name() string
	Attempt(ctx context.Context, step plan.ActionStep, rc RefineContext) (*plan.ActionStep, error)
}

// StepRefiner re-derives a step from a fresh page.
type StepRefiner interface {
	RefineStep(ctx context.Context, step plan.ActionStep, failure string, page *plan.PageState) (plan.ActionStep, error)
}

// PageCapturer captures the current page.
type PageCapturer interface {
	CaptureState(ctx context.Context) (*plan.PageState, error)
}

// DefaultLadder is contextual reuse, then selector heuristics, then the
// model.
func DefaultLadder(refiner StepRefiner, page PageCapturer, extractor *snapshot.Extractor) []RefinementStrategy {
	ladder := []RefinementStrategy{
		ContextualReuse{},
		AlternativeSelectors{Page: page, Extractor: extractor},
	}
	if refiner != nil {
		ladder = append(ladder, AIRederivation{Refiner: refiner, Page: page})
	}
	return ladder
}

// ContextualReuse swaps in a selector that already worked in this plan when
// it matches the step's description or selector closely enough.
type ContextualReuse struct{}

func (ContextualReuse) Name() string { return "contextual_reuse" }

func (ContextualReuse) Attempt(_ context.Context, step plan.ActionStep, rc RefineContext) (*plan.ActionStep, error) {
	if !step.Type.UsesSelector() || len(rc.Selectors) == 0 {
		return nil, nil
	}
	current := strings.TrimSpace(step.Target.Selector)
	want := tokenSet(current + " " + step.Description + " " + step.Target.Description)
	if len(want) == 0 {
		return nil, nil
	}
	minScore := 1
	if current != "" {
		minScore = 2
	}

	best, bestScore := "", 0
	for _, sel := range rc.Selectors {
		if sel == current {
			return nil, nil
		}
		score := 0
		for tok := range tokenSet(sel) {
			if _, ok := want[tok]; ok {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = sel, score
		}
	}
	if bestScore < minScore {
		return nil, nil
	}
	out := step
	out.Target.Selector = best
	return &out, nil
}

var (
	structuralPseudo = strings.NewReplacer(
		":first-child", ":first-of-type",
		":last-child", ":last-of-type",
		":nth-child(", ":nth-of-type(",
		":nth-last-child(", ":nth-last-of-type(",
	)
	classToken = regexp.MustCompile(`\.(-?[_a-zA-Z][_a-zA-Z0-9-]*)`)
	idToken    = regexp.MustCompile(`#(-?[_a-zA-Z][_a-zA-Z0-9-]*)`)
	exactAttr  = regexp.MustCompile(`\[([a-zA-Z_:][-a-zA-Z0-9_:.]*)=(["'])`)
)

// AlternativeSelectors rewrites a failed selector with fixed heuristics and
// no model call: structural pseudo-classes become type-based ones, class,
// id and exact attribute matches become substring matches. When nothing
// applies it looks for an element on the current page whose text matches
// the target description, and for clicks finally falls back to clicking by
// text.
type AlternativeSelectors struct {
	Page      PageCapturer
	Extractor *snapshot.Extractor
}

func (AlternativeSelectors) Name() string { return "alternative_selectors" }

func (a AlternativeSelectors) Attempt(ctx context.Context, step plan.ActionStep, rc RefineContext) (*plan.ActionStep, error) {
	sel := strings.TrimSpace(step.Target.Selector)
	if sel != "" {
		if alt := AlternativeSelector(sel); alt != sel {
			out := step
			out.Target.Selector = alt
			return &out, nil
		}
	}

	if alt := a.similarElement(ctx, step); alt != "" && alt != sel {
		out := step
		out.Target.Selector = alt
		return &out, nil
	}

	if step.Type == plan.ActionClick && sel != "" && strings.TrimSpace(step.Target.Description) != "" {
		out := step
		out.Target.Selector = ""
		out.Target.Coordinates = nil
		return &out, nil
	}
	return nil, nil
}

// AlternativeSelector applies the first heuristic that changes sel.
// Attribute values and quoted text are left alone, as are text and xpath
// selectors.
func AlternativeSelector(sel string) string {
	if nonCSSSelector(sel) {
		return sel
	}
	if alt := structuralPseudo.Replace(sel); alt != sel {
		return alt
	}
	var b strings.Builder
	for _, seg := range splitProtected(sel) {
		switch seg[0] {
		case '[':
			b.WriteString(exactAttr.ReplaceAllString(seg, `[$1*=$2`))
		case '"', '\'':
			b.WriteString(seg)
		default:
			seg = classToken.ReplaceAllString(seg, `[class*="$1"]`)
			b.WriteString(idToken.ReplaceAllString(seg, `[id*="$1"]`))
		}
	}
	return b.String()
}

func nonCSSSelector(sel string) bool {
	lower := strings.ToLower(sel)
	for _, prefix := range []string{"text=", "xpath=", "//", "("} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// splitProtected cuts sel into attribute blocks, quoted strings and the
// text between them.
func splitProtected(sel string) []string {
	var (
		parts []string
		start int
		depth int
		quote rune
	)
	flush := func(end int) {
		if end > start {
			parts = append(parts, sel[start:end])
		}
		start = end
	}
	for i, r := range sel {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				if depth == 0 {
					flush(i + 1)
				}
			}
		case r == '"' || r == '\'':
			if depth == 0 {
				flush(i)
			}
			quote = r
		case r == '[':
			if depth == 0 {
				flush(i)
			}
			depth++
		case r == ']' && depth > 0:
			depth--
			if depth == 0 {
				flush(i + 1)
			}
		}
	}
	flush(len(sel))
	return parts
}

func (a AlternativeSelectors) similarElement(ctx context.Context, step plan.ActionStep) string {
	text := strings.ToLower(strings.TrimSpace(step.Target.Description))
	if text == "" {
		text = strings.ToLower(strings.TrimSpace(step.Description))
	}
	if a.Page == nil || a.Extractor == nil || text == "" || !step.Type.UsesSelector() {
		return ""
	}
	page, err := a.Page.CaptureState(ctx)
	if err != nil || page == nil || page.Content == "" {
		return ""
	}
	summary, err := a.Extractor.Extract(page.Content, page.URL)
	if err != nil {
		return ""
	}
	candidates := summary.Elements
	for _, f := range summary.Forms {
		candidates = append(candidates, f.Fields...)
	}
	want := tokenSet(text)
	best, bestScore := "", 0
	for _, el := range candidates {
		if el.Sel == "" {
			continue
		}
		label := strings.ToLower(el.Text + " " + el.Attr)
		score := 0
		if el.Text != "" && strings.Contains(text, strings.ToLower(el.Text)) {
			score += 3
		}
		for tok := range tokenSet(label) {
			if _, ok := want[tok]; ok {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = el.Sel, score
		}
	}
	if bestScore < 2 {
		return ""
	}
	return best
}

// AIRederivation asks the model for a new target using a fresh page.
type AIRederivation struct {
	Refiner StepRefiner
	Page    PageCapturer
}

func (AIRederivation) Name() string { return "ai_rederivation" }

func (a AIRederivation) Attempt(ctx context.Context, step plan.ActionStep, rc RefineContext) (*plan.ActionStep, error) {
	var page *plan.PageState
	if a.Page != nil {
		if p, err := a.Page.CaptureState(ctx); err == nil {
			page = p
		}
	}
	refined, err := a.Refiner.RefineStep(ctx, step, rc.Failure, page)
	if err != nil {
		return nil, err
	}
	return &refined, nil
}

var tokenSplit = regexp.MustCompile(`[^a-z0-9]+`)

var stopTokens = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "to": {}, "of": {}, "on": {}, "in": {}, "and": {},
	"div": {}, "span": {}, "class": {}, "id": {}, "name": {}, "type": {}, "first": {},
	"child": {}, "nth": {}, "click": {}, "button": {}, "input": {},
}

func tokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, t := range tokenSplit.Split(strings.ToLower(s), -1) {
		if len(t) < 2 {
			continue
		}
		if _, stop := stopTokens[t]; stop {
			continue
		}
		out[t] = struct{}{}
	}
	return out
}
