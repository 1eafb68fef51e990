package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/polzovatel/hierarchical-browser-agent/internal/plan"
)

const decomposeSystemPrompt = `You split browser automation tasks into sub-objectives.
RULES:
1. Respond with a SINGLE JSON object and NOTHING else:
   {"subObjectives": ["..."], "strategy": "sequential", "reasoning": "..."}
2. Non-trivial tasks MUST have at least 2 sub-objectives. A single atomic action may have 1.
3. Each sub-objective is one self-contained goal a browser user can finish on its own (open a site, log in, search, fill a form, read a value).
4. Keep the order in which a user would do them. Later sub-objectives may rely on earlier ones.
5. strategy is always "sequential".`

const stepsSystemPrompt = `You are a precise browser automation planner. You turn ONE objective into concrete browser steps.
RULES:
1. Respond with a SINGLE JSON object and NOTHING else:
   {"steps": [{"type": "...", "description": "...", "target": {"selector": "...", "description": "..."}, "value": "..."}], "reasoning": "..."}
2. type is one of: NAVIGATE, CLICK, TYPE, FILL, SCROLL, WAIT, EXTRACT, VERIFY, SCREENSHOT.
3. Every step needs a short description.
4. Prefer selectors from the page structure you are given (ids, name attributes, data-testid, aria-label). Never invent ids that are not on the page.
5. NAVIGATE puts the full URL in value. TYPE and FILL put the text in value. VERIFY puts the expected text in value.
6. SCROLL value is "up" or "down", optionally with a pixel distance. WAIT value is milliseconds, or target a selector to wait for.
7. Only plan what this objective needs. Other objectives are handled separately.
8. Keep reasoning to one or two sentences.`

const refineSystemPrompt = `You repair ONE failed browser step.
RULES:
1. Respond with a SINGLE JSON object and NOTHING else:
   {"steps": [{"type": "<same type>", "description": "...", "target": {"selector": "...", "description": "..."}, "value": "..."}], "reasoning": "..."}
2. Return exactly one step with the same type as the failed step.
3. Pick a selector that exists on the current page. Do not repeat a selector that already failed.
4. Keep the value unless the failure shows it was wrong.`

const adaptSystemPrompt = `You re-plan the rest of a browser task after a step failed.
RULES:
1. Respond with a SINGLE JSON object and NOTHING else:
   {"steps": [...], "reasoning": "..."}
2. Steps use the same format as before: type, description, target {selector, description}, value.
3. Plan only the steps still needed to reach the objective from the CURRENT page. Steps already executed must not be repeated.
4. Use selectors that exist on the current page.`

type subPlanPrompt struct {
	req    SubPlanRequest
	digest string
	recent string
}

func (p subPlanPrompt) String() string {
	var b strings.Builder
	r := p.req
	fmt.Fprintf(&b, "OBJECTIVE (%d of %d): %s\n", r.Index+1, max(r.Total, 1), r.Objective)
	if r.Instruction != "" && r.Instruction != r.Objective {
		fmt.Fprintf(&b, "FULL TASK: %s\n", r.Instruction)
	}
	writeTask(&b, r.Task)
	writePage(&b, r.Page, p.digest)
	if p.recent != "" {
		b.WriteString("\n")
		b.WriteString(p.recent)
		b.WriteString("\n")
	}
	b.WriteString("\nReturn the steps for this objective only.")
	return b.String()
}

func writeTask(b *strings.Builder, tc plan.TaskContext) {
	if len(tc.Constraints) > 0 {
		b.WriteString("CONSTRAINTS:\n")
		for _, c := range tc.Constraints {
			fmt.Fprintf(b, "- %s\n", c)
		}
	}
	if len(tc.Variables) > 0 {
		raw, _ := json.Marshal(tc.Variables)
		fmt.Fprintf(b, "VARIABLES: %s\n", raw)
	}
	if tc.CurrentState != "" {
		fmt.Fprintf(b, "STATE: %s\n", tc.CurrentState)
	}
}

func writePage(b *strings.Builder, page *plan.PageState, digest string) {
	if page != nil {
		fmt.Fprintf(b, "\nCURRENT PAGE: %s", page.URL)
		if page.Title != "" {
			fmt.Fprintf(b, " (%s)", page.Title)
		}
		b.WriteString("\n")
	}
	if digest != "" {
		b.WriteString("PAGE STRUCTURE:\n")
		b.WriteString(digest)
		b.WriteString("\n")
	}
}

func decomposePrompt(instruction string, page *plan.PageInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "TASK: %s\n", instruction)
	if page != nil && page.URL != "" {
		fmt.Fprintf(&b, "CURRENT PAGE: %s", page.URL)
		if page.Title != "" {
			fmt.Fprintf(&b, " (%s)", page.Title)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func refinePrompt(step plan.ActionStep, failure string, selectors []string, digest string, page *plan.PageState) string {
	var b strings.Builder
	raw, _ := json.Marshal(step)
	fmt.Fprintf(&b, "FAILED STEP: %s\n", raw)
	fmt.Fprintf(&b, "ERROR: %s\n", failure)
	if len(selectors) > 0 {
		fmt.Fprintf(&b, "SELECTORS THAT WORKED EARLIER: %s\n", strings.Join(selectors, ", "))
	}
	writePage(&b, page, digest)
	return b.String()
}

func adaptPrompt(sp *plan.SubPlan, remaining []plan.ActionStep, failure, digest string, page *plan.PageState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "OBJECTIVE: %s\n", sp.Objective)
	if sp.Context.OriginalInstruction != "" && sp.Context.OriginalInstruction != sp.Objective {
		fmt.Fprintf(&b, "FULL TASK: %s\n", sp.Context.OriginalInstruction)
	}
	fmt.Fprintf(&b, "LAST FAILURE: %s\n", failure)
	raw, _ := json.Marshal(remaining)
	fmt.Fprintf(&b, "REMAINING PLANNED STEPS: %s\n", raw)
	writePage(&b, page, digest)
	return b.String()
}
