// Package plan holds the hierarchical plan data model and the pure plan
// assembler shared by the planning and execution layers.
package plan

import (
	"encoding/json"
	"time"
)

// Strategy is the execution strategy tag of a plan. Only sequential
// execution exists; other tags coming from the model are downgraded.
type Strategy string

const StrategySequential Strategy = "sequential"

// ParseStrategy normalizes a strategy tag. ok is false when the tag was not
// sequential and has been downgraded.
func ParseStrategy(s string) (Strategy, bool) {
	switch Strategy(s) {
	case StrategySequential, "":
		return StrategySequential, true
	default:
		return StrategySequential, false
	}
}

// Coordinates is a viewport point used when no selector is available.
type Coordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Target identifies the element a step acts on.
type Target struct {
	Selector    string       `json:"selector,omitempty"`
	Description string       `json:"description,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

// UnmarshalJSON also accepts a bare string, read as a selector.
func (t *Target) UnmarshalJSON(data []byte) error {
	var sel string
	if err := json.Unmarshal(data, &sel); err == nil {
		*t = Target{Selector: sel}
		return nil
	}
	type alias Target
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*t = Target(a)
	return nil
}

// ActionStep is one atomic browser operation.
// Refinement may rewrite Target and Value; Type, ID and Condition are fixed.
type ActionStep struct {
	ID          string     `json:"id"`
	Type        ActionType `json:"type"`
	Description string     `json:"description"`
	Target      Target     `json:"target"`
	Value       string     `json:"value,omitempty"`
	Condition   string     `json:"condition,omitempty"`
}

// GlobalPlan is the decomposition of an instruction into sub-objectives.
type GlobalPlan struct {
	SubObjectives []string `json:"subObjectives"`
	Strategy      Strategy `json:"strategy"`
	Reasoning     string   `json:"reasoning"`
}

// SubPlanContext places a sub-plan inside its parent instruction.
type SubPlanContext struct {
	OriginalInstruction string `json:"originalInstruction"`
	Index               int    `json:"index"`
	Total               int    `json:"total"`
}

// SubPlan realizes one sub-objective as ordered steps.
type SubPlan struct {
	ID                string         `json:"id"`
	Objective         string         `json:"objective"`
	Steps             []ActionStep   `json:"steps"`
	Reasoning         string         `json:"reasoning,omitempty"`
	Priority          int            `json:"priority"`
	Dependencies      []string       `json:"dependencies"`
	EstimatedDuration time.Duration  `json:"estimatedDuration"`
	RefinementLevel   int            `json:"refinementLevel"`
	Context           SubPlanContext `json:"context"`
}

// ExecuteSubPlan is the kind of every top-level plan step.
const ExecuteSubPlan = "EXECUTE_SUB_PLAN"

// PlanStep is a position-tagged pointer from the top plan to a sub-plan.
type PlanStep struct {
	Kind        string   `json:"kind"`
	SubPlanID   string   `json:"subPlanId"`
	Description string   `json:"description"`
	Index       int      `json:"index"`
	Total       int      `json:"total"`
	Strategy    Strategy `json:"strategy"`
}

// TopPlan is the assembled hierarchical plan.
type TopPlan struct {
	ID                     string        `json:"id"`
	Objective              string        `json:"objective"`
	Steps                  []PlanStep    `json:"steps"`
	SubPlans               []*SubPlan    `json:"subPlans"`
	TotalEstimatedDuration time.Duration `json:"totalEstimatedDuration"`
	Strategy               Strategy      `json:"strategy"`
	Reasoning              string        `json:"reasoning,omitempty"`
}

// PageInfo is the light page context given to the decomposer.
type PageInfo struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// PageState is a captured snapshot of the browser page.
type PageState struct {
	URL        string   `json:"url"`
	Title      string   `json:"title"`
	Content    string   `json:"-"`
	Screenshot []byte   `json:"-"`
	Viewport   Viewport `json:"viewport"`
}

// Info drops the heavy fields.
func (s *PageState) Info() *PageInfo {
	if s == nil {
		return nil
	}
	return &PageInfo{URL: s.URL, Title: s.Title}
}

// TaskContext is the caller-supplied execution scope of a plan.
type TaskContext struct {
	Objective    string            `json:"objective"`
	Constraints  []string          `json:"constraints,omitempty"`
	Variables    map[string]string `json:"variables,omitempty"`
	History      []string          `json:"history,omitempty"`
	CurrentState string            `json:"currentState,omitempty"`
	URL          string            `json:"url,omitempty"`
	PageTitle    string            `json:"pageTitle,omitempty"`
}
