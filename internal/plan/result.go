package plan

import "time"

// StepResult records the outcome of one executed step.
type StepResult struct {
	StepID        string     `json:"stepId"`
	Type          ActionType `json:"type"`
	Description   string     `json:"description"`
	Success       bool       `json:"success"`
	Error         string     `json:"error,omitempty"`
	SelectorUsed  string     `json:"selectorUsed,omitempty"`
	ValueEntered  string     `json:"valueEntered,omitempty"`
	ExtractedData string     `json:"extractedData,omitempty"`
	Attempts      int        `json:"attempts"`
	CanContinue   bool       `json:"canContinue"`
	PageBefore    *PageInfo  `json:"pageBefore,omitempty"`
	PageAfter     *PageInfo  `json:"pageAfter,omitempty"`
	At            time.Time  `json:"at"`
}

// SubPlanResult aggregates the step results of one sub-plan run.
type SubPlanResult struct {
	SubPlanID   string        `json:"subPlanId"`
	Objective   string        `json:"objective"`
	Index       int           `json:"index"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	Steps       []StepResult  `json:"steps"`
	Adaptations int           `json:"adaptations"`
	Duration    time.Duration `json:"duration"`
}

// ExecutionResult is the structured top-level outcome. FailedAt is the index
// of the first failed sub-plan, or -1.
type ExecutionResult struct {
	PlanID   string          `json:"planId,omitempty"`
	Success  bool            `json:"success"`
	Results  []SubPlanResult `json:"results"`
	FailedAt int             `json:"failedAt"`
	Error    string          `json:"error,omitempty"`
	Duration time.Duration   `json:"duration"`
}

// Failed reports whether a sub-plan failed.
func (r ExecutionResult) Failed() bool { return r.FailedAt >= 0 }
