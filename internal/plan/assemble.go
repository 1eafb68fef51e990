package plan

import "time"

var stepEstimates = map[ActionType]time.Duration{
	ActionNavigate:   3 * time.Second,
	ActionClick:      time.Second,
	ActionTypeText:   1500 * time.Millisecond,
	ActionFill:       1500 * time.Millisecond,
	ActionScroll:     500 * time.Millisecond,
	ActionWait:       2 * time.Second,
	ActionExtract:    time.Second,
	ActionVerify:     time.Second,
	ActionScreenshot: time.Second,
}

// EstimateDuration sums per-type estimates for steps.
func EstimateDuration(steps []ActionStep) time.Duration {
	var total time.Duration
	for _, s := range steps {
		d, ok := stepEstimates[s.Type]
		if !ok {
			d = time.Second
		}
		total += d
	}
	return total
}

// Assemble builds the top-level plan: one EXECUTE_SUB_PLAN pointer per
// sub-plan, in order, and the summed duration. Nil entries are dropped. It
// performs no I/O and keeps no state, so equal inputs give equal plans.
func Assemble(id, objective string, subPlans []*SubPlan, strategy Strategy) *TopPlan {
	if strategy == "" {
		strategy = StrategySequential
	}
	kept := make([]*SubPlan, 0, len(subPlans))
	for _, sp := range subPlans {
		if sp != nil {
			kept = append(kept, sp)
		}
	}
	total := len(kept)
	top := &TopPlan{
		ID:        id,
		Objective: objective,
		Steps:     make([]PlanStep, 0, total),
		SubPlans:  kept,
		Strategy:  strategy,
	}
	for i, sp := range kept {
		top.Steps = append(top.Steps, PlanStep{
			Kind:        ExecuteSubPlan,
			SubPlanID:   sp.ID,
			Description: sp.Objective,
			Index:       i,
			Total:       total,
			Strategy:    strategy,
		})
		top.TotalEstimatedDuration += sp.EstimatedDuration
	}
	return top
}
