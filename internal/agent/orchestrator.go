package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/hierarchical-browser-agent/internal/observe"
	"github.com/polzovatel/hierarchical-browser-agent/internal/plan"
)

// SubPlanExecutor runs one sub-plan to completion.
type SubPlanExecutor interface {
	Run(ctx context.Context, sp *plan.SubPlan, tc plan.TaskContext) plan.SubPlanResult
}

// Orchestrator walks a plan's sub-plans in order and stops at the first
// failure, whatever strategy the plan declares.
type Orchestrator struct {
	exec     SubPlanExecutor
	observer observe.Observer
	logger   zerolog.Logger
}

func NewOrchestrator(exec SubPlanExecutor, observer observe.Observer, logger zerolog.Logger) *Orchestrator {
	if observer == nil {
		observer = observe.Nop()
	}
	return &Orchestrator{exec: exec, observer: observer, logger: logger}
}

func (o *Orchestrator) Execute(ctx context.Context, top *plan.TopPlan, tc plan.TaskContext) plan.ExecutionResult {
	start := time.Now()
	res := plan.ExecutionResult{Success: true, FailedAt: -1}
	if top == nil {
		res.Success = false
		res.Error = "no plan to execute"
		return res
	}
	res.PlanID = top.ID
	if top.Strategy != "" && top.Strategy != plan.StrategySequential {
		o.logger.Warn().Str("strategy", string(top.Strategy)).Msg("only sequential execution is supported")
	}
	total := len(top.SubPlans)

	for i, sp := range top.SubPlans {
		if sp == nil {
			res.Success = false
			res.FailedAt = i
			res.Error = fmt.Sprintf("sub-plan %d/%d is missing", i+1, total)
			res.Results = append(res.Results, plan.SubPlanResult{Index: i, Error: "sub-plan is missing"})
			o.logger.Warn().Int("index", i+1).Msg("nil sub-plan, stopping")
			break
		}
		notify(o.observer, o.logger, observe.Event{
			Kind:        observe.SubPlanStart,
			PlanID:      top.ID,
			SubPlanID:   sp.ID,
			Description: sp.Objective,
			Index:       i,
			Total:       total,
		})
		o.logger.Info().Int("index", i+1).Int("total", total).Str("objective", sp.Objective).Msg("sub-plan started")

		r := o.run(ctx, sp, tc)
		r.Index = i
		res.Results = append(res.Results, r)

		notify(o.observer, o.logger, observe.Event{
			Kind:        observe.SubPlanComplete,
			PlanID:      top.ID,
			SubPlanID:   sp.ID,
			Description: sp.Objective,
			Index:       i,
			Total:       total,
			Success:     r.Success,
			Error:       r.Error,
			Duration:    r.Duration,
		})

		if !r.Success {
			res.Success = false
			res.FailedAt = i
			res.Error = fmt.Sprintf("sub-plan %d/%d %q failed: %s", i+1, total, sp.Objective, r.Error)
			o.logger.Warn().Int("index", i+1).Str("error", r.Error).Msg("sub-plan failed, stopping")
			break
		}
		o.logger.Info().Int("index", i+1).Dur("took", r.Duration).Msg("sub-plan completed")
	}

	res.Duration = time.Since(start)
	return res
}

func (o *Orchestrator) run(ctx context.Context, sp *plan.SubPlan, tc plan.TaskContext) (r plan.SubPlanResult) {
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error().Interface("panic", p).Str("sub_plan", sp.ID).Msg("sub-plan executor panicked")
			r = plan.SubPlanResult{
				SubPlanID: sp.ID,
				Objective: sp.Objective,
				Error:     fmt.Sprintf("sub-plan executor panicked: %v", p),
			}
		}
	}()
	return o.exec.Run(ctx, sp, tc)
}

// notify delivers e without letting an observer panic escape.
func notify(obs observe.Observer, logger zerolog.Logger, e observe.Event) {
	e.At = time.Now()
	defer func() {
		if p := recover(); p != nil {
			logger.Error().Interface("panic", p).Str("event", string(e.Kind)).Msg("observer panicked")
		}
	}()
	obs.Observe(e)
}
