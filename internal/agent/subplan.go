package agent

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/hierarchical-browser-agent/internal/observe"
	"github.com/polzovatel/hierarchical-browser-agent/internal/plan"
	"github.com/polzovatel/hierarchical-browser-agent/internal/stepctx"
)

// StepGenerator produces steps for a sub-plan that was created empty.
type StepGenerator interface {
	Generate(ctx context.Context, req SubPlanRequest) (GeneratedSteps, error)
}

// SubPlanRunner executes the steps of one sub-plan against the page.
type SubPlanRunner struct {
	executor   *StepExecutor
	adapter    *Adapter
	generator  StepGenerator
	page       PageCapturer
	history    *stepctx.Manager
	checkpoint *Checkpoint
	observer   observe.Observer
	recent     int
	adapt      bool
	logger     zerolog.Logger
}

type SubPlanRunnerConfig struct {
	RecentSteps    int
	AdaptOnFailure bool
}

func NewSubPlanRunner(executor *StepExecutor, adapter *Adapter, generator StepGenerator, page PageCapturer,
	history *stepctx.Manager, checkpoint *Checkpoint, observer observe.Observer, cfg SubPlanRunnerConfig, logger zerolog.Logger,
) *SubPlanRunner {
	if history == nil {
		history = stepctx.New(false)
	}
	if observer == nil {
		observer = observe.Nop()
	}
	return &SubPlanRunner{
		executor:   executor,
		adapter:    adapter,
		generator:  generator,
		page:       page,
		history:    history,
		checkpoint: checkpoint,
		observer:   observer,
		recent:     cfg.RecentSteps,
		adapt:      cfg.AdaptOnFailure,
		logger:     logger,
	}
}

// Run executes sp's steps in order. The checkpoint is polled before each
// step. A failed step with canContinue=false ends the sub-plan; an optional
// failure on a non-final step lets the adapter rewrite the unexecuted tail.
func (r *SubPlanRunner) Run(ctx context.Context, sp *plan.SubPlan, tc plan.TaskContext) plan.SubPlanResult {
	start := time.Now()
	res := plan.SubPlanResult{SubPlanID: sp.ID, Objective: sp.Objective, Index: sp.Context.Index}
	fail := func(msg string) plan.SubPlanResult {
		res.Success = false
		res.Error = msg
		res.Duration = time.Since(start)
		return res
	}
	log := r.logger.With().Str("sub_plan", sp.ID).Int("index", sp.Context.Index).Logger()

	r.history.ResetPlan()

	if len(sp.Steps) == 0 {
		if err := r.generate(ctx, sp, tc); err != nil {
			return fail(err.Error())
		}
	}

	for i := 0; i < len(sp.Steps); i++ {
		if err := r.checkpoint.Wait(ctx); err != nil {
			if errors.Is(err, ErrAborted) {
				log.Info().Int("step", i).Msg("execution aborted at checkpoint")
			}
			return fail(fmt.Sprintf("stopped before step %d: %v", i+1, err))
		}

		step := &sp.Steps[i]
		notify(r.observer, r.logger, observe.Event{
			Kind:        observe.StepStart,
			SubPlanID:   sp.ID,
			StepID:      step.ID,
			StepType:    step.Type,
			Description: step.Description,
			Index:       i,
			Total:       len(sp.Steps),
		})
		began := time.Now()
		out := r.executor.Execute(ctx, step, r.history.Snapshot(r.recent))
		r.history.Record(out.Result)
		res.Steps = append(res.Steps, out.Result)

		kind := observe.StepComplete
		if !out.Success {
			kind = observe.StepError
		}
		notify(r.observer, r.logger, observe.Event{
			Kind:        kind,
			SubPlanID:   sp.ID,
			StepID:      step.ID,
			StepType:    step.Type,
			Description: step.Description,
			Index:       i,
			Total:       len(sp.Steps),
			Success:     out.Success,
			Error:       out.Error,
			Attempts:    out.Attempts,
			Duration:    time.Since(began),
		})

		if out.Success {
			continue
		}
		if !out.CanContinue {
			return fail(fmt.Sprintf("step %d (%s %q) %s", i+1, step.Type, step.Description, out.Error))
		}
		log.Warn().Int("step", i+1).Str("error", out.Error).Msg("optional step failed, continuing")

		if r.adapt && r.adapter != nil && i < len(sp.Steps)-1 {
			remaining := sp.Steps[i+1:]
			adapted := r.adapter.Adapt(ctx, sp, remaining, out.Error)
			if !reflect.DeepEqual(adapted, remaining) {
				sp.Steps = append(sp.Steps[:i+1:i+1], adapted...)
				sp.RefinementLevel++
				res.Adaptations++
			}
		}
	}

	res.Success = true
	res.Duration = time.Since(start)
	return res
}

// generate fills a lazily created sub-plan from the live page.
func (r *SubPlanRunner) generate(ctx context.Context, sp *plan.SubPlan, tc plan.TaskContext) error {
	if r.generator == nil {
		return errors.New("sub-plan has no steps")
	}
	var page *plan.PageState
	if r.page != nil {
		if p, err := r.page.CaptureState(ctx); err == nil {
			page = p
		} else {
			r.logger.Debug().Err(err).Msg("capture page for lazy generation")
		}
	}
	out, err := r.generator.Generate(ctx, SubPlanRequest{
		Objective:   sp.Objective,
		Instruction: sp.Context.OriginalInstruction,
		Index:       sp.Context.Index,
		Total:       sp.Context.Total,
		Page:        page,
		Task:        tc,
	})
	if err != nil {
		return err
	}
	sp.Steps = out.Steps
	sp.Reasoning = out.Reasoning
	sp.EstimatedDuration = plan.EstimateDuration(out.Steps)
	return nil
}
