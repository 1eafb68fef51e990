package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/hierarchical-browser-agent/internal/plan"
	"github.com/polzovatel/hierarchical-browser-agent/internal/stepctx"
	"github.com/polzovatel/hierarchical-browser-agent/internal/tools"
)

const defaultMaxRetries = 3

// Page is the browser collaborator: one page, used by one executor at a
// time.
type Page interface {
	PageCapturer
	ExecuteStep(ctx context.Context, step plan.ActionStep) tools.Outcome
	Info(ctx context.Context) (*plan.PageInfo, error)
}

// StepOutcome is the terminal result of executing one step through the
// refinement ladder.
type StepOutcome struct {
	Result      plan.StepResult
	Success     bool
	Error       string
	CanContinue bool
	Attempts    int
	Class       ErrorClass
}

// StepExecutor runs a step up to maxRetries times. Before attempt n it asks
// ladder[n-1] (or the last strategy once the ladder is exhausted) for a
// refined target.
type StepExecutor struct {
	page       Page
	ladder     []RefinementStrategy
	maxRetries int
	logger     zerolog.Logger
}

func NewStepExecutor(page Page, maxRetries int, ladder []RefinementStrategy, logger zerolog.Logger) *StepExecutor {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &StepExecutor{page: page, ladder: ladder, maxRetries: maxRetries, logger: logger}
}

// Execute runs step, rewriting its Target and Value in place as refinement
// proceeds. It never panics and never returns an error: failures are in the
// outcome.
func (e *StepExecutor) Execute(ctx context.Context, step *plan.ActionStep, sc stepctx.Snapshot) StepOutcome {
	before := e.info(ctx)
	rc := RefineContext{
		Selectors: sc.SuccessfulSelectors,
		Recent:    sc.PreviousSteps,
		Original:  *step,
	}
	log := e.logger.With().Str("step", step.ID).Str("type", step.Type.String()).Logger()

	var (
		out      tools.Outcome
		lastErr  string
		class    ErrorClass
		attempts int
	)
	canContinue := step.Type.CanContinueOnFailure()

	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err.Error()
			break
		}
		rc.Attempt = attempt
		if s := e.strategy(attempt); s != nil {
			e.refine(ctx, s, step, rc, log)
		}

		attempts = attempt
		out = e.run(ctx, *step)
		if out.Success {
			return e.finish(ctx, step, before, out, attempts)
		}

		lastErr = out.Error
		class = classifyError(out.Error)
		canContinue = out.CanContinue
		rc.Failure = out.Error
		rc.Class = class
		log.Warn().Int("attempt", attempt).Str("error_type", string(class)).Str("error", out.Error).Msg("step attempt failed")

		if class == ErrContextDestroyed && (step.Type == plan.ActionClick || step.Type == plan.ActionNavigate) {
			if after := e.info(ctx); navigated(before, after) {
				log.Info().Str("old_url", before.URL).Str("new_url", after.URL).Msg("context destroyed but page changed, treating step as done")
				out.Success = true
				out.Error = ""
				return e.finish(ctx, step, before, out, attempts)
			}
		}
		if class == ErrUnsupportedAction {
			break
		}
	}

	msg := fmt.Sprintf("failed after %d attempts: %s", attempts, lastErr)
	if attempts == 0 {
		msg = "not attempted: " + lastErr
	}
	result := e.result(step, before, out, attempts)
	result.Success = false
	result.Error = msg
	result.CanContinue = canContinue
	result.PageAfter = e.info(ctx)
	return StepOutcome{
		Result:      result,
		Error:       msg,
		CanContinue: canContinue,
		Attempts:    attempts,
		Class:       class,
	}
}

func (e *StepExecutor) strategy(attempt int) RefinementStrategy {
	if len(e.ladder) == 0 {
		return nil
	}
	i := attempt - 1
	if i >= len(e.ladder) {
		i = len(e.ladder) - 1
	}
	return e.ladder[i]
}

// refine applies a strategy's proposal. ID, Type and Condition never change.
func (e *StepExecutor) refine(ctx context.Context, s RefinementStrategy, step *plan.ActionStep, rc RefineContext, log zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("strategy", s.Name()).Msg("refinement strategy panicked")
		}
	}()
	cand, err := s.Attempt(ctx, *step, rc)
	if err != nil {
		log.Debug().Err(err).Str("strategy", s.Name()).Msg("refinement produced nothing")
		return
	}
	if cand == nil {
		return
	}
	old := step.Target.Selector
	step.Target = cand.Target
	if cand.Value != "" {
		step.Value = cand.Value
	}
	if old != step.Target.Selector {
		log.Info().
			Str("strategy", s.Name()).
			Int("attempt", rc.Attempt).
			Str("from", old).
			Str("to", step.Target.Selector).
			Msg("step refined")
	}
}

func (e *StepExecutor) run(ctx context.Context, step plan.ActionStep) (out tools.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = tools.Outcome{
				Error:       fmt.Sprintf("step runner panicked: %v", r),
				CanContinue: step.Type.CanContinueOnFailure(),
			}
		}
	}()
	return e.page.ExecuteStep(ctx, step)
}

func (e *StepExecutor) finish(ctx context.Context, step *plan.ActionStep, before *plan.PageInfo, out tools.Outcome, attempts int) StepOutcome {
	result := e.result(step, before, out, attempts)
	result.Success = true
	result.CanContinue = true
	result.PageAfter = e.info(ctx)
	return StepOutcome{Result: result, Success: true, CanContinue: true, Attempts: attempts}
}

func (e *StepExecutor) result(step *plan.ActionStep, before *plan.PageInfo, out tools.Outcome, attempts int) plan.StepResult {
	r := plan.StepResult{
		StepID:       step.ID,
		Type:         step.Type,
		Description:  step.Description,
		SelectorUsed: out.SelectorUsed,
		ValueEntered: out.ValueEntered,
		Attempts:     attempts,
		PageBefore:   before,
		At:           time.Now(),
	}
	if r.SelectorUsed == "" {
		r.SelectorUsed = step.Target.Selector
	}
	if step.Type == plan.ActionExtract || step.Type == plan.ActionVerify {
		r.ExtractedData = out.Data
	}
	return r
}

func (e *StepExecutor) info(ctx context.Context) *plan.PageInfo {
	if ctx.Err() != nil {
		return nil
	}
	info, err := e.page.Info(ctx)
	if err != nil {
		e.logger.Debug().Err(err).Msg("read page info")
		return nil
	}
	return info
}

func navigated(before, after *plan.PageInfo) bool {
	return before != nil && after != nil && after.URL != "" && after.URL != before.URL
}
