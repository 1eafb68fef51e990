package agent

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/polzovatel/hierarchical-browser-agent/internal/plan"
)

// StepsRegenerator re-plans the unexecuted tail of a sub-plan.
type StepsRegenerator interface {
	RegenerateRemaining(ctx context.Context, sp *plan.SubPlan, remaining []plan.ActionStep, failure string, page *plan.PageState) ([]plan.ActionStep, error)
}

// Adapter regenerates remaining steps from the live page after a step ran
// out of attempts.
type Adapter struct {
	regen  StepsRegenerator
	page   PageCapturer
	logger zerolog.Logger
}

func NewAdapter(regen StepsRegenerator, page PageCapturer, logger zerolog.Logger) *Adapter {
	return &Adapter{regen: regen, page: page, logger: logger}
}

// Adapt returns the steps that should replace remaining. On any error it
// returns remaining itself, unchanged.
func (a *Adapter) Adapt(ctx context.Context, sp *plan.SubPlan, remaining []plan.ActionStep, failure string) (steps []plan.ActionStep) {
	if len(remaining) == 0 || a == nil || a.regen == nil {
		return remaining
	}
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().Interface("panic", r).Msg("plan adaptation panicked")
			steps = remaining
		}
	}()

	adapted, err := a.adapt(ctx, sp, remaining, failure)
	if err != nil {
		a.logger.Warn().Err(err).Str("sub_plan", sp.ID).Msg("plan adaptation failed, keeping remaining steps")
		return remaining
	}
	a.logger.Info().
		Str("sub_plan", sp.ID).
		Int("before", len(remaining)).
		Int("after", len(adapted)).
		Msg("remaining steps adapted")
	return adapted
}

func (a *Adapter) adapt(ctx context.Context, sp *plan.SubPlan, remaining []plan.ActionStep, failure string) ([]plan.ActionStep, error) {
	var page *plan.PageState
	if a.page != nil {
		p, err := a.page.CaptureState(ctx)
		if err != nil {
			return nil, fmt.Errorf("capture page: %w", err)
		}
		page = p
	}
	steps, err := a.regen.RegenerateRemaining(ctx, sp, remaining, failure, page)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("model returned no steps")
	}
	return steps, nil
}
