package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/polzovatel/hierarchical-browser-agent/internal/llm"
	"github.com/polzovatel/hierarchical-browser-agent/internal/parser"
	"github.com/polzovatel/hierarchical-browser-agent/internal/plan"
	"github.com/polzovatel/hierarchical-browser-agent/internal/snapshot"
	"github.com/polzovatel/hierarchical-browser-agent/internal/stepctx"
)

var stepsSchema = llm.MustSchema("submit_steps", "Submit the ordered browser steps and a short reasoning", parser.StepsResponse{})

// SubPlanRequest is everything the generator knows about one sub-objective.
// Digest, when set, is used instead of extracting one from Page.
type SubPlanRequest struct {
	Objective   string
	Instruction string
	Index       int
	Total       int
	Page        *plan.PageState
	Digest      string
	Task        plan.TaskContext
}

type GeneratedSteps struct {
	Steps     []plan.ActionStep
	Reasoning string
}

type GeneratorConfig struct {
	Retries     int
	Backoff     time.Duration
	RecentSteps int
	Temperature float32
	MaxTokens   int
}

// Generator turns objectives into action steps. It is safe for concurrent
// use as long as the step context manager is.
type Generator struct {
	client     llm.Client
	structured llm.StructuredClient
	extractor  *snapshot.Extractor
	history    *stepctx.Manager
	cfg        GeneratorConfig
	newID      func() string
	logger     zerolog.Logger
}

func NewGenerator(client llm.Client, extractor *snapshot.Extractor, history *stepctx.Manager, cfg GeneratorConfig, logger zerolog.Logger) *Generator {
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if extractor == nil {
		extractor = snapshot.NewExtractor(0, logger)
	}
	if history == nil {
		history = stepctx.New(false)
	}
	g := &Generator{
		client:    client,
		extractor: extractor,
		history:   history,
		cfg:       cfg,
		newID:     func() string { return uuid.NewString() },
		logger:    logger,
	}
	if sc, ok := llm.Structured(client); ok {
		g.structured = sc
	}
	return g
}

// Generate produces the steps of one sub-objective. Structured output is
// tried first, then free text through the repairing parser. The pair is
// retried with a growing backoff; the final failure is a
// *SubPlanGenerationError.
func (g *Generator) Generate(ctx context.Context, req SubPlanRequest) (GeneratedSteps, error) {
	digest := req.Digest
	if digest == "" {
		digest = g.digest(req.Page)
	}
	prompt := subPlanPrompt{req: req, digest: digest, recent: g.history.PromptSection(g.cfg.RecentSteps)}.String()

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= g.cfg.Retries; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, g.cfg.Backoff*time.Duration(attempt-1)); err != nil {
				lastErr = err
				break
			}
		}
		attempts = attempt
		resp, err := g.request(ctx, stepsSystemPrompt, prompt)
		if err == nil {
			var steps []plan.ActionStep
			steps, err = resp.ActionSteps(g.newID)
			if err == nil {
				g.logger.Debug().
					Str("objective", req.Objective).
					Int("steps", len(steps)).
					Int("attempt", attempt).
					Msg("sub-plan generated")
				return GeneratedSteps{Steps: steps, Reasoning: resp.Reasoning}, nil
			}
		}
		lastErr = err
		g.logger.Warn().Err(err).Str("objective", req.Objective).Int("attempt", attempt).Msg("sub-plan generation failed")
		if ctx.Err() != nil {
			break
		}
	}
	return GeneratedSteps{}, &SubPlanGenerationError{Objective: req.Objective, Attempts: attempts, Err: lastErr}
}

// RefineStep asks the model for a replacement of a failed step. Only the
// target and value of the answer are used.
func (g *Generator) RefineStep(ctx context.Context, step plan.ActionStep, failure string, page *plan.PageState) (plan.ActionStep, error) {
	prompt := refinePrompt(step, failure, g.history.SuccessfulSelectors(), g.digest(page), page)
	resp, err := g.request(ctx, refineSystemPrompt, prompt)
	if err != nil {
		return step, err
	}
	raw := resp.Steps[0]
	if t, err := plan.ParseActionType(raw.Type); err == nil && t != step.Type {
		g.logger.Debug().Str("want", step.Type.String()).Str("got", t.String()).Msg("refined step changed type, keeping original type")
	}
	if raw.Target.Selector == "" && raw.Target.Coordinates == nil && raw.Target.Description == "" {
		return step, errors.New("refined step has no target")
	}
	refined := step
	refined.Target = raw.Target
	if v := string(raw.Value); v != "" {
		refined.Value = v
	}
	return refined, nil
}

// RegenerateRemaining re-plans the unexecuted steps of sp from the current
// page. It makes a single model call.
func (g *Generator) RegenerateRemaining(ctx context.Context, sp *plan.SubPlan, remaining []plan.ActionStep, failure string, page *plan.PageState) ([]plan.ActionStep, error) {
	prompt := adaptPrompt(sp, remaining, failure, g.digest(page), page)
	resp, err := g.request(ctx, adaptSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	return resp.ActionSteps(g.newID)
}

func (g *Generator) request(ctx context.Context, system, prompt string) (parser.StepsResponse, error) {
	if g.client == nil {
		return parser.StepsResponse{}, errors.New("no model client")
	}
	req := llm.User(system, prompt)
	req.Temperature = g.cfg.Temperature
	req.MaxTokens = g.cfg.MaxTokens

	if g.structured != nil {
		resp, err := g.structured.GenerateStructured(ctx, req, stepsSchema)
		switch {
		case err == nil:
			parsed, perr := parser.ParseSteps(resp.Text)
			if perr == nil {
				return parsed, nil
			}
			g.logger.Debug().Err(perr).Msg("structured response invalid, falling back to text")
		case errors.Is(err, llm.ErrStructuredUnsupported):
		case ctx.Err() != nil:
			return parser.StepsResponse{}, ctx.Err()
		default:
			g.logger.Debug().Err(err).Msg("structured generation failed, falling back to text")
		}
	}

	resp, err := g.client.Generate(ctx, req)
	if err != nil {
		return parser.StepsResponse{}, fmt.Errorf("generate: %w", err)
	}
	return parser.ParseSteps(resp.Text)
}

func (g *Generator) digest(page *plan.PageState) string {
	if page == nil || page.Content == "" {
		return ""
	}
	return g.extractor.Digest(page.Content, page.URL)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
