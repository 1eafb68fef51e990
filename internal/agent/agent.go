// Package agent plans a browser task hierarchically and executes it with a
// bounded retry and refinement ladder.
package agent

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/polzovatel/hierarchical-browser-agent/internal/config"
	"github.com/polzovatel/hierarchical-browser-agent/internal/llm"
	"github.com/polzovatel/hierarchical-browser-agent/internal/observe"
	"github.com/polzovatel/hierarchical-browser-agent/internal/plan"
	"github.com/polzovatel/hierarchical-browser-agent/internal/snapshot"
	"github.com/polzovatel/hierarchical-browser-agent/internal/stepctx"
)

// Deps are the collaborators of an Agent. Extractor, Observer and
// Checkpoint are optional.
type Deps struct {
	LLM         llm.Client
	Page        Page
	Extractor   *snapshot.Extractor
	Observer    observe.Observer
	Checkpoint  *Checkpoint
	Temperature float32
	MaxTokens   int
	Logger      zerolog.Logger
}

// Agent wires decomposition, generation, assembly and execution together.
type Agent struct {
	cfg          config.Agent
	page         Page
	extractor    *snapshot.Extractor
	history      *stepctx.Manager
	decomposer   *Decomposer
	generator    *Generator
	orchestrator *Orchestrator
	checkpoint   *Checkpoint
	observer     observe.Observer
	logger       zerolog.Logger
}

func New(cfg config.Agent, deps Deps) *Agent {
	logger := deps.Logger
	if deps.Extractor == nil {
		deps.Extractor = snapshot.NewExtractor(cfg.DigestLimit, logger.With().Str("comp", "snapshot").Logger())
	}
	if deps.Observer == nil {
		deps.Observer = observe.Nop()
	}
	if deps.Checkpoint == nil {
		deps.Checkpoint = NewCheckpoint()
	}
	if cfg.MaxConcurrentGenerations <= 0 {
		cfg.MaxConcurrentGenerations = 4
	}
	history := stepctx.New(cfg.PreserveSession)

	gen := NewGenerator(deps.LLM, deps.Extractor, history, GeneratorConfig{
		Retries:     cfg.GenerationRetries,
		Backoff:     cfg.GenerationBackoff,
		RecentSteps: cfg.RecentSteps,
		Temperature: deps.Temperature,
		MaxTokens:   deps.MaxTokens,
	}, logger.With().Str("comp", "generator").Logger())

	ladder := DefaultLadder(gen, deps.Page, deps.Extractor)
	executor := NewStepExecutor(deps.Page, cfg.MaxRetries, ladder, logger.With().Str("comp", "executor").Logger())
	adapter := NewAdapter(gen, deps.Page, logger.With().Str("comp", "adapter").Logger())
	runner := NewSubPlanRunner(executor, adapter, gen, deps.Page, history, deps.Checkpoint, deps.Observer,
		SubPlanRunnerConfig{RecentSteps: cfg.RecentSteps, AdaptOnFailure: cfg.AdaptOnFailure},
		logger.With().Str("comp", "subplan").Logger())

	return &Agent{
		cfg:          cfg,
		page:         deps.Page,
		extractor:    deps.Extractor,
		history:      history,
		decomposer:   NewDecomposer(deps.LLM, deps.Temperature, logger.With().Str("comp", "decomposer").Logger()),
		generator:    gen,
		orchestrator: NewOrchestrator(runner, deps.Observer, logger.With().Str("comp", "orchestrator").Logger()),
		checkpoint:   deps.Checkpoint,
		observer:     deps.Observer,
		logger:       logger,
	}
}

func (a *Agent) Checkpoint() *Checkpoint { return a.checkpoint }

// History exposes the step context, mainly for session data.
func (a *Agent) History() *stepctx.Manager { return a.history }

// ResetSession drops session-scoped extracted data.
func (a *Agent) ResetSession() { a.history.ResetSession() }

// CreatePlan decomposes instruction and generates every sub-plan
// concurrently, unless sub-plans are lazy. A *SubPlanGenerationError from
// any sub-plan aborts planning.
func (a *Agent) CreatePlan(ctx context.Context, instruction string, tc plan.TaskContext) (*plan.TopPlan, error) {
	page := a.capture(ctx)
	info := page.Info()
	if info == nil && tc.URL != "" {
		info = &plan.PageInfo{URL: tc.URL, Title: tc.PageTitle}
	}

	gp := a.decomposer.Decompose(ctx, instruction, info)
	total := len(gp.SubObjectives)
	subPlans := make([]*plan.SubPlan, total)
	for i, obj := range gp.SubObjectives {
		sp := &plan.SubPlan{
			ID:        uuid.NewString(),
			Objective: obj,
			Priority:  i + 1,
			Context: plan.SubPlanContext{
				OriginalInstruction: instruction,
				Index:               i,
				Total:               total,
			},
		}
		if i > 0 {
			sp.Dependencies = []string{subPlans[i-1].ID}
		} else {
			sp.Dependencies = []string{}
		}
		subPlans[i] = sp
	}

	if !a.cfg.LazySubPlans {
		if err := a.generateAll(ctx, instruction, subPlans, page, tc); err != nil {
			return nil, err
		}
	}

	top := plan.Assemble(uuid.NewString(), instruction, subPlans, gp.Strategy)
	top.Reasoning = gp.Reasoning
	notify(a.observer, a.logger, observe.Event{
		Kind:        observe.PlanCreated,
		PlanID:      top.ID,
		Description: instruction,
		Total:       total,
		Duration:    top.TotalEstimatedDuration,
	})
	a.logger.Info().
		Str("plan", top.ID).
		Int("sub_plans", total).
		Bool("lazy", a.cfg.LazySubPlans).
		Dur("estimated", top.TotalEstimatedDuration).
		Msg("plan created")
	return top, nil
}

func (a *Agent) generateAll(ctx context.Context, instruction string, subPlans []*plan.SubPlan, page *plan.PageState, tc plan.TaskContext) error {
	var digest string
	if page != nil && page.Content != "" {
		digest = a.extractor.Digest(page.Content, page.URL)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.MaxConcurrentGenerations)
	for _, sp := range subPlans {
		g.Go(func() error {
			out, err := a.generator.Generate(gctx, SubPlanRequest{
				Objective:   sp.Objective,
				Instruction: instruction,
				Index:       sp.Context.Index,
				Total:       sp.Context.Total,
				Page:        page,
				Digest:      digest,
				Task:        tc,
			})
			if err != nil {
				return err
			}
			sp.Steps = out.Steps
			sp.Reasoning = out.Reasoning
			sp.EstimatedDuration = plan.EstimateDuration(out.Steps)
			return nil
		})
	}
	return g.Wait()
}

// Execute runs an existing plan.
func (a *Agent) Execute(ctx context.Context, top *plan.TopPlan, tc plan.TaskContext) plan.ExecutionResult {
	return a.orchestrator.Execute(ctx, top, tc)
}

// Run plans and executes instruction as a new task. Planning errors are
// reported in the result with FailedAt -1.
func (a *Agent) Run(ctx context.Context, instruction string, tc plan.TaskContext) plan.ExecutionResult {
	start := time.Now()
	a.history.BeginTask()
	if strings.TrimSpace(tc.Objective) == "" {
		tc.Objective = instruction
	}
	top, err := a.CreatePlan(ctx, instruction, tc)
	if err != nil {
		a.logger.Error().Err(err).Msg("planning failed")
		return plan.ExecutionResult{
			Success:  false,
			FailedAt: -1,
			Error:    err.Error(),
			Duration: time.Since(start),
		}
	}
	res := a.Execute(ctx, top, tc)
	res.Duration = time.Since(start)
	return res
}

func (a *Agent) capture(ctx context.Context) *plan.PageState {
	if a.page == nil {
		return nil
	}
	st, err := a.page.CaptureState(ctx)
	if err != nil {
		a.logger.Debug().Err(err).Msg("capture page state")
		return nil
	}
	return st
}
