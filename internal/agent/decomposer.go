package agent

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/polzovatel/hierarchical-browser-agent/internal/llm"
	"github.com/polzovatel/hierarchical-browser-agent/internal/parser"
	"github.com/polzovatel/hierarchical-browser-agent/internal/plan"
)

const fallbackReasoning = "fallback"

type Decomposer struct {
	client      llm.Client
	temperature float32
	logger      zerolog.Logger
}

func NewDecomposer(client llm.Client, temperature float32, logger zerolog.Logger) *Decomposer {
	return &Decomposer{client: client, temperature: temperature, logger: logger}
}

type globalPlanResponse struct {
	SubObjectives []string `json:"subObjectives"`
	Strategy      string   `json:"strategy"`
	Reasoning     string   `json:"reasoning"`
}

// Decompose splits instruction into ordered sub-objectives. It never fails:
// any model or parse problem yields a single sub-objective equal to the
// whole instruction.
func (d *Decomposer) Decompose(ctx context.Context, instruction string, page *plan.PageInfo) plan.GlobalPlan {
	if d.client == nil {
		return d.fallback(instruction, "no model client")
	}
	req := llm.User(decomposeSystemPrompt, decomposePrompt(instruction, page))
	req.Temperature = d.temperature
	req.MaxTokens = 1024

	resp, err := d.client.Generate(ctx, req)
	if err != nil {
		return d.fallback(instruction, err.Error())
	}
	var raw globalPlanResponse
	if err := parser.Unmarshal(resp.Text, &raw); err != nil {
		return d.fallback(instruction, err.Error())
	}
	subs := make([]string, 0, len(raw.SubObjectives))
	for _, s := range raw.SubObjectives {
		if s = strings.TrimSpace(s); s != "" {
			subs = append(subs, s)
		}
	}
	if len(subs) == 0 {
		return d.fallback(instruction, "empty subObjectives")
	}
	strategy, ok := plan.ParseStrategy(strings.ToLower(strings.TrimSpace(raw.Strategy)))
	if !ok {
		d.logger.Debug().Str("strategy", raw.Strategy).Msg("strategy downgraded to sequential")
	}
	d.logger.Info().Int("sub_objectives", len(subs)).Str("reasoning", raw.Reasoning).Msg("instruction decomposed")
	return plan.GlobalPlan{SubObjectives: subs, Strategy: strategy, Reasoning: raw.Reasoning}
}

func (d *Decomposer) fallback(instruction, reason string) plan.GlobalPlan {
	d.logger.Warn().Str("reason", reason).Msg("decomposition failed, using whole instruction")
	obj := strings.TrimSpace(instruction)
	if obj == "" {
		obj = instruction
	}
	return plan.GlobalPlan{
		SubObjectives: []string{obj},
		Strategy:      plan.StrategySequential,
		Reasoning:     fallbackReasoning,
	}
}
