package agent

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/hierarchical-browser-agent/internal/llm"
	"github.com/polzovatel/hierarchical-browser-agent/internal/plan"
)

func TestDecompose_ParsesSubObjectives(t *testing.T) {
	client := &scriptedLLM{reply: func(req llm.Request) (string, error) {
		return "```json\n{\"subObjectives\":[\"Open the shop\",\" \",\"Add shoes to cart\"],\"strategy\":\"sequential\",\"reasoning\":\"two stages\"}\n```", nil
	}}
	d := NewDecomposer(client, 0.1, zerolog.Nop())

	gp := d.Decompose(t.Context(), "Buy shoes", &plan.PageInfo{URL: "https://shop.test", Title: "Shop"})
	assert.Equal(t, []string{"Open the shop", "Add shoes to cart"}, gp.SubObjectives)
	assert.Equal(t, plan.StrategySequential, gp.Strategy)
	assert.Equal(t, "two stages", gp.Reasoning)

	calls := client.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, decomposeSystemPrompt, calls[0].System)
	assert.Contains(t, prompt(calls[0]), "TASK: Buy shoes")
	assert.Contains(t, prompt(calls[0]), "https://shop.test (Shop)")
}

func TestDecompose_DowngradesStrategy(t *testing.T) {
	client := &scriptedLLM{reply: func(llm.Request) (string, error) {
		return `{"subObjectives":["a","b"],"strategy":"parallel","reasoning":"r"}`, nil
	}}
	gp := NewDecomposer(client, 0, zerolog.Nop()).Decompose(t.Context(), "do a and b", nil)
	assert.Equal(t, plan.StrategySequential, gp.Strategy)
	assert.Len(t, gp.SubObjectives, 2)
}

func TestDecompose_Fallbacks(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
	}{
		{name: "unreachable", err: errors.New("dial tcp: connection refused")},
		{name: "garbage", reply: "I cannot help with that."},
		{name: "empty list", reply: `{"subObjectives":[],"strategy":"sequential"}`},
		{name: "blank entries", reply: `{"subObjectives":["", "  "]}`},
		{name: "wrong shape", reply: `{"subObjectives":"click it"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &scriptedLLM{reply: func(llm.Request) (string, error) { return tt.reply, tt.err }}
			gp := NewDecomposer(client, 0, zerolog.Nop()).Decompose(t.Context(), "Click the submit button", nil)
			assert.Equal(t, []string{"Click the submit button"}, gp.SubObjectives)
			assert.Equal(t, plan.StrategySequential, gp.Strategy)
			assert.Equal(t, "fallback", gp.Reasoning)
		})
	}
}

func TestDecompose_NilClient(t *testing.T) {
	gp := NewDecomposer(nil, 0, zerolog.Nop()).Decompose(t.Context(), "x", nil)
	assert.Equal(t, []string{"x"}, gp.SubObjectives)
}
