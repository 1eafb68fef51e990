package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/polzovatel/hierarchical-browser-agent/internal/llm"
	"github.com/polzovatel/hierarchical-browser-agent/internal/plan"
)

func TestProperty_Decompose_NeverEmpty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		instruction := rapid.String().Draw(rt, "instruction")
		reply := rapid.OneOf(
			rapid.String(),
			rapid.Just(`{"subObjectives":[]}`),
			rapid.Just(`{"subObjectives":["one"],"strategy":"conditional"}`),
			rapid.StringMatching(`\{"subObjectives":\["[a-z ]{0,10}"(,"[a-z ]{0,10}"){0,3}\]`),
		).Draw(rt, "reply")
		fail := rapid.Bool().Draw(rt, "fail")

		client := &scriptedLLM{reply: func(llm.Request) (string, error) {
			if fail {
				return "", errors.New("provider down")
			}
			return reply, nil
		}}
		gp := NewDecomposer(client, 0, zerolog.Nop()).Decompose(context.Background(), instruction, nil)

		require.NotEmpty(rt, gp.SubObjectives)
		require.Equal(rt, plan.StrategySequential, gp.Strategy)
	})
}
