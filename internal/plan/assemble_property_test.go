package plan

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestProperty_Assemble_IsPure(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 8).Draw(rt, "n")
		subPlans := make([]*SubPlan, n)
		var want time.Duration
		for i := range subPlans {
			ms := rapid.IntRange(0, 60000).Draw(rt, fmt.Sprintf("ms_%d", i))
			d := time.Duration(ms) * time.Millisecond
			want += d
			subPlans[i] = &SubPlan{
				ID:                fmt.Sprintf("sp-%d", i),
				Objective:         rapid.String().Draw(rt, fmt.Sprintf("objective_%d", i)),
				EstimatedDuration: d,
			}
		}

		first := Assemble("id", "objective", subPlans, StrategySequential)
		second := Assemble("id", "objective", subPlans, StrategySequential)

		require.Equal(rt, first.TotalEstimatedDuration, second.TotalEstimatedDuration)
		require.Equal(rt, len(first.Steps), len(second.Steps))
		require.Equal(rt, first.Steps, second.Steps)
		require.Equal(rt, want, first.TotalEstimatedDuration)
		require.Len(rt, first.Steps, n)
	})
}
