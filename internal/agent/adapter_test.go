package agent

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/polzovatel/hierarchical-browser-agent/internal/plan"
)

func TestAdapter_Adapt(t *testing.T) {
	remaining := []plan.ActionStep{mkStep("s3", plan.ActionClick, "#old"), mkStep("s4", plan.ActionFill, "#q")}
	replacement := []plan.ActionStep{mkStep("n1", plan.ActionClick, "#new")}
	sp := &plan.SubPlan{ID: "sp1", Objective: "search"}

	tests := []struct {
		name       string
		regen      *fakeRegen
		captureErr error
		want       []plan.ActionStep
	}{
		{name: "replaced", regen: &fakeRegen{steps: replacement}, want: replacement},
		{name: "model error", regen: &fakeRegen{err: errors.New("rate limited")}, want: remaining},
		{name: "no steps", regen: &fakeRegen{}, want: remaining},
		{name: "panic", regen: &fakeRegen{panic: true}, want: remaining},
		{name: "capture error", regen: &fakeRegen{steps: replacement}, captureErr: errors.New("tab closed"), want: remaining},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := newFakePage()
			page.captureErr = tt.captureErr
			a := NewAdapter(tt.regen, page, zerolog.Nop())

			got := a.Adapt(t.Context(), sp, remaining, "element not found")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAdapter_NothingToAdapt(t *testing.T) {
	regen := &fakeRegen{steps: []plan.ActionStep{mkStep("n1", plan.ActionClick, "#new")}}
	a := NewAdapter(regen, newFakePage(), zerolog.Nop())

	assert.Empty(t, a.Adapt(t.Context(), &plan.SubPlan{}, nil, "boom"))
	assert.Zero(t, regen.calls)

	var nilAdapter *Adapter
	remaining := []plan.ActionStep{mkStep("s1", plan.ActionClick, "#a")}
	assert.Equal(t, remaining, nilAdapter.Adapt(t.Context(), &plan.SubPlan{}, remaining, "boom"))
}
