package agent

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/hierarchical-browser-agent/internal/config"
	"github.com/polzovatel/hierarchical-browser-agent/internal/llm"
	"github.com/polzovatel/hierarchical-browser-agent/internal/observe"
	"github.com/polzovatel/hierarchical-browser-agent/internal/plan"
	"github.com/polzovatel/hierarchical-browser-agent/internal/tools"
)

const (
	decomposeReply = `{"subObjectives":["log in","open settings"],"strategy":"parallel","reasoning":"two phases"}`
	loginReply     = `{"steps":[{"type":"FILL","description":"enter email","target":{"selector":"input[name=email]"},"value":"a@b.c"},{"type":"CLICK","description":"press sign in","target":{"selector":"#sign-in"}}],"reasoning":"login form"}`
	settingsReply  = `{"steps":[{"type":"NAVIGATE","description":"open settings","value":"https://app.test/settings"}],"reasoning":"direct url"}`
)

func agentConfig() config.Agent {
	return config.Agent{
		MaxRetries:               3,
		GenerationRetries:        3,
		RecentSteps:              5,
		MaxConcurrentGenerations: 4,
		AdaptOnFailure:           true,
	}
}

// routedLLM answers by system prompt and, for step generation, by objective.
func routedLLM(steps map[string]string) *scriptedLLM {
	return &scriptedLLM{reply: func(req llm.Request) (string, error) {
		switch req.System {
		case decomposeSystemPrompt:
			return decomposeReply, nil
		case stepsSystemPrompt:
			p := prompt(req)
			for objective, reply := range steps {
				if strings.Contains(p, "): "+objective+"\n") {
					return reply, nil
				}
			}
			return "", errors.New("unexpected objective")
		default:
			return "", errors.New("unexpected system prompt")
		}
	}}
}

func defaultSteps() map[string]string {
	return map[string]string{"log in": loginReply, "open settings": settingsReply}
}

func TestAgent_CreatePlan(t *testing.T) {
	client := routedLLM(defaultSteps())
	var events []observe.Event
	a := New(agentConfig(), Deps{
		LLM:      client,
		Page:     newFakePage(),
		Observer: observe.Func(func(e observe.Event) { events = append(events, e) }),
		Logger:   zerolog.Nop(),
	})

	top, err := a.CreatePlan(t.Context(), "log in and open settings", plan.TaskContext{})
	require.NoError(t, err)

	assert.Equal(t, plan.StrategySequential, top.Strategy)
	assert.Equal(t, "two phases", top.Reasoning)
	require.Len(t, top.SubPlans, 2)
	require.Len(t, top.Steps, 2)

	first, second := top.SubPlans[0], top.SubPlans[1]
	assert.Equal(t, "log in", first.Objective)
	assert.Empty(t, first.Dependencies)
	assert.NotNil(t, first.Dependencies)
	assert.Equal(t, []string{first.ID}, second.Dependencies)
	assert.Equal(t, 1, first.Priority)
	assert.Equal(t, 2, second.Priority)
	assert.Equal(t, 1, second.Context.Index)
	assert.Equal(t, 2, second.Context.Total)
	assert.Equal(t, "log in and open settings", second.Context.OriginalInstruction)

	require.Len(t, first.Steps, 2)
	assert.Equal(t, plan.ActionFill, first.Steps[0].Type)
	assert.Equal(t, "#sign-in", first.Steps[1].Target.Selector)
	assert.NotEqual(t, first.Steps[0].ID, first.Steps[1].ID)
	assert.Equal(t, plan.ActionNavigate, second.Steps[0].Type)

	assert.Equal(t, 2500*time.Millisecond, first.EstimatedDuration)
	assert.Equal(t, 5500*time.Millisecond, top.TotalEstimatedDuration)
	assert.Equal(t, plan.ExecuteSubPlan, top.Steps[1].Kind)
	assert.Equal(t, second.ID, top.Steps[1].SubPlanID)

	assert.Equal(t, 1, client.callsWith(decomposeSystemPrompt))
	assert.Equal(t, 2, client.callsWith(stepsSystemPrompt))
	require.Len(t, events, 1)
	assert.Equal(t, observe.PlanCreated, events[0].Kind)
	assert.Equal(t, top.ID, events[0].PlanID)
}

func TestAgent_CreatePlanGenerationFails(t *testing.T) {
	client := routedLLM(map[string]string{"log in": loginReply, "open settings": "I cannot help with that"})
	a := New(agentConfig(), Deps{LLM: client, Page: newFakePage(), Logger: zerolog.Nop()})

	top, err := a.CreatePlan(t.Context(), "log in and open settings", plan.TaskContext{})

	assert.Nil(t, top)
	var genErr *SubPlanGenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, "open settings", genErr.Objective)
	assert.Equal(t, 3, genErr.Attempts)
}

func TestAgent_RunEndToEnd(t *testing.T) {
	page := newFakePage()
	a := New(agentConfig(), Deps{LLM: routedLLM(defaultSteps()), Page: page, Logger: zerolog.Nop()})

	res := a.Run(t.Context(), "log in and open settings", plan.TaskContext{})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, -1, res.FailedAt)
	require.Len(t, res.Results, 2)
	assert.Len(t, res.Results[0].Steps, 2)
	assert.Len(t, res.Results[1].Steps, 1)
	executed := page.Executed()
	require.Len(t, executed, 3)
	assert.Equal(t, "https://app.test/settings", executed[2].Value)
}

func TestAgent_RunPlanningFailure(t *testing.T) {
	client := routedLLM(map[string]string{"log in": "{", "open settings": settingsReply})
	page := newFakePage()
	a := New(agentConfig(), Deps{LLM: client, Page: page, Logger: zerolog.Nop()})

	res := a.Run(t.Context(), "log in and open settings", plan.TaskContext{})

	assert.False(t, res.Success)
	assert.Equal(t, -1, res.FailedAt)
	assert.Contains(t, res.Error, `generate sub-plan "log in"`)
	assert.Empty(t, res.Results)
	assert.Empty(t, page.Executed())
}

func TestAgent_LazySubPlans(t *testing.T) {
	client := routedLLM(defaultSteps())
	cfg := agentConfig()
	cfg.LazySubPlans = true
	a := New(cfg, Deps{LLM: client, Page: newFakePage(), Logger: zerolog.Nop()})

	top, err := a.CreatePlan(t.Context(), "log in and open settings", plan.TaskContext{})
	require.NoError(t, err)
	assert.Zero(t, client.callsWith(stepsSystemPrompt))
	for _, sp := range top.SubPlans {
		assert.Empty(t, sp.Steps)
	}

	res := a.Execute(t.Context(), top, plan.TaskContext{})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 2, client.callsWith(stepsSystemPrompt))
	assert.Len(t, top.SubPlans[0].Steps, 2)
}

func TestAgent_SessionData(t *testing.T) {
	extractReply := `{"subObjectives":["read price"],"strategy":"sequential","reasoning":""}`
	stepsReply := `{"steps":[{"type":"EXTRACT","description":"read the price","target":{"selector":".price"}}]}`
	newAgent := func(preserve bool) *Agent {
		client := &scriptedLLM{reply: func(req llm.Request) (string, error) {
			if req.System == decomposeSystemPrompt {
				return extractReply, nil
			}
			return stepsReply, nil
		}}
		page := newFakePage()
		page.exec = func(s plan.ActionStep) tools.Outcome {
			out := succeed(s)
			out.Data = "$42"
			return out
		}
		cfg := agentConfig()
		cfg.PreserveSession = preserve
		return New(cfg, Deps{LLM: client, Page: page, Logger: zerolog.Nop()})
	}

	t.Run("preserved across tasks", func(t *testing.T) {
		a := newAgent(true)
		require.True(t, a.Run(t.Context(), "read price", plan.TaskContext{}).Success)
		require.True(t, a.Run(t.Context(), "read price", plan.TaskContext{}).Success)
		data := a.History().SessionData()
		require.Len(t, data, 2)
		assert.Equal(t, "$42", data[0].Data)

		a.ResetSession()
		assert.Empty(t, a.History().SessionData())
	})

	t.Run("cleared per task", func(t *testing.T) {
		a := newAgent(false)
		require.True(t, a.Run(t.Context(), "read price", plan.TaskContext{}).Success)
		require.True(t, a.Run(t.Context(), "read price", plan.TaskContext{}).Success)
		assert.Len(t, a.History().SessionData(), 1)
	})
}

func TestAgent_AbortStopsExecution(t *testing.T) {
	page := newFakePage()
	a := New(agentConfig(), Deps{LLM: routedLLM(defaultSteps()), Page: page, Logger: zerolog.Nop()})
	top, err := a.CreatePlan(t.Context(), "log in and open settings", plan.TaskContext{})
	require.NoError(t, err)

	a.Checkpoint().Abort()
	res := a.Execute(t.Context(), top, plan.TaskContext{})

	assert.False(t, res.Success)
	assert.Equal(t, 0, res.FailedAt)
	assert.Contains(t, res.Error, ErrAborted.Error())
	assert.Empty(t, page.Executed())
}
