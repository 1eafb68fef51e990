// Package observe carries fire-and-forget lifecycle events out of the
// planning and execution core.
package observe

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/hierarchical-browser-agent/internal/plan"
)

type Kind string

const (
	PlanCreated     Kind = "planCreated"
	SubPlanStart    Kind = "subPlanStart"
	SubPlanComplete Kind = "subPlanComplete"
	StepStart       Kind = "stepStart"
	StepComplete    Kind = "stepComplete"
	StepError       Kind = "stepError"
)

// Event is one lifecycle notification. Fields not relevant to Kind are zero.
type Event struct {
	Kind        Kind
	At          time.Time
	PlanID      string
	SubPlanID   string
	StepID      string
	StepType    plan.ActionType
	Description string
	Index       int
	Total       int
	Success     bool
	Error       string
	Attempts    int
	Duration    time.Duration
}

// Observer receives events. Implementations must not block for long; wrap
// slow ones in an Async.
type Observer interface {
	Observe(Event)
}

// Func adapts a plain function to Observer.
type Func func(Event)

func (f Func) Observe(e Event) { f(e) }

type nop struct{}

func (nop) Observe(Event) {}

func Nop() Observer { return nop{} }

// Multi delivers each event to every observer in order. A panicking observer
// is logged and skipped.
type Multi struct {
	observers []Observer
	logger    zerolog.Logger
}

func NewMulti(logger zerolog.Logger, observers ...Observer) *Multi {
	m := &Multi{logger: logger}
	for _, o := range observers {
		if o != nil {
			m.observers = append(m.observers, o)
		}
	}
	return m
}

func (m *Multi) Observe(e Event) {
	for _, o := range m.observers {
		deliver(o, e, m.logger)
	}
}

func deliver(o Observer, e Event, logger zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Str("event", string(e.Kind)).Msg("observer panicked")
		}
	}()
	o.Observe(e)
}
