package observe

import "github.com/rs/zerolog"

// Logger writes events as structured log lines.
type Logger struct {
	logger zerolog.Logger
}

func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger}
}

func (l *Logger) Observe(e Event) {
	var ev *zerolog.Event
	switch {
	case e.Kind == StepError:
		ev = l.logger.Warn()
	case e.Kind == SubPlanComplete && !e.Success:
		ev = l.logger.Warn()
	case e.Kind == StepStart:
		ev = l.logger.Debug()
	default:
		ev = l.logger.Info()
	}
	ev = ev.Str("event", string(e.Kind))
	if e.PlanID != "" {
		ev = ev.Str("plan", e.PlanID)
	}
	if e.SubPlanID != "" {
		ev = ev.Str("sub_plan", e.SubPlanID).Int("index", e.Index).Int("total", e.Total)
	}
	if e.StepID != "" {
		ev = ev.Str("step", e.StepID).Str("type", e.StepType.String())
	}
	if e.Attempts > 0 {
		ev = ev.Int("attempts", e.Attempts)
	}
	if e.Duration > 0 {
		ev = ev.Dur("took", e.Duration)
	}
	if e.Error != "" {
		ev = ev.Str("error", e.Error)
	}
	switch e.Kind {
	case SubPlanComplete, StepComplete, StepError:
		ev = ev.Bool("success", e.Success)
	}
	ev.Msg(e.Description)
}
