package agent

import (
	"fmt"
	"strings"
)

// SubPlanGenerationError is returned when no usable steps could be produced
// for a sub-objective after every generation attempt.
type SubPlanGenerationError struct {
	Objective string
	Attempts  int
	Err       error
}

func (e *SubPlanGenerationError) Error() string {
	return fmt.Sprintf("generate sub-plan %q: failed after %d attempts: %v", e.Objective, e.Attempts, e.Err)
}

func (e *SubPlanGenerationError) Unwrap() error { return e.Err }

// ErrorClass buckets browser error text for refinement decisions.
type ErrorClass string

const (
	ErrSelectorParse     ErrorClass = "selector_parse_error"
	ErrTimeout           ErrorClass = "timeout"
	ErrElementNotFound   ErrorClass = "element_not_found"
	ErrNotInteractable   ErrorClass = "not_interactable"
	ErrStaleElement      ErrorClass = "stale_element"
	ErrContextDestroyed  ErrorClass = "context_destroyed"
	ErrNetwork           ErrorClass = "network_error"
	ErrUnsupportedAction ErrorClass = "unsupported_action"
	ErrUnknown           ErrorClass = "unknown"
)

func classifyError(msg string) ErrorClass {
	s := strings.ToLower(msg)
	switch {
	case s == "":
		return ErrUnknown
	case strings.Contains(s, "unsupported action type"):
		return ErrUnsupportedAction
	case strings.Contains(s, "badstring") || strings.Contains(s, "unsupported token") ||
		strings.Contains(s, "parsing selector") || strings.Contains(s, "is not a valid selector") ||
		strings.Contains(s, "selector is invalid"):
		return ErrSelectorParse
	case strings.Contains(s, "execution context was destroyed") || strings.Contains(s, "context destroyed") ||
		strings.Contains(s, "inspected target navigated") || strings.Contains(s, "frame was detached"):
		return ErrContextDestroyed
	case strings.Contains(s, "timeout") || strings.Contains(s, "deadline exceeded"):
		return ErrTimeout
	case strings.Contains(s, "not found") || strings.Contains(s, "not visible") || strings.Contains(s, "no element"):
		return ErrElementNotFound
	case strings.Contains(s, "not clickable") || strings.Contains(s, "not interactable") ||
		strings.Contains(s, "intercepts pointer events") || strings.Contains(s, "not enabled"):
		return ErrNotInteractable
	case strings.Contains(s, "stale") || strings.Contains(s, "detached"):
		return ErrStaleElement
	case strings.Contains(s, "network") || strings.Contains(s, "connection") || strings.Contains(s, "net::err"):
		return ErrNetwork
	default:
		return ErrUnknown
	}
}
