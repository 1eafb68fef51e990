package plan

import (
	"fmt"
	"strings"
)

// ActionType is the closed set of browser operations a step can perform.
type ActionType string

const (
	ActionNavigate   ActionType = "NAVIGATE"
	ActionClick      ActionType = "CLICK"
	ActionTypeText   ActionType = "TYPE"
	ActionFill       ActionType = "FILL"
	ActionScroll     ActionType = "SCROLL"
	ActionWait       ActionType = "WAIT"
	ActionExtract    ActionType = "EXTRACT"
	ActionVerify     ActionType = "VERIFY"
	ActionScreenshot ActionType = "SCREENSHOT"
)

// ActionTypes lists every supported type in prompt order.
var ActionTypes = []ActionType{
	ActionNavigate,
	ActionClick,
	ActionTypeText,
	ActionFill,
	ActionScroll,
	ActionWait,
	ActionExtract,
	ActionVerify,
	ActionScreenshot,
}

// UnsupportedActionTypeError is returned for step types outside the closed enum.
type UnsupportedActionTypeError struct {
	Type string
}

func (e *UnsupportedActionTypeError) Error() string {
	return fmt.Sprintf("unsupported action type %q", e.Type)
}

// ParseActionType maps a model-provided type string onto ActionType.
// Matching is case-insensitive and tolerates surrounding whitespace.
func ParseActionType(s string) (ActionType, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	for _, t := range ActionTypes {
		if string(t) == norm {
			return t, nil
		}
	}
	return "", &UnsupportedActionTypeError{Type: s}
}

func (t ActionType) String() string { return string(t) }

// CanContinueOnFailure reports whether a failed step of this type lets the
// sub-plan proceed. Navigation and input steps are required; read-only and
// cosmetic steps are optional.
func (t ActionType) CanContinueOnFailure() bool {
	switch t {
	case ActionNavigate, ActionClick, ActionTypeText, ActionFill:
		return false
	default:
		return true
	}
}

// UsesSelector reports whether the step addresses a page element.
func (t ActionType) UsesSelector() bool {
	switch t {
	case ActionClick, ActionTypeText, ActionFill, ActionExtract, ActionVerify, ActionWait:
		return true
	default:
		return false
	}
}

// UsesValue reports whether Value carries input for the step.
func (t ActionType) UsesValue() bool {
	switch t {
	case ActionNavigate, ActionTypeText, ActionFill, ActionVerify:
		return true
	default:
		return false
	}
}
