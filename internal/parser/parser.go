// Package parser turns raw model text into validated step responses.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/polzovatel/hierarchical-browser-agent/internal/plan"
)

const previewLen = 200

// ParseError is returned when a response stays unparseable after repair.
type ParseError struct {
	Preview string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse AI response: %v (preview: %q)", e.Err, e.Preview)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError lists structural problems of a parsed response.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid AI response: " + strings.Join(e.Problems, "; ")
}

// Preview returns the first 200 characters of s.
func Preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLen {
		return s
	}
	return string(r[:previewLen])
}

// Value accepts any JSON scalar and keeps it as text.
type Value string

func (v *Value) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = Value(s)
		return nil
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case nil:
		*v = ""
	case float64:
		*v = Value(strconv.FormatFloat(x, 'f', -1, 64))
	case bool:
		*v = Value(strconv.FormatBool(x))
	default:
		return fmt.Errorf("value must be a scalar, got %T", raw)
	}
	return nil
}

// RawStep is a step exactly as the model described it.
type RawStep struct {
	Type        string      `json:"type" validate:"required"`
	Description string      `json:"description,omitempty"`
	Target      plan.Target `json:"target"`
	Value       Value       `json:"value,omitempty"`
	Condition   string      `json:"condition,omitempty"`
}

// EffectiveDescription prefers the top-level description over the target's.
func (s RawStep) EffectiveDescription() string {
	if d := strings.TrimSpace(s.Description); d != "" {
		return d
	}
	return strings.TrimSpace(s.Target.Description)
}

// StepsResponse is the shape every step-producing prompt asks for.
type StepsResponse struct {
	Steps     []RawStep `json:"steps" validate:"required,min=1,dive"`
	Reasoning string    `json:"reasoning"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		step := sl.Current().Interface().(RawStep)
		if step.EffectiveDescription() == "" {
			sl.ReportError(step.Description, "Description", "description", "description", "")
		}
	}, RawStep{})
	return v
}

// Unmarshal runs the fence / parse / repair / re-parse pipeline into v.
func Unmarshal(raw string, v any) error {
	cleaned := StripFences(raw)
	if cleaned == "" {
		return &ParseError{Preview: Preview(raw), Err: errors.New("empty response")}
	}
	candidate := extractObject(cleaned)
	err := json.Unmarshal([]byte(candidate), v)
	if err == nil {
		return nil
	}
	repaired := Repair(candidate)
	if repaired != candidate {
		if err2 := json.Unmarshal([]byte(repaired), v); err2 == nil {
			return nil
		}
	}
	return &ParseError{Preview: Preview(raw), Err: err}
}

// ParseSteps parses and structurally validates a steps response.
func ParseSteps(raw string) (StepsResponse, error) {
	var resp StepsResponse
	if err := Unmarshal(raw, &resp); err != nil {
		return StepsResponse{}, err
	}
	if err := Validate(resp); err != nil {
		return StepsResponse{}, err
	}
	return resp, nil
}

// Validate checks that resp has a non-empty steps array and every step has a
// type and a description.
func Validate(resp StepsResponse) error {
	err := validate.Struct(resp)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Problems: []string{err.Error()}}
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, describe(fe))
	}
	return &ValidationError{Problems: problems}
}

func describe(fe validator.FieldError) string {
	ns := fe.Namespace()
	ns = strings.TrimPrefix(ns, "StepsResponse.")
	switch fe.Tag() {
	case "required":
		if fe.Field() == "Steps" {
			return "steps array is missing"
		}
		return ns + " is required"
	case "min":
		return "steps array is empty"
	case "description":
		return ns + " is required (top level or target.description)"
	default:
		return fmt.Sprintf("%s failed %s", ns, fe.Tag())
	}
}

// ActionSteps maps raw steps onto the closed action enum. ids supplies a fresh
// id per step. An unknown type fails the whole conversion with
// *plan.UnsupportedActionTypeError.
func (r StepsResponse) ActionSteps(ids func() string) ([]plan.ActionStep, error) {
	steps := make([]plan.ActionStep, 0, len(r.Steps))
	for i, raw := range r.Steps {
		t, err := plan.ParseActionType(raw.Type)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		steps = append(steps, plan.ActionStep{
			ID:          ids(),
			Type:        t,
			Description: raw.EffectiveDescription(),
			Target:      raw.Target,
			Value:       string(raw.Value),
			Condition:   raw.Condition,
		})
	}
	return steps, nil
}
