// Package stepctx keeps the rolling record of executed steps that feeds
// later prompts and selector reuse.
//
// The manager has two scopes. The plan scope (step records, working
// selectors) is reset before every sub-plan runs. The session scope holds
// extracted data and survives plan resets; it is cleared at the start of each
// task unless the manager preserves sessions.
package stepctx

import (
	"fmt"
	"strings"
	"sync"

	"github.com/polzovatel/hierarchical-browser-agent/internal/plan"
)

// Snapshot is the read-only view handed to the step executor.
type Snapshot struct {
	PreviousSteps       []plan.StepResult `json:"previousSteps"`
	SuccessfulSelectors []string          `json:"successfulSelectors"`
}

// Extracted is one piece of data read from a page.
type Extracted struct {
	StepID      string `json:"stepId"`
	Description string `json:"description"`
	URL         string `json:"url,omitempty"`
	Data        string `json:"data"`
}

type Manager struct {
	mu       sync.RWMutex
	preserve bool

	steps     []plan.StepResult
	selectors []string
	seen      map[string]struct{}

	session []Extracted
}

func New(preserveSession bool) *Manager {
	return &Manager{
		preserve: preserveSession,
		seen:     make(map[string]struct{}),
	}
}

// ResetPlan clears the plan scope.
func (m *Manager) ResetPlan() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = nil
	m.selectors = nil
	m.seen = make(map[string]struct{})
}

// BeginTask starts a new top-level task. The plan scope is always cleared;
// session data only when sessions are not preserved.
func (m *Manager) BeginTask() {
	m.ResetPlan()
	if !m.preserve {
		m.ResetSession()
	}
}

// ResetSession drops all extracted data.
func (m *Manager) ResetSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
}

// Record appends the outcome of an executed step.
func (m *Manager) Record(r plan.StepResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, r)
	if !r.Success {
		return
	}
	if sel := strings.TrimSpace(r.SelectorUsed); sel != "" {
		if _, ok := m.seen[sel]; !ok {
			m.seen[sel] = struct{}{}
			m.selectors = append(m.selectors, sel)
		}
	}
	if r.ExtractedData != "" {
		e := Extracted{StepID: r.StepID, Description: r.Description, Data: r.ExtractedData}
		if r.PageAfter != nil {
			e.URL = r.PageAfter.URL
		}
		m.session = append(m.session, e)
	}
}

// Recent returns up to n of the latest step records, oldest first.
// n <= 0 returns all of them.
func (m *Manager) Recent(n int) []plan.StepResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lastN(m.steps, n)
}

// Len is the number of steps recorded in the plan scope.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.steps)
}

// SuccessfulSelectors returns every selector that worked in this plan, in
// first-success order.
func (m *Manager) SuccessfulSelectors() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.selectors...)
}

// Snapshot copies the last n steps and all working selectors.
func (m *Manager) Snapshot(n int) Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		PreviousSteps:       lastN(m.steps, n),
		SuccessfulSelectors: append([]string(nil), m.selectors...),
	}
}

func (m *Manager) SessionData() []Extracted {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Extracted(nil), m.session...)
}

// Summaries renders the last n steps as single prompt lines.
func (m *Manager) Summaries(n int) []string {
	recent := m.Recent(n)
	out := make([]string, 0, len(recent))
	for i, r := range recent {
		out = append(out, Summarize(i+1, r))
	}
	return out
}

// Summarize renders one step record.
func Summarize(pos int, r plan.StepResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d. %s %q", pos, r.Type, r.Description)
	if r.Success {
		b.WriteString(" -> ok")
	} else {
		b.WriteString(" -> failed")
	}
	if r.SelectorUsed != "" {
		fmt.Fprintf(&b, " [selector %s]", r.SelectorUsed)
	}
	if r.ValueEntered != "" {
		fmt.Fprintf(&b, " [value %q]", truncate(r.ValueEntered, 60))
	}
	if r.ExtractedData != "" {
		fmt.Fprintf(&b, " [data %q]", truncate(r.ExtractedData, 120))
	}
	if !r.Success && r.Error != "" {
		fmt.Fprintf(&b, " (%s)", truncate(r.Error, 120))
	}
	return b.String()
}

// PromptSection formats recent steps and session data for a prompt. It is
// empty when there is nothing to report.
func (m *Manager) PromptSection(n int) string {
	lines := m.Summaries(n)
	data := m.SessionData()
	if len(lines) == 0 && len(data) == 0 {
		return ""
	}
	var b strings.Builder
	if len(lines) > 0 {
		b.WriteString("Previous steps:\n")
		for _, l := range lines {
			b.WriteString(l)
			b.WriteByte('\n')
		}
	}
	if len(data) > 0 {
		b.WriteString("Extracted data:\n")
		for _, e := range data {
			fmt.Fprintf(&b, "- %s: %s\n", e.Description, truncate(e.Data, 200))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func lastN(steps []plan.StepResult, n int) []plan.StepResult {
	if n <= 0 || n > len(steps) {
		n = len(steps)
	}
	return append([]plan.StepResult(nil), steps[len(steps)-n:]...)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
