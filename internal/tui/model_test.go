package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/cantina-dev/cantina/internal/agent"
	"github.com/cantina-dev/cantina/internal/orchestrator"
	"github.com/cantina-dev/cantina/internal/orchestrator/executor"
	"github.com/cantina-dev/cantina/internal/plan"
)

type fakeController struct {
	status   orchestrator.Status
	approved int
	replans  []string
	cancels  int
	closes   int
}

func (f *fakeController) Status() orchestrator.Status { return f.status }
func (f *fakeController) Approve() error              { f.approved++; return nil }
func (f *fakeController) Replan(feedback string) error {
	f.replans = append(f.replans, feedback)
	return nil
}
func (f *fakeController) Cancel() error { f.cancels++; return nil }
func (f *fakeController) Close() error  { f.closes++; return nil }

func keyMsg(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func reviewStatus() orchestrator.Status {
	return orchestrator.Status{
		RunID: "abc12345",
		Phase: orchestrator.PhasePlanReview,
		Title: "refactor storage",
		Plan: &plan.ExecutionPlan{
			Summary: "split into two agents",
			Phases: []plan.Phase{{
				PhaseID:  0,
				Name:     "implementation",
				Parallel: true,
				Agents: []plan.AgentAssignment{
					{AgentID: 0, Theme: "core", TaskIndices: []int{0}},
					{AgentID: 1, Theme: "tests", TaskIndices: []int{1}},
				},
			}},
			SuccessCriteria: []string{"tests pass"},
		},
		PlanSummary: "split into two agents",
	}
}

func TestApproveKeyOnlyInPlanReview(t *testing.T) {
	f := &fakeController{status: orchestrator.Status{Phase: orchestrator.PhaseExecuting}}
	m := New(f, time.Second, 0)

	next, _ := m.Update(keyMsg("a"))
	m = next.(Model)
	if f.approved != 0 {
		t.Error("approve should be ignored outside plan_review")
	}

	f.status = reviewStatus()
	m.status = f.status
	next, _ = m.Update(keyMsg("a"))
	m = next.(Model)
	if f.approved != 1 {
		t.Errorf("approved = %d, want 1", f.approved)
	}
}

func TestReplanFeedbackFlow(t *testing.T) {
	f := &fakeController{status: reviewStatus()}
	m := New(f, time.Second, 0)
	m.status = f.status

	next, _ := m.Update(keyMsg("r"))
	m = next.(Model)
	if !m.enteringFeedback {
		t.Fatal("r should open the feedback input")
	}

	for _, r := range "use one agent" {
		next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
		m = next.(Model)
	}
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)

	if m.enteringFeedback {
		t.Error("enter should close the feedback input")
	}
	if len(f.replans) != 1 || f.replans[0] != "use one agent" {
		t.Errorf("replans = %v", f.replans)
	}
}

func TestBlankFeedbackStaysInInput(t *testing.T) {
	f := &fakeController{status: reviewStatus()}
	m := New(f, time.Second, 0)
	m.status = f.status

	next, _ := m.Update(keyMsg("r"))
	m = next.(Model)
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)

	if len(f.replans) != 0 {
		t.Errorf("blank feedback should never be submitted, got %v", f.replans)
	}
	if !m.enteringFeedback {
		t.Error("input should stay open for a real answer")
	}

	// Whitespace counts as blank.
	for _, r := range "   " {
		next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
		m = next.(Model)
	}
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)

	if len(f.replans) != 0 {
		t.Errorf("whitespace feedback should never be submitted, got %v", f.replans)
	}
	if !m.enteringFeedback {
		t.Error("input should stay open after whitespace-only feedback")
	}
}

func TestEscAbandonsFeedback(t *testing.T) {
	f := &fakeController{status: reviewStatus()}
	m := New(f, time.Second, 0)
	m.status = f.status

	next, _ := m.Update(keyMsg("r"))
	m = next.(Model)
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(Model)

	if m.enteringFeedback {
		t.Error("esc should leave feedback mode")
	}
	if len(f.replans) != 0 {
		t.Errorf("no replan should be submitted, got %v", f.replans)
	}
}

func TestCancelKeyRespectsPhase(t *testing.T) {
	f := &fakeController{status: orchestrator.Status{Phase: orchestrator.PhaseComplete}}
	m := New(f, time.Second, 0)
	m.status = f.status

	next, _ := m.Update(keyMsg("c"))
	m = next.(Model)
	if f.cancels != 0 {
		t.Error("cancel should be ignored on a terminal run")
	}

	f.status = orchestrator.Status{Phase: orchestrator.PhaseExecuting}
	m.status = f.status
	next, _ = m.Update(keyMsg("c"))
	m = next.(Model)
	if f.cancels != 1 {
		t.Errorf("cancels = %d, want 1", f.cancels)
	}
}

func TestQuitClosesTerminalRun(t *testing.T) {
	f := &fakeController{status: orchestrator.Status{Phase: orchestrator.PhaseComplete}}
	m := New(f, time.Second, 0)
	m.status = f.status

	next, cmd := m.Update(keyMsg("q"))
	m = next.(Model)
	if cmd == nil {
		t.Fatal("q should quit")
	}
	if f.closes != 1 {
		t.Errorf("closes = %d, want 1", f.closes)
	}
}

func TestTickRefreshesStatus(t *testing.T) {
	f := &fakeController{status: orchestrator.Status{Phase: orchestrator.PhasePlanning}}
	m := New(f, time.Second, 0)

	f.status = orchestrator.Status{Phase: orchestrator.PhaseExecuting, RunID: "abc12345"}
	next, cmd := m.Update(tickMsg(time.Now()))
	m = next.(Model)

	if m.status.Phase != orchestrator.PhaseExecuting {
		t.Errorf("status phase = %s after tick", m.status.Phase)
	}
	if cmd == nil {
		t.Error("tick should schedule the next poll")
	}
}

func TestViewPlanReview(t *testing.T) {
	f := &fakeController{status: reviewStatus()}
	m := New(f, time.Second, 0)
	m.status = f.status

	out := m.View()
	for _, want := range []string{"split into two agents", "implementation", "tests pass", "[a] approve", "[r] replan"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestViewExecution(t *testing.T) {
	f := &fakeController{}
	m := New(f, time.Second, 0)
	m.status = orchestrator.Status{
		RunID:            "abc12345",
		Phase:            orchestrator.PhaseMerging,
		Title:            "refactor storage",
		CurrentPhaseName: "implementation",
		Agents: []executor.Slot{
			{AgentID: 0, Theme: "core", Status: agent.StatusSucceeded, Cost: 0.25},
			{AgentID: 1, Theme: "tests", Status: agent.StatusFailed, Error: "worker exited"},
		},
		MergeResults: []plan.MergeResult{
			{Branch: "parallel/abc12345/agent-0", Success: true, Message: "merged"},
		},
		TotalCost: 0.25,
	}

	out := m.View()
	for _, want := range []string{"✓ agent 0", "✗ agent 1", "worker exited", "merged", "$0.2500"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestFooterFlagsCostOverBudget(t *testing.T) {
	f := &fakeController{}
	m := New(f, time.Second, 1.0)
	m.status = orchestrator.Status{Phase: orchestrator.PhaseExecuting, TotalCost: 0.50}

	if out := m.View(); strings.Contains(out, "over budget") {
		t.Error("footer should not warn below the threshold")
	}

	m.status.TotalCost = 2.50
	out := m.View()
	if !strings.Contains(out, "over budget") {
		t.Error("footer should warn once spend crosses the threshold")
	}
	if !strings.Contains(out, "$2.5000") {
		t.Errorf("footer should still show the spend, got %q", out)
	}

	// Threshold zero disables the warning entirely.
	m = New(f, time.Second, 0)
	m.status = orchestrator.Status{Phase: orchestrator.PhaseExecuting, TotalCost: 99}
	if out := m.View(); strings.Contains(out, "over budget") {
		t.Error("zero threshold should disable the warning")
	}
}

func TestStatusGlyphs(t *testing.T) {
	cases := map[agent.Status]string{
		agent.StatusPending:   "○",
		agent.StatusRunning:   "⟳",
		agent.StatusSucceeded: "✓",
		agent.StatusFailed:    "✗",
		agent.StatusCancelled: "⊘",
	}
	for status, want := range cases {
		if got := statusGlyph(status); got != want {
			t.Errorf("statusGlyph(%s) = %s, want %s", status, got, want)
		}
	}
}

func TestLastLines(t *testing.T) {
	if got := lastLines("a\nb\nc\nd\n", 2); got != "c\nd" {
		t.Errorf("lastLines = %q", got)
	}
	if got := lastLines("", 2); got != "" {
		t.Errorf("lastLines empty = %q", got)
	}
}
