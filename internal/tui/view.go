package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/cantina-dev/cantina/internal/agent"
	"github.com/cantina-dev/cantina/internal/cost"
	"github.com/cantina-dev/cantina/internal/orchestrator"
	"github.com/cantina-dev/cantina/internal/util"
)

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	st := m.status

	b.WriteString(m.renderHeader(st))
	b.WriteString("\n")

	switch st.Phase {
	case orchestrator.PhaseIdle:
		b.WriteString(mutedStyle.Render("no active run"))
		b.WriteString("\n")
	case orchestrator.PhasePlanning, orchestrator.PhaseReplanning, orchestrator.PhaseVerifying:
		b.WriteString(m.renderJob(st))
	case orchestrator.PhasePlanReview:
		b.WriteString(m.renderPlanReview(st))
	default:
		b.WriteString(m.renderExecution(st))
	}

	if st.Error != "" {
		b.WriteString(errStyle.Render("error: " + st.Error))
		b.WriteString("\n")
	}
	if m.flash != "" {
		b.WriteString(warnStyle.Render(m.flash))
		b.WriteString("\n")
	}

	b.WriteString(m.renderFooter(st))
	return b.String()
}

func (m Model) renderHeader(st orchestrator.Status) string {
	title := st.Title
	if title == "" {
		title = "cantina"
	}
	head := titleStyle.Render(util.TruncateString(title, 48))
	if st.RunID != "" {
		head += mutedStyle.Render("  run " + st.RunID)
	}
	head += "  " + phaseStyle.Render(string(st.Phase))
	return head + "\n"
}

// renderJob shows the live tail of a planning or verification job.
func (m Model) renderJob(st orchestrator.Status) string {
	var b strings.Builder
	b.WriteString(m.spinner.View())
	switch st.Phase {
	case orchestrator.PhaseVerifying:
		b.WriteString(" checking success criteria...")
	case orchestrator.PhaseReplanning:
		b.WriteString(" revising plan...")
	default:
		b.WriteString(" drafting plan...")
	}
	b.WriteString("\n")
	if tail := lastLines(st.JobOutputTail, 8); tail != "" {
		b.WriteString(tailStyle.Render(tail))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderPlanReview(st orchestrator.Status) string {
	var b strings.Builder
	p := st.Plan
	if p == nil {
		return mutedStyle.Render("waiting for plan...") + "\n"
	}

	b.WriteString(sectionStyle.Render("Plan"))
	b.WriteString("\n")
	b.WriteString(p.Summary)
	b.WriteString("\n")

	for _, phase := range p.Phases {
		mode := "sequential"
		if phase.Parallel {
			mode = "parallel"
		}
		b.WriteString(fmt.Sprintf("  phase %d: %s (%s, %d agents)\n",
			phase.PhaseID, phase.Name, mode, len(phase.Agents)))
		for _, a := range phase.Agents {
			b.WriteString(mutedStyle.Render(fmt.Sprintf("    agent %d: %s — %d tasks",
				a.AgentID, a.Theme, len(a.TaskIndices))))
			b.WriteString("\n")
		}
	}

	if len(p.SuccessCriteria) > 0 {
		b.WriteString(sectionStyle.Render("Success criteria"))
		b.WriteString("\n")
		for _, c := range p.SuccessCriteria {
			b.WriteString("  - " + c + "\n")
		}
	}
	for _, w := range st.PlanWarnings {
		b.WriteString(warnStyle.Render("  ! " + w))
		b.WriteString("\n")
	}

	if m.enteringFeedback {
		b.WriteString(sectionStyle.Render("Replan feedback"))
		b.WriteString("\n")
		b.WriteString(m.feedback.View())
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderExecution(st orchestrator.Status) string {
	var b strings.Builder

	if len(st.Agents) > 0 {
		if st.CurrentPhaseName != "" {
			b.WriteString(sectionStyle.Render("Agents — " + st.CurrentPhaseName))
		} else {
			b.WriteString(sectionStyle.Render("Agents"))
		}
		b.WriteString("\n")
		for _, s := range st.Agents {
			line := fmt.Sprintf("%s agent %d  %-16s", statusGlyph(s.Status), s.AgentID, s.Theme)
			if s.Cost > 0 {
				line += "  " + cost.FormatUSD(s.Cost)
			}
			rendered := statusStyle(s.Status).Render(line)
			if m.width > 0 {
				rendered = util.TruncateANSI(rendered, m.width)
			}
			b.WriteString(rendered)
			b.WriteString("\n")
			if s.Status == agent.StatusRunning {
				if tail := lastLines(s.Tail, 2); tail != "" {
					b.WriteString(tailStyle.Render(tail))
					b.WriteString("\n")
				}
			}
			if s.Error != "" {
				b.WriteString(errStyle.Render("    " + s.Error))
				b.WriteString("\n")
			}
		}
	}

	if len(st.MergeResults) > 0 {
		b.WriteString(sectionStyle.Render("Merges"))
		b.WriteString("\n")
		for _, mr := range st.MergeResults {
			if mr.Success {
				b.WriteString(okStyle.Render("  ✓ " + mr.Branch + ": " + mr.Message))
			} else {
				b.WriteString(errStyle.Render("  ✗ " + mr.Branch + ": " + mr.Message))
			}
			b.WriteString("\n")
		}
	}

	if v := st.Verification; v != nil {
		b.WriteString(sectionStyle.Render("Verification"))
		b.WriteString("\n")
		for _, cr := range v.CriteriaResults {
			if cr.Passed {
				b.WriteString(okStyle.Render("  ✓ " + cr.Criterion))
			} else {
				b.WriteString(errStyle.Render("  ✗ " + cr.Criterion))
			}
			b.WriteString("\n")
		}
		if v.Summary != "" {
			b.WriteString(mutedStyle.Render("  " + v.Summary))
			b.WriteString("\n")
		}
	}

	if st.FinalizeMessage != "" {
		b.WriteString(mutedStyle.Render(st.FinalizeMessage))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderFooter(st orchestrator.Status) string {
	var keys []string
	switch {
	case m.enteringFeedback:
		keys = []string{"[enter] submit", "[esc] back"}
	case st.Phase == orchestrator.PhasePlanReview:
		keys = []string{"[a] approve", "[r] replan", "[c] cancel", "[q] quit"}
	case st.Phase.AcceptsCancel():
		keys = []string{"[c] cancel", "[q] quit"}
	default:
		keys = []string{"[q] quit"}
	}

	footer := helpStyle.Render(strings.Join(keys, "  "))
	if st.TotalCost > 0 {
		spend := helpStyle.Render(cost.FormatUSD(st.TotalCost))
		if m.costWarnAt > 0 && st.TotalCost >= m.costWarnAt {
			spend = warnStyle.Render(cost.FormatUSD(st.TotalCost) + " over budget")
		}
		footer += helpStyle.Render("  |  ") + spend
	}
	return footer
}

func statusGlyph(s agent.Status) string {
	switch s {
	case agent.StatusSucceeded:
		return "✓"
	case agent.StatusFailed:
		return "✗"
	case agent.StatusRunning:
		return "⟳"
	case agent.StatusCancelled:
		return "⊘"
	default:
		return "○"
	}
}

func statusStyle(s agent.Status) lipgloss.Style {
	switch s {
	case agent.StatusSucceeded:
		return okStyle
	case agent.StatusFailed:
		return errStyle
	case agent.StatusRunning:
		return phaseStyle
	default:
		return mutedStyle
	}
}

// lastLines returns the trailing n lines of text, trimmed.
func lastLines(text string, n int) string {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
