package plan

import (
	"strings"
	"testing"
)

const fencedPlanOutput = "I analyzed the tasks and grouped them by theme.\n\n" +
	"```json\n" +
	`{
  "summary": "Two-phase rollout",
  "phases": [
    {
      "phase_id": 0,
      "name": "Core",
      "description": "Backend foundations first",
      "parallel": true,
      "agents": [
        {"agent_id": 0, "theme": "storage", "task_indices": [0, 2], "rationale": "shared files", "agent_prompt": "Implement the storage layer"},
        {"agent_id": 1, "theme": "transport", "task_indices": [1], "rationale": "independent", "agent_prompt": "Implement the transport"}
      ]
    },
    {
      "phase_id": 1,
      "name": "Integration",
      "description": "Wire it together",
      "parallel": false,
      "agents": [
        {"agent_id": 2, "theme": "glue", "task_indices": [3], "rationale": "depends on phase 0", "agent_prompt": "Wire everything"}
      ]
    }
  ],
  "success_criteria": ["All packages compile", "Tests pass"],
  "estimated_total_agents": 3,
  "warnings": ["Agent 0 and 1 both touch config"]
}` + "\n```\n\nThat's my plan."

func TestParseFromOutputFenced(t *testing.T) {
	p, err := ParseFromOutput(fencedPlanOutput)
	if err != nil {
		t.Fatalf("ParseFromOutput failed: %v", err)
	}

	if p.Summary != "Two-phase rollout" {
		t.Errorf("Summary = %q", p.Summary)
	}
	if len(p.Phases) != 2 {
		t.Fatalf("got %d phases, want 2", len(p.Phases))
	}
	if !p.Phases[0].Parallel {
		t.Error("phase 0 should be parallel")
	}
	if p.Phases[1].Parallel {
		t.Error("phase 1 should be sequential")
	}
	if got := p.TotalAgents(); got != 3 {
		t.Errorf("TotalAgents() = %d, want 3", got)
	}
	if len(p.SuccessCriteria) != 2 {
		t.Errorf("got %d criteria, want 2", len(p.SuccessCriteria))
	}
	if !strings.Contains(p.RawOutput, "I analyzed the tasks") {
		t.Error("RawOutput should preserve the full agent output")
	}
}

func TestParseFromOutputBareObject(t *testing.T) {
	output := `Here is the plan: {"summary": "s", "phases": [{"phase_id": 0, "name": "p", "description": "", "parallel": false, "agents": [{"agent_id": 0, "theme": "t", "task_indices": [0], "rationale": "", "agent_prompt": "do it"}]}], "success_criteria": [], "estimated_total_agents": 1, "warnings": []} Good luck.`

	p, err := ParseFromOutput(output)
	if err != nil {
		t.Fatalf("ParseFromOutput failed: %v", err)
	}
	if len(p.Phases) != 1 {
		t.Fatalf("got %d phases, want 1", len(p.Phases))
	}
	if p.HasCriteria() {
		t.Error("plan with empty criteria should report HasCriteria() == false")
	}
}

func TestParseFromOutputBracesInsideStrings(t *testing.T) {
	output := `{"summary": "uses {braces} inside", "phases": [{"phase_id": 0, "name": "p", "description": "a } stray", "parallel": true, "agents": [{"agent_id": 0, "theme": "t", "task_indices": [0], "rationale": "", "agent_prompt": "emit {\"k\": 1}"}]}], "success_criteria": ["x"], "estimated_total_agents": 1, "warnings": []}`

	p, err := ParseFromOutput(output)
	if err != nil {
		t.Fatalf("ParseFromOutput failed: %v", err)
	}
	if p.Summary != "uses {braces} inside" {
		t.Errorf("Summary = %q", p.Summary)
	}
}

func TestParseCoercesStringIDs(t *testing.T) {
	output := `{"summary": "s", "phases": [{"phase_id": "1A", "name": "p", "parallel": false, "agents": [{"agent_id": "2", "theme": "t", "task_indices": [0], "agent_prompt": "x"}, {"agent_id": "zzz", "theme": "u", "task_indices": [1], "agent_prompt": "y"}]}], "success_criteria": [], "estimated_total_agents": 2, "warnings": []}`

	p, err := ParseFromOutput(output)
	if err != nil {
		t.Fatalf("ParseFromOutput failed: %v", err)
	}
	// "1A" is not coercible: falls back to positional index 0.
	if p.Phases[0].PhaseID != 0 {
		t.Errorf("PhaseID = %d, want positional fallback 0", p.Phases[0].PhaseID)
	}
	// "2" is coercible.
	if p.Phases[0].Agents[0].AgentID != 2 {
		t.Errorf("AgentID = %d, want 2", p.Phases[0].Agents[0].AgentID)
	}
	// "zzz" falls back to positional index 1.
	if p.Phases[0].Agents[1].AgentID != 1 {
		t.Errorf("AgentID = %d, want positional fallback 1", p.Phases[0].Agents[1].AgentID)
	}
}

func TestParseEmptyPlanFails(t *testing.T) {
	_, err := ParseFromOutput(`{"summary": "nothing to do", "phases": [], "success_criteria": [], "estimated_total_agents": 0, "warnings": []}`)
	if err == nil {
		t.Fatal("expected error for plan with no phases")
	}
}

func TestParseNoJSONFails(t *testing.T) {
	_, err := ParseFromOutput("I could not produce a plan, sorry.")
	if err == nil {
		t.Fatal("expected error when output contains no JSON")
	}
}

func TestParseVerificationFromOutput(t *testing.T) {
	output := "Verification complete.\n```json\n" + `{
  "overall_pass": false,
  "criteria_results": [
    {"criterion": "All packages compile", "passed": true, "evidence": "go build ok", "notes": ""},
    {"criterion": "Tests pass", "passed": false, "evidence": "2 failures in internal/plan", "notes": "flaky?"}
  ],
  "summary": "One criterion failed"
}` + "\n```"

	vr, err := ParseVerificationFromOutput(output)
	if err != nil {
		t.Fatalf("ParseVerificationFromOutput failed: %v", err)
	}
	if vr.OverallPass {
		t.Error("OverallPass should be false")
	}
	if len(vr.CriteriaResults) != 2 {
		t.Fatalf("got %d criteria results, want 2", len(vr.CriteriaResults))
	}
	if vr.FailedCount() != 1 {
		t.Errorf("FailedCount() = %d, want 1", vr.FailedCount())
	}
}
