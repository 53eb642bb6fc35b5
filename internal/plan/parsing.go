package plan

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(\\{.*?\\})\\s*\\n```")

// ExtractJSON finds the first JSON object in mixed agent output.
//
// Planning agents wrap their plan in a ```json fence, but some models emit a
// bare object surrounded by prose. The fenced form is tried first; otherwise
// the first top-level { ... } block is located by brace counting, skipping
// braces inside string literals.
func ExtractJSON(output string) (json.RawMessage, error) {
	if m := fencedJSONRe.FindStringSubmatch(output); len(m) == 2 {
		return json.RawMessage(m[1]), nil
	}

	start := strings.IndexByte(output, '{')
	if start == -1 {
		return nil, fmt.Errorf("no JSON object found in output")
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(output); i++ {
		ch := output[i]

		if escaped {
			escaped = false
			continue
		}

		switch ch {
		case '\\':
			escaped = true
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return json.RawMessage(output[start : i+1]), nil
				}
			}
		}
	}

	return nil, fmt.Errorf("no complete JSON object found in output")
}

// flexibleID accepts both integer and string ids. Planning agents sometimes
// emit ids like "1A" despite being told not to; those fall back to the
// positional index supplied by the caller.
type flexibleID struct {
	value int
	valid bool
}

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		f.value = n
		f.valid = true
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			f.value = n
			f.valid = true
		}
		return nil
	}
	// Unrecognized shape; treated as missing.
	return nil
}

// or returns the parsed value, or fallback if the id was missing or malformed.
func (f *flexibleID) or(fallback int) int {
	if f.valid {
		return f.value
	}
	return fallback
}

// ParseFromOutput extracts and parses an ExecutionPlan from raw planning
// agent output. A structurally empty plan (zero phases) is an error: the
// planning job is treated as failed, matching the planner contract.
func ParseFromOutput(output string) (*ExecutionPlan, error) {
	raw, err := ExtractJSON(output)
	if err != nil {
		return nil, fmt.Errorf("failed to locate plan JSON: %w", err)
	}

	p, err := ParseJSON(raw)
	if err != nil {
		return nil, err
	}
	p.RawOutput = output
	return p, nil
}

// ParseJSON parses an ExecutionPlan from a JSON document, coercing
// non-integer agent and phase ids to positional indices.
func ParseJSON(data []byte) (*ExecutionPlan, error) {
	var rawPlan struct {
		Summary string `json:"summary"`
		Phases  []struct {
			PhaseID     flexibleID `json:"phase_id"`
			Name        string     `json:"name"`
			Description string     `json:"description"`
			Parallel    bool       `json:"parallel"`
			Agents      []struct {
				AgentID     flexibleID `json:"agent_id"`
				Theme       string     `json:"theme"`
				TaskIndices []int      `json:"task_indices"`
				Rationale   string     `json:"rationale"`
				AgentPrompt string     `json:"agent_prompt"`
			} `json:"agents"`
		} `json:"phases"`
		SuccessCriteria      []string `json:"success_criteria"`
		EstimatedTotalAgents int      `json:"estimated_total_agents"`
		Warnings             []string `json:"warnings"`
	}

	if err := json.Unmarshal(data, &rawPlan); err != nil {
		return nil, fmt.Errorf("failed to parse plan JSON: %w", err)
	}

	if len(rawPlan.Phases) == 0 {
		return nil, fmt.Errorf("plan contains no phases")
	}

	phases := make([]Phase, len(rawPlan.Phases))
	for i, rp := range rawPlan.Phases {
		agents := make([]AgentAssignment, len(rp.Agents))
		for j, ra := range rp.Agents {
			agents[j] = AgentAssignment{
				AgentID:     ra.AgentID.or(j),
				Theme:       ra.Theme,
				TaskIndices: ra.TaskIndices,
				Rationale:   ra.Rationale,
				AgentPrompt: ra.AgentPrompt,
			}
		}
		phases[i] = Phase{
			PhaseID:     rp.PhaseID.or(i),
			Name:        rp.Name,
			Description: rp.Description,
			Parallel:    rp.Parallel,
			Agents:      agents,
		}
	}

	return &ExecutionPlan{
		Summary:              rawPlan.Summary,
		Phases:               phases,
		SuccessCriteria:      rawPlan.SuccessCriteria,
		EstimatedTotalAgents: rawPlan.EstimatedTotalAgents,
		Warnings:             rawPlan.Warnings,
	}, nil
}

// ParseVerificationFromOutput extracts and parses a VerificationResult from
// raw verification agent output.
func ParseVerificationFromOutput(output string) (*VerificationResult, error) {
	raw, err := ExtractJSON(output)
	if err != nil {
		return nil, fmt.Errorf("failed to locate verification JSON: %w", err)
	}

	var vr VerificationResult
	if err := json.Unmarshal(raw, &vr); err != nil {
		return nil, fmt.Errorf("failed to parse verification JSON: %w", err)
	}
	vr.RawOutput = output
	return &vr, nil
}
