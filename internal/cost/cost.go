// Package cost estimates and accumulates API spend for a run.
//
// Pricing follows the published per-million-token rates. The accumulator is
// safe for concurrent use by workers and guarantees the run total never
// decreases: partial-output estimates from failed workers still count.
package cost

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// Rate is the USD price per one million tokens.
type Rate struct {
	Input  float64
	Output float64
}

// DefaultModel is used for estimation when a worker reports no model.
const DefaultModel = "claude-3-5-sonnet-latest"

// pricing maps model identifiers to per-1M-token rates.
var pricing = map[string]Rate{
	"claude-3-5-sonnet-20241022": {Input: 3.00, Output: 15.00},
	"claude-3-5-sonnet-latest":   {Input: 3.00, Output: 15.00},
	"claude-3-5-haiku-20241022":  {Input: 0.80, Output: 4.00},
	"claude-3-5-haiku-latest":    {Input: 0.80, Output: 4.00},
	"claude-3-opus-20240229":     {Input: 15.00, Output: 75.00},
	"claude-3-opus-latest":       {Input: 15.00, Output: 75.00},
	"claude-3-sonnet-20240229":   {Input: 3.00, Output: 15.00},
	"claude-3-haiku-20240307":    {Input: 0.25, Output: 1.25},
	"claude-sonnet-4-20250514":   {Input: 3.00, Output: 15.00},
	"claude-opus-4-20250514":     {Input: 15.00, Output: 75.00},
}

// RateFor returns the pricing for a model, falling back to the default
// model's rate when the model is unknown.
func RateFor(model string) Rate {
	if r, ok := pricing[model]; ok {
		return r
	}
	return pricing[DefaultModel]
}

// TokenUsage is the token consumption reported by a single agent session.
type TokenUsage struct {
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Model        string `json:"model,omitempty"`
}

// TotalTokens returns input plus output tokens.
func (u TokenUsage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}

// Estimate returns the estimated USD cost for a usage record.
func Estimate(u TokenUsage) float64 {
	model := u.Model
	if model == "" {
		model = DefaultModel
	}
	r := RateFor(model)
	return float64(u.InputTokens)*r.Input/1_000_000 +
		float64(u.OutputTokens)*r.Output/1_000_000
}

// Accumulator aggregates spend across all workers of a run.
//
// Each worker owns one slot keyed by agent id; re-recording a slot replaces
// the previous estimate but Total never reports less than its high-water
// mark, so observers polling during replacement see a monotonic series.
type Accumulator struct {
	mu        sync.Mutex
	byAgent   map[int]float64
	overhead  float64 // planner + verifier spend, not attributable to an agent
	highWater float64
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{byAgent: make(map[int]float64)}
}

// RecordAgent sets the current spend estimate for one agent.
func (a *Accumulator) RecordAgent(agentID int, usd float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if usd < 0 {
		usd = 0
	}
	if usd < a.byAgent[agentID] {
		// A later, smaller estimate never lowers the slot.
		return
	}
	a.byAgent[agentID] = usd
	a.updateHighWaterLocked()
}

// RecordOverhead adds non-worker spend (planning, verification).
func (a *Accumulator) RecordOverhead(usd float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if usd > 0 {
		a.overhead += usd
		a.updateHighWaterLocked()
	}
}

// AgentCost returns the current estimate for one agent.
func (a *Accumulator) AgentCost(agentID int) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.byAgent[agentID]
}

// Total returns the run-wide spend estimate. Monotonically non-decreasing
// across calls.
func (a *Accumulator) Total() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.highWater
}

func (a *Accumulator) updateHighWaterLocked() {
	sum := a.overhead
	for _, c := range a.byAgent {
		sum += c
	}
	if sum > a.highWater {
		a.highWater = sum
	}
}

// FormatUSD renders a spend figure for status output.
func FormatUSD(usd float64) string {
	return fmt.Sprintf("$%.4f", usd)
}

// ParseUsageStream reads a stream-json agent transcript and sums the token
// usage across all entries. Lines that are not valid JSON or carry no usage
// block are skipped. Returns nil when the stream reported no tokens at all.
func ParseUsageStream(r io.Reader) (*TokenUsage, error) {
	var total TokenUsage

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var entry struct {
			Model string `json:"model"`
			Usage *struct {
				InputTokens  int    `json:"input_tokens"`
				OutputTokens int    `json:"output_tokens"`
				Model        string `json:"model"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if entry.Usage == nil {
			continue
		}
		total.InputTokens += entry.Usage.InputTokens
		total.OutputTokens += entry.Usage.OutputTokens
		switch {
		case entry.Model != "":
			total.Model = entry.Model
		case entry.Usage.Model != "":
			total.Model = entry.Usage.Model
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read usage stream: %w", err)
	}

	if total.TotalTokens() == 0 {
		return nil, nil
	}
	if total.Model == "" {
		total.Model = DefaultModel
	}
	return &total, nil
}

// ParseUsageFile parses aggregate token usage from a transcript file on disk.
func ParseUsageFile(path string) (*TokenUsage, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open usage file: %w", err)
	}
	defer f.Close()
	return ParseUsageStream(f)
}
