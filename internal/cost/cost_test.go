package cost

import (
	"math"
	"strings"
	"sync"
	"testing"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		name  string
		usage TokenUsage
		want  float64
	}{
		{
			name:  "sonnet rates",
			usage: TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000, Model: "claude-3-5-sonnet-latest"},
			want:  18.00,
		},
		{
			name:  "haiku rates",
			usage: TokenUsage{InputTokens: 2_000_000, OutputTokens: 500_000, Model: "claude-3-5-haiku-latest"},
			want:  2*0.80 + 0.5*4.00,
		},
		{
			name:  "unknown model falls back to default",
			usage: TokenUsage{InputTokens: 1_000_000, Model: "some-future-model"},
			want:  3.00,
		},
		{
			name:  "empty model falls back to default",
			usage: TokenUsage{OutputTokens: 1_000_000},
			want:  15.00,
		},
		{
			name:  "zero usage",
			usage: TokenUsage{},
			want:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Estimate(tt.usage)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Estimate() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestAccumulatorMonotonic(t *testing.T) {
	acc := NewAccumulator()

	acc.RecordAgent(0, 1.0)
	acc.RecordAgent(1, 2.0)
	if got := acc.Total(); math.Abs(got-3.0) > 1e-9 {
		t.Fatalf("Total() = %f, want 3.0", got)
	}

	// A smaller re-estimate for an agent must not lower the total.
	acc.RecordAgent(1, 0.5)
	if got := acc.Total(); got < 3.0 {
		t.Errorf("Total() = %f decreased below high-water mark", got)
	}

	acc.RecordAgent(1, 4.0)
	if got := acc.Total(); math.Abs(got-5.0) > 1e-9 {
		t.Errorf("Total() = %f, want 5.0 after re-record", got)
	}

	acc.RecordOverhead(0.25)
	if got := acc.Total(); math.Abs(got-5.25) > 1e-9 {
		t.Errorf("Total() = %f, want 5.25 after overhead", got)
	}
}

func TestAccumulatorConcurrent(t *testing.T) {
	acc := NewAccumulator()

	var wg sync.WaitGroup
	for id := 0; id < 8; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 1; i <= 100; i++ {
				acc.RecordAgent(id, float64(i)*0.01)
			}
		}(id)
	}
	wg.Wait()

	want := 8.0 // 8 agents x final estimate 1.00
	if got := acc.Total(); math.Abs(got-want) > 1e-9 {
		t.Errorf("Total() = %f, want %f", got, want)
	}
}

func TestParseUsageStream(t *testing.T) {
	stream := strings.Join([]string{
		`{"type":"system","subtype":"init"}`,
		`{"model":"claude-3-5-sonnet-latest","usage":{"input_tokens":100,"output_tokens":50}}`,
		`not json at all`,
		`{"usage":{"input_tokens":200,"output_tokens":25}}`,
		`{"type":"result","no_usage":true}`,
	}, "\n")

	u, err := ParseUsageStream(strings.NewReader(stream))
	if err != nil {
		t.Fatalf("ParseUsageStream failed: %v", err)
	}
	if u == nil {
		t.Fatal("expected non-nil usage")
	}
	if u.InputTokens != 300 || u.OutputTokens != 75 {
		t.Errorf("usage = %d/%d, want 300/75", u.InputTokens, u.OutputTokens)
	}
	if u.Model != "claude-3-5-sonnet-latest" {
		t.Errorf("Model = %q", u.Model)
	}
	if u.TotalTokens() != 375 {
		t.Errorf("TotalTokens() = %d, want 375", u.TotalTokens())
	}
}

func TestParseUsageStreamEmpty(t *testing.T) {
	u, err := ParseUsageStream(strings.NewReader(`{"type":"noise"}`))
	if err != nil {
		t.Fatalf("ParseUsageStream failed: %v", err)
	}
	if u != nil {
		t.Errorf("expected nil usage for stream without tokens, got %+v", u)
	}
}

func TestFormatUSD(t *testing.T) {
	if got := FormatUSD(1.23456); got != "$1.2346" {
		t.Errorf("FormatUSD = %q", got)
	}
}
