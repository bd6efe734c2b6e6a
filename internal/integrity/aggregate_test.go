package integrity

import (
	"math"
	"testing"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name    string
		weights []float64
		want    float64
	}{
		{"no flags", nil, 0},
		{"single flag", []float64{0.25}, 0.25},
		{"two flags", []float64{0.5, 0.5}, 0.75},
		{"certain flag", []float64{1, 0.2}, 1},
		{"out of range weights are clamped", []float64{1.5, -0.3}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := make([]Flag, len(tt.weights))
			for i, w := range tt.weights {
				flags[i] = Flag{Code: ruleOrder[i], Weight: w}
			}
			if got := Aggregate(flags); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestAggregateAllSevenRules(t *testing.T) {
	cfg := DefaultRuleConfig()
	bases := []float64{
		cfg.Mouse.NoData.Base,
		cfg.Mouse.Linear.Base,
		cfg.Keystroke.NoData.Base,
		cfg.Keystroke.Uniform.Base,
		cfg.Timing.TooFast.Base,
		cfg.Device.Automation.Base,
		cfg.Device.LowEntropy.Base,
	}

	flags := make([]Flag, len(bases))
	miss := 1.0
	for i, w := range bases {
		flags[i] = Flag{Code: ruleOrder[i], Weight: w}
		miss *= 1 - w
	}

	got := Aggregate(flags)
	want := math.Round((1-miss)*1e4) / 1e4
	if got != want {
		t.Errorf("expected noisy-OR %v, got %v", want, got)
	}
	if got > 1 || got < 0 {
		t.Errorf("score %v out of bounds", got)
	}
	if math.Abs(got-0.9304) > 1e-9 {
		t.Errorf("expected 0.9304, got %v", got)
	}
}

func TestAggregateMonotonic(t *testing.T) {
	var flags []Flag
	prev := Aggregate(flags)
	for _, code := range ruleOrder {
		flags = append(flags, Flag{Code: code, Weight: 0.2})
		next := Aggregate(flags)
		if next < prev {
			t.Fatalf("adding %s lowered the score from %v to %v", code, prev, next)
		}
		prev = next
	}
}
