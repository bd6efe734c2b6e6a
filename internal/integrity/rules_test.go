package integrity

import (
	"math"
	"testing"
)

func TestEvaluateRules(t *testing.T) {
	natural := FeatureSet{
		Mouse:     MouseFeatures{Available: true, SampleCount: 40, TotalPathLength: 700, PathTortuosity: 1.4},
		Keystroke: KeystrokeFeatures{Available: true, EventCount: 30, IntervalCount: 29, InterKeyIntervalStdDevMs: 120},
		Timing:    TimingFeatures{Available: true, ValidCount: 5, FractionBelowFloor: 0},
		Device:    DeviceFeatures{Available: true, EntropyAvailable: true, EntropyScore: 0.9, IdentitySignals: 8},
	}

	tests := []struct {
		name   string
		modify func(f *FeatureSet)
		want   map[string]float64
	}{
		{"natural", func(f *FeatureSet) {}, map[string]float64{}},
		{"no mouse", func(f *FeatureSet) { f.Mouse = MouseFeatures{} }, map[string]float64{CodeNoMouseData: 0.25}},
		{"exact straight line", func(f *FeatureSet) { f.Mouse.PathTortuosity = 1 }, map[string]float64{CodeLinearMousePath: 0.45}},
		{"just under linear threshold", func(f *FeatureSet) { f.Mouse.PathTortuosity = 1.0199999 }, map[string]float64{CodeLinearMousePath: 0.30}},
		{"stationary pointer is not linear", func(f *FeatureSet) {
			f.Mouse.PathTortuosity = 1
			f.Mouse.TotalPathLength = 0
		}, map[string]float64{}},
		{"no keystrokes with free text expected", func(f *FeatureSet) {
			f.Keystroke = KeystrokeFeatures{MetadataKnown: true, FreeTextExpected: true}
		}, map[string]float64{CodeNoKeystrokeData: 0.20}},
		{"no keystrokes with choice questions only", func(f *FeatureSet) {
			f.Keystroke = KeystrokeFeatures{MetadataKnown: true}
		}, map[string]float64{}},
		{"no keystrokes without metadata", func(f *FeatureSet) {
			f.Keystroke = KeystrokeFeatures{}
		}, map[string]float64{CodeNoKeystrokeData: 0.10}},
		{"no keystrokes and no timing", func(f *FeatureSet) {
			f.Keystroke = KeystrokeFeatures{}
			f.Timing = TimingFeatures{}
		}, map[string]float64{}},
		{"machine typing", func(f *FeatureSet) { f.Keystroke.InterKeyIntervalStdDevMs = 0 }, map[string]float64{CodeUniformTypingRhythm: 0.40}},
		{"uniform typing below min events", func(f *FeatureSet) {
			f.Keystroke.InterKeyIntervalStdDevMs = 0
			f.Keystroke.EventCount = 4
			f.Keystroke.IntervalCount = 3
		}, map[string]float64{}},
		{"all answers too fast", func(f *FeatureSet) { f.Timing.FractionBelowFloor = 1 }, map[string]float64{CodeTooFastResponses: 0.70}},
		{"fast fraction at threshold", func(f *FeatureSet) { f.Timing.FractionBelowFloor = 0.30 }, map[string]float64{}},
		{"half too fast", func(f *FeatureSet) { f.Timing.FractionBelowFloor = 0.65 }, map[string]float64{CodeTooFastResponses: 0.525}},
		{"automation marker", func(f *FeatureSet) {
			f.Device.AutomationMarkers = []string{"webdriver"}
		}, map[string]float64{CodeAutomationSignature: 0.60}},
		{"low entropy", func(f *FeatureSet) { f.Device.EntropyScore = 0.1 }, map[string]float64{CodeLowEntropyDevice: 0.15}},
		{"low entropy unavailable", func(f *FeatureSet) {
			f.Device.EntropyScore = 0
			f.Device.EntropyAvailable = false
		}, map[string]float64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := natural
			f.Device.AutomationMarkers = nil
			tt.modify(&f)

			flags := Evaluate(f)
			if len(flags) != len(tt.want) {
				t.Fatalf("expected %d flags, got %+v", len(tt.want), flags)
			}
			for _, fl := range flags {
				w, ok := tt.want[fl.Code]
				if !ok {
					t.Errorf("unexpected flag %s", fl.Code)
					continue
				}
				if math.Abs(fl.Weight-w) > 1e-9 {
					t.Errorf("%s: expected weight %v, got %v", fl.Code, w, fl.Weight)
				}
				if fl.Evidence == "" {
					t.Errorf("%s: missing evidence", fl.Code)
				}
			}
		})
	}
}

func TestEvaluateOrderAndIndependence(t *testing.T) {
	f := FeatureSet{
		Keystroke: KeystrokeFeatures{MetadataKnown: true, FreeTextExpected: true},
		Timing:    TimingFeatures{Available: true, ValidCount: 3, FractionBelowFloor: 1},
		Device: DeviceFeatures{
			Available:         true,
			AutomationMarkers: []string{"webdriver"},
			EntropyAvailable:  true,
			EntropyScore:      0,
		},
	}
	flags := Evaluate(f)
	want := []string{CodeNoMouseData, CodeNoKeystrokeData, CodeTooFastResponses, CodeAutomationSignature, CodeLowEntropyDevice}
	if len(flags) != len(want) {
		t.Fatalf("expected %v, got %+v", want, flags)
	}
	for i, code := range want {
		if flags[i].Code != code {
			t.Errorf("flag %d: expected %s, got %s", i, code, flags[i].Code)
		}
	}
}

func TestEvaluateDisabledRule(t *testing.T) {
	cfg := DefaultRuleConfig()
	cfg.Mouse.NoData = Weight{}
	if flags := cfg.Evaluate(FeatureSet{}); len(flags) != 0 {
		t.Errorf("expected disabled rule to stay silent, got %+v", flags)
	}
}

func TestWeightAt(t *testing.T) {
	tests := []struct {
		name     string
		w        Weight
		severity float64
		want     float64
	}{
		{"base at zero", Weight{Base: 0.3, Max: 0.5}, 0, 0.3},
		{"max at one", Weight{Base: 0.3, Max: 0.5}, 1, 0.5},
		{"midpoint", Weight{Base: 0.3, Max: 0.5}, 0.5, 0.4},
		{"severity clamped", Weight{Base: 0.3, Max: 0.5}, 7, 0.5},
		{"max below base", Weight{Base: 0.3}, 1, 0.3},
		{"nan severity", Weight{Base: 0.3, Max: 0.5}, math.NaN(), 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.w.at(tt.severity); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
