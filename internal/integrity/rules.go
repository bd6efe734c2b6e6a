package integrity

import "fmt"

// FeatureSet is the output of all four extractors for one bundle
type FeatureSet struct {
	Mouse     MouseFeatures     `json:"mouse"`
	Keystroke KeystrokeFeatures `json:"keystroke"`
	Timing    TimingFeatures    `json:"timing"`
	Device    DeviceFeatures    `json:"device"`
}

// ruleOrder fixes the order in which flags are emitted.
var ruleOrder = []string{
	CodeNoMouseData,
	CodeLinearMousePath,
	CodeNoKeystrokeData,
	CodeUniformTypingRhythm,
	CodeTooFastResponses,
	CodeAutomationSignature,
	CodeLowEntropyDevice,
}

// rule is a named predicate over the feature set. It returns the weight and
// evidence of its flag, or ok=false when it does not fire.
type rule func(c RuleConfig, f FeatureSet) (weight float64, evidence string, ok bool)

var rules = map[string]rule{
	CodeNoMouseData:         noMouseData,
	CodeLinearMousePath:     linearMousePath,
	CodeNoKeystrokeData:     noKeystrokeData,
	CodeUniformTypingRhythm: uniformTypingRhythm,
	CodeTooFastResponses:    tooFastResponses,
	CodeAutomationSignature: automationSignature,
	CodeLowEntropyDevice:    lowEntropyDevice,
}

// Evaluate runs every rule independently. A rule whose weight is configured
// as 0 never emits a flag.
func (c RuleConfig) Evaluate(f FeatureSet) []Flag {
	flags := make([]Flag, 0, len(ruleOrder))
	for _, code := range ruleOrder {
		w, evidence, ok := rules[code](c, f)
		if !ok || w <= 0 {
			continue
		}
		flags = append(flags, Flag{Code: code, Weight: round4(clamp01(w)), Evidence: evidence})
	}
	return flags
}

// Evaluate runs the default rule table.
func Evaluate(f FeatureSet) []Flag {
	return DefaultRuleConfig().Evaluate(f)
}

func noMouseData(c RuleConfig, f FeatureSet) (float64, string, bool) {
	if f.Mouse.Available {
		return 0, "", false
	}
	return c.Mouse.NoData.Base, fmt.Sprintf("%d usable pointer samples", f.Mouse.SampleCount), true
}

func linearMousePath(c RuleConfig, f FeatureSet) (float64, string, bool) {
	m := f.Mouse
	limit := c.Mouse.LinearTortuosityMax
	if !m.Available || m.SampleCount < 2 || m.TotalPathLength < c.Mouse.MinPathLengthPx {
		return 0, "", false
	}
	if m.PathTortuosity >= limit {
		return 0, "", false
	}
	severity := (limit - m.PathTortuosity) / (limit - 1)
	return c.Mouse.Linear.at(severity),
		fmt.Sprintf("path tortuosity %.4f below %.4f over %d samples", m.PathTortuosity, limit, m.SampleCount),
		true
}

// noKeystrokeData fires at full weight when question metadata says typing
// was expected. Without metadata the absence of typing is weak evidence and
// only counts once the respondent demonstrably answered questions.
func noKeystrokeData(c RuleConfig, f FeatureSet) (float64, string, bool) {
	k := f.Keystroke
	if k.Available {
		return 0, "", false
	}
	if k.MetadataKnown {
		if !k.FreeTextExpected {
			return 0, "", false
		}
		return c.Keystroke.NoData.Base, "free-text question answered without keystrokes", true
	}
	if !f.Timing.Available {
		return 0, "", false
	}
	return c.Keystroke.NoData.Base * c.Keystroke.WeakEvidenceFactor,
		fmt.Sprintf("%d questions answered without keystrokes", f.Timing.ValidCount),
		true
}

func uniformTypingRhythm(c RuleConfig, f FeatureSet) (float64, string, bool) {
	k := f.Keystroke
	limit := c.Keystroke.UniformStdDevMs
	if !k.Available || k.EventCount < c.Keystroke.MinEvents || k.IntervalCount < 2 {
		return 0, "", false
	}
	if k.InterKeyIntervalStdDevMs >= limit {
		return 0, "", false
	}
	severity := (limit - k.InterKeyIntervalStdDevMs) / limit
	return c.Keystroke.Uniform.at(severity),
		fmt.Sprintf("inter-key interval stddev %.2fms below %.2fms over %d events", k.InterKeyIntervalStdDevMs, limit, k.EventCount),
		true
}

func tooFastResponses(c RuleConfig, f FeatureSet) (float64, string, bool) {
	t := f.Timing
	limit := c.Timing.FastFractionThreshold
	if !t.Available || t.FractionBelowFloor <= limit {
		return 0, "", false
	}
	severity := (t.FractionBelowFloor - limit) / (1 - limit)
	return c.Timing.TooFast.at(severity),
		fmt.Sprintf("%d of %d questions answered under %dms (min %dms)",
			t.BelowFloorCount, t.ValidCount, c.Timing.MinPlausibleDurationMs, t.MinDurationMs),
		true
}

func automationSignature(c RuleConfig, f FeatureSet) (float64, string, bool) {
	if !f.Device.Available || len(f.Device.AutomationMarkers) == 0 {
		return 0, "", false
	}
	return c.Device.Automation.Base, fmt.Sprintf("automation markers: %v", f.Device.AutomationMarkers), true
}

func lowEntropyDevice(c RuleConfig, f FeatureSet) (float64, string, bool) {
	d := f.Device
	if !d.Available || !d.EntropyAvailable || d.EntropyScore >= c.Device.LowEntropyThreshold {
		return 0, "", false
	}
	return c.Device.LowEntropy.Base,
		fmt.Sprintf("fingerprint entropy %.4f below %.4f from %d signals", d.EntropyScore, c.Device.LowEntropyThreshold, d.IdentitySignals),
		true
}
