package integrity

import (
	"errors"
	"fmt"
)

// Weight is the contribution of one rule. Graded rules escalate linearly
// from Base at the threshold to Max at the feature's extreme; when Max is
// below Base the rule always emits Base.
type Weight struct {
	Base float64 `mapstructure:"weight" json:"weight"`
	Max  float64 `mapstructure:"max_weight" json:"max_weight"`
}

// at returns the weight for a severity in [0,1].
func (w Weight) at(severity float64) float64 {
	hi := w.Max
	if hi < w.Base {
		hi = w.Base
	}
	return w.Base + (hi-w.Base)*clamp01(severity)
}

// SanitizerConfig bounds the work done per scoring call
type SanitizerConfig struct {
	MaxMouseSamples        int     `mapstructure:"max_mouse_samples" json:"max_mouse_samples"`
	MaxKeystrokes          int     `mapstructure:"max_keystrokes" json:"max_keystrokes"`
	MaxCoordinate          float64 `mapstructure:"max_coordinate" json:"max_coordinate"`
	MaxQuestionDurationMs  int64   `mapstructure:"max_question_duration_ms" json:"max_question_duration_ms"`
	MaxFingerprintValueLen int     `mapstructure:"max_fingerprint_value_len" json:"max_fingerprint_value_len"`
}

type MouseRules struct {
	NoData Weight `mapstructure:"no_data" json:"no_data"`
	Linear Weight `mapstructure:"linear" json:"linear"`

	// LinearTortuosityMax is the tortuosity below which a path counts as a straight line.
	LinearTortuosityMax float64 `mapstructure:"linear_tortuosity_max" json:"linear_tortuosity_max"`
	// MinPathLengthPx keeps a pointer that never moved from reading as linear.
	MinPathLengthPx    float64 `mapstructure:"min_path_length_px" json:"min_path_length_px"`
	IdleDisplacementPx float64 `mapstructure:"idle_displacement_px" json:"idle_displacement_px"`
}

type KeystrokeRules struct {
	NoData  Weight `mapstructure:"no_data" json:"no_data"`
	Uniform Weight `mapstructure:"uniform" json:"uniform"`

	UniformStdDevMs float64 `mapstructure:"uniform_stddev_ms" json:"uniform_stddev_ms"`
	MinEvents       int     `mapstructure:"min_events" json:"min_events"`
	// WeakEvidenceFactor scales NO_KEYSTROKE_DATA when no question metadata was supplied.
	WeakEvidenceFactor float64 `mapstructure:"weak_evidence_factor" json:"weak_evidence_factor"`
}

type TimingRules struct {
	TooFast Weight `mapstructure:"too_fast" json:"too_fast"`

	MinPlausibleDurationMs int64   `mapstructure:"min_plausible_duration_ms" json:"min_plausible_duration_ms"`
	FastFractionThreshold  float64 `mapstructure:"fast_fraction_threshold" json:"fast_fraction_threshold"`
}

type DeviceRules struct {
	Automation Weight `mapstructure:"automation" json:"automation"`
	LowEntropy Weight `mapstructure:"low_entropy" json:"low_entropy"`

	LowEntropyThreshold float64 `mapstructure:"low_entropy_threshold" json:"low_entropy_threshold"`
	MinIdentitySignals  int     `mapstructure:"min_identity_signals" json:"min_identity_signals"`
}

// RuleConfig is the full threshold and weight table. It is loaded once at
// process start and must not be mutated afterwards.
type RuleConfig struct {
	Version   string          `mapstructure:"version" json:"version"`
	Sanitizer SanitizerConfig `mapstructure:"sanitizer" json:"sanitizer"`
	Mouse     MouseRules      `mapstructure:"mouse" json:"mouse"`
	Keystroke KeystrokeRules  `mapstructure:"keystroke" json:"keystroke"`
	Timing    TimingRules     `mapstructure:"timing" json:"timing"`
	Device    DeviceRules     `mapstructure:"device" json:"device"`
}

// DefaultRuleConfig returns the shipped rule table.
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		Version: "2025.1",
		Sanitizer: SanitizerConfig{
			MaxMouseSamples:        5000,
			MaxKeystrokes:          5000,
			MaxCoordinate:          1e6,
			MaxQuestionDurationMs:  60 * 60 * 1000, // 1 hour
			MaxFingerprintValueLen: 512,
		},
		Mouse: MouseRules{
			NoData:              Weight{Base: 0.25},
			Linear:              Weight{Base: 0.30, Max: 0.45},
			LinearTortuosityMax: 1.02,
			MinPathLengthPx:     1.0,
			IdleDisplacementPx:  1.0,
		},
		Keystroke: KeystrokeRules{
			NoData:             Weight{Base: 0.20},
			Uniform:            Weight{Base: 0.25, Max: 0.40},
			UniformStdDevMs:    10,
			MinEvents:          5,
			WeakEvidenceFactor: 0.5,
		},
		Timing: TimingRules{
			TooFast:                Weight{Base: 0.35, Max: 0.70},
			MinPlausibleDurationMs: 600,
			FastFractionThreshold:  0.30,
		},
		Device: DeviceRules{
			Automation:          Weight{Base: 0.60},
			LowEntropy:          Weight{Base: 0.15},
			LowEntropyThreshold: 0.35,
			MinIdentitySignals:  3,
		},
	}
}

// ErrInvalidRuleConfig is returned by Validate for out-of-range settings.
var ErrInvalidRuleConfig = errors.New("invalid rule config")

// Validate checks weights and thresholds for values that would break the
// scoring invariants.
func (c RuleConfig) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("%w: version is required", ErrInvalidRuleConfig)
	}

	weights := map[string]Weight{
		CodeNoMouseData:         c.Mouse.NoData,
		CodeLinearMousePath:     c.Mouse.Linear,
		CodeNoKeystrokeData:     c.Keystroke.NoData,
		CodeUniformTypingRhythm: c.Keystroke.Uniform,
		CodeTooFastResponses:    c.Timing.TooFast,
		CodeAutomationSignature: c.Device.Automation,
		CodeLowEntropyDevice:    c.Device.LowEntropy,
	}
	for _, code := range ruleOrder {
		w := weights[code]
		if w.Base < 0 || w.Base > 1 {
			return fmt.Errorf("%w: %s weight %v outside [0,1]", ErrInvalidRuleConfig, code, w.Base)
		}
		if w.Max > 1 || w.Max < 0 {
			return fmt.Errorf("%w: %s max_weight %v outside [0,1]", ErrInvalidRuleConfig, code, w.Max)
		}
	}

	s := c.Sanitizer
	if s.MaxMouseSamples < 2 || s.MaxKeystrokes < 2 {
		return fmt.Errorf("%w: sample caps must be at least 2", ErrInvalidRuleConfig)
	}
	if s.MaxCoordinate <= 0 || s.MaxQuestionDurationMs <= 0 || s.MaxFingerprintValueLen <= 0 {
		return fmt.Errorf("%w: sanitizer limits must be positive", ErrInvalidRuleConfig)
	}
	if c.Mouse.LinearTortuosityMax <= 1 {
		return fmt.Errorf("%w: linear_tortuosity_max must be greater than 1", ErrInvalidRuleConfig)
	}
	if c.Keystroke.MinEvents < 3 {
		return fmt.Errorf("%w: keystroke min_events must be at least 3", ErrInvalidRuleConfig)
	}
	if c.Keystroke.UniformStdDevMs <= 0 {
		return fmt.Errorf("%w: uniform_stddev_ms must be positive", ErrInvalidRuleConfig)
	}
	if c.Keystroke.WeakEvidenceFactor < 0 || c.Keystroke.WeakEvidenceFactor > 1 {
		return fmt.Errorf("%w: weak_evidence_factor outside [0,1]", ErrInvalidRuleConfig)
	}
	if c.Timing.MinPlausibleDurationMs <= 0 {
		return fmt.Errorf("%w: min_plausible_duration_ms must be positive", ErrInvalidRuleConfig)
	}
	if c.Timing.FastFractionThreshold < 0 || c.Timing.FastFractionThreshold >= 1 {
		return fmt.Errorf("%w: fast_fraction_threshold outside [0,1)", ErrInvalidRuleConfig)
	}
	if c.Device.LowEntropyThreshold < 0 || c.Device.LowEntropyThreshold > 1 {
		return fmt.Errorf("%w: low_entropy_threshold outside [0,1]", ErrInvalidRuleConfig)
	}
	if c.Device.MinIdentitySignals < 1 {
		return fmt.Errorf("%w: min_identity_signals must be at least 1", ErrInvalidRuleConfig)
	}
	return nil
}
