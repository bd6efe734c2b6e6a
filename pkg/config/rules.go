package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/shortontech/surveyguard/internal/integrity"
)

// RulesEnvPrefix prefixes environment overrides of the rule table,
// e.g. SURVEYGUARD_RULES_TIMING_MIN_PLAUSIBLE_DURATION_MS.
const RulesEnvPrefix = "SURVEYGUARD_RULES"

func setRuleDefaults(v *viper.Viper, d integrity.RuleConfig) {
	v.SetDefault("version", d.Version)

	v.SetDefault("sanitizer.max_mouse_samples", d.Sanitizer.MaxMouseSamples)
	v.SetDefault("sanitizer.max_keystrokes", d.Sanitizer.MaxKeystrokes)
	v.SetDefault("sanitizer.max_coordinate", d.Sanitizer.MaxCoordinate)
	v.SetDefault("sanitizer.max_question_duration_ms", d.Sanitizer.MaxQuestionDurationMs)
	v.SetDefault("sanitizer.max_fingerprint_value_len", d.Sanitizer.MaxFingerprintValueLen)

	setWeight(v, "mouse.no_data", d.Mouse.NoData)
	setWeight(v, "mouse.linear", d.Mouse.Linear)
	v.SetDefault("mouse.linear_tortuosity_max", d.Mouse.LinearTortuosityMax)
	v.SetDefault("mouse.min_path_length_px", d.Mouse.MinPathLengthPx)
	v.SetDefault("mouse.idle_displacement_px", d.Mouse.IdleDisplacementPx)

	setWeight(v, "keystroke.no_data", d.Keystroke.NoData)
	setWeight(v, "keystroke.uniform", d.Keystroke.Uniform)
	v.SetDefault("keystroke.uniform_stddev_ms", d.Keystroke.UniformStdDevMs)
	v.SetDefault("keystroke.min_events", d.Keystroke.MinEvents)
	v.SetDefault("keystroke.weak_evidence_factor", d.Keystroke.WeakEvidenceFactor)

	setWeight(v, "timing.too_fast", d.Timing.TooFast)
	v.SetDefault("timing.min_plausible_duration_ms", d.Timing.MinPlausibleDurationMs)
	v.SetDefault("timing.fast_fraction_threshold", d.Timing.FastFractionThreshold)

	setWeight(v, "device.automation", d.Device.Automation)
	setWeight(v, "device.low_entropy", d.Device.LowEntropy)
	v.SetDefault("device.low_entropy_threshold", d.Device.LowEntropyThreshold)
	v.SetDefault("device.min_identity_signals", d.Device.MinIdentitySignals)
}

func setWeight(v *viper.Viper, key string, w integrity.Weight) {
	v.SetDefault(key+".weight", w.Base)
	v.SetDefault(key+".max_weight", w.Max)
}

// LoadRules builds the rule table from the shipped defaults, the optional
// file at path (YAML, JSON or TOML by extension) and SURVEYGUARD_RULES_*
// environment overrides, in increasing precedence. The result is validated.
func LoadRules(path string) (integrity.RuleConfig, error) {
	v := viper.New()
	setRuleDefaults(v, integrity.DefaultRuleConfig())

	v.SetEnvPrefix(RulesEnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return integrity.RuleConfig{}, fmt.Errorf("read rules file %s: %w", path, err)
		}
	}

	var rules integrity.RuleConfig
	if err := v.Unmarshal(&rules); err != nil {
		return integrity.RuleConfig{}, fmt.Errorf("decode rules: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return integrity.RuleConfig{}, err
	}
	return rules, nil
}
