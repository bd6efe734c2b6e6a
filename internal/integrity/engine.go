package integrity

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvariantViolated is returned by Engine.Score when scoring failed
// closed. The accompanying result is always score 0 with no flags.
var ErrInvariantViolated = errors.New("scoring invariant violated")

// Engine scores metrics bundles against an immutable rule configuration.
// It is safe for concurrent use.
type Engine struct {
	cfg RuleConfig
}

// NewEngine validates cfg and returns an engine using it.
func NewEngine(cfg RuleConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

var defaultEngine = &Engine{cfg: DefaultRuleConfig()}

// DefaultEngine returns the engine backing ComputeSuspicionScore.
func DefaultEngine() *Engine { return defaultEngine }

// Config returns a copy of the engine's rule configuration.
func (e *Engine) Config() RuleConfig { return e.cfg }

// RulesVersion identifies the rule table persisted alongside scores.
func (e *Engine) RulesVersion() string { return e.cfg.Version }

// Extract sanitizes b and runs every feature extractor over it.
func (e *Engine) Extract(b MetricsBundle) FeatureSet {
	s := e.cfg.Sanitizer.Sanitize(b)
	return FeatureSet{
		Mouse:     ExtractMouse(s.Mouse, e.cfg.Mouse.IdleDisplacementPx),
		Keystroke: ExtractKeystroke(s.Keystrokes, s.Questions),
		Timing:    ExtractTiming(s.Timing, e.cfg.Timing.MinPlausibleDurationMs),
		Device:    ExtractDevice(s.Device, e.cfg.Device.MinIdentitySignals),
	}
}

// Score runs the full pipeline. It never panics: on an internal fault it
// returns score 0, an empty flag list and ErrInvariantViolated.
func (e *Engine) Score(b MetricsBundle) (res SuspicionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = failClosed(fmt.Errorf("%w: panic: %v", ErrInvariantViolated, r))
		}
	}()

	flags := e.cfg.Evaluate(e.Extract(b))
	res = SuspicionResult{Score: Aggregate(flags), Flags: flags}
	if err := checkResult(res); err != nil {
		return failClosed(err)
	}
	return res, nil
}

// ComputeSuspicionScore is Score without the error: faults are already
// folded into the fail-closed result.
func (e *Engine) ComputeSuspicionScore(b MetricsBundle) SuspicionResult {
	res, _ := e.Score(b)
	return res
}

// ComputeSuspicionScore scores b with the default rule table.
func ComputeSuspicionScore(b MetricsBundle) SuspicionResult {
	return defaultEngine.ComputeSuspicionScore(b)
}

func failClosed(err error) (SuspicionResult, error) {
	return SuspicionResult{Score: 0, Flags: []Flag{}}, err
}

func checkResult(r SuspicionResult) error {
	if math.IsNaN(r.Score) || r.Score < 0 || r.Score > 1 {
		return fmt.Errorf("%w: score %v outside [0,1]", ErrInvariantViolated, r.Score)
	}
	if r.Flags == nil {
		return fmt.Errorf("%w: nil flag list", ErrInvariantViolated)
	}
	seen := make(map[string]bool, len(r.Flags))
	for _, f := range r.Flags {
		if seen[f.Code] {
			return fmt.Errorf("%w: duplicate flag %s", ErrInvariantViolated, f.Code)
		}
		seen[f.Code] = true
		if math.IsNaN(f.Weight) || f.Weight < 0 || f.Weight > 1 {
			return fmt.Errorf("%w: flag %s weight %v outside [0,1]", ErrInvariantViolated, f.Code, f.Weight)
		}
	}
	return nil
}
