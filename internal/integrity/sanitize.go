package integrity

import (
	"math"
	"sort"
	"unicode/utf8"
)

// SanitizedTiming is a TimingEntry after validation. Entries with an
// implausible duration are kept with Valid=false so the question reference
// survives as "missing timing".
type SanitizedTiming struct {
	QuestionID    string
	StartedAtMs   int64
	SubmittedAtMs int64
	DurationMs    int64
	Valid         bool
}

// SanitizedBundle is the cleaned, bounded form of a MetricsBundle
type SanitizedBundle struct {
	Mouse      []MouseSample
	Keystrokes []KeystrokeEvent
	Timing     []SanitizedTiming
	Device     DeviceFingerprint
	Questions  []QuestionMeta
}

// Sanitize cleans a bundle with the default limits.
func Sanitize(b MetricsBundle) SanitizedBundle {
	return DefaultRuleConfig().Sanitizer.Sanitize(b)
}

// Sanitize drops malformed samples, orders channels by time and caps their
// length. It never fails: the worst case is a bundle of empty channels.
// The input bundle is not modified.
func (s SanitizerConfig) Sanitize(b MetricsBundle) SanitizedBundle {
	out := SanitizedBundle{
		Mouse:      s.sanitizeMouse(b.MouseMovements),
		Keystrokes: s.sanitizeKeystrokes(b.KeystrokeDynamics),
		Timing:     s.sanitizeTiming(b.ResponseTime),
		Device:     s.sanitizeDevice(b.DeviceFingerprint),
	}
	if len(b.Questions) > 0 {
		out.Questions = append([]QuestionMeta(nil), b.Questions...)
	}
	return out
}

func (s SanitizerConfig) sanitizeMouse(in []MouseSample) []MouseSample {
	if len(in) == 0 {
		return nil
	}

	valid := make([]MouseSample, 0, len(in))
	for _, m := range in {
		if !isFinite(m.X) || !isFinite(m.Y) || m.TMs < 0 {
			continue
		}
		m.X = clampAbs(m.X, s.MaxCoordinate)
		m.Y = clampAbs(m.Y, s.MaxCoordinate)
		valid = append(valid, m)
	}
	sort.SliceStable(valid, func(i, j int) bool { return valid[i].TMs < valid[j].TMs })

	// Only the first sample of a duplicate-timestamp run is kept.
	deduped := make([]MouseSample, 0, len(valid))
	for i, m := range valid {
		if i > 0 && m.TMs == valid[i-1].TMs {
			continue
		}
		deduped = append(deduped, m)
	}

	return strideSample(deduped, s.MaxMouseSamples)
}

func (s SanitizerConfig) sanitizeKeystrokes(in []KeystrokeEvent) []KeystrokeEvent {
	if len(in) == 0 {
		return nil
	}

	valid := make([]KeystrokeEvent, 0, len(in))
	for _, k := range in {
		if k.DownMs < 0 || k.UpMs < k.DownMs {
			continue
		}
		switch k.KeyClass {
		case KeyPrintable, KeyControl, KeyNavigation:
			valid = append(valid, k)
		}
	}
	sort.SliceStable(valid, func(i, j int) bool { return valid[i].DownMs < valid[j].DownMs })

	// The cap keeps a contiguous run so consecutive gaps stay real gaps.
	if len(valid) > s.MaxKeystrokes {
		valid = valid[:s.MaxKeystrokes]
	}
	return valid
}

func (s SanitizerConfig) sanitizeTiming(in []TimingEntry) []SanitizedTiming {
	if len(in) == 0 {
		return nil
	}

	out := make([]SanitizedTiming, 0, len(in))
	for _, t := range in {
		d := t.SubmittedAtMs - t.StartedAtMs
		st := SanitizedTiming{
			QuestionID:    t.QuestionID,
			StartedAtMs:   t.StartedAtMs,
			SubmittedAtMs: t.SubmittedAtMs,
		}
		if d >= 0 && d <= s.MaxQuestionDurationMs {
			st.DurationMs = d
			st.Valid = true
		}
		out = append(out, st)
	}
	return out
}

func (s SanitizerConfig) sanitizeDevice(in DeviceFingerprint) DeviceFingerprint {
	if in == nil {
		return nil
	}
	out := make(DeviceFingerprint, len(in))
	for k, v := range in {
		out[k] = s.trimValue(v, 0)
	}
	return out
}

const maxFingerprintDepth = 4

// trimValue copies v, shortening oversized strings. Nested containers past
// maxFingerprintDepth are dropped.
func (s SanitizerConfig) trimValue(v any, depth int) any {
	switch val := v.(type) {
	case string:
		return trimString(val, s.MaxFingerprintValueLen)
	case []string:
		out := make([]string, len(val))
		for i, e := range val {
			out[i] = trimString(e, s.MaxFingerprintValueLen)
		}
		return out
	case []any:
		if depth >= maxFingerprintDepth {
			return nil
		}
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = s.trimValue(e, depth+1)
		}
		return out
	case map[string]any:
		if depth >= maxFingerprintDepth {
			return nil
		}
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = s.trimValue(e, depth+1)
		}
		return out
	default:
		return v
	}
}

// trimString cuts s to at most n bytes without splitting a UTF-8 sequence.
func trimString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// strideSample keeps limit elements at a uniform stride, always retaining
// the first and last element.
func strideSample[T any](in []T, limit int) []T {
	n := len(in)
	if n <= limit || limit < 2 {
		return in
	}
	out := make([]T, limit)
	for i := 0; i < limit; i++ {
		out[i] = in[i*(n-1)/(limit-1)]
	}
	return out
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func clampAbs(f, limit float64) float64 {
	if f > limit {
		return limit
	}
	if f < -limit {
		return -limit
	}
	return f
}
