package integrity

// KeyClass is the coarse category of a key press. Key identities are never captured.
type KeyClass string

const (
	KeyPrintable  KeyClass = "printable"
	KeyControl    KeyClass = "control"
	KeyNavigation KeyClass = "navigation"
)

// MouseSample is a single pointer position relative to session start
type MouseSample struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	TMs int64   `json:"tMs"`
}

// KeystrokeEvent is one key press/release pair
type KeystrokeEvent struct {
	KeyClass KeyClass `json:"keyClass"`
	DownMs   int64    `json:"downMs"`
	UpMs     int64    `json:"upMs"`
}

// TimingEntry records when a question was shown and when its answer was submitted
type TimingEntry struct {
	QuestionID    string `json:"questionId"`
	StartedAtMs   int64  `json:"startedAtMs"`
	SubmittedAtMs int64  `json:"submittedAtMs"`
}

// DeviceFingerprint is open key/value evidence reported by the client.
// Known keys are looked up defensively; unknown keys are ignored.
type DeviceFingerprint map[string]any

// QuestionMeta describes a question shown to the respondent. It lets the
// keystroke channel tell "no text question was shown" apart from "text
// appeared without typing".
type QuestionMeta struct {
	ID       string `json:"id"`
	Type     string `json:"type,omitempty"`
	FreeText bool   `json:"freeText,omitempty"`
}

// MetricsBundle is the raw telemetry captured while a survey was filled out.
// Every field is optional.
type MetricsBundle struct {
	MouseMovements    []MouseSample     `json:"mouseMovements,omitempty"`
	KeystrokeDynamics []KeystrokeEvent  `json:"keystrokeDynamics,omitempty"`
	ResponseTime      []TimingEntry     `json:"responseTime,omitempty"`
	DeviceFingerprint DeviceFingerprint `json:"deviceFingerprint,omitempty"`
	Questions         []QuestionMeta    `json:"questions,omitempty"`
}

// Flag codes are stable identifiers persisted with scored responses.
const (
	CodeNoMouseData         = "NO_MOUSE_DATA"
	CodeLinearMousePath     = "LINEAR_MOUSE_PATH"
	CodeNoKeystrokeData     = "NO_KEYSTROKE_DATA"
	CodeUniformTypingRhythm = "UNIFORM_TYPING_RHYTHM"
	CodeTooFastResponses    = "TOO_FAST_RESPONSES"
	CodeAutomationSignature = "AUTOMATION_SIGNATURE"
	CodeLowEntropyDevice    = "LOW_ENTROPY_DEVICE"
)

// Flag is one independently justified suspicion signal
type Flag struct {
	Code     string  `json:"code"`
	Weight   float64 `json:"weight"`
	Evidence string  `json:"evidence"`
}

// SuspicionResult is the engine's only output
type SuspicionResult struct {
	Score float64 `json:"score"`
	Flags []Flag  `json:"flags"`
}

// Codes returns the flag codes in emission order.
func (r SuspicionResult) Codes() []string {
	codes := make([]string, 0, len(r.Flags))
	for _, f := range r.Flags {
		codes = append(codes, f.Code)
	}
	return codes
}

// HasFlag reports whether a flag with the given code was emitted.
func (r SuspicionResult) HasFlag(code string) bool {
	for _, f := range r.Flags {
		if f.Code == code {
			return true
		}
	}
	return false
}
