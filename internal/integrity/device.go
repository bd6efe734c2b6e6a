package integrity

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Fingerprint keys read by the device extractor. Clients name things
// differently, so each signal is looked up under several aliases.
var (
	userAgentKeys     = []string{"userAgent", "user_agent", "ua"}
	screenKeys        = []string{"screenResolution", "screen_resolution", "screen"}
	timezoneKeys      = []string{"timezoneOffset", "timezone_offset", "tz_offset_minutes", "timezone"}
	languageKeys      = []string{"languages", "language"}
	platformKeys      = []string{"platform"}
	concurrencyKeys   = []string{"hardwareConcurrency", "hardware_concurrency", "concurrency"}
	touchKeys         = []string{"touchSupport", "maxTouchPoints", "touch_support"}
	memoryKeys        = []string{"deviceMemory", "device_memory"}
	colorDepthKeys    = []string{"colorDepth", "color_depth"}
	webglRendererKeys = []string{"webglRenderer", "webgl_renderer", "gpu"}

	// automationFlagKeys hold booleans set by client-side automation checks
	// such as navigator.webdriver.
	automationFlagKeys = []string{
		"automationMarker", "automation", "webdriver", "navigator.webdriver",
		"headless", "isAutomated",
	}
)

// ServerAutomationHeadersKey carries automation headers observed by the
// submission handler.
const ServerAutomationHeadersKey = "serverAutomationHeaders"

var automationUAKeywords = []string{
	"headless", "selenium", "webdriver", "puppeteer",
	"playwright", "phantomjs", "jsdom", "nightmare",
	"automated", "crawler", "spider", "python-requests",
}

var softwareRenderers = []string{"swiftshader", "llvmpipe", "software rasterizer"}

// DeviceFeatures summarises the device fingerprint
type DeviceFeatures struct {
	Available         bool     `json:"available"`
	AutomationMarkers []string `json:"automation_markers,omitempty"`
	IdentitySignals   int      `json:"identity_signals"`
	EntropyAvailable  bool     `json:"entropy_available"`
	// EntropyScore is in [0,1]; lower means a more generic fingerprint.
	EntropyScore float64 `json:"entropy_score"`
}

// ExtractDevice reads known keys from the fingerprint and ignores the rest.
// Entropy is only estimated when at least minIdentitySignals identity keys
// are present.
func ExtractDevice(fp DeviceFingerprint, minIdentitySignals int) DeviceFeatures {
	if len(fp) == 0 {
		return DeviceFeatures{}
	}

	f := DeviceFeatures{
		Available:         true,
		AutomationMarkers: automationMarkers(fp),
	}

	var earned, total float64
	for _, sig := range identitySignals {
		total += sig.bits
		v, ok := lookup(fp, sig.keys)
		if !ok {
			continue
		}
		f.IdentitySignals++
		earned += sig.bits * sig.credit(v)
	}

	if f.IdentitySignals >= minIdentitySignals && total > 0 {
		f.EntropyAvailable = true
		f.EntropyScore = round4(clamp01(earned / total))
	}
	return f
}

func automationMarkers(fp DeviceFingerprint) []string {
	seen := map[string]bool{}

	for _, k := range automationFlagKeys {
		if v, ok := fp[k]; ok && truthy(v) {
			seen[k] = true
		}
	}

	ua := strings.ToLower(getString(fp, userAgentKeys...))
	for _, kw := range automationUAKeywords {
		if strings.Contains(ua, kw) {
			seen["ua:"+kw] = true
		}
	}

	renderer := strings.ToLower(getString(fp, webglRendererKeys...))
	for _, r := range softwareRenderers {
		if strings.Contains(renderer, r) {
			seen["webgl:"+r] = true
		}
	}

	if len(getStrings(fp, ServerAutomationHeadersKey)) > 0 {
		seen["server_headers"] = true
	}

	if len(seen) == 0 {
		return nil
	}
	markers := make([]string, 0, len(seen))
	for m := range seen {
		markers = append(markers, m)
	}
	sort.Strings(markers)
	return markers
}

// identitySignal is one fingerprint component and its approximate
// distinguishing power in bits. credit returns the share of those bits a
// value earns: 0 for known headless or default values.
type identitySignal struct {
	keys   []string
	bits   float64
	credit func(v any) float64
}

var identitySignals = []identitySignal{
	{keys: userAgentKeys, bits: 10, credit: userAgentCredit},
	{keys: screenKeys, bits: 4.8, credit: screenCredit},
	{keys: timezoneKeys, bits: 3, credit: timezoneCredit},
	{keys: languageKeys, bits: 5, credit: languageCredit},
	{keys: platformKeys, bits: 2, credit: platformCredit},
	{keys: concurrencyKeys, bits: 2.5, credit: concurrencyCredit},
	{keys: touchKeys, bits: 1, credit: presentCredit},
	{keys: memoryKeys, bits: 1.5, credit: presentCredit},
	{keys: colorDepthKeys, bits: 1, credit: presentCredit},
	{keys: webglRendererKeys, bits: 3.5, credit: rendererCredit},
}

func presentCredit(any) float64 { return 1 }

func userAgentCredit(v any) float64 {
	ua := strings.ToLower(asString(v))
	if ua == "" || !strings.HasPrefix(ua, "mozilla/") {
		return 0
	}
	for _, kw := range automationUAKeywords {
		if strings.Contains(ua, kw) {
			return 0
		}
	}
	return 1
}

func screenCredit(v any) float64 {
	w, h := screenSize(v)
	if w <= 0 || h <= 0 {
		return 0
	}
	// Default headless browser window.
	if w == 800 && h == 600 {
		return 0
	}
	return 1
}

func timezoneCredit(v any) float64 {
	if s, ok := v.(string); ok {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || s == "UTC" || s == "ETC/UTC" || s == "GMT" {
			return 0
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil && n == 0 {
			return 0
		}
		return 1
	}
	if n, ok := asFloat(v); ok && n == 0 {
		return 0
	}
	return 1
}

func languageCredit(v any) float64 {
	langs := asStrings(v)
	switch {
	case len(langs) == 0:
		return 0
	case len(langs) == 1 && strings.EqualFold(langs[0], "en-US"):
		return 0.5
	}
	return 1
}

func platformCredit(v any) float64 {
	p := strings.ToLower(strings.TrimSpace(asString(v)))
	if p == "" {
		return 0
	}
	if p == "linux x86_64" {
		return 0.5
	}
	return 1
}

func concurrencyCredit(v any) float64 {
	n, ok := asFloat(v)
	if !ok || n <= 2 {
		return 0
	}
	return 1
}

func rendererCredit(v any) float64 {
	r := strings.ToLower(asString(v))
	if r == "" {
		return 0
	}
	for _, sw := range softwareRenderers {
		if strings.Contains(r, sw) {
			return 0
		}
	}
	return 1
}

// screenSize accepts "1920x1080", {"width":..,"height":..} or [w, h].
func screenSize(v any) (float64, float64) {
	switch val := v.(type) {
	case string:
		parts := strings.FieldsFunc(strings.ToLower(val), func(r rune) bool {
			return r == 'x' || r == '*' || r == ',' || r == ' '
		})
		if len(parts) < 2 {
			return 0, 0
		}
		w, err1 := strconv.ParseFloat(parts[0], 64)
		h, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 != nil || err2 != nil {
			return 0, 0
		}
		return w, h
	case map[string]any:
		w, _ := asFloat(val["width"])
		h, _ := asFloat(val["height"])
		return w, h
	case []any:
		if len(val) < 2 {
			return 0, 0
		}
		w, _ := asFloat(val[0])
		h, _ := asFloat(val[1])
		return w, h
	}
	return 0, 0
}

// lookup returns the first non-nil value stored under any of keys.
func lookup(fp DeviceFingerprint, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := fp[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func getString(fp DeviceFingerprint, keys ...string) string {
	v, ok := lookup(fp, keys)
	if !ok {
		return ""
	}
	return asString(v)
}

func getStrings(fp DeviceFingerprint, keys ...string) []string {
	v, ok := lookup(fp, keys)
	if !ok {
		return nil
	}
	return asStrings(v)
}

func asString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	}
	return ""
}

// asStrings accepts a list or a comma separated string.
func asStrings(v any) []string {
	var out []string
	switch val := v.(type) {
	case []string:
		for _, s := range val {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for _, e := range val {
			if s := strings.TrimSpace(asString(e)); s != "" {
				out = append(out, s)
			}
		}
	case string:
		for _, s := range strings.Split(val, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func asFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, isFinite(val)
	case float32:
		return float64(val), isFinite(float64(val))
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil && isFinite(f)
	case fmt.Stringer:
		f, err := strconv.ParseFloat(val.String(), 64)
		return f, err == nil && isFinite(f)
	}
	return 0, false
}

// truthy interprets booleans, numbers and "true"/"1"/"yes" strings.
func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "y", "yes":
			return true
		}
		return false
	}
	if n, ok := asFloat(v); ok {
		return n != 0
	}
	return false
}
