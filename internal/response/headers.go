package response

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"strings"
)

var headerAutomationKeywords = []string{"headless", "selenium", "webdriver", "puppeteer", "playwright"}

// automationOnlyHeaders are only ever sent by instrumented browsers.
var automationOnlyHeaders = []string{"X-Devtools-Emulate-Network-Conditions-Client-Id"}

// AutomationHeaders returns "name: value" entries for request headers that
// carry automation tool signatures, sorted.
func AutomationHeaders(headers http.Header) []string {
	var found []string
	for name, values := range headers {
		for _, value := range values {
			lower := strings.ToLower(value)
			for _, kw := range headerAutomationKeywords {
				if strings.Contains(lower, kw) {
					found = append(found, strings.ToLower(name)+": "+value)
					break
				}
			}
		}
	}
	for _, name := range automationOnlyHeaders {
		if value := headers.Get(name); value != "" {
			found = append(found, strings.ToLower(name)+": "+value)
		}
	}
	sort.Strings(found)
	return dedupe(found)
}

func dedupe(sorted []string) []string {
	if len(sorted) < 2 {
		return sorted
	}
	out := sorted[:1]
	for _, s := range sorted[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}

// HeaderFingerprint hashes header names and value prefixes so requests from
// the same client stack can be grouped without storing raw headers.
func HeaderFingerprint(headers http.Header) string {
	keys := make([]string, 0, len(headers))
	for key := range headers {
		keys = append(keys, strings.ToLower(key))
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		value := headers.Get(key)
		if len(value) > 20 {
			value = value[:20] + "..."
		}
		parts = append(parts, key+":"+value)
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:8])
}
