package response

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shortontech/surveyguard/internal/integrity"
	"github.com/shortontech/surveyguard/pkg/config"
)

var nowFunc = time.Now

// fingerprint keys the client may already have used for the user agent
var userAgentKeys = []string{"userAgent", "user_agent", "ua"}

// Enrich fills in the fields the server owns: response id, submission time,
// hashed request IP and what the server saw of the request. A
// client-supplied value under the server automation headers key is always
// discarded. Only with cfg.BackfillRequestUA does the request itself feed
// the device fingerprint: the user agent fills a missing one and observed
// automation headers are written for the scoring engine. When a survey
// backend relays submissions, the request describes that backend and not
// the respondent.
func Enrich(r *http.Request, s *Submission, cfg config.Config) {
	now := nowFunc().UTC()
	if s.ResponseID == "" {
		s.ResponseID = uuid.NewString()
	}
	if s.SubmittedAt == "" {
		s.SubmittedAt = now.Format(time.RFC3339)
	}

	ua := r.UserAgent()
	s.Server.UserAgent = ua
	if cfg.IPHashSecret != "" {
		s.Server.IPHash = HashIP(clientIPFromRequest(r, cfg.TrustProxy), cfg.IPHashSecret, now)
	}
	s.Server.HeaderFingerprint = HeaderFingerprint(r.Header)
	s.Server.AutomationHeaders = AutomationHeaders(r.Header)

	fp := s.Metrics.DeviceFingerprint
	if fp != nil {
		delete(fp, integrity.ServerAutomationHeadersKey)
	}
	if !cfg.BackfillRequestUA {
		return
	}

	if ua != "" && !hasAnyKey(fp, userAgentKeys) {
		if fp == nil {
			fp = integrity.DeviceFingerprint{}
		}
		fp["userAgent"] = ua
	}
	if len(s.Server.AutomationHeaders) > 0 {
		if fp == nil {
			fp = integrity.DeviceFingerprint{}
		}
		fp[integrity.ServerAutomationHeadersKey] = s.Server.AutomationHeaders
	}
	s.Metrics.DeviceFingerprint = fp
}

func hasAnyKey(fp integrity.DeviceFingerprint, keys []string) bool {
	for _, k := range keys {
		if v, ok := fp[k]; ok && v != nil && v != "" {
			return true
		}
	}
	return false
}

// HashIP returns a keyed hash of ip that rotates daily: the day's salt is
// derived from secret, so hashes correlate within a UTC day only.
func HashIP(ip, secret string, day time.Time) string {
	salt := hmac.New(sha256.New, []byte(secret))
	salt.Write([]byte(day.UTC().Format("2006-01-02")))

	mac := hmac.New(sha256.New, salt.Sum(nil))
	mac.Write([]byte(ip))
	return hex.EncodeToString(mac.Sum(nil)[:16])
}

func clientIPFromRequest(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
		if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
			return strings.TrimSpace(xrip)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
