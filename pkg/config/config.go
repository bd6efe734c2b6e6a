package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	ServerAddr   string
	TrustProxy   bool
	// BackfillRequestUA lets the request's User-Agent and automation headers
	// stand in for the respondent's. Only valid when browsers post directly.
	BackfillRequestUA bool
	MaxBodyBytes int64    // bytes accepted per scoring request
	IPHashSecret string   // daily salt secret seed; if empty, we won’t hash
	Outputs      []string // enabled sinks: log, kafka, postgres
	TestMode     bool     // publish generated submissions instead of serving

	// HTTPS
	EnableHTTPS bool
	SSLCertFile string
	SSLKeyFile  string

	// Request signing for server-to-server submissions
	SigningSecret    string
	RequireSignature bool

	// Scoring
	FlagThreshold   float64 // score at or above which a response is flagged
	RulesFile       string  // optional YAML/JSON rule table
	RateLimitPerMin int64   // per client IP, 0 disables
	CORSOrigins     []string

	// Logging
	LogLevel  string
	LogFormat string // console or json
	LogFile   string // optional rotating file, tee'd with stdout

	// Metrics
	MetricsEnabled    bool
	MetricsAddr       string
	MetricsTLSCert    string
	MetricsTLSKey     string
	MetricsClientCA   string
	MetricsRequireTLS bool
}

func getOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func getBool(k string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(k)))
	switch v {
	case "1", "t", "true", "y", "yes":
		return true
	case "0", "f", "false", "n", "no":
		return false
	}
	return def
}
func getInt64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}
func getFloat(k string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getStringSlice(k, def string) []string {
	v := os.Getenv(k)
	if v == "" {
		v = def
	}
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func Load() Config {
	cfg := Config{
		ServerAddr:   getOr("SERVER_ADDR", ":19890"),
		TrustProxy:   getBool("TRUST_PROXY", false),

		BackfillRequestUA: getBool("BACKFILL_REQUEST_UA", false),
		MaxBodyBytes: getInt64("MAX_BODY_BYTES", 1<<20), // 1 MiB default
		IPHashSecret: getOr("IP_HASH_SECRET", ""),       // set to enable hashing
		Outputs:      getStringSlice("OUTPUTS", "log"),  // default to log only
		TestMode:     getBool("TEST_MODE", false),

		EnableHTTPS: getBool("ENABLE_HTTPS", false),
		SSLCertFile: getOr("SSL_CERT_FILE", ""),
		SSLKeyFile:  getOr("SSL_KEY_FILE", ""),

		SigningSecret:    getOr("SIGNING_SECRET", ""),
		RequireSignature: getBool("REQUIRE_SIGNATURE", false),

		FlagThreshold:   getFloat("FLAG_THRESHOLD", 0.5),
		RulesFile:       getOr("RULES_FILE", ""),
		RateLimitPerMin: getInt64("RATE_LIMIT_PER_MIN", 600),
		CORSOrigins:     getStringSlice("CORS_ORIGINS", "*"),

		LogLevel:  getOr("LOG_LEVEL", "info"),
		LogFormat: getOr("LOG_FORMAT", "json"),
		LogFile:   getOr("LOG_FILE", ""),

		MetricsEnabled:    getBool("METRICS_ENABLED", false),
		MetricsAddr:       getOr("METRICS_ADDR", ":9090"),
		MetricsTLSCert:    getOr("METRICS_TLS_CERT", ""),
		MetricsTLSKey:     getOr("METRICS_TLS_KEY", ""),
		MetricsClientCA:   getOr("METRICS_CLIENT_CA", ""),
		MetricsRequireTLS: getBool("METRICS_REQUIRE_TLS", false),
	}

	// An out-of-range threshold would flag everything or nothing.
	if cfg.FlagThreshold <= 0 || cfg.FlagThreshold > 1 {
		cfg.FlagThreshold = 0.5
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return cfg
}
