package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/shortontech/surveyguard/internal/integrity"
	"github.com/shortontech/surveyguard/pkg/config"
)

const (
	defaultMaxBodyBytes  = 1 << 20
	defaultFlagThreshold = 0.5
)

// NewRouter wires the public routes. Zero values in e fall back to defaults.
func NewRouter(e Env) http.Handler {
	if e.Engine == nil {
		e.Engine = integrity.DefaultEngine()
	}
	if e.Log == nil {
		e.Log = zap.NewNop()
	}
	if e.Now == nil {
		e.Now = time.Now
	}
	if e.Cfg.MaxBodyBytes <= 0 {
		e.Cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if e.Cfg.FlagThreshold <= 0 {
		e.Cfg.FlagThreshold = defaultFlagThreshold
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(e.Log.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware(e.Metrics))
	r.Use(cors(e.Cfg.CORSOrigins))

	r.Get("/healthz", e.Healthz)
	r.Get("/readyz", e.Readyz)

	r.Route("/v1", func(r chi.Router) {
		r.Use(rateLimit(e.Cfg.RateLimitPerMin, e.Cfg.TrustProxy))
		r.Use(limitBody(e.Cfg.MaxBodyBytes))
		if e.HMACAuth != nil {
			r.Use(e.HMACAuth.Middleware)
		}
		r.Post("/score", e.Score)
		r.Post("/responses", e.SubmitResponse)
	})

	return r
}

// NewServer returns an http.Server for h with conservative timeouts.
func NewServer(cfg config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// ListenAndServe serves plain HTTP, or HTTPS when cfg.EnableHTTPS is set.
func ListenAndServe(srv *http.Server, cfg config.Config) error {
	if cfg.EnableHTTPS {
		return srv.ListenAndServeTLS(cfg.SSLCertFile, cfg.SSLKeyFile)
	}
	return srv.ListenAndServe()
}
