package metrics

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds all the Prometheus metrics for surveyguard. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// Scoring
	ResponsesScored *prometheus.CounterVec
	FlagsEmitted    *prometheus.CounterVec
	SuspicionScore  prometheus.Histogram
	ScoringFailures prometheus.Counter

	// Publishing
	ResponsesPublished *prometheus.CounterVec
	SinkErrors         *prometheus.CounterVec
	QueueDepth         *prometheus.GaugeVec
	BatchFlushLatency  *prometheus.HistogramVec

	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// Config holds configuration for the metrics server
type Config struct {
	Enabled    bool
	Addr       string
	TLSCert    string
	TLSKey     string
	ClientCA   string
	RequireTLS bool
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ResponsesScored: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surveyguard_responses_scored_total",
				Help: "Total responses scored, by flag verdict",
			},
			[]string{"flagged"},
		),

		FlagsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surveyguard_flags_emitted_total",
				Help: "Total suspicion flags emitted by code",
			},
			[]string{"code"},
		),

		SuspicionScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "surveyguard_suspicion_score",
				Help:    "Distribution of suspicion scores",
				Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
			},
		),

		ScoringFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "surveyguard_scoring_failures_total",
				Help: "Total scoring calls that failed closed",
			},
		),

		ResponsesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surveyguard_responses_published_total",
				Help: "Total scored responses accepted by sink type",
			},
			[]string{"sink"},
		),

		SinkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surveyguard_sink_errors_total",
				Help: "Total errors writing to a sink",
			},
			[]string{"sink", "error_type"},
		),

		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "surveyguard_queue_depth",
				Help: "Current number of scored responses buffered by a sink",
			},
			[]string{"sink"},
		),

		BatchFlushLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "surveyguard_batch_flush_latency_seconds",
				Help:    "Latency of flushing a batch to a sink",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"sink"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surveyguard_http_requests_total",
				Help: "Total HTTP requests by endpoint and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "surveyguard_http_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "method"},
		),
	}

	reg.MustRegister(
		m.ResponsesScored,
		m.FlagsEmitted,
		m.SuspicionScore,
		m.ScoringFailures,
		m.ResponsesPublished,
		m.SinkErrors,
		m.QueueDepth,
		m.BatchFlushLatency,
		m.HTTPRequests,
		m.HTTPDuration,
	)

	return m
}

// ObserveScore records one scoring verdict.
func (m *Metrics) ObserveScore(score float64, flagged bool, codes []string) {
	if m == nil {
		return
	}
	verdict := "false"
	if flagged {
		verdict = "true"
	}
	m.ResponsesScored.WithLabelValues(verdict).Inc()
	m.SuspicionScore.Observe(score)
	for _, c := range codes {
		m.FlagsEmitted.WithLabelValues(c).Inc()
	}
}

func (m *Metrics) IncrementScoringFailures() {
	if m == nil {
		return
	}
	m.ScoringFailures.Inc()
}

func (m *Metrics) IncrementPublished(sink string) {
	if m == nil {
		return
	}
	m.ResponsesPublished.WithLabelValues(sink).Inc()
}

func (m *Metrics) IncrementSinkErrors(sink, errorType string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(sink, errorType).Inc()
}

func (m *Metrics) SetQueueDepth(sink string, depth float64) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(sink).Set(depth)
}

func (m *Metrics) ObserveBatchFlushLatency(sink string, duration time.Duration) {
	if m == nil {
		return
	}
	m.BatchFlushLatency.WithLabelValues(sink).Observe(duration.Seconds())
}

func (m *Metrics) IncrementHTTPRequests(endpoint, method, status string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(endpoint, method, status).Inc()
}

func (m *Metrics) ObserveHTTPDuration(endpoint, method string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// Server represents the metrics HTTP server
type Server struct {
	server *http.Server
	config Config
	log    *zap.Logger
}

// NewServer creates a metrics server exposing the metrics gathered by g.
func NewServer(config Config, g prometheus.Gatherer, log *zap.Logger) (*Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:         config.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if config.RequireTLS && config.TLSCert != "" && config.TLSKey != "" {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

		if config.ClientCA != "" {
			clientCAs, err := loadCertPool(config.ClientCA)
			if err != nil {
				return nil, fmt.Errorf("metrics: load client CA: %w", err)
			}
			tlsConfig.ClientCAs = clientCAs
			tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
			log.Info("metrics: mTLS enabled", zap.String("client_ca", config.ClientCA))
		}
		srv.TLSConfig = tlsConfig
	}

	return &Server{server: srv, config: config, log: log}, nil
}

// Start serves metrics in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.log.Info("metrics: disabled (METRICS_ENABLED=false)")
		return nil
	}

	go func() {
		var err error
		if s.config.RequireTLS && s.config.TLSCert != "" && s.config.TLSKey != "" {
			s.log.Info("metrics: HTTPS server listening", zap.String("addr", s.config.Addr))
			err = s.server.ListenAndServeTLS(s.config.TLSCert, s.config.TLSKey)
		} else {
			s.log.Info("metrics: HTTP server listening", zap.String("addr", s.config.Addr))
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("metrics: server error", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the metrics server
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}
	s.log.Info("metrics: shutting down server")
	return s.server.Shutdown(ctx)
}

func loadCertPool(certFile string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(certFile)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", certFile)
	}
	return pool, nil
}
