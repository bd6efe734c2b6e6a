package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	httpx "github.com/shortontech/surveyguard/internal/http"
	"github.com/shortontech/surveyguard/internal/integrity"
	"github.com/shortontech/surveyguard/internal/logging"
	"github.com/shortontech/surveyguard/internal/metrics"
	"github.com/shortontech/surveyguard/internal/sink"
	"github.com/shortontech/surveyguard/pkg/config"
)

const shutdownTimeout = 10 * time.Second

func main() {
	healthcheck := flag.Bool("healthcheck", false, "check /healthz on SERVER_ADDR and exit")
	testMode := flag.Bool("test", false, "score and publish generated submissions, then exit")
	flag.Parse()

	cfg := config.Load()

	if *healthcheck {
		host, port := healthTarget(cfg.ServerAddr)
		if err := performHealthCheck(host, port); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	if *testMode {
		cfg.TestMode = true
	}

	log, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, prometheus.DefaultRegisterer, prometheus.DefaultGatherer); err != nil {
		log.Fatal("surveyguard exited", zap.Error(err))
	}
}

// run wires every component and blocks until ctx is cancelled.
func run(ctx context.Context, cfg config.Config, log *zap.Logger, reg prometheus.Registerer, g prometheus.Gatherer) error {
	rules, err := config.LoadRules(cfg.RulesFile)
	if err != nil {
		return err
	}
	engine, err := integrity.NewEngine(rules)
	if err != nil {
		return err
	}
	log.Info("rules loaded", zap.String("rules_version", engine.RulesVersion()), zap.String("file", cfg.RulesFile))

	appMetrics := metrics.NewMetrics(reg)
	metricsServer, err := metrics.NewServer(metricsConfig(cfg), g, log.Named("metrics"))
	if err != nil {
		return err
	}
	if err := metricsServer.Start(ctx); err != nil {
		return err
	}

	fanout, err := initializeSinks(ctx, cfg, log, appMetrics)
	if err != nil {
		_ = metricsServer.Shutdown(context.Background())
		return err
	}

	if cfg.TestMode {
		n, err := runTestMode(ctx, engine, cfg.FlagThreshold, fanout.Enqueue, log, time.Now())
		log.Info("test mode finished", zap.Int("published", n))
		return errors.Join(err, shutdown(log, nil, metricsServer, fanout))
	}

	auth, err := initializeHMACAuth(cfg, log)
	if err != nil {
		_ = shutdown(log, nil, metricsServer, fanout)
		return err
	}

	var draining atomic.Bool
	env := httpx.Env{
		Cfg:    cfg,
		Engine: engine,
		Emit:   fanout.Enqueue,
		Ready: func(context.Context) error {
			if draining.Load() {
				return errors.New("shutting down")
			}
			return nil
		},
		HMACAuth: auth,
		Metrics:  appMetrics,
		Log:      log,
	}
	srv := startHTTPServer(cfg, env, log)

	<-ctx.Done()
	draining.Store(true)
	log.Info("shutdown signal received")
	return shutdown(log, srv, metricsServer, fanout)
}

func metricsConfig(cfg config.Config) metrics.Config {
	return metrics.Config{
		Enabled:    cfg.MetricsEnabled,
		Addr:       cfg.MetricsAddr,
		TLSCert:    cfg.MetricsTLSCert,
		TLSKey:     cfg.MetricsTLSKey,
		ClientCA:   cfg.MetricsClientCA,
		RequireTLS: cfg.MetricsRequireTLS,
	}
}

// initializeSinks builds and starts the configured outputs behind a fanout.
func initializeSinks(ctx context.Context, cfg config.Config, log *zap.Logger, m *metrics.Metrics) (*sink.Fanout, error) {
	opts := []sink.Option{sink.WithLogger(log), sink.WithMetrics(m)}
	sinks, err := sink.Build(cfg.Outputs, opts...)
	if err != nil {
		return nil, err
	}
	if len(sinks) == 0 {
		return nil, errors.New("no outputs configured")
	}
	fanout := sink.NewFanout(sinks, opts...)
	if err := fanout.Start(ctx); err != nil {
		return nil, err
	}
	return fanout, nil
}

// initializeHMACAuth returns nil when request signing is not configured.
func initializeHMACAuth(cfg config.Config, log *zap.Logger) (*httpx.HMACAuth, error) {
	if cfg.SigningSecret == "" {
		if cfg.RequireSignature {
			return nil, errors.New("REQUIRE_SIGNATURE is set but SIGNING_SECRET is empty")
		}
		return nil, nil
	}
	log.Info("request signing enabled", zap.Bool("required", cfg.RequireSignature))
	return httpx.NewHMACAuth(cfg.SigningSecret, cfg.RequireSignature, log.Named("hmac")), nil
}

func startHTTPServer(cfg config.Config, env httpx.Env, log *zap.Logger) *http.Server {
	srv := httpx.NewServer(cfg, httpx.NewRouter(env))
	go func() {
		log.Info("surveyguard listening", zap.String("addr", cfg.ServerAddr), zap.Bool("https", cfg.EnableHTTPS))
		if err := httpx.ListenAndServe(srv, cfg); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", zap.Error(err))
		}
	}()
	return srv
}

// shutdown stops accepting requests first, then drains the sinks. srv may be nil.
func shutdown(log *zap.Logger, srv *http.Server, ms *metrics.Server, fanout *sink.Fanout) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if err := ms.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
	}
	if err := fanout.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		log.Error("shutdown finished with errors", zap.Error(err))
		return err
	}
	log.Info("shutdown complete")
	return nil
}

// healthTarget maps a listen address such as ":19890" to a dialable host and port.
func healthTarget(addr string) (string, string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "127.0.0.1", "19890"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return host, port
}

// performHealthCheck is used as the container health check.
func performHealthCheck(host, port string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + net.JoinHostPort(host, port) + "/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if strings.TrimSpace(string(body)) != "ok" {
		return fmt.Errorf("unexpected response: %q", body)
	}
	return nil
}
