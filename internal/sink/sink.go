package sink

import (
	"context"

	"go.uber.org/zap"

	"github.com/shortontech/surveyguard/internal/metrics"
	"github.com/shortontech/surveyguard/internal/response"
)

// Sink receives scored responses. Enqueue must be safe for concurrent use.
type Sink interface {
	Start(ctx context.Context) error
	Enqueue(r response.ScoredResponse) error
	Close() error
	Name() string // Returns the sink name for metrics and logging
}

// Option configures the logger and metrics a sink reports to.
type Option func(*instruments)

type instruments struct {
	log     *zap.Logger
	metrics *metrics.Metrics
}

func WithLogger(log *zap.Logger) Option {
	return func(i *instruments) {
		if log != nil {
			i.log = log
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(i *instruments) { i.metrics = m }
}

func newInstruments(name string, opts []Option) instruments {
	i := instruments{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&i)
	}
	i.log = i.log.Named(name)
	return i
}
