package sink

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/shortontech/surveyguard/internal/response"
)

// Fanout delivers every scored response to each of its sinks.
type Fanout struct {
	sinks []Sink
	inst  instruments
}

func NewFanout(sinks []Sink, opts ...Option) *Fanout {
	return &Fanout{sinks: sinks, inst: newInstruments("fanout", opts)}
}

// Start starts each sink in order. If one fails, those already started are
// closed again.
func (f *Fanout) Start(ctx context.Context) error {
	for i, s := range f.sinks {
		if err := s.Start(ctx); err != nil {
			for _, started := range f.sinks[:i] {
				if cerr := started.Close(); cerr != nil {
					f.inst.log.Warn("close after failed start", zap.String("sink", started.Name()), zap.Error(cerr))
				}
			}
			return fmt.Errorf("start %s sink: %w", s.Name(), err)
		}
		f.inst.log.Info("sink started", zap.String("sink", s.Name()))
	}
	return nil
}

// Enqueue hands r to every sink. One sink failing does not stop the others;
// the returned error joins every failure.
func (f *Fanout) Enqueue(r response.ScoredResponse) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Enqueue(r); err != nil {
			f.inst.metrics.IncrementSinkErrors(s.Name(), "enqueue")
			f.inst.log.Error("enqueue failed",
				zap.String("sink", s.Name()),
				zap.String("response_id", r.ResponseID),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		f.inst.metrics.IncrementPublished(s.Name())
	}
	return errors.Join(errs...)
}

func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) Name() string { return "fanout" }

// Build constructs the sinks named in outputs ("log", "kafka", "postgres").
func Build(outputs []string, opts ...Option) ([]Sink, error) {
	sinks := make([]Sink, 0, len(outputs))
	seen := make(map[string]bool, len(outputs))
	for _, out := range outputs {
		if out == "pg" {
			out = "postgres"
		}
		if seen[out] {
			continue
		}
		seen[out] = true
		switch out {
		case "log":
			sinks = append(sinks, NewLogSink(opts...))
		case "kafka":
			sinks = append(sinks, NewKafkaSinkFromEnv(opts...))
		case "postgres":
			sinks = append(sinks, NewPGSinkFromEnv(opts...))
		default:
			return nil, fmt.Errorf("unknown output %q", out)
		}
	}
	return sinks, nil
}
