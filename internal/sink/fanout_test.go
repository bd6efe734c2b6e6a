package sink

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/shortontech/surveyguard/internal/metrics"
)

func TestFanoutEnqueue(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	good := &memSink{name: "log"}
	bad := &memSink{name: "kafka", failWith: errSinkDown}
	f := NewFanout([]Sink{good, bad}, WithMetrics(m))

	err := f.Enqueue(sampleResponse("r-1"))
	if !errors.Is(err, errSinkDown) {
		t.Fatalf("expected joined sink error, got %v", err)
	}
	if len(good.received) != 1 {
		t.Errorf("healthy sink should still receive the response, got %d", len(good.received))
	}
	if got := testutil.ToFloat64(m.ResponsesPublished.WithLabelValues("log")); got != 1 {
		t.Errorf("published{log} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SinkErrors.WithLabelValues("kafka", "enqueue")); got != 1 {
		t.Errorf("errors{kafka} = %v, want 1", got)
	}

	if err := NewFanout([]Sink{good}).Enqueue(sampleResponse("r-2")); err != nil {
		t.Errorf("all sinks healthy, got %v", err)
	}
}

func TestFanoutStart(t *testing.T) {
	t.Run("starts all", func(t *testing.T) {
		a, b := &memSink{name: "a"}, &memSink{name: "b"}
		if err := NewFanout([]Sink{a, b}).Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if !a.started || !b.started {
			t.Error("every sink should be started")
		}
	})

	t.Run("closes started sinks on failure", func(t *testing.T) {
		a := &memSink{name: "a"}
		b := &memSink{name: "b", startErr: errSinkDown}
		c := &memSink{name: "c"}
		err := NewFanout([]Sink{a, b, c}).Start(context.Background())
		if !errors.Is(err, errSinkDown) {
			t.Fatalf("expected start error, got %v", err)
		}
		if !a.closed {
			t.Error("already started sink should be closed")
		}
		if c.started {
			t.Error("sinks after the failure should not start")
		}
	})
}

func TestFanoutClose(t *testing.T) {
	a, b := &memSink{name: "a"}, &memSink{name: "b"}
	f := NewFanout([]Sink{a, b})
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !a.closed || !b.closed {
		t.Error("every sink should be closed")
	}
	if f.Name() != "fanout" {
		t.Errorf("Name() = %q", f.Name())
	}
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name    string
		outputs []string
		want    []string
		wantErr bool
	}{
		{"log only", []string{"log"}, []string{"log"}, false},
		{"all", []string{"log", "kafka", "postgres"}, []string{"log", "kafka", "postgres"}, false},
		{"pg alias deduped", []string{"pg", "postgres"}, []string{"postgres"}, false},
		{"unknown", []string{"log", "s3"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sinks, err := Build(tt.outputs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Build() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(sinks) != len(tt.want) {
				t.Fatalf("got %d sinks, want %d", len(sinks), len(tt.want))
			}
			for i, s := range sinks {
				if s.Name() != tt.want[i] {
					t.Errorf("sink %d = %q, want %q", i, s.Name(), tt.want[i])
				}
			}
		})
	}
}
