package sink

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shortontech/surveyguard/internal/response"
)

func readNDJSON(t *testing.T, path string) []response.ScoredResponse {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var out []response.ScoredResponse
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r response.ScoredResponse
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("line %q is not JSON: %v", sc.Text(), err)
		}
		out = append(out, r)
	}
	return out
}

func TestNewLogSink(t *testing.T) {
	t.Run("defaults to stdout", func(t *testing.T) {
		t.Setenv("RESPONSE_LOG_PATH", "")
		if s := NewLogSink(); s.dst != "stdout" {
			t.Errorf("dst = %q, want stdout", s.dst)
		}
	})

	t.Run("uses env variable when set", func(t *testing.T) {
		t.Setenv("RESPONSE_LOG_PATH", "/tmp/responses.ndjson")
		if s := NewLogSink(); s.dst != "/tmp/responses.ndjson" {
			t.Errorf("dst = %q, want /tmp/responses.ndjson", s.dst)
		}
	})
}

func TestLogSinkStdout(t *testing.T) {
	t.Setenv("RESPONSE_LOG_PATH", "stdout")
	core, logs := observer.New(zapcore.InfoLevel)
	s := NewLogSink(WithLogger(zap.New(core)))

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed for stdout: %v", err)
	}
	if s.f != nil {
		t.Error("file pointer should be nil for stdout mode")
	}
	if err := s.Enqueue(sampleResponse("r-1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	entries := logs.FilterMessage("response scored").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["response_id"] != "r-1" || fields["is_flagged"] != true || fields["score"] != 0.6 {
		t.Errorf("unexpected fields: %v", fields)
	}
	if entries[0].LoggerName != "log" {
		t.Errorf("logger name = %q, want log", entries[0].LoggerName)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestLogSinkFile(t *testing.T) {
	t.Run("appends NDJSON lines", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "responses.ndjson")
		t.Setenv("RESPONSE_LOG_PATH", path)

		s := NewLogSink()
		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		for _, id := range []string{"r-1", "r-2"} {
			if err := s.Enqueue(sampleResponse(id)); err != nil {
				t.Fatalf("Enqueue: %v", err)
			}
		}
		if err := s.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}

		got := readNDJSON(t, path)
		if len(got) != 2 || got[0].ResponseID != "r-1" || got[1].ResponseID != "r-2" {
			t.Fatalf("unexpected records: %+v", got)
		}
		if got[0].Score != 0.6 || !got[0].IsFlagged || got[0].FlagCodes[0] != "AUTOMATION_SIGNATURE" {
			t.Errorf("record did not round trip: %+v", got[0])
		}
	})

	t.Run("reopening appends", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "responses.ndjson")
		t.Setenv("RESPONSE_LOG_PATH", path)

		for i := 0; i < 2; i++ {
			s := NewLogSink()
			if err := s.Start(context.Background()); err != nil {
				t.Fatalf("Start: %v", err)
			}
			_ = s.Enqueue(sampleResponse(fmt.Sprintf("r-%d", i)))
			s.Close()
		}
		if got := readNDJSON(t, path); len(got) != 2 {
			t.Errorf("expected 2 records after reopen, got %d", len(got))
		}
	})

	t.Run("concurrent writes", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "concurrent.ndjson")
		t.Setenv("RESPONSE_LOG_PATH", path)

		s := NewLogSink()
		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				_ = s.Enqueue(sampleResponse(fmt.Sprintf("r-%d", id)))
			}(i)
		}
		wg.Wait()
		s.Close()

		if got := readNDJSON(t, path); len(got) != 20 {
			t.Errorf("expected 20 records, got %d", len(got))
		}
	})

	t.Run("invalid path", func(t *testing.T) {
		t.Setenv("RESPONSE_LOG_PATH", "/nonexistent/directory/responses.ndjson")
		s := NewLogSink()
		if err := s.Start(context.Background()); err == nil {
			s.Close()
			t.Error("Start() should fail for invalid path")
		}
	})
}

func TestLogSinkCloseWithoutStart(t *testing.T) {
	s := NewLogSink()
	if err := s.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
	if s.Name() != "log" {
		t.Errorf("Name() = %q, want log", s.Name())
	}
}
