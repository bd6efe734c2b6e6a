package sink

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/shortontech/surveyguard/internal/response"
)

const stdoutDst = "stdout"

// LogSink writes scored responses either as NDJSON lines to a file or, in
// stdout mode, as one structured log entry each.
type LogSink struct {
	dst  string
	mu   sync.Mutex
	f    *os.File
	inst instruments
}

// NewLogSink reads RESPONSE_LOG_PATH; "stdout" (the default) logs through zap.
func NewLogSink(opts ...Option) *LogSink {
	return &LogSink{
		dst:  getEnvOr("RESPONSE_LOG_PATH", stdoutDst),
		inst: newInstruments("log", opts),
	}
}

func (s *LogSink) Start(ctx context.Context) error {
	if s.dst == stdoutDst {
		return nil
	}
	f, err := os.OpenFile(s.dst, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.dst, err)
	}
	s.mu.Lock()
	s.f = f
	s.mu.Unlock()
	return nil
}

func (s *LogSink) Enqueue(r response.ScoredResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		s.inst.log.Info("response scored",
			zap.String("response_id", r.ResponseID),
			zap.String("survey_id", r.SurveyID),
			zap.Float64("score", r.Score),
			zap.Bool("is_flagged", r.IsFlagged),
			zap.Strings("flag_codes", r.FlagCodes),
			zap.String("rules_version", r.RulesVersion),
		)
		return nil
	}

	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal response %s: %w", r.ResponseID, err)
	}
	b = append(b, '\n')
	if _, err := s.f.Write(b); err != nil {
		return fmt.Errorf("write %s: %w", s.dst, err)
	}
	return nil
}

func (s *LogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *LogSink) Name() string { return "log" }
