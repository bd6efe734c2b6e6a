package sink

import (
	"context"
	"errors"
	"sync"

	"github.com/shortontech/surveyguard/internal/integrity"
	"github.com/shortontech/surveyguard/internal/response"
)

func sampleResponse(id string) response.ScoredResponse {
	return response.ScoredResponse{
		ResponseID:   id,
		SurveyID:     "srv-1",
		RespondentID: "resp-9",
		Score:        0.6,
		IsFlagged:    true,
		FlagCodes:    []string{integrity.CodeAutomationSignature},
		Flags: []integrity.Flag{
			{Code: integrity.CodeAutomationSignature, Weight: 0.6, Evidence: "webdriver=true"},
		},
		RulesVersion: "2025.1",
		SubmittedAt:  "2025-03-14T09:26:53Z",
		ScoredAt:     "2025-03-14T09:26:54Z",
		Server:       response.ServerMeta{IPHash: "abc123"},
	}
}

// memSink records what it receives and can be told to fail.
type memSink struct {
	name     string
	startErr error
	failWith error

	mu       sync.Mutex
	started  bool
	closed   bool
	received []response.ScoredResponse
}

var errSinkDown = errors.New("sink down")

func (m *memSink) Start(ctx context.Context) error {
	if m.startErr != nil {
		return m.startErr
	}
	m.started = true
	return nil
}

func (m *memSink) Enqueue(r response.ScoredResponse) error {
	if m.failWith != nil {
		return m.failWith
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, r)
	return nil
}

func (m *memSink) Close() error {
	m.closed = true
	return nil
}

func (m *memSink) Name() string { return m.name }
