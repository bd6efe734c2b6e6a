package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/shortontech/surveyguard/internal/integrity"
	"github.com/shortontech/surveyguard/internal/metrics"
	"github.com/shortontech/surveyguard/internal/response"
	"github.com/shortontech/surveyguard/pkg/config"
)

type Env struct {
	Cfg      config.Config
	Engine   *integrity.Engine
	Emit     func(response.ScoredResponse) error // injected sink fan-out
	Ready    func(ctx context.Context) error     // nil means always ready
	HMACAuth *HMACAuth
	Metrics  *metrics.Metrics
	Log      *zap.Logger
	Now      func() time.Time
}

type errorReply struct {
	Error      string                `json:"error"`
	Fields     []response.FieldError `json:"fields,omitempty"`
	ResponseID string                `json:"response_id,omitempty"`
}

type submitReply struct {
	ResponseID string           `json:"response_id"`
	Score      float64          `json:"score"`
	IsFlagged  bool             `json:"is_flagged"`
	Flags      []integrity.Flag `json:"flags"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorReply{Error: msg})
}

func (e Env) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (e Env) Readyz(w http.ResponseWriter, r *http.Request) {
	if e.Ready != nil {
		if err := e.Ready(r.Context()); err != nil {
			e.Log.Warn("not ready", zap.Error(err))
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// decode reads a JSON body into v, writing the error reply itself when it
// returns false.
func (e Env) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return false
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "failed to read body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

// score never fails: on an engine fault the fail-closed result is used and
// the fault is counted.
func (e Env) score(b integrity.MetricsBundle) integrity.SuspicionResult {
	res, err := e.Engine.Score(b)
	if err != nil {
		e.Metrics.IncrementScoringFailures()
		e.Log.Error("scoring failed closed", zap.Error(err))
	}
	return res
}

// Score handles POST /v1/score. The bundle is scored but never published.
func (e Env) Score(w http.ResponseWriter, r *http.Request) {
	var b integrity.MetricsBundle
	if !e.decode(w, r, &b) {
		return
	}
	res := e.score(b)
	e.Metrics.ObserveScore(res.Score, res.Score >= e.Cfg.FlagThreshold, res.Codes())
	writeJSON(w, http.StatusOK, res)
}

// SubmitResponse handles POST /v1/responses: a completed survey response is
// enriched, validated, scored and published.
func (e Env) SubmitResponse(w http.ResponseWriter, r *http.Request) {
	var s response.Submission
	if !e.decode(w, r, &s) {
		return
	}

	response.Enrich(r, &s, e.Cfg)
	if err := response.Validate(&s); err != nil {
		reply := errorReply{Error: response.ErrInvalidSubmission.Error()}
		var verr *response.ValidationError
		if errors.As(err, &verr) {
			reply.Fields = verr.Fields
		}
		writeJSON(w, http.StatusUnprocessableEntity, reply)
		return
	}

	res := e.score(s.Metrics)
	scored := response.NewScoredResponse(s, res, e.Engine.RulesVersion(), e.Cfg.FlagThreshold, e.Now())
	e.Metrics.ObserveScore(scored.Score, scored.IsFlagged, scored.FlagCodes)

	if e.Emit != nil {
		if err := e.Emit(scored); err != nil {
			e.Log.Error("publish failed", zap.String("response_id", scored.ResponseID), zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, errorReply{
				Error:      "failed to persist response",
				ResponseID: scored.ResponseID,
			})
			return
		}
	}

	if scored.IsFlagged {
		e.Log.Info("response flagged",
			zap.String("response_id", scored.ResponseID),
			zap.String("survey_id", scored.SurveyID),
			zap.Float64("score", scored.Score),
			zap.Strings("flags", scored.FlagCodes),
		)
	}

	writeJSON(w, http.StatusAccepted, submitReply{
		ResponseID: scored.ResponseID,
		Score:      scored.Score,
		IsFlagged:  scored.IsFlagged,
		Flags:      scored.Flags,
	})
}
