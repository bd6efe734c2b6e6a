package response

import (
	"time"

	"github.com/shortontech/surveyguard/internal/integrity"
)

// Submission is a completed survey response as posted by the survey runtime.
type Submission struct {
	ResponseID   string                  `json:"response_id,omitempty" validate:"omitempty,max=64,printascii"`
	SurveyID     string                  `json:"survey_id" validate:"required,max=128,printascii"`
	RespondentID string                  `json:"respondent_id,omitempty" validate:"omitempty,max=128"`
	SubmittedAt  string                  `json:"submitted_at,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"` // RFC3339
	Answers      map[string]any          `json:"answers,omitempty" validate:"omitempty,max=500"`
	Metrics      integrity.MetricsBundle `json:"metrics"`

	// Server is filled in by Enrich and never read from the request body.
	Server ServerMeta `json:"-"`
}

// ServerMeta holds what the server observed about the submitting request.
type ServerMeta struct {
	IPHash            string   `json:"ip_hash,omitempty"`
	UserAgent         string   `json:"user_agent,omitempty"`
	HeaderFingerprint string   `json:"header_fingerprint,omitempty"`
	AutomationHeaders []string `json:"automation_headers,omitempty"`
}

// ScoredResponse is what sinks persist: the submission plus its verdict.
type ScoredResponse struct {
	ResponseID   string           `json:"response_id"`
	SurveyID     string           `json:"survey_id"`
	RespondentID string           `json:"respondent_id,omitempty"`
	Score        float64          `json:"score"`
	IsFlagged    bool             `json:"is_flagged"`
	FlagCodes    []string         `json:"flag_codes"`
	Flags        []integrity.Flag `json:"flags"`
	RulesVersion string           `json:"rules_version"`
	SubmittedAt  string           `json:"submitted_at,omitempty"`
	ScoredAt     string           `json:"scored_at"`
	Answers      map[string]any   `json:"answers,omitempty"`
	Server       ServerMeta       `json:"server"`
}

// NewScoredResponse combines a submission with its scoring result. A
// response is flagged when its score reaches threshold.
func NewScoredResponse(s Submission, res integrity.SuspicionResult, rulesVersion string, threshold float64, scoredAt time.Time) ScoredResponse {
	flags := res.Flags
	if flags == nil {
		flags = []integrity.Flag{}
	}
	return ScoredResponse{
		ResponseID:   s.ResponseID,
		SurveyID:     s.SurveyID,
		RespondentID: s.RespondentID,
		Score:        res.Score,
		IsFlagged:    res.Score >= threshold,
		FlagCodes:    res.Codes(),
		Flags:        flags,
		RulesVersion: rulesVersion,
		SubmittedAt:  s.SubmittedAt,
		ScoredAt:     scoredAt.UTC().Format(time.RFC3339Nano),
		Answers:      s.Answers,
		Server:       s.Server,
	}
}
