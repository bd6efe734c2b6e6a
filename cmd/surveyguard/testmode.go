package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shortontech/surveyguard/internal/integrity"
	"github.com/shortontech/surveyguard/internal/response"
)

const testSurveyID = "srv-testmode"

// generateTestSubmissions returns one attentive respondent followed by
// typical bot and low-effort patterns.
func generateTestSubmissions(now time.Time) []response.Submission {
	submitted := now.UTC().Format(time.RFC3339)
	newSubmission := func(m integrity.MetricsBundle, answers map[string]any) response.Submission {
		return response.Submission{
			ResponseID:   uuid.New().String(),
			SurveyID:     testSurveyID,
			RespondentID: "respondent-" + uuid.New().String()[:8],
			SubmittedAt:  submitted,
			Answers:      answers,
			Metrics:      m,
		}
	}

	attentive := integrity.MetricsBundle{
		MouseMovements: []integrity.MouseSample{
			{X: 0, Y: 0, TMs: 0},
			{X: 40, Y: 60, TMs: 120},
			{X: 100, Y: 98, TMs: 260},
			{X: 160, Y: 60, TMs: 400},
			{X: 200, Y: 0, TMs: 520},
		},
		KeystrokeDynamics: []integrity.KeystrokeEvent{
			{KeyClass: integrity.KeyPrintable, DownMs: 1000, UpMs: 1080},
			{KeyClass: integrity.KeyPrintable, DownMs: 1080, UpMs: 1150},
			{KeyClass: integrity.KeyPrintable, DownMs: 1400, UpMs: 1490},
			{KeyClass: integrity.KeyPrintable, DownMs: 1500, UpMs: 1570},
			{KeyClass: integrity.KeyControl, DownMs: 1850, UpMs: 1930},
			{KeyClass: integrity.KeyPrintable, DownMs: 1940, UpMs: 2010},
			{KeyClass: integrity.KeyPrintable, DownMs: 2240, UpMs: 2320},
		},
		ResponseTime: []integrity.TimingEntry{
			{QuestionID: "q1", StartedAtMs: 0, SubmittedAtMs: 4200},
			{QuestionID: "q2", StartedAtMs: 4300, SubmittedAtMs: 6500},
			{QuestionID: "q3", StartedAtMs: 6600, SubmittedAtMs: 21000},
			{QuestionID: "q4", StartedAtMs: 21100, SubmittedAtMs: 29800},
			{QuestionID: "q5", StartedAtMs: 29900, SubmittedAtMs: 35000},
		},
		DeviceFingerprint: integrity.DeviceFingerprint{
			"userAgent":           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"screenResolution":    "1920x1080",
			"timezoneOffset":      -120.0,
			"languages":           []any{"de-DE", "en"},
			"platform":            "Win32",
			"hardwareConcurrency": 8.0,
			"deviceMemory":        8.0,
			"colorDepth":          24.0,
			"webglRenderer":       "ANGLE (NVIDIA GeForce RTX 3060 Direct3D11)",
		},
	}

	scripted := integrity.MetricsBundle{
		MouseMovements: []integrity.MouseSample{{X: 0, Y: 0, TMs: 0}, {X: 50, Y: 0, TMs: 100}, {X: 100, Y: 0, TMs: 200}},
	}
	for i := int64(0); i < 5; i++ {
		start := i * 1000
		scripted.ResponseTime = append(scripted.ResponseTime, integrity.TimingEntry{
			QuestionID: fmt.Sprintf("q%d", i+1), StartedAtMs: start, SubmittedAtMs: start + 200,
		})
	}

	headless := integrity.MetricsBundle{
		DeviceFingerprint: integrity.DeviceFingerprint{
			"userAgent": "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) HeadlessChrome/120.0.0.0 Safari/537.36",
			"webdriver": true,
		},
	}

	return []response.Submission{
		newSubmission(attentive, map[string]any{"q1": "Very satisfied", "q2": 4, "q3": "Checkout was quick and the courier was friendly."}),
		newSubmission(scripted, map[string]any{"q1": "a", "q2": "a", "q3": "a"}),
		newSubmission(headless, map[string]any{"q1": "Satisfied"}),
		newSubmission(integrity.MetricsBundle{}, nil),
	}
}

// runTestMode scores the generated submissions and hands them to emit. It
// returns the number published.
func runTestMode(ctx context.Context, engine *integrity.Engine, threshold float64, emit func(response.ScoredResponse) error, log *zap.Logger, now time.Time) (int, error) {
	if engine == nil {
		engine = integrity.DefaultEngine()
	}
	if log == nil {
		log = zap.NewNop()
	}
	subs := generateTestSubmissions(now)
	log.Info("test mode: publishing generated submissions", zap.Int("count", len(subs)))

	var errs []error
	published := 0
	for i, s := range subs {
		if err := ctx.Err(); err != nil {
			return published, err
		}
		res, err := engine.Score(s.Metrics)
		if err != nil {
			log.Warn("test mode: scoring failed closed", zap.String("response_id", s.ResponseID), zap.Error(err))
		}
		scored := response.NewScoredResponse(s, res, engine.RulesVersion(), threshold, now)
		log.Info("test mode: submission scored",
			zap.Int("n", i+1),
			zap.String("response_id", scored.ResponseID),
			zap.Float64("score", scored.Score),
			zap.Strings("flag_codes", scored.FlagCodes),
		)
		if emit == nil {
			continue
		}
		if err := emit(scored); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", scored.ResponseID, err))
			continue
		}
		published++
	}
	return published, errors.Join(errs...)
}
