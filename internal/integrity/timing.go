package integrity

// TimingFeatures summarises per-question answer durations
type TimingFeatures struct {
	Available              bool    `json:"available"`
	QuestionCount          int     `json:"question_count"`
	ValidCount             int     `json:"valid_count"`
	MissingCount           int     `json:"missing_count"`
	MedianDurationMs       float64 `json:"median_duration_ms"`
	MinDurationMs          int64   `json:"min_duration_ms"`
	BelowFloorCount        int     `json:"below_floor_count"`
	FractionBelowFloor     float64 `json:"fraction_below_floor"`
	TotalSessionDurationMs int64   `json:"total_session_duration_ms"`
}

// ExtractTiming computes duration features over entries with valid timing.
// floorMs is the minimum plausible read-and-click time for one question.
func ExtractTiming(entries []SanitizedTiming, floorMs int64) TimingFeatures {
	f := TimingFeatures{QuestionCount: len(entries)}

	durations := make([]float64, 0, len(entries))
	var earliest, latest int64
	for _, e := range entries {
		if !e.Valid {
			f.MissingCount++
			continue
		}
		if len(durations) == 0 {
			f.MinDurationMs = e.DurationMs
			earliest, latest = e.StartedAtMs, e.SubmittedAtMs
		}
		durations = append(durations, float64(e.DurationMs))

		if e.DurationMs < f.MinDurationMs {
			f.MinDurationMs = e.DurationMs
		}
		if e.StartedAtMs < earliest {
			earliest = e.StartedAtMs
		}
		if e.SubmittedAtMs > latest {
			latest = e.SubmittedAtMs
		}
		if e.DurationMs < floorMs {
			f.BelowFloorCount++
		}
	}

	f.ValidCount = len(durations)
	if f.ValidCount == 0 {
		return f
	}
	f.Available = true
	f.MedianDurationMs = median(durations)
	f.FractionBelowFloor = float64(f.BelowFloorCount) / float64(f.ValidCount)
	f.TotalSessionDurationMs = latest - earliest
	return f
}
