package integrity

import "strings"

// typingPauseMs separates typing bursts. Longer gaps are moves between
// fields rather than part of the typing rhythm.
const typingPauseMs = 2000

// freeTextTypes are question types that expect typed input.
var freeTextTypes = map[string]bool{
	"text":       true,
	"textarea":   true,
	"short_text": true,
	"long_text":  true,
	"open_ended": true,
	"email":      true,
	"number":     true,
}

// KeystrokeFeatures summarises keyboard dynamics for one session
type KeystrokeFeatures struct {
	Available                bool    `json:"available"`
	EventCount               int     `json:"event_count"`
	IntervalCount            int     `json:"interval_count"`
	MeanInterKeyIntervalMs   float64 `json:"mean_inter_key_interval_ms"`
	InterKeyIntervalStdDevMs float64 `json:"inter_key_interval_stddev_ms"`
	BackspaceRatio           float64 `json:"backspace_ratio"`
	MeanHoldMs               float64 `json:"mean_hold_ms"`

	// MetadataKnown is true when the caller described the questions shown.
	MetadataKnown    bool `json:"metadata_known"`
	FreeTextExpected bool `json:"free_text_expected"`
}

// ExtractKeystroke computes rhythm features from sanitized events. The
// question metadata, when present, says whether typing was expected at all.
func ExtractKeystroke(events []KeystrokeEvent, questions []QuestionMeta) KeystrokeFeatures {
	f := KeystrokeFeatures{
		EventCount:       len(events),
		MetadataKnown:    len(questions) > 0,
		FreeTextExpected: expectsFreeText(questions),
	}
	if len(events) == 0 {
		return f
	}
	f.Available = true

	holds := make([]float64, 0, len(events))
	control := 0
	for _, e := range events {
		holds = append(holds, float64(e.UpMs-e.DownMs))
		if e.KeyClass == KeyControl {
			control++
		}
	}
	f.MeanHoldMs = mean(holds)
	f.BackspaceRatio = float64(control) / float64(len(events))

	intervals := make([]float64, 0, len(events)-1)
	for i := 1; i < len(events); i++ {
		gap := events[i].DownMs - events[i-1].DownMs
		if gap > typingPauseMs {
			continue
		}
		intervals = append(intervals, float64(gap))
	}
	f.IntervalCount = len(intervals)
	f.MeanInterKeyIntervalMs = mean(intervals)
	f.InterKeyIntervalStdDevMs = stdDev(intervals)

	return f
}

func expectsFreeText(questions []QuestionMeta) bool {
	for _, q := range questions {
		if q.FreeText || freeTextTypes[strings.ToLower(strings.TrimSpace(q.Type))] {
			return true
		}
	}
	return false
}
