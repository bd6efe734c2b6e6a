package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/shortontech/surveyguard/internal/integrity"
)

func writeRules(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	return path
}

func TestLoadRules(t *testing.T) {
	t.Run("defaults without a file", func(t *testing.T) {
		got, err := LoadRules("")
		if err != nil {
			t.Fatalf("LoadRules: %v", err)
		}
		if want := integrity.DefaultRuleConfig(); !reflect.DeepEqual(got, want) {
			t.Errorf("LoadRules(\"\") = %+v, want %+v", got, want)
		}
	})

	t.Run("yaml overrides merge with defaults", func(t *testing.T) {
		path := writeRules(t, "rules.yaml", `
version: "2025.2-test"
timing:
  min_plausible_duration_ms: 800
  too_fast:
    weight: 0.4
device:
  automation:
    weight: 0.9
`)
		got, err := LoadRules(path)
		if err != nil {
			t.Fatalf("LoadRules: %v", err)
		}
		if got.Version != "2025.2-test" {
			t.Errorf("Version = %q", got.Version)
		}
		if got.Timing.MinPlausibleDurationMs != 800 {
			t.Errorf("MinPlausibleDurationMs = %d, want 800", got.Timing.MinPlausibleDurationMs)
		}
		if got.Timing.TooFast.Base != 0.4 {
			t.Errorf("TooFast.Base = %v, want 0.4", got.Timing.TooFast.Base)
		}
		if got.Timing.TooFast.Max != 0.70 {
			t.Errorf("TooFast.Max = %v, want default 0.70", got.Timing.TooFast.Max)
		}
		if got.Device.Automation.Base != 0.9 {
			t.Errorf("Automation.Base = %v, want 0.9", got.Device.Automation.Base)
		}
		if got.Mouse.NoData.Base != 0.25 {
			t.Errorf("Mouse.NoData.Base = %v, want default 0.25", got.Mouse.NoData.Base)
		}
	})

	t.Run("json file", func(t *testing.T) {
		path := writeRules(t, "rules.json", `{"keystroke": {"min_events": 8}}`)
		got, err := LoadRules(path)
		if err != nil {
			t.Fatalf("LoadRules: %v", err)
		}
		if got.Keystroke.MinEvents != 8 {
			t.Errorf("MinEvents = %d, want 8", got.Keystroke.MinEvents)
		}
	})

	t.Run("environment overrides file", func(t *testing.T) {
		path := writeRules(t, "rules.yaml", "timing:\n  min_plausible_duration_ms: 800\n")
		t.Setenv("SURVEYGUARD_RULES_TIMING_MIN_PLAUSIBLE_DURATION_MS", "900")
		t.Setenv("SURVEYGUARD_RULES_MOUSE_NO_DATA_WEIGHT", "0.1")

		got, err := LoadRules(path)
		if err != nil {
			t.Fatalf("LoadRules: %v", err)
		}
		if got.Timing.MinPlausibleDurationMs != 900 {
			t.Errorf("MinPlausibleDurationMs = %d, want 900", got.Timing.MinPlausibleDurationMs)
		}
		if got.Mouse.NoData.Base != 0.1 {
			t.Errorf("Mouse.NoData.Base = %v, want 0.1", got.Mouse.NoData.Base)
		}
	})

	t.Run("invalid weight is rejected", func(t *testing.T) {
		path := writeRules(t, "rules.yaml", "device:\n  automation:\n    weight: 1.5\n")
		if _, err := LoadRules(path); !errors.Is(err, integrity.ErrInvalidRuleConfig) {
			t.Errorf("expected ErrInvalidRuleConfig, got %v", err)
		}
	})

	t.Run("missing file is an error", func(t *testing.T) {
		if _, err := LoadRules(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("expected error for missing rules file")
		}
	})
}
