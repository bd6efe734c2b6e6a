package sink

import "testing"

func TestGetIntEnv(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{"unset", "", 500},
		{"valid", "1000", 1000},
		{"whitespace", " 25 ", 25},
		{"not a number", "lots", 500},
		{"zero", "0", 500},
		{"negative", "-5", 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_INT_ENV", tt.value)
			if got := getIntEnv("TEST_INT_ENV", 500); got != tt.want {
				t.Errorf("getIntEnv() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGetBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"", false, false},
		{"true", false, true},
		{"YES", false, true},
		{"1", false, true},
		{"f", true, false},
		{"no", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_BOOL_ENV", tt.value)
			if got := getBoolEnv("TEST_BOOL_ENV", tt.def); got != tt.want {
				t.Errorf("getBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
			}
		})
	}
}

func TestGetEnvOr(t *testing.T) {
	t.Setenv("TEST_STR_ENV", "")
	if got := getEnvOr("TEST_STR_ENV", "fallback"); got != "fallback" {
		t.Errorf("getEnvOr() = %q, want fallback", got)
	}
	t.Setenv("TEST_STR_ENV", "set")
	if got := getEnvOr("TEST_STR_ENV", "fallback"); got != "set" {
		t.Errorf("getEnvOr() = %q, want set", got)
	}
}
