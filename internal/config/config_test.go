package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if got, want := cfg.GetSensorAddress(), "192.168.0.1:2112"; got != want {
		t.Errorf("GetSensorAddress() = %q, want %q", got, want)
	}
	if got, want := cfg.GetConnectTimeout(), 10*time.Second; got != want {
		t.Errorf("GetConnectTimeout() = %s, want %s", got, want)
	}
	if got, want := cfg.GetReadTimeout(), 5*time.Second; got != want {
		t.Errorf("GetReadTimeout() = %s, want %s", got, want)
	}
	if got, want := cfg.GetBackoffInitial(), 500*time.Millisecond; got != want {
		t.Errorf("GetBackoffInitial() = %s, want %s", got, want)
	}
	if got, want := cfg.GetBackoffMax(), 30*time.Second; got != want {
		t.Errorf("GetBackoffMax() = %s, want %s", got, want)
	}
	if got, want := cfg.GetMaxOutage(), 2*time.Minute; got != want {
		t.Errorf("GetMaxOutage() = %s, want %s", got, want)
	}
	if got, want := cfg.GetMinDistanceMM(), 100.0; got != want {
		t.Errorf("GetMinDistanceMM() = %v, want %v", got, want)
	}
	if got, want := cfg.GetMaxDistanceMM(), 3000.0; got != want {
		t.Errorf("GetMaxDistanceMM() = %v, want %v", got, want)
	}
	if cfg.GetVerifyChecksum() {
		t.Error("GetVerifyChecksum() = true, want false by default")
	}
	if cfg.GetAllowPollutionWarning() {
		t.Error("GetAllowPollutionWarning() = true, want false by default")
	}
	if got, want := cfg.GetListenAddress(), ":8082"; got != want {
		t.Errorf("GetListenAddress() = %q, want %q", got, want)
	}
}

func TestLoadPartialConfig(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "partial.json", `{
		"sensor_address": "10.0.0.7:2112",
		"max_distance_mm": 8000,
		"backoff_max": "1m"
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := cfg.GetSensorAddress(), "10.0.0.7:2112"; got != want {
		t.Errorf("GetSensorAddress() = %q, want %q", got, want)
	}
	if got, want := cfg.GetMaxDistanceMM(), 8000.0; got != want {
		t.Errorf("GetMaxDistanceMM() = %v, want %v", got, want)
	}
	if got, want := cfg.GetBackoffMax(), time.Minute; got != want {
		t.Errorf("GetBackoffMax() = %s, want %s", got, want)
	}
	// Unset fields keep defaults.
	if got, want := cfg.GetMinDistanceMM(), 100.0; got != want {
		t.Errorf("GetMinDistanceMM() = %v, want %v", got, want)
	}
}

func TestLoadZeroIsNotUnset(t *testing.T) {
	t.Parallel()

	// An explicit 0 must not fall back to the default.
	path := writeConfig(t, "zero.json", `{"min_distance_mm": 0}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.GetMinDistanceMM(); got != 0 {
		t.Errorf("GetMinDistanceMM() = %v, want 0", got)
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"wrong extension", "config.yaml", `{}`},
		{"not json", "bad.json", `sensor_address = "10.0.0.7"`},
		{"bad duration", "dur.json", `{"read_timeout": "five seconds"}`},
		{"negative duration", "neg.json", `{"backoff_initial": "-1s"}`},
		{"zero duration", "zerodur.json", `{"max_outage": "0s"}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := writeConfig(t, tt.file, tt.content)
			if _, err := Load(path); err == nil {
				t.Error("Load succeeded, want error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("Load succeeded on a missing file, want error")
	}
}
