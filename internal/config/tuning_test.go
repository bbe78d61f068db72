package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fenwick-seismic/quakewatch/internal/units"
)

func TestEmptyMonitorConfigDefaults(t *testing.T) {
	cfg := EmptyMonitorConfig()

	if got := cfg.GetNSLC(); got != "*.*.*.*" {
		t.Errorf("GetNSLC() = %q, want wildcard default", got)
	}
	if got := cfg.GetAPI(); got != "query" {
		t.Errorf("GetAPI() = %q, want query", got)
	}
	if got := cfg.GetDataSource(); got != "" {
		t.Errorf("GetDataSource() = %q, want empty by default", got)
	}
	if got := cfg.GetBufferSecs(); got != 120 {
		t.Errorf("GetBufferSecs() = %v, want 120", got)
	}
	if got := cfg.GetMaximumLatency(); got != 30*time.Second {
		t.Errorf("GetMaximumLatency() = %v, want 30s", got)
	}
	if _, ok := cfg.GetStartTime(); ok {
		t.Error("GetStartTime() should report unset for empty config (realtime mode)")
	}
}

func TestLoadTuningConfigRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "monitor.json")

	testJSON := `{
  "nslc": "NC.PAGE.00.HN?",
  "api": "query",
  "datasource": "http://waveforms.example.internal",
  "bufferSecs": 60,
  "secondsPerPacket": 10,
  "maximum_latency": "15s",
  "latency_alarm_timeout": "5m",
  "threshold_alarm_timeout": "10m",
  "response_update_interval": "10m",
  "thresholds": {
    "PAGE": [
      {"name": "minor", "level_g": 0.001},
      {"name": "major", "level_g": 0.01}
    ]
  },
  "filterdef": {"kind": "bandpass", "low": 1, "high": 20, "order": 4},
  "email_list": ["ops@example.com"],
  "outputdir": "/tmp/out"
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("LoadTuningConfig: %v", err)
	}

	if got := cfg.GetNSLC(); got != "NC.PAGE.00.HN?" {
		t.Errorf("GetNSLC() = %q", got)
	}
	if got := cfg.GetBufferSecs(); got != 60 {
		t.Errorf("GetBufferSecs() = %v, want 60", got)
	}
	if got := cfg.GetMaximumLatency(); got != 15*time.Second {
		t.Errorf("GetMaximumLatency() = %v, want 15s", got)
	}
	bands := cfg.ThresholdBandsSI("PAGE")
	if len(bands) != 2 {
		t.Fatalf("ThresholdBandsSI returned %d bands, want 2", len(bands))
	}
	if want := units.GToSI(0.01); bands[1].Level != want {
		t.Errorf("ThresholdBandsSI major level = %v, want %v", bands[1].Level, want)
	}
	if got := cfg.GetEmailList(); len(got) != 1 || got[0] != "ops@example.com" {
		t.Errorf("GetEmailList() = %v", got)
	}
}

func TestLoadTuningConfigMissingFile(t *testing.T) {
	if _, err := LoadTuningConfig("/nonexistent/path/to/config.json"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadTuningConfigRejectsNonJSON(t *testing.T) {
	if _, err := LoadTuningConfig("/some/path/config.yaml"); err == nil {
		t.Error("expected error for non-.json extension")
	}
}

func TestLoadTuningConfigRejectsLargeFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "large.json")
	largeData := make([]byte, 2*1024*1024)
	if err := os.WriteFile(configPath, largeData, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadTuningConfig(configPath); err == nil {
		t.Error("expected error for file size > 1MB")
	}
}

func TestLoadTuningConfigInvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.json")
	if err := os.WriteFile(configPath, []byte(`{"nslc": `), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadTuningConfig(configPath); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestValidateRejectsBadDurations(t *testing.T) {
	bad := "not-a-duration"
	cfg := &MonitorConfig{MaximumLatency: &bad}
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate to reject an unparsable duration")
	}
}

func TestValidateRejectsNonPositiveBufferSecs(t *testing.T) {
	zero := 0.0
	cfg := &MonitorConfig{BufferSecs: &zero}
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate to reject non-positive bufferSecs")
	}
}

func TestValidateRejectsEmptyThresholdList(t *testing.T) {
	cfg := &MonitorConfig{Thresholds: map[string][]ThresholdEntry{"PAGE": {}}}
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate to reject an empty threshold list")
	}
}

func TestGetFilterDefDefault(t *testing.T) {
	cfg := EmptyMonitorConfig()
	fd := cfg.GetFilterDef()
	if fd.Kind != "bandpass" {
		t.Errorf("default filter kind = %q, want bandpass", fd.Kind)
	}
}

func TestGetStartEndTimeParsing(t *testing.T) {
	start := "2026-01-01T00:00:00Z"
	end := "2026-01-01T01:00:00Z"
	cfg := &MonitorConfig{StartTime: &start, EndTime: &end}

	st, ok := cfg.GetStartTime()
	if !ok {
		t.Fatal("expected GetStartTime to report set")
	}
	if st.Year() != 2026 {
		t.Errorf("parsed start time = %v", st)
	}
	if _, ok := cfg.GetEndTime(); !ok {
		t.Error("expected GetEndTime to report set")
	}
}
