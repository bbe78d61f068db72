// Package config loads the JSON tuning file that drives a monitor worker:
// the station/channel selector, data source, threshold bands, filter
// definition, buffer sizing, latency tolerances, and notification settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fenwick-seismic/quakewatch/internal/units"
)

// DefaultConfigPath is the canonical tuning file location.
const DefaultConfigPath = "config/tuning.json"

// ThresholdEntry is one named severity band as given in the configuration
// file, expressed in g (fractions of standard gravity).
type ThresholdEntry struct {
	Name  string  `json:"name"`
	LevelG float64 `json:"level_g"`
}

// FilterEntry describes the instrument-response filter to apply before
// threshold analysis.
type FilterEntry struct {
	Kind  string  `json:"kind"` // "lowpass", "highpass", "bandpass"
	Low   float64 `json:"low,omitempty"`
	High  float64 `json:"high,omitempty"`
	Order int     `json:"order,omitempty"`
}

// MonitorConfig is the root configuration for a monitor worker. Fields
// omitted from the JSON file retain their default values, so partial
// configs are safe; use the Get* accessors rather than reading fields
// directly so defaults stay centralized.
type MonitorConfig struct {
	NSLC       *string `json:"nslc,omitempty"`
	API        *string `json:"api,omitempty"`
	DataSource *string `json:"datasource,omitempty"`
	XMLFile    *string `json:"xmlfile,omitempty"`

	SerialPort     *string `json:"serial_port,omitempty"`
	SerialBaudRate *int    `json:"serial_baud_rate,omitempty"`

	Thresholds map[string][]ThresholdEntry `json:"thresholds,omitempty"`
	FilterDef  *FilterEntry                `json:"filterdef,omitempty"`

	BufferSecs       *float64 `json:"bufferSecs,omitempty"`
	SecondsPerPacket *float64 `json:"secondsPerPacket,omitempty"`

	MaximumLatency         *string `json:"maximum_latency,omitempty"`
	LatencyAlarmTimeout    *string `json:"latency_alarm_timeout,omitempty"`
	ThresholdAlarmTimeout  *string `json:"threshold_alarm_timeout,omitempty"`
	ResponseUpdateInterval *string `json:"response_update_interval,omitempty"`
	RefreshInterval        *string `json:"refresh_interval,omitempty"`

	// RemoveInstrumentResponse is parsed for configuration-file compatibility
	// but not acted on: see DESIGN.md for why full response removal is out
	// of scope. Calibration always applies the scalar 1/gain conversion.
	RemoveInstrumentResponse *bool    `json:"remove_instrument_response,omitempty"`
	EmailList                []string `json:"email_list,omitempty"`
	OutputDir                *string  `json:"outputdir,omitempty"`
	MySQLInfo                *string  `json:"mysql_info,omitempty"`

	StartTime *string  `json:"starttime,omitempty"`
	EndTime   *string  `json:"endtime,omitempty"`
	Duration  *float64 `json:"duration,omitempty"`

	MaxIterations *int `json:"max_iterations,omitempty"`
}

// EmptyMonitorConfig returns a MonitorConfig with all fields unset. Use
// LoadTuningConfig to load actual values from a file.
func EmptyMonitorConfig() *MonitorConfig {
	return &MonitorConfig{}
}

// LoadTuningConfig loads a MonitorConfig from a JSON file. The file must
// have a .json extension and be under 1MB.
func LoadTuningConfig(path string) (*MonitorConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyMonitorConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that set fields parse and fall within sane ranges.
func (c *MonitorConfig) Validate() error {
	durationFields := map[string]*string{
		"maximum_latency":          c.MaximumLatency,
		"latency_alarm_timeout":    c.LatencyAlarmTimeout,
		"threshold_alarm_timeout":  c.ThresholdAlarmTimeout,
		"response_update_interval": c.ResponseUpdateInterval,
		"refresh_interval":         c.RefreshInterval,
	}
	for name, v := range durationFields {
		if v == nil || *v == "" {
			continue
		}
		if _, err := time.ParseDuration(*v); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, *v, err)
		}
	}

	if c.BufferSecs != nil && *c.BufferSecs <= 0 {
		return fmt.Errorf("bufferSecs must be positive, got %f", *c.BufferSecs)
	}
	if c.SecondsPerPacket != nil && *c.SecondsPerPacket <= 0 {
		return fmt.Errorf("secondsPerPacket must be positive, got %f", *c.SecondsPerPacket)
	}

	for station, bands := range c.Thresholds {
		if len(bands) == 0 {
			return fmt.Errorf("thresholds for station %q must not be empty", station)
		}
	}

	return nil
}

// GetNSLC returns the configured station selector pattern, e.g. "NC.P*.*.HN?".
func (c *MonitorConfig) GetNSLC() string {
	if c.NSLC == nil {
		return "*.*.*.*"
	}
	return *c.NSLC
}

// GetAPI returns the configured packet source kind: "query", "broker", or
// "stream".
func (c *MonitorConfig) GetAPI() string {
	if c.API == nil {
		return "query"
	}
	return *c.API
}

// GetDataSource returns the data-source server location: an HTTP base URL
// for "query" or "broker", or a serial device path for "stream".
func (c *MonitorConfig) GetDataSource() string {
	if c.DataSource == nil {
		return ""
	}
	return *c.DataSource
}

// GetXMLFile returns the path to a local StationXML metadata file, or "" if
// none is configured, in which case no calibration catalogue is loaded.
func (c *MonitorConfig) GetXMLFile() string {
	if c.XMLFile == nil {
		return ""
	}
	return *c.XMLFile
}

// GetSerialPort returns the serial device path for the "stream" data source
// kind, e.g. "/dev/ttyUSB0".
func (c *MonitorConfig) GetSerialPort() string {
	if c.SerialPort == nil {
		return ""
	}
	return *c.SerialPort
}

// GetSerialBaudRate returns the configured baud rate for the "stream" data
// source kind.
func (c *MonitorConfig) GetSerialBaudRate() int {
	if c.SerialBaudRate == nil {
		return 115200
	}
	return *c.SerialBaudRate
}

// GetBufferSecs returns the raw sliding-buffer length in seconds.
func (c *MonitorConfig) GetBufferSecs() float64 {
	if c.BufferSecs == nil {
		return 120
	}
	return *c.BufferSecs
}

// GetSecondsPerPacket returns the nominal packet duration in seconds.
func (c *MonitorConfig) GetSecondsPerPacket() float64 {
	if c.SecondsPerPacket == nil {
		return 10
	}
	return *c.SecondsPerPacket
}

// GetMaximumLatency returns the latency alarm threshold. Zero or negative
// disables latency tracking.
func (c *MonitorConfig) GetMaximumLatency() time.Duration {
	return c.getDuration(c.MaximumLatency, 30*time.Second)
}

// GetLatencyAlarmTimeout returns the cooldown between repeat latency alarms.
func (c *MonitorConfig) GetLatencyAlarmTimeout() time.Duration {
	return c.getDuration(c.LatencyAlarmTimeout, 10*time.Minute)
}

// GetThresholdAlarmTimeout returns the cooldown between repeat threshold alarms.
func (c *MonitorConfig) GetThresholdAlarmTimeout() time.Duration {
	return c.getDuration(c.ThresholdAlarmTimeout, 10*time.Minute)
}

// GetResponseUpdateInterval returns the calibration refresh interval.
func (c *MonitorConfig) GetResponseUpdateInterval() time.Duration {
	return c.getDuration(c.ResponseUpdateInterval, 10*time.Minute)
}

// GetRefreshInterval returns the history watcher's sweep interval.
func (c *MonitorConfig) GetRefreshInterval() time.Duration {
	return c.getDuration(c.RefreshInterval, 30*time.Second)
}

func (c *MonitorConfig) getDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetEmailList returns the configured alarm-notification recipients.
func (c *MonitorConfig) GetEmailList() []string {
	return c.EmailList
}

// GetOutputDir returns the directory history logs and alarm artifacts are
// written under.
func (c *MonitorConfig) GetOutputDir() string {
	if c.OutputDir == nil {
		return "."
	}
	return *c.OutputDir
}

// GetMySQLInfo returns the legacy MySQL DSN field. This deployment's status
// store is sqlite-backed (see DESIGN.md); the field is retained for
// configuration-file compatibility and surfaced as-is to callers that still
// expect it.
func (c *MonitorConfig) GetMySQLInfo() string {
	if c.MySQLInfo == nil {
		return ""
	}
	return *c.MySQLInfo
}

// GetStartTime returns the configured archive-mode start time, or the zero
// value if unset (realtime mode).
func (c *MonitorConfig) GetStartTime() (time.Time, bool) {
	return c.parseTimeField(c.StartTime)
}

// GetEndTime returns the configured archive-mode end time, or the zero
// value if unset (realtime mode runs until stopped).
func (c *MonitorConfig) GetEndTime() (time.Time, bool) {
	return c.parseTimeField(c.EndTime)
}

func (c *MonitorConfig) parseTimeField(v *string) (time.Time, bool) {
	if v == nil || *v == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, *v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// GetDuration returns the configured archive-run duration in seconds, 0 if
// unset.
func (c *MonitorConfig) GetDuration() float64 {
	if c.Duration == nil {
		return 0
	}
	return *c.Duration
}

// GetMaxIterations returns the configured packet-processing cap per
// station worker, 0 for unlimited.
func (c *MonitorConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return 0
	}
	return *c.MaxIterations
}

// ThresholdBandsG returns the g-level bands configured for a station.
func (c *MonitorConfig) ThresholdBandsG(station string) []ThresholdEntry {
	return c.Thresholds[station]
}

// ThresholdBandsSI converts a station's configured g-level bands into
// m/s², the unit threshold.BandSet operates in.
func (c *MonitorConfig) ThresholdBandsSI(station string) []struct {
	Name  string
	Level float64
} {
	entries := c.Thresholds[station]
	out := make([]struct {
		Name  string
		Level float64
	}, len(entries))
	for i, e := range entries {
		out[i] = struct {
			Name  string
			Level float64
		}{Name: e.Name, Level: units.GToSI(e.LevelG)}
	}
	return out
}

// GetFilterDef returns the configured instrument-response filter, or a
// sensible strong-motion default (2-20Hz bandpass, 4th order) if unset.
func (c *MonitorConfig) GetFilterDef() FilterEntry {
	if c.FilterDef == nil {
		return FilterEntry{Kind: "bandpass", Low: 2, High: 20, Order: 4}
	}
	return *c.FilterDef
}
