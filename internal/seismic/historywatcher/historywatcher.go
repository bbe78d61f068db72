// Package historywatcher runs an independent sweep over every station's
// on-disk history logs, separate from the Station Workers that write them.
// It mirrors the current threshold band and data latency into the shared
// status store and raises a cross-station latency alarm when late data has
// gotten worse since the last sweep.
package historywatcher

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fenwick-seismic/quakewatch/internal/monitoring"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/alarm"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/historylock"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/threshold"
	"github.com/fenwick-seismic/quakewatch/internal/timeutil"
)

const (
	thresholdStatusField = 6 // rownum,seed_id,starttime,endtime,peaktime,value,status
	latencySeedField     = 1 // rownum,seed_id,time,starttime,endtime,latency,duration
	latencyValueField    = 5
	tailWindow           = 3 // channels-per-packet assumption shared with worker.RetentionMultiplier
)

// Config configures one sweep cycle over a set of stations' history logs.
type Config struct {
	OutputDir       string
	Stations        []string
	RefreshInterval time.Duration
	MaxLatency      time.Duration
	Dispatcher      *alarm.Dispatcher
}

// Watcher periodically tails every configured station's history logs and
// reconciles the shared status store against what it finds there.
type Watcher struct {
	cfg   Config
	clock timeutil.Clock

	// maxLateSeen tracks, per station, the worst late-arrival gap observed
	// on the previous sweep, so a latency alarm only fires when things have
	// gotten worse rather than on every sweep a station stays late.
	maxLateSeen map[string]float64
}

// New constructs a Watcher from cfg, ticking on a real clock.
func New(cfg Config) *Watcher {
	return NewWithClock(cfg, timeutil.RealClock{})
}

// NewWithClock constructs a Watcher ticking on clock, letting tests drive
// sweeps with a timeutil.MockClock instead of waiting on a real ticker.
func NewWithClock(cfg Config, clock timeutil.Clock) *Watcher {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 30 * time.Second
	}
	return &Watcher{cfg: cfg, clock: clock, maxLateSeen: make(map[string]float64)}
}

// Run sweeps every configured station on cfg.RefreshInterval until ctx is
// canceled.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := w.clock.NewTicker(w.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C():
			w.sweep(now)
		}
	}
}

func (w *Watcher) sweep(now time.Time) {
	for _, station := range w.cfg.Stations {
		if err := w.checkStation(station, now); err != nil {
			monitoring.Logf("historywatcher: station %s: %v", station, err)
		}
	}
}

func (w *Watcher) checkStation(station string, now time.Time) error {
	thresholdPath := fmt.Sprintf("%s/%s_threshold.csv", w.cfg.OutputDir, station)
	latencyPath := fmt.Sprintf("%s/%s_latency.csv", w.cfg.OutputDir, station)

	band, err := tailCurrentBand(thresholdPath)
	if err != nil {
		return fmt.Errorf("reading threshold log: %w", err)
	}

	lateStreams, maxLate, err := tailLateStreams(latencyPath, w.cfg.MaxLatency)
	if err != nil {
		return fmt.Errorf("reading latency log: %w", err)
	}

	bandFlags := map[string]bool{}
	status := "OK"
	if band != "" && band != threshold.OffBand {
		bandFlags[band] = true
		status = "ALARM"
	}
	if len(lateStreams) > 0 {
		status = "LATE"
	}

	// Dispatch before the status upsert below: DispatchLatency writes its own
	// partial status update internally, and this sweep's combined bandFlags
	// and status are the authoritative ones that should win.
	if len(lateStreams) > 0 && maxLate > w.maxLateSeen[station] {
		if w.cfg.Dispatcher != nil {
			if err := w.cfg.Dispatcher.DispatchLatency(station, lateStreams, now); err != nil {
				monitoring.Logf("historywatcher: dispatching latency alarm for %s: %v", station, err)
			}
		}
	}
	w.maxLateSeen[station] = maxLate

	if w.cfg.Dispatcher != nil {
		if err := w.cfg.Dispatcher.Store.UpsertStationStatus(station, bandFlags, status, now.Unix()); err != nil {
			monitoring.Logf("historywatcher: updating station status for %s: %v", station, err)
		}
	}

	return nil
}

// tailCurrentBand returns the most recently logged threshold status for a
// station, or "" if the log has no rows yet.
func tailCurrentBand(path string) (string, error) {
	lines, err := historylock.ReadLines(path)
	if err != nil {
		return "", err
	}
	rows := dataRows(lines)
	if len(rows) == 0 {
		return "", nil
	}
	fields := strings.Split(rows[len(rows)-1], ",")
	if len(fields) <= thresholdStatusField {
		return "", fmt.Errorf("malformed threshold row: %q", rows[len(rows)-1])
	}
	return fields[thresholdStatusField], nil
}

// tailLateStreams inspects the most recent tailWindow rows of a latency log
// and reports which streams currently exceed maxLatency, along with the
// worst latency seen among them.
func tailLateStreams(path string, maxLatency time.Duration) ([]string, float64, error) {
	lines, err := historylock.ReadLines(path)
	if err != nil {
		return nil, 0, err
	}
	rows := dataRows(lines)
	if len(rows) > tailWindow {
		rows = rows[len(rows)-tailWindow:]
	}

	var late []string
	var maxSeen float64
	for _, row := range rows {
		fields := strings.Split(row, ",")
		if len(fields) <= latencyValueField {
			continue
		}
		seconds, err := strconv.ParseFloat(fields[latencyValueField], 64)
		if err != nil {
			continue
		}
		if seconds > maxSeen {
			maxSeen = seconds
		}
		if time.Duration(seconds*float64(time.Second)) > maxLatency {
			late = append(late, fields[latencySeedField])
		}
	}
	return late, maxSeen, nil
}

// dataRows strips a CSV log's header row, if present.
func dataRows(lines []string) []string {
	if len(lines) == 0 {
		return nil
	}
	return lines[1:]
}
