// Package worker implements the per-station pipeline: an
// Acquiring -> Processing -> Analyzing -> Acquiring state machine binding the
// packet source, calibration provider, filter buffer, latency tracker,
// threshold engine, and alarm dispatcher into one station's worth of
// continuous monitoring, with an append-only history log as its audit trail.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/fenwick-seismic/quakewatch/internal/seismic/alarm"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/calibration"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/filterbuffer"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/latency"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/packet"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/packetsource"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/streamid"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/threshold"
)

// Config bundles everything a Worker needs for one pinned station. The
// Supervisor constructs one Config per matched station from the shared
// MonitorConfig.
type Config struct {
	Station string
	Pattern streamid.Pattern

	Source      packetsource.Source
	Calibration calibration.Provider

	BufferSeconds    float64
	SecondsPerPacket float64
	FilterSpec       filterbuffer.Spec

	MaxLatency   time.Duration
	LatencyAlarm time.Duration
	ArchiveMode  bool

	Bands        threshold.BandSet
	AlarmTimeout time.Duration
	Recipients   []string

	Store    alarm.Store
	Notifier alarm.Notifier

	ThresholdLogPath string
	LatencyLogPath   string
	SecondsToKeep    int

	EndTime time.Time

	// MaxIterations caps the number of packets processed before Run returns
	// cleanly, 0 for unlimited. Intended for bounded test/benchmark runs
	// driven from the command line, not production use.
	MaxIterations int
}

// Worker runs one station's packet loop to completion (clean shutdown at
// EndTime, or until its context is cancelled).
type Worker struct {
	cfg Config

	latencyTracker *latency.Tracker
	detector       *threshold.Detector
	dispatcher     *alarm.Dispatcher
	thresholdLog   *ThresholdLog
	latencyLog     *LatencyLog

	buffers map[string]*filterbuffer.Buffer
}

// New constructs a Worker from cfg.
func New(cfg Config) *Worker {
	dispatcher := &alarm.Dispatcher{
		Store:        cfg.Store,
		Notifier:     cfg.Notifier,
		AlarmTimeout: cfg.AlarmTimeout,
		Recipients:   map[string][]string{cfg.Station: cfg.Recipients},
	}
	return &Worker{
		cfg:            cfg,
		latencyTracker: latency.NewTracker(cfg.MaxLatency, cfg.LatencyAlarm, cfg.ArchiveMode),
		detector:       threshold.NewDetector(map[string]threshold.BandSet{cfg.Station: cfg.Bands}),
		dispatcher:     dispatcher,
		thresholdLog:   NewThresholdLog(cfg.ThresholdLogPath, cfg.SecondsToKeep),
		latencyLog:     NewLatencyLog(cfg.LatencyLogPath, cfg.SecondsToKeep),
		buffers:        make(map[string]*filterbuffer.Buffer),
	}
}

// Run drives the Acquiring -> Processing -> Analyzing loop until ctx is
// cancelled, the configured EndTime passes, or the packet source reports a
// clean archive-mode session end.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.cfg.Source.Select(w.cfg.Pattern); err != nil {
		return fmt.Errorf("worker %s: select %s: %w", w.cfg.Station, w.cfg.Pattern, err)
	}
	defer w.cfg.Source.Close()

	iterations := 0
	for {
		if !w.cfg.EndTime.IsZero() && !time.Now().Before(w.cfg.EndTime) {
			log.Printf("worker %s: reached configured end time", w.cfg.Station)
			return nil
		}
		if w.cfg.MaxIterations > 0 && iterations >= w.cfg.MaxIterations {
			log.Printf("worker %s: reached max iterations (%d)", w.cfg.Station, w.cfg.MaxIterations)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		pkt, err := w.cfg.Source.NextPacket(ctx, nil)
		if err != nil {
			if errors.Is(err, packetsource.ErrSessionEnded) {
				log.Printf("worker %s: archive session ended", w.cfg.Station)
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("worker %s: transient packet source error: %v", w.cfg.Station, err)
			continue
		}
		if pkt.IsEmpty() {
			continue
		}

		w.processPacket(pkt, time.Now())
		iterations++
	}
}

// processPacket implements the Processing/Analyzing half of the state
// machine for one acquired packet. It always logs a latency-history row
// per trace; a newsworthy late condition short-circuits the remainder of
// analysis for this packet.
func (w *Worker) processPacket(pkt packet.Packet, now time.Time) {
	var lateStreams []string
	for _, tr := range pkt.Traces {
		sample := latency.Sample{PacketEnd: tr.End(), Received: tr.LoadTime}
		duration := tr.End().Sub(tr.Start).Seconds() + tr.Delta.Seconds()
		if _, err := w.latencyLog.Append(tr.Stream, tr.LoadTime, tr.Start, tr.End(), sample.Latency().Seconds(), duration); err != nil {
			log.Printf("worker %s: latency history append for %s: %v", w.cfg.Station, tr.Stream, err)
		}
		if evt, late := w.latencyTracker.Observe(tr.Stream, sample, now); late {
			lateStreams = append(lateStreams, evt.Stream.String())
		}
	}

	if len(lateStreams) > 0 {
		if err := w.dispatcher.DispatchLatency(w.cfg.Station, lateStreams, now); err != nil {
			log.Printf("worker %s: latency alarm dispatch: %v", w.cfg.Station, err)
		}
		return
	}

	var candidates []alarm.Candidate
	for _, tr := range pkt.Traces {
		samples, windowStart, sampleRate, err := w.stabilise(tr)
		if err != nil {
			log.Printf("worker %s: stabilise %s: %v", w.cfg.Station, tr.Stream, err)
			continue
		}

		rec, err := w.cfg.Calibration.GainFor(tr.Stream, nil)
		if err != nil {
			log.Printf("worker %s: calibration for %s: %v", w.cfg.Station, tr.Stream, err)
			continue
		}
		calibrated := make([]float64, len(samples))
		for i, v := range samples {
			calibrated[i] = rec.Apply(v)
		}

		value, peakTime := threshold.Peak(calibrated, windowStart, sampleRate)
		det, upward := w.detector.Evaluate(tr.Stream, value, peakTime)

		if _, err := w.thresholdLog.Append(tr.Stream, tr.Start, tr.End(), peakTime, value, det.Band); err != nil {
			log.Printf("worker %s: threshold history append for %s: %v", w.cfg.Station, tr.Stream, err)
		}

		if det.Band != threshold.OffBand {
			candidates = append(candidates, alarm.Candidate{Detection: det, Upward: upward})
		}
	}

	if len(candidates) > 0 {
		if _, err := w.dispatcher.Dispatch(w.cfg.Station, candidates, now); err != nil {
			log.Printf("worker %s: threshold alarm dispatch: %v", w.cfg.Station, err)
		}
	}
}

// stabilise runs a trace through the filter buffer; calibration gain lookup
// is left to the caller. When buffering is disabled (BufferSeconds <= 0) the
// trace is only detrended, skipping the filter entirely.
func (w *Worker) stabilise(tr packet.Trace) (samples []float64, windowStart time.Time, sampleRate float64, err error) {
	sampleRate = tr.SampleRate()
	if w.cfg.BufferSeconds <= 0 {
		return filterbuffer.Detrend(tr.Samples), tr.Start, sampleRate, nil
	}

	buf, err := w.bufferFor(tr)
	if err != nil {
		return nil, time.Time{}, 0, err
	}
	buf.Ingest(tr)
	samples, windowStart, err = buf.Stabilise()
	if err != nil {
		return nil, time.Time{}, 0, err
	}
	buf.TrimToPacket(w.cfg.SecondsPerPacket)
	return samples, windowStart, sampleRate, nil
}

// bufferFor returns this trace's per-channel sliding buffer, creating one on
// first use sized to the configured buffer length or the filter's minimum
// settling length (2/f_low), whichever is larger.
func (w *Worker) bufferFor(tr packet.Trace) (*filterbuffer.Buffer, error) {
	key := tr.Stream.String()
	if b, ok := w.buffers[key]; ok {
		return b, nil
	}

	rawLen := time.Duration(w.cfg.BufferSeconds * float64(time.Second))
	if w.cfg.FilterSpec.Low > 0 {
		if minRaw := time.Duration(2.0 / w.cfg.FilterSpec.Low * float64(time.Second)); minRaw > rawLen {
			rawLen = minRaw
		}
	}
	targetLen := time.Duration(w.cfg.SecondsPerPacket * float64(time.Second))
	if targetLen <= 0 || targetLen > rawLen {
		targetLen = rawLen
	}

	b, err := filterbuffer.NewBuffer(tr.SampleRate(), rawLen, targetLen, w.cfg.FilterSpec)
	if err != nil {
		return nil, err
	}
	w.buffers[key] = b
	return b, nil
}
