// Package latency tracks per-stream acquisition latency (wall-clock receipt
// time minus packet end time) over a rolling window and flags streams that
// have fallen behind.
package latency

import (
	"time"

	"github.com/fenwick-seismic/quakewatch/internal/seismic/streamid"
)

// DefaultWindow is the rolling window used to track the recent latency peak
// for a stream when no window is configured.
const DefaultWindow = 60 * time.Second

// GrowthThreshold is the minimum additional latency, versus the previous
// recorded maximum, a stream must accumulate before a repeat "late" alarm is
// considered meaningfully worse rather than noise.
const GrowthThreshold = 500 * time.Millisecond

// Sample is one observed latency measurement for a stream.
type Sample struct {
	PacketEnd time.Time
	Received  time.Time
}

// Latency returns how far behind wall clock the sample's packet end is.
func (s Sample) Latency() time.Duration { return s.Received.Sub(s.PacketEnd) }

type trackedStream struct {
	samples  []Sample
	lastMax  time.Duration
	lastAt   time.Time
}

// Tracker maintains rolling latency windows per stream and decides when a
// "late" condition is newsworthy enough to alarm. A Tracker with
// MaxLatency <= 0, or running in archive mode, never reports late streams.
type Tracker struct {
	MaxLatency   time.Duration
	Window       time.Duration
	AlarmTimeout time.Duration
	ArchiveMode  bool

	streams map[string]*trackedStream
}

// NewTracker constructs a Tracker with Window set to DefaultWindow.
func NewTracker(maxLatency, alarmTimeout time.Duration, archiveMode bool) *Tracker {
	return &Tracker{
		MaxLatency:   maxLatency,
		Window:       DefaultWindow,
		AlarmTimeout: alarmTimeout,
		ArchiveMode:  archiveMode,
		streams:      make(map[string]*trackedStream),
	}
}

// Disabled reports whether latency tracking is inactive for this configuration.
func (t *Tracker) Disabled() bool {
	return t.ArchiveMode || t.MaxLatency <= 0
}

// Event describes a newly detected late condition worth alarming on.
type Event struct {
	Stream       streamid.StreamID
	CurrentMax   time.Duration
	PreviousMax  time.Duration
}

// Observe records a latency sample for a stream and reports whether it
// constitutes a new, alarm-worthy "late" event: the rolling-window maximum
// exceeds MaxLatency, has grown by at least GrowthThreshold since the last
// recorded maximum, and the stream's alarm cooldown has elapsed.
func (t *Tracker) Observe(stream streamid.StreamID, sample Sample, now time.Time) (Event, bool) {
	if t.Disabled() {
		return Event{}, false
	}

	key := stream.String()
	ts, ok := t.streams[key]
	if !ok {
		ts = &trackedStream{}
		t.streams[key] = ts
	}

	ts.samples = append(ts.samples, sample)
	cutoff := now.Add(-t.Window)
	kept := ts.samples[:0]
	for _, s := range ts.samples {
		if s.Received.After(cutoff) {
			kept = append(kept, s)
		}
	}
	ts.samples = kept

	var windowMax time.Duration
	for _, s := range ts.samples {
		if l := s.Latency(); l > windowMax {
			windowMax = l
		}
	}

	if windowMax <= t.MaxLatency {
		return Event{}, false
	}
	if windowMax < ts.lastMax+GrowthThreshold {
		return Event{}, false
	}
	if !ts.lastAt.IsZero() && now.Sub(ts.lastAt) < t.AlarmTimeout {
		return Event{}, false
	}

	evt := Event{Stream: stream, CurrentMax: windowMax, PreviousMax: ts.lastMax}
	ts.lastMax = windowMax
	ts.lastAt = now
	return evt, true
}

// Reset clears tracked state for a stream, used when a worker restarts
// acquisition from scratch.
func (t *Tracker) Reset(stream streamid.StreamID) {
	delete(t.streams, stream.String())
}
