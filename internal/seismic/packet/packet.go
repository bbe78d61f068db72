// Package packet defines the waveform Packet/Trace types that flow through
// the acquisition, filtering, and analysis stages of a station pipeline.
package packet

import (
	"math"
	"sort"
	"time"

	"github.com/fenwick-seismic/quakewatch/internal/seismic/streamid"
)

// Trace is one channel's worth of samples covering a time span.
type Trace struct {
	Stream    streamid.StreamID
	Start     time.Time
	Delta     time.Duration // sample spacing; SampleRate = 1/Delta.Seconds()
	Samples   []float64
	LoadTime  time.Time // wall-clock instant this trace's packet was received
	Gain      float64   // optional attached gain; 0 means "not set"
	Units     string    // optional attached units tag
}

// NPTS returns the number of samples in the trace.
func (t Trace) NPTS() int { return len(t.Samples) }

// SampleRate returns samples per second implied by Delta.
func (t Trace) SampleRate() float64 {
	if t.Delta <= 0 {
		return 0
	}
	return 1.0 / t.Delta.Seconds()
}

// End returns the time of the last sample: start + (npts-1)*delta.
func (t Trace) End() time.Time {
	if len(t.Samples) == 0 {
		return t.Start
	}
	return t.Start.Add(time.Duration(int64(len(t.Samples)-1) * int64(t.Delta)))
}

// Packet bundles one or more traces sharing an approximate start time.
type Packet struct {
	Traces []Trace
}

// Start returns the earliest trace start time in the packet.
func (p Packet) Start() time.Time {
	if len(p.Traces) == 0 {
		return time.Time{}
	}
	min := p.Traces[0].Start
	for _, tr := range p.Traces[1:] {
		if tr.Start.Before(min) {
			min = tr.Start
		}
	}
	return min
}

// End returns the latest trace end time in the packet.
func (p Packet) End() time.Time {
	if len(p.Traces) == 0 {
		return time.Time{}
	}
	max := p.Traces[0].End()
	for _, tr := range p.Traces[1:] {
		if e := tr.End(); e.After(max) {
			max = e
		}
	}
	return max
}

// IsEmpty reports whether the packet carries no traces at all.
func (p Packet) IsEmpty() bool { return len(p.Traces) == 0 }

// WidenInts is a no-op placeholder documenting the boundary invariant:
// integer-typed sample arrays from upstream sources are widened to float64
// before a Trace is constructed; there is no int-sample Trace representation
// in this package, so every caller that decodes raw samples MUST convert
// through float64 at the point of decode.
func WidenInts(raw []int32) []float64 {
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = float64(v)
	}
	return out
}

// SanitizeRealtime trims trailing non-finite samples and replaces interior
// non-finite samples with the trace's median, per the realtime acquisition
// contract. Returns ok=false if every sample is non-finite (the trace should
// be dropped entirely).
func SanitizeRealtime(samples []float64) (out []float64, ok bool) {
	end := len(samples)
	for end > 0 && !isFinite(samples[end-1]) {
		end--
	}
	if end == 0 {
		return nil, false
	}
	trimmed := append([]float64(nil), samples[:end]...)

	anyFinite := false
	for _, v := range trimmed {
		if isFinite(v) {
			anyFinite = true
			break
		}
	}
	if !anyFinite {
		return nil, false
	}

	med := median(trimmed)
	for i, v := range trimmed {
		if !isFinite(v) {
			trimmed[i] = med
		}
	}
	return trimmed, true
}

// AllFinite reports whether every sample in samples is finite.
func AllFinite(samples []float64) bool {
	for _, v := range samples {
		if !isFinite(v) {
			return false
		}
	}
	return true
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// median computes the median of a finite-valued slice, ignoring non-finite
// entries. Returns 0 if there are no finite values.
func median(samples []float64) float64 {
	finite := make([]float64, 0, len(samples))
	for _, v := range samples {
		if isFinite(v) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return 0
	}
	sorted := append([]float64(nil), finite...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
