// Package filterbuffer maintains a per-stream sliding sample buffer that is
// padded, detrended, tapered, and zero-phase filtered before each analysis
// window is handed to the threshold stage.
package filterbuffer

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/fenwick-seismic/quakewatch/internal/seismic/packet"
)

// TaperFraction is the fraction of the padded buffer tapered at each edge
// with a raised-cosine (Tukey) window before filtering.
const TaperFraction = 0.25

// Buffer accumulates samples for one stream across packet boundaries,
// keeping up to rawLen seconds of history so stabilise() has enough context
// (mirror padding plus filter settling time) to produce a clean target
// window of targetLen seconds.
type Buffer struct {
	sampleRate float64
	delta      time.Duration

	rawLen    time.Duration
	targetLen time.Duration

	start   time.Time
	samples []float64

	filterSpec Spec
	filter     *Filter

	// attached reports whether the most recent Ingest merged temporally with
	// the existing buffer. A detached packet (large gap or backward jump)
	// replaces the buffer outright and is only ever detrended, never
	// filtered.
	attached bool
}

// NewBuffer constructs an empty buffer for a stream sampled at sampleRate Hz,
// retaining rawLen seconds of raw history to support a targetLen-second
// stabilised analysis window.
func NewBuffer(sampleRate float64, rawLen, targetLen time.Duration, spec Spec) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("filterbuffer: sample rate must be positive")
	}
	filter, err := NewFilter(spec, sampleRate)
	if err != nil {
		return nil, err
	}
	return &Buffer{
		sampleRate: sampleRate,
		delta:      time.Duration(float64(time.Second) / sampleRate),
		rawLen:     rawLen,
		targetLen:  targetLen,
		filterSpec: spec,
		filter:     filter,
	}, nil
}

// Len returns the number of buffered raw samples.
func (b *Buffer) Len() int { return len(b.samples) }

// Ingest merges a trace's samples into the buffer. A trace that starts where
// the buffer currently ends (within half a sample) is appended directly; a
// trace with a small forward gap is bridged with linearly interpolated
// filler samples; a trace that does not align at all (large gap, or runs
// backward) replaces the buffer outright, since stitching it in would
// fabricate data the instrument never produced.
func (b *Buffer) Ingest(tr packet.Trace) {
	if len(b.samples) == 0 {
		b.start = tr.Start
		b.samples = append([]float64(nil), tr.Samples...)
		b.attached = true
		b.trimToRawLen()
		return
	}

	bufEnd := b.start.Add(time.Duration(int64(len(b.samples)-1) * int64(b.delta)))
	gap := tr.Start.Sub(bufEnd)
	half := b.delta / 2

	switch {
	case gap >= -half && gap <= b.delta+half:
		b.samples = append(b.samples, tr.Samples...)
		b.attached = true
	case gap > b.delta+half && gap < 10*b.delta:
		missing := int(gap/b.delta) - 1
		last := b.samples[len(b.samples)-1]
		first := 0.0
		if len(tr.Samples) > 0 {
			first = tr.Samples[0]
		}
		for i := 1; i <= missing; i++ {
			frac := float64(i) / float64(missing+1)
			b.samples = append(b.samples, last+(first-last)*frac)
		}
		b.samples = append(b.samples, tr.Samples...)
		b.attached = true
	default:
		b.start = tr.Start
		b.samples = append([]float64(nil), tr.Samples...)
		b.attached = false
	}
	b.trimToRawLen()
}

// Attached reports whether the most recent Ingest merged temporally with the
// prior buffer contents. A detached buffer is only ever detrended by
// Stabilise, never filtered.
func (b *Buffer) Attached() bool { return b.attached }

func (b *Buffer) trimToRawLen() {
	maxSamples := int(b.rawLen.Seconds() * b.sampleRate)
	if maxSamples <= 0 || len(b.samples) <= maxSamples {
		return
	}
	drop := len(b.samples) - maxSamples
	b.samples = b.samples[drop:]
	b.start = b.start.Add(time.Duration(int64(drop) * int64(b.delta)))
}

// Stabilise produces the target-length analysis window: linear detrend over
// the full raw buffer, mirror-pad at both edges, a 25% cosine taper, a
// zero-phase pass through the configured filter, then discards the mirrored
// padding to return exactly targetLen seconds of clean samples ending at the
// buffer's current end.
func (b *Buffer) Stabilise() ([]float64, time.Time, error) {
	targetSamples := int(b.targetLen.Seconds() * b.sampleRate)
	if targetSamples <= 0 || len(b.samples) < targetSamples {
		return nil, time.Time{}, fmt.Errorf("filterbuffer: insufficient samples buffered (%d < %d)", len(b.samples), targetSamples)
	}

	detrended := detrend(b.samples)

	var full []float64
	if b.attached {
		padLen := len(detrended) / 2
		padded := mirrorPad(detrended, padLen)
		tapered := cosineTaper(padded, TaperFraction)
		filtered := b.filter.ApplyZeroPhase(tapered)
		full = filtered[padLen : len(filtered)-padLen]
	} else {
		// Detached: only ever detrended, never filtered.
		full = detrended
	}

	if len(full) < targetSamples {
		return nil, time.Time{}, fmt.Errorf("filterbuffer: stabilised window shorter than target")
	}
	window := full[len(full)-targetSamples:]

	windowStart := b.start.Add(time.Duration(int64(len(b.samples)-targetSamples) * int64(b.delta)))
	return append([]float64(nil), window...), windowStart, nil
}

// TrimToPacket discards all but the newest three packets' worth of buffered
// samples (3 x secondsPerPacket seconds), bounding memory for streams that
// run far longer than one analysis cycle.
func (b *Buffer) TrimToPacket(secondsPerPacket float64) {
	keep := int(secondsPerPacket * b.sampleRate * 3)
	if keep <= 0 || len(b.samples) <= keep {
		return
	}
	drop := len(b.samples) - keep
	b.samples = b.samples[drop:]
	b.start = b.start.Add(time.Duration(int64(drop) * int64(b.delta)))
}

// Detrend removes the best-fit linear trend from samples using ordinary
// least squares. Exposed for callers that run with buffering disabled
// (bufferSeconds <= 0) and so skip NewBuffer/Ingest/Stabilise entirely, but
// must still detrend each packet directly.
func Detrend(samples []float64) []float64 { return detrend(samples) }

// detrend removes the best-fit linear trend from samples using ordinary
// least squares over the sample index.
func detrend(samples []float64) []float64 {
	n := len(samples)
	if n < 2 {
		return append([]float64(nil), samples...)
	}
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}
	intercept, slope := stat.LinearRegression(xs, samples, nil, false)

	out := make([]float64, n)
	for i, v := range samples {
		out[i] = v - (intercept + slope*float64(i))
	}
	return out
}

// mirrorPad reflects pad samples from each edge of samples outward, giving
// the filter enough context to settle before the real data begins.
func mirrorPad(samples []float64, pad int) []float64 {
	n := len(samples)
	if pad > n {
		pad = n
	}
	out := make([]float64, 0, n+2*pad)
	for i := pad; i > 0; i-- {
		out = append(out, samples[i])
	}
	out = append(out, samples...)
	for i := 1; i <= pad; i++ {
		out = append(out, samples[n-1-i])
	}
	return out
}

// cosineTaper applies a raised-cosine (Tukey) window covering fraction of
// the slice length at each edge.
func cosineTaper(samples []float64, fraction float64) []float64 {
	n := len(samples)
	taperLen := int(float64(n) * fraction)
	if taperLen <= 0 {
		return append([]float64(nil), samples...)
	}
	out := append([]float64(nil), samples...)
	for i := 0; i < taperLen; i++ {
		w := 0.5 * (1 - math.Cos(math.Pi*float64(i)/float64(taperLen)))
		out[i] *= w
		out[n-1-i] *= w
	}
	return out
}
