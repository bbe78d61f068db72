// Package threshold computes peak ground acceleration for a stabilised
// window and classifies it against a configured set of severity bands.
package threshold

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/fenwick-seismic/quakewatch/internal/seismic/streamid"
)

// Band is one named severity level with a lower bound (exclusive) in g: a
// value exactly equal to Level does not belong to this band.
type Band struct {
	Name  string
	Level float64
}

// BandSet is a configured collection of bands for one station, always
// evaluated lowest-to-highest by Level regardless of input order.
type BandSet []Band

// Sorted returns the bands ordered ascending by Level.
func (bs BandSet) Sorted() BandSet {
	out := append(BandSet(nil), bs...)
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}

// OffBand is the sentinel band name for "below every configured threshold".
const OffBand = "OFF"

// Classify returns the uppercased name of the highest band whose Level the
// value strictly exceeds, scanning bands by numeric level rather than
// declaration order. A value exactly equal to a band's Level does not
// trigger that band. Returns OffBand if value does not exceed any band's
// level.
func (bs BandSet) Classify(value float64) string {
	sorted := bs.Sorted()
	result := OffBand
	for _, b := range sorted {
		if value > b.Level {
			result = strings.ToUpper(b.Name)
		}
	}
	return result
}

// Peak computes the peak absolute value and the time it occurred within a
// window starting at windowStart sampled at sampleRate Hz.
func Peak(samples []float64, windowStart time.Time, sampleRate float64) (value float64, at time.Time) {
	if len(samples) == 0 {
		return 0, windowStart
	}
	peakIdx := 0
	peakVal := math.Abs(samples[0])
	for i, v := range samples {
		if av := math.Abs(v); av > peakVal {
			peakVal = av
			peakIdx = i
		}
	}
	delta := time.Duration(0)
	if sampleRate > 0 {
		delta = time.Duration(float64(peakIdx) / sampleRate * float64(time.Second))
	}
	return peakVal, windowStart.Add(delta)
}

// Detection is one classification result for a stream's analysis window.
type Detection struct {
	Stream   streamid.StreamID
	Value    float64
	PeakTime time.Time
	Band     string
}

type memory struct {
	value float64
	band  string
}

// Detector tracks per-stream last-recorded value/band so it can decide
// whether a new detection is a strict upward transition worth alarming on.
// A detection classified OFF clears the stream's memory.
type Detector struct {
	bands   map[string]BandSet
	history map[string]memory
}

// NewDetector constructs a Detector with one BandSet per station id.
func NewDetector(bandsByStation map[string]BandSet) *Detector {
	return &Detector{bands: bandsByStation, history: make(map[string]memory)}
}

// Evaluate classifies a peak value for a stream and reports whether it is a
// strict upward transition: both the value and the band rank must increase
// relative to the last recorded detection for that stream.
func (d *Detector) Evaluate(stream streamid.StreamID, value float64, peakTime time.Time) (Detection, bool) {
	bands, ok := d.bands[stream.Station]
	if !ok {
		return Detection{}, false
	}
	band := bands.Classify(value)
	det := Detection{Stream: stream, Value: value, PeakTime: peakTime, Band: band}

	key := stream.String()
	prev, had := d.history[key]

	if band == OffBand {
		delete(d.history, key)
		return det, false
	}

	upward := !had || (value > prev.value && bandRank(bands, band) > bandRank(bands, prev.band))
	d.history[key] = memory{value: value, band: band}
	return det, upward
}

// bandRank returns the ordinal position of name within the sorted band set,
// or -1 if not found (including OffBand, which ranks below every band).
func bandRank(bands BandSet, name string) int {
	if name == OffBand {
		return -1
	}
	sorted := bands.Sorted()
	for i, b := range sorted {
		if strings.ToUpper(b.Name) == name {
			return i
		}
	}
	return -1
}
