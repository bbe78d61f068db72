// Package packetsource supplies the pluggable producer of time-ordered
// waveform packets for one station selector. Three realisations share
// the same Source contract: a pull-based query against a waveform-table
// index, a push-based subscription to a realtime broker, and a streaming
// seedlink-style connection. All are interchangeable through the contract;
// the Station Worker picks one at construction time from configuration.
package packetsource

import (
	"context"
	"errors"
	"time"

	"github.com/fenwick-seismic/quakewatch/internal/seismic/packet"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/streamid"
)

// ErrSessionEnded is returned once an archive-mode source has exhausted its
// configured end time. It is not an error condition for the caller: it
// signals clean completion.
var ErrSessionEnded = errors.New("packetsource: session ended")

// Mode distinguishes archive replay from realtime acquisition. Archive mode
// advances its window on an empty read rather than blocking; realtime mode
// blocks until enough data has accumulated.
type Mode int

const (
	ModeRealtime Mode = iota
	ModeArchive
)

// DetectMode returns ModeArchive when end is non-zero and in the past
// relative to now, else ModeRealtime.
func DetectMode(end time.Time, now time.Time) Mode {
	if !end.IsZero() && end.Before(now) {
		return ModeArchive
	}
	return ModeRealtime
}

// Source is the contract every packet-source variant satisfies: select a
// station pattern, then repeatedly pull the next time-ordered packet.
// Implementations must never emit non-finite samples, must stamp LoadTime at
// the instant of acquisition, and must make Close idempotent and able to
// interrupt an in-flight blocking NextPacket call.
type Source interface {
	Select(pattern streamid.Pattern) error
	NextPacket(ctx context.Context, startTimeHint *time.Time) (packet.Packet, error)
	Close() error
}

// sanitizeTrace applies the realtime sanitation contract: trailing
// non-finite samples trimmed, interior non-finite samples replaced by the
// trace median. Returns ok=false if the trace is entirely non-finite and
// must be dropped.
func sanitizeTrace(tr packet.Trace) (packet.Trace, bool) {
	cleaned, ok := packet.SanitizeRealtime(tr.Samples)
	if !ok {
		return packet.Trace{}, false
	}
	tr.Samples = cleaned
	return tr, true
}

// coversFraction reports whether a trace's duration covers at least frac of
// wantSeconds.
func coversFraction(tr packet.Trace, wantSeconds, frac float64) bool {
	if len(tr.Samples) == 0 {
		return false
	}
	duration := tr.End().Sub(tr.Start).Seconds()
	return duration >= wantSeconds*frac
}
