package packetsource

import (
	"log"
	"time"

	"github.com/fenwick-seismic/quakewatch/internal/seismic/packet"
)

// groupBuffer coalesces single-stream native packets from sources that
// deliver one stream per native packet (push broker, seedlink stream) into
// multi-trace Packets. It is worker-local state
// scoped to one Source instance, never a package-level global.
type groupBuffer struct {
	halfWindow time.Duration

	pending    []packet.Trace
	firstStart time.Time

	staleBundle []packet.Trace
	staleStreak int
}

func newGroupBuffer(secondsPerPacket float64) *groupBuffer {
	return &groupBuffer{halfWindow: time.Duration(secondsPerPacket / 2 * float64(time.Second))}
}

// Add accumulates tr into the in-progress bundle and reports a completed
// Packet when one is ready: either 3 single-stream packets have landed
// within ±half a packet of the first, or 3 consecutive stale packets forced
// an early flush.
func (g *groupBuffer) Add(tr packet.Trace) (packet.Packet, bool) {
	if len(g.pending) == 0 {
		g.pending = []packet.Trace{tr}
		g.firstStart = tr.Start
		return packet.Packet{}, false
	}

	diff := tr.Start.Sub(g.firstStart)
	switch {
	case diff >= -g.halfWindow && diff <= g.halfWindow:
		g.pending = append(g.pending, tr)
		g.staleStreak = 0
		g.staleBundle = nil
		if len(g.pending) >= 3 {
			bundle := packet.Packet{Traces: g.pending}
			g.pending = nil
			return bundle, true
		}
		return packet.Packet{}, false

	case diff < -g.halfWindow:
		// Stale: more than half a packet older than the first trace in the
		// in-progress group. Preserved per the documented fragile branch: on
		// the third consecutive stale arrival, flush a bundle built from the
		// stale packets (mixing epochs) and leave the newer in-progress group
		// stashed in g.pending untouched for the next call.
		g.staleBundle = append(g.staleBundle, tr)
		g.staleStreak++
		if g.staleStreak >= 3 {
			bundle := packet.Packet{Traces: g.staleBundle}
			g.staleBundle = nil
			g.staleStreak = 0
			log.Printf("packetsource: flushed stale-packet bundle (3 consecutive late arrivals); in-progress group stashed")
			return bundle, true
		}
		return packet.Packet{}, false

	default:
		// Newer than the grouping window: the in-progress group can't absorb
		// this trace. Flush whatever has accumulated so far and start a fresh
		// group anchored on tr.
		bundle := packet.Packet{Traces: g.pending}
		ok := len(bundle.Traces) > 0
		g.pending = []packet.Trace{tr}
		g.firstStart = tr.Start
		g.staleStreak = 0
		g.staleBundle = nil
		return bundle, ok
	}
}

// Reset discards any in-progress accumulation, used when a source is
// re-selected onto a different pattern.
func (g *groupBuffer) Reset() {
	g.pending = nil
	g.staleBundle = nil
	g.staleStreak = 0
	g.firstStart = time.Time{}
}
