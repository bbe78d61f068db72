package packetsource

import (
	"testing"
	"time"

	"github.com/fenwick-seismic/quakewatch/internal/seismic/packet"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/streamid"
)

func testTrace(t *testing.T, nslc string, start time.Time) packet.Trace {
	t.Helper()
	id, err := streamid.Parse(nslc)
	if err != nil {
		t.Fatalf("Parse(%q): %v", nslc, err)
	}
	return packet.Trace{Stream: id, Start: start, Delta: 10 * time.Millisecond, Samples: []float64{1, 2, 3}}
}

func TestGroupBufferCoalescesThreeWithinWindow(t *testing.T) {
	g := newGroupBuffer(1.0)
	base := time.Unix(1000, 0)

	if _, ready := g.Add(testTrace(t, "NC.PAGE.00.HHZ", base)); ready {
		t.Fatal("unexpected ready after first trace")
	}
	if _, ready := g.Add(testTrace(t, "NC.PAGE.00.HHN", base.Add(200*time.Millisecond))); ready {
		t.Fatal("unexpected ready after second trace")
	}
	pkt, ready := g.Add(testTrace(t, "NC.PAGE.00.HHE", base.Add(400*time.Millisecond)))
	if !ready {
		t.Fatal("expected ready after third trace")
	}
	if len(pkt.Traces) != 3 {
		t.Fatalf("len(Traces) = %d, want 3", len(pkt.Traces))
	}
}

func TestGroupBufferFlushesOnNewerOutOfWindow(t *testing.T) {
	g := newGroupBuffer(1.0)
	base := time.Unix(1000, 0)

	g.Add(testTrace(t, "NC.PAGE.00.HHZ", base))
	pkt, ready := g.Add(testTrace(t, "NC.PAGE.00.HHN", base.Add(5*time.Second)))
	if !ready {
		t.Fatal("expected flush of single-trace bundle on out-of-window arrival")
	}
	if len(pkt.Traces) != 1 {
		t.Fatalf("len(Traces) = %d, want 1", len(pkt.Traces))
	}
}

func TestGroupBufferFlushesStaleStreakOfThree(t *testing.T) {
	g := newGroupBuffer(1.0)
	base := time.Unix(1000, 0)

	g.Add(testTrace(t, "NC.PAGE.00.HHZ", base))

	stale := base.Add(-5 * time.Second)
	if _, ready := g.Add(testTrace(t, "NC.PAGE.00.HHN", stale)); ready {
		t.Fatal("unexpected ready after first stale arrival")
	}
	if _, ready := g.Add(testTrace(t, "NC.PAGE.00.HHE", stale)); ready {
		t.Fatal("unexpected ready after second stale arrival")
	}
	pkt, ready := g.Add(testTrace(t, "NC.PAGE.00.HHZ", stale))
	if !ready {
		t.Fatal("expected flush after third consecutive stale arrival")
	}
	if len(pkt.Traces) != 3 {
		t.Fatalf("len(Traces) = %d, want 3 stale traces", len(pkt.Traces))
	}

	// The in-progress (non-stale) group must survive the stale flush.
	if len(g.pending) != 1 {
		t.Fatalf("pending = %d, want 1 (stashed in-progress group)", len(g.pending))
	}
}

func TestGroupBufferResetClearsState(t *testing.T) {
	g := newGroupBuffer(1.0)
	g.Add(testTrace(t, "NC.PAGE.00.HHZ", time.Unix(1000, 0)))
	g.Reset()
	if len(g.pending) != 0 {
		t.Fatal("expected pending cleared after Reset")
	}
}
