package packetsource

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fenwick-seismic/quakewatch/internal/seismic/packet"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/streamid"
)

// WaveformQuerier is the external collaborator a QuerySource pulls traces
// from: a waveform-table index, queried by station pattern and time window.
// It already returns per-channel Traces for the window (the native packet
// for pull sources typically spans every channel at once), so QuerySource
// does not need the single-stream grouping buffer.
type WaveformQuerier interface {
	Query(pattern streamid.Pattern, start, end time.Time) ([]packet.Trace, error)
}

// QuerySource is the pull-based Source realisation: a repeated query
// against an archive or realtime waveform-table index, advancing its window
// on empty archive reads rather than blocking indefinitely.
type QuerySource struct {
	querier          WaveformQuerier
	secondsPerPacket float64
	mode             Mode
	endTime          time.Time

	pollInterval time.Duration
	maxRetries   int

	mu      sync.Mutex
	pattern streamid.Pattern
	cursor  time.Time
	closed  bool
	closeCh chan struct{}
}

// NewQuerySource constructs a pull source over querier. start seeds the
// query cursor; a zero end means unbounded realtime acquisition, otherwise
// the source reports ErrSessionEnded once the cursor reaches end.
func NewQuerySource(querier WaveformQuerier, secondsPerPacket float64, start, end time.Time) *QuerySource {
	mode := DetectMode(end, time.Now())
	return &QuerySource{
		querier:          querier,
		secondsPerPacket: secondsPerPacket,
		mode:             mode,
		endTime:          end,
		cursor:           start,
		pollInterval:     500 * time.Millisecond,
		maxRetries:       5,
		closeCh:          make(chan struct{}),
	}
}

func (s *QuerySource) Select(pattern streamid.Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pattern = pattern
	return nil
}

// NextPacket pulls the next window's worth of traces. In archive mode an
// empty window advances the cursor by secondsPerPacket instead of blocking;
// in realtime mode it polls until at least one trace covers at least 99% of
// the configured packet duration.
func (s *QuerySource) NextPacket(ctx context.Context, startTimeHint *time.Time) (packet.Packet, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return packet.Packet{}, fmt.Errorf("packetsource: source closed")
	}
	if startTimeHint != nil {
		s.cursor = *startTimeHint
	}
	pattern := s.pattern
	s.mu.Unlock()

	windowSeconds := time.Duration(s.secondsPerPacket * float64(time.Second))
	retries := 0

	for {
		select {
		case <-ctx.Done():
			return packet.Packet{}, ctx.Err()
		case <-s.closeCh:
			return packet.Packet{}, fmt.Errorf("packetsource: source closed")
		default:
		}

		s.mu.Lock()
		cursor := s.cursor
		s.mu.Unlock()

		if s.mode == ModeArchive && !s.endTime.IsZero() && !cursor.Before(s.endTime) {
			return packet.Packet{}, ErrSessionEnded
		}

		windowEnd := cursor.Add(windowSeconds)
		traces, err := s.querier.Query(pattern, cursor, windowEnd)
		if err != nil {
			retries++
			log.Printf("packetsource: transient query error (attempt %d): %v", retries, err)
			if retries > s.maxRetries {
				return packet.Packet{}, fmt.Errorf("packetsource: query failed after %d retries: %w", retries, err)
			}
			if !s.sleep(ctx, s.pollInterval) {
				return packet.Packet{}, ctx.Err()
			}
			continue
		}
		retries = 0

		now := time.Now()
		clean := make([]packet.Trace, 0, len(traces))
		for _, tr := range traces {
			sanitized, ok := sanitizeTrace(tr)
			if !ok {
				continue
			}
			sanitized.LoadTime = now
			clean = append(clean, sanitized)
		}

		if len(clean) == 0 {
			if s.mode == ModeArchive {
				s.mu.Lock()
				s.cursor = windowEnd
				s.mu.Unlock()
				continue
			}
			if !s.sleep(ctx, s.pollInterval) {
				return packet.Packet{}, ctx.Err()
			}
			continue
		}

		if s.mode == ModeRealtime {
			covered := false
			for _, tr := range clean {
				if coversFraction(tr, s.secondsPerPacket, 0.99) {
					covered = true
					break
				}
			}
			if !covered {
				if !s.sleep(ctx, s.pollInterval) {
					return packet.Packet{}, ctx.Err()
				}
				continue
			}
		}

		s.mu.Lock()
		s.cursor = windowEnd
		s.mu.Unlock()

		return packet.Packet{Traces: clean}, nil
	}
}

func (s *QuerySource) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-s.closeCh:
		return false
	}
}

// Close is idempotent and interrupts any in-flight NextPacket poll.
func (s *QuerySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.closeCh)
	return nil
}
