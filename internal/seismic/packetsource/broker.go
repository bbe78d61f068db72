package packetsource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fenwick-seismic/quakewatch/internal/seismic/packet"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/streamid"
)

// Subscriber is the external collaborator a BrokerSource pulls from: a
// push-based realtime broker delivering one single-channel Trace per native
// message on the returned channel.
type Subscriber interface {
	Subscribe(pattern streamid.Pattern) (<-chan packet.Trace, error)
	Unsubscribe() error
}

// BrokerSource is the push-based Source realisation: a subscription to
// a realtime message broker, coalescing single-channel deliveries into
// multi-trace Packets via the shared grouping rule.
type BrokerSource struct {
	subscriber Subscriber

	mu      sync.Mutex
	group   *groupBuffer
	ch      <-chan packet.Trace
	closed  bool
	closeCh chan struct{}
}

// NewBrokerSource constructs a broker-backed source with the given nominal
// packet duration, used for the grouping window.
func NewBrokerSource(subscriber Subscriber, secondsPerPacket float64) *BrokerSource {
	return &BrokerSource{
		subscriber: subscriber,
		group:      newGroupBuffer(secondsPerPacket),
		closeCh:    make(chan struct{}),
	}
}

func (s *BrokerSource) Select(pattern streamid.Pattern) error {
	ch, err := s.subscriber.Subscribe(pattern)
	if err != nil {
		return fmt.Errorf("packetsource: subscribe: %w", err)
	}
	s.mu.Lock()
	s.ch = ch
	s.group.Reset()
	s.mu.Unlock()
	return nil
}

// NextPacket blocks until the grouping buffer has assembled a complete
// Packet from the broker's single-channel deliveries, the context is
// cancelled, or the source is closed.
func (s *BrokerSource) NextPacket(ctx context.Context, startTimeHint *time.Time) (packet.Packet, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return packet.Packet{}, fmt.Errorf("packetsource: source closed")
		}
		ch := s.ch
		s.mu.Unlock()

		if ch == nil {
			return packet.Packet{}, fmt.Errorf("packetsource: select not called")
		}

		select {
		case <-ctx.Done():
			return packet.Packet{}, ctx.Err()
		case <-s.closeCh:
			return packet.Packet{}, fmt.Errorf("packetsource: source closed")
		case tr, ok := <-ch:
			if !ok {
				return packet.Packet{}, fmt.Errorf("packetsource: broker channel closed")
			}
			sanitized, ok := sanitizeTrace(tr)
			if !ok {
				continue
			}
			sanitized.LoadTime = time.Now()

			s.mu.Lock()
			pkt, ready := s.group.Add(sanitized)
			s.mu.Unlock()
			if ready {
				return pkt, nil
			}
		}
	}
}

// Close is idempotent, unsubscribes from the broker, and interrupts any
// in-flight NextPacket call.
func (s *BrokerSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.closeCh)
	return s.subscriber.Unsubscribe()
}
