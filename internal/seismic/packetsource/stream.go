package packetsource

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/fenwick-seismic/quakewatch/internal/seismic/packet"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/streamid"
)

// Decoder speaks the wire protocol of one streaming connection: it writes
// the station/channel selection onto the connection, then decodes one
// single-channel Trace per call to NextTrace. Decoder implementations are
// the seedlink-style wire-format-specific piece this package does not
// specify.
type Decoder interface {
	Select(w io.Writer, pattern streamid.Pattern) error
	NextTrace(r io.Reader) (packet.Trace, error)
}

// StreamSource is the streaming Source realisation: a long-lived
// connection (TCP seedlink link, or a directly attached digitizer reached
// over a serial port) that a Decoder demultiplexes into single-channel
// Traces, coalesced by the shared grouping rule.
type StreamSource struct {
	conn             io.ReadWriteCloser
	decoder          Decoder
	secondsPerPacket float64

	mu      sync.Mutex
	group   *groupBuffer
	closed  bool
	closeCh chan struct{}
}

// NewStreamSource wraps an already-open connection. Use OpenSerialStreamSource
// to open a directly attached digitizer over a serial link instead.
func NewStreamSource(conn io.ReadWriteCloser, decoder Decoder, secondsPerPacket float64) *StreamSource {
	return &StreamSource{
		conn:             conn,
		decoder:          decoder,
		secondsPerPacket: secondsPerPacket,
		group:            newGroupBuffer(secondsPerPacket),
		closeCh:          make(chan struct{}),
	}
}

// OpenSerialStreamSource opens a directly attached seismic digitizer over a
// serial port, for deployments where the streaming source is hardware
// rather than a network seedlink endpoint.
func OpenSerialStreamSource(path string, mode *serial.Mode, decoder Decoder, secondsPerPacket float64) (*StreamSource, error) {
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("packetsource: open serial port %s: %w", path, err)
	}
	return NewStreamSource(port, decoder, secondsPerPacket), nil
}

func (s *StreamSource) Select(pattern streamid.Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.decoder.Select(s.conn, pattern); err != nil {
		return fmt.Errorf("packetsource: stream select: %w", err)
	}
	s.group.Reset()
	return nil
}

// NextPacket decodes single-channel traces off the connection until the
// grouping buffer assembles a complete Packet. Cancelling ctx closes the
// underlying connection to interrupt a blocking read, per the close()
// contract.
func (s *StreamSource) NextPacket(ctx context.Context, startTimeHint *time.Time) (packet.Packet, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-done:
		case <-s.closeCh:
		}
	}()

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return packet.Packet{}, fmt.Errorf("packetsource: source closed")
		}
		s.mu.Unlock()

		tr, err := s.decoder.NextTrace(s.conn)
		if err != nil {
			if ctx.Err() != nil {
				return packet.Packet{}, ctx.Err()
			}
			return packet.Packet{}, fmt.Errorf("packetsource: stream read: %w", err)
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

// Close is idempotent and closes the underlying connection, which
// interrupts any blocking read performed by the decoder.
func (s *StreamSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.closeCh)
	return s.conn.Close()
}
