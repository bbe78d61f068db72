package packetsource

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/coder/websocket"

	"github.com/fenwick-seismic/quakewatch/internal/seismic/packet"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/streamid"
)

// wsTraceMessage is one single-channel delivery from the realtime broker.
type wsTraceMessage struct {
	Network      string    `json:"network"`
	Station      string    `json:"station"`
	Location     string    `json:"location"`
	Channel      string    `json:"channel"`
	Start        time.Time `json:"start"`
	DeltaSeconds float64   `json:"delta_seconds"`
	Samples      []float64 `json:"samples"`
}

// WSSubscriber implements Subscriber over a websocket connection to a
// realtime broker, decoding one JSON-encoded trace per text message. No
// message-broker client (MQTT/NATS/Kafka) appears anywhere in the retrieval
// corpus; coder/websocket is already a transitive dependency of this module's
// tailscale stack, so it is promoted to a direct one here rather than
// introducing an unrelated client library (see DESIGN.md).
type WSSubscriber struct {
	URL string

	conn   *websocket.Conn
	cancel context.CancelFunc
}

// NewWSSubscriber constructs a subscriber dialing wsURL on Subscribe.
func NewWSSubscriber(wsURL string) *WSSubscriber {
	return &WSSubscriber{URL: wsURL}
}

// Subscribe dials the broker and requests the given station pattern,
// returning a channel fed by a background read loop until Unsubscribe or a
// read error closes it.
func (s *WSSubscriber) Subscribe(pattern streamid.Pattern) (<-chan packet.Trace, error) {
	ctx, cancel := context.WithCancel(context.Background())

	dialURL := s.URL
	if u, err := url.Parse(s.URL); err == nil {
		q := u.Query()
		q.Set("pattern", pattern.String())
		u.RawQuery = q.Encode()
		dialURL = u.String()
	}

	conn, _, err := websocket.Dial(ctx, dialURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("wsbroker: dial: %w", err)
	}
	s.conn = conn
	s.cancel = cancel

	ch := make(chan packet.Trace, 16)
	go s.readLoop(ctx, conn, ch)
	return ch, nil
}

func (s *WSSubscriber) readLoop(ctx context.Context, conn *websocket.Conn, ch chan<- packet.Trace) {
	defer close(ch)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("wsbroker: read: %v", err)
			}
			return
		}

		tr, err := decodeWSTraceMessage(data)
		if err != nil {
			log.Printf("wsbroker: decode message: %v", err)
			continue
		}

		select {
		case ch <- tr:
		case <-ctx.Done():
			return
		}
	}
}

// decodeWSTraceMessage parses one broker delivery into a Trace.
func decodeWSTraceMessage(data []byte) (packet.Trace, error) {
	var msg wsTraceMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return packet.Trace{}, err
	}
	return packet.Trace{
		Stream: streamid.StreamID{
			Network:  msg.Network,
			Station:  msg.Station,
			Location: msg.Location,
			Channel:  msg.Channel,
		},
		Start:   msg.Start,
		Delta:   time.Duration(msg.DeltaSeconds * float64(time.Second)),
		Samples: msg.Samples,
	}, nil
}

// Unsubscribe closes the websocket connection, stopping the read loop.
func (s *WSSubscriber) Unsubscribe() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn == nil {
		return nil
	}
	return s.conn.Close(websocket.StatusNormalClosure, "unsubscribe")
}
