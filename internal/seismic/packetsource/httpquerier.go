package packetsource

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/fenwick-seismic/quakewatch/internal/httputil"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/packet"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/streamid"
)

// wireTrace is the JSON shape returned by the waveform-table index's query
// endpoint: one entry per matched channel within the requested window.
type wireTrace struct {
	Network      string    `json:"network"`
	Station      string    `json:"station"`
	Location     string    `json:"location"`
	Channel      string    `json:"channel"`
	Start        time.Time `json:"start"`
	DeltaSeconds float64   `json:"delta_seconds"`
	Samples      []float64 `json:"samples"`
	IntSamples   []int32   `json:"int_samples,omitempty"`
}

// HTTPWaveformQuerier implements WaveformQuerier against a REST waveform-table
// index, built on httputil's testable HTTP client abstraction so it can be
// exercised with httputil.MockHTTPClient in tests without a live server.
type HTTPWaveformQuerier struct {
	Client  httputil.HTTPClient
	BaseURL string
}

// NewHTTPWaveformQuerier constructs a querier against baseURL using client,
// defaulting to httputil.NewStandardClient(nil) if client is nil.
func NewHTTPWaveformQuerier(client httputil.HTTPClient, baseURL string) *HTTPWaveformQuerier {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &HTTPWaveformQuerier{Client: client, BaseURL: baseURL}
}

// Query fetches every channel matching pattern within [start, end) from the
// waveform-table index's /query endpoint.
func (q *HTTPWaveformQuerier) Query(pattern streamid.Pattern, start, end time.Time) ([]packet.Trace, error) {
	u, err := url.Parse(q.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("httpquerier: invalid base url: %w", err)
	}
	u.Path = joinPath(u.Path, "query")
	values := u.Query()
	values.Set("network", pattern.Network)
	values.Set("station", pattern.Station)
	values.Set("location", pattern.Location)
	values.Set("channel", pattern.Channel)
	values.Set("start", start.UTC().Format(time.RFC3339Nano))
	values.Set("end", end.UTC().Format(time.RFC3339Nano))
	u.RawQuery = values.Encode()

	resp, err := q.Client.Get(u.String())
	if err != nil {
		return nil, fmt.Errorf("httpquerier: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("httpquerier: unexpected status %d", resp.StatusCode)
	}

	var wire []wireTrace
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("httpquerier: decode response: %w", err)
	}

	out := make([]packet.Trace, 0, len(wire))
	for _, w := range wire {
		stream := streamid.StreamID{Network: w.Network, Station: w.Station, Location: w.Location, Channel: w.Channel}
		samples := w.Samples
		if len(samples) == 0 && len(w.IntSamples) > 0 {
			samples = packet.WidenInts(w.IntSamples)
		}
		out = append(out, packet.Trace{
			Stream:  stream,
			Start:   w.Start,
			Delta:   time.Duration(w.DeltaSeconds * float64(time.Second)),
			Samples: samples,
		})
	}
	return out, nil
}

func joinPath(base, suffix string) string {
	if len(base) > 0 && base[len(base)-1] == '/' {
		return base + suffix
	}
	return base + "/" + suffix
}
