// Package stationxml implements calibration.Catalogue by parsing a local
// FDSN StationXML metadata file into per-channel gain history. No
// StationXML parsing library is available in this deployment's dependency
// set, so this wraps encoding/xml directly (see DESIGN.md). File access goes
// through fsutil.FileSystem so tests can substitute an in-memory filesystem.
package stationxml

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/fenwick-seismic/quakewatch/internal/fsutil"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/calibration"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/streamid"
)

// document mirrors just enough of the FDSN StationXML schema to recover
// per-channel sensitivity history: network/station/channel nesting, the
// channel's sample rate and response stage-zero InstrumentSensitivity, and
// the epoch each channel entry is valid from.
type document struct {
	XMLName  xml.Name `xml:"FDSNStationXML"`
	Networks []struct {
		Code     string `xml:"code,attr"`
		Stations []struct {
			Code     string `xml:"code,attr"`
			Channels []struct {
				Code         string  `xml:"code,attr"`
				LocationCode string  `xml:"locationCode,attr"`
				StartDate    string  `xml:"startDate,attr"`
				SampleRate   float64 `xml:"SampleRate"`
				Response     struct {
					InstrumentSensitivity struct {
						Value     float64 `xml:"Value"`
						InputUnits struct {
							Name string `xml:"Name"`
						} `xml:"InputUnits"`
					} `xml:"InstrumentSensitivity"`
				} `xml:"Response"`
			} `xml:"Channel"`
		} `xml:"Station"`
	} `xml:"Network"`
}

// Catalogue is a calibration.Catalogue backed by a single StationXML file,
// parsed once on construction and held in memory for the life of the
// process. It satisfies calibration.Catalogue.
type Catalogue struct {
	mu   sync.RWMutex
	rows map[string][]calibration.CatalogueRow
}

var _ calibration.Catalogue = (*Catalogue)(nil)

// Open parses the StationXML file at path and returns a ready Catalogue.
func Open(path string) (*Catalogue, error) {
	return OpenFS(fsutil.OSFileSystem{}, path)
}

// OpenFS parses the StationXML file at path through fs, letting tests
// substitute fsutil.NewMemoryFileSystem for the real filesystem.
func OpenFS(fsys fsutil.FileSystem, path string) (*Catalogue, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("stationxml: read %s: %w", path, err)
	}

	var doc document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("stationxml: parse %s: %w", path, err)
	}

	rows := make(map[string][]calibration.CatalogueRow)
	for _, net := range doc.Networks {
		for _, sta := range net.Stations {
			for _, ch := range sta.Channels {
				stream := streamid.StreamID{
					Network:  net.Code,
					Station:  sta.Code,
					Location: ch.LocationCode,
					Channel:  ch.Code,
				}
				sensitivity := ch.Response.InstrumentSensitivity
				if sensitivity.Value == 0 {
					continue
				}
				key := stream.String()
				rows[key] = append(rows[key], calibration.CatalogueRow{
					Gain:        sensitivity.Value,
					CalibPeriod: calibPeriod(ch.SampleRate),
					SampleRate:  ch.SampleRate,
					SegmentType: segmentType(sensitivity.InputUnits.Name),
					Units:       sensitivity.InputUnits.Name,
					Time:        parseEpoch(ch.StartDate),
				})
			}
		}
	}

	return &Catalogue{rows: rows}, nil
}

// Lookup returns every parsed record for stream, oldest first, satisfying
// calibration.Catalogue.
func (c *Catalogue) Lookup(stream streamid.StreamID) ([]calibration.CatalogueRow, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, ok := c.rows[stream.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", calibration.ErrNotFound, stream)
	}
	out := make([]calibration.CatalogueRow, len(rows))
	copy(out, rows)
	return out, nil
}

func calibPeriod(sampleRate float64) float64 {
	if sampleRate <= 0 {
		return 1.0
	}
	return 1.0 / sampleRate
}

// segmentType guesses the FDSN one-letter segment type ("V" velocity,
// "A" acceleration) from an input-units name, defaulting to "V" when the
// units string doesn't mention acceleration explicitly.
func segmentType(units string) string {
	for _, r := range units {
		if r == '2' {
			return "A"
		}
	}
	return "V"
}

// parseEpoch parses a StationXML xs:dateTime startDate attribute, returning
// the zero time (which selectRow treats as "always valid") if absent or
// unparsable.
func parseEpoch(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02T15:04:05", v); err == nil {
		return t
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Unix(int64(f), 0).UTC()
	}
	return time.Time{}
}
