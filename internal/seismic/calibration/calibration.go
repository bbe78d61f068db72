// Package calibration supplies per-channel scalar gain (counts to m/s²)
// with periodic refresh from an external metadata catalogue.
package calibration

import (
	"fmt"
	"sync"
	"time"

	"github.com/fenwick-seismic/quakewatch/internal/seismic/streamid"
	"github.com/fenwick-seismic/quakewatch/internal/units"
)

// ErrNotFound is returned when no catalogue record matches a stream id.
var ErrNotFound = fmt.Errorf("calibration: no record found for stream")

// CatalogueRow is the raw row consumed from the station-metadata catalogue:
// gain, the calibration period (seconds), sample rate, segment type
// ("V" velocity, "A" acceleration, ...), and a units string. No other
// columns are consumed from the external source.
type CatalogueRow struct {
	Gain         float64
	CalibPeriod  float64
	SampleRate   float64
	SegmentType  string
	Units        string
	Time         time.Time
}

// Catalogue is the external station-metadata collaborator this package only
// defines the contract for; production deployments back it with whatever
// instrument-response source is available (dataless SEED, StationXML, a
// metadata database, ...).
type Catalogue interface {
	// Lookup returns every record known for stream, ordered oldest-first.
	// Implementations are free to return a single current record if they
	// don't track history.
	Lookup(stream streamid.StreamID) ([]CatalogueRow, error)
}

// Record is a normalized, ready-to-apply calibration: scalar gain, canonical
// units string, sample rate, and the time it was fetched.
type Record struct {
	Gain       float64
	Units      string
	SampleRate float64
	FetchedAt  time.Time
}

// Apply multiplies raw counts by 1/Gain to produce physical units.
func (r Record) Apply(counts float64) float64 {
	if r.Gain == 0 {
		return counts
	}
	return counts / r.Gain
}

// Provider supplies calibration records and controls their refresh cadence.
type Provider interface {
	GainFor(stream streamid.StreamID, atTime *time.Time) (Record, error)
	RefreshIfStale(stream streamid.StreamID, now time.Time) error
}

// Cache is the interface the calibration provider persists normalized
// records through, implemented by internal/db's calibration_cache table.
type Cache interface {
	LookupCalibration(stream streamid.StreamID) (CacheRow, bool, error)
	UpsertCalibration(row CacheRow) error
}

// CacheRow mirrors db.CalibrationRow without importing internal/db, so this
// package stays free of a dependency on the storage layer's concrete types.
type CacheRow struct {
	Stream      streamid.StreamID
	Gain        float64
	GainUnit    string
	InputUnit   string
	FetchedUnix int64
	StaleAtUnix int64
}

// DefaultRefreshInterval is the default staleness window (response_update_interval).
const DefaultRefreshInterval = 600 * time.Second

// CatalogueProvider is the Provider implementation backed by a Catalogue
// collaborator and a persistent Cache, refreshing on demand.
type CatalogueProvider struct {
	catalogue Catalogue
	cache     Cache
	interval  time.Duration

	mu      sync.Mutex
	records map[string]Record
}

// NewCatalogueProvider constructs a provider with the given refresh interval.
// A zero interval uses DefaultRefreshInterval.
func NewCatalogueProvider(catalogue Catalogue, cache Cache, interval time.Duration) *CatalogueProvider {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &CatalogueProvider{
		catalogue: catalogue,
		cache:     cache,
		interval:  interval,
		records:   make(map[string]Record),
	}
}

// GainFor returns the most recent record with time <= atTime (or the newest
// if atTime is nil), normalizing units per the nm/segment-type rules. A
// non-nil atTime is looked up in the catalogue directly, bypassing the
// cache; a nil atTime returns the cached record, fetching it on first use.
func (p *CatalogueProvider) GainFor(stream streamid.StreamID, atTime *time.Time) (Record, error) {
	if atTime != nil {
		rows, err := p.catalogue.Lookup(stream)
		if err != nil {
			return Record{}, err
		}
		row := selectRow(rows, *atTime)
		if row == nil {
			return Record{}, fmt.Errorf("%w: %s", ErrNotFound, stream)
		}
		rec := normalize(*row)
		rec.FetchedAt = time.Now()
		return rec, nil
	}

	p.mu.Lock()
	if rec, ok := p.records[stream.String()]; ok {
		p.mu.Unlock()
		return rec, nil
	}
	p.mu.Unlock()

	if err := p.RefreshIfStale(stream, time.Now()); err != nil {
		return Record{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[stream.String()]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, stream)
	}
	return rec, nil
}

// RefreshIfStale fetches a fresh record from the catalogue when the cached
// copy is older than the refresh interval or absent, normalizing the raw
// catalogue row into physical-unit gain.
func (p *CatalogueProvider) RefreshIfStale(stream streamid.StreamID, now time.Time) error {
	p.mu.Lock()
	rec, have := p.records[stream.String()]
	stale := !have || now.Sub(rec.FetchedAt) > p.interval
	p.mu.Unlock()
	if !stale {
		return nil
	}

	rows, err := p.catalogue.Lookup(stream)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, stream)
	}

	row := selectRow(rows, now)
	if row == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, stream)
	}

	normalized := normalize(*row)
	normalized.FetchedAt = now
	p.mu.Lock()
	p.records[stream.String()] = normalized
	p.mu.Unlock()

	if p.cache != nil {
		_ = p.cache.UpsertCalibration(CacheRow{
			Stream:      stream,
			Gain:        normalized.Gain,
			GainUnit:    normalized.Units,
			InputUnit:   row.SegmentType,
			FetchedUnix: normalized.FetchedAt.Unix(),
			StaleAtUnix: normalized.FetchedAt.Add(p.interval).Unix(),
		})
	}

	return nil
}

// selectRow picks the newest record with Time <= at, or the newest record
// overall if at is the zero value (no time given).
func selectRow(rows []CatalogueRow, at time.Time) *CatalogueRow {
	var best *CatalogueRow
	for i := range rows {
		r := &rows[i]
		if at.IsZero() {
			if best == nil || r.Time.After(best.Time) {
				best = r
			}
			continue
		}
		if r.Time.After(at) {
			continue
		}
		if best == nil || r.Time.After(best.Time) {
			best = r
		}
	}
	if best == nil && len(rows) > 0 {
		// No record is old enough; fall back to the earliest available so a
		// cold catalogue still yields a usable gain rather than NotFound.
		best = &rows[0]
		for i := range rows {
			if rows[i].Time.Before(best.Time) {
				best = &rows[i]
			}
		}
	}
	return best
}

// normalize applies the unit-rewriting rules: nm-denominated gain
// is divided by 1e9 and relabelled in m; segment type V/A without explicit
// units default to m/s and m/s²; a non-positive calibration period
// normalizes to 1.0 s (folded into sample rate when sample rate is unset).
func normalize(row CatalogueRow) Record {
	gain := row.Gain
	unit := row.Units

	if units.IsNanometerUnit(unit) {
		gain = gain / 1e9
		unit = units.RewriteNanometerUnit(unit)
	}

	if unit == "" {
		unit = units.DefaultUnitForSegmentType(row.SegmentType)
	}

	calibPeriod := row.CalibPeriod
	if calibPeriod <= 0 {
		calibPeriod = 1.0
	}

	sampleRate := row.SampleRate
	if sampleRate <= 0 && calibPeriod > 0 {
		sampleRate = 1.0 / calibPeriod
	}

	return Record{
		Gain:       gain,
		Units:      unit,
		SampleRate: sampleRate,
		FetchedAt:  row.Time,
	}
}
