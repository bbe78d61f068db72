package calibration

import (
	"testing"
	"time"

	"github.com/fenwick-seismic/quakewatch/internal/seismic/streamid"
)

type fakeCatalogue struct {
	rows    map[string][]CatalogueRow
	err     error
	lookups int
}

func (f *fakeCatalogue) Lookup(stream streamid.StreamID) ([]CatalogueRow, error) {
	f.lookups++
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[stream.String()], nil
}

type fakeCache struct {
	rows map[string]CacheRow
}

func newFakeCache() *fakeCache { return &fakeCache{rows: make(map[string]CacheRow)} }

func (c *fakeCache) LookupCalibration(stream streamid.StreamID) (CacheRow, bool, error) {
	row, ok := c.rows[stream.String()]
	return row, ok, nil
}

func (c *fakeCache) UpsertCalibration(row CacheRow) error {
	c.rows[row.Stream.String()] = row
	return nil
}

func mustStream(t *testing.T, nslc string) streamid.StreamID {
	t.Helper()
	id, err := streamid.Parse(nslc)
	if err != nil {
		t.Fatalf("Parse(%q): %v", nslc, err)
	}
	return id
}

func TestGainForNormalizesNanometerUnits(t *testing.T) {
	stream := mustStream(t, "NC.PAGE.00.HHZ")
	cat := &fakeCatalogue{rows: map[string][]CatalogueRow{
		stream.String(): {
			{Gain: 2e9, CalibPeriod: 0.01, SampleRate: 100, SegmentType: "V", Units: "nm/s", Time: time.Unix(1000, 0)},
		},
	}}
	p := NewCatalogueProvider(cat, newFakeCache(), time.Minute)

	rec, err := p.GainFor(stream, nil)
	if err != nil {
		t.Fatalf("GainFor: %v", err)
	}
	if rec.Gain != 2.0 {
		t.Errorf("Gain = %v, want 2.0", rec.Gain)
	}
	if rec.Units != "m/s" {
		t.Errorf("Units = %q, want m/s", rec.Units)
	}
}

func TestGainForDefaultsUnitsBySegmentType(t *testing.T) {
	stream := mustStream(t, "NC.PAGE.00.HNZ")
	cat := &fakeCatalogue{rows: map[string][]CatalogueRow{
		stream.String(): {
			{Gain: 1.0, CalibPeriod: 1.0, SampleRate: 100, SegmentType: "A", Units: "", Time: time.Unix(1000, 0)},
		},
	}}
	p := NewCatalogueProvider(cat, newFakeCache(), time.Minute)

	rec, err := p.GainFor(stream, nil)
	if err != nil {
		t.Fatalf("GainFor: %v", err)
	}
	if rec.Units != "m/s2" {
		t.Errorf("Units = %q, want m/s2", rec.Units)
	}
}

func TestGainForNonPositiveCalibPeriodNormalizesToOneSecond(t *testing.T) {
	stream := mustStream(t, "NC.PAGE.00.HHZ")
	cat := &fakeCatalogue{rows: map[string][]CatalogueRow{
		stream.String(): {
			{Gain: 1.0, CalibPeriod: -1, SampleRate: 0, SegmentType: "V", Units: "m/s", Time: time.Unix(1000, 0)},
		},
	}}
	p := NewCatalogueProvider(cat, newFakeCache(), time.Minute)

	rec, err := p.GainFor(stream, nil)
	if err != nil {
		t.Fatalf("GainFor: %v", err)
	}
	if rec.SampleRate != 1.0 {
		t.Errorf("SampleRate = %v, want 1.0 (1/normalized calib period)", rec.SampleRate)
	}
}

func TestGainForUnknownStreamReturnsNotFound(t *testing.T) {
	stream := mustStream(t, "NC.UNKN.00.HHZ")
	p := NewCatalogueProvider(&fakeCatalogue{rows: map[string][]CatalogueRow{}}, newFakeCache(), time.Minute)

	_, err := p.GainFor(stream, nil)
	if err == nil {
		t.Fatal("expected ErrNotFound")
	}
}

func TestRefreshIfStaleSkipsWithinInterval(t *testing.T) {
	stream := mustStream(t, "NC.PAGE.00.HHZ")
	cat := &fakeCatalogue{rows: map[string][]CatalogueRow{
		stream.String(): {{Gain: 1, CalibPeriod: 1, SampleRate: 100, SegmentType: "V", Units: "m/s", Time: time.Unix(1000, 0)}},
	}}
	p := NewCatalogueProvider(cat, newFakeCache(), time.Hour)

	now := time.Unix(2000, 0)
	if err := p.RefreshIfStale(stream, now); err != nil {
		t.Fatalf("RefreshIfStale: %v", err)
	}
	if err := p.RefreshIfStale(stream, now.Add(time.Second)); err != nil {
		t.Fatalf("RefreshIfStale (should be cache hit): %v", err)
	}
	if cat.lookups != 1 {
		t.Fatalf("catalogue lookups = %d, want 1 (second call within the interval must be a cache hit)", cat.lookups)
	}
}

func TestApplyDividesByGain(t *testing.T) {
	rec := Record{Gain: 4}
	if got := rec.Apply(8); got != 2 {
		t.Errorf("Apply(8) = %v, want 2", got)
	}
}

func TestApplyZeroGainIsIdentity(t *testing.T) {
	rec := Record{Gain: 0}
	if got := rec.Apply(8); got != 8 {
		t.Errorf("Apply(8) with zero gain = %v, want 8 (unchanged)", got)
	}
}
