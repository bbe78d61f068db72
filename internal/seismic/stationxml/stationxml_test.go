package stationxml

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwick-seismic/quakewatch/internal/fsutil"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/calibration"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/streamid"
)

const sampleDoc = `<?xml version="1.0" encoding="UTF-8"?>
<FDSNStationXML xmlns="http://www.fdsn.org/xml/station/1">
  <Network code="NC">
    <Station code="PKD1">
      <Channel code="HNZ" locationCode="00" startDate="2024-01-01T00:00:00">
        <SampleRate>100</SampleRate>
        <Response>
          <InstrumentSensitivity>
            <Value>419430400</Value>
            <InputUnits>
              <Name>M/S**2</Name>
            </InputUnits>
          </InstrumentSensitivity>
        </Response>
      </Channel>
      <Channel code="HNZ" locationCode="00" startDate="2025-01-01T00:00:00">
        <SampleRate>100</SampleRate>
        <Response>
          <InstrumentSensitivity>
            <Value>523370240</Value>
            <InputUnits>
              <Name>M/S**2</Name>
            </InputUnits>
          </InstrumentSensitivity>
        </Response>
      </Channel>
    </Station>
  </Network>
</FDSNStationXML>`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "station.xml")
	if err := os.WriteFile(path, []byte(sampleDoc), 0644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	return path
}

func TestOpenParsesChannelHistory(t *testing.T) {
	cat, err := Open(writeSample(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	rows, err := cat.Lookup(streamid.StreamID{Network: "NC", Station: "PKD1", Location: "00", Channel: "HNZ"})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	want := []calibration.CatalogueRow{
		{Gain: 419430400, CalibPeriod: 0.01, SampleRate: 100, SegmentType: "A", Units: "M/S**2", Time: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{Gain: 523370240, CalibPeriod: 0.01, SampleRate: 100, SegmentType: "A", Units: "M/S**2", Time: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	if diff := cmp.Diff(want, rows, cmpopts.EquateApproxTime(time.Second)); diff != "" {
		t.Errorf("parsed channel history mismatch (-want +got):\n%s", diff)
	}
}

func TestLookupUnknownStreamReturnsNotFound(t *testing.T) {
	cat, err := Open(writeSample(t))
	require.NoError(t, err)

	_, err = cat.Lookup(streamid.StreamID{Network: "NC", Station: "GHOST", Location: "00", Channel: "HNZ"})
	assert.Error(t, err)
}

func TestOpenFSReadsThroughMemoryFileSystem(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile("/metadata/station.xml", []byte(sampleDoc), 0644))

	cat, err := OpenFS(fsys, "/metadata/station.xml")
	require.NoError(t, err)
	rows, err := cat.Lookup(streamid.StreamID{Network: "NC", Station: "PKD1", Location: "00", Channel: "HNZ"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestOpenMissingFileErrors(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing.xml")); err == nil {
		t.Fatal("expected an error opening a missing file")
	}
}

func TestCatalogueFeedsCalibrationProvider(t *testing.T) {
	cat, err := Open(writeSample(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	provider := calibration.NewCatalogueProvider(cat, nil, time.Hour)
	stream := streamid.StreamID{Network: "NC", Station: "PKD1", Location: "00", Channel: "HNZ"}

	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	rec, err := provider.GainFor(stream, &at)
	if err != nil {
		t.Fatalf("GainFor: %v", err)
	}
	if rec.Gain != 419430400 {
		t.Errorf("expected the pre-2025 sensitivity to apply, got gain %v", rec.Gain)
	}
}
