package db

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/fenwick-seismic/quakewatch/internal/seismic/streamid"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	database, err := NewDB(path)
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestNewDBInitializesSchema(t *testing.T) {
	database := newTestDB(t)

	for _, table := range []string{"calibration_cache", "threshold_history", "latency_history", "station_status", "alarm_log"} {
		var exists bool
		err := database.QueryRow(`SELECT COUNT(*) > 0 FROM sqlite_master WHERE type='table' AND name = ?`, table).Scan(&exists)
		if err != nil {
			t.Fatalf("checking table %s: %v", table, err)
		}
		if !exists {
			t.Errorf("expected table %s to exist after NewDB", table)
		}
	}
}

func TestNewDBReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db1, err := NewDB(path)
	if err != nil {
		t.Fatalf("first NewDB: %v", err)
	}
	db1.Close()

	db2, err := NewDB(path)
	if err != nil {
		t.Fatalf("second NewDB: %v", err)
	}
	defer db2.Close()
}

func TestThresholdAndLatencyHistoryRoundTrip(t *testing.T) {
	database := newTestDB(t)
	stream := streamid.StreamID{Network: "NC", Station: "PKD1", Location: "00", Channel: "HNZ"}

	if err := database.RecordThreshold(ThresholdRow{Stream: stream, PacketEndUnix: 100, PGAGravity: 0.02, Band: "yellow"}); err != nil {
		t.Fatalf("RecordThreshold: %v", err)
	}
	if err := database.RecordThreshold(ThresholdRow{Stream: stream, PacketEndUnix: 200, PGAGravity: 0.5, Band: "red"}); err != nil {
		t.Fatalf("RecordThreshold: %v", err)
	}

	rows, err := database.RecentThresholds(stream, 10)
	if err != nil {
		t.Fatalf("RecentThresholds: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].PacketEndUnix != 200 || rows[0].Band != "red" {
		t.Errorf("expected newest-first ordering, got %+v", rows[0])
	}

	if err := database.RecordLatency(LatencyRow{Stream: stream, PacketEndUnix: 100, LatencySeconds: 1.5}); err != nil {
		t.Fatalf("RecordLatency: %v", err)
	}
	latRows, err := database.RecentLatencies(stream, 10)
	if err != nil {
		t.Fatalf("RecentLatencies: %v", err)
	}
	if len(latRows) != 1 || latRows[0].LatencySeconds != 1.5 {
		t.Errorf("unexpected latency rows: %+v", latRows)
	}
}

func TestCalibrationCacheUpsert(t *testing.T) {
	database := newTestDB(t)
	stream := streamid.StreamID{Network: "NC", Station: "PKD1", Location: "00", Channel: "HNZ"}

	if _, ok, err := database.LookupCalibration(stream); err != nil || ok {
		t.Fatalf("expected no cached calibration, got ok=%v err=%v", ok, err)
	}

	row := CalibrationRow{Stream: stream, Gain: 1.0e9, GainUnit: "counts/m", InputUnit: "m/s", FetchedUnix: 1000, StaleAtUnix: 2000}
	if err := database.UpsertCalibration(row); err != nil {
		t.Fatalf("UpsertCalibration: %v", err)
	}

	got, ok, err := database.LookupCalibration(stream)
	if err != nil || !ok {
		t.Fatalf("expected cached calibration, got ok=%v err=%v", ok, err)
	}
	if got.Gain != row.Gain || got.GainUnit != row.GainUnit {
		t.Errorf("got %+v, want %+v", got, row)
	}

	row.Gain = 2.0e9
	if err := database.UpsertCalibration(row); err != nil {
		t.Fatalf("UpsertCalibration (update): %v", err)
	}
	got, _, _ = database.LookupCalibration(stream)
	if got.Gain != 2.0e9 {
		t.Errorf("expected updated gain 2e9, got %f", got.Gain)
	}
}

func TestStationStatusUpsert(t *testing.T) {
	database := newTestDB(t)

	row := StationStatusRow{StationID: "NC.PKD1", BandFlags: BandFlags{"yellow": true}, SystemStatus: "ok", UpdatedUnix: 1000}
	if err := database.UpsertStationStatus(row); err != nil {
		t.Fatalf("UpsertStationStatus: %v", err)
	}

	got, ok, err := database.GetStationStatus("NC.PKD1")
	if err != nil || !ok {
		t.Fatalf("expected status row, got ok=%v err=%v", ok, err)
	}
	if !got.BandFlags["yellow"] {
		t.Errorf("expected yellow band flag set, got %+v", got.BandFlags)
	}

	all, err := database.AllStationStatuses()
	if err != nil || len(all) != 1 {
		t.Fatalf("AllStationStatuses: %v, %v", all, err)
	}
}

func TestAlarmLogCooldownLookup(t *testing.T) {
	database := newTestDB(t)

	if _, ok, err := database.LastAlarm("NC.PKD1", "threshold"); err != nil || ok {
		t.Fatalf("expected no alarm yet, got ok=%v err=%v", ok, err)
	}

	rec := AlarmRecord{StationID: "NC.PKD1", Kind: "threshold", Band: "red", TriggeredUnix: 100, CooldownUntilUnix: 700, Recipients: []string{"ops@example.org"}}
	if err := database.RecordAlarm(rec); err != nil {
		t.Fatalf("RecordAlarm: %v", err)
	}

	got, ok, err := database.LastAlarm("NC.PKD1", "threshold")
	if err != nil || !ok {
		t.Fatalf("expected alarm row, got ok=%v err=%v", ok, err)
	}
	if got.CooldownUntilUnix != 700 || len(got.Recipients) != 1 {
		t.Errorf("unexpected alarm row: %+v", got)
	}
}

func TestAttachAdminRoutesServesDBStats(t *testing.T) {
	database := newTestDB(t)

	mux := http.NewServeMux()
	database.AttachAdminRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/debug/db-stats", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected /debug/db-stats to respond 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON content type, got %q", ct)
	}
}
