package db

import (
	"database/sql"
	"encoding/json"
)

// BandFlags mirrors the set of threshold bands a station currently reports as
// exceeded, keyed by band name (e.g. "yellow", "red").
type BandFlags map[string]bool

// StationStatusRow is the external status-store mirror for one station.
type StationStatusRow struct {
	StationID    string
	BandFlags    BandFlags
	SystemStatus string
	UpdatedUnix  int64
}

// UpsertStationStatus writes the latest status snapshot for a station,
// functioning as the sqlite-backed external status store the alarm
// dispatcher (and history watcher) push band-flag and liveness updates to.
func (db *DB) UpsertStationStatus(row StationStatusRow) error {
	flagsJSON, err := json.Marshal(row.BandFlags)
	if err != nil {
		return err
	}
	_, err = db.Exec(
		`INSERT INTO station_status (station_id, band_flags_json, system_status, updated_unix)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (station_id) DO UPDATE SET
			band_flags_json = excluded.band_flags_json,
			system_status = excluded.system_status,
			updated_unix = excluded.updated_unix`,
		row.StationID, string(flagsJSON), row.SystemStatus, row.UpdatedUnix,
	)
	return err
}

// GetStationStatus returns the current status row for a station, or ok=false
// if the station has never reported in.
func (db *DB) GetStationStatus(stationID string) (StationStatusRow, bool, error) {
	var r StationStatusRow
	var flagsJSON string
	err := db.QueryRow(
		`SELECT station_id, band_flags_json, system_status, updated_unix FROM station_status WHERE station_id = ?`,
		stationID,
	).Scan(&r.StationID, &flagsJSON, &r.SystemStatus, &r.UpdatedUnix)
	if err == sql.ErrNoRows {
		return StationStatusRow{}, false, nil
	}
	if err != nil {
		return StationStatusRow{}, false, err
	}
	if err := json.Unmarshal([]byte(flagsJSON), &r.BandFlags); err != nil {
		return StationStatusRow{}, false, err
	}
	return r, true, nil
}

// AllStationStatuses returns the status row for every station that has ever
// reported in, ordered by station id.
func (db *DB) AllStationStatuses() ([]StationStatusRow, error) {
	rows, err := db.Query(`SELECT station_id, band_flags_json, system_status, updated_unix FROM station_status ORDER BY station_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StationStatusRow
	for rows.Next() {
		var r StationStatusRow
		var flagsJSON string
		if err := rows.Scan(&r.StationID, &flagsJSON, &r.SystemStatus, &r.UpdatedUnix); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(flagsJSON), &r.BandFlags); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
