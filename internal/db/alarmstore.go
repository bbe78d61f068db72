package db

import (
	"database/sql"
	"encoding/json"
)

// AlarmRecord is one dispatched (or suppressed-by-cooldown) alarm event.
type AlarmRecord struct {
	StationID         string
	Kind              string // "threshold" or "latency"
	Band              string
	TriggeredUnix     int64
	CooldownUntilUnix int64
	Recipients        []string
}

// RecordAlarm appends an alarm_log row.
func (db *DB) RecordAlarm(rec AlarmRecord) error {
	recipientsJSON, err := json.Marshal(rec.Recipients)
	if err != nil {
		return err
	}
	_, err = db.Exec(
		`INSERT INTO alarm_log (station_id, kind, band, triggered_unix, cooldown_until_unix, recipients_json)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.StationID, rec.Kind, rec.Band, rec.TriggeredUnix, rec.CooldownUntilUnix, string(recipientsJSON),
	)
	return err
}

// LastAlarm returns the most recent alarm for a station/kind pair, used by
// the dispatcher to enforce the per-kind cooldown window.
func (db *DB) LastAlarm(stationID, kind string) (AlarmRecord, bool, error) {
	var rec AlarmRecord
	var recipientsJSON string
	err := db.QueryRow(
		`SELECT station_id, kind, band, triggered_unix, cooldown_until_unix, recipients_json
		 FROM alarm_log WHERE station_id = ? AND kind = ? ORDER BY triggered_unix DESC LIMIT 1`,
		stationID, kind,
	).Scan(&rec.StationID, &rec.Kind, &rec.Band, &rec.TriggeredUnix, &rec.CooldownUntilUnix, &recipientsJSON)
	if err == sql.ErrNoRows {
		return AlarmRecord{}, false, nil
	}
	if err != nil {
		return AlarmRecord{}, false, err
	}
	if err := json.Unmarshal([]byte(recipientsJSON), &rec.Recipients); err != nil {
		return AlarmRecord{}, false, err
	}
	return rec, true, nil
}
