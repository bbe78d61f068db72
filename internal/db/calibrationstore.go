package db

import (
	"database/sql"

	"github.com/fenwick-seismic/quakewatch/internal/seismic/streamid"
)

// CalibrationRow mirrors one cached instrument-response gain for a stream.
type CalibrationRow struct {
	Stream       streamid.StreamID
	Gain         float64
	GainUnit     string
	InputUnit    string
	FetchedUnix  int64
	StaleAtUnix  int64
}

// LookupCalibration returns the cached row for a stream, or ok=false if absent.
func (db *DB) LookupCalibration(stream streamid.StreamID) (CalibrationRow, bool, error) {
	var r CalibrationRow
	err := db.QueryRow(
		`SELECT network, station, location, channel, gain, gain_unit, input_unit, fetched_unix, stale_at_unix
		 FROM calibration_cache WHERE network = ? AND station = ? AND location = ? AND channel = ?`,
		stream.Network, stream.Station, stream.Location, stream.Channel,
	).Scan(&r.Stream.Network, &r.Stream.Station, &r.Stream.Location, &r.Stream.Channel,
		&r.Gain, &r.GainUnit, &r.InputUnit, &r.FetchedUnix, &r.StaleAtUnix)
	if err == sql.ErrNoRows {
		return CalibrationRow{}, false, nil
	}
	if err != nil {
		return CalibrationRow{}, false, err
	}
	return r, true, nil
}

// UpsertCalibration stores or refreshes the cached gain for a stream.
func (db *DB) UpsertCalibration(row CalibrationRow) error {
	_, err := db.Exec(
		`INSERT INTO calibration_cache (network, station, location, channel, gain, gain_unit, input_unit, fetched_unix, stale_at_unix)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (network, station, location, channel) DO UPDATE SET
			gain = excluded.gain,
			gain_unit = excluded.gain_unit,
			input_unit = excluded.input_unit,
			fetched_unix = excluded.fetched_unix,
			stale_at_unix = excluded.stale_at_unix`,
		row.Stream.Network, row.Stream.Station, row.Stream.Location, row.Stream.Channel,
		row.Gain, row.GainUnit, row.InputUnit, row.FetchedUnix, row.StaleAtUnix,
	)
	return err
}
