package db

import (
	"github.com/fenwick-seismic/quakewatch/internal/seismic/streamid"
)

// ThresholdRow is one recorded PGA classification for a packet window.
type ThresholdRow struct {
	Stream        streamid.StreamID
	PacketEndUnix int64
	PGAGravity    float64
	Band          string
}

// RecordThreshold appends one threshold_history row.
func (db *DB) RecordThreshold(row ThresholdRow) error {
	_, err := db.Exec(
		`INSERT INTO threshold_history (network, station, location, channel, packet_end_unix, pga_g, band, wrote_unix)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		row.Stream.Network, row.Stream.Station, row.Stream.Location, row.Stream.Channel,
		row.PacketEndUnix, row.PGAGravity, row.Band, nowUnix(),
	)
	return err
}

// RecentThresholds returns the most recent threshold rows for a stream, newest first.
func (db *DB) RecentThresholds(stream streamid.StreamID, limit int) ([]ThresholdRow, error) {
	rows, err := db.Query(
		`SELECT network, station, location, channel, packet_end_unix, pga_g, band
		 FROM threshold_history
		 WHERE network = ? AND station = ? AND location = ? AND channel = ?
		 ORDER BY packet_end_unix DESC LIMIT ?`,
		stream.Network, stream.Station, stream.Location, stream.Channel, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ThresholdRow
	for rows.Next() {
		var r ThresholdRow
		if err := rows.Scan(&r.Stream.Network, &r.Stream.Station, &r.Stream.Location, &r.Stream.Channel,
			&r.PacketEndUnix, &r.PGAGravity, &r.Band); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
