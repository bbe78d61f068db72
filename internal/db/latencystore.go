package db

import (
	"github.com/fenwick-seismic/quakewatch/internal/seismic/streamid"
)

// LatencyRow is one recorded end-to-end latency sample for a packet window.
type LatencyRow struct {
	Stream         streamid.StreamID
	PacketEndUnix  int64
	LatencySeconds float64
}

// RecordLatency appends one latency_history row.
func (db *DB) RecordLatency(row LatencyRow) error {
	_, err := db.Exec(
		`INSERT INTO latency_history (network, station, location, channel, packet_end_unix, latency_seconds, wrote_unix)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.Stream.Network, row.Stream.Station, row.Stream.Location, row.Stream.Channel,
		row.PacketEndUnix, row.LatencySeconds, nowUnix(),
	)
	return err
}

// RecentLatencies returns the most recent latency rows for a stream, newest first.
func (db *DB) RecentLatencies(stream streamid.StreamID, limit int) ([]LatencyRow, error) {
	rows, err := db.Query(
		`SELECT network, station, location, channel, packet_end_unix, latency_seconds
		 FROM latency_history
		 WHERE network = ? AND station = ? AND location = ? AND channel = ?
		 ORDER BY packet_end_unix DESC LIMIT ?`,
		stream.Network, stream.Station, stream.Location, stream.Channel, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LatencyRow
	for rows.Next() {
		var r LatencyRow
		if err := rows.Scan(&r.Stream.Network, &r.Stream.Station, &r.Stream.Location, &r.Stream.Channel,
			&r.PacketEndUnix, &r.LatencySeconds); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
