package worker

import (
	"github.com/fenwick-seismic/quakewatch/internal/db"
	"github.com/fenwick-seismic/quakewatch/internal/notify"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/alarm"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/calibration"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/streamid"
)

// DBCalibrationCache adapts *db.DB's calibration_cache table to the
// calibration.Cache contract, translating between the package-local CacheRow
// and db's CalibrationRow so the calibration package stays free of a
// dependency on the storage layer.
type DBCalibrationCache struct {
	DB *db.DB
}

func (c *DBCalibrationCache) LookupCalibration(stream streamid.StreamID) (calibration.CacheRow, bool, error) {
	row, ok, err := c.DB.LookupCalibration(stream)
	if err != nil || !ok {
		return calibration.CacheRow{}, ok, err
	}
	return calibration.CacheRow{
		Stream:      row.Stream,
		Gain:        row.Gain,
		GainUnit:    row.GainUnit,
		InputUnit:   row.InputUnit,
		FetchedUnix: row.FetchedUnix,
		StaleAtUnix: row.StaleAtUnix,
	}, true, nil
}

func (c *DBCalibrationCache) UpsertCalibration(row calibration.CacheRow) error {
	return c.DB.UpsertCalibration(db.CalibrationRow{
		Stream:      row.Stream,
		Gain:        row.Gain,
		GainUnit:    row.GainUnit,
		InputUnit:   row.InputUnit,
		FetchedUnix: row.FetchedUnix,
		StaleAtUnix: row.StaleAtUnix,
	})
}

// DBAlarmStore adapts *db.DB's alarm_log and station_status tables to the
// alarm.Store contract.
type DBAlarmStore struct {
	DB *db.DB
}

func (s *DBAlarmStore) RecordAlarm(rec alarm.Record) error {
	return s.DB.RecordAlarm(db.AlarmRecord{
		StationID:         rec.StationID,
		Kind:              rec.Kind,
		Band:              rec.Band,
		TriggeredUnix:     rec.TriggeredUnix,
		CooldownUntilUnix: rec.CooldownUntilUnix,
		Recipients:        rec.Recipients,
	})
}

func (s *DBAlarmStore) LastAlarm(stationID, kind string) (alarm.Record, bool, error) {
	row, ok, err := s.DB.LastAlarm(stationID, kind)
	if err != nil || !ok {
		return alarm.Record{}, ok, err
	}
	return alarm.Record{
		StationID:         row.StationID,
		Kind:              row.Kind,
		Band:              row.Band,
		TriggeredUnix:     row.TriggeredUnix,
		CooldownUntilUnix: row.CooldownUntilUnix,
		Recipients:        row.Recipients,
	}, true, nil
}

func (s *DBAlarmStore) UpsertStationStatus(stationID string, bandFlags map[string]bool, systemStatus string, updatedUnix int64) error {
	return s.DB.UpsertStationStatus(db.StationStatusRow{
		StationID:    stationID,
		BandFlags:    db.BandFlags(bandFlags),
		SystemStatus: systemStatus,
		UpdatedUnix:  updatedUnix,
	})
}

// NotifierAdapter adapts *notify.Notifier's typed *notify.Attachment
// parameter to the alarm.Notifier contract's untyped attachment, so the
// alarm package stays free of a dependency on the mailer's concrete types.
type NotifierAdapter struct {
	Notifier *notify.Notifier
}

func (a *NotifierAdapter) Send(subject, body string, recipients []string, attachment interface{}) {
	att, _ := attachment.(*notify.Attachment)
	a.Notifier.Send(subject, body, recipients, att)
}
