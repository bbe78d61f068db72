// Package alarm decides whether a threshold detection should fire an alarm
// and drives the side effects that follow: persisting the event, notifying
// recipients, and updating the shared station-status store. Every side
// effect is best-effort; a failure in one must never block the others or
// the analysis pipeline upstream.
package alarm

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/fenwick-seismic/quakewatch/internal/seismic/streamid"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/threshold"
)

// Record is one persisted alarm event.
type Record struct {
	StationID         string
	Kind              string
	Band              string
	TriggeredUnix     int64
	CooldownUntilUnix int64
	Recipients        []string
}

// Store is the persistence collaborator, implemented by internal/db's
// alarm_log and station_status tables.
type Store interface {
	RecordAlarm(rec Record) error
	LastAlarm(stationID, kind string) (Record, bool, error)
	UpsertStationStatus(stationID string, bandFlags map[string]bool, systemStatus string, updatedUnix int64) error
}

// Notifier delivers the human-facing side of an alarm.
type Notifier interface {
	Send(subject, body string, recipients []string, attachment interface{})
}

// Candidate pairs a threshold detection with whether it constitutes a
// strict upward transition per the threshold detector.
type Candidate struct {
	Detection threshold.Detection
	Upward    bool
}

// Kind identifies the alarm category persisted and cooled-down independently.
const (
	KindThreshold = "threshold"
	KindLatency   = "latency"
)

// Dispatcher fires threshold alarms subject to a per-station cooldown,
// with upward transitions always overriding an active cooldown.
type Dispatcher struct {
	Store        Store
	Notifier     Notifier
	AlarmTimeout time.Duration
	Recipients   map[string][]string // station -> email list
	ArtifactDir  func(stream streamid.StreamID, peakTime time.Time, band string) string
}

// Dispatch evaluates every channel's candidate detection for a station
// within one analysis cycle, picks the highest peak value, and fires an
// alarm if the station's cooldown has elapsed or the winning detection is a
// strict upward transition. Returns whether an alarm fired.
func (d *Dispatcher) Dispatch(station string, candidates []Candidate, now time.Time) (bool, error) {
	if len(candidates) == 0 {
		return false, nil
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Detection.Value > best.Detection.Value {
			best = c
		}
	}

	last, had, err := d.Store.LastAlarm(station, KindThreshold)
	if err != nil {
		return false, err
	}

	cooldownExceeded := !had || now.Unix() >= last.CooldownUntilUnix
	if !cooldownExceeded && !best.Upward {
		return false, nil
	}

	cooldownUntil := now.Add(d.AlarmTimeout).Unix()
	recipients := d.Recipients[station]

	rec := Record{
		StationID:         station,
		Kind:              KindThreshold,
		Band:              best.Detection.Band,
		TriggeredUnix:     now.Unix(),
		CooldownUntilUnix: cooldownUntil,
		Recipients:        recipients,
	}
	if err := d.Store.RecordAlarm(rec); err != nil {
		log.Printf("alarm: recording event for station %s: %v", station, err)
	}

	if d.Notifier != nil {
		subject := fmt.Sprintf("%s threshold alarm: %s on %s", station, best.Detection.Band, best.Detection.Stream)
		body := fmt.Sprintf("Station %s exceeded band %s at %.6f (peak at %s) on channel %s.",
			station, best.Detection.Band, best.Detection.Value, best.Detection.PeakTime.Format(time.RFC3339), best.Detection.Stream)
		d.Notifier.Send(subject, body, recipients, nil)
	}

	bandFlags := map[string]bool{best.Detection.Band: true}
	if err := d.Store.UpsertStationStatus(station, bandFlags, "ALARM", now.Unix()); err != nil {
		log.Printf("alarm: updating station status for %s: %v", station, err)
	}

	return true, nil
}

// DispatchLatency records and notifies a late-data alarm for a station,
// batching the set of offending stream ids into one notification. Unlike
// Dispatch, it carries no separate cooldown of its own: the latency Tracker
// already enforces AlarmTimeout before reporting an event as newsworthy.
func (d *Dispatcher) DispatchLatency(station string, streams []string, now time.Time) error {
	recipients := d.Recipients[station]
	rec := Record{
		StationID:         station,
		Kind:              KindLatency,
		Band:              "LATE",
		TriggeredUnix:     now.Unix(),
		CooldownUntilUnix: now.Add(d.AlarmTimeout).Unix(),
		Recipients:        recipients,
	}
	if err := d.Store.RecordAlarm(rec); err != nil {
		log.Printf("alarm: recording latency event for station %s: %v", station, err)
	}

	if d.Notifier != nil {
		subject := fmt.Sprintf("%s late-data alarm", station)
		body := fmt.Sprintf("Station %s has fallen behind real time on: %s", station, strings.Join(streams, ", "))
		d.Notifier.Send(subject, body, recipients, nil)
	}

	if err := d.Store.UpsertStationStatus(station, map[string]bool{"LATE": true}, "LATE", now.Unix()); err != nil {
		log.Printf("alarm: updating station status for %s: %v", station, err)
	}
	return nil
}

// ArtifactName returns the conventional tag for a persisted alarm artifact:
// alarm_{peak_time_unix}_{station}_{band}.
func ArtifactName(peakTime time.Time, station, band string) string {
	return fmt.Sprintf("alarm_%d_%s_%s", peakTime.Unix(), station, band)
}
