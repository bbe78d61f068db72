package worker

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fenwick-seismic/quakewatch/internal/seismic/historylock"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/streamid"
)

// RetentionMultiplier is the "3 channels x 1s packets" assumption behind the
// retention rule: at most 3 x seconds-to-keep lines survive a trim.
const RetentionMultiplier = 3

// DefaultSecondsToKeep is the rolling in-memory/on-disk history window when
// a worker does not override it.
const DefaultSecondsToKeep = 60

const (
	thresholdHeader = "rownum,seed_id,starttime,endtime,peaktime,value,status"
	latencyHeader   = "rownum,seed_id,time,starttime,endtime,latency,duration"
)

// fileLog is the append-only, advisory-locked, row-counted CSV writer shared
// by ThresholdLog and LatencyLog. The lock is acquired through historylock
// so the History Watcher's concurrent tail reads never observe a
// half-written file.
type fileLog struct {
	path           string
	header         string
	retentionLines int
	rowCounter     int64
}

func newFileLog(path, header string, retentionLines int) *fileLog {
	return &fileLog{path: path, header: header, retentionLines: retentionLines}
}

func (f *fileLog) nextRow() int64 {
	f.rowCounter++
	return f.rowCounter
}

// append acquires an exclusive advisory lock on the file, reads its current
// contents, appends line, trims to the retention line count, and rewrites
// the file, all while still holding the lock.
func (f *fileLog) append(line string) error {
	return historylock.WithExclusiveLock(f.path, func(fh *os.File) error {
		data, err := io.ReadAll(fh)
		if err != nil {
			return fmt.Errorf("history: read %s: %w", f.path, err)
		}

		var lines []string
		if len(data) == 0 {
			lines = []string{f.header}
		} else {
			lines = strings.Split(strings.TrimRight(string(data), "\n"), "\n")
		}
		lines = append(lines, strings.TrimRight(line, "\n"))

		maxLines := f.retentionLines + 1 // +1 for the header row
		if maxLines > 1 && len(lines) > maxLines {
			trimmed := make([]string, 0, maxLines)
			trimmed = append(trimmed, lines[0])
			trimmed = append(trimmed, lines[len(lines)-(maxLines-1):]...)
			lines = trimmed
		}

		if err := fh.Truncate(0); err != nil {
			return fmt.Errorf("history: truncate %s: %w", f.path, err)
		}
		if _, err := fh.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("history: seek %s: %w", f.path, err)
		}
		if _, err := fh.WriteString(strings.Join(lines, "\n") + "\n"); err != nil {
			return fmt.Errorf("history: write %s: %w", f.path, err)
		}
		return nil
	})
}

func iso(t time.Time) string { return t.UTC().Format(time.RFC3339) }

// ThresholdLog appends rows to a station's threshold-history CSV.
type ThresholdLog struct{ f *fileLog }

// NewThresholdLog constructs a threshold history log retaining
// 3*secondsToKeep lines on disk.
func NewThresholdLog(path string, secondsToKeep int) *ThresholdLog {
	if secondsToKeep <= 0 {
		secondsToKeep = DefaultSecondsToKeep
	}
	return &ThresholdLog{f: newFileLog(path, thresholdHeader, secondsToKeep*RetentionMultiplier)}
}

// Append writes one threshold-history row and returns its monotonic row number.
func (l *ThresholdLog) Append(stream streamid.StreamID, start, end, peak time.Time, value float64, status string) (int64, error) {
	row := l.f.nextRow()
	line := fmt.Sprintf("%d,%s,%s,%s,%s,%.6f,%s", row, stream, iso(start), iso(end), iso(peak), value, status)
	return row, l.f.append(line)
}

// LatencyLog appends rows to a station's latency-history CSV.
type LatencyLog struct{ f *fileLog }

// NewLatencyLog constructs a latency history log retaining 3*secondsToKeep
// lines on disk.
func NewLatencyLog(path string, secondsToKeep int) *LatencyLog {
	if secondsToKeep <= 0 {
		secondsToKeep = DefaultSecondsToKeep
	}
	return &LatencyLog{f: newFileLog(path, latencyHeader, secondsToKeep*RetentionMultiplier)}
}

// Append writes one latency-history row and returns its monotonic row number.
func (l *LatencyLog) Append(stream streamid.StreamID, loadTime, start, end time.Time, latencySeconds, durationSeconds float64) (int64, error) {
	row := l.f.nextRow()
	line := fmt.Sprintf("%d,%s,%s,%s,%s,%.6f,%.6f", row, stream, iso(loadTime), iso(start), iso(end), latencySeconds, durationSeconds)
	return row, l.f.append(line)
}
