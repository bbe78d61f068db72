// Package supervisor expands a station-selector pattern against the
// configured threshold bands, launches one Station Worker per matched
// station in parallel, and reports each worker's outcome once every worker
// has exited.
package supervisor

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.bug.st/serial"

	"github.com/fenwick-seismic/quakewatch/internal/config"
	"github.com/fenwick-seismic/quakewatch/internal/db"
	"github.com/fenwick-seismic/quakewatch/internal/monitoring"
	"github.com/fenwick-seismic/quakewatch/internal/notify"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/alarm"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/calibration"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/filterbuffer"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/historywatcher"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/packetsource"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/streamid"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/threshold"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/worker"
)

// Collaborators bundles the external pieces the supervisor cannot derive
// from MonitorConfig alone: the station-metadata catalogue behind
// calibration, a mailer for alarm notifications, the shared status database,
// and (for the "stream" data source kind only) a wire-format Decoder — its
// protocol is deployment-specific and outside this package's scope.
type Collaborators struct {
	Catalogue     calibration.Catalogue
	Notifier      *notify.Notifier
	DB            *db.DB
	StreamDecoder packetsource.Decoder
}

// Result is one worker's outcome, reported after every worker has exited.
type Result struct {
	Station string
	Err     error
}

// Run expands cfg's station pattern against its configured threshold bands,
// launches one Worker per match on its own goroutine (true OS-scheduled
// parallelism for CPU-bound filtering work), and blocks until every worker
// has exited.
func Run(ctx context.Context, cfg *config.MonitorConfig, collab Collaborators) ([]Result, error) {
	runID := uuid.New().String()

	pattern, err := streamid.ParsePattern(cfg.GetNSLC())
	if err != nil {
		return nil, fmt.Errorf("supervisor: parse station selector %q: %w", cfg.GetNSLC(), err)
	}

	stations, err := matchStations(pattern.Station, cfg.Thresholds)
	if err != nil {
		return nil, err
	}
	if len(stations) == 0 {
		return nil, fmt.Errorf("supervisor: station selector %q matched no configured station", cfg.GetNSLC())
	}

	calibCache := &worker.DBCalibrationCache{DB: collab.DB}
	calibProvider := calibration.NewCatalogueProvider(collab.Catalogue, calibCache, cfg.GetResponseUpdateInterval())

	alarmStore := &worker.DBAlarmStore{DB: collab.DB}
	var notifier *worker.NotifierAdapter
	if collab.Notifier != nil {
		notifier = &worker.NotifierAdapter{Notifier: collab.Notifier}
	}
	var alarmNotifier alarm.Notifier
	if notifier != nil {
		alarmNotifier = notifier
	}

	watcherCtx, cancelWatcher := context.WithCancel(ctx)
	watcherDone := make(chan struct{})
	go runHistoryWatcher(watcherCtx, watcherDone, cfg, stations, alarmStore, alarmNotifier)

	results := make([]Result, len(stations))
	var wg sync.WaitGroup
	for i, station := range stations {
		stationPattern := pattern
		stationPattern.Station = station

		wg.Add(1)
		go func(i int, station string, pattern streamid.Pattern) {
			defer wg.Done()
			results[i] = Result{Station: station, Err: runOne(ctx, cfg, pattern, station, calibProvider, alarmStore, notifier, collab)}
		}(i, station, stationPattern)
	}
	wg.Wait()

	cancelWatcher()
	<-watcherDone

	for _, r := range results {
		if r.Err != nil {
			monitoring.Logf("supervisor[%s]: worker %s exited with error: %v", runID, r.Station, r.Err)
		} else {
			monitoring.Logf("supervisor[%s]: worker %s exited cleanly", runID, r.Station)
		}
	}
	return results, nil
}

// runHistoryWatcher sweeps every matched station's on-disk history logs
// independently of the Station Workers writing them, stopping when ctx is
// canceled, and signals completion by closing done.
func runHistoryWatcher(ctx context.Context, done chan<- struct{}, cfg *config.MonitorConfig, stations []string, store alarm.Store, notifier alarm.Notifier) {
	defer close(done)

	recipients := make(map[string][]string, len(stations))
	for _, station := range stations {
		recipients[station] = cfg.GetEmailList()
	}

	hw := historywatcher.New(historywatcher.Config{
		OutputDir:       cfg.GetOutputDir(),
		Stations:        stations,
		RefreshInterval: cfg.GetRefreshInterval(),
		MaxLatency:      cfg.GetMaximumLatency(),
		Dispatcher: &alarm.Dispatcher{
			Store:        store,
			Notifier:     notifier,
			AlarmTimeout: cfg.GetLatencyAlarmTimeout(),
			Recipients:   recipients,
		},
	})
	if err := hw.Run(ctx); err != nil && ctx.Err() == nil {
		monitoring.Logf("supervisor: history watcher exited: %v", err)
	}
}

func runOne(ctx context.Context, cfg *config.MonitorConfig, pattern streamid.Pattern, station string,
	calibProvider calibration.Provider, alarmStore *worker.DBAlarmStore, notifier *worker.NotifierAdapter, collab Collaborators) error {

	src, err := newSource(cfg, collab)
	if err != nil {
		return fmt.Errorf("station %s: %w", station, err)
	}

	filterDef := cfg.GetFilterDef()
	bandsSI := cfg.ThresholdBandsSI(station)
	bands := make(threshold.BandSet, len(bandsSI))
	for i, b := range bandsSI {
		bands[i] = threshold.Band{Name: b.Name, Level: b.Level}
	}

	endTime, _ := cfg.GetEndTime()
	outputDir := cfg.GetOutputDir()

	// A nil *NotifierAdapter boxed into the alarm.Notifier interface would
	// compare non-nil, so only assign the interface field when a concrete
	// notifier was actually configured.
	var alarmNotifier alarm.Notifier
	if notifier != nil {
		alarmNotifier = notifier
	}

	w := worker.New(worker.Config{
		Station:          station,
		Pattern:          pattern,
		Source:           src,
		Calibration:      calibProvider,
		BufferSeconds:    cfg.GetBufferSecs(),
		SecondsPerPacket: cfg.GetSecondsPerPacket(),
		FilterSpec:       filterbuffer.Spec{Kind: filterDef.Kind, Low: filterDef.Low, High: filterDef.High, Order: filterDef.Order},
		MaxLatency:       cfg.GetMaximumLatency(),
		LatencyAlarm:     cfg.GetLatencyAlarmTimeout(),
		ArchiveMode:      !endTime.IsZero() && endTime.Before(time.Now()),
		Bands:            bands,
		AlarmTimeout:     cfg.GetThresholdAlarmTimeout(),
		Recipients:       cfg.GetEmailList(),
		Store:            alarmStore,
		Notifier:         alarmNotifier,
		ThresholdLogPath: fmt.Sprintf("%s/%s_threshold.csv", outputDir, station),
		LatencyLogPath:   fmt.Sprintf("%s/%s_latency.csv", outputDir, station),
		SecondsToKeep:    worker.DefaultSecondsToKeep,
		EndTime:          endTime,
		MaxIterations:    cfg.GetMaxIterations(),
	})

	return w.Run(ctx)
}

// newSource constructs the packet source variant named by cfg's api field,
// pointed at the server location configured in cfg's datasource field.
func newSource(cfg *config.MonitorConfig, collab Collaborators) (packetsource.Source, error) {
	secondsPerPacket := cfg.GetSecondsPerPacket()
	startTime, _ := cfg.GetStartTime()
	endTime, _ := cfg.GetEndTime()

	switch cfg.GetAPI() {
	case "query", "":
		querier := packetsource.NewHTTPWaveformQuerier(nil, cfg.GetDataSource())
		return packetsource.NewQuerySource(querier, secondsPerPacket, startTime, endTime), nil
	case "broker":
		sub := packetsource.NewWSSubscriber(cfg.GetDataSource())
		return packetsource.NewBrokerSource(sub, secondsPerPacket), nil
	case "stream":
		if collab.StreamDecoder == nil {
			return nil, fmt.Errorf("stream data source requires a wire-format Decoder")
		}
		mode := &serial.Mode{BaudRate: cfg.GetSerialBaudRate()}
		return packetsource.OpenSerialStreamSource(cfg.GetSerialPort(), mode, collab.StreamDecoder, secondsPerPacket)
	default:
		return nil, fmt.Errorf("unknown api kind %q", cfg.GetAPI())
	}
}

// matchStations translates a station selector's "?"/"*" wildcards into
// regex "."/".*" and matches against every station name present in the
// threshold configuration, returning matches in stable sorted order.
func matchStations(selector string, thresholds map[string][]config.ThresholdEntry) ([]string, error) {
	pattern, err := wildcardToRegexp(selector)
	if err != nil {
		return nil, fmt.Errorf("supervisor: compiling station selector %q: %w", selector, err)
	}

	var matched []string
	for station := range thresholds {
		if pattern.MatchString(station) {
			matched = append(matched, station)
		}
	}
	sort.Strings(matched)
	return matched, nil
}

func wildcardToRegexp(selector string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range selector {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

