// Command seismic-monitor watches one or more NSLC-selected station
// channels for ground-motion threshold exceedances and acquisition
// latency, dispatching email alarms and mirroring station status to a
// local database.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fenwick-seismic/quakewatch/internal/config"
	"github.com/fenwick-seismic/quakewatch/internal/db"
	"github.com/fenwick-seismic/quakewatch/internal/monitoring"
	"github.com/fenwick-seismic/quakewatch/internal/notify"
	"github.com/fenwick-seismic/quakewatch/internal/security"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/calibration"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/stationxml"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/streamid"
	"github.com/fenwick-seismic/quakewatch/internal/seismic/supervisor"
	"github.com/fenwick-seismic/quakewatch/internal/version"
)

var (
	configFile     = flag.String("config", config.DefaultConfigPath, "Path to JSON tuning configuration file")
	nslcFlag       = flag.String("nslc", "", "Station selector pattern, e.g. NC.P*.*.HN? (overrides the config file)")
	apiFlag        = flag.String("api", "", "Packet source variant: query, broker, or stream (overrides the config file)")
	dataSourceFlag = flag.String("datasource", "", "Data source server location: URL or serial device path (overrides the config file)")
	startFlag      = flag.String("starttime", "", "Archive-mode start time, RFC3339 (overrides the config file)")
	endFlag        = flag.String("endtime", "", "Archive-mode end time, RFC3339 (overrides the config file)")
	outputFlag     = flag.String("outputdir", "", "History log and alarm artifact directory (overrides the config file)")
	dbPathFlag     = flag.String("db-path", "seismic_monitor.db", "Path to sqlite status/calibration database file")
	debugAddr      = flag.String("debug-addr", "", "If set, serve db-stats and a tailsql console on this address (e.g. localhost:6060)")
	smtpHost       = flag.String("smtp-host", "", "SMTP server host for alarm email delivery")
	smtpPort       = flag.Int("smtp-port", 25, "SMTP server port")
	smtpFrom       = flag.String("smtp-from", "", "From address for alarm emails")
	versionFlag    = flag.Bool("version", false, "Print version information and exit")

	verboseFlag       = flag.Bool("verbose", false, "Enable diagnostic logging from the supervisor and history watcher")
	benchmarkFlag     = flag.Bool("benchmark", false, "Print total wall-clock run time on exit")
	latencyFlag       = flag.Bool("latency", true, "Track acquisition latency and dispatch latency alarms")
	refreshFlag       = flag.Duration("refresh-interval", 0, "History watcher sweep interval (overrides the config file)")
	maxIterationsFlag = flag.Int("max-iterations", 0, "Stop each station worker after this many packets, 0 for unlimited")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if *versionFlag {
		fmt.Printf("seismic-monitor v%s (git SHA: %s)\n", version.Version, version.GitSHA)
		os.Exit(0)
	}

	if flag.NArg() > 0 {
		switch subcommand := flag.Arg(0); subcommand {
		case "version":
			fmt.Printf("seismic-monitor v%s\n", version.Version)
			fmt.Printf("git SHA: %s\n", version.GitSHA)
			os.Exit(0)
		case "migrate":
			migrateFlags := flag.NewFlagSet("migrate", flag.ExitOnError)
			migrateDBPath := migrateFlags.String("db-path", *dbPathFlag, "path to sqlite DB file")
			if err := migrateFlags.Parse(flag.Args()[1:]); err != nil {
				log.Fatalf("failed to parse migrate flags: %v", err)
			}
			db.RunMigrateCommand(migrateFlags.Args(), *migrateDBPath)
			return
		default:
			log.Fatalf("unknown subcommand: %s", subcommand)
		}
	}

	if !*verboseFlag {
		monitoring.SetLogger(nil)
	}

	cfg, err := config.LoadTuningConfig(*configFile)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	applyFlagOverrides(cfg)

	if err := security.ValidatePathWithinDirectory(cfg.GetOutputDir(), "."); err != nil {
		log.Fatalf("configured outputdir is unsafe: %v", err)
	}

	runStart := time.Now()

	database, err := db.NewDB(*dbPathFlag)
	if err != nil {
		log.Fatalf("failed to open status database: %v", err)
	}
	defer database.Close()

	if *debugAddr != "" {
		mux := http.NewServeMux()
		database.AttachAdminRoutes(mux)
		go func() {
			if err := http.ListenAndServe(*debugAddr, mux); err != nil {
				monitoring.Logf("debug server on %s exited: %v", *debugAddr, err)
			}
		}()
	}

	catalogue, err := openCatalogue(cfg)
	if err != nil {
		log.Fatalf("failed to load calibration catalogue: %v", err)
	}

	var notifier *notify.Notifier
	if *smtpHost != "" {
		notifier = notify.NewNotifier(notify.Config{
			Host: *smtpHost,
			Port: *smtpPort,
			From: *smtpFrom,
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	results, err := supervisor.Run(ctx, cfg, supervisor.Collaborators{
		Catalogue: catalogue,
		Notifier:  notifier,
		DB:        database,
	})
	if err != nil {
		log.Fatalf("supervisor exited with error: %v", err)
	}

	if *benchmarkFlag {
		fmt.Printf("seismic-monitor: ran %d station(s) in %s\n", len(results), time.Since(runStart))
	}

	exitCode := 0
	for _, r := range results {
		if r.Err != nil {
			exitCode = 1
		}
	}
	os.Exit(exitCode)
}

// applyFlagOverrides layers command-line flags over the loaded configuration
// file; an unset flag leaves the file's value untouched.
func applyFlagOverrides(cfg *config.MonitorConfig) {
	if *nslcFlag != "" {
		cfg.NSLC = nslcFlag
	}
	if *apiFlag != "" {
		cfg.API = apiFlag
	}
	if *dataSourceFlag != "" {
		cfg.DataSource = dataSourceFlag
	}
	if *startFlag != "" {
		cfg.StartTime = startFlag
	}
	if *endFlag != "" {
		cfg.EndTime = endFlag
	}
	if *outputFlag != "" {
		cfg.OutputDir = outputFlag
	}
	if *refreshFlag > 0 {
		refresh := refreshFlag.String()
		cfg.RefreshInterval = &refresh
	}
	if *maxIterationsFlag > 0 {
		cfg.MaxIterations = maxIterationsFlag
	}
	if !*latencyFlag {
		disabled := "0s"
		cfg.MaximumLatency = &disabled
	}
}

// openCatalogue returns a StationXML-backed calibration catalogue when the
// configuration names one, or a catalogue that reports every stream
// unknown otherwise, so each worker logs a calibration error and skips
// threshold analysis for every trace instead of panicking on a nil
// collaborator.
func openCatalogue(cfg *config.MonitorConfig) (calibration.Catalogue, error) {
	path := cfg.GetXMLFile()
	if path == "" {
		return emptyCatalogue{}, nil
	}
	return stationxml.Open(path)
}

// emptyCatalogue is the Catalogue used when no StationXML file is
// configured; every lookup reports calibration.ErrNotFound.
type emptyCatalogue struct{}

func (emptyCatalogue) Lookup(stream streamid.StreamID) ([]calibration.CatalogueRow, error) {
	return nil, fmt.Errorf("%w: %s", calibration.ErrNotFound, stream)
}
