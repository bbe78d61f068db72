// Package db wraps the sqlite-backed store used for calibration caching,
// threshold/latency history, station status mirroring, and alarm bookkeeping.
package db

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"
)

type DB struct {
	*sql.DB
}

// schema.sql initializes a brand new database in one shot; it must stay in
// sync with the latest entry under migrations/, since NewDB applies this
// file directly instead of replaying every migration from version zero.
//
//go:embed schema.sql
var schemaSQL string

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DevMode controls whether to use filesystem or embedded migrations.
// Set to true in development for hot-reloading, false in production.
var DevMode = false

func getMigrationsFS() (fs.FS, error) {
	if DevMode {
		return os.DirFS("internal/db/migrations"), nil
	}
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create sub-filesystem for embedded migrations directory %q: %w", "migrations", err)
	}
	return subFS, nil
}

// applyPragmas applies essential SQLite PRAGMAs for performance and concurrency.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// NewDB opens (or initializes) the sqlite database at path, applying
// schema.sql on a fresh file or relying on schema_migrations otherwise.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	dbWrapper := &DB{sqlDB}

	if err := applyPragmas(sqlDB); err != nil {
		return nil, fmt.Errorf("failed to apply PRAGMAs: %w", err)
	}

	var schemaMigrationsExists bool
	err = sqlDB.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='schema_migrations'
	`).Scan(&schemaMigrationsExists)
	if err != nil {
		return nil, fmt.Errorf("failed to check for schema_migrations table: %w", err)
	}
	if schemaMigrationsExists {
		return dbWrapper, nil
	}

	var tableCount int
	err = sqlDB.QueryRow(`
		SELECT COUNT(*)
		FROM sqlite_master
		WHERE type='table' AND name NOT LIKE 'sqlite_%'
	`).Scan(&tableCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count tables: %w", err)
	}
	if tableCount > 0 {
		// Tables exist but there's no migration bookkeeping for them. This is
		// a brand-new system with no prior releases, so there is no legacy
		// schema to detect or baseline against; surface the mismatch instead.
		return nil, fmt.Errorf("database at %s has tables but no schema_migrations entry; run 'seismic-monitor migrate baseline <version>' if this database predates migration tracking", path)
	}

	if _, err := sqlDB.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	log.Println("ran database initialisation script")

	migrationsFS, err := getMigrationsFS()
	if err != nil {
		return nil, fmt.Errorf("failed to get migrations filesystem: %w", err)
	}
	latestVersion, err := GetLatestMigrationVersion(migrationsFS)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest migration version: %w", err)
	}
	if err := dbWrapper.BaselineAtVersion(latestVersion); err != nil {
		return nil, fmt.Errorf("failed to baseline fresh database at version %d: %w", latestVersion, err)
	}

	return dbWrapper, nil
}

// OpenDB opens a database connection without running schema initialization.
// This is used by migration commands that manage schema independently.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if err := applyPragmas(sqlDB); err != nil {
		return nil, fmt.Errorf("failed to apply PRAGMAs: %w", err)
	}

	return &DB{sqlDB}, nil
}

// TableStats contains size and row count information for a database table.
type TableStats struct {
	Name     string  `json:"name"`
	RowCount int64   `json:"row_count"`
	SizeMB   float64 `json:"size_mb"`
}

// DatabaseStats contains overall database statistics.
type DatabaseStats struct {
	TotalSizeMB float64      `json:"total_size_mb"`
	Tables      []TableStats `json:"tables"`
}

// GetDatabaseStats returns size and row count information for all tables in the database.
func (db *DB) GetDatabaseStats() (*DatabaseStats, error) {
	var totalPages, pageSize int64
	row := db.QueryRow("SELECT page_count, page_size FROM pragma_page_count(), pragma_page_size()")
	if err := row.Scan(&totalPages, &pageSize); err != nil {
		if err := db.QueryRow("PRAGMA page_count").Scan(&totalPages); err != nil {
			return nil, fmt.Errorf("failed to get page count: %w", err)
		}
		if err := db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
			return nil, fmt.Errorf("failed to get page size: %w", err)
		}
	}
	totalSizeMB := float64(totalPages*pageSize) / (1024 * 1024)

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tableNames []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tableNames = append(tableNames, name)
	}

	var tables []TableStats
	for _, tableName := range tableNames {
		var rowCount int64
		// tableName comes from sqlite_master (trusted metadata); %q applies
		// SQLite identifier quoting since table names can't be bound params.
		countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %q", tableName)
		if err := db.QueryRow(countQuery).Scan(&rowCount); err != nil {
			rowCount = 0
		}

		var sizeMB float64
		sizeQuery := `SELECT COALESCE(SUM(pgsize), 0) / 1048576.0 FROM dbstat WHERE name = ?`
		if err := db.QueryRow(sizeQuery, tableName).Scan(&sizeMB); err != nil {
			sizeMB = 0
		}

		tables = append(tables, TableStats{Name: tableName, RowCount: rowCount, SizeMB: sizeMB})
	}

	sort.Slice(tables, func(i, j int) bool { return tables[i].SizeMB > tables[j].SizeMB })

	return &DatabaseStats{TotalSizeMB: totalSizeMB, Tables: tables}, nil
}

// AttachAdminRoutes exposes table statistics and a tailsql live-query console
// under the tsweb debug mux, the way the rest of the fleet's admin surfaces do.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{RoutePrefix: "/debug/tailsql/"})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://seismic-monitor.db", db.DB, &tailsql.DBOptions{Label: "Seismic Monitor DB"})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("db-stats", "Database table sizes and disk usage (JSON)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stats, err := db.GetDatabaseStats()
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to get database stats: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			http.Error(w, fmt.Sprintf("Failed to encode stats: %v", err), http.StatusInternalServerError)
		}
	}))
}

// nowUnix is a package-level indirection so store methods are deterministic
// in tests without needing a full timeutil.Clock plumbed through every call.
var nowUnix = func() int64 { return time.Now().Unix() }
