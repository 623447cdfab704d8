// Package store persists analysis jobs and the generation audit trail in
// SQLite.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/tetraminz/sales_coach/internal/model"
)

const DefaultPath = "out/sales_coach.db"

// ErrJobNotFound is returned by GetJob for an unknown id.
var ErrJobNotFound = model.ErrJobNotFound

const createJobsTableSQL = `
CREATE TABLE IF NOT EXISTS analysis_jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	result TEXT,
	insufficient_turns INTEGER NOT NULL DEFAULT 0,
	created_at_utc TEXT NOT NULL,
	updated_at_utc TEXT NOT NULL,
	completed_at_utc TEXT
)`

const createLLMEventsTableSQL = `
CREATE TABLE IF NOT EXISTS llm_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at_utc TEXT NOT NULL,
	job_id TEXT NOT NULL,
	unit_name TEXT NOT NULL,
	unit_index INTEGER NOT NULL,
	attempt INTEGER NOT NULL,
	model TEXT NOT NULL,
	request_json TEXT NOT NULL,
	response_http_status INTEGER NOT NULL,
	response_text TEXT NOT NULL,
	parse_ok INTEGER NOT NULL,
	error_message TEXT NOT NULL,
	duration_ms INTEGER NOT NULL
)`

var createIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_analysis_jobs_status ON analysis_jobs(status)`,
	`CREATE INDEX IF NOT EXISTS idx_llm_events_lookup ON llm_events(job_id, unit_name, unit_index, attempt)`,
	`CREATE INDEX IF NOT EXISTS idx_llm_events_parse ON llm_events(parse_ok)`,
}

var dropTablesSQL = []string{
	`DROP TABLE IF EXISTS analysis_jobs`,
	`DROP TABLE IF EXISTS llm_events`,
}

// SQLiteStore holds analysis_jobs and llm_events.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens an existing database and checks its schema.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := openSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) ready() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlite store is not initialized")
	}
	return nil
}

// Setup drops and recreates every table.
func Setup(dbPath string) error {
	if strings.TrimSpace(dbPath) == "" {
		return fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}
	db, err := openSQLite(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, stmt := range dropTablesSQL {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("drop table: %w", err)
		}
	}
	return ensureSchema(db)
}

func openSQLite(dbPath string) (*sql.DB, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Audit writes arrive from concurrent evaluations; one connection
	// serialises them.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return db, nil
}

func ensureSchema(db *sql.DB) error {
	if _, err := db.Exec(createJobsTableSQL); err != nil {
		return fmt.Errorf("create analysis_jobs table: %w", err)
	}
	if _, err := db.Exec(createLLMEventsTableSQL); err != nil {
		return fmt.Errorf("create llm_events table: %w", err)
	}

	for table, required := range map[string][]string{
		"analysis_jobs": requiredJobColumns(),
		"llm_events":    requiredLLMEventColumns(),
	} {
		missing, err := missingTableColumns(db, table, required)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return fmt.Errorf(
				"incompatible %s schema, missing columns: %s; run `sales_coach setup --db <path>`",
				table, strings.Join(missing, ", "),
			)
		}
	}

	for _, stmt := range createIndexesSQL {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

func requiredJobColumns() []string {
	return []string{
		"id",
		"status",
		"error",
		"result",
		"insufficient_turns",
		"created_at_utc",
		"updated_at_utc",
		"completed_at_utc",
	}
}

func requiredLLMEventColumns() []string {
	return []string{
		"id",
		"created_at_utc",
		"job_id",
		"unit_name",
		"unit_index",
		"attempt",
		"model",
		"request_json",
		"response_http_status",
		"response_text",
		"parse_ok",
		"error_message",
		"duration_ms",
	}
}

func missingTableColumns(db *sql.DB, tableName string, required []string) ([]string, error) {
	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, tableName))
	if err != nil {
		return nil, fmt.Errorf("inspect %s schema: %w", tableName, err)
	}
	defer rows.Close()

	existing := map[string]struct{}{}
	for rows.Next() {
		var cid int
		var name string
		var colType string
		var notNull int
		var defaultValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultValue, &pk); err != nil {
			return nil, fmt.Errorf("scan %s schema: %w", tableName, err)
		}
		existing[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s schema: %w", tableName, err)
	}

	var missing []string
	for _, col := range required {
		if _, ok := existing[col]; !ok {
			missing = append(missing, col)
		}
	}
	return missing, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
