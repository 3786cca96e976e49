package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/mfaltys/regiond/pkg/probe"
)

// SQLite implements Store on a SQLite database file. The connection is
// opened in WAL mode with a busy timeout, and the pool is capped at one
// connection since SQLite supports a single writer; each INSERT is its own
// transaction, which makes appends atomic per record.
type SQLite struct {
	db         *sql.DB
	appendStmt *sql.Stmt

	mu     sync.Mutex
	closed bool
}

// SQLiteConfig configures the SQLite store.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds.
	BusyTimeout time.Duration
}

// NewSQLite opens (creating if needed) a SQLite store at the given path.
func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithConfig(SQLiteConfig{Path: path})
}

// NewSQLiteWithConfig opens a SQLite store with custom configuration.
func NewSQLiteWithConfig(cfg SQLiteConfig) (*SQLite, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: db path must not be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	// modernc's driver takes pragmas as _pragma=name(value) pairs; the
	// mattn-style _journal_mode keys are silently ignored by it.
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.Path, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: could not open database: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLite{db: db}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: could not initialize schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: could not prepare statements: %w", err)
	}

	return s, nil
}

func (s *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checks (
		id TEXT PRIMARY KEY,
		region_id TEXT NOT NULL,
		check_type TEXT NOT NULL,
		success INTEGER NOT NULL,
		metric_value REAL,
		error TEXT NOT NULL DEFAULT '',
		checked_at INTEGER NOT NULL,
		requester_key TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_checks_region_time
		ON checks(region_id, checked_at DESC);
	CREATE INDEX IF NOT EXISTS idx_checks_region_type_time
		ON checks(region_id, check_type, checked_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLite) prepareStatements() error {
	stmt, err := s.db.Prepare(`
		INSERT INTO checks (id, region_id, check_type, success, metric_value, error, checked_at, requester_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	s.appendStmt = stmt
	return nil
}

// AppendCheck persists one record in a single INSERT.
func (s *SQLite) AppendCheck(ctx context.Context, rec CheckRecord) error {
	if err := s.guard(); err != nil {
		return err
	}
	if rec.ID == "" {
		return fmt.Errorf("store: record id must not be empty")
	}
	if rec.RegionID == "" {
		return fmt.Errorf("store: record region id must not be empty")
	}

	success := 0
	if rec.Success {
		success = 1
	}

	var metric sql.NullFloat64
	if rec.MetricValue != nil {
		metric = sql.NullFloat64{Float64: *rec.MetricValue, Valid: true}
	}

	_, err := s.appendStmt.ExecContext(ctx,
		rec.ID, rec.RegionID, string(rec.CheckType), success,
		metric, rec.Error, rec.CheckedAt.UnixNano(), rec.RequesterKey)
	if err != nil {
		return fmt.Errorf("store: append failed: %w", err)
	}
	return nil
}

// QueryRecent returns up to limit records across the given regions, newest
// first.
func (s *SQLite) QueryRecent(ctx context.Context, regionIDs []string, limit int) ([]CheckRecord, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	if len(regionIDs) == 0 {
		return []CheckRecord{}, nil
	}
	if limit < 1 {
		return []CheckRecord{}, nil
	}

	query := fmt.Sprintf(`
		SELECT id, region_id, check_type, success, metric_value, error, checked_at, requester_key
		FROM checks
		WHERE region_id IN (%s)
		ORDER BY checked_at DESC, id DESC
		LIMIT ?`, placeholders(len(regionIDs)))

	args := make([]any, 0, len(regionIDs)+1)
	for _, id := range regionIDs {
		args = append(args, id)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: recent query failed: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// QuerySummary aggregates the most recent SummaryWindow records for one
// region and check type.
func (s *SQLite) QuerySummary(ctx context.Context, regionID string, checkType probe.Kind) (Summary, error) {
	if err := s.guard(); err != nil {
		return Summary{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, region_id, check_type, success, metric_value, error, checked_at, requester_key
		FROM checks
		WHERE region_id = ? AND check_type = ?
		ORDER BY checked_at DESC, id DESC
		LIMIT ?`, regionID, string(checkType), SummaryWindow)
	if err != nil {
		return Summary{}, fmt.Errorf("store: summary query failed: %w", err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return Summary{}, err
	}
	return summarize(regionID, checkType, recs), nil
}

// Close releases the database handle. Further calls are no-ops.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if s.appendStmt != nil {
		s.appendStmt.Close()
	}
	return s.db.Close()
}

func (s *SQLite) guard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// placeholders builds "?, ?, ?" for an IN clause of n values.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func scanRecords(rows *sql.Rows) ([]CheckRecord, error) {
	out := []CheckRecord{}
	for rows.Next() {
		var (
			rec       CheckRecord
			checkType string
			success   int
			metric    sql.NullFloat64
			checkedAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.RegionID, &checkType, &success,
			&metric, &rec.Error, &checkedAt, &rec.RequesterKey); err != nil {
			return nil, fmt.Errorf("store: scan failed: %w", err)
		}
		rec.CheckType = probe.Kind(checkType)
		rec.Success = success != 0
		if metric.Valid {
			v := metric.Float64
			rec.MetricValue = &v
		}
		rec.CheckedAt = time.Unix(0, checkedAt).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: row iteration failed: %w", err)
	}
	return out, nil
}
