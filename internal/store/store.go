// Package store persists analysis results in SQLite or PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "modernc.org/sqlite"

	"github.com/rgmining/fraudeagle/internal/analysis"
)

// ErrRunNotFound is returned when no run has the requested ID.
var ErrRunNotFound = errors.New("run not found")

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const defaultLimit = 50

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	dataset TEXT NOT NULL,
	epsilon DOUBLE PRECISION NOT NULL,
	iterations INTEGER NOT NULL,
	delta DOUBLE PRECISION NOT NULL,
	converged INTEGER NOT NULL,
	started_at TEXT NOT NULL,
	duration_ns BIGINT NOT NULL,
	reviewers INTEGER NOT NULL,
	products INTEGER NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS reviewer_scores (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	name TEXT NOT NULL,
	score DOUBLE PRECISION NOT NULL,
	reviews INTEGER NOT NULL,
	PRIMARY KEY (run_id, seq)
)`,
	`CREATE TABLE IF NOT EXISTS product_summaries (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	name TEXT NOT NULL,
	summary DOUBLE PRECISION NOT NULL,
	reviews INTEGER NOT NULL,
	PRIMARY KEY (run_id, seq)
)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
	`CREATE INDEX IF NOT EXISTS idx_scores_rank ON reviewer_scores(run_id, score)`,
}

// Store manages the results database.
type Store struct {
	db       *sql.DB
	postgres bool
	logger   *slog.Logger
}

// Open connects to the database and creates the schema. driver is "sqlite"
// or "postgres".
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var sqlDriver string
	switch driver {
	case "", "sqlite":
		sqlDriver = "sqlite"
	case "postgres":
		sqlDriver = "pgx"
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening results db: %w", err)
	}
	s := &Store{db: db, postgres: sqlDriver == "pgx", logger: logger}

	var stmts []string
	if !s.postgres {
		stmts = append(stmts, "PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON")
	}
	for _, stmt := range append(stmts, schema...) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			if cerr := db.Close(); cerr != nil {
				return nil, fmt.Errorf("creating schema: %w (also: close: %v)", err, cerr)
			}
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}
	return s, nil
}

// rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL.
func (s *Store) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// SaveRun writes a result and its per-node rows in one transaction.
func (s *Store) SaveRun(ctx context.Context, res *analysis.Result) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	converged := 0
	if res.Converged {
		converged = 1
	}
	if _, err = tx.ExecContext(ctx, s.rebind(
		`INSERT INTO runs (id, dataset, epsilon, iterations, delta, converged, started_at, duration_ns, reviewers, products) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		res.ID, res.Dataset, res.Epsilon, res.Iterations, res.Delta, converged,
		res.StartedAt.UTC().Format(timeLayout), res.Duration.Nanoseconds(),
		len(res.Reviewers), len(res.Products),
	); err != nil {
		return fmt.Errorf("inserting run %s: %w", res.ID, err)
	}

	scoreStmt, err := tx.PrepareContext(ctx, s.rebind(
		`INSERT INTO reviewer_scores (run_id, seq, name, score, reviews) VALUES (?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("preparing scores: %w", err)
	}
	defer func() { _ = scoreStmt.Close() }()
	// Names are not unique in a graph, so rows are keyed by position.
	for i, rs := range res.Reviewers {
		if _, err = scoreStmt.ExecContext(ctx, res.ID, i, rs.Name, rs.Score, rs.Reviews); err != nil {
			return fmt.Errorf("inserting score for %s: %w", rs.Name, err)
		}
	}

	sumStmt, err := tx.PrepareContext(ctx, s.rebind(
		`INSERT INTO product_summaries (run_id, seq, name, summary, reviews) VALUES (?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("preparing summaries: %w", err)
	}
	defer func() { _ = sumStmt.Close() }()
	for i, ps := range res.Products {
		if _, err = sumStmt.ExecContext(ctx, res.ID, i, ps.Name, ps.Summary, ps.Reviews); err != nil {
			return fmt.Errorf("inserting summary for %s: %w", ps.Name, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("run stored", "run", res.ID, "reviewers", len(res.Reviewers), "products", len(res.Products))
	return nil
}

const runColumns = "id, dataset, epsilon, iterations, delta, converged, started_at, duration_ns, reviewers, products"

// ListRuns returns runs matching opts, newest first.
func (s *Store) ListRuns(ctx context.Context, opts QueryOpts) ([]Run, error) {
	query := "SELECT " + runColumns + " FROM runs WHERE 1=1"
	var args []any

	if opts.Dataset != "" {
		query += " AND dataset = ?"
		args = append(args, opts.Dataset)
	}
	if opts.OnlyConverged {
		query += " AND converged = 1"
	}
	if !opts.Since.IsZero() {
		query += " AND started_at >= ?"
		args = append(args, opts.Since.UTC().Format(timeLayout))
	}

	query += " ORDER BY started_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	} else {
		query += fmt.Sprintf(" LIMIT %d", defaultLimit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns one run.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+runColumns+" FROM runs WHERE id = ?"), id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r         Run
		converged int
		started   string
		durNs     int64
	)
	if err := sc.Scan(&r.ID, &r.Dataset, &r.Epsilon, &r.Iterations, &r.Delta, &converged,
		&started, &durNs, &r.Reviewers, &r.Products); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("scanning run: %w", err)
	}
	t, err := time.Parse(timeLayout, started)
	if err != nil {
		return r, fmt.Errorf("run %s: bad started_at %q: %w", r.ID, started, err)
	}
	r.StartedAt = t
	r.Converged = converged == 1
	r.Duration = time.Duration(durNs)
	return r, nil
}

// TopReviewers returns the limit most anomalous reviewers of a run. A limit
// of zero or less means no limit.
func (s *Store) TopReviewers(ctx context.Context, runID string, limit int) ([]analysis.ReviewerScore, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	query := "SELECT name, score, reviews FROM reviewer_scores WHERE run_id = ? ORDER BY score DESC, name ASC, seq ASC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), runID)
	if err != nil {
		return nil, fmt.Errorf("querying scores: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []analysis.ReviewerScore
	for rows.Next() {
		var rs analysis.ReviewerScore
		if err := rows.Scan(&rs.Name, &rs.Score, &rs.Reviews); err != nil {
			return nil, fmt.Errorf("scanning score: %w", err)
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

// ProductSummaries returns a run's product summaries ordered by name.
func (s *Store) ProductSummaries(ctx context.Context, runID string) ([]analysis.ProductSummary, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		"SELECT name, summary, reviews FROM product_summaries WHERE run_id = ? ORDER BY name ASC, seq ASC"), runID)
	if err != nil {
		return nil, fmt.Errorf("querying summaries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []analysis.ProductSummary
	for rows.Next() {
		var ps analysis.ProductSummary
		if err := rows.Scan(&ps.Name, &ps.Summary, &ps.Reviews); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		out = append(out, ps)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
