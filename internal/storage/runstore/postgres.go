package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"emprofiler/internal/config"
	"emprofiler/internal/operations"
)

const schema = `
CREATE TABLE IF NOT EXISTS analysis_runs (
	id           TEXT PRIMARY KEY,
	target       TEXT NOT NULL,
	status       TEXT NOT NULL,
	params       JSONB,
	report       JSONB,
	error        TEXT,
	error_kind   TEXT,
	archive_keys JSONB,
	created_at   TIMESTAMPTZ NOT NULL,
	started_at   TIMESTAMPTZ,
	finished_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS analysis_runs_created_at_idx ON analysis_runs (created_at DESC);
CREATE INDEX IF NOT EXISTS analysis_runs_status_idx ON analysis_runs (status);
`

const runColumns = `id, target, status, params, report, error, error_kind, archive_keys, created_at, started_at, finished_at`

const pingTimeout = 5 * time.Second

// Open connects to Postgres through the pgx database/sql driver and pings it
func Open(ctx context.Context, cfg config.StorageConfig) (*sql.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database url is required")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns / 2)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

// PostgresStore keeps runs in the analysis_runs table
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps db and creates the schema if needed
func NewPostgresStore(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("database handle is required")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("migrate analysis_runs: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Create inserts a run
func (s *PostgresStore) Create(ctx context.Context, run *Run) error {
	if run == nil || run.ID == "" {
		return errors.New("run id is required")
	}
	row, err := encodeRow(run)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO analysis_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID, run.Target, string(run.Status), row.params, row.report,
		nullString(run.Error), nullString(string(run.ErrorKind)), row.archiveKeys,
		run.CreatedAt.UTC(), nullTime(run.StartedAt), nullTime(run.FinishedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("run %s: %w", run.ID, ErrExists)
	}
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// Update replaces a run's mutable fields
func (s *PostgresStore) Update(ctx context.Context, run *Run) error {
	row, err := encodeRow(run)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `UPDATE analysis_runs SET
		status = $2, report = $3, error = $4, error_kind = $5, archive_keys = $6,
		started_at = $7, finished_at = $8
		WHERE id = $1`,
		run.ID, string(run.Status), row.report, nullString(run.Error),
		nullString(string(run.ErrorKind)), row.archiveKeys,
		nullTime(run.StartedAt), nullTime(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

// Get loads a run by ID
func (s *PostgresStore) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM analysis_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// List returns runs matching the filter, newest first
func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]*Run, error) {
	query, args := listQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Delete removes a run
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analysis_runs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// Cleanup removes terminal runs that finished more than olderThan ago
func (s *PostgresStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UTC()
	res, err := s.db.ExecContext(ctx, `DELETE FROM analysis_runs
		WHERE COALESCE(finished_at, created_at) < $1 AND status IN ($2, $3, $4, $5)`,
		cutoff, string(StatusSucceeded), string(StatusFailed), string(StatusCancelled), string(StatusRejected))
	if err != nil {
		return 0, fmt.Errorf("cleanup runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Close closes the database handle
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func listQuery(filter Filter) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, value interface{}) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.Target != "" {
		add("target = $%d", filter.Target)
	}
	if !filter.Since.IsZero() {
		add("created_at >= $%d", filter.Since.UTC())
	}

	query := `SELECT ` + runColumns + ` FROM analysis_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

type encodedRow struct {
	params      []byte
	report      []byte
	archiveKeys []byte
}

func encodeRow(run *Run) (encodedRow, error) {
	var (
		row encodedRow
		err error
	)
	if run.Params != nil {
		if row.params, err = json.Marshal(run.Params); err != nil {
			return row, fmt.Errorf("encode params: %w", err)
		}
	}
	if run.Report != nil {
		if row.report, err = json.Marshal(run.Report); err != nil {
			return row, fmt.Errorf("encode report: %w", err)
		}
	}
	if len(run.ArchiveKeys) > 0 {
		if row.archiveKeys, err = json.Marshal(run.ArchiveKeys); err != nil {
			return row, fmt.Errorf("encode archive keys: %w", err)
		}
	}
	return row, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run                   Run
		status                string
		params, report, keys  []byte
		errMsg, errKind       sql.NullString
		startedAt, finishedAt sql.NullTime
	)
	if err := row.Scan(&run.ID, &run.Target, &status, &params, &report, &errMsg, &errKind, &keys,
		&run.CreatedAt, &startedAt, &finishedAt); err != nil {
		return nil, err
	}

	run.Status = Status(status)
	run.Error = errMsg.String
	run.ErrorKind = operations.ErrorKind(errKind.String)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &run.Params); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
	}
	if len(report) > 0 {
		run.Report = &operations.RunReport{}
		if err := json.Unmarshal(report, run.Report); err != nil {
			return nil, fmt.Errorf("decode report: %w", err)
		}
	}
	if len(keys) > 0 {
		if err := json.Unmarshal(keys, &run.ArchiveKeys); err != nil {
			return nil, fmt.Errorf("decode archive keys: %w", err)
		}
	}
	if startedAt.Valid {
		t := startedAt.Time
		run.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

func nullString(value string) sql.NullString {
	value = strings.TrimSpace(value)
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
