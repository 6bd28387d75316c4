// Package ledger keeps a durable history of batch outcomes and integration
// audits in SQLite. The JSON checkpoint answers "where do I resume"; the
// ledger answers "what happened across runs".
package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"loom/internal/config"
	"loom/internal/state"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema
// changes; old ledger files must be deleted after a bump.
const schemaVersion = 1

// ErrSchemaMismatch indicates the ledger database was created by a different
// schema version.
var ErrSchemaMismatch = errors.New("ledger schema version mismatch")

// BatchRecord is one batch's latest known outcome within a run.
type BatchRecord struct {
	RunID        string
	BatchNumber  int
	Status       state.BatchStatus
	Items        int
	Attempts     int
	QualityScore float64
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IntegrationRecord is one audit row for a store merge attempt.
type IntegrationRecord struct {
	RunID       string
	BatchNumber int
	BackupID    string
	ItemsAdded  int
	NewTotal    int
	Success     bool
	Issues      []string
	Elapsed     time.Duration
	CreatedAt   time.Time
}

// Ledger manages history persistence backed by SQLite.
type Ledger struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the ledger database.
func Open(cfg *config.Config) (*Ledger, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.LedgerFile())
}

// OpenPath opens the ledger at an explicit path.
func OpenPath(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	l := &Ledger{db: db, path: path}
	if err := l.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Path returns the database file location.
func (l *Ledger) Path() string {
	return l.path
}

func (l *Ledger) initSchema(ctx context.Context) error {
	var tableExists int
	err := l.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return l.createSchema(ctx)
	}

	var version int
	if err := l.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete the ledger file)",
			ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (l *Ledger) createSchema(ctx context.Context) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// RecordBatch upserts the latest state of one batch within a run.
func (l *Ledger) RecordBatch(ctx context.Context, runID string, b *state.BatchState) error {
	if b == nil {
		return errors.New("batch state is nil")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := l.db.ExecContext(
		ctx,
		`INSERT INTO batch_records (
            run_id, batch_number, status, items, attempts, quality_score,
            error_message, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (run_id, batch_number) DO UPDATE SET
            status = excluded.status,
            items = excluded.items,
            attempts = excluded.attempts,
            quality_score = excluded.quality_score,
            error_message = excluded.error_message,
            updated_at = excluded.updated_at`,
		runID,
		b.Number,
		string(b.Status),
		b.Items,
		b.Attempts,
		b.QualityScore,
		nullableString(b.LastError),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("record batch: %w", err)
	}
	return nil
}

// BatchHistory returns all batch records for a run ordered by batch number.
func (l *Ledger) BatchHistory(ctx context.Context, runID string) ([]*BatchRecord, error) {
	rows, err := l.db.QueryContext(
		ctx,
		`SELECT run_id, batch_number, status, items, attempts, quality_score,
            error_message, created_at, updated_at
         FROM batch_records WHERE run_id = ? ORDER BY batch_number`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query batch history: %w", err)
	}
	defer rows.Close()

	var records []*BatchRecord
	for rows.Next() {
		r, err := scanBatchRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// RecordIntegration appends one merge audit row.
func (l *Ledger) RecordIntegration(ctx context.Context, rec *IntegrationRecord) error {
	if rec == nil {
		return errors.New("integration record is nil")
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(
		ctx,
		`INSERT INTO integration_log (
            run_id, batch_number, backup_id, items_added, new_total,
            success, issues, elapsed_ms, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID,
		rec.BatchNumber,
		nullableString(rec.BackupID),
		rec.ItemsAdded,
		rec.NewTotal,
		boolToInt(rec.Success),
		nullableString(strings.Join(rec.Issues, "\n")),
		rec.Elapsed.Milliseconds(),
		createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record integration: %w", err)
	}
	return nil
}

// Integrations returns a run's merge audit rows, oldest first.
func (l *Ledger) Integrations(ctx context.Context, runID string) ([]*IntegrationRecord, error) {
	rows, err := l.db.QueryContext(
		ctx,
		`SELECT run_id, batch_number, backup_id, items_added, new_total,
            success, issues, elapsed_ms, created_at
         FROM integration_log WHERE run_id = ? ORDER BY created_at, id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query integrations: %w", err)
	}
	defer rows.Close()

	var records []*IntegrationRecord
	for rows.Next() {
		r, err := scanIntegrationRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Stats returns a count of batch records grouped by status for a run.
func (l *Ledger) Stats(ctx context.Context, runID string) (map[state.BatchStatus]int, error) {
	rows, err := l.db.QueryContext(
		ctx,
		`SELECT status, COUNT(1) FROM batch_records WHERE run_id = ? GROUP BY status`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("ledger stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[state.BatchStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[state.BatchStatus(status)] = count
	}
	return stats, rows.Err()
}

func scanBatchRecord(scanner interface{ Scan(dest ...any) error }) (*BatchRecord, error) {
	var (
		runID        string
		batchNumber  int
		status       string
		items        int
		attempts     int
		qualityScore float64
		errorMessage sql.NullString
		createdRaw   string
		updatedRaw   string
	)
	if err := scanner.Scan(
		&runID,
		&batchNumber,
		&status,
		&items,
		&attempts,
		&qualityScore,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	r := &BatchRecord{
		RunID:        runID,
		BatchNumber:  batchNumber,
		Status:       state.BatchStatus(status),
		Items:        items,
		Attempts:     attempts,
		QualityScore: qualityScore,
		ErrorMessage: errorMessage.String,
	}
	if created, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		r.CreatedAt = created
	}
	if updated, err := time.Parse(time.RFC3339Nano, updatedRaw); err == nil {
		r.UpdatedAt = updated
	}
	return r, nil
}

func scanIntegrationRecord(scanner interface{ Scan(dest ...any) error }) (*IntegrationRecord, error) {
	var (
		runID       string
		batchNumber int
		backupID    sql.NullString
		itemsAdded  int
		newTotal    int
		success     int
		issues      sql.NullString
		elapsedMS   int64
		createdRaw  string
	)
	if err := scanner.Scan(
		&runID,
		&batchNumber,
		&backupID,
		&itemsAdded,
		&newTotal,
		&success,
		&issues,
		&elapsedMS,
		&createdRaw,
	); err != nil {
		return nil, err
	}

	r := &IntegrationRecord{
		RunID:       runID,
		BatchNumber: batchNumber,
		BackupID:    backupID.String,
		ItemsAdded:  itemsAdded,
		NewTotal:    newTotal,
		Success:     success != 0,
		Elapsed:     time.Duration(elapsedMS) * time.Millisecond,
	}
	if issues.Valid && issues.String != "" {
		r.Issues = strings.Split(issues.String, "\n")
	}
	if created, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		r.CreatedAt = created
	}
	return r, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
