// Package audit persists the append-only audit trail: rollback records and
// compliance cycle results. SQLite keeps the trail queryable after the
// shared-state tree has been rolled back or discarded.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// RollbackRecord is one audit entry for a recovery action. Records are
// written before the destructive step so the trail survives a failed
// rollback.
type RollbackRecord struct {
	ID        string
	Level     string // "commit", "snapshot", "files", "emergency"
	Target    string // commit hash, snapshot name, or file list summary
	Reason    string
	BackupRef string // tag or snapshot that makes the action reversible
	Outcome   string // "pending", "succeeded", "failed: ..."
	CreatedAt time.Time
}

// ComplianceCycle is one monitor cycle's counts for an agent.
type ComplianceCycle struct {
	Agent      string
	Cycle      int
	Violations int
	Warnings   int
	Score      int
	CreatedAt  time.Time
}

// Store is the audit persistence contract.
type Store interface {
	RecordRollback(ctx context.Context, rec *RollbackRecord) error
	UpdateRollbackOutcome(ctx context.Context, id, outcome string) error
	ListRollbacks(ctx context.Context) ([]*RollbackRecord, error)

	RecordComplianceCycle(ctx context.Context, c *ComplianceCycle) error
	ListComplianceCycles(ctx context.Context, agent string) ([]*ComplianceCycle, error)
	SumCompliance(ctx context.Context, agent string) (violations, warnings int, err error)

	Close() error
}

// SQLiteStore implements Store on SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the audit database at path.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating audit db directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening audit db: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing audit schema: %w", err)
	}
	return store, nil
}

// NewMemoryStore creates an in-memory store for tests.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file::memory:?mode=memory&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("opening memory db: %w", err)
	}
	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing audit schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rollback_records (
		id TEXT PRIMARY KEY,
		level TEXT NOT NULL,
		target TEXT NOT NULL,
		reason TEXT,
		backup_ref TEXT,
		outcome TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS compliance_cycles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent TEXT NOT NULL,
		cycle INTEGER NOT NULL,
		violations INTEGER NOT NULL,
		warnings INTEGER NOT NULL,
		score INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (agent, cycle)
	);

	CREATE INDEX IF NOT EXISTS idx_compliance_cycles_agent
		ON compliance_cycles(agent, cycle);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordRollback appends a rollback record. A missing ID is generated and
// written back to rec; a missing outcome starts as "pending".
func (s *SQLiteStore) RecordRollback(ctx context.Context, rec *RollbackRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Outcome == "" {
		rec.Outcome = "pending"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rollback_records (id, level, target, reason, backup_ref, outcome)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Level, rec.Target, rec.Reason, rec.BackupRef, rec.Outcome)
	if err != nil {
		return fmt.Errorf("inserting rollback record: %w", err)
	}
	return nil
}

// UpdateRollbackOutcome sets the outcome of an existing record.
func (s *SQLiteStore) UpdateRollbackOutcome(ctx context.Context, id, outcome string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rollback_records SET outcome = ? WHERE id = ?`, outcome, id)
	if err != nil {
		return fmt.Errorf("updating rollback outcome: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("rollback record %s not found", id)
	}
	return nil
}

// ListRollbacks returns all rollback records, newest first.
func (s *SQLiteStore) ListRollbacks(ctx context.Context) ([]*RollbackRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, level, target, reason, backup_ref, outcome, created_at
		FROM rollback_records ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying rollback records: %w", err)
	}
	defer rows.Close()

	var out []*RollbackRecord
	for rows.Next() {
		rec := &RollbackRecord{}
		if err := rows.Scan(&rec.ID, &rec.Level, &rec.Target, &rec.Reason,
			&rec.BackupRef, &rec.Outcome, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning rollback record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecordComplianceCycle appends one cycle result. Re-recording the same
// (agent, cycle) pair fails; cycles are facts, not mutable state.
func (s *SQLiteStore) RecordComplianceCycle(ctx context.Context, c *ComplianceCycle) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO compliance_cycles (agent, cycle, violations, warnings, score)
		VALUES (?, ?, ?, ?, ?)
	`, c.Agent, c.Cycle, c.Violations, c.Warnings, c.Score)
	if err != nil {
		return fmt.Errorf("inserting compliance cycle: %w", err)
	}
	return nil
}

// ListComplianceCycles returns an agent's cycle history in cycle order.
func (s *SQLiteStore) ListComplianceCycles(ctx context.Context, agent string) ([]*ComplianceCycle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent, cycle, violations, warnings, score, created_at
		FROM compliance_cycles WHERE agent = ? ORDER BY cycle
	`, agent)
	if err != nil {
		return nil, fmt.Errorf("querying compliance cycles: %w", err)
	}
	defer rows.Close()

	var out []*ComplianceCycle
	for rows.Next() {
		c := &ComplianceCycle{}
		if err := rows.Scan(&c.Agent, &c.Cycle, &c.Violations, &c.Warnings,
			&c.Score, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning compliance cycle: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SumCompliance returns an agent's running violation and warning totals.
func (s *SQLiteStore) SumCompliance(ctx context.Context, agent string) (int, int, error) {
	var violations, warnings int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(violations), 0), COALESCE(SUM(warnings), 0)
		FROM compliance_cycles WHERE agent = ?
	`, agent).Scan(&violations, &warnings)
	if err != nil {
		return 0, 0, fmt.Errorf("summing compliance counts: %w", err)
	}
	return violations, warnings, nil
}
