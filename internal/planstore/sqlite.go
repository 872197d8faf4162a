package planstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cdss-prevention-engine/internal/domain"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite plan store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// Open database
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	// Create schema
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// planColumns is the column list shared by every SELECT; scanPlan depends on
// this exact order.
const planColumns = `id, patient_id, evaluation_id, plan_type, name, triggered_by,
	category, status, goals, recommendations, screening_schedule, created_at, updated_at`

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanPlan scans a row into a PlanRecord.
func scanPlan(s scanner) (*PlanRecord, error) {
	record := &PlanRecord{}
	var planType, category, status string
	var goals, recommendations, schedule []byte

	err := s.Scan(
		&record.ID, &record.PatientID, &record.EvaluationID,
		&planType, &record.Name, &record.TriggeredBy,
		&category, &status, &goals, &recommendations, &schedule,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.PlanType = domain.PlanType(planType)
	record.Category = domain.SeverityCategory(category)
	record.Status = domain.PlanStatus(status)

	if err := json.Unmarshal(goals, &record.Goals); err != nil {
		return nil, fmt.Errorf("failed to decode goals: %w", err)
	}
	if err := json.Unmarshal(recommendations, &record.Recommendations); err != nil {
		return nil, fmt.Errorf("failed to decode recommendations: %w", err)
	}
	if len(schedule) > 0 {
		if err := json.Unmarshal(schedule, &record.ScreeningSchedule); err != nil {
			return nil, fmt.Errorf("failed to decode screening schedule: %w", err)
		}
	}
	return record, nil
}

// encodePlanJSON marshals the JSON-typed columns of a record. Values go over
// the wire as strings so both drivers treat them as text, not blobs.
func encodePlanJSON(record *PlanRecord) (goals, recommendations, schedule string, err error) {
	goalsBytes, err := json.Marshal(record.Goals)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode goals: %w", err)
	}
	recsBytes, err := json.Marshal(record.Recommendations)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode recommendations: %w", err)
	}
	scheduleBytes := []byte("{}")
	if record.ScreeningSchedule != nil {
		scheduleBytes, err = json.Marshal(record.ScreeningSchedule)
		if err != nil {
			return "", "", "", fmt.Errorf("failed to encode screening schedule: %w", err)
		}
	}
	return string(goalsBytes), string(recsBytes), string(scheduleBytes), nil
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		evaluation_id TEXT NOT NULL DEFAULT '',
		plan_type TEXT NOT NULL,
		name TEXT NOT NULL,
		triggered_by TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		goals TEXT NOT NULL DEFAULT '[]',
		recommendations TEXT NOT NULL DEFAULT '[]',
		screening_schedule TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_plans_patient_id ON plans(patient_id);
	CREATE INDEX IF NOT EXISTS idx_plans_status ON plans(status);
	CREATE INDEX IF NOT EXISTS idx_plans_created_at ON plans(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

// Save persists a draft as a new ACTIVE plan, deactivating any prior ACTIVE
// plan of the same type for the patient in the same transaction.
func (s *SQLiteStore) Save(ctx context.Context, patientID, evaluationID string, draft *domain.PreventionPlanDraft) (*PlanRecord, error) {
	if err := validateSaveInput(patientID, draft); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := newRecord(patientID, evaluationID, draft, now)

	goals, recommendations, schedule, err := encodePlanJSON(record)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Supersede the patient's prior active plan of this type
	_, err = tx.ExecContext(ctx, `
		UPDATE plans SET status = ?, updated_at = ?
		WHERE patient_id = ? AND plan_type = ? AND status = ?
	`,
		string(domain.PlanDeactivated), now,
		patientID, string(record.PlanType), string(domain.PlanActive),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to supersede prior plan: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO plans (
			id, patient_id, evaluation_id, plan_type, name, triggered_by,
			category, status, goals, recommendations, screening_schedule,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID, record.PatientID, record.EvaluationID,
		string(record.PlanType), record.Name, record.TriggeredBy,
		string(record.Category), string(record.Status),
		goals, recommendations, schedule,
		record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert plan: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return record, nil
}

// Get retrieves a plan by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*PlanRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+planColumns+" FROM plans WHERE id = ?", id)

	record, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return record, nil
}

// ListByPatient returns the patient's plans, newest first.
func (s *SQLiteStore) ListByPatient(ctx context.Context, patientID string, activeOnly bool) ([]*PlanRecord, error) {
	query := "SELECT " + planColumns + " FROM plans WHERE patient_id = ?"
	args := []interface{}{patientID}
	if activeOnly {
		query += " AND status = ?"
		args = append(args, string(domain.PlanActive))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var result []*PlanRecord
	for rows.Next() {
		record, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, record)
	}
	return result, rows.Err()
}

// UpdateStatus applies a lifecycle transition.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, next domain.PlanStatus) (*PlanRecord, error) {
	if !next.IsValid() {
		return nil, domain.NewValidationError("status", "unknown plan status", string(next))
	}

	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !record.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s to %s", ErrIllegalTransition, record.Status, next)
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		"UPDATE plans SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(next), now, id, string(record.Status),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		// Lost a race with a concurrent transition
		return nil, fmt.Errorf("%w: %s to %s", ErrIllegalTransition, record.Status, next)
	}

	record.Status = next
	record.UpdatedAt = now
	return record, nil
}

// Count returns the total number of persisted plans.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM plans").Scan(&count)
	return count, err
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
