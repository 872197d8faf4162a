package planstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/cdss-prevention-engine/internal/domain"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL plan store.
// It expects the database and schema to already exist (created via migrations).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDSN creates a new PostgreSQL plan store from a
// connection string.
func NewPostgresStoreFromDSN(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Save persists a draft as a new ACTIVE plan, deactivating any prior ACTIVE
// plan of the same type for the patient in the same transaction.
func (s *PostgresStore) Save(ctx context.Context, patientID, evaluationID string, draft *domain.PreventionPlanDraft) (*PlanRecord, error) {
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
		UPDATE plans SET status = $1, updated_at = $2
		WHERE patient_id = $3 AND plan_type = $4 AND status = $5
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
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
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
func (s *PostgresStore) Get(ctx context.Context, id string) (*PlanRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+planColumns+" FROM plans WHERE id = $1", id)

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
func (s *PostgresStore) ListByPatient(ctx context.Context, patientID string, activeOnly bool) ([]*PlanRecord, error) {
	query := "SELECT " + planColumns + " FROM plans WHERE patient_id = $1"
	args := []interface{}{patientID}
	if activeOnly {
		query += " AND status = $2"
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
func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, next domain.PlanStatus) (*PlanRecord, error) {
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
		"UPDATE plans SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4",
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
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM plans").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count plans: %w", err)
	}
	return count, nil
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
