package planstore

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdss-prevention-engine/internal/domain"
)

// getTestDB returns a database connection for testing.
// Skip test if TEST_DATABASE_URL is not set.
func getTestDB(t *testing.T) *sql.DB {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping PostgreSQL tests")
	}

	db, err := sql.Open("postgres", dbURL)
	require.NoError(t, err)

	// Create plans table for testing
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS plans (
			id TEXT PRIMARY KEY,
			patient_id TEXT NOT NULL,
			evaluation_id TEXT NOT NULL DEFAULT '',
			plan_type TEXT NOT NULL,
			name TEXT NOT NULL,
			triggered_by TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'ACTIVE',
			goals JSONB NOT NULL DEFAULT '[]',
			recommendations JSONB NOT NULL DEFAULT '[]',
			screening_schedule JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL
		)
	`)
	require.NoError(t, err)

	// Clean up before test
	_, err = db.Exec("DELETE FROM plans")
	require.NoError(t, err)

	return db
}

func TestPostgresStore_SaveAndGet(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	store, err := NewPostgresStore(db)
	require.NoError(t, err)

	ctx := context.Background()

	saved, err := store.Save(ctx, "patient-1", "eval-1", diabetesDraft())
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, domain.PlanActive, saved.Status)

	retrieved, err := store.Get(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanDiabetes, retrieved.PlanType)
	assert.Equal(t, "Diabetes Prevention Plan", retrieved.Name)
	require.Len(t, retrieved.Goals, 2)
	assert.Equal(t, map[string]int{"4548-4": 90}, retrieved.ScreeningSchedule)
}

func TestPostgresStore_SaveSupersedes(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	store, err := NewPostgresStore(db)
	require.NoError(t, err)

	ctx := context.Background()

	first, err := store.Save(ctx, "patient-1", "eval-1", diabetesDraft())
	require.NoError(t, err)

	_, err = store.Save(ctx, "patient-1", "eval-2", diabetesDraft())
	require.NoError(t, err)

	retrieved, err := store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanDeactivated, retrieved.Status)

	active, err := store.ListByPatient(ctx, "patient-1", true)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestPostgresStore_UpdateStatus(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	store, err := NewPostgresStore(db)
	require.NoError(t, err)

	ctx := context.Background()

	saved, err := store.Save(ctx, "patient-1", "eval-1", renalDraft())
	require.NoError(t, err)

	updated, err := store.UpdateStatus(ctx, saved.ID, domain.PlanCompleted)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanCompleted, updated.Status)

	_, err = store.UpdateStatus(ctx, saved.ID, domain.PlanActive)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestPostgresStore_NilDB(t *testing.T) {
	store, err := NewPostgresStore(nil)

	require.Error(t, err)
	assert.Nil(t, store)
}

// The tests below run against sqlmock and need no live database.

func setupMockDB(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewPostgresStore(db)
	require.NoError(t, err)

	return store, mock
}

func mockPlanRow(id string, status domain.PlanStatus) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "patient_id", "evaluation_id", "plan_type", "name", "triggered_by",
		"category", "status", "goals", "recommendations", "screening_schedule",
		"created_at", "updated_at",
	}).AddRow(
		id, "patient-1", "eval-1", "DIABETES", "Diabetes Prevention Plan", "4548-4",
		"PREDIABETES", string(status),
		[]byte(`[{"description":"Repeat HbA1c in 3 months","target_date":"2026-01-01T00:00:00Z","status":"pending"}]`),
		[]byte(`[{"category":"lifestyle","text":"Weight loss of 5-7% of body weight","grade":"A","priority":"high"}]`),
		[]byte(`{"4548-4":90}`),
		now, now,
	)
}

func TestPostgresStore_Save_Mock(t *testing.T) {
	store, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE plans SET status").
		WithArgs("DEACTIVATED", sqlmock.AnyArg(), "patient-1", "DIABETES", "ACTIVE").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO plans").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	record, err := store.Save(context.Background(), "patient-1", "eval-1", diabetesDraft())

	require.NoError(t, err)
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, domain.PlanActive, record.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get_NotFound_Mock(t *testing.T) {
	store, mock := setupMockDB(t)

	mock.ExpectQuery("SELECT (.+) FROM plans WHERE id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	record, err := store.Get(context.Background(), "missing")

	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Nil(t, record)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateStatus_TerminalState_Mock(t *testing.T) {
	store, mock := setupMockDB(t)

	mock.ExpectQuery("SELECT (.+) FROM plans WHERE id").
		WithArgs("plan-1").
		WillReturnRows(mockPlanRow("plan-1", domain.PlanCompleted))

	// No UPDATE is expected: the transition is rejected before any write
	record, err := store.UpdateStatus(context.Background(), "plan-1", domain.PlanDeactivated)

	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Nil(t, record)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateStatus_Mock(t *testing.T) {
	store, mock := setupMockDB(t)

	mock.ExpectQuery("SELECT (.+) FROM plans WHERE id").
		WithArgs("plan-1").
		WillReturnRows(mockPlanRow("plan-1", domain.PlanActive))
	mock.ExpectExec("UPDATE plans SET status").
		WithArgs("COMPLETED", sqlmock.AnyArg(), "plan-1", "ACTIVE").
		WillReturnResult(sqlmock.NewResult(0, 1))

	record, err := store.UpdateStatus(context.Background(), "plan-1", domain.PlanCompleted)

	require.NoError(t, err)
	assert.Equal(t, domain.PlanCompleted, record.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
