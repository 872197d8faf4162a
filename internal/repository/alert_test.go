package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cdss-prevention-engine/internal/database"
	"github.com/cdss-prevention-engine/internal/domain"
)

// generateTestPassword creates a secure random password for test databases
func generateTestPassword() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to a default test password if random generation fails
		return "test_fallback_password_123"
	}
	return "test_" + hex.EncodeToString(bytes)
}

func setupTestDB(t *testing.T) (*database.DB, func()) {
	if testing.Short() {
		t.Skip("Skipping container-backed integration test in short mode")
	}

	ctx := context.Background()

	// Generate secure random password for test database
	testPassword := generateTestPassword()

	// Start PostgreSQL container
	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword(testPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	// Get connection details
	host, err := pgContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	databaseURL := "postgres://testuser:" + testPassword + "@" + host + ":" + port.Port() + "/testdb?sslmode=disable"

	// Create database connection
	config := domain.DatabaseConfig{
		URL:             databaseURL,
		MaxConns:        10,
		MinConns:        2,
		ConnMaxLifetime: time.Hour,
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	db, err := database.NewConnection(ctx, config, logger)
	if err != nil {
		t.Fatalf("Failed to create database connection: %v", err)
	}

	if err := database.RunMigrations(databaseURL, "../../migrations", logger); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	}

	return db, cleanup
}

func testRepo(db *database.DB) *AlertRepository {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return NewAlertRepository(db.Pool, logger)
}

func sampleAlerts() []domain.Alert {
	return []domain.Alert{
		{
			RuleID:            "lab.hba1c",
			TestCode:          "4548-4",
			Severity:          domain.AlertWarning,
			Message:           "HbA1c 6.1 % is in the prediabetes range",
			RecommendedAction: "Enroll in a structured diabetes prevention program",
		},
		{
			RuleID:            "lab.potassium",
			TestCode:          "2823-3",
			Severity:          domain.AlertCritical,
			Message:           "Potassium 6.8 mEq/L is critically elevated",
			RecommendedAction: "Obtain ECG and repeat potassium immediately",
		},
	}
}

func TestAlertRepository_SaveBatch(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := testRepo(db)
	ctx := context.Background()

	err := repo.SaveBatch(ctx, "eval-1", "patient-1", sampleAlerts())
	if err != nil {
		t.Fatalf("Failed to save alerts: %v", err)
	}

	stored, err := repo.ListByEvaluation(ctx, "eval-1")
	if err != nil {
		t.Fatalf("Failed to list alerts: %v", err)
	}

	if len(stored) != 2 {
		t.Fatalf("Expected 2 alerts, got %d", len(stored))
	}

	for _, alert := range stored {
		if alert.ID == "" {
			t.Error("Expected alert ID to be assigned")
		}
		if alert.EvaluationID != "eval-1" {
			t.Errorf("Expected evaluation_id eval-1, got %s", alert.EvaluationID)
		}
		if alert.PatientID != "patient-1" {
			t.Errorf("Expected patient_id patient-1, got %s", alert.PatientID)
		}
		if alert.CreatedAt.IsZero() {
			t.Error("Expected created_at to be set")
		}
	}
}

func TestAlertRepository_SaveBatch_Empty(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := testRepo(db)
	ctx := context.Background()

	if err := repo.SaveBatch(ctx, "eval-1", "patient-1", nil); err != nil {
		t.Fatalf("Empty batch should be a no-op, got error: %v", err)
	}

	stored, err := repo.ListByEvaluation(ctx, "eval-1")
	if err != nil {
		t.Fatalf("Failed to list alerts: %v", err)
	}
	if len(stored) != 0 {
		t.Errorf("Expected no alerts, got %d", len(stored))
	}
}

func TestAlertRepository_ListByPatient(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := testRepo(db)
	ctx := context.Background()

	if err := repo.SaveBatch(ctx, "eval-1", "patient-1", sampleAlerts()); err != nil {
		t.Fatalf("Failed to save alerts: %v", err)
	}
	if err := repo.SaveBatch(ctx, "eval-2", "patient-1", sampleAlerts()[:1]); err != nil {
		t.Fatalf("Failed to save alerts: %v", err)
	}
	if err := repo.SaveBatch(ctx, "eval-3", "patient-2", sampleAlerts()[:1]); err != nil {
		t.Fatalf("Failed to save alerts: %v", err)
	}

	alerts, err := repo.ListByPatient(ctx, "patient-1", 10, 0)
	if err != nil {
		t.Fatalf("Failed to list alerts by patient: %v", err)
	}
	if len(alerts) != 3 {
		t.Errorf("Expected 3 alerts for patient-1, got %d", len(alerts))
	}
	for _, alert := range alerts {
		if alert.PatientID != "patient-1" {
			t.Errorf("Expected patient_id patient-1, got %s", alert.PatientID)
		}
	}

	// Pagination
	page, err := repo.ListByPatient(ctx, "patient-1", 2, 0)
	if err != nil {
		t.Fatalf("Failed to list first page: %v", err)
	}
	if len(page) != 2 {
		t.Errorf("Expected 2 alerts on first page, got %d", len(page))
	}
}

func TestAlertRepository_CountBySeverity(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := testRepo(db)
	ctx := context.Background()

	if err := repo.SaveBatch(ctx, "eval-1", "patient-1", sampleAlerts()); err != nil {
		t.Fatalf("Failed to save alerts: %v", err)
	}
	if err := repo.SaveBatch(ctx, "eval-2", "patient-2", sampleAlerts()[:1]); err != nil {
		t.Fatalf("Failed to save alerts: %v", err)
	}

	counts, err := repo.CountBySeverity(ctx)
	if err != nil {
		t.Fatalf("Failed to count alerts: %v", err)
	}

	if counts[domain.AlertWarning] != 2 {
		t.Errorf("Expected 2 warning alerts, got %d", counts[domain.AlertWarning])
	}
	if counts[domain.AlertCritical] != 1 {
		t.Errorf("Expected 1 critical alert, got %d", counts[domain.AlertCritical])
	}
}

func TestAlertRepository_DeleteOlderThan(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := testRepo(db)
	ctx := context.Background()

	if err := repo.SaveBatch(ctx, "eval-1", "patient-1", sampleAlerts()); err != nil {
		t.Fatalf("Failed to save alerts: %v", err)
	}

	// A cutoff in the past removes nothing
	deleted, err := repo.DeleteOlderThan(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Failed to delete alerts: %v", err)
	}
	if deleted != 0 {
		t.Errorf("Expected 0 deletions, got %d", deleted)
	}

	// A cutoff in the future removes everything
	deleted, err = repo.DeleteOlderThan(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("Failed to delete alerts: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 deletions, got %d", deleted)
	}

	remaining, err := repo.ListByPatient(ctx, "patient-1", 10, 0)
	if err != nil {
		t.Fatalf("Failed to list alerts: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("Expected no remaining alerts, got %d", len(remaining))
	}
}
