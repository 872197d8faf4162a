package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/cdss-prevention-engine/internal/domain"
)

// StoredAlert is a persisted alert row: the engine's alert payload plus
// identity and evaluation linkage.
type StoredAlert struct {
	ID                string               `json:"id"`
	EvaluationID      string               `json:"evaluation_id"`
	PatientID         string               `json:"patient_id"`
	RuleID            string               `json:"rule_id"`
	TestCode          string               `json:"test_code,omitempty"`
	Severity          domain.AlertSeverity `json:"severity"`
	Message           string               `json:"message"`
	RecommendedAction string               `json:"recommended_action,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
}

// AlertRepository handles alert persistence
type AlertRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *pgxpool.Pool, logger *logrus.Logger) *AlertRepository {
	return &AlertRepository{
		db:  db,
		log: logger,
	}
}

// SaveBatch persists every alert of one evaluation atomically. A nil or
// empty batch is a no-op.
func (r *AlertRepository) SaveBatch(ctx context.Context, evaluationID, patientID string, alerts []domain.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	query := `
		INSERT INTO alerts (
			id, evaluation_id, patient_id, rule_id, test_code,
			severity, message, recommended_action, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)`

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning alert transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for _, alert := range alerts {
		_, err := tx.Exec(ctx, query,
			uuid.New().String(),
			evaluationID,
			patientID,
			alert.RuleID,
			alert.TestCode,
			string(alert.Severity),
			alert.Message,
			alert.RecommendedAction,
			now,
		)
		if err != nil {
			r.log.WithFields(logrus.Fields{
				"evaluation_id": evaluationID,
				"patient_id":    patientID,
				"rule_id":       alert.RuleID,
				"error":         err,
			}).Error("Failed to insert alert")
			return fmt.Errorf("inserting alert: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing alert transaction: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"evaluation_id": evaluationID,
		"patient_id":    patientID,
		"alert_count":   len(alerts),
	}).Info("Alerts persisted successfully")

	return nil
}

// ListByPatient retrieves a patient's alerts, newest first, with pagination
func (r *AlertRepository) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*StoredAlert, error) {
	query := `
		SELECT id, evaluation_id, patient_id, rule_id, test_code,
			   severity, message, recommended_action, created_at
		FROM alerts
		WHERE patient_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, patientID, limit, offset)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id": patientID,
			"error":      err,
		}).Error("Failed to list alerts by patient")
		return nil, fmt.Errorf("listing alerts by patient: %w", err)
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// ListByEvaluation retrieves all alerts emitted by one evaluation
func (r *AlertRepository) ListByEvaluation(ctx context.Context, evaluationID string) ([]*StoredAlert, error) {
	query := `
		SELECT id, evaluation_id, patient_id, rule_id, test_code,
			   severity, message, recommended_action, created_at
		FROM alerts
		WHERE evaluation_id = $1
		ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, evaluationID)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"evaluation_id": evaluationID,
			"error":         err,
		}).Error("Failed to list alerts by evaluation")
		return nil, fmt.Errorf("listing alerts by evaluation: %w", err)
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// CountBySeverity returns alert counts grouped by severity
func (r *AlertRepository) CountBySeverity(ctx context.Context) (map[domain.AlertSeverity]int64, error) {
	query := `SELECT severity, COUNT(*) FROM alerts GROUP BY severity`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("counting alerts by severity: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.AlertSeverity]int64)
	for rows.Next() {
		var severity string
		var count int64
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, fmt.Errorf("scanning severity count: %w", err)
		}
		counts[domain.AlertSeverity(severity)] = count
	}
	return counts, rows.Err()
}

// DeleteOlderThan removes alerts created before the cutoff, returning the
// number of rows removed. Retention sweeps call this.
func (r *AlertRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, "DELETE FROM alerts WHERE created_at < $1", cutoff)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"cutoff": cutoff,
			"error":  err,
		}).Error("Failed to delete old alerts")
		return 0, fmt.Errorf("deleting old alerts: %w", err)
	}

	deleted := result.RowsAffected()
	if deleted > 0 {
		r.log.WithFields(logrus.Fields{
			"cutoff":  cutoff,
			"deleted": deleted,
		}).Info("Old alerts removed")
	}
	return deleted, nil
}

// scanAlerts collects rows into StoredAlert values
func scanAlerts(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]*StoredAlert, error) {
	var alerts []*StoredAlert
	for rows.Next() {
		alert := &StoredAlert{}
		var severity string

		err := rows.Scan(
			&alert.ID,
			&alert.EvaluationID,
			&alert.PatientID,
			&alert.RuleID,
			&alert.TestCode,
			&severity,
			&alert.Message,
			&alert.RecommendedAction,
			&alert.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning alert row: %w", err)
		}

		alert.Severity = domain.AlertSeverity(severity)
		alerts = append(alerts, alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating alert rows: %w", err)
	}
	return alerts, nil
}
