// Package planstore persists prevention plans generated by the rule engine.
// The engine only emits drafts; this package assigns identity, timestamps and
// lifecycle, and resolves relative goal offsets to absolute target dates at
// save time.
package planstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/cdss-prevention-engine/internal/domain"
)

// ErrIllegalTransition reports a plan status change the lifecycle does not
// allow. Plans only move forward from ACTIVE; terminal states are final.
var ErrIllegalTransition = errors.New("illegal plan status transition")

// PlanGoal is the persisted form of a draft goal: the relative offset has
// been resolved against the save clock.
type PlanGoal struct {
	Description string            `json:"description"`
	TargetDate  time.Time         `json:"target_date"`
	Status      domain.GoalStatus `json:"status"`
}

// PlanRecord is a persisted prevention plan.
type PlanRecord struct {
	ID                string                  `json:"id"`
	PatientID         string                  `json:"patient_id"`
	EvaluationID      string                  `json:"evaluation_id,omitempty"`
	PlanType          domain.PlanType         `json:"plan_type"`
	Name              string                  `json:"name"`
	TriggeredBy       string                  `json:"triggered_by,omitempty"`
	Category          domain.SeverityCategory `json:"category"`
	Status            domain.PlanStatus       `json:"status"`
	Goals             []PlanGoal              `json:"goals"`
	Recommendations   []domain.Recommendation `json:"recommendations"`
	ScreeningSchedule map[string]int          `json:"screening_schedule,omitempty"`
	CreatedAt         time.Time               `json:"created_at"`
	UpdatedAt         time.Time               `json:"updated_at"`
}

// Store defines the interface for prevention-plan persistence.
type Store interface {
	// Save persists a draft as a new ACTIVE plan for the patient. Any prior
	// ACTIVE plan of the same type for the same patient is deactivated in
	// the same operation: a fresh evaluation supersedes the stale plan.
	Save(ctx context.Context, patientID, evaluationID string, draft *domain.PreventionPlanDraft) (*PlanRecord, error)

	// Get retrieves a plan by ID. Returns domain.ErrNotFound if absent.
	Get(ctx context.Context, id string) (*PlanRecord, error)

	// ListByPatient returns the patient's plans, newest first. With
	// activeOnly set, only ACTIVE plans are returned.
	ListByPatient(ctx context.Context, patientID string, activeOnly bool) ([]*PlanRecord, error)

	// UpdateStatus applies a lifecycle transition. Returns
	// domain.ErrNotFound for an unknown plan and ErrIllegalTransition when
	// the current status does not allow the change.
	UpdateStatus(ctx context.Context, id string, next domain.PlanStatus) (*PlanRecord, error)

	// Count returns the total number of persisted plans.
	Count(ctx context.Context) (int64, error)

	// Close closes the store and releases resources.
	Close() error
}

// newRecord builds the persisted form of a draft: uuid identity, ACTIVE
// status, goal offsets resolved against now.
func newRecord(patientID, evaluationID string, draft *domain.PreventionPlanDraft, now time.Time) *PlanRecord {
	goals := make([]PlanGoal, len(draft.Goals))
	for i, g := range draft.Goals {
		status := g.Status
		if status == "" {
			status = domain.GoalPending
		}
		goals[i] = PlanGoal{
			Description: g.Description,
			TargetDate:  now.AddDate(0, 0, g.OffsetDays),
			Status:      status,
		}
	}

	recommendations := make([]domain.Recommendation, len(draft.Recommendations))
	copy(recommendations, draft.Recommendations)

	var schedule map[string]int
	if len(draft.ScreeningSchedule) > 0 {
		schedule = make(map[string]int, len(draft.ScreeningSchedule))
		for code, days := range draft.ScreeningSchedule {
			schedule[code] = days
		}
	}

	return &PlanRecord{
		ID:                uuid.New().String(),
		PatientID:         patientID,
		EvaluationID:      evaluationID,
		PlanType:          draft.PlanType,
		Name:              draft.Name,
		TriggeredBy:       draft.TriggeredBy,
		Category:          draft.Category,
		Status:            domain.PlanActive,
		Goals:             goals,
		Recommendations:   recommendations,
		ScreeningSchedule: schedule,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// validateSaveInput checks the arguments shared by both backends.
func validateSaveInput(patientID string, draft *domain.PreventionPlanDraft) error {
	if patientID == "" {
		return domain.NewValidationError("patient_id", "must not be empty", patientID)
	}
	if draft == nil {
		return domain.NewValidationError("plan", "must not be nil", nil)
	}
	return draft.Validate()
}
