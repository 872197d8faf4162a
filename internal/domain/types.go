// Package domain contains the core business entities for clinical rule
// evaluation and prevention-plan generation: lab severity categories,
// evidence-graded recommendations, prevention-plan drafts, and the patient
// context the rule engine evaluates.
//
// Threshold cutoffs follow ADA Standards of Care for glycemic tests, NCEP ATP
// III for lipids, and KDIGO for renal staging; see internal/classify for the
// authoritative band table.
package domain

import (
	"errors"
	"fmt"
)

// SeverityCategory is the ordered clinical classification of a lab value.
// Categories are shared across test families but each family only uses a
// subset (e.g. HbA1c uses NORMAL/PREDIABETES/DIABETES/CRITICAL while lipids
// use NORMAL/BORDERLINE/HIGH/VERY_HIGH). Ordering across families is defined
// by Rank, not by declaration order.
type SeverityCategory string

const (
	UNKNOWN     SeverityCategory = "UNKNOWN"
	NORMAL      SeverityCategory = "NORMAL"
	BORDERLINE  SeverityCategory = "BORDERLINE"
	PREDIABETES SeverityCategory = "PREDIABETES"
	LOW         SeverityCategory = "LOW"
	HIGH        SeverityCategory = "HIGH"
	DIABETES    SeverityCategory = "DIABETES"
	VERY_HIGH   SeverityCategory = "VERY_HIGH"
	CRITICAL    SeverityCategory = "CRITICAL"
)

// Validation errors for clinical data integrity
var (
	ErrInvalidSeverity       = errors.New("invalid severity category")
	ErrInvalidPlanType       = errors.New("invalid plan type")
	ErrInvalidPriority       = errors.New("invalid recommendation priority")
	ErrInvalidRecCategory    = errors.New("invalid recommendation category")
	ErrInvalidEvidenceGrade  = errors.New("invalid evidence grade")
	ErrInvalidAlertSeverity  = errors.New("invalid alert severity")
	ErrInvalidPlanStatus     = errors.New("invalid plan status")
	ErrInvalidPlanTransition = errors.New("illegal plan status transition")
)

// IsValid reports whether the category is a recognized classification.
// UNKNOWN is a valid category: it is the required result for unregistered
// test codes and malformed values, never an error state.
func (c SeverityCategory) IsValid() bool {
	switch c {
	case UNKNOWN, NORMAL, BORDERLINE, PREDIABETES, LOW, HIGH, DIABETES, VERY_HIGH, CRITICAL:
		return true
	default:
		return false
	}
}

// String returns the string representation of the category.
func (c SeverityCategory) String() string {
	return string(c)
}

// Rank returns the cross-family severity order used for plan deduplication
// and alert severity mapping. UNKNOWN ranks below NORMAL because it carries
// no classification at all, only a diagnostic reason.
func (c SeverityCategory) Rank() int {
	switch c {
	case NORMAL:
		return 0
	case BORDERLINE, PREDIABETES:
		return 1
	case LOW, HIGH, DIABETES:
		return 2
	case VERY_HIGH:
		return 3
	case CRITICAL:
		return 4
	default:
		return -1
	}
}

// IsActionable reports whether the category should produce alerts,
// recommendations, and prevention plans. NORMAL and UNKNOWN never do.
func (c SeverityCategory) IsActionable() bool {
	return c.Rank() >= 1
}

// Description returns a human-readable description for clinical reporting.
func (c SeverityCategory) Description() string {
	switch c {
	case NORMAL:
		return "Within reference range"
	case BORDERLINE:
		return "Borderline - approaching clinically significant threshold"
	case PREDIABETES:
		return "Prediabetes range - elevated diabetes risk"
	case LOW:
		return "Below reference range - clinically significant"
	case HIGH:
		return "Above reference range - clinically significant"
	case DIABETES:
		return "Diabetes range - diagnostic threshold met"
	case VERY_HIGH:
		return "Severely elevated - prompt clinical attention required"
	case CRITICAL:
		return "Critical value - immediate clinician review required"
	default:
		return "Unclassifiable value"
	}
}

// LogFields returns structured logging fields for audit trails.
func (c SeverityCategory) LogFields() map[string]any {
	return map[string]any{
		"severity_category": string(c),
		"severity_rank":     c.Rank(),
		"actionable":        c.IsActionable(),
	}
}

// PlanType is the coarse grouping of a prevention plan, selected by a fixed
// per-test-code mapping in the plan synthesizer.
type PlanType string

const (
	PlanCardiovascular PlanType = "CARDIOVASCULAR"
	PlanDiabetes       PlanType = "DIABETES"
	PlanRenal          PlanType = "RENAL"
	PlanEndocrine      PlanType = "ENDOCRINE"
	PlanComprehensive  PlanType = "COMPREHENSIVE"
)

// IsValid reports whether the plan type is recognized.
func (p PlanType) IsValid() bool {
	switch p {
	case PlanCardiovascular, PlanDiabetes, PlanRenal, PlanEndocrine, PlanComprehensive:
		return true
	default:
		return false
	}
}

// String returns the string representation of the plan type.
func (p PlanType) String() string {
	return string(p)
}

// RecommendationCategory tags the kind of intervention a recommendation is.
type RecommendationCategory string

const (
	RecMedication RecommendationCategory = "medication"
	RecLifestyle  RecommendationCategory = "lifestyle"
	RecScreening  RecommendationCategory = "screening"
	RecReferral   RecommendationCategory = "referral"
	RecMonitoring RecommendationCategory = "monitoring"
)

// IsValid reports whether the recommendation category is recognized.
func (r RecommendationCategory) IsValid() bool {
	switch r {
	case RecMedication, RecLifestyle, RecScreening, RecReferral, RecMonitoring:
		return true
	default:
		return false
	}
}

// Priority is the clinical priority of a recommendation. Returned
// recommendation lists are always ordered high before medium before low.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// IsValid reports whether the priority is recognized.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// Rank returns the sort order of the priority, high first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 3
	}
}

// EvidenceGrade is the strength of clinical evidence behind a recommendation.
// Grade A is the strongest (clear evidence from well-conducted trials).
type EvidenceGrade string

const (
	GradeA EvidenceGrade = "A"
	GradeB EvidenceGrade = "B"
	GradeC EvidenceGrade = "C"
)

// IsValid reports whether the evidence grade is recognized.
func (g EvidenceGrade) IsValid() bool {
	switch g {
	case GradeA, GradeB, GradeC:
		return true
	default:
		return false
	}
}

// AlertSeverity is the urgency of an alert emitted by a decision rule.
type AlertSeverity string

const (
	AlertInfo     AlertSeverity = "info"
	AlertWarning  AlertSeverity = "warning"
	AlertCritical AlertSeverity = "critical"
)

// IsValid reports whether the alert severity is recognized.
func (s AlertSeverity) IsValid() bool {
	switch s {
	case AlertInfo, AlertWarning, AlertCritical:
		return true
	default:
		return false
	}
}

// GoalStatus is the lifecycle state of a single plan goal. Drafts always
// start every goal at GoalPending; later transitions belong to the
// persistence collaborator.
type GoalStatus string

const (
	GoalPending   GoalStatus = "pending"
	GoalCompleted GoalStatus = "completed"
)

// PlanStatus is the persisted lifecycle state of a prevention plan. The
// engine only emits drafts; the plan store owns these transitions.
type PlanStatus string

const (
	PlanActive      PlanStatus = "ACTIVE"
	PlanCompleted   PlanStatus = "COMPLETED"
	PlanDeactivated PlanStatus = "DEACTIVATED"
)

// IsValid reports whether the plan status is recognized.
func (s PlanStatus) IsValid() bool {
	switch s {
	case PlanActive, PlanCompleted, PlanDeactivated:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the status change is legal. Plans only
// move forward: ACTIVE may complete or deactivate, terminal states are final.
func (s PlanStatus) CanTransitionTo(next PlanStatus) bool {
	if s != PlanActive {
		return false
	}
	return next == PlanCompleted || next == PlanDeactivated
}

// Biological sex values used by demographic-sensitive threshold bands.
const (
	SexMale   = "male"
	SexFemale = "female"
)

// ParseSeverityCategory parses and validates a severity category string.
func ParseSeverityCategory(s string) (SeverityCategory, error) {
	c := SeverityCategory(s)
	if !c.IsValid() {
		return UNKNOWN, fmt.Errorf("%w: %q", ErrInvalidSeverity, s)
	}
	return c, nil
}

// ParsePlanStatus parses and validates a plan status string.
func ParsePlanStatus(s string) (PlanStatus, error) {
	st := PlanStatus(s)
	if !st.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPlanStatus, s)
	}
	return st, nil
}
