package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/cdss-prevention-engine/pkg/icd10"
)

// Demographics describes the patient attributes that threshold bands may
// consult: age in years, biological sex, and pregnancy status.
type Demographics struct {
	Age      int    `json:"age"`
	Sex      string `json:"sex,omitempty"`
	Pregnant bool   `json:"pregnant,omitempty"`
}

// Validate checks the demographics for physiologic plausibility. An empty
// sex is allowed (unknown); sex-specific threshold bands then classify
// UNKNOWN rather than guessing.
func (d Demographics) Validate() error {
	if d.Age < 0 || d.Age > 150 {
		return NewValidationError("age", "must be between 0 and 150", d.Age)
	}
	if d.Sex != "" && d.Sex != SexMale && d.Sex != SexFemale {
		return NewValidationError("sex", "must be male, female, or empty", d.Sex)
	}
	return nil
}

// LabObservation is a single coded laboratory result. Immutable once created.
type LabObservation struct {
	TestCode   string    `json:"test_code"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// Validate checks the observation has the fields the classifier needs.
// A NaN or infinite value is accepted here and classified UNKNOWN later;
// rejecting it at the boundary would silently drop the safety signal.
func (o LabObservation) Validate() error {
	if o.TestCode == "" {
		return NewValidationError("test_code", "must not be empty", o.TestCode)
	}
	return nil
}

// Medication is an active medication on the patient's list. The engine only
// inspects the code and name; dosing belongs to the prescribing system.
type Medication struct {
	Code string `json:"code,omitempty"`
	Name string `json:"name"`
}

// PatientContext is the immutable input to one evaluation: who the patient
// is, how fresh the caller's view of their data is, and the clinical facts
// the rules may consult. The engine never mutates it.
type PatientContext struct {
	PatientID      string           `json:"patient_id"`
	ContextVersion int64            `json:"context_version"`
	Demographics   Demographics     `json:"demographics"`
	Medications    []Medication     `json:"medications,omitempty"`
	Diagnoses      []string         `json:"diagnoses,omitempty"`
	Observations   []LabObservation `json:"observations,omitempty"`
}

// Validate checks the context is well-formed enough to evaluate. The
// context version is the caller's monotonic freshness marker and is part of
// the cache key, so a missing version would silently collide cache entries.
func (p *PatientContext) Validate() error {
	if p == nil {
		return NewValidationError("patient_context", "must not be nil", nil)
	}
	if p.PatientID == "" {
		return NewValidationError("patient_id", "must not be empty", p.PatientID)
	}
	if p.ContextVersion <= 0 {
		return NewValidationError("context_version", "must be a positive monotonic version", p.ContextVersion)
	}
	if err := p.Demographics.Validate(); err != nil {
		return err
	}
	for i, obs := range p.Observations {
		if err := obs.Validate(); err != nil {
			return fmt.Errorf("observation %d: %w", i, err)
		}
	}
	return nil
}

// LatestObservation returns the most recent observation for the test code,
// or nil if the context holds none.
func (p *PatientContext) LatestObservation(testCode string) *LabObservation {
	var latest *LabObservation
	for i := range p.Observations {
		obs := &p.Observations[i]
		if obs.TestCode != testCode {
			continue
		}
		if latest == nil || obs.ObservedAt.After(latest.ObservedAt) {
			latest = obs
		}
	}
	return latest
}

// HasObservation reports whether the context holds any observation for the code.
func (p *PatientContext) HasObservation(testCode string) bool {
	return p.LatestObservation(testCode) != nil
}

// HasDiagnosisPrefix reports whether any active diagnosis falls within the
// ICD-10 family named by prefix (e.g. "E11" matches an "E11.9" diagnosis).
func (p *PatientContext) HasDiagnosisPrefix(prefix string) bool {
	for _, code := range p.Diagnoses {
		if icd10.InFamily(code, prefix) {
			return true
		}
	}
	return false
}

// Classification is the classifier's output for one lab value. Reason
// carries the matched band description, or the diagnostic explanation when
// the category is UNKNOWN.
type Classification struct {
	TestCode string           `json:"test_code"`
	Value    float64          `json:"value"`
	Unit     string           `json:"unit,omitempty"`
	Category SeverityCategory `json:"category"`
	Reason   string           `json:"reason,omitempty"`
}

// Recommendation is a single evidence-graded intervention from the static
// recommendation library. Referenced, never mutated, by generated plans.
type Recommendation struct {
	Category RecommendationCategory `json:"category"`
	Text     string                 `json:"text"`
	Grade    EvidenceGrade          `json:"grade"`
	Priority Priority               `json:"priority"`
}

// Validate checks the recommendation's fixed data is well-formed. Used at
// library construction to fail fast on a malformed static table.
func (r Recommendation) Validate() error {
	if r.Text == "" {
		return NewValidationError("text", "must not be empty", r.Text)
	}
	if !r.Category.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidRecCategory, r.Category)
	}
	if !r.Grade.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidEvidenceGrade, r.Grade)
	}
	if !r.Priority.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidPriority, r.Priority)
	}
	return nil
}

// Goal is a single prevention-plan goal. OffsetDays is relative to plan
// creation; the persistence collaborator resolves it to an absolute target
// date at save time, which keeps the synthesizer clock-free.
type Goal struct {
	Description string     `json:"description"`
	OffsetDays  int        `json:"offset_days"`
	Status      GoalStatus `json:"status"`
}

// Offset renders the relative target as "+N days" for display and logging.
func (g Goal) Offset() string {
	return fmt.Sprintf("+%d days", g.OffsetDays)
}

// PreventionPlanDraft is the engine's not-yet-persisted plan output: typed,
// named, with ordered goals and recommendations and an optional screening
// schedule (test code to next-due offset in days). Identity, timestamps and
// lifecycle are assigned by the plan store, never by the engine.
type PreventionPlanDraft struct {
	PlanType          PlanType         `json:"plan_type"`
	Name              string           `json:"name"`
	TriggeredBy       string           `json:"triggered_by"`
	Category          SeverityCategory `json:"category"`
	Goals             []Goal           `json:"goals"`
	Recommendations   []Recommendation `json:"recommendations"`
	ScreeningSchedule map[string]int   `json:"screening_schedule,omitempty"`
}

// Validate enforces the draft invariants: a known plan type and, for any
// actionable category, non-empty goals and recommendations.
func (d *PreventionPlanDraft) Validate() error {
	if !d.PlanType.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidPlanType, d.PlanType)
	}
	if d.Name == "" {
		return NewValidationError("name", "must not be empty", d.Name)
	}
	if d.Category.IsActionable() {
		if len(d.Goals) == 0 {
			return NewValidationError("goals", "must not be empty for an actionable category", nil)
		}
		if len(d.Recommendations) == 0 {
			return NewValidationError("recommendations", "must not be empty for an actionable category", nil)
		}
	}
	return nil
}

// Alert is a rule-emitted notification about a clinically significant
// finding. Delivery is the notification collaborator's concern.
type Alert struct {
	RuleID            string        `json:"rule_id"`
	TestCode          string        `json:"test_code,omitempty"`
	Severity          AlertSeverity `json:"severity"`
	Message           string        `json:"message"`
	RecommendedAction string        `json:"recommended_action,omitempty"`
}

// RuleResult is the outcome of one rule evaluation. Error carries the
// annotation for a timed-out or failed rule; such results always have
// Fired=false. Deliberately free of timing fields so that cached and fresh
// results compare equal.
type RuleResult struct {
	RuleID string               `json:"rule_id"`
	Fired  bool                 `json:"fired"`
	Alert  *Alert               `json:"alert,omitempty"`
	Plan   *PreventionPlanDraft `json:"plan,omitempty"`
	Error  string               `json:"error,omitempty"`
}

// EvaluationResult is the aggregate returned to the caller of Evaluate.
// Alerts and Plans are extracted from Results in stable rule-id order.
type EvaluationResult struct {
	EvaluationID   string                 `json:"evaluation_id"`
	PatientID      string                 `json:"patient_id"`
	ContextVersion int64                  `json:"context_version"`
	CacheHit       bool                   `json:"cache_hit"`
	Results        []RuleResult           `json:"results"`
	Alerts         []Alert                `json:"alerts"`
	Plans          []*PreventionPlanDraft `json:"plans"`
	Metrics        MetricsSnapshot        `json:"metrics"`
	EvaluatedAt    time.Time              `json:"evaluated_at"`
}

// MetricsSnapshot is a point-in-time, read-only view of the collector.
type MetricsSnapshot struct {
	TotalEvaluations int64            `json:"total_evaluations"`
	CacheHits        int64            `json:"cache_hits"`
	CacheMisses      int64            `json:"cache_misses"`
	CacheErrors      int64            `json:"cache_errors"`
	HitRate          float64          `json:"hit_rate"`
	AvgLatencyMs     float64          `json:"avg_latency_ms"`
	P95LatencyMs     float64          `json:"p95_latency_ms"`
	PlansGenerated   int64            `json:"plans_generated"`
	FailuresByRule   map[string]int64 `json:"failures_by_rule,omitempty"`
	TakenAt          time.Time        `json:"taken_at"`
}

// IsFinite reports whether the value is a usable number. NaN and infinities
// come from upstream unit-conversion bugs and must classify UNKNOWN.
func IsFinite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0)
}
