package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cdss-prevention-engine/internal/classify"
	"github.com/cdss-prevention-engine/internal/domain"
	"github.com/cdss-prevention-engine/internal/plan"
)

const defaultPolypharmacyThreshold = 10

// diagnosisPrefixDiabetes is the ICD-10 family for type 2 diabetes mellitus.
const diagnosisPrefixDiabetes = "E11"

// builtinLabRules maps each monitored test to its rule id and display name.
// Registration order here fixes the deduplication tie-break, so append new
// rules at the end rather than reordering.
var builtinLabRules = []struct {
	code string
	id   string
	name string
}{
	{classify.TestHbA1c, "lab.hba1c", "HbA1c classification"},
	{classify.TestFastingGlucose, "lab.fasting-glucose", "Fasting glucose classification"},
	{classify.TestPotassium, "lab.potassium", "Serum potassium classification"},
	{classify.TestLDLCholesterol, "lab.ldl-cholesterol", "LDL cholesterol classification"},
	{classify.TestTotalCholesterol, "lab.total-cholesterol", "Total cholesterol classification"},
	{classify.TestTriglycerides, "lab.triglycerides", "Triglycerides classification"},
	{classify.TestTSH, "lab.tsh", "TSH classification"},
	{classify.TestCreatinine, "lab.creatinine", "Serum creatinine classification"},
	{classify.TestEGFR, "lab.egfr", "eGFR classification"},
}

// NewBuiltinRegistry builds the registry with the full built-in rule set:
// one classification rule per monitored lab test, the polypharmacy review
// rule, the composite metabolic-risk rule, and the overdue-HbA1c screening
// rule.
func NewBuiltinRegistry(classifier *classify.Classifier, synthesizer *plan.Synthesizer, polypharmacyThreshold int, logger *logrus.Logger) (*Registry, error) {
	if classifier == nil || synthesizer == nil {
		return nil, fmt.Errorf("builtin registry requires a classifier and a synthesizer")
	}
	if polypharmacyThreshold <= 0 {
		polypharmacyThreshold = defaultPolypharmacyThreshold
	}

	registry := NewRegistry(logger)

	for _, lr := range builtinLabRules {
		if err := registry.Register(newLabRule(classifier, synthesizer, lr.code, lr.id, lr.name, logger)); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", lr.id, err)
		}
	}
	if err := registry.Register(newPolypharmacyRule(polypharmacyThreshold)); err != nil {
		return nil, fmt.Errorf("failed to register polypharmacy rule: %w", err)
	}
	if err := registry.Register(newMetabolicRiskRule(classifier, synthesizer)); err != nil {
		return nil, fmt.Errorf("failed to register metabolic risk rule: %w", err)
	}
	if err := registry.Register(newScreeningOverdueRule()); err != nil {
		return nil, fmt.Errorf("failed to register screening rule: %w", err)
	}

	logger.WithField("rule_count", registry.Len()).Info("Built-in clinical rules registered")
	return registry, nil
}

// newLabRule builds the per-test classification rule. It classifies the
// patient's latest observation of the test and fires when the category is
// actionable, attaching an alert and a prevention-plan draft.
func newLabRule(classifier *classify.Classifier, synthesizer *plan.Synthesizer, testCode, ruleID, name string, logger *logrus.Logger) *Rule {
	return &Rule{
		ID:   ruleID,
		Name: name,
		AppliesTo: func(patient *domain.PatientContext) bool {
			return patient.HasObservation(testCode)
		},
		Evaluate: func(ctx context.Context, patient *domain.PatientContext) (*domain.RuleResult, error) {
			cls, err := classifyLatest(classifier, patient, testCode)
			if err != nil {
				return nil, err
			}

			result := &domain.RuleResult{RuleID: ruleID}

			if cls.Category == domain.UNKNOWN {
				// The value could not be banded; the reason stays with the
				// classification and the rule simply does not fire.
				logger.WithFields(logrus.Fields{
					"rule_id":    ruleID,
					"patient_id": patient.PatientID,
					"reason":     cls.Reason,
				}).Debug("Observation not classifiable")
				return result, nil
			}
			if !cls.Category.IsActionable() {
				return result, nil
			}

			result.Fired = true
			result.Plan = synthesizer.Synthesize(testCode, cls.Category, patient.Demographics)
			result.Alert = &domain.Alert{
				RuleID:            ruleID,
				TestCode:          testCode,
				Severity:          alertSeverityFor(cls.Category, classifier.MostSevere(testCode)),
				Message:           cls.Reason,
				RecommendedAction: firstRecommendation(result.Plan),
			}
			return result, nil
		},
	}
}

// newPolypharmacyRule flags patients at or above the medication-count
// threshold for reconciliation. Alert only; medication review has no
// prevention-plan grouping.
func newPolypharmacyRule(threshold int) *Rule {
	const ruleID = "meds.polypharmacy-review"
	return &Rule{
		ID:   ruleID,
		Name: "Polypharmacy review",
		AppliesTo: func(patient *domain.PatientContext) bool {
			return len(patient.Medications) >= threshold
		},
		Evaluate: func(ctx context.Context, patient *domain.PatientContext) (*domain.RuleResult, error) {
			return &domain.RuleResult{
				RuleID: ruleID,
				Fired:  true,
				Alert: &domain.Alert{
					RuleID:   ruleID,
					Severity: domain.AlertWarning,
					Message: fmt.Sprintf("Patient has %d active medications (review threshold %d)",
						len(patient.Medications), threshold),
					RecommendedAction: "Schedule medication reconciliation with pharmacist or clinician",
				},
			}, nil
		},
	}
}

// newMetabolicRiskRule is the composite rule for combined dysglycemia and
// hypertriglyceridemia. Expressed as one rule rather than a dependency
// between the two lab rules so parallel evaluation stays safe.
func newMetabolicRiskRule(classifier *classify.Classifier, synthesizer *plan.Synthesizer) *Rule {
	const ruleID = "labs.metabolic-risk"
	return &Rule{
		ID:   ruleID,
		Name: "Combined metabolic risk",
		AppliesTo: func(patient *domain.PatientContext) bool {
			return patient.HasObservation(classify.TestFastingGlucose) &&
				patient.HasObservation(classify.TestTriglycerides)
		},
		Evaluate: func(ctx context.Context, patient *domain.PatientContext) (*domain.RuleResult, error) {
			glucose, err := classifyLatest(classifier, patient, classify.TestFastingGlucose)
			if err != nil {
				return nil, err
			}
			triglycerides, err := classifyLatest(classifier, patient, classify.TestTriglycerides)
			if err != nil {
				return nil, err
			}

			result := &domain.RuleResult{RuleID: ruleID}

			dysglycemic := glucose.Category == domain.PREDIABETES || glucose.Category == domain.DIABETES
			elevatedTG := triglycerides.Category.IsActionable()
			if !dysglycemic || !elevatedTG {
				return result, nil
			}

			draft := synthesizer.Composite([]domain.Classification{glucose, triglycerides}, patient.Demographics)
			if draft == nil {
				return result, nil
			}

			result.Fired = true
			result.Plan = draft
			result.Alert = &domain.Alert{
				RuleID:   ruleID,
				Severity: domain.AlertWarning,
				Message: fmt.Sprintf("Combined metabolic risk: fasting glucose %g %s (%s) with triglycerides %g %s (%s)",
					glucose.Value, glucose.Unit, glucose.Category,
					triglycerides.Value, triglycerides.Unit, triglycerides.Category),
				RecommendedAction: firstRecommendation(draft),
			}
			return result, nil
		},
	}
}

// newScreeningOverdueRule fires when a patient carries a diabetes diagnosis
// but has no HbA1c observation on record.
func newScreeningOverdueRule() *Rule {
	const ruleID = "screening.hba1c-overdue"
	return &Rule{
		ID:   ruleID,
		Name: "HbA1c screening overdue",
		AppliesTo: func(patient *domain.PatientContext) bool {
			return patient.HasDiagnosisPrefix(diagnosisPrefixDiabetes)
		},
		Evaluate: func(ctx context.Context, patient *domain.PatientContext) (*domain.RuleResult, error) {
			result := &domain.RuleResult{RuleID: ruleID}
			if patient.HasObservation(classify.TestHbA1c) {
				return result, nil
			}
			result.Fired = true
			result.Alert = &domain.Alert{
				RuleID:            ruleID,
				TestCode:          classify.TestHbA1c,
				Severity:          domain.AlertInfo,
				Message:           "No HbA1c on record for a patient with a diabetes diagnosis",
				RecommendedAction: "Order HbA1c measurement",
			}
			return result, nil
		},
	}
}

// classifyLatest classifies the patient's latest observation of a test after
// a case-insensitive unit check. A mismatched unit is a rule error, not a
// silent skip: misfiled units usually mean an upstream data defect worth
// surfacing in the failure metrics.
func classifyLatest(classifier *classify.Classifier, patient *domain.PatientContext, testCode string) (domain.Classification, error) {
	obs := patient.LatestObservation(testCode)
	if obs == nil {
		return domain.Classification{}, fmt.Errorf("no observation of %s on record", testCode)
	}
	if canonical, ok := classifier.CanonicalUnit(testCode); ok && obs.Unit != "" && !strings.EqualFold(obs.Unit, canonical) {
		return domain.Classification{}, fmt.Errorf("unit mismatch for %s: observation in %q, thresholds expect %q",
			testCode, obs.Unit, canonical)
	}
	return classifier.Classify(testCode, obs.Value, patient.Demographics), nil
}

// alertSeverityFor maps a severity category to the alert level: the test's
// most severe tier is critical, other rank>=2 tiers warn, rank 1 informs.
func alertSeverityFor(category, mostSevere domain.SeverityCategory) domain.AlertSeverity {
	switch {
	case category == mostSevere:
		return domain.AlertCritical
	case category.Rank() >= 2:
		return domain.AlertWarning
	default:
		return domain.AlertInfo
	}
}

func firstRecommendation(draft *domain.PreventionPlanDraft) string {
	if draft == nil || len(draft.Recommendations) == 0 {
		return ""
	}
	return draft.Recommendations[0].Text
}
