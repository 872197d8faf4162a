package plan

import (
	"fmt"
	"strings"

	"github.com/cdss-prevention-engine/internal/classify"
	"github.com/cdss-prevention-engine/internal/domain"
)

// Synthesizer combines classifier output and the recommendation library into
// prevention-plan drafts. It is time-agnostic: goal targets are relative day
// offsets resolved to absolute dates by the persistence collaborator, so the
// synthesizer needs no clock and is trivially testable.
type Synthesizer struct {
	classifier *classify.Classifier
	library    *Library
}

// NewSynthesizer creates a synthesizer over the given classifier and library.
func NewSynthesizer(classifier *classify.Classifier, library *Library) *Synthesizer {
	return &Synthesizer{classifier: classifier, library: library}
}

// planTypeFor is the fixed mapping from monitored test to plan grouping.
func planTypeFor(testCode string) (domain.PlanType, bool) {
	switch testCode {
	case classify.TestHbA1c, classify.TestFastingGlucose:
		return domain.PlanDiabetes, true
	case classify.TestLDLCholesterol, classify.TestTotalCholesterol, classify.TestTriglycerides:
		return domain.PlanCardiovascular, true
	case classify.TestPotassium, classify.TestCreatinine, classify.TestEGFR:
		return domain.PlanRenal, true
	case classify.TestTSH:
		return domain.PlanEndocrine, true
	default:
		return "", false
	}
}

// Synthesize builds a prevention-plan draft for a classified lab result.
// Returns nil for NORMAL and UNKNOWN categories and for unmapped test codes.
//
// Urgency escalation: when the category is the most severe tier the
// threshold table defines for this test, the first goal is an urgent
// clinician review with the shortest offset and the first recommendation has
// priority high. Downstream consumers may truncate to the first N items, so
// this ordering is load-bearing.
func (s *Synthesizer) Synthesize(testCode string, category domain.SeverityCategory, demo domain.Demographics) *domain.PreventionPlanDraft {
	if !category.IsActionable() {
		return nil
	}
	planType, ok := planTypeFor(testCode)
	if !ok {
		return nil
	}

	escalate := category == s.classifier.MostSevere(testCode)
	goals := goalsFor(testCode, category, demo)
	recs := s.library.RecommendationsFor(testCode, category)

	if len(recs) == 0 {
		// The library has no entry for this pair; an actionable draft must
		// still carry at least one intervention.
		recs = []domain.Recommendation{fallbackRecommendation(s.testName(testCode), escalate)}
	}
	if escalate {
		goals = append([]domain.Goal{urgentReviewGoal()}, goals...)
		if recs[0].Priority != domain.PriorityHigh {
			recs = append([]domain.Recommendation{fallbackRecommendation(s.testName(testCode), true)}, recs...)
		}
	}

	return &domain.PreventionPlanDraft{
		PlanType:          planType,
		Name:              planName(planType, category),
		TriggeredBy:       testCode,
		Category:          category,
		Goals:             goals,
		Recommendations:   recs,
		ScreeningSchedule: scheduleFor(testCode, category),
	}
}

// Composite builds the comprehensive draft for the metabolic-risk composite
// rule from several classified findings. The draft's category is the most
// severe finding, which also drives deduplication against other plans.
func (s *Synthesizer) Composite(findings []domain.Classification, demo domain.Demographics) *domain.PreventionPlanDraft {
	var codes []string
	top := domain.NORMAL
	for _, f := range findings {
		if !f.Category.IsActionable() {
			continue
		}
		codes = append(codes, f.TestCode)
		if f.Category.Rank() > top.Rank() {
			top = f.Category
		}
	}
	if len(codes) < 2 {
		return nil
	}

	goals := []domain.Goal{
		{Description: "Comprehensive metabolic risk assessment with clinician", OffsetDays: 14, Status: domain.GoalPending},
		{Description: "Begin structured lifestyle program", OffsetDays: 30, Status: domain.GoalPending},
		{Description: "Repeat fasting glucose and lipid panel", OffsetDays: 90, Status: domain.GoalPending},
	}
	goals = appendPregnancyGoal(goals, demo)

	return &domain.PreventionPlanDraft{
		PlanType:        domain.PlanComprehensive,
		Name:            "Comprehensive Metabolic Prevention Plan",
		TriggeredBy:     strings.Join(codes, ","),
		Category:        top,
		Goals:           goals,
		Recommendations: metabolicRiskRecommendations(),
		ScreeningSchedule: map[string]int{
			classify.TestFastingGlucose: 90,
			classify.TestTriglycerides:  90,
		},
	}
}

func (s *Synthesizer) testName(testCode string) string {
	if name, ok := s.classifier.TestName(testCode); ok {
		return name
	}
	return testCode
}

// urgentReviewGoal is the escalation goal. Offset zero is strictly shorter
// than any goal the per-category tables produce.
func urgentReviewGoal() domain.Goal {
	return domain.Goal{Description: "Urgent clinician review", OffsetDays: 0, Status: domain.GoalPending}
}

func fallbackRecommendation(testName string, urgent bool) domain.Recommendation {
	if urgent {
		return domain.Recommendation{
			Category: domain.RecReferral,
			Text:     fmt.Sprintf("Immediate clinician review of critical %s result", testName),
			Grade:    domain.GradeC,
			Priority: domain.PriorityHigh,
		}
	}
	return domain.Recommendation{
		Category: domain.RecMonitoring,
		Text:     fmt.Sprintf("Clinician follow-up of abnormal %s result", testName),
		Grade:    domain.GradeC,
		Priority: domain.PriorityMedium,
	}
}

func goal(description string, offsetDays int) domain.Goal {
	return domain.Goal{Description: description, OffsetDays: offsetDays, Status: domain.GoalPending}
}

// goalsFor returns the non-escalation goals for a test and category. All
// offsets here are >= 1 day so the escalation goal is always strictly first.
func goalsFor(testCode string, category domain.SeverityCategory, demo domain.Demographics) []domain.Goal {
	var goals []domain.Goal

	switch testCode {
	case classify.TestHbA1c:
		switch category {
		case domain.PREDIABETES:
			goals = []domain.Goal{
				goal("Repeat HbA1c in 3 months", 90),
				goal("Achieve 5-7% weight reduction", 180),
				goal("Complete diabetes prevention education", 30),
			}
		case domain.DIABETES:
			goals = []domain.Goal{
				goal("Clinician visit to confirm diagnosis and initiate management", 14),
				goal("Complete diabetes self-management education", 30),
				goal("Repeat HbA1c in 3 months", 90),
			}
		default:
			goals = []domain.Goal{
				goal("Repeat HbA1c to confirm critical value", 1),
				goal("Glycemic management review with clinician", 7),
			}
		}
	case classify.TestFastingGlucose:
		switch category {
		case domain.PREDIABETES:
			goals = []domain.Goal{
				goal("Confirm with repeat fasting glucose or HbA1c in 3 months", 90),
				goal("Achieve 5-7% weight reduction", 180),
			}
		case domain.LOW:
			goals = []domain.Goal{
				goal("Medication review for hypoglycemia risk", 7),
				goal("Repeat fasting glucose", 7),
			}
		case domain.DIABETES:
			goals = []domain.Goal{
				goal("Confirmatory HbA1c", 14),
				goal("Clinician visit to initiate management", 14),
			}
		default:
			goals = []domain.Goal{
				goal("Point-of-care glucose recheck", 1),
				goal("Clinician review of glycemic status", 7),
			}
		}
	case classify.TestPotassium:
		switch category {
		case domain.LOW:
			goals = []domain.Goal{
				goal("Repeat potassium within 1 week", 7),
				goal("Medication review for potassium-wasting agents", 7),
			}
		case domain.HIGH:
			goals = []domain.Goal{
				goal("Repeat potassium within 3 days", 3),
				goal("Renal function assessment", 7),
			}
		default:
			goals = []domain.Goal{
				goal("Repeat potassium to confirm critical value", 1),
				goal("ECG and medication review", 1),
			}
		}
	case classify.TestLDLCholesterol, classify.TestTotalCholesterol:
		switch category {
		case domain.BORDERLINE:
			goals = []domain.Goal{
				goal("Adopt therapeutic lifestyle changes", 30),
				goal("Repeat lipid panel in 6 months", 180),
			}
		case domain.HIGH:
			goals = []domain.Goal{
				goal("Cardiovascular risk assessment with clinician", 30),
				goal("Repeat lipid panel in 3 months", 90),
			}
		default:
			goals = []domain.Goal{
				goal("Lipid specialist evaluation", 14),
				goal("Repeat lipid panel in 3 months", 90),
			}
		}
	case classify.TestTriglycerides:
		switch category {
		case domain.BORDERLINE:
			goals = []domain.Goal{
				goal("Dietary modification: reduce refined carbohydrates and alcohol", 30),
				goal("Repeat fasting triglycerides in 6 months", 180),
			}
		case domain.HIGH:
			goals = []domain.Goal{
				goal("Intensive dietary program enrollment", 14),
				goal("Repeat fasting triglycerides in 3 months", 90),
			}
		default:
			goals = []domain.Goal{
				goal("Begin pancreatitis-risk reduction regimen", 1),
				goal("Repeat fasting triglycerides within 2 weeks", 14),
			}
		}
	case classify.TestTSH:
		switch category {
		case domain.LOW, domain.HIGH:
			goals = []domain.Goal{
				goal("Free thyroid hormone measurement", 14),
				goal("Repeat TSH in 6-8 weeks", 42),
			}
		case domain.VERY_HIGH:
			goals = []domain.Goal{
				goal("Clinician visit to initiate thyroid replacement", 14),
				goal("Repeat TSH in 6-8 weeks", 42),
			}
		default:
			goals = []domain.Goal{
				goal("Immediate free T4 and T3 measurement", 1),
				goal("Endocrine review of thyroid status", 7),
			}
		}
	case classify.TestCreatinine, classify.TestEGFR:
		switch category {
		case domain.BORDERLINE:
			goals = []domain.Goal{
				goal("Repeat renal function panel in 3 months", 90),
				goal("Nephrotoxic medication review", 30),
			}
		case domain.HIGH:
			goals = []domain.Goal{
				goal("Repeat renal function panel in 1 month", 30),
				goal("Urine albumin-to-creatinine ratio", 30),
			}
		case domain.VERY_HIGH:
			goals = []domain.Goal{
				goal("Nephrology appointment", 30),
				goal("Repeat renal function panel", 30),
			}
		default:
			goals = []domain.Goal{
				goal("Repeat renal function panel to confirm critical value", 1),
				goal("Nephrology review", 3),
			}
		}
	default:
		goals = []domain.Goal{goal("Clinician follow-up of abnormal result", 14)}
	}

	return appendPregnancyGoal(goals, demo)
}

// appendPregnancyGoal adds obstetric coordination for pregnant patients:
// abnormal metabolic and endocrine findings in pregnancy need shared
// follow-up with obstetric care.
func appendPregnancyGoal(goals []domain.Goal, demo domain.Demographics) []domain.Goal {
	if !demo.Pregnant {
		return goals
	}
	return append(goals, goal("Coordinate follow-up with obstetric care", 7))
}

// scheduleFor returns the screening schedule (test code to next-due offset
// in days) attached to the draft. More severe categories recheck sooner.
func scheduleFor(testCode string, category domain.SeverityCategory) map[string]int {
	interval := 180
	switch category.Rank() {
	case 1:
		interval = 90
	case 2:
		interval = 30
	case 3:
		interval = 14
	case 4:
		interval = 1
	}

	schedule := map[string]int{testCode: interval}
	// Renal findings schedule the paired marker too: creatinine and eGFR
	// move together clinically.
	switch testCode {
	case classify.TestCreatinine:
		schedule[classify.TestEGFR] = interval
	case classify.TestEGFR:
		schedule[classify.TestCreatinine] = interval
	}
	return schedule
}

// planName labels the draft by plan grouping, qualified for the diabetes
// family where prevention and management plans differ.
func planName(planType domain.PlanType, category domain.SeverityCategory) string {
	switch planType {
	case domain.PlanDiabetes:
		switch category {
		case domain.PREDIABETES:
			return "Diabetes Prevention Plan"
		case domain.DIABETES:
			return "Diabetes Management Plan"
		default:
			return "Glycemic Stabilization Plan"
		}
	case domain.PlanCardiovascular:
		return "Cardiovascular Risk Reduction Plan"
	case domain.PlanRenal:
		return "Renal Protection Plan"
	case domain.PlanEndocrine:
		return "Thyroid Management Plan"
	default:
		return "Comprehensive Metabolic Prevention Plan"
	}
}
