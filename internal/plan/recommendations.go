// Package plan holds the static recommendation library and the prevention
// plan synthesizer. Both are pure lookups over immutable tables: the library
// answers (test code, severity category) with evidence-graded interventions,
// the synthesizer combines classifier output and library entries into
// structured prevention-plan drafts.
package plan

import (
	"sort"

	"github.com/cdss-prevention-engine/internal/classify"
	"github.com/cdss-prevention-engine/internal/domain"
)

// Library is the static table of evidence-graded interventions keyed by
// (test code, severity category). Loaded once at process start, immutable
// thereafter; safe for unsynchronized concurrent reads.
type Library struct {
	entries map[string]map[domain.SeverityCategory][]domain.Recommendation
}

// NewLibrary builds and validates the static table. A malformed entry is a
// programming error and fails fast at startup.
func NewLibrary() (*Library, error) {
	entries := libraryTable()
	for code, byCategory := range entries {
		for category, recs := range byCategory {
			if !category.IsActionable() {
				return nil, domain.NewConfigurationError(
					"recommendation library entry (%s, %s): only actionable categories carry recommendations", code, category)
			}
			if len(recs) == 0 {
				return nil, domain.NewConfigurationError(
					"recommendation library entry (%s, %s) is empty", code, category)
			}
			for i, rec := range recs {
				if err := rec.Validate(); err != nil {
					return nil, domain.NewConfigurationError(
						"recommendation library entry (%s, %s)[%d]: %v", code, category, i, err)
				}
			}
		}
	}
	return &Library{entries: entries}, nil
}

// RecommendationsFor returns the interventions for a test code and category,
// ordered high before medium before low. Order within the same priority is
// the table's insertion order, so repeated calls are deterministic. Unknown
// pairs and non-actionable categories return an empty list, not an error.
func (l *Library) RecommendationsFor(testCode string, category domain.SeverityCategory) []domain.Recommendation {
	byCategory, ok := l.entries[testCode]
	if !ok {
		return nil
	}
	recs, ok := byCategory[category]
	if !ok {
		return nil
	}

	out := make([]domain.Recommendation, len(recs))
	copy(out, recs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority.Rank() < out[j].Priority.Rank()
	})
	return out
}

// HasEntries reports whether the library carries any interventions for the
// test code at all.
func (l *Library) HasEntries(testCode string) bool {
	return len(l.entries[testCode]) > 0
}

func rec(category domain.RecommendationCategory, text string, grade domain.EvidenceGrade, priority domain.Priority) domain.Recommendation {
	return domain.Recommendation{Category: category, Text: text, Grade: grade, Priority: priority}
}

// libraryTable is the full static intervention table. Evidence grades track
// the guideline strength behind each intervention: A for randomized-trial
// evidence (e.g. DPP lifestyle intervention), B for observational support,
// C for expert consensus such as urgent-review practice.
func libraryTable() map[string]map[domain.SeverityCategory][]domain.Recommendation {
	return map[string]map[domain.SeverityCategory][]domain.Recommendation{
		classify.TestHbA1c: {
			domain.PREDIABETES: {
				rec(domain.RecLifestyle, "Weight loss of 5-7% of body weight through caloric restriction and increased physical activity", domain.GradeA, domain.PriorityHigh),
				rec(domain.RecLifestyle, "At least 150 minutes of moderate-intensity aerobic activity per week", domain.GradeA, domain.PriorityMedium),
				rec(domain.RecMedication, "Consider metformin for diabetes prevention in patients with BMI >= 35, age < 60, or prior gestational diabetes", domain.GradeA, domain.PriorityLow),
				rec(domain.RecScreening, "Annual screening for type 2 diabetes", domain.GradeB, domain.PriorityMedium),
			},
			domain.DIABETES: {
				rec(domain.RecMedication, "Initiate metformin therapy unless contraindicated", domain.GradeA, domain.PriorityHigh),
				rec(domain.RecReferral, "Refer for diabetes self-management education and support", domain.GradeA, domain.PriorityMedium),
				rec(domain.RecScreening, "Baseline lipid panel, serum creatinine, and urine albumin-to-creatinine ratio", domain.GradeB, domain.PriorityMedium),
				rec(domain.RecMonitoring, "HbA1c every 3 months until glycemic target is met", domain.GradeB, domain.PriorityMedium),
			},
			domain.CRITICAL: {
				rec(domain.RecReferral, "Immediate clinician review for severe hyperglycemia; assess for hyperosmolar state and ketosis", domain.GradeC, domain.PriorityHigh),
				rec(domain.RecMonitoring, "Point-of-care glucose and ketone monitoring until stabilized", domain.GradeC, domain.PriorityHigh),
				rec(domain.RecMedication, "Review and intensify glucose-lowering regimen under clinician supervision", domain.GradeB, domain.PriorityMedium),
			},
		},
		classify.TestFastingGlucose: {
			domain.PREDIABETES: {
				rec(domain.RecLifestyle, "Weight loss of 5-7% of body weight through caloric restriction and increased physical activity", domain.GradeA, domain.PriorityHigh),
				rec(domain.RecScreening, "Confirm with repeat fasting glucose or HbA1c", domain.GradeB, domain.PriorityMedium),
				rec(domain.RecLifestyle, "At least 150 minutes of moderate-intensity aerobic activity per week", domain.GradeA, domain.PriorityMedium),
			},
			domain.LOW: {
				rec(domain.RecMedication, "Review glucose-lowering medications for hypoglycemia risk", domain.GradeB, domain.PriorityHigh),
				rec(domain.RecMonitoring, "Repeat fasting glucose within 1 week", domain.GradeC, domain.PriorityMedium),
			},
			domain.DIABETES: {
				rec(domain.RecScreening, "Confirmatory HbA1c to establish the diagnosis", domain.GradeA, domain.PriorityHigh),
				rec(domain.RecMedication, "Initiate metformin therapy unless contraindicated", domain.GradeA, domain.PriorityHigh),
				rec(domain.RecReferral, "Refer for diabetes self-management education and support", domain.GradeA, domain.PriorityMedium),
			},
			domain.CRITICAL: {
				rec(domain.RecReferral, "Immediate clinician assessment of critical glucose value", domain.GradeC, domain.PriorityHigh),
				rec(domain.RecMonitoring, "Point-of-care glucose recheck to confirm the laboratory value", domain.GradeC, domain.PriorityHigh),
			},
		},
		classify.TestPotassium: {
			domain.LOW: {
				rec(domain.RecMedication, "Review diuretic therapy and consider potassium repletion", domain.GradeB, domain.PriorityHigh),
				rec(domain.RecMonitoring, "Repeat potassium within 1 week", domain.GradeC, domain.PriorityMedium),
			},
			domain.HIGH: {
				rec(domain.RecMedication, "Review ACE inhibitor, ARB, and potassium-sparing diuretic use", domain.GradeB, domain.PriorityHigh),
				rec(domain.RecScreening, "Assess renal function with creatinine and eGFR", domain.GradeB, domain.PriorityMedium),
				rec(domain.RecMonitoring, "Repeat potassium within 3 days", domain.GradeC, domain.PriorityMedium),
			},
			domain.CRITICAL: {
				rec(domain.RecReferral, "Urgent clinician review for critical potassium; obtain ECG", domain.GradeC, domain.PriorityHigh),
				rec(domain.RecMedication, "Hold potassium supplements and potassium-sparing agents", domain.GradeC, domain.PriorityHigh),
				rec(domain.RecMonitoring, "Continuous cardiac monitoring until potassium normalizes", domain.GradeC, domain.PriorityMedium),
			},
		},
		classify.TestLDLCholesterol: {
			domain.BORDERLINE: {
				rec(domain.RecLifestyle, "Therapeutic lifestyle changes: saturated fat below 7% of calories, increased soluble fiber", domain.GradeA, domain.PriorityMedium),
				rec(domain.RecMonitoring, "Repeat lipid panel in 6 months", domain.GradeB, domain.PriorityLow),
			},
			domain.HIGH: {
				rec(domain.RecMedication, "Initiate moderate-intensity statin therapy according to cardiovascular risk assessment", domain.GradeA, domain.PriorityHigh),
				rec(domain.RecLifestyle, "Therapeutic lifestyle changes alongside pharmacotherapy", domain.GradeA, domain.PriorityMedium),
				rec(domain.RecMonitoring, "Repeat lipid panel in 3 months to assess response", domain.GradeB, domain.PriorityMedium),
			},
			domain.VERY_HIGH: {
				rec(domain.RecMedication, "High-intensity statin therapy", domain.GradeA, domain.PriorityHigh),
				rec(domain.RecReferral, "Evaluate for familial hypercholesterolemia; consider lipid specialist referral", domain.GradeB, domain.PriorityHigh),
				rec(domain.RecScreening, "Screen first-degree relatives if familial hypercholesterolemia is confirmed", domain.GradeB, domain.PriorityMedium),
			},
		},
		classify.TestTotalCholesterol: {
			domain.BORDERLINE: {
				rec(domain.RecLifestyle, "Therapeutic lifestyle changes: saturated fat below 7% of calories, increased soluble fiber", domain.GradeA, domain.PriorityMedium),
				rec(domain.RecScreening, "Full fasting lipid panel to characterize the elevation", domain.GradeB, domain.PriorityMedium),
			},
			domain.HIGH: {
				rec(domain.RecScreening, "Full fasting lipid panel and cardiovascular risk assessment", domain.GradeA, domain.PriorityHigh),
				rec(domain.RecLifestyle, "Therapeutic lifestyle changes alongside risk assessment", domain.GradeA, domain.PriorityMedium),
			},
			domain.VERY_HIGH: {
				rec(domain.RecReferral, "Evaluate for familial hypercholesterolemia; consider lipid specialist referral", domain.GradeB, domain.PriorityHigh),
				rec(domain.RecMedication, "Initiate statin therapy", domain.GradeA, domain.PriorityHigh),
			},
		},
		classify.TestTriglycerides: {
			domain.BORDERLINE: {
				rec(domain.RecLifestyle, "Reduce refined carbohydrates and alcohol; increase omega-3 intake", domain.GradeA, domain.PriorityMedium),
				rec(domain.RecMonitoring, "Repeat fasting triglycerides in 6 months", domain.GradeB, domain.PriorityLow),
			},
			domain.HIGH: {
				rec(domain.RecLifestyle, "Intensive dietary modification and weight reduction", domain.GradeA, domain.PriorityHigh),
				rec(domain.RecMedication, "Address secondary causes; optimize glycemic control and review offending medications", domain.GradeB, domain.PriorityMedium),
				rec(domain.RecMonitoring, "Repeat fasting triglycerides in 3 months", domain.GradeB, domain.PriorityMedium),
			},
			domain.VERY_HIGH: {
				rec(domain.RecMedication, "Initiate fibrate therapy to reduce pancreatitis risk", domain.GradeB, domain.PriorityHigh),
				rec(domain.RecLifestyle, "Very low fat diet (below 15% of calories) until triglycerides fall below 500 mg/dL", domain.GradeC, domain.PriorityHigh),
				rec(domain.RecMonitoring, "Repeat fasting triglycerides within 2 weeks", domain.GradeC, domain.PriorityMedium),
			},
		},
		classify.TestTSH: {
			domain.LOW: {
				rec(domain.RecScreening, "Free T4 and T3 to evaluate for hyperthyroidism", domain.GradeB, domain.PriorityHigh),
				rec(domain.RecMonitoring, "Repeat TSH in 6-8 weeks if free hormones are normal", domain.GradeB, domain.PriorityMedium),
			},
			domain.HIGH: {
				rec(domain.RecScreening, "Free T4 to distinguish subclinical from overt hypothyroidism", domain.GradeB, domain.PriorityHigh),
				rec(domain.RecMonitoring, "Repeat TSH in 6-8 weeks", domain.GradeB, domain.PriorityMedium),
			},
			domain.VERY_HIGH: {
				rec(domain.RecMedication, "Initiate levothyroxine replacement therapy", domain.GradeA, domain.PriorityHigh),
				rec(domain.RecReferral, "Endocrinology referral for persistent marked TSH elevation", domain.GradeB, domain.PriorityMedium),
			},
			domain.CRITICAL: {
				rec(domain.RecReferral, "Urgent clinician review of markedly abnormal thyroid function", domain.GradeC, domain.PriorityHigh),
				rec(domain.RecScreening, "Immediate free T4 and T3 measurement", domain.GradeB, domain.PriorityHigh),
			},
		},
		classify.TestCreatinine: {
			domain.BORDERLINE: {
				rec(domain.RecMonitoring, "Repeat creatinine in 3 months", domain.GradeB, domain.PriorityMedium),
				rec(domain.RecMedication, "Review nephrotoxic medications including NSAIDs", domain.GradeB, domain.PriorityMedium),
			},
			domain.HIGH: {
				rec(domain.RecMedication, "Review and dose-adjust renally cleared medications", domain.GradeB, domain.PriorityHigh),
				rec(domain.RecScreening, "Urine albumin-to-creatinine ratio and renal ultrasound if persistent", domain.GradeB, domain.PriorityMedium),
				rec(domain.RecReferral, "Nephrology referral for sustained elevation", domain.GradeB, domain.PriorityMedium),
			},
			domain.CRITICAL: {
				rec(domain.RecReferral, "Urgent nephrology review for possible acute kidney injury", domain.GradeC, domain.PriorityHigh),
				rec(domain.RecMedication, "Hold nephrotoxic agents including NSAIDs and iodinated contrast", domain.GradeB, domain.PriorityHigh),
			},
		},
		classify.TestEGFR: {
			domain.BORDERLINE: {
				rec(domain.RecMonitoring, "Annual eGFR and urine albumin monitoring", domain.GradeB, domain.PriorityMedium),
				rec(domain.RecLifestyle, "Blood pressure control and avoidance of chronic NSAID use", domain.GradeB, domain.PriorityMedium),
			},
			domain.HIGH: {
				rec(domain.RecMedication, "Review medication dosing for reduced renal clearance", domain.GradeB, domain.PriorityHigh),
				rec(domain.RecScreening, "Urine albumin-to-creatinine ratio to stage chronic kidney disease", domain.GradeA, domain.PriorityMedium),
				rec(domain.RecMonitoring, "eGFR every 6 months", domain.GradeB, domain.PriorityMedium),
			},
			domain.VERY_HIGH: {
				rec(domain.RecReferral, "Nephrology referral for chronic kidney disease stage 4", domain.GradeA, domain.PriorityHigh),
				rec(domain.RecMonitoring, "eGFR and electrolytes every 3 months", domain.GradeB, domain.PriorityMedium),
			},
			domain.CRITICAL: {
				rec(domain.RecReferral, "Urgent nephrology review; evaluate for renal replacement therapy", domain.GradeB, domain.PriorityHigh),
				rec(domain.RecMedication, "Hold nephrotoxic agents and dose-adjust all renally cleared medications", domain.GradeB, domain.PriorityHigh),
			},
		},
	}
}

// metabolicRiskRecommendations backs the comprehensive plan produced by the
// composite metabolic-risk rule; it is not keyed by a single test code.
func metabolicRiskRecommendations() []domain.Recommendation {
	return []domain.Recommendation{
		rec(domain.RecLifestyle, "Structured lifestyle program targeting 7% weight loss and 150 minutes of weekly activity", domain.GradeA, domain.PriorityHigh),
		rec(domain.RecScreening, "Blood pressure measurement and waist circumference to complete metabolic syndrome assessment", domain.GradeB, domain.PriorityMedium),
		rec(domain.RecMonitoring, "Repeat fasting glucose and lipid panel in 3 months", domain.GradeB, domain.PriorityMedium),
	}
}
