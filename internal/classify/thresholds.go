package classify

import (
	"github.com/cdss-prevention-engine/internal/domain"
)

// LOINC codes for the monitored laboratory tests.
const (
	TestHbA1c            = "4548-4"  // Hemoglobin A1c [%]
	TestFastingGlucose   = "1558-6"  // Fasting glucose [mg/dL]
	TestPotassium        = "2823-3"  // Potassium [mEq/L]
	TestLDLCholesterol   = "13457-7" // LDL cholesterol, calculated [mg/dL]
	TestTotalCholesterol = "2093-3"  // Total cholesterol [mg/dL]
	TestTriglycerides    = "2571-8"  // Triglycerides [mg/dL]
	TestTSH              = "3016-3"  // Thyrotropin [mIU/L]
	TestCreatinine       = "2160-0"  // Creatinine [mg/dL]
	TestEGFR             = "33914-3" // eGFR [mL/min/1.73m2]
)

func isPregnant(d domain.Demographics) bool { return d.Pregnant }
func isMale(d domain.Demographics) bool     { return d.Sex == domain.SexMale }
func isFemale(d domain.Demographics) bool   { return d.Sex == domain.SexFemale }

// thresholdTable is the single authoritative source of classification bands.
// Glycemic cutoffs follow the ADA Standards of Care (fasting-glucose
// prediabetes starts at 100 mg/dL, HbA1c prediabetes at 5.7%), lipid bands
// follow NCEP ATP III, eGFR staging follows KDIGO, potassium and TSH follow
// common reference-laboratory ranges.
//
// Within each entry, demographic-specific bands come first, then generic
// bands in ascending severity; the first matching band wins. Bounds are
// inclusive below and exclusive above. Values outside [floor, ceiling)
// classify UNKNOWN.
func thresholdTable() []testDefinition {
	return []testDefinition{
		{
			code: TestHbA1c, name: "hemoglobin A1c", unit: "%",
			floor: 3.0, ceiling: 20.0,
			bands: []band{
				{lower: 3.0, upper: 5.7, category: domain.NORMAL},
				{lower: 5.7, upper: 6.5, category: domain.PREDIABETES},
				{lower: 6.5, upper: 12.0, category: domain.DIABETES},
				{lower: 12.0, upper: 20.0, category: domain.CRITICAL},
			},
		},
		{
			code: TestFastingGlucose, name: "fasting glucose", unit: "mg/dL",
			floor: 20.0, ceiling: 700.0,
			bands: []band{
				{lower: 70.0, upper: 100.0, category: domain.NORMAL},
				{lower: 100.0, upper: 126.0, category: domain.PREDIABETES},
				{lower: 54.0, upper: 70.0, category: domain.LOW},
				{lower: 126.0, upper: 400.0, category: domain.DIABETES},
				{lower: 20.0, upper: 54.0, category: domain.CRITICAL},
				{lower: 400.0, upper: 700.0, category: domain.CRITICAL},
			},
		},
		{
			code: TestPotassium, name: "potassium", unit: "mEq/L",
			floor: 1.5, ceiling: 10.0,
			bands: []band{
				{lower: 3.5, upper: 5.1, category: domain.NORMAL},
				{lower: 3.0, upper: 3.5, category: domain.LOW},
				{lower: 5.1, upper: 6.0, category: domain.HIGH},
				{lower: 1.5, upper: 3.0, category: domain.CRITICAL},
				{lower: 6.0, upper: 10.0, category: domain.CRITICAL},
			},
		},
		{
			code: TestLDLCholesterol, name: "LDL cholesterol", unit: "mg/dL",
			floor: 10.0, ceiling: 500.0,
			bands: []band{
				{lower: 10.0, upper: 100.0, category: domain.NORMAL},
				{lower: 100.0, upper: 130.0, category: domain.BORDERLINE},
				{lower: 130.0, upper: 190.0, category: domain.HIGH},
				{lower: 190.0, upper: 500.0, category: domain.VERY_HIGH},
			},
		},
		{
			code: TestTotalCholesterol, name: "total cholesterol", unit: "mg/dL",
			floor: 50.0, ceiling: 600.0,
			bands: []band{
				{lower: 50.0, upper: 200.0, category: domain.NORMAL},
				{lower: 200.0, upper: 240.0, category: domain.BORDERLINE},
				{lower: 240.0, upper: 310.0, category: domain.HIGH},
				{lower: 310.0, upper: 600.0, category: domain.VERY_HIGH},
			},
		},
		{
			code: TestTriglycerides, name: "triglycerides", unit: "mg/dL",
			floor: 10.0, ceiling: 3000.0,
			bands: []band{
				{lower: 10.0, upper: 150.0, category: domain.NORMAL},
				{lower: 150.0, upper: 200.0, category: domain.BORDERLINE},
				{lower: 200.0, upper: 500.0, category: domain.HIGH},
				// >= 500 mg/dL carries pancreatitis risk: the most severe
				// tier for this test, so synthesis escalates urgency.
				{lower: 500.0, upper: 3000.0, category: domain.VERY_HIGH},
			},
		},
		{
			code: TestTSH, name: "thyrotropin", unit: "mIU/L",
			floor: 0.01, ceiling: 100.0,
			bands: []band{
				// Overt hypothyroidism in pregnancy threatens the fetus;
				// the pregnancy overlay outranks the generic VERY_HIGH band.
				{lower: 10.0, upper: 100.0, category: domain.CRITICAL, appliesTo: isPregnant},
				{lower: 0.4, upper: 4.5, category: domain.NORMAL},
				{lower: 0.1, upper: 0.4, category: domain.LOW},
				{lower: 4.5, upper: 10.0, category: domain.HIGH},
				{lower: 10.0, upper: 100.0, category: domain.VERY_HIGH},
				{lower: 0.01, upper: 0.1, category: domain.CRITICAL},
			},
		},
		{
			code: TestCreatinine, name: "creatinine", unit: "mg/dL",
			floor: 0.2, ceiling: 15.0,
			bands: []band{
				{lower: 0.2, upper: 1.35, category: domain.NORMAL, appliesTo: isMale},
				{lower: 1.35, upper: 1.8, category: domain.BORDERLINE, appliesTo: isMale},
				{lower: 1.8, upper: 4.0, category: domain.HIGH, appliesTo: isMale},
				{lower: 4.0, upper: 15.0, category: domain.CRITICAL, appliesTo: isMale},
				{lower: 0.2, upper: 1.04, category: domain.NORMAL, appliesTo: isFemale},
				{lower: 1.04, upper: 1.5, category: domain.BORDERLINE, appliesTo: isFemale},
				{lower: 1.5, upper: 4.0, category: domain.HIGH, appliesTo: isFemale},
				{lower: 4.0, upper: 15.0, category: domain.CRITICAL, appliesTo: isFemale},
			},
		},
		{
			code: TestEGFR, name: "estimated GFR", unit: "mL/min/1.73m2",
			floor: 0.0, ceiling: 200.0,
			bands: []band{
				{lower: 90.0, upper: 200.0, category: domain.NORMAL},
				{lower: 60.0, upper: 90.0, category: domain.BORDERLINE},
				{lower: 30.0, upper: 60.0, category: domain.HIGH},
				{lower: 15.0, upper: 30.0, category: domain.VERY_HIGH},
				{lower: 0.0, upper: 15.0, category: domain.CRITICAL},
			},
		},
	}
}
