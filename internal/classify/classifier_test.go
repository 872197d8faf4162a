package classify

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdss-prevention-engine/internal/domain"
)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := NewClassifier()
	require.NoError(t, err)
	return c
}

func adult() domain.Demographics {
	return domain.Demographics{Age: 45, Sex: domain.SexFemale}
}

func TestClassifyHbA1cPrediabetes(t *testing.T) {
	c := newTestClassifier(t)

	result := c.Classify(TestHbA1c, 5.9, adult())

	assert.Equal(t, domain.PREDIABETES, result.Category)
	assert.Equal(t, TestHbA1c, result.TestCode)
	assert.Equal(t, "%", result.Unit)
	assert.Contains(t, result.Reason, "PREDIABETES")
}

func TestClassifyBandBoundaries(t *testing.T) {
	c := newTestClassifier(t)

	// Lower bound inclusive, upper bound exclusive.
	assert.Equal(t, domain.NORMAL, c.Classify(TestHbA1c, 5.69, adult()).Category)
	assert.Equal(t, domain.PREDIABETES, c.Classify(TestHbA1c, 5.7, adult()).Category)
	assert.Equal(t, domain.PREDIABETES, c.Classify(TestHbA1c, 6.49, adult()).Category)
	assert.Equal(t, domain.DIABETES, c.Classify(TestHbA1c, 6.5, adult()).Category)

	// ADA fasting-glucose prediabetes lower bound is 100, not 99.
	assert.Equal(t, domain.NORMAL, c.Classify(TestFastingGlucose, 99.0, adult()).Category)
	assert.Equal(t, domain.PREDIABETES, c.Classify(TestFastingGlucose, 100.0, adult()).Category)
	assert.Equal(t, domain.DIABETES, c.Classify(TestFastingGlucose, 126.0, adult()).Category)
}

func TestClassifyCriticalPotassium(t *testing.T) {
	c := newTestClassifier(t)

	result := c.Classify(TestPotassium, 6.8, adult())

	assert.Equal(t, domain.CRITICAL, result.Category)
	assert.Contains(t, result.Reason, "potassium")
}

func TestClassifyUnregisteredCode(t *testing.T) {
	c := newTestClassifier(t)

	result := c.Classify("XYZ-999", 5.0, adult())

	assert.Equal(t, domain.UNKNOWN, result.Category)
	assert.Contains(t, result.Reason, "unrecognized test code")
}

func TestClassifyMalformedValues(t *testing.T) {
	c := newTestClassifier(t)

	nan := c.Classify(TestHbA1c, math.NaN(), adult())
	assert.Equal(t, domain.UNKNOWN, nan.Category)
	assert.Contains(t, nan.Reason, "not a finite number")

	inf := c.Classify(TestHbA1c, math.Inf(1), adult())
	assert.Equal(t, domain.UNKNOWN, inf.Category)

	neg := c.Classify(TestPotassium, -1.0, adult())
	assert.Equal(t, domain.UNKNOWN, neg.Category)
	assert.Contains(t, neg.Reason, "not physiologic")
}

func TestClassifyOutOfMeasurableRange(t *testing.T) {
	c := newTestClassifier(t)

	high := c.Classify(TestHbA1c, 25.0, adult())
	assert.Equal(t, domain.UNKNOWN, high.Category)
	assert.Contains(t, high.Reason, "outside the measurable range")

	low := c.Classify(TestHbA1c, 1.0, adult())
	assert.Equal(t, domain.UNKNOWN, low.Category)
}

func TestClassifyPregnancyOverlayTSH(t *testing.T) {
	c := newTestClassifier(t)

	pregnant := domain.Demographics{Age: 31, Sex: domain.SexFemale, Pregnant: true}
	notPregnant := domain.Demographics{Age: 31, Sex: domain.SexFemale}

	assert.Equal(t, domain.CRITICAL, c.Classify(TestTSH, 10.5, pregnant).Category)
	assert.Equal(t, domain.VERY_HIGH, c.Classify(TestTSH, 10.5, notPregnant).Category)

	// The overlay only reclassifies its own range.
	assert.Equal(t, domain.NORMAL, c.Classify(TestTSH, 2.0, pregnant).Category)
}

func TestClassifySexSpecificCreatinine(t *testing.T) {
	c := newTestClassifier(t)

	male := domain.Demographics{Age: 50, Sex: domain.SexMale}
	female := domain.Demographics{Age: 50, Sex: domain.SexFemale}

	assert.Equal(t, domain.NORMAL, c.Classify(TestCreatinine, 1.2, male).Category)
	assert.Equal(t, domain.BORDERLINE, c.Classify(TestCreatinine, 1.2, female).Category)

	// Unknown sex cannot resolve sex-specific reference ranges.
	unknown := c.Classify(TestCreatinine, 1.2, domain.Demographics{Age: 50})
	assert.Equal(t, domain.UNKNOWN, unknown.Category)
	assert.Contains(t, unknown.Reason, "no classification band")
}

func TestClassifierTotality(t *testing.T) {
	c := newTestClassifier(t)

	demos := []domain.Demographics{
		{Age: 30, Sex: domain.SexMale},
		{Age: 30, Sex: domain.SexFemale},
		{Age: 30, Sex: domain.SexFemale, Pregnant: true},
		{Age: 30},
		{Age: 0},
		{Age: 95, Sex: domain.SexMale},
	}
	values := []float64{math.NaN(), math.Inf(1), math.Inf(-1), -5, 0}
	for v := 0.01; v < 3500; v *= 1.7 {
		values = append(values, v)
	}

	for _, code := range c.RegisteredCodes() {
		for _, demo := range demos {
			for _, v := range values {
				result := c.Classify(code, v, demo)
				require.True(t, result.Category.IsValid(),
					"code=%s value=%v demo=%+v produced invalid category %q", code, v, demo, result.Category)
				if result.Category == domain.UNKNOWN {
					require.NotEmpty(t, result.Reason, "UNKNOWN must carry a diagnostic reason")
				}
			}
		}
	}
}

func TestMostSeverePerTest(t *testing.T) {
	c := newTestClassifier(t)

	assert.Equal(t, domain.CRITICAL, c.MostSevere(TestPotassium))
	assert.Equal(t, domain.CRITICAL, c.MostSevere(TestHbA1c))
	assert.Equal(t, domain.CRITICAL, c.MostSevere(TestTSH))
	assert.Equal(t, domain.VERY_HIGH, c.MostSevere(TestTriglycerides))
	assert.Equal(t, domain.VERY_HIGH, c.MostSevere(TestLDLCholesterol))
	assert.Equal(t, domain.UNKNOWN, c.MostSevere("XYZ-999"))
}

func TestRegisteredCodes(t *testing.T) {
	c := newTestClassifier(t)

	codes := c.RegisteredCodes()
	assert.Len(t, codes, 9)
	assert.True(t, sortedStrings(codes))
	assert.True(t, c.IsRegistered(TestHbA1c))
	assert.False(t, c.IsRegistered("XYZ-999"))

	unit, ok := c.CanonicalUnit(TestPotassium)
	require.True(t, ok)
	assert.Equal(t, "mEq/L", unit)

	name, ok := c.TestName(TestEGFR)
	require.True(t, ok)
	assert.Equal(t, "estimated GFR", name)
}

func TestClassifyConcurrentDeterminism(t *testing.T) {
	c := newTestClassifier(t)

	var wg sync.WaitGroup
	results := make([]domain.Classification, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n] = c.Classify(TestHbA1c, 5.9, adult())
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
}

func sortedStrings(s []string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] < s[i-1] {
			return false
		}
	}
	return true
}
