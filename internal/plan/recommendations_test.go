package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdss-prevention-engine/internal/classify"
	"github.com/cdss-prevention-engine/internal/domain"
)

func TestNewLibraryValidates(t *testing.T) {
	lib, err := NewLibrary()
	require.NoError(t, err)
	require.NotNil(t, lib)

	for _, code := range []string{
		classify.TestHbA1c,
		classify.TestFastingGlucose,
		classify.TestPotassium,
		classify.TestLDLCholesterol,
		classify.TestTotalCholesterol,
		classify.TestTriglycerides,
		classify.TestTSH,
		classify.TestCreatinine,
		classify.TestEGFR,
	} {
		assert.True(t, lib.HasEntries(code), "expected library entries for %s", code)
	}
}

func TestRecommendationsForOrdering(t *testing.T) {
	lib, err := NewLibrary()
	require.NoError(t, err)

	for code, byCategory := range lib.entries {
		for category := range byCategory {
			recs := lib.RecommendationsFor(code, category)
			require.NotEmpty(t, recs, "%s/%s", code, category)
			for i := 1; i < len(recs); i++ {
				assert.LessOrEqual(t, recs[i-1].Priority.Rank(), recs[i].Priority.Rank(),
					"%s/%s: recommendation %d out of priority order", code, category, i)
			}
		}
	}
}

func TestRecommendationsForUnknownPair(t *testing.T) {
	lib, err := NewLibrary()
	require.NoError(t, err)

	assert.Nil(t, lib.RecommendationsFor("99999-9", domain.HIGH))
	assert.Nil(t, lib.RecommendationsFor(classify.TestHbA1c, domain.NORMAL))
	assert.False(t, lib.HasEntries("99999-9"))
}

func TestRecommendationsForReturnsCopy(t *testing.T) {
	lib, err := NewLibrary()
	require.NoError(t, err)

	first := lib.RecommendationsFor(classify.TestHbA1c, domain.PREDIABETES)
	require.NotEmpty(t, first)
	first[0].Text = "mutated"

	second := lib.RecommendationsFor(classify.TestHbA1c, domain.PREDIABETES)
	assert.NotEqual(t, "mutated", second[0].Text, "caller mutation leaked into library")
}

func TestPrediabetesLifestyleFirst(t *testing.T) {
	lib, err := NewLibrary()
	require.NoError(t, err)

	recs := lib.RecommendationsFor(classify.TestHbA1c, domain.PREDIABETES)
	require.NotEmpty(t, recs)
	assert.Equal(t, domain.RecLifestyle, recs[0].Category)
	assert.Equal(t, domain.GradeA, recs[0].Grade)
	assert.Equal(t, domain.PriorityHigh, recs[0].Priority)
	assert.Contains(t, recs[0].Text, "5-7%")
}

func TestCriticalPotassiumReferralFirst(t *testing.T) {
	lib, err := NewLibrary()
	require.NoError(t, err)

	recs := lib.RecommendationsFor(classify.TestPotassium, domain.CRITICAL)
	require.NotEmpty(t, recs)
	assert.Equal(t, domain.RecReferral, recs[0].Category)
	assert.Equal(t, domain.PriorityHigh, recs[0].Priority)
	assert.Contains(t, recs[0].Text, "ECG")
}

func TestMetabolicRiskRecommendations(t *testing.T) {
	recs := metabolicRiskRecommendations()
	require.NotEmpty(t, recs)
	assert.Equal(t, domain.RecLifestyle, recs[0].Category)
	assert.Equal(t, domain.PriorityHigh, recs[0].Priority)
	for _, r := range recs {
		assert.NoError(t, r.Validate())
	}
}
