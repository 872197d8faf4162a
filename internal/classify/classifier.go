// Package classify maps coded laboratory values to severity categories using
// a single authoritative threshold table. Classification is a pure function
// of (test code, value, demographics): no I/O, no hidden state, safe for
// unsynchronized concurrent use from many rule evaluations.
package classify

import (
	"fmt"
	"sort"

	"github.com/cdss-prevention-engine/internal/domain"
)

// band is one classification range: inclusive lower bound, exclusive upper
// bound. A nil appliesTo means the band applies to all patients;
// demographic-specific bands are listed before generic ones so they win.
type band struct {
	lower     float64
	upper     float64
	category  domain.SeverityCategory
	appliesTo func(domain.Demographics) bool
}

// testDefinition is the full classification entry for one lab test: its
// canonical unit, the physiologically measurable domain [floor, ceiling),
// and the ordered band list.
type testDefinition struct {
	code    string
	name    string
	unit    string
	floor   float64
	ceiling float64
	bands   []band
}

// Classifier resolves lab values against the threshold table. Construct it
// once at startup; it is immutable afterwards.
type Classifier struct {
	tests map[string]*testDefinition
}

// NewClassifier builds the classifier and validates the static table.
// A malformed table is a programming error and fails fast rather than
// risking a silent misclassification at evaluation time.
func NewClassifier() (*Classifier, error) {
	defs := thresholdTable()

	tests := make(map[string]*testDefinition, len(defs))
	for i := range defs {
		def := &defs[i]
		if err := validateDefinition(def); err != nil {
			return nil, domain.NewConfigurationError("threshold table entry %s: %v", def.code, err)
		}
		if _, dup := tests[def.code]; dup {
			return nil, domain.NewConfigurationError("duplicate threshold table entry for %s", def.code)
		}
		tests[def.code] = def
	}

	return &Classifier{tests: tests}, nil
}

// Classify returns the severity category for a lab value. Out-of-domain,
// malformed, or unregistered inputs return UNKNOWN with a diagnostic reason;
// defaulting to NORMAL would silently hide a missing or invalid value.
func (c *Classifier) Classify(testCode string, value float64, demo domain.Demographics) domain.Classification {
	result := domain.Classification{TestCode: testCode, Value: value}

	def, ok := c.tests[testCode]
	if !ok {
		result.Category = domain.UNKNOWN
		result.Reason = fmt.Sprintf("unrecognized test code %q", testCode)
		return result
	}
	result.Unit = def.unit

	if !domain.IsFinite(value) {
		result.Category = domain.UNKNOWN
		result.Reason = "value is not a finite number"
		return result
	}
	if value < 0 {
		result.Category = domain.UNKNOWN
		result.Reason = fmt.Sprintf("negative value %g is not physiologic for %s", value, def.name)
		return result
	}
	if value < def.floor || value >= def.ceiling {
		result.Category = domain.UNKNOWN
		result.Reason = fmt.Sprintf("value %g %s is outside the measurable range [%g, %g)", value, def.unit, def.floor, def.ceiling)
		return result
	}

	for _, b := range def.bands {
		if b.appliesTo != nil && !b.appliesTo(demo) {
			continue
		}
		if value >= b.lower && value < b.upper {
			result.Category = b.category
			result.Reason = fmt.Sprintf("%s %g %s falls in the %s band [%g, %g)", def.name, value, def.unit, b.category, b.lower, b.upper)
			return result
		}
	}

	// No band covers the value for these demographics: e.g. a sex-specific
	// test with unknown biological sex. UNKNOWN, never a guess.
	result.Category = domain.UNKNOWN
	result.Reason = fmt.Sprintf("no classification band for %s covers value %g %s with the given demographics", def.name, value, def.unit)
	return result
}

// MostSevere returns the highest-ranked category any band of the test can
// produce, or UNKNOWN for unregistered codes. The plan synthesizer uses this
// to decide urgency escalation per test rather than hard-coding CRITICAL.
func (c *Classifier) MostSevere(testCode string) domain.SeverityCategory {
	def, ok := c.tests[testCode]
	if !ok {
		return domain.UNKNOWN
	}
	top := domain.NORMAL
	for _, b := range def.bands {
		if b.category.Rank() > top.Rank() {
			top = b.category
		}
	}
	return top
}

// CanonicalUnit returns the unit the threshold table is expressed in.
func (c *Classifier) CanonicalUnit(testCode string) (string, bool) {
	def, ok := c.tests[testCode]
	if !ok {
		return "", false
	}
	return def.unit, true
}

// TestName returns the human-readable name of a registered test.
func (c *Classifier) TestName(testCode string) (string, bool) {
	def, ok := c.tests[testCode]
	if !ok {
		return "", false
	}
	return def.name, true
}

// IsRegistered reports whether the test code has threshold bands.
func (c *Classifier) IsRegistered(testCode string) bool {
	_, ok := c.tests[testCode]
	return ok
}

// RegisteredCodes returns all registered test codes in sorted order.
func (c *Classifier) RegisteredCodes() []string {
	codes := make([]string, 0, len(c.tests))
	for code := range c.tests {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func validateDefinition(def *testDefinition) error {
	if def.code == "" || def.name == "" || def.unit == "" {
		return fmt.Errorf("code, name and unit are required")
	}
	if def.floor < 0 || def.floor >= def.ceiling {
		return fmt.Errorf("measurable range [%g, %g) is invalid", def.floor, def.ceiling)
	}
	if len(def.bands) == 0 {
		return fmt.Errorf("no classification bands")
	}

	seenGeneric := false
	lastRank := -1
	var generic []band
	for _, b := range def.bands {
		if !b.category.IsValid() || b.category == domain.UNKNOWN {
			return fmt.Errorf("band [%g, %g) has invalid category %q", b.lower, b.upper, b.category)
		}
		if b.lower >= b.upper {
			return fmt.Errorf("band [%g, %g) is empty", b.lower, b.upper)
		}
		if b.lower < def.floor || b.upper > def.ceiling {
			return fmt.Errorf("band [%g, %g) exceeds the measurable range", b.lower, b.upper)
		}
		if b.appliesTo == nil {
			// Generic bands must come after demographic overlays and be
			// listed in ascending severity so first-match-wins is the
			// documented order, not an accident of declaration.
			seenGeneric = true
			r := b.category.Rank()
			if r < lastRank {
				return fmt.Errorf("generic bands out of ascending severity order at [%g, %g)", b.lower, b.upper)
			}
			lastRank = r
			generic = append(generic, b)
		} else if seenGeneric {
			return fmt.Errorf("demographic band [%g, %g) listed after generic bands", b.lower, b.upper)
		}
	}

	sort.Slice(generic, func(i, j int) bool { return generic[i].lower < generic[j].lower })
	for i := 1; i < len(generic); i++ {
		if generic[i].lower < generic[i-1].upper {
			return fmt.Errorf("generic bands [%g, %g) and [%g, %g) overlap",
				generic[i-1].lower, generic[i-1].upper, generic[i].lower, generic[i].upper)
		}
	}
	return nil
}
