// Package icd10 parses and compares ICD-10 diagnosis codes.
//
// Codes are treated syntactically: a three-character category (letter plus
// two alphanumerics) optionally followed by a dot and up to four extension
// characters. The package does not check codes against a published code set;
// callers that receive unknown codes should carry them through untouched.
package icd10

import (
	"fmt"
	"regexp"
	"strings"
)

var codePattern = regexp.MustCompile(`^[A-Z][0-9][0-9A-Z](?:\.[0-9A-Z]{1,4})?$`)

// Code is a parsed ICD-10 diagnosis code.
type Code struct {
	Category  string // Three-character category, e.g. "E11"
	Extension string // Characters after the dot, e.g. "9" for E11.9
}

// String renders the code in canonical dotted form.
func (c Code) String() string {
	if c.Extension == "" {
		return c.Category
	}
	return c.Category + "." + c.Extension
}

// Parse validates and decomposes an ICD-10 code. Input is case-insensitive
// and the dot separating category from extension may be omitted, so "e119"
// parses the same as "E11.9".
func Parse(input string) (Code, error) {
	normalized := Normalize(input)
	if !codePattern.MatchString(normalized) {
		return Code{}, fmt.Errorf("invalid ICD-10 code %q", input)
	}

	code := Code{Category: normalized[:3]}
	if len(normalized) > 3 {
		code.Extension = normalized[4:]
	}
	return code, nil
}

// Normalize trims and uppercases a code and inserts the dot after the
// category when it was omitted ("E119" becomes "E11.9"). It does not
// guarantee the result is valid.
func Normalize(input string) string {
	s := strings.ToUpper(strings.TrimSpace(input))
	if len(s) > 3 && s[3] != '.' {
		s = s[:3] + "." + s[3:]
	}
	return s
}

// Valid reports whether input parses as an ICD-10 code.
func Valid(input string) bool {
	_, err := Parse(input)
	return err == nil
}

// InFamily reports whether code falls within family: the categories must
// match exactly and the code's extension must begin with the family's.
// "E11.9" is in family "E11", "E11.21" is in family "E11.2", and "E10.9" is
// in neither. Malformed codes and families never match.
func InFamily(code, family string) bool {
	c, err := Parse(code)
	if err != nil {
		return false
	}
	f, err := Parse(family)
	if err != nil {
		return false
	}
	return c.Category == f.Category && strings.HasPrefix(c.Extension, f.Extension)
}
