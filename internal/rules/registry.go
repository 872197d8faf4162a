package rules

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cdss-prevention-engine/internal/domain"
)

// Rule is one clinical rule. AppliesTo is a cheap synchronous filter;
// Evaluate does the actual work under the engine's per-rule timeout.
//
// Rules must not depend on evaluation order or on each other's results.
// A rule that needs another rule's output must be written as a single
// composite rule; the registry gives it no way to observe its peers.
type Rule struct {
	ID        string
	Name      string
	AppliesTo func(patient *domain.PatientContext) bool
	Evaluate  func(ctx context.Context, patient *domain.PatientContext) (*domain.RuleResult, error)
}

// Registry holds the registered rules in registration order. Registration
// happens once at startup; after that the registry is read-only and safe
// for concurrent use.
type Registry struct {
	logger *logrus.Logger
	rules  []*Rule
	index  map[string]int
}

// NewRegistry creates an empty rule registry.
func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		logger: logger,
		rules:  make([]*Rule, 0, 16),
		index:  make(map[string]int),
	}
}

// Register adds a rule. Rule ids must be unique; registration order is
// preserved and later used as the deterministic tie-break when plan drafts
// of equal severity collide.
func (r *Registry) Register(rule *Rule) error {
	if rule == nil {
		return fmt.Errorf("cannot register nil rule")
	}
	if rule.ID == "" {
		return fmt.Errorf("cannot register rule with empty id")
	}
	if rule.AppliesTo == nil || rule.Evaluate == nil {
		return fmt.Errorf("rule %s must define both AppliesTo and Evaluate", rule.ID)
	}
	if _, exists := r.index[rule.ID]; exists {
		return fmt.Errorf("rule %s is already registered", rule.ID)
	}

	r.index[rule.ID] = len(r.rules)
	r.rules = append(r.rules, rule)

	r.logger.WithFields(logrus.Fields{
		"rule_id":   rule.ID,
		"rule_name": rule.Name,
		"position":  r.index[rule.ID],
	}).Debug("Registered clinical rule")

	return nil
}

// AllApplicable filters the registered rules by AppliesTo, preserving
// registration order.
func (r *Registry) AllApplicable(patient *domain.PatientContext) []*Rule {
	applicable := make([]*Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		if rule.AppliesTo(patient) {
			applicable = append(applicable, rule)
		}
	}
	return applicable
}

// Rules returns all registered rules in registration order.
func (r *Registry) Rules() []*Rule {
	out := make([]*Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Get looks up a rule by id.
func (r *Registry) Get(id string) (*Rule, bool) {
	i, ok := r.index[id]
	if !ok {
		return nil, false
	}
	return r.rules[i], true
}

// Index returns the registration position of a rule id.
func (r *Registry) Index(id string) (int, bool) {
	i, ok := r.index[id]
	return i, ok
}

// Len returns the number of registered rules.
func (r *Registry) Len() int {
	return len(r.rules)
}
