package engine

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cdss-prevention-engine/internal/cache"
	"github.com/cdss-prevention-engine/internal/domain"
	"github.com/cdss-prevention-engine/internal/metrics"
	"github.com/cdss-prevention-engine/internal/rules"
)

const defaultRuleTimeout = 5 * time.Second

// Engine runs the full evaluation pipeline for one patient context: cache
// lookup keyed on (patient id, context version), parallel rule dispatch
// with per-rule timeouts, result merging with plan deduplication, and a
// best-effort cache write.
type Engine struct {
	logger      *logrus.Logger
	registry    *rules.Registry
	cache       *cache.Cache
	collector   *metrics.Collector
	ruleTimeout time.Duration
	poolSize    int
}

// New creates the engine. An empty registry is a configuration error: an
// engine that silently evaluates nothing is worse than one that refuses to
// start.
func New(registry *rules.Registry, resultCache *cache.Cache, collector *metrics.Collector, config domain.EngineConfig, logger *logrus.Logger) (*Engine, error) {
	if registry == nil || registry.Len() == 0 {
		return nil, domain.NewConfigurationError("rule registry has no registered rules")
	}
	if resultCache == nil {
		return nil, domain.NewConfigurationError("engine requires a cache layer")
	}
	if collector == nil {
		return nil, domain.NewConfigurationError("engine requires a metrics collector")
	}

	ruleTimeout := config.PerRuleTimeout
	if ruleTimeout <= 0 {
		ruleTimeout = defaultRuleTimeout
	}
	poolSize := config.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = runtime.NumCPU() * 2
	}

	logger.WithFields(logrus.Fields{
		"rules":        registry.Len(),
		"pool_size":    poolSize,
		"rule_timeout": ruleTimeout,
	}).Info("Evaluation engine initialized")

	return &Engine{
		logger:      logger,
		registry:    registry,
		cache:       resultCache,
		collector:   collector,
		ruleTimeout: ruleTimeout,
		poolSize:    poolSize,
	}, nil
}

// Evaluate runs all applicable rules for the patient context, or returns
// the cached result for the same (patient id, context version). The caller
// supplies the monotonic context version, so a cached hit is never stale
// relative to data the caller knows has changed.
func (e *Engine) Evaluate(ctx context.Context, patient *domain.PatientContext) (*domain.EvaluationResult, error) {
	start := time.Now()
	if err := patient.Validate(); err != nil {
		return nil, err
	}

	key := cacheKey(patient.PatientID, patient.ContextVersion)
	log := e.logger.WithFields(logrus.Fields{
		"patient_id":      patient.PatientID,
		"context_version": patient.ContextVersion,
	})

	if payload, ok := e.cache.Get(ctx, key); ok {
		var cached []domain.RuleResult
		if err := json.Unmarshal(payload, &cached); err == nil {
			result := e.assemble(patient, cached, true)
			e.collector.RecordEvaluation(time.Since(start), true)
			result.Metrics = e.collector.Snapshot()
			log.WithField("rules", len(cached)).Debug("Served evaluation from cache")
			return result, nil
		}
		log.Warn("Discarding undecodable cached evaluation")
	}

	applicable := e.registry.AllApplicable(patient)
	log.WithField("applicable_rules", len(applicable)).Debug("Evaluating rules")

	results, err := e.runRules(ctx, applicable, patient)
	if err != nil {
		// Cancelled mid-flight: report the cancellation and write nothing,
		// a partial result set must never be cached.
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RuleID < results[j].RuleID
	})

	if ctx.Err() == nil {
		if payload, err := json.Marshal(results); err == nil {
			e.cache.Set(ctx, key, payload, 0)
		} else {
			log.WithError(err).Warn("Failed to encode evaluation for caching")
		}
	}

	result := e.assemble(patient, results, false)
	e.collector.RecordEvaluation(time.Since(start), false)
	e.collector.RecordPlansGenerated(len(result.Plans))
	result.Metrics = e.collector.Snapshot()

	log.WithFields(logrus.Fields{
		"fired":    countFired(results),
		"alerts":   len(result.Alerts),
		"plans":    len(result.Plans),
		"duration": time.Since(start),
	}).Info("Completed patient evaluation")

	return result, nil
}

// Metrics returns the current engine counters.
func (e *Engine) Metrics() domain.MetricsSnapshot {
	return e.collector.Snapshot()
}

// CacheBreakerState reports the cache circuit state for health endpoints.
func (e *Engine) CacheBreakerState() string {
	return e.cache.BreakerState()
}

// runRules dispatches the applicable rules across the bounded pool and
// settles: every rule produces exactly one RuleResult, and one rule's
// failure or timeout never cancels the others. The only error return is
// caller cancellation.
func (e *Engine) runRules(ctx context.Context, applicable []*rules.Rule, patient *domain.PatientContext) ([]domain.RuleResult, error) {
	results := make([]domain.RuleResult, len(applicable))
	sem := make(chan struct{}, e.poolSize)
	var wg sync.WaitGroup

	// Rules run detached from the caller's cancellation, bounded by their
	// own timeout instead: a cancelled request discards results without
	// killing workers mid-rule.
	base := context.WithoutCancel(ctx)

	for i, rule := range applicable {
		wg.Add(1)
		go func(i int, rule *rules.Rule) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = domain.RuleResult{RuleID: rule.ID, Error: ctx.Err().Error()}
				return
			}
			results[i] = e.runOne(base, rule, patient)
		}(i, rule)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return results, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runOne evaluates a single rule under the per-rule timeout, converting
// panics, errors, and timeouts into annotated non-fired results.
func (e *Engine) runOne(base context.Context, rule *rules.Rule, patient *domain.PatientContext) domain.RuleResult {
	ruleCtx, cancel := context.WithTimeout(base, e.ruleTimeout)
	defer cancel()

	type outcome struct {
		result *domain.RuleResult
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("rule panicked: %v", r)}
			}
		}()
		result, err := rule.Evaluate(ruleCtx, patient)
		ch <- outcome{result: result, err: err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			ruleErr := &domain.RuleError{RuleID: rule.ID, Err: out.err}
			e.collector.RecordRuleFailure(rule.ID)
			e.logger.WithError(ruleErr).WithField("rule_id", rule.ID).Warn("Rule evaluation failed")
			return domain.RuleResult{RuleID: rule.ID, Error: out.err.Error()}
		}
		if out.result == nil {
			return domain.RuleResult{RuleID: rule.ID}
		}
		result := *out.result
		result.RuleID = rule.ID
		return result
	case <-ruleCtx.Done():
		ruleErr := &domain.RuleError{RuleID: rule.ID, Err: domain.ErrRuleTimeout}
		e.collector.RecordRuleFailure(rule.ID)
		e.logger.WithError(ruleErr).WithFields(logrus.Fields{
			"rule_id": rule.ID,
			"timeout": e.ruleTimeout,
		}).Warn("Rule evaluation timed out")
		return domain.RuleResult{
			RuleID: rule.ID,
			Error:  fmt.Sprintf("%v after %s", domain.ErrRuleTimeout, e.ruleTimeout),
		}
	}
}

// assemble builds the caller-facing result from the (sorted) rule results:
// alerts in rule-id order and plans deduplicated per plan type.
func (e *Engine) assemble(patient *domain.PatientContext, results []domain.RuleResult, cacheHit bool) *domain.EvaluationResult {
	alerts := make([]domain.Alert, 0, len(results))
	for _, r := range results {
		if r.Fired && r.Alert != nil {
			alerts = append(alerts, *r.Alert)
		}
	}

	return &domain.EvaluationResult{
		EvaluationID:   uuid.New().String(),
		PatientID:      patient.PatientID,
		ContextVersion: patient.ContextVersion,
		CacheHit:       cacheHit,
		Results:        results,
		Alerts:         alerts,
		Plans:          e.dedupePlans(results),
		EvaluatedAt:    time.Now().UTC(),
	}
}

// dedupePlans keeps one draft per plan type: the most severe wins, ties go
// to the earliest-registered rule so repeated evaluations pick the same
// winner.
func (e *Engine) dedupePlans(results []domain.RuleResult) []*domain.PreventionPlanDraft {
	type candidate struct {
		plan     *domain.PreventionPlanDraft
		regIndex int
	}

	best := make(map[domain.PlanType]candidate)
	var order []domain.PlanType

	for _, r := range results {
		if !r.Fired || r.Plan == nil {
			continue
		}
		regIndex, known := e.registry.Index(r.RuleID)
		if !known {
			// Cached result from a rule no longer registered: keep the plan
			// but yield ties to every current rule.
			regIndex = int(^uint(0) >> 1)
		}

		current, exists := best[r.Plan.PlanType]
		if !exists {
			best[r.Plan.PlanType] = candidate{plan: r.Plan, regIndex: regIndex}
			order = append(order, r.Plan.PlanType)
			continue
		}
		if r.Plan.Category.Rank() > current.plan.Category.Rank() ||
			(r.Plan.Category.Rank() == current.plan.Category.Rank() && regIndex < current.regIndex) {
			best[r.Plan.PlanType] = candidate{plan: r.Plan, regIndex: regIndex}
		}
	}

	plans := make([]*domain.PreventionPlanDraft, 0, len(best))
	for _, planType := range order {
		plans = append(plans, best[planType].plan)
	}
	return plans
}

// cacheKey derives the evaluation cache key from the patient id and the
// caller-supplied monotonic context version.
func cacheKey(patientID string, contextVersion int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", patientID, contextVersion)))
	return fmt.Sprintf("eval:patient:%x", sum[:8])
}

func countFired(results []domain.RuleResult) int {
	n := 0
	for _, r := range results {
		if r.Fired {
			n++
		}
	}
	return n
}
