package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/cdss-prevention-engine/internal/domain"
	"github.com/cdss-prevention-engine/internal/planstore"
	"github.com/cdss-prevention-engine/pkg/provider"
)

// persistTimeout bounds the post-evaluation writes. Persistence is detached
// from the request context so a caller that disconnects after a completed
// evaluation does not abort the audit trail.
const persistTimeout = 5 * time.Second

func (s *Server) respondError(c *gin.Context, status int, code, message, details string) {
	c.JSON(status, domain.NewEngineError(code, message, details, c.GetString("correlation_id")))
}

// handleEvaluate runs the engine against a caller-supplied patient context.
func (s *Server) handleEvaluate(c *gin.Context) {
	var patient domain.PatientContext
	if err := c.ShouldBindJSON(&patient); err != nil {
		s.respondError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput,
			"request body is not a valid patient context", err.Error())
		return
	}

	result, err := s.engine.Evaluate(c.Request.Context(), &patient)
	if err != nil {
		s.respondEvaluationError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// handleEvaluatePatient resolves the patient context server-side through the
// provider client, evaluates it, and persists the outputs where persistence
// is configured.
func (s *Server) handleEvaluatePatient(c *gin.Context) {
	if s.provider == nil {
		s.respondError(c, http.StatusServiceUnavailable, domain.ErrCodeConfiguration,
			"patient context provider is not configured", "")
		return
	}

	patientID := c.Param("id")
	patient, err := s.provider.FetchContext(c.Request.Context(), patientID)
	if err != nil {
		s.respondProviderError(c, patientID, err)
		return
	}

	result, err := s.engine.Evaluate(c.Request.Context(), patient)
	if err != nil {
		s.respondEvaluationError(c, err)
		return
	}

	// Cached results were already persisted when first computed; writing
	// them again would duplicate alerts under a new evaluation id.
	if !result.CacheHit {
		s.persistResult(c.Request.Context(), result)
	}

	c.JSON(http.StatusOK, result)
}

// handleClassify gives standalone access to the threshold classifier.
func (s *Server) handleClassify(c *gin.Context) {
	var req struct {
		TestCode     string              `json:"test_code"`
		Value        float64             `json:"value"`
		Demographics domain.Demographics `json:"demographics"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput,
			"request body is not a valid classification request", err.Error())
		return
	}
	if req.TestCode == "" {
		s.respondError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput,
			"test_code is required", "")
		return
	}
	if err := req.Demographics.Validate(); err != nil {
		s.respondError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput,
			err.Error(), "")
		return
	}

	c.JSON(http.StatusOK, s.classifier.Classify(req.TestCode, req.Value, req.Demographics))
}

// handleMetrics returns the collector snapshot.
func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Metrics())
}

// handleListPlans returns a patient's prevention plans, optionally filtered
// to ACTIVE ones with ?active=true.
func (s *Server) handleListPlans(c *gin.Context) {
	if s.plans == nil {
		s.respondError(c, http.StatusServiceUnavailable, domain.ErrCodeConfiguration,
			"plan store is not configured", "")
		return
	}

	activeOnly := c.Query("active") == "true"
	records, err := s.plans.ListByPatient(c.Request.Context(), c.Param("id"), activeOnly)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, domain.ErrCodeStorage,
			"failed to list prevention plans", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"plans": records,
		"count": len(records),
	})
}

// handleListAlerts returns a patient's persisted alerts, newest first.
func (s *Server) handleListAlerts(c *gin.Context) {
	if s.alerts == nil {
		s.respondError(c, http.StatusServiceUnavailable, domain.ErrCodeConfiguration,
			"alert persistence is not configured", "")
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		s.respondError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput,
			"limit must be a positive integer", c.Query("limit"))
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		s.respondError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput,
			"offset must be a non-negative integer", c.Query("offset"))
		return
	}

	alerts, err := s.alerts.ListByPatient(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, domain.ErrCodeStorage,
			"failed to list alerts", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// handlePlanStatus transitions a plan's lifecycle status.
func (s *Server) handlePlanStatus(c *gin.Context) {
	if s.plans == nil {
		s.respondError(c, http.StatusServiceUnavailable, domain.ErrCodeConfiguration,
			"plan store is not configured", "")
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput,
			"request body must carry a status field", err.Error())
		return
	}

	record, err := s.plans.UpdateStatus(c.Request.Context(), c.Param("id"), domain.PlanStatus(req.Status))
	if err != nil {
		var validationErr *domain.ValidationError
		switch {
		case errors.As(err, &validationErr):
			s.respondError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, err.Error(), "")
		case errors.Is(err, domain.ErrNotFound):
			s.respondError(c, http.StatusNotFound, domain.ErrCodeNotFound,
				"plan not found", c.Param("id"))
		case errors.Is(err, planstore.ErrIllegalTransition):
			s.respondError(c, http.StatusConflict, domain.ErrCodeInvalidInput, err.Error(), "")
		default:
			s.respondError(c, http.StatusInternalServerError, domain.ErrCodeStorage,
				"failed to update plan status", err.Error())
		}
		return
	}

	c.JSON(http.StatusOK, record)
}

// handleHealth reports liveness plus the state of each persistence and cache
// tier. Degraded tiers do not fail the check: the engine serves evaluations
// without them.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	breakerState := s.engine.CacheBreakerState()
	redisState := "disabled"
	if breakerState != "disabled" {
		if err := s.cache.PingRemote(ctx); err != nil {
			redisState = "unreachable"
		} else {
			redisState = "ok"
		}
	}

	planStoreState := "disabled"
	if s.plans != nil {
		if _, err := s.plans.Count(ctx); err != nil {
			planStoreState = "unavailable"
		} else {
			planStoreState = "ok"
		}
	}

	status := "healthy"
	if redisState == "unreachable" || planStoreState == "unavailable" {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"version":   serverVersion,
		"cache": gin.H{
			"breaker_state": breakerState,
			"redis":         redisState,
		},
		"plan_store": planStoreState,
	})
}

// respondEvaluationError maps engine errors onto the HTTP surface.
func (s *Server) respondEvaluationError(c *gin.Context, err error) {
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		s.respondError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, err.Error(), "")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		s.respondError(c, http.StatusGatewayTimeout, domain.ErrCodeRuleTimeout,
			"evaluation did not complete before the request deadline", "")
	default:
		s.logger.WithError(err).Error("Evaluation failed")
		s.respondError(c, http.StatusInternalServerError, domain.ErrCodeInternal,
			"evaluation failed", "")
	}
}

// respondProviderError maps provider client errors onto the HTTP surface.
func (s *Server) respondProviderError(c *gin.Context, patientID string, err error) {
	var validationErr *domain.ValidationError
	var upstreamErr *provider.UpstreamError
	switch {
	case errors.As(err, &validationErr):
		s.respondError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, err.Error(), "")
	case errors.Is(err, provider.ErrPatientNotFound):
		s.respondError(c, http.StatusNotFound, domain.ErrCodeNotFound,
			"patient not found", patientID)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		s.respondError(c, http.StatusGatewayTimeout, domain.ErrCodeUpstream,
			"patient context fetch did not complete before the request deadline", "")
	case errors.As(err, &upstreamErr):
		s.respondError(c, http.StatusBadGateway, domain.ErrCodeUpstream,
			"patient context provider failed", upstreamErr.Error())
	default:
		s.logger.WithError(err).WithField("patient_id", patientID).Error("Provider fetch failed")
		s.respondError(c, http.StatusBadGateway, domain.ErrCodeUpstream,
			"patient context provider unreachable", "")
	}
}

// persistResult writes a fresh evaluation's alerts and plan drafts to the
// configured stores. Failures are logged, never surfaced: the caller already
// holds the evaluation result and storage is an audit concern.
func (s *Server) persistResult(reqCtx context.Context, result *domain.EvaluationResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(reqCtx), persistTimeout)
	defer cancel()

	log := s.logger.WithFields(logrus.Fields{
		"evaluation_id": result.EvaluationID,
		"patient_id":    result.PatientID,
	})

	if s.alerts != nil && len(result.Alerts) > 0 {
		if err := s.alerts.SaveBatch(ctx, result.EvaluationID, result.PatientID, result.Alerts); err != nil {
			log.WithError(err).Error("Failed to persist alerts")
		}
	}

	if s.plans != nil {
		for _, draft := range result.Plans {
			if _, err := s.plans.Save(ctx, result.PatientID, result.EvaluationID, draft); err != nil {
				log.WithError(err).WithField("plan_type", draft.PlanType).Error("Failed to persist prevention plan")
			}
		}
	}
}
