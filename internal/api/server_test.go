package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdss-prevention-engine/internal/cache"
	"github.com/cdss-prevention-engine/internal/classify"
	"github.com/cdss-prevention-engine/internal/domain"
	"github.com/cdss-prevention-engine/internal/engine"
	"github.com/cdss-prevention-engine/internal/metrics"
	"github.com/cdss-prevention-engine/internal/plan"
	"github.com/cdss-prevention-engine/internal/planstore"
	"github.com/cdss-prevention-engine/internal/rules"
	"github.com/cdss-prevention-engine/pkg/provider"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress logs during testing
	return logger
}

type testConfigManager struct {
	cfg *domain.Config
}

func (m *testConfigManager) GetConfig() *domain.Config             { return m.cfg }
func (m *testConfigManager) GetServerConfig() *domain.ServerConfig { return &m.cfg.Server }
func (m *testConfigManager) GetEngineConfig() *domain.EngineConfig { return &m.cfg.Engine }
func (m *testConfigManager) GetCacheConfig() *domain.CacheConfig   { return &m.cfg.Cache }
func (m *testConfigManager) Validate() error                       { return nil }

// newTestServer wires a server over the built-in rule set with a local-only
// cache. mutate adjusts the optional collaborators before construction.
func newTestServer(t *testing.T, mutate func(*Deps)) *Server {
	t.Helper()

	classifier, err := classify.NewClassifier()
	require.NoError(t, err)
	library, err := plan.NewLibrary()
	require.NoError(t, err)
	synthesizer := plan.NewSynthesizer(classifier, library)
	registry, err := rules.NewBuiltinRegistry(classifier, synthesizer, 10, testLogger())
	require.NoError(t, err)

	resultCache, err := cache.NewFromConfig(domain.CacheConfig{ResultTTL: time.Hour}, nil, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { resultCache.Close() })

	collector := metrics.NewCollector(testLogger())
	eng, err := engine.New(registry, resultCache, collector, domain.EngineConfig{}, testLogger())
	require.NoError(t, err)

	deps := Deps{
		Engine:     eng,
		Classifier: classifier,
		Cache:      resultCache,
		Logger:     testLogger(),
	}
	if mutate != nil {
		mutate(&deps)
	}

	manager := &testConfigManager{cfg: &domain.Config{
		Logging: domain.LoggingConfig{Level: "info", Format: "json"},
	}}
	srv, err := NewServer(manager, deps)
	require.NoError(t, err)
	return srv
}

func newTestPlanStore(t *testing.T) planstore.Store {
	t.Helper()
	store, err := planstore.NewSQLiteStore(filepath.Join(t.TempDir(), "plans.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

func prediabeticContextJSON(version int64) string {
	return fmt.Sprintf(`{
		"patient_id": "patient-1",
		"context_version": %d,
		"demographics": {"age": 50, "sex": "female"},
		"observations": [
			{"test_code": "4548-4", "value": 6.0, "unit": "%%", "observed_at": "2025-03-01T08:00:00Z"}
		]
	}`, version)
}

func TestHandleEvaluate(t *testing.T) {
	srv := newTestServer(t, nil)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/evaluations", prediabeticContextJSON(1))
	require.Equal(t, http.StatusOK, w.Code)

	var result domain.EvaluationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "patient-1", result.PatientID)
	assert.Equal(t, int64(1), result.ContextVersion)
	assert.NotEmpty(t, result.EvaluationID)
	assert.False(t, result.CacheHit)

	// HbA1c 6.0% is prediabetic: the lab rule fires with an alert and a plan
	require.NotEmpty(t, result.Alerts)
	assert.Equal(t, "lab.hba1c", result.Alerts[0].RuleID)
	require.NotEmpty(t, result.Plans)
	assert.Equal(t, domain.PlanDiabetes, result.Plans[0].PlanType)
}

func TestHandleEvaluate_CacheHitOnRepeat(t *testing.T) {
	srv := newTestServer(t, nil)

	first := doJSON(t, srv, http.MethodPost, "/api/v1/evaluations", prediabeticContextJSON(3))
	require.Equal(t, http.StatusOK, first.Code)

	second := doJSON(t, srv, http.MethodPost, "/api/v1/evaluations", prediabeticContextJSON(3))
	require.Equal(t, http.StatusOK, second.Code)

	var result domain.EvaluationResult
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &result))
	assert.True(t, result.CacheHit)
}

func TestHandleEvaluate_MalformedBody(t *testing.T) {
	srv := newTestServer(t, nil)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/evaluations", `{"patient_id": `)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var envelope domain.EngineError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, domain.ErrCodeInvalidInput, envelope.Code)
	assert.NotEmpty(t, envelope.RequestID)
}

func TestHandleEvaluate_InvalidContext(t *testing.T) {
	srv := newTestServer(t, nil)

	// context_version 0 fails validation
	w := doJSON(t, srv, http.MethodPost, "/api/v1/evaluations", `{
		"patient_id": "patient-1",
		"context_version": 0,
		"demographics": {"age": 50}
	}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var envelope domain.EngineError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, domain.ErrCodeInvalidInput, envelope.Code)
	assert.Contains(t, envelope.Message, "context_version")
}

func TestHandleEvaluatePatient(t *testing.T) {
	providerServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/patients/patient-1/context", r.URL.Path)
		fmt.Fprint(w, prediabeticContextJSON(1))
	}))
	defer providerServer.Close()

	store := newTestPlanStore(t)
	srv := newTestServer(t, func(deps *Deps) {
		client, err := provider.NewClient(domain.ProviderConfig{BaseURL: providerServer.URL, RateLimit: 100})
		require.NoError(t, err)
		deps.Provider = client
		deps.Plans = store
	})

	w := doJSON(t, srv, http.MethodPost, "/api/v1/patients/patient-1/evaluations", "")
	require.Equal(t, http.StatusOK, w.Code)

	var result domain.EvaluationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "patient-1", result.PatientID)
	require.NotEmpty(t, result.Plans)

	// The fresh evaluation's plan drafts were persisted
	records, err := store.ListByPatient(context.Background(), "patient-1", false)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, result.EvaluationID, records[0].EvaluationID)

	// A cache hit on the same context version persists nothing new
	w = doJSON(t, srv, http.MethodPost, "/api/v1/patients/patient-1/evaluations", "")
	require.Equal(t, http.StatusOK, w.Code)
	var second domain.EvaluationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.True(t, second.CacheHit)

	after, err := store.ListByPatient(context.Background(), "patient-1", false)
	require.NoError(t, err)
	assert.Len(t, after, len(records))
}

func TestHandleEvaluatePatient_NotFound(t *testing.T) {
	providerServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "no such patient"}`, http.StatusNotFound)
	}))
	defer providerServer.Close()

	srv := newTestServer(t, func(deps *Deps) {
		client, err := provider.NewClient(domain.ProviderConfig{BaseURL: providerServer.URL, RateLimit: 100})
		require.NoError(t, err)
		deps.Provider = client
	})

	w := doJSON(t, srv, http.MethodPost, "/api/v1/patients/ghost/evaluations", "")
	require.Equal(t, http.StatusNotFound, w.Code)

	var envelope domain.EngineError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, domain.ErrCodeNotFound, envelope.Code)
}

func TestHandleEvaluatePatient_UpstreamFailure(t *testing.T) {
	providerServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database connection lost", http.StatusInternalServerError)
	}))
	defer providerServer.Close()

	srv := newTestServer(t, func(deps *Deps) {
		client, err := provider.NewClient(domain.ProviderConfig{BaseURL: providerServer.URL, RateLimit: 100})
		require.NoError(t, err)
		deps.Provider = client
	})

	w := doJSON(t, srv, http.MethodPost, "/api/v1/patients/patient-1/evaluations", "")
	require.Equal(t, http.StatusBadGateway, w.Code)

	var envelope domain.EngineError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, domain.ErrCodeUpstream, envelope.Code)
}

func TestHandleEvaluatePatient_ProviderNotConfigured(t *testing.T) {
	srv := newTestServer(t, nil)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/patients/patient-1/evaluations", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var envelope domain.EngineError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, domain.ErrCodeConfiguration, envelope.Code)
}

func TestHandleClassify(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name             string
		body             string
		expectedCategory domain.SeverityCategory
	}{
		{
			name:             "prediabetic hba1c",
			body:             `{"test_code": "4548-4", "value": 6.1, "demographics": {"age": 50}}`,
			expectedCategory: domain.PREDIABETES,
		},
		{
			name:             "critical potassium",
			body:             `{"test_code": "2823-3", "value": 6.8, "demographics": {"age": 50}}`,
			expectedCategory: domain.CRITICAL,
		},
		{
			name:             "unrecognized test code",
			body:             `{"test_code": "9999-9", "value": 1.0, "demographics": {"age": 50}}`,
			expectedCategory: domain.UNKNOWN,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, srv, http.MethodPost, "/api/v1/classifications", tt.body)
			require.Equal(t, http.StatusOK, w.Code)

			var cls domain.Classification
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cls))
			assert.Equal(t, tt.expectedCategory, cls.Category)
			assert.NotEmpty(t, cls.Reason)
		})
	}
}

func TestHandleClassify_InvalidRequests(t *testing.T) {
	srv := newTestServer(t, nil)

	missingCode := doJSON(t, srv, http.MethodPost, "/api/v1/classifications",
		`{"value": 6.1, "demographics": {"age": 50}}`)
	assert.Equal(t, http.StatusBadRequest, missingCode.Code)

	badAge := doJSON(t, srv, http.MethodPost, "/api/v1/classifications",
		`{"test_code": "4548-4", "value": 6.1, "demographics": {"age": 200}}`)
	assert.Equal(t, http.StatusBadRequest, badAge.Code)
}

func TestHandleMetrics(t *testing.T) {
	srv := newTestServer(t, nil)

	doJSON(t, srv, http.MethodPost, "/api/v1/evaluations", prediabeticContextJSON(1))

	w := doJSON(t, srv, http.MethodGet, "/api/v1/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)

	var snapshot domain.MetricsSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshot))
	assert.GreaterOrEqual(t, snapshot.TotalEvaluations, int64(1))
}

func TestHandleListPlans(t *testing.T) {
	store := newTestPlanStore(t)
	srv := newTestServer(t, func(deps *Deps) { deps.Plans = store })

	draft := &domain.PreventionPlanDraft{
		PlanType:    domain.PlanDiabetes,
		Name:        "Diabetes Prevention Plan",
		TriggeredBy: "4548-4",
		Category:    domain.PREDIABETES,
		Goals:       []domain.Goal{{Description: "Repeat HbA1c", OffsetDays: 90}},
		Recommendations: []domain.Recommendation{{
			Category: domain.RecLifestyle,
			Text:     "Structured lifestyle program",
			Grade:    domain.GradeA,
			Priority: domain.PriorityHigh,
		}},
	}
	first, err := store.Save(context.Background(), "patient-1", "eval-1", draft)
	require.NoError(t, err)
	_, err = store.Save(context.Background(), "patient-1", "eval-2", draft)
	require.NoError(t, err)

	w := doJSON(t, srv, http.MethodGet, "/api/v1/patients/patient-1/plans", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Plans []*planstore.PlanRecord `json:"plans"`
		Count int                     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)

	// The second save superseded the first, so only one plan is ACTIVE
	w = doJSON(t, srv, http.MethodGet, "/api/v1/patients/patient-1/plans?active=true", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.NotEqual(t, first.ID, resp.Plans[0].ID)
}

func TestHandleListPlans_StoreNotConfigured(t *testing.T) {
	srv := newTestServer(t, nil)

	w := doJSON(t, srv, http.MethodGet, "/api/v1/patients/patient-1/plans", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandlePlanStatus(t *testing.T) {
	store := newTestPlanStore(t)
	srv := newTestServer(t, func(deps *Deps) { deps.Plans = store })

	record, err := store.Save(context.Background(), "patient-1", "eval-1", &domain.PreventionPlanDraft{
		PlanType:    domain.PlanRenal,
		Name:        "Renal Protection Plan",
		TriggeredBy: "2160-0",
		Category:    domain.HIGH,
		Goals:       []domain.Goal{{Description: "Repeat creatinine", OffsetDays: 14}},
		Recommendations: []domain.Recommendation{{
			Category: domain.RecMonitoring,
			Text:     "Repeat basic metabolic panel",
			Grade:    domain.GradeB,
			Priority: domain.PriorityHigh,
		}},
	})
	require.NoError(t, err)

	w := doJSON(t, srv, http.MethodPatch, "/api/v1/plans/"+record.ID+"/status", `{"status": "COMPLETED"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var updated planstore.PlanRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, domain.PlanCompleted, updated.Status)

	// Completed is terminal
	w = doJSON(t, srv, http.MethodPatch, "/api/v1/plans/"+record.ID+"/status", `{"status": "DEACTIVATED"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, srv, http.MethodPatch, "/api/v1/plans/no-such-plan/status", `{"status": "COMPLETED"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, srv, http.MethodPatch, "/api/v1/plans/"+record.ID+"/status", `{"status": "ARCHIVED"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleListAlerts_NotConfigured(t *testing.T) {
	srv := newTestServer(t, nil)

	w := doJSON(t, srv, http.MethodGet, "/api/v1/patients/patient-1/alerts", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandleHealth(t *testing.T) {
	store := newTestPlanStore(t)
	srv := newTestServer(t, func(deps *Deps) { deps.Plans = store })

	w := doJSON(t, srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var health struct {
		Status string `json:"status"`
		Cache  struct {
			BreakerState string `json:"breaker_state"`
			Redis        string `json:"redis"`
		} `json:"cache"`
		PlanStore string `json:"plan_store"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "disabled", health.Cache.BreakerState)
	assert.Equal(t, "disabled", health.Cache.Redis)
	assert.Equal(t, "ok", health.PlanStore)
}

func TestHandleHealth_NoPlanStore(t *testing.T) {
	srv := newTestServer(t, nil)

	w := doJSON(t, srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"plan_store":"disabled"`)
}

func TestMetricsStream(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.metricsInterval = 20 * time.Millisecond

	httpServer := httptest.NewServer(srv.router)
	defer httpServer.Close()

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws/metrics"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The first snapshot arrives immediately, then one per interval
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var first domain.MetricsSnapshot
	require.NoError(t, conn.ReadJSON(&first))

	var second domain.MetricsSnapshot
	require.NoError(t, conn.ReadJSON(&second))
	assert.False(t, second.TakenAt.Before(first.TakenAt))
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, nil)

	w := doJSON(t, srv, http.MethodOptions, "/api/v1/evaluations", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSecurityHeadersApplied(t *testing.T) {
	srv := newTestServer(t, nil)

	w := doJSON(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))
}
