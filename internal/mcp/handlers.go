package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/cdss-prevention-engine/internal/domain"
)

// ClassifyLabValueParams defines parameters for the classify_lab_value tool.
// Demographics are flattened so clients can pass age and sex without nesting.
type ClassifyLabValueParams struct {
	TestCode string  `json:"test_code"`
	Value    float64 `json:"value"`
	Age      int     `json:"age,omitempty"`
	Sex      string  `json:"sex,omitempty"`
	Pregnant bool    `json:"pregnant,omitempty"`
}

// EvaluatePatientParams defines parameters for the evaluate_patient tool.
type EvaluatePatientParams struct {
	Patient domain.PatientContext `json:"patient"`
}

// EngineMetricsParams defines parameters for the engine_metrics tool.
type EngineMetricsParams struct{}

// handleClassifyLabValue handles the classify_lab_value tool invocation.
func (s *Server) handleClassifyLabValue(ctx context.Context, req *mcp.CallToolRequest, params ClassifyLabValueParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithFields(logrus.Fields{
		"tool":      "classify_lab_value",
		"test_code": params.TestCode,
	}).Info("Tool invoked")

	if params.TestCode == "" {
		return createErrorResult("Missing required parameter", fmt.Errorf("test_code is required")), nil, nil
	}

	demo := domain.Demographics{
		Age:      params.Age,
		Sex:      params.Sex,
		Pregnant: params.Pregnant,
	}
	if err := demo.Validate(); err != nil {
		return createErrorResult("Invalid demographics", err), nil, nil
	}

	cls := s.classifier.Classify(params.TestCode, params.Value, demo)

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{
				Text: fmt.Sprintf("%s value %g classified %s: %s",
					params.TestCode, params.Value, cls.Category, cls.Reason),
			},
		},
	}, cls, nil
}

// handleEvaluatePatient handles the evaluate_patient tool invocation.
func (s *Server) handleEvaluatePatient(ctx context.Context, req *mcp.CallToolRequest, params EvaluatePatientParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithFields(logrus.Fields{
		"tool":       "evaluate_patient",
		"patient_id": params.Patient.PatientID,
	}).Info("Tool invoked")

	result, err := s.engine.Evaluate(ctx, &params.Patient)
	if err != nil {
		var validationErr *domain.ValidationError
		if errors.As(err, &validationErr) {
			return createErrorResult("Invalid patient context", err), nil, nil
		}
		return createErrorResult("Evaluation failed", err), nil, nil
	}

	// Cached results were persisted when first computed
	if !result.CacheHit && s.planStore != nil {
		for _, draft := range result.Plans {
			if _, err := s.planStore.Save(ctx, result.PatientID, result.EvaluationID, draft); err != nil {
				s.logger.WithError(err).WithField("plan_type", draft.PlanType).Error("Failed to persist prevention plan")
			}
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{
				Text: fmt.Sprintf("Evaluation %s: %d alerts, %d prevention plans (cache hit: %t)",
					result.EvaluationID, len(result.Alerts), len(result.Plans), result.CacheHit),
			},
		},
	}, result, nil
}

// handleEngineMetrics handles the engine_metrics tool invocation.
func (s *Server) handleEngineMetrics(ctx context.Context, req *mcp.CallToolRequest, params EngineMetricsParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "engine_metrics").Info("Tool invoked")

	snapshot := s.engine.Metrics()

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{
				Text: fmt.Sprintf("Engine metrics: %d evaluations, %.1f%% cache hit rate, %.2fms avg latency",
					snapshot.TotalEvaluations, snapshot.HitRate*100, snapshot.AvgLatencyMs),
			},
		},
	}, snapshot, nil
}

// createErrorResult creates a standardized error result for tool calls.
func createErrorResult(message string, err error) *mcp.CallToolResult {
	errorText := fmt.Sprintf("Error: %s", message)
	if err != nil {
		errorText += fmt.Sprintf(" - %v", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: errorText},
		},
		IsError: true,
	}
}
