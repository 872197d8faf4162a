// Package provider fetches patient contexts from the upstream clinical data
// service. The engine itself never calls this package; the API layer uses it
// for server-side context resolution.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/cdss-prevention-engine/internal/domain"
)

// ErrPatientNotFound reports an unknown patient identifier. It wraps
// domain.ErrNotFound so callers can match either sentinel.
var ErrPatientNotFound = fmt.Errorf("patient %w", domain.ErrNotFound)

// UpstreamError reports a provider-side failure: any non-2xx response other
// than a 404.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// Client handles interactions with the patient-context provider API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	rateLimit  *rate.Limiter
}

// NewClient creates a new patient-context provider client
func NewClient(config domain.ProviderConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("provider base URL is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 10
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}, nil
}

// FetchContext retrieves the current PatientContext for a patient. The
// response is validated before being handed to the engine; an upstream
// document that fails validation is treated as an upstream fault, not
// silently evaluated.
func (c *Client) FetchContext(ctx context.Context, patientID string) (*domain.PatientContext, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, domain.NewValidationError("patient_id", "must not be empty", patientID)
	}

	// Rate limiting
	if err := c.rateLimit.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	requestURL := fmt.Sprintf("%s/patients/%s/context", c.baseURL, url.PathEscape(patientID))

	req, err := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", patientID, ErrPatientNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var patient domain.PatientContext
	if err := json.Unmarshal(body, &patient); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	if err := patient.Validate(); err != nil {
		return nil, fmt.Errorf("provider returned invalid context: %w", err)
	}

	return &patient, nil
}
