package detect

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mendstack/mend-engine/internal/models"
)

// EndpointDetector probes the monitored services' health endpoints with GET
// requests and reports non-2xx answers, connection failures, and slow
// responses.
type EndpointDetector struct {
	endpoints     []string
	httpClient    *http.Client
	latencyBudget time.Duration
}

// NewEndpointDetector constructs a probe for the given health endpoints.
func NewEndpointDetector(endpoints []string, timeout, latencyBudget time.Duration) *EndpointDetector {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if latencyBudget <= 0 {
		latencyBudget = 2 * time.Second
	}
	return &EndpointDetector{
		endpoints:     endpoints,
		httpClient:    &http.Client{Timeout: timeout},
		latencyBudget: latencyBudget,
	}
}

// Name identifies the detector in logs and failure records.
func (d *EndpointDetector) Name() string { return "endpoint-health" }

// Detect GETs every endpoint and converts failures into ErrorRecords.
func (d *EndpointDetector) Detect(ctx context.Context) ([]models.ErrorRecord, error) {
	var records []models.ErrorRecord
	for _, endpoint := range d.endpoints {
		if ctx.Err() != nil {
			return records, ctx.Err()
		}
		records = append(records, d.probe(ctx, endpoint)...)
	}
	return records, nil
}

func (d *EndpointDetector) probe(ctx context.Context, endpoint string) []models.ErrorRecord {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return []models.ErrorRecord{NewRecord(
			models.ErrorKindEndpoint, models.SeverityHigh, endpoint,
			fmt.Sprintf("invalid health endpoint: %v", err),
		)}
	}

	start := time.Now()
	resp, err := d.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return []models.ErrorRecord{NewRecord(
			models.ErrorKindEndpoint, models.SeverityCritical, endpoint,
			fmt.Sprintf("health probe failed: %v", err),
		)}
	}
	defer resp.Body.Close()
	// Drain a bounded amount so keep-alive connections can be reused.
	_, _ = io.CopyN(io.Discard, resp.Body, 4096)

	var records []models.ErrorRecord
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		sev := models.SeverityHigh
		if resp.StatusCode >= 500 {
			sev = models.SeverityCritical
		}
		records = append(records, NewRecord(
			models.ErrorKindEndpoint, sev, endpoint,
			fmt.Sprintf("health endpoint returned %d", resp.StatusCode),
		))
	} else if elapsed > d.latencyBudget {
		records = append(records, NewRecord(
			models.ErrorKindPerformance, models.SeverityMedium, endpoint,
			fmt.Sprintf("health probe latency %s exceeded budget %s", elapsed.Round(time.Millisecond), d.latencyBudget),
		))
	}
	return records
}
