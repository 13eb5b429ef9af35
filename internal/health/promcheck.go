package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// MetricsEndpointChecker probes an external collaborator (typically the
// notification bridge itself) by scraping its Prometheus text exposition.
// The health score is derived from reachability and, when the endpoint
// exposes them, error and drop counters:
//
//	up, no error signal     → 1.0
//	up, error ratio r       → 1.0 − r (clamped)
//	unreachable / bad parse → 0.0
type MetricsEndpointChecker struct {
	component string
	endpoint  string
	client    *http.Client

	// errorMetric / totalMetric name the counters used to derive the error
	// ratio. Either may be empty; the probe then scores reachability only.
	errorMetric string
	totalMetric string
}

// NewMetricsEndpointChecker builds a probe for endpoint. errorMetric over
// totalMetric defines the failure ratio; pass empty strings for a pure
// reachability probe.
func NewMetricsEndpointChecker(component, endpoint, errorMetric, totalMetric string, timeout time.Duration) *MetricsEndpointChecker {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &MetricsEndpointChecker{
		component:   component,
		endpoint:    endpoint,
		client:      &http.Client{Timeout: timeout},
		errorMetric: errorMetric,
		totalMetric: totalMetric,
	}
}

func (c *MetricsEndpointChecker) Name() string { return c.component }

func (c *MetricsEndpointChecker) Check(ctx context.Context) Result {
	start := time.Now()
	mfs, err := c.fetch(ctx)
	if err != nil {
		return Result{
			Component: c.component,
			Score:     0,
			Error:     err.Error(),
			Elapsed:   time.Since(start),
		}
	}

	res := Result{
		Component: c.component,
		Score:     1.0,
		Elapsed:   time.Since(start),
		Details:   map[string]float64{},
	}

	if c.totalMetric != "" {
		total := sumFamily(mfs[c.totalMetric])
		errs := sumFamily(mfs[c.errorMetric])
		res.Details["total"] = total
		res.Details["errors"] = errs
		if total > 0 {
			res.Score = clamp01(1.0 - errs/total)
		}
	}
	return res
}

// fetch performs an HTTP GET to the endpoint and returns parsed metric families.
func (c *MetricsEndpointChecker) fetch(ctx context.Context) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition from r. A partial result
// with a non-fatal parse warning is still returned successfully.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// sumFamily adds up all counter, gauge, or untyped values in a MetricFamily.
// Returns 0 if mf is nil (metric not present in the scrape).
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		}
	}
	return total
}
