package external

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stripehome/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// PrometheusMetrics records provider call telemetry and API request latency
// to a dedicated Prometheus registry.
//
// Series exposed:
//   - stripe_calls_total{endpoint, status} -- one increment per guarded call
//   - stripe_errors_total{error_type}      -- one increment per classified error
//   - http_request_duration_seconds{method, endpoint, status}
type PrometheusMetrics struct {
	registry *prometheus.Registry
	calls    *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewPrometheusMetrics creates a PrometheusMetrics with its own registry,
// including the standard process and Go runtime collectors.
func NewPrometheusMetrics() *PrometheusMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &PrometheusMetrics{
		registry: reg,
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stripe_calls_total",
			Help: "Count of payment provider API calls by endpoint and outcome.",
		}, []string{"endpoint", "status"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stripe_errors_total",
			Help: "Count of classified payment provider errors by type.",
		}, []string{"error_type"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method, route, and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint", "status"}),
	}
	reg.MustRegister(m.calls, m.errors, m.latency)
	return m
}

// Handler returns the HTTP handler serving the registry in the Prometheus
// exposition format. Mounted at /metrics by the server chassis.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCall implements CallRecorder.
func (m *PrometheusMetrics) RecordCall(endpoint, status string) {
	m.calls.WithLabelValues(endpoint, status).Inc()
}

// RecordError implements CallRecorder.
func (m *PrometheusMetrics) RecordError(errorType string) {
	m.errors.WithLabelValues(errorType).Inc()
}

// RecordRequest implements the server chassis MetricsCollector.
func (m *PrometheusMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	m.latency.WithLabelValues(method, endpoint, status).Observe(duration.Seconds())
}

// CloudWatchMetrics emits the same telemetry to AWS CloudWatch. Used in
// deployments where scraping is unavailable. Publish failures are logged and
// swallowed; metrics are best-effort.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing to the standard
// service namespace.
func NewCloudWatchMetrics(client CloudWatchClient, logger *slog.Logger) *CloudWatchMetrics {
	return &CloudWatchMetrics{
		client:    client,
		namespace: types.MetricNamespace,
		logger:    logger,
	}
}

// RecordCall emits a ProviderCall datum with Endpoint and Status dimensions.
func (m *CloudWatchMetrics) RecordCall(endpoint, status string) {
	m.put(types.MetricProviderCall, 1, cwtypes.StandardUnitCount, []cwtypes.Dimension{
		{Name: aws.String(types.DimEndpoint), Value: aws.String(endpoint)},
		{Name: aws.String(types.DimStatus), Value: aws.String(status)},
	})
}

// RecordError emits a ProviderError datum with the ErrorType dimension.
func (m *CloudWatchMetrics) RecordError(errorType string) {
	m.put(types.MetricProviderError, 1, cwtypes.StandardUnitCount, []cwtypes.Dimension{
		{Name: aws.String(types.DimErrorType), Value: aws.String(errorType)},
	})
}

// RecordRequest emits an APILatency datum in milliseconds.
func (m *CloudWatchMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	m.put(types.MetricAPILatency, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds, []cwtypes.Dimension{
		{Name: aws.String(types.DimEndpoint), Value: aws.String(method + " " + endpoint)},
		{Name: aws.String(types.DimStatus), Value: aws.String(status)},
	})
}

func (m *CloudWatchMetrics) put(name string, value float64, unit cwtypes.StandardUnit, dims []cwtypes.Dimension) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(name),
				Value:      aws.Float64(value),
				Unit:       unit,
				Dimensions: dims,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to publish metric",
			"metric", name,
			"error", err.Error(),
		)
	}
}

// NoopMetrics discards all telemetry. Used when the metrics backend is
// configured off and in unit tests.
type NoopMetrics struct{}

func (NoopMetrics) RecordCall(endpoint, status string) {}

func (NoopMetrics) RecordError(errorType string) {}

func (NoopMetrics) RecordRequest(method, endpoint, status string, d time.Duration) {}

var (
	_ CallRecorder = (*PrometheusMetrics)(nil)
	_ CallRecorder = (*CloudWatchMetrics)(nil)
	_ CallRecorder = NoopMetrics{}
)
