package types

// Telemetry metric names.
// All components MUST use these constants.
const (
	// Metric Names
	MetricProviderError   = "ProviderError"
	MetricProviderCall    = "ProviderCall"
	MetricWebhookReceived = "WebhookReceived"
	MetricCreditAllocated = "CreditAllocated"
	MetricAPILatency      = "APILatency"

	// Dimension Keys
	DimErrorType = "ErrorType"
	DimEndpoint  = "Endpoint"
	DimStatus    = "Status"
	DimEventType = "EventType"

	// Metric Namespace
	MetricNamespace = "StripeHome"
)
