package types

// Telemetry metric names. All recorders MUST use these constants.
const (
	MetricClassificationLatency = "ClassificationLatency"
	MetricClassificationFailure = "ClassificationFailure"
	MetricPostureAlert          = "PostureAlert"
	MetricDroppedTick           = "DroppedTick"
	MetricAlertDelivery         = "AlertDelivery"

	// Dimension Keys
	DimChannel = "Channel"
	DimResult  = "Result"

	// DefaultMetricNamespace is used when no namespace is configured.
	DefaultMetricNamespace = "PostureWatch"
)
