// Package stats provides a unified interface for collecting metrics.
package stats

// Metric names used throughout the pipeline.
const (
	// Invocation outcomes.
	MetricInvocations     = "listpress_invocations_total"
	MetricSucceeded       = "listpress_succeeded_total"
	MetricRejected        = "listpress_rejected_total"
	MetricTransformFailed = "listpress_transform_failed_total"
	MetricInvalid         = "listpress_invalid_total"
	MetricMetadataFailed  = "listpress_metadata_failed_total"

	// Stream volume, counted over uncompressed data.
	MetricBytes = "listpress_bytes_total"
	MetricLines = "listpress_lines_total"

	// Storage side effects.
	MetricCollisions     = "listpress_collisions_total"
	MetricProbeFailures  = "listpress_probe_failures_total"
	MetricCleanupFailure = "listpress_cleanup_failures_total"

	// Latencies, in seconds.
	MetricFirstByteSeconds = "listpress_first_byte_seconds"
	MetricDurationSeconds  = "listpress_duration_seconds"

	// Heap in use after the last invocation, when heap stats are enabled.
	MetricHeapAllocBytes = "listpress_heap_alloc_bytes"

	// Poller metrics.
	MetricMessagesReceived  = "listpress_sqs_messages_received_total"
	MetricMessagesDuplicate = "listpress_sqs_messages_duplicate_total"
	MetricMessagesInvalid   = "listpress_sqs_messages_invalid_total"
)

// Help returns a description for a known metric name, or the name itself.
func Help(name string) string {
	if h, ok := help[name]; ok {
		return h
	}
	return name
}

var help = map[string]string{
	MetricInvocations:       "Pipeline invocations started.",
	MetricSucceeded:         "Invocations that stored a canonical object.",
	MetricRejected:          "Invocations rejected for an unsupported content type.",
	MetricTransformFailed:   "Invocations that failed while streaming.",
	MetricInvalid:           "Invocations whose output was empty or had no line breaks.",
	MetricMetadataFailed:    "Invocations that failed to attach metadata.",
	MetricBytes:             "Uncompressed bytes streamed.",
	MetricLines:             "Line breaks streamed.",
	MetricCollisions:        "Target keys rewritten to avoid an existing object.",
	MetricProbeFailures:     "Existence probes that failed and were treated as absent.",
	MetricCleanupFailure:    "Best-effort deletes that failed.",
	MetricFirstByteSeconds:  "Latency from invocation start to the first streamed byte.",
	MetricDurationSeconds:   "Latency from invocation start to end of stream.",
	MetricHeapAllocBytes:    "Heap bytes allocated after the last invocation.",
	MetricMessagesReceived:  "SQS messages received.",
	MetricMessagesDuplicate: "SQS messages skipped as already processed.",
	MetricMessagesInvalid:   "SQS messages without a usable record.",
}

// Collector defines the interface for collecting metrics.
type Collector interface {
	// IncCounter increments a counter metric by delta.
	IncCounter(name string, delta int64)

	// SetGauge sets a gauge metric to value.
	SetGauge(name string, value int64)

	// ObserveHistogram records a value in a histogram metric.
	ObserveHistogram(name string, value float64)
}
