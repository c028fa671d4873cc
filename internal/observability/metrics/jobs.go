// Package metrics emits standardised lifecycle metrics for jobs and webhook
// deliveries.
package metrics

import (
	"time"

	obserrors "github.com/hikma01/rankmath-capture-unified-sub000/internal/observability/errors"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// JobMetric captures a job lifecycle transition for metric emission.
type JobMetric struct {
	Transition string
	Priority   string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits job.transition counters and job.duration timings.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"transition": in.Transition,
		"result":     in.Result,
	}
	if in.Priority != "" {
		tags["priority"] = in.Priority
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.transition", 1, tags)
	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, cloneTags(tags))
	}
}

// DeliveryMetric captures a webhook send outcome for metric emission.
type DeliveryMetric struct {
	Outcome  string
	Duration time.Duration
}

// EmitDelivery emits webhook.send counters and webhook.duration timings.
func EmitDelivery(sink statsd.Sink, in DeliveryMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{"outcome": in.Outcome}
	sink.Count("webhook.send", 1, tags)
	if in.Duration > 0 {
		sink.Timing("webhook.duration", in.Duration, cloneTags(tags))
	}
}

func cloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
