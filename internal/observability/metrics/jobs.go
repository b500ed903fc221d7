package metrics

import (
	"time"

	obserrors "github.com/contentops/jobcore/internal/observability/errors"
	"github.com/contentops/jobcore/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess  = "success"
	ResultError    = "error"
	ResultNoop     = "noop"
	ResultConflict = "conflict"
)

// JobMetric captures a job lifecycle event for emission.
type JobMetric struct {
	JobType    string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits standardised job lifecycle metrics.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"job_type":   in.JobType,
		"transition": in.Transition,
		"result":     in.Result,
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// SweepMetric captures one recovery sweep pass.
type SweepMetric struct {
	Sweep    string
	Result   string
	Affected int64
	Duration time.Duration
	Err      error
}

// EmitSweep emits metrics for a startup, staleness, or retention sweep.
func EmitSweep(sink statsd.Sink, in SweepMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"sweep":  in.Sweep,
		"result": in.Result,
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("sweep.run", 1, tags)
	if in.Affected > 0 {
		sink.Count("sweep.affected", in.Affected, CloneTags(tags))
	}
	if in.Duration > 0 {
		sink.Timing("sweep.duration", in.Duration, CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
