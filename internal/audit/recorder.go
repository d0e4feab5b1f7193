// internal/audit/recorder.go
package audit

import (
	"context"
	"regexp"
	"sync/atomic"
	"time"

	"loan-navigator/internal/common/logger"
	"loan-navigator/internal/common/metrics"
	"loan-navigator/internal/models"
)

const snapshotTextLimit = 512

// accountLikePattern matches digit runs long enough to be account or card
// numbers. Snapshots are stored for audit, not for re-identification.
var accountLikePattern = regexp.MustCompile(`\d{9,}`)

// Recorder creates per-request trails and owns the sink. A sink failure is
// logged and counted, never surfaced: auditing must not take a request down
// with it.
type Recorder struct {
	sink   Sink
	logger logger.Logger
}

func NewRecorder(sink Sink, log logger.Logger) *Recorder {
	return &Recorder{
		sink: sink,
		logger: log.WithFields(map[string]interface{}{
			"component": "audit",
		}),
	}
}

// Begin opens the trail for one request. Each trail carries its own sequence
// counter; events from concurrent branches get distinct, gapless numbers.
func (r *Recorder) Begin(requestID string) *Trail {
	return &Trail{
		recorder:  r,
		requestID: requestID,
	}
}

func (r *Recorder) Close() error {
	return r.sink.Close()
}

// Trail is the audit handle for a single request. Safe for concurrent use.
type Trail struct {
	recorder  *Recorder
	requestID string
	seq       atomic.Uint64
}

// Record appends one event. Seq is assigned here, at the moment the stage
// completes, which is what makes the trail ordering reproducible.
func (t *Trail) Record(ctx context.Context, stage string, label models.Capability, outcome models.AuditOutcome, duration time.Duration, snapshot map[string]interface{}) {
	event := models.AuditEvent{
		Seq:       t.seq.Add(1),
		RequestID: t.requestID,
		Stage:     stage,
		Label:     label,
		Outcome:   outcome,
		Timestamp: time.Now().UTC(),
		Duration:  duration,
		Snapshot:  redactSnapshot(snapshot),
	}

	if err := t.recorder.sink.Append(ctx, event); err != nil {
		metrics.AuditAppendFailures.Inc()
		t.recorder.logger.Error("Audit append failed", map[string]interface{}{
			"request_id": t.requestID,
			"stage":      stage,
			"seq":        event.Seq,
			"error":      err.Error(),
		})
	}
}

// redactSnapshot masks account-like values and truncates long text before
// anything reaches the sink.
func redactSnapshot(snapshot map[string]interface{}) map[string]interface{} {
	if snapshot == nil {
		return nil
	}
	out := make(map[string]interface{}, len(snapshot))
	for k, v := range snapshot {
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		masked := accountLikePattern.ReplaceAllString(val, "[redacted]")
		if len(masked) > snapshotTextLimit {
			masked = masked[:snapshotTextLimit] + "..."
		}
		return masked
	case map[string]interface{}:
		return redactSnapshot(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = redactValue(item)
		}
		return out
	default:
		return v
	}
}
