// internal/models/audit.go
package models

import "time"

// Stage names used in audit events.
const (
	StageClassify   = "classify"
	StageBranch     = "branch"
	StageSynthesize = "synthesize"
	StageConflict   = "conflict"
	StageComplete   = "complete"
)

// AuditOutcome is the recorded result of one stage.
type AuditOutcome string

const (
	AuditSuccess AuditOutcome = "success"
	AuditFailure AuditOutcome = "failure"
	AuditTimeout AuditOutcome = "timeout"
)

// AuditEvent is one append-only record in a request's trail. Seq is a
// per-request monotonically increasing number assigned at completion of the
// stage; it, not Timestamp, defines event order so trails stay reproducible
// when branches finish out of submission order.
type AuditEvent struct {
	Seq       uint64                 `json:"seq"`
	RequestID string                 `json:"requestId"`
	Stage     string                 `json:"stage"`
	Label     Capability             `json:"label,omitempty"`
	Outcome   AuditOutcome           `json:"outcome"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
	Snapshot  map[string]interface{} `json:"snapshot,omitempty"`
}
