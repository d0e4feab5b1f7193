// Package audit records the per-request decision trail: what was classified,
// which branches ran, what the synthesizer did. Events are ordered by a
// per-request sequence number, never by wall clock, so trails read the same
// no matter how branch goroutines interleave.
package audit

import (
	"context"

	"loan-navigator/internal/models"
)

// Sink is the append-only destination for audit events. Appends must be safe
// for concurrent use; they are called from branch goroutines.
type Sink interface {
	Append(ctx context.Context, event models.AuditEvent) error
	Close() error
}
