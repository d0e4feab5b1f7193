// Package branches defines the contract every specialist branch implements.
package branches

import (
	"context"

	"loan-navigator/internal/models"
)

// Branch executes one capability for a single request. Execute never returns
// a Go error: every outcome, including infrastructure failure, is absorbed
// into the BranchResult so the orchestrator can always gather a full set.
type Branch interface {
	Label() models.Capability
	Execute(ctx context.Context, req models.BranchRequest) models.BranchResult
}
