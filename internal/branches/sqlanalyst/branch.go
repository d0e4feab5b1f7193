// internal/branches/sqlanalyst/branch.go
package sqlanalyst

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"loan-navigator/internal/branches/sqlanalyst/queries"
	apperrors "loan-navigator/internal/common/errors"
	"loan-navigator/internal/common/logger"
	"loan-navigator/internal/models"
)

// loanIDPattern bounds what reaches the datastore. Queries are parameterized
// regardless; this rejects garbage before a round trip.
var loanIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,32}$`)

// Branch answers structured questions against the loan datastore. A loan
// that does not exist is a success with an empty payload; only transport and
// execution errors are failures. This branch never emits citations: numbers
// read from the system of record are not passages.
type Branch struct {
	config *Config
	db     *sql.DB
	logger logger.Logger
}

func New(config *Config, db *sql.DB, log logger.Logger) *Branch {
	return &Branch{
		config: config,
		db:     db,
		logger: log.WithFields(map[string]interface{}{
			"branch": string(models.CapabilitySQL),
		}),
	}
}

func (b *Branch) Label() models.Capability {
	return models.CapabilitySQL
}

func (b *Branch) Execute(ctx context.Context, req models.BranchRequest) models.BranchResult {
	start := time.Now()

	loanID, _ := req.Params["loan_id"].(string)
	if !loanIDPattern.MatchString(loanID) {
		return models.BranchResult{
			Label:     models.CapabilitySQL,
			Status:    models.BranchFailure,
			ErrorKind: string(apperrors.ErrCodeInvalidParameters),
			Detail:    fmt.Sprintf("loan_id %q is not a valid loan identifier", loanID),
			Elapsed:   time.Since(start),
		}
	}

	kind := queries.KindLoanDetails
	if k, ok := req.Params["query_kind"].(string); ok && k != "" {
		kind = queries.QueryKind(k)
	}
	if _, exists := queries.Registry[kind]; !exists {
		return models.BranchResult{
			Label:     models.CapabilitySQL,
			Status:    models.BranchFailure,
			ErrorKind: string(apperrors.ErrCodeInvalidParameters),
			Detail:    fmt.Sprintf("query_kind %q is not supported", kind),
			Elapsed:   time.Since(start),
		}
	}

	if b.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.Timeout)
		defer cancel()
	}

	data, rowCount, err := queries.Execute(ctx, b.db, kind, loanID)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			b.logger.Warn("Loan datastore query timed out", map[string]interface{}{
				"request_id": req.RequestID,
				"query_kind": string(kind),
				"elapsed":    elapsed.String(),
			})
			return models.BranchResult{
				Label:   models.CapabilitySQL,
				Status:  models.BranchTimeout,
				Detail:  "datastore query exceeded deadline",
				Elapsed: elapsed,
			}
		}
		b.logger.Error("Loan datastore query failed", map[string]interface{}{
			"request_id": req.RequestID,
			"query_kind": string(kind),
			"error":      err.Error(),
		})
		return models.BranchResult{
			Label:     models.CapabilitySQL,
			Status:    models.BranchFailure,
			ErrorKind: string(apperrors.ErrCodeDataAccessFailed),
			Detail:    err.Error(),
			Elapsed:   elapsed,
		}
	}

	if rowCount == 0 {
		// Unknown loan: clean empty result, the synthesizer phrases it.
		return models.BranchResult{
			Label:   models.CapabilitySQL,
			Status:  models.BranchSuccess,
			Elapsed: elapsed,
		}
	}

	return models.BranchResult{
		Label:   models.CapabilitySQL,
		Status:  models.BranchSuccess,
		Payload: data,
		Elapsed: elapsed,
	}
}
