// internal/branches/sqlanalyst/queries/registry.go
package queries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrMissingParam     = errors.New("missing required parameter")
	ErrUnknownQueryKind = errors.New("unknown query kind")
)

// QueryKind names one read-only lookup against the loan datastore.
type QueryKind string

const (
	KindLoanDetails        QueryKind = "loan_details"
	KindNextInstallment    QueryKind = "next_installment"
	KindOutstandingBalance QueryKind = "outstanding_balance"
)

// QueryFunc returns: data, rowCount, error. A zero rowCount with a nil error
// means the loan does not exist, which callers treat as a clean empty result.
type QueryFunc func(ctx context.Context, db *sql.DB, loanID string) (map[string]interface{}, int, error)

var Registry = map[QueryKind]QueryFunc{
	KindLoanDetails:        LoanDetails,
	KindNextInstallment:    NextInstallment,
	KindOutstandingBalance: OutstandingBalance,
}

func Execute(ctx context.Context, db *sql.DB, kind QueryKind, loanID string) (map[string]interface{}, int, error) {
	fn, exists := Registry[kind]
	if !exists {
		return nil, 0, fmt.Errorf("%w: %s", ErrUnknownQueryKind, kind)
	}
	return fn(ctx, db, loanID)
}
