// internal/branches/sqlanalyst/queries/loan.go
package queries

import (
	"context"
	"database/sql"
	"time"
)

func LoanDetails(ctx context.Context, db *sql.DB, loanID string) (map[string]interface{}, int, error) {
	if loanID == "" {
		return nil, 0, ErrMissingParam
	}

	var (
		id, customerID       string
		principal            float64
		annualRatePct        float64
		tenureMonths         int
		monthsPaid           int
		outstandingPrincipal float64
		nextDueDate          time.Time
		nextDueAmount        float64
		topupEligible        bool
	)

	err := db.QueryRowContext(ctx, `
		SELECT loan_id, customer_id, principal, annual_rate_pct, tenure_months,
		       months_paid, outstanding_principal, next_due_date, next_due_amount,
		       topup_eligible
		FROM loans
		WHERE loan_id = $1`, loanID).Scan(
		&id, &customerID, &principal, &annualRatePct, &tenureMonths,
		&monthsPaid, &outstandingPrincipal, &nextDueDate, &nextDueAmount,
		&topupEligible,
	)
	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	result := map[string]interface{}{
		"loan_id":               id,
		"customer_id":           customerID,
		"principal":             principal,
		"annual_rate_pct":       annualRatePct,
		"tenure_months":         tenureMonths,
		"months_paid":           monthsPaid,
		"outstanding_principal": outstandingPrincipal,
		"next_due_date":         nextDueDate.Format("2006-01-02"),
		"next_due_amount":       nextDueAmount,
		"topup_eligible":        topupEligible,
	}
	return result, 1, nil
}

func NextInstallment(ctx context.Context, db *sql.DB, loanID string) (map[string]interface{}, int, error) {
	if loanID == "" {
		return nil, 0, ErrMissingParam
	}

	var (
		nextDueDate   time.Time
		nextDueAmount float64
	)

	err := db.QueryRowContext(ctx, `
		SELECT next_due_date, next_due_amount
		FROM loans
		WHERE loan_id = $1`, loanID).Scan(&nextDueDate, &nextDueAmount)
	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	result := map[string]interface{}{
		"loan_id":         loanID,
		"next_due_date":   nextDueDate.Format("2006-01-02"),
		"next_due_amount": nextDueAmount,
	}
	return result, 1, nil
}

func OutstandingBalance(ctx context.Context, db *sql.DB, loanID string) (map[string]interface{}, int, error) {
	if loanID == "" {
		return nil, 0, ErrMissingParam
	}

	var (
		outstandingPrincipal float64
		monthsPaid           int
		tenureMonths         int
	)

	err := db.QueryRowContext(ctx, `
		SELECT outstanding_principal, months_paid, tenure_months
		FROM loans
		WHERE loan_id = $1`, loanID).Scan(&outstandingPrincipal, &monthsPaid, &tenureMonths)
	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	result := map[string]interface{}{
		"loan_id":               loanID,
		"outstanding_principal": outstandingPrincipal,
		"months_paid":           monthsPaid,
		"months_remaining":      tenureMonths - monthsPaid,
	}
	return result, 1, nil
}
