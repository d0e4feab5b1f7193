// internal/branches/simulation/branch.go
package simulation

import (
	"context"
	"fmt"
	"math"
	"time"

	apperrors "loan-navigator/internal/common/errors"
	"loan-navigator/internal/common/logger"
	"loan-navigator/internal/models"
)

// Kind names one deterministic what-if computation.
type Kind string

const (
	KindEMI              Kind = "emi"
	KindPrepayment       Kind = "prepayment"
	KindTenureChange     Kind = "tenure_change"
	KindTopupEligibility Kind = "topup_eligibility"
)

// Branch runs deterministic financial what-if computations. It touches no
// external system: same parameters, same result. A bad parameter is a
// failure naming that parameter so the caller can ask the user to clarify.
type Branch struct {
	config *Config
	logger logger.Logger
}

func New(config *Config, log logger.Logger) *Branch {
	return &Branch{
		config: config,
		logger: log.WithFields(map[string]interface{}{
			"branch": string(models.CapabilitySimulation),
		}),
	}
}

func (b *Branch) Label() models.Capability {
	return models.CapabilitySimulation
}

func (b *Branch) Execute(ctx context.Context, req models.BranchRequest) models.BranchResult {
	start := time.Now()

	kind, _ := req.Params["kind"].(string)

	var (
		payload map[string]interface{}
		err     *apperrors.StandardError
	)
	switch Kind(kind) {
	case KindEMI:
		payload, err = b.computeEMI(req.Params)
	case KindPrepayment:
		payload, err = b.computePrepayment(req.Params)
	case KindTenureChange:
		payload, err = b.computeTenureChange(req.Params)
	case KindTopupEligibility:
		payload, err = b.computeTopupEligibility(req.Params)
	default:
		err = apperrors.NewInvalidParametersError("kind",
			fmt.Sprintf("%q is not a supported simulation", kind))
	}

	elapsed := time.Since(start)
	if err != nil {
		b.logger.Warn("Simulation rejected", map[string]interface{}{
			"request_id": req.RequestID,
			"kind":       kind,
			"detail":     err.Details,
		})
		return models.BranchResult{
			Label:     models.CapabilitySimulation,
			Status:    models.BranchFailure,
			ErrorKind: string(err.Code),
			Detail:    err.Error(),
			Elapsed:   elapsed,
		}
	}

	return models.BranchResult{
		Label:   models.CapabilitySimulation,
		Status:  models.BranchSuccess,
		Payload: payload,
		Elapsed: elapsed,
	}
}

func (b *Branch) computeEMI(params map[string]interface{}) (map[string]interface{}, *apperrors.StandardError) {
	principal, serr := positiveParam(params, "principal")
	if serr != nil {
		return nil, serr
	}
	rate, serr := rateParam(params, "annual_rate_pct")
	if serr != nil {
		return nil, serr
	}
	tenure, serr := monthsParam(params, "tenure_months")
	if serr != nil {
		return nil, serr
	}

	installment := emi(principal, rate, tenure)
	total := round2(installment * float64(tenure))
	return map[string]interface{}{
		"kind":            string(KindEMI),
		"emi":             installment,
		"total_payment":   total,
		"total_interest":  round2(total - principal),
		"principal":       principal,
		"annual_rate_pct": rate,
		"tenure_months":   tenure,
	}, nil
}

func (b *Branch) computePrepayment(params map[string]interface{}) (map[string]interface{}, *apperrors.StandardError) {
	outstanding, serr := positiveParam(params, "outstanding_principal")
	if serr != nil {
		return nil, serr
	}
	rate, serr := rateParam(params, "annual_rate_pct")
	if serr != nil {
		return nil, serr
	}
	monthsRemaining, serr := monthsParam(params, "months_remaining")
	if serr != nil {
		return nil, serr
	}
	amount, serr := positiveParam(params, "amount")
	if serr != nil {
		return nil, serr
	}
	if amount >= outstanding {
		return nil, apperrors.NewInvalidParametersError("amount",
			"prepayment amount must be below the outstanding principal; use foreclosure to close the loan")
	}

	currentEMI := emi(outstanding, rate, monthsRemaining)
	newOutstanding := round2(outstanding - amount)

	// Keeping the tenure lowers the installment.
	newEMI := emi(newOutstanding, rate, monthsRemaining)

	// Keeping the installment shortens the tenure.
	payload := map[string]interface{}{
		"kind":                  string(KindPrepayment),
		"outstanding_principal": outstanding,
		"amount":                amount,
		"new_outstanding":       newOutstanding,
		"current_emi":           currentEMI,
		"new_emi_same_tenure":   newEMI,
		"emi_reduction":         round2(currentEMI - newEMI),
	}
	if newTenure, ok := remainingTenure(newOutstanding, rate, currentEMI); ok {
		payload["new_tenure_same_emi"] = newTenure
		payload["months_saved"] = monthsRemaining - newTenure
	}
	return payload, nil
}

func (b *Branch) computeTenureChange(params map[string]interface{}) (map[string]interface{}, *apperrors.StandardError) {
	outstanding, serr := positiveParam(params, "outstanding_principal")
	if serr != nil {
		return nil, serr
	}
	rate, serr := rateParam(params, "annual_rate_pct")
	if serr != nil {
		return nil, serr
	}
	newTenure, serr := monthsParam(params, "new_tenure_months")
	if serr != nil {
		return nil, serr
	}

	newEMI := emi(outstanding, rate, newTenure)
	total := round2(newEMI * float64(newTenure))
	return map[string]interface{}{
		"kind":                  string(KindTenureChange),
		"outstanding_principal": outstanding,
		"new_tenure_months":     newTenure,
		"new_emi":               newEMI,
		"total_payment":         total,
		"total_interest":        round2(total - outstanding),
	}, nil
}

func (b *Branch) computeTopupEligibility(params map[string]interface{}) (map[string]interface{}, *apperrors.StandardError) {
	outstanding, serr := positiveParam(params, "outstanding_principal")
	if serr != nil {
		return nil, serr
	}

	maxTopup := round2(outstanding * 0.5)
	eligible := maxTopup >= b.config.MinTopupAmount
	payload := map[string]interface{}{
		"kind":                  string(KindTopupEligibility),
		"outstanding_principal": outstanding,
		"eligible":              eligible,
		"max_topup":             maxTopup,
		"min_topup_amount":      b.config.MinTopupAmount,
	}
	if !eligible {
		payload["max_topup"] = 0.0
		payload["reason"] = "half the outstanding principal falls below the minimum top-up amount"
	}
	return payload, nil
}

// numParam pulls a numeric parameter, accepting the types JSON decoding and
// direct construction both produce.
func numParam(params map[string]interface{}, name string) (float64, bool) {
	switch v := params[name].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func positiveParam(params map[string]interface{}, name string) (float64, *apperrors.StandardError) {
	v, ok := numParam(params, name)
	if !ok {
		return 0, apperrors.NewInvalidParametersError(name, "missing or not a number")
	}
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, apperrors.NewInvalidParametersError(name, "must be a positive amount")
	}
	return v, nil
}

func rateParam(params map[string]interface{}, name string) (float64, *apperrors.StandardError) {
	v, ok := numParam(params, name)
	if !ok {
		return 0, apperrors.NewInvalidParametersError(name, "missing or not a number")
	}
	if v < 0 || v > 100 || math.IsNaN(v) {
		return 0, apperrors.NewInvalidParametersError(name, "must be a percentage between 0 and 100")
	}
	return v, nil
}

func monthsParam(params map[string]interface{}, name string) (int, *apperrors.StandardError) {
	v, ok := numParam(params, name)
	if !ok {
		return 0, apperrors.NewInvalidParametersError(name, "missing or not a number")
	}
	if v < 1 || v != math.Trunc(v) || v > 600 {
		return 0, apperrors.NewInvalidParametersError(name, "must be a whole number of months between 1 and 600")
	}
	return int(v), nil
}
