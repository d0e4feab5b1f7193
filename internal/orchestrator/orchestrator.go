// Package orchestrator is the supervisor for one query: classify, fan out to
// the specialist branches concurrently, gather every result, synthesize. One
// slow or dead branch degrades the answer; it never takes the request down.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"loan-navigator/internal/audit"
	"loan-navigator/internal/branches"
	apperrors "loan-navigator/internal/common/errors"
	"loan-navigator/internal/common/logger"
	"loan-navigator/internal/common/metrics"
	"loan-navigator/internal/models"
	"loan-navigator/internal/synthesizer"
)

type Config struct {
	BranchTimeout  time.Duration
	RequestTimeout time.Duration
}

// Classifier is the slice of the intent package the orchestrator needs.
type Classifier interface {
	Classify(ctx context.Context, query models.Query) (models.Intent, error)
}

// Escalator is notified on hard failure only. May be nil.
type Escalator interface {
	Escalate(ctx context.Context, requestID, code, detail string)
}

type Orchestrator struct {
	config     *Config
	classifier Classifier
	branches   map[models.Capability]branches.Branch
	synth      *synthesizer.Synthesizer
	recorder   *audit.Recorder
	escalator  Escalator
	logger     logger.Logger
}

func New(config *Config, classifier Classifier, branchSet []branches.Branch, synth *synthesizer.Synthesizer, recorder *audit.Recorder, escalator Escalator, log logger.Logger) *Orchestrator {
	byLabel := make(map[models.Capability]branches.Branch, len(branchSet))
	for _, b := range branchSet {
		byLabel[b.Label()] = b
	}
	return &Orchestrator{
		config:     config,
		classifier: classifier,
		branches:   byLabel,
		synth:      synth,
		recorder:   recorder,
		escalator:  escalator,
		logger: log.WithFields(map[string]interface{}{
			"component": "orchestrator",
		}),
	}
}

// Handle runs one query end to end. It returns an error only when nothing
// usable could be produced: classification unusable, or every branch failed.
// Unhandled intents and degraded answers are normal returns.
func (o *Orchestrator) Handle(ctx context.Context, query models.Query) (models.SynthesizedAnswer, error) {
	start := time.Now()
	trail := o.recorder.Begin(query.RequestID)

	if o.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.RequestTimeout)
		defer cancel()
	}

	intent, err := o.classify(ctx, trail, query)
	if err != nil {
		o.finishFailed(trail, query, start, apperrors.ErrCodeClassificationFailed, err.Error())
		return models.SynthesizedAnswer{}, err
	}

	if intent.Unhandled {
		answer := o.synth.Unhandled(query)
		trail.Record(ctx, models.StageSynthesize, "", models.AuditSuccess, 0, map[string]interface{}{
			"unhandled": true,
		})
		o.finish(ctx, trail, start, "unhandled")
		return answer, nil
	}

	results := o.fanOut(ctx, trail, query, intent)

	successes := 0
	var failureDetails []string
	for _, r := range results {
		if r.Status == models.BranchSuccess {
			successes++
		} else {
			failureDetails = append(failureDetails, fmt.Sprintf("%s: %s %s", r.Label, r.Status, r.Detail))
		}
	}

	if successes == 0 {
		detail := strings.Join(failureDetails, "; ")
		o.finishFailed(trail, query, start, apperrors.ErrCodeOrchestrationFailed, detail)
		return models.SynthesizedAnswer{}, apperrors.NewOrchestrationFailedError(detail)
	}

	synthStart := time.Now()
	answer, conflicts := o.synth.Synthesize(ctx, query, intent, results)
	for _, c := range conflicts {
		trail.Record(ctx, models.StageConflict, c.Kept, models.AuditSuccess, 0, map[string]interface{}{
			"key":             c.Key,
			"kept_value":      c.KeptValue,
			"discarded_from":  string(c.Discarded),
			"discarded_value": c.DiscardedValue,
		})
	}
	trail.Record(ctx, models.StageSynthesize, "", models.AuditSuccess, time.Since(synthStart), map[string]interface{}{
		"degraded":  answer.Degraded,
		"citations": len(answer.Citations),
	})

	outcome := "success"
	if answer.Degraded {
		outcome = "degraded"
	}
	o.finish(ctx, trail, start, outcome)
	return answer, nil
}

func (o *Orchestrator) classify(ctx context.Context, trail *audit.Trail, query models.Query) (models.Intent, error) {
	classifyStart := time.Now()
	intent, err := o.classifier.Classify(ctx, query)
	elapsed := time.Since(classifyStart)

	if err != nil {
		metrics.ClassificationsTotal.WithLabelValues("failed").Inc()
		trail.Record(ctx, models.StageClassify, "", models.AuditFailure, elapsed, map[string]interface{}{
			"error": err.Error(),
		})
		return models.Intent{}, err
	}

	outcome := "handled"
	if intent.Unhandled {
		outcome = "unhandled"
	}
	metrics.ClassificationsTotal.WithLabelValues(outcome).Inc()
	trail.Record(ctx, models.StageClassify, "", models.AuditSuccess, elapsed, map[string]interface{}{
		"labels":     intent.Labels,
		"confidence": intent.Confidence,
		"unhandled":  intent.Unhandled,
	})
	return intent, nil
}

// fanOut runs every labeled branch concurrently and gathers all results in
// intent rank order. A branch that is still running when the request deadline
// hits is recorded as a timeout; its goroutine is abandoned to the canceled
// context rather than waited on.
func (o *Orchestrator) fanOut(ctx context.Context, trail *audit.Trail, query models.Query, intent models.Intent) []models.BranchResult {
	var wg sync.WaitGroup
	var mu sync.Mutex
	results := make([]models.BranchResult, len(intent.Labels))
	filled := make([]bool, len(intent.Labels))

	for i, label := range intent.Labels {
		branch, ok := o.branches[label]
		if !ok {
			// Closed capability set; a missing branch is a wiring bug.
			results[i] = models.BranchResult{
				Label:     label,
				Status:    models.BranchFailure,
				ErrorKind: string(apperrors.ErrCodeOrchestrationFailed),
				Detail:    fmt.Sprintf("no branch registered for %q", label),
			}
			filled[i] = true
			trail.Record(ctx, models.StageBranch, label, models.AuditFailure, 0, map[string]interface{}{
				"status":     string(models.BranchFailure),
				"error_kind": results[i].ErrorKind,
			})
			continue
		}

		params := intent.ParamsFor(label)
		if label == models.CapabilityPolicy {
			if _, has := params["query"]; !has {
				merged := make(map[string]interface{}, len(params)+1)
				for k, v := range params {
					merged[k] = v
				}
				merged["query"] = query.Text
				params = merged
			}
		}

		wg.Add(1)
		go func(i int, label models.Capability, params map[string]interface{}) {
			defer wg.Done()

			bctx := ctx
			if o.config.BranchTimeout > 0 {
				var cancel context.CancelFunc
				bctx, cancel = context.WithTimeout(ctx, o.config.BranchTimeout)
				defer cancel()
			}

			result := branch.Execute(bctx, models.BranchRequest{
				RequestID: query.RequestID,
				Label:     label,
				Params:    params,
			})

			mu.Lock()
			if filled[i] {
				// The harvest already recorded this slot as timed out;
				// a late result gets dropped, not double-audited.
				mu.Unlock()
				return
			}
			results[i] = result
			filled[i] = true
			mu.Unlock()

			metrics.BranchInvocations.WithLabelValues(string(label), string(result.Status)).Inc()
			metrics.BranchDuration.WithLabelValues(string(label)).Observe(result.Elapsed.Seconds())
			// The request context may be done by now; the audit append
			// still has to land.
			trail.Record(context.WithoutCancel(ctx), models.StageBranch, label, outcomeForStatus(result.Status), result.Elapsed, map[string]interface{}{
				"status":     string(result.Status),
				"error_kind": result.ErrorKind,
				"empty":      result.Empty(),
			})
		}(i, label, params)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		o.logger.Warn("Request deadline hit before all branches finished", map[string]interface{}{
			"request_id": query.RequestID,
		})
	}

	mu.Lock()
	defer mu.Unlock()
	gathered := make([]models.BranchResult, len(results))
	copy(gathered, results)
	for i, ok := range filled {
		if !ok {
			filled[i] = true
			gathered[i] = models.BranchResult{
				Label:   intent.Labels[i],
				Status:  models.BranchTimeout,
				Detail:  "request deadline hit before branch finished",
				Elapsed: o.config.RequestTimeout,
			}
			trail.Record(context.WithoutCancel(ctx), models.StageBranch, intent.Labels[i], models.AuditTimeout, o.config.RequestTimeout, map[string]interface{}{
				"status": string(models.BranchTimeout),
			})
			metrics.BranchInvocations.WithLabelValues(string(intent.Labels[i]), string(models.BranchTimeout)).Inc()
		}
	}
	return gathered
}

func (o *Orchestrator) finish(ctx context.Context, trail *audit.Trail, start time.Time, outcome string) {
	total := time.Since(start)
	trail.Record(ctx, models.StageComplete, "", models.AuditSuccess, total, map[string]interface{}{
		"outcome": outcome,
	})
	metrics.RequestsTotal.WithLabelValues(outcome).Inc()
	metrics.RequestDuration.WithLabelValues(outcome).Observe(total.Seconds())
}

func (o *Orchestrator) finishFailed(trail *audit.Trail, query models.Query, start time.Time, code apperrors.ErrorCode, detail string) {
	total := time.Since(start)
	// The request context may already be dead; auditing still has to land.
	ctx := context.Background()
	trail.Record(ctx, models.StageComplete, "", models.AuditFailure, total, map[string]interface{}{
		"code":   string(code),
		"detail": detail,
	})
	metrics.RequestsTotal.WithLabelValues("failed").Inc()
	metrics.RequestDuration.WithLabelValues("failed").Observe(total.Seconds())

	o.logger.Error("Request failed outright", map[string]interface{}{
		"request_id": query.RequestID,
		"code":       string(code),
		"detail":     detail,
	})
	if o.escalator != nil {
		o.escalator.Escalate(ctx, query.RequestID, string(code), detail)
	}
}

func outcomeForStatus(status models.BranchStatus) models.AuditOutcome {
	switch status {
	case models.BranchSuccess:
		return models.AuditSuccess
	case models.BranchTimeout:
		return models.AuditTimeout
	default:
		return models.AuditFailure
	}
}
