// internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loan-navigator/internal/audit"
	"loan-navigator/internal/branches"
	apperrors "loan-navigator/internal/common/errors"
	"loan-navigator/internal/common/logger"
	"loan-navigator/internal/models"
	"loan-navigator/internal/synthesizer"
)

// fakeClassifier returns a fixed intent or error.
type fakeClassifier struct {
	intent models.Intent
	err    error
}

func (f *fakeClassifier) Classify(ctx context.Context, query models.Query) (models.Intent, error) {
	if f.err != nil {
		return models.Intent{}, f.err
	}
	return f.intent, nil
}

// fakeBranch returns a canned result, optionally after a delay.
type fakeBranch struct {
	label  models.Capability
	result models.BranchResult
	delay  time.Duration

	mu        sync.Mutex
	gotParams map[string]interface{}
}

func (f *fakeBranch) Label() models.Capability { return f.label }

func (f *fakeBranch) Execute(ctx context.Context, req models.BranchRequest) models.BranchResult {
	f.mu.Lock()
	f.gotParams = req.Params
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return models.BranchResult{
				Label:  f.label,
				Status: models.BranchTimeout,
				Detail: "canceled",
			}
		}
	}
	result := f.result
	result.Label = f.label
	return result
}

// stubbornBranch sleeps out its full delay regardless of cancellation, the
// way a blocking driver call without context support would.
type stubbornBranch struct {
	label  models.Capability
	result models.BranchResult
	delay  time.Duration
}

func (s *stubbornBranch) Label() models.Capability { return s.label }

func (s *stubbornBranch) Execute(ctx context.Context, req models.BranchRequest) models.BranchResult {
	time.Sleep(s.delay)
	result := s.result
	result.Label = s.label
	return result
}

// fakeEscalator records escalations.
type fakeEscalator struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeEscalator) Escalate(ctx context.Context, requestID, code, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, code)
}

type harness struct {
	orchestrator *Orchestrator
	sink         *audit.MemorySink
	escalator    *fakeEscalator
}

func newHarness(t *testing.T, classifier Classifier, branchSet []branches.Branch) *harness {
	sink := audit.NewMemorySink()
	recorder := audit.NewRecorder(sink, logger.NewTestLogger(t))
	escalator := &fakeEscalator{}

	synth := synthesizer.New(&synthesizer.Config{
		PreferPrimary: true,
		MaxTokens:     512,
		Temperature:   0.2,
	}, nil, logger.NewTestLogger(t)) // nil composer: deterministic template phrasing

	o := New(&Config{
		BranchTimeout:  200 * time.Millisecond,
		RequestTimeout: 500 * time.Millisecond,
	}, classifier, branchSet, synth, recorder, escalator, logger.NewTestLogger(t))

	return &harness{orchestrator: o, sink: sink, escalator: escalator}
}

func query() models.Query {
	return models.Query{RequestID: "req-1", Text: "what is my EMI and any prepayment charges?"}
}

func intentFor(labels ...models.Capability) models.Intent {
	return models.Intent{Labels: labels, Confidence: 0.9}
}

func successBranch(label models.Capability, payload map[string]interface{}, citations ...models.Citation) *fakeBranch {
	return &fakeBranch{
		label: label,
		result: models.BranchResult{
			Status:    models.BranchSuccess,
			Payload:   payload,
			Citations: citations,
			Elapsed:   5 * time.Millisecond,
		},
	}
}

// Factual lookup: single branch, clean answer, no citations from the
// datastore side.
func TestHandle_SingleBranchFactual(t *testing.T) {
	sqlBranch := successBranch(models.CapabilitySQL, map[string]interface{}{"emi": 2051.65})
	h := newHarness(t, &fakeClassifier{intent: intentFor(models.CapabilitySQL)}, []branches.Branch{sqlBranch})

	answer, err := h.orchestrator.Handle(context.Background(), query())

	require.NoError(t, err)
	assert.False(t, answer.Degraded)
	assert.Contains(t, answer.Text, "2051.65")
	assert.Empty(t, answer.Citations)
	assert.Equal(t, []models.Capability{models.CapabilitySQL}, answer.Provenance)
	assert.Empty(t, h.escalator.calls)
}

// Compound question: several branches fan out, answer carries policy
// citations, trail records every stage.
func TestHandle_MultiBranchWithCitations(t *testing.T) {
	sqlBranch := successBranch(models.CapabilitySQL, map[string]interface{}{"emi": 2051.65})
	policyBranch := successBranch(models.CapabilityPolicy,
		map[string]interface{}{"passages": []interface{}{"2% charge"}},
		models.Citation{Source: "policy_loan_prepayment.pdf", Location: "page=3"})

	h := newHarness(t, &fakeClassifier{intent: intentFor(models.CapabilitySQL, models.CapabilityPolicy)},
		[]branches.Branch{sqlBranch, policyBranch})

	answer, err := h.orchestrator.Handle(context.Background(), query())

	require.NoError(t, err)
	assert.False(t, answer.Degraded)
	require.Len(t, answer.Citations, 1)
	assert.Equal(t, "policy_loan_prepayment.pdf#page=3", answer.Citations[0].Ref())

	events := h.sink.ByRequest("req-1")
	stages := map[string]int{}
	for _, e := range events {
		stages[e.Stage]++
	}
	assert.Equal(t, 1, stages[models.StageClassify])
	assert.Equal(t, 2, stages[models.StageBranch])
	assert.Equal(t, 1, stages[models.StageSynthesize])
	assert.Equal(t, 1, stages[models.StageComplete])

	// Seq, not timestamp, orders the trail.
	seen := map[uint64]bool{}
	for _, e := range events {
		assert.False(t, seen[e.Seq], "duplicate seq %d", e.Seq)
		seen[e.Seq] = true
	}
}

// One branch fails, the rest still answer: degraded, never an error.
func TestHandle_PartialFailureDegrades(t *testing.T) {
	sqlBranch := successBranch(models.CapabilitySQL, map[string]interface{}{"emi": 2051.65})
	policyBranch := &fakeBranch{
		label: models.CapabilityPolicy,
		result: models.BranchResult{
			Status:    models.BranchFailure,
			ErrorKind: string(apperrors.ErrCodeIndexUnavailable),
			Detail:    "connection refused",
		},
	}

	h := newHarness(t, &fakeClassifier{intent: intentFor(models.CapabilitySQL, models.CapabilityPolicy)},
		[]branches.Branch{sqlBranch, policyBranch})

	answer, err := h.orchestrator.Handle(context.Background(), query())

	require.NoError(t, err)
	assert.True(t, answer.Degraded)
	assert.Contains(t, answer.Text, "2051.65")
	assert.Empty(t, h.escalator.calls, "degraded answers never escalate")
}

// A branch that outlives its own timeout is marked timed out and the rest of
// the answer survives.
func TestHandle_SlowBranchTimesOut(t *testing.T) {
	sqlBranch := successBranch(models.CapabilitySQL, map[string]interface{}{"emi": 2051.65})
	slowPolicy := &fakeBranch{
		label:  models.CapabilityPolicy,
		delay:  2 * time.Second,
		result: models.BranchResult{Status: models.BranchSuccess},
	}

	h := newHarness(t, &fakeClassifier{intent: intentFor(models.CapabilitySQL, models.CapabilityPolicy)},
		[]branches.Branch{sqlBranch, slowPolicy})

	start := time.Now()
	answer, err := h.orchestrator.Handle(context.Background(), query())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, answer.Degraded)
	assert.Less(t, elapsed, time.Second, "request must not wait out the slow branch")
}

// Every dispatched branch times out: hard error, and the trail carries one
// timeout branch event per label.
func TestHandle_AllBranchesTimeOut(t *testing.T) {
	slow := func(label models.Capability) *fakeBranch {
		return &fakeBranch{
			label:  label,
			delay:  2 * time.Second,
			result: models.BranchResult{Status: models.BranchSuccess},
		}
	}

	h := newHarness(t, &fakeClassifier{intent: intentFor(models.CapabilitySQL, models.CapabilityPolicy)},
		[]branches.Branch{slow(models.CapabilitySQL), slow(models.CapabilityPolicy)})

	_, err := h.orchestrator.Handle(context.Background(), query())

	require.Error(t, err)
	var stdErr *apperrors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, apperrors.ErrCodeOrchestrationFailed, stdErr.Code)
	require.Len(t, h.escalator.calls, 1)

	timeouts := map[models.Capability]int{}
	for _, e := range h.sink.ByRequest("req-1") {
		if e.Stage == models.StageBranch && e.Outcome == models.AuditTimeout {
			timeouts[e.Label]++
		}
	}
	assert.Equal(t, 1, timeouts[models.CapabilitySQL])
	assert.Equal(t, 1, timeouts[models.CapabilityPolicy])
}

// A branch that ignores cancellation and finishes after the request deadline
// must not add a second branch event for its label.
func TestHandle_LateBranchCompletionNotDoubleAudited(t *testing.T) {
	sqlBranch := successBranch(models.CapabilitySQL, map[string]interface{}{"emi": 2051.65})
	stubborn := &stubbornBranch{
		label:  models.CapabilityPolicy,
		delay:  800 * time.Millisecond,
		result: models.BranchResult{Status: models.BranchSuccess},
	}

	h := newHarness(t, &fakeClassifier{intent: intentFor(models.CapabilitySQL, models.CapabilityPolicy)},
		[]branches.Branch{sqlBranch, stubborn})

	answer, err := h.orchestrator.Handle(context.Background(), query())
	require.NoError(t, err)
	assert.True(t, answer.Degraded)

	// Let the abandoned goroutine run to completion before inspecting.
	time.Sleep(600 * time.Millisecond)

	policyEvents := 0
	for _, e := range h.sink.ByRequest("req-1") {
		if e.Stage == models.StageBranch && e.Label == models.CapabilityPolicy {
			policyEvents++
			assert.Equal(t, models.AuditTimeout, e.Outcome)
		}
	}
	assert.Equal(t, 1, policyEvents)
}

// Every branch failed: hard error, escalation fires.
func TestHandle_TotalFailure(t *testing.T) {
	failing := func(label models.Capability) *fakeBranch {
		return &fakeBranch{
			label: label,
			result: models.BranchResult{
				Status:    models.BranchFailure,
				ErrorKind: string(apperrors.ErrCodeDataAccessFailed),
				Detail:    "down",
			},
		}
	}

	h := newHarness(t, &fakeClassifier{intent: intentFor(models.CapabilitySQL, models.CapabilityPolicy)},
		[]branches.Branch{failing(models.CapabilitySQL), failing(models.CapabilityPolicy)})

	_, err := h.orchestrator.Handle(context.Background(), query())

	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "ORCHESTRATION_FAILED"))
	require.Len(t, h.escalator.calls, 1)
	assert.Equal(t, "ORCHESTRATION_FAILED", h.escalator.calls[0])

	events := h.sink.ByRequest("req-1")
	last := events[len(events)-1]
	assert.Equal(t, models.StageComplete, last.Stage)
	assert.Equal(t, models.AuditFailure, last.Outcome)
}

// Unhandled intent: polite refusal, no branches invoked.
func TestHandle_Unhandled(t *testing.T) {
	branch := successBranch(models.CapabilitySQL, map[string]interface{}{"emi": 1.0})
	h := newHarness(t, &fakeClassifier{intent: models.Intent{Unhandled: true, Confidence: 0.95}},
		[]branches.Branch{branch})

	answer, err := h.orchestrator.Handle(context.Background(), query())

	require.NoError(t, err)
	assert.NotEmpty(t, answer.Text)
	assert.Empty(t, answer.Citations)

	branch.mu.Lock()
	defer branch.mu.Unlock()
	assert.Nil(t, branch.gotParams, "no branch may run for an unhandled intent")
}

// Classification unusable: hard error, escalation fires.
func TestHandle_ClassificationFailed(t *testing.T) {
	h := newHarness(t, &fakeClassifier{err: apperrors.NewClassificationFailedError(assert.AnError)}, nil)

	_, err := h.orchestrator.Handle(context.Background(), query())

	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "CLASSIFICATION_FAILED"))
	require.Len(t, h.escalator.calls, 1)
	assert.Equal(t, "CLASSIFICATION_FAILED", h.escalator.calls[0])
}

// The policy branch always gets the raw query text to search with.
func TestHandle_PolicyBranchGetsQueryText(t *testing.T) {
	policyBranch := successBranch(models.CapabilityPolicy, nil)
	h := newHarness(t, &fakeClassifier{intent: intentFor(models.CapabilityPolicy)},
		[]branches.Branch{policyBranch})

	_, err := h.orchestrator.Handle(context.Background(), query())
	require.NoError(t, err)

	policyBranch.mu.Lock()
	defer policyBranch.mu.Unlock()
	assert.Equal(t, query().Text, policyBranch.gotParams["query"])
}

// Conflicting facts surface as a conflict audit event; nothing is discarded
// silently.
func TestHandle_ConflictAudited(t *testing.T) {
	sqlBranch := successBranch(models.CapabilitySQL, map[string]interface{}{"outstanding_principal": 84210.33})
	simBranch := successBranch(models.CapabilitySimulation, map[string]interface{}{"outstanding_principal": 80000.0})

	h := newHarness(t, &fakeClassifier{intent: intentFor(models.CapabilitySQL, models.CapabilitySimulation)},
		[]branches.Branch{sqlBranch, simBranch})

	answer, err := h.orchestrator.Handle(context.Background(), query())
	require.NoError(t, err)
	assert.Contains(t, answer.Text, "84210.33", "primary-ranked value wins")

	var conflictEvents []models.AuditEvent
	for _, e := range h.sink.ByRequest("req-1") {
		if e.Stage == models.StageConflict {
			conflictEvents = append(conflictEvents, e)
		}
	}
	require.Len(t, conflictEvents, 1)
	assert.Equal(t, "outstanding_principal", conflictEvents[0].Snapshot["key"])
	assert.Equal(t, string(models.CapabilitySimulation), conflictEvents[0].Snapshot["discarded_from"])
}

// Empty branch results are still successes; the answer says nothing matched.
func TestHandle_EmptyResultsAreNotFailure(t *testing.T) {
	emptySQL := successBranch(models.CapabilitySQL, nil)
	h := newHarness(t, &fakeClassifier{intent: intentFor(models.CapabilitySQL)},
		[]branches.Branch{emptySQL})

	answer, err := h.orchestrator.Handle(context.Background(), query())

	require.NoError(t, err)
	assert.False(t, answer.Degraded)
	assert.Contains(t, answer.Text, "no matching record")
	assert.Empty(t, h.escalator.calls)
}
