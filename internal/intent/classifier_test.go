// internal/intent/classifier_test.go
package intent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loan-navigator/internal/common/logger"
	"loan-navigator/internal/models"
)

// fakeParser returns a canned response or error.
type fakeParser struct {
	response string
	err      error
	gotQuery string
}

func (f *fakeParser) ParseIntent(ctx context.Context, query string, history []models.Turn) (json.RawMessage, error) {
	f.gotQuery = query
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.response), nil
}

func newTestClassifier(t *testing.T, parser IntentParser) *Classifier {
	c, err := NewClassifier(parser, logger.NewTestLogger(t))
	require.NoError(t, err)
	return c
}

func TestClassifier_Classify_SingleLabel(t *testing.T) {
	parser := &fakeParser{response: `{
		"labels": ["sql"],
		"confidence": 0.91,
		"params": {"sql": {"loan_id": "L123", "query_kind": "loan_details"}}
	}`}
	c := newTestClassifier(t, parser)

	intent, err := c.Classify(context.Background(), models.Query{
		RequestID: "req-1",
		Text:      "show my loan L123",
	})

	assert.NoError(t, err)
	assert.False(t, intent.Unhandled)
	assert.Equal(t, []models.Capability{models.CapabilitySQL}, intent.Labels)
	assert.Equal(t, models.CapabilitySQL, intent.Primary())
	assert.Equal(t, 0.91, intent.Confidence)
	assert.Equal(t, "L123", intent.ParamsFor(models.CapabilitySQL)["loan_id"])
	assert.Equal(t, "show my loan L123", parser.gotQuery)
}

func TestClassifier_Classify_MultiLabelRankPreserved(t *testing.T) {
	parser := &fakeParser{response: `{
		"labels": ["simulation", "policy", "sql"],
		"confidence": 0.84,
		"params": {
			"simulation": {"kind": "prepayment", "loan_id": "L9", "amount": 5000},
			"policy": {"topic": "prepayment charges"}
		}
	}`}
	c := newTestClassifier(t, parser)

	intent, err := c.Classify(context.Background(), models.Query{RequestID: "req-2", Text: "if I prepay 5000, what changes, and any charges?"})

	assert.NoError(t, err)
	assert.Equal(t, []models.Capability{
		models.CapabilitySimulation,
		models.CapabilityPolicy,
		models.CapabilitySQL,
	}, intent.Labels)
	assert.Equal(t, models.CapabilitySimulation, intent.Primary())
	assert.Equal(t, "prepayment charges", intent.ParamsFor(models.CapabilityPolicy)["topic"])
	// A label without params still resolves to an empty, non-nil map.
	assert.NotNil(t, intent.ParamsFor(models.CapabilitySQL))
	assert.Empty(t, intent.ParamsFor(models.CapabilitySQL))
}

func TestClassifier_Classify_DuplicateLabelsDeduped(t *testing.T) {
	parser := &fakeParser{response: `{
		"labels": ["sql", "sql", "policy"],
		"confidence": 0.7
	}`}
	c := newTestClassifier(t, parser)

	intent, err := c.Classify(context.Background(), models.Query{RequestID: "req-3", Text: "q"})

	assert.NoError(t, err)
	assert.Equal(t, []models.Capability{models.CapabilitySQL, models.CapabilityPolicy}, intent.Labels)
}

func TestClassifier_Classify_EmptyLabelsIsUnhandled(t *testing.T) {
	parser := &fakeParser{response: `{
		"labels": [],
		"confidence": 0.97
	}`}
	c := newTestClassifier(t, parser)

	intent, err := c.Classify(context.Background(), models.Query{RequestID: "req-4", Text: "what's the weather like?"})

	assert.NoError(t, err, "unhandled is a normal outcome, not an error")
	assert.True(t, intent.Unhandled)
	assert.Empty(t, intent.Labels)
	assert.Equal(t, 0.97, intent.Confidence)
}

func TestClassifier_Classify_UnknownLabelRejected(t *testing.T) {
	parser := &fakeParser{response: `{
		"labels": ["sql", "web_search"],
		"confidence": 0.8
	}`}
	c := newTestClassifier(t, parser)

	_, err := c.Classify(context.Background(), models.Query{RequestID: "req-5", Text: "q"})

	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "CLASSIFICATION_FAILED"))
}

func TestClassifier_Classify_SchemaViolations(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"confidence above one", `{"labels": ["sql"], "confidence": 1.4}`},
		{"negative confidence", `{"labels": ["sql"], "confidence": -0.1}`},
		{"missing labels", `{"confidence": 0.5}`},
		{"missing confidence", `{"labels": ["sql"]}`},
		{"labels not an array", `{"labels": "sql", "confidence": 0.5}`},
		{"params not an object", `{"labels": ["sql"], "confidence": 0.5, "params": []}`},
		{"param entry not an object", `{"labels": ["sql"], "confidence": 0.5, "params": {"sql": 7}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClassifier(t, &fakeParser{response: tt.response})

			_, err := c.Classify(context.Background(), models.Query{RequestID: "req-6", Text: "q"})

			assert.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), "CLASSIFICATION_FAILED"))
		})
	}
}

func TestClassifier_Classify_ServiceUnusable(t *testing.T) {
	c := newTestClassifier(t, &fakeParser{err: errors.New("GENAI_UNREACHABLE: retries exhausted")})

	_, err := c.Classify(context.Background(), models.Query{RequestID: "req-7", Text: "q"})

	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "CLASSIFICATION_FAILED"))
}

func TestClassifier_Classify_ParamsForUnlistedLabelDropped(t *testing.T) {
	parser := &fakeParser{response: `{
		"labels": ["sql"],
		"confidence": 0.9,
		"params": {"policy": {"topic": "stray"}}
	}`}
	c := newTestClassifier(t, parser)

	intent, err := c.Classify(context.Background(), models.Query{RequestID: "req-8", Text: "q"})

	assert.NoError(t, err)
	assert.Empty(t, intent.ParamsFor(models.CapabilityPolicy))
}
