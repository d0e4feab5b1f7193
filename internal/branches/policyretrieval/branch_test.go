// internal/branches/policyretrieval/branch_test.go
package policyretrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "loan-navigator/internal/common/errors"
	"loan-navigator/internal/common/logger"
	"loan-navigator/internal/models"
)

func newTestBranch(t *testing.T, handler http.HandlerFunc) (*Branch, *httptest.Server) {
	// The v8 client verifies the product header on every response.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{server.URL},
	})
	require.NoError(t, err)

	branch := New(&Config{
		Index:    "policy_docs",
		TopK:     4,
		MinScore: 0.5,
		Timeout:  5 * time.Second,
	}, client, logger.NewTestLogger(t))
	return branch, server
}

func searchHit(document string, page int, text string, score float64) map[string]interface{} {
	return map[string]interface{}{
		"_score": score,
		"_source": map[string]interface{}{
			"document": document,
			"page":     page,
			"text":     text,
		},
	}
}

func searchBody(hits ...map[string]interface{}) string {
	body := map[string]interface{}{
		"hits": map[string]interface{}{
			"total": map[string]interface{}{"value": len(hits)},
			"hits":  hits,
		},
	}
	data, _ := json.Marshal(body)
	return string(data)
}

func TestBranch_Execute_PassagesWithCitations(t *testing.T) {
	branch, _ := newTestBranch(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "policy_docs")

		var reqBody map[string]interface{}
		json.NewDecoder(r.Body).Decode(&reqBody)
		assert.Equal(t, float64(4), reqBody["size"])
		assert.Equal(t, 0.5, reqBody["min_score"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(searchBody(
			searchHit("policy_loan_prepayment.pdf", 3, "Prepayment above two EMIs incurs a 2% charge on the prepaid amount.", 4.1),
			searchHit("policy_loan_prepayment.pdf", 4, "Prepayment is permitted after six months of repayment.", 2.7),
		)))
	})

	result := branch.Execute(context.Background(), models.BranchRequest{
		RequestID: "req-1",
		Label:     models.CapabilityPolicy,
		Params:    map[string]interface{}{"topic": "prepayment charges"},
	})

	assert.Equal(t, models.BranchSuccess, result.Status)
	require.Len(t, result.Citations, 2)
	assert.Equal(t, "policy_loan_prepayment.pdf", result.Citations[0].Source)
	assert.Equal(t, "page=3", result.Citations[0].Location)
	assert.Equal(t, "policy_loan_prepayment.pdf#page=3", result.Citations[0].Ref())
	assert.Equal(t, 4.1, result.Citations[0].Score)

	passages, ok := result.Payload["passages"].([]map[string]interface{})
	require.True(t, ok)
	assert.Len(t, passages, 2)
	assert.Equal(t, "policy_loan_prepayment.pdf", passages[0]["document"])
}

func TestBranch_Execute_QueryTextFallback(t *testing.T) {
	var gotQuery string
	branch, _ := newTestBranch(t, func(w http.ResponseWriter, r *http.Request) {
		var reqBody map[string]interface{}
		json.NewDecoder(r.Body).Decode(&reqBody)
		mm := reqBody["query"].(map[string]interface{})["multi_match"].(map[string]interface{})
		gotQuery = mm["query"].(string)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(searchBody()))
	})

	result := branch.Execute(context.Background(), models.BranchRequest{
		RequestID: "req-2",
		Label:     models.CapabilityPolicy,
		Params:    map[string]interface{}{"query": "what are foreclosure charges?"},
	})

	assert.Equal(t, models.BranchSuccess, result.Status)
	assert.Equal(t, "what are foreclosure charges?", gotQuery)
}

func TestBranch_Execute_NoHitsIsEmptySuccess(t *testing.T) {
	branch, _ := newTestBranch(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(searchBody()))
	})

	result := branch.Execute(context.Background(), models.BranchRequest{
		RequestID: "req-3",
		Label:     models.CapabilityPolicy,
		Params:    map[string]interface{}{"topic": "moon landings"},
	})

	assert.Equal(t, models.BranchSuccess, result.Status)
	assert.True(t, result.Empty(), "no applicable policy is a clean empty result")
	assert.Empty(t, result.Citations)
}

func TestBranch_Execute_MissingTopic(t *testing.T) {
	branch, _ := newTestBranch(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("index should not be queried without a topic")
	})

	result := branch.Execute(context.Background(), models.BranchRequest{
		RequestID: "req-4",
		Label:     models.CapabilityPolicy,
		Params:    map[string]interface{}{"topic": "   "},
	})

	assert.Equal(t, models.BranchFailure, result.Status)
	assert.Equal(t, string(apperrors.ErrCodeInvalidParameters), result.ErrorKind)
}

func TestBranch_Execute_IndexUnreachable(t *testing.T) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{"http://127.0.0.1:1"},
	})
	require.NoError(t, err)

	branch := New(&Config{
		Index:    "policy_docs",
		TopK:     4,
		MinScore: 0.5,
		Timeout:  2 * time.Second,
	}, client, logger.NewTestLogger(t))

	result := branch.Execute(context.Background(), models.BranchRequest{
		RequestID: "req-5",
		Label:     models.CapabilityPolicy,
		Params:    map[string]interface{}{"topic": "prepayment"},
	})

	assert.Equal(t, models.BranchFailure, result.Status)
	assert.Equal(t, string(apperrors.ErrCodeIndexUnavailable), result.ErrorKind)
}

func TestBranch_Execute_SearchError(t *testing.T) {
	branch, _ := newTestBranch(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"type":"search_phase_execution_exception"}}`)
	})

	result := branch.Execute(context.Background(), models.BranchRequest{
		RequestID: "req-6",
		Label:     models.CapabilityPolicy,
		Params:    map[string]interface{}{"topic": "prepayment"},
	})

	assert.Equal(t, models.BranchFailure, result.Status)
	assert.Equal(t, string(apperrors.ErrCodeIndexUnavailable), result.ErrorKind)
}

func TestBranch_Execute_SnippetTruncated(t *testing.T) {
	long := ""
	for i := 0; i < 40; i++ {
		long += "policy text "
	}

	branch, _ := newTestBranch(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(searchBody(searchHit("policy_topup.pdf", 1, long, 1.2))))
	})

	result := branch.Execute(context.Background(), models.BranchRequest{
		RequestID: "req-7",
		Label:     models.CapabilityPolicy,
		Params:    map[string]interface{}{"topic": "topup"},
	})

	assert.Equal(t, models.BranchSuccess, result.Status)
	require.Len(t, result.Citations, 1)
	assert.LessOrEqual(t, len(result.Citations[0].Snippet), snippetLimit+3)
}
