// internal/branches/policyretrieval/branch.go
package policyretrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	apperrors "loan-navigator/internal/common/errors"
	"loan-navigator/internal/common/logger"
	"loan-navigator/internal/models"
)

const snippetLimit = 280

// Branch retrieves policy passages for a topic from the document index. Every
// passage it returns is paired with a citation; a retrieval that matches
// nothing is a success with an empty payload.
type Branch struct {
	config *Config
	client *elasticsearch.Client
	logger logger.Logger
}

func New(config *Config, client *elasticsearch.Client, log logger.Logger) *Branch {
	return &Branch{
		config: config,
		client: client,
		logger: log.WithFields(map[string]interface{}{
			"branch": string(models.CapabilityPolicy),
		}),
	}
}

func (b *Branch) Label() models.Capability {
	return models.CapabilityPolicy
}

// searchResponse is the slice of the search envelope this branch reads.
type searchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64 `json:"_score"`
			Source struct {
				Document string `json:"document"`
				Page     int    `json:"page"`
				Text     string `json:"text"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (b *Branch) Execute(ctx context.Context, req models.BranchRequest) models.BranchResult {
	start := time.Now()

	topic, _ := req.Params["topic"].(string)
	if topic == "" {
		topic, _ = req.Params["query"].(string)
	}
	if strings.TrimSpace(topic) == "" {
		return models.BranchResult{
			Label:     models.CapabilityPolicy,
			Status:    models.BranchFailure,
			ErrorKind: string(apperrors.ErrCodeInvalidParameters),
			Detail:    "no topic or query text to search the policy index with",
			Elapsed:   time.Since(start),
		}
	}

	if b.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.Timeout)
		defer cancel()
	}

	queryBody := map[string]interface{}{
		"size":      b.config.TopK,
		"min_score": b.config.MinScore,
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  topic,
				"fields": []string{"title^2", "text"},
				"type":   "best_fields",
			},
		},
	}
	body, _ := json.Marshal(queryBody)

	res, err := b.client.Search(
		b.client.Search.WithContext(ctx),
		b.client.Search.WithIndex(b.config.Index),
		b.client.Search.WithBody(strings.NewReader(string(body))),
	)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return models.BranchResult{
				Label:   models.CapabilityPolicy,
				Status:  models.BranchTimeout,
				Detail:  "policy index search exceeded deadline",
				Elapsed: elapsed,
			}
		}
		b.logger.Error("Policy index unreachable", map[string]interface{}{
			"request_id": req.RequestID,
			"index":      b.config.Index,
			"error":      err.Error(),
		})
		return models.BranchResult{
			Label:     models.CapabilityPolicy,
			Status:    models.BranchFailure,
			ErrorKind: string(apperrors.ErrCodeIndexUnavailable),
			Detail:    err.Error(),
			Elapsed:   elapsed,
		}
	}
	defer res.Body.Close()

	if res.IsError() {
		return models.BranchResult{
			Label:     models.CapabilityPolicy,
			Status:    models.BranchFailure,
			ErrorKind: string(apperrors.ErrCodeIndexUnavailable),
			Detail:    fmt.Sprintf("search returned %s", res.Status()),
			Elapsed:   elapsed,
		}
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return models.BranchResult{
			Label:     models.CapabilityPolicy,
			Status:    models.BranchFailure,
			ErrorKind: string(apperrors.ErrCodeIndexUnavailable),
			Detail:    fmt.Sprintf("decode search response: %v", err),
			Elapsed:   elapsed,
		}
	}

	if len(parsed.Hits.Hits) == 0 {
		// No applicable policy: the synthesizer says so, it is not an error.
		return models.BranchResult{
			Label:   models.CapabilityPolicy,
			Status:  models.BranchSuccess,
			Elapsed: elapsed,
		}
	}

	passages := make([]map[string]interface{}, 0, len(parsed.Hits.Hits))
	citations := make([]models.Citation, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		passages = append(passages, map[string]interface{}{
			"document": hit.Source.Document,
			"page":     hit.Source.Page,
			"text":     hit.Source.Text,
			"score":    hit.Score,
		})
		citations = append(citations, models.Citation{
			Source:   hit.Source.Document,
			Location: fmt.Sprintf("page=%d", hit.Source.Page),
			Snippet:  truncate(hit.Source.Text, snippetLimit),
			Score:    hit.Score,
		})
	}

	return models.BranchResult{
		Label:     models.CapabilityPolicy,
		Status:    models.BranchSuccess,
		Payload:   map[string]interface{}{"passages": passages},
		Citations: citations,
		Elapsed:   elapsed,
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
