// internal/genai/client.go
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"loan-navigator/internal/common/logger"
	"loan-navigator/internal/models"
)

var (
	ErrUnreachable       = errors.New("GENAI_UNREACHABLE")
	ErrTimeout           = errors.New("GENAI_TIMEOUT")
	ErrRateLimited       = errors.New("GENAI_RATE_LIMITED")
	ErrMalformedResponse = errors.New("GENAI_MALFORMED_RESPONSE")
)

type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

// Client talks to the external inference service. It owns transport-level
// retries: network errors, 5xx and 429 are transient and retried with
// exponential backoff; decode failures are not.
type Client struct {
	config *Config
	client *http.Client
	logger logger.Logger
}

func NewClient(config *Config, log logger.Logger) *Client {
	return &Client{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		logger: log.With(map[string]interface{}{
			"component": "genai",
		}),
	}
}

// IntentResponse is the structured classification the service must return.
// It is untrusted until schema-validated by the caller.
type IntentResponse struct {
	Labels     []string                          `json:"labels"`
	Params     map[string]map[string]interface{} `json:"params"`
	Confidence float64                           `json:"confidence"`
}

// ParseIntent asks the model to classify a query. The raw body is returned so
// the caller can schema-validate before decoding into a trusted structure.
func (c *Client) ParseIntent(ctx context.Context, query string, history []models.Turn) (json.RawMessage, error) {
	requestBody := map[string]interface{}{
		"query": query,
	}
	if len(history) > 0 {
		requestBody["history"] = history
	}

	return c.post(ctx, "/api/ai/parse-intent", requestBody)
}

// Compose asks the model to phrase an answer from the facts the synthesizer
// selected. The model never chooses facts or citations.
func (c *Client) Compose(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	requestBody := map[string]interface{}{
		"prompt":      prompt,
		"max_tokens":  maxTokens,
		"temperature": temperature,
	}

	raw, err := c.post(ctx, "/api/ai/generate", requestBody)
	if err != nil {
		return "", err
	}

	var apiResponse struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &apiResponse); err != nil {
		return "", fmt.Errorf("%w: decode error: %v", ErrMalformedResponse, err)
	}
	return apiResponse.Text, nil
}

func (c *Client) post(ctx context.Context, path string, requestBody map[string]interface{}) (json.RawMessage, error) {
	body, _ := json.Marshal(requestBody)

	var resp *http.Response
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100*(1<<(attempt-1))) * time.Millisecond
			c.logger.Warn("Retrying inference request", map[string]interface{}{
				"path":    path,
				"attempt": attempt,
				"backoff": backoff.String(),
				"error":   fmt.Sprintf("%v", lastErr),
			})
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ErrTimeout
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.config.BaseURL+path, bytes.NewBuffer(body))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.config.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
		}

		resp, lastErr = c.client.Do(req)

		if ctx.Err() != nil ||
			errors.Is(lastErr, context.DeadlineExceeded) ||
			errors.Is(lastErr, context.Canceled) {
			return nil, ErrTimeout
		}

		if lastErr == nil {
			if resp.StatusCode == http.StatusOK {
				break
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusTooManyRequests {
				// Rate limiting is transient; keep retrying
				lastErr = ErrRateLimited
			} else {
				lastErr = fmt.Errorf("status %d", resp.StatusCode)
			}
			resp = nil
		}
	}

	if lastErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		if errors.Is(lastErr, ErrRateLimited) {
			return nil, fmt.Errorf("%w: retries exhausted", ErrRateLimited)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, lastErr)
	}

	if resp == nil {
		return nil, fmt.Errorf("%w: no successful response after retries", ErrUnreachable)
	}
	defer resp.Body.Close()

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode error: %v", ErrMalformedResponse, err)
	}

	return raw, nil
}
