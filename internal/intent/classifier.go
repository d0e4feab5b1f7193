// internal/intent/classifier.go
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	apperrors "loan-navigator/internal/common/errors"
	"loan-navigator/internal/common/logger"
	"loan-navigator/internal/genai"
	"loan-navigator/internal/models"
)

// responseSchema constrains what the inference service may return. The model
// output is untrusted: labels outside the closed capability set or a
// confidence outside [0,1] reject the whole response.
const responseSchema = `{
	"type": "object",
	"required": ["labels", "confidence"],
	"properties": {
		"labels": {
			"type": "array",
			"items": {
				"type": "string",
				"enum": ["sql", "policy", "simulation"]
			}
		},
		"confidence": {
			"type": "number",
			"minimum": 0,
			"maximum": 1
		},
		"params": {
			"type": "object",
			"additionalProperties": {
				"type": "object"
			}
		}
	}
}`

// IntentParser is the slice of the inference client the classifier needs.
type IntentParser interface {
	ParseIntent(ctx context.Context, query string, history []models.Turn) (json.RawMessage, error)
}

// Classifier turns a raw query into a ranked Intent. An empty label set is a
// normal outcome (Unhandled), not a failure; only an unusable inference
// service or an invalid response structure is an error.
type Classifier struct {
	parser IntentParser
	schema *gojsonschema.Schema
	logger logger.Logger
}

func NewClassifier(parser IntentParser, log logger.Logger) (*Classifier, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(responseSchema))
	if err != nil {
		return nil, fmt.Errorf("compile intent schema: %w", err)
	}
	return &Classifier{
		parser: parser,
		schema: schema,
		logger: log.WithFields(map[string]interface{}{
			"component": "classifier",
		}),
	}, nil
}

// Classify produces the Intent for a query. The returned Intent is never
// mutated afterwards; callers re-run Classify to get a new reading.
func (c *Classifier) Classify(ctx context.Context, query models.Query) (models.Intent, error) {
	raw, err := c.parser.ParseIntent(ctx, query.Text, query.History)
	if err != nil {
		c.logger.Error("Intent service unusable", map[string]interface{}{
			"request_id": query.RequestID,
			"error":      err.Error(),
		})
		return models.Intent{}, apperrors.NewClassificationFailedError(err)
	}

	result, err := c.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return models.Intent{}, apperrors.NewClassificationFailedError(err)
	}
	if !result.Valid() {
		var reasons []string
		for _, desc := range result.Errors() {
			reasons = append(reasons, desc.String())
		}
		c.logger.Warn("Intent response rejected by schema", map[string]interface{}{
			"request_id": query.RequestID,
			"violations": reasons,
		})
		return models.Intent{}, apperrors.NewClassificationFailedError(
			fmt.Errorf("schema violations: %s", strings.Join(reasons, "; ")))
	}

	var decoded genai.IntentResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return models.Intent{}, apperrors.NewClassificationFailedError(err)
	}

	intent := buildIntent(decoded)

	c.logger.Info("Query classified", map[string]interface{}{
		"request_id": query.RequestID,
		"labels":     intent.Labels,
		"confidence": intent.Confidence,
		"unhandled":  intent.Unhandled,
	})
	return intent, nil
}

// buildIntent converts a validated response into the internal Intent,
// deduplicating labels while preserving rank order.
func buildIntent(decoded genai.IntentResponse) models.Intent {
	seen := make(map[models.Capability]bool, len(decoded.Labels))
	labels := make([]models.Capability, 0, len(decoded.Labels))
	for _, l := range decoded.Labels {
		label := models.Capability(l)
		if seen[label] {
			continue
		}
		seen[label] = true
		labels = append(labels, label)
	}

	if len(labels) == 0 {
		return models.Intent{
			Unhandled:  true,
			Confidence: decoded.Confidence,
		}
	}

	params := make(map[models.Capability]map[string]interface{}, len(labels))
	for name, p := range decoded.Params {
		label := models.Capability(name)
		if seen[label] && p != nil {
			params[label] = p
		}
	}

	return models.Intent{
		Labels:     labels,
		Params:     params,
		Confidence: decoded.Confidence,
	}
}
