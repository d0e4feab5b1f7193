// Package escalation notifies the support desk when a request dies outright:
// classification unusable or every branch failed. Degraded answers do not
// escalate, they are still answers.
package escalation

import (
	"context"
	"encoding/json"
	"time"

	"loan-navigator/internal/common/logger"
)

const noticeSubject = "loan-navigator request failure"

type Config struct {
	TopicARN string
}

// Publisher is the slice of the SNS client the notifier needs.
type Publisher interface {
	PublishMessage(ctx context.Context, topicARN, subject, message string) (string, error)
}

// Notifier publishes hard-failure notices to an SNS topic. Publishing is
// best-effort: a failed publish is logged and dropped, never retried on the
// request path.
type Notifier struct {
	config    *Config
	publisher Publisher
	logger    logger.Logger
}

func NewNotifier(config *Config, publisher Publisher, log logger.Logger) *Notifier {
	return &Notifier{
		config:    config,
		publisher: publisher,
		logger: log.WithFields(map[string]interface{}{
			"component": "escalation",
		}),
	}
}

type notice struct {
	RequestID string    `json:"requestId"`
	Code      string    `json:"code"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

func (n *Notifier) Escalate(ctx context.Context, requestID, code, detail string) {
	body, _ := json.Marshal(notice{
		RequestID: requestID,
		Code:      code,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})

	messageID, err := n.publisher.PublishMessage(ctx, n.config.TopicARN, noticeSubject, string(body))
	if err != nil {
		n.logger.Error("Escalation publish failed", map[string]interface{}{
			"request_id": requestID,
			"code":       code,
			"error":      err.Error(),
		})
		return
	}

	n.logger.Info("Request escalated", map[string]interface{}{
		"request_id": requestID,
		"code":       code,
		"message_id": messageID,
	})
}
