// internal/models/query.go
package models

// Turn is one prior exchange in a conversation, oldest first.
type Turn struct {
	Role string `json:"role"` // "user" or "assistant"
	Text string `json:"text"`
}

// Query is a single customer question. It is immutable once received;
// multi-turn context travels with the query instead of living in any
// process-wide state.
type Query struct {
	RequestID string `json:"requestId"`
	Text      string `json:"text"`
	History   []Turn `json:"history,omitempty"`
}
