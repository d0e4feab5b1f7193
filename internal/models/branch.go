// internal/models/branch.go
package models

import "time"

// BranchRequest is the slice of an Intent handed to one branch. It is owned
// by the orchestrator for the duration of a single invocation.
type BranchRequest struct {
	RequestID string                 `json:"requestId"`
	Label     Capability             `json:"label"`
	Params    map[string]interface{} `json:"params"`
}

// BranchStatus is the outcome tag of a BranchResult.
type BranchStatus string

const (
	BranchSuccess BranchStatus = "success"
	BranchFailure BranchStatus = "failure"
	BranchTimeout BranchStatus = "timeout"
)

// Citation points at the source passage backing a claim in the answer.
type Citation struct {
	Source   string  `json:"source"`   // document identifier, e.g. "policy_loan_prepayment.pdf"
	Location string  `json:"location"` // position inside the document, e.g. "page=3"
	Snippet  string  `json:"snippet,omitempty"`
	Score    float64 `json:"score,omitempty"`
}

// Ref is the citation's identity used for deduplication.
func (c Citation) Ref() string {
	if c.Location == "" {
		return c.Source
	}
	return c.Source + "#" + c.Location
}

// BranchResult is the immutable outcome of one branch invocation. A missing
// record or an empty retrieval is a success with an empty payload, never a
// failure. ErrorKind carries the taxonomy code on failure.
type BranchResult struct {
	Label     Capability             `json:"label"`
	Status    BranchStatus           `json:"status"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Citations []Citation             `json:"citations,omitempty"`
	ErrorKind string                 `json:"errorKind,omitempty"`
	Detail    string                 `json:"detail,omitempty"`
	Elapsed   time.Duration          `json:"elapsed"`
}

// Empty reports whether a successful result carried no payload (the NotFound
// / no-applicable-policy case).
func (r BranchResult) Empty() bool {
	return r.Status == BranchSuccess && len(r.Payload) == 0
}
