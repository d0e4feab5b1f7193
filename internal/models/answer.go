// internal/models/answer.go
package models

// SynthesizedAnswer is the final, citation-backed response for one query.
// Built exactly once per request. Degraded marks answers assembled from
// partial branch success (or from no success at all); callers decide how to
// surface degradation, it is never an error by itself.
type SynthesizedAnswer struct {
	RequestID  string       `json:"requestId"`
	Text       string       `json:"text"`
	Citations  []Citation   `json:"citations"`
	Provenance []Capability `json:"provenance"`
	Degraded   bool         `json:"degraded"`
}

// DedupCitations keeps the first occurrence of each citation identity,
// preserving order.
func DedupCitations(in []Citation) []Citation {
	seen := make(map[string]struct{}, len(in))
	out := make([]Citation, 0, len(in))
	for _, c := range in {
		if _, dup := seen[c.Ref()]; dup {
			continue
		}
		seen[c.Ref()] = struct{}{}
		out = append(out, c)
	}
	return out
}
