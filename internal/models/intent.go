// internal/models/intent.go
package models

// Capability identifies one specialist branch.
type Capability string

const (
	CapabilitySQL        Capability = "sql"
	CapabilityPolicy     Capability = "policy"
	CapabilitySimulation Capability = "simulation"
)

// KnownCapabilities lists every capability the orchestrator can dispatch to.
// The set is closed: branches are fixed variants, not plugins.
var KnownCapabilities = []Capability{
	CapabilitySQL,
	CapabilityPolicy,
	CapabilitySimulation,
}

// IsKnownCapability reports whether label names a dispatchable branch.
func IsKnownCapability(label Capability) bool {
	for _, c := range KnownCapabilities {
		if c == label {
			return true
		}
	}
	return false
}

// Intent is the classifier's reading of a query: a ranked, non-empty set of
// capability labels plus the parameters extracted for each label. An Intent
// is produced once per query and never mutated; re-classification produces a
// new value. Unhandled marks the "no actionable capability" outcome, which is
// normal, not an error.
type Intent struct {
	Labels     []Capability                      `json:"labels"`
	Params     map[Capability]map[string]interface{} `json:"params"`
	Confidence float64                           `json:"confidence"`
	Unhandled  bool                              `json:"unhandled"`
}

// Primary returns the first-ranked label. Only meaningful when !Unhandled.
func (in Intent) Primary() Capability {
	if len(in.Labels) == 0 {
		return ""
	}
	return in.Labels[0]
}

// ParamsFor returns the extracted parameters for one label, never nil.
func (in Intent) ParamsFor(label Capability) map[string]interface{} {
	if p, ok := in.Params[label]; ok && p != nil {
		return p
	}
	return map[string]interface{}{}
}
