// Package synthesizer assembles the final answer from branch results. It owns
// fact selection, conflict resolution and the citation list; the inference
// service only phrases text around facts chosen here and can never add or
// drop a citation.
package synthesizer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"loan-navigator/internal/common/logger"
	"loan-navigator/internal/models"
)

// Composer is the slice of the inference client the synthesizer needs.
type Composer interface {
	Compose(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
}

type Config struct {
	// PreferPrimary resolves fact conflicts in favor of the branch ranked
	// first by the classifier. When false the later-ranked value wins.
	PreferPrimary bool
	MaxTokens     int
	Temperature   float64
}

// Conflict records a fact that two branches disagreed on and which value was
// kept. The caller audits these; discarding a value silently is forbidden.
type Conflict struct {
	Key            string
	Kept           models.Capability
	KeptValue      interface{}
	Discarded      models.Capability
	DiscardedValue interface{}
}

type Synthesizer struct {
	config   *Config
	composer Composer
	logger   logger.Logger
}

func New(config *Config, composer Composer, log logger.Logger) *Synthesizer {
	return &Synthesizer{
		config:   config,
		composer: composer,
		logger: log.WithFields(map[string]interface{}{
			"component": "synthesizer",
		}),
	}
}

// Unhandled produces the answer for a query no capability covers.
func (s *Synthesizer) Unhandled(query models.Query) models.SynthesizedAnswer {
	return models.SynthesizedAnswer{
		RequestID: query.RequestID,
		Text:      "I can help with loan details, policy questions, and repayment what-if calculations, but I could not map this question to any of those. Could you rephrase it in terms of your loan?",
		Citations: []models.Citation{},
	}
}

// Synthesize builds the answer from whatever the branches produced. Results
// must be in intent rank order. Failed and timed-out branches degrade the
// answer but never erase the successful parts.
func (s *Synthesizer) Synthesize(ctx context.Context, query models.Query, intent models.Intent, results []models.BranchResult) (models.SynthesizedAnswer, []Conflict) {
	facts, provenance, conflicts := s.mergeFacts(results)
	citations := s.collectCitations(results)

	degraded := false
	var gaps []string
	for _, r := range results {
		switch r.Status {
		case models.BranchFailure:
			degraded = true
			gaps = append(gaps, fmt.Sprintf("the %s lookup failed", r.Label))
		case models.BranchTimeout:
			degraded = true
			gaps = append(gaps, fmt.Sprintf("the %s lookup timed out", r.Label))
		}
	}

	text := s.phrase(ctx, query, results, facts, gaps)

	answer := models.SynthesizedAnswer{
		RequestID:  query.RequestID,
		Text:       text,
		Citations:  citations,
		Provenance: provenance,
		Degraded:   degraded,
	}

	if len(conflicts) > 0 {
		s.logger.Warn("Branch facts conflicted", map[string]interface{}{
			"request_id": query.RequestID,
			"conflicts":  len(conflicts),
		})
	}
	return answer, conflicts
}

// mergeFacts folds successful payloads into one fact map in rank order,
// recording every overwrite as a conflict.
func (s *Synthesizer) mergeFacts(results []models.BranchResult) (map[string]interface{}, []models.Capability, []Conflict) {
	facts := make(map[string]interface{})
	owner := make(map[string]models.Capability)
	var provenance []models.Capability
	var conflicts []Conflict

	for _, r := range results {
		if r.Status != models.BranchSuccess {
			continue
		}
		provenance = append(provenance, r.Label)
		for k, v := range r.Payload {
			prev, exists := facts[k]
			if !exists {
				facts[k] = v
				owner[k] = r.Label
				continue
			}
			if equalFact(prev, v) {
				continue
			}
			if s.config.PreferPrimary {
				// Earlier rank already holds the key; the new value loses.
				conflicts = append(conflicts, Conflict{
					Key:            k,
					Kept:           owner[k],
					KeptValue:      prev,
					Discarded:      r.Label,
					DiscardedValue: v,
				})
			} else {
				conflicts = append(conflicts, Conflict{
					Key:            k,
					Kept:           r.Label,
					KeptValue:      v,
					Discarded:      owner[k],
					DiscardedValue: prev,
				})
				facts[k] = v
				owner[k] = r.Label
			}
		}
	}
	return facts, provenance, conflicts
}

func equalFact(a, b interface{}) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// collectCitations gathers branch citations in result order, deduplicated by
// identity.
func (s *Synthesizer) collectCitations(results []models.BranchResult) []models.Citation {
	var all []models.Citation
	for _, r := range results {
		if r.Status == models.BranchSuccess {
			all = append(all, r.Citations...)
		}
	}
	deduped := models.DedupCitations(all)
	if deduped == nil {
		return []models.Citation{}
	}
	return deduped
}

// phrase asks the inference service to word the answer around the selected
// facts. On any inference failure it falls back to a deterministic template:
// an ugly answer beats no answer.
func (s *Synthesizer) phrase(ctx context.Context, query models.Query, results []models.BranchResult, facts map[string]interface{}, gaps []string) string {
	fallback := s.templateAnswer(results, facts, gaps)

	if s.composer == nil {
		return fallback
	}

	prompt := s.buildPrompt(query, facts, gaps)
	text, err := s.composer.Compose(ctx, prompt, s.config.MaxTokens, s.config.Temperature)
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil {
			s.logger.Warn("Falling back to template answer", map[string]interface{}{
				"request_id": query.RequestID,
				"error":      err.Error(),
			})
		}
		return fallback
	}
	return text
}

func (s *Synthesizer) buildPrompt(query models.Query, facts map[string]interface{}, gaps []string) string {
	var b strings.Builder
	b.WriteString("You are a loan support assistant. Answer the customer's question using ONLY the verified facts below. ")
	b.WriteString("Do not invent numbers, policies, or sources.\n\n")
	b.WriteString("Question: ")
	b.WriteString(query.Text)
	b.WriteString("\n\nVerified facts:\n")
	for _, k := range sortedKeys(facts) {
		fmt.Fprintf(&b, "- %s: %v\n", k, facts[k])
	}
	if len(facts) == 0 {
		b.WriteString("- (none found)\n")
	}
	if len(gaps) > 0 {
		b.WriteString("\nMention briefly that parts of the answer are unavailable: ")
		b.WriteString(strings.Join(gaps, "; "))
		b.WriteString(".\n")
	}
	return b.String()
}

// templateAnswer is the deterministic rendering used when the inference
// service cannot phrase the answer.
func (s *Synthesizer) templateAnswer(results []models.BranchResult, facts map[string]interface{}, gaps []string) string {
	var b strings.Builder

	allEmpty := true
	for _, r := range results {
		if r.Status == models.BranchSuccess && !r.Empty() {
			allEmpty = false
			break
		}
	}

	switch {
	case len(facts) > 0:
		b.WriteString("Here is what I found:\n")
		for _, k := range sortedKeys(facts) {
			fmt.Fprintf(&b, "- %s: %v\n", humanizeKey(k), facts[k])
		}
	case allEmpty && len(gaps) == 0:
		b.WriteString("I checked, but there is no matching record or applicable policy for this question.")
	default:
		b.WriteString("I could not assemble a complete answer for this question.")
	}

	if len(gaps) > 0 {
		b.WriteString("\nNote: ")
		b.WriteString(strings.Join(gaps, "; "))
		b.WriteString(", so this answer may be incomplete.")
	}
	return b.String()
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func humanizeKey(k string) string {
	return strings.ReplaceAll(k, "_", " ")
}
