// Package prompt assembles the bounded decision prompt from a query and its
// retrieved clauses.
package prompt

import (
	"fmt"
	"strings"
)

const (
	// DefaultMaxClauses bounds how many retrieved clauses enter the prompt.
	DefaultMaxClauses = 3
	// DefaultMaxContextChars caps the total clause context length.
	DefaultMaxContextChars = 2000
)

// instructions is the fixed output contract given to the model. It names the
// required fields, the allowed verdicts, and forbids citing text that is not
// in the supplied context, so a hallucinated citation cannot be structurally
// valid.
const instructions = `You are an insurance claims analyst. Decide the claim described in the
query using ONLY the policy clauses provided in the context.

Respond with a SINGLE valid JSON object and nothing else:
{
  "decision": "approved" | "rejected" | "needs-review",
  "amount": <covered amount as a number, or null if not applicable>,
  "justification": "<why, referencing the relevant clauses>",
  "clauses_used": ["<each clause you relied on, copied verbatim from the context>"]
}

Rules:
- decision must be exactly one of: approved, rejected, needs-review.
- clauses_used must contain only clauses copied word-for-word from the
  context below. Never invent, merge, or paraphrase a clause.
- If the context does not support a confident decision, use "needs-review".`

// Builder formats decision prompts. It is deterministic: identical inputs
// produce identical prompts.
type Builder struct {
	maxClauses      int
	maxContextChars int
}

// NewBuilder creates a Builder. Non-positive arguments fall back to the
// defaults (3 clauses, 2000 context characters).
func NewBuilder(maxClauses, maxContextChars int) *Builder {
	if maxClauses <= 0 {
		maxClauses = DefaultMaxClauses
	}
	if maxContextChars <= 0 {
		maxContextChars = DefaultMaxContextChars
	}
	return &Builder{
		maxClauses:      maxClauses,
		maxContextChars: maxContextChars,
	}
}

// Admit returns the clause texts exactly as Build will render them: truncated
// to the configured maximum count, each cut to the remaining character budget,
// with later clauses dropped once the budget is spent. Citation checks must
// run against this set, since it is what the model actually sees.
func (b *Builder) Admit(clauses []string) []string {
	kept := clauses
	if len(kept) > b.maxClauses {
		kept = kept[:b.maxClauses]
	}

	admitted := make([]string, 0, len(kept))
	remaining := b.maxContextChars
	for _, clause := range kept {
		if remaining <= 0 {
			break
		}
		if runes := []rune(clause); len(runes) > remaining {
			clause = string(runes[:remaining])
		}
		admitted = append(admitted, clause)
		remaining -= len([]rune(clause))
	}
	return admitted
}

// Build assembles the prompt for query over clauses. Clauses arrive sorted by
// descending similarity and pass through Admit, so the highest-ranked ones
// survive the clause-count and context-character caps; a clause that would
// cross the character cap is cut, not dropped, to keep at least a prefix of
// every admitted clause.
func (b *Builder) Build(query string, clauses []string) string {
	var context strings.Builder
	for i, clause := range b.Admit(clauses) {
		fmt.Fprintf(&context, "[%d] %s\n", i+1, clause)
	}

	return fmt.Sprintf("%s\n\nContext:\n%s\nQuery: %s\n", instructions, context.String(), query)
}
