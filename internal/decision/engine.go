// Package decision turns a query and its retrieved clauses into a validated
// structured verdict, treating the language model as an untrusted producer.
package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mstead/claimlens/internal/prompt"
	"github.com/mstead/claimlens/internal/retriever"
)

// Verdict is the enumerated outcome of a decision.
type Verdict string

const (
	VerdictApproved    Verdict = "approved"
	VerdictRejected    Verdict = "rejected"
	VerdictNeedsReview Verdict = "needs-review"
)

// Decision is the structured output returned to the caller. It is created
// once per query and never mutated afterwards.
type Decision struct {
	Verdict       Verdict  `json:"decision"`
	Amount        *float64 `json:"amount"`
	Justification string   `json:"justification"`
	ClausesUsed   []string `json:"clauses_used"`
}

// ErrParse reports model output that does not satisfy the expected schema.
var ErrParse = errors.New("malformed model output")

// Completer is the language-model surface the engine consumes. Complete may
// retry transport failures under its own policy; CompleteOnce is a single
// attempt used for the repair pass, which is never retried.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteOnce(ctx context.Context, prompt string) (string, error)
}

// Engine runs the completion, parses the response against the schema, and
// degrades through repair to a terminal needs-review fallback. Decide never
// fails: the caller always receives a well-formed Decision.
type Engine struct {
	completer Completer
	builder   *prompt.Builder
	logger    *slog.Logger
}

// NewEngine creates an Engine over completer with the given prompt builder.
func NewEngine(completer Completer, builder *prompt.Builder, logger *slog.Logger) *Engine {
	if builder == nil {
		builder = prompt.NewBuilder(0, 0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		completer: completer,
		builder:   builder,
		logger:    logger,
	}
}

// Decide renders a Decision for query given its retrieved clauses.
//
// With zero clauses it short-circuits to needs-review without calling the
// model: there is no basis for a decision. Otherwise it completes once,
// attempts a strict parse, re-prompts at most once to repair malformed
// formatting, and falls back to needs-review if that also fails.
func (e *Engine) Decide(ctx context.Context, query string, clauses []retriever.RetrievedClause) Decision {
	if len(clauses) == 0 {
		return Fallback("no relevant policy clauses were found for this query")
	}

	texts := make([]string, len(clauses))
	for i, clause := range clauses {
		texts[i] = clause.Text
	}
	// Citations are checked against the clause texts as the builder renders
	// them, truncation and all, not against the raw retrieval results.
	supplied := e.builder.Admit(texts)

	raw, err := e.completer.Complete(ctx, e.builder.Build(query, texts))
	if err != nil {
		e.logger.Warn("completion failed", "error", err)
		return Fallback("the language model service was unavailable")
	}

	parsed, err := parseStrict(raw, supplied)
	if err == nil {
		return parsed
	}
	e.logger.Warn("strict parse failed, attempting repair", "error", err)

	repaired, err := e.completer.CompleteOnce(ctx, repairPrompt(raw))
	if err != nil {
		e.logger.Warn("repair completion failed", "error", err)
		return Fallback("the model returned malformed output and the repair attempt failed")
	}

	parsed, err = parseStrict(repaired, supplied)
	if err != nil {
		e.logger.Warn("repair parse failed", "error", err)
		return Fallback("the model returned malformed output twice; a human should review this claim")
	}
	return parsed
}

// Fallback is the terminal needs-review decision used whenever the pipeline
// cannot produce a confident structured verdict.
func Fallback(diagnostic string) Decision {
	return Decision{
		Verdict:       VerdictNeedsReview,
		Justification: diagnostic,
		ClausesUsed:   []string{},
	}
}

// rawDecision mirrors the JSON contract advertised in the prompt.
type rawDecision struct {
	Decision      string   `json:"decision"`
	Amount        *float64 `json:"amount"`
	Justification string   `json:"justification"`
	ClausesUsed   []string `json:"clauses_used"`
}

// parseStrict validates raw against the schema. Citations that do not
// literally match a supplied clause are dropped and the justification is
// flagged, so a hallucinated citation can never reach the caller.
func parseStrict(raw string, supplied []string) (Decision, error) {
	payload, err := extractJSON(raw)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrParse, err)
	}

	var rd rawDecision
	if err := json.Unmarshal([]byte(payload), &rd); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrParse, err)
	}

	verdict, err := parseVerdict(rd.Decision)
	if err != nil {
		return Decision{}, err
	}
	if strings.TrimSpace(rd.Justification) == "" {
		return Decision{}, fmt.Errorf("%w: empty justification", ErrParse)
	}

	known := make(map[string]bool, len(supplied))
	for _, clause := range supplied {
		known[clause] = true
	}
	kept := make([]string, 0, len(rd.ClausesUsed))
	dropped := 0
	for _, cited := range rd.ClausesUsed {
		if known[cited] {
			kept = append(kept, cited)
		} else {
			dropped++
		}
	}

	justification := rd.Justification
	if dropped > 0 {
		justification = fmt.Sprintf("%s (unverified citation removed)", justification)
	}

	return Decision{
		Verdict:       verdict,
		Amount:        rd.Amount,
		Justification: justification,
		ClausesUsed:   kept,
	}, nil
}

// parseVerdict accepts the canonical spelling plus the underscore and space
// variants models commonly emit for needs-review.
func parseVerdict(s string) (Verdict, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(VerdictApproved):
		return VerdictApproved, nil
	case string(VerdictRejected):
		return VerdictRejected, nil
	case string(VerdictNeedsReview), "needs_review", "needs review":
		return VerdictNeedsReview, nil
	default:
		return "", fmt.Errorf("%w: unknown decision %q", ErrParse, s)
	}
}

// extractJSON strips everything outside the outermost braces, tolerating
// markdown fences and prose around the object.
func extractJSON(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end <= start {
		return "", errors.New("no JSON object found")
	}
	return s[start : end+1], nil
}

// repairPrompt asks the model to fix its previous output without changing
// the content.
func repairPrompt(badOutput string) string {
	return fmt.Sprintf(`Your previous reply was not the valid JSON object that was requested.

Return the SAME decision as a single valid JSON object with exactly these
fields: decision, amount, justification, clauses_used.
- decision must be one of: approved, rejected, needs-review.
- Do not add or remove information.
- Do not include markdown or any text outside the JSON.

Previous reply:
<<<
%s
>>>`, badOutput)
}
