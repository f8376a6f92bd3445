package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/mstead/claimlens/internal/decision"
	"github.com/mstead/claimlens/internal/retriever"
)

// QueryRequest is the body of POST /api/v1/query.
type QueryRequest struct {
	Query string `json:"query" validate:"required"`
}

// IngestRequest is the body of POST /api/v1/documents. Text must already be
// extracted plain text; format extraction happens upstream.
type IngestRequest struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Text       string `json:"text" validate:"required"`
}

// IngestResponse reports what an ingest stored.
type IngestResponse struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
}

// ClauseRetriever is the retrieval surface the handler consumes.
type ClauseRetriever interface {
	Ingest(ctx context.Context, doc retriever.Document) (int, error)
	Retrieve(ctx context.Context, query string, k int) ([]retriever.RetrievedClause, error)
}

// Decider renders a structured decision for a query and its clauses.
type Decider interface {
	Decide(ctx context.Context, query string, clauses []retriever.RetrievedClause) decision.Decision
}

// Handler serves the query and ingest endpoints.
type Handler struct {
	retriever ClauseRetriever
	decider   Decider
	topK      int
	persist   func() error // optional, called after a successful ingest
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewHandler creates a Handler. persist may be nil when the index backend
// manages its own durability.
func NewHandler(clauseRetriever ClauseRetriever, decider Decider, topK int, persist func() error, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		retriever: clauseRetriever,
		decider:   decider,
		topK:      topK,
		persist:   persist,
		validate:  validator.New(),
		logger:    logger,
	}
}

// HandleQuery answers a claim question with a structured decision. Errors
// below the decision engine degrade to a needs-review fallback; the caller
// always receives a well-formed decision. Only request validation fails the
// call itself.
func (h *Handler) HandleQuery(c *fiber.Ctx) error {
	var req QueryRequest
	if err := c.BodyParser(&req); err != nil {
		return ErrBadRequest()
	}
	if fields := h.validateStruct(&req); len(fields) > 0 {
		return NewValidationError(fields)
	}

	ctx := c.Context()
	clauses, err := h.retriever.Retrieve(ctx, req.Query, h.topK)
	if err != nil {
		h.logger.Error("retrieval failed", "error", err)
		return c.JSON(decision.Fallback("the retrieval service was unavailable"))
	}

	return c.JSON(h.decider.Decide(ctx, req.Query, clauses))
}

// HandleIngest stores one extracted policy document. Re-posting the same
// document_id replaces the previous version.
func (h *Handler) HandleIngest(c *fiber.Ctx) error {
	var req IngestRequest
	if err := c.BodyParser(&req); err != nil {
		return ErrBadRequest()
	}
	if fields := h.validateStruct(&req); len(fields) > 0 {
		return NewValidationError(fields)
	}

	docID := req.DocumentID
	if docID == "" {
		docID = uuid.New().String()
	}

	chunks, err := h.retriever.Ingest(c.Context(), retriever.Document{
		ID:         docID,
		Text:       req.Text,
		Filename:   req.Filename,
		IngestedAt: time.Now().UTC(),
	})
	if err != nil {
		h.logger.Error("ingest failed", "document", docID, "error", err)
		return NewError(fiber.StatusInternalServerError, "failed to ingest document")
	}

	if h.persist != nil {
		if err := h.persist(); err != nil {
			h.logger.Error("snapshot save failed", "error", err)
		}
	}

	return c.JSON(IngestResponse{DocumentID: docID, Chunks: chunks})
}

// HandleHealthy is the liveness endpoint.
func (h *Handler) HandleHealthy(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *Handler) validateStruct(v any) map[string]string {
	err := h.validate.Struct(v)
	if err == nil {
		return nil
	}
	fields := make(map[string]string)
	for _, fieldErr := range err.(validator.ValidationErrors) {
		fields[fieldErr.Field()] = fmt.Sprintf("failed on '%s' tag", fieldErr.Tag())
	}
	return fields
}
