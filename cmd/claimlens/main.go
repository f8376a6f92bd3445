// Package main provides the claimlens CLI: policy ingestion, one-shot
// queries, and the HTTP decision server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mstead/claimlens/internal/api"
	"github.com/mstead/claimlens/internal/chunk"
	"github.com/mstead/claimlens/internal/config"
	"github.com/mstead/claimlens/internal/decision"
	"github.com/mstead/claimlens/internal/embedding"
	"github.com/mstead/claimlens/internal/index"
	"github.com/mstead/claimlens/internal/llm"
	"github.com/mstead/claimlens/internal/prompt"
	"github.com/mstead/claimlens/internal/retriever"
	"github.com/mstead/claimlens/internal/retry"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "claimlens",
	Short: "Policy clause retrieval and claim decision engine",
	Long: `claimlens ingests insurance policy documents, retrieves the clauses
relevant to a claim query, and asks a language model for a structured
approve/reject decision grounded in those clauses.

Environment variables:
  OPENAI_API_KEY           OpenAI API key (required)
  CLAIMLENS_ADDR           HTTP listen address (default :8080)
  CLAIMLENS_SNAPSHOT       index snapshot path (default claimlens-index.json)
  CLAIMLENS_INDEX_BACKEND  "memory" or "qdrant"
  QDRANT_HOST, QDRANT_PORT Qdrant connection for the qdrant backend`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP decision API",
	RunE:  runServe,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file...>",
	Short: "Ingest plain-text policy documents into the index",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Answer one claim query and print the decision as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuery,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "claimlens.yaml", "path to the YAML config file")
	rootCmd.AddCommand(serveCmd, ingestCmd, queryCmd)
}

func main() {
	// Load .env if present (local development), ignore if missing.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// pipeline bundles the wired components shared by all subcommands.
type pipeline struct {
	cfg       *config.Config
	retriever *retriever.Retriever
	engine    *decision.Engine
	persist   func() error
	close     func()
}

func buildPipeline() (*pipeline, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	policy := retry.Policy{
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
		MaxElapsedTime:  cfg.Retry.MaxElapsedTime,
		CallTimeout:     cfg.Retry.CallTimeout,
	}

	chunker, err := chunk.NewChunker(chunk.Config{
		Size:    cfg.Chunking.Size,
		Overlap: cfg.Chunking.Overlap,
		Unit:    chunk.Unit(cfg.Chunking.Unit),
	})
	if err != nil {
		return nil, err
	}

	embedClient, err := embedding.NewClient(cfg.OpenAI.EmbeddingModel)
	if err != nil {
		return nil, err
	}
	embedder := embedding.NewEmbedder(embedClient, policy, cfg.OpenAI.BatchSize)

	completer, err := llm.NewClient(cfg.OpenAI.ChatModel, policy)
	if err != nil {
		return nil, err
	}

	p := &pipeline{cfg: cfg, close: func() {}}

	var idx retriever.Index
	switch cfg.Index.Backend {
	case "qdrant":
		q := cfg.Index.Qdrant
		store, err := index.NewQdrant(q.Host, q.Port, q.Collection, q.Dimension)
		if err != nil {
			return nil, err
		}
		idx = store
		p.close = func() { _ = store.Close() }
	default:
		mem := index.NewMemory()
		if err := mem.LoadSnapshot(cfg.Index.SnapshotPath); err != nil {
			return nil, fmt.Errorf("load index snapshot: %w", err)
		}
		idx = mem
		p.persist = func() error { return mem.SaveSnapshot(cfg.Index.SnapshotPath) }
	}

	logger := slog.Default()
	p.retriever = retriever.New(chunker, embedder, idx, logger)
	builder := prompt.NewBuilder(cfg.Retrieval.MaxClauses, cfg.Retrieval.MaxContextChars)
	p.engine = decision.NewEngine(completer, builder, logger)
	return p, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	p, err := buildPipeline()
	if err != nil {
		return err
	}
	defer p.close()

	handler := api.NewHandler(p.retriever, p.engine, p.cfg.Retrieval.TopK, p.persist, slog.Default())
	server := api.NewServer(handler, slog.Default())

	go func() {
		<-ctx.Done()
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	return server.Listen(p.cfg.Server.Addr)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	start := time.Now()

	p, err := buildPipeline()
	if err != nil {
		return err
	}
	defer p.close()

	total := 0
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		filename := filepath.Base(path)
		docID := strings.TrimSuffix(filename, filepath.Ext(filename))
		chunks, err := p.retriever.Ingest(ctx, retriever.Document{
			ID:         docID,
			Text:       string(data),
			Filename:   filename,
			IngestedAt: time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		fmt.Printf("  %s: %d chunks\n", filename, chunks)
		total += chunks
	}

	if p.persist != nil {
		if err := p.persist(); err != nil {
			return fmt.Errorf("save index snapshot: %w", err)
		}
	}

	fmt.Printf("Ingested %d documents (%d chunks) in %s\n",
		len(args), total, time.Since(start).Round(time.Millisecond))
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	p, err := buildPipeline()
	if err != nil {
		return err
	}
	defer p.close()

	query := args[0]
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("query must not be empty")
	}

	clauses, err := p.retriever.Retrieve(ctx, query, p.cfg.Retrieval.TopK)
	var result decision.Decision
	if err != nil {
		slog.Error("retrieval failed", "error", err)
		result = decision.Fallback("the retrieval service was unavailable")
	} else {
		result = p.engine.Decide(ctx, query, clauses)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
