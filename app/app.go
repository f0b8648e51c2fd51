// Package app builds the long-lived dependencies of the policy assistant from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fabfab/policy-rag/chat"
	"github.com/fabfab/policy-rag/config"
	"github.com/fabfab/policy-rag/database"
	"github.com/fabfab/policy-rag/embeddings"
	"github.com/fabfab/policy-rag/index"
	"github.com/fabfab/policy-rag/ingestion"
	"github.com/fabfab/policy-rag/knowledge"
	"github.com/fabfab/policy-rag/language"
	"github.com/fabfab/policy-rag/llm"
	"github.com/fabfab/policy-rag/logging"
	"github.com/fabfab/policy-rag/rerank"
)

// App owns the index, the embedding generator and the optional knowledge graph.
// It is constructed once per process and shared by every command or request.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Index     index.Index
	Generator *embeddings.Generator
	Graph     *knowledge.Graph

	closers []func() error
}

// Stats describes the active collection.
type Stats struct {
	Collection string
	Backend    string
	Chunks     int
	// Dimension is the embedding size queries must match; 0 until configured or first learned.
	Dimension  int
	Documents  []knowledge.DocumentSummary
}

// New opens the configured index backend and, when GraphSync is set, Neo4j.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logging.OrNop(logger)}

	if err := a.openIndex(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("embedder setup: %w", err)
	}
	a.Generator = embeddings.NewGenerator(embedder, embeddings.GeneratorOptions{
		BatchSize:         cfg.Embeddings.BatchSize,
		Dimension:         cfg.Embeddings.Dimension,
		RequestsPerSecond: cfg.Embeddings.RequestsPerSecond,
	}, a.Logger)

	if cfg.GraphSync {
		driver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("neo4j connection: %w", err)
		}
		a.closers = append(a.closers, func() error { return driver.Close(context.Background()) })
		a.Graph = knowledge.NewGraph(driver)
	}

	return a, nil
}

func (a *App) openIndex(ctx context.Context) error {
	switch a.Config.Index.Backend {
	case config.BackendPostgres:
		pool, err := database.NewPostgresPool(ctx, a.Config.PostgresDSN)
		if err != nil {
			return fmt.Errorf("postgres connection: %w", err)
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })

		idx, err := index.NewPostgresIndex(ctx, pool, a.Logger)
		if err != nil {
			return err
		}
		a.Index = idx
	case config.BackendSQLite, "":
		db, err := database.OpenSQLite(ctx, a.Config.Index.PersistDir)
		if err != nil {
			return fmt.Errorf("sqlite index: %w", err)
		}
		a.Index = index.NewSQLiteIndex(db, a.Logger)
	default:
		return fmt.Errorf("unsupported index backend %q", a.Config.Index.Backend)
	}
	return nil
}

// Ingestion returns the ingestion pipeline writing to the configured collection.
func (a *App) Ingestion() *ingestion.Service {
	var graph ingestion.GraphSyncer
	if a.Graph != nil {
		graph = a.Graph
	}
	return ingestion.NewService(
		a.Generator,
		a.Index,
		ingestion.NewExtractor(a.Config.Metadata.SkipDocuments, a.Logger),
		graph,
		ingestion.Options{
			ChunkSize:    a.Config.Chunking.Size,
			ChunkOverlap: a.Config.Chunking.Overlap,
			Workers:      a.Config.Chunking.Workers,
			Collection:   a.Config.Index.Collection,
		},
		a.Logger,
	)
}

// Chat returns the query pipeline. It needs a reachable LLM configuration.
func (a *App) Chat() (*chat.Service, error) {
	cfg := a.Config

	client, err := llm.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("llm setup: %w", err)
	}

	template, err := chat.LoadTemplate(cfg.PromptTemplatePath)
	if err != nil {
		return nil, err
	}

	scorer, err := newScorer(cfg.Rerank)
	if err != nil {
		return nil, err
	}

	translator, err := newTranslator(cfg.Translation, client)
	if err != nil {
		return nil, err
	}

	localizer := language.NewHandler(language.NewLinguaDetector(), translator, language.Options{
		ConfidenceThreshold: cfg.Translation.ConfidenceThreshold,
		MinQueryLength:      cfg.Translation.MinQueryLength,
		SegmentSize:         cfg.Translation.SegmentSize,
	}, a.Logger)

	return chat.NewService(
		chat.NewRetriever(a.Generator, a.Index, cfg.Index.Collection, cfg.Retrieval.TopN),
		rerank.New(scorer, cfg.Retrieval.TopM),
		chat.NewAssembler(template),
		localizer,
		chat.NewAnswerGenerator(client, cfg.Disclaimer, cfg.LLM.Timeout),
		a.Logger,
	), nil
}

func newScorer(cfg config.RerankConfig) (rerank.Scorer, error) {
	switch cfg.Provider {
	case config.RerankHTTP:
		return rerank.NewHTTPScorer(cfg.Endpoint, cfg.Model), nil
	case config.RerankLexical:
		return rerank.LexicalScorer{}, nil
	case config.RerankNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported rerank provider %q", cfg.Provider)
	}
}

func newTranslator(cfg config.TranslationConfig, client llm.Client) (language.Translator, error) {
	switch cfg.Provider {
	case config.TranslationLibre:
		return language.NewLibreTranslator(cfg.Endpoint, cfg.APIKey), nil
	case config.TranslationLLM:
		return language.NewLLMTranslator(client), nil
	case config.TranslationNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported translation provider %q", cfg.Provider)
	}
}

// Clear drops the collection and, when a graph is configured, its mirror.
func (a *App) Clear(ctx context.Context) error {
	collection := a.Config.Index.Collection
	if err := a.Index.Drop(ctx, collection); err != nil {
		return fmt.Errorf("drop collection: %w", err)
	}
	a.Logger.Info("collection dropped", zap.String("collection", collection))

	if a.Graph != nil {
		if err := a.Graph.Purge(ctx, collection); err != nil {
			return fmt.Errorf("purge knowledge graph: %w", err)
		}
		a.Logger.Info("knowledge graph purged", zap.String("collection", collection))
	}
	return nil
}

func (a *App) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		Collection: a.Config.Index.Collection,
		Backend:    a.Config.Index.Backend,
		Dimension:  a.Generator.Dimension(),
	}

	n, err := a.Index.Count(ctx, stats.Collection)
	if err != nil {
		return stats, err
	}
	stats.Chunks = n

	if a.Graph != nil {
		docs, err := a.Graph.Summarize(ctx, stats.Collection)
		if err != nil {
			return stats, fmt.Errorf("summarize knowledge graph: %w", err)
		}
		stats.Documents = docs
	}
	return stats, nil
}

// Close releases the index and any database connections, newest first.
func (a *App) Close() error {
	var errs []error
	if a.Index != nil {
		errs = append(errs, a.Index.Close())
		a.Index = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
