package ingestion

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fabfab/policy-rag/corpus"
	"github.com/fabfab/policy-rag/index"
	"github.com/fabfab/policy-rag/logging"
	"github.com/fabfab/policy-rag/ragerr"
)

const (
	defaultChunkSize    = 512
	defaultChunkOverlap = 30
	defaultWorkers      = 4
)

// Embedder turns chunk texts into vectors, one per text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// GraphSyncer mirrors a rebuilt collection somewhere else. Failures never fail the run.
type GraphSyncer interface {
	SyncCollection(ctx context.Context, collection string, docs []corpus.Document) error
}

type Options struct {
	ChunkSize    int
	ChunkOverlap int
	Workers      int
	Collection   string
}

type Service struct {
	embedder  Embedder
	index     index.Index
	extractor *Extractor
	graph     GraphSyncer
	opts      Options
	logger    *zap.Logger
}

// Failure records a source file that could not be ingested.
type Failure struct {
	Path string
	Err  error
}

// Report summarises one ingestion run.
type Report struct {
	Collection string
	Documents  []corpus.Document
	Chunks     int
	Failures   []Failure
}

// NewService wires the ingestion pipeline. graph may be nil.
func NewService(embedder Embedder, idx index.Index, extractor *Extractor, graph GraphSyncer, opts Options, logger *zap.Logger) *Service {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.ChunkOverlap < 0 {
		opts.ChunkOverlap = defaultChunkOverlap
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if extractor == nil {
		extractor = NewExtractor(nil, logger)
	}

	return &Service{
		embedder:  embedder,
		index:     idx,
		extractor: extractor,
		graph:     graph,
		opts:      opts,
		logger:    logging.OrNop(logger),
	}
}

// IngestDirectory rebuilds the collection from every .txt file under dir.
func (s *Service) IngestDirectory(ctx context.Context, dir string) (Report, error) {
	if _, err := os.Stat(dir); err != nil {
		return Report{}, ragerr.New(ragerr.KindIngestion, "ingest directory", fmt.Errorf("data directory: %w", err))
	}

	var paths []string
	if err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(d.Name()), ".txt") {
			paths = append(paths, path)
		}
		return nil
	}); err != nil {
		return Report{}, ragerr.New(ragerr.KindIngestion, "ingest directory", fmt.Errorf("walk data directory: %w", err))
	}

	slices.Sort(paths)
	return s.IngestFiles(ctx, paths)
}

// IngestFiles chunks, dates and embeds every file and replaces the collection with the result.
// Unreadable files are reported and skipped. An embedding or index failure aborts the run and
// leaves the previous collection in place.
func (s *Service) IngestFiles(ctx context.Context, paths []string) (Report, error) {
	report := Report{Collection: s.opts.Collection}
	if s.embedder == nil {
		return report, ragerr.New(ragerr.KindEmbedding, "ingest", fmt.Errorf("embedder not configured"))
	}
	if s.index == nil {
		return report, ragerr.New(ragerr.KindIndex, "ingest", fmt.Errorf("index not configured"))
	}

	docs := make([]*corpus.Document, len(paths))
	failures := make([]error, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, path := range paths {
		g.Go(func() error {
			doc, err := s.loadDocument(path)
			if err != nil {
				failures[i] = err
				s.logger.Warn("skipping document", zap.String("path", path), zap.Error(err))
				return nil
			}
			if len(doc.Chunks) == 0 {
				s.logger.Info("skip empty document", zap.String("document", doc.Name))
				return nil
			}
			if err := s.embedDocument(gctx, doc); err != nil {
				return err
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, ragerr.Ensure(ragerr.KindEmbedding, "ingest", err)
	}

	var chunks []corpus.Chunk
	for i := range paths {
		if failures[i] != nil {
			report.Failures = append(report.Failures, Failure{Path: paths[i], Err: failures[i]})
		}
		if docs[i] == nil {
			continue
		}
		report.Documents = append(report.Documents, *docs[i])
		chunks = append(chunks, docs[i].Chunks...)
	}
	report.Chunks = len(chunks)

	if len(chunks) == 0 {
		return report, ragerr.New(ragerr.KindIngestion, "ingest", fmt.Errorf("no chunks produced from %d files", len(paths)))
	}

	if err := s.index.Rebuild(ctx, s.opts.Collection, chunks); err != nil {
		return report, ragerr.Ensure(ragerr.KindIndex, "rebuild index", err)
	}

	s.logger.Info("collection rebuilt",
		zap.String("collection", s.opts.Collection),
		zap.Int("documents", len(report.Documents)),
		zap.Int("chunks", report.Chunks),
		zap.Int("failures", len(report.Failures)))

	if s.graph != nil {
		if err := s.graph.SyncCollection(ctx, s.opts.Collection, report.Documents); err != nil {
			s.logger.Warn("knowledge graph sync failed", zap.String("collection", s.opts.Collection), zap.Error(err))
		}
	}

	return report, nil
}

func (s *Service) loadDocument(path string) (*corpus.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ragerr.New(ragerr.KindIngestion, "read document", err)
	}

	text := string(data)
	name := DocumentName(path)
	doc := &corpus.Document{
		Name:          name,
		Path:          path,
		EffectiveDate: s.extractor.ExtractRevisionDate(name, text),
	}

	id := 0
	for chunk := range Chunk(text, s.opts.ChunkSize, s.opts.ChunkOverlap) {
		doc.Chunks = append(doc.Chunks, corpus.Chunk{
			ID:            id,
			Text:          chunk,
			DocumentName:  name,
			EffectiveDate: doc.EffectiveDate,
		})
		id++
	}
	return doc, nil
}

// embedDocument fills in the chunk embeddings with one batched call per document.
func (s *Service) embedDocument(ctx context.Context, doc *corpus.Document) error {
	texts := make([]string, len(doc.Chunks))
	for i := range doc.Chunks {
		texts[i] = doc.Chunks[i].Text
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %s: %w", doc.Name, err)
	}
	if len(vectors) != len(texts) {
		return ragerr.New(ragerr.KindEmbedding, "embed "+doc.Name,
			fmt.Errorf("embedding count mismatch: have %d chunks, %d embeddings", len(texts), len(vectors)))
	}

	for i := range doc.Chunks {
		doc.Chunks[i].Embedding = vectors[i]
	}
	s.logger.Debug("embedded document", zap.String("document", doc.Name), zap.Int("chunks", len(doc.Chunks)))
	return nil
}

// DocumentName is the base file name with its extension stripped.
func DocumentName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
