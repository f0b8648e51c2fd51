// Package chat answers policy questions: retrieve, re-rank, assemble a prompt, localize it,
// generate and describe the turn in a LogEntry.
package chat

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/fabfab/policy-rag/corpus"
	"github.com/fabfab/policy-rag/language"
	"github.com/fabfab/policy-rag/logging"
	"github.com/fabfab/policy-rag/ragerr"
	"github.com/fabfab/policy-rag/rerank"
)

// Localizer picks the prompt language for a query.
type Localizer interface {
	Localize(ctx context.Context, prompt, query string) (string, string)
}

// Answer is the response to one turn plus its log record.
type Answer struct {
	Response string
	Log      LogEntry
}

// Service holds no per-conversation state and is safe for concurrent use.
type Service struct {
	retriever *Retriever
	reranker  *rerank.Reranker
	assembler *Assembler
	localizer Localizer
	generator *AnswerGenerator
	logger    *zap.Logger
}

// NewService wires the query pipeline. A nil reranker keeps retrieval order and a nil
// localizer always answers in English.
func NewService(retriever *Retriever, reranker *rerank.Reranker, assembler *Assembler, localizer Localizer, generator *AnswerGenerator, logger *zap.Logger) *Service {
	if reranker == nil {
		reranker = rerank.New(nil, 0)
	}
	if assembler == nil {
		assembler = NewAssembler("")
	}
	return &Service{
		retriever: retriever,
		reranker:  reranker,
		assembler: assembler,
		localizer: localizer,
		generator: generator,
		logger:    logging.OrNop(logger),
	}
}

// Answer runs one turn. history holds earlier user questions, oldest first; it is copied and
// never retained.
func (s *Service) Answer(ctx context.Context, query string, history []string) (Answer, error) {
	if strings.TrimSpace(query) == "" {
		return Answer{}, ragerr.New(ragerr.KindValidation, "answer", errors.New("question cannot be empty"))
	}
	if s.retriever == nil || s.generator == nil {
		return Answer{}, ragerr.New(ragerr.KindValidation, "answer", errors.New("chat service is not configured"))
	}
	history = append(make([]string, 0, len(history)), history...)

	hits, err := s.retriever.Retrieve(ctx, query)
	if err != nil {
		return Answer{}, err
	}
	if err := ctx.Err(); err != nil {
		return Answer{}, ragerr.New(ragerr.KindRetrieval, "answer", err)
	}

	ranked, err := s.reranker.Rerank(ctx, strings.ToLower(query), hits)
	if err != nil {
		return Answer{}, err
	}
	chunks := corpus.Chunks(ranked)
	if len(chunks) == 0 {
		s.logger.Info("no passages retrieved", zap.String("query", query))
	}

	prompt := s.assembler.Assemble(chunks, history, query)

	lang := language.English
	if s.localizer != nil {
		prompt, lang = s.localizer.Localize(ctx, prompt, query)
	}
	if err := ctx.Err(); err != nil {
		return Answer{}, ragerr.New(ragerr.KindGeneration, "answer", err)
	}

	response, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return Answer{}, err
	}

	s.logger.Debug("answered question",
		zap.String("language", lang),
		zap.Int("retrieved", len(hits)),
		zap.Int("used", len(chunks)))

	return Answer{
		Response: response,
		Log: LogEntry{
			Prompt:        prompt,
			Language:      lang,
			UserQuery:     query,
			Response:      response,
			RetrievedDocs: retrievedDocs(chunks),
			ChatHistory:   history,
		},
	}, nil
}
