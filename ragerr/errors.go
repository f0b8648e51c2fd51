// Package ragerr defines the typed errors shared by the ingestion and query pipelines.
package ragerr

import (
	"errors"
	"fmt"
)

// Kind is the pipeline stage an error belongs to.
type Kind string

const (
	KindIngestion   Kind = "ingestion"
	KindMetadata    Kind = "metadata"
	KindEmbedding   Kind = "embedding"
	KindIndex       Kind = "index"
	KindRetrieval   Kind = "retrieval"
	KindRerank      Kind = "rerank"
	KindTranslation Kind = "translation"
	KindGeneration  Kind = "generation"
	KindValidation  Kind = "validation"
)

// Error carries a Kind, the operation that failed and the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s error: %s", e.Kind, e.Op)
	default:
		return fmt.Sprintf("%s error", e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind, so errors.Is(err, ErrGeneration) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

var (
	ErrIngestion   = &Error{Kind: KindIngestion}
	ErrMetadata    = &Error{Kind: KindMetadata}
	ErrEmbedding   = &Error{Kind: KindEmbedding}
	ErrIndex       = &Error{Kind: KindIndex}
	ErrRetrieval   = &Error{Kind: KindRetrieval}
	ErrRerank      = &Error{Kind: KindRerank}
	ErrTranslation = &Error{Kind: KindTranslation}
	ErrGeneration  = &Error{Kind: KindGeneration}
	ErrValidation  = &Error{Kind: KindValidation}
)

// New wraps err with kind and op. A nil err still yields an error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Ensure returns err unchanged when it already carries a Kind, otherwise wraps it with kind.
func Ensure(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return New(kind, op, err)
}

// KindOf reports the outermost Kind in err's chain, or "" when there is none.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
}
