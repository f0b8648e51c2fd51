// Package auditlog appends interaction records to a JSON Lines file from a background worker.
package auditlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fabfab/policy-rag/logging"
)

var (
	ErrNotStarted = errors.New("audit log writer not started")
	ErrBufferFull = errors.New("audit log buffer full")
)

type Config struct {
	// BufferSize is the number of records that may wait for the file.
	BufferSize int
}

func DefaultConfig() Config {
	return Config{BufferSize: 1024}
}

// Writer serialises records onto one file. Record never blocks the caller.
type Writer struct {
	path   string
	logger *zap.Logger
	events chan any

	mu      sync.Mutex
	file    *os.File
	started bool
	stopped bool
	written int
	dropped int
	done    chan struct{}
}

// Stats reports what the writer has done so far.
type Stats struct {
	Written int
	Dropped int
	Pending int
}

func NewWriter(path string, logger *zap.Logger, cfg Config) *Writer {
	if cfg.BufferSize <= 0 {
		cfg = DefaultConfig()
	}
	return &Writer{
		path:   path,
		logger: logging.OrNop(logger),
		events: make(chan any, cfg.BufferSize),
		done:   make(chan struct{}),
	}
}

// Start opens the file for appending, creating parent directories, and starts the worker.
func (w *Writer) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started || w.stopped {
		return fmt.Errorf("audit log writer already started")
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open interaction log: %w", err)
	}

	w.file = f
	w.started = true
	go w.run()

	w.logger.Info("started interaction log writer", zap.String("path", w.path), zap.Int("buffer_size", cap(w.events)))
	return nil
}

// Record queues v to be written as one JSON line.
func (w *Writer) Record(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return ErrNotStarted
	}

	select {
	case w.events <- v:
		return nil
	default:
		w.dropped++
		w.logger.Warn("interaction log buffer full, dropping record")
		return ErrBufferFull
	}
}

// Stop refuses new records, waits up to timeout for queued ones to be written and closes the file.
func (w *Writer) Stop(timeout time.Duration) error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return ErrNotStarted
	}
	w.started = false
	w.stopped = true
	close(w.events)
	w.mu.Unlock()

	select {
	case <-w.done:
		w.logger.Info("interaction log writer stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("interaction log stop timeout after %v", timeout)
	}
}

func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{Written: w.written, Dropped: w.dropped, Pending: len(w.events)}
}

func (w *Writer) run() {
	defer close(w.done)
	defer func() {
		if err := w.file.Close(); err != nil {
			w.logger.Error("close interaction log", zap.Error(err))
		}
	}()

	enc := json.NewEncoder(w.file)
	enc.SetEscapeHTML(false)
	for v := range w.events {
		if err := enc.Encode(v); err != nil {
			w.logger.Error("write interaction log record", zap.Error(err))
			continue
		}
		w.mu.Lock()
		w.written++
		w.mu.Unlock()
	}
}
