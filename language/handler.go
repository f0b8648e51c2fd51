package language

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fabfab/policy-rag/logging"
	"github.com/fabfab/policy-rag/ragerr"
)

type Options struct {
	// ConfidenceThreshold must be strictly exceeded before translating.
	ConfidenceThreshold float64
	// MinQueryLength must be strictly exceeded, in characters.
	MinQueryLength int
	// SegmentSize is the largest piece, in characters, sent to the translator at once.
	SegmentSize int
}

func DefaultOptions() Options {
	return Options{ConfidenceThreshold: 0.90, MinQueryLength: 10, SegmentSize: 5000}
}

// Handler decides whether a prompt should be translated into the user's language and does so.
// Translation is best effort: any failure falls back to the untranslated prompt.
type Handler struct {
	detector   Detector
	translator Translator
	opts       Options
	logger     *zap.Logger
}

// NewHandler builds a Handler. A nil translator disables translation but keeps detection.
func NewHandler(detector Detector, translator Translator, opts Options, logger *zap.Logger) *Handler {
	if opts.SegmentSize <= 0 {
		opts.SegmentSize = DefaultOptions().SegmentSize
	}
	return &Handler{
		detector:   detector,
		translator: translator,
		opts:       opts,
		logger:     logging.OrNop(logger),
	}
}

// Localize detects the language of query and returns the prompt to send plus that language code.
// The prompt is translated from English only for a confident, long enough, non-English query.
func (h *Handler) Localize(ctx context.Context, prompt, query string) (string, string) {
	if h.detector == nil {
		return prompt, English
	}

	det, err := h.detector.Detect(query)
	if err != nil {
		h.logger.Debug("language detection failed", zap.Error(err))
		return prompt, English
	}
	lang := Normalize(det.Code)

	if lang == English ||
		det.Confidence <= h.opts.ConfidenceThreshold ||
		utf8.RuneCountInString(query) <= h.opts.MinQueryLength ||
		h.translator == nil {
		return prompt, lang
	}

	segments := Segment(prompt, h.opts.SegmentSize)
	var b strings.Builder
	for i, seg := range segments {
		out, err := h.translator.Translate(ctx, seg, English, lang)
		if err != nil {
			terr := ragerr.New(ragerr.KindTranslation, "translate prompt", err)
			h.logger.Warn("translation failed, using original prompt",
				zap.String("language", lang),
				zap.Int("segment", i),
				zap.Int("segments", len(segments)),
				zap.Error(terr))
			return prompt, lang
		}
		b.WriteString(out)
	}

	h.logger.Debug("translated prompt",
		zap.String("language", lang),
		zap.Float64("confidence", det.Confidence),
		zap.Int("segments", len(segments)))
	return b.String(), lang
}

// Segment splits text into consecutive pieces of at most size characters whose concatenation
// is exactly text. Cuts prefer the last whitespace in the second half of each window.
func Segment(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}

	runes := []rune(text)
	var out []string
	for len(runes) > size {
		cut := size
		for i := size; i > size/2; i-- {
			if unicode.IsSpace(runes[i-1]) {
				cut = i
				break
			}
		}
		out = append(out, string(runes[:cut]))
		runes = runes[cut:]
	}
	return append(out, string(runes))
}
