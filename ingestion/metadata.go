package ingestion

import (
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/fabfab/policy-rag/logging"
)

const (
	inputDateLayout  = "1/2/2006"
	outputDateLayout = "01/02/2006"
)

var (
	// hrp-103 | 5/1/2023 at the very start of a document.
	leadingDatePattern = regexp.MustCompile(`(?i)^[a-z]*-[0-9]*[a-z]? \|\s*(\d{1,2}/\d{1,2}/\d{4})`)

	labeledDatePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)revised:?\s*(\d{1,2}/\d{1,2}/\d{4})`),
		regexp.MustCompile(`(?i)revision\s*(?:date)?:?\s*(\d{1,2}/\d{1,2}/\d{4})`),
		regexp.MustCompile(`(?i)effective\s*(?:date)?:?\s*(\d{1,2}/\d{1,2}/\d{4})`),
	}
)

// Extractor finds the effective (latest revision) date of a policy document.
type Extractor struct {
	skip   map[string]struct{}
	logger *zap.Logger
}

func NewExtractor(skip []string, logger *zap.Logger) *Extractor {
	set := make(map[string]struct{}, len(skip))
	for _, name := range skip {
		set[name] = struct{}{}
	}
	return &Extractor{skip: set, logger: logging.OrNop(logger)}
}

// ExtractRevisionDate returns the document's effective date as MM/DD/YYYY, or ""
// when the document is on the skip list or carries no parseable date.
// A leading "code | date" header wins; otherwise the latest labeled revision date is used.
func (e *Extractor) ExtractRevisionDate(documentName, text string) string {
	if _, skipped := e.skip[documentName]; skipped {
		e.logger.Info("skipping revision date extraction", zap.String("document", documentName))
		return ""
	}

	if m := leadingDatePattern.FindStringSubmatch(text); m != nil {
		if d, err := time.Parse(inputDateLayout, m[1]); err == nil {
			return d.Format(outputDateLayout)
		}
	}

	var latest time.Time
	for _, pattern := range labeledDatePatterns {
		for _, m := range pattern.FindAllStringSubmatch(text, -1) {
			d, err := time.Parse(inputDateLayout, m[1])
			if err != nil {
				e.logger.Debug("ignoring unparseable date", zap.String("document", documentName), zap.String("value", m[1]))
				continue
			}
			if d.After(latest) {
				latest = d
			}
		}
	}

	if latest.IsZero() {
		e.logger.Info("no revision date found", zap.String("document", documentName))
		return ""
	}
	return latest.Format(outputDateLayout)
}
