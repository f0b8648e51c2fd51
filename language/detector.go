// Package language detects the language of a user query and localises prompts into it.
package language

import (
	"errors"
	"strings"

	"github.com/pemistahl/lingua-go"
	"golang.org/x/text/language"
)

const English = "en"

var ErrUndetermined = errors.New("language could not be determined")

// Detection is the most likely language of a text, as an ISO 639-1 code, with its confidence in [0, 1].
type Detection struct {
	Code       string
	Confidence float64
}

type Detector interface {
	Detect(text string) (Detection, error)
}

// LinguaDetector wraps a lingua model set. Building it is expensive; share one instance.
type LinguaDetector struct {
	detector lingua.LanguageDetector
}

func NewLinguaDetector() *LinguaDetector {
	return &LinguaDetector{
		detector: lingua.NewLanguageDetectorBuilder().FromAllLanguages().Build(),
	}
}

func (d *LinguaDetector) Detect(text string) (Detection, error) {
	values := d.detector.ComputeLanguageConfidenceValues(text)
	if len(values) == 0 || values[0].Value() <= 0 {
		return Detection{}, ErrUndetermined
	}
	top := values[0]
	return Detection{
		Code:       Normalize(top.Language().IsoCode639_1().String()),
		Confidence: top.Value(),
	}, nil
}

// Normalize reduces a language tag such as "EN", "en-US" or "pt_BR" to its lowercase base code.
// Unparseable input is lowercased as is.
func Normalize(code string) string {
	code = strings.TrimSpace(strings.ReplaceAll(code, "_", "-"))
	tag, err := language.Parse(code)
	if err != nil {
		return strings.ToLower(code)
	}
	base, _ := tag.Base()
	return base.String()
}

var _ Detector = (*LinguaDetector)(nil)
