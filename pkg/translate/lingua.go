package translate

import (
	"context"
	"strings"

	"github.com/pemistahl/lingua-go"
)

// LinguaDetector detects languages locally with lingua, so detection does
// not spend a call against the translation backend.
type LinguaDetector struct {
	detector lingua.LanguageDetector
}

// NewLinguaDetector builds a detector over langs, or over every language
// lingua knows when langs is empty.
func NewLinguaDetector(langs ...lingua.Language) *LinguaDetector {
	builder := lingua.NewLanguageDetectorBuilder()
	var d lingua.LanguageDetector
	if len(langs) == 0 {
		d = builder.FromAllLanguages().Build()
	} else {
		d = builder.FromLanguages(langs...).Build()
	}
	return &LinguaDetector{detector: d}
}

// InProcess implements InProcess.
func (l *LinguaDetector) InProcess() bool { return true }

// Detect returns the most likely language and lingua's confidence in it.
// Confidence values across candidates sum to 1.
func (l *LinguaDetector) Detect(ctx context.Context, text string) (Detection, error) {
	if err := ctx.Err(); err != nil {
		return Detection{}, err
	}
	if strings.TrimSpace(text) == "" {
		return Detection{}, ErrEmptyText
	}

	lang, ok := l.detector.DetectLanguageOf(text)
	if !ok {
		// Undetectable; report with zero confidence so callers fall back.
		return Detection{Language: "", Confidence: Confidence(0)}, nil
	}

	confidence := 0.0
	for _, cv := range l.detector.ComputeLanguageConfidenceValues(text) {
		if cv.Language() == lang {
			confidence = cv.Value()
			break
		}
	}

	return Detection{
		Language:   strings.ToLower(lang.IsoCode639_1().String()),
		Confidence: Confidence(confidence),
	}, nil
}
