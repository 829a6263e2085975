package translate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrEmptyText is returned when a backend is asked to translate or detect nothing.
	ErrEmptyText = errors.New("text is empty")
	// ErrEmptyResponse is returned when a backend answers without a usable result.
	ErrEmptyResponse = errors.New("empty response from translation engine")
	// ErrUnsupportedLanguage is returned when a backend does not serve a language pair.
	ErrUnsupportedLanguage = errors.New("language not supported by translation engine")
)

// StatusError is a non-OK HTTP answer from a backend.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// IsRejection reports whether err means the backend refused this one
// request (unsupported language, bad input) while itself working fine.
// Rejections do not count against the engine's health.
func IsRejection(err error) bool {
	if errors.Is(err, ErrUnsupportedLanguage) || errors.Is(err, ErrEmptyText) {
		return true
	}
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	switch se.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return se.StatusCode >= 400 && se.StatusCode < 500
}

// Translator defines the interface for machine translation backends.
// This abstraction allows us to switch between different MT engines
// (Google, LibreTranslate, LLMs) without changing the relay.
type Translator interface {
	// Translate translates text from source language to target language.
	// sourceLang and targetLang are catalog codes (e.g., "en", "zh-cn").
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)

	// CheckHealth verifies that the translation backend is ready and operational.
	CheckHealth(ctx context.Context) error
}

// Detection is the result of a language detection call.
type Detection struct {
	// Language is the detected language code as reported by the backend.
	Language string
	// Confidence is in [0, 1]. Nil when the backend does not report one.
	Confidence *float64
}

// Detector identifies the language of a text.
type Detector interface {
	Detect(ctx context.Context, text string) (Detection, error)
}

// Engine is a backend able to both translate and detect.
type Engine interface {
	Translator
	Detector
}

// LanguageLister is implemented by backends that can report the catalog
// codes they translate to.
type LanguageLister interface {
	SupportedLanguages(ctx context.Context) ([]string, error)
}

// SupportedLanguages asks e for the codes it serves. ok is false when e
// cannot list them.
func SupportedLanguages(ctx context.Context, e Translator) (codes []string, ok bool, err error) {
	if w, isPair := e.(withDetector); isPair {
		e = w.Translator
	}
	lister, isLister := e.(LanguageLister)
	if !isLister {
		return nil, false, nil
	}
	codes, err = lister.SupportedLanguages(ctx)
	return codes, true, err
}

// InProcess is implemented by detectors that run locally. Guard passes
// their calls straight through.
type InProcess interface {
	InProcess() bool
}

// Confidence returns a pointer to c, for building Detections.
func Confidence(c float64) *float64 {
	return &c
}

// withDetector pairs an engine's translator with a separate detector.
type withDetector struct {
	Translator
	Detector
}

// InProcess reports whether the paired detector runs locally.
func (w withDetector) InProcess() bool {
	l, ok := w.Detector.(InProcess)
	return ok && l.InProcess()
}

// WithDetector returns an Engine that translates with t and detects with d.
func WithDetector(t Translator, d Detector) Engine {
	return withDetector{Translator: t, Detector: d}
}
