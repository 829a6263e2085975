package translate

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// EngineType represents the type of translation engine to use.
type EngineType string

const (
	// EngineGoogle uses the Google Cloud Translation API.
	EngineGoogle EngineType = "google"
	// EngineLibreTranslate uses LibreTranslate as the backend.
	EngineLibreTranslate EngineType = "libretranslate"
	// EngineOpenAI uses an OpenAI-compatible chat model.
	EngineOpenAI EngineType = "openai"
	// EngineGemini uses a Gemini model.
	EngineGemini EngineType = "gemini"
)

// DetectorType selects where language detection runs.
type DetectorType string

const (
	// DetectorEngine detects with the translation engine itself.
	DetectorEngine DetectorType = "engine"
	// DetectorLingua detects locally with lingua.
	DetectorLingua DetectorType = "lingua"
)

// Config holds configuration for creating an Engine instance.
type Config struct {
	// Engine specifies which translation engine to use.
	Engine EngineType
	// Detector specifies which detector to pair with it. Defaults to DetectorEngine.
	Detector DetectorType
	// BaseURL is the base URL for HTTP engines (LibreTranslate, OpenAI-compatible).
	BaseURL string
	// APIKey authenticates against the engine, where needed.
	APIKey string
	// Model names the LLM for the openai and gemini engines.
	Model string
	// Logger is the logger instance to use. If nil, a default logger is created.
	Logger *logrus.Logger
}

// NewEngine creates a new Engine instance based on the configuration.
// This factory function allows switching between different MT backends
// without changing the relay.
func NewEngine(ctx context.Context, cfg Config) (Engine, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Detector == "" {
		cfg.Detector = DetectorEngine
	}

	cfg.Logger.WithFields(logrus.Fields{
		"engine":   cfg.Engine,
		"detector": cfg.Detector,
		"base_url": cfg.BaseURL,
		"model":    cfg.Model,
	}).Info("Creating translation engine")

	var (
		engine Engine
		err    error
	)
	switch cfg.Engine {
	case EngineGoogle:
		engine, err = NewGoogleClient(ctx, cfg.APIKey, cfg.Logger)
	case EngineLibreTranslate:
		engine = NewLibreTranslateClient(cfg.BaseURL, cfg.APIKey, cfg.Logger)
	case EngineOpenAI:
		engine, err = NewOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Logger)
	case EngineGemini:
		engine, err = NewGeminiClient(ctx, cfg.APIKey, cfg.Model, cfg.Logger)
	default:
		cfg.Logger.WithFields(logrus.Fields{
			"engine": cfg.Engine,
		}).Error("Unknown translation engine")
		return nil, fmt.Errorf("unknown translation engine: %s", cfg.Engine)
	}
	if err != nil {
		return nil, err
	}

	switch cfg.Detector {
	case DetectorEngine:
		return engine, nil
	case DetectorLingua:
		return WithDetector(engine, NewLinguaDetector()), nil
	default:
		return nil, fmt.Errorf("unknown detector: %s", cfg.Detector)
	}
}

// ParseEngineType parses a string into an EngineType.
// Returns an error if the string is not a valid engine type.
func ParseEngineType(s string) (EngineType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "google":
		return EngineGoogle, nil
	case "libretranslate":
		return EngineLibreTranslate, nil
	case "openai":
		return EngineOpenAI, nil
	case "gemini":
		return EngineGemini, nil
	default:
		return "", fmt.Errorf("unknown engine type: %s (supported: google, libretranslate, openai, gemini)", s)
	}
}

// ParseDetectorType parses a string into a DetectorType. Empty means DetectorEngine.
func ParseDetectorType(s string) (DetectorType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "engine":
		return DetectorEngine, nil
	case "lingua":
		return DetectorLingua, nil
	default:
		return "", fmt.Errorf("unknown detector type: %s (supported: engine, lingua)", s)
	}
}

// Close releases resources held by e, if it holds any.
func Close(e Engine) error {
	if c, ok := e.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (w withDetector) Close() error {
	if c, ok := w.Translator.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
