package relay

import (
	"context"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/dasmlab/telephone/pkg/catalog"
	"github.com/dasmlab/telephone/pkg/translate"
)

// Gate defaults.
const (
	DefaultConfidenceThreshold = 0.9
	DefaultFallbackLanguage    = "en"
)

// GateConfig tunes a Gate.
type GateConfig struct {
	// Threshold must be strictly exceeded for a detection to be accepted.
	Threshold float64
	// Fallback is returned whenever detection is not accepted.
	Fallback string
	// Catalog resolves detected codes. Nil uses catalog.Default().
	Catalog *catalog.Catalog
}

// Gate accepts or rejects a detector's verdict.
type Gate struct {
	detector  translate.Detector
	threshold float64
	fallback  string
	catalog   *catalog.Catalog
	mapper    *catalog.LanguageMapper
	logger    *logrus.Logger
}

// NewGate wraps detector.
func NewGate(detector translate.Detector, cfg GateConfig, logger *logrus.Logger) *Gate {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultConfidenceThreshold
	}
	if cfg.Fallback == "" {
		cfg.Fallback = DefaultFallbackLanguage
	}
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.Default()
	}
	return &Gate{
		detector:  detector,
		threshold: cfg.Threshold,
		fallback:  cfg.Fallback,
		catalog:   cfg.Catalog,
		mapper:    catalog.NewLanguageMapper(cfg.Catalog),
		logger:    logger,
	}
}

// Fallback returns the language used when detection is not confident.
func (g *Gate) Fallback() string {
	return g.fallback
}

// Detect calls the detector exactly once. It reports (true, code) only for
// a known language detected with confidence above the threshold, and
// (false, fallback) otherwise. Detector errors are logged, never returned.
func (g *Gate) Detect(ctx context.Context, text string) (bool, string) {
	confident, lang := g.detect(ctx, text)
	detectionsTotal.WithLabelValues(strconv.FormatBool(confident)).Inc()
	return confident, lang
}

func (g *Gate) detect(ctx context.Context, text string) (bool, string) {
	det, err := g.detector.Detect(ctx, text)
	if err != nil {
		g.logger.WithError(err).Warn("Language detection failed, using fallback")
		return false, g.fallback
	}

	fields := logrus.Fields{
		"language": det.Language,
		"fallback": g.fallback,
	}
	if det.Confidence == nil {
		g.logger.WithFields(fields).Info("Detector reported no confidence, using fallback")
		return false, g.fallback
	}
	fields["confidence"] = *det.Confidence
	if *det.Confidence <= g.threshold {
		g.logger.WithFields(fields).Info("Detection below threshold, using fallback")
		return false, g.fallback
	}

	code := g.mapper.ToBackendCode(det.Language)
	if code == "" || !g.catalog.Contains(code) {
		g.logger.WithFields(fields).Info("Detected language not in catalog, using fallback")
		return false, g.fallback
	}

	g.logger.WithFields(fields).Debug("Language detected")
	return true, code
}
