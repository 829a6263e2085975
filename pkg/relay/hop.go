package relay

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/dasmlab/telephone/pkg/translate"
)

// Hop defaults.
const (
	DefaultMaxRetries = 2
	DefaultRetryDelay = 1500 * time.Millisecond

	// lengthFactor bounds how far a translation may shrink or grow.
	lengthFactor = 10
)

// Validation failures.
var (
	ErrUnchanged = errors.New("translation is identical to input")
	ErrTooShort  = errors.New("translation is too short")
	ErrTooLong   = errors.New("translation is too long")
)

// Validate reports whether output is an acceptable translation of input.
// Lengths are counted in code points; output must differ from input and
// satisfy len(input)/10 < len(output) < len(input)*10.
func Validate(input, output string) error {
	if output == input {
		return ErrUnchanged
	}
	in := float64(utf8.RuneCountInString(input))
	out := float64(utf8.RuneCountInString(output))
	if out <= in/lengthFactor {
		return ErrTooShort
	}
	if out >= in*lengthFactor {
		return ErrTooLong
	}
	return nil
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// HopTranslator performs one directed translation with bounded retries and
// output validation.
type HopTranslator struct {
	translator translate.Translator
	maxRetries int
	retryDelay time.Duration
	sleep      SleepFunc
	logger     *logrus.Logger
}

// HopConfig tunes a HopTranslator. Zero values take the defaults.
type HopConfig struct {
	MaxRetries int
	RetryDelay time.Duration
	Sleep      SleepFunc
}

// NewHopTranslator wraps translator.
func NewHopTranslator(translator translate.Translator, cfg HopConfig, logger *logrus.Logger) *HopTranslator {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	} else if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Sleep == nil {
		cfg.Sleep = Sleep
	}
	return &HopTranslator{
		translator: translator,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		sleep:      cfg.Sleep,
		logger:     logger,
	}
}

// Translate makes up to MaxRetries attempts to translate text from src to
// dst. It returns (translation, true) for the first attempt passing
// Validate, and (text, false) once the budget is spent or ctx is done.
func (h *HopTranslator) Translate(ctx context.Context, text, src, dst string) (string, bool) {
	attempts := 0
	defer func() { hopAttempts.Observe(float64(attempts)) }()

	for attempt := 1; attempt <= h.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return text, false
		}
		attempts = attempt

		out, err := h.translator.Translate(ctx, text, src, dst)
		if err == nil {
			err = Validate(text, out)
		}
		if err == nil {
			return out, true
		}

		h.logger.WithError(err).WithFields(logrus.Fields{
			"source_lang": src,
			"target_lang": dst,
			"attempt":     attempt,
			"max_retries": h.maxRetries,
		}).Debug("Translation attempt rejected")

		if errors.Is(err, translate.ErrUnsupportedLanguage) {
			// Another attempt gets the same answer.
			return text, false
		}
		if attempt < h.maxRetries {
			if err := h.sleep(ctx, h.retryDelay); err != nil {
				return text, false
			}
		}
	}
	return text, false
}

// ToOriginal translates text from src back into original. It makes a single
// attempt with no validation.
func (h *HopTranslator) ToOriginal(ctx context.Context, text, src, original string) (string, error) {
	out, err := h.translator.Translate(ctx, text, src, original)
	if err != nil {
		return "", fmt.Errorf("back-translate %s to %s: %w", src, original, err)
	}
	return out, nil
}
