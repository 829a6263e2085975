package translate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Guard defaults.
const (
	DefaultCallTimeout     = 20 * time.Second
	DefaultRatePerSecond   = 5.0
	DefaultBurst           = 1
	DefaultBreakerFailures = 5
	DefaultBreakerTimeout  = 30 * time.Second
)

// GuardConfig tunes a Guard. Zero values take the defaults above.
type GuardConfig struct {
	// Name labels metrics and log lines, usually the engine type.
	Name string
	// CallTimeout bounds each engine call.
	CallTimeout time.Duration
	// RatePerSecond and Burst configure the shared limiter. A negative
	// RatePerSecond disables limiting.
	RatePerSecond float64
	Burst         int
	// BreakerFailures consecutive failures open the breaker.
	BreakerFailures uint32
	// BreakerTimeout is how long the breaker stays open before probing.
	BreakerTimeout time.Duration
}

// Guard wraps an Engine with a per-call timeout, a shared rate limiter and a
// circuit breaker. It is safe for concurrent use by all relay sessions.
type Guard struct {
	engine      Engine
	name        string
	callTimeout time.Duration
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	metrics     *MetricsCollector
	logger      *logrus.Logger
}

// NewGuard wraps engine.
func NewGuard(engine Engine, cfg GuardConfig, logger *logrus.Logger) *Guard {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Name == "" {
		cfg.Name = "engine"
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.RatePerSecond == 0 {
		cfg.RatePerSecond = DefaultRatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = DefaultBreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = DefaultBreakerTimeout
	}

	g := &Guard{
		engine:      engine,
		name:        cfg.Name,
		callTimeout: cfg.CallTimeout,
		metrics:     NewMetricsCollector(cfg.Name),
		logger:      logger,
	}

	limit := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond < 0 {
		limit = rate.Inf
	}
	g.limiter = rate.NewLimiter(limit, cfg.Burst)

	failures := cfg.BreakerFailures
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// The caller giving up, or the engine refusing one language,
			// says nothing about the engine's health.
			return err == nil || errors.Is(err, context.Canceled) || IsRejection(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.metrics.SetBreakerState(to)
			g.logger.WithFields(logrus.Fields{
				"engine": name,
				"from":   from.String(),
				"to":     to.String(),
			}).Warn("Engine circuit breaker changed state")
		},
	})
	g.metrics.SetBreakerState(gobreaker.StateClosed)

	return g
}

// Translate implements Translator.
func (g *Guard) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	var out string
	err := g.call(ctx, "translate", len(text), func(ctx context.Context) (int, error) {
		var err error
		out, err = g.engine.Translate(ctx, text, sourceLang, targetLang)
		return len(out), err
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// Detect implements Detector. In-process detectors skip the limiter and
// breaker, which only protect the remote backend.
func (g *Guard) Detect(ctx context.Context, text string) (Detection, error) {
	if l, ok := g.engine.(InProcess); ok && l.InProcess() {
		return g.engine.Detect(ctx, text)
	}
	var det Detection
	err := g.call(ctx, "detect", len(text), func(ctx context.Context) (int, error) {
		var err error
		det, err = g.engine.Detect(ctx, text)
		return len(det.Language), err
	})
	if err != nil {
		return Detection{}, err
	}
	return det, nil
}

// SupportedLanguages lists the codes the wrapped engine serves; ok is
// false when it cannot tell.
func (g *Guard) SupportedLanguages(ctx context.Context) (codes []string, ok bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()
	return SupportedLanguages(ctx, g.engine)
}

// CheckHealth bypasses the limiter and breaker so that health probes still
// reach the backend while the breaker is open.
func (g *Guard) CheckHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()
	return g.engine.CheckHealth(ctx)
}

// Close releases the wrapped engine.
func (g *Guard) Close() error {
	return Close(g.engine)
}

// State reports the breaker state.
func (g *Guard) State() gobreaker.State {
	return g.breaker.State()
}

func (g *Guard) call(ctx context.Context, op string, size int, fn func(ctx context.Context) (int, error)) error {
	waitStart := time.Now()
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s %s: rate limiter: %w", g.name, op, err)
	}
	g.metrics.RecordRateLimitWait(time.Since(waitStart))

	start := time.Now()
	var respSize int
	_, err := g.breaker.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
		defer cancel()
		n, err := fn(callCtx)
		respSize = n
		return nil, err
	})
	duration := time.Since(start)

	status := statusSuccess
	switch {
	case err == nil:
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		status = statusRejected
	case errors.Is(err, context.DeadlineExceeded):
		status = statusTimeout
	case IsRejection(err):
		status = statusUnsupported
	default:
		status = statusError
	}
	g.metrics.RecordRequest(op, status, duration, size, respSize)

	if err != nil {
		g.logger.WithError(err).WithFields(logrus.Fields{
			"engine":      g.name,
			"op":          op,
			"status":      status,
			"duration_ms": duration.Milliseconds(),
		}).Debug("Engine call failed")
		return fmt.Errorf("%s %s: %w", g.name, op, err)
	}
	return nil
}
