package translate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

type stubEngine struct {
	calls     atomic.Int32
	translate func(ctx context.Context, text string) (string, error)
}

func (s *stubEngine) Translate(ctx context.Context, text, _, _ string) (string, error) {
	s.calls.Add(1)
	return s.translate(ctx, text)
}

func (s *stubEngine) Detect(ctx context.Context, text string) (Detection, error) {
	s.calls.Add(1)
	return Detection{Language: "en", Confidence: Confidence(1)}, nil
}

func (s *stubEngine) CheckHealth(ctx context.Context) error { return nil }

func TestGuardPassesThrough(t *testing.T) {
	engine := &stubEngine{translate: func(_ context.Context, text string) (string, error) {
		return "ok:" + text, nil
	}}
	g := NewGuard(engine, GuardConfig{Name: "test-pass", RatePerSecond: -1}, quietLogger())

	got, err := g.Translate(context.Background(), "hi", "en", "fr")
	if err != nil {
		t.Fatalf("Translate() error: %v", err)
	}
	if got != "ok:hi" {
		t.Errorf("Translate() = %q, want ok:hi", got)
	}

	det, err := g.Detect(context.Background(), "hi")
	if err != nil || det.Language != "en" {
		t.Errorf("Detect() = %+v, %v", det, err)
	}
}

func TestGuardOpensBreaker(t *testing.T) {
	boom := errors.New("boom")
	engine := &stubEngine{translate: func(context.Context, string) (string, error) {
		return "", boom
	}}
	g := NewGuard(engine, GuardConfig{
		Name:            "test-breaker",
		RatePerSecond:   -1,
		BreakerFailures: 2,
		BreakerTimeout:  time.Hour,
	}, quietLogger())

	for i := 0; i < 2; i++ {
		if _, err := g.Translate(context.Background(), "x", "en", "fr"); !errors.Is(err, boom) {
			t.Fatalf("call %d: expected boom, got %v", i, err)
		}
	}
	if g.State() != gobreaker.StateOpen {
		t.Fatalf("State() = %s, want open", g.State())
	}

	_, err := g.Translate(context.Background(), "x", "en", "fr")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected ErrOpenState, got %v", err)
	}
	if n := engine.calls.Load(); n != 2 {
		t.Errorf("engine called %d times, want 2", n)
	}
}

func TestGuardCallTimeout(t *testing.T) {
	engine := &stubEngine{translate: func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	g := NewGuard(engine, GuardConfig{
		Name:          "test-timeout",
		RatePerSecond: -1,
		CallTimeout:   20 * time.Millisecond,
	}, quietLogger())

	start := time.Now()
	_, err := g.Translate(context.Background(), "x", "en", "fr")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("call took %s, timeout not applied", elapsed)
	}
}

func TestGuardCancelledContext(t *testing.T) {
	engine := &stubEngine{translate: func(context.Context, string) (string, error) {
		return "unreachable", nil
	}}
	g := NewGuard(engine, GuardConfig{Name: "test-cancel"}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := g.Translate(ctx, "x", "en", "fr"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if n := engine.calls.Load(); n != 0 {
		t.Errorf("engine called %d times after cancellation", n)
	}
}

func TestGuardIgnoresRejections(t *testing.T) {
	engine := &stubEngine{translate: func(_ context.Context, text string) (string, error) {
		switch text {
		case "unsupported":
			return "", fmt.Errorf("%w: %w", ErrUnsupportedLanguage,
				&StatusError{StatusCode: http.StatusBadRequest, Body: `{"error":"haw is not supported"}`})
		case "bad request":
			return "", &StatusError{StatusCode: http.StatusBadRequest, Body: "invalid request"}
		}
		return "ok:" + text, nil
	}}
	g := NewGuard(engine, GuardConfig{
		Name:            "test-rejections",
		RatePerSecond:   -1,
		BreakerFailures: 2,
		BreakerTimeout:  time.Hour,
	}, quietLogger())

	for i := 0; i < 5; i++ {
		if _, err := g.Translate(context.Background(), "unsupported", "en", "haw"); !errors.Is(err, ErrUnsupportedLanguage) {
			t.Fatalf("call %d: expected ErrUnsupportedLanguage, got %v", i, err)
		}
		if _, err := g.Translate(context.Background(), "bad request", "en", "yi"); err == nil {
			t.Fatalf("call %d: expected an error for a 400 answer", i)
		}
	}
	if g.State() != gobreaker.StateClosed {
		t.Fatalf("State() = %s, want closed after rejections only", g.State())
	}

	got, err := g.Translate(context.Background(), "hi", "en", "fr")
	if err != nil {
		t.Fatalf("supported target after rejections: %v", err)
	}
	if got != "ok:hi" {
		t.Errorf("Translate() = %q, want ok:hi", got)
	}
}

func TestGuardServerErrorsStillTrip(t *testing.T) {
	engine := &stubEngine{translate: func(context.Context, string) (string, error) {
		return "", &StatusError{StatusCode: http.StatusServiceUnavailable, Body: "loading models"}
	}}
	g := NewGuard(engine, GuardConfig{
		Name:            "test-5xx",
		RatePerSecond:   -1,
		BreakerFailures: 2,
		BreakerTimeout:  time.Hour,
	}, quietLogger())

	for i := 0; i < 2; i++ {
		_, _ = g.Translate(context.Background(), "x", "en", "fr")
	}
	if g.State() != gobreaker.StateOpen {
		t.Errorf("State() = %s, want open", g.State())
	}
}

func TestIsRejection(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unsupported", fmt.Errorf("wrap: %w", ErrUnsupportedLanguage), true},
		{"empty text", ErrEmptyText, true},
		{"bad request", &StatusError{StatusCode: http.StatusBadRequest}, true},
		{"wrapped bad request", fmt.Errorf("post: %w", &StatusError{StatusCode: http.StatusUnprocessableEntity}), true},
		{"unauthorized", &StatusError{StatusCode: http.StatusUnauthorized}, false},
		{"too many requests", &StatusError{StatusCode: http.StatusTooManyRequests}, false},
		{"server error", &StatusError{StatusCode: http.StatusInternalServerError}, false},
		{"plain error", errors.New("connection refused"), false},
		{"empty response", ErrEmptyResponse, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRejection(tt.err); got != tt.want {
				t.Errorf("IsRejection(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

type localDetector struct{}

func (localDetector) Detect(context.Context, string) (Detection, error) {
	return Detection{Language: "de", Confidence: Confidence(0.97)}, nil
}

func (localDetector) InProcess() bool { return true }

func TestGuardLocalDetectionSkipsLimiterAndBreaker(t *testing.T) {
	boom := errors.New("boom")
	remote := &stubEngine{translate: func(context.Context, string) (string, error) {
		return "", boom
	}}
	g := NewGuard(WithDetector(remote, localDetector{}), GuardConfig{
		Name:            "test-local-detect",
		RatePerSecond:   0.001,
		Burst:           1,
		BreakerFailures: 1,
		BreakerTimeout:  time.Hour,
	}, quietLogger())

	// Spends the only token and opens the breaker.
	if _, err := g.Translate(context.Background(), "x", "en", "fr"); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if g.State() != gobreaker.StateOpen {
		t.Fatalf("State() = %s, want open", g.State())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	det, err := g.Detect(ctx, "guten Tag")
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}
	if det.Language != "de" {
		t.Errorf("Language = %q, want de", det.Language)
	}
	if n := remote.calls.Load(); n != 1 {
		t.Errorf("remote engine called %d times, want 1", n)
	}
}
