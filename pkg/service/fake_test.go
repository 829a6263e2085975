package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dasmlab/telephone/pkg/catalog"
	"github.com/dasmlab/telephone/pkg/relay"
	"github.com/dasmlab/telephone/pkg/translate"
)

// echoEngine prefixes forward translations with "<dst>:" and strips the
// prefix on the way back. Texts starting with "block" hang until the call
// is cancelled; texts starting with "uncertain" are detected with low
// confidence.
type echoEngine struct{}

func (echoEngine) Translate(ctx context.Context, text, src, dst string) (string, error) {
	if strings.HasPrefix(text, "block") {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if prefix := src + ":"; strings.HasPrefix(text, prefix) {
		return strings.TrimPrefix(text, prefix), nil
	}
	return dst + ":" + text, nil
}

func (echoEngine) Detect(_ context.Context, text string) (translate.Detection, error) {
	if strings.HasPrefix(text, "uncertain") {
		return translate.Detection{Language: "en", Confidence: translate.Confidence(0.3)}, nil
	}
	return translate.Detection{Language: "en", Confidence: translate.Confidence(0.95)}, nil
}

func (echoEngine) CheckHealth(context.Context) error { return nil }

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestOrchestrator() *relay.Orchestrator {
	logger := quietLogger()
	cat := catalog.New([]catalog.Language{
		{Code: "de", Name: "german"},
		{Code: "en", Name: "english"},
		{Code: "fr", Name: "french"},
	}, nil)
	engine := echoEngine{}
	gate := relay.NewGate(engine, relay.GateConfig{Catalog: cat}, logger)
	hops := relay.NewHopTranslator(engine, relay.HopConfig{
		Sleep: func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	}, logger)
	return relay.NewOrchestrator(gate, hops, relay.Config{Catalog: cat}, logger)
}

var errConnClosed = errors.New("connection closed")

type fakeConn struct {
	mu     sync.Mutex
	events []relay.Event
	closed bool
}

func (c *fakeConn) WriteEvent(_ context.Context, ev relay.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) Events() []relay.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]relay.Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func hasType(events []relay.Event, typ string) bool {
	for _, ev := range events {
		if ev.EventType() == typ {
			return true
		}
	}
	return false
}
