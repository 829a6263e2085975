package server

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dasmlab/telephone/pkg/catalog"
	"github.com/dasmlab/telephone/pkg/relay"
	"github.com/dasmlab/telephone/pkg/service"
	"github.com/dasmlab/telephone/pkg/translate"
)

// prefixEngine marks forward translations with "<dst>:" and strips the
// mark on the way back. Text starting with "uncertain" is detected with
// low confidence.
type prefixEngine struct {
	healthErr error
}

func (prefixEngine) Translate(_ context.Context, text, src, dst string) (string, error) {
	if prefix := src + ":"; strings.HasPrefix(text, prefix) {
		return strings.TrimPrefix(text, prefix), nil
	}
	return dst + ":" + text, nil
}

func (prefixEngine) Detect(_ context.Context, text string) (translate.Detection, error) {
	conf := 0.97
	if strings.HasPrefix(text, "uncertain") {
		conf = 0.2
	}
	return translate.Detection{Language: "en", Confidence: translate.Confidence(conf)}, nil
}

func (e prefixEngine) CheckHealth(context.Context) error { return e.healthErr }

var errBackendDown = errors.New("backend down")

type testEnv struct {
	server   *httptest.Server
	registry *service.Registry
	relays   *service.RelayService
	sessions *service.SessionStore
}

func newTestEnv(t *testing.T, engine prefixEngine) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cat := catalog.New([]catalog.Language{
		{Code: "de", Name: "german"},
		{Code: "en", Name: "english"},
		{Code: "fr", Name: "french"},
	}, nil)
	gate := relay.NewGate(engine, relay.GateConfig{Catalog: cat}, logger)
	hops := relay.NewHopTranslator(engine, relay.HopConfig{
		Sleep: func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	}, logger)
	orch := relay.NewOrchestrator(gate, hops, relay.Config{Catalog: cat}, logger)

	registry := service.NewRegistry(logger)
	relays := service.NewRelayService(orch, registry, service.Config{SyncRequireDetection: true, MaxInputLength: 100}, logger)
	processor := service.NewSessionProcessor(context.Background(), orch, time.Minute, logger)
	sessions := service.NewSessionStore(logger)
	sessions.SetProcessor(processor)

	srv := NewHTTPServer(Deps{
		Relays:   relays,
		Registry: registry,
		Sessions: sessions,
		Health:   engine,
	}, Config{AllowedOrigins: []string{"http://localhost:5173"}}, logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		relays.Shutdown()
		processor.Shutdown()
		ts.Close()
	})
	return &testEnv{server: ts, registry: registry, relays: relays, sessions: sessions}
}
