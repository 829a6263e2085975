package relay

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dasmlab/telephone/pkg/catalog"
	"github.com/dasmlab/telephone/pkg/translate"
)

var errEngine = errors.New("engine unavailable")

type translateCall struct {
	Text string
	Src  string
	Dst  string
}

// fakeEngine prefixes forward translations with "<dst>:" and answers
// back-translations by stripping that prefix and appending "~", so the
// chain visibly continues from the back-translation.
type fakeEngine struct {
	mu        sync.Mutex
	detection translate.Detection
	detectErr error
	// override, when it returns handled, replaces the default behaviour.
	override func(text, src, dst string) (out string, err error, handled bool)
	calls    []translateCall
	detects  int
}

func newFakeEngine(lang string, confidence float64) *fakeEngine {
	return &fakeEngine{detection: translate.Detection{
		Language:   lang,
		Confidence: translate.Confidence(confidence),
	}}
}

func (f *fakeEngine) Translate(ctx context.Context, text, src, dst string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, translateCall{Text: text, Src: src, Dst: dst})
	override := f.override
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if override != nil {
		if out, err, handled := override(text, src, dst); handled {
			return out, err
		}
	}
	if prefix := src + ":"; strings.HasPrefix(text, prefix) {
		return strings.TrimPrefix(text, prefix) + "~", nil
	}
	return dst + ":" + text, nil
}

func (f *fakeEngine) Detect(ctx context.Context, text string) (translate.Detection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detects++
	if f.detectErr != nil {
		return translate.Detection{}, f.detectErr
	}
	return f.detection, nil
}

func (f *fakeEngine) CheckHealth(ctx context.Context) error { return nil }

// forwardCalls returns calls whose source is src, in order.
func (f *fakeEngine) forwardCalls(src string) []translateCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []translateCall
	for _, c := range f.calls {
		if c.Src == src {
			out = append(out, c)
		}
	}
	return out
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// reverse is a Shuffler that reverses the catalog order.
func reverse(n int, swap func(i, j int)) {
	for i := 0; i < n/2; i++ {
		swap(i, n-1-i)
	}
}

func smallCatalog() *catalog.Catalog {
	return catalog.New([]catalog.Language{
		{Code: "de", Name: "german"},
		{Code: "en", Name: "english"},
		{Code: "es", Name: "spanish"},
		{Code: "fr", Name: "french"},
		{Code: "ja", Name: "japanese"},
	}, nil)
}

type harness struct {
	engine *fakeEngine
	orch   *Orchestrator
}

func newHarness(engine *fakeEngine, cfg Config) *harness {
	logger := quietLogger()
	gate := NewGate(engine, GateConfig{Catalog: cfg.Catalog}, logger)
	hops := NewHopTranslator(engine, HopConfig{Sleep: noSleep}, logger)
	return &harness{
		engine: engine,
		orch:   NewOrchestrator(gate, hops, cfg, logger),
	}
}

func eventTypes(events []Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.EventType()
	}
	return out
}

func countType(events []Event, typ string) int {
	n := 0
	for _, ev := range events {
		if ev.EventType() == typ {
			n++
		}
	}
	return n
}
