package relay

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/dasmlab/telephone/pkg/catalog"
	"github.com/dasmlab/telephone/pkg/messages"
)

// DefaultMaxHops caps successful hops: 56 languages including the original.
const DefaultMaxHops = 56 - 1

// ErrDetectionUncertain ends a run that requires a confident detection.
var ErrDetectionUncertain = errors.New("could not detect language")

// Messages renders user-facing texts. *messages.Catalog implements it.
type Messages interface {
	T(locale, key string, data map[string]any) string
}

// Config wires an Orchestrator.
type Config struct {
	// MaxHops caps successful hops. Zero means DefaultMaxHops.
	MaxHops int
	// Catalog supplies targets and names. Nil uses catalog.Default().
	Catalog *catalog.Catalog
	// Messages renders advisory texts. Nil uses messages.Default().
	Messages Messages
	// Shuffle orders the plan. Nil uses math/rand/v2.
	Shuffle catalog.Shuffler
	// Now is the clock. Nil uses time.Now.
	Now func() time.Time
}

// RunRequest is one relay request.
type RunRequest struct {
	Text   string
	Locale string
	// EmitStatus makes Run send the initial status event itself.
	EmitStatus bool
	// RequireConfidentDetection stops the run with ErrDetectionUncertain
	// after the detection event instead of falling back.
	RequireConfidentDetection bool
}

// Summary is the outcome of a completed run.
type Summary struct {
	Input            string
	OriginalLanguage string
	Detected         bool
	Hops             []Hop
	Duration         time.Duration
	SuccessCount     int
	FailureCount     int
	ProblemLanguages []string
	// FinalText is the running text after the last hop.
	FinalText string
	// OutputLanguage names the last successful hop's target, or the
	// original language when no hop succeeded.
	OutputLanguage string
	// LastTranslation and LastBackTranslation come from the last
	// successful hop; empty when none succeeded.
	LastTranslation     string
	LastBackTranslation string
}

// CompleteEvent renders s as the final event of a stream.
func (s *Summary) CompleteEvent() CompleteEvent {
	hops := s.Hops
	if hops == nil {
		hops = []Hop{}
	}
	problems := s.ProblemLanguages
	if problems == nil {
		problems = []string{}
	}
	return CompleteEvent{
		header:                 header{EventComplete},
		Input:                  s.Input,
		Translations:           hops,
		Duration:               s.Duration.Seconds(),
		SuccessfulTranslations: s.SuccessCount,
		FailedTranslations:     s.FailureCount,
		ProblemLanguages:       problems,
	}
}

// Orchestrator drives a relay: detect, plan, iterate hops, summarize.
// It holds no per-run state and may run many sessions concurrently.
type Orchestrator struct {
	gate     *Gate
	hops     *HopTranslator
	catalog  *catalog.Catalog
	messages Messages
	shuffle  catalog.Shuffler
	maxHops  int
	now      func() time.Time
	logger   *logrus.Logger
}

// NewOrchestrator builds an Orchestrator.
func NewOrchestrator(gate *Gate, hops *HopTranslator, cfg Config, logger *logrus.Logger) *Orchestrator {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = DefaultMaxHops
	}
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.Default()
	}
	if cfg.Messages == nil {
		cfg.Messages = messages.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{
		gate:     gate,
		hops:     hops,
		catalog:  cfg.Catalog,
		messages: cfg.Messages,
		shuffle:  cfg.Shuffle,
		maxHops:  cfg.MaxHops,
		now:      cfg.Now,
		logger:   logger,
	}
}

// session is the mutable state of one run.
type session struct {
	ctx      context.Context
	sink     Sink
	original string
	origName string
	current  string
	summary  *Summary
}

func (s *session) emit(ev Event) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	return s.sink.Send(s.ctx, ev)
}

// Run executes one relay and streams its events to sink. It returns the
// summary once the complete event has been sent. When ctx is cancelled no
// further events are sent and ctx.Err() is returned; a sink error aborts
// the run and is returned as is.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest, sink Sink) (*Summary, error) {
	start := o.now()
	activeSessions.Inc()
	defer activeSessions.Dec()

	summary, err := o.run(ctx, req, sink, start)

	outcome := outcomeCompleted
	switch {
	case err == nil:
	case errors.Is(err, ErrDetectionUncertain):
		outcome = outcomeUncertain
	case ctx.Err() != nil:
		outcome = outcomeCancelled
	default:
		outcome = outcomeAborted
	}
	sessionsTotal.WithLabelValues(outcome).Inc()
	sessionDuration.WithLabelValues(outcome).Observe(o.now().Sub(start).Seconds())

	if err != nil {
		o.logger.WithError(err).WithFields(logrus.Fields{
			"outcome": outcome,
		}).Info("Relay ended early")
		return nil, err
	}
	return summary, nil
}

func (o *Orchestrator) run(ctx context.Context, req RunRequest, sink Sink, start time.Time) (*Summary, error) {
	s := &session{
		ctx:     ctx,
		sink:    sink,
		current: req.Text,
		summary: &Summary{Input: req.Text},
	}

	if req.EmitStatus {
		msg := o.messages.T(req.Locale, messages.RelayStarted, nil)
		if err := s.emit(NewStatusEvent(msg, req.Text)); err != nil {
			return nil, err
		}
	}

	// Detecting
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	confident, lang := o.gate.Detect(ctx, req.Text)
	s.original = lang
	s.origName = o.catalog.NameOr(lang, "Unknown")
	s.summary.OriginalLanguage = lang
	s.summary.Detected = confident

	if err := s.emit(DetectionEvent{
		header:       header{EventDetection},
		Success:      confident,
		Language:     lang,
		LanguageName: s.origName,
	}); err != nil {
		return nil, err
	}
	if !confident {
		if req.RequireConfidentDetection {
			return nil, ErrDetectionUncertain
		}
		msg := o.messages.T(req.Locale, messages.RelayDetectionFallback, map[string]any{
			"Language": displayName(s.origName),
		})
		if err := s.emit(NewErrorEvent(msg)); err != nil {
			return nil, err
		}
	}

	// Planning
	plan := o.catalog.Plan(o.shuffle, s.original)
	if err := s.emit(TranslationEvent{
		header: header{EventTranslation},
		Index:  0,
		Translation: Hop{
			SourceLanguage:     s.original,
			SourceLanguageName: s.origName,
			TargetLanguage:     s.original,
			TargetLanguageName: s.origName,
			OriginalText:       req.Text,
			TranslatedText:     req.Text,
			BackTranslation:    req.Text,
		},
	}); err != nil {
		return nil, err
	}

	logger := o.logger.WithFields(logrus.Fields{
		"original_lang": s.original,
		"detected":      confident,
		"planned":       len(plan),
		"max_hops":      o.maxHops,
	})
	logger.Info("Relay started")

	// Iterating
	for _, target := range plan {
		if s.summary.SuccessCount >= o.maxHops {
			break
		}
		if err := o.hop(s, req.Locale, target); err != nil {
			return nil, err
		}
	}

	// Completed
	sum := s.summary
	sum.Duration = o.now().Sub(start)
	sum.FinalText = s.current
	if sum.OutputLanguage == "" {
		sum.OutputLanguage = s.origName
	}
	if err := s.emit(sum.CompleteEvent()); err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"successful_translations": sum.SuccessCount,
		"failed_translations":     sum.FailureCount,
		"duration_ms":             sum.Duration.Milliseconds(),
	}).Info("Relay completed")

	return sum, nil
}

// hop attempts one planned target. Only emit errors and cancellation are
// returned; translation failures are recorded in the session.
func (o *Orchestrator) hop(s *session, locale string, target catalog.Language) error {
	if err := s.emit(ProgressEvent{
		header: header{EventProgress},
		Message: o.messages.T(locale, messages.RelayProgress, map[string]any{
			"Name": target.Name,
			"Code": target.Code,
		}),
		CurrentLanguage:     target.Code,
		CurrentLanguageName: target.Name,
	}); err != nil {
		return err
	}

	before := s.current
	forward, ok := o.hops.Translate(s.ctx, before, s.original, target.Code)
	if err := s.ctx.Err(); err != nil {
		return err
	}

	var back string
	result := hopSuccess
	if !ok {
		result = hopFailed
	} else {
		var err error
		back, err = o.hops.ToOriginal(s.ctx, forward, target.Code, s.original)
		if cerr := s.ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			o.logger.WithError(err).WithFields(logrus.Fields{
				"target_lang": target.Code,
			}).Warn("Back-translation failed, rolling back hop")
			result = hopBackTranslationFailed
		}
	}
	hopsTotal.WithLabelValues(result).Inc()

	if result != hopSuccess {
		s.current = before
		s.summary.FailureCount++
		s.summary.ProblemLanguages = append(s.summary.ProblemLanguages, target.Name)
		return s.emit(TranslationFailedEvent{
			header:       header{EventTranslationFailed},
			Language:     target.Code,
			LanguageName: target.Name,
		})
	}

	hop := Hop{
		SourceLanguage:     s.original,
		SourceLanguageName: s.origName,
		TargetLanguage:     target.Code,
		TargetLanguageName: target.Name,
		OriginalText:       before,
		TranslatedText:     forward,
		BackTranslation:    back,
	}
	sum := s.summary
	sum.SuccessCount++
	sum.Hops = append(sum.Hops, hop)
	sum.OutputLanguage = target.Name
	sum.LastTranslation = forward
	sum.LastBackTranslation = back
	s.current = back

	return s.emit(TranslationEvent{
		header:      header{EventTranslation},
		Index:       sum.SuccessCount,
		Translation: hop,
	})
}

// displayName capitalizes a catalog name for use in a sentence.
func displayName(name string) string {
	return cases.Title(language.English).String(name)
}
