package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/dasmlab/telephone/pkg/messages"
	"github.com/dasmlab/telephone/pkg/relay"
)

// DefaultMaxInputLength bounds the text a client may submit, in code points.
const DefaultMaxInputLength = 5000

// Request payload errors.
var (
	ErrInvalidJSON  = errors.New("invalid JSON payload")
	ErrEmptyText    = errors.New("text is empty")
	ErrTextTooLong  = errors.New("text is too long")
	ErrShuttingDown = errors.New("service is shutting down")
)

// Request is the payload a client sends to start a relay.
type Request struct {
	Text   string `json:"text"`
	Locale string `json:"locale,omitempty"`
}

// Config tunes a RelayService.
type Config struct {
	// MaxInputLength bounds request text. Zero means DefaultMaxInputLength.
	MaxInputLength int
	// SyncRequireDetection makes RunSync refuse uncertain detections.
	SyncRequireDetection bool
	// Messages renders error texts. Nil uses messages.Default().
	Messages relay.Messages
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// RelayService runs relays for connected clients, one at a time per client.
type RelayService struct {
	orchestrator     *relay.Orchestrator
	registry         *Registry
	messages         relay.Messages
	maxInputLength   int
	requireDetection bool
	logger           *logrus.Logger

	mu       sync.Mutex
	tasks    map[string]*task
	wg       sync.WaitGroup
	stopping bool
}

// NewRelayService creates a RelayService delivering events through registry.
func NewRelayService(orchestrator *relay.Orchestrator, registry *Registry, cfg Config, logger *logrus.Logger) *RelayService {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.MaxInputLength <= 0 {
		cfg.MaxInputLength = DefaultMaxInputLength
	}
	if cfg.Messages == nil {
		cfg.Messages = messages.Default()
	}
	return &RelayService{
		orchestrator:     orchestrator,
		registry:         registry,
		messages:         cfg.Messages,
		maxInputLength:   cfg.MaxInputLength,
		requireDetection: cfg.SyncRequireDetection,
		logger:           logger,
		tasks:            make(map[string]*task),
	}
}

// ParseRequest decodes and validates a client payload.
func (s *RelayService) ParseRequest(payload []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return Request{}, ErrInvalidJSON
	}
	return req, s.Validate(req)
}

// Validate checks request text against the configured limits.
func (s *RelayService) Validate(req Request) error {
	if strings.TrimSpace(req.Text) == "" {
		return ErrEmptyText
	}
	if utf8.RuneCountInString(req.Text) > s.maxInputLength {
		return ErrTextTooLong
	}
	return nil
}

// ErrorMessage renders a request error for the client.
func (s *RelayService) ErrorMessage(locale string, err error) string {
	switch {
	case errors.Is(err, ErrInvalidJSON):
		return s.messages.T(locale, messages.RequestInvalidJSON, nil)
	case errors.Is(err, ErrEmptyText):
		return s.messages.T(locale, messages.RequestEmptyText, nil)
	case errors.Is(err, ErrTextTooLong):
		return s.messages.T(locale, messages.RequestTextTooLong, map[string]any{"Max": s.maxInputLength})
	case errors.Is(err, ErrShuttingDown):
		return s.messages.T(locale, messages.RelayUnavailable, nil)
	}
	return err.Error()
}

// Start runs a relay for clientID, bound to parent. A relay already running
// for the client is cancelled, and Start waits for it to finish before the
// new one emits anything.
func (s *RelayService) Start(parent context.Context, clientID string, req Request) error {
	ctx, cancel := context.WithCancel(parent)
	t := &task{cancel: cancel, done: make(chan struct{})}

	for {
		s.Stop(clientID)

		s.mu.Lock()
		if s.stopping {
			s.mu.Unlock()
			cancel()
			return ErrShuttingDown
		}
		if _, busy := s.tasks[clientID]; busy {
			// Another Start won the race; stop that one too.
			s.mu.Unlock()
			continue
		}
		s.tasks[clientID] = t
		s.wg.Add(1)
		s.mu.Unlock()
		break
	}

	streamingSessions.Inc()
	go func() {
		defer s.wg.Done()
		defer streamingSessions.Dec()
		defer close(t.done)
		defer cancel()
		defer s.forget(clientID, t)

		logger := s.logger.WithFields(logrus.Fields{
			"client_id":   clientID,
			"text_length": len(req.Text),
		})
		logger.Info("Starting relay session")

		summary, err := s.orchestrator.Run(ctx, relay.RunRequest{
			Text:       req.Text,
			Locale:     req.Locale,
			EmitStatus: true,
		}, RegistrySink{Registry: s.registry, ClientID: clientID})
		if err != nil {
			logger.WithError(err).Info("Relay session ended without completing")
			return
		}
		logger.WithFields(logrus.Fields{
			"successful_translations": summary.SuccessCount,
			"failed_translations":     summary.FailureCount,
		}).Info("Relay session completed")
	}()
	return nil
}

func (s *RelayService) forget(clientID string, t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks[clientID] == t {
		delete(s.tasks, clientID)
	}
}

// Stop cancels clientID's relay, if any, and waits for it to finish.
func (s *RelayService) Stop(clientID string) {
	s.mu.Lock()
	t, ok := s.tasks[clientID]
	s.mu.Unlock()
	if !ok {
		return
	}
	t.cancel()
	<-t.done
}

// Active returns the number of running relays.
func (s *RelayService) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Shutdown refuses new relays, cancels running ones and waits for them.
func (s *RelayService) Shutdown() {
	s.mu.Lock()
	s.stopping = true
	for _, t := range s.tasks {
		t.cancel()
	}
	s.mu.Unlock()
	s.Wait()
}

// Wait blocks until every started relay has returned.
func (s *RelayService) Wait() {
	s.wg.Wait()
}

// RunSync runs a relay to completion without streaming and returns its
// summary. With SyncRequireDetection set, an uncertain detection yields
// relay.ErrDetectionUncertain.
func (s *RelayService) RunSync(ctx context.Context, req Request) (*relay.Summary, error) {
	if err := s.Validate(req); err != nil {
		return nil, err
	}
	return s.orchestrator.Run(ctx, relay.RunRequest{
		Text:                      req.Text,
		Locale:                    req.Locale,
		RequireConfidentDetection: s.requireDetection,
	}, &relay.BufferSink{})
}
