package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dasmlab/telephone/pkg/relay"
)

// DefaultSessionTimeout bounds a single asynchronous relay.
const DefaultSessionTimeout = 30 * time.Minute

// SessionProcessor runs asynchronous relays in the background.
type SessionProcessor struct {
	orchestrator *relay.Orchestrator
	timeout      time.Duration
	logger       *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewSessionProcessor creates a processor. Relays are cancelled when ctx is
// done or Shutdown is called.
func NewSessionProcessor(ctx context.Context, orchestrator *relay.Orchestrator, timeout time.Duration, logger *logrus.Logger) *SessionProcessor {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	ctx, cancel := context.WithCancel(ctx)
	return &SessionProcessor{
		orchestrator: orchestrator,
		timeout:      timeout,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Submit starts processing sess in the background.
func (p *SessionProcessor) Submit(sess *Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrShuttingDown
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.Process(sess)
	}()
	return nil
}

// Process runs the relay for sess and records its outcome.
func (p *SessionProcessor) Process(sess *Session) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	logger := p.logger.WithFields(logrus.Fields{
		"session_id": sess.ID,
	})
	logger.Info("Starting relay session processing")

	sess.UpdateStatus(SessionStatusProcessing)

	summary, err := p.orchestrator.Run(ctx, relay.RunRequest{
		Text:       sess.Input,
		Locale:     sess.Locale,
		EmitStatus: true,
	}, sess)
	if err != nil {
		logger.WithError(err).Warn("Relay session failed")
		sess.SetError(err)
		asyncSessionsTotal.WithLabelValues(string(SessionStatusFailed)).Inc()
		return
	}

	sess.SetResult(summary)
	asyncSessionsTotal.WithLabelValues(string(SessionStatusCompleted)).Inc()

	logger.WithFields(logrus.Fields{
		"successful_translations": summary.SuccessCount,
		"failed_translations":     summary.FailureCount,
		"duration_ms":             summary.Duration.Milliseconds(),
	}).Info("Relay session completed successfully")
}

// Shutdown cancels running relays and waits for them to record their outcome.
func (p *SessionProcessor) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
}
