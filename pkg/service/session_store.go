package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dasmlab/telephone/pkg/relay"
)

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("session not found")

// SessionStatus represents the status of an asynchronous relay.
type SessionStatus string

const (
	SessionStatusQueued     SessionStatus = "queued"
	SessionStatusProcessing SessionStatus = "processing"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusFailed     SessionStatus = "failed"
)

// Done reports whether the status is terminal.
func (s SessionStatus) Done() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed
}

// Session is an asynchronous relay. It records every event so that
// followers can replay the stream from any point.
type Session struct {
	ID          string
	Input       string
	Locale      string
	Status      SessionStatus
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       string
	Summary     *relay.Summary

	events  []relay.Event
	changed chan struct{}

	// Mutex for thread-safe access
	mu sync.RWMutex
}

func newSession(req Request) *Session {
	return &Session{
		ID:        uuid.New().String(),
		Input:     req.Text,
		Locale:    req.Locale,
		Status:    SessionStatusQueued,
		CreatedAt: time.Now(),
		changed:   make(chan struct{}),
	}
}

// notify wakes followers. Callers hold s.mu.
func (s *Session) notify() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// Send implements relay.Sink by recording ev.
func (s *Session) Send(_ context.Context, ev relay.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	s.notify()
	return nil
}

// UpdateStatus updates the status of a session.
func (s *Session) UpdateStatus(status SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Status = status

	now := time.Now()
	switch status {
	case SessionStatusProcessing:
		if s.StartedAt == nil {
			s.StartedAt = &now
		}
	case SessionStatusCompleted, SessionStatusFailed:
		if s.CompletedAt == nil {
			s.CompletedAt = &now
		}
	}
	s.notify()
}

// SetError marks the session failed.
func (s *Session) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Error = err.Error()
	s.Status = SessionStatusFailed
	now := time.Now()
	s.CompletedAt = &now
	s.notify()
}

// SetResult marks the session completed with summary.
func (s *Session) SetResult(summary *relay.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Summary = summary
	s.Status = SessionStatusCompleted
	now := time.Now()
	s.CompletedAt = &now
	s.notify()
}

// EventsSince returns the events recorded after the first from, whether
// the session has finished, and a channel closed on the next change.
func (s *Session) EventsSince(from int) ([]relay.Event, bool, <-chan struct{}) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []relay.Event
	if from < len(s.events) {
		out = make([]relay.Event, len(s.events)-from)
		copy(out, s.events[from:])
	}
	return out, s.Status.Done(), s.changed
}

// SessionView is the JSON shape of a session's status.
type SessionView struct {
	ID                     string        `json:"id"`
	Status                 SessionStatus `json:"status"`
	Input                  string        `json:"input"`
	CreatedAt              time.Time     `json:"created_at"`
	StartedAt              *time.Time    `json:"started_at,omitempty"`
	CompletedAt            *time.Time    `json:"completed_at,omitempty"`
	Error                  string        `json:"error,omitempty"`
	Events                 int           `json:"events"`
	OriginalLanguage       string        `json:"original_language,omitempty"`
	SuccessfulTranslations int           `json:"successful_translations"`
	FailedTranslations     int           `json:"failed_translations"`
	FinalText              string        `json:"final_text,omitempty"`
}

// View returns a consistent snapshot of the session (thread-safe).
func (s *Session) View() SessionView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := SessionView{
		ID:          s.ID,
		Status:      s.Status,
		Input:       s.Input,
		CreatedAt:   s.CreatedAt,
		StartedAt:   s.StartedAt,
		CompletedAt: s.CompletedAt,
		Error:       s.Error,
		Events:      len(s.events),
	}
	if s.Summary != nil {
		v.OriginalLanguage = s.Summary.OriginalLanguage
		v.SuccessfulTranslations = s.Summary.SuccessCount
		v.FailedTranslations = s.Summary.FailureCount
		v.FinalText = s.Summary.FinalText
	}
	return v
}

// SessionStore manages asynchronous relays.
type SessionStore struct {
	sessions   map[string]*Session
	sessionsMu sync.RWMutex
	logger     *logrus.Logger
	processor  *SessionProcessor
}

// NewSessionStore creates a new session store.
func NewSessionStore(logger *logrus.Logger) *SessionStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &SessionStore{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// SetProcessor sets the processor that runs created sessions.
func (q *SessionStore) SetProcessor(processor *SessionProcessor) {
	q.processor = processor
}

// Create stores a new session for req and starts processing it.
func (q *SessionStore) Create(req Request) (*Session, error) {
	if q.processor == nil {
		return nil, errors.New("session store has no processor")
	}
	sess := newSession(req)

	q.sessionsMu.Lock()
	q.sessions[sess.ID] = sess
	total := len(q.sessions)
	q.sessionsMu.Unlock()
	asyncSessionsStored.Set(float64(total))

	q.logger.WithFields(logrus.Fields{
		"session_id":  sess.ID,
		"text_length": len(req.Text),
	}).Info("Created relay session")

	if err := q.processor.Submit(sess); err != nil {
		q.sessionsMu.Lock()
		delete(q.sessions, sess.ID)
		q.sessionsMu.Unlock()
		return nil, err
	}
	return sess, nil
}

// Get retrieves a session by ID.
func (q *SessionStore) Get(id string) (*Session, error) {
	q.sessionsMu.RLock()
	defer q.sessionsMu.RUnlock()

	sess, exists := q.sessions[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// Len returns the number of stored sessions.
func (q *SessionStore) Len() int {
	q.sessionsMu.RLock()
	defer q.sessionsMu.RUnlock()
	return len(q.sessions)
}

// CleanupOld removes finished sessions completed more than maxAge ago.
func (q *SessionStore) CleanupOld(maxAge time.Duration) int {
	q.sessionsMu.Lock()
	defer q.sessionsMu.Unlock()

	now := time.Now()
	removed := 0

	for id, sess := range q.sessions {
		sess.mu.RLock()
		expired := sess.Status.Done() && sess.CompletedAt != nil && now.Sub(*sess.CompletedAt) > maxAge
		sess.mu.RUnlock()
		if expired {
			delete(q.sessions, id)
			removed++
		}
	}

	asyncSessionsStored.Set(float64(len(q.sessions)))
	if removed > 0 {
		q.logger.WithFields(logrus.Fields{
			"removed":   removed,
			"remaining": len(q.sessions),
		}).Info("Cleaned up old relay sessions")
	}
	return removed
}
