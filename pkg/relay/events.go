package relay

import (
	"context"
	"sync"
)

// Event types as they appear in the "type" field on the wire.
const (
	EventStatus            = "status"
	EventDetection         = "detection"
	EventError             = "error"
	EventTranslation       = "translation"
	EventProgress          = "progress"
	EventTranslationFailed = "translation_failed"
	EventComplete          = "complete"
)

// Event is one message in a session's ordered stream. Every implementation
// marshals to a JSON object carrying a "type" field.
type Event interface {
	EventType() string
}

type header struct {
	Type string `json:"type"`
}

func (h header) EventType() string { return h.Type }

// StatusEvent acknowledges that work started.
type StatusEvent struct {
	header
	Message string `json:"message"`
	Input   string `json:"input"`
}

// NewStatusEvent builds a status event.
func NewStatusEvent(message, input string) StatusEvent {
	return StatusEvent{header: header{EventStatus}, Message: message, Input: input}
}

// DetectionEvent reports the detection verdict.
type DetectionEvent struct {
	header
	Success      bool   `json:"success"`
	Language     string `json:"language"`
	LanguageName string `json:"language_name"`
}

// ErrorEvent is an advisory; it never ends the stream by itself.
type ErrorEvent struct {
	header
	Message string `json:"message"`
}

// NewErrorEvent builds an advisory error event.
func NewErrorEvent(message string) ErrorEvent {
	return ErrorEvent{header: header{EventError}, Message: message}
}

// Hop is one successful translation step.
type Hop struct {
	SourceLanguage     string `json:"source_language"`
	SourceLanguageName string `json:"source_language_name"`
	TargetLanguage     string `json:"target_language"`
	TargetLanguageName string `json:"target_language_name"`
	OriginalText       string `json:"original_text"`
	TranslatedText     string `json:"translated_text"`
	BackTranslation    string `json:"back_translation"`
}

// TranslationEvent carries a hop. Index 0 is the identity hop.
type TranslationEvent struct {
	header
	Index       int `json:"index"`
	Translation Hop `json:"translation"`
}

// ProgressEvent announces the next target before the call is made.
type ProgressEvent struct {
	header
	Message             string `json:"message"`
	CurrentLanguage     string `json:"current_language"`
	CurrentLanguageName string `json:"current_language_name"`
}

// TranslationFailedEvent reports a hop that was rolled back.
type TranslationFailedEvent struct {
	header
	Language     string `json:"language"`
	LanguageName string `json:"language_name"`
}

// CompleteEvent is the final summary and always the last event of a run.
type CompleteEvent struct {
	header
	Input                  string   `json:"input"`
	Translations           []Hop    `json:"translations"`
	Duration               float64  `json:"duration"`
	SuccessfulTranslations int      `json:"successful_translations"`
	FailedTranslations     int      `json:"failed_translations"`
	ProblemLanguages       []string `json:"problem_languages"`
}

// Sink delivers events to the caller in order. Send must not reorder
// events; an error aborts the run.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

// Send calls f.
func (f SinkFunc) Send(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// BufferSink accumulates events in memory.
type BufferSink struct {
	mu     sync.Mutex
	events []Event
}

// Send appends ev.
func (b *BufferSink) Send(_ context.Context, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

// Events returns a copy of everything sent so far.
func (b *BufferSink) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Len returns the number of buffered events.
func (b *BufferSink) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
