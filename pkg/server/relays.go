package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/dasmlab/telephone/pkg/relay"
	"github.com/dasmlab/telephone/pkg/service"
)

const (
	maxBodyBytes     = 1 << 20
	sseKeepAlive     = 15 * time.Second
	errNotDetectable = "Could not detect language"
)

// translateResponse is the body of a synchronous relay.
type translateResponse struct {
	Input                  string      `json:"input"`
	Translations           []relay.Hop `json:"translations"`
	OutputLanguage         string      `json:"output_language"`
	OutputTranslation      string      `json:"output_translation"`
	BackTranslation        string      `json:"back_translation"`
	Duration               float64     `json:"duration"`
	SuccessfulTranslations int         `json:"successful_translations"`
	FailedTranslations     int         `json:"failed_translations"`
	ProblemLanguages       []string    `json:"problem_languages"`
}

func newTranslateResponse(sum *relay.Summary) translateResponse {
	complete := sum.CompleteEvent()
	return translateResponse{
		Input:                  sum.Input,
		Translations:           complete.Translations,
		OutputLanguage:         sum.OutputLanguage,
		OutputTranslation:      sum.LastTranslation,
		BackTranslation:        sum.LastBackTranslation,
		Duration:               complete.Duration,
		SuccessfulTranslations: sum.SuccessCount,
		FailedTranslations:     sum.FailureCount,
		ProblemLanguages:       complete.ProblemLanguages,
	}
}

// readRequest decodes and validates a relay request body. On failure it
// writes a 400 and returns false.
func (s *HTTPServer) readRequest(w http.ResponseWriter, r *http.Request) (service.Request, bool) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return service.Request{}, false
	}
	req, err := s.relays.ParseRequest(payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, s.relays.ErrorMessage(req.Locale, err))
		return req, false
	}
	return req, true
}

// handleTranslate runs a whole relay and answers with its result.
func (s *HTTPServer) handleTranslate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readRequest(w, r)
	if !ok {
		return
	}

	sum, err := s.relays.RunSync(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, newTranslateResponse(sum))
	case errors.Is(err, relay.ErrDetectionUncertain):
		writeError(w, http.StatusUnprocessableEntity, errNotDetectable)
	case r.Context().Err() != nil:
		// Client went away; nobody is listening.
		s.logger.WithError(err).Debug("Synchronous relay cancelled")
	default:
		s.logger.WithError(err).Error("Synchronous relay failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleCreateRelay queues an asynchronous relay.
func (s *HTTPServer) handleCreateRelay(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readRequest(w, r)
	if !ok {
		return
	}

	sess, err := s.sessions.Create(req)
	if err != nil {
		if errors.Is(err, service.ErrShuttingDown) {
			writeError(w, http.StatusServiceUnavailable, s.relays.ErrorMessage(req.Locale, err))
			return
		}
		s.logger.WithError(err).Error("Failed to create relay session")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Location", "/api/v1/relays/"+sess.ID)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     sess.ID,
		"status": string(sess.View().Status),
	})
}

func (s *HTTPServer) lookupSession(w http.ResponseWriter, r *http.Request) (*service.Session, bool) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return sess, true
}

// handleGetRelay returns the status of an asynchronous relay.
func (s *HTTPServer) handleGetRelay(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

// handleRelayEvents streams a relay's events as Server-Sent Events,
// replaying what was already recorded and following until the relay ends.
func (s *HTTPServer) handleRelayEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger := s.logger.WithFields(logrus.Fields{
		"session_id": sess.ID,
	})

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	sent := 0
	for {
		events, done, changed := sess.EventsSince(sent)
		for _, ev := range events {
			if err := writeSSE(w, ev.EventType(), ev); err != nil {
				logger.WithError(err).Debug("Writing SSE event failed")
				return
			}
			sent++
		}
		if done {
			if view := sess.View(); view.Status == service.SessionStatusFailed {
				_ = writeSSE(w, relay.EventError, relay.NewErrorEvent(view.Error))
			}
			flusher.Flush()
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-changed:
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSE writes one event in the "event: <type>\ndata: <json>\n\n" form.
func writeSSE(w io.Writer, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
	return err
}
