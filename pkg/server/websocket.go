package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/dasmlab/telephone/pkg/relay"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 * 1024
)

// wsConn serialises writes to a WebSocket. gorilla connections allow one
// concurrent writer.
type wsConn struct {
	ws        *websocket.Conn
	mu        sync.Mutex
	closeOnce sync.Once
}

// WriteEvent sends ev as a JSON text frame.
func (c *wsConn) WriteEvent(ctx context.Context, ev relay.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteJSON(ev)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close closes the underlying connection once.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.ws.Close()
	})
	return err
}

// handleWebSocket registers the client and starts a relay for every
// request it sends. A new request replaces the running one.
func (s *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "client_id")
	if clientID == "" {
		writeError(w, http.StatusBadRequest, "client_id is required")
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.WithError(err).WithFields(logrus.Fields{
			"client_id": clientID,
		}).Warn("WebSocket upgrade failed")
		return
	}
	conn := &wsConn{ws: ws}
	logger := s.logger.WithFields(logrus.Fields{
		"client_id":   clientID,
		"remote_addr": r.RemoteAddr,
	})

	s.registry.Add(clientID, conn)
	logger.Info("WebSocket client connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		// A replacing connection owns the client id and its relay from now on.
		if s.registry.Remove(clientID, conn) {
			s.relays.Stop(clientID)
		}
		_ = conn.Close()
		logger.Info("WebSocket client disconnected")
	}()

	go s.keepAlive(ctx, conn, logger)

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		s.registry.Touch(clientID)
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WithError(err).Warn("WebSocket read failed")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		s.registry.Touch(clientID)

		req, err := s.relays.ParseRequest(payload)
		if err == nil {
			err = s.relays.Start(ctx, clientID, req)
		}
		if err != nil {
			logger.WithError(err).Debug("Rejected relay request")
			if werr := conn.WriteEvent(ctx, relay.NewErrorEvent(s.relays.ErrorMessage(req.Locale, err))); werr != nil {
				logger.WithError(werr).Debug("Sending error event failed")
				return
			}
		}
	}
}

func (s *HTTPServer) keepAlive(ctx context.Context, conn *wsConn, logger *logrus.Entry) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				logger.WithError(err).Debug("WebSocket ping failed")
				_ = conn.Close()
				return
			}
		}
	}
}
