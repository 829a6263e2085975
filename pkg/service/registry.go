package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dasmlab/telephone/pkg/relay"
)

// ErrClientNotFound is returned when sending to a client that is not connected.
var ErrClientNotFound = errors.New("client not connected")

// Conn is a client's event channel. WriteEvent must be safe for concurrent use.
type Conn interface {
	WriteEvent(ctx context.Context, ev relay.Event) error
	Close() error
}

// ClientInfo tracks a connected client.
type ClientInfo struct {
	ClientID     string
	ConnectedAt  time.Time
	LastActivity time.Time
	EventsSent   int64

	conn Conn
}

// Registry maps client ids to their connections. It is safe for
// concurrent use.
type Registry struct {
	clients      map[string]*ClientInfo
	clientsMutex sync.RWMutex
	logger       *logrus.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		clients: make(map[string]*ClientInfo),
		logger:  logger,
	}
}

// Add registers conn under clientID. An existing connection with the same
// id is closed and replaced; replaced reports whether that happened.
func (r *Registry) Add(clientID string, conn Conn) (replaced bool) {
	now := time.Now()

	r.clientsMutex.Lock()
	old, exists := r.clients[clientID]
	r.clients[clientID] = &ClientInfo{
		ClientID:     clientID,
		ConnectedAt:  now,
		LastActivity: now,
		conn:         conn,
	}
	total := len(r.clients)
	r.clientsMutex.Unlock()

	connectedClients.Set(float64(total))

	replaced = exists && old.conn != conn
	if replaced {
		if err := old.conn.Close(); err != nil {
			r.logger.WithError(err).WithFields(logrus.Fields{
				"client_id": clientID,
			}).Debug("Closing replaced connection failed")
		}
		clientsReplacedTotal.Inc()
		r.logger.WithFields(logrus.Fields{
			"client_id": clientID,
		}).Warn("Client reconnected, replaced previous connection")
	}

	r.logger.WithFields(logrus.Fields{
		"client_id":     clientID,
		"total_clients": total,
	}).Info("Client connected")

	return replaced
}

// Remove deregisters clientID if it is still bound to conn.
func (r *Registry) Remove(clientID string, conn Conn) bool {
	r.clientsMutex.Lock()
	info, exists := r.clients[clientID]
	if !exists || info.conn != conn {
		r.clientsMutex.Unlock()
		return false
	}
	delete(r.clients, clientID)
	total := len(r.clients)
	r.clientsMutex.Unlock()

	connectedClients.Set(float64(total))
	r.logger.WithFields(logrus.Fields{
		"client_id":     clientID,
		"total_clients": total,
	}).Info("Client disconnected")
	return true
}

// Touch records activity from clientID.
func (r *Registry) Touch(clientID string) {
	r.clientsMutex.Lock()
	defer r.clientsMutex.Unlock()
	if info, ok := r.clients[clientID]; ok {
		info.LastActivity = time.Now()
	}
}

// Send writes ev to clientID's current connection. The connection is looked
// up on every send, so events follow a client that reconnected.
func (r *Registry) Send(ctx context.Context, clientID string, ev relay.Event) error {
	r.clientsMutex.RLock()
	info, ok := r.clients[clientID]
	var conn Conn
	if ok {
		conn = info.conn
	}
	r.clientsMutex.RUnlock()

	if !ok {
		eventsSentTotal.WithLabelValues("not_found").Inc()
		return fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
	}

	if err := conn.WriteEvent(ctx, ev); err != nil {
		eventsSentTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("send %s to %s: %w", ev.EventType(), clientID, err)
	}
	eventsSentTotal.WithLabelValues("ok").Inc()

	r.clientsMutex.Lock()
	if cur, ok := r.clients[clientID]; ok && cur.conn == conn {
		cur.LastActivity = time.Now()
		cur.EventsSent++
	}
	r.clientsMutex.Unlock()
	return nil
}

// Broadcast writes ev to every connected client and returns how many
// deliveries succeeded.
func (r *Registry) Broadcast(ctx context.Context, ev relay.Event) int {
	r.clientsMutex.RLock()
	targets := make(map[string]Conn, len(r.clients))
	for id, info := range r.clients {
		targets[id] = info.conn
	}
	r.clientsMutex.RUnlock()

	sent := 0
	for id, conn := range targets {
		if err := conn.WriteEvent(ctx, ev); err != nil {
			r.logger.WithError(err).WithFields(logrus.Fields{
				"client_id": id,
			}).Warn("Broadcast delivery failed")
			continue
		}
		sent++
	}
	return sent
}

// Clients returns a snapshot of all connected clients.
func (r *Registry) Clients() []ClientInfo {
	r.clientsMutex.RLock()
	defer r.clientsMutex.RUnlock()

	clients := make([]ClientInfo, 0, len(r.clients))
	for _, info := range r.clients {
		c := *info
		c.conn = nil
		clients = append(clients, c)
	}
	return clients
}

// Len returns the number of connected clients.
func (r *Registry) Len() int {
	r.clientsMutex.RLock()
	defer r.clientsMutex.RUnlock()
	return len(r.clients)
}

// CleanupIdle closes and removes clients with no activity for maxIdle.
func (r *Registry) CleanupIdle(maxIdle time.Duration) int {
	now := time.Now()

	r.clientsMutex.Lock()
	var idle []*ClientInfo
	for clientID, info := range r.clients {
		if now.Sub(info.LastActivity) > maxIdle {
			idle = append(idle, info)
			delete(r.clients, clientID)
		}
	}
	total := len(r.clients)
	r.clientsMutex.Unlock()

	for _, info := range idle {
		r.logger.WithFields(logrus.Fields{
			"client_id":     info.ClientID,
			"last_activity": info.LastActivity,
		}).Info("Removing idle client")
		_ = info.conn.Close()
	}

	if len(idle) > 0 {
		connectedClients.Set(float64(total))
		r.logger.WithFields(logrus.Fields{
			"removed":   len(idle),
			"remaining": total,
		}).Info("Cleaned up idle clients")
	}
	return len(idle)
}

// RegistrySink delivers a session's events to a client through the registry.
type RegistrySink struct {
	Registry *Registry
	ClientID string
}

// Send implements relay.Sink.
func (s RegistrySink) Send(ctx context.Context, ev relay.Event) error {
	return s.Registry.Send(ctx, s.ClientID, ev)
}
