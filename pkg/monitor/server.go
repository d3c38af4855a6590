// Package monitor broadcasts OtaStatus/onError events over websocket
// for observability. It is not part of the core state machine (spec
// §1 excludes host-application bootstrapping and logging sinks from
// scope); it exists purely so a fleet operator can watch an agent's
// progress live.
package monitor

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is a single status or error observation, JSON-encoded and
// fanned out to every connected client.
type Event struct {
	Type      string `json:"type"` // "status" or "error"
	Status    string `json:"status,omitempty"`
	Progress  int    `json:"progress,omitempty"`
	Message   string `json:"message,omitempty"`
	Code      int    `json:"code,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Broadcaster fans out Events to every connected websocket client.
// Grounded on mstrhakr-printmaster/server/websocket.go's
// connection-map-plus-mutex shape, trimmed to the single purpose of
// broadcasting agent events rather than proxying bidirectional agent
// traffic.
type Broadcaster struct {
	logger *logrus.Entry

	mu    sync.RWMutex
	conns map[*websocket.Conn]struct{}
}

func NewBroadcaster(logger *logrus.Entry) *Broadcaster {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &Broadcaster{logger: logger, conns: make(map[*websocket.Conn]struct{})}
}

// HandleWebSocket upgrades the request and registers the connection for
// broadcast delivery until it closes.
func (b *Broadcaster) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	b.mu.Lock()
	b.conns[conn] = struct{}{}
	b.mu.Unlock()

	// Drain and discard any client-sent frames; this is a broadcast-only
	// channel, but reads must continue so the connection's close frame
	// is observed.
	go func() {
		defer b.removeConn(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (b *Broadcaster) removeConn(conn *websocket.Conn) {
	b.mu.Lock()
	delete(b.conns, conn)
	b.mu.Unlock()
	conn.Close()
}

// Broadcast sends ev as a JSON text frame to every connected client,
// dropping connections that fail to accept the write.
func (b *Broadcaster) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.WithError(err).Warn("failed to marshal monitor event")
		return
	}

	b.mu.RLock()
	targets := make([]*websocket.Conn, 0, len(b.conns))
	for c := range b.conns {
		targets = append(targets, c)
	}
	b.mu.RUnlock()

	for _, c := range targets {
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			b.removeConn(c)
		}
	}
}

// ConnCount reports the number of currently connected clients.
func (b *Broadcaster) ConnCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}
