package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn is the subset of *websocket.Conn used for writing.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Emitter serialises outbound events onto one connection. Sends after
// Close are dropped with ErrNotConnected.
type Emitter struct {
	mu           sync.Mutex
	conn         wsConn
	writeTimeout time.Duration
	closed       bool
	metrics      *Metrics
}

// NewEmitter wraps conn. A zero writeTimeout disables write deadlines.
func NewEmitter(conn wsConn, writeTimeout time.Duration, metrics *Metrics) *Emitter {
	return &Emitter{conn: conn, writeTimeout: writeTimeout, metrics: metrics}
}

// Emit stamps and writes one event.
func (e *Emitter) Emit(ev Event) error {
	ev.Timestamp = time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrNotConnected
	}
	if e.writeTimeout > 0 {
		_ = e.conn.SetWriteDeadline(time.Now().Add(e.writeTimeout))
	}
	if err := e.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write %s event: %w", ev.Type, err)
	}
	e.metrics.event(ev.Type)
	return nil
}

// Ping writes a websocket control ping.
func (e *Emitter) Ping() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrNotConnected
	}
	deadline := time.Now().Add(e.writeTimeout)
	if e.writeTimeout <= 0 {
		deadline = time.Now().Add(10 * time.Second)
	}
	return e.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

// Close marks the emitter closed and closes the underlying connection once.
func (e *Emitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	return e.conn.Close()
}

// Closed reports whether Close has been called.
func (e *Emitter) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
