// Package registry tracks the live WebSocket connection for each
// conversation. At most one connection is active per conversation; registering
// a new one replaces the previous entry.
package registry

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Conn is a registered duplex connection. Writes are serialized through a
// per-connection mutex because gorilla/websocket allows only one concurrent
// writer.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// NewConn wraps an upgraded WebSocket connection.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Send marshals v and writes it as a single text frame.
func (c *Conn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Registry is a concurrency-safe map from conversation id to its live
// connection.
type Registry struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]*Conn
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{conns: make(map[uuid.UUID]*Conn)}
}

// Add registers conn for a conversation. An existing entry for the same id is
// replaced; the old handle is not closed here, its owner's read loop tears it
// down.
func (r *Registry) Add(id uuid.UUID, conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = conn
}

// Get returns the live connection for a conversation, if any.
func (r *Registry) Get(id uuid.UUID) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// Remove drops the entry for a conversation. Concurrent Add/Remove for the
// same id resolve last-writer-wins; no stronger ordering is guaranteed.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
