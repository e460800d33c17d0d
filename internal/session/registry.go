package session

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Registry 管理所有活跃会话，按会话 ID 索引
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	metrics  *Metrics
}

// NewRegistry 创建会话注册表
func NewRegistry(metrics *Metrics) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		metrics:  metrics,
	}
}

// Register creates an Idle session with a fresh identifier.
func (r *Registry) Register(emitter *Emitter) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	for _, exists := r.sessions[id]; exists; _, exists = r.sessions[id] {
		id = uuid.NewString()
	}

	sess := newSession(id, emitter)
	r.sessions[id] = sess
	r.metrics.sessionOpened()
	return sess
}

// Lookup returns the live session for id.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// Remove evicts id. It reports whether an entry was removed; removing an
// absent id is a no-op.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	r.metrics.sessionClosed()
	return true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshots returns diagnostic views of every session ordered by connect time.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	list := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		list = append(list, sess)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(list))
	for _, sess := range list {
		out = append(out, sess.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// CloseAll closes every connection; the read loops then evict their sessions.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	list := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		list = append(list, sess)
	}
	r.mu.RUnlock()

	for _, sess := range list {
		if sess.emitter == nil {
			continue
		}
		if err := sess.emitter.Close(); err != nil {
			log.Debug().Err(err).Str("session", sess.id).Msg("[session] close on shutdown")
		}
	}
	log.Info().Int("sessions", len(list)).Msg("[session] closed all connections")
}
