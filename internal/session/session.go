package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/voice-chat/backend/internal/audio"
	"github.com/zhouzirui/voice-chat/backend/internal/model/chat"
)

// State is the recording state of one session.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// Session 单个 WebSocket 连接的服务端状态
type Session struct {
	id          string
	connectedAt time.Time
	emitter     *Emitter

	mu         sync.Mutex
	state      State
	chunks     audio.Assembler
	processing bool
	transcript []chat.Message
}

func newSession(id string, emitter *Emitter) *Session {
	return &Session{
		id:          id,
		connectedAt: time.Now().UTC(),
		emitter:     emitter,
		state:       StateIdle,
	}
}

// ID returns the registry key of the session.
func (s *Session) ID() string { return s.id }

// ConnectedAt returns when the connection was accepted.
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

// State returns the current recording state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Processing reports whether a processing chain holds the guard.
func (s *Session) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// startRecording enters Recording from any state and clears buffered chunks.
func (s *Session) startRecording() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateRecording
	s.chunks.Reset()
}

// appendChunk buffers a chunk while Recording. It reports false when the
// session is not recording. A recording whose running size would exceed
// maxBytes is discarded and the session returns to Idle.
func (s *Session) appendChunk(chunk []byte, maxBytes int) (total int, recording bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecording {
		return 0, false, nil
	}
	if maxBytes > 0 && s.chunks.Size()+len(chunk) > maxBytes {
		size := s.chunks.Size() + len(chunk)
		s.chunks.Reset()
		s.state = StateIdle
		return 0, true, audio.CheckSize(size, 0, maxBytes)
	}
	return s.chunks.Append(chunk), true, nil
}

// stopRecording moves Recording to Finalizing and returns the assembled
// buffer. The buffer is an owned copy. ok is false when not recording.
func (s *Session) stopRecording() (buf []byte, chunks int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecording {
		return nil, 0, false
	}
	chunks = s.chunks.Len()
	buf = s.chunks.Drain()
	s.state = StateFinalizing
	return buf, chunks, true
}

// settle returns a Finalizing session to Idle. A session that has started
// a new recording in the meantime is left alone.
func (s *Session) settle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateFinalizing {
		s.state = StateIdle
	}
}

// tryAcquire takes the in-flight guard.
func (s *Session) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processing {
		return false
	}
	s.processing = true
	return true
}

func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processing = false
}

func (s *Session) record(role chat.Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, chat.Message{
		ID:        uuid.NewString(),
		Content:   content,
		Role:      role,
		Timestamp: time.Now().UTC(),
	})
}

// Transcript returns a copy of the transcript entries.
func (s *Session) Transcript() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.Message, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Snapshot 会话的诊断视图
type Snapshot struct {
	ID          string    `json:"id"`
	State       string    `json:"state"`
	Processing  bool      `json:"processing"`
	Chunks      int       `json:"chunks"`
	Bytes       int       `json:"bytes"`
	Messages    int       `json:"messages"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Snapshot returns a point-in-time view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:          s.id,
		State:       s.state.String(),
		Processing:  s.processing,
		Chunks:      s.chunks.Len(),
		Bytes:       s.chunks.Size(),
		Messages:    len(s.transcript),
		ConnectedAt: s.connectedAt,
	}
}
