package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/voice-chat/backend/internal/audio"
	"github.com/zhouzirui/voice-chat/backend/internal/model/chat"
	speechmodel "github.com/zhouzirui/voice-chat/backend/internal/model/speech"
)

// Transcriber 语音转文字网关
type Transcriber interface {
	TranscribeBuffer(ctx context.Context, sessionID string, audioData []byte, format, language string) (*speechmodel.ASRResponse, error)
}

// Completer 对话补全网关
type Completer interface {
	Complete(ctx context.Context, text string) (string, error)
}

// Synthesizer 文字转语音网关
type Synthesizer interface {
	SynthesizeToBuffer(ctx context.Context, sessionID, text string) (*speechmodel.TTSResponse, error)
}

// Gateways groups the external capabilities used by the processing chain.
// A nil gateway makes its stage fail with ErrGatewayUnavailable.
type Gateways struct {
	Transcriber Transcriber
	Completer   Completer
	Synthesizer Synthesizer
}

// Options 会话管理器参数
type Options struct {
	MinAudioBytes int
	MaxAudioBytes int
	IdleTimeout   time.Duration
	WriteTimeout  time.Duration
	ChainTimeout  time.Duration
	Language      string
}

const defaultChainTimeout = 2 * time.Minute

// Manager 驱动每个连接的读循环与处理链路
type Manager struct {
	baseCtx  context.Context
	registry *Registry
	gateways Gateways
	metrics  *Metrics
	opts     Options

	mu       sync.Mutex
	draining bool
	chains   sync.WaitGroup
}

// NewManager 创建会话管理器。baseCtx 限定处理链路的生命周期，与单个连接无关。
func NewManager(baseCtx context.Context, registry *Registry, gateways Gateways, metrics *Metrics, opts Options) *Manager {
	if opts.ChainTimeout <= 0 {
		opts.ChainTimeout = defaultChainTimeout
	}
	return &Manager{
		baseCtx:  baseCtx,
		registry: registry,
		gateways: gateways,
		metrics:  metrics,
		opts:     opts,
	}
}

// Registry returns the registry sessions are tracked in.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Serve owns conn until it closes: it registers a session, reads frames
// sequentially and evicts the session when the read loop ends.
func (m *Manager) Serve(conn *websocket.Conn) {
	emitter := NewEmitter(conn, m.opts.WriteTimeout, m.metrics)
	sess := m.registry.Register(emitter)
	logger := log.With().Str("session", sess.id).Logger()
	logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("[websocket] client connected")

	defer func() {
		m.registry.Remove(sess.id)
		_ = emitter.Close()
		logger.Info().Dur("duration", time.Since(sess.connectedAt)).Msg("[websocket] client disconnected")
	}()

	if limit := m.readLimit(); limit > 0 {
		conn.SetReadLimit(limit)
	}
	m.refreshDeadline(conn)
	conn.SetPongHandler(func(string) error {
		m.refreshDeadline(conn)
		return nil
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go m.pingLoop(emitter, stopPing)

	m.emit(sess, Event{Type: EventConnection, ClientID: sess.id})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Warn().Err(err).Msg("[websocket] read error")
			}
			return
		}
		m.refreshDeadline(conn)
		m.dispatch(sess, msgType, data)
	}
}

// Wait stops accepting new processing chains, then blocks until every
// in-flight chain has finished or ctx ends. Triggers arriving afterwards are
// dropped.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	m.draining = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.chains.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) dispatch(sess *Session, msgType int, data []byte) {
	switch msgType {
	case websocket.BinaryMessage:
		m.metrics.frame("binary")
		m.handleBinary(sess, data)
	case websocket.TextMessage:
		m.metrics.frame("text")
		cmd, err := ParseCommand(data)
		if err != nil {
			log.Warn().Err(err).Str("session", sess.id).Msg("[session] rejected frame")
			m.emitError(sess, err)
			return
		}
		m.handleCommand(sess, cmd)
	}
}

// handleBinary appends to the recording, or treats the frame as a complete
// upload when the session is not recording.
func (m *Manager) handleBinary(sess *Session, data []byte) {
	if len(data) == 0 {
		return
	}

	total, recording, err := sess.appendChunk(data, m.opts.MaxAudioBytes)
	if err != nil {
		log.Warn().Err(err).Str("session", sess.id).Msg("[session] recording discarded")
		m.emitError(sess, err)
		return
	}
	if recording {
		m.emit(sess, Event{Type: EventAudioChunkReceived, ChunkSize: len(data), TotalChunks: total})
		return
	}

	log.Debug().Str("session", sess.id).Int("bytes", len(data)).Msg("[session] single-shot binary upload")
	m.launch(sess, "binary", m.audioChain(sess, data, ""), nil)
}

func (m *Manager) handleCommand(sess *Session, cmd Command) {
	switch c := cmd.(type) {
	case StartRecording:
		sess.startRecording()
		log.Debug().Str("session", sess.id).Msg("[session] recording started")
		m.emit(sess, newEvent(EventRecordingStarted))

	case StopRecording:
		buf, chunks, ok := sess.stopRecording()
		if !ok {
			log.Debug().Str("session", sess.id).Msg("[session] stop ignored, not recording")
			return
		}
		log.Debug().Str("session", sess.id).Int("chunks", chunks).Int("bytes", len(buf)).Msg("[session] recording stopped")
		m.emit(sess, newEvent(EventRecordingStopped))
		if len(buf) == 0 {
			sess.settle()
			return
		}
		m.launch(sess, CommandStopRecording, m.audioChain(sess, buf, ""), sess.settle)

	case ProcessAudio:
		buf, err := decodeAudioData(c.AudioData)
		if err != nil {
			m.emitError(sess, err)
			return
		}
		m.launch(sess, CommandProcessAudio, m.audioChain(sess, buf, audio.FormatFromMime(c.MimeType)), nil)

	case ChatMessage:
		text := strings.TrimSpace(c.Text)
		if text == "" {
			m.emitError(sess, &ProtocolError{Reason: "text is required"})
			return
		}
		m.launch(sess, CommandChatMessage, func(ctx context.Context) (Event, error) {
			return m.reply(ctx, sess, text)
		}, nil)

	case Ping:
		m.emit(sess, newEvent(EventPong))

	case UnknownCommand:
		log.Warn().Str("session", sess.id).Str("type", c.Type).Msg("[session] unknown message type")
		m.emitError(sess, &ProtocolError{Reason: "unknown message type " + c.Type})
	}
}

type chainFunc func(ctx context.Context) (Event, error)

// launch runs chain in its own goroutine while holding the session guard.
// A trigger arriving while the guard is held is dropped. after runs once the
// chain settles, or immediately when the trigger is dropped.
func (m *Manager) launch(sess *Session, trigger string, chain chainFunc, after func()) {
	if !sess.tryAcquire() {
		log.Warn().Str("session", sess.id).Str("trigger", trigger).Msg("[session] processing in flight, trigger dropped")
		m.metrics.droppedTrigger(trigger)
		if after != nil {
			after()
		}
		return
	}
	if !m.track() {
		sess.release()
		log.Warn().Str("session", sess.id).Str("trigger", trigger).Msg("[session] shutting down, trigger dropped")
		m.metrics.droppedTrigger(trigger)
		if after != nil {
			after()
		}
		return
	}

	go func() {
		defer m.chains.Done()

		ctx, cancel := context.WithTimeout(m.baseCtx, m.opts.ChainTimeout)
		defer cancel()

		final, err := runChain(ctx, chain)
		sess.release()
		if after != nil {
			after()
		}

		if err != nil {
			log.Warn().Err(err).Str("session", sess.id).Str("trigger", trigger).Msg("[session] processing failed")
			m.emitError(sess, err)
			return
		}
		m.emit(sess, final)
	}()
}

// track counts one more chain unless Wait has started draining.
func (m *Manager) track() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draining {
		return false
	}
	m.chains.Add(1)
	return true
}

func runChain(ctx context.Context, chain chainFunc) (ev Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("[session] processing chain panicked")
			err = fmt.Errorf("processing chain panicked: %v", r)
		}
	}()
	return chain(ctx)
}

// audioChain validates, transcribes and answers one recording. buf is owned
// by the chain.
func (m *Manager) audioChain(sess *Session, buf []byte, format audio.Format) chainFunc {
	return func(ctx context.Context) (Event, error) {
		if err := audio.CheckSize(len(buf), m.opts.MinAudioBytes, m.opts.MaxAudioBytes); err != nil {
			return Event{}, err
		}
		if m.gateways.Transcriber == nil {
			return Event{}, fmt.Errorf("transcription: %w", ErrGatewayUnavailable)
		}

		m.emit(sess, newEvent(EventProcessingAudio))

		started := time.Now()
		resp, err := m.gateways.Transcriber.TranscribeBuffer(ctx, sess.id, buf, string(format), m.opts.Language)
		m.metrics.observeStage("transcription", started, err)
		if err != nil {
			return Event{}, err
		}

		text := strings.TrimSpace(resp.Text)
		if text == "" {
			return Event{}, ErrNoSpeech
		}
		m.emit(sess, textEvent(EventTranscriptionDone, text))

		return m.reply(ctx, sess, text)
	}
}

// reply runs completion then synthesis and returns the tts_complete event.
func (m *Manager) reply(ctx context.Context, sess *Session, text string) (Event, error) {
	if m.gateways.Completer == nil {
		return Event{}, fmt.Errorf("completion: %w", ErrGatewayUnavailable)
	}
	sess.record(chat.RoleUser, text)
	m.emit(sess, newEvent(EventAIThinking))

	started := time.Now()
	answer, err := m.gateways.Completer.Complete(ctx, text)
	m.metrics.observeStage("completion", started, err)
	if err != nil {
		return Event{}, err
	}
	sess.record(chat.RoleAssistant, answer)
	m.emit(sess, textEvent(EventAIResponse, answer))

	if m.gateways.Synthesizer == nil {
		return Event{}, fmt.Errorf("synthesis: %w", ErrGatewayUnavailable)
	}
	m.emit(sess, newEvent(EventTTSProcessing))

	started = time.Now()
	speech, err := m.gateways.Synthesizer.SynthesizeToBuffer(ctx, sess.id, answer)
	m.metrics.observeStage("synthesis", started, err)
	if err != nil {
		return Event{}, err
	}

	return Event{
		Type:      EventTTSComplete,
		AudioData: base64.StdEncoding.EncodeToString(speech.AudioData),
		MimeType:  speech.MimeType,
	}, nil
}

// emit sends best-effort; failures are logged and dropped.
func (m *Manager) emit(sess *Session, ev Event) {
	if sess.emitter == nil {
		return
	}
	if err := sess.emitter.Emit(ev); err != nil {
		log.Debug().Err(err).Str("session", sess.id).Str("event", ev.Type).Msg("[session] event dropped")
	}
}

func (m *Manager) emitError(sess *Session, err error) {
	m.emit(sess, errorEvent(describeError(err)))
}

func (m *Manager) refreshDeadline(conn *websocket.Conn) {
	if m.opts.IdleTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(m.opts.IdleTimeout))
	}
}

func (m *Manager) pingLoop(emitter *Emitter, done <-chan struct{}) {
	interval := m.opts.IdleTimeout * 9 / 10
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := emitter.Ping(); err != nil {
				return
			}
		}
	}
}

// readLimit bounds one frame: the largest recording as base64 plus JSON framing.
func (m *Manager) readLimit() int64 {
	if m.opts.MaxAudioBytes <= 0 {
		return 0
	}
	return int64(m.opts.MaxAudioBytes)*4/3 + 4096
}

// decodeAudioData accepts plain base64 or a data URL.
func decodeAudioData(data string) ([]byte, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, &ProtocolError{Reason: "audioData is required"}
	}
	if strings.HasPrefix(data, "data:") {
		if idx := strings.Index(data, ","); idx >= 0 {
			data = data[idx+1:]
		}
	}
	buf, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, &ProtocolError{Reason: "audioData is not valid base64", Cause: err}
	}
	return buf, nil
}
