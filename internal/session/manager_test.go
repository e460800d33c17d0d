package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/voice-chat/backend/internal/service/ai"
	"github.com/zhouzirui/voice-chat/backend/internal/service/speech"
)

type harness struct {
	t        *testing.T
	manager  *Manager
	registry *Registry
	metrics  *Metrics
	server   *httptest.Server
}

func newHarness(t *testing.T, gateways Gateways, opts Options) *harness {
	t.Helper()

	if opts.MinAudioBytes == 0 {
		opts.MinAudioBytes = 1000
	}
	if opts.MaxAudioBytes == 0 {
		opts.MaxAudioBytes = 1 << 20
	}
	if opts.Language == "" {
		opts.Language = "id"
	}

	metrics := NewMetrics()
	registry := NewRegistry(metrics)
	manager := NewManager(context.Background(), registry, gateways, metrics, opts)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		manager.Serve(conn)
	}))
	t.Cleanup(server.Close)

	return &harness{t: t, manager: manager, registry: registry, metrics: metrics, server: server}
}

// dial connects and consumes the connection event.
func (h *harness) dial() (*websocket.Conn, string) {
	h.t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { conn.Close() })

	ev := readEvent(h.t, conn)
	require.Equal(h.t, EventConnection, ev.Type)
	require.NotEmpty(h.t, ev.ClientID)
	return conn, ev.ClientID
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func expectEvents(t *testing.T, conn *websocket.Conn, types ...string) []Event {
	t.Helper()
	events := make([]Event, 0, len(types))
	for _, want := range types {
		ev := readEvent(t, conn)
		require.Equal(t, want, ev.Type, "unexpected event %+v", ev)
		events = append(events, ev)
	}
	return events
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func sendBinary(t *testing.T, conn *websocket.Conn, data []byte) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, data))
}

// barrier sends a ping and waits for the pong; every earlier frame has been
// dispatched once it returns.
func barrier(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	sendJSON(t, conn, map[string]string{"type": "ping"})
	expectEvents(t, conn, EventPong)
}

func TestStreamedRecordingRunsFullPipeline(t *testing.T) {
	pipeline := newFakePipeline()
	h := newHarness(t, pipeline.gateways(), Options{})
	conn, id := h.dial()

	chunks := [][]byte{
		bytes.Repeat([]byte{0xA1}, 4000),
		bytes.Repeat([]byte{0xB2}, 4000),
		bytes.Repeat([]byte{0xC3}, 2000),
	}

	sendJSON(t, conn, map[string]string{"type": "start_recording"})
	expectEvents(t, conn, EventRecordingStarted)

	for i, chunk := range chunks {
		sendBinary(t, conn, chunk)
		ev := readEvent(t, conn)
		require.Equal(t, EventAudioChunkReceived, ev.Type)
		assert.Equal(t, len(chunk), ev.ChunkSize)
		assert.Equal(t, i+1, ev.TotalChunks)
	}

	sendJSON(t, conn, map[string]string{"type": "stop_recording"})
	events := expectEvents(t, conn,
		EventRecordingStopped,
		EventProcessingAudio,
		EventTranscriptionDone,
		EventAIThinking,
		EventAIResponse,
		EventTTSProcessing,
		EventTTSComplete,
	)

	assert.Equal(t, "halo", events[2].Text)
	assert.Equal(t, pipeline.reply, events[4].Text)
	audioData, err := base64.StdEncoding.DecodeString(events[6].AudioData)
	require.NoError(t, err)
	assert.Equal(t, pipeline.speech, audioData)
	assert.Equal(t, "audio/mpeg", events[6].MimeType)

	calls := pipeline.calls()
	require.Len(t, calls.audio, 1)
	assert.Equal(t, bytes.Join(chunks, nil), calls.audio[0], "assembled buffer must preserve order and length")
	assert.Equal(t, "", calls.formats[0])
	assert.Equal(t, "id", calls.languages[0])
	assert.Equal(t, []string{"halo"}, calls.prompts)
	assert.Equal(t, []string{pipeline.reply}, calls.spoken)

	sess, ok := h.registry.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, StateIdle, sess.State())
	assert.False(t, sess.Processing())
	assert.Len(t, sess.Transcript(), 2)

	assert.Equal(t, float64(3), testutil.ToFloat64(h.metrics.frames.WithLabelValues("binary")))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.events.WithLabelValues(EventTTSComplete)))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.sessionsActive))
}

func TestProcessAudioBelowMinimumYieldsSingleError(t *testing.T) {
	pipeline := newFakePipeline()
	h := newHarness(t, pipeline.gateways(), Options{})
	conn, _ := h.dial()

	tiny := base64.StdEncoding.EncodeToString(make([]byte, 36))
	sendJSON(t, conn, map[string]string{"type": "process_audio", "audioData": tiny, "mimeType": "audio/webm"})

	ev := readEvent(t, conn)
	require.Equal(t, EventError, ev.Type)
	assert.Contains(t, ev.Error, "too small")

	barrier(t, conn)
	assert.Equal(t, 0, pipeline.transcriptions())
}

func TestSmallBuffersRejectedOnEveryEntryPath(t *testing.T) {
	pipeline := newFakePipeline()
	h := newHarness(t, pipeline.gateways(), Options{})
	conn, id := h.dial()

	// streamed recording
	sendJSON(t, conn, map[string]string{"type": "start_recording"})
	sendBinary(t, conn, make([]byte, 500))
	sendJSON(t, conn, map[string]string{"type": "stop_recording"})
	expectEvents(t, conn, EventRecordingStarted, EventAudioChunkReceived, EventRecordingStopped, EventError)

	// single-shot binary frame
	sendBinary(t, conn, make([]byte, 500))
	expectEvents(t, conn, EventError)

	barrier(t, conn)
	assert.Equal(t, 0, pipeline.transcriptions())

	sess, ok := h.registry.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, StateIdle, sess.State())
	assert.False(t, sess.Processing())
}

func TestStopWhileIdleIsNoop(t *testing.T) {
	pipeline := newFakePipeline()
	h := newHarness(t, pipeline.gateways(), Options{})
	conn, _ := h.dial()

	sendJSON(t, conn, map[string]string{"type": "stop_recording"})
	barrier(t, conn)
	assert.Equal(t, 0, pipeline.transcriptions())
}

func TestDuplicateProcessAudioIsDropped(t *testing.T) {
	pipeline := newFakePipeline()
	pipeline.gate = make(chan struct{})
	h := newHarness(t, pipeline.gateways(), Options{})
	conn, _ := h.dial()

	payload := base64.StdEncoding.EncodeToString(make([]byte, 2000))
	cmd := map[string]string{"type": "process_audio", "audioData": payload, "mimeType": "audio/wav"}

	sendJSON(t, conn, cmd)
	expectEvents(t, conn, EventProcessingAudio)

	sendJSON(t, conn, cmd)
	barrier(t, conn)

	close(pipeline.gate)
	expectEvents(t, conn, EventTranscriptionDone, EventAIThinking, EventAIResponse, EventTTSProcessing, EventTTSComplete)
	barrier(t, conn)

	assert.Equal(t, 1, pipeline.transcriptions())
	assert.Equal(t, "wav", pipeline.calls().formats[0])
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.dropped.WithLabelValues(CommandProcessAudio)))
}

func TestStopDuringProcessingStillReturnsToIdle(t *testing.T) {
	pipeline := newFakePipeline()
	pipeline.gate = make(chan struct{})
	h := newHarness(t, pipeline.gateways(), Options{})
	conn, id := h.dial()

	sendJSON(t, conn, map[string]string{"type": "process_audio", "audioData": base64.StdEncoding.EncodeToString(make([]byte, 2000))})
	expectEvents(t, conn, EventProcessingAudio)

	sendJSON(t, conn, map[string]string{"type": "start_recording"})
	sendBinary(t, conn, make([]byte, 2000))
	sendJSON(t, conn, map[string]string{"type": "stop_recording"})
	expectEvents(t, conn, EventRecordingStarted, EventAudioChunkReceived, EventRecordingStopped)
	barrier(t, conn)

	sess, ok := h.registry.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, StateIdle, sess.State())
	assert.True(t, sess.Processing())

	close(pipeline.gate)
	expectEvents(t, conn, EventTranscriptionDone, EventAIThinking, EventAIResponse, EventTTSProcessing, EventTTSComplete)
	assert.Equal(t, 1, pipeline.transcriptions())
}

func TestChatMessageRunsCompletionAndSynthesis(t *testing.T) {
	pipeline := newFakePipeline()
	h := newHarness(t, pipeline.gateways(), Options{})
	conn, _ := h.dial()

	sendJSON(t, conn, map[string]string{"type": "chat_message", "text": "  Ada promo apa?  "})
	events := expectEvents(t, conn, EventAIThinking, EventAIResponse, EventTTSProcessing, EventTTSComplete)
	assert.Equal(t, pipeline.reply, events[1].Text)
	assert.Equal(t, []string{"Ada promo apa?"}, pipeline.calls().prompts)
	assert.Equal(t, 0, pipeline.transcriptions())

	sendJSON(t, conn, map[string]string{"type": "chat_message", "text": "   "})
	ev := readEvent(t, conn)
	require.Equal(t, EventError, ev.Type)
	assert.Equal(t, "Invalid message: text is required", ev.Error)
}

func TestSingleShotBinaryUpload(t *testing.T) {
	pipeline := newFakePipeline()
	h := newHarness(t, pipeline.gateways(), Options{})
	conn, _ := h.dial()

	wav := append([]byte("RIFF\x00\x00\x00\x00WAVE"), make([]byte, 3000)...)
	sendBinary(t, conn, wav)
	expectEvents(t, conn, EventProcessingAudio, EventTranscriptionDone, EventAIThinking, EventAIResponse, EventTTSProcessing, EventTTSComplete)

	calls := pipeline.calls()
	require.Len(t, calls.audio, 1)
	assert.Equal(t, wav, calls.audio[0])
}

func TestGatewayFailuresYieldOneErrorAndRecover(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(p *fakePipeline)
		before []string
		want   string
	}{
		{
			name:   "transcription too short",
			mutate: func(p *fakePipeline) { p.transcribeErr = &speech.TranscriptionError{Kind: speech.TranscriptionTooShort} },
			before: []string{EventProcessingAudio},
			want:   "Audio file is too short. Please record for at least 1 second.",
		},
		{
			name:   "empty transcription",
			mutate: func(p *fakePipeline) { p.transcript = "   " },
			before: []string{EventProcessingAudio},
			want:   "No speech detected. Please try again.",
		},
		{
			name:   "completion",
			mutate: func(p *fakePipeline) { p.completeErr = &ai.CompletionError{Cause: errBoom} },
			before: []string{EventProcessingAudio, EventTranscriptionDone, EventAIThinking},
			want:   "Failed to get AI response",
		},
		{
			name:   "synthesis",
			mutate: func(p *fakePipeline) { p.synthErr = &speech.SynthesisError{Details: "quota"} },
			before: []string{EventProcessingAudio, EventTranscriptionDone, EventAIThinking, EventAIResponse, EventTTSProcessing},
			want:   "Text-to-speech failed",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pipeline := newFakePipeline()
			tc.mutate(pipeline)
			h := newHarness(t, pipeline.gateways(), Options{})
			conn, id := h.dial()

			sendJSON(t, conn, map[string]string{"type": "process_audio", "audioData": base64.StdEncoding.EncodeToString(make([]byte, 2000))})
			expectEvents(t, conn, tc.before...)
			ev := readEvent(t, conn)
			require.Equal(t, EventError, ev.Type)
			assert.Equal(t, tc.want, ev.Error)

			barrier(t, conn)
			sess, ok := h.registry.Lookup(id)
			require.True(t, ok)
			assert.False(t, sess.Processing())
			assert.Equal(t, StateIdle, sess.State())
		})
	}
}

func TestMissingGatewayReportsUnavailable(t *testing.T) {
	h := newHarness(t, Gateways{}, Options{})
	conn, _ := h.dial()

	sendJSON(t, conn, map[string]string{"type": "process_audio", "audioData": base64.StdEncoding.EncodeToString(make([]byte, 2000))})
	ev := readEvent(t, conn)
	require.Equal(t, EventError, ev.Type)
	assert.Equal(t, "Service is not configured on the server", ev.Error)
}

func TestMalformedAndUnknownFramesKeepSessionAlive(t *testing.T) {
	h := newHarness(t, newFakePipeline().gateways(), Options{})
	conn, id := h.dial()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	ev := readEvent(t, conn)
	require.Equal(t, EventError, ev.Type)
	assert.Equal(t, "Invalid message: malformed JSON", ev.Error)

	sendJSON(t, conn, map[string]string{"type": "dance"})
	ev = readEvent(t, conn)
	require.Equal(t, EventError, ev.Type)
	assert.Equal(t, "Invalid message: unknown message type dance", ev.Error)

	sendJSON(t, conn, map[string]string{"type": "process_audio", "audioData": "%%%"})
	ev = readEvent(t, conn)
	require.Equal(t, EventError, ev.Type)
	assert.Equal(t, "Invalid message: audioData is not valid base64", ev.Error)

	barrier(t, conn)
	_, ok := h.registry.Lookup(id)
	assert.True(t, ok)
}

func TestRecordingOverLimitIsDiscarded(t *testing.T) {
	pipeline := newFakePipeline()
	h := newHarness(t, pipeline.gateways(), Options{MaxAudioBytes: 5000})
	conn, id := h.dial()

	sendJSON(t, conn, map[string]string{"type": "start_recording"})
	sendBinary(t, conn, make([]byte, 4000))
	sendBinary(t, conn, make([]byte, 4000))
	expectEvents(t, conn, EventRecordingStarted, EventAudioChunkReceived)
	ev := readEvent(t, conn)
	require.Equal(t, EventError, ev.Type)
	assert.Contains(t, ev.Error, "too large")

	sess, ok := h.registry.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, StateIdle, sess.State())
}

func TestDisconnectMidChainEvictsSessionImmediately(t *testing.T) {
	pipeline := newFakePipeline()
	pipeline.gate = make(chan struct{})
	h := newHarness(t, pipeline.gateways(), Options{})
	conn, id := h.dial()
	other, otherID := h.dial()

	sendJSON(t, conn, map[string]string{"type": "process_audio", "audioData": base64.StdEncoding.EncodeToString(make([]byte, 2000))})
	expectEvents(t, conn, EventProcessingAudio)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		_, ok := h.registry.Lookup(id)
		return !ok
	}, 5*time.Second, 10*time.Millisecond)

	close(pipeline.gate)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.manager.Wait(ctx))

	// the other session is unaffected
	barrier(t, other)
	_, ok := h.registry.Lookup(otherID)
	assert.True(t, ok)
	assert.Equal(t, 1, h.registry.Len())
}

func TestIdleConnectionIsDisconnected(t *testing.T) {
	h := newHarness(t, newFakePipeline().gateways(), Options{IdleTimeout: 200 * time.Millisecond})
	url := "ws" + strings.TrimPrefix(h.server.URL, "http")

	// a raw dialer that never reads leaves pings unanswered
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.registry.Len() == 0 }, 5*time.Second, 20*time.Millisecond)
}

func TestEventsCarryTimestamps(t *testing.T) {
	h := newHarness(t, newFakePipeline().gateways(), Options{})
	conn, _ := h.dial()

	sendJSON(t, conn, map[string]string{"type": "ping"})
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "pong", fields["type"])
	assert.NotEmpty(t, fields["timestamp"])
}

func TestProcessAudioAcceptsDataURL(t *testing.T) {
	pipeline := newFakePipeline()
	h := newHarness(t, pipeline.gateways(), Options{})
	conn, _ := h.dial()

	clip := append([]byte{0x1A, 0x45, 0xDF, 0xA3}, bytes.Repeat([]byte{0x42}, 2000)...)
	dataURL := "data:audio/webm;codecs=opus;base64," + base64.StdEncoding.EncodeToString(clip)
	sendJSON(t, conn, map[string]string{"type": "process_audio", "audioData": dataURL, "mimeType": "audio/webm;codecs=opus"})
	expectEvents(t, conn, EventProcessingAudio, EventTranscriptionDone, EventAIThinking, EventAIResponse, EventTTSProcessing, EventTTSComplete)

	calls := pipeline.calls()
	require.Len(t, calls.audio, 1)
	assert.Equal(t, clip, calls.audio[0])
	assert.Equal(t, "webm", calls.formats[0])

	sendJSON(t, conn, map[string]string{"type": "process_audio", "audioData": "data:audio/webm;base64,@@@"})
	ev := readEvent(t, conn)
	require.Equal(t, EventError, ev.Type)
	assert.Equal(t, "Invalid message: audioData is not valid base64", ev.Error)
}

func TestTriggersAfterWaitAreDropped(t *testing.T) {
	pipeline := newFakePipeline()
	h := newHarness(t, pipeline.gateways(), Options{})
	conn, id := h.dial()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.manager.Wait(ctx))

	sendJSON(t, conn, map[string]string{"type": "process_audio", "audioData": base64.StdEncoding.EncodeToString(make([]byte, 2000))})
	sendJSON(t, conn, map[string]string{"type": "start_recording"})
	sendBinary(t, conn, make([]byte, 2000))
	sendJSON(t, conn, map[string]string{"type": "stop_recording"})
	expectEvents(t, conn, EventRecordingStarted, EventAudioChunkReceived, EventRecordingStopped)
	barrier(t, conn)

	assert.Equal(t, 0, pipeline.transcriptions())
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.dropped.WithLabelValues(CommandProcessAudio)))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.dropped.WithLabelValues(CommandStopRecording)))

	sess, ok := h.registry.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, StateIdle, sess.State())
	assert.False(t, sess.Processing())
}
