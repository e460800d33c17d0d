package session

import (
	"context"
	"errors"
	"sync"
	"time"

	speechmodel "github.com/zhouzirui/voice-chat/backend/internal/model/speech"
)

type fakeConn struct {
	mu       sync.Mutex
	messages [][]byte
	pings    int
	closed   int
	writeErr error
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.messages = append(c.messages, data)
	return nil
}

func (c *fakeConn) WriteControl(_ int, _ []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// fakePipeline implements all three gateways. When gate is non-nil every
// transcription waits on it.
type fakePipeline struct {
	mu        sync.Mutex
	audio     [][]byte
	formats   []string
	languages []string
	prompts   []string
	spoken    []string

	gate          chan struct{}
	transcript    string
	transcribeErr error
	reply         string
	completeErr   error
	speech        []byte
	synthErr      error
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{
		transcript: "halo",
		reply:      "Halo! Ada yang bisa saya bantu?",
		speech:     []byte("ID3-fake-mp3"),
	}
}

func (f *fakePipeline) gateways() Gateways {
	return Gateways{Transcriber: f, Completer: f, Synthesizer: f}
}

func (f *fakePipeline) TranscribeBuffer(ctx context.Context, sessionID string, audioData []byte, format, language string) (*speechmodel.ASRResponse, error) {
	f.mu.Lock()
	f.audio = append(f.audio, audioData)
	f.formats = append(f.formats, format)
	f.languages = append(f.languages, language)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.transcribeErr != nil {
		return nil, f.transcribeErr
	}
	return &speechmodel.ASRResponse{SessionID: sessionID, Text: f.transcript, Bytes: len(audioData)}, nil
}

func (f *fakePipeline) Complete(_ context.Context, text string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, text)
	f.mu.Unlock()
	if f.completeErr != nil {
		return "", f.completeErr
	}
	return f.reply, nil
}

func (f *fakePipeline) SynthesizeToBuffer(_ context.Context, sessionID, text string) (*speechmodel.TTSResponse, error) {
	f.mu.Lock()
	f.spoken = append(f.spoken, text)
	f.mu.Unlock()
	if f.synthErr != nil {
		return nil, f.synthErr
	}
	return &speechmodel.TTSResponse{SessionID: sessionID, AudioData: f.speech, MimeType: "audio/mpeg", Format: "mp3"}, nil
}

type pipelineCalls struct {
	audio     [][]byte
	formats   []string
	languages []string
	prompts   []string
	spoken    []string
}

func (f *fakePipeline) calls() pipelineCalls {
	f.mu.Lock()
	defer f.mu.Unlock()
	return pipelineCalls{
		audio:     append([][]byte(nil), f.audio...),
		formats:   append([]string(nil), f.formats...),
		languages: append([]string(nil), f.languages...),
		prompts:   append([]string(nil), f.prompts...),
		spoken:    append([]string(nil), f.spoken...),
	}
}

func (f *fakePipeline) transcriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audio)
}

var errBoom = errors.New("boom")
