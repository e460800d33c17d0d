package session

import (
	"errors"
	"fmt"

	"github.com/zhouzirui/voice-chat/backend/internal/audio"
	"github.com/zhouzirui/voice-chat/backend/internal/service/ai"
	"github.com/zhouzirui/voice-chat/backend/internal/service/speech"
)

var (
	// ErrNotConnected is returned for sends attempted after the connection closed.
	ErrNotConnected = errors.New("session: not connected")
	// ErrNoSpeech is returned when transcription succeeded but produced no text.
	ErrNoSpeech = errors.New("no speech detected")
	// ErrGatewayUnavailable is returned when a pipeline stage has no backing service.
	ErrGatewayUnavailable = errors.New("service not configured")
)

// ProtocolError reports a malformed or unsupported inbound command.
type ProtocolError struct {
	Reason string
	Cause  error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Cause)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

// describeError 将内部错误翻译成发给客户端的可读信息
func describeError(err error) string {
	var (
		protoErr *ProtocolError
		asrErr   *speech.TranscriptionError
		aiErr    *ai.CompletionError
		ttsErr   *speech.SynthesisError
	)

	switch {
	case errors.As(err, &protoErr):
		return "Invalid message: " + protoErr.Reason
	case errors.Is(err, audio.ErrAudioTooSmall):
		return "Audio too small or invalid. Please record for at least 1 second."
	case errors.Is(err, audio.ErrAudioTooLarge):
		return "Audio too large. Please keep recordings under the upload limit."
	case errors.Is(err, ErrNoSpeech):
		return "No speech detected. Please try again."
	case errors.Is(err, ErrGatewayUnavailable):
		return "Service is not configured on the server"
	case errors.As(err, &asrErr):
		return asrErr.UserMessage()
	case errors.As(err, &aiErr):
		return "Failed to get AI response"
	case errors.As(err, &ttsErr):
		return "Text-to-speech failed"
	default:
		return "Internal server error"
	}
}
