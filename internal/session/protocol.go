package session

import (
	"encoding/json"
	"strings"
)

// 客户端命令类型
const (
	CommandStartRecording = "start_recording"
	CommandStopRecording  = "stop_recording"
	CommandProcessAudio   = "process_audio"
	CommandChatMessage    = "chat_message"
	CommandPing           = "ping"
)

// Command is the closed set of client commands. Implementations are
// StartRecording, StopRecording, ProcessAudio, ChatMessage, Ping and
// UnknownCommand.
type Command interface {
	CommandType() string
}

type StartRecording struct{}

type StopRecording struct{}

// ProcessAudio submits one finished recording as base64.
type ProcessAudio struct {
	AudioData string
	MimeType  string
}

// ChatMessage asks for a spoken reply to typed text.
type ChatMessage struct {
	Text string
}

type Ping struct{}

// UnknownCommand carries a well-formed frame whose type is not recognised.
type UnknownCommand struct {
	Type string
}

func (StartRecording) CommandType() string { return CommandStartRecording }
func (StopRecording) CommandType() string { return CommandStopRecording }
func (ProcessAudio) CommandType() string { return CommandProcessAudio }
func (ChatMessage) CommandType() string { return CommandChatMessage }
func (Ping) CommandType() string { return CommandPing }
func (c UnknownCommand) CommandType() string { return c.Type }

type inboundFrame struct {
	Type      string `json:"type"`
	AudioData string `json:"audioData"`
	MimeType  string `json:"mimeType"`
	Text      string `json:"text"`
}

// ParseCommand decodes a text frame into a Command.
func ParseCommand(data []byte) (Command, error) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, &ProtocolError{Reason: "malformed JSON", Cause: err}
	}

	typ := strings.TrimSpace(frame.Type)
	switch typ {
	case "":
		return nil, &ProtocolError{Reason: "missing type"}
	case CommandStartRecording:
		return StartRecording{}, nil
	case CommandStopRecording:
		return StopRecording{}, nil
	case CommandProcessAudio:
		return ProcessAudio{AudioData: frame.AudioData, MimeType: frame.MimeType}, nil
	case CommandChatMessage:
		return ChatMessage{Text: frame.Text}, nil
	case CommandPing:
		return Ping{}, nil
	default:
		return UnknownCommand{Type: typ}, nil
	}
}

// 服务端事件类型
const (
	EventConnection         = "connection"
	EventRecordingStarted   = "recording_started"
	EventAudioChunkReceived = "audio_chunk_received"
	EventRecordingStopped   = "recording_stopped"
	EventProcessingAudio    = "processing_audio"
	EventTranscriptionDone  = "transcription_complete"
	EventAIThinking         = "ai_thinking"
	EventAIResponse         = "ai_response"
	EventTTSProcessing      = "tts_processing"
	EventTTSComplete        = "tts_complete"
	EventError              = "error"
	EventPong               = "pong"
)

// Event is one outbound notification. Timestamp is stamped by the emitter.
type Event struct {
	Type        string `json:"type"`
	ClientID    string `json:"clientId,omitempty"`
	ChunkSize   int    `json:"chunkSize,omitempty"`
	TotalChunks int    `json:"totalChunks,omitempty"`
	Text        string `json:"text,omitempty"`
	AudioData   string `json:"audioData,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Error       string `json:"error,omitempty"`
	Timestamp   string `json:"timestamp"`
}

func newEvent(typ string) Event {
	return Event{Type: typ}
}

func textEvent(typ, text string) Event {
	return Event{Type: typ, Text: text}
}

func errorEvent(message string) Event {
	return Event{Type: EventError, Error: message}
}
