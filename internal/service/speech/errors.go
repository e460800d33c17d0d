package speech

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyText is returned when synthesis is asked to speak nothing.
var ErrEmptyText = errors.New("tts text is empty")

// TranscriptionErrorKind classifies transcription failures for the client.
type TranscriptionErrorKind string

const (
	TranscriptionTooShort      TranscriptionErrorKind = "too_short"
	TranscriptionInvalidFormat TranscriptionErrorKind = "invalid_format"
	TranscriptionUnknown       TranscriptionErrorKind = "unknown"
)

// TranscriptionError is the tagged failure returned by the transcription gateway.
type TranscriptionError struct {
	Kind       TranscriptionErrorKind
	Details    string
	StatusCode int
	Cause      error
}

func (e *TranscriptionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transcription failed [%s, http %d]: %s", e.Kind, e.StatusCode, e.Details)
	}
	return fmt.Sprintf("transcription failed [%s]: %s", e.Kind, e.Details)
}

func (e *TranscriptionError) Unwrap() error { return e.Cause }

// UserMessage is the text shown to the person who recorded the audio.
func (e *TranscriptionError) UserMessage() string {
	switch e.Kind {
	case TranscriptionTooShort:
		return "Audio file is too short. Please record for at least 1 second."
	case TranscriptionInvalidFormat:
		return "Invalid audio format. Please try again."
	default:
		return "Speech-to-text failed"
	}
}

// classifyTranscriptionFailure maps a provider message onto an error kind.
func classifyTranscriptionFailure(message string) TranscriptionErrorKind {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "too short"):
		return TranscriptionTooShort
	case strings.Contains(lower, "invalid"), strings.Contains(lower, "format"), strings.Contains(lower, "decode"):
		return TranscriptionInvalidFormat
	default:
		return TranscriptionUnknown
	}
}

// SynthesisError is returned by the synthesis gateway.
type SynthesisError struct {
	Details    string
	StatusCode int
	Cause      error
}

func (e *SynthesisError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("speech synthesis failed [http %d]: %s", e.StatusCode, e.Details)
	}
	return "speech synthesis failed: " + e.Details
}

func (e *SynthesisError) Unwrap() error { return e.Cause }
