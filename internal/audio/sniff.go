package audio

import (
	"bytes"
	"strings"
)

// Format is a best-effort container guess used to label uploads.
type Format string

const (
	FormatWebM Format = "webm"
	FormatWAV  Format = "wav"
	FormatM4A  Format = "m4a"
)

var ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}

// Sniff guesses the container from the leading bytes. Anything it does not
// recognise is reported as WebM, the browser MediaRecorder default.
func Sniff(buf []byte) Format {
	switch {
	case len(buf) >= 12 && bytes.Equal(buf[0:4], []byte("RIFF")) && bytes.Equal(buf[8:12], []byte("WAVE")):
		return FormatWAV
	case bytes.HasPrefix(buf, ebmlMagic):
		return FormatWebM
	case len(buf) >= 8 && bytes.Equal(buf[4:8], []byte("ftyp")):
		return FormatM4A
	case len(buf) >= 4 && buf[0] == 0 && buf[1] == 0 && buf[2] == 0:
		// MP4 box sizes start with zero bytes even when ftyp is not first
		return FormatM4A
	default:
		return FormatWebM
	}
}

// Extension returns the file suffix, without the dot.
func (f Format) Extension() string {
	if f == "" {
		return string(FormatWebM)
	}
	return string(f)
}

// MimeType returns the conventional MIME type for the container.
func (f Format) MimeType() string {
	switch f {
	case FormatWAV:
		return "audio/wav"
	case FormatM4A:
		return "audio/mp4"
	default:
		return "audio/webm"
	}
}

// FormatFromMime maps a client supplied MIME type onto a Format. Unknown or
// empty types return "" so the caller falls back to Sniff.
func FormatFromMime(mime string) Format {
	base := strings.ToLower(strings.TrimSpace(mime))
	if idx := strings.Index(base, ";"); idx >= 0 {
		base = strings.TrimSpace(base[:idx])
	}
	switch base {
	case "audio/wav", "audio/wave", "audio/x-wav", "audio/vnd.wave":
		return FormatWAV
	case "audio/mp4", "audio/m4a", "audio/x-m4a", "audio/aac":
		return FormatM4A
	case "audio/webm", "video/webm":
		return FormatWebM
	default:
		return ""
	}
}
