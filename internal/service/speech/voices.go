package speech

import "strings"

// DefaultVoice is used when neither the request nor the config names a usable voice.
const DefaultVoice = "nova"

var supportedVoices = map[string]struct{}{
	"alloy": {}, "ash": {}, "ballad": {}, "coral": {}, "echo": {}, "fable": {},
	"nova": {}, "onyx": {}, "sage": {}, "shimmer": {}, "verse": {},
}

var voiceAliases = map[string]string{
	"female":  "nova",
	"male":    "onyx",
	"neutral": "alloy",
	"soft":    "shimmer",
	"british": "fable",
}

// NormalizeVoiceAlias maps friendly aliases onto provider voice ids.
// Unknown voices normalise to the empty string.
func NormalizeVoiceAlias(voice string) string {
	v := strings.ToLower(strings.TrimSpace(voice))
	if v == "" {
		return ""
	}
	if mapped, ok := voiceAliases[v]; ok {
		return mapped
	}
	if _, ok := supportedVoices[v]; ok {
		return v
	}
	return ""
}
