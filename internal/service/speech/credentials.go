package speech

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	speechmodel "github.com/zhouzirui/voice-chat/backend/internal/model/speech"
)

// resolveCredentials 返回规范化后的 BaseURL 与 APIKey，缺失时给出明确错误。
func resolveCredentials(cfg *speechmodel.SpeechConfig) (string, string, error) {
	if cfg == nil {
		return "", "", fmt.Errorf("speech config is not initialised")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	apiKey := strings.TrimSpace(cfg.APIKey)
	if baseURL == "" || apiKey == "" {
		return "", "", fmt.Errorf("speech config is missing base url or api key")
	}

	return baseURL, apiKey, nil
}

// providerErrorMessage extracts the message from an OpenAI-style error body,
// falling back to the raw body.
func providerErrorMessage(body []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return truncateRunes(strings.TrimSpace(string(body)), maxProviderMessage)
}

const maxProviderMessage = 300

// truncateRunes cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
