package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	speechmodel "github.com/zhouzirui/voice-chat/backend/internal/model/speech"
)

const (
	speechEndpoint = "/audio/speech"
	ttsFormat      = "mp3"
	ttsMimeType    = "audio/mpeg"
)

// TTSClient 通过 OpenAI 兼容的 /audio/speech 接口进行语音合成
type TTSClient struct {
	config *speechmodel.SpeechConfig
	client *http.Client
}

type ttsRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float32 `json:"speed,omitempty"`
}

// NewTTSClient 创建语音合成客户端
func NewTTSClient(config *speechmodel.SpeechConfig, client *http.Client) *TTSClient {
	if client == nil {
		client = &http.Client{Timeout: timeoutFromConfig(config)}
	}
	return &TTSClient{config: config, client: client}
}

// Synthesize converts text to MP3 audio with the configured model and voice.
func (c *TTSClient) Synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, &SynthesisError{Details: ErrEmptyText.Error(), Cause: ErrEmptyText}
	}

	baseURL, apiKey, err := resolveCredentials(c.config)
	if err != nil {
		return nil, &SynthesisError{Details: err.Error(), Cause: err}
	}

	voice := NormalizeVoiceAlias(req.Voice)
	if voice == "" {
		voice = NormalizeVoiceAlias(c.config.TTSVoice)
	}
	if voice == "" {
		voice = DefaultVoice
	}
	speed := req.Speed
	if speed <= 0 {
		speed = c.config.TTSSpeed
	}

	payload, err := json.Marshal(ttsRequest{
		Model:          c.config.TTSModel,
		Input:          req.Text,
		Voice:          voice,
		ResponseFormat: ttsFormat,
		Speed:          speed,
	})
	if err != nil {
		return nil, &SynthesisError{Details: "failed to marshal request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+speechEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &SynthesisError{Details: "failed to create request", Cause: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &SynthesisError{Details: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SynthesisError{Details: "failed to read audio", Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &SynthesisError{Details: providerErrorMessage(body), StatusCode: resp.StatusCode}
	}
	if len(body) == 0 {
		return nil, &SynthesisError{Details: "provider returned empty audio"}
	}

	log.Debug().
		Str("session", req.SessionID).
		Str("voice", voice).
		Int("bytes", len(body)).
		Dur("elapsed", time.Since(started)).
		Msg("[tts] synthesis complete")

	return &speechmodel.TTSResponse{
		SessionID: req.SessionID,
		AudioData: body,
		MimeType:  ttsMimeType,
		Format:    ttsFormat,
		CreatedAt: time.Now().UTC(),
	}, nil
}
