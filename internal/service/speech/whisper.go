package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/voice-chat/backend/internal/audio"
	speechmodel "github.com/zhouzirui/voice-chat/backend/internal/model/speech"
)

const transcriptionEndpoint = "/audio/transcriptions"

// WhisperClient 通过 OpenAI 兼容的 /audio/transcriptions 接口进行语音识别
type WhisperClient struct {
	config *speechmodel.SpeechConfig
	client *http.Client

	// onTempFile is invoked with the artifact path while it still exists.
	onTempFile func(path string)
}

// NewWhisperClient 创建语音识别客户端
func NewWhisperClient(config *speechmodel.SpeechConfig, client *http.Client) *WhisperClient {
	if client == nil {
		client = &http.Client{Timeout: timeoutFromConfig(config)}
	}
	return &WhisperClient{config: config, client: client}
}

// Transcribe persists the audio to a temporary file, uploads it and returns
// the recognised text. The temporary file is removed before Transcribe returns.
func (c *WhisperClient) Transcribe(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	baseURL, apiKey, err := resolveCredentials(c.config)
	if err != nil {
		return nil, &TranscriptionError{Kind: TranscriptionUnknown, Details: err.Error(), Cause: err}
	}

	format := audio.Format(strings.TrimSpace(req.Format))
	if format == "" {
		format = audio.Sniff(req.AudioData)
	}

	path, err := c.persist(req.SessionID, format, req.AudioData)
	if err != nil {
		return nil, &TranscriptionError{Kind: TranscriptionUnknown, Details: "failed to stage audio", Cause: err}
	}
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warn().Err(rmErr).Str("path", path).Msg("[asr] failed to remove temp audio")
		}
	}()
	if c.onTempFile != nil {
		c.onTempFile(path)
	}

	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = c.config.ASRLanguage
	}

	body, contentType, err := c.buildForm(path, language)
	if err != nil {
		return nil, &TranscriptionError{Kind: TranscriptionUnknown, Details: "failed to build upload", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+transcriptionEndpoint, body)
	if err != nil {
		return nil, &TranscriptionError{Kind: TranscriptionUnknown, Details: "failed to create request", Cause: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", contentType)

	started := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &TranscriptionError{Kind: TranscriptionUnknown, Details: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TranscriptionError{Kind: TranscriptionUnknown, Details: "failed to read response", Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		msg := providerErrorMessage(payload)
		return nil, &TranscriptionError{
			Kind:       classifyTranscriptionFailure(msg),
			Details:    msg,
			StatusCode: resp.StatusCode,
		}
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, &TranscriptionError{Kind: TranscriptionUnknown, Details: "failed to parse response", Cause: err}
	}

	log.Debug().
		Str("session", req.SessionID).
		Str("format", string(format)).
		Int("bytes", len(req.AudioData)).
		Dur("elapsed", time.Since(started)).
		Msg("[asr] transcription complete")

	return &speechmodel.ASRResponse{
		SessionID: req.SessionID,
		Text:      strings.TrimSpace(result.Text),
		Format:    string(format),
		Bytes:     len(req.AudioData),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// persist writes data to a uniquely named temporary file.
func (c *WhisperClient) persist(sessionID string, format audio.Format, data []byte) (string, error) {
	dir := c.config.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	if sessionID == "" {
		sessionID = "anonymous"
	}

	pattern := fmt.Sprintf("recording-%s-%d-*.%s", sanitizeName(sessionID), time.Now().UnixNano(), sanitizeName(format.Extension()))
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", err
	}
	path := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (c *WhisperClient) buildForm(path, language string) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}
	if err := writer.WriteField("model", c.config.ASRModel); err != nil {
		return nil, "", err
	}
	if language != "" {
		if err := writer.WriteField("language", language); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return &buf, writer.FormDataContentType(), nil
}

func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

func timeoutFromConfig(config *speechmodel.SpeechConfig) time.Duration {
	if config == nil || config.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(config.Timeout) * time.Second
}
