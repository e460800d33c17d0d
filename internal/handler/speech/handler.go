package speech

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/voice-chat/backend/internal/audio"
	speechmodel "github.com/zhouzirui/voice-chat/backend/internal/model/speech"
	speechsvc "github.com/zhouzirui/voice-chat/backend/internal/service/speech"
	"github.com/zhouzirui/voice-chat/backend/pkg/utils"
)

// DefaultMaxUploadBytes 上传音频的默认大小上限（25MB）
const DefaultMaxUploadBytes = 25 << 20

// SpeechService 抽象语音业务，便于测试与替换实现
type SpeechService interface {
	TranscribeBuffer(ctx context.Context, sessionID string, audioData []byte, format, language string) (*speechmodel.ASRResponse, error)
	SynthesizeToBuffer(ctx context.Context, sessionID, text string) (*speechmodel.TTSResponse, error)
}

// Handler 语音服务的HTTP处理器（REST 回退接口）
type Handler struct {
	speechSvc      SpeechService
	maxUploadBytes int
}

// New 创建语音处理器。speechSvc 为 nil 时接口返回 503。
func New(speechSvc SpeechService, maxUploadBytes int) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &Handler{
		speechSvc:      speechSvc,
		maxUploadBytes: maxUploadBytes,
	}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/speech-to-text", h.handleSpeechToText)
	r.Post("/text-to-speech", h.handleTextToSpeech)
}

// handleSpeechToText 处理语音转文本请求
func (h *Handler) handleSpeechToText(w http.ResponseWriter, r *http.Request) {
	if h.speechSvc == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "speech service unavailable")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, int64(h.maxUploadBytes)+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.RespondError(w, http.StatusRequestEntityTooLarge, "Audio file is too large")
			return
		}
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "No audio file provided")
		return
	}
	defer file.Close()

	if header.Size > int64(h.maxUploadBytes) {
		utils.RespondError(w, http.StatusRequestEntityTooLarge, "Audio file is too large")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to read audio file")
		return
	}
	if len(data) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "No audio file provided")
		return
	}

	format := inferAudioFormat(header.Filename, header.Header.Get("Content-Type"))
	resp, err := h.speechSvc.TranscribeBuffer(r.Context(), "rest", data, string(format), r.FormValue("language"))
	if err != nil {
		log.Error().Err(err).Int("bytes", len(data)).Msg("[speech] STT error")
		message := "Speech-to-text failed"
		var terr *speechsvc.TranscriptionError
		if errors.As(err, &terr) {
			message = terr.UserMessage()
		}
		utils.RespondErrorDetails(w, http.StatusInternalServerError, message, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"text":    resp.Text,
		"success": true,
	})
}

// handleTextToSpeech 处理文本转语音请求
func (h *Handler) handleTextToSpeech(w http.ResponseWriter, r *http.Request) {
	if h.speechSvc == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "speech service unavailable")
		return
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "No text provided")
		return
	}

	resp, err := h.speechSvc.SynthesizeToBuffer(r.Context(), "rest", payload.Text)
	if err != nil {
		log.Error().Err(err).Int("text_len", len(payload.Text)).Msg("[speech] TTS error")
		utils.RespondErrorDetails(w, http.StatusInternalServerError, "Text-to-speech failed", err.Error())
		return
	}

	mimeType := resp.MimeType
	if mimeType == "" {
		mimeType = "audio/mpeg"
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.AudioData)))
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp.AudioData); err != nil {
		log.Warn().Err(err).Msg("[speech] failed to write audio response")
	}
}

// inferAudioFormat 从文件名或 Content-Type 推断音频格式，无法判断时返回空以便按文件头猜测
func inferAudioFormat(filename, contentType string) audio.Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".wav":
		return audio.FormatWAV
	case ".webm":
		return audio.FormatWebM
	case ".m4a", ".mp4":
		return audio.FormatM4A
	}
	return audio.FormatFromMime(contentType)
}
