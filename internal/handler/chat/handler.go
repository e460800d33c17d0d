package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/voice-chat/backend/pkg/utils"
)

// Completer 生成对用户消息的回复
type Completer interface {
	Complete(ctx context.Context, text string) (string, error)
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	aiSvc Completer
}

// New 创建聊天处理器。aiSvc 为 nil 时接口返回 503。
func New(aiSvc Completer) *Handler {
	return &Handler{
		aiSvc: aiSvc,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
}

// handleChat 单轮对话
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	if h.aiSvc == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "ai service unavailable")
		return
	}

	var payload struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	message := strings.TrimSpace(payload.Message)
	if message == "" {
		utils.RespondError(w, http.StatusBadRequest, "No message provided")
		return
	}

	reply, err := h.aiSvc.Complete(r.Context(), message)
	if err != nil {
		log.Error().Err(err).Msg("[chat] completion failed")
		utils.RespondErrorDetails(w, http.StatusInternalServerError, "Failed to get AI response", err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"response": reply,
		"success":  true,
	})
}
