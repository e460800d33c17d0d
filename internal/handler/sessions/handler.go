package sessions

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/voice-chat/backend/internal/session"
	"github.com/zhouzirui/voice-chat/backend/pkg/utils"
)

// Lister 提供活跃会话的诊断视图
type Lister interface {
	Snapshots() []session.Snapshot
}

// Handler 会话诊断的HTTP处理器
type Handler struct {
	sessions Lister
}

// New 创建会话处理器
func New(sessions Lister) *Handler {
	return &Handler{
		sessions: sessions,
	}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions", h.handleListSessions)
}

// handleListSessions 列出所有活跃会话
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	snapshots := h.sessions.Snapshots()
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"count":    len(snapshots),
		"sessions": snapshots,
	})
}
