package speech

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/voice-chat/backend/internal/session"
)

// WebSocketHandler WebSocket语音处理器，连接升级后交给会话管理器
type WebSocketHandler struct {
	manager  *session.Manager
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(manager *session.Manager) *WebSocketHandler {
	return &WebSocketHandler{
		manager: manager,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterWebSocketRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws", h.HandleWebSocket)
}

// HandleWebSocket 升级连接并阻塞直到连接关闭
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("[websocket] upgrade failed")
		return
	}

	h.manager.Serve(conn)
}

// IsUpgrade 判断请求是否为 WebSocket 升级请求
func IsUpgrade(r *http.Request) bool {
	return websocket.IsWebSocketUpgrade(r)
}
