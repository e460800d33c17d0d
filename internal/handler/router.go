package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/voice-chat/backend/internal/handler/chat"
	"github.com/zhouzirui/voice-chat/backend/internal/handler/sessions"
	"github.com/zhouzirui/voice-chat/backend/internal/handler/speech"
	middlewarePkg "github.com/zhouzirui/voice-chat/backend/internal/middleware"
	aiService "github.com/zhouzirui/voice-chat/backend/internal/service/ai"
	speechService "github.com/zhouzirui/voice-chat/backend/internal/service/speech"
	"github.com/zhouzirui/voice-chat/backend/internal/session"
	"github.com/zhouzirui/voice-chat/backend/pkg/utils"
)

// Services 路由依赖的服务；未配置的服务为 nil，对应接口返回 503
type Services struct {
	AI             *aiService.Service
	Speech         *speechService.Service
	Sessions       *session.Manager
	Metrics        *session.Metrics
	MaxUploadBytes int
}

// NewRouter wires HTTP routes to core services.
func NewRouter(svc Services) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	// 避免把 nil 指针装进接口
	var completer chat.Completer
	if svc.AI != nil {
		completer = svc.AI
	}
	var speechSvc speech.SpeechService
	if svc.Speech != nil {
		speechSvc = svc.Speech
	}

	chatHandler := chat.New(completer)
	speechHandler := speech.New(speechSvc, svc.MaxUploadBytes)

	var wsHandler *speech.WebSocketHandler
	if svc.Sessions != nil {
		wsHandler = speech.NewWebSocketHandler(svc.Sessions)
		wsHandler.RegisterWebSocketRoutes(r)
	} else {
		r.Get("/ws", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondError(w, http.StatusServiceUnavailable, "websocket sessions unavailable")
		})
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		if wsHandler != nil && speech.IsUpgrade(r) {
			wsHandler.HandleWebSocket(w, r)
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]string{
			"message":   "Voice Chat AI Server is running!",
			"websocket": "/ws",
			"health":    "/api/health",
		})
	})

	if svc.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", svc.Metrics.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			active := 0
			if svc.Sessions != nil {
				active = svc.Sessions.Registry().Len()
			}
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status":            "OK",
				"timestamp":         time.Now().UTC().Format(time.RFC3339),
				"speech_configured": svc.Speech != nil,
				"ai_configured":     svc.AI != nil,
				"active_sessions":   active,
			})
		})

		chatHandler.RegisterRoutes(api)
		speechHandler.RegisterRoutes(api)

		if svc.Sessions != nil {
			sessions.New(svc.Sessions.Registry()).RegisterRoutes(api)
		}
	})

	return r
}
