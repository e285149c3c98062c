package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	avatarHandler "github.com/zhouzirui/persona-lab/backend/internal/handler/avatar"
	"github.com/zhouzirui/persona-lab/backend/internal/handler/chat"
	imageHandler "github.com/zhouzirui/persona-lab/backend/internal/handler/image"
	"github.com/zhouzirui/persona-lab/backend/internal/handler/persona"
	"github.com/zhouzirui/persona-lab/backend/internal/handler/speech"
	"github.com/zhouzirui/persona-lab/backend/internal/handler/stream"
	"github.com/zhouzirui/persona-lab/backend/internal/handler/voice"
	middlewarePkg "github.com/zhouzirui/persona-lab/backend/internal/middleware"
	personaModel "github.com/zhouzirui/persona-lab/backend/internal/model/persona"
	aiService "github.com/zhouzirui/persona-lab/backend/internal/service/ai"
	avatarService "github.com/zhouzirui/persona-lab/backend/internal/service/avatar"
	chatService "github.com/zhouzirui/persona-lab/backend/internal/service/chat"
	"github.com/zhouzirui/persona-lab/backend/internal/service/conversation"
	imageService "github.com/zhouzirui/persona-lab/backend/internal/service/image"
	speechService "github.com/zhouzirui/persona-lab/backend/internal/service/speech"
	"github.com/zhouzirui/persona-lab/backend/pkg/utils"
)

// Services 汇总路由需要的业务服务；可选服务为 nil 时对应路由返回 503 或不注册。
type Services struct {
	Personas       personaModel.Store
	Chat           *chatService.Service
	AI             *aiService.Service
	Speech         *speechService.Service
	Images         *imageService.Service
	Avatar         *avatarService.Lifecycle
	Videos         *avatarService.VideoClient
	Turns          *conversation.Service
	Language       string
	AllowedOrigins []string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(svc Services) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(svc.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		persona.New(svc.Personas).RegisterRoutes(api)

		// turns 为 nil 时只保留会话与记录接口
		var turns chat.TurnService
		if svc.Turns != nil {
			turns = svc.Turns
		}
		chat.New(svc.Chat, svc.Personas, turns).RegisterRoutes(api)

		var llm stream.LLM
		if svc.AI != nil {
			llm = svc.AI
		}
		stream.New(llm, svc.Chat, svc.Personas).RegisterRoutes(api)

		if svc.Speech != nil {
			speech.New(svc.Speech, svc.Chat, svc.Personas, svc.Language).RegisterRoutes(api)
		}

		if svc.Images != nil {
			imageHandler.New(svc.Images).RegisterRoutes(api)
		}

		if svc.Avatar != nil {
			avatarHandler.New(svc.Avatar, svc.Videos, svc.Chat, svc.Personas).RegisterRoutes(api)
		}

		if svc.Turns != nil {
			voice.NewWebSocketHandler(svc.Turns, svc.Chat, svc.Language).RegisterRoutes(api)
		} else {
			api.Get("/voice/ws/{sessionID}", func(w http.ResponseWriter, _ *http.Request) {
				utils.RespondError(w, http.StatusNotImplemented, "voice websocket not available")
			})
		}
	})

	return r
}
