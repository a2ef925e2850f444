package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/finetuning-llms/companion/internal/handler/chat"
	"github.com/finetuning-llms/companion/internal/handler/page"
	"github.com/finetuning-llms/companion/internal/handler/ws"
	"github.com/finetuning-llms/companion/internal/logging"
	pageModel "github.com/finetuning-llms/companion/internal/model/page"
	"github.com/finetuning-llms/companion/internal/render"
	chatService "github.com/finetuning-llms/companion/internal/service/chat"
	"github.com/finetuning-llms/companion/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(pages pageModel.Store, chatSvc *chatService.Service, renderer *render.Renderer, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	pageHandler := page.New(pages, chatSvc, renderer, logger)
	chatHandler := chat.New(chatSvc)
	wsHandler := ws.New(chatSvc, logger)

	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(render.Static()))))
	pageHandler.RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		api.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		pageHandler.RegisterAPIRoutes(api)
		chatHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
	})

	return r
}
