package page

import (
	"bytes"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/finetuning-llms/companion/internal/model/chat"
	"github.com/finetuning-llms/companion/internal/model/feedback"
	"github.com/finetuning-llms/companion/internal/model/page"
	"github.com/finetuning-llms/companion/internal/render"
	chatService "github.com/finetuning-llms/companion/internal/service/chat"
	"github.com/finetuning-llms/companion/pkg/utils"
)

// SessionCookie names the cookie holding the visitor's chat session id.
const SessionCookie = "companion_session"

// Handler serves the HTML site: the chapter selector, static pages and the chat page.
type Handler struct {
	pages    page.Store
	chatSvc  *chatService.Service
	renderer *render.Renderer
	logger   *zap.Logger
}

// New creates the page handler.
func New(pages page.Store, chatSvc *chatService.Service, renderer *render.Renderer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		pages:    pages,
		chatSvc:  chatSvc,
		renderer: renderer,
		logger:   logger.Named("page"),
	}
}

// RegisterRoutes mounts the HTML site routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleIndex)
	r.Get("/pages", h.handleSelect)
	r.Get("/pages/{slug}", h.handleShow)
	r.Post("/pages/{slug}/chat", h.handleChat)
	r.Post("/pages/{slug}/feedback", h.handleFeedback)
}

// RegisterAPIRoutes exposes the page catalog as JSON.
func (h *Handler) RegisterAPIRoutes(r chi.Router) {
	r.Get("/pages", h.handleListPages)
}

func (h *Handler) handleListPages(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.pages.List())
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	pages := h.pages.List()
	if len(pages) == 0 {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, "/pages/"+pages[0].Slug, http.StatusFound)
}

// handleSelect maps the selector's label to the page URL.
func (h *Handler) handleSelect(w http.ResponseWriter, r *http.Request) {
	p, ok := h.pages.FindByLabel(r.URL.Query().Get("label"))
	if !ok {
		http.Error(w, "page not found", http.StatusNotFound)
		return
	}
	http.Redirect(w, r, "/pages/"+p.Slug, http.StatusFound)
}

func (h *Handler) handleShow(w http.ResponseWriter, r *http.Request) {
	p, ok := h.findPage(w, r)
	if !ok {
		return
	}
	if !p.Chat {
		h.render(w, h.renderer.PageView(p))
		return
	}

	session, err := h.session(w, r)
	if err != nil {
		h.fail(w, "load session", err)
		return
	}
	h.render(w, h.renderer.ChatView(p, session))
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	p, ok := h.findChatPage(w, r)
	if !ok {
		return
	}

	prompt := r.PostFormValue("prompt")
	credential := strings.TrimSpace(r.PostFormValue("credential"))

	session, err := h.session(w, r)
	if err != nil {
		h.fail(w, "load session", err)
		return
	}

	// Empty submissions are never dispatched.
	if strings.TrimSpace(prompt) == "" {
		view := h.renderer.ChatView(p, session)
		view.Credential = credential
		h.render(w, view)
		return
	}

	result, err := h.chatSvc.SubmitTurn(r.Context(), session.ID, prompt, credential)
	if err != nil {
		h.fail(w, "submit turn", err)
		return
	}

	view := h.renderer.ChatView(p, result.Session)
	view.Notice = result.Notice
	view.Credential = credential
	h.render(w, view)
}

func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	p, ok := h.findChatPage(w, r)
	if !ok {
		return
	}

	session, err := h.session(w, r)
	if err != nil {
		h.fail(w, "load session", err)
		return
	}

	result, err := h.chatSvc.SubmitFeedback(r.Context(), session.ID, feedback.Feedback{
		Score: feedback.Sentiment(r.PostFormValue("score")),
		Text:  r.PostFormValue("text"),
	})
	view := h.renderer.ChatView(p, session)
	status := http.StatusOK
	switch {
	case err == nil:
		view.Toast = result.Notice
	case errors.Is(err, chatService.ErrNoReply), errors.Is(err, feedback.ErrInvalidSentiment):
		status = http.StatusBadRequest
	default:
		h.fail(w, "submit feedback", err)
		return
	}
	h.renderStatus(w, status, view)
}

func (h *Handler) findPage(w http.ResponseWriter, r *http.Request) (page.Page, bool) {
	p, ok := h.pages.FindBySlug(chi.URLParam(r, "slug"))
	if !ok {
		http.Error(w, "page not found", http.StatusNotFound)
	}
	return p, ok
}

func (h *Handler) findChatPage(w http.ResponseWriter, r *http.Request) (page.Page, bool) {
	p, ok := h.findPage(w, r)
	if ok && !p.Chat {
		http.Error(w, "page has no chat", http.StatusNotFound)
		return page.Page{}, false
	}
	return p, ok
}

// session resolves the visitor's session from the cookie, creating one when absent.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (chat.Session, error) {
	var id string
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		id = cookie.Value
	}

	session, err := h.chatSvc.EnsureSession(r.Context(), id)
	if err != nil {
		return chat.Session{}, err
	}
	if session.ID != id {
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    session.ID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return session, nil
}

func (h *Handler) render(w http.ResponseWriter, view render.View) {
	h.renderStatus(w, http.StatusOK, view)
}

// renderStatus writes nothing until the page has rendered, so a template failure
// still produces a clean 500.
func (h *Handler) renderStatus(w http.ResponseWriter, status int, view render.View) {
	var buf bytes.Buffer
	if err := h.renderer.Render(&buf, view); err != nil {
		h.logger.Error("render failed", zap.String("page", view.Current.Slug), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op+" failed", zap.Error(err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}
