package chat

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/finetuning-llms/companion/internal/model/chat"
	"github.com/finetuning-llms/companion/internal/model/feedback"
	chatService "github.com/finetuning-llms/companion/internal/service/chat"
	"github.com/finetuning-llms/companion/pkg/utils"
)

// CredentialHeader carries the provider API key for a single request.
const CredentialHeader = "X-LLM-Key"

// Handler exposes the chat service as a JSON API.
type Handler struct {
	chatSvc *chatService.Service
}

// New creates the chat API handler.
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes mounts the session routes under the API group.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Post("/sessions/{sessionID}/turns", h.handleSubmitTurn)
	r.Post("/sessions/{sessionID}/feedback", h.handleSubmitFeedback)
}

// SessionView is the JSON shape of a session.
type SessionView struct {
	ID              string          `json:"id"`
	Transcript      chat.Transcript `json:"transcript"`
	LastResponse    string          `json:"lastResponse,omitempty"`
	FeedbackEnabled bool            `json:"feedbackEnabled"`
	FeedbackKey     string          `json:"feedbackKey,omitempty"`
}

// NewSessionView projects a session for API clients.
func NewSessionView(session chat.Session) SessionView {
	view := SessionView{
		ID:              session.ID,
		Transcript:      session.Transcript,
		LastResponse:    session.LastResponse,
		FeedbackEnabled: session.FeedbackEnabled(),
	}
	if view.FeedbackEnabled {
		view.FeedbackKey = session.FeedbackKey()
	}
	return view
}

// TurnView is the JSON answer to a submitted turn.
type TurnView struct {
	Outcome chatService.Outcome `json:"outcome"`
	Reply   string              `json:"reply,omitempty"`
	Notice  string              `json:"notice,omitempty"`
	Session SessionView         `json:"session"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.CreateSession(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	utils.RespondJSON(w, http.StatusCreated, NewSessionView(session))
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, NewSessionView(session))
}

func (h *Handler) handleSubmitTurn(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Message string `json:"message"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	credential := strings.TrimSpace(r.Header.Get(CredentialHeader))
	result, err := h.chatSvc.SubmitTurn(r.Context(), chi.URLParam(r, "sessionID"), payload.Message, credential)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	status := http.StatusOK
	if result.Outcome == chatService.OutcomeFailed {
		status = http.StatusBadGateway
	}
	utils.RespondJSON(w, status, TurnView{
		Outcome: result.Outcome,
		Reply:   result.Reply,
		Notice:  result.Notice,
		Session: NewSessionView(result.Session),
	})
}

func (h *Handler) handleSubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Score string `json:"score"`
		Text  string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.chatSvc.SubmitFeedback(r.Context(), chi.URLParam(r, "sessionID"), feedback.Feedback{
		Score: feedback.Sentiment(payload.Score),
		Text:  payload.Text,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, result)
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chatService.ErrEmptyMessage), errors.Is(err, feedback.ErrInvalidSentiment):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chatService.ErrNoReply):
		utils.RespondError(w, http.StatusConflict, err.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
