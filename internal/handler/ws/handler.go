package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/finetuning-llms/companion/internal/model/feedback"
	chatService "github.com/finetuning-llms/companion/internal/service/chat"
)

// readTimeout bounds how long the socket may stay idle between inbound events.
const readTimeout = 60 * time.Second

// Handler runs chat turns over a websocket. Each inbound event is handled on its own;
// the client re-renders from the transcript carried by every reply.
type Handler struct {
	chatSvc     *chatService.Service
	upgrader    websocket.Upgrader
	logger      *zap.Logger
	readTimeout time.Duration
}

// New creates the websocket handler.
func New(chatSvc *chatService.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		chatSvc:     chatSvc,
		logger:      logger.Named("websocket"),
		readTimeout: readTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the websocket route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// TurnMessage submits one user turn.
type TurnMessage struct {
	Message    string `json:"message"`
	Credential string `json:"credential"`
}

// FeedbackMessage rates the latest reply.
type FeedbackMessage struct {
	Score string `json:"score"`
	Text  string `json:"text"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	go h.pingLoop(ctx, conn)

	h.send(conn, sessionID, "transcript", transcriptPayload(session.Transcript, session.FeedbackEnabled(), "", ""))

	for {
		// Idle time starts after the previous event is handled.
		_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))

		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("read failed", zap.String("session", sessionID), zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case "turn":
			h.handleTurn(ctx, conn, sessionID, msg.Data)
		case "feedback":
			h.handleFeedback(ctx, conn, sessionID, msg.Data)
		default:
			h.sendError(conn, sessionID, "unsupported message type: "+msg.Type)
		}
	}
}

func (h *Handler) handleTurn(ctx context.Context, conn *websocket.Conn, sessionID string, raw json.RawMessage) {
	var turn TurnMessage
	if err := json.Unmarshal(raw, &turn); err != nil {
		h.sendError(conn, sessionID, "invalid turn payload")
		return
	}

	result, err := h.chatSvc.SubmitTurn(ctx, sessionID, turn.Message, turn.Credential)
	if err != nil {
		if errors.Is(err, chatService.ErrEmptyMessage) {
			h.sendError(conn, sessionID, err.Error())
			return
		}
		h.logger.Error("submit turn failed", zap.String("session", sessionID), zap.Error(err))
		h.sendError(conn, sessionID, "internal error")
		return
	}

	h.send(conn, sessionID, "transcript", transcriptPayload(
		result.Session.Transcript,
		result.Session.FeedbackEnabled(),
		string(result.Outcome),
		result.Notice,
	))
}

func (h *Handler) handleFeedback(ctx context.Context, conn *websocket.Conn, sessionID string, raw json.RawMessage) {
	var fb FeedbackMessage
	if err := json.Unmarshal(raw, &fb); err != nil {
		h.sendError(conn, sessionID, "invalid feedback payload")
		return
	}

	result, err := h.chatSvc.SubmitFeedback(ctx, sessionID, feedback.Feedback{
		Score: feedback.Sentiment(fb.Score),
		Text:  fb.Text,
	})
	if err != nil {
		h.sendError(conn, sessionID, err.Error())
		return
	}
	h.send(conn, sessionID, "feedback", result)
}

func transcriptPayload(transcript interface{}, feedbackEnabled bool, outcome, notice string) map[string]any {
	payload := map[string]any{
		"transcript":      transcript,
		"feedbackEnabled": feedbackEnabled,
	}
	if outcome != "" {
		payload["outcome"] = outcome
	}
	if notice != "" {
		payload["notice"] = notice
	}
	return payload
}

func (h *Handler) send(conn *websocket.Conn, sessionID, kind string, data interface{}) {
	msg := outgoingMessage{
		Type:      kind,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Warn("write failed", zap.String("type", kind), zap.Error(err))
	}
}

func (h *Handler) sendError(conn *websocket.Conn, sessionID, message string) {
	h.send(conn, sessionID, "error", map[string]string{"message": message})
}

// pingLoop keeps the connection alive with periodic pings.
func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(h.readTimeout * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return
			}
		}
	}
}
