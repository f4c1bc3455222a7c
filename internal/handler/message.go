package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/smalltalk/internal/grouping"
	"github.com/smalltalk/internal/middleware"
	"github.com/smalltalk/internal/model"
	"github.com/smalltalk/internal/service"
)

type MessageHandler struct {
	chats *service.ChatService
}

func NewMessageHandler(chats *service.ChatService) *MessageHandler {
	return &MessageHandler{chats: chats}
}

// WindowResponse: страница истории от старых к новым. NextBefore передаётся в before
// следующего запроса; nil: история закончилась.
type WindowResponse struct {
	Rows       []grouping.Row `json:"rows"`
	NextBefore *time.Time     `json:"next_before"`
}

// List: GET /api/chats/{chatId}/messages?before=<RFC3339>&limit=N
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	var before time.Time
	if v := r.URL.Query().Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "before must be RFC3339")
			return
		}
		before = t
	}
	limit := queryInt(r, "limit", service.DefaultPageSize)
	userID := middleware.GetUserID(r.Context())
	rows, err := h.chats.Window(r.Context(), chi.URLParam(r, "chatId"), userID, before, limit)
	if err != nil {
		writeServiceError(w, "message.List", err)
		return
	}
	resp := WindowResponse{Rows: rows}
	if len(rows) > 0 && len(rows) >= min(max(limit, 1), service.MaxPageSize) {
		oldest := rows[0].Message.CreatedAt
		resp.NextBefore = &oldest
	}
	writeJSON(w, http.StatusOK, resp)
}

// SendRequest: либо content, либо text как сокращение для одного текстового элемента.
type SendRequest struct {
	Content model.Content `json:"content"`
	Text    string        `json:"text,omitempty"`
}

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	userID := middleware.GetUserID(r.Context())
	chatID := chi.URLParam(r, "chatId")
	var (
		m   model.Message
		err error
	)
	if len(req.Content) == 0 && req.Text != "" {
		m, err = h.chats.SendText(r.Context(), chatID, userID, req.Text)
	} else {
		m, err = h.chats.Send(r.Context(), chatID, userID, req.Content)
	}
	if err != nil {
		writeServiceError(w, "message.Send", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

type ForwardRequest struct {
	TargetChatID string `json:"target_chat_id"`
}

func (h *MessageHandler) Forward(w http.ResponseWriter, r *http.Request) {
	var req ForwardRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.TargetChatID = strings.TrimSpace(req.TargetChatID)
	if req.TargetChatID == "" {
		writeError(w, http.StatusBadRequest, "target_chat_id required")
		return
	}
	userID := middleware.GetUserID(r.Context())
	m, err := h.chats.Forward(r.Context(), chi.URLParam(r, "chatId"), chi.URLParam(r, "messageId"), userID, req.TargetChatID)
	if err != nil {
		writeServiceError(w, "message.Forward", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}
