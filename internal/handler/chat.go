package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/smalltalk/internal/middleware"
	"github.com/smalltalk/internal/model"
	"github.com/smalltalk/internal/service"
)

type ChatHandler struct {
	chats *service.ChatService
}

func NewChatHandler(chats *service.ChatService) *ChatHandler {
	return &ChatHandler{chats: chats}
}

// ChatResponse: чат для клиента с превью и путём аватара с точки зрения вызывающего.
type ChatResponse struct {
	Chat       model.Chat `json:"chat"`
	Preview    string     `json:"preview,omitempty"`
	AvatarPath string     `json:"avatar_path,omitempty"`
}

func chatResponse(c model.Chat, viewerID string) ChatResponse {
	resp := ChatResponse{Chat: c, AvatarPath: c.AvatarPath(viewerID)}
	if c.LastMessage != nil {
		resp.Preview = c.LastMessage.Preview()
	}
	return resp
}

func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	chats, err := h.chats.ListChats(r.Context(), userID)
	if err != nil {
		writeServiceError(w, "chat.List", err)
		return
	}
	out := make([]ChatResponse, len(chats))
	for i, c := range chats {
		out[i] = chatResponse(c, userID)
	}
	writeJSON(w, http.StatusOK, out)
}

type OpenDirectRequest struct {
	UserID string `json:"user_id"`
}

// OpenDirect находит или создаёт переписку; user_id вызывающего открывает «Избранное».
func (h *ChatHandler) OpenDirect(w http.ResponseWriter, r *http.Request) {
	var req OpenDirectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}
	userID := middleware.GetUserID(r.Context())
	chat, err := h.chats.OpenDirect(r.Context(), userID, req.UserID)
	if err != nil {
		writeServiceError(w, "chat.OpenDirect", err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse(chat, userID))
}

type CreateGroupRequest struct {
	Title     string   `json:"title"`
	MemberIDs []string `json:"member_ids"`
	HexColor  *string  `json:"hex_color,omitempty"`
}

func (h *ChatHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if !decodeBody(w, r, &req) {
		return
	}
	userID := middleware.GetUserID(r.Context())
	chat, err := h.chats.CreateGroup(r.Context(), userID, req.Title, req.MemberIDs, req.HexColor)
	if err != nil {
		writeServiceError(w, "chat.CreateGroup", err)
		return
	}
	writeJSON(w, http.StatusCreated, chatResponse(chat, userID))
}

type AddMemberRequest struct {
	UserID string `json:"user_id"`
}

func (h *ChatHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req AddMemberRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}
	userID := middleware.GetUserID(r.Context())
	chat, err := h.chats.AddMember(r.Context(), chi.URLParam(r, "id"), userID, req.UserID)
	if err != nil {
		writeServiceError(w, "chat.AddMember", err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse(chat, userID))
}

func (h *ChatHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	chat, err := h.chats.RemoveMember(r.Context(), chi.URLParam(r, "id"), userID, chi.URLParam(r, "memberId"))
	if err != nil {
		writeServiceError(w, "chat.RemoveMember", err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse(chat, userID))
}
