package handler

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/smalltalk/internal/media"
	"github.com/smalltalk/internal/middleware"
	"github.com/smalltalk/internal/model"
	"github.com/smalltalk/internal/service"
)

const (
	maxImageSize = 20 << 20
	maxAudioSize = 10 << 20
)

var (
	imageTypes = map[string]string{"image/jpeg": ".jpg", "image/png": ".png", "image/webp": ".webp", "image/gif": ".gif"}
	audioTypes = map[string]string{"audio/mp4": ".m4a", "audio/mpeg": ".mp3", "audio/ogg": ".ogg", "audio/webm": ".webm", "audio/aac": ".aac"}
)

// MediaHandler выдаёт ссылки на файлы из сообщений и принимает загрузки.
type MediaHandler struct {
	store media.Store
	chats *service.ChatService
}

func NewMediaHandler(store media.Store, chats *service.ChatService) *MediaHandler {
	return &MediaHandler{store: store, chats: chats}
}

// URL: GET /api/media?path=... Файлы чата (chats/{id}/...) доступны только его участникам.
func (h *MediaHandler) URL(w http.ResponseWriter, r *http.Request) {
	p := strings.TrimSpace(r.URL.Query().Get("path"))
	if p == "" {
		writeError(w, http.StatusBadRequest, "path required")
		return
	}
	if chatID, ok := chatOfPath(p); ok {
		if _, err := h.chats.Chat(r.Context(), chatID, middleware.GetUserID(r.Context())); err != nil {
			writeServiceError(w, "media.URL", err)
			return
		}
	}
	u, err := h.store.URL(r.Context(), p)
	if err != nil {
		writeServiceError(w, "media.URL", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": u})
}

// Upload: POST /api/chats/{chatId}/media (multipart, поле file). Возвращает path для
// содержимого image/audio следующего сообщения. С ?send=true сразу отправляет сообщение
// из этого файла; для картинок размер берётся из полей width и height.
func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	userID := middleware.GetUserID(r.Context())
	if _, err := h.chats.Chat(r.Context(), chatID, userID); err != nil {
		writeServiceError(w, "media.Upload", err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxImageSize+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	kind, ext, limit, ok := mediaKind(contentType)
	if !ok {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported content type")
		return
	}
	if header.Size > limit {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file larger than %d MB", limit>>20))
		return
	}
	head := make([]byte, 512)
	n, _ := io.ReadAtLeast(file, head, len(head))
	head = head[:n]
	if !media.MatchesType(normalizeType(contentType), head) {
		writeError(w, http.StatusBadRequest, "file content does not match type")
		return
	}
	p := path.Join("chats", chatID, uuid.New().String()+ext)
	body := io.MultiReader(bytes.NewReader(head), file)
	if err := h.store.Upload(r.Context(), p, body, header.Size, contentType); err != nil {
		writeServiceError(w, "media.Upload", err)
		return
	}
	if send, _ := strconv.ParseBool(r.URL.Query().Get("send")); !send {
		writeJSON(w, http.StatusCreated, map[string]string{"path": p})
		return
	}
	size := model.ImageSize{Width: formFloat(r, "width"), Height: formFloat(r, "height")}
	m, err := h.chats.SendMedia(r.Context(), chatID, userID, kind, p, size)
	if err != nil {
		writeServiceError(w, "media.Upload", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"path": p, "message": m})
}

func formFloat(r *http.Request, key string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(r.FormValue(key)), 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func normalizeType(contentType string) string {
	return strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
}

func mediaKind(contentType string) (kind model.ContentKind, ext string, limit int64, ok bool) {
	ct := normalizeType(contentType)
	if ext, ok := imageTypes[ct]; ok {
		return model.KindImage, ext, maxImageSize, true
	}
	if ext, ok := audioTypes[ct]; ok {
		return model.KindAudio, ext, maxAudioSize, true
	}
	return "", "", 0, false
}

// chatOfPath возвращает id чата для путей вида chats/{id}/...
func chatOfPath(p string) (string, bool) {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) >= 3 && parts[0] == "chats" && parts[1] != "" {
		return parts[1], true
	}
	return "", false
}
