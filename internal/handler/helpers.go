package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/smalltalk/internal/logger"
	"github.com/smalltalk/internal/media"
	"github.com/smalltalk/internal/model"
	"github.com/smalltalk/internal/service"
	"github.com/smalltalk/internal/storage"
)

const maxJSONBody = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError переводит ошибку слоя service в HTTP-статус.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, model.ErrInvalidChat), errors.Is(err, model.ErrInvalidMessage), errors.Is(err, media.ErrBadPath):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, media.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "media storage is not configured")
	default:
		logger.Errorf("%s: %v", op, err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeBody читает JSON-тело не больше maxJSONBody; при ошибке сам отвечает 400.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
