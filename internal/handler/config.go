package handler

import (
	"net/http"

	"github.com/smalltalk/internal/config"
	"github.com/smalltalk/internal/grouping"
)

// ConfigHandler отдаёт публичные параметры для клиента.
type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// GetClientConfig: порог группировки сообщений и публичный VAPID-ключ, если пуши включены.
func (h *ConfigHandler) GetClientConfig(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"merge_threshold_sec": int(grouping.MergeThreshold.Seconds()),
		"push_enabled":        false,
	}
	if h.cfg.PushServiceURL != "" && h.cfg.PushVAPIDPublicKey != "" {
		resp["push_enabled"] = true
		resp["vapid_public_key"] = h.cfg.PushVAPIDPublicKey
	}
	writeJSON(w, http.StatusOK, resp)
}
