package utils

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/zhouzirui/persona-lab/backend/internal/service/provider"
	"github.com/zhouzirui/persona-lab/backend/pkg/logger"
)

// ProviderKeyHeader carries a per-request API key override.
const ProviderKeyHeader = "X-Provider-Key"

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("failed to encode response", zap.Error(err))
	}
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{"error": message})
}

// RespondProviderError maps provider failures onto HTTP statuses:
// missing credential -> 400, upstream non-2xx -> 502 with the upstream status, anything else -> 500.
func RespondProviderError(w http.ResponseWriter, err error) {
	if errors.Is(err, provider.ErrMissingCredential) {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if apiErr, ok := provider.AsAPIError(err); ok {
		RespondJSON(w, http.StatusBadGateway, map[string]any{
			"error":          apiErr.Error(),
			"provider":       apiErr.Provider,
			"upstreamStatus": apiErr.StatusCode,
		})
		return
	}

	RespondError(w, http.StatusInternalServerError, err.Error())
}
