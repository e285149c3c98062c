package image

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/persona-lab/backend/internal/analysis/artrequest"
	imagesvc "github.com/zhouzirui/persona-lab/backend/internal/service/image"
	"github.com/zhouzirui/persona-lab/backend/pkg/utils"
)

// ImageService generates artwork with provider fallback.
type ImageService interface {
	Generate(ctx context.Context, prompt string, keys map[string]string) (*imagesvc.Result, error)
	Order() []string
}

// Handler 图像生成 HTTP 处理器
type Handler struct {
	images ImageService
}

// New 创建图像处理器
func New(images ImageService) *Handler {
	return &Handler{images: images}
}

// RegisterRoutes 注册图像相关路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/image", func(ir chi.Router) {
		ir.Post("/generate", h.handleGenerate)
		ir.Get("/providers", h.handleProviders)
	})
}

type generateRequest struct {
	Prompt  string            `json:"prompt"`
	Message string            `json:"message"` // 原始用户消息，服务端补全风格与提示词
	Style   string            `json:"style"`
	APIKeys map[string]string `json:"apiKeys"`
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" && strings.TrimSpace(req.Message) != "" {
		prompt = artrequest.BuildPrompt(req.Message, artrequest.DetectStyle(req.Message, req.Style))
	}
	if prompt == "" {
		utils.RespondError(w, http.StatusBadRequest, "prompt or message is required")
		return
	}

	result, err := h.images.Generate(r.Context(), prompt, req.APIKeys)
	if err != nil {
		if errors.Is(err, imagesvc.ErrNoImage) {
			utils.RespondJSON(w, http.StatusBadGateway, map[string]any{
				"error":  err.Error(),
				"prompt": prompt,
				"note":   strings.TrimSpace(artrequest.FailureNote),
			})
			return
		}
		utils.RespondProviderError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"image":    result.Image,
		"format":   result.Format,
		"provider": result.Provider,
		"prompt":   result.Prompt,
	})
}

func (h *Handler) handleProviders(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{"order": h.images.Order()})
}
