package avatar

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	avatarmodel "github.com/zhouzirui/persona-lab/backend/internal/model/avatar"
	"github.com/zhouzirui/persona-lab/backend/internal/model/persona"
	avatarsvc "github.com/zhouzirui/persona-lab/backend/internal/service/avatar"
	chatservice "github.com/zhouzirui/persona-lab/backend/internal/service/chat"
	"github.com/zhouzirui/persona-lab/backend/pkg/logger"
	"github.com/zhouzirui/persona-lab/backend/pkg/utils"
)

// Handler 数字人会话与视频生成的 HTTP 处理器
type Handler struct {
	lifecycle *avatarsvc.Lifecycle
	videos    *avatarsvc.VideoClient
	chatSvc   *chatservice.Service
	personas  persona.Store
}

// New 创建数字人处理器；videos 为 nil 时不注册视频路由
func New(lifecycle *avatarsvc.Lifecycle, videos *avatarsvc.VideoClient, chatSvc *chatservice.Service, personas persona.Store) *Handler {
	return &Handler{lifecycle: lifecycle, videos: videos, chatSvc: chatSvc, personas: personas}
}

// RegisterRoutes 注册数字人相关路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/avatar", func(ar chi.Router) {
		if h.videos != nil {
			ar.Post("/video", h.handleGenerateVideo)
			ar.Get("/video/{videoID}", h.handleVideoStatus)
		}

		ar.Get("/{sessionID}", h.handleStatus)
		ar.Post("/{sessionID}/start", h.handleStart)
		ar.Post("/{sessionID}/task", h.handleTask)
		ar.Post("/{sessionID}/stop", h.handleStop)
		ar.Get("/{sessionID}/viewer", h.handleViewer)
	})
}

func apiKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(utils.ProviderKeyHeader))
}

// decodeOptional 允许空请求体
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	if session.Avatar == nil {
		utils.RespondJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"active": session.Avatar.Active(), "avatar": session.Avatar})
}

// handleStart 创建并启动远端会话；已有活跃会话时返回 409
func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	if session.Avatar.Held() {
		utils.RespondError(w, http.StatusConflict, "avatar session already started")
		return
	}

	var opts avatarmodel.SessionOptions
	if err := decodeOptional(r, &opts); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if p, ok := h.personas.FindByID(session.PersonaID); ok {
		if opts.AvatarID == "" {
			opts.AvatarID = p.AvatarID
		}
		if opts.VoiceID == "" {
			opts.VoiceID = p.AvatarVoiceID
		}
	}

	remote, err := h.lifecycle.Open(r.Context(), apiKey(r), opts)
	if err != nil {
		logger.Warn("[avatar] open failed", zap.String("session", sessionID), zap.Error(err))
		h.respondAvatarError(w, err)
		return
	}

	if err := h.chatSvc.AttachAvatar(r.Context(), sessionID, *remote); err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusCreated, remote)
}

// handleTask 提交朗读文本并轮询到终态
func (h *Handler) handleTask(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	if session.Avatar == nil {
		utils.RespondError(w, http.StatusConflict, "avatar session not started")
		return
	}

	outcome, err := h.lifecycle.Speak(r.Context(), apiKey(r), session.Avatar, payload.Text)
	// stop 可能在轮询期间到达，此时不能把旧快照写回去
	released := false
	if updateErr := h.chatSvc.UpdateAvatar(r.Context(), sessionID, *session.Avatar); updateErr != nil {
		released = errors.Is(updateErr, chatservice.ErrAvatarReleased)
		logger.Warn("[avatar] persist state failed", zap.String("session", sessionID), zap.Error(updateErr))
	}
	if err != nil && outcome.TaskID == "" {
		h.respondAvatarError(w, err)
		return
	}

	status := http.StatusOK
	switch outcome.State {
	case avatarmodel.StateTimedOut:
		status = http.StatusGatewayTimeout
	case avatarmodel.StateFailed:
		status = http.StatusBadGateway
	}
	body := map[string]any{"outcome": outcome, "avatar": session.Avatar}
	if err != nil {
		body["error"] = err.Error()
	}
	if released {
		body["warning"] = "avatar session was stopped while the task was running"
	}
	utils.RespondJSON(w, status, body)
}

// handleStop 释放远端会话；重复调用或远端失败都不会报错，失败信息放在 warning 中
func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	remote, err := h.chatSvc.DetachAvatar(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	if remote == nil {
		utils.RespondJSON(w, http.StatusOK, map[string]any{"state": avatarmodel.StateStopped})
		return
	}

	body := map[string]any{"state": avatarmodel.StateStopped, "avatar": remote}
	if err := h.lifecycle.Close(r.Context(), apiKey(r), remote); err != nil {
		body["warning"] = err.Error()
	}
	utils.RespondJSON(w, http.StatusOK, body)
}

func (h *Handler) handleViewer(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if !session.Avatar.Active() {
		http.Error(w, "avatar session not started", http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderViewer(w, viewerData{
		SessionID:   session.Avatar.ID,
		URL:         session.Avatar.URL,
		AccessToken: session.Avatar.AccessToken,
	}); err != nil {
		logger.Warn("[avatar] render viewer failed", zap.Error(err))
	}
}

func (h *Handler) handleGenerateVideo(w http.ResponseWriter, r *http.Request) {
	var req avatarmodel.VideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	videoID, err := h.videos.Generate(r.Context(), apiKey(r), req)
	if err != nil {
		h.respondAvatarError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"videoId": videoID})
}

// handleVideoStatus 查询视频状态；?wait=true 时轮询直到完成、失败或超时
func (h *Handler) handleVideoStatus(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")

	if r.URL.Query().Get("wait") != "true" {
		video, err := h.videos.VideoStatus(r.Context(), apiKey(r), videoID)
		if err != nil {
			h.respondAvatarError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, video)
		return
	}

	video, outcome, err := h.videos.WaitVideo(r.Context(), apiKey(r), videoID)
	if err != nil && video == nil {
		h.respondAvatarError(w, err)
		return
	}
	status := http.StatusOK
	if outcome.State == avatarmodel.StateTimedOut {
		status = http.StatusGatewayTimeout
	}
	utils.RespondJSON(w, status, map[string]any{"video": video, "outcome": outcome})
}

func (h *Handler) respondAvatarError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, avatarsvc.ErrInvalidTransition):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, avatarsvc.ErrEmptyText):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, avatarsvc.ErrNotAcknowledged), errors.Is(err, avatarsvc.ErrIncompleteSession),
		errors.Is(err, avatarsvc.ErrTaskRejected), errors.Is(err, avatarsvc.ErrVideoRejected):
		utils.RespondError(w, http.StatusBadGateway, err.Error())
	default:
		utils.RespondProviderError(w, err)
	}
}
