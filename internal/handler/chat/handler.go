package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/persona-lab/backend/internal/model/chat"
	"github.com/zhouzirui/persona-lab/backend/internal/model/persona"
	chatService "github.com/zhouzirui/persona-lab/backend/internal/service/chat"
	"github.com/zhouzirui/persona-lab/backend/internal/service/conversation"
	"github.com/zhouzirui/persona-lab/backend/pkg/logger"
	"github.com/zhouzirui/persona-lab/backend/pkg/utils"
)

const maxVoiceUpload = 25 << 20 // Whisper 上传上限

// TurnService runs conversation turns.
type TurnService interface {
	Reply(ctx context.Context, in conversation.TurnInput) (*conversation.TurnOutput, error)
	VoiceReply(ctx context.Context, in conversation.VoiceInput) (*conversation.TurnOutput, error)
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc      *chatService.Service
	personaStore persona.Store
	turns        TurnService
}

// New 创建聊天处理器；turns 为 nil 时不注册对话轮次路由。
func New(chatSvc *chatService.Service, personaStore persona.Store, turns TurnService) *Handler {
	return &Handler{
		chatSvc:      chatSvc,
		personaStore: personaStore,
		turns:        turns,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleCreateSession)
	r.Post("/messages", h.handleSaveMessage)
	r.Get("/session/{sessionID}/transcript", h.handleTranscript)
	r.Delete("/session/{sessionID}/transcript", h.handleResetTranscript)

	if h.turns != nil {
		r.Post("/chat/{sessionID}", h.handleTurn)
		r.Post("/chat/{sessionID}/voice", h.handleVoiceTurn)
	}
}

type sessionResponse struct {
	chat.Session
	Messages []chat.Message `json:"messages"`
}

// handleCreateSession 创建会话，并把角色问候语写入首条记录
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PersonaID string `json:"personaId"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if payload.PersonaID == "" {
		utils.RespondError(w, http.StatusBadRequest, "personaId is required")
		return
	}

	p, ok := h.personaStore.FindByID(payload.PersonaID)
	if !ok {
		utils.RespondError(w, http.StatusBadRequest, "persona not found")
		return
	}

	session, err := h.chatSvc.CreateSession(r.Context(), p.ID, p.Greeting)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	messages, err := h.chatSvc.LoadTranscript(r.Context(), session.ID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusCreated, sessionResponse{Session: session, Messages: messages})
}

// handleSaveMessage 保存消息
func (h *Handler) handleSaveMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
		Role      string `json:"role"`
		Content   string `json:"content"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	role := chat.Role(strings.ToLower(strings.TrimSpace(payload.Role)))
	if role != chat.RoleUser && role != chat.RoleAssistant {
		utils.RespondError(w, http.StatusBadRequest, "role must be user or assistant")
		return
	}

	saved, err := h.chatSvc.SaveMessage(r.Context(), chat.Message{
		SessionID: payload.SessionID,
		Role:      role,
		Content:   payload.Content,
	})
	if err != nil {
		h.respondSessionError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusAccepted, saved)
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	messages, err := h.chatSvc.LoadTranscript(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondSessionError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (h *Handler) handleResetTranscript(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.ResetTranscript(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		h.respondSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTurn 文本对话：LLM 回复 + 可选图像/语音/数字人
func (h *Handler) handleTurn(w http.ResponseWriter, r *http.Request) {
	var in conversation.TurnInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in.SessionID = chi.URLParam(r, "sessionID")

	out, err := h.turns.Reply(r.Context(), in)
	if err != nil {
		h.respondTurnError(w, in.SessionID, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, out)
}

// handleVoiceTurn 语音对话：multipart 字段 audio，其余字段与文本对话一致
func (h *Handler) handleVoiceTurn(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxVoiceUpload)
	if err := r.ParseMultipartForm(maxVoiceUpload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to read audio")
		return
	}

	format := r.FormValue("format")
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
	}

	in := conversation.VoiceInput{
		TurnInput: conversation.TurnInput{
			SessionID:   chi.URLParam(r, "sessionID"),
			TTSProvider: r.FormValue("ttsProvider"),
			Voice:       r.FormValue("voice"),
			Language:    r.FormValue("language"),
			SkipAudio:   r.FormValue("skipAudio") == "true",
			SkipAvatar:  r.FormValue("skipAvatar") == "true",
		},
		Audio:       audio,
		AudioFormat: format,
		ASRProvider: r.FormValue("asrProvider"),
	}
	if raw := r.FormValue("apiKeys"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &in.Keys); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "apiKeys must be a JSON object")
			return
		}
	}

	out, err := h.turns.VoiceReply(r.Context(), in)
	if err != nil {
		h.respondTurnError(w, in.SessionID, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, out)
}

func (h *Handler) respondSessionError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, chatService.ErrSessionNotFound) {
		status = http.StatusNotFound
	}
	utils.RespondError(w, status, err.Error())
}

func (h *Handler) respondTurnError(w http.ResponseWriter, sessionID string, err error) {
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chatService.ErrSessionNotFound), errors.Is(err, conversation.ErrPersonaNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	default:
		logger.Error("[chat] turn failed", zap.String("session", sessionID), zap.Error(err))
		utils.RespondProviderError(w, err)
	}
}
