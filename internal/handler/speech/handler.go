package speech

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/persona-lab/backend/internal/model/persona"
	"github.com/zhouzirui/persona-lab/backend/internal/model/speech"
	chatservice "github.com/zhouzirui/persona-lab/backend/internal/service/chat"
	speechsvc "github.com/zhouzirui/persona-lab/backend/internal/service/speech"
	"github.com/zhouzirui/persona-lab/backend/pkg/logger"
	"github.com/zhouzirui/persona-lab/backend/pkg/utils"
)

// SpeechService 抽象语音业务，便于测试与替换实现
type SpeechService interface {
	TranscribeAudio(rCtx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error)
	SynthesizeSpeech(rCtx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error)
	Providers() []speechsvc.ProviderInfo
	Healthy() bool
}

// Handler 语音服务的HTTP处理器
type Handler struct {
	speechSvc    SpeechService
	chatSvc      *chatservice.Service
	personaStore persona.Store
	language     string
}

// New 创建语音处理器；language 为未指定语言时的默认值
func New(speechSvc SpeechService, chatSvc *chatservice.Service, personaStore persona.Store, language string) *Handler {
	if language == "" {
		language = "en-US"
	}
	return &Handler{
		speechSvc:    speechSvc,
		chatSvc:      chatSvc,
		personaStore: personaStore,
		language:     language,
	}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/speech", func(speechRouter chi.Router) {
		// ASR 端点
		speechRouter.Post("/transcribe", h.handleTranscribe)
		speechRouter.Post("/transcribe/{sessionID}", h.handleTranscribeWithSession)

		// TTS 端点
		speechRouter.Post("/synthesize", h.handleSynthesize)
		speechRouter.Post("/synthesize/{sessionID}", h.handleSynthesizeWithSession)

		speechRouter.Get("/providers", h.handleProviders)
		speechRouter.Get("/health", h.handleHealth)
	})
}

// handleTranscribe 处理语音转文本请求
func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	h.processTranscribe(w, r, "")
}

// handleTranscribeWithSession 处理带会话ID的语音转文本请求
func (h *Handler) handleTranscribeWithSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionID is required")
		return
	}

	h.processTranscribe(w, r, sessionID)
}

// handleSynthesize 处理文本转语音请求
func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	h.processSynthesize(w, r, "")
}

// handleSynthesizeWithSession 处理带会话ID的文本转语音请求
func (h *Handler) handleSynthesizeWithSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionID is required")
		return
	}

	h.processSynthesize(w, r, sessionID)
}

func (h *Handler) processTranscribe(w http.ResponseWriter, r *http.Request, overrideSessionID string) {
	err := r.ParseMultipartForm(32 << 20) // 32MB max
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return
	}

	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	sessionID := overrideSessionID
	if sessionID == "" {
		sessionID = r.FormValue("sessionId")
	}
	if sessionID == "" {
		sessionID = "default"
	}

	language := r.FormValue("language")
	if language == "" {
		language = h.language
	}

	format := r.FormValue("format")
	if format == "" {
		format = inferAudioFormat(header.Filename)
	}

	asrReq := &speech.ASRRequest{
		SessionID: sessionID,
		AudioData: file,
		Format:    format,
		Language:  language,
		Provider:  r.FormValue("provider"),
		APIKey:    r.Header.Get(utils.ProviderKeyHeader),
	}

	resp, err := h.speechSvc.TranscribeAudio(r.Context(), asrReq)
	if resp != nil {
		// 哨兵文本也是有效结果，错误只作为附加信息返回
		payload := map[string]any{"result": resp}
		if err != nil {
			payload["error"] = err.Error()
		}
		utils.RespondJSON(w, http.StatusOK, payload)
		return
	}
	if err != nil {
		logger.Warn("[speech] ASR error", zap.String("session", sessionID), zap.Error(err))
		utils.RespondProviderError(w, err)
		return
	}
	utils.RespondError(w, http.StatusInternalServerError, "speech recognition failed")
}

func (h *Handler) processSynthesize(w http.ResponseWriter, r *http.Request, overrideSessionID string) {
	var req speech.TTSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if overrideSessionID != "" {
		req.SessionID = overrideSessionID
	}

	if strings.TrimSpace(req.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	if req.SessionID == "" {
		req.SessionID = "default"
	}
	if req.Language == "" {
		req.Language = h.language
	}
	req.APIKey = r.Header.Get(utils.ProviderKeyHeader)

	if strings.TrimSpace(req.Voice) == "" {
		if resolved := h.resolveVoiceFromContext(r.Context(), req.SessionID, req.Provider); resolved != "" {
			req.Voice = resolved
		}
	}

	resp, err := h.speechSvc.SynthesizeSpeech(r.Context(), &req)
	if err != nil {
		logger.Warn("[speech] TTS error", zap.String("session", req.SessionID), zap.Error(err))
		utils.RespondProviderError(w, err)
		return
	}

	format := resp.Format
	if format == "" {
		format = "mpeg"
	}
	w.Header().Set("Content-Type", "audio/"+format)
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.AudioData)))
	w.Header().Set("Content-Disposition", "attachment; filename=speech."+resp.Format)
	w.Header().Set("X-Speech-Provider", resp.Provider)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp.AudioData); err != nil {
		logger.Warn("failed to write audio response", zap.Error(err))
	}
}

// resolveVoiceFromContext 根据会话绑定的角色选择该服务商下的默认音色
func (h *Handler) resolveVoiceFromContext(ctx context.Context, sessionID, providerName string) string {
	if h.chatSvc == nil || h.personaStore == nil {
		return ""
	}

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ""
	}

	session, err := h.chatSvc.GetSession(ctx, sessionID)
	if err != nil {
		return ""
	}

	personaObj, ok := h.personaStore.FindByID(session.PersonaID)
	if !ok {
		return ""
	}

	providerName = strings.ToLower(strings.TrimSpace(providerName))
	if providerName == "" {
		providerName = h.defaultTTS()
	}
	return personaObj.VoiceFor(providerName)
}

func (h *Handler) defaultTTS() string {
	for _, info := range h.speechSvc.Providers() {
		if info.Kind == "tts" && info.Default {
			return info.Name
		}
	}
	return ""
}

func (h *Handler) handleProviders(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{"providers": h.speechSvc.Providers()})
}

// handleHealth 健康检查端点；默认服务商缺少凭证时返回 degraded
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if !h.speechSvc.Healthy() {
		status = "degraded"
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"service": "speech",
	})
}

// inferAudioFormat 从文件名推断音频格式
func inferAudioFormat(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".mp3":
		return "mp3"
	case ".wav":
		return "wav"
	case ".webm":
		return "webm"
	case ".m4a":
		return "m4a"
	case ".flac":
		return "flac"
	case ".ogg":
		return "ogg"
	default:
		return "wav"
	}
}
