package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	chatservice "github.com/zhouzirui/persona-lab/backend/internal/service/chat"
	"github.com/zhouzirui/persona-lab/backend/internal/service/conversation"
	"github.com/zhouzirui/persona-lab/backend/pkg/logger"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	maxAudioSize = 25 << 20
)

// TurnService runs conversation turns.
type TurnService interface {
	Reply(ctx context.Context, in conversation.TurnInput) (*conversation.TurnOutput, error)
	VoiceReply(ctx context.Context, in conversation.VoiceInput) (*conversation.TurnOutput, error)
}

// WebSocketHandler 实时语音对话处理器：文本或录音进，转写/回复/音频/图像/数字人结果出
type WebSocketHandler struct {
	turns    TurnService
	chatSvc  *chatservice.Service
	language string
	upgrader websocket.Upgrader

	readTimeout time.Duration
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(turns TurnService, chatSvc *chatservice.Service, language string) *WebSocketHandler {
	return &WebSocketHandler{
		turns:       turns,
		chatSvc:     chatSvc,
		language:    language,
		readTimeout: readTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/voice/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// AudioMessage 录音分片，IsFinal 为 true 时触发识别
type AudioMessage struct {
	AudioData []byte `json:"audioData"`
	Format    string `json:"format"`
	IsFinal   bool   `json:"isFinal"`
}

// TextMessage 文本消息
type TextMessage struct {
	Text string `json:"text"`
}

// ConfigMessage 配置消息
type ConfigMessage struct {
	Language    string            `json:"language"`
	Voice       string            `json:"voice"`
	TTSProvider string            `json:"ttsProvider"`
	ASRProvider string            `json:"asrProvider"`
	TTSEnabled  *bool             `json:"ttsEnabled,omitempty"`
	Avatar      *bool             `json:"avatarEnabled,omitempty"`
	APIKeys     map[string]string `json:"apiKeys,omitempty"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type connectionState struct {
	sessionID     string
	language      string
	voice         string
	ttsProvider   string
	asrProvider   string
	ttsEnabled    bool
	avatarEnabled bool
	keys          map[string]string
	audioFormat   string
	buffer        bytes.Buffer
}

func newConnectionState(sessionID, language string) *connectionState {
	return &connectionState{
		sessionID:     sessionID,
		language:      language,
		ttsEnabled:    true,
		avatarEnabled: true,
		keys:          map[string]string{},
	}
}

func (s *connectionState) applyConfig(cfg ConfigMessage) {
	if cfg.Language != "" {
		s.language = cfg.Language
	}
	if cfg.Voice != "" {
		s.voice = cfg.Voice
	}
	if cfg.TTSProvider != "" {
		s.ttsProvider = cfg.TTSProvider
	}
	if cfg.ASRProvider != "" {
		s.asrProvider = cfg.ASRProvider
	}
	if cfg.TTSEnabled != nil {
		s.ttsEnabled = *cfg.TTSEnabled
	}
	if cfg.Avatar != nil {
		s.avatarEnabled = *cfg.Avatar
	}
	for name, key := range cfg.APIKeys {
		s.keys[name] = key
	}
}

func (s *connectionState) turnInput(message string) conversation.TurnInput {
	return conversation.TurnInput{
		SessionID:   s.sessionID,
		Message:     message,
		TTSProvider: s.ttsProvider,
		Voice:       s.voice,
		Language:    s.language,
		SkipAudio:   !s.ttsEnabled,
		SkipAvatar:  !s.avatarEnabled,
		Keys:        s.keys,
	}
}

// socket 串行化写操作，gorilla 连接不支持并发写
type socket struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	sessionID string
}

func (s *socket) send(kind string, data interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := outgoingMessage{Type: kind, SessionID: s.sessionID, Data: data, Timestamp: time.Now().Unix()}
	if err := s.conn.WriteJSON(msg); err != nil {
		logger.Warn("[websocket] write failed", zap.String("session", s.sessionID), zap.String("type", kind), zap.Error(err))
	}
}

func (s *socket) sendError(message string) {
	s.send("error", map[string]string{"message": message})
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "sessionID is required", http.StatusBadRequest)
		return
	}

	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("[websocket] upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxAudioSize * 2)

	logger.Info("[websocket] new connection", zap.String("session", sessionID))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.readTimeout))
		return nil
	})

	go pingLoop(ctx, conn)

	sock := &socket{conn: conn, sessionID: sessionID}
	state := newConnectionState(sessionID, h.language)
	sock.send("connected", map[string]any{
		"persona":  session.PersonaID,
		"language": state.language,
		"avatar":   session.Avatar.Active(),
	})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("[websocket] read error", zap.String("session", sessionID), zap.Error(err))
			}
			return
		}

		h.handleMessage(ctx, sock, state, &msg)
		// 轮次执行期间读循环不处理 pong，结束后重新计时
		conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, sock *socket, state *connectionState, msg *inboundMessage) {
	switch msg.Type {
	case "audio":
		h.handleAudioMessage(ctx, sock, state, msg.Data)
	case "text":
		h.handleTextMessage(ctx, sock, state, msg.Data)
	case "config":
		var cfg ConfigMessage
		if err := json.Unmarshal(msg.Data, &cfg); err != nil {
			sock.sendError("invalid config payload")
			return
		}
		state.applyConfig(cfg)
		sock.send("config", map[string]any{
			"language":    state.language,
			"voice":       state.voice,
			"ttsProvider": state.ttsProvider,
			"asrProvider": state.asrProvider,
			"tts":         state.ttsEnabled,
			"avatar":      state.avatarEnabled,
		})
	default:
		sock.sendError("unsupported message type: " + msg.Type)
	}
}

func (h *WebSocketHandler) handleAudioMessage(ctx context.Context, sock *socket, state *connectionState, raw json.RawMessage) {
	var audio AudioMessage
	if err := json.Unmarshal(raw, &audio); err != nil {
		sock.sendError("invalid audio payload")
		return
	}

	if state.buffer.Len()+len(audio.AudioData) > maxAudioSize {
		state.buffer.Reset()
		sock.sendError("audio too large")
		return
	}
	state.buffer.Write(audio.AudioData)
	if audio.Format != "" {
		state.audioFormat = audio.Format
	}
	if !audio.IsFinal {
		return
	}

	audioBytes := bytes.Clone(state.buffer.Bytes())
	state.buffer.Reset()
	if len(audioBytes) == 0 {
		return
	}

	format := state.audioFormat
	if format == "" {
		format = "wav"
	}

	out, err := h.turns.VoiceReply(ctx, conversation.VoiceInput{
		TurnInput:   state.turnInput(""),
		Audio:       audioBytes,
		AudioFormat: format,
		ASRProvider: state.asrProvider,
	})
	if err != nil {
		sock.sendError("voice turn failed: " + err.Error())
		return
	}
	sendTurn(sock, out)
}

func (h *WebSocketHandler) handleTextMessage(ctx context.Context, sock *socket, state *connectionState, raw json.RawMessage) {
	var text TextMessage
	if err := json.Unmarshal(raw, &text); err != nil {
		sock.sendError("invalid text payload")
		return
	}
	if text.Text == "" {
		return
	}

	out, err := h.turns.Reply(ctx, state.turnInput(text.Text))
	if err != nil {
		sock.sendError("turn failed: " + err.Error())
		return
	}
	sendTurn(sock, out)
}

// sendTurn 按 transcript -> reply -> image -> audio -> avatar 的顺序拆分推送
func sendTurn(sock *socket, out *conversation.TurnOutput) {
	if out.Transcript != "" {
		sock.send("transcript", map[string]any{"text": out.Transcript, "understood": out.Understood})
	}
	for _, w := range out.Warnings {
		sock.send("warning", map[string]string{"message": w})
	}
	if out.Reply == nil {
		return
	}

	sock.send("reply", map[string]any{"id": out.Reply.ID, "text": out.Reply.Content})
	if len(out.Reply.Image) > 0 {
		sock.send("image", map[string]any{"image": out.Reply.Image, "format": out.Reply.ImageFormat, "provider": out.ImageBy})
	}
	if len(out.Reply.Audio) > 0 {
		sock.send("audio", map[string]any{"audioData": out.Reply.Audio, "format": out.Reply.AudioFormat, "provider": out.AudioBy})
	}
	if out.Avatar != nil {
		sock.send("avatar", out.Avatar)
	}
}

// pingLoop 定期发送ping消息
func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
