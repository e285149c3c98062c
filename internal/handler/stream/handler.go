package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/persona-lab/backend/internal/analysis/artrequest"
	"github.com/zhouzirui/persona-lab/backend/internal/model/chat"
	"github.com/zhouzirui/persona-lab/backend/internal/model/persona"
	aiService "github.com/zhouzirui/persona-lab/backend/internal/service/ai"
	chatService "github.com/zhouzirui/persona-lab/backend/internal/service/chat"
	"github.com/zhouzirui/persona-lab/backend/pkg/logger"
	"github.com/zhouzirui/persona-lab/backend/pkg/utils"
)

// LLM is the subset of the ai service the stream handler needs.
type LLM interface {
	StreamingEnabled() bool
	GenerateResponse(ctx context.Context, sessionID string, p *persona.Persona, history []chat.Message, userMessage string) (*schema.Message, error)
	StreamResponse(ctx context.Context, p *persona.Persona, history []chat.Message, userMessage string) (*schema.StreamReader[*schema.Message], error)
}

// Handler manages streaming AI responses via Server-Sent Events
type Handler struct {
	llm      LLM
	chatSvc  *chatService.Service
	personas persona.Store
}

// New creates a new stream handler
func New(llm LLM, chatSvc *chatService.Service, personas persona.Store) *Handler {
	return &Handler{
		llm:      llm,
		chatSvc:  chatSvc,
		personas: personas,
	}
}

// RegisterRoutes mounts GET /stream/{sessionID}?message=.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")
		userMessage := r.URL.Query().Get("message")

		if h.llm == nil {
			utils.RespondError(w, http.StatusServiceUnavailable, "ai streaming unavailable")
			return
		}
		if userMessage == "" {
			utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
			return
		}

		if err := h.HandleStreamRequest(r.Context(), w, sessionID, userMessage); err != nil {
			logger.Warn("[stream] request failed", zap.String("session", sessionID), zap.Error(err))
		}
	})
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	Event     string `json:"event"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HandleStreamRequest processes streaming AI responses for a chat session.
// A model failure is reported as an error event followed by the apology reply.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, sessionID string, userMessage string) error {
	sse, err := utils.NewSSEWriter(w)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return err
	}

	// Resolve session and persona context
	session, p, err := h.getSessionPersona(ctx, sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return err
	}

	sse.Open()

	// Load conversation history
	messages, err := h.chatSvc.LoadTranscript(ctx, session.ID)
	if err != nil {
		h.sendSSEError(sse, fmt.Sprintf("failed to load conversation: %v", err))
		return err
	}

	// The client may already have persisted the message via REST.
	history := messages
	if hasMatchingUserMessage(messages, sessionID, userMessage) {
		history = messages[:len(messages)-1]
	} else if _, err := h.chatSvc.SaveMessage(ctx, chat.Message{
		SessionID: sessionID,
		Role:      chat.RoleUser,
		Content:   userMessage,
	}); err != nil {
		logger.Warn("[stream] failed to save user message", zap.Error(err))
	}

	h.sendSSE(sse, StreamResponse{
		Event:     "start",
		SessionID: sessionID,
		Content:   p.Name,
	})

	content := aiService.ApologyReply
	response, err := h.dispatchAIResponse(ctx, sse, sessionID, p, history, userMessage)
	if err != nil {
		logger.Error("[stream] ai generation failed", zap.String("session", sessionID), zap.Error(err))
		h.sendSSEError(sse, fmt.Sprintf("AI generation failed: %v", err))
	} else if cleaned := artrequest.CleanReply(response.Content); cleaned != "" {
		content = cleaned
	}

	h.sendSSE(sse, StreamResponse{
		Event:     "message",
		SessionID: sessionID,
		Content:   content,
	})

	if _, err := h.chatSvc.SaveMessage(ctx, chat.Message{
		SessionID: sessionID,
		Role:      chat.RoleAssistant,
		Content:   content,
	}); err != nil {
		logger.Warn("[stream] failed to save assistant message", zap.Error(err))
	}

	// Send completion signal
	h.sendSSE(sse, StreamResponse{
		Event:     "end",
		SessionID: sessionID,
		Finished:  true,
	})

	logger.Info("[stream] completed response", zap.String("session", sessionID), zap.String("persona", p.ID))
	return nil
}

func (h *Handler) dispatchAIResponse(ctx context.Context, sse *utils.SSEWriter, sessionID string, p *persona.Persona, messages []chat.Message, userMessage string) (*schema.Message, error) {
	if h.llm.StreamingEnabled() {
		return h.streamAIResponse(ctx, sse, sessionID, p, messages, userMessage)
	}
	return h.llm.GenerateResponse(ctx, sessionID, p, messages, userMessage)
}

// getSessionPersona retrieves session and associated persona information
func (h *Handler) getSessionPersona(ctx context.Context, sessionID string) (*chat.Session, *persona.Persona, error) {
	session, err := h.chatSvc.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("session not found: %w", err)
	}

	p, ok := h.personas.FindByID(session.PersonaID)
	if !ok {
		return nil, nil, fmt.Errorf("persona %s not found", session.PersonaID)
	}

	return &session, &p, nil
}

func hasMatchingUserMessage(messages []chat.Message, sessionID, content string) bool {
	if len(messages) == 0 {
		return false
	}

	last := messages[len(messages)-1]
	return last.SessionID == sessionID && last.Role == chat.RoleUser && last.Content == content
}

// sendSSE 写出一条事件；客户端断开时只记日志。
func (h *Handler) sendSSE(sse *utils.SSEWriter, response StreamResponse) {
	if err := sse.Send(response); err != nil {
		logger.Warn("[stream] failed to write event", zap.String("event", response.Event), zap.Error(err))
	}
}

// sendSSEError sends an error via Server-Sent Events
func (h *Handler) sendSSEError(sse *utils.SSEWriter, errorMsg string) {
	h.sendSSE(sse, StreamResponse{
		Event: "error",
		Error: errorMsg,
	})
}

func (h *Handler) streamAIResponse(ctx context.Context, sse *utils.SSEWriter, sessionID string, p *persona.Persona, messages []chat.Message, userMessage string) (*schema.Message, error) {
	stream, err := h.llm.StreamResponse(ctx, p, messages, userMessage)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)

	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return nil, recvErr
		}
		if chunk == nil {
			continue
		}

		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			h.sendSSE(sse, StreamResponse{
				Event:     "delta",
				SessionID: sessionID,
				Content:   chunk.Content,
			})
		}
	}

	if len(chunks) == 0 {
		return nil, errors.New("empty model stream")
	}
	return schema.ConcatMessages(chunks)
}
