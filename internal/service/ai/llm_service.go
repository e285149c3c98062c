package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/persona-lab/backend/internal/config"
	"github.com/zhouzirui/persona-lab/backend/internal/model/chat"
	"github.com/zhouzirui/persona-lab/backend/internal/model/persona"
	"github.com/zhouzirui/persona-lab/backend/pkg/logger"
)

// ApologyReply is shown in place of a reply when the model call fails.
const ApologyReply = "Forgive me, but I cannot answer at this moment. Perhaps we should contemplate another question?"

// ErrEmptyReply is returned when the model answers with no text.
var ErrEmptyReply = errors.New("model returned an empty reply")

// defaultHistoryLimit counts transcript entries, not user/assistant pairs.
const defaultHistoryLimit = 10

// Service encapsulates AI-powered chat functionality
type Service struct {
	cfg     config.AIConfig
	prompts *PersonaPromptManager
	chain   compose.Runnable[map[string]any, *schema.Message]
}

// NewService creates a new AI service instance
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, cfg)
}

// NewServiceWithModel builds the prompt chain around an existing model.
func NewServiceWithModel(ctx context.Context, chatModel model.BaseChatModel, cfg config.AIConfig) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		cfg:     cfg,
		prompts: NewPersonaPromptManager(),
		chain:   runnable,
	}, nil
}

// StreamingEnabled 指示是否开启 SSE 流式输出。
func (s *Service) StreamingEnabled() bool {
	return s.cfg.StreamResponse
}

// GenerateResponse generates a persona reply. history must not yet contain userMessage.
func (s *Service) GenerateResponse(ctx context.Context, sessionID string, p *persona.Persona, history []chat.Message, userMessage string) (*schema.Message, error) {
	response, err := s.chain.Invoke(ctx, s.buildChainInput(p, history, userMessage))
	if err != nil {
		return nil, fmt.Errorf("failed to run AI chain: %w", err)
	}
	if response == nil || strings.TrimSpace(response.Content) == "" {
		return nil, ErrEmptyReply
	}

	logger.Info("[ai] generated response",
		zap.String("session", sessionID),
		zap.String("persona", p.ID),
		zap.Int("length", len(response.Content)))
	return response, nil
}

// StreamResponse streams AI response chunks via the configured chain.
func (s *Service) StreamResponse(ctx context.Context, p *persona.Persona, history []chat.Message, userMessage string) (*schema.StreamReader[*schema.Message], error) {
	if !s.StreamingEnabled() {
		return nil, fmt.Errorf("streaming disabled in configuration")
	}

	stream, err := s.chain.Stream(ctx, s.buildChainInput(p, history, userMessage))
	if err != nil {
		return nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}
	return stream, nil
}

func (s *Service) buildChainInput(p *persona.Persona, history []chat.Message, userMessage string) map[string]any {
	return map[string]any{
		"system":  s.prompts.BuildSystemPrompt(p),
		"history": s.buildHistoryMessages(p, history),
		"query":   userMessage,
	}
}

// buildHistoryMessages 先放角色确认语，再放最近的若干轮对话。
func (s *Service) buildHistoryMessages(p *persona.Persona, messages []chat.Message) []*schema.Message {
	limit := s.cfg.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	startIdx := 0
	if len(messages) > limit {
		startIdx = len(messages) - limit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx+1)
	if p.Acknowledgement != "" {
		history = append(history, schema.AssistantMessage(p.Acknowledgement, nil))
	}

	for _, msg := range messages[startIdx:] {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}

	return history
}
