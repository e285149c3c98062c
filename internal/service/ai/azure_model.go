package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ChatCompleter is the part of the Azure OpenAI client used by AzureChatModel.
type ChatCompleter interface {
	GetChatCompletions(ctx context.Context, body azopenai.ChatCompletionsOptions, options *azopenai.GetChatCompletionsOptions) (azopenai.GetChatCompletionsResponse, error)
}

// AzureChatModel adapts an Azure OpenAI deployment to eino's BaseChatModel so it can sit in the same chain as ark.
type AzureChatModel struct {
	client     ChatCompleter
	deployment string
	defaults   model.Options
}

var _ model.BaseChatModel = (*AzureChatModel)(nil)

// NewAzureChatModel connects to endpoint with an API key.
func NewAzureChatModel(endpoint, apiKey, deployment string, defaults model.Options) (*AzureChatModel, error) {
	client, err := azopenai.NewClientWithKeyCredential(endpoint, azcore.NewKeyCredential(apiKey), nil)
	if err != nil {
		return nil, fmt.Errorf("create azure openai client: %w", err)
	}
	return NewAzureChatModelWithClient(client, deployment, defaults), nil
}

// NewAzureChatModelWithClient wraps an existing client.
func NewAzureChatModelWithClient(client ChatCompleter, deployment string, defaults model.Options) *AzureChatModel {
	return &AzureChatModel{client: client, deployment: deployment, defaults: defaults}
}

// Generate sends the conversation and returns the first choice.
func (m *AzureChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	options := model.GetCommonOptions(&model.Options{
		Temperature: m.defaults.Temperature,
		MaxTokens:   m.defaults.MaxTokens,
		TopP:        m.defaults.TopP,
	}, opts...)

	body := azopenai.ChatCompletionsOptions{
		Messages:       toAzureMessages(input),
		DeploymentName: to.Ptr(m.deployment),
		Temperature:    options.Temperature,
		TopP:           options.TopP,
	}
	if options.MaxTokens != nil {
		body.MaxTokens = to.Ptr(int32(*options.MaxTokens))
	}

	resp, err := m.client.GetChatCompletions(ctx, body, nil)
	if err != nil {
		return nil, fmt.Errorf("azure chat completions: %w", err)
	}

	for _, choice := range resp.Choices {
		if choice.Message != nil && choice.Message.Content != nil {
			return schema.AssistantMessage(*choice.Message.Content, nil), nil
		}
	}
	return nil, errors.New("azure chat completions: empty response")
}

// Stream emits the full completion as a single chunk.
func (m *AzureChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func toAzureMessages(input []*schema.Message) []azopenai.ChatRequestMessageClassification {
	out := make([]azopenai.ChatRequestMessageClassification, 0, len(input))
	for _, msg := range input {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			out = append(out, &azopenai.ChatRequestSystemMessage{Content: to.Ptr(msg.Content)})
		case schema.Assistant:
			out = append(out, &azopenai.ChatRequestAssistantMessage{Content: to.Ptr(msg.Content)})
		default:
			out = append(out, &azopenai.ChatRequestUserMessage{Content: azopenai.NewChatRequestUserMessageContent(msg.Content)})
		}
	}
	return out
}
