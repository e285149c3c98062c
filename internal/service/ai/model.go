package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/persona-lab/backend/internal/config"
)

// NewChatModel 按配置创建底层模型：默认 ark（OpenAI 兼容接口），可选 Azure OpenAI。
func NewChatModel(ctx context.Context, c config.AIConfig) (model.BaseChatModel, error) {
	if !c.Enabled() {
		if c.Provider == config.LLMProviderAzure {
			return nil, fmt.Errorf("Azure OpenAI 配置缺失，需要 AZURE_OPENAI_ENDPOINT、AZURE_OPENAI_API_KEY 与 AZURE_OPENAI_DEPLOYMENT")
		}
		return nil, fmt.Errorf("LLM 凭证或模型配置缺失，至少提供 LLM_API_KEY(GEMINI_API_KEY) + LLM_MODEL 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	if c.Provider == config.LLMProviderAzure {
		azureModel, err := NewAzureChatModel(c.Azure.Endpoint, c.Azure.APIKey, c.Azure.Deployment, model.Options{
			Temperature: temperature,
			TopP:        topP,
			MaxTokens:   maxTokens,
		})
		if err != nil {
			return nil, err
		}
		return azureModel, nil
	}

	arkModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	})
	if err != nil {
		return nil, fmt.Errorf("create ark chat model: %w", err)
	}
	return arkModel, nil
}
