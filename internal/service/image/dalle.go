package image

import (
	"context"
	"fmt"
	"strings"

	"github.com/zhouzirui/persona-lab/backend/internal/service/provider"
)

const openAIBaseURL = "https://api.openai.com"

// DalleGenerator calls the OpenAI images endpoint.
type DalleGenerator struct {
	endpoint Endpoint
}

// NewDalleGenerator 创建 DALL-E 生成器。
func NewDalleGenerator(endpoint Endpoint) *DalleGenerator {
	return &DalleGenerator{endpoint: endpoint}
}

func (g *DalleGenerator) Name() string { return ProviderDalle }

func (g *DalleGenerator) Configured() bool { return strings.TrimSpace(g.endpoint.APIKey) != "" }

type dalleRequest struct {
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format"`
}

type dalleResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// Verify lists models to check the key.
func (g *DalleGenerator) Verify(ctx context.Context, apiKey string) error {
	key, err := provider.RequireKey("OpenAI", "OPENAI_API_KEY", apiKey, g.endpoint.APIKey)
	if err != nil {
		return err
	}
	return provider.GetJSON(ctx, g.endpoint.httpClient(), "OpenAI API", g.endpoint.baseURL(openAIBaseURL)+"/v1/models",
		map[string]string{"Authorization": "Bearer " + key}, nil)
}

func (g *DalleGenerator) Generate(ctx context.Context, prompt, apiKey string) ([]byte, error) {
	key, err := provider.RequireKey("OpenAI", "OPENAI_API_KEY", apiKey, g.endpoint.APIKey)
	if err != nil {
		return nil, err
	}

	var out dalleResponse
	_, err = provider.PostJSON(ctx, g.endpoint.httpClient(), "DALL-E API", g.endpoint.baseURL(openAIBaseURL)+"/v1/images/generations",
		map[string]string{"Authorization": "Bearer " + key},
		dalleRequest{Prompt: prompt, N: 1, Size: "1024x1024", ResponseFormat: "b64_json"},
		&out,
	)
	if err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("DALL-E API: %w", provider.ErrEmptyPayload)
	}
	return provider.DecodeBase64("DALL-E image", out.Data[0].B64JSON)
}
