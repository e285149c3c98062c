package image

import (
	"context"
	"fmt"
	"strings"

	"github.com/zhouzirui/persona-lab/backend/internal/service/provider"
)

const (
	stabilityBaseURL = "https://api.stability.ai"
	stabilityEngine  = "stable-diffusion-xl-1024-v1-0"
)

// StabilityGenerator calls the Stability AI SDXL text-to-image endpoint.
type StabilityGenerator struct {
	endpoint Endpoint
}

// NewStabilityGenerator 创建 Stability 生成器。
func NewStabilityGenerator(endpoint Endpoint) *StabilityGenerator {
	return &StabilityGenerator{endpoint: endpoint}
}

func (g *StabilityGenerator) Name() string { return ProviderStability }

func (g *StabilityGenerator) Configured() bool { return strings.TrimSpace(g.endpoint.APIKey) != "" }

type stabilityPrompt struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

type stabilityRequest struct {
	TextPrompts []stabilityPrompt `json:"text_prompts"`
	CfgScale    int               `json:"cfg_scale"`
	Height      int               `json:"height"`
	Width       int               `json:"width"`
	Samples     int               `json:"samples"`
	Steps       int               `json:"steps"`
}

type stabilityResponse struct {
	Artifacts []struct {
		Base64       string `json:"base64"`
		FinishReason string `json:"finishReason"`
	} `json:"artifacts"`
}

// Verify lists engines to check the key.
func (g *StabilityGenerator) Verify(ctx context.Context, apiKey string) error {
	key, err := provider.RequireKey("Stability AI", "STABILITY_API_KEY", apiKey, g.endpoint.APIKey)
	if err != nil {
		return err
	}
	return provider.GetJSON(ctx, g.endpoint.httpClient(), "Stability API", g.endpoint.baseURL(stabilityBaseURL)+"/v1/engines/list",
		map[string]string{"Authorization": "Bearer " + key}, nil)
}

func (g *StabilityGenerator) Generate(ctx context.Context, prompt, apiKey string) ([]byte, error) {
	key, err := provider.RequireKey("Stability AI", "STABILITY_API_KEY", apiKey, g.endpoint.APIKey)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1/generation/%s/text-to-image", g.endpoint.baseURL(stabilityBaseURL), stabilityEngine)

	var out stabilityResponse
	_, err = provider.PostJSON(ctx, g.endpoint.httpClient(), "Stability API", url,
		map[string]string{
			"Authorization": "Bearer " + key,
			"Accept":        "application/json",
		},
		stabilityRequest{
			TextPrompts: []stabilityPrompt{{Text: prompt, Weight: 1.0}},
			CfgScale:    7,
			Height:      1024,
			Width:       1024,
			Samples:     1,
			Steps:       30,
		},
		&out,
	)
	if err != nil {
		return nil, err
	}
	if len(out.Artifacts) == 0 {
		return nil, fmt.Errorf("Stability API: %w", provider.ErrEmptyPayload)
	}
	return provider.DecodeBase64("Stability image", out.Artifacts[0].Base64)
}
