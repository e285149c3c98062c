package image

import (
	"context"

	"go.uber.org/zap"

	"github.com/zhouzirui/persona-lab/backend/internal/config"
	"github.com/zhouzirui/persona-lab/backend/internal/service/provider"
	"github.com/zhouzirui/persona-lab/backend/pkg/logger"
)

// NewServiceFromConfig builds the fallback chain. Bedrock joins only when enabled and the
// AWS default credential chain loads.
func NewServiceFromConfig(ctx context.Context, cfg config.ImageConfig) *Service {
	client := provider.NewHTTPClient(cfg.Timeout)
	generators := []Generator{
		NewDalleGenerator(Endpoint{APIKey: cfg.OpenAIAPIKey, BaseURL: cfg.OpenAIBaseURL, Client: client}),
		NewStabilityGenerator(Endpoint{APIKey: cfg.StabilityAPIKey, BaseURL: cfg.StabilityBaseURL, Client: client}),
	}

	if cfg.BedrockEnabled {
		bedrock, err := NewBedrockGeneratorFromEnv(ctx, cfg.BedrockRegion, cfg.BedrockModel)
		if err != nil {
			logger.Warn("[image] bedrock disabled", zap.Error(err))
		} else {
			generators = append(generators, bedrock)
		}
	}

	return NewService(cfg.Providers, generators...)
}
