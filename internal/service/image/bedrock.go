package image

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/zhouzirui/persona-lab/backend/internal/service/provider"
)

// DefaultBedrockModel is the Titan text-to-image model.
const DefaultBedrockModel = "amazon.titan-image-generator-v1"

// ModelInvoker is the subset of the Bedrock runtime client the generator needs.
type ModelInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockGenerator renders images with a Titan model through AWS Bedrock.
// Credentials come from the default AWS chain, so the apiKey argument is ignored.
type BedrockGenerator struct {
	invoker ModelInvoker
	modelID string
}

// NewBedrockGenerator wraps an existing invoker.
func NewBedrockGenerator(invoker ModelInvoker, modelID string) *BedrockGenerator {
	if strings.TrimSpace(modelID) == "" {
		modelID = DefaultBedrockModel
	}
	return &BedrockGenerator{invoker: invoker, modelID: modelID}
}

// NewBedrockGeneratorFromEnv loads the default AWS configuration for region.
func NewBedrockGeneratorFromEnv(ctx context.Context, region, modelID string) (*BedrockGenerator, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if strings.TrimSpace(region) != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewBedrockGenerator(bedrockruntime.NewFromConfig(cfg), modelID), nil
}

func (g *BedrockGenerator) Name() string { return ProviderBedrock }

func (g *BedrockGenerator) Configured() bool { return g.invoker != nil }

type titanRequest struct {
	TaskType          string `json:"taskType"`
	TextToImageParams struct {
		Text string `json:"text"`
	} `json:"textToImageParams"`
	ImageGenerationConfig struct {
		NumberOfImages int     `json:"numberOfImages"`
		Height         int     `json:"height"`
		Width          int     `json:"width"`
		CfgScale       float64 `json:"cfgScale"`
	} `json:"imageGenerationConfig"`
}

type titanResponse struct {
	Images []string `json:"images"`
	Error  string   `json:"error"`
}

func (g *BedrockGenerator) Generate(ctx context.Context, prompt, _ string) ([]byte, error) {
	if g.invoker == nil {
		return nil, &provider.CredentialError{Provider: "AWS Bedrock", EnvKey: "AWS_REGION"}
	}

	var payload titanRequest
	payload.TaskType = "TEXT_IMAGE"
	payload.TextToImageParams.Text = prompt
	payload.ImageGenerationConfig.NumberOfImages = 1
	payload.ImageGenerationConfig.Height = 1024
	payload.ImageGenerationConfig.Width = 1024
	payload.ImageGenerationConfig.CfgScale = 8.0

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("bedrock: marshal request: %w", err)
	}

	out, err := g.invoker.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(g.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock: invoke %s: %w", g.modelID, err)
	}

	var resp titanResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("bedrock: decode response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("bedrock: %s", resp.Error)
	}
	if len(resp.Images) == 0 {
		return nil, fmt.Errorf("bedrock: %w", provider.ErrEmptyPayload)
	}
	return provider.DecodeBase64("Bedrock image", resp.Images[0])
}
