package image

import (
	"context"
	"net/http"
	"strings"

	"github.com/zhouzirui/persona-lab/backend/internal/service/provider"
)

// Provider names, also used as keys for per-request API key overrides.
const (
	ProviderDalle     = "dalle"
	ProviderStability = "stability"
	ProviderBedrock   = "bedrock"
)

// Generator produces one image for a prompt.
type Generator interface {
	Name() string
	Configured() bool
	Generate(ctx context.Context, prompt, apiKey string) ([]byte, error)
}

// Verifier is implemented by generators that can validate a key before spending a generation call.
type Verifier interface {
	Verify(ctx context.Context, apiKey string) error
}

// Endpoint 图像服务商的连接参数。
type Endpoint struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

func (e Endpoint) httpClient() *http.Client {
	if e.Client != nil {
		return e.Client
	}
	return provider.NewHTTPClient(0)
}

func (e Endpoint) baseURL(fallback string) string {
	if u := strings.TrimRight(strings.TrimSpace(e.BaseURL), "/"); u != "" {
		return u
	}
	return fallback
}
