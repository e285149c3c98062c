package speech

import (
	"context"
	"net/http"
	"strings"

	speechmodel "github.com/zhouzirui/persona-lab/backend/internal/model/speech"
	"github.com/zhouzirui/persona-lab/backend/internal/service/provider"
)

// Provider names used for registry lookup and per-persona voice mapping.
const (
	ProviderElevenLabs = "elevenlabs"
	ProviderNemesys    = "nemesys"
	ProviderGoogle     = "google"
	ProviderWhisper    = "whisper"
)

// Synthesizer turns text into audio bytes.
type Synthesizer interface {
	Name() string
	Configured() bool
	Synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error)
}

// Transcriber turns audio into a transcript or a recognition sentinel.
type Transcriber interface {
	Name() string
	Configured() bool
	Transcribe(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error)
}

// Endpoint 单个云服务商的连接参数。
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

func (e Endpoint) configured() bool {
	return strings.TrimSpace(e.APIKey) != ""
}
