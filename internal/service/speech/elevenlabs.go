package speech

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	speechmodel "github.com/zhouzirui/persona-lab/backend/internal/model/speech"
	"github.com/zhouzirui/persona-lab/backend/internal/service/provider"
)

const (
	elevenLabsBaseURL      = "https://api.elevenlabs.io"
	elevenLabsModel        = "eleven_multilingual_v2"
	elevenLabsDefaultVoice = "pNInz6obpgDQGcFmaJgB"
)

// ElevenLabsTTS calls the ElevenLabs text-to-speech endpoint, which answers with raw mp3 bytes.
type ElevenLabsTTS struct {
	endpoint Endpoint
}

// NewElevenLabsTTS 创建 ElevenLabs 合成器。
func NewElevenLabsTTS(endpoint Endpoint) *ElevenLabsTTS {
	return &ElevenLabsTTS{endpoint: endpoint}
}

func (t *ElevenLabsTTS) Name() string { return ProviderElevenLabs }

func (t *ElevenLabsTTS) Configured() bool { return t.endpoint.configured() }

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type elevenLabsRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id"`
	VoiceSettings elevenLabsVoiceSettings `json:"voice_settings"`
}

// Synthesize posts the text and returns the mp3 body as-is.
func (t *ElevenLabsTTS) Synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	key, err := provider.RequireKey("ElevenLabs", "ELEVENLABS_API_KEY", req.APIKey, t.endpoint.APIKey)
	if err != nil {
		return nil, err
	}

	voice := strings.TrimSpace(req.Voice)
	if voice == "" {
		voice = elevenLabsDefaultVoice
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s", t.endpoint.baseURL(elevenLabsBaseURL), url.PathEscape(voice))
	audio, err := provider.PostJSON(ctx, t.endpoint.httpClient(), "ElevenLabs API", endpoint, map[string]string{
		"Accept":     "audio/mpeg",
		"xi-api-key": key,
	}, elevenLabsRequest{
		Text:    req.Text,
		ModelID: elevenLabsModel,
		VoiceSettings: elevenLabsVoiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	}, nil)
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("ElevenLabs API: %w", provider.ErrEmptyPayload)
	}

	return &speechmodel.TTSResponse{
		SessionID: req.SessionID,
		AudioData: audio,
		Format:    "mp3",
		Provider:  ProviderElevenLabs,
		CreatedAt: time.Now(),
	}, nil
}
