package speech

import (
	"context"
	"strings"
	"time"

	speechmodel "github.com/zhouzirui/persona-lab/backend/internal/model/speech"
	"github.com/zhouzirui/persona-lab/backend/internal/service/provider"
)

const (
	nemesysBaseURL      = "https://api.nemesys.io"
	nemesysDefaultVoice = "einstein"
)

// NemesysTTS calls the Nemesys Labs TTS API; audio comes back base64 encoded in JSON.
type NemesysTTS struct {
	endpoint Endpoint
}

// NewNemesysTTS 创建 Nemesys 合成器。
func NewNemesysTTS(endpoint Endpoint) *NemesysTTS {
	return &NemesysTTS{endpoint: endpoint}
}

func (t *NemesysTTS) Name() string { return ProviderNemesys }

func (t *NemesysTTS) Configured() bool { return t.endpoint.configured() }

type nemesysRequest struct {
	Text    string  `json:"text"`
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed"`
	Pitch   float64 `json:"pitch"`
}

type nemesysResponse struct {
	Audio string `json:"audio"`
}

func (t *NemesysTTS) Synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	key, err := provider.RequireKey("Nemesys Labs", "NEMESYS_API_KEY", req.APIKey, t.endpoint.APIKey)
	if err != nil {
		return nil, err
	}

	voice := strings.TrimSpace(req.Voice)
	if voice == "" {
		voice = nemesysDefaultVoice
	}

	var out nemesysResponse
	_, err = provider.PostJSON(ctx, t.endpoint.httpClient(), "Nemesys Labs TTS", t.endpoint.baseURL(nemesysBaseURL)+"/v1/tts",
		map[string]string{"Authorization": "Bearer " + key},
		nemesysRequest{Text: req.Text, VoiceID: voice, Speed: 1.0, Pitch: 1.0},
		&out,
	)
	if err != nil {
		return nil, err
	}

	audio, err := provider.DecodeBase64("Nemesys Labs TTS audio", out.Audio)
	if err != nil {
		return nil, err
	}

	return &speechmodel.TTSResponse{
		SessionID: req.SessionID,
		AudioData: audio,
		Format:    "mp3",
		Provider:  ProviderNemesys,
		CreatedAt: time.Now(),
	}, nil
}
