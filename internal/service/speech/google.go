package speech

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	speechmodel "github.com/zhouzirui/persona-lab/backend/internal/model/speech"
	"github.com/zhouzirui/persona-lab/backend/internal/service/provider"
)

const (
	googleTTSBaseURL      = "https://texttospeech.googleapis.com"
	googleASRBaseURL      = "https://speech.googleapis.com"
	googleDefaultVoice    = "en-US-Wavenet-F"
	googleDefaultLanguage = "en-US"
	// DefaultPCMSampleRate 裸 PCM 没有文件头，需要显式告知采样率
	DefaultPCMSampleRate = 16000
)

// GoogleTTS calls Cloud Text-to-Speech with an API key query parameter.
type GoogleTTS struct {
	endpoint Endpoint
}

// NewGoogleTTS 创建 Google Cloud TTS 合成器。
func NewGoogleTTS(endpoint Endpoint) *GoogleTTS {
	return &GoogleTTS{endpoint: endpoint}
}

func (t *GoogleTTS) Name() string { return ProviderGoogle }

func (t *GoogleTTS) Configured() bool { return t.endpoint.configured() }

type googleTTSRequest struct {
	Input struct {
		Text string `json:"text"`
	} `json:"input"`
	Voice struct {
		LanguageCode string `json:"languageCode"`
		Name         string `json:"name"`
	} `json:"voice"`
	AudioConfig struct {
		AudioEncoding string `json:"audioEncoding"`
	} `json:"audioConfig"`
}

type googleTTSResponse struct {
	AudioContent string `json:"audioContent"`
}

func (t *GoogleTTS) Synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	key, err := provider.RequireKey("Google Cloud", "GOOGLE_CLOUD_API_KEY", req.APIKey, t.endpoint.APIKey)
	if err != nil {
		return nil, err
	}

	var payload googleTTSRequest
	payload.Input.Text = req.Text
	payload.Voice.LanguageCode = languageOrDefault(req.Language)
	payload.Voice.Name = strings.TrimSpace(req.Voice)
	if payload.Voice.Name == "" {
		payload.Voice.Name = googleDefaultVoice
	}
	payload.AudioConfig.AudioEncoding = "MP3"

	endpoint := t.endpoint.baseURL(googleTTSBaseURL) + "/v1/text:synthesize?key=" + url.QueryEscape(key)

	var out googleTTSResponse
	if _, err := provider.PostJSON(ctx, t.endpoint.httpClient(), "Google TTS API", endpoint, nil, payload, &out); err != nil {
		return nil, err
	}

	audio, err := provider.DecodeBase64("Google TTS audio", out.AudioContent)
	if err != nil {
		return nil, err
	}

	return &speechmodel.TTSResponse{
		SessionID: req.SessionID,
		AudioData: audio,
		Format:    "mp3",
		Provider:  ProviderGoogle,
		CreatedAt: time.Now(),
	}, nil
}

// GoogleASR calls Cloud Speech-to-Text synchronous recognition.
type GoogleASR struct {
	endpoint   Endpoint
	sampleRate int
}

// NewGoogleASR 创建 Google 语音识别器。
func NewGoogleASR(endpoint Endpoint) *GoogleASR {
	return &GoogleASR{endpoint: endpoint, sampleRate: DefaultPCMSampleRate}
}

// WithSampleRate sets the rate sent with LINEAR16 audio. Non-positive values keep the default.
func (a *GoogleASR) WithSampleRate(hz int) *GoogleASR {
	if hz > 0 {
		a.sampleRate = hz
	}
	return a
}

func (a *GoogleASR) Name() string { return ProviderGoogle }

func (a *GoogleASR) Configured() bool { return a.endpoint.configured() }

type googleASRRequest struct {
	Config struct {
		Encoding        string `json:"encoding,omitempty"`
		SampleRateHertz int    `json:"sampleRateHertz,omitempty"`
		LanguageCode    string `json:"languageCode"`
	} `json:"config"`
	Audio struct {
		Content string `json:"content"`
	} `json:"audio"`
}

type googleASRResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"results"`
}

// Transcribe returns NotUnderstood with a nil error when the audio held no recognisable speech.
// Upstream and transport failures yield the ServiceUnavailable sentinel together with the error.
func (a *GoogleASR) Transcribe(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	key, err := provider.RequireKey("Google Cloud", "GOOGLE_CLOUD_API_KEY", req.APIKey, a.endpoint.APIKey)
	if err != nil {
		return nil, err
	}

	audio, err := readAudio(req)
	if err != nil {
		return sentinelResponse(req, ProviderGoogle, speechmodel.ProcessingFailed), err
	}

	var payload googleASRRequest
	payload.Config.LanguageCode = languageOrDefault(req.Language)
	payload.Config.Encoding = googleEncoding(req.Format)
	if payload.Config.Encoding == "LINEAR16" {
		payload.Config.SampleRateHertz = a.sampleRate
	}
	payload.Audio.Content = provider.EncodeBase64(audio)

	endpoint := a.endpoint.baseURL(googleASRBaseURL) + "/v1/speech:recognize?key=" + url.QueryEscape(key)

	var out googleASRResponse
	if _, err := provider.PostJSON(ctx, a.endpoint.httpClient(), "Google Speech Recognition", endpoint, nil, payload, &out); err != nil {
		return sentinelResponse(req, ProviderGoogle, speechmodel.ServiceUnavailable), err
	}

	for _, result := range out.Results {
		for _, alt := range result.Alternatives {
			if text := strings.TrimSpace(alt.Transcript); text != "" {
				return &speechmodel.ASRResponse{
					SessionID:  req.SessionID,
					Text:       text,
					Understood: true,
					Provider:   ProviderGoogle,
					CreatedAt:  time.Now(),
				}, nil
			}
		}
	}

	return sentinelResponse(req, ProviderGoogle, speechmodel.NotUnderstood), nil
}

// googleEncoding leaves the encoding unset for containers Google detects from the header.
func googleEncoding(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "pcm", "raw", "linear16":
		return "LINEAR16"
	case "webm":
		return "WEBM_OPUS"
	case "ogg":
		return "OGG_OPUS"
	case "mp3":
		return "MP3"
	case "flac":
		return "FLAC"
	default:
		return ""
	}
}

func languageOrDefault(lang string) string {
	if lang = strings.TrimSpace(lang); lang != "" {
		return lang
	}
	return googleDefaultLanguage
}

func readAudio(req *speechmodel.ASRRequest) ([]byte, error) {
	if req.AudioData == nil {
		return nil, fmt.Errorf("audio data is required")
	}
	data, err := io.ReadAll(req.AudioData)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("audio data is empty")
	}
	return data, nil
}

func sentinelResponse(req *speechmodel.ASRRequest, providerName, sentinel string) *speechmodel.ASRResponse {
	return &speechmodel.ASRResponse{
		SessionID:  req.SessionID,
		Text:       sentinel,
		Understood: false,
		Provider:   providerName,
		CreatedAt:  time.Now(),
	}
}
