package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	speechmodel "github.com/zhouzirui/persona-lab/backend/internal/model/speech"
	"github.com/zhouzirui/persona-lab/backend/internal/service/provider"
)

const (
	openAIBaseURL = "https://api.openai.com"
	whisperModel  = "whisper-1"
)

// WhisperASR uploads audio to the OpenAI transcription endpoint.
type WhisperASR struct {
	endpoint Endpoint
}

// NewWhisperASR 创建 Whisper 识别器。
func NewWhisperASR(endpoint Endpoint) *WhisperASR {
	return &WhisperASR{endpoint: endpoint}
}

func (a *WhisperASR) Name() string { return ProviderWhisper }

func (a *WhisperASR) Configured() bool { return a.endpoint.configured() }

type whisperResponse struct {
	Text string `json:"text"`
}

// Transcribe returns RecognitionFailed when the upstream rejects the upload and
// ProcessingFailed for local or transport failures, each with the underlying error.
func (a *WhisperASR) Transcribe(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	key, err := provider.RequireKey("OpenAI", "OPENAI_API_KEY", req.APIKey, a.endpoint.APIKey)
	if err != nil {
		return nil, err
	}

	audio, err := readAudio(req)
	if err != nil {
		return sentinelResponse(req, ProviderWhisper, speechmodel.ProcessingFailed), err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "audio."+audioExtension(req.Format))
	if err == nil {
		_, err = part.Write(audio)
	}
	if err == nil {
		err = writer.WriteField("model", whisperModel)
	}
	if err == nil && strings.TrimSpace(req.Language) != "" {
		// Whisper expects ISO-639-1, e.g. "en" rather than "en-US".
		err = writer.WriteField("language", strings.SplitN(strings.TrimSpace(req.Language), "-", 2)[0])
	}
	if err == nil {
		err = writer.Close()
	}
	if err != nil {
		return sentinelResponse(req, ProviderWhisper, speechmodel.ProcessingFailed), fmt.Errorf("whisper: build upload: %w", err)
	}

	raw, err := provider.Do(ctx, a.endpoint.httpClient(), provider.Request{
		Provider: "Whisper API",
		Method:   http.MethodPost,
		URL:      a.endpoint.baseURL(openAIBaseURL) + "/v1/audio/transcriptions",
		Headers: map[string]string{
			"Authorization": "Bearer " + key,
			"Content-Type":  writer.FormDataContentType(),
		},
		Body: body,
	})
	if err != nil {
		if _, ok := provider.AsAPIError(err); ok {
			return sentinelResponse(req, ProviderWhisper, speechmodel.RecognitionFailed), err
		}
		return sentinelResponse(req, ProviderWhisper, speechmodel.ProcessingFailed), err
	}

	var out whisperResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return sentinelResponse(req, ProviderWhisper, speechmodel.ProcessingFailed), fmt.Errorf("whisper: decode response: %w", err)
	}

	text := strings.TrimSpace(out.Text)
	if text == "" {
		return sentinelResponse(req, ProviderWhisper, speechmodel.NotUnderstood), nil
	}

	return &speechmodel.ASRResponse{
		SessionID:  req.SessionID,
		Text:       text,
		Understood: true,
		Provider:   ProviderWhisper,
		CreatedAt:  time.Now(),
	}, nil
}

func audioExtension(format string) string {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "mp3", "wav", "webm", "m4a", "ogg", "flac", "mp4", "mpeg", "mpga":
		return f
	default:
		return "wav"
	}
}
