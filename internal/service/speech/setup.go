package speech

import (
	"github.com/zhouzirui/persona-lab/backend/internal/config"
	"github.com/zhouzirui/persona-lab/backend/internal/service/provider"
)

// NewServiceFromConfig registers every supported provider. Providers without a key stay
// registered so that requests can still supply one.
func NewServiceFromConfig(cfg config.SpeechConfig) *Service {
	client := provider.NewHTTPClient(cfg.Timeout)
	google := Endpoint{APIKey: cfg.GoogleAPIKey, Client: client}
	googleASR := google
	google.BaseURL = cfg.GoogleTTSBaseURL
	googleASR.BaseURL = cfg.GoogleASRBaseURL

	return NewService(cfg.DefaultTTS, cfg.DefaultASR).
		RegisterSynthesizer(NewElevenLabsTTS(Endpoint{APIKey: cfg.ElevenLabsAPIKey, BaseURL: cfg.ElevenLabsBaseURL, Client: client})).
		RegisterSynthesizer(NewNemesysTTS(Endpoint{APIKey: cfg.NemesysAPIKey, BaseURL: cfg.NemesysBaseURL, Client: client})).
		RegisterSynthesizer(NewGoogleTTS(google)).
		RegisterTranscriber(NewGoogleASR(googleASR).WithSampleRate(cfg.PCMSampleRate)).
		RegisterTranscriber(NewWhisperASR(Endpoint{APIKey: cfg.OpenAIAPIKey, BaseURL: cfg.OpenAIBaseURL, Client: client}))
}
