package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/persona-lab/backend/internal/model/persona"
	speechmodel "github.com/zhouzirui/persona-lab/backend/internal/model/speech"
	chatservice "github.com/zhouzirui/persona-lab/backend/internal/service/chat"
	"github.com/zhouzirui/persona-lab/backend/internal/service/provider"
	speechsvc "github.com/zhouzirui/persona-lab/backend/internal/service/speech"
	"github.com/zhouzirui/persona-lab/backend/pkg/utils"
)

type fakeSpeechService struct {
	transcribeSession string
	transcribeKey     string
	transcribeFormat  string
	synthSession      string
	synthVoice        string
	synthKey          string
	asrResp           *speechmodel.ASRResponse
	asrErr            error
	ttsErr            error
	healthy           bool
}

func (f *fakeSpeechService) TranscribeAudio(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	f.transcribeSession = req.SessionID
	f.transcribeKey = req.APIKey
	f.transcribeFormat = req.Format
	if f.asrResp == nil && f.asrErr == nil {
		return &speechmodel.ASRResponse{SessionID: req.SessionID, Text: "ok", Understood: true}, nil
	}
	return f.asrResp, f.asrErr
}

func (f *fakeSpeechService) SynthesizeSpeech(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	f.synthSession = req.SessionID
	f.synthVoice = req.Voice
	f.synthKey = req.APIKey
	if f.ttsErr != nil {
		return nil, f.ttsErr
	}
	return &speechmodel.TTSResponse{SessionID: req.SessionID, AudioData: []byte("audio"), Format: "mp3", Provider: "elevenlabs"}, nil
}

func (f *fakeSpeechService) Providers() []speechsvc.ProviderInfo {
	return []speechsvc.ProviderInfo{
		{Name: "nemesys", Kind: "tts", Default: true, Configured: true},
		{Name: "google", Kind: "asr", Default: true, Configured: false},
	}
}

func (f *fakeSpeechService) Healthy() bool { return f.healthy }

func multipartAudio(t *testing.T, filename string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		t.Fatalf("CreateFormFile err: %v", err)
	}
	if _, err := part.Write([]byte("audio")); err != nil {
		t.Fatalf("write audio err: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("writer.Close err: %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestProcessTranscribeOverridesSession(t *testing.T) {
	fakeSvc := &fakeSpeechService{}
	handler := New(fakeSvc, nil, nil, "")

	body, contentType := multipartAudio(t, "sample.webm")
	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe/test", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(utils.ProviderKeyHeader, "user-key")

	rr := httptest.NewRecorder()
	handler.processTranscribe(rr, req, "session-override")

	if fakeSvc.transcribeSession != "session-override" {
		t.Fatalf("expected override session, got %s", fakeSvc.transcribeSession)
	}
	if fakeSvc.transcribeKey != "user-key" {
		t.Fatalf("expected header key, got %q", fakeSvc.transcribeKey)
	}
	if fakeSvc.transcribeFormat != "webm" {
		t.Fatalf("expected webm, got %s", fakeSvc.transcribeFormat)
	}
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
}

func TestTranscribeSentinelIsNotAnError(t *testing.T) {
	fakeSvc := &fakeSpeechService{
		asrResp: &speechmodel.ASRResponse{Text: speechmodel.ServiceUnavailable},
		asrErr:  errors.New("dial tcp: refused"),
	}
	handler := New(fakeSvc, nil, nil, "")

	body, contentType := multipartAudio(t, "sample.wav")
	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	handler.processTranscribe(rr, req, "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var payload struct {
		Result speechmodel.ASRResponse `json:"result"`
		Error  string                  `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Result.Text != speechmodel.ServiceUnavailable || payload.Error == "" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestTranscribeMissingCredential(t *testing.T) {
	fakeSvc := &fakeSpeechService{asrErr: &provider.CredentialError{Provider: "OpenAI", EnvKey: "OPENAI_API_KEY"}}
	handler := New(fakeSvc, nil, nil, "")

	body, contentType := multipartAudio(t, "sample.wav")
	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	handler.processTranscribe(rr, req, "")

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestProcessSynthesizeResolvesPersonaVoice(t *testing.T) {
	fakeSvc := &fakeSpeechService{}
	chatSvc := chatservice.NewService()
	personaStore := persona.NewMemoryStore(persona.Seed())
	session, err := chatSvc.CreateSession(context.Background(), "mona-lisa")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	handler := New(fakeSvc, chatSvc, personaStore, "")

	buf, _ := json.Marshal(map[string]any{"text": "hello"})
	req := httptest.NewRequest(http.MethodPost, "/speech/synthesize/test", bytes.NewReader(buf))
	req.Header.Set(utils.ProviderKeyHeader, "nk")
	rr := httptest.NewRecorder()

	handler.processSynthesize(rr, req, session.ID)

	if fakeSvc.synthSession != session.ID {
		t.Fatalf("expected override session, got %s", fakeSvc.synthSession)
	}
	// default tts provider is nemesys in the fake registry
	if fakeSvc.synthVoice != "mona_lisa" {
		t.Fatalf("expected voice mona_lisa, got %s", fakeSvc.synthVoice)
	}
	if fakeSvc.synthKey != "nk" {
		t.Fatalf("expected header key, got %q", fakeSvc.synthKey)
	}
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "audio/mp3" {
		t.Fatalf("unexpected content type %s", got)
	}
	if rr.Body.String() != "audio" {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}

func TestSynthesizeUpstreamErrorIs502(t *testing.T) {
	fakeSvc := &fakeSpeechService{ttsErr: &provider.APIError{Provider: "ElevenLabs", StatusCode: 401, Body: "invalid key"}}
	r := chi.NewRouter()
	New(fakeSvc, nil, nil, "").RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/speech/synthesize", bytes.NewReader([]byte(`{"text":"hi"}`)))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
}

func TestSynthesizeRequiresText(t *testing.T) {
	r := chi.NewRouter()
	New(&fakeSpeechService{}, nil, nil, "").RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/speech/synthesize", bytes.NewReader([]byte(`{"text":"  "}`)))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestProvidersAndHealth(t *testing.T) {
	r := chi.NewRouter()
	New(&fakeSpeechService{healthy: false}, nil, nil, "").RegisterRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/speech/providers", nil))
	var providers struct {
		Providers []speechsvc.ProviderInfo `json:"providers"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &providers); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(providers.Providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(providers.Providers))
	}

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/speech/health", nil))
	var health map[string]string
	_ = json.Unmarshal(rr.Body.Bytes(), &health)
	if health["status"] != "degraded" {
		t.Fatalf("expected degraded, got %s", health["status"])
	}
}
