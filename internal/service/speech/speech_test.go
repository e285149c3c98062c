package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	speechmodel "github.com/zhouzirui/persona-lab/backend/internal/model/speech"
	"github.com/zhouzirui/persona-lab/backend/internal/service/provider"
)

func countingServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func TestElevenLabsSynthesize(t *testing.T) {
	server, hits := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/text-to-speech/voice-1", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("xi-api-key"))
		assert.Equal(t, "audio/mpeg", r.Header.Get("Accept"))

		var body elevenLabsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body.Text)
		assert.Equal(t, "eleven_multilingual_v2", body.ModelID)
		assert.Equal(t, 0.5, body.VoiceSettings.Stability)
		assert.Equal(t, 0.75, body.VoiceSettings.SimilarityBoost)

		_, _ = w.Write([]byte("ID3-mp3"))
	})

	tts := NewElevenLabsTTS(Endpoint{APIKey: "key", BaseURL: server.URL})
	resp, err := tts.Synthesize(context.Background(), &speechmodel.TTSRequest{Text: "hello", Voice: "voice-1"})
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3-mp3"), resp.AudioData)
	assert.Equal(t, "mp3", resp.Format)
	assert.EqualValues(t, 1, atomic.LoadInt32(hits))
}

func TestNemesysSynthesizeDecodesBase64(t *testing.T) {
	server, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var body nemesysRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "mona_lisa", body.VoiceID)
		assert.Equal(t, 1.0, body.Speed)
		assert.Equal(t, 1.0, body.Pitch)

		_ = json.NewEncoder(w).Encode(nemesysResponse{Audio: provider.EncodeBase64([]byte{0xff, 0xfb, 0x90})})
	})

	tts := NewNemesysTTS(Endpoint{APIKey: "key", BaseURL: server.URL})
	resp, err := tts.Synthesize(context.Background(), &speechmodel.TTSRequest{Text: "ciao", Voice: "mona_lisa"})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xfb, 0x90}, resp.AudioData)
}

func TestGoogleTTSUsesKeyQuery(t *testing.T) {
	server, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/text:synthesize", r.URL.Path)
		assert.Equal(t, "override", r.URL.Query().Get("key"))

		var body googleTTSRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "en-US-Wavenet-F", body.Voice.Name)
		assert.Equal(t, "en-US", body.Voice.LanguageCode)
		assert.Equal(t, "MP3", body.AudioConfig.AudioEncoding)

		_ = json.NewEncoder(w).Encode(googleTTSResponse{AudioContent: provider.EncodeBase64([]byte("mp3"))})
	})

	tts := NewGoogleTTS(Endpoint{APIKey: "env-key", BaseURL: server.URL})
	resp, err := tts.Synthesize(context.Background(), &speechmodel.TTSRequest{Text: "hi", APIKey: "override"})
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3"), resp.AudioData)
}

func TestSynthesizersShortCircuitWithoutKey(t *testing.T) {
	server, hits := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	endpoint := Endpoint{BaseURL: server.URL}
	for _, syn := range []Synthesizer{NewElevenLabsTTS(endpoint), NewNemesysTTS(endpoint), NewGoogleTTS(endpoint)} {
		resp, err := syn.Synthesize(context.Background(), &speechmodel.TTSRequest{Text: "hi"})
		assert.Nil(t, resp, syn.Name())
		assert.ErrorIs(t, err, provider.ErrMissingCredential, syn.Name())
		assert.False(t, syn.Configured())
	}
	assert.EqualValues(t, 0, atomic.LoadInt32(hits))
}

func TestSynthesizerNon200ReturnsAPIError(t *testing.T) {
	server, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"invalid voice"}`, http.StatusUnprocessableEntity)
	})

	tts := NewElevenLabsTTS(Endpoint{APIKey: "key", BaseURL: server.URL})
	resp, err := tts.Synthesize(context.Background(), &speechmodel.TTSRequest{Text: "hi"})
	assert.Nil(t, resp)

	apiErr, ok := provider.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "invalid voice")
}

func TestGoogleASRTranscribe(t *testing.T) {
	server, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body googleASRRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		audio, err := provider.DecodeBase64("audio", body.Audio.Content)
		require.NoError(t, err)
		assert.Equal(t, []byte("RIFF"), audio)
		assert.Equal(t, "ko-KR", body.Config.LanguageCode)

		_, _ = w.Write([]byte(`{"results":[{"alternatives":[{"transcript":" what is gravity ","confidence":0.9}]}]}`))
	})

	asr := NewGoogleASR(Endpoint{APIKey: "key", BaseURL: server.URL})
	resp, err := asr.Transcribe(context.Background(), &speechmodel.ASRRequest{
		AudioData: bytes.NewReader([]byte("RIFF")),
		Format:    "wav",
		Language:  "ko-KR",
	})
	require.NoError(t, err)
	assert.True(t, resp.Understood)
	assert.Equal(t, "what is gravity", resp.Text)
}

func TestGoogleASRSampleRateForRawPCM(t *testing.T) {
	cases := []struct {
		format     string
		asr        *GoogleASR
		encoding   string
		sampleRate int
	}{
		{"pcm", NewGoogleASR(Endpoint{APIKey: "key"}), "LINEAR16", DefaultPCMSampleRate},
		{"linear16", NewGoogleASR(Endpoint{APIKey: "key"}).WithSampleRate(48000), "LINEAR16", 48000},
		{"ogg", NewGoogleASR(Endpoint{APIKey: "key"}), "OGG_OPUS", 0},
		{"wav", NewGoogleASR(Endpoint{APIKey: "key"}), "", 0},
	}
	for _, tc := range cases {
		t.Run(tc.format, func(t *testing.T) {
			var body googleASRRequest
			server, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				_, _ = w.Write([]byte(`{"results":[{"alternatives":[{"transcript":"hi"}]}]}`))
			})
			tc.asr.endpoint.BaseURL = server.URL

			_, err := tc.asr.Transcribe(context.Background(), &speechmodel.ASRRequest{
				AudioData: bytes.NewReader([]byte("x")),
				Format:    tc.format,
			})
			require.NoError(t, err)
			assert.Equal(t, tc.encoding, body.Config.Encoding)
			assert.Equal(t, tc.sampleRate, body.Config.SampleRateHertz)
		})
	}
}

func TestGoogleASRSentinels(t *testing.T) {
	t.Run("no results", func(t *testing.T) {
		server, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		})
		asr := NewGoogleASR(Endpoint{APIKey: "key", BaseURL: server.URL})
		resp, err := asr.Transcribe(context.Background(), &speechmodel.ASRRequest{AudioData: bytes.NewReader([]byte("x"))})
		require.NoError(t, err)
		assert.False(t, resp.Understood)
		assert.Equal(t, speechmodel.NotUnderstood, resp.Text)
	})

	t.Run("upstream error", func(t *testing.T) {
		server, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		asr := NewGoogleASR(Endpoint{APIKey: "key", BaseURL: server.URL})
		resp, err := asr.Transcribe(context.Background(), &speechmodel.ASRRequest{AudioData: bytes.NewReader([]byte("x"))})
		require.Error(t, err)
		assert.Equal(t, speechmodel.ServiceUnavailable, resp.Text)
		assert.True(t, speechmodel.IsSentinel(resp.Text))
	})
}

func TestWhisperTranscribe(t *testing.T) {
	server, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "en", r.FormValue("language"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "audio.webm", header.Filename)
		data, _ := io.ReadAll(file)
		assert.Equal(t, []byte("opus"), data)

		_, _ = w.Write([]byte(`{"text":"Tell me about light"}`))
	})

	asr := NewWhisperASR(Endpoint{APIKey: "key", BaseURL: server.URL})
	resp, err := asr.Transcribe(context.Background(), &speechmodel.ASRRequest{
		AudioData: bytes.NewReader([]byte("opus")),
		Format:    "webm",
		Language:  "en-US",
	})
	require.NoError(t, err)
	assert.Equal(t, "Tell me about light", resp.Text)
	assert.Equal(t, ProviderWhisper, resp.Provider)
}

func TestWhisperFailureSentinels(t *testing.T) {
	server, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad audio", http.StatusBadRequest)
	})

	asr := NewWhisperASR(Endpoint{APIKey: "key", BaseURL: server.URL})
	resp, err := asr.Transcribe(context.Background(), &speechmodel.ASRRequest{AudioData: bytes.NewReader([]byte("x"))})
	require.Error(t, err)
	assert.Equal(t, speechmodel.RecognitionFailed, resp.Text)

	resp, err = asr.Transcribe(context.Background(), &speechmodel.ASRRequest{AudioData: bytes.NewReader(nil)})
	require.Error(t, err)
	assert.Equal(t, speechmodel.ProcessingFailed, resp.Text)
}

func TestTranscribersShortCircuitWithoutKey(t *testing.T) {
	server, hits := countingServer(t, func(w http.ResponseWriter, r *http.Request) {})

	endpoint := Endpoint{BaseURL: server.URL}
	for _, tr := range []Transcriber{NewGoogleASR(endpoint), NewWhisperASR(endpoint)} {
		resp, err := tr.Transcribe(context.Background(), &speechmodel.ASRRequest{AudioData: bytes.NewReader([]byte("x"))})
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, provider.ErrMissingCredential)
	}
	assert.EqualValues(t, 0, atomic.LoadInt32(hits))
}

func TestServiceRegistry(t *testing.T) {
	svc := NewService("ElevenLabs", "whisper").
		RegisterSynthesizer(NewElevenLabsTTS(Endpoint{APIKey: "k"})).
		RegisterSynthesizer(NewNemesysTTS(Endpoint{})).
		RegisterTranscriber(NewWhisperASR(Endpoint{APIKey: "k"}))

	syn, err := svc.Synthesizer("")
	require.NoError(t, err)
	assert.Equal(t, ProviderElevenLabs, syn.Name())

	syn, err = svc.Synthesizer(" Nemesys ")
	require.NoError(t, err)
	assert.Equal(t, ProviderNemesys, syn.Name())

	_, err = svc.Synthesizer("polly")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = svc.Transcriber("google")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = svc.SynthesizeSpeech(context.Background(), &speechmodel.TTSRequest{Text: "  "})
	assert.ErrorIs(t, err, ErrEmptyText)

	assert.True(t, svc.Healthy())

	providers := svc.Providers()
	require.Len(t, providers, 3)
	assert.Equal(t, ProviderInfo{Name: "elevenlabs", Kind: "tts", Default: true, Configured: true}, providers[0])
	assert.Equal(t, ProviderInfo{Name: "nemesys", Kind: "tts", Default: false, Configured: false}, providers[1])
	assert.Equal(t, "asr", providers[2].Kind)
}
