package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	speechmodel "github.com/zhouzirui/persona-lab/backend/internal/model/speech"
	"github.com/zhouzirui/persona-lab/backend/pkg/logger"
)

var (
	// ErrUnknownProvider 请求的语音服务商未注册。
	ErrUnknownProvider = errors.New("unknown speech provider")
	// ErrEmptyText 合成文本为空。
	ErrEmptyText = errors.New("TTS text is empty")
)

// Service 语音服务注册表，按名称选择 TTS / ASR 实现。
type Service struct {
	synthesizers map[string]Synthesizer
	transcribers map[string]Transcriber
	defaultTTS   string
	defaultASR   string
}

// NewService creates an empty registry with the given default provider names.
func NewService(defaultTTS, defaultASR string) *Service {
	return &Service{
		synthesizers: make(map[string]Synthesizer),
		transcribers: make(map[string]Transcriber),
		defaultTTS:   normalizeName(defaultTTS),
		defaultASR:   normalizeName(defaultASR),
	}
}

// RegisterSynthesizer adds or replaces a TTS provider.
func (s *Service) RegisterSynthesizer(syn Synthesizer) *Service {
	s.synthesizers[normalizeName(syn.Name())] = syn
	return s
}

// RegisterTranscriber adds or replaces an ASR provider.
func (s *Service) RegisterTranscriber(tr Transcriber) *Service {
	s.transcribers[normalizeName(tr.Name())] = tr
	return s
}

// Synthesizer resolves a TTS provider, falling back to the default when name is blank.
func (s *Service) Synthesizer(name string) (Synthesizer, error) {
	key := normalizeName(name)
	if key == "" {
		key = s.defaultTTS
	}
	syn, ok := s.synthesizers[key]
	if !ok {
		return nil, fmt.Errorf("%w: tts %q", ErrUnknownProvider, key)
	}
	return syn, nil
}

// Transcriber resolves an ASR provider, falling back to the default when name is blank.
func (s *Service) Transcriber(name string) (Transcriber, error) {
	key := normalizeName(name)
	if key == "" {
		key = s.defaultASR
	}
	tr, ok := s.transcribers[key]
	if !ok {
		return nil, fmt.Errorf("%w: asr %q", ErrUnknownProvider, key)
	}
	return tr, nil
}

// SynthesizeSpeech 文字转语音
func (s *Service) SynthesizeSpeech(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}

	syn, err := s.Synthesizer(req.Provider)
	if err != nil {
		return nil, err
	}

	resp, err := syn.Synthesize(ctx, req)
	if err != nil {
		logger.Warn("[speech] synthesis failed",
			zap.String("provider", syn.Name()),
			zap.String("session", req.SessionID),
			zap.Error(err))
		return nil, err
	}
	return resp, nil
}

// TranscribeAudio 语音转文字。识别失败时可能同时返回哨兵文本与错误。
func (s *Service) TranscribeAudio(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	tr, err := s.Transcriber(req.Provider)
	if err != nil {
		return nil, err
	}

	resp, err := tr.Transcribe(ctx, req)
	if err != nil {
		logger.Warn("[speech] transcription failed",
			zap.String("provider", tr.Name()),
			zap.String("session", req.SessionID),
			zap.Error(err))
	}
	return resp, err
}

// TranscribeBuffer 语音转文字（使用字节数组）
func (s *Service) TranscribeBuffer(ctx context.Context, req *speechmodel.ASRRequest, audioData []byte) (*speechmodel.ASRResponse, error) {
	clone := *req
	clone.AudioData = bytes.NewReader(audioData)
	return s.TranscribeAudio(ctx, &clone)
}

// ProviderInfo describes one registered provider for the providers endpoint.
type ProviderInfo struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Default    bool   `json:"default"`
	Configured bool   `json:"configured"`
}

// Providers lists registered providers sorted by kind then name.
func (s *Service) Providers() []ProviderInfo {
	out := make([]ProviderInfo, 0, len(s.synthesizers)+len(s.transcribers))
	for name, syn := range s.synthesizers {
		out = append(out, ProviderInfo{Name: name, Kind: "tts", Default: name == s.defaultTTS, Configured: syn.Configured()})
	}
	for name, tr := range s.transcribers {
		out = append(out, ProviderInfo{Name: name, Kind: "asr", Default: name == s.defaultASR, Configured: tr.Configured()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind > out[j].Kind
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Healthy reports whether the default TTS and ASR providers are registered and have credentials.
func (s *Service) Healthy() bool {
	syn, err := s.Synthesizer("")
	if err != nil || !syn.Configured() {
		return false
	}
	tr, err := s.Transcriber("")
	if err != nil || !tr.Configured() {
		return false
	}
	return true
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
