package conversation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/persona-lab/backend/internal/analysis/artrequest"
	avatarmodel "github.com/zhouzirui/persona-lab/backend/internal/model/avatar"
	"github.com/zhouzirui/persona-lab/backend/internal/model/chat"
	"github.com/zhouzirui/persona-lab/backend/internal/model/persona"
	speechmodel "github.com/zhouzirui/persona-lab/backend/internal/model/speech"
	"github.com/zhouzirui/persona-lab/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/persona-lab/backend/internal/service/chat"
	"github.com/zhouzirui/persona-lab/backend/internal/service/image"
	"github.com/zhouzirui/persona-lab/backend/pkg/logger"
)

var (
	ErrEmptyMessage    = errors.New("message is required")
	ErrPersonaNotFound = errors.New("persona not found")
)

// AvatarKey is the Keys entry holding a per-request HeyGen key.
const AvatarKey = "heygen"

// Replier produces the persona's text reply.
type Replier interface {
	GenerateResponse(ctx context.Context, sessionID string, p *persona.Persona, history []chat.Message, userMessage string) (*schema.Message, error)
}

// SpeechService covers the TTS and ASR calls a turn needs.
type SpeechService interface {
	SynthesizeSpeech(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error)
	TranscribeAudio(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error)
}

// ImageService renders artwork for a prompt.
type ImageService interface {
	Generate(ctx context.Context, prompt string, keys map[string]string) (*image.Result, error)
}

// AvatarSpeaker makes a started avatar session speak.
type AvatarSpeaker interface {
	Speak(ctx context.Context, apiKey string, session *avatarmodel.Session, text string) (avatarmodel.Outcome, error)
}

// Options 会话编排的可选依赖。nil 的依赖对应的步骤会被跳过。
type Options struct {
	Speech     SpeechService
	Images     ImageService
	Avatar     AvatarSpeaker
	DefaultTTS string
	DefaultASR string
	Language   string
}

// Service 编排一轮对话：LLM 回复、可选图像、TTS 音频、数字人播报与记录持久化。
type Service struct {
	replier  Replier
	chats    *chatservice.Service
	personas persona.Store
	opts     Options
}

// NewService wires the turn pipeline.
func NewService(replier Replier, chats *chatservice.Service, personas persona.Store, opts Options) *Service {
	return &Service{replier: replier, chats: chats, personas: personas, opts: opts}
}

// TurnInput 一轮文本对话的输入。
type TurnInput struct {
	SessionID   string            `json:"-"`
	Message     string            `json:"message"`
	TTSProvider string            `json:"ttsProvider,omitempty"`
	Voice       string            `json:"voice,omitempty"`
	Language    string            `json:"language,omitempty"`
	SkipAudio   bool              `json:"skipAudio,omitempty"`
	SkipAvatar  bool              `json:"skipAvatar,omitempty"`
	Keys        map[string]string `json:"apiKeys,omitempty"` // provider name -> API key override
}

// VoiceInput adds recorded audio to a turn.
type VoiceInput struct {
	TurnInput
	Audio       []byte
	AudioFormat string
	ASRProvider string
}

// TurnOutput 一轮对话的结果；各步骤的非致命失败记录在 Warnings 中。
type TurnOutput struct {
	SessionID  string               `json:"sessionId"`
	Transcript string               `json:"transcript,omitempty"`
	Understood bool                 `json:"understood"`
	User       *chat.Message        `json:"user,omitempty"`
	Reply      *chat.Message        `json:"reply,omitempty"`
	ImageBy    string               `json:"imageProvider,omitempty"`
	AudioBy    string               `json:"audioProvider,omitempty"`
	Avatar     *avatarmodel.Outcome `json:"avatar,omitempty"`
	Warnings   []string             `json:"warnings,omitempty"`
}

func (o *TurnOutput) warn(step string, err error) {
	o.Warnings = append(o.Warnings, fmt.Sprintf("%s: %v", step, err))
}

// Reply runs one text turn.
func (s *Service) Reply(ctx context.Context, in TurnInput) (*TurnOutput, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return nil, ErrEmptyMessage
	}

	session, err := s.chats.GetSession(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}

	p, ok := s.personas.FindByID(session.PersonaID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPersonaNotFound, session.PersonaID)
	}

	history, err := s.chats.LoadTranscript(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	userMsg, err := s.chats.SaveMessage(ctx, chat.Message{SessionID: session.ID, Role: chat.RoleUser, Content: message})
	if err != nil {
		return nil, err
	}

	out := &TurnOutput{SessionID: session.ID, Understood: true, User: &userMsg}
	reply := chat.Message{SessionID: session.ID, Role: chat.RoleAssistant}

	generated, err := s.replier.GenerateResponse(ctx, session.ID, &p, history, message)
	if err != nil {
		logger.Error("[conversation] llm failed", zap.String("session", session.ID), zap.Error(err))
		out.warn("llm", err)
		reply.Content = ai.ApologyReply
	} else {
		reply.Content = artrequest.CleanReply(generated.Content)
		if reply.Content == "" {
			reply.Content = strings.TrimSpace(generated.Content)
		}
		s.attachArtwork(ctx, &p, message, in, &reply, out)
	}

	spoken := strings.TrimSuffix(reply.Content, artrequest.FailureNote)
	s.attachAudio(ctx, &p, spoken, in, &reply, out)
	s.speakAvatar(ctx, session, spoken, in, out)

	saved, err := s.chats.SaveMessage(ctx, reply)
	if err != nil {
		return nil, err
	}
	out.Reply = &saved
	return out, nil
}

// VoiceReply transcribes the audio and, when understood, runs a text turn on the transcript.
// A recognition sentinel ends the turn early without touching the transcript.
func (s *Service) VoiceReply(ctx context.Context, in VoiceInput) (*TurnOutput, error) {
	if s.opts.Speech == nil {
		return nil, errors.New("speech service not configured")
	}
	if len(in.Audio) == 0 {
		return nil, errors.New("audio is required")
	}
	if _, err := s.chats.GetSession(ctx, in.SessionID); err != nil {
		return nil, err
	}

	providerName := providerOrDefault(in.ASRProvider, s.opts.DefaultASR)
	asr, err := s.opts.Speech.TranscribeAudio(ctx, &speechmodel.ASRRequest{
		SessionID: in.SessionID,
		AudioData: bytes.NewReader(in.Audio),
		Format:    in.AudioFormat,
		Language:  s.language(in.Language),
		Provider:  providerName,
		APIKey:    keyFor(in.Keys, providerName),
	})
	if asr == nil {
		if err == nil {
			err = errors.New("empty transcription result")
		}
		return nil, err
	}

	if !asr.Understood || speechmodel.IsSentinel(asr.Text) {
		out := &TurnOutput{SessionID: in.SessionID, Transcript: asr.Text, Understood: false}
		if err != nil {
			out.warn("asr", err)
		}
		return out, nil
	}

	turn := in.TurnInput
	turn.Message = asr.Text
	out, err := s.Reply(ctx, turn)
	if err != nil {
		return nil, err
	}
	out.Transcript = asr.Text
	return out, nil
}

func (s *Service) attachArtwork(ctx context.Context, p *persona.Persona, message string, in TurnInput, reply *chat.Message, out *TurnOutput) {
	if !p.ImageEnabled || s.opts.Images == nil {
		return
	}

	decision := artrequest.Analyze(message, p.ArtStyle)
	if !decision.Requested {
		return
	}

	result, err := s.opts.Images.Generate(ctx, decision.Prompt, in.Keys)
	if err != nil {
		logger.Warn("[conversation] artwork failed", zap.String("session", reply.SessionID), zap.Error(err))
		out.warn("image", err)
		reply.Content += artrequest.FailureNote
		return
	}

	reply.Image = result.Image
	reply.ImageFormat = result.Format
	out.ImageBy = result.Provider
}

func (s *Service) attachAudio(ctx context.Context, p *persona.Persona, text string, in TurnInput, reply *chat.Message, out *TurnOutput) {
	if in.SkipAudio || s.opts.Speech == nil || strings.TrimSpace(text) == "" {
		return
	}

	providerName := providerOrDefault(in.TTSProvider, s.opts.DefaultTTS)
	voice := strings.TrimSpace(in.Voice)
	if voice == "" {
		voice = p.VoiceFor(providerName)
	}

	resp, err := s.opts.Speech.SynthesizeSpeech(ctx, &speechmodel.TTSRequest{
		SessionID: reply.SessionID,
		Text:      text,
		Voice:     voice,
		Provider:  providerName,
		Language:  s.language(in.Language),
		APIKey:    keyFor(in.Keys, providerName),
	})
	if err != nil {
		out.warn("tts", err)
		return
	}

	reply.Audio = resp.AudioData
	reply.AudioFormat = resp.Format
	out.AudioBy = resp.Provider
}

func (s *Service) speakAvatar(ctx context.Context, session chat.Session, text string, in TurnInput, out *TurnOutput) {
	if in.SkipAvatar || s.opts.Avatar == nil || !session.Avatar.Active() {
		return
	}

	outcome, err := s.opts.Avatar.Speak(ctx, keyFor(in.Keys, AvatarKey), session.Avatar, text)
	if err != nil {
		out.warn("avatar", err)
	} else if !outcome.Succeeded() {
		out.warn("avatar", fmt.Errorf("task %s ended %s after %d polls", outcome.TaskID, outcome.State, outcome.Attempts))
	}
	if outcome.TaskID != "" {
		out.Avatar = &outcome
	}

	// 任务期间会话可能已被 stop，UpdateAvatar 会拒绝写回旧快照
	if err := s.chats.UpdateAvatar(ctx, session.ID, *session.Avatar); err != nil {
		out.warn("avatar", err)
	}
}

// providerOrDefault normalises a provider name so it matches the registry and the apiKeys map.
func providerOrDefault(name, fallback string) string {
	if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
		return name
	}
	return strings.ToLower(strings.TrimSpace(fallback))
}

// keyFor looks up a per-request key, ignoring case in the map's provider names.
func keyFor(keys map[string]string, providerName string) string {
	if key, ok := keys[providerName]; ok {
		return key
	}
	for name, key := range keys {
		if strings.EqualFold(strings.TrimSpace(name), providerName) {
			return key
		}
	}
	return ""
}

func (s *Service) language(lang string) string {
	if strings.TrimSpace(lang) != "" {
		return lang
	}
	return s.opts.Language
}
