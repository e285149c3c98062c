package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/zhouzirui/persona-lab/backend/internal/config"
	avatarmodel "github.com/zhouzirui/persona-lab/backend/internal/model/avatar"
	speechmodel "github.com/zhouzirui/persona-lab/backend/internal/model/speech"
	"github.com/zhouzirui/persona-lab/backend/internal/service/avatar"
	"github.com/zhouzirui/persona-lab/backend/internal/service/image"
	"github.com/zhouzirui/persona-lab/backend/internal/service/speech"
	"github.com/zhouzirui/persona-lab/backend/pkg/logger"
)

var cfg *config.Config

var (
	providerName string
	apiKey       string
	text         string
	voice        string
	language     string
	audioPath    string
	audioFormat  string
	outputPath   string
	keyPairs     cli.StringSlice
	timeout      time.Duration
)

var timeoutFlag = &cli.DurationFlag{
	Name:        "timeout",
	Usage:       "Request timeout",
	Value:       60 * time.Second,
	Destination: &timeout,
}

var ttsCommand = &cli.Command{
	Name:  "tts",
	Usage: "Synthesize text with one speech provider and write the audio to disk",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "provider", Aliases: []string{"p"}, Usage: "elevenlabs, nemesys or google", Destination: &providerName},
		&cli.StringFlag{Name: "text", Aliases: []string{"t"}, Usage: "Text to speak", Destination: &text, Required: true},
		&cli.StringFlag{Name: "voice", Usage: "Provider voice id", Destination: &voice},
		&cli.StringFlag{Name: "lang", Usage: "Language code", Destination: &language},
		&cli.StringFlag{Name: "key", Usage: "API key, overrides the environment", Destination: &apiKey},
		&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file", Destination: &outputPath},
		timeoutFlag,
	},
	Action: func(c *cli.Context) error {
		ctx, cancel := context.WithTimeout(c.Context, timeout)
		defer cancel()

		svc := speech.NewServiceFromConfig(cfg.Speech)
		resp, err := svc.SynthesizeSpeech(ctx, &speechmodel.TTSRequest{
			SessionID: "manual-" + uuid.NewString(),
			Text:      text,
			Voice:     voice,
			Provider:  providerName,
			Language:  orDefault(language, cfg.Speech.Language),
			APIKey:    apiKey,
		})
		if err != nil {
			return fmt.Errorf("tts failed: %w", err)
		}

		out := orDefault(outputPath, fmt.Sprintf("tts-%s-%d.%s", resp.Provider, time.Now().Unix(), resp.Format))
		if err := os.WriteFile(out, resp.AudioData, 0o644); err != nil {
			return fmt.Errorf("write audio: %w", err)
		}
		logger.Info("tts ok", zap.String("provider", resp.Provider), zap.String("file", out), zap.Int("bytes", len(resp.AudioData)))
		return nil
	},
}

var asrCommand = &cli.Command{
	Name:  "asr",
	Usage: "Transcribe an audio file with one speech provider",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "provider", Aliases: []string{"p"}, Usage: "google or whisper", Destination: &providerName},
		&cli.StringFlag{Name: "audio", Aliases: []string{"i"}, Usage: "Audio file", Destination: &audioPath, Required: true},
		&cli.StringFlag{Name: "format", Usage: "Audio format, defaults to the file extension", Destination: &audioFormat},
		&cli.StringFlag{Name: "lang", Usage: "Language code", Destination: &language},
		&cli.StringFlag{Name: "key", Usage: "API key, overrides the environment", Destination: &apiKey},
		timeoutFlag,
	},
	Action: func(c *cli.Context) error {
		file, err := os.Open(audioPath)
		if err != nil {
			return fmt.Errorf("open audio: %w", err)
		}
		defer file.Close()

		format := audioFormat
		if format == "" {
			format = orDefault(strings.TrimPrefix(strings.ToLower(filepath.Ext(audioPath)), "."), "wav")
		}

		ctx, cancel := context.WithTimeout(c.Context, timeout)
		defer cancel()

		svc := speech.NewServiceFromConfig(cfg.Speech)
		resp, err := svc.TranscribeAudio(ctx, &speechmodel.ASRRequest{
			SessionID: "manual-" + uuid.NewString(),
			AudioData: file,
			Format:    format,
			Language:  orDefault(language, cfg.Speech.Language),
			Provider:  providerName,
			APIKey:    apiKey,
		})
		if resp == nil {
			return fmt.Errorf("asr failed: %w", err)
		}
		if err != nil {
			logger.Warn("asr degraded", zap.Error(err))
		}
		fmt.Fprintln(c.App.Writer, resp.Text)
		logger.Info("asr done", zap.String("provider", resp.Provider), zap.Bool("understood", resp.Understood))
		return nil
	},
}

var imageCommand = &cli.Command{
	Name:  "image",
	Usage: "Generate an image through the provider fallback chain",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "prompt", Aliases: []string{"t"}, Usage: "Image prompt", Destination: &text, Required: true},
		&cli.StringSliceFlag{Name: "key", Usage: "provider=key, repeatable", Destination: &keyPairs},
		&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file", Destination: &outputPath},
		timeoutFlag,
	},
	Action: func(c *cli.Context) error {
		keys, err := parseKeys(keyPairs.Value())
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(c.Context, timeout)
		defer cancel()

		svc := image.NewServiceFromConfig(ctx, cfg.Image)
		result, err := svc.Generate(ctx, text, keys)
		if err != nil {
			return fmt.Errorf("image failed: %w", err)
		}

		out := orDefault(outputPath, fmt.Sprintf("image-%s-%d.%s", result.Provider, time.Now().Unix(), result.Format))
		if err := os.WriteFile(out, result.Image, 0o644); err != nil {
			return fmt.Errorf("write image: %w", err)
		}
		logger.Info("image ok", zap.String("provider", result.Provider), zap.String("file", out),
			zap.String("preview", preview(result.Image)))
		return nil
	},
}

var avatarCommand = &cli.Command{
	Name:  "avatar",
	Usage: "Open a streaming avatar session, speak one task and close it",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "text", Aliases: []string{"t"}, Usage: "Text for the avatar", Destination: &text, Required: true},
		&cli.StringFlag{Name: "key", Usage: "HeyGen API key, overrides the environment", Destination: &apiKey},
		timeoutFlag,
	},
	Action: func(c *cli.Context) error {
		ctx, cancel := context.WithTimeout(c.Context, timeout)
		defer cancel()

		lifecycle, _ := avatar.NewFromConfig(cfg.Avatar)
		session, err := lifecycle.Open(ctx, apiKey, avatarmodel.SessionOptions{})
		if err != nil {
			return fmt.Errorf("open session: %w", err)
		}
		logger.Info("avatar session started", zap.String("session", session.ID), zap.String("url", session.URL))

		outcome, speakErr := lifecycle.Speak(ctx, apiKey, session, text)
		if closeErr := lifecycle.Close(context.Background(), apiKey, session); closeErr != nil {
			logger.Warn("avatar close failed", zap.Error(closeErr))
		}
		if speakErr != nil {
			return fmt.Errorf("speak: %w", speakErr)
		}

		logger.Info("avatar task finished", zap.String("task", outcome.TaskID), zap.String("state", string(outcome.State)),
			zap.Int("attempts", outcome.Attempts))
		if !outcome.Succeeded() {
			return cli.Exit(fmt.Sprintf("task ended %s", outcome.State), 2)
		}
		return nil
	},
}

var videoCommand = &cli.Command{
	Name:  "video",
	Usage: "Render an avatar video and wait for the result",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "text", Aliases: []string{"t"}, Usage: "Script", Destination: &text, Required: true},
		&cli.StringFlag{Name: "voice", Usage: "HeyGen voice id", Destination: &voice},
		&cli.StringFlag{Name: "key", Usage: "HeyGen API key, overrides the environment", Destination: &apiKey},
		&cli.DurationFlag{Name: "timeout", Value: 10 * time.Minute, Destination: &timeout},
	},
	Action: func(c *cli.Context) error {
		ctx, cancel := context.WithTimeout(c.Context, timeout)
		defer cancel()

		_, videos := avatar.NewFromConfig(cfg.Avatar)
		videoID, err := videos.Generate(ctx, apiKey, avatarmodel.VideoRequest{
			AvatarID: cfg.Avatar.AvatarID,
			VoiceID:  orDefault(voice, cfg.Avatar.VoiceID),
			Text:     text,
		})
		if err != nil {
			return fmt.Errorf("generate video: %w", err)
		}
		logger.Info("video queued", zap.String("video", videoID))

		video, outcome, err := videos.WaitVideo(ctx, apiKey, videoID)
		if err != nil {
			return fmt.Errorf("wait video: %w", err)
		}
		if video != nil && video.VideoURL != "" {
			fmt.Fprintln(c.App.Writer, video.VideoURL)
		}
		if !outcome.Succeeded() {
			return cli.Exit(fmt.Sprintf("video ended %s", outcome.State), 2)
		}
		return nil
	},
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "providertester",
		Usage: "Exercise the speech, image and avatar providers from the command line",
		Before: func(c *cli.Context) error {
			loaded, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg = loaded
			return nil
		},
		Commands: []*cli.Command{ttsCommand, asrCommand, imageCommand, avatarCommand, videoCommand},
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		logger.Warn("no .env file, using system environment", zap.Error(err))
	}
	defer logger.Sync()

	if err := newApp().Run(os.Args); err != nil {
		logger.Fatal("providertester failed", zap.Error(err))
	}
}

// parseKeys 解析 provider=key 形式的参数。
func parseKeys(pairs []string) (map[string]string, error) {
	keys := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, key, ok := strings.Cut(pair, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		if !ok || name == "" || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid --key %q, want provider=key", pair)
		}
		keys[name] = strings.TrimSpace(key)
	}
	return keys, nil
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func preview(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	if len(encoded) > 32 {
		return encoded[:32] + "..."
	}
	return encoded
}
