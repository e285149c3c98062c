package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/persona-lab/backend/internal/config"
	"github.com/zhouzirui/persona-lab/backend/internal/handler"
	"github.com/zhouzirui/persona-lab/backend/internal/model/persona"
	"github.com/zhouzirui/persona-lab/backend/internal/service/ai"
	"github.com/zhouzirui/persona-lab/backend/internal/service/avatar"
	"github.com/zhouzirui/persona-lab/backend/internal/service/chat"
	"github.com/zhouzirui/persona-lab/backend/internal/service/conversation"
	"github.com/zhouzirui/persona-lab/backend/internal/service/image"
	"github.com/zhouzirui/persona-lab/backend/internal/service/speech"
	"github.com/zhouzirui/persona-lab/backend/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		logger.Warn("failed to load .env file, continuing with system environment variables only", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	logger.Configure(cfg.Log.Level, cfg.Log.Format)
	defer logger.Sync()

	// Initialize persona store and chat service
	personas := persona.Seed()
	if cfg.Persona.File != "" {
		personas, err = persona.LoadFile(cfg.Persona.File, personas)
		if err != nil {
			logger.Fatal("failed to load persona catalogue", zap.Error(err))
		}
	}
	personaStore := persona.NewMemoryStore(personas)
	chatService := chat.NewService()

	// Initialize AI service
	var aiService *ai.Service
	if cfg.AI.Enabled() {
		aiService, err = ai.NewService(ctx, cfg.AI)
		if err != nil {
			logger.Warn("failed to initialize AI service, continuing without chat replies", zap.Error(err))
			aiService = nil
		} else {
			logger.Info("AI service initialized", zap.String("provider", cfg.AI.Provider), zap.String("model", cfg.AI.Model))
		}
	} else {
		logger.Warn("LLM credentials not configured, skipping AI initialization")
	}

	// 语音、图像与数字人服务总是注册，缺少的密钥可以由请求携带
	speechService := speech.NewServiceFromConfig(cfg.Speech)
	imageService := image.NewServiceFromConfig(ctx, cfg.Image)
	lifecycle, videos := avatar.NewFromConfig(cfg.Avatar)
	logger.Info("providers registered",
		zap.Bool("speech_default_ready", speechService.Healthy()),
		zap.Strings("image_order", imageService.Order()),
		zap.Bool("avatar_key", cfg.Avatar.Enabled()))

	var turns *conversation.Service
	if aiService != nil {
		turns = conversation.NewService(aiService, chatService, personaStore, conversation.Options{
			Speech:     speechService,
			Images:     imageService,
			Avatar:     lifecycle,
			DefaultTTS: cfg.Speech.DefaultTTS,
			DefaultASR: cfg.Speech.DefaultASR,
			Language:   cfg.Speech.Language,
		})
	}

	router := handler.NewRouter(handler.Services{
		Personas:       personaStore,
		Chat:           chatService,
		AI:             aiService,
		Speech:         speechService,
		Images:         imageService,
		Avatar:         lifecycle,
		Videos:         videos,
		Turns:          turns,
		Language:       cfg.Speech.Language,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("Persona Lab backend listening", zap.String("addr", addr))
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
