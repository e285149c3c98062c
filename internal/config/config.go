package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Log     LogConfig
	AI      AIConfig
	Speech  SpeechConfig
	Image   ImageConfig
	Avatar  AvatarConfig
	Persona PersonaConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	image, err := loadImageConfig()
	if err != nil {
		return nil, err
	}

	avatar, err := loadAvatarConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		Log: LogConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "console"),
		},
		AI:      ai,
		Speech:  speech,
		Image:   image,
		Avatar:  avatar,
		Persona: PersonaConfig{File: strings.TrimSpace(os.Getenv("PERSONA_FILE"))},
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	origins := splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"))

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// LogConfig 日志级别与输出格式（console/json）。
type LogConfig struct {
	Level  string
	Format string
}

// PersonaConfig points at an optional TOML persona catalogue.
type PersonaConfig struct {
	File string
}

// LLM backends.
const (
	LLMProviderArk   = "ark"
	LLMProviderAzure = "azure"
)

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider       string
	APIKey         string
	AccessKey      string
	SecretKey      string
	Model          string
	BaseURL        string
	Region         string
	Temperature    *float64
	TopP           *float64
	MaxTokens      *int
	StreamResponse bool
	HistoryLimit   int
	Azure          AzureConfig
}

// AzureConfig 描述 Azure OpenAI 部署。
type AzureConfig struct {
	Endpoint   string
	APIKey     string
	Deployment string
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	if c.Provider == LLMProviderAzure {
		return c.Azure.Endpoint != "" && c.Azure.APIKey != "" && c.Azure.Deployment != ""
	}
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

func loadAIConfig() (AIConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("LLM_PROVIDER", LLMProviderArk))
	if provider != LLMProviderArk && provider != LLMProviderAzure {
		return AIConfig{}, fmt.Errorf("invalid LLM_PROVIDER value %q: want ark or azure", provider)
	}

	temperature, err := parseOptionalFloatEnv("LLM_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("LLM_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("LLM_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	stream, err := parseBoolEnv("LLM_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	history := 10
	if override, err := parseOptionalIntEnv("LLM_HISTORY_LIMIT"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		history = max(*override, 1)
	}

	// GEMINI_API_KEY 兼容旧的 .env。
	apiKey := getEnvOrDefault("LLM_API_KEY", strings.TrimSpace(os.Getenv("GEMINI_API_KEY")))

	return AIConfig{
		Provider:       provider,
		APIKey:         apiKey,
		AccessKey:      strings.TrimSpace(os.Getenv("LLM_ACCESS_KEY")),
		SecretKey:      strings.TrimSpace(os.Getenv("LLM_SECRET_KEY")),
		Model:          getEnvOrDefault("LLM_MODEL", "gemini-2.0-flash"),
		BaseURL:        getEnvOrDefault("LLM_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai"),
		Region:         getEnvOrDefault("LLM_REGION", "us-central1"),
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		StreamResponse: stream,
		HistoryLimit:   history,
		Azure: AzureConfig{
			Endpoint:   strings.TrimSpace(os.Getenv("AZURE_OPENAI_ENDPOINT")),
			APIKey:     strings.TrimSpace(os.Getenv("AZURE_OPENAI_API_KEY")),
			Deployment: strings.TrimSpace(os.Getenv("AZURE_OPENAI_DEPLOYMENT")),
		},
	}, nil
}

// SpeechConfig 描述语音服务相关配置
type SpeechConfig struct {
	DefaultTTS        string
	DefaultASR        string
	Language          string
	ElevenLabsAPIKey  string
	ElevenLabsBaseURL string
	NemesysAPIKey     string
	NemesysBaseURL    string
	GoogleAPIKey      string
	GoogleTTSBaseURL  string
	GoogleASRBaseURL  string
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	PCMSampleRate     int
	Timeout           time.Duration
}

func loadSpeechConfig() (SpeechConfig, error) {
	timeout, err := parseDurationSecondsEnv("SPEECH_TIMEOUT", 30*time.Second)
	if err != nil {
		return SpeechConfig{}, err
	}

	sampleRate := 16000
	if override, err := parseOptionalIntEnv("SPEECH_PCM_SAMPLE_RATE"); err != nil {
		return SpeechConfig{}, err
	} else if override != nil && *override > 0 {
		sampleRate = *override
	}

	return SpeechConfig{
		DefaultTTS:        strings.ToLower(getEnvOrDefault("TTS_PROVIDER", "elevenlabs")),
		DefaultASR:        strings.ToLower(getEnvOrDefault("ASR_PROVIDER", "google")),
		Language:          getEnvOrDefault("SPEECH_LANGUAGE", "en-US"),
		ElevenLabsAPIKey:  strings.TrimSpace(os.Getenv("ELEVENLABS_API_KEY")),
		ElevenLabsBaseURL: strings.TrimSpace(os.Getenv("ELEVENLABS_BASE_URL")),
		NemesysAPIKey:     strings.TrimSpace(os.Getenv("NEMESYS_API_KEY")),
		NemesysBaseURL:    strings.TrimSpace(os.Getenv("NEMESYS_BASE_URL")),
		GoogleAPIKey:      strings.TrimSpace(os.Getenv("GOOGLE_CLOUD_API_KEY")),
		GoogleTTSBaseURL:  strings.TrimSpace(os.Getenv("GOOGLE_TTS_BASE_URL")),
		GoogleASRBaseURL:  strings.TrimSpace(os.Getenv("GOOGLE_ASR_BASE_URL")),
		OpenAIAPIKey:      strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:     strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		PCMSampleRate:     sampleRate,
		Timeout:           timeout,
	}, nil
}

// ImageConfig 描述图像生成服务的回退顺序与凭证。
type ImageConfig struct {
	Providers        []string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	StabilityAPIKey  string
	StabilityBaseURL string
	BedrockEnabled   bool
	BedrockRegion    string
	BedrockModel     string
	Timeout          time.Duration
}

func loadImageConfig() (ImageConfig, error) {
	timeout, err := parseDurationSecondsEnv("IMAGE_TIMEOUT", 60*time.Second)
	if err != nil {
		return ImageConfig{}, err
	}

	bedrock, err := parseBoolEnv("BEDROCK_ENABLED", false)
	if err != nil {
		return ImageConfig{}, err
	}

	return ImageConfig{
		Providers:        splitList(strings.ToLower(getEnvOrDefault("IMAGE_PROVIDERS", "dalle,stability,bedrock"))),
		OpenAIAPIKey:     strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:    strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		StabilityAPIKey:  strings.TrimSpace(os.Getenv("STABILITY_API_KEY")),
		StabilityBaseURL: strings.TrimSpace(os.Getenv("STABILITY_BASE_URL")),
		BedrockEnabled:   bedrock,
		BedrockRegion:    getEnvOrDefault("AWS_REGION", "us-east-1"),
		BedrockModel:     getEnvOrDefault("BEDROCK_IMAGE_MODEL", "amazon.titan-image-generator-v1"),
		Timeout:          timeout,
	}, nil
}

// AvatarConfig 描述 HeyGen 数字人流式会话配置。
type AvatarConfig struct {
	APIKey        string
	BaseURL       string
	AvatarID      string
	VoiceID       string
	VoiceRate     float64
	Quality       string
	VideoEncoding string
	Version       string
	TaskType      string
	TaskMode      string
	PollInterval  time.Duration
	MaxAttempts   int
	Timeout       time.Duration
}

// Enabled reports whether a HeyGen key is configured. Requests may still supply their own key.
func (c AvatarConfig) Enabled() bool {
	return c.APIKey != ""
}

func loadAvatarConfig() (AvatarConfig, error) {
	timeout, err := parseDurationSecondsEnv("HEYGEN_TIMEOUT", 30*time.Second)
	if err != nil {
		return AvatarConfig{}, err
	}

	interval, err := parseDurationSecondsEnv("HEYGEN_POLL_INTERVAL", time.Second)
	if err != nil {
		return AvatarConfig{}, err
	}

	attempts := 10
	if override, err := parseOptionalIntEnv("HEYGEN_POLL_MAX_ATTEMPTS"); err != nil {
		return AvatarConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return AvatarConfig{}, fmt.Errorf("invalid HEYGEN_POLL_MAX_ATTEMPTS value %d: must be positive", *override)
		}
		attempts = *override
	}

	rate := 1.0
	if override, err := parseOptionalFloatEnv("HEYGEN_VOICE_RATE"); err != nil {
		return AvatarConfig{}, err
	} else if override != nil {
		rate = *override
	}

	taskType := strings.ToLower(getEnvOrDefault("HEYGEN_TASK_TYPE", "repeat"))
	if taskType != "repeat" && taskType != "chat" {
		return AvatarConfig{}, fmt.Errorf("invalid HEYGEN_TASK_TYPE value %q: want repeat or chat", taskType)
	}

	return AvatarConfig{
		APIKey:        strings.TrimSpace(os.Getenv("HEYGEN_API_KEY")),
		BaseURL:       getEnvOrDefault("HEYGEN_BASE_URL", "https://api.heygen.com"),
		AvatarID:      getEnvOrDefault("HEYGEN_AVATAR_ID", "Elenora_IT_Sitting_public"),
		VoiceID:       getEnvOrDefault("HEYGEN_VOICE_ID", "1bd001e7e50f421d891986aad5158bc8"),
		VoiceRate:     rate,
		Quality:       getEnvOrDefault("HEYGEN_QUALITY", "medium"),
		VideoEncoding: getEnvOrDefault("HEYGEN_VIDEO_ENCODING", "VP8"),
		Version:       getEnvOrDefault("HEYGEN_VERSION", "v2"),
		TaskType:      taskType,
		TaskMode:      getEnvOrDefault("HEYGEN_TASK_MODE", "sync"),
		PollInterval:  interval,
		MaxAttempts:   attempts,
		Timeout:       timeout,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

// parseDurationSecondsEnv accepts either a Go duration ("1500ms") or a plain number of seconds.
func parseDurationSecondsEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
	}
	return d, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
