package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/korjavin/voicenary/observability"
)

// Tutor providers
const (
	ProviderGemini   = "gemini"
	ProviderDeepseek = "deepseek"
)

// Config holds all the configuration for the application
type Config struct {
	Port           string
	LogMode        string
	DatabasePath   string
	CoursesFile    string
	AllowedOrigins []string

	// BotToken enables the Telegram host when set
	BotToken string

	TutorProvider  string
	GeminiAPIKey   string
	GeminiModel    string
	DeepseekAPIKey string
	TutorTimeout   time.Duration

	ElevenLabsAPIKey string
	VoiceID          string
	RedisAddr        string
	TTSCacheTTL      time.Duration

	SpeechEnabled bool

	Otel observability.Config
}

// Load loads the configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "5000"),
		LogMode:          getEnv("LOG_MODE", "development"),
		DatabasePath:     getEnv("DB_PATH", "./data/voicenary.db"),
		CoursesFile:      getEnv("COURSES_FILE", ""),
		AllowedOrigins:   splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000,http://localhost:5174")),
		BotToken:         getEnv("BOT_TOKEN", ""),
		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		GeminiModel:      getEnv("GEMINI_MODEL", ""),
		DeepseekAPIKey:   getEnv("DEEPSEEK_API_KEY", ""),
		ElevenLabsAPIKey: getEnv("ELEVENLABS_API_KEY", ""),
		VoiceID:          getEnv("VOICE_ID", ""),
		RedisAddr:        getEnv("REDIS_ADDR", ""),
	}

	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return nil, fmt.Errorf("PORT must be a number: %q", cfg.Port)
	}

	provider := strings.ToLower(getEnv("TUTOR_PROVIDER", ""))
	switch provider {
	case "":
		provider = ProviderGemini
		if cfg.GeminiAPIKey == "" && cfg.DeepseekAPIKey != "" {
			provider = ProviderDeepseek
		}
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, errors.New("GEMINI_API_KEY environment variable is required for TUTOR_PROVIDER=gemini")
		}
	case ProviderDeepseek:
		if cfg.DeepseekAPIKey == "" {
			return nil, errors.New("DEEPSEEK_API_KEY environment variable is required for TUTOR_PROVIDER=deepseek")
		}
	default:
		return nil, fmt.Errorf("unknown TUTOR_PROVIDER %q", provider)
	}
	cfg.TutorProvider = provider

	timeoutSec, err := getInt("TUTOR_TIMEOUT_SECONDS", 15)
	if err != nil {
		return nil, err
	}
	if timeoutSec <= 0 {
		return nil, errors.New("TUTOR_TIMEOUT_SECONDS must be positive")
	}
	cfg.TutorTimeout = time.Duration(timeoutSec) * time.Second

	ttlHours, err := getInt("TTS_CACHE_TTL_HOURS", 168)
	if err != nil {
		return nil, err
	}
	cfg.TTSCacheTTL = time.Duration(ttlHours) * time.Hour

	if cfg.SpeechEnabled, err = getBool("SPEECH_ENABLED", false); err != nil {
		return nil, err
	}

	otelEnabled, err := getBool("OTEL_ENABLED", false)
	if err != nil {
		return nil, err
	}
	otelInsecure, err := getBool("OTEL_EXPORTER_OTLP_INSECURE", false)
	if err != nil {
		return nil, err
	}
	ratio, err := strconv.ParseFloat(getEnv("OTEL_SAMPLER_RATIO", "1"), 64)
	if err != nil {
		return nil, fmt.Errorf("OTEL_SAMPLER_RATIO must be a number: %w", err)
	}
	cfg.Otel = observability.Config{
		Enabled:     otelEnabled,
		ServiceName: getEnv("OTEL_SERVICE_NAME", "voicenary"),
		Environment: cfg.LogMode,
		Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		Headers:     observability.ParseHeaders(getEnv("OTEL_EXPORTER_OTLP_HEADERS", "")),
		Insecure:    otelInsecure,
		SampleRatio: ratio,
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %q", key, raw)
	}
	return n, nil
}

func getBool(key string, def bool) (bool, error) {
	switch strings.ToLower(getEnv(key, "")) {
	case "":
		return def, nil
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s must be a boolean: %q", key, os.Getenv(key))
	}
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
