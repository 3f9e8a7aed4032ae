package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the Durmah voice service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	AllowAnyOrigin   bool
	MetricsNamespace string

	SessionMaxAge     time.Duration
	SessionStartRate  float64
	SessionStartBurst int

	LogLevel  string
	LogFormat string

	OrgConfigPath string

	STTProvider  string
	LLMProvider  string
	TTSProvider  string
	STTFallbacks []string
	LLMFallbacks []string
	TTSFallbacks []string

	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAISTTModel  string
	OpenAIChatModel string

	MistralAPIKey  string
	MistralBaseURL string
	MistralModel   string

	DeepgramAPIKey string
	DeepgramWSURL  string

	ElevenLabsAPIKey         string
	ElevenLabsBaseURL        string
	ElevenLabsModelID        string
	ElevenLabsDefaultVoiceID string

	AzureTTSKey    string
	AzureTTSRegion string
	AzureTTSVoice  string

	ProviderHTTPTimeout time.Duration
	ProviderMaxRetries  int
	STTResultWait       time.Duration
	STTPushTimeout      time.Duration
	LLMTimeout          time.Duration
	TTSTimeout          time.Duration
	STTReleaseTimeout   time.Duration

	SpeakingMinDuration time.Duration
	SpeakingPerChar     time.Duration

	TranscriptStore string
	DatabaseURL     string
	RedisURL        string
	TranscriptTTL   time.Duration

	AudioClipTTL time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "durmah"),
		LogLevel:         strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(envOrDefault("LOG_FORMAT", "json")),
		OrgConfigPath:    stringsTrimSpace("ORG_CONFIG_PATH"),

		STTProvider:  envOrDefault("STT_PROVIDER", "openai-stt"),
		LLMProvider:  envOrDefault("LLM_PROVIDER", "openai"),
		TTSProvider:  envOrDefault("TTS_PROVIDER", "elevenlabs"),
		STTFallbacks: listFromEnv("STT_FALLBACKS"),
		LLMFallbacks: listFromEnv("LLM_FALLBACKS"),
		TTSFallbacks: listFromEnv("TTS_FALLBACKS"),

		OpenAIAPIKey:    stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:   stringsTrimSpace("OPENAI_BASE_URL"),
		OpenAISTTModel:  envOrDefault("OPENAI_STT_MODEL", "whisper-1"),
		OpenAIChatModel: envOrDefault("OPENAI_CHAT_MODEL", "gpt-4o"),

		MistralAPIKey:  stringsTrimSpace("MISTRAL_API_KEY"),
		MistralBaseURL: stringsTrimSpace("MISTRAL_BASE_URL"),
		MistralModel:   envOrDefault("MISTRAL_MODEL", "mistral-large-latest"),

		DeepgramAPIKey: stringsTrimSpace("DEEPGRAM_API_KEY"),
		DeepgramWSURL:  stringsTrimSpace("DEEPGRAM_WS_URL"),

		ElevenLabsAPIKey:  stringsTrimSpace("ELEVENLABS_API_KEY"),
		ElevenLabsBaseURL: stringsTrimSpace("ELEVENLABS_BASE_URL"),
		ElevenLabsModelID: envOrDefault("ELEVENLABS_MODEL_ID", "eleven_multilingual_v2"),
		// Premade voice that every account can use when an org's voice is missing.
		ElevenLabsDefaultVoiceID: envOrDefault("ELEVENLABS_DEFAULT_VOICE_ID", "cgSgspJ2msm6clMCkdW9"),

		AzureTTSKey:    stringsTrimSpace("AZURE_TTS_KEY"),
		AzureTTSRegion: envOrDefault("AZURE_TTS_REGION", "eastus"),
		AzureTTSVoice:  envOrDefault("AZURE_TTS_VOICE", "en-US-JennyNeural"),

		TranscriptStore: strings.ToLower(envOrDefault("TRANSCRIPT_STORE", "memory")),
		DatabaseURL:     stringsTrimSpace("DATABASE_URL"),
		RedisURL:        stringsTrimSpace("REDIS_URL"),
	}

	p := &envParser{}
	cfg.ShutdownTimeout = p.durationVar("APP_SHUTDOWN_TIMEOUT", 10*time.Second)
	cfg.AllowAnyOrigin = p.boolVar("APP_ALLOW_ANY_ORIGIN", true)
	cfg.SessionMaxAge = p.durationVar("SESSION_MAX_AGE", time.Hour)
	cfg.SessionStartRate = p.floatVar("SESSION_START_RATE", 5)
	cfg.SessionStartBurst = p.intVar("SESSION_START_BURST", 10)
	cfg.ProviderHTTPTimeout = p.durationVar("PROVIDER_HTTP_TIMEOUT", 30*time.Second)
	cfg.ProviderMaxRetries = p.intVar("PROVIDER_MAX_RETRIES", 2)
	cfg.STTResultWait = p.durationVar("STT_RESULT_WAIT", time.Second)
	cfg.STTPushTimeout = p.durationVar("STT_PUSH_TIMEOUT", 15*time.Second)
	cfg.LLMTimeout = p.durationVar("LLM_TIMEOUT", 60*time.Second)
	cfg.TTSTimeout = p.durationVar("TTS_TIMEOUT", 30*time.Second)
	cfg.STTReleaseTimeout = p.durationVar("STT_RELEASE_TIMEOUT", 2*time.Second)
	cfg.SpeakingMinDuration = p.durationVar("SPEAKING_MIN_DURATION", 2*time.Second)
	cfg.SpeakingPerChar = p.durationVar("SPEAKING_PER_CHAR", 50*time.Millisecond)
	cfg.TranscriptTTL = p.durationVar("TRANSCRIPT_TTL", 720*time.Hour)
	cfg.AudioClipTTL = p.durationVar("AUDIO_CLIP_TTL", 5*time.Minute)
	if p.err != nil {
		return Config{}, p.err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SessionMaxAge < time.Minute {
		return fmt.Errorf("SESSION_MAX_AGE must be at least 1m")
	}
	if c.SessionStartRate <= 0 {
		return fmt.Errorf("SESSION_START_RATE must be positive")
	}
	if c.SessionStartBurst < 1 {
		return fmt.Errorf("SESSION_START_BURST must be at least 1")
	}
	if c.ProviderMaxRetries < 0 {
		return fmt.Errorf("PROVIDER_MAX_RETRIES must be >= 0")
	}
	for key, d := range map[string]time.Duration{
		"PROVIDER_HTTP_TIMEOUT": c.ProviderHTTPTimeout,
		"STT_RESULT_WAIT":       c.STTResultWait,
		"STT_PUSH_TIMEOUT":      c.STTPushTimeout,
		"LLM_TIMEOUT":           c.LLMTimeout,
		"TTS_TIMEOUT":           c.TTSTimeout,
		"STT_RELEASE_TIMEOUT":   c.STTReleaseTimeout,
		"AUDIO_CLIP_TTL":        c.AudioClipTTL,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	if c.SpeakingMinDuration < 0 || c.SpeakingPerChar < 0 {
		return fmt.Errorf("SPEAKING_MIN_DURATION and SPEAKING_PER_CHAR must be >= 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", c.LogLevel)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT %q is not one of json, console", c.LogFormat)
	}

	switch c.TranscriptStore {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("TRANSCRIPT_STORE=postgres requires DATABASE_URL")
		}
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("TRANSCRIPT_STORE=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("TRANSCRIPT_STORE %q is not one of memory, postgres, redis", c.TranscriptStore)
	}
	return nil
}

// envParser keeps the first parse failure so Load can read every numeric
// setting before reporting.
type envParser struct {
	err error
}

func (p *envParser) durationVar(key string, fallback time.Duration) time.Duration {
	d, err := durationFromEnv(key, fallback)
	p.keep(err)
	return d
}

func (p *envParser) intVar(key string, fallback int) int {
	n, err := intFromEnv(key, fallback)
	p.keep(err)
	return n
}

func (p *envParser) floatVar(key string, fallback float64) float64 {
	f, err := floatFromEnv(key, fallback)
	p.keep(err)
	return f
}

func (p *envParser) boolVar(key string, fallback bool) bool {
	b, err := boolFromEnv(key, fallback)
	p.keep(err)
	return b
}

func (p *envParser) keep(err error) {
	if p.err == nil {
		p.err = err
	}
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// listFromEnv splits a comma-separated variable, dropping empty items.
func listFromEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
