package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.BindAddr)
	assert.Equal(t, "durmah", cfg.MetricsNamespace)
	assert.True(t, cfg.AllowAnyOrigin)
	assert.Equal(t, time.Hour, cfg.SessionMaxAge)
	assert.Equal(t, "openai-stt", cfg.STTProvider)
	assert.Equal(t, "openai", cfg.LLMProvider)
	assert.Equal(t, "elevenlabs", cfg.TTSProvider)
	assert.Equal(t, "cgSgspJ2msm6clMCkdW9", cfg.ElevenLabsDefaultVoiceID)
	assert.Equal(t, 2*time.Second, cfg.SpeakingMinDuration)
	assert.Equal(t, 50*time.Millisecond, cfg.SpeakingPerChar)
	assert.Equal(t, "memory", cfg.TranscriptStore)
	assert.Equal(t, 2, cfg.ProviderMaxRetries)
	assert.Empty(t, cfg.STTFallbacks)
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "off")
	t.Setenv("LLM_PROVIDER", "mistral")
	t.Setenv("LLM_FALLBACKS", " openai, ,mock-llm ")
	t.Setenv("SESSION_START_RATE", "0.5")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("TRANSCRIPT_STORE", "redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.BindAddr)
	assert.False(t, cfg.AllowAnyOrigin)
	assert.Equal(t, "mistral", cfg.LLMProvider)
	assert.Equal(t, []string{"openai", "mock-llm"}, cfg.LLMFallbacks)
	assert.InDelta(t, 0.5, cfg.SessionStartRate, 1e-9)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "redis", cfg.TranscriptStore)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"bad duration":        {"LLM_TIMEOUT": "soon"},
		"bad bool":            {"APP_ALLOW_ANY_ORIGIN": "maybe"},
		"negative retries":    {"PROVIDER_MAX_RETRIES": "-1"},
		"zero burst":          {"SESSION_START_BURST": "0"},
		"unknown log level":   {"LOG_LEVEL": "verbose"},
		"postgres without db": {"TRANSCRIPT_STORE": "postgres"},
		"unknown store":       {"TRANSCRIPT_STORE": "s3"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestDefaultOrgCatalog(t *testing.T) {
	cat, err := LoadOrgCatalog("")
	require.NoError(t, err)
	assert.Equal(t, []string{"durham", "oxford"}, cat.OrgIDs())

	byKey, err := cat.Lookup("durham")
	require.NoError(t, err)
	byID, err := cat.Lookup("durham-law-2025")
	require.NoError(t, err)
	assert.Equal(t, byKey, byID)
	assert.Equal(t, "Rachel", byKey.Voice.VoiceID)
	assert.False(t, byKey.Features.SaveTranscriptsByDefault)

	oxford, err := cat.Lookup("oxford-law-2025")
	require.NoError(t, err)
	assert.Equal(t, "en-GB-SoniaNeural", oxford.Voice.VoiceID)
	assert.True(t, oxford.Features.SaveTranscriptsByDefault)

	_, err = cat.Lookup("cambridge")
	assert.ErrorIs(t, err, ErrOrgNotFound)
}

func TestLoadOrgCatalogFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orgs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
orgs:
  - id: york-law-2026
    orgId: york
    brand:
      name: York Law Buddy
      primaryColor: "#00627D"
    voice:
      provider: azure-tts
      voiceId: en-GB-RyanNeural
      rate: 1.1
    ai:
      chatModel: mistral-large-latest
      temperature: 0.4
      maxTokens: 1024
      llmProvider: mistral
    features:
      voiceEnabled: true
    policies:
      piiAllowed: true
  - id: durham-law-2026
    orgId: durham
    voice:
      voiceId: Bella
    ai:
      chatModel: gpt-4o
      maxTokens: 2048
`), 0o600))

	cat, err := LoadOrgCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"durham", "oxford", "york"}, cat.OrgIDs())

	york, err := cat.Lookup("york-law-2026")
	require.NoError(t, err)
	assert.Equal(t, "mistral", york.AI.LLMProvider)
	require.NotNil(t, york.AI.Temperature)
	assert.InDelta(t, 0.4, *york.AI.Temperature, 1e-9)
	assert.True(t, york.Policies.PIIAllowed)

	durham, err := cat.Lookup("durham")
	require.NoError(t, err)
	assert.Equal(t, "Bella", durham.Voice.VoiceID)
	assert.Nil(t, durham.AI.Temperature, "unset temperature stays unset")
	_, err = cat.Lookup("durham-law-2025")
	assert.ErrorIs(t, err, ErrOrgNotFound, "replaced org drops its old id")
}

func TestParseOrgsRejectsUnknownFields(t *testing.T) {
	_, err := ParseOrgs([]byte("orgs:\n  - id: x\n    orgId: x\n    colour: red\n"))
	assert.Error(t, err)

	orgs, err := ParseOrgs(nil)
	require.NoError(t, err)
	assert.Empty(t, orgs)
}

func TestOrgConfigValidate(t *testing.T) {
	base := DefaultOrgs()[0]
	require.NoError(t, base.Validate())

	bad := base
	bad.AI.Temperature = floatPtr(1.5)
	assert.ErrorContains(t, bad.Validate(), "temperature")

	bad = base
	bad.AI.Temperature = floatPtr(0)
	assert.NoError(t, bad.Validate())

	bad = base
	bad.AI.Temperature = nil
	assert.NoError(t, bad.Validate())

	bad = base
	bad.AI.MaxTokens = 0
	assert.ErrorContains(t, bad.Validate(), "maxTokens")

	bad = base
	bad.Voice.Rate = 3
	assert.ErrorContains(t, bad.Validate(), "rate")

	bad = base
	bad.ID = " "
	assert.ErrorContains(t, bad.Validate(), "id is required")

	_, err := NewOrgCatalog(base, OrgConfig{ID: base.ID, OrgID: "imposter", AI: base.AI})
	assert.ErrorContains(t, err, "used by both")
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR", "APP_SHUTDOWN_TIMEOUT", "APP_ALLOW_ANY_ORIGIN", "APP_METRICS_NAMESPACE",
		"SESSION_MAX_AGE", "SESSION_START_RATE", "SESSION_START_BURST",
		"LOG_LEVEL", "LOG_FORMAT", "ORG_CONFIG_PATH",
		"STT_PROVIDER", "LLM_PROVIDER", "TTS_PROVIDER",
		"STT_FALLBACKS", "LLM_FALLBACKS", "TTS_FALLBACKS",
		"OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_STT_MODEL", "OPENAI_CHAT_MODEL",
		"MISTRAL_API_KEY", "MISTRAL_BASE_URL", "MISTRAL_MODEL",
		"DEEPGRAM_API_KEY", "DEEPGRAM_WS_URL",
		"ELEVENLABS_API_KEY", "ELEVENLABS_BASE_URL", "ELEVENLABS_MODEL_ID", "ELEVENLABS_DEFAULT_VOICE_ID",
		"AZURE_TTS_KEY", "AZURE_TTS_REGION", "AZURE_TTS_VOICE",
		"PROVIDER_HTTP_TIMEOUT", "PROVIDER_MAX_RETRIES", "STT_RESULT_WAIT", "STT_PUSH_TIMEOUT",
		"LLM_TIMEOUT", "TTS_TIMEOUT", "STT_RELEASE_TIMEOUT",
		"SPEAKING_MIN_DURATION", "SPEAKING_PER_CHAR",
		"TRANSCRIPT_STORE", "DATABASE_URL", "REDIS_URL", "TRANSCRIPT_TTL",
		"AUDIO_CLIP_TTL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
