package app

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/antoniostano/durmah/internal/config"
	"github.com/antoniostano/durmah/internal/observability"
	"github.com/antoniostano/durmah/internal/provider"
	"github.com/antoniostano/durmah/internal/provider/llm"
	"github.com/antoniostano/durmah/internal/provider/mock"
	"github.com/antoniostano/durmah/internal/provider/stt"
	"github.com/antoniostano/durmah/internal/provider/tts"
	"github.com/antoniostano/durmah/internal/reliability"
)

// registerProviders populates a registry. Mocks are always available; a
// vendor is registered only when its credentials are configured.
func registerProviders(cfg config.Config, clips tts.ClipSink, metrics *observability.Metrics, logger *zap.Logger) (*provider.Registry, error) {
	r := provider.NewRegistry()
	client := provider.NewHTTPClient(cfg.ProviderHTTPTimeout)
	streamClient := provider.NewStreamingHTTPClient(cfg.ProviderHTTPTimeout)
	retry := reliability.DefaultPolicy()
	retry.MaxRetries = cfg.ProviderMaxRetries

	type entry struct {
		modality provider.Modality
		name     string
		build    func() provider.Provider
		enabled  bool
	}
	entries := []entry{
		{provider.ModalitySTT, "mock-stt", func() provider.Provider { return mock.NewSTT() }, true},
		{provider.ModalityLLM, "mock-llm", func() provider.Provider { return mock.NewLLM() }, true},
		{provider.ModalityTTS, "mock-tts", func() provider.Provider { return mock.NewTTS() }, true},
		{provider.ModalitySTT, "openai-stt", func() provider.Provider {
			return stt.NewOpenAI(stt.OpenAIConfig{
				APIKey:     cfg.OpenAIAPIKey,
				BaseURL:    cfg.OpenAIBaseURL,
				Model:      cfg.OpenAISTTModel,
				HTTPClient: client,
				Retry:      retry,
			}, logger.Named("openai-stt"))
		}, hasKey(cfg.OpenAIAPIKey)},
		{provider.ModalitySTT, "deepgram-stt", func() provider.Provider {
			return stt.NewDeepgram(stt.DeepgramConfig{
				APIKey:     cfg.DeepgramAPIKey,
				URL:        cfg.DeepgramWSURL,
				ResultWait: cfg.STTResultWait,
			}, logger.Named("deepgram-stt"))
		}, hasKey(cfg.DeepgramAPIKey)},
		{provider.ModalityLLM, "openai", func() provider.Provider {
			return llm.NewOpenAI(llm.Config{
				APIKey:       cfg.OpenAIAPIKey,
				BaseURL:      cfg.OpenAIBaseURL,
				DefaultModel: cfg.OpenAIChatModel,
				HTTPClient:   streamClient,
				Retry:        retry,
			}, logger.Named("openai"))
		}, hasKey(cfg.OpenAIAPIKey)},
		{provider.ModalityLLM, "mistral", func() provider.Provider {
			return llm.NewMistral(llm.Config{
				APIKey:       cfg.MistralAPIKey,
				BaseURL:      cfg.MistralBaseURL,
				DefaultModel: cfg.MistralModel,
				HTTPClient:   streamClient,
				Retry:        retry,
			}, logger.Named("mistral"))
		}, hasKey(cfg.MistralAPIKey)},
		{provider.ModalityTTS, "elevenlabs", func() provider.Provider {
			return tts.NewElevenLabs(tts.ElevenLabsConfig{
				APIKey:         cfg.ElevenLabsAPIKey,
				BaseURL:        cfg.ElevenLabsBaseURL,
				ModelID:        cfg.ElevenLabsModelID,
				DefaultVoiceID: cfg.ElevenLabsDefaultVoiceID,
				HTTPClient:     client,
				Retry:          retry,
				OnSubstitute: func(requested, used string) {
					metrics.VoiceSubstitutions.WithLabelValues("elevenlabs").Inc()
				},
			}, clips, logger.Named("elevenlabs"))
		}, hasKey(cfg.ElevenLabsAPIKey)},
		{provider.ModalityTTS, "azure-tts", func() provider.Provider {
			return tts.NewAzure(tts.AzureConfig{
				APIKey:     cfg.AzureTTSKey,
				Region:     cfg.AzureTTSRegion,
				Voice:      cfg.AzureTTSVoice,
				HTTPClient: client,
				Retry:      retry,
			}, clips, logger.Named("azure-tts"))
		}, hasKey(cfg.AzureTTSKey)},
	}

	for _, e := range entries {
		if !e.enabled {
			continue
		}
		if err := r.Register(e.modality, e.name, e.build()); err != nil {
			return nil, fmt.Errorf("register %s provider %s: %w", e.modality, e.name, err)
		}
	}
	return r, nil
}

func hasKey(v string) bool {
	return strings.TrimSpace(v) != ""
}
