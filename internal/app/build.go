package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/antoniostano/durmah/internal/audio"
	"github.com/antoniostano/durmah/internal/config"
	"github.com/antoniostano/durmah/internal/httpapi"
	"github.com/antoniostano/durmah/internal/observability"
	"github.com/antoniostano/durmah/internal/provider"
	"github.com/antoniostano/durmah/internal/session"
	"github.com/antoniostano/durmah/internal/transcript"
	"github.com/antoniostano/durmah/internal/voice"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Sessions     *session.Store
	Orchestrator *voice.Orchestrator
	Registry     *provider.Registry
	Metrics      *observability.Metrics

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	orgs, err := config.LoadOrgCatalog(cfg.OrgConfigPath)
	if err != nil {
		return nil, fmt.Errorf("org config: %w", err)
	}

	transcripts, err := transcript.NewStore(ctx, transcript.Options{
		Backend:     cfg.TranscriptStore,
		DatabaseURL: cfg.DatabaseURL,
		RedisURL:    cfg.RedisURL,
		RedisTTL:    cfg.TranscriptTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("transcript store init failed: %w", err)
	}

	clips := audio.NewClipStore(cfg.AudioClipTTL)
	registry, err := registerProviders(cfg, clips, metrics, logger)
	if err != nil {
		_ = transcripts.Close()
		return nil, err
	}
	for _, m := range []provider.Modality{provider.ModalitySTT, provider.ModalityLLM, provider.ModalityTTS} {
		names := make([]string, 0)
		for _, info := range registry.List(m) {
			names = append(names, info.Name)
		}
		logger.Info("providers registered", zap.String("modality", string(m)), zap.Strings("names", names))
	}

	sessions := session.NewStore(cfg.SessionMaxAge)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	orchestrator := voice.NewOrchestrator(voiceConfig(cfg), sessions, registry, metrics, logger.Named("voice"))

	api := httpapi.New(cfg, httpapi.Deps{
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Registry:     registry,
		Orgs:         orgs,
		Transcripts:  transcripts,
		Clips:        clips,
		Metrics:      metrics,
		Logger:       logger,
	})

	cleanup := func() error {
		var errs []error
		if err := transcripts.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transcript store: %w", err))
		}
		return errors.Join(errs...)
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Registry:     registry,
		Metrics:      metrics,
		Cleanup:      cleanup,
	}, nil
}

// voiceConfig maps env settings onto orchestrator defaults. Sessions created
// from an org config override the provider chains and model parameters.
func voiceConfig(cfg config.Config) voice.Config {
	vc := voice.DefaultConfig()
	vc.STTPushTimeout = cfg.STTPushTimeout
	vc.LLMTimeout = cfg.LLMTimeout
	vc.TTSTimeout = cfg.TTSTimeout
	vc.ReleaseTimeout = cfg.STTReleaseTimeout
	vc.SpeakingMinDuration = cfg.SpeakingMinDuration
	vc.SpeakingPerChar = cfg.SpeakingPerChar
	vc.Defaults.ChatModel = cfg.OpenAIChatModel
	if cfg.LLMProvider == "mistral" {
		vc.Defaults.ChatModel = cfg.MistralModel
	}
	vc.Defaults.STTProviders = append([]string{cfg.STTProvider}, cfg.STTFallbacks...)
	vc.Defaults.LLMProviders = append([]string{cfg.LLMProvider}, cfg.LLMFallbacks...)
	vc.Defaults.TTSProviders = append([]string{cfg.TTSProvider}, cfg.TTSFallbacks...)
	return vc
}
