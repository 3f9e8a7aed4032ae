package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/antoniostano/durmah/internal/provider"
	"github.com/antoniostano/durmah/internal/reliability"
)

const (
	DefaultElevenLabsBaseURL = "https://api.elevenlabs.io"
	DefaultElevenLabsModel   = "eleven_multilingual_v2"
	DefaultElevenLabsVoiceID = "cgSgspJ2msm6clMCkdW9"
)

type ElevenLabsConfig struct {
	APIKey         string
	BaseURL        string
	ModelID        string
	DefaultVoiceID string
	HTTPClient     *http.Client
	Retry          reliability.Policy
	// OnSubstitute is called when a rejected voice is replaced by the default.
	OnSubstitute func(requested, used string)
}

type ElevenLabs struct {
	cfg    ElevenLabsConfig
	clips  ClipSink
	logger *zap.Logger
}

func NewElevenLabs(cfg ElevenLabsConfig, clips ClipSink, logger *zap.Logger) *ElevenLabs {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultElevenLabsBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultElevenLabsModel
	}
	if cfg.DefaultVoiceID == "" {
		cfg.DefaultVoiceID = DefaultElevenLabsVoiceID
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = provider.NewHTTPClient(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ElevenLabs{cfg: cfg, clips: clips, logger: logger.Named("elevenlabs")}
}

func (e *ElevenLabs) Info() provider.Info {
	return provider.Info{
		Name:         "elevenlabs",
		Version:      "1.0.0",
		Capabilities: []provider.Capability{provider.CapTTSStream, provider.CapTTSMultilingual, provider.CapTTSVoiceClone},
	}
}

func (e *ElevenLabs) Speak(ctx context.Context, req provider.SpeechRequest, rc provider.RequestContext) (provider.StreamHandle, error) {
	voiceID := req.VoiceID
	if voiceID == "" {
		voiceID = e.cfg.DefaultVoiceID
	}

	handle, err := e.synthesize(ctx, voiceID, req.Text)
	if errors.Is(err, provider.ErrVoiceNotFound) && voiceID != e.cfg.DefaultVoiceID {
		e.logger.Warn("voice not found, retrying with default voice",
			zap.String("voice_id", voiceID),
			zap.String("default_voice_id", e.cfg.DefaultVoiceID),
			zap.String("org_id", rc.OrgID),
		)
		if e.cfg.OnSubstitute != nil {
			e.cfg.OnSubstitute(voiceID, e.cfg.DefaultVoiceID)
		}
		handle, err = e.synthesize(ctx, e.cfg.DefaultVoiceID, req.Text)
	}
	if err != nil {
		return provider.StreamHandle{}, err
	}
	return handle, nil
}

type elevenVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

type elevenRequest struct {
	Text          string              `json:"text"`
	ModelID       string              `json:"model_id"`
	VoiceSettings elevenVoiceSettings `json:"voice_settings"`
}

func (e *ElevenLabs) synthesize(ctx context.Context, voiceID, text string) (provider.StreamHandle, error) {
	payload, err := json.Marshal(elevenRequest{
		Text:    text,
		ModelID: e.cfg.ModelID,
		VoiceSettings: elevenVoiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
			UseSpeakerBoost: true,
		},
	})
	if err != nil {
		return provider.StreamHandle{}, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := e.cfg.BaseURL + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream"
	res, err := provider.Call(ctx, e.cfg.HTTPClient, e.cfg.Retry, "elevenlabs", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("xi-api-key", e.cfg.APIKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "audio/mpeg")
		return req, nil
	})
	if err != nil {
		var apiErr *provider.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity && strings.Contains(apiErr.Body, "voice_not_found") {
			return provider.StreamHandle{}, fmt.Errorf("%w: %w", provider.ErrVoiceNotFound, err)
		}
		return provider.StreamHandle{}, fmt.Errorf("%w: %w", provider.ErrSynthesisFailed, err)
	}
	defer res.Body.Close()
	return storeClip(e.clips, mediaType(res.Header.Get("Content-Type")), res.Body)
}
