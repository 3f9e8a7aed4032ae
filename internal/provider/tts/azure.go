package tts

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/antoniostano/durmah/internal/provider"
	"github.com/antoniostano/durmah/internal/reliability"
)

const (
	DefaultAzureRegion = "eastus"
	DefaultAzureVoice  = "en-US-JennyNeural"
	azureOutputFormat  = "audio-16khz-128kbitrate-mono-mp3"
)

type AzureConfig struct {
	APIKey string
	Region string
	Voice  string
	// Endpoint overrides the regional endpoint derived from Region.
	Endpoint   string
	HTTPClient *http.Client
	Retry      reliability.Policy
}

type Azure struct {
	cfg    AzureConfig
	clips  ClipSink
	logger *zap.Logger
}

func NewAzure(cfg AzureConfig, clips ClipSink, logger *zap.Logger) *Azure {
	if cfg.Region == "" {
		cfg.Region = DefaultAzureRegion
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultAzureVoice
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", cfg.Region)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = provider.NewHTTPClient(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Azure{cfg: cfg, clips: clips, logger: logger.Named("azure-tts")}
}

func (a *Azure) Info() provider.Info {
	return provider.Info{
		Name:         "azure-tts",
		Version:      "1.0.0",
		Capabilities: []provider.Capability{provider.CapTTSStream, provider.CapTTSMultilingual},
	}
}

func (a *Azure) Speak(ctx context.Context, req provider.SpeechRequest, rc provider.RequestContext) (provider.StreamHandle, error) {
	ssml := buildSSML(req, a.cfg.Voice)
	res, err := provider.Call(ctx, a.cfg.HTTPClient, a.cfg.Retry, "azure-tts", func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Endpoint, strings.NewReader(ssml))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Ocp-Apim-Subscription-Key", a.cfg.APIKey)
		httpReq.Header.Set("Content-Type", "application/ssml+xml")
		httpReq.Header.Set("X-Microsoft-OutputFormat", azureOutputFormat)
		return httpReq, nil
	})
	if err != nil {
		a.logger.Warn("synthesis failed", zap.String("org_id", rc.OrgID), zap.Error(err))
		return provider.StreamHandle{}, fmt.Errorf("%w: %w", provider.ErrSynthesisFailed, err)
	}
	defer res.Body.Close()
	return storeClip(a.clips, "audio/mpeg", res.Body)
}

// buildSSML renders req as a single-voice SSML document. Rate and pitch are
// multipliers around 1.0 and map to relative percentages.
func buildSSML(req provider.SpeechRequest, defaultVoice string) string {
	voice := req.VoiceID
	if voice == "" {
		voice = defaultVoice
	}
	locale := req.Locale
	if locale == "" {
		locale = localeFromVoice(voice)
	}

	var text bytes.Buffer
	_ = xml.EscapeText(&text, []byte(req.Text))

	var b strings.Builder
	fmt.Fprintf(&b, `<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xml:lang="%s">`, escapeAttr(locale))
	fmt.Fprintf(&b, `<voice name="%s">`, escapeAttr(voice))
	fmt.Fprintf(&b, `<prosody rate="%s" pitch="%s">`, relativePercent(req.Rate), relativePercent(req.Pitch))
	b.Write(text.Bytes())
	b.WriteString(`</prosody></voice></speak>`)
	return b.String()
}

func relativePercent(v float64) string {
	if v <= 0 {
		v = 1
	}
	return fmt.Sprintf("%+.0f%%", (v-1)*100)
}

// localeFromVoice derives "en-GB" from a voice name like "en-GB-SoniaNeural".
func localeFromVoice(voice string) string {
	parts := strings.SplitN(voice, "-", 3)
	if len(parts) == 3 {
		return parts[0] + "-" + parts[1]
	}
	return "en-US"
}

func escapeAttr(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
