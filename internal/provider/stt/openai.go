// Package stt implements speech-to-text providers.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/antoniostano/durmah/internal/audio"
	"github.com/antoniostano/durmah/internal/provider"
	"github.com/antoniostano/durmah/internal/reliability"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com"
	DefaultWhisperModel  = "whisper-1"
	defaultFlushBytes    = 16000
	whisperConfidence    = 0.95
)

type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	SampleRate int
	// FlushBytes is the buffered audio size that triggers a transcription
	// even without a final chunk.
	FlushBytes int
	HTTPClient *http.Client
	Retry      reliability.Policy
}

// OpenAI buffers pushed PCM per session and transcribes it with Whisper once
// the utterance ends or the buffer grows past FlushBytes.
type OpenAI struct {
	cfg    OpenAIConfig
	logger *zap.Logger

	mu      sync.Mutex
	buffers map[string]*bytes.Buffer
}

func NewOpenAI(cfg OpenAIConfig, logger *zap.Logger) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultWhisperModel
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	if cfg.FlushBytes <= 0 {
		cfg.FlushBytes = defaultFlushBytes
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = provider.NewHTTPClient(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAI{cfg: cfg, logger: logger.Named("openai-stt"), buffers: make(map[string]*bytes.Buffer)}
}

func (o *OpenAI) Info() provider.Info {
	return provider.Info{
		Name:         "openai-stt",
		Version:      "1.0.0",
		Capabilities: []provider.Capability{provider.CapSTTStream, provider.CapSTTPunctuation},
	}
}

func (o *OpenAI) StartSession(_ context.Context, _ provider.RequestContext) (string, error) {
	handle := uuid.NewString()
	o.mu.Lock()
	o.buffers[handle] = &bytes.Buffer{}
	o.mu.Unlock()
	return handle, nil
}

func (o *OpenAI) PushAudio(ctx context.Context, handle string, chunk provider.AudioChunk) (*provider.PartialResult, error) {
	o.mu.Lock()
	buf, ok := o.buffers[handle]
	if !ok {
		o.mu.Unlock()
		return nil, provider.ErrUnknownSession
	}
	buf.Write(chunk.Audio)
	if !chunk.IsFinal && buf.Len() <= o.cfg.FlushBytes {
		o.mu.Unlock()
		return nil, nil
	}
	pcm := append([]byte(nil), buf.Bytes()...)
	buf.Reset()
	o.mu.Unlock()

	if len(pcm) == 0 {
		return nil, nil
	}
	text, err := o.transcribe(ctx, pcm)
	if err != nil {
		return nil, err
	}
	return &provider.PartialResult{Text: text, IsFinal: chunk.IsFinal, Confidence: whisperConfidence}, nil
}

func (o *OpenAI) EndSession(_ context.Context, handle string) error {
	o.mu.Lock()
	delete(o.buffers, handle)
	o.mu.Unlock()
	return nil
}

func (o *OpenAI) transcribe(ctx context.Context, pcm []byte) (string, error) {
	wav, err := audio.EncodeWAVPCM16LE(pcm, o.cfg.SampleRate)
	if err != nil {
		return "", fmt.Errorf("encode wav: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(wav); err != nil {
		return "", err
	}
	_ = mw.WriteField("model", o.cfg.Model)
	_ = mw.WriteField("response_format", "json")
	if err := mw.Close(); err != nil {
		return "", err
	}
	payload := body.Bytes()

	res, err := provider.Call(ctx, o.cfg.HTTPClient, o.cfg.Retry, "openai-stt", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/v1/audio/transcriptions", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req, nil
	})
	if err != nil {
		return "", fmt.Errorf("whisper transcription: %w", err)
	}
	defer res.Body.Close()

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode transcription: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}
