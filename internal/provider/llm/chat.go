// Package llm implements chat completion providers that speak the OpenAI
// streaming dialect.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/antoniostano/durmah/internal/provider"
	"github.com/antoniostano/durmah/internal/reliability"
)

const (
	DefaultOpenAIBaseURL  = "https://api.openai.com"
	DefaultMistralBaseURL = "https://api.mistral.ai"
	DefaultOpenAIModel    = "gpt-4o"
	DefaultMistralModel   = "mistral-large-latest"

	defaultTemperature = 0.2
	defaultMaxTokens   = 2048
)

type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string

	// HTTPClient must not set an overall Timeout: it would cut off long
	// streams. Completion length is bounded by the request context.
	HTTPClient *http.Client
	Retry      reliability.Policy
}

// ChatCompletions streams completions from a /v1/chat/completions endpoint.
type ChatCompletions struct {
	info   provider.Info
	cfg    Config
	logger *zap.Logger
}

func NewOpenAI(cfg Config, logger *zap.Logger) *ChatCompletions {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultOpenAIModel
	}
	return newChatCompletions(provider.Info{
		Name:         "openai",
		Version:      "1.0.0",
		Capabilities: []provider.Capability{provider.CapLLMFunctions, provider.CapLLMRealtime, provider.CapLLMToolUse},
	}, cfg, logger)
}

func NewMistral(cfg Config, logger *zap.Logger) *ChatCompletions {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultMistralBaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultMistralModel
	}
	return newChatCompletions(provider.Info{
		Name:         "mistral",
		Version:      "1.0.0",
		Capabilities: []provider.Capability{provider.CapLLMFunctions, provider.CapLLMToolUse},
	}, cfg, logger)
}

func newChatCompletions(info provider.Info, cfg Config, logger *zap.Logger) *ChatCompletions {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = provider.NewStreamingHTTPClient(0)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatCompletions{info: info, cfg: cfg, logger: logger.Named(info.Name)}
}

func (c *ChatCompletions) Info() provider.Info { return c.info }

type chatRequest struct {
	Model       string             `json:"model"`
	Messages    []provider.Message `json:"messages"`
	Temperature float64            `json:"temperature"`
	MaxTokens   int                `json:"max_tokens"`
	Stream      bool               `json:"stream"`
	User        string             `json:"user,omitempty"`
}

func (c *ChatCompletions) Complete(ctx context.Context, req provider.CompletionRequest, rc provider.RequestContext) (provider.CompletionStream, error) {
	body := chatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: defaultTemperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
		User:        rc.UserID,
	}
	if body.Model == "" {
		body.Model = c.cfg.DefaultModel
	}
	if req.Temperature != nil {
		body.Temperature = *req.Temperature
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = defaultMaxTokens
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	res, err := provider.Call(ctx, c.cfg.HTTPClient, c.cfg.Retry, c.info.Name, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")
		return httpReq, nil
	})
	if err != nil {
		c.logger.Warn("completion request failed",
			zap.String("org_id", rc.OrgID),
			zap.String("trace_id", rc.TraceID),
			zap.String("model", body.Model),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%s completion: %w", c.info.Name, err)
	}
	return newSSEStream(res.Body), nil
}
