// Package voice runs the per-connection conversation loop: audio goes to
// speech-to-text, final transcripts go to the language model, replies go to
// text-to-speech, and every step is reported to the client as it happens.
package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/antoniostano/durmah/internal/observability"
	"github.com/antoniostano/durmah/internal/protocol"
	"github.com/antoniostano/durmah/internal/provider"
	"github.com/antoniostano/durmah/internal/session"
)

const (
	DefaultPersona  = "You are Durmah, a helpful AI assistant for law students. Provide clear, concise, and encouraging responses to help with their studies. Keep responses conversational and supportive."
	DefaultGreeting = "Hello! I'm Durmah, your law study companion. How can I help you today?"
)

// State is the position of one connection in the conversation loop.
type State int

const (
	StateUnauthenticated State = iota
	StateIdle
	StateListening
	StateTranscribing
	StateGenerating
	StateSpeaking
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateTranscribing:
		return "transcribing"
	case StateGenerating:
		return "generating"
	case StateSpeaking:
		return "speaking"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CloseError ends a connection with a websocket close code.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("close %d: %s", e.Code, e.Reason)
}

var (
	errUnauthorized          = &CloseError{Code: protocol.CloseUnauthorized, Reason: "Invalid token"}
	errDependencyUnavailable = &CloseError{Code: protocol.CloseDependencyUnavailable, Reason: "Providers not available"}
	errSessionEnded          = &CloseError{Code: protocol.CloseUnauthorized, Reason: "Session ended"}

	// ErrNoLLM is returned by Chat when no language model can be resolved.
	ErrNoLLM = errors.New("no language model provider available")
)

type Config struct {
	Persona  string
	Greeting string
	// Defaults fill any session setting left empty at creation.
	Defaults session.Settings

	STTPushTimeout      time.Duration
	LLMTimeout          time.Duration
	TTSTimeout          time.Duration
	ReleaseTimeout      time.Duration
	CriticalSendTimeout time.Duration

	SpeakingMinDuration time.Duration
	SpeakingPerChar     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Persona:  DefaultPersona,
		Greeting: DefaultGreeting,
		Defaults: session.Settings{
			VoiceEnabled: true,
			ChatModel:    "gpt-4o",
			Temperature:  floatPtr(0.2),
			MaxTokens:    2048,
			STTProviders: []string{"openai-stt"},
			LLMProviders: []string{"openai"},
			TTSProviders: []string{"elevenlabs"},
		},
		STTPushTimeout:      15 * time.Second,
		LLMTimeout:          60 * time.Second,
		TTSTimeout:          30 * time.Second,
		ReleaseTimeout:      2 * time.Second,
		CriticalSendTimeout: 600 * time.Millisecond,
		SpeakingMinDuration: 2 * time.Second,
		SpeakingPerChar:     50 * time.Millisecond,
	}
}

// SpeakingDuration estimates how long the client needs to play text.
func (c Config) SpeakingDuration(text string) time.Duration {
	d := time.Duration(utf8.RuneCountInString(text)) * c.SpeakingPerChar
	if d < c.SpeakingMinDuration {
		return c.SpeakingMinDuration
	}
	return d
}

type Orchestrator struct {
	cfg       Config
	sessions  *session.Store
	registry  *provider.Registry
	metrics   *observability.Metrics
	logger    *zap.Logger
	stateHook func(sessionID string, s State)
}

func NewOrchestrator(cfg Config, sessions *session.Store, registry *provider.Registry, metrics *observability.Metrics, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Persona == "" {
		cfg.Persona = DefaultPersona
	}
	if cfg.Greeting == "" {
		cfg.Greeting = DefaultGreeting
	}
	return &Orchestrator{
		cfg:      cfg,
		sessions: sessions,
		registry: registry,
		metrics:  metrics,
		logger:   logger.Named("voice"),
	}
}

// SetStateHook observes every state transition. It must be set before any
// connection runs.
func (o *Orchestrator) SetStateHook(hook func(sessionID string, s State)) {
	o.stateHook = hook
}

// RunConnection drives one client connection until inbound closes or ctx is
// done. Connection-fatal outcomes are returned as *CloseError before any frame
// is sent.
func (o *Orchestrator) RunConnection(ctx context.Context, token string, inbound <-chan protocol.ClientMessage, outbound chan<- protocol.ServerMessage) error {
	sess, err := o.sessions.Validate(token)
	if err != nil {
		o.metrics.ConnectionCloses.WithLabelValues("unauthorized").Inc()
		return errUnauthorized
	}

	p, err := o.resolveProviders(sess.Settings)
	if err != nil {
		o.logger.Warn("providers not available", zap.String("session_id", sess.ID), zap.Error(err))
		o.metrics.ConnectionCloses.WithLabelValues("dependency_unavailable").Inc()
		return errDependencyUnavailable
	}

	o.metrics.ActiveConnections.Inc()
	defer o.metrics.ActiveConnections.Dec()

	// Turn goroutines outlive a closed inbound channel unless the connection
	// context ends with the loop.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	traceID := uuid.NewString()
	c := &connection{
		o:    o,
		ctx:  ctx,
		sess: sess,
		rc:   provider.RequestContext{OrgID: sess.OrgID, UserID: sess.UserID, TraceID: traceID},
		p:    p,
		out: &emitter{
			out:      outbound,
			done:     ctx.Done(),
			critical: o.cfg.CriticalSendTimeout,
			metrics:  o.metrics,
		},
		updates: make(chan turnUpdate, 4),
		logger:  o.logger.With(zap.String("session_id", sess.ID), zap.String("trace_id", traceID)),
	}
	err = c.run(inbound)
	o.metrics.ConnectionCloses.WithLabelValues(closeReason(err)).Inc()
	return err
}

func closeReason(err error) string {
	var ce *CloseError
	if errors.As(err, &ce) {
		return strings.ReplaceAll(strings.ToLower(ce.Reason), " ", "_")
	}
	return "client"
}

type resolvedProviders struct {
	stt     provider.STTProvider
	llm     provider.LLMProvider
	tts     provider.TTSProvider
	sttName string
	llmName string
	ttsName string
}

func (o *Orchestrator) resolveProviders(s session.Settings) (resolvedProviders, error) {
	var (
		r  resolvedProviders
		p  provider.Provider
		ok bool
	)
	names := firstNonEmpty(s.STTProviders, o.cfg.Defaults.STTProviders)
	if p, r.sttName, ok = o.registry.ResolveFirst(provider.ModalitySTT, names...); !ok {
		return r, fmt.Errorf("stt provider %v: %w", names, provider.ErrProviderUnavailable)
	}
	r.stt = p.(provider.STTProvider)

	var err error
	if r.llm, r.llmName, err = o.resolveLLM(s); err != nil {
		return r, err
	}

	names = firstNonEmpty(s.TTSProviders, o.cfg.Defaults.TTSProviders)
	if p, r.ttsName, ok = o.registry.ResolveFirst(provider.ModalityTTS, names...); !ok {
		return r, fmt.Errorf("tts provider %v: %w", names, provider.ErrProviderUnavailable)
	}
	r.tts = p.(provider.TTSProvider)
	return r, nil
}

func (o *Orchestrator) resolveLLM(s session.Settings) (provider.LLMProvider, string, error) {
	names := firstNonEmpty(s.LLMProviders, o.cfg.Defaults.LLMProviders)
	p, name, ok := o.registry.ResolveFirst(provider.ModalityLLM, names...)
	if !ok {
		return nil, "", fmt.Errorf("llm provider %v: %w", names, provider.ErrProviderUnavailable)
	}
	return p.(provider.LLMProvider), name, nil
}

func firstNonEmpty(primary, fallback []string) []string {
	if len(primary) > 0 {
		return primary
	}
	return fallback
}

// complete asks llm for the next assistant message given the conversation so
// far and returns it only once the stream has been fully drained.
func (o *Orchestrator) complete(ctx context.Context, llm provider.LLMProvider, s session.Settings, history []provider.Message, rc provider.RequestContext) (string, error) {
	msgs := make([]provider.Message, 0, len(history)+1)
	msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: o.cfg.Persona})
	msgs = append(msgs, history...)
	req := provider.CompletionRequest{
		Model:       orString(s.ChatModel, o.cfg.Defaults.ChatModel),
		Messages:    msgs,
		Temperature: orFloat(s.Temperature, o.cfg.Defaults.Temperature),
		MaxTokens:   orInt(s.MaxTokens, o.cfg.Defaults.MaxTokens),
	}

	if o.cfg.LLMTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.LLMTimeout)
		defer cancel()
	}
	start := time.Now()
	stream, err := llm.Complete(ctx, req, rc)
	if err != nil {
		return "", err
	}
	text, err := provider.Drain(stream)
	o.metrics.ObserveStage("llm", time.Since(start))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty response", provider.ErrIncompleteGeneration)
	}
	return text, nil
}

func orString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func orFloat(v, fallback *float64) *float64 {
	if v == nil {
		return fallback
	}
	return v
}

func floatPtr(v float64) *float64 { return &v }

func orInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}
