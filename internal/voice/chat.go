package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/antoniostano/durmah/internal/provider"
	"github.com/antoniostano/durmah/internal/session"
)

var ErrEmptyMessage = errors.New("message is required")

type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
	Model     string `json:"model,omitempty"`
}

type ChatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
}

// Chat answers a typed message. When SessionID names a live session the
// exchange joins its history and fails with session.ErrTurnInFlight while a
// voice turn is running; otherwise it is a one-off completion.
func (o *Orchestrator) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return ChatResponse{}, ErrEmptyMessage
	}

	settings := o.cfg.Defaults
	rc := provider.RequestContext{TraceID: uuid.NewString()}
	var history []provider.Message
	sess, err := o.sessions.Get(req.SessionID)
	live := err == nil
	if live {
		if err := o.sessions.BeginTurn(sess.ID); err != nil {
			return ChatResponse{}, err
		}
		defer o.sessions.EndTurn(sess.ID)
		if history, err = o.sessions.Messages(sess.ID); err != nil {
			return ChatResponse{}, err
		}
		settings = sess.Settings
		rc.OrgID = sess.OrgID
		rc.UserID = sess.UserID
	}
	if req.Model != "" {
		settings.ChatModel = req.Model
	}

	llm, name, err := o.resolveLLM(settings)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("%w: %v", ErrNoLLM, err)
	}

	user := provider.Message{Role: provider.RoleUser, Content: message}
	text, err := o.complete(ctx, llm, settings, append(history, user), rc)
	if err != nil {
		o.logger.Warn("chat completion failed", zap.String("provider", name), zap.String("trace_id", rc.TraceID), zap.Error(err))
		o.metrics.ProviderErrors.WithLabelValues(stageLLM, name).Inc()
		return ChatResponse{}, err
	}

	sessionID := req.SessionID
	if live {
		for _, msg := range []provider.Message{user, {Role: provider.RoleAssistant, Content: text}} {
			if err := o.sessions.AppendMessage(sess.ID, msg); err != nil {
				return ChatResponse{}, fmt.Errorf("record chat turn: %w", err)
			}
		}
	} else if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return ChatResponse{Response: text, SessionID: sessionID}, nil
}

// Providers reports the providers a new session would use by default.
func (o *Orchestrator) Providers() map[provider.Modality]*provider.Info {
	out := map[provider.Modality]*provider.Info{
		provider.ModalitySTT: nil,
		provider.ModalityLLM: nil,
		provider.ModalityTTS: nil,
	}
	defaults := map[provider.Modality][]string{
		provider.ModalitySTT: o.cfg.Defaults.STTProviders,
		provider.ModalityLLM: o.cfg.Defaults.LLMProviders,
		provider.ModalityTTS: o.cfg.Defaults.TTSProviders,
	}
	for m, names := range defaults {
		if p, _, ok := o.registry.ResolveFirst(m, names...); ok {
			info := p.Info()
			out[m] = &info
		}
	}
	return out
}

// Defaults returns the settings applied to sessions that do not override them.
func (o *Orchestrator) Defaults() session.Settings {
	return o.cfg.Defaults
}
