package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/antoniostano/durmah/internal/config"
	"github.com/antoniostano/durmah/internal/protocol"
	"github.com/antoniostano/durmah/internal/session"
	"github.com/antoniostano/durmah/internal/transcript"
	"github.com/antoniostano/durmah/internal/voice"
)

const (
	wsReadLimit    = 2 << 20
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

type startSessionRequest struct {
	ConfigID string `json:"configId"`
	OrgID    string `json:"orgId,omitempty"`
	UserID   string `json:"userId,omitempty"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.ConfigID = strings.TrimSpace(req.ConfigID)
	if req.ConfigID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "configId is required")
		return
	}
	org, err := s.orgs.Lookup(req.ConfigID)
	if err != nil {
		respondError(w, http.StatusNotFound, "config_not_found", "Configuration not found")
		return
	}

	orgID := strings.TrimSpace(req.OrgID)
	if orgID == "" {
		orgID = org.OrgID
	}
	sess, err := s.sessions.Create(session.CreateParams{
		ConfigID: org.ID,
		OrgID:    orgID,
		UserID:   strings.TrimSpace(req.UserID),
		Settings: s.settingsFor(org),
	})
	if err != nil {
		s.logger.Error("create session", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal", "failed to create session")
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("created").Inc()

	respondJSON(w, http.StatusOK, session.CreateResponse{SessionID: sess.ID, Token: sess.Token})
}

// settingsFor turns an org config into per-session settings. Provider
// chains start with the org override, then the env default, then fallbacks.
func (s *Server) settingsFor(org config.OrgConfig) session.Settings {
	return session.Settings{
		VoiceEnabled: org.Features.VoiceEnabled,
		VoiceID:      org.Voice.VoiceID,
		VoiceRate:    org.Voice.Rate,
		VoicePitch:   org.Voice.Pitch,
		Locale:       org.Voice.Locale,
		ChatModel:    org.AI.ChatModel,
		Temperature:  org.AI.Temperature,
		MaxTokens:    org.AI.MaxTokens,
		STTProviders: providerChain(org.AI.STTProvider, s.cfg.STTProvider, s.cfg.STTFallbacks),
		LLMProviders: providerChain(org.AI.LLMProvider, s.cfg.LLMProvider, s.cfg.LLMFallbacks),
		TTSProviders: providerChain(org.Voice.Provider, s.cfg.TTSProvider, s.cfg.TTSFallbacks),
	}
}

func providerChain(override, primary string, fallbacks []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, name := range append([]string{override, primary}, fallbacks...) {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok := s.sessions.End(id)
	if ok {
		s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
		s.metrics.SessionEvents.WithLabelValues("ended").Inc()
		s.autosaveTranscript(r.Context(), sess)
	}
	respondJSON(w, http.StatusOK, successResponse{Success: true})
}

// autosaveTranscript persists the conversation of an ended session when its
// org saves transcripts by default. Failures are logged only.
func (s *Server) autosaveTranscript(ctx context.Context, sess *session.Session) {
	if s.transcripts == nil || len(sess.Messages) == 0 {
		return
	}
	org, err := s.orgs.Lookup(sess.ConfigID)
	if err != nil || !org.Features.SaveTranscriptsByDefault {
		return
	}

	entries := make([]transcript.Entry, 0, len(sess.Messages))
	for _, m := range sess.Messages {
		entries = append(entries, transcript.Entry{Role: string(m.Role), Content: m.Content})
	}
	if !org.Policies.PIIAllowed {
		entries, _ = transcript.Redact(entries)
	}
	if err := s.transcripts.Save(ctx, sess.ID, entries); err != nil {
		s.logger.Warn("autosave transcript failed", zap.String("session_id", sess.ID), zap.Error(err))
		return
	}
	s.metrics.SessionEvents.WithLabelValues("transcript_saved").Inc()
}

func (s *Server) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if s.orchestrator == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "orchestrator not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan protocol.ClientMessage, 64)
	outbound := make(chan protocol.ServerMessage, 256)

	var runErr error
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		defer cancel()
		runErr = s.orchestrator.RunConnection(ctx, token, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					cancel()
					return
				}
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					s.metrics.WSMessages.WithLabelValues("outbound", string(msg.ServerType()), "write_error").Inc()
					cancel()
					return
				}
			}
		}
	}()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer close(inbound)
		s.readLoop(ctx, conn, inbound)
	}()

	<-runDone
	<-writerDone

	code, reason := websocket.CloseNormalClosure, ""
	var ce *voice.CloseError
	if errors.As(runErr, &ce) {
		code, reason = ce.Code, ce.Reason
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	_ = conn.Close()
	<-readerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, inbound chan<- protocol.ClientMessage) {
	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.metrics.WSMessages.WithLabelValues("inbound", "unknown", "invalid").Inc()
			parsed = protocol.Malformed{Err: err}
		}
		select {
		case <-ctx.Done():
			return
		case inbound <- parsed:
		}
	}
}
