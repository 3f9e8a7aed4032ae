package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/antoniostano/durmah/internal/provider"
	"github.com/antoniostano/durmah/internal/session"
	"github.com/antoniostano/durmah/internal/transcript"
	"github.com/antoniostano/durmah/internal/voice"
)

func (s *Server) handleOrgConfig(w http.ResponseWriter, r *http.Request) {
	org, err := s.orgs.Lookup(chi.URLParam(r, "orgId"))
	if err != nil {
		respondError(w, http.StatusNotFound, "config_not_found", "Configuration not found")
		return
	}
	respondJSON(w, http.StatusOK, org)
}

func (s *Server) handleListProviders(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string][]provider.Info{
		"stt": s.registry.List(provider.ModalitySTT),
		"llm": s.registry.List(provider.ModalityLLM),
		"tts": s.registry.List(provider.ModalityTTS),
	})
}

func (s *Server) handleActiveProviders(w http.ResponseWriter, _ *http.Request) {
	active := s.orchestrator.Providers()
	respondJSON(w, http.StatusOK, map[string]*provider.Info{
		"stt": active[provider.ModalitySTT],
		"llm": active[provider.ModalityLLM],
		"tts": active[provider.ModalityTTS],
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req voice.ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}
	resp, err := s.orchestrator.Chat(r.Context(), req)
	switch {
	case errors.Is(err, voice.ErrEmptyMessage):
		respondError(w, http.StatusBadRequest, "invalid_request", "message is required")
	case errors.Is(err, voice.ErrNoLLM):
		respondError(w, http.StatusServiceUnavailable, "provider_unavailable", "Providers not available")
	case errors.Is(err, session.ErrTurnInFlight):
		respondError(w, http.StatusConflict, "turn_in_flight", "A reply is already in progress")
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", "Session not found")
	case err != nil:
		respondError(w, http.StatusBadGateway, "generation_failed", "Failed to generate response")
	default:
		respondJSON(w, http.StatusOK, resp)
	}
}

type saveTranscriptRequest struct {
	Transcript []transcript.Entry `json:"transcript"`
}

type transcriptResponse struct {
	Transcript []transcript.Entry `json:"transcript"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}

func (s *Server) handleSaveTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	var req saveTranscriptRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "transcript is required")
		return
	}
	for i, e := range req.Transcript {
		switch provider.Role(e.Role) {
		case provider.RoleUser, provider.RoleAssistant, provider.RoleSystem:
		default:
			respondError(w, http.StatusBadRequest, "invalid_request", "transcript["+strconv.Itoa(i)+"].role is invalid")
			return
		}
	}
	if err := s.transcripts.Save(r.Context(), id, req.Transcript); err != nil {
		s.logger.Error("save transcript", zap.String("session_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "storage_error", "failed to save transcript")
		return
	}
	respondJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	rec, err := s.transcripts.Get(r.Context(), id)
	if errors.Is(err, transcript.ErrNotFound) {
		respondError(w, http.StatusNotFound, "transcript_not_found", "Transcript not found")
		return
	}
	if err != nil {
		s.logger.Error("get transcript", zap.String("session_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "storage_error", "failed to load transcript")
		return
	}
	respondJSON(w, http.StatusOK, transcriptResponse{Transcript: rec.Entries, UpdatedAt: rec.UpdatedAt})
}

func (s *Server) handleDeleteTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	if err := s.transcripts.Delete(r.Context(), id); err != nil {
		s.logger.Error("delete transcript", zap.String("session_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "storage_error", "failed to delete transcript")
		return
	}
	respondJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) handleAudioClip(w http.ResponseWriter, r *http.Request) {
	clip, ok := s.clips.Get(chi.URLParam(r, "clipId"))
	if !ok {
		respondError(w, http.StatusNotFound, "clip_not_found", "audio clip not found or expired")
		return
	}
	contentType := strings.TrimSpace(clip.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.Header().Set("Content-Length", strconv.Itoa(len(clip.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(clip.Data)
}
