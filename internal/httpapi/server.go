package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/antoniostano/durmah/internal/audio"
	"github.com/antoniostano/durmah/internal/config"
	"github.com/antoniostano/durmah/internal/observability"
	"github.com/antoniostano/durmah/internal/protocol"
	"github.com/antoniostano/durmah/internal/provider"
	"github.com/antoniostano/durmah/internal/session"
	"github.com/antoniostano/durmah/internal/transcript"
	"github.com/antoniostano/durmah/internal/voice"
)

type Orchestrator interface {
	RunConnection(ctx context.Context, token string, inbound <-chan protocol.ClientMessage, outbound chan<- protocol.ServerMessage) error
	Chat(ctx context.Context, req voice.ChatRequest) (voice.ChatResponse, error)
	Providers() map[provider.Modality]*provider.Info
}

// Deps are the collaborators a Server routes requests to.
type Deps struct {
	Sessions     *session.Store
	Orchestrator Orchestrator
	Registry     *provider.Registry
	Orgs         *config.OrgCatalog
	Transcripts  transcript.Store
	Clips        *audio.ClipStore
	Metrics      *observability.Metrics
	Logger       *zap.Logger
}

type Server struct {
	cfg          config.Config
	sessions     *session.Store
	orchestrator Orchestrator
	registry     *provider.Registry
	orgs         *config.OrgCatalog
	transcripts  transcript.Store
	clips        *audio.ClipStore
	metrics      *observability.Metrics
	logger       *zap.Logger
	limiter      *ipLimiter
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rps, burst := cfg.SessionStartRate, cfg.SessionStartBurst
	if rps <= 0 {
		rps = 5
	}
	if burst < 1 {
		burst = 10
	}
	return &Server{
		cfg:          cfg,
		sessions:     deps.Sessions,
		orchestrator: deps.Orchestrator,
		registry:     deps.Registry,
		orgs:         deps.Orgs,
		transcripts:  deps.Transcripts,
		clips:        deps.Clips,
		metrics:      deps.Metrics,
		logger:       logger.Named("http"),
		limiter:      newIPLimiter(rps, burst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// The widget is embedded on university sites, so any origin is
				// accepted unless APP_ALLOW_ANY_ORIGIN is off.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger, s.metrics))
	r.Use(cors(s.cfg.AllowAnyOrigin))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.With(s.limiter.middleware).Post("/session/start", s.handleStartSession)
		r.Get("/session/stream", s.handleSessionStream)
		r.Post("/session/{id}/end", s.handleEndSession)

		r.Get("/config/{orgId}", s.handleOrgConfig)
		r.Get("/providers", s.handleListProviders)
		r.Get("/providers/active", s.handleActiveProviders)
		r.Post("/chat", s.handleChat)

		r.Post("/transcripts/{sessionId}/save", s.handleSaveTranscript)
		r.Get("/transcripts/{sessionId}", s.handleGetTranscript)
		r.Delete("/transcripts/{sessionId}", s.handleDeleteTranscript)

		r.Get("/audio/{clipId}", s.handleAudioClip)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"ts": time.Now().UTC().Format(time.RFC3339),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

type successResponse struct {
	Success bool `json:"success"`
}
