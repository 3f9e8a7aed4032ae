package session

import (
	"time"

	"github.com/antoniostano/durmah/internal/provider"
)

// Settings parameterize the LLM and TTS requests of a session. They are
// fixed when the session is created.
type Settings struct {
	VoiceEnabled bool     `json:"voiceEnabled"`
	VoiceID      string   `json:"voiceId"`
	VoiceRate    float64  `json:"voiceRate"`
	VoicePitch   float64  `json:"voicePitch"`
	Locale       string   `json:"locale"`
	ChatModel    string   `json:"chatModel"`
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxTokens    int      `json:"maxTokens"`

	STTProviders []string `json:"sttProviders"`
	LLMProviders []string `json:"llmProviders"`
	TTSProviders []string `json:"ttsProviders"`
}

// CreateParams binds a new session to its tenant and configuration.
type CreateParams struct {
	ConfigID string
	OrgID    string
	UserID   string
	Settings Settings
}

type Session struct {
	ID           string             `json:"sessionId"`
	Token        string             `json:"-"`
	OrgID        string             `json:"orgId"`
	UserID       string             `json:"userId,omitempty"`
	ConfigID     string             `json:"configId"`
	STTSessionID string             `json:"sttSessionId,omitempty"`
	Messages     []provider.Message `json:"messages"`
	Listening    bool               `json:"listening"`
	TurnInFlight bool               `json:"turnInFlight"`
	Settings     Settings           `json:"settings"`
	CreatedAt    time.Time          `json:"createdAt"`
	LastActivity time.Time          `json:"lastActivity"`
}

// CreateResponse is what callers outside the server ever see of a new session.
type CreateResponse struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
}
