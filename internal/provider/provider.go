// Package provider defines the vendor-neutral contracts for speech-to-text,
// language-model completion and text-to-speech, plus the registry that maps
// provider names to live instances.
package provider

import (
	"context"
	"strings"
)

type Modality string

const (
	ModalitySTT Modality = "stt"
	ModalityLLM Modality = "llm"
	ModalityTTS Modality = "tts"
)

// Capability is a short feature tag advertised by a provider.
type Capability string

const (
	CapTTSStream       Capability = "tts:stream"
	CapTTSVoiceClone   Capability = "tts:voice-clone"
	CapTTSMultilingual Capability = "tts:multilingual"
	CapSTTStream       Capability = "stt:stream"
	CapSTTPunctuation  Capability = "stt:punctuation"
	CapSTTDiarization  Capability = "stt:diarization"
	CapLLMFunctions    Capability = "llm:functions"
	CapLLMRealtime     Capability = "llm:realtime"
	CapLLMToolUse      Capability = "llm:tooluse"
)

// Info is the static descriptor of a provider.
type Info struct {
	Name         string       `json:"name"`
	Version      string       `json:"version"`
	Capabilities []Capability `json:"capabilities"`
}

func (i Info) Has(c Capability) bool {
	for _, have := range i.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// RequestContext scopes a vendor call to a tenant. Cancellation travels on the
// context.Context passed alongside it.
type RequestContext struct {
	OrgID   string
	UserID  string
	TraceID string
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Provider is implemented by every concrete provider regardless of modality.
type Provider interface {
	Info() Info
}

// AudioChunk is one slice of captured PCM16 audio.
type AudioChunk struct {
	Audio    []byte
	Sequence int64
	IsFinal  bool
}

type PartialResult struct {
	Text       string
	IsFinal    bool
	Confidence float64
}

// STTProvider turns pushed audio into transcripts. PushAudio returns a nil
// result when the provider has nothing to report yet.
type STTProvider interface {
	Provider
	StartSession(ctx context.Context, rc RequestContext) (string, error)
	PushAudio(ctx context.Context, handle string, chunk AudioChunk) (*PartialResult, error)
	EndSession(ctx context.Context, handle string) error
}

type CompletionRequest struct {
	Model    string
	Messages []Message
	// Temperature is nil to use the provider default.
	Temperature *float64
	MaxTokens   int
}

// Chunk is one element of a completion stream: a text delta or the terminal
// marker.
type Chunk struct {
	Delta string
	Done  bool
}

// CompletionStream is single-pass. Recv returns io.EOF once the underlying
// transport is exhausted.
type CompletionStream interface {
	Recv() (Chunk, error)
	Close() error
}

type LLMProvider interface {
	Provider
	Complete(ctx context.Context, req CompletionRequest, rc RequestContext) (CompletionStream, error)
}

type SpeechRequest struct {
	Text    string
	VoiceID string
	Rate    float64
	Pitch   float64
	Locale  string
}

// StreamHandle references synthesized audio.
type StreamHandle struct {
	URL         string
	ContentType string
}

type TTSProvider interface {
	Provider
	Speak(ctx context.Context, req SpeechRequest, rc RequestContext) (StreamHandle, error)
}

// ParseNames splits a comma separated provider list, dropping blanks.
func ParseNames(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if name := strings.TrimSpace(part); name != "" {
			out = append(out, name)
		}
	}
	return out
}
