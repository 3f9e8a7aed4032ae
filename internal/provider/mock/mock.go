// Package mock provides deterministic providers for local development and
// tests. Audio pushed to the STT mock is interpreted as UTF-8 text.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/antoniostano/durmah/internal/provider"
)

type STT struct {
	// StartErr and PushErr, when set, are returned by every call.
	StartErr error
	PushErr  error

	mu       sync.Mutex
	sessions map[string]*strings.Builder
	ended    int
}

func NewSTT() *STT {
	return &STT{sessions: make(map[string]*strings.Builder)}
}

func (s *STT) Info() provider.Info {
	return provider.Info{Name: "mock-stt", Version: "1.0.0", Capabilities: []provider.Capability{provider.CapSTTStream}}
}

func (s *STT) StartSession(context.Context, provider.RequestContext) (string, error) {
	if s.StartErr != nil {
		return "", s.StartErr
	}
	handle := uuid.NewString()
	s.mu.Lock()
	s.sessions[handle] = &strings.Builder{}
	s.mu.Unlock()
	return handle, nil
}

func (s *STT) PushAudio(_ context.Context, handle string, chunk provider.AudioChunk) (*provider.PartialResult, error) {
	if s.PushErr != nil {
		return nil, s.PushErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.sessions[handle]
	if !ok {
		return nil, provider.ErrUnknownSession
	}
	buf.Write(chunk.Audio)
	text := strings.TrimSpace(buf.String())
	if chunk.IsFinal {
		buf.Reset()
		return &provider.PartialResult{Text: text, IsFinal: true, Confidence: 1}, nil
	}
	if text == "" {
		return nil, nil
	}
	return &provider.PartialResult{Text: text, Confidence: 0.5}, nil
}

func (s *STT) EndSession(_ context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[handle]; ok {
		delete(s.sessions, handle)
		s.ended++
	}
	return nil
}

// Open reports how many STT sessions are currently open.
func (s *STT) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Ended reports how many sessions have been released.
func (s *STT) Ended() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

type LLM struct {
	// Reply produces the full response text; the default echoes the last
	// user message.
	Reply func(req provider.CompletionRequest) string
	// Err fails Complete outright. Truncate ends the stream without its
	// terminal marker.
	Err      error
	Truncate bool

	mu       sync.Mutex
	requests []provider.CompletionRequest
}

func NewLLM() *LLM { return &LLM{} }

func (l *LLM) Info() provider.Info {
	return provider.Info{Name: "mock-llm", Version: "1.0.0"}
}

func (l *LLM) Complete(_ context.Context, req provider.CompletionRequest, _ provider.RequestContext) (provider.CompletionStream, error) {
	l.mu.Lock()
	l.requests = append(l.requests, req)
	l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}

	reply := defaultReply(req)
	if l.Reply != nil {
		reply = l.Reply(req)
	}
	words := strings.SplitAfter(reply, " ")
	chunks := make([]provider.Chunk, 0, len(words)+1)
	for _, w := range words {
		if w != "" {
			chunks = append(chunks, provider.Chunk{Delta: w})
		}
	}
	if !l.Truncate {
		chunks = append(chunks, provider.Chunk{Done: true})
	}
	return provider.NewSliceStream(chunks...), nil
}

// Requests returns a copy of every request received so far.
func (l *LLM) Requests() []provider.CompletionRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]provider.CompletionRequest(nil), l.requests...)
}

func defaultReply(req provider.CompletionRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == provider.RoleUser {
			return fmt.Sprintf("You asked: %s Let's work through it together.", req.Messages[i].Content)
		}
	}
	return "How can I help you today?"
}

type TTS struct {
	Err error

	mu       sync.Mutex
	requests []provider.SpeechRequest
}

func NewTTS() *TTS { return &TTS{} }

func (t *TTS) Info() provider.Info {
	return provider.Info{Name: "mock-tts", Version: "1.0.0", Capabilities: []provider.Capability{provider.CapTTSStream}}
}

func (t *TTS) Speak(_ context.Context, req provider.SpeechRequest, _ provider.RequestContext) (provider.StreamHandle, error) {
	t.mu.Lock()
	t.requests = append(t.requests, req)
	t.mu.Unlock()
	if t.Err != nil {
		return provider.StreamHandle{}, t.Err
	}
	return provider.StreamHandle{URL: "mock://tts/" + uuid.NewString(), ContentType: "audio/mpeg"}, nil
}

func (t *TTS) Requests() []provider.SpeechRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]provider.SpeechRequest(nil), t.requests...)
}
