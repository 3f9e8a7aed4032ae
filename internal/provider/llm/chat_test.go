package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/antoniostano/durmah/internal/provider"
	"github.com/antoniostano/durmah/internal/reliability"
)

func sseServer(t *testing.T, lines []string, check func(r *http.Request, body chatRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if check != nil {
			check(r, body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n\n", line)
		}
	}))
}

func TestOpenAICompleteStreamsDeltas(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"choices":[{"delta":{"role":"assistant"}}]}`,
		`data: {"choices":[{"delta":{"content":"Consideration "}}]}`,
		`: keep-alive`,
		`data: not-json`,
		`data: {"choices":[{"delta":{"content":"is a bargained-for exchange."}}]}`,
		`data: [DONE]`,
	}, func(r *http.Request, body chatRequest) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "gpt-4o", body.Model)
		assert.True(t, body.Stream)
		assert.InDelta(t, 0.2, body.Temperature, 1e-9)
		assert.Equal(t, 2048, body.MaxTokens)
		if assert.Len(t, body.Messages, 2) {
			assert.Equal(t, provider.RoleSystem, body.Messages[0].Role)
		}
	})
	defer srv.Close()

	p := NewOpenAI(Config{APIKey: "sk-test", BaseURL: srv.URL}, zap.NewNop())
	stream, err := p.Complete(context.Background(), provider.CompletionRequest{
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: "persona"},
			{Role: provider.RoleUser, Content: "What is consideration in contract law?"},
		},
	}, provider.RequestContext{OrgID: "durham"})
	require.NoError(t, err)

	text, err := provider.Drain(stream)
	require.NoError(t, err)
	assert.Equal(t, "Consideration is a bargained-for exchange.", text)
}

func TestCompleteSendsExplicitZeroTemperature(t *testing.T) {
	got := make(chan chatRequest, 1)
	srv := sseServer(t, []string{`data: [DONE]`}, func(_ *http.Request, body chatRequest) {
		got <- body
	})
	defer srv.Close()

	zero := 0.0
	p := NewOpenAI(Config{BaseURL: srv.URL}, nil)
	stream, err := p.Complete(context.Background(), provider.CompletionRequest{Temperature: &zero}, provider.RequestContext{})
	require.NoError(t, err)
	_, _ = provider.Drain(stream)
	sent := <-got
	assert.Zero(t, sent.Temperature)
	assert.Equal(t, DefaultOpenAIModel, sent.Model)
}

func TestMistralStreamWithoutDoneIsIncomplete(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"choices":[{"delta":{"content":"partial"}}]}`,
	}, func(_ *http.Request, body chatRequest) {
		assert.Equal(t, DefaultMistralModel, body.Model)
	})
	defer srv.Close()

	p := NewMistral(Config{APIKey: "k", BaseURL: srv.URL}, nil)
	assert.Equal(t, "mistral", p.Info().Name)
	stream, err := p.Complete(context.Background(), provider.CompletionRequest{}, provider.RequestContext{})
	require.NoError(t, err)

	_, err = provider.Drain(stream)
	assert.True(t, errors.Is(err, provider.ErrIncompleteGeneration))
}

func TestCompleteRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenAI(Config{
		BaseURL: srv.URL,
		Retry:   reliability.Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}, nil)
	stream, err := p.Complete(context.Background(), provider.CompletionRequest{}, provider.RequestContext{})
	require.NoError(t, err)
	text, err := provider.Drain(stream)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.EqualValues(t, 2, calls.Load())
}

func TestCompleteSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewOpenAI(Config{BaseURL: srv.URL}, nil)
	_, err := p.Complete(context.Background(), provider.CompletionRequest{}, provider.RequestContext{})
	var apiErr *provider.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "openai", apiErr.Provider)
}

func TestSlowStreamOutlivesHeaderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		for _, word := range []string{"Offer ", "and ", "acceptance ", "form agreement."} {
			time.Sleep(100 * time.Millisecond)
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", word)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenAI(Config{BaseURL: srv.URL, HTTPClient: provider.NewStreamingHTTPClient(250 * time.Millisecond)}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := p.Complete(ctx, provider.CompletionRequest{}, provider.RequestContext{})
	require.NoError(t, err)
	text, err := provider.Drain(stream)
	require.NoError(t, err)
	assert.Equal(t, "Offer and acceptance form agreement.", text)
}

func TestStreamingClientBoundsHeaderWait(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	p := NewOpenAI(Config{BaseURL: srv.URL, HTTPClient: provider.NewStreamingHTTPClient(100 * time.Millisecond)}, nil)
	start := time.Now()
	_, err := p.Complete(context.Background(), provider.CompletionRequest{}, provider.RequestContext{})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
