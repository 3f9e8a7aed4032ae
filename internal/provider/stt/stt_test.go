package stt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/antoniostano/durmah/internal/provider"
)

func TestOpenAIBuffersUntilFinal(t *testing.T) {
	var calls atomic.Int32
	var gotBytes atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		f, _, err := r.FormFile("file")
		if assert.NoError(t, err) {
			data, _ := io.ReadAll(f)
			gotBytes.Store(int64(len(data)))
			assert.Equal(t, "RIFF", string(data[:4]))
		}
		_, _ = io.WriteString(w, `{"text":" What is consideration in contract law? "}`)
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL}, zap.NewNop())
	ctx := context.Background()
	handle, err := p.StartSession(ctx, provider.RequestContext{OrgID: "durham"})
	require.NoError(t, err)

	res, err := p.PushAudio(ctx, handle, provider.AudioChunk{Audio: make([]byte, 3200), Sequence: 1})
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.EqualValues(t, 0, calls.Load())

	res, err = p.PushAudio(ctx, handle, provider.AudioChunk{Audio: make([]byte, 3200), Sequence: 2, IsFinal: true})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.IsFinal)
	assert.Equal(t, "What is consideration in contract law?", res.Text)
	assert.EqualValues(t, 1, calls.Load())
	assert.EqualValues(t, 44+6400, gotBytes.Load())

	require.NoError(t, p.EndSession(ctx, handle))
	require.NoError(t, p.EndSession(ctx, handle))
	_, err = p.PushAudio(ctx, handle, provider.AudioChunk{Audio: []byte{1}})
	assert.True(t, errors.Is(err, provider.ErrUnknownSession))
}

func TestOpenAIFlushesLargeBufferAsPartial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"text":"offer and acceptance"}`)
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{BaseURL: srv.URL, FlushBytes: 1000}, nil)
	handle, err := p.StartSession(context.Background(), provider.RequestContext{})
	require.NoError(t, err)

	res, err := p.PushAudio(context.Background(), handle, provider.AudioChunk{Audio: make([]byte, 1001)})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.IsFinal)
	assert.Equal(t, "offer and acceptance", res.Text)
}

type fakeDeepgram struct {
	srv      *httptest.Server
	received atomic.Int32
	finalize atomic.Int32
}

// newFakeDeepgram answers every binary frame using reply; a nil reply means
// no answer.
func newFakeDeepgram(t *testing.T, reply func(n int) []string) *fakeDeepgram {
	t.Helper()
	f := &fakeDeepgram{}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token dg-key" || r.URL.Query().Get("encoding") != "linear16" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.TextMessage {
				if strings.Contains(string(data), "Finalize") {
					f.finalize.Add(1)
				}
				continue
			}
			n := int(f.received.Add(1))
			for _, msg := range reply(n) {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
					return
				}
			}
		}
	}))
	return f
}

func (f *fakeDeepgram) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func result(text string, final bool) string {
	raw, _ := json.Marshal(map[string]any{
		"type":     "Results",
		"is_final": final,
		"channel": map[string]any{
			"alternatives": []map[string]any{{"transcript": text, "confidence": 0.98}},
		},
	})
	return string(raw)
}

func TestDeepgramResolvesChunksInSendOrder(t *testing.T) {
	fake := newFakeDeepgram(t, func(n int) []string {
		if n == 1 {
			return []string{result("what is", false)}
		}
		return []string{result("what is consideration", true)}
	})
	defer fake.srv.Close()

	p := NewDeepgram(DeepgramConfig{APIKey: "dg-key", URL: fake.url(), ResultWait: time.Second}, zap.NewNop())
	ctx := context.Background()
	handle, err := p.StartSession(ctx, provider.RequestContext{OrgID: "durham"})
	require.NoError(t, err)
	defer p.EndSession(ctx, handle)

	res, err := p.PushAudio(ctx, handle, provider.AudioChunk{Audio: []byte{1, 2}, Sequence: 1})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "what is", res.Text)
	assert.False(t, res.IsFinal)

	res, err = p.PushAudio(ctx, handle, provider.AudioChunk{Audio: []byte{3, 4}, Sequence: 2, IsFinal: true})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "what is consideration", res.Text)
	assert.True(t, res.IsFinal)
	assert.InDelta(t, 0.98, res.Confidence, 1e-9)
	assert.Eventually(t, func() bool { return fake.finalize.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestDeepgramNoResultYetIsNotAnError(t *testing.T) {
	fake := newFakeDeepgram(t, func(int) []string { return nil })
	defer fake.srv.Close()

	p := NewDeepgram(DeepgramConfig{APIKey: "dg-key", URL: fake.url(), ResultWait: 30 * time.Millisecond}, nil)
	ctx := context.Background()
	handle, err := p.StartSession(ctx, provider.RequestContext{})
	require.NoError(t, err)

	res, err := p.PushAudio(ctx, handle, provider.AudioChunk{Audio: []byte{1}, Sequence: 1})
	require.NoError(t, err)
	assert.Nil(t, res)

	require.NoError(t, p.EndSession(ctx, handle))
	require.NoError(t, p.EndSession(ctx, handle))
}

func TestDeepgramLateResultGoesToNextChunk(t *testing.T) {
	fake := newFakeDeepgram(t, func(n int) []string {
		if n == 1 {
			return []string{result("first", false), result("second", false)}
		}
		return nil
	})
	defer fake.srv.Close()

	p := NewDeepgram(DeepgramConfig{APIKey: "dg-key", URL: fake.url(), ResultWait: time.Second}, nil)
	ctx := context.Background()
	handle, err := p.StartSession(ctx, provider.RequestContext{})
	require.NoError(t, err)
	defer p.EndSession(ctx, handle)

	res, err := p.PushAudio(ctx, handle, provider.AudioChunk{Audio: []byte{1}, Sequence: 1})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "first", res.Text)

	require.Eventually(t, func() bool {
		s := p.sessions[handle]
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.undelivered) == 1
	}, time.Second, 5*time.Millisecond)

	res, err = p.PushAudio(ctx, handle, provider.AudioChunk{Audio: []byte{2}, Sequence: 2})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "second", res.Text)
}

func TestDeepgramDialFailureIsUnavailable(t *testing.T) {
	fake := newFakeDeepgram(t, func(int) []string { return nil })
	defer fake.srv.Close()

	p := NewDeepgram(DeepgramConfig{APIKey: "wrong", URL: fake.url()}, nil)
	_, err := p.StartSession(context.Background(), provider.RequestContext{})
	assert.True(t, errors.Is(err, provider.ErrProviderUnavailable))
}
