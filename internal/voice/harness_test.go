package voice

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/antoniostano/durmah/internal/observability"
	"github.com/antoniostano/durmah/internal/protocol"
	"github.com/antoniostano/durmah/internal/provider"
	"github.com/antoniostano/durmah/internal/provider/mock"
	"github.com/antoniostano/durmah/internal/session"
)

const waitFor = 2 * time.Second

type harness struct {
	t        *testing.T
	store    *session.Store
	registry *provider.Registry
	metrics  *observability.Metrics
	orch     *Orchestrator
	stt      *countingSTT
	llm      provider.LLMProvider
	tts      provider.TTSProvider

	sess     *session.Session
	inbound  chan protocol.ClientMessage
	outbound chan protocol.ServerMessage
	states   chan State
	last     State
	cancel   context.CancelFunc
	done     chan error
}

type harnessOption func(*harnessSetup)

type harnessSetup struct {
	cfg      Config
	llm      provider.LLMProvider
	tts      provider.TTSProvider
	settings session.Settings
}

func withLLM(l provider.LLMProvider) harnessOption {
	return func(s *harnessSetup) { s.llm = l }
}

func withTTS(p provider.TTSProvider) harnessOption {
	return func(s *harnessSetup) { s.tts = p }
}

func withSpeaking(d time.Duration) harnessOption {
	return func(s *harnessSetup) { s.cfg.SpeakingMinDuration = d }
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SpeakingMinDuration = 20 * time.Millisecond
	cfg.SpeakingPerChar = 0
	cfg.Defaults.STTProviders = []string{"mock-stt"}
	cfg.Defaults.LLMProviders = []string{"mock-llm"}
	cfg.Defaults.TTSProviders = []string{"mock-tts"}
	return cfg
}

func durhamSettings() session.Settings {
	return session.Settings{
		VoiceEnabled: true,
		VoiceID:      "Rachel",
		ChatModel:    "gpt-4o",
		Temperature:  floatPtr(0.2),
		MaxTokens:    2048,
	}
}

// newHarness builds an orchestrator over mock providers without starting a
// connection.
func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	setup := harnessSetup{
		cfg:      testConfig(),
		llm:      mock.NewLLM(),
		tts:      mock.NewTTS(),
		settings: durhamSettings(),
	}
	for _, opt := range opts {
		opt(&setup)
	}

	h := &harness{
		t:        t,
		store:    session.NewStore(time.Hour),
		registry: provider.NewRegistry(),
		metrics:  observability.NewMetrics("voice_test"),
		stt:      &countingSTT{STT: mock.NewSTT()},
		llm:      setup.llm,
		tts:      setup.tts,
		states:   make(chan State, 256),
	}
	require.NoError(t, h.registry.Register(provider.ModalitySTT, "mock-stt", h.stt))
	require.NoError(t, h.registry.Register(provider.ModalityLLM, "mock-llm", h.llm))
	if h.tts != nil {
		require.NoError(t, h.registry.Register(provider.ModalityTTS, "mock-tts", h.tts))
	}
	h.orch = NewOrchestrator(setup.cfg, h.store, h.registry, h.metrics, zap.NewNop())
	h.orch.SetStateHook(func(_ string, s State) { h.states <- s })

	sess, err := h.store.Create(session.CreateParams{
		ConfigID: "durham-law-2025",
		OrgID:    "durham",
		Settings: setup.settings,
	})
	require.NoError(t, err)
	h.sess = sess
	return h
}

// connect starts RunConnection for the harness session.
func (h *harness) connect() {
	h.connectWithToken(h.sess.Token)
}

func (h *harness) connectWithToken(token string) {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.inbound = make(chan protocol.ClientMessage, 64)
	h.outbound = make(chan protocol.ServerMessage, 256)
	h.done = make(chan error, 1)
	go func() {
		h.done <- h.orch.RunConnection(ctx, token, h.inbound, h.outbound)
	}()
	h.t.Cleanup(cancel)
}

func (h *harness) send(msg protocol.ClientMessage) {
	h.inbound <- msg
}

func (h *harness) say(text string, seq int64) {
	h.send(protocol.AudioChunk{Audio: []byte(text), Sequence: seq, IsFinal: true})
}

func (h *harness) next() protocol.ServerMessage {
	h.t.Helper()
	select {
	case msg := <-h.outbound:
		return msg
	case <-time.After(waitFor):
		h.t.Fatalf("timed out waiting for outbound frame")
		return nil
	}
}

// expect reads the next frame and asserts its type.
func (h *harness) expect(want protocol.MessageType) protocol.ServerMessage {
	h.t.Helper()
	msg := h.next()
	require.Equal(h.t, want, msg.ServerType(), "frame %#v", msg)
	return msg
}

// until reads frames up to and including the first one of type want.
func (h *harness) until(want protocol.MessageType) []protocol.ServerMessage {
	h.t.Helper()
	var seen []protocol.ServerMessage
	for {
		msg := h.next()
		seen = append(seen, msg)
		if msg.ServerType() == want {
			return seen
		}
	}
}

func (h *harness) noFrame(d time.Duration) {
	h.t.Helper()
	select {
	case msg := <-h.outbound:
		h.t.Fatalf("unexpected frame %#v", msg)
	case <-time.After(d):
	}
}

// waitState blocks until the most recent observed transition is want.
func (h *harness) waitState(want State) {
	h.t.Helper()
	deadline := time.After(waitFor)
	for {
		if h.last == want && len(h.states) == 0 {
			return
		}
		select {
		case s := <-h.states:
			h.last = s
		case <-deadline:
			h.t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

// startListening sends start_listening and plays through the greeting.
func (h *harness) startListening() {
	h.t.Helper()
	h.send(protocol.StartListening{})
	h.until(protocol.TypeAssistantSpeakingFinished)
	h.waitState(StateListening)
}

func (h *harness) messages() []provider.Message {
	h.t.Helper()
	msgs, err := h.store.Messages(h.sess.ID)
	require.NoError(h.t, err)
	return msgs
}

func (h *harness) closeAndWait() error {
	h.t.Helper()
	close(h.inbound)
	select {
	case err := <-h.done:
		return err
	case <-time.After(waitFor):
		h.t.Fatalf("connection did not stop")
		return nil
	}
}

type countingSTT struct {
	*mock.STT
	pushes atomic.Int32
}

func (c *countingSTT) PushAudio(ctx context.Context, handle string, chunk provider.AudioChunk) (*provider.PartialResult, error) {
	c.pushes.Add(1)
	return c.STT.PushAudio(ctx, handle, chunk)
}

// gatedLLM blocks every completion until released and fails the first
// failures calls.
type gatedLLM struct {
	*mock.LLM
	failures atomic.Int32
	gate     chan struct{}
	started  chan struct{}
	once     sync.Once
}

func newGatedLLM(failures int32, gated bool) *gatedLLM {
	g := &gatedLLM{LLM: mock.NewLLM(), started: make(chan struct{}, 16)}
	g.failures.Store(failures)
	if gated {
		g.gate = make(chan struct{})
	}
	return g
}

func (g *gatedLLM) release() {
	g.once.Do(func() { close(g.gate) })
}

func (g *gatedLLM) Complete(ctx context.Context, req provider.CompletionRequest, rc provider.RequestContext) (provider.CompletionStream, error) {
	g.started <- struct{}{}
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.failures.Add(-1) >= 0 {
		return nil, &provider.APIError{Provider: "mock-llm", StatusCode: 500, Body: "upstream exploded"}
	}
	return g.LLM.Complete(ctx, req, rc)
}
