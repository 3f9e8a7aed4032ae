package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/antoniostano/durmah/internal/provider"
)

const (
	DefaultDeepgramURL = "wss://api.deepgram.com/v1/listen"
	defaultResultWait  = time.Second
	maxUndelivered     = 32
)

type DeepgramConfig struct {
	APIKey string
	URL    string
	// ResultWait bounds how long PushAudio waits for a transcript before
	// reporting that nothing is available yet.
	ResultWait time.Duration
	Dialer     *websocket.Dialer
}

// Deepgram streams audio over one vendor websocket per STT session. Each
// pushed chunk registers its own waiter. Vendor results carry no chunk
// identity, so they resolve waiters first-in first-out, in send order.
type Deepgram struct {
	cfg    DeepgramConfig
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*deepgramSession
}

func NewDeepgram(cfg DeepgramConfig, logger *zap.Logger) *Deepgram {
	if cfg.URL == "" {
		cfg.URL = DefaultDeepgramURL
	}
	if cfg.ResultWait <= 0 {
		cfg.ResultWait = defaultResultWait
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deepgram{cfg: cfg, logger: logger.Named("deepgram-stt"), sessions: make(map[string]*deepgramSession)}
}

func (d *Deepgram) Info() provider.Info {
	return provider.Info{
		Name:         "deepgram-stt",
		Version:      "1.0.0",
		Capabilities: []provider.Capability{provider.CapSTTStream, provider.CapSTTPunctuation, provider.CapSTTDiarization},
	}
}

func (d *Deepgram) StartSession(ctx context.Context, rc provider.RequestContext) (string, error) {
	u, err := url.Parse(d.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse deepgram url: %w", err)
	}
	q := u.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", "16000")
	q.Set("channels", "1")
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.cfg.APIKey)

	conn, _, err := d.cfg.Dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		d.logger.Warn("dial failed", zap.String("org_id", rc.OrgID), zap.Error(err))
		return "", fmt.Errorf("%w: dial deepgram: %v", provider.ErrProviderUnavailable, err)
	}

	handle := uuid.NewString()
	s := &deepgramSession{conn: conn, closed: make(chan struct{}), logger: d.logger.With(zap.String("stt_session", handle))}
	go s.readLoop()

	d.mu.Lock()
	d.sessions[handle] = s
	d.mu.Unlock()
	return handle, nil
}

func (d *Deepgram) PushAudio(ctx context.Context, handle string, chunk provider.AudioChunk) (*provider.PartialResult, error) {
	d.mu.Lock()
	s, ok := d.sessions[handle]
	d.mu.Unlock()
	if !ok {
		return nil, provider.ErrUnknownSession
	}

	w := s.register()
	if err := s.send(chunk); err != nil {
		s.forget(w)
		return nil, fmt.Errorf("%w: write audio: %v", provider.ErrProviderUnavailable, err)
	}

	timer := time.NewTimer(d.cfg.ResultWait)
	defer timer.Stop()
	select {
	case res := <-w.result:
		return res, nil
	case <-timer.C:
		s.forget(w)
		return nil, nil
	case <-s.closed:
		s.forget(w)
		return nil, fmt.Errorf("%w: deepgram stream closed", provider.ErrProviderUnavailable)
	case <-ctx.Done():
		s.forget(w)
		return nil, ctx.Err()
	}
}

func (d *Deepgram) EndSession(_ context.Context, handle string) error {
	d.mu.Lock()
	s, ok := d.sessions[handle]
	delete(d.sessions, handle)
	d.mu.Unlock()
	if !ok {
		return nil
	}
	return s.close()
}

type waiter struct {
	result chan *provider.PartialResult
}

type deepgramSession struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
	logger    *zap.Logger

	mu          sync.Mutex
	pending     []*waiter
	undelivered []*provider.PartialResult
}

// register queues a waiter behind those already pending. A result that
// arrived while nobody was waiting is handed over immediately.
func (s *deepgramSession) register() *waiter {
	w := &waiter{result: make(chan *provider.PartialResult, 1)}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.undelivered) > 0 {
		w.result <- s.undelivered[0]
		s.undelivered = s.undelivered[1:]
		return w
	}
	s.pending = append(s.pending, w)
	return w
}

func (s *deepgramSession) forget(w *waiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.pending {
		if p == w {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
	// Resolved between the timeout and this call: keep the result for the
	// next chunk instead of losing it.
	select {
	case res := <-w.result:
		if res != nil {
			s.undelivered = append([]*provider.PartialResult{res}, s.undelivered...)
		}
	default:
	}
}

func (s *deepgramSession) deliver(res *provider.PartialResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) > 0 {
		w := s.pending[0]
		s.pending = s.pending[1:]
		w.result <- res
		return
	}
	if res == nil {
		return
	}
	if len(s.undelivered) == maxUndelivered {
		s.undelivered = s.undelivered[1:]
	}
	s.undelivered = append(s.undelivered, res)
}

func (s *deepgramSession) send(chunk provider.AudioChunk) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk.Audio); err != nil {
		return err
	}
	if chunk.IsFinal {
		return s.conn.WriteJSON(map[string]string{"type": "Finalize"})
	}
	return nil
}

type deepgramResult struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel *struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (s *deepgramSession) readLoop() {
	defer s.shutdown()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg deepgramResult
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("skipping undecodable message", zap.Error(err))
			continue
		}
		if msg.Channel == nil {
			continue
		}
		var res *provider.PartialResult
		if len(msg.Channel.Alternatives) > 0 && msg.Channel.Alternatives[0].Transcript != "" {
			alt := msg.Channel.Alternatives[0]
			confidence := alt.Confidence
			if confidence == 0 {
				confidence = 0.9
			}
			res = &provider.PartialResult{Text: alt.Transcript, IsFinal: msg.IsFinal, Confidence: confidence}
		}
		s.deliver(res)
	}
}

func (s *deepgramSession) close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteJSON(map[string]string{"type": "CloseStream"})
	s.writeMu.Unlock()
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
		close(s.closed)
	})
	return err
}

func (s *deepgramSession) shutdown() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
		close(s.closed)
	})
}
