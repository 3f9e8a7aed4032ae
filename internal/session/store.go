package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/durmah/internal/provider"
)

const DefaultMaxAge = time.Hour

var (
	ErrNotFound     = errors.New("session not found")
	ErrInvalidToken = errors.New("invalid session token")
	ErrTurnInFlight = errors.New("a turn is already in flight")
)

// Store owns every live session. Expired sessions are swept lazily whenever a
// new session is created; there is no background timer.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byToken  map[string]string
	maxAge   time.Duration
	now      func() time.Time
	onExpire func(*Session)
}

type Option func(*Store)

// WithClock replaces time.Now for activity and expiry bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(maxAge time.Duration, opts ...Option) *Store {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	s := &Store{
		sessions: make(map[string]*Session),
		byToken:  make(map[string]string),
		maxAge:   maxAge,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetExpireHook registers a callback invoked, outside the lock, for every
// session removed by the expiry sweep.
func (s *Store) SetExpireHook(hook func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExpire = hook
}

func (s *Store) Create(p CreateParams) (*Session, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	sess := &Session{
		ID:           uuid.NewString(),
		Token:        token,
		OrgID:        p.OrgID,
		UserID:       p.UserID,
		ConfigID:     p.ConfigID,
		Settings:     cloneSettings(p.Settings),
		CreatedAt:    now,
		LastActivity: now,
	}

	s.mu.Lock()
	expired := s.sweepLocked(now)
	s.sessions[sess.ID] = sess
	s.byToken[token] = sess.ID
	hook := s.onExpire
	out := clone(sess)
	s.mu.Unlock()

	if hook != nil {
		for _, e := range expired {
			hook(e)
		}
	}
	return out, nil
}

// Validate authenticates token and records activity on the session. A token
// whose session has been idle past maxAge is revoked on the spot.
func (s *Store) Validate(token string) (*Session, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	now := s.now().UTC()
	s.mu.Lock()
	id, ok := s.byToken[token]
	if !ok {
		s.mu.Unlock()
		return nil, ErrInvalidToken
	}
	sess := s.sessions[id]
	if now.Sub(sess.LastActivity) > s.maxAge {
		delete(s.sessions, id)
		delete(s.byToken, token)
		hook, expired := s.onExpire, clone(sess)
		s.mu.Unlock()
		if hook != nil {
			hook(expired)
		}
		return nil, ErrInvalidToken
	}
	sess.LastActivity = now
	out := clone(sess)
	s.mu.Unlock()
	return out, nil
}

// Get looks a session up by id without touching its activity.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(sess), nil
}

// End removes the session and revokes its token. The removed session is
// returned; ending an unknown id returns false.
func (s *Store) End(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	delete(s.sessions, id)
	delete(s.byToken, sess.Token)
	return clone(sess), true
}

func (s *Store) Touch(id string) error {
	return s.update(id, func(sess *Session) error {
		sess.LastActivity = s.now().UTC()
		return nil
	})
}

// AppendMessage adds msg to the end of the session's message log.
func (s *Store) AppendMessage(id string, msg provider.Message) error {
	return s.update(id, func(sess *Session) error {
		sess.Messages = append(sess.Messages, msg)
		sess.LastActivity = s.now().UTC()
		return nil
	})
}

// BeginTurn claims the session's single turn slot. Voice turns and typed chat
// share it so their messages never interleave.
func (s *Store) BeginTurn(id string) error {
	return s.update(id, func(sess *Session) error {
		if sess.TurnInFlight {
			return ErrTurnInFlight
		}
		sess.TurnInFlight = true
		return nil
	})
}

// EndTurn releases the slot taken by BeginTurn. Ending a gone session is a
// no-op.
func (s *Store) EndTurn(id string) {
	_ = s.update(id, func(sess *Session) error {
		sess.TurnInFlight = false
		return nil
	})
}

func (s *Store) Messages(id string) ([]provider.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]provider.Message(nil), sess.Messages...), nil
}

// StartListening marks the session as capturing through sttHandle.
func (s *Store) StartListening(id, sttHandle string) error {
	return s.update(id, func(sess *Session) error {
		sess.Listening = true
		sess.STTSessionID = sttHandle
		return nil
	})
}

// StopListening clears the capture flag together with the STT handle.
func (s *Store) StopListening(id string) error {
	return s.update(id, func(sess *Session) error {
		sess.Listening = false
		sess.STTSessionID = ""
		return nil
	})
}

func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) update(id string, fn func(*Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	return fn(sess)
}

func (s *Store) sweepLocked(now time.Time) []*Session {
	var expired []*Session
	for id, sess := range s.sessions {
		if now.Sub(sess.LastActivity) <= s.maxAge {
			continue
		}
		delete(s.sessions, id)
		delete(s.byToken, sess.Token)
		expired = append(expired, clone(sess))
	}
	return expired
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func clone(s *Session) *Session {
	c := *s
	c.Messages = append([]provider.Message(nil), s.Messages...)
	c.Settings = cloneSettings(s.Settings)
	return &c
}

func cloneSettings(in Settings) Settings {
	out := in
	if in.Temperature != nil {
		t := *in.Temperature
		out.Temperature = &t
	}
	out.STTProviders = append([]string(nil), in.STTProviders...)
	out.LLMProviders = append([]string(nil), in.LLMProviders...)
	out.TTSProviders = append([]string(nil), in.TTSProviders...)
	return out
}
