package audio

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clip is one synthesized utterance held for a short while so the widget can
// fetch it by id.
type Clip struct {
	ID          string
	ContentType string
	Data        []byte
	ExpiresAt   time.Time
}

// ClipStore keeps synthesized audio in memory until its TTL elapses.
type ClipStore struct {
	mu    sync.Mutex
	clips map[string]Clip
	ttl   time.Duration
	now   func() time.Time
}

func NewClipStore(ttl time.Duration) *ClipStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ClipStore{clips: make(map[string]Clip), ttl: ttl, now: time.Now}
}

// Put stores data and returns the new clip id. Expired clips are dropped on
// every call.
func (s *ClipStore) Put(contentType string, data []byte) string {
	now := s.now()
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, c := range s.clips {
		if now.After(c.ExpiresAt) {
			delete(s.clips, k)
		}
	}
	s.clips[id] = Clip{ID: id, ContentType: contentType, Data: data, ExpiresAt: now.Add(s.ttl)}
	return id
}

func (s *ClipStore) Get(id string) (Clip, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clips[id]
	if !ok {
		return Clip{}, false
	}
	if s.now().After(c.ExpiresAt) {
		delete(s.clips, id)
		return Clip{}, false
	}
	return c, true
}

func (s *ClipStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clips)
}
