package transcript

import (
	"context"
	"errors"
	"time"

	"github.com/antoniostano/durmah/internal/policy"
)

var ErrNotFound = errors.New("transcript not found")

// Entry is one line of a saved conversation.
type Entry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Record is a saved transcript as returned by Get.
type Record struct {
	SessionID string    `json:"sessionId"`
	Entries   []Entry   `json:"transcript"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists transcripts keyed by session id. Save replaces any previous
// transcript for the session; Delete of an unknown id is not an error.
type Store interface {
	Save(ctx context.Context, sessionID string, entries []Entry) error
	Get(ctx context.Context, sessionID string) (Record, error)
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

// Redact masks PII in every entry and reports whether anything changed.
func Redact(entries []Entry) ([]Entry, bool) {
	out := make([]Entry, len(entries))
	var changed bool
	for i, e := range entries {
		content, c := policy.RedactPII(e.Content)
		changed = changed || c
		out[i] = Entry{Role: e.Role, Content: content}
	}
	return out, changed
}

func cloneEntries(entries []Entry) []Entry {
	if entries == nil {
		return []Entry{}
	}
	return append([]Entry(nil), entries...)
}
