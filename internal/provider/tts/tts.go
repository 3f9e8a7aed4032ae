// Package tts implements text-to-speech providers. Synthesized audio is read
// fully from the vendor and parked in a ClipSink; the returned StreamHandle
// points at the server route that serves it.
package tts

import (
	"fmt"
	"io"
	"strings"

	"github.com/antoniostano/durmah/internal/provider"
)

const (
	// ClipPathPrefix is where the HTTP layer serves stored clips.
	ClipPathPrefix = "/v1/audio/"
	maxAudioBytes  = 32 << 20
)

// ClipSink stores synthesized audio and returns its id.
type ClipSink interface {
	Put(contentType string, data []byte) string
}

func storeClip(sink ClipSink, contentType string, body io.Reader) (provider.StreamHandle, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxAudioBytes))
	if err != nil {
		return provider.StreamHandle{}, fmt.Errorf("%w: read audio: %v", provider.ErrSynthesisFailed, err)
	}
	if len(data) == 0 {
		return provider.StreamHandle{}, fmt.Errorf("%w: empty audio", provider.ErrSynthesisFailed)
	}
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	id := sink.Put(contentType, data)
	return provider.StreamHandle{URL: ClipPathPrefix + id, ContentType: contentType}, nil
}

func mediaType(header string) string {
	if i := strings.IndexByte(header, ';'); i >= 0 {
		header = header[:i]
	}
	return strings.TrimSpace(header)
}
