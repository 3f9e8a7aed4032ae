package provider

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// Drain consumes a completion stream to its terminal marker and returns the
// concatenated deltas. A stream that ends before the marker yields
// ErrIncompleteGeneration.
func Drain(stream CompletionStream) (string, error) {
	defer stream.Close()

	var out strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", ErrIncompleteGeneration
		}
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrIncompleteGeneration, err)
		}
		out.WriteString(chunk.Delta)
		if chunk.Done {
			return out.String(), nil
		}
	}
}

// SliceStream replays a fixed chunk sequence. It is used by providers whose
// vendor returns a whole response at once.
type SliceStream struct {
	chunks []Chunk
	next   int
}

func NewSliceStream(chunks ...Chunk) *SliceStream {
	return &SliceStream{chunks: chunks}
}

func (s *SliceStream) Recv() (Chunk, error) {
	if s.next >= len(s.chunks) {
		return Chunk{}, io.EOF
	}
	c := s.chunks[s.next]
	s.next++
	return c, nil
}

func (s *SliceStream) Close() error {
	s.next = len(s.chunks)
	return nil
}
