// Package chunker splits long text into overlapping fixed-size windows.
package chunker

import (
	"errors"

	"github.com/arturoeanton/openipc-ragbot/internal/domain"
)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 2000

// DefaultChunkOverlap is the default number of characters shared by
// neighbouring chunks.
const DefaultChunkOverlap = 200

// ErrInvalidParams is returned when the overlap is not smaller than the
// chunk size.
var ErrInvalidParams = errors.New("chunker: overlap must be non-negative and smaller than chunk size")

// Chunker cuts text into windows of at most Size characters. Each window
// starts Size-Overlap characters after the previous one.
type Chunker struct {
	size    int
	overlap int
}

// New creates a chunker. overlap < size is required.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, ErrInvalidParams
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Default returns a chunker with the default window and overlap.
func Default() *Chunker {
	return &Chunker{size: DefaultChunkSize, overlap: DefaultChunkOverlap}
}

// Size returns the window size in characters.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the overlap in characters.
func (c *Chunker) Overlap() int { return c.overlap }

// Split cuts text into chunks. Lengths are counted in characters (runes), not
// bytes. Empty text yields no chunks.
func (c *Chunker) Split(documentIdentity, text string) []domain.Chunk {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	n := len(runes)
	step := c.size - c.overlap

	chunks := make([]domain.Chunk, 0, n/step+1)
	for start := 0; ; start += step {
		end := start + c.size
		if end > n {
			end = n
		}
		chunks = append(chunks, domain.Chunk{
			DocumentIdentity: documentIdentity,
			Index:            len(chunks),
			Text:             string(runes[start:end]),
		})
		// The last window reached the end of the text; a further window
		// would lie entirely inside this one.
		if end == n {
			break
		}
	}
	return chunks
}
