package store

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/arturoeanton/openipc-ragbot/internal/domain"
)

// MemoryIndex is an in-process knowledge index scored by term-frequency
// cosine similarity. It backs local runs and tests.
type MemoryIndex struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

type memoryRecord struct {
	text  string
	terms map[string]float64
	norm  float64
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{records: make(map[string]memoryRecord)}
}

// Upsert replaces records by id.
func (m *MemoryIndex) Upsert(ctx context.Context, records []domain.VectorRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		terms := termFrequencies(r.Text)
		m.records[r.ID] = memoryRecord{text: r.Text, terms: terms, norm: vectorNorm(terms)}
	}
	return nil
}

// Query returns up to k records sharing terms with text, best first. Ties are
// broken by id.
func (m *MemoryIndex) Query(ctx context.Context, text string, k int) ([]domain.ScoredText, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := termFrequencies(text)
	qNorm := vectorNorm(q)
	if qNorm == 0 || k <= 0 {
		return []domain.ScoredText{}, nil
	}

	m.mu.RLock()
	hits := make([]domain.ScoredText, 0, len(m.records))
	for id, rec := range m.records {
		if rec.norm == 0 {
			continue
		}
		var dot float64
		for term, w := range q {
			dot += w * rec.terms[term]
		}
		if dot == 0 {
			continue
		}
		hits = append(hits, domain.ScoredText{ID: id, Text: rec.text, Score: dot / (qNorm * rec.norm)})
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Count returns the number of stored records.
func (m *MemoryIndex) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

// Get returns the text stored under id.
func (m *MemoryIndex) Get(id string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	return rec.text, ok
}

func termFrequencies(text string) map[string]float64 {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tf := make(map[string]float64, len(fields))
	for _, f := range fields {
		tf[f]++
	}
	return tf
}

func vectorNorm(v map[string]float64) float64 {
	var sum float64
	for _, w := range v {
		sum += w * w
	}
	return math.Sqrt(sum)
}
