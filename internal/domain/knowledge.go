package domain

import (
	"fmt"
	"strings"
)

// Document is one unit of materialized source text: a repository file, a web
// page, or the joined history of a chat.
type Document struct {
	Kind     SourceKind `json:"kind"`
	Identity string     `json:"identity"`
	Text     string     `json:"-"`
}

// Chunk is a contiguous window of a document's text.
type Chunk struct {
	DocumentIdentity string `json:"document_identity"`
	Index            int    `json:"index"`
	Text             string `json:"text"`
}

// VectorRecord is the unit stored in the knowledge index. The embedding is
// computed by the index itself.
type VectorRecord struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// ScoredText is a query hit, most relevant first.
type ScoredText struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

var identityReplacer = strings.NewReplacer("/", "_", "\\", "_")

// SanitizeIdentity replaces path separators with underscores.
func SanitizeIdentity(identity string) string {
	return identityReplacer.Replace(identity)
}

// RecordID builds the deterministic record id {kind}_{identity}_{index}.
// Re-ingesting the same document with the same chunking parameters yields
// the same ids.
func RecordID(kind SourceKind, identity string, index int) string {
	return fmt.Sprintf("%s_%s_%d", kind, SanitizeIdentity(identity), index)
}

// RecordsFor converts the chunks of one document into vector records.
func RecordsFor(doc Document, chunks []Chunk) []VectorRecord {
	records := make([]VectorRecord, len(chunks))
	for i, c := range chunks {
		records[i] = VectorRecord{
			ID:   RecordID(doc.Kind, doc.Identity, c.Index),
			Text: c.Text,
		}
	}
	return records
}
