package domain

import "time"

// SkipRecord explains why one item (a source, file or page) was left out of an
// ingestion run.
type SkipRecord struct {
	Kind     SourceKind `json:"kind"`
	Identity string     `json:"identity"`
	Reason   string     `json:"reason"`
}

// IngestionRun summarizes one pass of the ingestion pipeline. It is built in
// memory, logged, and returned to the caller; it is never persisted.
type IngestionRun struct {
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration_ns"`
	ReposProcessed int           `json:"repos_processed"`
	FilesProcessed int           `json:"files_processed"`
	PagesProcessed int           `json:"pages_processed"`
	ChatsProcessed int           `json:"chats_processed"`
	ChunksAdded    int           `json:"chunks_added"`
	CountBefore    int           `json:"count_before"`
	CountAfter     int           `json:"count_after"`
	Skipped        []SkipRecord  `json:"skipped"`
}

// NewRecords is the growth of the index over the run.
func (r *IngestionRun) NewRecords() int {
	return r.CountAfter - r.CountBefore
}

// Failures returns the number of skipped items.
func (r *IngestionRun) Failures() int {
	return len(r.Skipped)
}

// Skip appends a skip record built from err.
func (r *IngestionRun) Skip(kind SourceKind, identity string, err error) {
	reason := "unknown"
	if err != nil {
		reason = err.Error()
	}
	r.Skipped = append(r.Skipped, SkipRecord{Kind: kind, Identity: identity, Reason: reason})
}
