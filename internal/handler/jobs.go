package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/arturoeanton/openipc-ragbot/internal/domain"
	"github.com/arturoeanton/openipc-ragbot/internal/port"
	"github.com/arturoeanton/openipc-ragbot/internal/service"
)

// Job states.
const (
	JobRunning  = "running"
	JobComplete = "complete"
	JobError    = "error"
)

// JobStatus is the state of one background ingestion run.
type JobStatus struct {
	ID          string               `json:"id"`
	Status      string               `json:"status"` // running, complete, error
	Current     string               `json:"current,omitempty"`
	ItemsDone   int                  `json:"items_done"`
	ChunksAdded int                  `json:"chunks_added"`
	Skipped     int                  `json:"skipped"`
	Run         *domain.IngestionRun `json:"run,omitempty"`
	Error       string               `json:"error,omitempty"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt time.Time            `json:"completed_at,omitempty"`
}

func (j *JobStatus) done() bool {
	return j.Status == JobComplete || j.Status == JobError
}

// IngestionRunner performs one ingestion pass.
type IngestionRunner interface {
	Run(ctx context.Context, progress service.ProgressFunc) (*domain.IngestionRun, error)
}

// JobTracker runs ingestion in the background, at most one run at a time,
// and fans progress out to subscribers.
type JobTracker struct {
	runner IngestionRunner

	mu      sync.RWMutex
	jobs    map[string]*JobStatus
	subs    map[string][]chan JobStatus
	running string
}

// NewJobTracker creates a tracker driving runner.
func NewJobTracker(runner IngestionRunner) *JobTracker {
	return &JobTracker{
		runner: runner,
		jobs:   make(map[string]*JobStatus),
		subs:   make(map[string][]chan JobStatus),
	}
}

// Start launches a run and returns its job. It fails with
// port.ErrIngestionRunning while another run is active. The run is detached
// from ctx's cancellation.
func (t *JobTracker) Start(ctx context.Context) (*JobStatus, error) {
	t.mu.Lock()
	if t.running != "" {
		t.mu.Unlock()
		return nil, port.ErrIngestionRunning
	}
	job := &JobStatus{ID: uuid.NewString(), Status: JobRunning, StartedAt: time.Now()}
	t.jobs[job.ID] = job
	t.running = job.ID
	snapshot := *job
	t.mu.Unlock()

	go t.run(context.WithoutCancel(ctx), job.ID)
	return &snapshot, nil
}

func (t *JobTracker) run(ctx context.Context, id string) {
	run, err := t.runner.Run(ctx, func(p service.Progress) {
		t.update(id, func(j *JobStatus) {
			j.Current = string(p.Kind) + ":" + p.Identity
			j.ItemsDone = p.ItemsDone
			j.ChunksAdded = p.ChunksAdded
			if p.Skipped {
				j.Skipped++
			}
		})
	})

	t.update(id, func(j *JobStatus) {
		j.Run = run
		j.Current = ""
		j.CompletedAt = time.Now()
		if err != nil {
			slog.Error("ingestion job failed", "job_id", id, "error", err)
			j.Status = JobError
			j.Error = err.Error()
			return
		}
		j.Status = JobComplete
	})
}

// update mutates a job and notifies subscribers.
func (t *JobTracker) update(id string, fn func(*JobStatus)) {
	t.mu.Lock()
	job, ok := t.jobs[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	fn(job)
	snapshot := *job
	subs := t.subs[id]
	if job.done() {
		if t.running == id {
			t.running = ""
		}
		// subscribers read the final state from GetJob once closed
		delete(t.subs, id)
		for _, ch := range subs {
			close(ch)
		}
		t.mu.Unlock()
		return
	}
	subs = append([]chan JobStatus(nil), subs...)
	t.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

// GetJob returns a snapshot of a job.
func (t *JobTracker) GetJob(id string) (*JobStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[id]
	if !ok {
		return nil, false
	}
	snapshot := *job
	return &snapshot, true
}

// Subscribe returns the current job snapshot and a channel of updates.
func (t *JobTracker) Subscribe(id string) (*JobStatus, chan JobStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[id]
	if !ok {
		return nil, nil, false
	}
	snapshot := *job
	ch := make(chan JobStatus, 16)
	if !snapshot.done() {
		t.subs[id] = append(t.subs[id], ch)
	}
	return &snapshot, ch, true
}

// Unsubscribe removes a channel from subscribers. Channels of finished jobs
// are already closed and removed.
func (t *JobTracker) Unsubscribe(id string, ch chan JobStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	subs := t.subs[id]
	for i, s := range subs {
		if s == ch {
			t.subs[id] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

// IngestHandler exposes background ingestion runs.
type IngestHandler struct {
	tracker *JobTracker
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(tracker *JobTracker) *IngestHandler {
	return &IngestHandler{tracker: tracker}
}

// Register sets up ingestion routes.
func (h *IngestHandler) Register(router fiber.Router) {
	ingest := router.Group("/ingest")
	ingest.Post("/", h.Start)
	ingest.Get("/:id", h.GetStatus)
	ingest.Get("/:id/stream", h.StreamSSE)
}

// Start launches a background ingestion run.
func (h *IngestHandler) Start(c fiber.Ctx) error {
	job, err := h.tracker.Start(c.Context())
	if errors.Is(err, port.ErrIngestionRunning) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	slog.Info("ingestion job started", "job_id", job.ID)
	return c.Status(fiber.StatusAccepted).JSON(job)
}

// GetStatus returns the current job status.
func (h *IngestHandler) GetStatus(c fiber.Ctx) error {
	job, ok := h.tracker.GetJob(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "job not found"})
	}
	return c.JSON(job)
}

// StreamSSE streams job updates via Server-Sent Events.
func (h *IngestHandler) StreamSSE(c fiber.Ctx) error {
	id := c.Params("id")
	job, ch, ok := h.tracker.Subscribe(id)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "job not found"})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	if job.done() {
		return c.SendString(sseEvent(*job))
	}

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer h.tracker.Unsubscribe(id, ch)

		fmt.Fprint(w, sseEvent(*job))
		if err := w.Flush(); err != nil {
			return
		}

		timeout := time.After(30 * time.Minute)
		for {
			select {
			case update, ok := <-ch:
				if !ok {
					if final, found := h.tracker.GetJob(id); found {
						fmt.Fprint(w, sseEvent(*final))
						w.Flush()
					}
					return
				}
				fmt.Fprint(w, sseEvent(update))
				if err := w.Flush(); err != nil {
					return
				}
			case <-timeout:
				slog.Warn("SSE timeout", "job_id", id)
				return
			}
		}
	})
}

func sseEvent(job JobStatus) string {
	eventType := "progress"
	if job.done() {
		eventType = job.Status
	}
	data, _ := json.Marshal(job)
	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data)
}
