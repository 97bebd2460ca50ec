package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/openipc-ragbot/internal/adapter/store"
	"github.com/arturoeanton/openipc-ragbot/internal/domain"
	"github.com/arturoeanton/openipc-ragbot/internal/port"
	"github.com/arturoeanton/openipc-ragbot/internal/service"
)

var testConfig = fiber.TestConfig{Timeout: 5 * time.Second}

type stubPlatform struct {
	dialogs  []domain.Dialog
	messages []domain.Message
	err      error
}

func (p *stubPlatform) ListDialogs(ctx context.Context) ([]domain.Dialog, error) {
	return p.dialogs, p.err
}

func (p *stubPlatform) FetchMessages(ctx context.Context, chatID int64, limit int) ([]domain.Message, error) {
	if p.err != nil {
		return nil, p.err
	}
	if len(p.messages) > limit {
		return p.messages[:limit], nil
	}
	return p.messages, nil
}

type stubLLM struct {
	fragments []string
}

func (l *stubLLM) ModelName() string { return "stub" }

func (l *stubLLM) ChatStream(ctx context.Context, msgs []domain.ChatMessage) (<-chan domain.StreamEvent, error) {
	ch := make(chan domain.StreamEvent, len(l.fragments))
	for _, f := range l.fragments {
		ch <- domain.StreamEvent{Content: f}
	}
	close(ch)
	return ch, nil
}

func text(s string) *string { return &s }

func newChatApp(t *testing.T, platform port.ChatPlatform, llm port.LLMProvider) (*fiber.App, *store.MessageStore) {
	t.Helper()
	messages, err := store.OpenMessageStore(context.Background(), store.DriverSQLite, filepath.Join(t.TempDir(), "handler.db"))
	require.NoError(t, err)
	t.Cleanup(func() { messages.Close() })

	index := store.NewMemoryIndex()
	require.NoError(t, index.Upsert(context.Background(), []domain.VectorRecord{
		{ID: "docs_a_0", Text: "Flash the camera with the burner tool."},
	}))

	catalog := service.NewSourceCatalog(nil, nil, []string{"OpenIPC FPV users"})
	chats := service.NewChatService(platform, messages, catalog.ChatNames())
	assembler := service.NewAssembler(catalog, index, llm, messages, service.WithPacing(0))

	app := fiber.New()
	NewChatHandler(chats, assembler).Register(app)
	return app, messages
}

func TestChatHandler_ListChats(t *testing.T) {
	platform := &stubPlatform{dialogs: []domain.Dialog{
		{ID: 42, Name: "OpenIPC FPV users", Type: "Channel"},
		{ID: 7, Name: "Someone else", Type: "User"},
	}}
	app, messages := newChatApp(t, platform, &stubLLM{})
	_, err := messages.SaveMessages(context.Background(), []domain.Message{
		{ID: 1, ChatID: 42, Date: time.Unix(1700000000, 0), Text: text("hi")},
	})
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/chats", nil), testConfig)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var chats []domain.ChatSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&chats))
	require.Len(t, chats, 1)
	assert.Equal(t, int64(42), chats[0].ID)
	assert.Equal(t, 1, chats[0].MessageCount)
}

func TestChatHandler_ListChatsUnconfigured(t *testing.T) {
	app, _ := newChatApp(t, nil, &stubLLM{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/chats", nil), testConfig)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestChatHandler_Scrape(t *testing.T) {
	platform := &stubPlatform{messages: []domain.Message{
		{ID: 3, ChatID: 42, Date: time.Unix(1700000003, 0), Text: text("c")},
		{ID: 2, ChatID: 42, Date: time.Unix(1700000002, 0), Text: text("b")},
		{ID: 1, ChatID: 42, Date: time.Unix(1700000001, 0), Text: text("a")},
	}}
	app, _ := newChatApp(t, platform, &stubLLM{})

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/chats/42/scrape?limit=2", nil), testConfig)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res domain.ScrapeResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, domain.ScrapeResult{Status: domain.ScrapeStatusSuccess, MessagesFetched: 2, MessagesSaved: 2}, res)

	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/chats/42/scrape", nil), testConfig)
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, 3, res.MessagesFetched)
	assert.Equal(t, 1, res.MessagesSaved)
}

func TestChatHandler_ScrapeBadInput(t *testing.T) {
	app, _ := newChatApp(t, &stubPlatform{}, &stubLLM{})

	for _, target := range []string{"/chats/abc/scrape", "/chats/42/scrape?limit=-1", "/chats/42/scrape?limit=x"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodPost, target, nil), testConfig)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, target)
	}
}

func TestChatHandler_ScrapeFetchFailure(t *testing.T) {
	app, _ := newChatApp(t, &stubPlatform{err: errors.New("FLOOD_WAIT")}, &stubLLM{})

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/chats/42/scrape", nil), testConfig)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var res domain.ScrapeResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, domain.ScrapeStatusError, res.Status)
	assert.Equal(t, "FLOOD_WAIT", res.Detail)
}

func postJSON(target, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestChatHandler_AskStreamsText(t *testing.T) {
	app, _ := newChatApp(t, &stubPlatform{}, &stubLLM{fragments: []string{"Use ", "the burner."}})

	resp, err := app.Test(postJSON("/chat", `{"query":"how do I flash the camera"}`), testConfig)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Use the burner.", string(body))
}

func TestChatHandler_AskWithoutModel(t *testing.T) {
	app, _ := newChatApp(t, &stubPlatform{}, nil)

	resp, err := app.Test(postJSON("/chat", `{"query":"anything"}`), testConfig)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, service.FragmentModelUnavailable, string(body))
}

func TestChatHandler_AskRejectsEmptyQuery(t *testing.T) {
	app, _ := newChatApp(t, &stubPlatform{}, &stubLLM{})

	resp, err := app.Test(postJSON("/chat", `{"query":"  "}`), testConfig)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatHandler_AskChat(t *testing.T) {
	app, messages := newChatApp(t, &stubPlatform{}, &stubLLM{fragments: []string{"IMX335."}})

	resp, err := app.Test(postJSON("/chats/42/chat", `{"query":"which sensor?"}`), testConfig)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, service.FragmentEmptyChat, string(body))

	_, err = messages.SaveMessages(context.Background(), []domain.Message{
		{ID: 1, ChatID: 42, Date: time.Unix(1700000000, 0), Text: text("imx335 works")},
	})
	require.NoError(t, err)

	resp, err = app.Test(postJSON("/chats/42/chat", `{"query":"which sensor?"}`), testConfig)
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	assert.Equal(t, "IMX335.", string(body))
}

func TestSourcesHandler(t *testing.T) {
	catalog := service.NewSourceCatalog(
		[]string{"https://docs.openipc.org/"},
		[]string{"https://github.com/OpenIPC/firmware.git"},
		[]string{"OpenIPC FPV users"},
	)
	checks := map[string]HealthCheck{
		"index":         func(ctx context.Context) error { return nil },
		"model":         func(ctx context.Context) error { return errors.New("connection refused") },
		"chat_platform": nil,
	}
	app := fiber.New()
	NewSourcesHandler(catalog, checks).Register(app)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/sources", nil), testConfig)
	require.NoError(t, err)
	var sources []domain.SourceDescriptor
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sources))
	require.Len(t, sources, 3)
	assert.Equal(t, "firmware", sources[0].Identity)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/health", nil), testConfig)
	require.NoError(t, err)
	var health struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "ok", health.Components["index"])
	assert.Equal(t, "unavailable: connection refused", health.Components["model"])
	assert.Equal(t, "not configured", health.Components["chat_platform"])
}

// blockingRunner runs until released.
type blockingRunner struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
	err     error
}

func (r *blockingRunner) Run(ctx context.Context, progress service.ProgressFunc) (*domain.IngestionRun, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	progress(service.Progress{Kind: domain.SourceKindRepository, Identity: "firmware/README.md", ItemsDone: 1, ChunksAdded: 2})
	progress(service.Progress{Kind: domain.SourceKindWeb, Identity: "https://docs.openipc.org/x", Skipped: true, ItemsDone: 1, ChunksAdded: 2})
	<-r.release
	if r.err != nil {
		return nil, r.err
	}
	return &domain.IngestionRun{FilesProcessed: 1, ChunksAdded: 2, CountAfter: 2}, nil
}

func startJob(t *testing.T, app *fiber.App) JobStatus {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/ingest", nil), testConfig)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var job JobStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	return job
}

func getJob(t *testing.T, app *fiber.App, id string) JobStatus {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ingest/"+id, nil), testConfig)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var job JobStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	return job
}

func TestIngestHandler_Lifecycle(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	app := fiber.New()
	NewIngestHandler(NewJobTracker(runner)).Register(app)

	job := startJob(t, app)
	assert.Equal(t, JobRunning, job.Status)
	assert.NotEmpty(t, job.ID)

	require.Eventually(t, func() bool { return getJob(t, app, job.ID).Skipped == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/ingest", nil), testConfig)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	close(runner.release)
	require.Eventually(t, func() bool { return getJob(t, app, job.ID).Status == JobComplete }, 2*time.Second, 10*time.Millisecond)

	final := getJob(t, app, job.ID)
	require.NotNil(t, final.Run)
	assert.Equal(t, 2, final.Run.NewRecords())
	assert.Equal(t, 2, final.ChunksAdded)

	// a finished run frees the slot
	runner.release = make(chan struct{})
	close(runner.release)
	second := startJob(t, app)
	assert.NotEqual(t, job.ID, second.ID)
}

func TestIngestHandler_FailedRun(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{}), err: port.ErrIndexUnavailable}
	close(runner.release)
	app := fiber.New()
	NewIngestHandler(NewJobTracker(runner)).Register(app)

	job := startJob(t, app)
	require.Eventually(t, func() bool { return getJob(t, app, job.ID).Status == JobError }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, port.ErrIndexUnavailable.Error(), getJob(t, app, job.ID).Error)
}

func TestIngestHandler_StreamFinishedJob(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	close(runner.release)
	app := fiber.New()
	NewIngestHandler(NewJobTracker(runner)).Register(app)

	job := startJob(t, app)
	require.Eventually(t, func() bool { return getJob(t, app, job.ID).Status == JobComplete }, 2*time.Second, 10*time.Millisecond)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ingest/"+job.ID+"/stream", nil), testConfig)
	require.NoError(t, err)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.HasPrefix(string(body), "event: complete\ndata: {"))
}

func TestIngestHandler_StreamRunningJob(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	app := fiber.New()
	NewIngestHandler(NewJobTracker(runner)).Register(app)

	job := startJob(t, app)
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(runner.release)
	}()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ingest/"+job.ID+"/stream", nil), testConfig)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "event: progress\n")
	assert.True(t, strings.HasSuffix(string(body), "\n\n"))
	assert.Contains(t, string(body), "event: complete\n")
}

func TestIngestHandler_UnknownJob(t *testing.T) {
	app := fiber.New()
	NewIngestHandler(NewJobTracker(&blockingRunner{})).Register(app)

	for _, target := range []string{"/ingest/nope", "/ingest/nope/stream"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil), testConfig)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	}
}
