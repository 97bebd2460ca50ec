package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/arturoeanton/openipc-ragbot/internal/crawler"
	"github.com/arturoeanton/openipc-ragbot/internal/domain"
	"github.com/arturoeanton/openipc-ragbot/internal/port"
)

// fakeCloner "clones" by writing an in-memory file tree into dest.
type fakeCloner struct {
	repos map[string]map[string][]byte
	fail  map[string]error
}

func (f *fakeCloner) Clone(ctx context.Context, url, dest string) error {
	if err := f.fail[url]; err != nil {
		return err
	}
	files, ok := f.repos[url]
	if !ok {
		return errors.New("repository not found")
	}
	for rel, content := range files {
		p := filepath.Join(dest, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(p, content, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeCloner) ListFiles(ctx context.Context, repoPath string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(repoPath, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(repoPath, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(out)
	return out, err
}

// fakeCrawler serves a fixed page set.
type fakeCrawler struct {
	pages     []string
	deadEnds  map[string]string
	texts     map[string]string
	fetchErrs map[string]error
	seeds     []string
}

func (f *fakeCrawler) Discover(ctx context.Context, seeds []string) *crawler.Result {
	f.seeds = seeds
	return &crawler.Result{Pages: f.pages, DeadEnds: f.deadEnds}
}

func (f *fakeCrawler) FetchText(ctx context.Context, pageURL string) (string, error) {
	if err := f.fetchErrs[pageURL]; err != nil {
		return "", err
	}
	return f.texts[pageURL], nil
}

// fakeMessageStore keeps message texts per chat.
type fakeMessageStore struct {
	texts   map[int64][]string
	stats   []domain.ChatStats
	saved   []domain.Message
	textErr error
}

func (f *fakeMessageStore) SaveMessages(ctx context.Context, msgs []domain.Message) (int, error) {
	f.saved = append(f.saved, msgs...)
	return len(msgs), nil
}

func (f *fakeMessageStore) CountByChat(ctx context.Context) (map[int64]int, error) {
	out := make(map[int64]int)
	for id, t := range f.texts {
		out[id] = len(t)
	}
	return out, nil
}

func (f *fakeMessageStore) ChatText(ctx context.Context, chatID int64) ([]string, error) {
	if f.textErr != nil {
		return nil, f.textErr
	}
	return f.texts[chatID], nil
}

func (f *fakeMessageStore) ChatStats(ctx context.Context) ([]domain.ChatStats, error) {
	return f.stats, nil
}

// fakePlatform serves fixed dialogs and message pages.
type fakePlatform struct {
	dialogs  []domain.Dialog
	messages map[int64][]domain.Message
	err      error
}

func (f *fakePlatform) ListDialogs(ctx context.Context) ([]domain.Dialog, error) {
	return f.dialogs, f.err
}

func (f *fakePlatform) FetchMessages(ctx context.Context, chatID int64, limit int) ([]domain.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	msgs, ok := f.messages[chatID]
	if !ok {
		return nil, port.ErrChatNotFound
	}
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

// fakeLLM streams scripted fragments and records the request.
type fakeLLM struct {
	mu        sync.Mutex
	fragments []string
	failAfter int // emit an error after this many fragments; -1 never
	startErr  error
	calls     int
	lastMsgs  []domain.ChatMessage
}

func newFakeLLM(fragments ...string) *fakeLLM {
	return &fakeLLM{fragments: fragments, failAfter: -1}
}

func (f *fakeLLM) ModelName() string { return "fake" }

func (f *fakeLLM) ChatStream(ctx context.Context, msgs []domain.ChatMessage) (<-chan domain.StreamEvent, error) {
	f.mu.Lock()
	f.calls++
	f.lastMsgs = msgs
	f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}

	ch := make(chan domain.StreamEvent)
	go func() {
		defer close(ch)
		for i, frag := range f.fragments {
			if i == f.failAfter {
				select {
				case ch <- domain.StreamEvent{Err: errors.New("connection reset")}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case ch <- domain.StreamEvent{Content: frag}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// countingIndex wraps an index and counts queries.
type countingIndex struct {
	port.KnowledgeIndex
	mu      sync.Mutex
	queries int
}

func (c *countingIndex) Query(ctx context.Context, text string, k int) ([]domain.ScoredText, error) {
	c.mu.Lock()
	c.queries++
	c.mu.Unlock()
	return c.KnowledgeIndex.Query(ctx, text, k)
}

func drain(ch <-chan string) []string {
	var out []string
	for s := range ch {
		out = append(out, s)
	}
	return out
}
