package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/openipc-ragbot/internal/adapter/store"
	"github.com/arturoeanton/openipc-ragbot/internal/domain"
)

func testCatalog() *SourceCatalog {
	return NewSourceCatalog(
		[]string{"https://docs.openipc.org/getting-started/homepage/"},
		[]string{firmwareURL},
		[]string{"OpenIPC FPV users"},
	)
}

func seededIndex(t *testing.T) *countingIndex {
	t.Helper()
	idx := store.NewMemoryIndex()
	require.NoError(t, idx.Upsert(context.Background(), []domain.VectorRecord{
		{ID: "docs_a_0", Text: "The burner tool flashes firmware over UART."},
		{ID: "github_b_0", Text: "majestic is the streamer daemon."},
	}))
	return &countingIndex{KnowledgeIndex: idx}
}

func TestIsMetaQuery(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"What do you know?", true},
		{"HOW MANY MESSAGES are saved", true},
		{"tell me about your knowledge", true},
		{"what repos did you read", true},
		{"What sources do you use", true},
		{"how do I flash the firmware", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, IsMetaQuery(tt.query))
		})
	}
}

func TestAssembler_RetrievalPath(t *testing.T) {
	idx := seededIndex(t)
	llm := newFakeLLM("Use ", "the burner.")
	a := NewAssembler(testCatalog(), idx, llm, nil, WithPacing(0))

	out := drain(a.Answer(context.Background(), "how does the burner flash firmware"))

	assert.Equal(t, "Use the burner.", strings.Join(out, ""))
	require.Len(t, llm.lastMsgs, 2)
	assert.Equal(t, domain.RoleSystem, llm.lastMsgs[0].Role)
	assert.Contains(t, llm.lastMsgs[0].Content, "ONLY")
	assert.Equal(t, domain.RoleUser, llm.lastMsgs[1].Role)
	assert.Contains(t, llm.lastMsgs[1].Content, "The burner tool flashes firmware over UART.")
	assert.Contains(t, llm.lastMsgs[1].Content, "User Question: how does the burner flash firmware")
	assert.Equal(t, 1, idx.queries)
}

func TestAssembler_ZeroHitsSkipsModel(t *testing.T) {
	idx := seededIndex(t)
	llm := newFakeLLM("should not be used")
	a := NewAssembler(testCatalog(), idx, llm, nil)

	out := drain(a.Answer(context.Background(), "zigbee thermostat"))

	assert.Equal(t, []string{FragmentNoResults}, out)
	assert.Zero(t, llm.callCount())
}

func TestAssembler_MetaPathSkipsRetrieval(t *testing.T) {
	idx := seededIndex(t)
	llm := newFakeLLM("I know things.")
	messages := &fakeMessageStore{stats: []domain.ChatStats{{
		ChatID:    42,
		Count:     17,
		FirstDate: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		LastDate:  time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
	}}}
	a := NewAssembler(testCatalog(), idx, llm, messages)

	out := drain(a.Answer(context.Background(), "What do you know?"))

	assert.Equal(t, []string{"I know things."}, out)
	assert.Zero(t, idx.queries)
	prompt := llm.lastMsgs[1].Content
	assert.Contains(t, prompt, "https://docs.openipc.org/getting-started/homepage/")
	assert.Contains(t, prompt, firmwareURL)
	assert.Contains(t, prompt, "OpenIPC FPV users")
	assert.Contains(t, prompt, "2 indexed text chunks")
	assert.Contains(t, prompt, "chat 42: 17 messages from 2024-01-02 to 2024-03-04")
}

func TestAssembler_ModelNotConfigured(t *testing.T) {
	a := NewAssembler(testCatalog(), seededIndex(t), nil, nil)
	out := drain(a.Answer(context.Background(), "anything"))
	assert.Equal(t, []string{FragmentModelUnavailable}, out)
}

func TestAssembler_IndexNotConfigured(t *testing.T) {
	a := NewAssembler(testCatalog(), nil, newFakeLLM("x"), nil)
	out := drain(a.Answer(context.Background(), "burner"))
	assert.Equal(t, []string{FragmentIndexUnavailable}, out)
}

func TestAssembler_MidStreamFailure(t *testing.T) {
	llm := newFakeLLM("Use ", "the ", "burner")
	llm.failAfter = 2
	a := NewAssembler(testCatalog(), seededIndex(t), llm, nil)

	out := drain(a.Answer(context.Background(), "burner"))

	assert.Equal(t, []string{"Use ", "the ", FragmentStreamFailed}, out)
}

func TestAssembler_StreamStartFailure(t *testing.T) {
	llm := newFakeLLM()
	llm.startErr = errors.New("connection refused")
	a := NewAssembler(testCatalog(), seededIndex(t), llm, nil)

	out := drain(a.Answer(context.Background(), "burner"))
	assert.Equal(t, []string{FragmentStreamFailed}, out)
}

func TestAssembler_CancelStopsStream(t *testing.T) {
	llm := newFakeLLM("a", "b", "c", "d")
	a := NewAssembler(testCatalog(), seededIndex(t), llm, nil, WithPacing(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	ch := a.Answer(ctx, "burner")

	first := <-ch
	assert.Equal(t, "a", first)
	cancel()

	done := make(chan struct{})
	go func() {
		drain(ch)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after cancellation")
	}
}

func TestAssembler_AnswerFromChat(t *testing.T) {
	llm := newFakeLLM("They use ", "an IMX335.")
	messages := &fakeMessageStore{texts: map[int64][]string{42: {"which sensor?", "imx335 works"}}}
	a := NewAssembler(testCatalog(), nil, llm, messages)

	out := drain(a.AnswerFromChat(context.Background(), 42, "what sensor do people use?"))

	assert.Equal(t, "They use an IMX335.", strings.Join(out, ""))
	assert.Contains(t, llm.lastMsgs[0].Content, "chat log")
	assert.Contains(t, llm.lastMsgs[1].Content, "which sensor?\nimx335 works")
	assert.Contains(t, llm.lastMsgs[1].Content, "User Question: what sensor do people use?")
}

func TestAssembler_AnswerFromChatDegrades(t *testing.T) {
	llm := newFakeLLM("unused")

	empty := NewAssembler(testCatalog(), nil, llm, &fakeMessageStore{})
	assert.Equal(t, []string{FragmentEmptyChat}, drain(empty.AnswerFromChat(context.Background(), 1, "q")))

	noStore := NewAssembler(testCatalog(), nil, llm, nil)
	assert.Equal(t, []string{FragmentStoreUnavailable}, drain(noStore.AnswerFromChat(context.Background(), 1, "q")))

	failing := NewAssembler(testCatalog(), nil, llm, &fakeMessageStore{textErr: errors.New("db down")})
	assert.Equal(t, []string{FragmentStoreUnavailable}, drain(failing.AnswerFromChat(context.Background(), 1, "q")))

	noModel := NewAssembler(testCatalog(), nil, nil, &fakeMessageStore{})
	assert.Equal(t, []string{FragmentModelUnavailable}, drain(noModel.AnswerFromChat(context.Background(), 1, "q")))

	assert.Zero(t, llm.callCount())
}
