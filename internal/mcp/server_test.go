package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/openipc-ragbot/internal/adapter/store"
	"github.com/arturoeanton/openipc-ragbot/internal/domain"
	"github.com/arturoeanton/openipc-ragbot/internal/service"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	index := store.NewMemoryIndex()
	require.NoError(t, index.Upsert(context.Background(), []domain.VectorRecord{
		{ID: "docs_burn_0", Text: "The burner flashes firmware over UART."},
		{ID: "github_msposd_0", Text: "msposd renders the OSD."},
	}))
	catalog := service.NewSourceCatalog(nil, []string{"https://github.com/OpenIPC/msposd.git"}, nil)
	srv := httptest.NewServer(NewServer(index, catalog, "0").Handler())
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, body string) JSONRPCResponse {
	t.Helper()
	resp, err := http.Post(srv.URL+"/mcp", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out JSONRPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestServer_ToolsList(t *testing.T) {
	srv := newTestServer(t)

	out := call(t, srv, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	require.Nil(t, out.Error)
	raw, _ := json.Marshal(out.Result)
	assert.Contains(t, string(raw), `"search_knowledge"`)
	assert.Contains(t, string(raw), `"list_sources"`)
}

func TestServer_SearchKnowledge(t *testing.T) {
	srv := newTestServer(t)

	out := call(t, srv, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"search_knowledge","arguments":{"query":"burner firmware","k":1}}}`)
	require.Nil(t, out.Error)
	raw, _ := json.Marshal(out.Result)
	var result struct {
		Hits []domain.ScoredText `json:"hits"`
	}
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Len(t, result.Hits, 1)
	assert.Equal(t, "docs_burn_0", result.Hits[0].ID)
}

func TestServer_ListSources(t *testing.T) {
	srv := newTestServer(t)

	out := call(t, srv, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"list_sources"}}`)
	require.Nil(t, out.Error)
	raw, _ := json.Marshal(out.Result)
	assert.Contains(t, string(raw), "github: https://github.com/OpenIPC/msposd.git")
}

func TestServer_Errors(t *testing.T) {
	srv := newTestServer(t)

	out := call(t, srv, `{"jsonrpc":"2.0","id":4,"method":"nope"}`)
	require.NotNil(t, out.Error)
	assert.Equal(t, -32601, out.Error.Code)

	out = call(t, srv, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"search_knowledge","arguments":{"query":""}}}`)
	require.NotNil(t, out.Error)
	assert.Equal(t, "query is required", out.Error.Message)

	out = call(t, srv, `not json`)
	require.NotNil(t, out.Error)
	assert.Equal(t, -32700, out.Error.Code)

	resp, err := http.Get(srv.URL + "/mcp")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestSearchWithoutIndex(t *testing.T) {
	s := NewServer(nil, service.NewSourceCatalog(nil, nil, nil), "0")
	_, err := s.search(context.Background(), "q", 0)
	assert.Error(t, err)
}
