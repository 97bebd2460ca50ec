package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/arturoeanton/openipc-ragbot/internal/domain"
	"github.com/arturoeanton/openipc-ragbot/internal/port"
	"github.com/arturoeanton/openipc-ragbot/internal/service"
)

const (
	defaultSearchK = 5
	maxSearchK     = 20
)

// Server is a Model Context Protocol server that lets external agents search
// the knowledge index and list the configured sources.
type Server struct {
	index   port.KnowledgeIndex
	catalog *service.SourceCatalog
	port    string
}

// NewServer creates a new MCP server. index may be nil.
func NewServer(index port.KnowledgeIndex, catalog *service.SourceCatalog, port string) *Server {
	return &Server{index: index, catalog: catalog, port: port}
}

// Tool represents an MCP tool definition.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Handler returns the HTTP handler serving /mcp and /mcp/sse.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", s.handleRPC)
	mux.HandleFunc("/mcp/sse", s.handleSSE)
	return mux
}

// Start serves MCP until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("MCP server starting", "port", s.port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, nil, -32700, "parse error")
		return
	}

	var (
		result any
		err    error
	)
	switch req.Method {
	case "initialize":
		result = map[string]any{
			"protocolVersion": "2024-11-05",
			"serverInfo":      map[string]string{"name": "openipc-ragbot", "version": "1.0.0"},
			"capabilities":    map[string]any{"tools": map[string]bool{"listChanged": false}},
		}
	case "tools/list":
		result = map[string]any{"tools": tools}
	case "tools/call":
		result, err = s.callTool(r.Context(), req.Params)
	default:
		writeError(w, req.ID, -32601, "method not found")
		return
	}

	if err != nil {
		writeError(w, req.ID, -32603, err.Error())
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: endpoint\ndata: /mcp\n\n")
	flusher.Flush()

	<-r.Context().Done()
}

var tools = []Tool{
	{
		Name:        "search_knowledge",
		Description: "Search the OpenIPC knowledge base (firmware repositories, documentation and community chats) by semantic similarity",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Search query"},
				"k": {"type": "integer", "description": "Number of passages to return (default 5, max 20)"}
			},
			"required": ["query"]
		}`),
	},
	{
		Name:        "list_sources",
		Description: "List the knowledge sources the bot ingests",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
	},
}

func (s *Server) callTool(ctx context.Context, params json.RawMessage) (any, error) {
	var req struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	switch req.Name {
	case "search_knowledge":
		var args struct {
			Query string `json:"query"`
			K     int    `json:"k"`
		}
		if len(req.Arguments) > 0 {
			if err := json.Unmarshal(req.Arguments, &args); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
		}
		hits, err := s.search(ctx, args.Query, args.K)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"content": []map[string]any{{"type": "text", "text": formatHits(hits)}},
			"hits":    hits,
		}, nil

	case "list_sources":
		descriptors := s.catalog.Descriptors()
		lines := make([]string, len(descriptors))
		for i, d := range descriptors {
			lines[i] = fmt.Sprintf("%s: %s", d.Kind, d.Location)
		}
		return map[string]any{
			"content": []map[string]any{{"type": "text", "text": strings.Join(lines, "\n")}},
			"sources": descriptors,
		}, nil

	default:
		return nil, fmt.Errorf("unknown tool: %s", req.Name)
	}
}

func (s *Server) search(ctx context.Context, query string, k int) ([]domain.ScoredText, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is required")
	}
	if s.index == nil {
		return nil, port.ErrIndexUnavailable
	}
	switch {
	case k <= 0:
		k = defaultSearchK
	case k > maxSearchK:
		k = maxSearchK
	}
	return s.index.Query(ctx, query, k)
}

func formatHits(hits []domain.ScoredText) string {
	if len(hits) == 0 {
		return "No matching passages."
	}
	var sb strings.Builder
	for i, h := range hits {
		if i > 0 {
			sb.WriteString("\n\n---\n\n")
		}
		fmt.Fprintf(&sb, "[%s] (score %.3f)\n%s", h.ID, h.Score, h.Text)
	}
	return sb.String()
}

func writeResult(w http.ResponseWriter, id any, result any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func writeError(w http.ResponseWriter, id any, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}})
}
