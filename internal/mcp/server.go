// Package mcp exposes knowledge base retrieval over the Model Context
// Protocol so agents can search tenants directly, without the HTTP surface.
//
// Stdio has no request headers, so the server resolves one API-Key
// credential at startup and every tool call runs under that scope.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/akolanti/kbAPI/internal/auth"
	"github.com/akolanti/kbAPI/internal/data/metaStore"
	"github.com/akolanti/kbAPI/internal/domain/kbModel"
	"github.com/akolanti/kbAPI/internal/rag/retrieval"
	"github.com/akolanti/kbAPI/pkg/logger_i"
)

type Server struct {
	mcpServer *mcp.Server
	search    retrieval.Service
	meta      metaStore.MetadataStore
	scope     kbModel.Scope
	logger    *logger_i.Logger
}

func NewServer(ctx context.Context, authSvc auth.Service, search retrieval.Service, meta metaStore.MetadataStore, credential string) (*Server, error) {
	if credential == "" {
		return nil, fmt.Errorf("a scoped API key credential is required")
	}
	scope, err := authSvc.Resolve(ctx, auth.SchemeScoped, credential)
	if err != nil {
		return nil, fmt.Errorf("could not resolve credential: %w", err)
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    "kb-api",
			Version: "1.0.0",
		}, nil),
		search: search,
		meta:   meta,
		scope:  scope,
		logger: logger_i.NewLogger("MCP"),
	}
	s.registerTools()
	return s, nil
}

// Run serves the MCP protocol on the transport. Blocking.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	s.logger.Info("MCP server starting", "tenant", s.scope.TenantId)
	return s.mcpServer.Run(ctx, transport)
}

type searchInput struct {
	Query string   `json:"query" jsonschema:"The natural language query to search for"`
	KbIds []string `json:"kb_ids,omitempty" jsonschema:"Restrict the search to these knowledge base IDs. Empty searches every knowledge base the key can see"`
	TopK  int      `json:"top_k,omitempty" jsonschema:"Maximum number of chunks to return"`
}

type searchHit struct {
	ChunkId      string  `json:"chunk_id"`
	DocumentId   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	KbId         string  `json:"knowledge_base_id"`
	Ordinal      int     `json:"ordinal"`
	Content      string  `json:"content"`
	Score        float32 `json:"score"`
}

type listKbInput struct{}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "search_knowledge_base",
		Description: "Search the tenant's knowledge bases for text chunks relevant to a query. Results are ranked by similarity.",
	}, s.handleSearch)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_knowledge_bases",
		Description: "List the knowledge bases this key can search, with their IDs and names.",
	}, s.handleListKb)
}

func (s *Server) handleSearch(ctx context.Context, req *mcp.CallToolRequest, in searchInput) (*mcp.CallToolResult, any, error) {
	results, err := s.search.Query(ctx, s.scope, retrieval.Request{
		Query: in.Query,
		KbIds: in.KbIds,
		TopK:  in.TopK,
	})
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "search failed: " + err.Error()}},
			IsError: true,
		}, nil, nil
	}

	hits := make([]searchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, searchHit{
			ChunkId:      r.Chunk.Id,
			DocumentId:   r.Chunk.DocId,
			DocumentName: r.DocumentName,
			KbId:         r.KbId,
			Ordinal:      r.Chunk.Ordinal,
			Content:      r.Chunk.Text,
			Score:        r.Score,
		})
	}

	payload, err := json.MarshalIndent(hits, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(payload)}},
	}, nil, nil
}

func (s *Server) handleListKb(ctx context.Context, req *mcp.CallToolRequest, in listKbInput) (*mcp.CallToolResult, any, error) {
	kbs, err := s.meta.ListKnowledgeBases(ctx, s.scope.TenantId)
	if err != nil {
		return nil, nil, err
	}

	type kbEntry struct {
		Id   string `json:"id"`
		Name string `json:"name"`
	}
	entries := make([]kbEntry, 0, len(kbs))
	for _, kb := range kbs {
		entries = append(entries, kbEntry{Id: kb.Id, Name: kb.Name})
	}

	payload, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(payload)}},
	}, nil, nil
}
