// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes the knowledge graph to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/ansuz/internal/api"
)

// Server wraps the MCP server with graph tools.
type Server struct {
	mcp            *server.MCPServer
	svc            *api.Service
	defaultProject string
}

// New creates an MCP server with all tools registered. defaultProject is
// used when a tool call omits the project argument.
func New(svc *api.Service, defaultProject string) *Server {
	s := &Server{svc: svc, defaultProject: defaultProject}

	s.mcp = server.NewMCPServer(
		"Ansuz",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Full-text search through document titles, observations, and tags."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithString("project", mcp.Description("Project name (default project when omitted)")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("read_document",
		mcp.WithDescription("Read the full Markdown content of a document."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the document (e.g. notes/coffee.md)")),
		mcp.WithString("project", mcp.Description("Project name (default project when omitted)")),
	), s.readDocument)

	s.mcp.AddTool(mcp.NewTool("write_document",
		mcp.WithDescription("Create or update a Markdown document and synchronize it into the "+
			"knowledge graph. Content SHOULD follow the canonical document format "+
			"(frontmatter, observations, [[wikilink]] relations). Read the contract first via "+
			"the get_document_contract tool or the ansuz://document-format resource."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path for the document (must end with .md)")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown content following the document format contract")),
		mcp.WithString("project", mcp.Description("Project name (default project when omitted)")),
	), s.writeDocument)

	s.mcp.AddTool(mcp.NewTool("get_entity",
		mcp.WithDescription("Get a graph entity with its observations and relations. "+
			"The identifier may be a numeric id, a permalink, a title, or a document path."),
		mcp.WithString("identifier", mcp.Required(), mcp.Description("Entity identifier")),
		mcp.WithString("project", mcp.Description("Project name (default project when omitted)")),
	), s.getEntity)

	s.mcp.AddTool(mcp.NewTool("sync_project",
		mcp.WithDescription("Run a full disk-to-graph reconciliation and return the change report."),
		mcp.WithString("project", mcp.Description("Project name (default project when omitted)")),
	), s.syncProject)

	s.mcp.AddTool(mcp.NewTool("get_document_contract",
		mcp.WithDescription("Returns the canonical document format contract. "+
			"Call this before creating or updating documents to ensure correct structure."),
	), s.getDocumentContract)

	// Resource: document format contract.
	s.mcp.AddResource(
		mcp.NewResource("ansuz://document-format", "Document Format Contract",
			mcp.WithResourceDescription("Canonical Markdown document format for the knowledge graph."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) projectArg(req mcp.CallToolRequest) string {
	if p := req.GetString("project", ""); p != "" {
		return p
	}
	return s.defaultProject
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(s.projectArg(req), query, "", 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.svc.GetDocument(s.projectArg(req), path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	return mcp.NewToolResultText(doc.Content), nil
}

func (s *Server) writeDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	entity, err := s.svc.PutDocument(ctx, s.projectArg(req), path, []byte(content), "")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(entity, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getEntity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	identifier, err := req.RequireString("identifier")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entity, err := s.svc.GetEntity(s.projectArg(req), identifier)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", identifier)), nil
	}
	out, _ := json.MarshalIndent(entity, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) syncProject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.svc.SyncProject(ctx, s.projectArg(req))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(report, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getDocumentContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(DocumentFormatContract), nil
}

func (s *Server) readContractResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "ansuz://document-format",
			MIMEType: "text/markdown",
			Text:     DocumentFormatContract,
		},
	}, nil
}
