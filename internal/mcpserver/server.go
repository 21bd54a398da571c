// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes the Ansuz pipeline to LLM clients via stdio transport: reading
// notes, inspecting the observer registry, and triggering syncs.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/ansuz/internal/noteservice"
)

// Server wraps the MCP server with Ansuz tools.
type Server struct {
	mcp *server.MCPServer
	svc *noteservice.Service
}

// New creates a new MCP server with all pipeline tools registered.
func New(svc *noteservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Ansuz",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read a Markdown note: frontmatter, body, and checksum."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the note (e.g. folder/note.md)")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("list_observers",
		mcp.WithDescription("List the registered observers in dispatch order, with runtime, priority, and timeout."),
	), s.listObservers)

	s.mcp.AddTool(mcp.NewTool("sync_note",
		mcp.WithDescription("Run every observer against a single note (Synced event) and wait for the result."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the note")),
	), s.syncNote)

	s.mcp.AddTool(mcp.NewTool("sync_all",
		mcp.WithDescription("Run every observer against every note in the vault and wait for completion."),
	), s.syncAll)

	// Resource: observer plugin contract.
	s.mcp.AddResource(
		mcp.NewResource("ansuz://observer-contract", "Observer Plugin Contract",
			mcp.WithResourceDescription("The event/result contract for user-authored observer scripts."),
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

func (s *Server) readNote(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, err := s.svc.GetNote(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}

	fm := make(map[string]string)
	if note.Frontmatter != nil {
		for pair := note.Frontmatter.Oldest(); pair != nil; pair = pair.Next() {
			fm[pair.Key] = pair.Value
		}
	}
	out, _ := json.MarshalIndent(map[string]any{
		"path":        note.Path,
		"title":       note.Title(),
		"frontmatter": fm,
		"body":        note.Body,
		"checksum":    note.Checksum,
	}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listObservers(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var lines []string
	for _, b := range s.svc.Observers() {
		d := b.Descriptor
		events := "all events"
		if len(d.Events) > 0 {
			parts := make([]string, len(d.Events))
			for i, k := range d.Events {
				parts[i] = string(k)
			}
			events = strings.Join(parts, ", ")
		}
		lines = append(lines, fmt.Sprintf("%s (runtime=%s priority=%d timeout=%s events=%s)",
			d.Name, d.Runtime, d.Priority, d.EffectiveTimeout(), events))
	}
	if len(lines) == 0 {
		return mcp.NewToolResultText("no observers registered"), nil
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) syncNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.SyncNote(ctx, path); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.svc.Wait()
	return mcp.NewToolResultText(fmt.Sprintf("synced: %s", path)), nil
}

func (s *Server) syncAll(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	count, err := s.svc.SyncAll(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.svc.Wait()
	return mcp.NewToolResultText(fmt.Sprintf("synced %d notes", count)), nil
}

func (s *Server) readContractResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "ansuz://observer-contract",
			MIMEType: "text/markdown",
			Text:     ObserverContract,
		},
	}, nil
}
