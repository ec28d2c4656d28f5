// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes Perthro's version history tools for LLM integration via stdio
// transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/perthro/internal/models"
	"github.com/starford/perthro/internal/scriptservice"
)

// Server wraps the MCP server with Perthro tools.
type Server struct {
	mcp *server.MCPServer
	svc *scriptservice.Service
}

// New creates a new MCP server with all Perthro tools registered.
func New(svc *scriptservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Perthro",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	ownerArg := mcp.WithString("owner", mcp.Required(), mcp.Description("Script owner on the hosting service"))
	scriptArg := mcp.WithString("script", mcp.Required(), mcp.Description("Script name, e.g. greeter.lua"))

	s.mcp.AddTool(mcp.NewTool("get_script",
		mcp.WithDescription("Get the current script content, preferring the hosting service "+
			"and falling back to the newest local snapshot when it is unreachable."),
		ownerArg, scriptArg,
	), s.getScript)

	s.mcp.AddTool(mcp.NewTool("save_version",
		mcp.WithDescription("Record a manual snapshot of the script in the local history."),
		ownerArg, scriptArg,
		mcp.WithString("content", mcp.Required(), mcp.Description("Full script content to snapshot")),
		mcp.WithString("note", mcp.Description("Optional description shown in the history")),
	), s.saveVersion)

	s.mcp.AddTool(mcp.NewTool("list_versions",
		mcp.WithDescription("List the script's version history, newest first."),
		ownerArg, scriptArg,
	), s.listVersions)

	s.mcp.AddTool(mcp.NewTool("publish_script",
		mcp.WithDescription("Publish content to the hosting service, carrying the script's "+
			"binding configuration forward. Does not write local history."),
		ownerArg, scriptArg,
		mcp.WithString("content", mcp.Required(), mcp.Description("Full script content to publish")),
	), s.publishScript)

	s.mcp.AddTool(mcp.NewTool("last_checkpoint",
		mcp.WithDescription("Return the newest non-autosave snapshot (manual save or remote sync)."),
		ownerArg, scriptArg,
	), s.lastCheckpoint)

	s.mcp.AddTool(mcp.NewTool("reset_history",
		mcp.WithDescription("Delete all manual and autosave snapshots for a script, keeping "+
			"only the remote-sync lineage. Destructive; requires explicit user intent."),
		ownerArg, scriptArg,
	), s.resetHistory)

	// Resource: workflow contract.
	s.mcp.AddResource(
		mcp.NewResource("perthro://workflow", "Script Workflow",
			mcp.WithResourceDescription("How to use the version history tools safely."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readWorkflowResource,
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

func identityArgs(req mcp.CallToolRequest) (models.Identity, error) {
	owner, err := req.RequireString("owner")
	if err != nil {
		return models.Identity{}, err
	}
	script, err := req.RequireString("script")
	if err != nil {
		return models.Identity{}, err
	}
	return models.Identity{Owner: owner, Script: script}, nil
}

func (s *Server) getScript(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := identityArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := s.svc.Load(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if out.Status == scriptservice.LoadDegraded {
		return mcp.NewToolResultText(fmt.Sprintf(
			"WARNING: hosting service unreachable (%v); serving newest local snapshot.\n\n%s",
			out.Notice, out.Content)), nil
	}
	return mcp.NewToolResultText(out.Content), nil
}

func (s *Server) saveVersion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := identityArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note := ""
	if n, err := req.RequireString("note"); err == nil {
		note = n
	}
	rowID, err := s.svc.Save(ctx, id, content, models.OriginManual, note)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("saved version %d of %s", rowID, id.Key())), nil
}

func (s *Server) listVersions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := identityArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rows, err := s.svc.History(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	// Content bodies would swamp the context window; list metadata only.
	type item struct {
		ID        int64  `json:"id"`
		Timestamp int64  `json:"timestamp"`
		Origin    string `json:"origin"`
		Note      string `json:"note,omitempty"`
	}
	items := make([]item, len(rows))
	for i, r := range rows {
		items[i] = item{ID: r.ID, Timestamp: r.Timestamp, Origin: string(r.Origin), Note: r.Note}
	}
	out, _ := json.MarshalIndent(items, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) publishScript(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := identityArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.Upload(ctx, id, content); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("published %s", id.Key())), nil
}

func (s *Server) lastCheckpoint(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := identityArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	cp, err := s.svc.LastCheckpoint(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if cp == nil {
		return mcp.NewToolResultError(fmt.Sprintf("no checkpoint for %s", id.Key())), nil
	}
	return mcp.NewToolResultText(cp.Content), nil
}

func (s *Server) resetHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := identityArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.ResetHistory(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted %d versions of %s", n, id.Key())), nil
}

func (s *Server) readWorkflowResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "perthro://workflow",
			MIMEType: "text/markdown",
			Text:     WorkflowContract,
		},
	}, nil
}
