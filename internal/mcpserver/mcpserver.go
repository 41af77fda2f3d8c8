// Package mcpserver exposes sync and inspection tools over the Model Context
// Protocol on stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/agentic-research/contentsync/api"
	"github.com/agentic-research/contentsync/internal/ingest"
	"github.com/agentic-research/contentsync/internal/syncer"
	"github.com/agentic-research/contentsync/internal/tree"
)

// Service is what the tools drive.
type Service interface {
	SyncAll(ctx context.Context) (*syncer.Report, error)
	SyncSheets(ctx context.Context, titles ...string) (*syncer.Report, error)
	Sheets(ctx context.Context) ([]string, error)
}

// Loader reads the current document.
type Loader interface {
	Load() (*api.Document, error)
}

// Tools binds the tool handlers to their collaborators.
type Tools struct {
	svc        Service
	doc        Loader
	classifier ingest.Classifier
}

// NewTools returns the tool set.
func NewTools(svc Service, doc Loader, classifier ingest.Classifier) *Tools {
	return &Tools{svc: svc, doc: doc, classifier: classifier}
}

// Server registers every tool on a new MCP server.
func (t *Tools) Server(version string) *server.MCPServer {
	s := server.NewMCPServer("contentsync", version, server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("sync_all",
		mcp.WithDescription("Rebuild the whole content document from every category sheet. Returns the run report."),
	), t.syncAll)

	s.AddTool(mcp.NewTool("sync_sheet",
		mcp.WithDescription("Merge one or more sheets into the content document by their kind. Separate several titles with commas."),
		mcp.WithString("sheet", mcp.Required(), mcp.Description("Sheet title, e.g. 02_GYM")),
	), t.syncSheet)

	s.AddTool(mcp.NewTool("list_sheets",
		mcp.WithDescription("List source sheets with the kind each is synced as."),
	), t.listSheets)

	s.AddTool(mcp.NewTool("tree_stats",
		mcp.WithDescription("Count roots, nodes, leaves and depth of the current document, or of the subtree at path."),
		mcp.WithString("path", mcp.Description("Slash-separated value path, e.g. gym/pool")),
	), t.treeStats)

	return s
}

// ServeStdio serves the tools on stdin/stdout until EOF.
func (t *Tools) ServeStdio(version string) error {
	return server.ServeStdio(t.Server(version))
}

func (t *Tools) syncAll(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rep, err := t.svc.SyncAll(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rep)
}

func (t *Tools) syncSheet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	arg, err := req.RequireString("sheet")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var titles []string
	for _, s := range strings.Split(arg, ",") {
		if s = strings.TrimSpace(s); s != "" {
			titles = append(titles, s)
		}
	}
	if len(titles) == 0 {
		return mcp.NewToolResultError("sheet is empty"), nil
	}
	rep, err := t.svc.SyncSheets(ctx, titles...)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rep)
}

type sheetInfo struct {
	Title string      `json:"title"`
	Kind  ingest.Kind `json:"kind"`
}

func (t *Tools) listSheets(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	names, err := t.svc.Sheets(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out := make([]sheetInfo, 0, len(names))
	for _, n := range names {
		out = append(out, sheetInfo{Title: n, Kind: t.classifier.Classify(n)})
	}
	return jsonResult(out)
}

func (t *Tools) treeStats(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := t.doc.Load()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	roots := doc.Main
	if p := req.GetString("path", ""); p != "" {
		n, ok := tree.Find(roots, p)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("no node at %q", p)), nil
		}
		roots = []api.Node{n}
	}
	return jsonResult(tree.Measure(roots))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
