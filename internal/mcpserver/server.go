// Package mcpserver exposes the analysis engine's query API as an MCP
// (Model Context Protocol) server over stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/notedrift/geist/internal/config"
	"github.com/notedrift/geist/internal/metrics"
	"github.com/notedrift/geist/internal/session"
	"github.com/notedrift/geist/internal/simgraph"
	"github.com/notedrift/geist/internal/store"
)

// Server wraps the MCP server with the engine's query tools.
type Server struct {
	mcp *server.MCPServer
	db  *store.DB
	cfg config.Config
}

// New creates an MCP server with all query tools registered.
func New(db *store.DB, cfg config.Config) *Server {
	s := &Server{db: db, cfg: cfg}

	s.mcp = server.NewMCPServer(
		"geist",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	s.mcp.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List analysis session dates, optionally within a date range."),
		mcp.WithString("start", mcp.Description("Earliest date, YYYY-MM-DD (empty for all)")),
		mcp.WithString("end", mcp.Description("Latest date, YYYY-MM-DD (empty for all)")),
	), s.listSessions)

	s.mcp.AddTool(mcp.NewTool("similarity",
		mcp.WithDescription("Cosine similarity of two notes' full embeddings in one session."),
		mcp.WithString("date", mcp.Required(), mcp.Description("Session date, YYYY-MM-DD")),
		mcp.WithString("note_a", mcp.Required(), mcp.Description("First note id")),
		mcp.WithString("note_b", mcp.Required(), mcp.Description("Second note id")),
	), s.similarity)

	s.mcp.AddTool(mcp.NewTool("drift",
		mcp.WithDescription("How far a note's meaning has moved between its first and latest session."),
		mcp.WithString("note", mcp.Required(), mcp.Description("Note id")),
		mcp.WithString("end", mcp.Description("Latest session date to consider (empty for newest)")),
	), s.drift)

	s.mcp.AddTool(mcp.NewTool("clusters",
		mcp.WithDescription("Cluster labels and membership for one session."),
		mcp.WithString("date", mcp.Required(), mcp.Description("Session date, YYYY-MM-DD")),
	), s.clusters)

	s.mcp.AddTool(mcp.NewTool("hubs",
		mcp.WithDescription("Most-linked and unlinked notes of one session."),
		mcp.WithString("date", mcp.Required(), mcp.Description("Session date, YYYY-MM-DD")),
	), s.hubs)

	s.mcp.AddTool(mcp.NewTool("session_metrics",
		mcp.WithDescription("Aggregate embedding statistics (diversity, intrinsic dimensionality) for one session."),
		mcp.WithString("date", mcp.Required(), mcp.Description("Session date, YYYY-MM-DD")),
	), s.sessionMetrics)

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

func (s *Server) listSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := ""
	if v, err := req.RequireString("start"); err == nil {
		start = v
	}
	end := ""
	if v, err := req.RequireString("end"); err == nil {
		end = v
	}
	dates, err := s.db.SessionsBetween(start, end)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(dates, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) similarity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	date, err := req.RequireString("date")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	noteA, err := req.RequireString("note_a")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	noteB, err := req.RequireString("note_b")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	h, err := session.NewHandle(s.db, s.cfg, date)
	if err != nil {
		return s.sessionError(date, err), nil
	}
	sim, err := h.Graph.Similarity(noteA, noteB)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hops := h.Graph.ShortestPathLength(noteA, noteB)

	out, _ := json.MarshalIndent(map[string]any{
		"date":       date,
		"similarity": sim,
		"path_hops":  hops,
		"reachable":  hops != simgraph.Unreachable,
	}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) drift(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	noteID, err := req.RequireString("note")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	end := ""
	if v, err := req.RequireString("end"); err == nil {
		end = v
	}
	if end == "" {
		dates, err := s.db.SessionsBetween("", "")
		if err != nil || len(dates) == 0 {
			return mcp.NewToolResultError("no sessions recorded"), nil
		}
		end = dates[len(dates)-1]
	}

	h, err := session.NewHandle(s.db, s.cfg, end)
	if err != nil {
		return s.sessionError(end, err), nil
	}
	drift, ok, err := h.Trajectory.Drift(noteID, "", end)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	velocity, _, err := h.Trajectory.Velocity(noteID, "", end)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out, _ := json.MarshalIndent(map[string]any{
		"note":            noteID,
		"through":         end,
		"drift":           drift,
		"velocity":        velocity,
		"sufficient_data": ok,
	}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) clusters(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	date, err := req.RequireString("date")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	h, err := session.NewHandle(s.db, s.cfg, date)
	if err != nil {
		return s.sessionError(date, err), nil
	}

	type clusterView struct {
		ID      int      `json:"id"`
		Label   string   `json:"label"`
		Members []string `json:"members"`
	}
	members := h.ClusterMembers()
	var views []clusterView
	for c := 0; ; c++ {
		ids, ok := members[c]
		if !ok {
			break
		}
		label := ""
		if len(ids) > 0 {
			label = h.Session.Records[ids[0]].ClusterLabel
		}
		views = append(views, clusterView{ID: c, Label: label, Members: ids})
	}
	out, _ := json.MarshalIndent(views, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) hubs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	date, err := req.RequireString("date")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	h, err := session.NewHandle(s.db, s.cfg, date)
	if err != nil {
		return s.sessionError(date, err), nil
	}
	out, _ := json.MarshalIndent(map[string]any{
		"hubs":    h.Graph.Hubs(s.cfg.Analysis.HubCount),
		"orphans": h.Graph.Orphans(s.cfg.Analysis.OrphanCount),
	}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) sessionMetrics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	date, err := req.RequireString("date")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	m, err := metrics.ForSession(s.db, date)
	if err != nil {
		return s.sessionError(date, err), nil
	}
	out, _ := json.MarshalIndent(m, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) sessionError(date string, err error) *mcp.CallToolResult {
	if errors.Is(err, store.ErrSessionNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("no session recorded for %s", date))
	}
	return mcp.NewToolResultError(err.Error())
}
