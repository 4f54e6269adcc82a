// Package mcp implements the Model Context Protocol server for noema.
//
// It exposes the same core capabilities as the HTTP API through five MCP
// tools, so MCP-compatible agents can write, recall, and audit memory
// without going through the REST surface.
package mcp

import (
	"log/slog"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/noema-ai/noema/internal/ai"
	"github.com/noema-ai/noema/internal/epistat"
	"github.com/noema-ai/noema/internal/graph"
	"github.com/noema-ai/noema/internal/memory"
	"github.com/noema-ai/noema/internal/minority"
)

const serverInstructions = `You have access to noema, a shared epistemic memory substrate for multi-agent deliberation.

WORKFLOW:
1. Write what you observe or conclude with noema_store. Supply a confidence
   triple (min/mean/max) honestly — narrow-but-uncertain and wide-but-confident
   are different things and the substrate tracks the difference.
2. Before relying on a belief another agent may have touched, call noema_recall
   to see what is already known, ranked by relevance, recency, and surprise.
3. Call noema_check_status to see the epistemic status (hypothesis, evidence,
   confirmed, contested, rejected, ...) backing a set of claims before treating
   them as settled.
4. Call noema_historical_facts to see the consensus answer and any
   contradictions the graph has recorded about a topic.
5. If you disagree with the group and turn out to be right later, record it
   with noema_record_minority — the substrate tracks which agents' dissents
   pay off over time.`

// Server wraps the MCP server with noema's core components.
type Server struct {
	mcpServer *mcpserver.MCPServer
	mem       *memory.Orchestrator
	g         *graph.Store
	epi       *epistat.Tracker
	minor     *minority.Tracker
	provider  ai.Provider
	logger    *slog.Logger
}

// New creates and configures a new MCP server exposing noema's five tools.
func New(mem *memory.Orchestrator, g *graph.Store, epi *epistat.Tracker, minor *minority.Tracker, provider ai.Provider, logger *slog.Logger, version string) *Server {
	s := &Server{
		mem:      mem,
		g:        g,
		epi:      epi,
		minor:    minor,
		provider: provider,
		logger:   logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"noema",
		version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithInstructions(serverInstructions),
	)

	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}
