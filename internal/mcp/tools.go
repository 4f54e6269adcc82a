package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/noema-ai/noema/internal/coreerr"
	"github.com/noema-ai/noema/internal/ctxutil"
	"github.com/noema-ai/noema/internal/graph"
	"github.com/noema-ai/noema/internal/memory"
	"github.com/noema-ai/noema/internal/model"
	"github.com/noema-ai/noema/internal/priority"
)

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: msg}},
		IsError: true,
	}
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("failed to encode result: %v", err))
	}
	return &mcplib.CallToolResult{Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: string(data)}}}
}

func tenantOf(ctx context.Context) string {
	return ctxutil.OrgIDFromContext(ctx).String()
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("noema_store",
			mcplib.WithDescription(`Write an observation, assertion, or opinion into shared memory.

The substrate scores it for surprise, tiers it (hot/warm/cold), and
indexes it for later recall. Provide a confidence triple honestly: min and
max bound how sure you are, mean is your best single estimate.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("agent_id", mcplib.Description("Your agent identity."), mcplib.Required()),
			mcplib.WithString("content", mcplib.Description("The observation or assertion, as plain text."), mcplib.Required()),
			mcplib.WithNumber("confidence_mean", mcplib.Description("Best single confidence estimate, 0-1."), mcplib.Required(), mcplib.Min(0), mcplib.Max(1)),
			mcplib.WithNumber("confidence_min", mcplib.Description("Lower confidence bound, 0-1. Defaults to confidence_mean."), mcplib.Min(0), mcplib.Max(1)),
			mcplib.WithNumber("confidence_max", mcplib.Description("Upper confidence bound, 0-1. Defaults to confidence_mean."), mcplib.Min(0), mcplib.Max(1)),
			mcplib.WithString("evidence", mcplib.Description("Optional single piece of supporting evidence text.")),
		),
		s.handleStore,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("noema_recall",
			mcplib.WithDescription(`Recall memories relevant to a query, ranked by relevance, recency, importance, and surprise.

Call this before relying on a belief another agent may have already
contributed to, so you build on prior work instead of duplicating it.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("query_text", mcplib.Description("Natural language description of what you're looking for."), mcplib.Required()),
			mcplib.WithString("agent_id", mcplib.Description("Optional: restrict to memories written by a specific agent.")),
			mcplib.WithString("layer", mcplib.Description("Optional: restrict to one storage tier (hot, warm, cold, frozen).")),
			mcplib.WithNumber("limit", mcplib.Description("Maximum number of memories to return."), mcplib.Min(1), mcplib.Max(50), mcplib.DefaultNumber(10)),
		),
		s.handleRecall,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("noema_check_status",
			mcplib.WithDescription(`Check the epistemic status backing a set of claims before treating them as settled.

Returns how many of the given claims are facts (evidence or confirmed),
assumptions, hypotheses (hypothesis or contested), decisions, or rejected,
plus an overall reasoning-quality classification.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("claim_ids", mcplib.Description("Comma-separated claim ids to check."), mcplib.Required()),
		),
		s.handleCheckStatus,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("noema_historical_facts",
			mcplib.WithDescription(`Look up the consensus view and any recorded contradictions for a topic.

Returns the best-agreed answer per relation type, plus pairs of relations
that disagree on the same relation type for the same topic.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("topic", mcplib.Description("The topic/entity name to look up, e.g. 'caching strategy'."), mcplib.Required()),
			mcplib.WithNumber("min_confidence", mcplib.Description("Only include relations at or above this confidence."), mcplib.Min(0), mcplib.Max(1)),
		),
		s.handleHistoricalFacts,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("noema_record_minority",
			mcplib.WithDescription(`Record a dissent from the group's majority view.

Use this when you disagree with what other agents concluded. The substrate
tracks whether your dissent is eventually proven right, and surfaces agents
whose minority calls are reliably correct.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("session_id", mcplib.Description("The session or discussion this dissent belongs to."), mcplib.Required()),
			mcplib.WithString("agent_id", mcplib.Description("Your agent identity."), mcplib.Required()),
			mcplib.WithString("position", mcplib.Description("Your dissenting position, stated as a fact."), mcplib.Required()),
			mcplib.WithString("majority_position", mcplib.Description("What the rest of the group concluded instead."), mcplib.Required()),
			mcplib.WithString("reasoning", mcplib.Description("Why you disagree.")),
			mcplib.WithNumber("confidence", mcplib.Description("How confident you are in your dissent, 0-1."), mcplib.Min(0), mcplib.Max(1)),
			mcplib.WithString("topic", mcplib.Description("Optional topic tag for later lookup.")),
		),
		s.handleRecordMinority,
	)
}

func (s *Server) handleStore(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	agentID := request.GetString("agent_id", "")
	content := request.GetString("content", "")
	if agentID == "" || content == "" {
		return errorResult("agent_id and content are required"), nil
	}

	mean := request.GetFloat("confidence_mean", 0)
	min := request.GetFloat("confidence_min", mean)
	max := request.GetFloat("confidence_max", mean)
	confidence := model.Confidence{Min: min, Max: max, Mean: mean}
	if err := confidence.Validate(); err != nil {
		return errorResult(fmt.Sprintf("invalid confidence: %v", err)), nil
	}

	var evidence []model.Evidence
	if text := request.GetString("evidence", ""); text != "" {
		evidence = append(evidence, model.Evidence{Text: text, Quality: 1})
	}

	id, err := s.mem.Store(ctx, tenantOf(ctx), memory.StoreInput{
		AgentID:    agentID,
		Content:    content,
		Confidence: confidence,
		Evidence:   evidence,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("store failed: %v", err)), nil
	}
	return jsonResult(map[string]string{"id": id}), nil
}

func (s *Server) handleRecall(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	queryText := request.GetString("query_text", "")
	if queryText == "" {
		return errorResult("query_text is required"), nil
	}
	limit := request.GetInt("limit", 10)

	tenant := tenantOf(ctx)
	var filters memory.QueryFilters
	if agentID := request.GetString("agent_id", ""); agentID != "" {
		filters.AgentID = &agentID
	}
	if layer := request.GetString("layer", ""); layer != "" {
		l := model.Layer(layer)
		filters.Layer = &l
	}

	claims, err := s.mem.QueryBySurprise(ctx, tenant, memory.SurpriseThresholds{Min: 0, Max: 1}, filters)
	if err != nil {
		return errorResult(fmt.Sprintf("recall failed: %v", err)), nil
	}

	now := time.Now()
	scored := make([]priority.Scored, 0, len(claims))
	byID := make(map[string]model.Claim, len(claims))
	for _, c := range claims {
		byID[c.ID] = c
		subClaims := make([]string, 0, len(c.SubClaims))
		for _, sc := range c.SubClaims {
			subClaims = append(subClaims, sc.Text)
		}
		score := priority.Score(ctx, s.provider, priority.Item{
			ClaimID:         c.ID,
			Text:            c.Content,
			SubClaims:       subClaims,
			Importance:      c.Importance,
			Surprise:        c.SurpriseScore,
			AccessCount:     c.AccessCount,
			DaysSinceAccess: now.Sub(time.Unix(c.LastAccess, 0)).Hours() / 24,
			AgeDays:         now.Sub(time.Unix(c.Timestamp, 0)).Hours() / 24,
		}, priority.QueryContext{QueryText: queryText})
		scored = append(scored, priority.Scored{ClaimID: c.ID, Text: c.Content, Priority: score})
	}
	priority.SortByPriorityDescending(scored)

	if limit > len(scored) {
		limit = len(scored)
	}
	out := make([]model.Claim, 0, limit)
	for _, sc := range scored[:limit] {
		out = append(out, byID[sc.ClaimID])
	}
	return jsonResult(out), nil
}

func (s *Server) handleCheckStatus(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	raw := request.GetString("claim_ids", "")
	if raw == "" {
		return errorResult("claim_ids is required"), nil
	}
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			ids = append(ids, id)
		}
	}

	basis, err := s.epi.GetReasoningBasis(ctx, tenantOf(ctx), ids)
	if err != nil {
		return errorResult(fmt.Sprintf("check_status failed: %v", err)), nil
	}
	return jsonResult(basis), nil
}

func (s *Server) handleHistoricalFacts(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	topic := request.GetString("topic", "")
	if topic == "" {
		return errorResult("topic is required"), nil
	}
	minConfidence := request.GetFloat("min_confidence", 0)

	facts, err := s.g.GetHistoricalFacts(ctx, tenantOf(ctx), topic, graph.QueryOptions{
		MinConfidence:         minConfidence,
		IncludeContradictions: true,
	})
	if err != nil {
		if coreerr.Is(err, coreerr.KindNotFound) {
			return jsonResult(map[string]any{"found": false, "topic": topic}), nil
		}
		return errorResult(fmt.Sprintf("historical_facts failed: %v", err)), nil
	}
	return jsonResult(facts), nil
}

func (s *Server) handleRecordMinority(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	sessionID := request.GetString("session_id", "")
	agentID := request.GetString("agent_id", "")
	position := request.GetString("position", "")
	majority := request.GetString("majority_position", "")
	if sessionID == "" || agentID == "" || position == "" || majority == "" {
		return errorResult("session_id, agent_id, position, and majority_position are required"), nil
	}

	opinion, err := s.minor.Record(ctx, tenantOf(ctx), sessionID, model.MinorityOpinion{
		AgentID:          agentID,
		Position:         position,
		Reasoning:        request.GetString("reasoning", ""),
		Confidence:       request.GetFloat("confidence", 0),
		MajorityPosition: majority,
		Topic:            request.GetString("topic", ""),
	})
	if err != nil {
		return errorResult(fmt.Sprintf("record_minority failed: %v", err)), nil
	}
	return jsonResult(opinion), nil
}
