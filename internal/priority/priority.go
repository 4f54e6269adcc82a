// Package priority implements the priority ranker: a weighted
// multi-factor score per memory against a query context, plus diversity-aware
// selection of the top items under a token budget.
//
// Grounded on internal/conflicts/scorer.go's temporal decay
// (math.Exp(-lambda*days)) for the recency/temporal-coherence signals. The
// optional embedding-backed relevance signal is the cosine similarity of
// provider.Embed vectors; this package does not use internal/search.
package priority

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/noema-ai/noema/internal/ai"
)

// QueryType adapts the ranker's weights toward a retrieval intent.
type QueryType string

const (
	QueryDefault   QueryType = ""
	QueryRecent    QueryType = "recent"
	QueryImportant QueryType = "important"
	QueryNovel     QueryType = "novel"
)

// Weights are the six scoring factors.
type Weights struct {
	Relevance, Recency, Importance, Surprise, Usage, ContextFit float64
}

// WeightsFor returns the named weight overrides for "recent", "important",
// and "novel" query types, and a balanced default otherwise. Only
// recency/relevance ("recent") and importance/surprise ("important"/"novel")
// are pinned; the remaining weight is distributed across the other factors
// to keep each set summing to 1.
func WeightsFor(qt QueryType) Weights {
	switch qt {
	case QueryRecent:
		return Weights{Recency: 0.40, Relevance: 0.30, Importance: 0.10, Surprise: 0.10, Usage: 0.05, ContextFit: 0.05}
	case QueryImportant:
		return Weights{Importance: 0.35, Surprise: 0.25, Relevance: 0.15, Recency: 0.10, Usage: 0.05, ContextFit: 0.10}
	case QueryNovel:
		return Weights{Surprise: 0.40, Relevance: 0.30, Importance: 0.10, Recency: 0.10, Usage: 0.05, ContextFit: 0.05}
	default:
		return Weights{Relevance: 0.20, Recency: 0.15, Importance: 0.15, Surprise: 0.15, Usage: 0.15, ContextFit: 0.20}
	}
}

// TimeRange is an inclusive [Start,End] window in unix seconds.
type TimeRange struct {
	Start, End int64
}

func (r *TimeRange) midpoint() float64 { return float64(r.Start+r.End) / 2 }

// Belief is an accepted position the epistemic-coherence signal compares a
// memory's sub-claims against.
type Belief struct {
	Text       string
	Confidence float64
}

// Item is one candidate memory being scored.
type Item struct {
	ClaimID         string
	Text            string
	SubClaims       []string
	Importance      float64
	Surprise        float64
	AccessCount     int
	DaysSinceAccess float64
	AgeDays         float64
	TimeRange       *TimeRange
}

// QueryContext bounds a single ranking call.
type QueryContext struct {
	QueryText      string
	QueryTimeRange *TimeRange
	HalfLifeDays   float64
	Beliefs        []Belief
	Type           QueryType
}

// Score computes item's weighted priority against qctx.
func Score(ctx context.Context, provider ai.Provider, item Item, qctx QueryContext) float64 {
	halfLife := qctx.HalfLifeDays
	if halfLife <= 0 {
		halfLife = 14
	}
	w := WeightsFor(qctx.Type)

	relevance := relevanceScore(ctx, provider, item.Text, qctx.QueryText)
	recency := math.Exp(-math.Ln2 * item.AgeDays / halfLife)
	usage := usageScore(item.AccessCount, item.DaysSinceAccess)
	contextFit := 0.5*temporalCoherence(item.TimeRange, qctx.QueryTimeRange, item.AgeDays, halfLife) +
		0.5*epistemicCoherence(ctx, provider, item.SubClaims, qctx.Beliefs)

	return clip01(w.Relevance*relevance + w.Recency*recency + w.Importance*clip01(item.Importance) +
		w.Surprise*clip01(item.Surprise) + w.Usage*usage + w.ContextFit*contextFit)
}

func usageScore(accessCount int, daysSinceAccess float64) float64 {
	return 0.6*math.Min(1, math.Log(1+float64(accessCount))/math.Log(100)) + 0.4*(1/(1+daysSinceAccess))
}

// relevanceScore defaults to Jaccard word overlap; when provider can embed
// both texts it uses cosine similarity instead.
func relevanceScore(ctx context.Context, provider ai.Provider, text, query string) float64 {
	if query == "" {
		return 0
	}
	if ai.Capable(provider) {
		qVec, err1 := provider.Embed(ctx, query)
		tVec, err2 := provider.Embed(ctx, text)
		if err1 == nil && err2 == nil && len(qVec) > 0 && len(tVec) > 0 {
			return clip01(cosineSimilarity(qVec, tVec))
		}
	}
	return jaccard(wordSet(text), wordSet(query))
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// temporalCoherence blends range overlap with midpoint decay when both the
// item and the query carry a time_range, and falls back to pure midpoint
// decay (using the item's age) otherwise.
func temporalCoherence(item, query *TimeRange, itemAgeDays, halfLife float64) float64 {
	if item != nil && query != nil {
		overlap := rangeOverlapRatio(*item, *query)
		decay := math.Exp(-math.Ln2 * math.Abs(item.midpoint()-query.midpoint()) / 86400 / halfLife)
		return 0.2 + 0.8*(0.75*overlap+0.25*decay)
	}
	return math.Exp(-math.Ln2 * itemAgeDays / halfLife)
}

func rangeOverlapRatio(a, b TimeRange) float64 {
	interStart, interEnd := max64(a.Start, b.Start), min64(a.End, b.End)
	overlapLen := interEnd - interStart
	if overlapLen < 0 {
		overlapLen = 0
	}
	unionLen := max64(a.End, b.End) - min64(a.Start, b.Start)
	if unionLen <= 0 {
		return 0
	}
	return float64(overlapLen) / float64(unionLen)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// epistemicCoherence compares a memory's sub-claims against accepted beliefs:
// via provider.DetectContradiction when available, else lexical similarity
// gated by a negation XOR. Result is 0.5 + avg_agreement - avg_penalty,
// clipped to [0,1]; 0.5 (neutral) when nothing is comparable.
func epistemicCoherence(ctx context.Context, provider ai.Provider, subClaims []string, beliefs []Belief) float64 {
	if len(subClaims) == 0 || len(beliefs) == 0 {
		return 0.5
	}
	var agreement, penalty float64
	var count int
	for _, claim := range subClaims {
		for _, belief := range beliefs {
			if ai.Capable(provider) {
				contradicts, err := provider.DetectContradiction(ctx, claim, belief.Text)
				if err == nil && contradicts != nil {
					count++
					if *contradicts {
						penalty += belief.Confidence
					} else {
						agreement += belief.Confidence
					}
					continue
				}
			}
			sim := jaccard(wordSet(claim), wordSet(belief.Text))
			if sim <= 0.3 {
				continue
			}
			count++
			if hasNegation(claim) != hasNegation(belief.Text) {
				penalty += belief.Confidence * sim
			} else {
				agreement += belief.Confidence * sim
			}
		}
	}
	if count == 0 {
		return 0.5
	}
	return clip01(0.5 + agreement/float64(count) - penalty/float64(count))
}

var negationTokens = map[string]bool{"not": true, "no": true, "never": true, "false": true, "incorrect": true, "wrong": true}

func hasNegation(text string) bool {
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if negationTokens[strings.Trim(w, ".,!?;:\"'()")] {
			return true
		}
	}
	return false
}

func wordSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, w := range ai.SortedUnique(s) {
		set[w] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter, union := 0, 0
	seen := map[string]bool{}
	for w := range a {
		seen[w] = true
	}
	for w := range b {
		seen[w] = true
	}
	for w := range seen {
		union++
		if a[w] && b[w] {
			inter++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Scored is one item with its computed priority, ready for selection.
type Scored struct {
	ClaimID  string
	Text     string
	Priority float64
	Topic    string // pre-extracted topic key, see TopicKey
}

// TopicKey extracts the diversity-selection topic for text: the first
// provider-extracted entity name if available, else the first word longer
// than 3 characters (a cheap stand-in for "first significant word").
func TopicKey(ctx context.Context, provider ai.Provider, text string) string {
	if ai.Capable(provider) {
		if entities, err := provider.ExtractEntities(ctx, text); err == nil && len(entities) > 0 {
			return strings.ToLower(entities[0].Name)
		}
	}
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if len(w) > 3 {
			return w
		}
	}
	if fields := strings.Fields(text); len(fields) > 0 {
		return strings.ToLower(fields[0])
	}
	return ""
}

// EstimateTokens approximates token count as ceil(len(text)/4).
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// Selected is one item admitted by Select.
type Selected struct {
	ClaimID string
	Tokens  int
}

// Select walks items (assumed sorted by Priority descending) tracking token
// usage against budget. Items are down-weighted by how many prior admissions
// shared their topic; an item whose effective priority falls to or below 0.3
// is skipped (not admitted, but the walk continues). Budget exhaustion stops
// the walk entirely.
func Select(items []Scored, budget int, diversityFactor float64) []Selected {
	topicSeen := map[string]int{}
	used := 0
	var out []Selected
	for _, item := range items {
		tokens := EstimateTokens(item.Text)
		if used+tokens > budget {
			break
		}
		effective := item.Priority * (1 - diversityFactor*float64(topicSeen[item.Topic]))
		if effective <= 0.3 {
			continue
		}
		out = append(out, Selected{ClaimID: item.ClaimID, Tokens: tokens})
		used += tokens
		topicSeen[item.Topic]++
	}
	return out
}

// SortByPriorityDescending is a small helper for callers assembling a
// Scored slice before calling Select.
func SortByPriorityDescending(items []Scored) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].Priority > items[j].Priority })
}
