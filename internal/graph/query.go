package graph

import (
	"context"
	"sort"

	"github.com/noema-ai/noema/internal/coreerr"
	"github.com/noema-ai/noema/internal/model"
)

// QueryOptions tunes GetHistoricalFacts.
type QueryOptions struct {
	MinConfidence        float64
	IncludeContradictions bool
}

// Consensus is one relation-type group's agreed-upon answer.
type Consensus struct {
	RelationType        string  `json:"relation_type"`
	BestTarget          string  `json:"best_target"`
	AggregateConfidence float64 `json:"aggregate_confidence"`
	AgreementRate       float64 `json:"agreement_rate"`
	SampleSize          int     `json:"sample_size"`
}

// Contradiction is one pair of same-type relations disagreeing on target.
type Contradiction struct {
	RelationType string  `json:"relation_type"`
	TargetA      string  `json:"target_a"`
	TargetB      string  `json:"target_b"`
	Severity     float64 `json:"severity"`
}

// HistoricalFacts is GetHistoricalFacts's result.
type HistoricalFacts struct {
	Entity         model.Entity    `json:"entity"`
	Consensus      []Consensus     `json:"consensus"`
	Contradictions []Contradiction `json:"contradictions,omitempty"`
}

// GetHistoricalFacts loads topic's entity and relations, groups by relation
// type, and computes a per-group consensus.
func (s *Store) GetHistoricalFacts(ctx context.Context, tenant, topic string, opts QueryOptions) (HistoricalFacts, error) {
	id := model.EntityID("topic", topic)
	entity, err := s.GetEntity(ctx, tenant, id)
	if err != nil {
		return HistoricalFacts{}, err
	}
	relations, err := s.GetRelations(ctx, tenant, id)
	if err != nil {
		return HistoricalFacts{}, err
	}

	filtered := make([]model.Relation, 0, len(relations))
	for _, r := range relations {
		if r.Confidence >= opts.MinConfidence {
			filtered = append(filtered, r)
		}
	}

	groups := map[string][]model.Relation{}
	for _, r := range filtered {
		groups[r.Relation] = append(groups[r.Relation], r)
	}

	var consensus []Consensus
	var contradictions []Contradiction
	for relType, group := range groups {
		consensus = append(consensus, computeConsensus(relType, group))
		if opts.IncludeContradictions {
			contradictions = append(contradictions, findContradictions(relType, group)...)
		}
	}
	sort.Slice(consensus, func(i, j int) bool { return consensus[i].RelationType < consensus[j].RelationType })
	sort.Slice(contradictions, func(i, j int) bool { return contradictions[i].RelationType < contradictions[j].RelationType })

	return HistoricalFacts{Entity: entity, Consensus: consensus, Contradictions: contradictions}, nil
}

// computeConsensus computes per-type consensus: best target is the
// argmax of mean confidence per target; aggregate confidence is the mean of
// every relation's confidence in the group; agreement rate is the best
// target's share of the group.
func computeConsensus(relType string, group []model.Relation) Consensus {
	sums := map[string]float64{}
	counts := map[string]int{}
	var totalConfidence float64
	for _, r := range group {
		sums[r.To] += r.Confidence
		counts[r.To]++
		totalConfidence += r.Confidence
	}

	var bestTarget string
	var bestMean float64 = -1
	targets := make([]string, 0, len(sums))
	for t := range sums {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	for _, t := range targets {
		mean := sums[t] / float64(counts[t])
		if mean > bestMean {
			bestMean = mean
			bestTarget = t
		}
	}

	return Consensus{
		RelationType:        relType,
		BestTarget:          bestTarget,
		AggregateConfidence: totalConfidence / float64(len(group)),
		AgreementRate:       float64(counts[bestTarget]) / float64(len(group)),
		SampleSize:          len(group),
	}
}

// findContradictions emits every pair in group whose targets differ, with
// severity = min(confidence₁, confidence₂).
func findContradictions(relType string, group []model.Relation) []Contradiction {
	var out []Contradiction
	for i := 0; i < len(group); i++ {
		for j := i + 1; j < len(group); j++ {
			a, b := group[i], group[j]
			if a.To == b.To {
				continue
			}
			sev := a.Confidence
			if b.Confidence < sev {
				sev = b.Confidence
			}
			out = append(out, Contradiction{RelationType: relType, TargetA: a.To, TargetB: b.To, Severity: sev})
		}
	}
	return out
}

// defaultMaxDepth is FindPath's default hop bound.
const defaultMaxDepth = 5

// PathHop is one step in a found path: the relation taken to reach Node.
type PathHop struct {
	Node     string `json:"node"`
	Relation string `json:"relation,omitempty"`
}

// FindPath runs a BFS from `from` to `to` bounded by maxDepth (0 selects the
// default of 5), returning the node sequence and chosen relation per hop.
// Returns a NotFound error if no path exists within the bound.
func (s *Store) FindPath(ctx context.Context, tenant, from, to string, maxDepth int) ([]PathHop, error) {
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	if from == to {
		return []PathHop{{Node: from}}, nil
	}

	type frame struct {
		node string
		path []PathHop
	}

	visited := map[string]bool{from: true}
	queue := []frame{{node: from, path: []PathHop{{Node: from}}}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if len(cur.path)-1 >= maxDepth {
			continue
		}
		relations, err := s.GetRelations(ctx, tenant, cur.node)
		if err != nil {
			return nil, coreerr.Backend("graph.FindPath", err)
		}
		sort.Slice(relations, func(i, j int) bool { return relations[i].ID < relations[j].ID })
		for _, r := range relations {
			next := r.To
			if r.To == cur.node {
				next = r.From
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			newPath := append(append([]PathHop{}, cur.path...), PathHop{Node: next, Relation: r.Relation})
			if next == to {
				return newPath, nil
			}
			queue = append(queue, frame{node: next, path: newPath})
		}
	}

	return nil, coreerr.NotFound("graph.FindPath", "no path found within max_depth")
}
