// Package surprise implements the composite novelty/contradiction/evidence/
// confidence-shift "surprise metric" scoring. It is pure computation: no
// store, no I/O, so the orchestrator (internal/memory) controls what
// context it is handed (the agent's most recent claims).
//
// No single source computes a composite memory-surprise score directly —
// the app's original pairwise conflict scoring is not a weighted composite
// over several signal families. This package borrows that shape (weighted
// combination of signals, threshold gating) but builds its own formulas on
// top of it.
package surprise

import (
	"context"
	"math"
	"strings"

	"github.com/noema-ai/noema/internal/ai"
	"github.com/noema-ai/noema/internal/model"
)

// NegationTokens is the fixed English negation vocabulary used to detect
// when two statements take opposite positions. This is the seam a future
// locale override would replace.
var NegationTokens = map[string]bool{
	"not": true, "no": true, "never": true, "false": true,
	"incorrect": true, "wrong": true,
}

// ContextItem is one prior claim from the same agent, used as comparison
// context when scoring a new claim's surprise.
type ContextItem struct {
	Text       string
	Confidence model.Confidence
}

// Input bundles everything Compute needs to score one new claim.
type Input struct {
	Text       string
	Confidence model.Confidence
	Evidence   []model.Evidence
	Context    []ContextItem // up to 50 most recent claims by the same agent
	Momentum   float64       // temporal-history signal; 0 selects the default of 0.5
}

// defaultWeights are the composite weights. Disagreement is computed and
// reported in Result but is not one of the four signals the composite's
// default weights name (novelty/contradiction/evidence/confidence_shift sum
// to 1.00 already) — it is a standalone signal reported in
// Result.Components; no other package reads it.
const (
	weightNovelty      = 0.35
	weightContradiction = 0.30
	weightEvidence     = 0.20
	weightConfShift    = 0.15
)

// Result is the composite surprise score plus its named components.
type Result struct {
	Score      float64
	Components model.SurpriseComponents
	Degraded   bool
}

// Compute scores in.Text's surprise against in.Context using provider (if
// non-nil) for semantic novelty, falling back to the lexical heuristic when
// provider is nil or declines to answer.
func Compute(ctx context.Context, provider ai.Provider, in Input) Result {
	momentum := in.Momentum
	if momentum <= 0 {
		momentum = 0.5
	}

	novelty, degraded := computeNovelty(ctx, provider, in.Text, in.Context)
	contradiction := computeContradictionImpact(in.Text, in.Confidence, in.Context)
	evidence := computeEvidenceAccumulation(in.Evidence)
	confShift := computeConfidenceShift(in.Confidence, in.Context)
	disagreement := computeDisagreement(in.Context)

	type sigWeight struct {
		weight, score float64
		applicable    bool
	}
	signals := []sigWeight{
		{weightNovelty, novelty, true},
		{weightContradiction, contradiction, len(in.Context) > 0},
		{weightEvidence, evidence, len(in.Evidence) > 0},
		{weightConfShift, confShift, len(in.Context) > 0},
	}

	var weightSum, scoreSum float64
	for _, s := range signals {
		if !s.applicable {
			continue
		}
		weightSum += s.weight
		scoreSum += s.weight * s.score
	}
	var weighted float64
	if weightSum > 0 {
		weighted = scoreSum / weightSum
	}
	composite := 0.9*weighted + 0.1*momentum
	composite = clip01(composite)

	return Result{
		Score: composite,
		Components: model.SurpriseComponents{
			Novelty:              novelty,
			ContradictionImpact:  contradiction,
			EvidenceAccumulation: evidence,
			ConfidenceShift:      confShift,
			Disagreement:         disagreement,
			Momentum:             momentum,
		},
		Degraded: degraded,
	}
}

func computeNovelty(ctx context.Context, provider ai.Provider, text string, context []ContextItem) (float64, bool) {
	if len(context) == 0 {
		return 1.0, false
	}
	contextTexts := make([]string, len(context))
	for i, c := range context {
		contextTexts[i] = c.Text
	}
	lexical := lexicalNovelty(text, contextTexts)
	semantic, degraded := semanticNovelty(ctx, provider, text, contextTexts, lexical)
	infoGain := informationGain(text, contextTexts)
	return clip01(0.5*semantic + 0.3*lexical + 0.2*infoGain), degraded
}

func lexicalNovelty(text string, contextTexts []string) float64 {
	newWords := ai.SortedUnique(text)
	if len(newWords) == 0 {
		return 0
	}
	contextSet := map[string]bool{}
	for _, t := range contextTexts {
		for _, w := range ai.SortedUnique(t) {
			contextSet[w] = true
		}
	}
	novel := 0
	for _, w := range newWords {
		if !contextSet[w] {
			novel++
		}
	}
	return math.Min(1, 2*float64(novel)/float64(len(newWords)))
}

// semanticNovelty asks provider for embeddings and measures 1 minus the
// highest cosine similarity against context; when provider is nil or either
// embedding is unavailable, it falls back to the lexical score.
func semanticNovelty(ctx context.Context, provider ai.Provider, text string, contextTexts []string, lexicalFallback float64) (float64, bool) {
	if !ai.Capable(provider) {
		return lexicalFallback, false
	}
	newVec, err := provider.Embed(ctx, text)
	if err != nil || len(newVec) == 0 {
		return lexicalFallback, true
	}
	maxSim := -1.0
	found := false
	for _, t := range contextTexts {
		vec, err := provider.Embed(ctx, t)
		if err != nil || len(vec) == 0 {
			continue
		}
		found = true
		if sim := cosineSimilarity(newVec, vec); sim > maxSim {
			maxSim = sim
		}
	}
	if !found {
		return lexicalFallback, true
	}
	return clip01(1 - maxSim), false
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

// informationGain compares new-text entropy against the mean entropy of the
// context, clipped to "(H(new) - mean H(context) + 5) / 10".
func informationGain(text string, contextTexts []string) float64 {
	if len(contextTexts) == 0 {
		return clip01((shannonEntropy(text) + 5) / 10)
	}
	var sum float64
	for _, t := range contextTexts {
		sum += shannonEntropy(t)
	}
	meanH := sum / float64(len(contextTexts))
	return clip01((shannonEntropy(text) - meanH + 5) / 10)
}

// shannonEntropy computes character-frequency Shannon entropy in bits.
func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	counts := map[rune]int{}
	total := 0
	for _, r := range s {
		counts[r]++
		total++
	}
	var h float64
	for _, c := range counts {
		p := float64(c) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}

// computeContradictionImpact finds the strongest opposing belief in context.
func computeContradictionImpact(text string, conf model.Confidence, context []ContextItem) float64 {
	if len(context) == 0 {
		return 0
	}
	newWords := wordSet(text)
	newNeg := hasNegation(text)
	best := 0.0
	for _, belief := range context {
		overlap := jaccard(newWords, wordSet(belief.Text))
		if overlap == 0 {
			continue
		}
		if newNeg == hasNegation(belief.Text) {
			continue // XOR false: same polarity, not a contradiction signal
		}
		impact := overlap * (belief.Confidence.Mean + conf.Mean) / 2
		if impact > best {
			best = impact
		}
	}
	return clip01(best)
}

func computeEvidenceAccumulation(evidence []model.Evidence) float64 {
	if len(evidence) == 0 {
		return 0
	}
	var sum float64
	for _, e := range evidence {
		sum += e.Quality
	}
	return clip01(math.Log(1+sum) / math.Log(101))
}

// computeConfidenceShift compares the new claim's confidence against the
// mean confidence of the recent context, used as a stand-in for "the prior
// belief state" to diff against.
func computeConfidenceShift(conf model.Confidence, context []ContextItem) float64 {
	if len(context) == 0 {
		return 0
	}
	var meanSum, rangeSum float64
	for _, c := range context {
		meanSum += c.Confidence.Mean
		rangeSum += c.Confidence.Max - c.Confidence.Min
	}
	n := float64(len(context))
	deltaMean := math.Abs(conf.Mean - meanSum/n)
	deltaRange := math.Abs((conf.Max - conf.Min) - rangeSum/n)
	return clip01(0.7*deltaMean + 0.3*deltaRange)
}

// computeDisagreement measures how split the context itself is, blending
// confidence variance with mean pairwise lexical distance.
func computeDisagreement(context []ContextItem) float64 {
	if len(context) < 2 {
		return 0
	}
	means := make([]float64, len(context))
	for i, c := range context {
		means[i] = c.Confidence.Mean
	}
	variance := variance(means)

	var distSum float64
	var pairs int
	for i := 0; i < len(context); i++ {
		for j := i + 1; j < len(context); j++ {
			distSum += 1 - jaccard(wordSet(context[i].Text), wordSet(context[j].Text))
			pairs++
		}
	}
	meanDist := 0.0
	if pairs > 0 {
		meanDist = distSum / float64(pairs)
	}
	return math.Min(1, 2*(0.5*variance+0.5*meanDist))
}

func variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return sq / float64(len(xs))
}

func wordSet(s string) map[string]bool {
	words := ai.SortedUnique(s)
	set := make(map[string]bool, len(words))
	for _, w := range words {
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

func hasNegation(text string) bool {
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if NegationTokens[w] {
			return true
		}
	}
	return false
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
