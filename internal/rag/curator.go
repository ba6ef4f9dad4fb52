package rag

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/chatbi/chatbi/internal/knowledge"
	"github.com/chatbi/chatbi/internal/sqlcheck"
)

// Curation constants. The weights sum to 1 for both the quality score and
// the final ordering blend.
const (
	curatorMinSimilarity = 0.3
	curatorMinRating     = -1.0
	curatorMinSQLLength  = 10

	weightSimilarity = 0.40
	weightRating     = 0.20
	weightUsage      = 0.15
	weightComplexity = 0.15
	weightRecency    = 0.10

	// Pairwise question/SQL overlap above this marks two examples as
	// near-duplicates.
	diversityCutoff  = 0.7
	diversityQWeight = 0.6
	diversitySWeight = 0.4

	orderWeightSimilarity = 0.5
	orderWeightScore      = 0.4
	orderWeightLength     = 0.1

	// Examples near this SQL length demonstrate structure without
	// flooding the prompt.
	idealSQLLength = 100
)

// Curator selects the few-shot examples that go into a generation prompt:
// filter out unusable candidates, score the rest, enforce diversity, then
// order for presentation.
type Curator struct{}

// NewCurator returns a Curator.
func NewCurator() *Curator { return &Curator{} }

type scoredMatch struct {
	match knowledge.Match
	score float64
}

// Curate runs the full pipeline and returns at most n matches.
func (c *Curator) Curate(question string, candidates []knowledge.Match, n int) []knowledge.Match {
	if n <= 0 {
		return nil
	}

	scored := c.scoreCandidates(question, candidates)
	selected := c.diversify(scored, n)
	return c.finalize(selected, n)
}

// scoreCandidates drops unusable candidates and attaches quality scores,
// best first.
func (c *Curator) scoreCandidates(question string, candidates []knowledge.Match) []scoredMatch {
	target := questionComplexity(question)

	scored := make([]scoredMatch, 0, len(candidates))
	for _, m := range candidates {
		if !usable(m) {
			continue
		}
		scored = append(scored, scoredMatch{match: m, score: c.score(target, m)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})
	return scored
}

// usable applies the pre-filter: candidates that could never be good
// examples are dropped before scoring.
func usable(m knowledge.Match) bool {
	q := strings.TrimSpace(m.Question)
	s := strings.TrimSpace(m.SQL)
	if q == "" || s == "" {
		return false
	}
	if len(s) < curatorMinSQLLength {
		return false
	}
	if ok, _ := sqlcheck.Check(s); !ok {
		return false
	}
	qLen := len([]rune(q))
	if qLen < 3 || qLen > 500 {
		return false
	}
	if m.Similarity < curatorMinSimilarity {
		return false
	}
	if m.Rating < curatorMinRating {
		return false
	}
	return true
}

// score computes the weighted quality score for one candidate.
func (c *Curator) score(targetComplexity int, m knowledge.Match) float64 {
	normRating := clamp01((m.Rating + 1) / 2)
	usage := math.Min(1, float64(m.UsageCount)/10)
	complexity := complexityMatch(targetComplexity, sqlComplexity(m.SQL))
	recency := recencyScore(m.UpdatedAt, time.Now())

	return weightSimilarity*m.Similarity +
		weightRating*normRating +
		weightUsage*usage +
		weightComplexity*complexity +
		weightRecency*recency
}

// diversify walks the score-ordered candidates and rejects any that
// nearly duplicate an already-selected one. When that leaves fewer than n
// examples, rejected candidates backfill in score order: a full set of
// slightly-redundant examples beats a short diverse one.
func (c *Curator) diversify(scored []scoredMatch, n int) []scoredMatch {
	selected := make([]scoredMatch, 0, n)
	var rejected []scoredMatch

	for _, cand := range scored {
		if len(selected) == n {
			break
		}
		dup := false
		for _, s := range selected {
			if pairSimilarity(cand.match, s.match) > diversityCutoff {
				dup = true
				break
			}
		}
		if dup {
			rejected = append(rejected, cand)
		} else {
			selected = append(selected, cand)
		}
	}

	for _, cand := range rejected {
		if len(selected) == n {
			break
		}
		selected = append(selected, cand)
	}
	return selected
}

// finalize re-validates and orders the selection for presentation.
func (c *Curator) finalize(selected []scoredMatch, n int) []knowledge.Match {
	kept := selected[:0]
	for _, s := range selected {
		if ok, _ := sqlcheck.Check(s.match.SQL); ok {
			kept = append(kept, s)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return presentationKey(kept[i]) > presentationKey(kept[j])
	})

	if len(kept) > n {
		kept = kept[:n]
	}
	out := make([]knowledge.Match, 0, len(kept))
	for _, s := range kept {
		out = append(out, s.match)
	}
	return out
}

func presentationKey(s scoredMatch) float64 {
	return orderWeightSimilarity*s.match.Similarity +
		orderWeightScore*s.score +
		orderWeightLength*lengthCloseness(len(s.match.SQL))
}

// lengthCloseness is 1 at the ideal SQL length and decays toward 0 as the
// length diverges.
func lengthCloseness(length int) float64 {
	diff := math.Abs(float64(length - idealSQLLength))
	return idealSQLLength / (idealSQLLength + diff)
}

// pairSimilarity measures how interchangeable two examples are, blending
// question overlap with SQL overlap.
func pairSimilarity(a, b knowledge.Match) float64 {
	return diversityQWeight*lcsRatio(a.Question, b.Question) +
		diversitySWeight*lcsRatio(a.SQL, b.SQL)
}

// lcsRatio is the normalized longest-common-subsequence over word tokens:
// 2*LCS / (len(a)+len(b)), in [0, 1].
func lcsRatio(a, b string) float64 {
	ta := tokenize(a)
	tb := tokenize(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 0
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	prev := make([]int, len(tb)+1)
	curr := make([]int, len(tb)+1)
	for i := 1; i <= len(ta); i++ {
		for j := 1; j <= len(tb); j++ {
			if ta[i-1] == tb[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	lcs := prev[len(tb)]
	return 2 * float64(lcs) / float64(len(ta)+len(tb))
}

func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// complexityMatch scores how well an example's structural complexity fits
// the target question, over three levels.
func complexityMatch(target, actual int) float64 {
	switch abs(target - actual) {
	case 0:
		return 1.0
	case 1:
		return 0.7
	default:
		return 0.3
	}
}

// sqlComplexity estimates a 1-3 complexity level from structural features.
func sqlComplexity(sql string) int {
	upper := strings.ToUpper(sql)
	features := 0
	for _, f := range []string{"JOIN", "GROUP BY", "HAVING", "UNION", "(SELECT", "OVER (", "WITH "} {
		if strings.Contains(upper, f) {
			features++
		}
	}
	switch {
	case features == 0:
		return 1
	case features <= 2:
		return 2
	default:
		return 3
	}
}

// questionComplexity estimates a 1-3 complexity level from length and
// analytical markers in the question.
func questionComplexity(question string) int {
	words := tokenize(question)
	markers := 0
	for _, w := range words {
		switch w {
		case "per", "by", "each", "group", "grouped", "compare", "compared",
			"trend", "average", "ratio", "versus", "vs":
			markers++
		}
	}
	points := markers
	if len(words) >= 8 {
		points++
	}
	if len(words) >= 15 {
		points++
	}
	switch {
	case points == 0:
		return 1
	case points <= 2:
		return 2
	default:
		return 3
	}
}

// recencyScore buckets the item's last update. Missing timestamps score
// the neutral 0.5.
func recencyScore(updatedAt, now time.Time) float64 {
	if updatedAt.IsZero() {
		return 0.5
	}
	age := now.Sub(updatedAt)
	switch {
	case age <= 7*24*time.Hour:
		return 1.0
	case age <= 30*24*time.Hour:
		return 0.8
	case age <= 90*24*time.Hour:
		return 0.6
	case age <= 365*24*time.Hour:
		return 0.4
	default:
		return 0.2
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
