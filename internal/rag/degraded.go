package rag

import (
	"sort"
	"strings"
	"sync"

	"github.com/chatbi/chatbi/internal/knowledge"
)

// degradedFloor is the minimum text-similarity score served from the
// degraded cache. Lower than the normal retrieval threshold: during an
// outage a weak hint is better than nothing.
const degradedFloor = 0.3

// degradedMaxResults caps fallback search results.
const degradedMaxResults = 5

// degradedCache is the outage fallback: a bounded in-memory set of
// question→SQL pairs from previous successful retrievals, searched with
// plain text similarity instead of embeddings.
type degradedCache struct {
	mu       sync.Mutex
	entries  map[string]string // normalized question -> sql
	order    []string          // insertion order for eviction
	capacity int
}

func newDegradedCache(capacity int) *degradedCache {
	return &degradedCache{
		entries:  make(map[string]string),
		capacity: capacity,
	}
}

// Put remembers a pair, evicting the oldest entry at capacity.
func (c *degradedCache) Put(question, sql string) {
	key := normalizeQuestion(question)
	if key == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		for len(c.entries) >= c.capacity && len(c.order) > 0 {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = sql
}

// Search scores every cached question against the query. In
// substring-only mode (deep degradation) word-overlap scoring is skipped
// and only containment counts.
func (c *degradedCache) Search(question string, substringOnly bool) []knowledge.Match {
	query := normalizeQuestion(question)
	if query == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var matches []knowledge.Match
	for cached, sql := range c.entries {
		score := textScore(query, cached, substringOnly)
		if score <= degradedFloor {
			continue
		}
		matches = append(matches, knowledge.Match{
			Item:       knowledge.Item{ID: knowledge.ItemID(cached, sql), Question: cached, SQL: sql},
			Similarity: score,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity == matches[j].Similarity {
			return matches[i].Question < matches[j].Question
		}
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > degradedMaxResults {
		matches = matches[:degradedMaxResults]
	}
	return matches
}

// Len reports the number of cached pairs.
func (c *degradedCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// textScore blends word-overlap and substring containment. Exact match
// scores 1, containment at least 0.5, otherwise the Jaccard overlap of
// the word sets.
func textScore(a, b string, substringOnly bool) float64 {
	if a == b {
		return 1
	}

	var substr float64
	if strings.Contains(a, b) || strings.Contains(b, a) {
		substr = 0.5
	}
	if substringOnly {
		return substr
	}

	j := jaccard(a, b)
	if substr > j {
		return substr
	}
	return j
}

func jaccard(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		set[w] = struct{}{}
	}
	return set
}

func normalizeQuestion(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}
