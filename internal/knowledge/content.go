package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// ItemID derives the deterministic store ID for a question/SQL pair. The
// same pair always hashes to the same ID, which is what turns repeated
// adds into updates.
func ItemID(question, sql string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(question) + "\x00" + strings.TrimSpace(sql)))
	return "sql_" + hex.EncodeToString(sum[:])[:32]
}

var (
	tableRe     = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+([a-zA-Z_][a-zA-Z0-9_.]*)`)
	aggregateRe = regexp.MustCompile(`(?i)\b(COUNT|SUM|AVG|MAX|MIN)\s*\(`)
)

// EmbeddingDocument builds the text that gets embedded for an item. Raw
// SQL embeds poorly, so the document combines the question, description
// and tags with structural keywords extracted from the SQL (tables,
// aggregates, clause markers).
func EmbeddingDocument(item Item) string {
	parts := []string{item.Question}
	if item.Description != "" {
		parts = append(parts, item.Description)
	}
	if len(item.Tags) > 0 {
		parts = append(parts, strings.Join(item.Tags, " "))
	}
	if kw := ExtractSQLKeywords(item.SQL); len(kw) > 0 {
		parts = append(parts, strings.Join(kw, " "))
	}
	return strings.Join(parts, "\n")
}

// ExtractSQLKeywords pulls the structurally meaningful tokens out of a
// SQL statement: referenced tables, aggregate functions used, and clause
// markers. Order is deterministic.
func ExtractSQLKeywords(sql string) []string {
	var keywords []string
	seen := make(map[string]struct{})
	add := func(kw string) {
		kw = strings.ToLower(kw)
		if _, dup := seen[kw]; dup {
			return
		}
		seen[kw] = struct{}{}
		keywords = append(keywords, kw)
	}

	for _, m := range tableRe.FindAllStringSubmatch(sql, -1) {
		add(m[1])
	}
	for _, m := range aggregateRe.FindAllStringSubmatch(sql, -1) {
		add(m[1])
	}

	upper := strings.ToUpper(sql)
	markers := []struct{ clause, keyword string }{
		{"WHERE", "filtering"},
		{"JOIN", "join"},
		{"GROUP BY", "grouping"},
		{"ORDER BY", "sorting"},
		{"HAVING", "having"},
		{"LIMIT", "limit"},
	}
	for _, m := range markers {
		if strings.Contains(upper, m.clause) {
			add(m.keyword)
		}
	}
	return keywords
}
