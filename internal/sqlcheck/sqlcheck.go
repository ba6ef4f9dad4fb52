// Package sqlcheck validates generated SQL for safety and basic quality.
//
// The checks are purely lexical. They never connect to a database and never
// parse the full SQL grammar; the goal is to reject mutating statements,
// obvious injection shapes and malformed text before anything reaches an
// executor.
package sqlcheck

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxStatementLength is the hard upper bound on accepted SQL text.
const MaxStatementLength = 10000

// maxIdentifierLength mirrors the common database limit of 63-64 bytes.
const maxIdentifierLength = 64

// forbiddenKeywords are statement types a read-only pipeline must never
// emit. Matched as whole words, case-insensitively.
var forbiddenKeywords = []string{
	"DROP", "DELETE", "INSERT", "UPDATE", "TRUNCATE", "ALTER",
	"CREATE", "GRANT", "REVOKE", "EXEC", "EXECUTE", "CALL",
}

var (
	keywordPatterns    map[string]*regexp.Regexp
	chainingPattern    *regexp.Regexp
	tautologyPattern   *regexp.Regexp
	inlineCommentRe    = regexp.MustCompile(`--|/\*`)
	leadingKeywordRe   = regexp.MustCompile(`(?i)^\s*(SELECT|WITH)\b`)
	numericIdentifier  = regexp.MustCompile(`^\d+$`)
	identifierTokenRe  = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_$]*`)
	quotedIdentifierRe = regexp.MustCompile(`"([^"]*)"`)
)

func init() {
	keywordPatterns = make(map[string]*regexp.Regexp, len(forbiddenKeywords))
	for _, kw := range forbiddenKeywords {
		keywordPatterns[kw] = regexp.MustCompile(`(?i)\b` + kw + `\b`)
	}
	chainingPattern = regexp.MustCompile(
		`(?i);\s*(DROP|DELETE|INSERT|UPDATE|TRUNCATE|ALTER|CREATE|GRANT|REVOKE|EXEC|EXECUTE|CALL)\b`)
	tautologyPattern = regexp.MustCompile(
		`(?i)\bOR\s+(\d+)\s*=\s*(\d+)|\bOR\s+'([^']*)'\s*=\s*'([^']*)'`)
}

// Issue describes one validation finding.
type Issue struct {
	Code        string
	Description string
}

// Check reports whether sql passes every safety and quality check. On
// failure, reason names the first violated rule. Checks run in a fixed
// order and short-circuit.
func Check(sql string) (bool, string) {
	issues := Issues(sql)
	if len(issues) == 0 {
		return true, ""
	}
	return false, issues[0].Description
}

// Issues returns every violation found in sql, in check order. The
// data-consistency guard uses this form to produce per-field reports.
func Issues(sql string) []Issue {
	var issues []Issue

	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return []Issue{{Code: "empty", Description: "SQL is empty"}}
	}

	if !leadingKeywordRe.MatchString(trimmed) {
		issues = append(issues, Issue{
			Code:        "not_readonly",
			Description: "SQL must start with SELECT or WITH",
		})
	}

	if !balancedParens(trimmed) {
		issues = append(issues, Issue{
			Code:        "unbalanced_parens",
			Description: "unbalanced parentheses",
		})
	}
	if !balancedQuotes(trimmed) {
		issues = append(issues, Issue{
			Code:        "unbalanced_quotes",
			Description: "unbalanced quotes",
		})
	}

	// The keyword scan covers the full text, string literals included: a
	// read-only pipeline has no business carrying mutating keywords even
	// as data values.
	for _, kw := range forbiddenKeywords {
		if keywordPatterns[kw].MatchString(trimmed) {
			issues = append(issues, Issue{
				Code:        "forbidden_keyword",
				Description: "forbidden keyword: " + kw,
			})
			break
		}
	}

	// Literal-stripped text keeps the structural scans from tripping on
	// markers inside data values.
	stripped := stripLiterals(trimmed)

	if chainingPattern.MatchString(stripped) {
		issues = append(issues, Issue{
			Code:        "statement_chaining",
			Description: "statement chaining into a mutating statement",
		})
	}
	if inlineCommentRe.MatchString(stripped) {
		issues = append(issues, Issue{
			Code:        "comment_marker",
			Description: "comment markers are not allowed in generated SQL",
		})
	}
	if m := tautologyPattern.FindStringSubmatch(stripped); m != nil {
		if (m[1] != "" && m[1] == m[2]) || (m[0] != "" && m[3] == m[4] && m[1] == "") {
			issues = append(issues, Issue{
				Code:        "tautology",
				Description: "always-true OR condition",
			})
		}
	}

	if len(trimmed) > MaxStatementLength {
		issues = append(issues, Issue{
			Code:        "too_long",
			Description: fmt.Sprintf("SQL exceeds %d characters", MaxStatementLength),
		})
	}
	if iss, ok := checkIdentifiers(stripped); !ok {
		issues = append(issues, iss)
	}

	return issues
}

// balancedParens verifies parenthesis nesting outside string literals.
func balancedParens(sql string) bool {
	depth := 0
	inSingle, inDouble := false, false
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch {
		case ch == '\'' && !inDouble:
			if inSingle && i+1 < len(sql) && sql[i+1] == '\'' {
				i++ // escaped quote
				continue
			}
			inSingle = !inSingle
		case ch == '"' && !inSingle:
			inDouble = !inDouble
		case inSingle || inDouble:
		case ch == '(':
			depth++
		case ch == ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// balancedQuotes verifies that single and double quotes pair up, treating
// doubled single quotes ('') as escapes.
func balancedQuotes(sql string) bool {
	inSingle, inDouble := false, false
	for i := 0; i < len(sql); i++ {
		switch sql[i] {
		case '\'':
			if inDouble {
				continue
			}
			if inSingle && i+1 < len(sql) && sql[i+1] == '\'' {
				i++
				continue
			}
			inSingle = !inSingle
		case '"':
			if !inSingle {
				inDouble = !inDouble
			}
		}
	}
	return !inSingle && !inDouble
}

// stripLiterals replaces single-quoted string literals with a placeholder.
func stripLiterals(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))
	inSingle := false
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		if ch == '\'' {
			if inSingle && i+1 < len(sql) && sql[i+1] == '\'' {
				i++
				continue
			}
			inSingle = !inSingle
			if !inSingle {
				b.WriteString("'?'")
			}
			continue
		}
		if !inSingle {
			b.WriteByte(ch)
		}
	}
	return b.String()
}

// checkIdentifiers rejects over-long identifier tokens and bare numeric
// tokens used where an identifier is expected (a common obfuscation shape).
func checkIdentifiers(sql string) (Issue, bool) {
	for _, m := range quotedIdentifierRe.FindAllStringSubmatch(sql, -1) {
		name := m[1]
		if len(name) > maxIdentifierLength {
			return Issue{
				Code:        "identifier_too_long",
				Description: fmt.Sprintf("identifier %q exceeds %d characters", truncate(name), maxIdentifierLength),
			}, false
		}
		if numericIdentifier.MatchString(name) {
			return Issue{
				Code:        "numeric_identifier",
				Description: fmt.Sprintf("identifier %q is purely numeric", name),
			}, false
		}
	}
	for _, tok := range identifierTokenRe.FindAllString(sql, -1) {
		if len(tok) > maxIdentifierLength {
			return Issue{
				Code:        "identifier_too_long",
				Description: fmt.Sprintf("identifier %q exceeds %d characters", truncate(tok), maxIdentifierLength),
			}, false
		}
	}
	return Issue{}, true
}

func truncate(s string) string {
	if len(s) <= 20 {
		return s
	}
	return s[:20] + "..."
}
