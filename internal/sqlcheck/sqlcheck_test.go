package sqlcheck

import (
	"strings"
	"testing"
)

func TestCheck_AcceptsReadOnlyStatements(t *testing.T) {
	valid := []string{
		"SELECT id, name FROM users WHERE active = true",
		"select count(*) from orders o join users u on o.user_id = u.id",
		"WITH recent AS (SELECT * FROM orders WHERE created_at > now() - interval '7 days') SELECT count(*) FROM recent",
		"SELECT 'it''s fine' AS label FROM dual",
		"SELECT region, sum(amount) FROM sales GROUP BY region ORDER BY 2 DESC",
	}
	for _, sql := range valid {
		if ok, reason := Check(sql); !ok {
			t.Errorf("Check(%q) rejected: %s", sql, reason)
		}
	}
}

func TestCheck_RejectsMutatingStatements(t *testing.T) {
	tests := []struct {
		sql  string
		code string
	}{
		{"DROP TABLE users", "not_readonly"},
		{"DELETE FROM users WHERE id = 1", "not_readonly"},
		{"UPDATE users SET name = 'x'", "not_readonly"},
		{"INSERT INTO users VALUES (1)", "not_readonly"},
		{"SELECT * FROM users; DROP TABLE users", "forbidden_keyword"},
		{"WITH x AS (SELECT 1) DELETE FROM users", "forbidden_keyword"},
	}
	for _, tt := range tests {
		issues := Issues(tt.sql)
		if len(issues) == 0 {
			t.Errorf("Issues(%q) = none, want at least %s", tt.sql, tt.code)
			continue
		}
		found := false
		for _, iss := range issues {
			if iss.Code == tt.code {
				found = true
			}
		}
		if !found {
			t.Errorf("Issues(%q) missing code %s, got %+v", tt.sql, tt.code, issues)
		}
	}
}

// Forbidden keywords are rejected anywhere in the text, string literals
// included.
func TestCheck_RejectsKeywordsInLiterals(t *testing.T) {
	statements := []string{
		"SELECT * FROM logs WHERE action = 'DROP TABLE users'",
		"SELECT * FROM notes WHERE body = 'please DROP me a line'",
	}
	for _, sql := range statements {
		ok, _ := Check(sql)
		if ok {
			t.Errorf("Check(%q) = true, want rejection", sql)
			continue
		}
		found := false
		for _, iss := range Issues(sql) {
			if iss.Code == "forbidden_keyword" {
				found = true
			}
		}
		if !found {
			t.Errorf("Issues(%q) missing forbidden_keyword, got %+v", sql, Issues(sql))
		}
	}
}

func TestCheck_InjectionPatterns(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		code string
	}{
		{"chained drop", "SELECT 1; DROP TABLE users", "forbidden_keyword"},
		{"trailing line comment", "SELECT * FROM users -- WHERE id = 1", "comment_marker"},
		{"block comment", "SELECT /* hidden */ * FROM users", "comment_marker"},
		{"numeric tautology", "SELECT * FROM users WHERE name = 'x' OR 1=1", "tautology"},
		{"string tautology", "SELECT * FROM users WHERE id = 1 OR 'a'='a'", "tautology"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found := false
			for _, iss := range Issues(tt.sql) {
				if iss.Code == tt.code {
					found = true
				}
			}
			if !found {
				t.Errorf("Issues(%q) missing code %s", tt.sql, tt.code)
			}
		})
	}
}

// OR 1=2 is a legitimate (if odd) condition, not a tautology.
func TestCheck_NonTautologyComparison(t *testing.T) {
	sql := "SELECT * FROM users WHERE id = 5 OR 1=2"
	for _, iss := range Issues(sql) {
		if iss.Code == "tautology" {
			t.Errorf("false tautology on %q", sql)
		}
	}
}

func TestCheck_Structure(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		code string
	}{
		{"empty", "   ", "empty"},
		{"unbalanced parens", "SELECT count(* FROM users", "unbalanced_parens"},
		{"unbalanced quote", "SELECT * FROM users WHERE name = 'abc", "unbalanced_quotes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found := false
			for _, iss := range Issues(tt.sql) {
				if iss.Code == tt.code {
					found = true
				}
			}
			if !found {
				t.Errorf("Issues(%q) missing code %s, got %+v", tt.sql, tt.code, Issues(tt.sql))
			}
		})
	}
}

func TestCheck_LengthBound(t *testing.T) {
	sql := "SELECT '" + strings.Repeat("a", MaxStatementLength) + "' FROM dual"
	found := false
	for _, iss := range Issues(sql) {
		if iss.Code == "too_long" {
			found = true
		}
	}
	if !found {
		t.Error("over-long statement not flagged")
	}
}

// Safety violations outrank the length bound: an over-long mutating
// statement reports the mutation first.
func TestCheck_SafetyReportedBeforeLength(t *testing.T) {
	sql := "DROP TABLE " + strings.Repeat("x", MaxStatementLength)
	issues := Issues(sql)
	if len(issues) == 0 {
		t.Fatal("no issues for an over-long mutating statement")
	}
	if issues[0].Code == "too_long" {
		t.Errorf("first issue = too_long, want a safety violation first: %+v", issues)
	}
}

func TestCheck_Identifiers(t *testing.T) {
	long := strings.Repeat("x", 65)
	if ok, _ := Check("SELECT " + long + " FROM users"); ok {
		t.Error("65-char identifier accepted")
	}
	if ok, _ := Check(`SELECT * FROM "12345"`); ok {
		t.Error("purely numeric quoted identifier accepted")
	}
	if ok, reason := Check(`SELECT * FROM "order_items"`); !ok {
		t.Errorf("normal quoted identifier rejected: %s", reason)
	}
}

func TestCheck_DropTableAlwaysFails(t *testing.T) {
	variants := []string{
		"DROP TABLE users",
		"drop table users",
		"  DROP   TABLE users;",
		"SELECT 1; DROP TABLE users",
	}
	for _, sql := range variants {
		if ok, _ := Check(sql); ok {
			t.Errorf("Check(%q) = true, want rejection", sql)
		}
	}
}
