package guard

import (
	"strings"
	"testing"
	"time"

	"github.com/chatbi/chatbi/internal/config"
	"github.com/chatbi/chatbi/internal/log"
)

func newTestGuard(t *testing.T) *Guard {
	t.Helper()
	return New(config.Default(), log.NewNop())
}

func validRecord() map[string]any {
	return map[string]any{
		"question":    "How many orders were placed last month?",
		"sql":         "SELECT count(*) FROM orders WHERE created_at > now() - interval '1 month'",
		"description": "monthly order count",
		"tags":        []string{"orders", "monthly"},
		"rating":      1.0,
		"usage_count": 2,
		"created_at":  time.Now().Add(-time.Hour),
		"updated_at":  time.Now(),
	}
}

func hasIssue(res *Result, field, code string) bool {
	for _, iss := range res.Issues {
		if iss.Field == field && iss.Code == code {
			return true
		}
	}
	return false
}

func TestValidate_ValidRecord(t *testing.T) {
	g := newTestGuard(t)
	res := g.Validate(validRecord(), LevelStandard)
	if !res.Valid {
		t.Fatalf("valid record rejected: %+v", res.Issues)
	}
	if res.Corrected != nil {
		t.Errorf("no corrections expected, got %v", res.Corrected)
	}
}

func TestValidate_MissingRequired(t *testing.T) {
	g := newTestGuard(t)

	rec := validRecord()
	delete(rec, "question")
	res := g.Validate(rec, LevelStandard)
	if res.Valid {
		t.Error("record without question accepted")
	}
	if !hasIssue(res, "question", "missing_required") {
		t.Errorf("missing_required not reported: %+v", res.Issues)
	}

	rec = validRecord()
	rec["sql"] = "   "
	res = g.Validate(rec, LevelStandard)
	if res.Valid {
		t.Error("record with blank sql accepted")
	}
}

func TestValidate_CoercionIsWarning(t *testing.T) {
	g := newTestGuard(t)

	rec := validRecord()
	rec["rating"] = "2.5"
	rec["usage_count"] = "7"
	rec["tags"] = `["a","b"]`

	res := g.Validate(rec, LevelStandard)
	if !res.Valid {
		t.Fatalf("coercible record rejected: %+v", res.Errors())
	}
	if !hasIssue(res, "rating", "coerced") || !hasIssue(res, "usage_count", "coerced") {
		t.Errorf("coercion warnings missing: %+v", res.Issues)
	}
	if res.Corrected == nil {
		t.Fatal("Corrected not set after coercion")
	}
	if got := res.Corrected["rating"]; got != 2.5 {
		t.Errorf("rating = %v, want 2.5", got)
	}
	if got := res.Corrected["usage_count"]; got != 7 {
		t.Errorf("usage_count = %v, want 7", got)
	}
	tags, ok := res.Corrected["tags"].([]string)
	if !ok || len(tags) != 2 || tags[0] != "a" {
		t.Errorf("tags = %v, want [a b]", res.Corrected["tags"])
	}
}

func TestValidate_ClampAndTruncate(t *testing.T) {
	g := newTestGuard(t)

	rec := validRecord()
	rec["rating"] = 99.0
	rec["question"] = strings.Repeat("why ", 200) // 800 chars

	res := g.Validate(rec, LevelStandard)
	if !res.Valid {
		t.Fatalf("clampable record rejected: %+v", res.Errors())
	}
	if !hasIssue(res, "rating", "clamped") {
		t.Errorf("clamp warning missing: %+v", res.Issues)
	}
	if got := res.Corrected["rating"]; got != 10.0 {
		t.Errorf("rating clamped to %v, want 10", got)
	}
	q := res.Corrected["question"].(string)
	if len([]rune(q)) != 500 {
		t.Errorf("question truncated to %d runes, want 500", len([]rune(q)))
	}
}

func TestValidate_UnsafeSQLIsError(t *testing.T) {
	g := newTestGuard(t)

	rec := validRecord()
	rec["sql"] = "DROP TABLE users CASCADE"
	res := g.Validate(rec, LevelStandard)
	if res.Valid {
		t.Error("mutating SQL accepted")
	}
	if len(res.Errors()) == 0 {
		t.Error("expected error-severity issues for unsafe SQL")
	}
}

func TestValidate_TimestampOrder(t *testing.T) {
	g := newTestGuard(t)

	rec := validRecord()
	rec["created_at"] = time.Now()
	rec["updated_at"] = time.Now().Add(-time.Hour)
	res := g.Validate(rec, LevelStandard)
	if res.Valid {
		t.Error("inverted timestamps accepted")
	}
	if !hasIssue(res, "updated_at", "timestamp_order") {
		t.Errorf("timestamp_order not reported: %+v", res.Issues)
	}
}

func TestValidate_UnratedUsageWarning(t *testing.T) {
	g := newTestGuard(t)

	rec := validRecord()
	rec["usage_count"] = 5
	rec["rating"] = 0.0
	res := g.Validate(rec, LevelStandard)
	if !res.Valid {
		t.Fatalf("record rejected: %+v", res.Errors())
	}
	if !hasIssue(res, "rating", "unrated_usage") {
		t.Errorf("unrated_usage warning missing: %+v", res.Issues)
	}
}

func TestValidate_DuplicateDetection(t *testing.T) {
	g := newTestGuard(t)

	first := g.Validate(validRecord(), LevelStandard)
	if hasIssue(first, "question", "duplicate") {
		t.Error("first occurrence flagged as duplicate")
	}
	second := g.Validate(validRecord(), LevelStandard)
	if !hasIssue(second, "question", "duplicate") {
		t.Error("second occurrence not flagged")
	}
	if !second.Valid {
		t.Error("duplicate should be a warning, not an error")
	}

	g.ForgetDuplicates()
	third := g.Validate(validRecord(), LevelStandard)
	if hasIssue(third, "question", "duplicate") {
		t.Error("duplicate set not cleared")
	}
}

func TestValidate_BasicSkipsRangeChecks(t *testing.T) {
	g := newTestGuard(t)

	rec := validRecord()
	rec["rating"] = 99.0
	res := g.Validate(rec, LevelBasic)
	if hasIssue(res, "rating", "clamped") {
		t.Error("basic level should not clamp ranges")
	}
	if !res.Valid {
		t.Errorf("basic validation rejected record: %+v", res.Errors())
	}
}

func TestValidate_StrictQualityChecks(t *testing.T) {
	g := newTestGuard(t)

	rec := validRecord()
	rec["question"] = "orders today?"
	rec["tags"] = []string{"a", "a"}
	res := g.Validate(rec, LevelStrict)
	if !res.Valid {
		t.Fatalf("strict warnings must not invalidate: %+v", res.Errors())
	}
	if !hasIssue(res, "question", "too_simple") {
		t.Errorf("too_simple info missing: %+v", res.Issues)
	}
	if !hasIssue(res, "tags", "duplicate_tag") {
		t.Errorf("duplicate_tag warning missing: %+v", res.Issues)
	}
}

// Sanitize followed by Validate must be clean when the only problems were
// sanitizable.
func TestSanitize_Idempotent(t *testing.T) {
	g := newTestGuard(t)

	rec := validRecord()
	rec["rating"] = 50.0
	rec["tags"] = "a, b, c"

	fixed, res := g.Sanitize(rec)
	if !res.Valid {
		t.Fatalf("sanitizable record rejected: %+v", res.Errors())
	}

	g.ForgetDuplicates() // avoid the duplicate warning from the first pass
	again := g.Validate(fixed, LevelStandard)
	if !again.Valid {
		t.Fatalf("sanitized record still invalid: %+v", again.Errors())
	}
	for _, iss := range again.Issues {
		if iss.Code == "clamped" || iss.Code == "coerced" || iss.Code == "truncated" {
			t.Errorf("sanitized record still needs fixing: %+v", iss)
		}
	}
}
