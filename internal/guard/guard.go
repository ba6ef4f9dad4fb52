// Package guard enforces data consistency for knowledge-base records
// before they reach a store.
//
// Records travel as map[string]any so the guard can inspect and correct
// loosely-typed input (imports, feedback payloads) against a declared
// schema. Fixable problems (wrong-but-coercible types, out-of-range
// numbers, over-long strings) are corrected and reported as warnings;
// structural problems (missing required fields, unsafe SQL, inverted
// timestamps) are errors and make the record invalid.
package guard

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chatbi/chatbi/internal/config"
	"github.com/chatbi/chatbi/internal/log"
	"github.com/chatbi/chatbi/internal/sqlcheck"
)

// Level selects how deep validation goes.
type Level int

const (
	// LevelBasic checks required fields and types only.
	LevelBasic Level = iota
	// LevelStandard adds range/length enforcement, SQL safety, cross-field
	// checks and duplicate detection. This is the default.
	LevelStandard
	// LevelStrict adds quality heuristics on top of standard.
	LevelStrict
)

// Severity of a validation issue.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Issue is one validation finding.
type Issue struct {
	Field        string
	Code         string
	Description  string
	Severity     Severity
	SuggestedFix string
}

// Result reports the outcome of validating one record. Corrected is nil
// unless at least one field was coerced, clamped or truncated; when set it
// is a full copy of the input with corrections applied.
type Result struct {
	Valid     bool
	Issues    []Issue
	Corrected map[string]any
}

// Errors returns only the error-severity issues.
func (r *Result) Errors() []Issue {
	var out []Issue
	for _, iss := range r.Issues {
		if iss.Severity == SeverityError {
			out = append(out, iss)
		}
	}
	return out
}

// Guard validates knowledge records against the item schema. Safe for
// concurrent use; the duplicate-hash set is process-local.
type Guard struct {
	schema []FieldSchema
	logger log.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

// New creates a guard. Rating clamp bounds come from configuration.
func New(cfg *config.Config, logger log.Logger) *Guard {
	schema := make([]FieldSchema, len(knowledgeItemSchema))
	copy(schema, knowledgeItemSchema)
	for i := range schema {
		if schema[i].Name == "rating" {
			schema[i].Min = cfg.RatingClampMin
			schema[i].Max = cfg.RatingClampMax
		}
	}
	return &Guard{
		schema: schema,
		logger: logger,
		seen:   make(map[string]struct{}),
	}
}

// Validate checks data against the schema at the given level. The input
// map is never mutated.
func (g *Guard) Validate(data map[string]any, level Level) *Result {
	res := &Result{Valid: true}
	corrected := make(map[string]any, len(data))
	for k, v := range data {
		corrected[k] = v
	}
	changed := false

	for _, fs := range g.schema {
		value, present := corrected[fs.Name]

		if !present || value == nil || isEmptyString(value) {
			if fs.Required {
				res.add(Issue{
					Field:        fs.Name,
					Code:         "missing_required",
					Description:  fmt.Sprintf("required field %q is missing or empty", fs.Name),
					Severity:     SeverityError,
					SuggestedFix: "provide a non-empty value",
				})
			}
			continue
		}

		coerced, issues, ok := g.checkField(fs, value, level)
		for _, iss := range issues {
			res.add(iss)
		}
		if ok && !valuesEqual(value, coerced) {
			corrected[fs.Name] = coerced
			changed = true
		}
	}

	if level >= LevelStandard {
		changed = g.checkSQL(res, corrected) || changed
		g.checkCrossField(res, corrected)
		g.checkDuplicate(res, corrected)
	}
	if level >= LevelStrict {
		g.checkQuality(res, corrected)
	}

	if changed {
		res.Corrected = corrected
	}
	return res
}

// Sanitize validates at the standard level and returns the corrected
// record (the original when nothing needed fixing).
func (g *Guard) Sanitize(data map[string]any) (map[string]any, *Result) {
	res := g.Validate(data, LevelStandard)
	if res.Corrected != nil {
		return res.Corrected, res
	}
	return data, res
}

// ForgetDuplicates clears the duplicate-detection set.
func (g *Guard) ForgetDuplicates() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen = make(map[string]struct{})
}

func (r *Result) add(iss Issue) {
	r.Issues = append(r.Issues, iss)
	if iss.Severity == SeverityError {
		r.Valid = false
	}
}

// checkField type-checks and, at standard level and above, bounds-checks a
// single field. Returns the possibly-coerced value.
func (g *Guard) checkField(fs FieldSchema, value any, level Level) (any, []Issue, bool) {
	var issues []Issue

	coerced, coercionIssue, ok := coerce(fs, value)
	if !ok {
		issues = append(issues, Issue{
			Field:        fs.Name,
			Code:         "wrong_type",
			Description:  fmt.Sprintf("field %q has type %T, cannot convert", fs.Name, value),
			Severity:     SeverityError,
			SuggestedFix: "supply the value in the declared type",
		})
		return value, issues, false
	}
	if coercionIssue != nil {
		issues = append(issues, *coercionIssue)
	}

	if level < LevelStandard {
		return coerced, issues, true
	}

	switch fs.Type {
	case TypeString:
		s := coerced.(string)
		runes := []rune(s)
		if fs.MinLength > 0 && len(runes) < fs.MinLength {
			issues = append(issues, Issue{
				Field:        fs.Name,
				Code:         "too_short",
				Description:  fmt.Sprintf("field %q has %d characters, minimum is %d", fs.Name, len(runes), fs.MinLength),
				Severity:     SeverityError,
				SuggestedFix: "provide a longer value",
			})
		}
		if fs.MaxLength > 0 && len(runes) > fs.MaxLength {
			coerced = string(runes[:fs.MaxLength])
			issues = append(issues, Issue{
				Field:        fs.Name,
				Code:         "truncated",
				Description:  fmt.Sprintf("field %q truncated to %d characters", fs.Name, fs.MaxLength),
				Severity:     SeverityWarning,
			})
		}
		if fs.Pattern != nil && !fs.Pattern.MatchString(coerced.(string)) {
			issues = append(issues, Issue{
				Field:       fs.Name,
				Code:        "pattern_mismatch",
				Description: fmt.Sprintf("field %q does not match the required pattern", fs.Name),
				Severity:    SeverityError,
			})
		}

	case TypeNumber:
		f := coerced.(float64)
		if fs.HasRange && (f < fs.Min || f > fs.Max) {
			clamped := math.Min(math.Max(f, fs.Min), fs.Max)
			coerced = clamped
			issues = append(issues, Issue{
				Field:       fs.Name,
				Code:        "clamped",
				Description: fmt.Sprintf("field %q value %g clamped to [%g, %g]", fs.Name, f, fs.Min, fs.Max),
				Severity:    SeverityWarning,
			})
		}

	case TypeInt:
		n := coerced.(int)
		if fs.HasRange && (float64(n) < fs.Min || float64(n) > fs.Max) {
			clamped := int(math.Min(math.Max(float64(n), fs.Min), fs.Max))
			coerced = clamped
			issues = append(issues, Issue{
				Field:       fs.Name,
				Code:        "clamped",
				Description: fmt.Sprintf("field %q value %d clamped to [%g, %g]", fs.Name, n, fs.Min, fs.Max),
				Severity:    SeverityWarning,
			})
		}

	case TypeStringList:
		list := coerced.([]string)
		if fs.MaxLength > 0 && len(list) > fs.MaxLength {
			list = list[:fs.MaxLength]
			coerced = list
			issues = append(issues, Issue{
				Field:       fs.Name,
				Code:        "truncated",
				Description: fmt.Sprintf("field %q truncated to %d entries", fs.Name, fs.MaxLength),
				Severity:    SeverityWarning,
			})
		}
		for i, tag := range list {
			if len([]rune(tag)) > maxTagLength {
				fixed := make([]string, len(list))
				copy(fixed, list)
				fixed[i] = string([]rune(tag)[:maxTagLength])
				list = fixed
				coerced = fixed
				issues = append(issues, Issue{
					Field:       fs.Name,
					Code:        "truncated",
					Description: fmt.Sprintf("tag %d truncated to %d characters", i, maxTagLength),
					Severity:    SeverityWarning,
				})
			}
		}
	}

	return coerced, issues, true
}

// checkSQL runs the full safety validator (errors) plus a looser scan for
// injection-looking fragments (warnings) on the sql field. Reports whether
// it changed the record (it never does; return value keeps the caller
// symmetrical).
func (g *Guard) checkSQL(res *Result, data map[string]any) bool {
	s, ok := data["sql"].(string)
	if !ok || s == "" {
		return false
	}

	for _, iss := range sqlcheck.Issues(s) {
		res.add(Issue{
			Field:        "sql",
			Code:         iss.Code,
			Description:  iss.Description,
			Severity:     SeverityError,
			SuggestedFix: "regenerate the SQL as a single read-only statement",
		})
	}

	lower := strings.ToLower(s)
	for _, marker := range []string{"union select", "sleep(", "benchmark(", "pg_sleep(", "waitfor delay"} {
		if strings.Contains(lower, marker) {
			res.add(Issue{
				Field:       "sql",
				Code:        "suspicious_fragment",
				Description: fmt.Sprintf("SQL contains suspicious fragment %q", marker),
				Severity:    SeverityWarning,
			})
		}
	}
	return false
}

func (g *Guard) checkCrossField(res *Result, data map[string]any) {
	created, okC := data["created_at"].(time.Time)
	updated, okU := data["updated_at"].(time.Time)
	if okC && okU && updated.Before(created) {
		res.add(Issue{
			Field:        "updated_at",
			Code:         "timestamp_order",
			Description:  "updated_at is before created_at",
			Severity:     SeverityError,
			SuggestedFix: "set updated_at to created_at or later",
		})
	}

	usage, okN := asInt(data["usage_count"])
	rating, okR := asFloat(data["rating"])
	if okN && okR && usage > 0 && rating == 0 {
		res.add(Issue{
			Field:       "rating",
			Code:        "unrated_usage",
			Description: "item has been used but never rated",
			Severity:    SeverityWarning,
		})
	}
}

func (g *Guard) checkDuplicate(res *Result, data map[string]any) {
	q, _ := data["question"].(string)
	s, _ := data["sql"].(string)
	if q == "" || s == "" {
		return
	}

	sum := sha256.Sum256([]byte(q + "\x00" + s))
	key := hex.EncodeToString(sum[:16])

	g.mu.Lock()
	_, dup := g.seen[key]
	g.seen[key] = struct{}{}
	g.mu.Unlock()

	if dup {
		res.add(Issue{
			Field:       "question",
			Code:        "duplicate",
			Description: "an identical question/SQL pair was already validated",
			Severity:    SeverityWarning,
		})
		if g.logger != nil {
			g.logger.Debug("duplicate knowledge record", "hash", key)
		}
	}
}

// checkQuality applies strict-level heuristics.
func (g *Guard) checkQuality(res *Result, data map[string]any) {
	if q, ok := data["question"].(string); ok {
		if len(strings.Fields(q)) < 3 {
			res.add(Issue{
				Field:       "question",
				Code:        "too_simple",
				Description: "question has fewer than three words",
				Severity:    SeverityInfo,
			})
		}
		if ratio := alnumRatio(q); ratio < 0.5 {
			res.add(Issue{
				Field:       "question",
				Code:        "low_alnum_ratio",
				Description: fmt.Sprintf("question is %.0f%% non-alphanumeric", (1-ratio)*100),
				Severity:    SeverityWarning,
			})
		}
	}

	if s, ok := data["sql"].(string); ok {
		upper := strings.ToUpper(s)
		if !strings.Contains(upper, "WHERE") && !strings.Contains(upper, "GROUP BY") &&
			!strings.Contains(upper, "JOIN") && !strings.Contains(upper, "LIMIT") {
			res.add(Issue{
				Field:       "sql",
				Code:        "too_simple",
				Description: "SQL has no filtering, grouping or join clauses",
				Severity:    SeverityInfo,
			})
		}
	}

	if tags, ok := data["tags"].([]string); ok {
		seen := make(map[string]struct{}, len(tags))
		for _, tag := range tags {
			if _, dup := seen[tag]; dup {
				res.add(Issue{
					Field:       "tags",
					Code:        "duplicate_tag",
					Description: fmt.Sprintf("tag %q appears more than once", tag),
					Severity:    SeverityWarning,
				})
				break
			}
			seen[tag] = struct{}{}
		}
	}
}

// coerce converts value to the schema type where a safe conversion exists.
// The second return is non-nil when a conversion happened (warning); the
// bool is false when no conversion is possible.
func coerce(fs FieldSchema, value any) (any, *Issue, bool) {
	warn := func(desc string) *Issue {
		return &Issue{
			Field:       fs.Name,
			Code:        "coerced",
			Description: desc,
			Severity:    SeverityWarning,
		}
	}

	switch fs.Type {
	case TypeString:
		switch v := value.(type) {
		case string:
			return v, nil, true
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), warn(fmt.Sprintf("field %q converted from number to string", fs.Name)), true
		case int:
			return strconv.Itoa(v), warn(fmt.Sprintf("field %q converted from number to string", fs.Name)), true
		}

	case TypeNumber:
		switch v := value.(type) {
		case float64:
			return v, nil, true
		case float32:
			return float64(v), nil, true
		case int:
			return float64(v), nil, true
		case int64:
			return float64(v), nil, true
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, nil, false
			}
			return f, warn(fmt.Sprintf("field %q converted from string to number", fs.Name)), true
		}

	case TypeInt:
		switch v := value.(type) {
		case int:
			return v, nil, true
		case int64:
			return int(v), nil, true
		case float64:
			if v == math.Trunc(v) {
				return int(v), nil, true
			}
			return int(v), warn(fmt.Sprintf("field %q truncated from %g to integer", fs.Name, v)), true
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, nil, false
			}
			return n, warn(fmt.Sprintf("field %q converted from string to integer", fs.Name)), true
		}

	case TypeStringList:
		switch v := value.(type) {
		case []string:
			return v, nil, true
		case []any:
			out := make([]string, 0, len(v))
			for _, e := range v {
				s, ok := e.(string)
				if !ok {
					return nil, nil, false
				}
				out = append(out, s)
			}
			return out, nil, true
		case string:
			var out []string
			if err := json.Unmarshal([]byte(v), &out); err == nil {
				return out, warn(fmt.Sprintf("field %q parsed from JSON string to list", fs.Name)), true
			}
			parts := strings.Split(v, ",")
			out = out[:0]
			for _, p := range parts {
				if t := strings.TrimSpace(p); t != "" {
					out = append(out, t)
				}
			}
			return out, warn(fmt.Sprintf("field %q split from string to list", fs.Name)), true
		}

	case TypeTime:
		switch v := value.(type) {
		case time.Time:
			return v, nil, true
		case string:
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return nil, nil, false
			}
			return t, warn(fmt.Sprintf("field %q parsed from string to timestamp", fs.Name)), true
		}
	}

	return nil, nil, false
}

func isEmptyString(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

func alnumRatio(s string) float64 {
	if s == "" {
		return 0
	}
	runes := []rune(s)
	count := 0
	for _, r := range runes {
		if r == ' ' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') ||
			('0' <= r && r <= '9') || r > 127 {
			count++
		}
	}
	return float64(count) / float64(len(runes))
}

func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case []any:
		return false
	case []string:
		bv, ok := b.([]string)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	default:
		return a == b
	}
}
