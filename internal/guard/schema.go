package guard

import "regexp"

// FieldType enumerates the value types the guard understands.
type FieldType int

const (
	TypeString FieldType = iota
	TypeNumber
	TypeInt
	TypeStringList
	TypeTime
)

// FieldSchema declares the expected shape of one knowledge-item field.
// Length bounds apply to strings (rune count) and lists (element count);
// Min/Max apply to numbers.
type FieldSchema struct {
	Name      string
	Type      FieldType
	Required  bool
	MinLength int
	MaxLength int
	Min       float64
	Max       float64
	HasRange  bool
	Pattern   *regexp.Regexp
}

// knowledgeItemSchema is the declared schema for knowledge-base records.
// Rating bounds are overridden from configuration at guard construction.
var knowledgeItemSchema = []FieldSchema{
	{
		Name:      "question",
		Type:      TypeString,
		Required:  true,
		MinLength: 3,
		MaxLength: 500,
	},
	{
		Name:      "sql",
		Type:      TypeString,
		Required:  true,
		MinLength: 10,
		MaxLength: 10000,
	},
	{
		Name:      "description",
		Type:      TypeString,
		MaxLength: 1000,
	},
	{
		Name:      "tags",
		Type:      TypeStringList,
		MaxLength: 20,
	},
	{
		Name:     "rating",
		Type:     TypeNumber,
		Min:      -10,
		Max:      10,
		HasRange: true,
	},
	{
		Name:     "usage_count",
		Type:     TypeInt,
		Min:      0,
		Max:      1e9,
		HasRange: true,
	},
	{Name: "created_at", Type: TypeTime},
	{Name: "updated_at", Type: TypeTime},
}

// maxTagLength bounds individual tag strings; longer tags are truncated
// with a warning.
const maxTagLength = 50
