package rag

import (
	"strings"
	"testing"
)

func fullInput() PromptInput {
	return PromptInput{
		Question: "how many users signed up last week",
		Schema:   "users(id, name, created_at)\norders(id, user_id, total, created_at)",
		TableHints: []string{
			"users",
		},
		Requirements: []string{
			"use PostgreSQL syntax",
			"return at most 1000 rows",
		},
		Examples: []Example{
			{Question: "how many orders yesterday", SQL: "SELECT count(*) FROM orders WHERE created_at::date = current_date - 1"},
			{Question: "total revenue last month", SQL: "SELECT sum(total) FROM orders WHERE created_at > now() - interval '1 month'"},
		},
		Strategy: StrategyAssisted,
	}
}

func TestBuild_AllSectionsWhenRoomy(t *testing.T) {
	b := NewPromptBuilder(8000)
	prompt := b.Build(fullInput())

	for _, want := range []string{
		"Question: how many users signed up last week",
		"Database schema:",
		"Relevant tables: users",
		"Requirements:",
		"Examples:",
		"how many orders yesterday",
		"Similar validated queries",
		ClosingInstruction,
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}

	if !strings.HasSuffix(prompt, ClosingInstruction) {
		t.Error("closing instruction is not the final section")
	}
	if idx := strings.Index(prompt, "Question:"); idx != 0 {
		t.Error("question is not the first section")
	}
}

func TestBuild_NeverExceedsBudget(t *testing.T) {
	input := fullInput()
	for _, limit := range []int{120, 200, 400, 800, 2000} {
		b := NewPromptBuilder(limit)
		prompt := b.Build(input)
		if len(prompt) > limit {
			t.Errorf("limit %d: prompt length %d exceeds budget", limit, len(prompt))
		}
	}
}

func TestBuild_CorePrioritiesSurviveTightBudget(t *testing.T) {
	input := fullInput()

	// Budget that covers question, schema, closing and requirements, but
	// not the full example set.
	core := len("Question: "+input.Question) +
		len("Database schema:\n"+input.Schema) +
		len(ClosingInstruction) +
		len("Requirements:\n- "+strings.Join(input.Requirements, "\n- ")) +
		3*len(sectionSeparator)

	b := NewPromptBuilder(core + 40)
	prompt := b.Build(input)

	if len(prompt) > core+40 {
		t.Fatalf("prompt length %d exceeds budget %d", len(prompt), core+40)
	}
	for _, want := range []string{"Question:", "Database schema:", "Requirements:", ClosingInstruction} {
		if !strings.Contains(prompt, want) {
			t.Errorf("core section %q dropped under tight budget:\n%s", want, prompt)
		}
	}
}

func TestBuild_ExampleTruncationMarker(t *testing.T) {
	input := PromptInput{
		Question: "how many users",
		Examples: []Example{
			{
				Question: "a very long example question about user counting across several systems",
				SQL:      "SELECT count(*)\nFROM users u\nJOIN accounts a ON a.user_id = u.id\nWHERE a.active\n  AND u.created_at > now() - interval '7 days'",
			},
		},
	}

	// Room for the question, closing, the examples header and a couple of
	// example lines, but not the whole block.
	b := NewPromptBuilder(len("Question: how many users") + len(ClosingInstruction) + 120)
	prompt := b.Build(input)

	if strings.Contains(prompt, "Examples:") && !strings.Contains(prompt, truncationMarker) {
		t.Errorf("partial example lacks truncation marker:\n%s", prompt)
	}
	if len(prompt) > len("Question: how many users")+len(ClosingInstruction)+120 {
		t.Error("prompt exceeds budget")
	}
}

func TestBuild_AtMostThreeExampleBlocks(t *testing.T) {
	input := fullInput()
	input.Examples = []Example{
		{Question: "q one", SQL: "SELECT 1 FROM a"},
		{Question: "q two", SQL: "SELECT 2 FROM b"},
		{Question: "q three", SQL: "SELECT 3 FROM c"},
		{Question: "q four", SQL: "SELECT 4 FROM d"},
	}

	prompt := NewPromptBuilder(8000).Build(input)
	if strings.Contains(prompt, "q four") {
		t.Error("more than three example blocks included")
	}
	for _, q := range []string{"q one", "q two", "q three"} {
		if !strings.Contains(prompt, q) {
			t.Errorf("example %q missing", q)
		}
	}
}

func TestBuild_NoExamplesNoHeader(t *testing.T) {
	input := fullInput()
	input.Examples = nil
	input.Strategy = StrategyNormal

	prompt := NewPromptBuilder(8000).Build(input)
	if strings.Contains(prompt, "Examples:") {
		t.Error("examples header present without examples")
	}
	if strings.Contains(prompt, "Similar validated") {
		t.Error("strategy hint present for normal strategy")
	}
}
