package rag

import (
	"sort"
	"strings"
)

// ClosingInstruction ends every prompt so the model returns bare SQL.
const ClosingInstruction = "Return only one executable SQL statement, with no explanation."

// truncationMarker flags a partially included example block.
const truncationMarker = "... (example truncated)"

// maxExampleBlocks caps how many whole example blocks a prompt carries.
const maxExampleBlocks = 3

const sectionSeparator = "\n\n"

// PromptInput carries everything a generation prompt can contain. Empty
// fields produce no section.
type PromptInput struct {
	Question     string
	Schema       string
	TableHints   []string
	Requirements []string
	Examples     []Example
	Strategy     string
}

// PromptBuilder assembles generation prompts under a hard length budget.
//
// Sections compete for space by priority: question, schema, closing
// instruction and requirements first, then table hints, examples and the
// strategy hint. Sections are filled greedily in priority order but
// rendered in reading order, so a tight budget sheds the hint sections
// first and the output never exceeds the budget as long as it covers the
// four core sections.
type PromptBuilder struct {
	maxLength int
}

// NewPromptBuilder creates a builder with the given length budget.
func NewPromptBuilder(maxLength int) *PromptBuilder {
	return &PromptBuilder{maxLength: maxLength}
}

type section struct {
	priority int
	order    int // reading position
	text     string
}

// Build renders the prompt, guaranteed not to exceed the length budget.
func (b *PromptBuilder) Build(input PromptInput) string {
	var sections []section
	add := func(priority, order int, text string) {
		if text != "" {
			sections = append(sections, section{priority: priority, order: order, text: text})
		}
	}

	add(1, 0, "Question: "+strings.TrimSpace(input.Question))
	if input.Schema != "" {
		add(2, 1, "Database schema:\n"+strings.TrimSpace(input.Schema))
	}
	add(3, 6, ClosingInstruction)
	if len(input.Requirements) > 0 {
		add(4, 3, "Requirements:\n- "+strings.Join(input.Requirements, "\n- "))
	}
	if len(input.TableHints) > 0 {
		add(5, 2, "Relevant tables: "+strings.Join(input.TableHints, ", "))
	}
	// Examples get their own budget-aware renderer below (priority 6,
	// order 4).
	if hint := strategyHint(input.Strategy); hint != "" {
		add(7, 5, hint)
	}

	byPriority := make([]section, len(sections))
	copy(byPriority, sections)
	sort.SliceStable(byPriority, func(i, j int) bool {
		return byPriority[i].priority < byPriority[j].priority
	})

	// Greedy fill: each section costs its text plus one separator once
	// anything is already included.
	used := 0
	included := make([]section, 0, len(byPriority)+1)
	fits := func(n int) bool {
		cost := n
		if len(included) > 0 {
			cost += len(sectionSeparator)
		}
		return used+cost <= b.maxLength
	}
	take := func(s section) {
		if len(included) > 0 {
			used += len(sectionSeparator)
		}
		used += len(s.text)
		included = append(included, s)
	}

	examplesDone := false
	for _, s := range byPriority {
		// Examples slot in at their priority position.
		if !examplesDone && s.priority > 6 {
			if ex := b.renderExamples(input.Examples, b.maxLength-used-len(sectionSeparator)); ex != "" {
				take(section{priority: 6, order: 4, text: ex})
			}
			examplesDone = true
		}
		if fits(len(s.text)) {
			take(s)
		}
	}
	if !examplesDone {
		if ex := b.renderExamples(input.Examples, b.maxLength-used-len(sectionSeparator)); ex != "" {
			take(section{priority: 6, order: 4, text: ex})
		}
	}

	sort.SliceStable(included, func(i, j int) bool {
		return included[i].order < included[j].order
	})
	texts := make([]string, 0, len(included))
	for _, s := range included {
		texts = append(texts, s.text)
	}
	prompt := strings.Join(texts, sectionSeparator)

	// Defensive final pass: drop lowest-priority sections until the
	// budget holds, then hard-cut.
	for len(prompt) > b.maxLength && len(included) > 1 {
		drop := 0
		for i := 1; i < len(included); i++ {
			if included[i].priority > included[drop].priority {
				drop = i
			}
		}
		included = append(included[:drop], included[drop+1:]...)
		texts = texts[:0]
		for _, s := range included {
			texts = append(texts, s.text)
		}
		prompt = strings.Join(texts, sectionSeparator)
	}
	if len(prompt) > b.maxLength {
		prompt = prompt[:b.maxLength]
	}
	return prompt
}

// renderExamples renders up to maxExampleBlocks whole example blocks
// within budget. When the next block does not fit whole, its lines are
// added one by one and capped with a truncation marker.
func (b *PromptBuilder) renderExamples(examples []Example, budget int) string {
	if len(examples) == 0 || budget <= 0 {
		return ""
	}

	var sb strings.Builder
	header := "Examples:"
	if len(header) > budget {
		return ""
	}
	sb.WriteString(header)
	remaining := budget - len(header)

	blocks := 0
	for _, ex := range examples {
		if blocks == maxExampleBlocks {
			break
		}
		block := "\n\n" + ex.Format()
		if len(block) <= remaining {
			sb.WriteString(block)
			remaining -= len(block)
			blocks++
			continue
		}

		// Partial inclusion, line by line.
		lines := strings.Split(ex.Format(), "\n")
		var partial []string
		partialLen := len("\n\n") + len("\n") + len(truncationMarker)
		for _, line := range lines {
			cost := len(line)
			if len(partial) > 0 {
				cost++ // newline
			}
			if partialLen+cost > remaining {
				break
			}
			partial = append(partial, line)
			partialLen += cost
		}
		if len(partial) > 0 {
			text := "\n\n" + strings.Join(partial, "\n") + "\n" + truncationMarker
			sb.WriteString(text)
			remaining -= len(text)
		}
		break
	}

	if blocks == 0 && !strings.Contains(sb.String(), truncationMarker) {
		return ""
	}
	return sb.String()
}

// strategyHint returns the prompt nudge for the decided strategy.
func strategyHint(strategy string) string {
	switch strategy {
	case StrategyAssisted:
		return "Similar validated queries are shown above; adapt their structure where it fits."
	case StrategyCached:
		return "A nearly identical validated query exists for this question."
	default:
		return ""
	}
}
