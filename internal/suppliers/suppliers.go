// Package suppliers defines the stage contracts the pipeline drives a batch
// through, plus a deterministic synthetic implementation used for offline
// runs and tests. The llm subpackage provides the model-backed
// implementation.
package suppliers

import (
	"context"
	"fmt"
	"strings"

	"loom/internal/store"
)

// Target describes what one batch is expected to produce.
type Target struct {
	BatchNumber  int
	Items        int
	Categories   []string
	Difficulties []string
	Types        []string
}

// Analysis summarizes store coverage gaps the next batch should fill.
type Analysis struct {
	ExistingItems  int
	CategoryGaps   map[string]int
	DifficultyGaps map[string]int
	TypeGaps       map[string]int
}

// Allocation is one slice of a batch plan.
type Allocation struct {
	Category   string
	Difficulty string
	Type       string
	Count      int
}

// Plan is the per-batch production plan derived from an analysis.
type Plan struct {
	BatchNumber int
	Allocations []Allocation
}

// Total returns the number of items the plan allocates.
func (p *Plan) Total() int {
	total := 0
	for _, a := range p.Allocations {
		total += a.Count
	}
	return total
}

// Research carries background notes keyed by category, gathered before
// generation.
type Research struct {
	Notes map[string]string
}

// Assessment is the quality verdict for a batch of drafted items.
type Assessment struct {
	QualityScore float64
	Issues       []string
}

// Analyzer inspects the current store against a batch target.
type Analyzer interface {
	Analyze(ctx context.Context, doc *store.Document, target Target) (*Analysis, error)
}

// Planner turns an analysis into a concrete batch plan.
type Planner interface {
	Plan(ctx context.Context, analysis *Analysis, target Target) (*Plan, error)
}

// Researcher gathers background notes for the planned categories.
type Researcher interface {
	Research(ctx context.Context, plan *Plan) (*Research, error)
}

// Generator drafts items following the plan and research notes. Drafts carry
// no ids; integration assigns them.
type Generator interface {
	Generate(ctx context.Context, plan *Plan, research *Research) ([]store.Item, error)
}

// Assessor scores drafted items and reports their defects.
type Assessor interface {
	Assess(ctx context.Context, items []store.Item, target Target) (*Assessment, error)
}

// Optimizer cleans up drafted items before integration.
type Optimizer interface {
	Optimize(ctx context.Context, items []store.Item, assessment *Assessment) ([]store.Item, error)
}

// Supplier is the full set of stage implementations the pipeline needs.
type Supplier interface {
	Analyzer
	Planner
	Researcher
	Generator
	Assessor
	Optimizer
}

// InspectItems applies the structural item checks shared by all suppliers and
// returns the defects found. The score is the fraction of items with no
// defects.
func InspectItems(items []store.Item, target Target) *Assessment {
	assessment := &Assessment{}
	if len(items) == 0 {
		assessment.Issues = append(assessment.Issues, "no items drafted")
		return assessment
	}

	clean := 0
	for i, item := range items {
		defects := inspectItem(item, target)
		if len(defects) == 0 {
			clean++
			continue
		}
		for _, d := range defects {
			assessment.Issues = append(assessment.Issues, fmt.Sprintf("item %d: %s", i+1, d))
		}
	}
	if target.Items > 0 && len(items) != target.Items {
		assessment.Issues = append(assessment.Issues,
			fmt.Sprintf("drafted %d items, target %d", len(items), target.Items))
	}
	assessment.QualityScore = float64(clean) / float64(len(items))
	return assessment
}

func inspectItem(item store.Item, target Target) []string {
	var defects []string
	if strings.TrimSpace(item.Prompt) == "" {
		defects = append(defects, "empty prompt")
	}
	if len(item.Options) < 2 {
		defects = append(defects, fmt.Sprintf("needs at least 2 options, has %d", len(item.Options)))
	}
	if strings.TrimSpace(item.Answer) == "" {
		defects = append(defects, "empty answer")
	} else if len(item.Options) > 0 && !answerInOptions(item) {
		defects = append(defects, fmt.Sprintf("answer %q not among options", item.Answer))
	}
	if len(target.Categories) > 0 && !contains(target.Categories, item.Category) {
		defects = append(defects, fmt.Sprintf("category %q outside target set", item.Category))
	}
	if len(target.Difficulties) > 0 && !contains(target.Difficulties, item.Difficulty) {
		defects = append(defects, fmt.Sprintf("difficulty %q outside target set", item.Difficulty))
	}
	if len(target.Types) > 0 && !contains(target.Types, item.Type) {
		defects = append(defects, fmt.Sprintf("type %q outside target set", item.Type))
	}
	return defects
}

func answerInOptions(item store.Item) bool {
	// Multiple-response answers list their options comma separated.
	for _, answer := range strings.Split(item.Answer, ",") {
		answer = strings.TrimSpace(answer)
		if answer == "" || !contains(item.Options, answer) {
			return false
		}
	}
	return true
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
