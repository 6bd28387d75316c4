package suppliers

import (
	"context"
	"fmt"
	"strings"

	"loom/internal/services"
	"loom/internal/store"
)

// Synthetic is a deterministic offline supplier. Given the same store and
// target it always drafts the same items, which makes full pipeline runs
// reproducible without network access.
type Synthetic struct{}

// NewSynthetic returns the offline supplier.
func NewSynthetic() *Synthetic {
	return &Synthetic{}
}

var _ Supplier = (*Synthetic)(nil)

// Analyze computes how far each category, difficulty, and type is from an
// even share of the target store size.
func (s *Synthetic) Analyze(ctx context.Context, doc *store.Document, target Target) (*Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = store.NewDocument()
	}
	analysis := &Analysis{
		ExistingItems:  len(doc.Items),
		CategoryGaps:   gaps(target.Categories, doc.Categories, len(doc.Items)+target.Items),
		DifficultyGaps: gaps(target.Difficulties, doc.Difficulty, len(doc.Items)+target.Items),
		TypeGaps:       gaps(target.Types, doc.Types, len(doc.Items)+target.Items),
	}
	return analysis, nil
}

// Plan spreads the batch across the dimension values, preferring the widest
// gaps first.
func (s *Synthetic) Plan(ctx context.Context, analysis *Analysis, target Target) (*Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if analysis == nil {
		return nil, services.Wrap(services.ErrValidation, "planning", "plan", "missing analysis", nil)
	}
	if target.Items <= 0 {
		return nil, services.Wrap(services.ErrValidation, "planning", "plan", "target has no items", nil)
	}
	categories := orderByGap(target.Categories, analysis.CategoryGaps)
	difficulties := orderByGap(target.Difficulties, analysis.DifficultyGaps)
	types := orderByGap(target.Types, analysis.TypeGaps)

	plan := &Plan{BatchNumber: target.BatchNumber}
	counts := map[[3]string]int{}
	for i := 0; i < target.Items; i++ {
		key := [3]string{
			pick(categories, i),
			pick(difficulties, i/max(len(categories), 1)),
			pick(types, i),
		}
		counts[key]++
	}
	for key, count := range counts {
		plan.Allocations = append(plan.Allocations, Allocation{
			Category:   key[0],
			Difficulty: key[1],
			Type:       key[2],
			Count:      count,
		})
	}
	return plan, nil
}

// Research produces canned notes for each planned category.
func (s *Synthetic) Research(ctx context.Context, plan *Plan) (*Research, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	notes := map[string]string{}
	for _, a := range plan.Allocations {
		if _, ok := notes[a.Category]; !ok {
			notes[a.Category] = fmt.Sprintf("reference notes for %s topics", a.Category)
		}
	}
	return &Research{Notes: notes}, nil
}

// Generate drafts one item per planned slot, numbered within the batch so
// repeated runs produce identical output.
func (s *Synthetic) Generate(ctx context.Context, plan *Plan, research *Research) ([]store.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if plan == nil || plan.Total() == 0 {
		return nil, services.Wrap(services.ErrValidation, "generating", "generate", "empty plan", nil)
	}

	var items []store.Item
	seq := 0
	for _, a := range plan.Allocations {
		for i := 0; i < a.Count; i++ {
			seq++
			item := store.Item{
				Category:   a.Category,
				Difficulty: a.Difficulty,
				Type:       a.Type,
				Prompt: fmt.Sprintf("Which statement about %s is correct? (batch %d, draft %d)",
					a.Category, plan.BatchNumber, seq),
				Options: []string{"option a", "option b", "option c", "option d"},
			}
			switch a.Type {
			case "multiple_response":
				item.Answer = "option a, option b"
			default:
				item.Answer = "option a"
			}
			if research != nil {
				item.Explanation = research.Notes[a.Category]
			}
			items = append(items, item)
		}
	}
	return items, nil
}

// Assess applies the shared structural checks.
func (s *Synthetic) Assess(ctx context.Context, items []store.Item, target Target) (*Assessment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return InspectItems(items, target), nil
}

// Optimize normalizes whitespace and backfills missing explanations.
func (s *Synthetic) Optimize(ctx context.Context, items []store.Item, assessment *Assessment) ([]store.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]store.Item, len(items))
	for i, item := range items {
		item.Prompt = strings.TrimSpace(item.Prompt)
		item.Answer = strings.TrimSpace(item.Answer)
		for j, opt := range item.Options {
			item.Options[j] = strings.TrimSpace(opt)
		}
		if strings.TrimSpace(item.Explanation) == "" {
			item.Explanation = fmt.Sprintf("The correct choice is %s.", item.Answer)
		}
		out[i] = item
	}
	return out, nil
}

func gaps(values []string, have map[string]int, targetTotal int) map[string]int {
	result := make(map[string]int, len(values))
	if len(values) == 0 {
		return result
	}
	share := targetTotal / len(values)
	for _, v := range values {
		gap := share - have[v]
		if gap < 0 {
			gap = 0
		}
		result[v] = gap
	}
	return result
}

func orderByGap(values []string, gaps map[string]int) []string {
	ordered := append([]string(nil), values...)
	// Stable selection keeps ties in configured order.
	for i := 0; i < len(ordered); i++ {
		best := i
		for j := i + 1; j < len(ordered); j++ {
			if gaps[ordered[j]] > gaps[ordered[best]] {
				best = j
			}
		}
		ordered[i], ordered[best] = ordered[best], ordered[i]
	}
	return ordered
}

func pick(values []string, i int) string {
	if len(values) == 0 {
		return ""
	}
	return values[i%len(values)]
}
