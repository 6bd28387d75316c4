package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"loom/internal/logging"
	"loom/internal/services"
	"loom/internal/store"
	"loom/internal/suppliers"
)

// Supplier implements every pipeline stage against the chat completion API.
type Supplier struct {
	client *Client
	logger *slog.Logger
}

// NewSupplier wraps a client as a full stage supplier.
func NewSupplier(client *Client, logger *slog.Logger) *Supplier {
	return &Supplier{
		client: client,
		logger: logging.NewComponentLogger(logger, "llm"),
	}
}

var _ suppliers.Supplier = (*Supplier)(nil)

type wireItem struct {
	Category    string   `json:"category"`
	Difficulty  string   `json:"difficulty"`
	Type        string   `json:"type"`
	Prompt      string   `json:"prompt"`
	Options     []string `json:"options"`
	Answer      string   `json:"answer"`
	Explanation string   `json:"explanation"`
}

func toStoreItems(wire []wireItem) []store.Item {
	items := make([]store.Item, 0, len(wire))
	for _, w := range wire {
		items = append(items, store.Item{
			Category:    w.Category,
			Difficulty:  w.Difficulty,
			Type:        w.Type,
			Prompt:      w.Prompt,
			Options:     w.Options,
			Answer:      w.Answer,
			Explanation: w.Explanation,
		})
	}
	return items
}

func fromStoreItems(items []store.Item) []wireItem {
	wire := make([]wireItem, 0, len(items))
	for _, item := range items {
		wire = append(wire, wireItem{
			Category:    item.Category,
			Difficulty:  item.Difficulty,
			Type:        item.Type,
			Prompt:      item.Prompt,
			Options:     item.Options,
			Answer:      item.Answer,
			Explanation: item.Explanation,
		})
	}
	return wire
}

// Analyze asks the model for coverage gaps against the batch target.
func (s *Supplier) Analyze(ctx context.Context, doc *store.Document, target suppliers.Target) (*suppliers.Analysis, error) {
	if doc == nil {
		doc = store.NewDocument()
	}
	request := map[string]any{
		"existing_items": len(doc.Items),
		"categories":     doc.Categories,
		"difficulty":     doc.Difficulty,
		"types":          doc.Types,
		"target": map[string]any{
			"items":        target.Items,
			"categories":   target.Categories,
			"difficulties": target.Difficulties,
			"types":        target.Types,
		},
	}
	var parsed struct {
		CategoryGaps   map[string]int `json:"category_gaps"`
		DifficultyGaps map[string]int `json:"difficulty_gaps"`
		TypeGaps       map[string]int `json:"type_gaps"`
	}
	if err := s.completeInto(ctx, "analyzing", analyzePrompt, request, &parsed); err != nil {
		return nil, err
	}
	return &suppliers.Analysis{
		ExistingItems:  len(doc.Items),
		CategoryGaps:   parsed.CategoryGaps,
		DifficultyGaps: parsed.DifficultyGaps,
		TypeGaps:       parsed.TypeGaps,
	}, nil
}

// Plan asks the model to allocate the batch and verifies the totals add up.
func (s *Supplier) Plan(ctx context.Context, analysis *suppliers.Analysis, target suppliers.Target) (*suppliers.Plan, error) {
	request := map[string]any{
		"analysis": analysis,
		"target": map[string]any{
			"batch":        target.BatchNumber,
			"items":        target.Items,
			"categories":   target.Categories,
			"difficulties": target.Difficulties,
			"types":        target.Types,
		},
	}
	var parsed struct {
		Allocations []struct {
			Category   string `json:"category"`
			Difficulty string `json:"difficulty"`
			Type       string `json:"type"`
			Count      int    `json:"count"`
		} `json:"allocations"`
	}
	if err := s.completeInto(ctx, "planning", planPrompt, request, &parsed); err != nil {
		return nil, err
	}

	plan := &suppliers.Plan{BatchNumber: target.BatchNumber}
	for _, a := range parsed.Allocations {
		plan.Allocations = append(plan.Allocations, suppliers.Allocation{
			Category:   a.Category,
			Difficulty: a.Difficulty,
			Type:       a.Type,
			Count:      a.Count,
		})
	}
	if plan.Total() != target.Items {
		return nil, services.Wrap(services.ErrTransient, "planning", "plan",
			fmt.Sprintf("plan allocates %d items, target %d", plan.Total(), target.Items), nil)
	}
	return plan, nil
}

// Research gathers background notes for the planned categories.
func (s *Supplier) Research(ctx context.Context, plan *suppliers.Plan) (*suppliers.Research, error) {
	categories := make([]string, 0, len(plan.Allocations))
	seen := map[string]bool{}
	for _, a := range plan.Allocations {
		if !seen[a.Category] {
			seen[a.Category] = true
			categories = append(categories, a.Category)
		}
	}
	var parsed struct {
		Notes map[string]string `json:"notes"`
	}
	if err := s.completeInto(ctx, "researching", researchPrompt, map[string]any{"categories": categories}, &parsed); err != nil {
		return nil, err
	}
	return &suppliers.Research{Notes: parsed.Notes}, nil
}

// Generate drafts items for the plan.
func (s *Supplier) Generate(ctx context.Context, plan *suppliers.Plan, research *suppliers.Research) ([]store.Item, error) {
	request := map[string]any{"plan": plan}
	if research != nil {
		request["notes"] = research.Notes
	}
	var parsed struct {
		Items []wireItem `json:"items"`
	}
	if err := s.completeInto(ctx, "generating", generatePrompt, request, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Items) == 0 {
		return nil, services.Wrap(services.ErrTransient, "generating", "generate", "model drafted no items", nil)
	}
	return toStoreItems(parsed.Items), nil
}

// Assess combines the model's verdict with the structural checks, keeping the
// lower score and the union of issues.
func (s *Supplier) Assess(ctx context.Context, items []store.Item, target suppliers.Target) (*suppliers.Assessment, error) {
	structural := suppliers.InspectItems(items, target)

	var parsed struct {
		QualityScore float64  `json:"quality_score"`
		Issues       []string `json:"issues"`
	}
	err := s.completeInto(ctx, "validating", assessPrompt, map[string]any{"items": fromStoreItems(items)}, &parsed)
	if err != nil {
		return nil, err
	}

	merged := &suppliers.Assessment{
		QualityScore: parsed.QualityScore,
		Issues:       append(structural.Issues, parsed.Issues...),
	}
	if structural.QualityScore < merged.QualityScore {
		merged.QualityScore = structural.QualityScore
	}
	return merged, nil
}

// Optimize has the model polish the drafts and verifies nothing was dropped.
func (s *Supplier) Optimize(ctx context.Context, items []store.Item, assessment *suppliers.Assessment) ([]store.Item, error) {
	request := map[string]any{"items": fromStoreItems(items)}
	if assessment != nil {
		request["issues"] = assessment.Issues
	}
	var parsed struct {
		Items []wireItem `json:"items"`
	}
	if err := s.completeInto(ctx, "optimizing", optimizePrompt, request, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Items) != len(items) {
		return nil, services.Wrap(services.ErrTransient, "optimizing", "optimize",
			fmt.Sprintf("model returned %d items, expected %d", len(parsed.Items), len(items)), nil)
	}
	return toStoreItems(parsed.Items), nil
}

func (s *Supplier) completeInto(ctx context.Context, stage, systemPrompt string, request any, target any) error {
	encoded, err := json.Marshal(request)
	if err != nil {
		return services.Wrap(services.ErrFatal, stage, "complete", "encode request payload", err)
	}

	content, err := s.client.CompleteJSON(ctx, stage, systemPrompt, string(encoded))
	if err != nil {
		return err
	}
	if err := DecodeJSON(content, target); err != nil {
		// Malformed model output is worth one more try.
		return services.Wrap(services.ErrTransient, stage, "complete", "parse payload", err)
	}
	s.logger.Debug("stage completion parsed",
		logging.Args(logging.String(logging.FieldStage, stage))...)
	return nil
}
