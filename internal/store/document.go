package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DocumentVersion identifies the current store document layout.
const DocumentVersion = "1.0"

// Item is one generated entry in the canonical store.
type Item struct {
	ID          string   `json:"id"`
	Category    string   `json:"category"`
	Difficulty  string   `json:"difficulty"`
	Type        string   `json:"type"`
	Prompt      string   `json:"prompt"`
	Options     []string `json:"options"`
	Answer      string   `json:"answer"`
	Explanation string   `json:"explanation,omitempty"`
}

// Document is the canonical JSON store the pipeline integrates batches into.
// The count maps are derived from Items and must always agree with them.
type Document struct {
	Version     string         `json:"version"`
	GeneratedAt time.Time      `json:"generated_at"`
	TotalCount  int            `json:"total_count"`
	Categories  map[string]int `json:"categories"`
	Difficulty  map[string]int `json:"difficulty"`
	Types       map[string]int `json:"types"`
	Items       []Item         `json:"items"`
}

// NewDocument returns an empty store document.
func NewDocument() *Document {
	return &Document{
		Version:     DocumentVersion,
		GeneratedAt: time.Now().UTC(),
		Categories:  map[string]int{},
		Difficulty:  map[string]int{},
		Types:       map[string]int{},
		Items:       []Item{},
	}
}

// ItemID formats the canonical identifier for the n-th item (1-based),
// zero-padded to three digits.
func ItemID(n int) string {
	return fmt.Sprintf("item%03d", n)
}

// ParseItemID extracts the ordinal from a canonical item identifier.
func ParseItemID(id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, "item")
	if !ok || rest == "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// MaxItemOrdinal returns the highest canonical ordinal among the document's
// items. Unparseable ids are ignored.
func (d *Document) MaxItemOrdinal() int {
	highest := 0
	for _, item := range d.Items {
		if n, ok := ParseItemID(item.ID); ok && n > highest {
			highest = n
		}
	}
	return highest
}

// Recount rebuilds TotalCount and the category/difficulty/type maps from Items
// and stamps GeneratedAt.
func (d *Document) Recount() {
	categories := map[string]int{}
	difficulty := map[string]int{}
	types := map[string]int{}
	for _, item := range d.Items {
		categories[item.Category]++
		difficulty[item.Difficulty]++
		types[item.Type]++
	}
	d.TotalCount = len(d.Items)
	d.Categories = categories
	d.Difficulty = difficulty
	d.Types = types
	d.GeneratedAt = time.Now().UTC()
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	clone := &Document{
		Version:     d.Version,
		GeneratedAt: d.GeneratedAt,
		TotalCount:  d.TotalCount,
		Categories:  make(map[string]int, len(d.Categories)),
		Difficulty:  make(map[string]int, len(d.Difficulty)),
		Types:       make(map[string]int, len(d.Types)),
		Items:       make([]Item, len(d.Items)),
	}
	for k, v := range d.Categories {
		clone.Categories[k] = v
	}
	for k, v := range d.Difficulty {
		clone.Difficulty[k] = v
	}
	for k, v := range d.Types {
		clone.Types[k] = v
	}
	copy(clone.Items, d.Items)
	for i := range clone.Items {
		if len(d.Items[i].Options) > 0 {
			clone.Items[i].Options = append([]string(nil), d.Items[i].Options...)
		}
	}
	return clone
}
