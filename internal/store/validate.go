package store

import "fmt"

// Validate checks the internal consistency of a store document and returns
// every issue found. It is a pure function over the snapshot: all checks run
// even after the first failure so one pass reports the full picture.
func Validate(doc *Document) (bool, []string) {
	var issues []string

	if doc == nil {
		return false, []string{"store document is nil"}
	}

	if doc.Version == "" {
		issues = append(issues, "missing required field: version")
	}
	if doc.GeneratedAt.IsZero() {
		issues = append(issues, "missing required field: generated_at")
	}
	if doc.Categories == nil {
		issues = append(issues, "missing required field: categories")
	}
	if doc.Difficulty == nil {
		issues = append(issues, "missing required field: difficulty")
	}
	if doc.Types == nil {
		issues = append(issues, "missing required field: types")
	}

	if len(doc.Items) != doc.TotalCount {
		issues = append(issues, fmt.Sprintf(
			"item count mismatch: total_count declares %d, found %d items",
			doc.TotalCount, len(doc.Items)))
	}

	issues = append(issues, validateIDSequence(doc.Items)...)
	issues = append(issues, validateCountMap("categories", doc.Categories, doc.TotalCount)...)
	issues = append(issues, validateCountMap("difficulty", doc.Difficulty, doc.TotalCount)...)
	issues = append(issues, validateCountMap("types", doc.Types, doc.TotalCount)...)

	return len(issues) == 0, issues
}

// validateIDSequence checks that item ids form the exact contiguous sequence
// item001..itemN with no gaps or duplicates.
func validateIDSequence(items []Item) []string {
	var issues []string

	counts := make(map[int]int, len(items))
	for _, item := range items {
		n, ok := ParseItemID(item.ID)
		if !ok {
			issues = append(issues, fmt.Sprintf("malformed item id: %q", item.ID))
			continue
		}
		if item.ID != ItemID(n) {
			issues = append(issues, fmt.Sprintf("item id %q is not zero-padded (expected %q)", item.ID, ItemID(n)))
		}
		counts[n]++
	}

	for n := 1; n <= len(items); n++ {
		switch counts[n] {
		case 0:
			issues = append(issues, fmt.Sprintf("missing item id: %s", ItemID(n)))
		case 1:
		default:
			issues = append(issues, fmt.Sprintf("duplicate item id: %s (%d occurrences)", ItemID(n), counts[n]))
		}
		delete(counts, n)
	}
	for n := range counts {
		issues = append(issues, fmt.Sprintf("item id out of range: %s", ItemID(n)))
	}

	return issues
}

func validateCountMap(name string, counts map[string]int, total int) []string {
	if counts == nil {
		return nil
	}
	sum := 0
	for _, count := range counts {
		sum += count
	}
	if sum != total {
		return []string{fmt.Sprintf("%s counts sum to %d, expected %d", name, sum, total)}
	}
	return nil
}
