// ABOUTME: Groups categorised records by (category, subcategory) for per-group planning
// ABOUTME: Groups keep first-seen order so runs are reproducible
package core

import "github.com/harper/kbdistill/internal/models"

// Group is the set of records sharing one category pair
type Group struct {
	Category    string
	Subcategory string
	Records     []models.Record
}

// Key identifies the group in reports
func (g Group) Key() string {
	if g.Subcategory == "" {
		return g.Category
	}
	return g.Category + "/" + g.Subcategory
}

// GroupByCategory partitions records by category pair, preserving record order within each group
func GroupByCategory(records []models.Record) []Group {
	type key struct{ cat, sub string }
	index := make(map[key]int)
	var groups []Group
	for _, r := range records {
		k := key{r.Category, r.Subcategory}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, Group{Category: r.Category, Subcategory: r.Subcategory})
		}
		groups[i].Records = append(groups[i].Records, r)
	}
	return groups
}
