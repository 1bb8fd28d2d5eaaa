// Package index is the in-memory, read-only view over a resolved recipe set.
package index

import (
	"strings"

	"github.com/starford/airules/internal/recipe"
)

// Index maps recipe keys to records and supports substring search.
type Index struct {
	order  []recipe.Recipe
	byKey  map[string]int
	search []string
}

// Build indexes recipes in the given order. On duplicate keys the first
// occurrence wins.
func Build(recipes []recipe.Recipe) *Index {
	idx := &Index{
		order:  make([]recipe.Recipe, 0, len(recipes)),
		byKey:  make(map[string]int, len(recipes)),
		search: make([]string, 0, len(recipes)),
	}
	for _, r := range recipes {
		if _, dup := idx.byKey[r.Key]; dup {
			continue
		}
		idx.byKey[r.Key] = len(idx.order)
		idx.order = append(idx.order, r)
		idx.search = append(idx.search, r.SearchText())
	}
	return idx
}

// Len returns the number of indexed recipes.
func (idx *Index) Len() int { return len(idx.order) }

// Get looks up a recipe by key.
func (idx *Index) Get(key string) (recipe.Recipe, bool) {
	i, ok := idx.byKey[key]
	if !ok {
		return recipe.Recipe{}, false
	}
	return idx.order[i], true
}

// List returns all recipes in resolution order.
func (idx *Index) List() []recipe.Recipe {
	out := make([]recipe.Recipe, len(idx.order))
	copy(out, idx.order)
	return out
}

// Search returns recipes whose name, description, category, tech stack or
// tags contain query, ignoring case. Matches keep index order. A blank query
// returns List().
func (idx *Index) Search(query string) []recipe.Recipe {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return idx.List()
	}
	out := make([]recipe.Recipe, 0)
	for i, text := range idx.search {
		if strings.Contains(text, q) {
			out = append(out, idx.order[i])
		}
	}
	return out
}

// Categories returns the distinct categories in first-seen order.
func (idx *Index) Categories() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range idx.order {
		c := strings.ToLower(r.Category)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// ByCategory returns the recipes in category c, ignoring case.
func (idx *Index) ByCategory(c string) []recipe.Recipe {
	out := make([]recipe.Recipe, 0)
	for _, r := range idx.order {
		if strings.EqualFold(r.Category, c) {
			out = append(out, r)
		}
	}
	return out
}
