package recipeservice

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/starford/airules/internal/catalog"
	"github.com/starford/airules/internal/index"
	"github.com/starford/airules/internal/recipe"
)

// DefaultLocalDir returns ~/.airules/recipes.
func DefaultLocalDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".airules", "recipes")
	}
	return filepath.Join(home, ".airules", "recipes")
}

// LoadLocal parses user-authored recipe files in dir (not recursive), in
// filename order. Malformed files are skipped. A missing dir is empty.
func LoadLocal(dir string, logger *slog.Logger) ([]recipe.Recipe, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("recipes: read local dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !recipe.Recognized(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]recipe.Recipe, 0, len(names))
	for _, name := range names {
		p := filepath.Join(dir, name)
		data, err := os.ReadFile(p)
		if err != nil {
			logger.Warn("recipes: skip local file", slog.String("file", p), slog.String("error", err.Error()))
			continue
		}
		r, err := recipe.Parse(name, data)
		if err != nil {
			logger.Warn("recipes: skip local file", slog.String("file", p), slog.String("error", err.Error()))
			continue
		}
		info, _ := os.Stat(p)
		r.Source = recipe.Source{Origin: recipe.OriginLocal, URL: "file://" + filepath.ToSlash(p)}
		if info != nil {
			r.Source.FetchedAt = info.ModTime().UTC()
		}
		out = append(out, *r)
	}
	return out, nil
}

func matches(r recipe.Recipe, f catalog.Filter) bool {
	if f.Category != "" && !strings.EqualFold(r.Category, f.Category) {
		return false
	}
	if f.Origin != "" && string(r.Source.Origin) != f.Origin {
		return false
	}
	if f.Tag != "" {
		found := false
		for _, t := range r.Tags {
			if strings.EqualFold(t, f.Tag) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func countIndex(idx *index.Index, f catalog.Filter) int {
	n := 0
	for _, r := range idx.List() {
		if matches(r, f) {
			n++
		}
	}
	return n
}

// browseIndex applies f to the in-memory index, ordered by key like the
// catalog.
func browseIndex(idx *index.Index, f catalog.Filter) []catalog.Row {
	var hits []recipe.Recipe
	for _, r := range idx.List() {
		if matches(r, f) {
			hits = append(hits, r)
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Key < hits[j].Key })

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	start := min(max(f.Offset, 0), len(hits))
	end := min(start+limit, len(hits))

	out := make([]catalog.Row, 0, end-start)
	for _, r := range hits[start:end] {
		out = append(out, catalog.Row{
			Key:       r.Key,
			Name:      r.Name,
			Category:  strings.ToLower(r.Category),
			Tags:      r.Tags,
			Origin:    r.Source.Origin,
			UpdatedAt: r.Source.FetchedAt,
		})
	}
	return out
}
