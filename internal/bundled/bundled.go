// Package bundled ships a small recipe set inside the binary, served when
// neither the remote nor the cache can provide recipes.
package bundled

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"github.com/starford/airules/internal/recipe"
)

//go:embed recipes/*.yaml
var files embed.FS

// Load parses the embedded recipes in filename order. The set is compiled in,
// so a parse failure is a build defect and is returned as an error.
func Load() ([]recipe.Recipe, error) {
	return load(files, "recipes")
}

func load(fsys fs.FS, dir string) ([]recipe.Recipe, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("bundled: list: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && recipe.Recognized(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]recipe.Recipe, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("bundled: read %s: %w", name, err)
		}
		r, err := recipe.Parse(name, data)
		if err != nil {
			return nil, fmt.Errorf("bundled: %w", err)
		}
		r.Source = recipe.Source{Origin: recipe.OriginBundled}
		out = append(out, *r)
	}
	return out, nil
}
