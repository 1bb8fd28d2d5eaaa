package recipe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/starford/airules/internal/apperr"
)

// Extensions lists the recognized recipe file extensions.
var Extensions = []string{".yaml", ".yml", ".json"}

// Recognized reports whether name has a recipe file extension.
func Recognized(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// KeyFromFilename derives the stable recipe key from a source filename:
// the base name without its extension.
func KeyFromFilename(name string) string {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	return strings.TrimSuffix(base, path.Ext(base))
}

// Parse decodes a recipe source file. The format is chosen from the
// filename extension and the key is derived from the filename. Any failure
// wraps apperr.ErrParse.
func Parse(filename string, data []byte) (*Recipe, error) {
	if !Recognized(filename) {
		return nil, fmt.Errorf("%w: %s: unsupported extension", apperr.ErrParse, filename)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: %s: empty document", apperr.ErrParse, filename)
	}

	var r Recipe
	var err error
	if strings.EqualFold(path.Ext(filename), ".json") {
		err = json.Unmarshal(data, &r)
	} else {
		err = yaml.Unmarshal(data, &r)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", apperr.ErrParse, filename, err)
	}

	r.Key = KeyFromFilename(filename)
	r.Source = Source{}
	normalize(&r)

	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", apperr.ErrParse, filename, err)
	}
	return &r, nil
}

// Validate checks the fields a usable recipe must carry.
func (r *Recipe) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Key, validation.Required),
		validation.Field(&r.Name, validation.Required),
	)
}

func normalize(r *Recipe) {
	r.Name = strings.TrimSpace(r.Name)
	r.Description = strings.TrimSpace(r.Description)
	r.Category = strings.TrimSpace(r.Category)

	seen := make(map[string]struct{}, len(r.Tags))
	tags := r.Tags[:0]
	for _, t := range r.Tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		tags = append(tags, t)
	}
	if len(tags) == 0 {
		tags = nil
	}
	r.Tags = tags
}
