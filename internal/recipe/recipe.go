// Package recipe defines the Recipe record and the parsers for recipe source
// files (YAML or JSON).
package recipe

import (
	"slices"
	"strings"
	"time"
)

// Origin identifies where a recipe record came from.
type Origin string

// Recipe origins.
const (
	OriginRemote  Origin = "remote"
	OriginLocal   Origin = "local"
	OriginBundled Origin = "bundled"
)

// Categories is the known category enumeration. Unknown categories are
// accepted but reported by KnownCategory.
var Categories = []string{
	"frontend",
	"backend",
	"fullstack",
	"mobile",
	"desktop",
	"data",
	"devops",
	"ai",
	"other",
}

// Source is the provenance of a recipe record.
type Source struct {
	Origin    Origin    `json:"origin"`
	URL       string    `json:"url,omitempty"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Recipe is a named technology-stack template.
type Recipe struct {
	Key         string    `json:"key" yaml:"key,omitempty"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Category    string    `json:"category,omitempty" yaml:"category,omitempty"`
	Tags        []string  `json:"tags,omitempty" yaml:"tags,omitempty"`
	TechStack   TechStack `json:"techStack,omitempty" yaml:"techStack,omitempty"`
	RulesText   string    `json:"rules,omitempty" yaml:"rules,omitempty"`
	Source      Source    `json:"source" yaml:"-"`
}

// KnownCategory reports whether c is part of the Categories enumeration.
func KnownCategory(c string) bool {
	return slices.Contains(Categories, strings.ToLower(c))
}

// SearchText returns the lower-cased haystack used for substring search:
// name, description, category, the serialized tech stack and the tags.
func (r *Recipe) SearchText() string {
	parts := []string{r.Name, r.Description, r.Category, r.TechStack.String()}
	parts = append(parts, r.Tags...)
	return strings.ToLower(strings.Join(parts, "\n"))
}

// Dedupe collapses recipes sharing a key. The last definition wins and takes
// the position of the first occurrence.
func Dedupe(recipes []Recipe) []Recipe {
	pos := make(map[string]int, len(recipes))
	out := make([]Recipe, 0, len(recipes))
	for _, r := range recipes {
		if i, ok := pos[r.Key]; ok {
			out[i] = r
			continue
		}
		pos[r.Key] = len(out)
		out = append(out, r)
	}
	return out
}
