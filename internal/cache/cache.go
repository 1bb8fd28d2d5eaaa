// Package cache persists the resolved recipe set on local disk: one JSON file
// per recipe plus a metadata file describing the snapshot.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/starford/airules/internal/apperr"
	"github.com/starford/airules/internal/checksum"
	"github.com/starford/airules/internal/recipe"
)

// MetadataFile is the name of the snapshot descriptor inside the cache dir.
const MetadataFile = "metadata.json"

const recipeExt = ".json"

// Metadata describes the persisted snapshot.
type Metadata struct {
	LastUpdate        time.Time `json:"lastUpdate"`
	RecipeCount       int       `json:"recipeCount"`
	SourceFingerprint string    `json:"sourceFingerprint,omitempty"`
}

// Policy supplies the freshness rules. *endpoint.Config satisfies it.
type Policy interface {
	TTL() time.Duration
	Fingerprint() string
}

// Store is a directory-backed recipe cache. It assumes a single writer.
type Store struct {
	dir    string
	policy Policy
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used for skipped-file warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// DefaultDir returns ~/.airules-cache, or a relative fallback when the home
// directory cannot be determined.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".airules-cache"
	}
	return filepath.Join(home, ".airules-cache")
}

// New creates a Store rooted at dir. The directory is created lazily on the
// first write.
func New(dir string, policy Policy, opts ...Option) *Store {
	s := &Store{
		dir:    dir,
		policy: policy,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dir returns the cache directory.
func (s *Store) Dir() string { return s.dir }

// Describe returns the persisted metadata. apperr.ErrNotFound is returned
// when no snapshot has been written.
func (s *Store) Describe() (Metadata, error) {
	var md Metadata
	data, err := os.ReadFile(filepath.Join(s.dir, MetadataFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return md, fmt.Errorf("cache: metadata: %w", apperr.ErrNotFound)
		}
		return md, fmt.Errorf("cache: read metadata: %w", err)
	}
	if err := json.Unmarshal(data, &md); err != nil {
		return md, fmt.Errorf("cache: parse metadata: %w: %v", apperr.ErrCacheCorrupt, err)
	}
	return md, nil
}

// Verify checks that the metadata matches the recipe files on disk.
func (s *Store) Verify() error {
	md, err := s.Describe()
	if err != nil {
		return err
	}
	names, err := s.recipeFiles()
	if err != nil {
		return err
	}
	if md.RecipeCount != len(names) {
		return fmt.Errorf("cache: metadata lists %d recipes, found %d files: %w",
			md.RecipeCount, len(names), apperr.ErrCacheCorrupt)
	}
	return nil
}

// IsValid reports whether the cache can be served without contacting the
// remote: it exists, is consistent, was written for the current source and
// is younger than the TTL.
func (s *Store) IsValid() bool {
	md, err := s.Describe()
	if err != nil {
		return false
	}
	if fp := s.policy.Fingerprint(); md.SourceFingerprint != "" && fp != "" && md.SourceFingerprint != fp {
		return false
	}
	if err := s.Verify(); err != nil {
		s.logger.Warn("cache: inconsistent", slog.String("error", err.Error()))
		return false
	}
	return s.now().Sub(md.LastUpdate) < s.policy.TTL()
}

// ReadAll returns every cached recipe in filename order. Files that cannot be
// parsed are skipped. A missing directory yields an empty set.
func (s *Store) ReadAll() ([]recipe.Recipe, error) {
	names, err := s.recipeFiles()
	if err != nil {
		return nil, err
	}
	out := make([]recipe.Recipe, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			s.logger.Warn("cache: skip unreadable file", slog.String("file", name), slog.String("error", err.Error()))
			continue
		}
		var r recipe.Recipe
		if err := json.Unmarshal(data, &r); err != nil {
			s.logger.Warn("cache: skip malformed file", slog.String("file", name), slog.String("error", err.Error()))
			continue
		}
		if r.Key == "" {
			r.Key = recipe.KeyFromFilename(name)
		}
		if err := r.Validate(); err != nil {
			s.logger.Warn("cache: skip invalid recipe", slog.String("file", name), slog.String("error", err.Error()))
			continue
		}
		out = append(out, r)
	}
	return recipe.Dedupe(out), nil
}

// WriteAll replaces the snapshot with recipes. Each recipe file is written
// atomically, files for keys no longer present are removed and the metadata
// is written last. On failure, files already written stay in place.
func (s *Store) WriteAll(recipes []recipe.Recipe) error {
	recipes = recipe.Dedupe(recipes)
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("cache: mkdir: %w: %v", apperr.ErrCacheWriteFailed, err)
	}

	names, err := assignNames(recipes)
	if err != nil {
		return err
	}
	// keep is indexed by the folded name so a file that differs only in case
	// can be recognised as the one just written.
	keep := make(map[string]string, len(recipes))
	for i, r := range recipes {
		name := names[i]
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return fmt.Errorf("cache: encode %s: %w: %v", r.Key, apperr.ErrCacheWriteFailed, err)
		}
		if err := writeAtomic(filepath.Join(s.dir, name), data); err != nil {
			return fmt.Errorf("cache: write %s: %w: %v", name, apperr.ErrCacheWriteFailed, err)
		}
		keep[strings.ToLower(name)] = name
	}

	existing, err := s.recipeFiles()
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrCacheWriteFailed, err)
	}
	for _, name := range existing {
		if s.kept(keep, name) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("cache: remove stale %s: %w: %v", name, apperr.ErrCacheWriteFailed, err)
		}
	}

	md := Metadata{
		LastUpdate:        s.now().UTC(),
		RecipeCount:       len(keep),
		SourceFingerprint: s.policy.Fingerprint(),
	}
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("cache: encode metadata: %w: %v", apperr.ErrCacheWriteFailed, err)
	}
	if err := writeAtomic(filepath.Join(s.dir, MetadataFile), data); err != nil {
		return fmt.Errorf("cache: write metadata: %w: %v", apperr.ErrCacheWriteFailed, err)
	}
	return nil
}

// kept reports whether name on disk is one of the files just written.
func (s *Store) kept(keep map[string]string, name string) bool {
	want, ok := keep[strings.ToLower(name)]
	if !ok {
		return false
	}
	if want == name {
		return true
	}
	a, errA := os.Stat(filepath.Join(s.dir, name))
	b, errB := os.Stat(filepath.Join(s.dir, want))
	return errA == nil && errB == nil && os.SameFile(a, b)
}

// Clear removes the cache directory. Clearing a missing cache is not an error.
func (s *Store) Clear() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("cache: clear: %w", err)
	}
	return nil
}

// recipeFiles lists recipe file names (not metadata, not temp files) sorted
// by name. A missing directory yields nil.
func (s *Store) recipeFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache: list: %w", err)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == MetadataFile || strings.HasPrefix(name, ".") {
			continue
		}
		if strings.EqualFold(filepath.Ext(name), recipeExt) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// fileName maps a key to a file name that stays inside the cache directory.
// Distinct keys always map to distinct names: '_' is the escape character and
// is itself doubled, and the "_" prefix only ever marks a leading dot, an
// empty key or a key that would shadow the metadata file.
func fileName(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '_':
			b.WriteString("__")
		case '/':
			b.WriteString("_s")
		case '\\':
			b.WriteString("_b")
		case 0:
			b.WriteString("_0")
		case '~':
			b.WriteString("_t")
		default:
			b.WriteRune(r)
		}
	}
	name := b.String()
	if name == "" || strings.HasPrefix(name, ".") || name+recipeExt == MetadataFile {
		name = "_" + name
	}
	return name + recipeExt
}

// assignNames gives every key a file name that is unique even on a
// case-insensitive filesystem. A key whose name folds onto an earlier one
// gets a '~' digest suffix; '~' never appears in an escaped key.
func assignNames(recipes []recipe.Recipe) ([]string, error) {
	names := make([]string, len(recipes))
	folded := make(map[string]string, len(recipes))
	for i, r := range recipes {
		name := fileName(r.Key)
		if prev, clash := folded[strings.ToLower(name)]; clash {
			name = strings.TrimSuffix(name, recipeExt) + "~" + checksum.Short(r.Key, 10) + recipeExt
			if _, again := folded[strings.ToLower(name)]; again {
				return nil, fmt.Errorf("cache: key %q collides with %q: %w", r.Key, prev, apperr.ErrCacheWriteFailed)
			}
		}
		folded[strings.ToLower(name)] = r.Key
		names[i] = name
	}
	return names, nil
}
