// Package recipeservice is the facade the CLI, HTTP API and MCP server use:
// it resolves recipes, overlays local ones and keeps the current index.
package recipeservice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/starford/airules/internal/apperr"
	"github.com/starford/airules/internal/cache"
	"github.com/starford/airules/internal/catalog"
	"github.com/starford/airules/internal/checksum"
	"github.com/starford/airules/internal/diagnostics"
	"github.com/starford/airules/internal/endpoint"
	"github.com/starford/airules/internal/index"
	"github.com/starford/airules/internal/recipe"
	"github.com/starford/airules/internal/resolver"
)

// Resolver produces the recipe set. *resolver.Resolver satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, forceRefresh bool) resolver.Result
	ResolveOffline() resolver.Result
}

// CacheAdmin inspects and clears the cache. *cache.Store satisfies it.
type CacheAdmin interface {
	Status() cache.Status
	Clear() error
}

// Summary describes the last load.
type Summary struct {
	Tier     resolver.Tier `json:"tier"`
	Count    int           `json:"count"`
	Local    int           `json:"local"`
	LoadedAt time.Time     `json:"loadedAt"`
	Digest   string        `json:"digest"`
	Attempts []AttemptInfo `json:"attempts"`
}

// AttemptInfo is a JSON-friendly resolver.Attempt.
type AttemptInfo struct {
	Tier  resolver.Tier `json:"tier"`
	Count int           `json:"count"`
	Error string        `json:"error,omitempty"`
}

// Service coordinates resolution, the in-memory index and the optional
// SQLite catalog. It is safe for concurrent use.
type Service struct {
	resolver Resolver
	cache    CacheAdmin
	cfg      *endpoint.Config
	prober   diagnostics.Prober
	localDir string
	catalog  catalog.Catalog
	onLoad   func(Summary)
	logger   *slog.Logger

	loadMu  sync.Mutex
	mu      sync.RWMutex
	idx     *index.Index
	summary Summary
}

// Option configures a Service.
type Option func(*Service)

// WithLocalDir overlays recipes found in dir on every load.
func WithLocalDir(dir string) Option {
	return func(s *Service) { s.localDir = dir }
}

// WithCatalog mirrors every load into c.
func WithCatalog(c catalog.Catalog) Option {
	return func(s *Service) { s.catalog = c }
}

// WithOnLoad registers fn to run after every load. fn runs before Load
// returns and must not call Load itself.
func WithOnLoad(fn func(Summary)) Option {
	return func(s *Service) { s.onLoad = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a Service. Nothing is loaded until the first call that needs
// recipes, or an explicit Load.
func New(res Resolver, c CacheAdmin, cfg *endpoint.Config, prober diagnostics.Prober, opts ...Option) *Service {
	s := &Service{
		resolver: res,
		cache:    c,
		cfg:      cfg,
		prober:   prober,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load resolves recipes, overlays local ones (last write wins) and swaps
// the current index.
func (s *Service) Load(ctx context.Context, force bool) Summary {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	return s.apply(s.resolver.Resolve(ctx, force))
}

// apply overlays local recipes on res, swaps the index and mirrors the
// catalog. Callers hold loadMu.
func (s *Service) apply(res resolver.Result) Summary {
	recipes := res.Recipes

	var local []recipe.Recipe
	if s.localDir != "" {
		var err error
		local, err = LoadLocal(s.localDir, s.logger)
		if err != nil {
			s.logger.Warn("recipes: local overlay skipped", slog.String("dir", s.localDir), slog.String("error", err.Error()))
		}
		if len(local) > 0 {
			recipes = recipe.Dedupe(append(append([]recipe.Recipe{}, recipes...), local...))
		}
	}

	sum := Summary{
		Tier:     res.Tier,
		Count:    len(recipes),
		Local:    len(local),
		LoadedAt: time.Now().UTC(),
		Digest:   digest(recipes),
		Attempts: make([]AttemptInfo, 0, len(res.Attempts)),
	}
	for _, a := range res.Attempts {
		ai := AttemptInfo{Tier: a.Tier, Count: a.Count}
		if a.Err != nil {
			ai.Error = a.Err.Error()
		}
		sum.Attempts = append(sum.Attempts, ai)
	}

	idx := index.Build(recipes)
	s.mu.Lock()
	s.idx = idx
	s.summary = sum
	s.mu.Unlock()

	if s.catalog != nil {
		if err := catalog.Sync(s.catalog, idx.List(), s.logger); err != nil {
			s.logger.Warn("recipes: catalog sync failed", slog.String("error", err.Error()))
		}
	}

	s.logger.Info("recipes: loaded",
		slog.String("tier", sum.Tier.String()),
		slog.Int("count", sum.Count),
		slog.Int("local", sum.Local))
	if s.onLoad != nil {
		s.onLoad(sum)
	}
	return sum
}

// digest fingerprints the content of a recipe set, ignoring fetch times.
// Two loads that serve the same recipes share a digest whichever tier
// produced them.
func digest(recipes []recipe.Recipe) string {
	var b strings.Builder
	for _, r := range recipes {
		for _, part := range []string{
			r.Key, r.Name, r.Description, r.Category,
			r.TechStack.String(), strings.Join(r.Tags, ","), r.RulesText, string(r.Source.Origin),
		} {
			b.WriteString(part)
			b.WriteByte(0)
		}
		b.WriteByte('\n')
	}
	return checksum.Short(b.String(), 16)
}

// Refresh forces a remote fetch.
func (s *Service) Refresh(ctx context.Context) Summary {
	return s.Load(ctx, true)
}

// Reload rebuilds the index from the cache and the local overlay. It never
// contacts the remote: the directory watcher calls it, and the cache
// directory also changes when a load writes the fetched set.
func (s *Service) Reload() Summary {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	return s.apply(s.resolver.ResolveOffline())
}

// Index returns the current index, loading it on first use.
func (s *Service) Index(ctx context.Context) *index.Index {
	s.mu.RLock()
	idx := s.idx
	s.mu.RUnlock()
	if idx != nil {
		return idx
	}
	s.Load(ctx, false)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx
}

// Summary returns the description of the last load.
func (s *Service) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summary
}

// Tier returns the tier that satisfied the last load.
func (s *Service) Tier() resolver.Tier {
	return s.Summary().Tier
}

// Get returns one recipe by key.
func (s *Service) Get(ctx context.Context, key string) (recipe.Recipe, error) {
	r, ok := s.Index(ctx).Get(key)
	if !ok {
		return recipe.Recipe{}, fmt.Errorf("recipe %q: %w", key, apperr.ErrNotFound)
	}
	return r, nil
}

// List returns all recipes, optionally restricted to category.
func (s *Service) List(ctx context.Context, category string) []recipe.Recipe {
	idx := s.Index(ctx)
	if strings.TrimSpace(category) == "" {
		return idx.List()
	}
	return idx.ByCategory(category)
}

// Search runs a case-insensitive substring search.
func (s *Service) Search(ctx context.Context, query string) []recipe.Recipe {
	return s.Index(ctx).Search(query)
}

// Categories returns the distinct categories of the current set.
func (s *Service) Categories(ctx context.Context) []string {
	return s.Index(ctx).Categories()
}

// Browse lists catalog rows matching f. Without a catalog the in-memory
// index is filtered instead.
func (s *Service) Browse(ctx context.Context, f catalog.Filter) ([]catalog.Row, int, error) {
	idx := s.Index(ctx)
	if s.catalog != nil {
		return s.catalog.ListRecipes(f)
	}
	return browseIndex(idx, f), countIndex(idx, f), nil
}

// CategoryCounts returns categories with recipe counts.
func (s *Service) CategoryCounts(ctx context.Context) ([]catalog.CategoryCount, error) {
	idx := s.Index(ctx)
	if s.catalog != nil {
		return s.catalog.Categories()
	}
	out := make([]catalog.CategoryCount, 0)
	for _, c := range idx.Categories() {
		out = append(out, catalog.CategoryCount{Category: c, Count: len(idx.ByCategory(c))})
	}
	return out, nil
}

// CacheStatus reports the on-disk cache state.
func (s *Service) CacheStatus() cache.Status {
	return s.cache.Status()
}

// ClearCache removes the on-disk cache. The in-memory index is kept.
func (s *Service) ClearCache() error {
	return s.cache.Clear()
}

// Endpoints returns the current endpoint settings.
func (s *Service) Endpoints() endpoint.Settings {
	return s.cfg.Snapshot()
}

// UpdateEndpoints validates and applies p. A cache written for other
// endpoints stops being valid, so the next load goes to the remote.
func (s *Service) UpdateEndpoints(p endpoint.Patch) (endpoint.Settings, error) {
	if err := s.cfg.Update(p); err != nil {
		return s.cfg.Snapshot(), err
	}
	snap := s.cfg.Snapshot()
	s.logger.Info("recipes: endpoints updated",
		slog.String("list", snap.ListEndpoint),
		slog.String("content", snap.ContentEndpointBase),
		slog.Duration("ttl", snap.TTL))
	return snap, nil
}

// Diagnose probes the live remote. It does not touch the cache or index.
func (s *Service) Diagnose(ctx context.Context) diagnostics.Report {
	return diagnostics.Run(ctx, s.prober, s.cfg.Snapshot())
}
