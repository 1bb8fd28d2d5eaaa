// Package resolver produces the available recipe set by walking an ordered
// chain of sources: valid cache, remote, stale cache and the bundled set.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/airules/internal/recipe"
	"github.com/starford/airules/internal/remote"
)

// DefaultWorkers bounds concurrent content fetches.
const DefaultWorkers = 4

// errNoRecipes marks a strategy that ran without error but produced nothing.
var errNoRecipes = errors.New("no recipes")

// RemoteSource lists and downloads recipe files. *remote.Client satisfies it.
type RemoteSource interface {
	ListEntries(ctx context.Context) ([]remote.Entry, error)
	FetchContent(ctx context.Context, url string) ([]byte, error)
}

// CacheStore is the local snapshot. *cache.Store satisfies it.
type CacheStore interface {
	IsValid() bool
	ReadAll() ([]recipe.Recipe, error)
	WriteAll([]recipe.Recipe) error
}

// Policy controls the last-resort tier. *endpoint.Config satisfies it.
type Policy interface {
	AllowBundledFallback() bool
}

// Attempt records the outcome of one strategy.
type Attempt struct {
	Tier  Tier
	Count int
	Err   error
}

// Result is the resolved set and the tier that produced it.
type Result struct {
	Recipes  []recipe.Recipe
	Tier     Tier
	Attempts []Attempt
}

// Resolver walks the fallback chain. It never fails: exhaustion yields an
// empty set with TierNone.
type Resolver struct {
	remote  RemoteSource
	cache   CacheStore
	policy  Policy
	bundled func() ([]recipe.Recipe, error)
	workers int
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithWorkers sets the number of concurrent content fetches.
func WithWorkers(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithBundled sets the loader for the last-resort set.
func WithBundled(load func() ([]recipe.Recipe, error)) Option {
	return func(r *Resolver) { r.bundled = load }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithClock overrides time.Now for fetch timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// New creates a Resolver.
func New(src RemoteSource, store CacheStore, policy Policy, opts ...Option) *Resolver {
	r := &Resolver{
		remote:  src,
		cache:   store,
		policy:  policy,
		workers: DefaultWorkers,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the first non-empty set produced by the chain. With
// forceRefresh the valid-cache tier is skipped.
func (r *Resolver) Resolve(ctx context.Context, forceRefresh bool) Result {
	res := Result{}

	if !forceRefresh {
		recipes, err := r.fromCache()
		res.record(TierCached, recipes, err)
		if len(recipes) > 0 {
			return r.done(res, TierCached, recipes)
		}
	}

	recipes, err := r.fromRemote(ctx)
	res.record(TierRemote, recipes, err)
	if len(recipes) > 0 {
		if err := r.cache.WriteAll(recipes); err != nil {
			r.logger.Warn("resolver: cache write failed", slog.String("error", err.Error()))
		}
		return r.done(res, TierRemote, recipes)
	}

	return r.fallback(res)
}

// ResolveOffline walks the chain without the remote tier: a valid cache, then
// whatever the cache holds, then the bundled set. It never contacts the
// remote.
func (r *Resolver) ResolveOffline() Result {
	res := Result{}
	recipes, err := r.fromCache()
	res.record(TierCached, recipes, err)
	if len(recipes) > 0 {
		return r.done(res, TierCached, recipes)
	}
	return r.fallback(res)
}

// fallback tries the stale cache and then the bundled set.
func (r *Resolver) fallback(res Result) Result {
	recipes, err := r.cache.ReadAll()
	if err == nil && len(recipes) == 0 {
		err = errNoRecipes
	}
	res.record(TierStaleCache, recipes, err)
	if len(recipes) > 0 {
		return r.done(res, TierStaleCache, recipes)
	}

	if r.bundled != nil && r.policy.AllowBundledFallback() {
		recipes, err := r.bundled()
		res.record(TierBundled, recipes, err)
		if len(recipes) > 0 {
			return r.done(res, TierBundled, recipes)
		}
	}

	r.logger.Warn("resolver: no recipes available", slog.Int("attempts", len(res.Attempts)))
	return r.done(res, TierNone, []recipe.Recipe{})
}

func (res *Result) record(t Tier, recipes []recipe.Recipe, err error) {
	res.Attempts = append(res.Attempts, Attempt{Tier: t, Count: len(recipes), Err: err})
}

func (r *Resolver) done(res Result, t Tier, recipes []recipe.Recipe) Result {
	res.Tier = t
	res.Recipes = recipes
	for _, a := range res.Attempts {
		if a.Err != nil {
			r.logger.Debug("resolver: tier skipped", slog.String("tier", a.Tier.String()), slog.String("error", a.Err.Error()))
		}
	}
	r.logger.Info("resolver: resolved", slog.String("tier", t.String()), slog.Int("count", len(recipes)))
	return res
}

func (r *Resolver) fromCache() ([]recipe.Recipe, error) {
	if !r.cache.IsValid() {
		return nil, errors.New("cache invalid or expired")
	}
	recipes, err := r.cache.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(recipes) == 0 {
		return nil, errNoRecipes
	}
	return recipes, nil
}

// fromRemote lists the remote entries and fetches them on a bounded pool.
// Entries that fail to download or parse are skipped; the rest keep listing
// order.
func (r *Resolver) fromRemote(ctx context.Context) ([]recipe.Recipe, error) {
	entries, err := r.remote.ListEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolver: list: %w", err)
	}
	if len(entries) == 0 {
		return nil, errNoRecipes
	}

	slots := make([]*recipe.Recipe, len(entries))
	errs := make([]error, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, e := range entries {
		g.Go(func() error {
			data, err := r.remote.FetchContent(gctx, e.ContentURL)
			if err != nil {
				errs[i] = err
				return nil
			}
			rec, err := recipe.Parse(e.Name, data)
			if err != nil {
				errs[i] = err
				return nil
			}
			rec.Source = recipe.Source{Origin: recipe.OriginRemote, URL: e.ContentURL, FetchedAt: r.now().UTC()}
			slots[i] = rec
			return nil
		})
	}
	_ = g.Wait()

	out := make([]recipe.Recipe, 0, len(entries))
	var failed []error
	for i, s := range slots {
		if s == nil {
			r.logger.Warn("resolver: skip remote entry",
				slog.String("name", entries[i].Name),
				slog.String("error", errs[i].Error()),
			)
			failed = append(failed, errs[i])
			continue
		}
		if !recipe.KnownCategory(s.Category) {
			r.logger.Debug("resolver: unknown category", slog.String("key", s.Key), slog.String("category", s.Category))
		}
		out = append(out, *s)
	}
	out = recipe.Dedupe(out)
	if len(out) == 0 {
		return nil, fmt.Errorf("resolver: all %d entries failed: %w", len(entries), errors.Join(failed...))
	}
	return out, nil
}
