package recipeservice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/airules/internal/apperr"
	"github.com/starford/airules/internal/cache"
	"github.com/starford/airules/internal/catalog"
	"github.com/starford/airules/internal/endpoint"
	"github.com/starford/airules/internal/recipe"
	"github.com/starford/airules/internal/remote"
	"github.com/starford/airules/internal/resolver"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeResolver struct {
	mu      sync.Mutex
	result  resolver.Result
	forced  []bool
	offline int
}

func (f *fakeResolver) ResolveOffline() resolver.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline++
	return f.result
}

func (f *fakeResolver) Resolve(_ context.Context, force bool) resolver.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forced = append(f.forced, force)
	return f.result
}

type fakeCache struct {
	cleared int
}

func (f *fakeCache) Status() cache.Status { return cache.Status{Dir: "/tmp/c", Exists: true} }
func (f *fakeCache) Clear() error         { f.cleared++; return nil }

type fakeProber struct{}

func (fakeProber) ListEntries(context.Context) ([]remote.Entry, error) {
	return nil, apperr.ErrRemoteUnavailable
}
func (fakeProber) FetchContent(context.Context, string) ([]byte, error) { return nil, nil }
func (fakeProber) Ping(context.Context, string) (int, error)            { return 200, nil }
func (fakeProber) RateLimit() remote.RateLimit                          { return remote.RateLimit{} }
func (fakeProber) Authenticated() bool                                  { return false }

func remoteSet() []recipe.Recipe {
	return []recipe.Recipe{
		{Key: "react", Name: "React", Category: "frontend", Tags: []string{"js"}, Source: recipe.Source{Origin: recipe.OriginRemote}},
		{Key: "django", Name: "Django", Category: "backend", Tags: []string{"python"}, Source: recipe.Source{Origin: recipe.OriginRemote}},
	}
}

func newService(t *testing.T, opts ...Option) (*Service, *fakeResolver, *fakeCache) {
	t.Helper()
	res := &fakeResolver{result: resolver.Result{
		Recipes:  remoteSet(),
		Tier:     resolver.TierRemote,
		Attempts: []resolver.Attempt{{Tier: resolver.TierCached, Err: errors.New("expired")}, {Tier: resolver.TierRemote, Count: 2}},
	}}
	c := &fakeCache{}
	cfg := endpoint.New(endpoint.Defaults())
	opts = append([]Option{WithLogger(quiet)}, opts...)
	return New(res, c, cfg, fakeProber{}, opts...), res, c
}

func TestService_LazyLoadAndGet(t *testing.T) {
	svc, res, _ := newService(t)
	ctx := context.Background()

	r, err := svc.Get(ctx, "react")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if r.Name != "React" {
		t.Errorf("name = %q", r.Name)
	}
	if len(res.forced) != 1 || res.forced[0] {
		t.Errorf("resolve calls = %v, want one unforced", res.forced)
	}
	if _, err := svc.Get(ctx, "rails"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing key error = %v", err)
	}
	if len(res.forced) != 1 {
		t.Error("index should be loaded once")
	}

	sum := svc.Summary()
	if sum.Tier != resolver.TierRemote || sum.Count != 2 || len(sum.Attempts) != 2 || sum.Attempts[0].Error != "expired" {
		t.Errorf("summary = %+v", sum)
	}
}

func TestService_RefreshForces(t *testing.T) {
	svc, res, _ := newService(t)
	svc.Refresh(context.Background())
	if len(res.forced) != 1 || !res.forced[0] {
		t.Errorf("resolve calls = %v, want forced", res.forced)
	}
}

func TestService_LocalOverlayWins(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("react.yaml", "name: My React\ncategory: frontend\n")
	write("mine.json", `{"name":"Mine","category":"other","tags":["custom"]}`)
	write("broken.yaml", "name: [")
	write("notes.md", "ignored")

	svc, _, _ := newService(t, WithLocalDir(dir))
	sum := svc.Load(context.Background(), false)
	if sum.Local != 2 || sum.Count != 3 {
		t.Errorf("summary = %+v", sum)
	}

	r, err := svc.Get(context.Background(), "react")
	if err != nil {
		t.Fatal(err)
	}
	if r.Name != "My React" || r.Source.Origin != recipe.OriginLocal {
		t.Errorf("react = %+v, want local override", r)
	}
	list := svc.List(context.Background(), "")
	if list[0].Key != "react" {
		t.Errorf("override should keep the original position, got %q first", list[0].Key)
	}
}

func TestService_SearchAndCategories(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	if got := svc.Search(ctx, "PYTHON"); len(got) != 1 || got[0].Key != "django" {
		t.Errorf("search = %+v", got)
	}
	if got := svc.List(ctx, "Frontend"); len(got) != 1 || got[0].Key != "react" {
		t.Errorf("list frontend = %+v", got)
	}
	cats := svc.Categories(ctx)
	if len(cats) != 2 {
		t.Errorf("categories = %v", cats)
	}
}

func TestService_BrowseWithoutCatalog(t *testing.T) {
	svc, _, _ := newService(t)
	rows, total, err := svc.Browse(context.Background(), catalog.Filter{Tag: "JS"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(rows) != 1 || rows[0].Key != "react" {
		t.Errorf("rows = %+v total = %d", rows, total)
	}
	rows, total, _ = svc.Browse(context.Background(), catalog.Filter{Limit: 1, Offset: 1})
	if total != 2 || len(rows) != 1 || rows[0].Key != "react" {
		t.Errorf("page = %+v total = %d", rows, total)
	}
	counts, _ := svc.CategoryCounts(context.Background())
	if len(counts) != 2 || counts[0].Count != 1 {
		t.Errorf("counts = %+v", counts)
	}
}

func TestService_BrowseWithCatalog(t *testing.T) {
	db, err := catalog.Open(filepath.Join(t.TempDir(), "c.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	svc, _, _ := newService(t, WithCatalog(db))
	rows, total, err := svc.Browse(context.Background(), catalog.Filter{Category: "backend"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || rows[0].Key != "django" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestService_CacheAndEndpoints(t *testing.T) {
	svc, _, c := newService(t)
	if !svc.CacheStatus().Exists {
		t.Error("status not forwarded")
	}
	if err := svc.ClearCache(); err != nil || c.cleared != 1 {
		t.Errorf("clear err=%v cleared=%d", err, c.cleared)
	}

	bad := "not a url"
	if _, err := svc.UpdateEndpoints(endpoint.Patch{ListEndpoint: &bad}); err == nil {
		t.Error("invalid patch accepted")
	}
	ttl := 2 * time.Hour
	s, err := svc.UpdateEndpoints(endpoint.Patch{TTL: &ttl})
	if err != nil {
		t.Fatal(err)
	}
	if s.TTL != ttl || svc.Endpoints().TTL != ttl {
		t.Errorf("ttl = %v", s.TTL)
	}
}

func TestService_Diagnose(t *testing.T) {
	svc, res, _ := newService(t)
	rep := svc.Diagnose(context.Background())
	if rep.List.Reachable {
		t.Error("list should fail with the fake prober")
	}
	if len(res.forced) != 0 {
		t.Error("diagnostics must not resolve recipes")
	}
}

func TestService_ConcurrentReads(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = svc.Search(ctx, "react")
		}()
		go func() {
			defer wg.Done()
			svc.Reload()
		}()
	}
	wg.Wait()
	if svc.Index(ctx).Len() != 2 {
		t.Errorf("len = %d", svc.Index(ctx).Len())
	}
}

func TestService_OnLoadHook(t *testing.T) {
	var got []Summary
	svc, _, _ := newService(t, WithOnLoad(func(s Summary) { got = append(got, s) }))
	svc.Load(context.Background(), false)
	svc.Refresh(context.Background())
	if len(got) != 2 || got[1].Count != 2 {
		t.Errorf("hook calls = %+v", got)
	}
}

func TestService_ReloadStaysOffline(t *testing.T) {
	var loads int
	svc, res, _ := newService(t, WithOnLoad(func(Summary) { loads++ }))
	for i := 0; i < 3; i++ {
		svc.Reload()
	}
	if len(res.forced) != 0 {
		t.Errorf("reload resolved through the remote chain %d times", len(res.forced))
	}
	if res.offline != 3 || loads != 3 {
		t.Errorf("offline=%d loads=%d, want 3 each", res.offline, loads)
	}
	if svc.Index(context.Background()).Len() != 2 {
		t.Error("reload should install the cached set")
	}
	if len(res.forced) != 0 {
		t.Error("index was already loaded by reload")
	}
}

func TestService_DigestTracksContentNotTier(t *testing.T) {
	svc, res, _ := newService(t)
	first := svc.Load(context.Background(), false)

	cachedSet := remoteSet()
	for i := range cachedSet {
		cachedSet[i].Source.FetchedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	res.result = resolver.Result{Recipes: cachedSet, Tier: resolver.TierCached}
	second := svc.Reload()
	if first.Digest == "" || first.Digest != second.Digest {
		t.Errorf("digests %q and %q should match for the same recipes", first.Digest, second.Digest)
	}

	changed := remoteSet()
	changed[0].RulesText = "Prefer hooks."
	res.result = resolver.Result{Recipes: changed, Tier: resolver.TierCached}
	if third := svc.Reload(); third.Digest == second.Digest {
		t.Error("digest should change with recipe content")
	}
}
