// Package testutil provides shared test helpers for a fake remote recipe
// repository, catalog databases and fully wired recipe services.
package testutil

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/airules/internal/cache"
	"github.com/starford/airules/internal/catalog"
	"github.com/starford/airules/internal/endpoint"
	"github.com/starford/airules/internal/recipeservice"
	"github.com/starford/airules/internal/remote"
	"github.com/starford/airules/internal/resolver"
)

// Quiet is a logger that discards everything.
var Quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// Remote is an in-process recipe repository serving a GitHub-style listing
// at ListURL and raw files under ContentBase.
type Remote struct {
	Server *httptest.Server

	mu       sync.RWMutex
	files    map[string]string
	down     bool
	listHits atomic.Int64
}

// NewRemote starts a fake repository holding files (name to body).
func NewRemote(t *testing.T, files map[string]string) *Remote {
	t.Helper()
	r := &Remote{files: make(map[string]string, len(files))}
	for k, v := range files {
		r.files[k] = v
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /contents", r.list)
	mux.HandleFunc("GET /raw/{name}", r.raw)
	r.Server = httptest.NewServer(mux)
	t.Cleanup(r.Server.Close)
	return r
}

// ListURL is the listing endpoint.
func (r *Remote) ListURL() string { return r.Server.URL + "/contents" }

// ContentBase is the raw content prefix, with a trailing slash.
func (r *Remote) ContentBase() string { return r.Server.URL + "/raw/" }

// ListHits reports how many times the listing was requested.
func (r *Remote) ListHits() int { return int(r.listHits.Load()) }

// Put adds or replaces a file.
func (r *Remote) Put(name, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[name] = body
}

// SetDown makes every request fail with 503 until called with false.
func (r *Remote) SetDown(down bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.down = down
}

func (r *Remote) list(w http.ResponseWriter, _ *http.Request) {
	r.listHits.Add(1)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.down {
		http.Error(w, `{"message":"unavailable"}`, http.StatusServiceUnavailable)
		return
	}

	names := make([]string, 0, len(r.files))
	for n := range r.files {
		names = append(names, n)
	}
	sort.Strings(names)

	type item struct {
		Name        string `json:"name"`
		Type        string `json:"type"`
		DownloadURL string `json:"download_url"`
	}
	items := make([]item, 0, len(names))
	for _, n := range names {
		items = append(items, item{Name: n, Type: "file", DownloadURL: r.ContentBase() + n})
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-RateLimit-Limit", "60")
	w.Header().Set("X-RateLimit-Remaining", "59")
	_ = json.NewEncoder(w).Encode(items)
}

func (r *Remote) raw(w http.ResponseWriter, req *http.Request) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.down {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	body, ok := r.files[req.PathValue("name")]
	if !ok {
		http.NotFound(w, req)
		return
	}
	_, _ = io.WriteString(w, body)
}

// TestCatalog opens a catalog database in a temp dir that is closed on cleanup.
func TestCatalog(t *testing.T) *catalog.DB {
	t.Helper()
	db, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Stack is a recipe service wired to a fake remote with a temp cache.
type Stack struct {
	Remote  *Remote
	Config  *endpoint.Config
	Client  *remote.Client
	Cache   *cache.Store
	Service *recipeservice.Service
}

// NewStack wires the full resolution pipeline against r. Bundled fallback
// is off so tests see exactly what the remote and cache provide.
func NewStack(t *testing.T, r *Remote, opts ...recipeservice.Option) *Stack {
	t.Helper()
	cfg := endpoint.New(endpoint.Settings{
		ListEndpoint:        r.ListURL(),
		ContentEndpointBase: r.ContentBase(),
		TTL:                 time.Hour,
	})
	client := remote.New(cfg, remote.WithLogger(Quiet), remote.WithTimeout(5*time.Second))
	t.Cleanup(func() { _ = client.Close() })

	store := cache.New(filepath.Join(t.TempDir(), "cache"), cfg, cache.WithLogger(Quiet))
	res := resolver.New(client, store, cfg, resolver.WithLogger(Quiet))

	opts = append([]recipeservice.Option{recipeservice.WithLogger(Quiet)}, opts...)
	return &Stack{
		Remote:  r,
		Config:  cfg,
		Client:  client,
		Cache:   store,
		Service: recipeservice.New(res, store, cfg, client, opts...),
	}
}

// SampleFiles is a small remote repository: two valid recipes and one
// malformed file.
func SampleFiles() map[string]string {
	return map[string]string{
		"react.yaml": "name: React SPA\ncategory: frontend\ntags: [js, react]\ntechStack:\n  framework: React\n  language: TypeScript\n",
		"django.json": `{"name":"Django API","category":"backend","tags":["python"],"techStack":{"framework":"Django"}}`,
		"broken.yaml": "name: [unclosed",
	}
}

// Eventually polls fn every 20ms until it returns true or 5s pass.
func Eventually(t *testing.T, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}

// FreePort returns a TCP port that was free a moment ago.
func FreePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
