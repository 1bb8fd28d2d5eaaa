package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/starford/airules/internal/cache"
	"github.com/starford/airules/internal/sse"
	"github.com/starford/airules/internal/testutil"
)

// testEnv wires a router to a fake remote. An empty authToken disables auth.
func testEnv(t *testing.T, authToken string) (*testutil.Stack, http.Handler) {
	t.Helper()
	st := testutil.NewStack(t, testutil.NewRemote(t, testutil.SampleFiles()))
	return st, NewRouter(st.Service, authToken != "", authToken, nil)
}

func do(t *testing.T, h http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestListRecipes(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/recipes", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp RecipeListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 2 || len(resp.Recipes) != 2 {
		t.Errorf("recipes = %+v, total = %d", resp.Recipes, resp.Total)
	}
	if resp.Tier != "remote" {
		t.Errorf("tier = %q, want remote", resp.Tier)
	}
}

func TestListRecipes_FilterAndPage(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/recipes?category=backend", nil)
	var resp RecipeListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 1 || resp.Recipes[0].Key != "django" {
		t.Errorf("filtered = %+v", resp)
	}

	w = do(t, router, http.MethodGet, "/recipes?limit=1&offset=5", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 2 || len(resp.Recipes) != 0 {
		t.Errorf("past-the-end page = %+v", resp)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"recipes":[]`)) {
		t.Errorf("empty page should encode as an array: %s", w.Body.String())
	}
}

func TestGetRecipe(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/recipes/react", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var rec RecipeDetail
	_ = json.Unmarshal(w.Body.Bytes(), &rec)
	if rec.Name != "React SPA" || !hasFramework(rec.TechStack, "React") {
		t.Errorf("recipe = %+v", rec)
	}
	if rec.Source.Origin != "remote" {
		t.Errorf("origin = %q", rec.Source.Origin)
	}
}

func TestGetRecipe_NotFound(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/recipes/broken", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("malformed recipe = %d, want 404", w.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/search?q=PYTHON", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp SearchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Results) != 1 || resp.Results[0].Key != "django" {
		t.Errorf("results = %+v", resp.Results)
	}

	w = do(t, router, http.MethodGet, "/search?q=nothing-matches", nil)
	if !bytes.Contains(w.Body.Bytes(), []byte(`"results":[]`)) {
		t.Errorf("no hits should encode as an empty array: %s", w.Body.String())
	}
}

func TestSearchBlankQueryListsAll(t *testing.T) {
	_, router := testEnv(t, "")

	for _, path := range []string{"/search?q=%20", "/search", "/search?limit=1"} {
		w := do(t, router, http.MethodGet, path, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, want 200", path, w.Code)
		}
		var resp SearchResponse
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
		want := 2
		if strings.Contains(path, "limit") {
			want = 1
		}
		if len(resp.Results) != want || resp.Query != "" {
			t.Errorf("%s: query = %q, results = %d, want %d", path, resp.Query, len(resp.Results), want)
		}
	}
}

func TestCategoriesEndpoint(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/categories", nil)
	var resp CategoriesResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Categories) != 2 {
		t.Errorf("categories = %+v", resp.Categories)
	}
}

func TestRefreshGoesToRemote(t *testing.T) {
	st, router := testEnv(t, "")

	do(t, router, http.MethodGet, "/recipes", nil)
	hits := st.Remote.ListHits()

	st.Remote.Put("flutter.yaml", "name: Flutter\ncategory: mobile\n")
	w := do(t, router, http.MethodPost, "/refresh", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if st.Remote.ListHits() != hits+1 {
		t.Errorf("refresh should list the remote once more, hits = %d", st.Remote.ListHits())
	}
	var sum RefreshResponse
	_ = json.Unmarshal(w.Body.Bytes(), &sum)
	if sum.Count != 3 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestCacheStatusAndClear(t *testing.T) {
	_, router := testEnv(t, "")
	do(t, router, http.MethodGet, "/recipes", nil)

	w := do(t, router, http.MethodGet, "/cache", nil)
	var st cache.Status
	_ = json.Unmarshal(w.Body.Bytes(), &st)
	if !st.Exists || !st.Valid || st.Files != 2 {
		t.Errorf("status = %+v", st)
	}

	w = do(t, router, http.MethodDelete, "/cache", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("clear = %d", w.Code)
	}
	w = do(t, router, http.MethodGet, "/cache", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &st)
	if st.Exists {
		t.Errorf("cache should be gone: %+v", st)
	}
}

func TestEndpointsGetAndPatch(t *testing.T) {
	st, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/config/endpoints", nil)
	var ep EndpointsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &ep)
	if ep.ListEndpoint != st.Remote.ListURL() || ep.TTL != "1h0m0s" {
		t.Errorf("endpoints = %+v", ep)
	}

	w = do(t, router, http.MethodPatch, "/config/endpoints", []byte(`{"ttl":"12h","allowBundledFallback":true}`))
	if w.Code != http.StatusOK {
		t.Fatalf("patch = %d, body = %s", w.Code, w.Body.String())
	}
	_ = json.Unmarshal(w.Body.Bytes(), &ep)
	if ep.TTL != "12h0m0s" || !ep.AllowBundledFallback {
		t.Errorf("patched = %+v", ep)
	}
}

func TestEndpointsPatch_Rejected(t *testing.T) {
	st, router := testEnv(t, "")

	cases := map[string]string{
		"bad json": `{`,
		"bad ttl":  `{"ttl":"soon"}`,
		"empty":    `{}`,
		"bad url":  `{"listEndpoint":"ftp://example.com/x"}`,
		"zero ttl": `{"ttl":"0s"}`,
		"relative": `{"contentEndpointBase":"/raw"}`,
		"unknown":  `{"ttl":"1h","listEndpont":"https://example.com"}`,
		"trailing": `{"ttl":"1h"} {"ttl":"2h"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := do(t, router, http.MethodPatch, "/config/endpoints", []byte(body))
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
	if st.Config.Snapshot().ListEndpoint != st.Remote.ListURL() {
		t.Error("rejected patches must not change the configuration")
	}
}

func TestDiagnosticsEndpoint(t *testing.T) {
	st, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/diagnostics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	st.Remote.SetDown(true)
	w = do(t, router, http.MethodGet, "/diagnostics", nil)
	if w.Code != http.StatusBadGateway {
		t.Errorf("down remote = %d, want 502", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/categories", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authed = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	w := do(t, router, http.MethodGet, "/recipes", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/recipes", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
	if got := w.Header().Get("WWW-Authenticate"); !strings.HasPrefix(got, "Bearer") {
		t.Errorf("WWW-Authenticate = %q", got)
	}

	// A token that only shares a prefix is rejected.
	req = httptest.NewRequest(http.MethodGet, "/recipes", nil)
	req.Header.Set("Authorization", "Bearer secret12")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("prefix token = %d, want 401", w.Code)
	}
}

func hasFramework(ts interface{ Get(string) (string, bool) }, want string) bool {
	got, ok := ts.Get("framework")
	return ok && got == want
}

func TestEvents_AuthProtected(t *testing.T) {
	st := testutil.NewStack(t, testutil.NewRemote(t, testutil.SampleFiles()))
	broker := sse.NewBroker()
	t.Cleanup(broker.Close)
	router := NewRouter(st.Service, true, "secret123", broker)

	w := do(t, router, http.MethodGet, "/events", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("events without token = %d, want 401", w.Code)
	}
}

func TestEvents_NotMountedWithoutBroker(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/events", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("events = %d, want 404", w.Code)
	}
}
