package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/airules/internal/recipe"
	"github.com/starford/airules/internal/testutil"
)

// runCLI executes the command against a fake remote with isolated cache
// and local directories.
func runCLI(t *testing.T, remote *testutil.Remote, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("AIRULES_CACHE_DIR", filepath.Join(dir, "cache"))
	t.Setenv("AIRULES_LOCAL_DIR", filepath.Join(dir, "local"))

	var out bytes.Buffer
	argv := append([]string{"airules",
		"--config", filepath.Join(dir, "missing.yaml"),
		"--list-endpoint", remote.ListURL(),
		"--content-base", remote.ContentBase(),
	}, args...)
	err := newCommand(&out).Run(context.Background(), argv)
	return out.String(), err
}

func TestCLI_ListJSON(t *testing.T) {
	remote := testutil.NewRemote(t, testutil.SampleFiles())
	out, err := runCLI(t, remote, "list", "--json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var got []recipe.Recipe
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(got) != 2 {
		t.Errorf("recipes = %d, want 2", len(got))
	}
}

func TestCLI_ListTable(t *testing.T) {
	remote := testutil.NewRemote(t, testutil.SampleFiles())
	out, err := runCLI(t, remote, "list", "--category", "backend")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "django") || strings.Contains(out, "react") {
		t.Errorf("output:\n%s", out)
	}
	if !strings.Contains(out, "1 recipes (remote)") {
		t.Errorf("missing footer:\n%s", out)
	}
}

func TestCLI_ShowYAML(t *testing.T) {
	remote := testutil.NewRemote(t, testutil.SampleFiles())
	out, err := runCLI(t, remote, "show", "react")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "name: React SPA") || !strings.Contains(out, "framework: React") {
		t.Errorf("output:\n%s", out)
	}
	if !strings.Contains(out, "# origin: remote") {
		t.Errorf("missing provenance:\n%s", out)
	}
}

func TestCLI_ShowMissing(t *testing.T) {
	remote := testutil.NewRemote(t, testutil.SampleFiles())
	if _, err := runCLI(t, remote, "show", "rails"); err == nil {
		t.Error("expected error for unknown key")
	}
	if _, err := runCLI(t, remote, "show"); err == nil {
		t.Error("expected error without a key")
	}
}

func TestCLI_SearchNoHits(t *testing.T) {
	remote := testutil.NewRemote(t, testutil.SampleFiles())
	out, err := runCLI(t, remote, "search", "haskell")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `no recipes match "haskell"`) {
		t.Errorf("output:\n%s", out)
	}
}

func TestCLI_RemoteDownFallsBackToBundled(t *testing.T) {
	remote := testutil.NewRemote(t, testutil.SampleFiles())
	remote.SetDown(true)
	out, err := runCLI(t, remote, "list", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var got []recipe.Recipe
	_ = json.Unmarshal([]byte(out), &got)
	if len(got) == 0 || got[0].Source.Origin != recipe.OriginBundled {
		t.Errorf("want bundled recipes, got %d", len(got))
	}

	if _, err := runCLI(t, remote, "--no-bundled", "list"); err != nil {
		t.Fatal(err)
	}
}

func TestCLI_CacheInfoAndClear(t *testing.T) {
	remote := testutil.NewRemote(t, testutil.SampleFiles())
	dir := t.TempDir()
	cacheDir := filepath.Join(dir, "cache")

	var out bytes.Buffer
	base := []string{"airules",
		"--config", filepath.Join(dir, "missing.yaml"),
		"--list-endpoint", remote.ListURL(),
		"--content-base", remote.ContentBase(),
	}
	t.Setenv("AIRULES_CACHE_DIR", cacheDir)
	t.Setenv("AIRULES_LOCAL_DIR", filepath.Join(dir, "local"))

	if err := newCommand(&out).Run(context.Background(), append(base, "refresh")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "2 recipes from remote") {
		t.Errorf("refresh output:\n%s", out.String())
	}

	out.Reset()
	if err := newCommand(&out).Run(context.Background(), append(base, "cache", "info")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), cacheDir) || !strings.Contains(out.String(), "valid") {
		t.Errorf("info output:\n%s", out.String())
	}

	out.Reset()
	if err := newCommand(&out).Run(context.Background(), append(base, "cache", "clear")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(cacheDir); !os.IsNotExist(err) {
		t.Errorf("cache dir still present: %v", err)
	}
}

func TestCLI_ConfigureAndDoctor(t *testing.T) {
	remote := testutil.NewRemote(t, testutil.SampleFiles())

	out, err := runCLI(t, remote, "configure", "--set-ttl", "2h", "--test")
	if err != nil {
		t.Fatalf("configure: %v\n%s", err, out)
	}
	if !strings.Contains(out, "2h0m0s") || !strings.Contains(out, "list endpoint") {
		t.Errorf("configure output:\n%s", out)
	}

	if _, err := runCLI(t, remote, "configure", "--set-list-endpoint", "not a url"); err == nil {
		t.Error("invalid endpoint should fail")
	}

	remote.SetDown(true)
	if _, err := runCLI(t, remote, "doctor"); err == nil {
		t.Error("doctor should fail when the remote is down")
	}
}
