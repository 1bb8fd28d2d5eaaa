package endpoint

import (
	"sync"
	"testing"
	"time"
)

func ptr[T any](v T) *T { return &v }

func TestNew_NormalisesContentBase(t *testing.T) {
	c := New(Settings{
		ListEndpoint:        "https://example.com/list",
		ContentEndpointBase: "https://example.com/raw",
		TTL:                 time.Hour,
	})
	if got := c.Snapshot().ContentEndpointBase; got != "https://example.com/raw/" {
		t.Errorf("content base = %q, want trailing slash", got)
	}
}

func TestDefaults_Valid(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestUpdate_Valid(t *testing.T) {
	c := New(Defaults())
	before := c.Fingerprint()

	err := c.Update(Patch{
		ListEndpoint:         ptr("http://localhost:9000/list"),
		TTL:                  ptr(5 * time.Minute),
		AllowBundledFallback: ptr(false),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := c.Snapshot()
	if s.ListEndpoint != "http://localhost:9000/list" {
		t.Errorf("list endpoint = %q", s.ListEndpoint)
	}
	if c.TTL() != 5*time.Minute {
		t.Errorf("ttl = %v", c.TTL())
	}
	if c.AllowBundledFallback() {
		t.Error("bundled fallback should be disabled")
	}
	if s.ContentEndpointBase != DefaultContentBase {
		t.Errorf("content base changed to %q", s.ContentEndpointBase)
	}
	if c.Fingerprint() == before {
		t.Error("fingerprint should change with the list endpoint")
	}
}

func TestUpdate_InvalidLeavesConfigUntouched(t *testing.T) {
	cases := map[string]Patch{
		"relative url":   {ListEndpoint: ptr("/recipes")},
		"empty list":     {ListEndpoint: ptr("")},
		"ftp scheme":     {ContentEndpointBase: ptr("ftp://example.com/raw/")},
		"zero ttl":       {TTL: ptr(time.Duration(0))},
		"negative ttl":   {TTL: ptr(-time.Second)},
		"partly invalid": {ListEndpoint: ptr("https://ok.example.com"), TTL: ptr(time.Duration(-1))},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			c := New(Defaults())
			want := c.Snapshot()
			if err := c.Update(p); err == nil {
				t.Fatal("expected validation error")
			}
			if got := c.Snapshot(); got != want {
				t.Errorf("settings changed: got %+v, want %+v", got, want)
			}
		})
	}
}

func TestUpdate_EmptyContentBaseAllowed(t *testing.T) {
	c := New(Defaults())
	if err := c.Update(Patch{ContentEndpointBase: ptr("")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.Snapshot().ContentEndpointBase; got != "" {
		t.Errorf("content base = %q, want empty", got)
	}
}

func TestPatch_Empty(t *testing.T) {
	if !(Patch{}).Empty() {
		t.Error("zero patch should be empty")
	}
	if (Patch{TTL: ptr(time.Second)}).Empty() {
		t.Error("patch with TTL should not be empty")
	}
}

func TestConfig_ConcurrentAccess(t *testing.T) {
	c := New(Defaults())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.Update(Patch{TTL: ptr(time.Duration(i+1) * time.Minute)})
		}()
		go func() {
			defer wg.Done()
			_ = c.Fingerprint()
			_ = c.TTL()
		}()
	}
	wg.Wait()
	if c.TTL() <= 0 {
		t.Errorf("ttl = %v, want positive", c.TTL())
	}
}
