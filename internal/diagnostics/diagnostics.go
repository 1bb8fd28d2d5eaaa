// Package diagnostics probes the remote recipe endpoints for troubleshooting.
// It never reads or writes the cache.
package diagnostics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/starford/airules/internal/endpoint"
	"github.com/starford/airules/internal/remote"
)

// Prober is the subset of the remote client diagnostics needs.
// *remote.Client satisfies it.
type Prober interface {
	ListEntries(ctx context.Context) ([]remote.Entry, error)
	FetchContent(ctx context.Context, url string) ([]byte, error)
	Ping(ctx context.Context, url string) (int, error)
	RateLimit() remote.RateLimit
	Authenticated() bool
}

// Probe is the outcome of one reachability check.
type Probe struct {
	URL       string        `json:"url"`
	Reachable bool          `json:"reachable"`
	Status    int           `json:"status,omitempty"`
	Latency   time.Duration `json:"latency"`
	Entries   int           `json:"entries,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Download is the outcome of the end-to-end fetch test.
type Download struct {
	OK      bool          `json:"ok"`
	Name    string        `json:"name,omitempty"`
	Bytes   int           `json:"bytes"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// Report collects every sub-test. Each one runs regardless of the others.
type Report struct {
	List          Probe            `json:"list"`
	Content       Probe            `json:"content"`
	RateLimit     remote.RateLimit `json:"rateLimit"`
	Download      Download         `json:"download"`
	Authenticated bool             `json:"authenticated"`
	CheckedAt     time.Time        `json:"checkedAt"`
}

// OK reports whether listing, content and download all succeeded.
func (r Report) OK() bool {
	return r.List.Reachable && r.Content.Reachable && r.Download.OK
}

// Run executes the probes against the live remote and returns the report.
// The rate limit is only reported when a response during this run carried
// it; a value the client saw earlier is left out.
func Run(ctx context.Context, p Prober, s endpoint.Settings) Report {
	start := time.Now()
	rep := Report{
		CheckedAt:     start.UTC(),
		Authenticated: p.Authenticated(),
	}

	entries := probeList(ctx, p, s.ListEndpoint, &rep.List)

	contentURL := s.ContentEndpointBase
	if len(entries) > 0 {
		contentURL = entries[0].ContentURL
	}
	probeContent(ctx, p, contentURL, &rep.Content)

	rep.Download = download(ctx, p)
	if rl := p.RateLimit(); rl.Observed && !rl.ObservedAt.Before(start) {
		rep.RateLimit = rl
	}
	return rep
}

func probeList(ctx context.Context, p Prober, url string, out *Probe) []remote.Entry {
	out.URL = url
	start := time.Now()
	entries, err := p.ListEntries(ctx)
	out.Latency = time.Since(start)
	if err != nil {
		out.Error = err.Error()
		return nil
	}
	out.Reachable = true
	out.Status = http.StatusOK
	out.Entries = len(entries)
	return entries
}

func probeContent(ctx context.Context, p Prober, url string, out *Probe) {
	out.URL = url
	if url == "" {
		out.Error = "no content URL configured"
		return
	}
	start := time.Now()
	status, err := p.Ping(ctx, url)
	out.Latency = time.Since(start)
	out.Status = status
	if err != nil {
		out.Error = err.Error()
		return
	}
	out.Reachable = status < http.StatusInternalServerError
	if !out.Reachable {
		out.Error = fmt.Sprintf("server error %d", status)
	}
}

// download lists independently of the list probe and fetches the first entry.
func download(ctx context.Context, p Prober) (d Download) {
	start := time.Now()
	defer func() { d.Latency = time.Since(start) }()

	entries, err := p.ListEntries(ctx)
	if err != nil {
		d.Error = err.Error()
		return d
	}
	if len(entries) == 0 {
		d.Error = "listing is empty"
		return d
	}
	d.Name = entries[0].Name
	body, err := p.FetchContent(ctx, entries[0].ContentURL)
	if err != nil {
		d.Error = err.Error()
		return d
	}
	d.OK = true
	d.Bytes = len(body)
	return d
}

// Render writes a human-readable table of the report.
func (r Report) Render(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(name string, ok bool, detail string) {
		mark := "ok"
		if !ok {
			mark = "FAIL"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, mark, detail)
	}

	listDetail := fmt.Sprintf("%s (%d entries, %s)", r.List.URL, r.List.Entries, r.List.Latency.Round(time.Millisecond))
	if r.List.Error != "" {
		listDetail = r.List.URL + ": " + r.List.Error
	}
	row("list endpoint", r.List.Reachable, listDetail)

	contentDetail := fmt.Sprintf("%s (status %d, %s)", r.Content.URL, r.Content.Status, r.Content.Latency.Round(time.Millisecond))
	if r.Content.Error != "" {
		contentDetail = r.Content.URL + ": " + r.Content.Error
	}
	row("content endpoint", r.Content.Reachable, contentDetail)

	dlDetail := fmt.Sprintf("%s (%d bytes, %s)", r.Download.Name, r.Download.Bytes, r.Download.Latency.Round(time.Millisecond))
	if r.Download.Error != "" {
		dlDetail = r.Download.Error
	}
	row("download", r.Download.OK, dlDetail)

	rl := "not reported"
	if r.RateLimit.Observed {
		rl = fmt.Sprintf("%d/%d remaining, resets %s", r.RateLimit.Remaining, r.RateLimit.Limit, r.RateLimit.ResetAt.Local().Format(time.Kitchen))
	}
	fmt.Fprintf(tw, "rate limit\t\t%s\n", rl)
	fmt.Fprintf(tw, "authenticated\t\t%t\n", r.Authenticated)

	return tw.Flush()
}
