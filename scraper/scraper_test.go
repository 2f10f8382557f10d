package scraper

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-images/config"
	"github.com/aluiziolira/go-scrape-images/errs"
	"github.com/aluiziolira/go-scrape-images/events"
	"github.com/aluiziolira/go-scrape-images/progress"
	"github.com/aluiziolira/go-scrape-images/useragent"
	"github.com/jarcoal/httpmock"
)

func htmlResponder(body string) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusOK, body)
		resp.Header.Set("Content-Type", "text/html; charset=utf-8")
		resp.ContentLength = int64(len(body))
		resp.Request = req
		return resp, nil
	}
}

func newTestCoordinator(t *testing.T, transport *httpmock.MockTransport, parallelism int, sink events.Sink) *Coordinator {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Parallelism = parallelism
	cfg.ProgressInterval = 0
	fetcher := NewPageFetcher(
		WithTransport(transport),
		WithUserAgent(useragent.Fixed("test-agent")),
	)
	return NewCoordinator(cfg, WithFetcher(fetcher), WithSink(sink))
}

func TestNormalizeSeeds(t *testing.T) {
	tests := []struct {
		name    string
		seeds   []string
		want    []string
		wantErr bool
	}{
		{name: "trims and drops blanks", seeds: []string{"  https://a.test/x ", "", "   "}, want: []string{"https://a.test/x"}},
		{name: "drops exact duplicates", seeds: []string{"https://a.test/x", "https://a.test/x", "https://a.test/y"}, want: []string{"https://a.test/x", "https://a.test/y"}},
		{name: "empty list", seeds: nil, wantErr: true},
		{name: "only blanks", seeds: []string{" ", "\t"}, wantErr: true},
		{name: "relative url", seeds: []string{"/gallery"}, wantErr: true},
		{name: "unsupported scheme", seeds: []string{"ftp://a.test/x"}, wantErr: true},
		{name: "malformed", seeds: []string{"http://[::1"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeSeeds(tt.seeds)
			if tt.wantErr {
				var invalid errs.ErrInvalidInput
				if !errors.As(err, &invalid) {
					t.Fatalf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("NormalizeSeeds() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFetchSetsUserAgentAndTracksProgress(t *testing.T) {
	transport := httpmock.NewMockTransport()
	body := strings.Repeat("<p>gallery</p>", 2000)
	var gotAgent string
	transport.RegisterResponder("GET", "https://example.com/gallery",
		func(req *http.Request) (*http.Response, error) {
			gotAgent = req.Header.Get("User-Agent")
			return htmlResponder(body)(req)
		})

	fetcher := NewPageFetcher(WithTransport(transport), WithUserAgent(useragent.Fixed("test-agent")))
	counter := progress.NewCounter()

	page, err := fetcher.Fetch(context.Background(), "https://example.com/gallery", counter)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotAgent != "test-agent" {
		t.Fatalf("User-Agent = %q, want test-agent", gotAgent)
	}
	if string(page.Body) != body {
		t.Fatalf("body length = %d, want %d", len(page.Body), len(body))
	}

	snap := counter.Snapshot()
	if snap.Mode != progress.Determinate {
		t.Fatalf("mode = %v, want determinate", snap.Mode)
	}
	if snap.Current != int64(len(body)) || snap.Total != int64(len(body)) {
		t.Fatalf("progress = %d/%d, want %d/%d", snap.Current, snap.Total, len(body), len(body))
	}
}

func TestFetchWithoutContentLengthIsIndeterminate(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://example.com/stream",
		func(req *http.Request) (*http.Response, error) {
			resp := httpmock.NewStringResponse(http.StatusOK, `<img src="a.png">`)
			resp.ContentLength = -1
			return resp, nil
		})

	fetcher := NewPageFetcher(WithTransport(transport))
	counter := progress.NewCounter()
	if _, err := fetcher.Fetch(context.Background(), "https://example.com/stream", counter); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	snap := counter.Snapshot()
	if snap.Mode != progress.Indeterminate || snap.Current != 0 {
		t.Fatalf("snapshot = %+v, want indeterminate with no progress", snap)
	}
}

func TestFetchErrors(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://example.com/missing",
		httpmock.NewStringResponder(http.StatusNotFound, "not here"))
	transport.RegisterResponder("GET", "https://example.com/down",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	fetcher := NewPageFetcher(WithTransport(transport))

	_, err := fetcher.Fetch(context.Background(), "https://example.com/missing", nil)
	var httpErr errs.ErrHTTP
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected ErrHTTP 404, got %v", err)
	}

	_, err = fetcher.Fetch(context.Background(), "https://example.com/down", nil)
	var netErr errs.ErrNetwork
	if !errors.As(err, &netErr) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}

func TestScrapePartialFailure(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://a.test/one",
		htmlResponder(`<img src="/img/a.png"><img data-src="b.jpg">`))
	transport.RegisterResponder("GET", "https://a.test/two",
		httpmock.NewStringResponder(http.StatusNotFound, "gone"))
	transport.RegisterResponder("GET", "https://a.test/three",
		htmlResponder(`<img src="https://cdn.test/c.webp">`))

	recorder := &events.Recorder{}
	c := newTestCoordinator(t, transport, 3, recorder)

	result, err := c.Scrape(context.Background(), []string{"https://a.test/one", "https://a.test/two", "https://a.test/three"})
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}

	want := []string{"https://a.test/img/a.png", "https://a.test/b.jpg", "https://cdn.test/c.webp"}
	if got := result.URLs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("candidates = %v, want %v", got, want)
	}
	if len(result.FailedSeeds) != 1 || result.FailedSeeds[0].URL != "https://a.test/two" {
		t.Fatalf("failed seeds = %+v", result.FailedSeeds)
	}
	if result.ErrorsByType["not_found"] != 1 {
		t.Fatalf("errors by type = %v", result.ErrorsByType)
	}

	if failed := recorder.OfKind(events.SeedFailed); len(failed) != 1 || failed[0].URL != "https://a.test/two" {
		t.Fatalf("seed failed events = %+v", failed)
	}
	finished := recorder.OfKind(events.ScrapeFinished)
	if len(finished) != 1 {
		t.Fatalf("expected one finished event, got %d", len(finished))
	}
	if finished[0].Status != "Found 3 images." {
		t.Fatalf("status = %q", finished[0].Status)
	}
}

func TestScrapeDeduplicatesAcrossSeedsInSeedOrder(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://a.test/one",
		func(req *http.Request) (*http.Response, error) {
			time.Sleep(20 * time.Millisecond)
			return htmlResponder(`<img src="https://cdn.test/shared.png"><img src="https://cdn.test/one.jpg">`)(req)
		})
	transport.RegisterResponder("GET", "https://a.test/two",
		htmlResponder(`<img src="https://cdn.test/two.gif"><img src="https://cdn.test/shared.png">`))

	want := []string{"https://cdn.test/shared.png", "https://cdn.test/one.jpg", "https://cdn.test/two.gif"}
	for _, parallelism := range []int{1, 2} {
		c := newTestCoordinator(t, transport, parallelism, nil)
		result, err := c.Scrape(context.Background(), []string{"https://a.test/one", "https://a.test/two"})
		if err != nil {
			t.Fatalf("parallelism %d: scrape: %v", parallelism, err)
		}
		if got := result.URLs(); !reflect.DeepEqual(got, want) {
			t.Fatalf("parallelism %d: candidates = %v, want %v", parallelism, got, want)
		}
	}
}

func TestScrapeRejectsConcurrentStart(t *testing.T) {
	transport := httpmock.NewMockTransport()
	release := make(chan struct{})
	transport.RegisterResponder("GET", "https://a.test/slow",
		func(req *http.Request) (*http.Response, error) {
			<-release
			return htmlResponder(`<img src="x.png">`)(req)
		})

	c := newTestCoordinator(t, transport, 1, nil)
	session, err := c.Start(context.Background(), []string{"https://a.test/slow"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if c.Active() != session {
		t.Fatalf("expected active session")
	}

	if _, err := c.Start(context.Background(), []string{"https://a.test/slow"}); !errors.Is(err, errs.ErrAlreadyScraping) {
		t.Fatalf("expected ErrAlreadyScraping, got %v", err)
	}

	close(release)
	result := session.Wait()
	if len(result.Candidates) != 1 {
		t.Fatalf("candidates = %v", result.URLs())
	}
	if c.Active() != nil {
		t.Fatalf("coordinator should be idle after completion")
	}

	if _, err := c.Scrape(context.Background(), []string{"https://a.test/slow"}); err != nil {
		t.Fatalf("scrape after completion: %v", err)
	}
}

func TestScrapeIsIdempotent(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://a.test/page",
		htmlResponder(`<img src="a.png"><img src="b.jpeg"><img src="a.png">`))

	c := newTestCoordinator(t, transport, 2, nil)
	first, err := c.Scrape(context.Background(), []string{"https://a.test/page"})
	if err != nil {
		t.Fatalf("first scrape: %v", err)
	}
	second, err := c.Scrape(context.Background(), []string{"https://a.test/page"})
	if err != nil {
		t.Fatalf("second scrape: %v", err)
	}
	if !reflect.DeepEqual(first.URLs(), second.URLs()) {
		t.Fatalf("results differ: %v vs %v", first.URLs(), second.URLs())
	}
	if got := c.Candidates(); !reflect.DeepEqual(got, second.URLs()) {
		t.Fatalf("Candidates() = %v, want %v", got, second.URLs())
	}
	if len(second.URLs()) != 2 {
		t.Fatalf("expected two unique candidates, got %v", second.URLs())
	}
}

func TestScrapeInvalidInputStartsNothing(t *testing.T) {
	transport := httpmock.NewMockTransport()
	c := newTestCoordinator(t, transport, 1, nil)

	_, err := c.Start(context.Background(), []string{"", "  "})
	var invalid errs.ErrInvalidInput
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if c.Active() != nil {
		t.Fatalf("no session should be active")
	}
	if transport.GetTotalCallCount() != 0 {
		t.Fatalf("no request should be issued")
	}
}

func TestSessionProgressReachesTotal(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://a.test/one", htmlResponder(`<img src="a.png">`))
	transport.RegisterResponder("GET", "https://a.test/two", htmlResponder(`<img src="b.png">`))

	c := newTestCoordinator(t, transport, 2, nil)
	session, err := c.Start(context.Background(), []string{"https://a.test/one", "https://a.test/two"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	session.Wait()

	snap := session.Progress()
	if snap.Mode != progress.Determinate || snap.Current != snap.Total || snap.Total == 0 {
		t.Fatalf("final snapshot = %+v, want complete determinate", snap)
	}
}
