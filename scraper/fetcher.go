package scraper

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/aluiziolira/go-scrape-images/errs"
	"github.com/aluiziolira/go-scrape-images/metrics"
	"github.com/aluiziolira/go-scrape-images/progress"
	"github.com/aluiziolira/go-scrape-images/useragent"
	"github.com/gocolly/colly/v2"
)

const (
	// DefaultFetchTimeout bounds a whole page fetch, body included.
	DefaultFetchTimeout = 10 * time.Second
	// DefaultChunkSize is the largest read handed to the progress counter.
	DefaultChunkSize = 8 * 1024
)

// Page is a fetched page body.
type Page struct {
	URL        string
	FinalURL   *url.URL
	StatusCode int
	Body       []byte
}

// Fetcher retrieves one page, reporting body progress into counter.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string, counter *progress.Counter) (*Page, error)
}

// PageFetcher fetches pages through a colly collector whose transport streams
// the body in bounded chunks and records progress.
type PageFetcher struct {
	transport http.RoundTripper
	timeout   time.Duration
	chunkSize int
	userAgent useragent.Func
	metrics   *metrics.Metrics
}

// FetcherOption configures a PageFetcher.
type FetcherOption func(*PageFetcher)

// WithTimeout sets the per-fetch timeout.
func WithTimeout(d time.Duration) FetcherOption {
	return func(f *PageFetcher) {
		f.timeout = d
	}
}

// WithChunkSize sets the streaming chunk size.
func WithChunkSize(n int) FetcherOption {
	return func(f *PageFetcher) {
		f.chunkSize = n
	}
}

// WithUserAgent sets the User-Agent strategy.
func WithUserAgent(ua useragent.Func) FetcherOption {
	return func(f *PageFetcher) {
		f.userAgent = ua
	}
}

// WithTransport replaces the underlying round tripper.
func WithTransport(rt http.RoundTripper) FetcherOption {
	return func(f *PageFetcher) {
		f.transport = rt
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) FetcherOption {
	return func(f *PageFetcher) {
		f.metrics = m
	}
}

// NewPageFetcher builds a fetcher with a pooled transport shared by all fetches.
func NewPageFetcher(opts ...FetcherOption) *PageFetcher {
	f := &PageFetcher{
		timeout:   DefaultFetchTimeout,
		chunkSize: DefaultChunkSize,
		userAgent: useragent.Random(nil),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.transport == nil {
		f.transport = NewTransport(f.timeout)
	}
	if f.chunkSize <= 0 {
		f.chunkSize = DefaultChunkSize
	}
	if f.userAgent == nil {
		f.userAgent = useragent.Random(nil)
	}
	return f
}

// NewTransport returns the pooled transport used for page and image requests.
func NewTransport(timeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// Fetch retrieves pageURL. A non-2xx status yields errs.ErrHTTP and a transport
// failure yields errs.ErrNetwork.
func (f *PageFetcher) Fetch(ctx context.Context, pageURL string, counter *progress.Counter) (*Page, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if counter == nil {
		counter = progress.NewCounter()
	}

	collector := colly.NewCollector(
		colly.MaxBodySize(0),
		colly.ParseHTTPErrorResponse(),
	)
	collector.SetRequestTimeout(f.timeout)
	collector.WithTransport(&progressTransport{
		base:      f.transport,
		ctx:       ctx,
		counter:   counter,
		chunkSize: f.chunkSize,
		metrics:   f.metrics,
	})

	var (
		page     *Page
		fetchErr error
		status   int
	)

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", f.userAgent())
		f.metrics.IncRequest("started")
	})

	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		page = &Page{
			URL:        pageURL,
			FinalURL:   r.Request.URL,
			StatusCode: r.StatusCode,
			Body:       r.Body,
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	start := time.Now()
	visitErr := collector.Visit(pageURL)
	f.metrics.ObserveDuration(time.Since(start))

	if fetchErr == nil {
		fetchErr = visitErr
	}
	if fetchErr != nil {
		f.metrics.IncRequest("failed")
		return nil, errs.Classify(pageURL, fetchErr, status)
	}
	if page == nil {
		f.metrics.IncRequest("failed")
		return nil, errs.ErrNetwork{URL: pageURL, Err: io.ErrUnexpectedEOF}
	}
	if page.StatusCode < 200 || page.StatusCode >= 300 {
		f.metrics.IncRequest("failed")
		return nil, errs.ErrHTTP{URL: pageURL, StatusCode: page.StatusCode}
	}

	f.metrics.IncRequest("completed")
	return page, nil
}

// progressTransport initialises the counter from the declared content length of
// the final response and advances it as the body is read.
type progressTransport struct {
	base      http.RoundTripper
	ctx       context.Context
	counter   *progress.Counter
	chunkSize int
	metrics   *metrics.Metrics
}

func (t *progressTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// The client's own timeout lives on req's context; cancellation of the
	// fetch context is layered on top of it.
	ctx, cancel := context.WithCancel(req.Context())
	stop := context.AfterFunc(t.ctx, cancel)
	release := func() {
		stop()
		cancel()
	}

	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	if err != nil {
		release()
		if cause := t.ctx.Err(); cause != nil {
			return nil, cause
		}
		return nil, err
	}
	if isRedirect(resp) {
		resp.Body = &releaseBody{ReadCloser: resp.Body, release: release}
		return resp, nil
	}

	determinate := resp.ContentLength > 0
	if determinate {
		t.counter.Reset(resp.ContentLength)
	} else {
		t.counter.Reset(0)
	}
	resp.Body = &chunkedBody{
		releaseBody: releaseBody{ReadCloser: resp.Body, release: release},
		counter:     t.counter,
		chunkSize:   t.chunkSize,
		determinate: determinate,
		metrics:     t.metrics,
	}
	return resp, nil
}

func isRedirect(resp *http.Response) bool {
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return resp.Header.Get("Location") != ""
	}
	return false
}

type releaseBody struct {
	io.ReadCloser
	release func()
}

func (b *releaseBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}

type chunkedBody struct {
	releaseBody
	counter     *progress.Counter
	chunkSize   int
	determinate bool
	metrics     *metrics.Metrics
}

func (b *chunkedBody) Read(p []byte) (int, error) {
	if len(p) > b.chunkSize {
		p = p[:b.chunkSize]
	}
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		if b.determinate {
			b.counter.Add(int64(n))
		}
		b.metrics.AddBytes(n)
	}
	return n, err
}
