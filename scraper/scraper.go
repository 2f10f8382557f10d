package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-images/config"
	"github.com/aluiziolira/go-scrape-images/errs"
	"github.com/aluiziolira/go-scrape-images/events"
	"github.com/aluiziolira/go-scrape-images/metrics"
	"github.com/aluiziolira/go-scrape-images/models"
	"github.com/aluiziolira/go-scrape-images/parser"
	"github.com/aluiziolira/go-scrape-images/progress"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Coordinator fans a seed list out to the page fetcher and merges the
// extracted candidates. Only one session runs at a time.
type Coordinator struct {
	fetcher     Fetcher
	parallelism int
	interval    time.Duration
	sink        events.Sink
	Metrics     *metrics.Metrics

	mu     sync.Mutex
	active *Session
	last   *models.ScrapeResult
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithFetcher replaces the page fetcher.
func WithFetcher(f Fetcher) Option {
	return func(c *Coordinator) {
		c.fetcher = f
	}
}

// WithSink sets the event sink.
func WithSink(s events.Sink) Option {
	return func(c *Coordinator) {
		c.sink = s
	}
}

// WithCoordinatorMetrics attaches Prometheus collectors.
func WithCoordinatorMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.Metrics = m
	}
}

// NewCoordinator builds a coordinator configured from cfg.
func NewCoordinator(cfg *config.Config, opts ...Option) *Coordinator {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	c := &Coordinator{
		parallelism: cfg.Parallelism,
		interval:    cfg.ProgressInterval,
		sink:        events.Discard,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.parallelism <= 0 {
		c.parallelism = 1
	}
	if c.sink == nil {
		c.sink = events.Discard
	}
	if c.fetcher == nil {
		c.fetcher = NewPageFetcher(
			WithTimeout(cfg.Timeout),
			WithChunkSize(cfg.FetchChunkSize),
			WithMetrics(c.Metrics),
		)
	}
	return c
}

// Session is one scrape over a fixed seed list.
type Session struct {
	ID        string
	Seeds     []string
	StartedAt time.Time

	counters []*progress.Counter
	slots    []seedResult
	done     chan struct{}
	result   *models.ScrapeResult
}

type seedResult struct {
	candidates []*models.Candidate
	bytes      int64
	err        error
}

// Progress aggregates the per-seed counters.
func (s *Session) Progress() progress.Snapshot {
	return progress.Aggregate(s.counters)
}

// Done is closed once the session has finished.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session finishes and returns its result.
func (s *Session) Wait() *models.ScrapeResult {
	<-s.done
	return s.result
}

// Scrape runs a session to completion.
func (c *Coordinator) Scrape(ctx context.Context, seeds []string) (*models.ScrapeResult, error) {
	session, err := c.Start(ctx, seeds)
	if err != nil {
		return nil, err
	}
	return session.Wait(), nil
}

// Start validates seeds and launches a session in the background. It returns
// errs.ErrAlreadyScraping while another session is running.
func (c *Coordinator) Start(ctx context.Context, seeds []string) (*Session, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	normalized, err := NormalizeSeeds(seeds)
	if err != nil {
		c.Metrics.IncError(errs.Label(err))
		c.sink.Emit(events.Event{
			Time:    time.Now(),
			Kind:    events.SeedFailed,
			Err:     err,
			Message: err.Error(),
			Status:  "Please provide at least one valid URL.",
		})
		return nil, err
	}

	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		c.Metrics.IncError(errs.Label(errs.ErrAlreadyScraping))
		return nil, errs.ErrAlreadyScraping
	}
	session := &Session{
		ID:        uuid.NewString(),
		Seeds:     normalized,
		StartedAt: time.Now(),
		counters:  make([]*progress.Counter, len(normalized)),
		slots:     make([]seedResult, len(normalized)),
		done:      make(chan struct{}),
	}
	for i := range session.counters {
		session.counters[i] = progress.NewCounter()
	}
	c.active = session
	c.mu.Unlock()

	c.Metrics.SetScraping(true)
	slog.Info("scrape started",
		slog.String("session", session.ID),
		slog.Int("seeds", len(normalized)),
		slog.Int("parallelism", c.parallelism),
	)
	c.sink.Emit(events.Event{
		Time:      session.StartedAt,
		Kind:      events.ScrapeStarted,
		SessionID: session.ID,
		Count:     len(normalized),
		Message:   fmt.Sprintf("Scraping %d page(s)", len(normalized)),
		Status:    "Scraping...",
	})

	go c.run(ctx, session)
	return session, nil
}

// Active returns the running session, or nil when idle.
func (c *Coordinator) Active() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Candidates returns the candidate URLs of the last finished session.
func (c *Coordinator) Candidates() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return nil
	}
	return c.last.URLs()
}

// LastResult returns the result of the last finished session.
func (c *Coordinator) LastResult() *models.ScrapeResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *Coordinator) run(ctx context.Context, session *Session) {
	reporter := progress.NewReporter(c.interval, session.Progress, func(u progress.Update) {
		eta := "N/A"
		if u.HasETA {
			eta = u.Remaining.Round(time.Second).String()
		}
		c.sink.Emit(events.Event{
			Time:      time.Now(),
			Kind:      events.ScrapeProgress,
			SessionID: session.ID,
			Progress:  u.Snapshot,
			Remaining: u.Remaining,
			HasETA:    u.HasETA,
			Message:   "Estimated time: " + eta,
		})
	})
	reporter.Start(session.StartedAt)

	var g errgroup.Group
	g.SetLimit(c.parallelism)
	for i := range session.Seeds {
		g.Go(func() error {
			session.slots[i] = c.scrapeSeed(ctx, session, i)
			return nil
		})
	}
	_ = g.Wait()
	reporter.Stop()

	result := c.merge(session)
	session.result = result

	c.mu.Lock()
	c.last = result
	c.active = nil
	c.mu.Unlock()
	c.Metrics.SetScraping(false)

	failed := make([]string, 0, len(result.FailedSeeds))
	for _, f := range result.FailedSeeds {
		failed = append(failed, f.URL)
	}
	slog.Info("scrape finished",
		slog.String("session", session.ID),
		slog.Int("candidates", len(result.Candidates)),
		slog.Int("failed_seeds", len(failed)),
		slog.Duration("duration", result.EndTime.Sub(result.StartTime)),
	)
	c.sink.Emit(events.Event{
		Time:        result.EndTime,
		Kind:        events.ScrapeFinished,
		SessionID:   session.ID,
		Count:       len(result.Candidates),
		Message:     fmt.Sprintf("Found %d images.", len(result.Candidates)),
		Status:      fmt.Sprintf("Found %d images.", len(result.Candidates)),
		Candidates:  result.URLs(),
		FailedSeeds: failed,
	})
	close(session.done)
}

func (c *Coordinator) scrapeSeed(ctx context.Context, session *Session, idx int) seedResult {
	seed := session.Seeds[idx]

	page, err := c.fetcher.Fetch(ctx, seed, session.counters[idx])
	if err != nil {
		c.seedFailed(session, seed, err)
		return seedResult{err: err}
	}

	base := page.FinalURL
	if base == nil {
		base, _ = url.Parse(seed)
	}
	urls, err := parser.ExtractImages(page.Body, base)
	if err != nil {
		err = errs.ErrParse{URL: seed, Err: err}
		c.seedFailed(session, seed, err)
		return seedResult{err: err, bytes: int64(len(page.Body))}
	}

	now := time.Now()
	candidates := make([]*models.Candidate, 0, len(urls))
	for _, u := range urls {
		candidates = append(candidates, &models.Candidate{
			URL:          u,
			PageURL:      seed,
			DiscoveredAt: now,
		})
	}
	c.Metrics.AddImages(len(candidates))

	slog.Debug("seed scraped",
		slog.String("session", session.ID),
		slog.String("url", seed),
		slog.Int("images", len(candidates)),
		slog.Int("bytes", len(page.Body)),
	)
	c.sink.Emit(events.Event{
		Time:      now,
		Kind:      events.SeedFetched,
		SessionID: session.ID,
		URL:       seed,
		Count:     len(candidates),
		Message:   fmt.Sprintf("Scraped %s: %d image(s)", seed, len(candidates)),
	})
	return seedResult{candidates: candidates, bytes: int64(len(page.Body))}
}

func (c *Coordinator) seedFailed(session *Session, seed string, err error) {
	category := errs.Label(err)
	c.Metrics.IncError(category)
	slog.Error("seed failed",
		slog.String("session", session.ID),
		slog.String("url", seed),
		slog.String("category", category),
		slog.Any("error", err),
	)
	c.sink.Emit(events.Event{
		Time:      time.Now(),
		Kind:      events.SeedFailed,
		SessionID: session.ID,
		URL:       seed,
		Err:       err,
		Message:   fmt.Sprintf("Failed to scrape %s: %v", seed, err),
	})
}

// merge walks the slots in seed order so the candidate list does not depend
// on completion order.
func (c *Coordinator) merge(session *Session) *models.ScrapeResult {
	result := &models.ScrapeResult{
		SessionID:    session.ID,
		Seeds:        session.Seeds,
		Candidates:   []*models.Candidate{},
		StartTime:    session.StartedAt,
		EndTime:      time.Now(),
		ErrorsByType: make(map[string]int),
	}

	seen := make(map[string]struct{})
	for i, slot := range session.slots {
		result.BytesFetched += slot.bytes
		if slot.err != nil {
			result.FailedSeeds = append(result.FailedSeeds, models.SeedError{URL: session.Seeds[i], Err: slot.err})
			result.ErrorsByType[errs.Label(slot.err)]++
			continue
		}
		for _, candidate := range slot.candidates {
			if _, dup := seen[candidate.URL]; dup {
				continue
			}
			seen[candidate.URL] = struct{}{}
			result.Candidates = append(result.Candidates, candidate)
		}
	}
	return result
}

// NormalizeSeeds trims seeds, drops blanks and exact duplicates, and rejects
// anything that is not an absolute http(s) URL.
func NormalizeSeeds(seeds []string) ([]string, error) {
	out := make([]string, 0, len(seeds))
	seen := make(map[string]struct{}, len(seeds))
	for _, raw := range seeds {
		seed := strings.TrimSpace(raw)
		if seed == "" {
			continue
		}
		if _, dup := seen[seed]; dup {
			continue
		}
		u, err := url.Parse(seed)
		if err != nil {
			return nil, errs.ErrInvalidInput{Reason: fmt.Sprintf("malformed url %q", seed), Err: err}
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, errs.ErrInvalidInput{Reason: fmt.Sprintf("not an absolute http(s) url: %q", seed)}
		}
		seen[seed] = struct{}{}
		out = append(out, seed)
	}
	if len(out) == 0 {
		return nil, errs.ErrInvalidInput{Reason: "no seed urls"}
	}
	return out, nil
}
