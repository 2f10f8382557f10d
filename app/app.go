// Package app wires the scrape and download coordinators behind the three
// operations a front end needs: start a scrape, poll progress, start a download.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/aluiziolira/go-scrape-images/config"
	"github.com/aluiziolira/go-scrape-images/downloader"
	"github.com/aluiziolira/go-scrape-images/events"
	"github.com/aluiziolira/go-scrape-images/metrics"
	"github.com/aluiziolira/go-scrape-images/progress"
	"github.com/aluiziolira/go-scrape-images/scraper"
	"github.com/aluiziolira/go-scrape-images/useragent"
)

// Deps are optional collaborators. Zero values get defaults.
type Deps struct {
	Sink      events.Sink
	Metrics   *metrics.Metrics
	Transport http.RoundTripper
	UserAgent useragent.Func
}

// App is the front-end facing surface.
type App struct {
	Scraper    *scraper.Coordinator
	Downloader *downloader.Coordinator
	Metrics    *metrics.Metrics
}

// Progress is a point-in-time view of the active scrape and latest download.
type Progress struct {
	Scraping        bool
	Scrape          progress.Snapshot
	ScrapeRemaining time.Duration
	ScrapeHasETA    bool

	Downloading       bool
	Download          progress.Snapshot
	DownloadRemaining time.Duration
	DownloadHasETA    bool
}

// New builds an App from cfg. Page and image requests share one transport.
func New(cfg *config.Config, deps Deps) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Sink == nil {
		deps.Sink = events.Discard
	}
	if deps.Transport == nil {
		deps.Transport = scraper.NewTransport(cfg.Timeout)
	}
	if deps.UserAgent == nil {
		deps.UserAgent = useragent.Random(cfg.UserAgents)
	}

	fetcher := scraper.NewPageFetcher(
		scraper.WithTransport(deps.Transport),
		scraper.WithTimeout(cfg.Timeout),
		scraper.WithChunkSize(cfg.FetchChunkSize),
		scraper.WithUserAgent(deps.UserAgent),
		scraper.WithMetrics(deps.Metrics),
	)
	scrapeCoord := scraper.NewCoordinator(cfg,
		scraper.WithFetcher(fetcher),
		scraper.WithSink(deps.Sink),
		scraper.WithCoordinatorMetrics(deps.Metrics),
	)

	allocator, err := downloader.NewAllocator(cfg.DirLockCacheSize)
	if err != nil {
		return nil, err
	}
	workerOpts := []downloader.WorkerOption{
		downloader.WithHTTPClient(&http.Client{Transport: deps.Transport, Timeout: cfg.Timeout}),
		downloader.WithUserAgent(deps.UserAgent),
		downloader.WithChunkSize(cfg.DownloadChunkSize),
		downloader.WithAllocator(allocator),
		downloader.WithWorkerSink(deps.Sink),
		downloader.WithWorkerMetrics(deps.Metrics),
	}
	if cfg.Enhance {
		workerOpts = append(workerOpts, downloader.WithPostProcessor(downloader.Enhancer{
			Quality: cfg.EnhanceQuality,
			Scale:   cfg.EnhanceScale,
		}))
	}
	worker, err := downloader.NewWorker(workerOpts...)
	if err != nil {
		return nil, err
	}
	downloadCoord, err := downloader.NewCoordinator(cfg,
		downloader.WithWorker(worker),
		downloader.WithSink(deps.Sink),
		downloader.WithMetrics(deps.Metrics),
	)
	if err != nil {
		return nil, err
	}

	return &App{
		Scraper:    scrapeCoord,
		Downloader: downloadCoord,
		Metrics:    deps.Metrics,
	}, nil
}

// StartScrape launches a scrape over seeds. It fails with
// errs.ErrAlreadyScraping while another scrape is running.
func (a *App) StartScrape(ctx context.Context, seeds []string) (*scraper.Session, error) {
	return a.Scraper.Start(ctx, seeds)
}

// StartDownload launches a download of urls into dir. An empty dir is
// rejected with errs.ErrInvalidDestination.
func (a *App) StartDownload(ctx context.Context, urls []string, dir string) (*downloader.Batch, error) {
	return a.Downloader.Start(ctx, urls, dir)
}

// Candidates returns the image URLs found by the last finished scrape.
func (a *App) Candidates() []string {
	return a.Scraper.Candidates()
}

// ProgressSnapshot reports progress of the active scrape and the most recent
// download batch.
func (a *App) ProgressSnapshot() Progress {
	var p Progress
	now := time.Now()

	if session := a.Scraper.Active(); session != nil {
		p.Scraping = true
		p.Scrape = session.Progress()
		p.ScrapeRemaining, p.ScrapeHasETA = progress.EstimateRemaining(now.Sub(session.StartedAt), p.Scrape)
	}

	if batch := a.Downloader.Latest(); batch != nil {
		p.Download = batch.Progress()
		select {
		case <-batch.Done():
		default:
			p.Downloading = true
		}
		p.DownloadRemaining, p.DownloadHasETA = progress.EstimateRemaining(now.Sub(batch.StartedAt), p.Download)
	}
	return p
}
