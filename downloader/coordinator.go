package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-images/config"
	"github.com/aluiziolira/go-scrape-images/errs"
	"github.com/aluiziolira/go-scrape-images/events"
	"github.com/aluiziolira/go-scrape-images/metrics"
	"github.com/aluiziolira/go-scrape-images/models"
	"github.com/aluiziolira/go-scrape-images/progress"
	"github.com/aluiziolira/go-scrape-images/useragent"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Coordinator runs download batches. Batches may overlap; the shared
// allocator keeps their file names apart.
type Coordinator struct {
	worker        *Worker
	maxConcurrent int
	interval      time.Duration
	sink          events.Sink
	Metrics       *metrics.Metrics

	mu     sync.Mutex
	latest *Batch
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithWorker replaces the worker.
func WithWorker(w *Worker) Option {
	return func(c *Coordinator) {
		c.worker = w
	}
}

// WithSink sets the event sink.
func WithSink(s events.Sink) Option {
	return func(c *Coordinator) {
		c.sink = s
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.Metrics = m
	}
}

// NewCoordinator builds a coordinator configured from cfg.
func NewCoordinator(cfg *config.Config, opts ...Option) (*Coordinator, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	c := &Coordinator{
		maxConcurrent: cfg.MaxConcurrentDownloads,
		interval:      cfg.ProgressInterval,
		sink:          events.Discard,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sink == nil {
		c.sink = events.Discard
	}
	if c.worker == nil {
		allocator, err := NewAllocator(cfg.DirLockCacheSize)
		if err != nil {
			return nil, err
		}
		workerOpts := []WorkerOption{
			WithAllocator(allocator),
			WithChunkSize(cfg.DownloadChunkSize),
			WithWorkerSink(c.sink),
			WithWorkerMetrics(c.Metrics),
		}
		if len(cfg.UserAgents) > 0 {
			workerOpts = append(workerOpts, WithUserAgent(useragent.Random(cfg.UserAgents)))
		}
		if cfg.Enhance {
			workerOpts = append(workerOpts, WithPostProcessor(Enhancer{
				Quality: cfg.EnhanceQuality,
				Scale:   cfg.EnhanceScale,
			}))
		}
		w, err := NewWorker(workerOpts...)
		if err != nil {
			return nil, err
		}
		c.worker = w
	}
	return c, nil
}

// Batch is one download request over a fixed URL list.
type Batch struct {
	ID          string
	Destination string
	URLs        []string
	StartedAt   time.Time

	counter  *progress.Counter
	items    []*progress.Counter
	outcomes []models.DownloadOutcome
	done     chan struct{}
	report   *models.DownloadReport
}

// Progress reports completed items over total items.
func (b *Batch) Progress() progress.Snapshot {
	return b.counter.Snapshot()
}

// ItemProgress reports byte progress for the i-th URL.
func (b *Batch) ItemProgress(i int) progress.Snapshot {
	if i < 0 || i >= len(b.items) {
		return progress.Snapshot{}
	}
	return b.items[i].Snapshot()
}

// Done is closed once every item has finished.
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the batch finishes and returns its report.
func (b *Batch) Wait() *models.DownloadReport {
	<-b.done
	return b.report
}

// Download runs a batch to completion.
func (c *Coordinator) Download(ctx context.Context, urls []string, dir string) (*models.DownloadReport, error) {
	batch, err := c.Start(ctx, urls, dir)
	if err != nil {
		return nil, err
	}
	return batch.Wait(), nil
}

// Start validates the selection and destination and launches one worker per
// URL. Nothing is started when either check fails.
func (c *Coordinator) Start(ctx context.Context, urls []string, dir string) (*Batch, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	selected := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			selected = append(selected, u)
		}
	}
	if len(selected) == 0 {
		err := errs.ErrInvalidInput{Reason: "no images selected"}
		c.reject(err, "Please select at least one image to download.")
		return nil, err
	}
	if err := ValidateDestination(dir); err != nil {
		c.reject(err, "Please select a valid download directory.")
		return nil, err
	}

	batch := &Batch{
		ID:          uuid.NewString(),
		Destination: dir,
		URLs:        selected,
		StartedAt:   time.Now(),
		counter:     progress.NewCounter(),
		items:       make([]*progress.Counter, len(selected)),
		outcomes:    make([]models.DownloadOutcome, len(selected)),
		done:        make(chan struct{}),
	}
	batch.counter.Reset(int64(len(selected)))
	for i := range batch.items {
		batch.items[i] = progress.NewCounter()
	}

	c.mu.Lock()
	c.latest = batch
	c.mu.Unlock()

	slog.Info("download started",
		slog.String("batch", batch.ID),
		slog.Int("images", len(selected)),
		slog.String("destination", dir),
	)
	c.sink.Emit(events.Event{
		Time:      batch.StartedAt,
		Kind:      events.DownloadStarted,
		SessionID: batch.ID,
		Path:      dir,
		Count:     len(selected),
		Progress:  batch.Progress(),
		Message:   fmt.Sprintf("Downloading %d image(s) to %s", len(selected), dir),
	})

	go c.run(ctx, batch)
	return batch, nil
}

// Latest returns the most recently started batch.
func (c *Coordinator) Latest() *Batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}

func (c *Coordinator) reject(err error, status string) {
	c.Metrics.IncError(errs.Label(err))
	slog.Error("download rejected", slog.Any("error", err))
	c.sink.Emit(events.Event{
		Time:    time.Now(),
		Kind:    events.DownloadFailed,
		Err:     err,
		Message: err.Error(),
		Status:  status,
	})
}

func (c *Coordinator) run(ctx context.Context, batch *Batch) {
	reporter := progress.NewReporter(c.interval, batch.Progress, func(u progress.Update) {
		c.sink.Emit(events.Event{
			Time:      time.Now(),
			Kind:      events.DownloadProgress,
			SessionID: batch.ID,
			Progress:  u.Snapshot,
			Remaining: u.Remaining,
			HasETA:    u.HasETA,
			Message:   fmt.Sprintf("Downloaded %d of %d", u.Snapshot.Current, u.Snapshot.Total),
		})
	})
	reporter.Start(batch.StartedAt)

	var g errgroup.Group
	if c.maxConcurrent > 0 {
		g.SetLimit(c.maxConcurrent)
	}
	for i := range batch.URLs {
		g.Go(func() error {
			batch.outcomes[i] = c.downloadOne(ctx, batch, i)
			return nil
		})
	}
	_ = g.Wait()
	reporter.Stop()

	report := &models.DownloadReport{
		BatchID:   batch.ID,
		Outcomes:  batch.outcomes,
		StartTime: batch.StartedAt,
		EndTime:   time.Now(),
	}
	for _, o := range batch.outcomes {
		if o.Status == models.OutcomeSaved {
			report.Saved++
		} else {
			report.Failed++
		}
	}
	batch.report = report

	slog.Info("download finished",
		slog.String("batch", batch.ID),
		slog.Int("saved", report.Saved),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", report.EndTime.Sub(report.StartTime)),
	)
	c.sink.Emit(events.Event{
		Time:      report.EndTime,
		Kind:      events.DownloadFinished,
		SessionID: batch.ID,
		Count:     report.Saved,
		Progress:  batch.Progress(),
		Message:   fmt.Sprintf("Downloaded %d of %d image(s)", report.Saved, len(batch.URLs)),
		Status:    fmt.Sprintf("Downloaded %d of %d image(s)", report.Saved, len(batch.URLs)),
	})
	close(batch.done)
}

func (c *Coordinator) downloadOne(ctx context.Context, batch *Batch, i int) models.DownloadOutcome {
	task := models.DownloadTask{URL: batch.URLs[i], DestinationDir: batch.Destination}
	start := time.Now()

	c.sink.Emit(events.Event{
		Time:      start,
		Kind:      events.DownloadStarted,
		SessionID: batch.ID,
		URL:       task.URL,
		Message:   "Downloading " + task.URL,
	})

	path, n, err := c.worker.Download(ctx, task, batch.items[i])
	outcome := models.DownloadOutcome{
		Task:     task,
		Path:     path,
		Bytes:    n,
		Err:      err,
		Duration: time.Since(start),
	}
	batch.counter.Add(1)

	if err != nil {
		outcome.Status = models.OutcomeFailed
		category := errs.Label(err)
		c.Metrics.IncError(category)
		c.Metrics.ObserveDownload(string(models.OutcomeFailed), 0, outcome.Duration)
		slog.Error("download failed",
			slog.String("batch", batch.ID),
			slog.String("url", task.URL),
			slog.String("category", category),
			slog.Any("error", err),
		)
		msg := fmt.Sprintf("Failed to download %s: %v", task.URL, err)
		c.sink.Emit(events.Event{
			Time:      time.Now(),
			Kind:      events.DownloadFailed,
			SessionID: batch.ID,
			URL:       task.URL,
			Err:       err,
			Progress:  batch.Progress(),
			Message:   msg,
			Status:    msg,
		})
		return outcome
	}

	outcome.Status = models.OutcomeSaved
	c.Metrics.ObserveDownload(string(models.OutcomeSaved), n, outcome.Duration)
	slog.Debug("image saved",
		slog.String("batch", batch.ID),
		slog.String("url", task.URL),
		slog.String("path", path),
		slog.Int64("bytes", n),
	)
	c.sink.Emit(events.Event{
		Time:      time.Now(),
		Kind:      events.DownloadSaved,
		SessionID: batch.ID,
		URL:       task.URL,
		Path:      path,
		Progress:  batch.Progress(),
		Message:   "Saved to " + path,
		Status:    "Downloaded: " + filepath.Base(path),
	})
	return outcome
}
