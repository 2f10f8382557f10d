package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/aluiziolira/go-scrape-images/errs"
	"github.com/aluiziolira/go-scrape-images/events"
	"github.com/aluiziolira/go-scrape-images/metrics"
	"github.com/aluiziolira/go-scrape-images/models"
	"github.com/aluiziolira/go-scrape-images/progress"
	"github.com/aluiziolira/go-scrape-images/useragent"
)

const (
	// DefaultTimeout bounds a single image download.
	DefaultTimeout = 10 * time.Second
	// DefaultChunkSize is the read/write unit while streaming to disk.
	DefaultChunkSize = 1024
)

// PostProcessor runs on a saved file. Its failure never changes the outcome of
// the download.
type PostProcessor interface {
	Process(path string) error
}

// PostProcessorFunc adapts a function to PostProcessor.
type PostProcessorFunc func(path string) error

// Process calls f(path).
func (f PostProcessorFunc) Process(path string) error {
	return f(path)
}

// Worker downloads one image to disk.
type Worker struct {
	client    *http.Client
	userAgent useragent.Func
	chunkSize int
	allocator *Allocator
	post      PostProcessor
	sink      events.Sink
	metrics   *metrics.Metrics

	// output wraps the allocated file before the body is streamed into it.
	output func(f *os.File) io.Writer
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) WorkerOption {
	return func(w *Worker) {
		w.client = client
	}
}

// WithUserAgent sets the User-Agent strategy.
func WithUserAgent(ua useragent.Func) WorkerOption {
	return func(w *Worker) {
		w.userAgent = ua
	}
}

// WithChunkSize sets the streaming chunk size.
func WithChunkSize(n int) WorkerOption {
	return func(w *Worker) {
		w.chunkSize = n
	}
}

// WithAllocator shares a filename allocator between workers.
func WithAllocator(a *Allocator) WorkerOption {
	return func(w *Worker) {
		w.allocator = a
	}
}

// WithPostProcessor installs a hook run after each saved file.
func WithPostProcessor(p PostProcessor) WorkerOption {
	return func(w *Worker) {
		w.post = p
	}
}

// WithWorkerSink sets the sink for post-process failures.
func WithWorkerSink(s events.Sink) WorkerOption {
	return func(w *Worker) {
		w.sink = s
	}
}

// WithWorkerMetrics attaches Prometheus collectors.
func WithWorkerMetrics(m *metrics.Metrics) WorkerOption {
	return func(w *Worker) {
		w.metrics = m
	}
}

// NewWorker builds a worker. Without an explicit client it uses a 10s timeout.
func NewWorker(opts ...WorkerOption) (*Worker, error) {
	w := &Worker{
		chunkSize: DefaultChunkSize,
		sink:      events.Discard,
		output:    func(f *os.File) io.Writer { return f },
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.client == nil {
		w.client = &http.Client{Timeout: DefaultTimeout}
	}
	if w.userAgent == nil {
		w.userAgent = useragent.Random(nil)
	}
	if w.chunkSize <= 0 {
		w.chunkSize = DefaultChunkSize
	}
	if w.sink == nil {
		w.sink = events.Discard
	}
	if w.allocator == nil {
		a, err := NewAllocator(DefaultLockCacheSize)
		if err != nil {
			return nil, err
		}
		w.allocator = a
	}
	return w, nil
}

// Download fetches task.URL into task.DestinationDir and returns the saved
// path and byte count. counter, when non-nil, tracks body bytes.
func (w *Worker) Download(ctx context.Context, task models.DownloadTask, counter *progress.Counter) (string, int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if counter == nil {
		counter = progress.NewCounter()
	}

	if err := ValidateDestination(task.DestinationDir); err != nil {
		return "", 0, err
	}

	u, err := url.Parse(task.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", 0, errs.ErrInvalidInput{Reason: fmt.Sprintf("not an absolute http(s) url: %q", task.URL), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return "", 0, errs.ErrInvalidInput{Reason: "build request", Err: err}
	}
	req.Header.Set("User-Agent", w.userAgent())

	resp, err := w.client.Do(req)
	if err != nil {
		return "", 0, errs.Classify(task.URL, err, 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return "", 0, errs.ErrHTTP{URL: task.URL, StatusCode: resp.StatusCode}
	}

	if resp.ContentLength > 0 {
		counter.Reset(resp.ContentLength)
	} else {
		counter.Reset(0)
	}

	f, path, err := w.allocator.Create(task.DestinationDir, FileName(task.URL))
	if err != nil {
		return "", 0, err
	}

	written, err := w.stream(w.output(f), path, resp.Body, counter)
	if err != nil {
		f.Close()
		os.Remove(path)
		var fsErr errs.ErrFilesystem
		if errors.As(err, &fsErr) {
			return "", 0, errs.ErrFilesystem{Path: path, Err: fsErr.Err}
		}
		return "", 0, errs.Classify(task.URL, err, 0)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", 0, errs.ErrFilesystem{Path: path, Err: err}
	}

	w.postProcess(path)
	return path, written, nil
}

// stream copies body to dst one chunk at a time. Write failures come back as
// errs.ErrFilesystem, read failures unchanged.
func (w *Worker) stream(dst io.Writer, path string, body io.Reader, counter *progress.Counter) (int64, error) {
	buf := make([]byte, w.chunkSize)
	var written int64
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, errs.ErrFilesystem{Path: path, Err: err}
			}
			written += int64(n)
			counter.Add(int64(n))
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

func (w *Worker) postProcess(path string) {
	if w.post == nil {
		return
	}
	if err := w.post.Process(path); err != nil {
		ppErr := errs.ErrPostProcess{Path: path, Err: err}
		w.metrics.IncPostProcessFailure()
		slog.Warn("post-process failed, keeping original",
			slog.String("path", path),
			slog.Any("error", err),
		)
		w.sink.Emit(events.Event{
			Time:    time.Now(),
			Kind:    events.PostProcessFailed,
			Path:    path,
			Err:     ppErr,
			Message: fmt.Sprintf("Image enhancement failed for %s: %v", path, err),
		})
	}
}
