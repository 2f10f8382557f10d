// Package events carries progress and result notifications from the pipeline
// to whatever front end is driving it.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-images/progress"
)

// Kind identifies an event.
type Kind string

const (
	ScrapeStarted     Kind = "scrape_started"
	SeedFetched       Kind = "seed_fetched"
	SeedFailed        Kind = "seed_failed"
	ScrapeFinished    Kind = "scrape_finished"
	ScrapeProgress    Kind = "scrape_progress"
	DownloadStarted   Kind = "download_started"
	DownloadSaved     Kind = "download_saved"
	DownloadFailed    Kind = "download_failed"
	DownloadProgress  Kind = "download_progress"
	DownloadFinished  Kind = "download_finished"
	PostProcessFailed Kind = "post_process_failed"
)

// Event is a timestamped notification. Status is a one-line summary suitable
// for a status bar; Message is a log-pane line.
type Event struct {
	Time      time.Time
	Kind      Kind
	SessionID string
	URL       string
	Path      string
	Count     int
	Err       error
	Message   string
	Status    string

	Progress  progress.Snapshot
	Remaining time.Duration
	HasETA    bool

	Candidates  []string
	FailedSeeds []string
}

// Failed reports whether the event describes a failure.
func (e Event) Failed() bool {
	return e.Err != nil
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit calls f(e).
func (f SinkFunc) Emit(e Event) {
	f(e)
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

type multi []Sink

func (m multi) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// Multi fans an event out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// LogSink writes events through slog. Progress events are logged at debug level.
type LogSink struct {
	Logger *slog.Logger
}

// Emit logs e.
func (s LogSink) Emit(e Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	attrs := []any{slog.String("event", string(e.Kind))}
	if e.SessionID != "" {
		attrs = append(attrs, slog.String("session", e.SessionID))
	}
	if e.URL != "" {
		attrs = append(attrs, slog.String("url", e.URL))
	}
	if e.Path != "" {
		attrs = append(attrs, slog.String("path", e.Path))
	}

	switch e.Kind {
	case ScrapeProgress, DownloadProgress:
		attrs = append(attrs,
			slog.Int64("current", e.Progress.Current),
			slog.Int64("total", e.Progress.Total),
			slog.String("mode", e.Progress.Mode.String()),
		)
		if e.HasETA {
			attrs = append(attrs, slog.Duration("remaining", e.Remaining))
		}
		logger.Debug(e.Message, attrs...)
	case PostProcessFailed:
		logger.Warn(e.Message, append(attrs, slog.Any("error", e.Err))...)
	default:
		if e.Err != nil {
			logger.Error(e.Message, append(attrs, slog.Any("error", e.Err))...)
			return
		}
		logger.Info(e.Message, attrs...)
	}
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit appends e.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfKind returns the recorded events of one kind.
func (r *Recorder) OfKind(kind Kind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
