package progress

import (
	"sync"
	"time"
)

// Update is pushed by a Reporter on every tick.
type Update struct {
	Snapshot  Snapshot
	Elapsed   time.Duration
	Remaining time.Duration
	HasETA    bool
}

// Reporter pushes snapshots on a fixed interval until stopped.
type Reporter struct {
	interval time.Duration
	read     func() Snapshot
	emit     func(Update)
	start    time.Time

	stopOnce sync.Once
	shutdown chan struct{}
	done     chan struct{}
}

// NewReporter builds a reporter; call Start to begin ticking.
func NewReporter(interval time.Duration, read func() Snapshot, emit func(Update)) *Reporter {
	return &Reporter{
		interval: interval,
		read:     read,
		emit:     emit,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the reporting goroutine. A non-positive interval disables it.
func (r *Reporter) Start(start time.Time) {
	r.start = start
	if r.interval <= 0 || r.read == nil || r.emit == nil {
		close(r.done)
		return
	}

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.emit(r.update())
			case <-r.shutdown:
				return
			}
		}
	}()
}

// Stop halts the goroutine and waits for it to exit.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.shutdown)
	})
	<-r.done
}

func (r *Reporter) update() Update {
	s := r.read()
	elapsed := time.Since(r.start)
	remaining, ok := EstimateRemaining(elapsed, s)
	return Update{
		Snapshot:  s,
		Elapsed:   elapsed,
		Remaining: remaining,
		HasETA:    ok,
	}
}
