package progress

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCounterClampsToTotal(t *testing.T) {
	c := NewCounter()
	c.Reset(10)
	c.Add(4)
	c.Add(100)

	s := c.Snapshot()
	if s.Current != 10 || s.Total != 10 {
		t.Fatalf("snapshot = %+v, want 10/10", s)
	}
	if s.Mode != Determinate {
		t.Fatalf("mode = %v, want determinate", s.Mode)
	}
	if s.Percent() != 100 {
		t.Fatalf("percent = %v, want 100", s.Percent())
	}
}

func TestCounterIndeterminateIgnoresAdd(t *testing.T) {
	c := NewCounter()
	c.Reset(0)
	c.Add(512)

	s := c.Snapshot()
	if s.Mode != Indeterminate {
		t.Fatalf("mode = %v, want indeterminate", s.Mode)
	}
	if s.Current != 0 {
		t.Fatalf("current = %d, want 0", s.Current)
	}
}

func TestCounterConcurrentMonotonic(t *testing.T) {
	const (
		workers = 8
		perWork = 500
	)
	c := NewCounter()
	c.Reset(workers * perWork)

	stop := make(chan struct{})
	var violations atomic.Int64
	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		var last int64
		for {
			select {
			case <-stop:
				return
			default:
			}
			s := c.Snapshot()
			if s.Current < last || s.Current > s.Total {
				violations.Add(1)
			}
			last = s.Current
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWork; j++ {
				c.Add(1)
			}
		}()
	}
	wg.Wait()
	close(stop)
	readers.Wait()

	if got := violations.Load(); got != 0 {
		t.Fatalf("observed %d non-monotonic or over-total reads", got)
	}
	if s := c.Snapshot(); s.Current != workers*perWork {
		t.Fatalf("current = %d, want %d", s.Current, workers*perWork)
	}
}

func TestAggregate(t *testing.T) {
	a, b, idle := NewCounter(), NewCounter(), NewCounter()
	a.Reset(100)
	a.Add(40)
	b.Reset(50)
	b.Add(50)

	s := Aggregate([]*Counter{a, b, idle})
	if s.Mode != Determinate || s.Current != 90 || s.Total != 150 {
		t.Fatalf("aggregate = %+v, want determinate 90/150", s)
	}

	unknown := NewCounter()
	unknown.Reset(0)
	s = Aggregate([]*Counter{a, b, unknown})
	if s.Mode != Indeterminate || s.Total != 0 {
		t.Fatalf("aggregate = %+v, want indeterminate", s)
	}

	if s := Aggregate(nil); s.Mode != Indeterminate {
		t.Fatalf("empty aggregate = %+v, want indeterminate", s)
	}
}

func TestEstimateRemaining(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		snap    Snapshot
		want    time.Duration
		ok      bool
	}{
		{name: "half done", elapsed: 2 * time.Second, snap: Snapshot{Current: 50, Total: 100, Mode: Determinate}, want: 2 * time.Second, ok: true},
		{name: "quarter done", elapsed: time.Second, snap: Snapshot{Current: 25, Total: 100, Mode: Determinate}, want: 3 * time.Second, ok: true},
		{name: "nothing yet", elapsed: time.Second, snap: Snapshot{Current: 0, Total: 100, Mode: Determinate}, ok: false},
		{name: "unknown size", elapsed: time.Second, snap: Snapshot{Current: 10, Mode: Indeterminate}, ok: false},
		{name: "complete", elapsed: time.Second, snap: Snapshot{Current: 100, Total: 100, Mode: Determinate}, want: 0, ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := EstimateRemaining(tt.elapsed, tt.snap)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("EstimateRemaining = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestReporterEmitsUntilStopped(t *testing.T) {
	c := NewCounter()
	c.Reset(10)
	c.Add(5)

	updates := make(chan Update, 64)
	r := NewReporter(5*time.Millisecond, c.Snapshot, func(u Update) {
		select {
		case updates <- u:
		default:
		}
	})
	r.Start(time.Now())

	select {
	case u := <-updates:
		if u.Snapshot.Current != 5 || u.Snapshot.Total != 10 {
			t.Fatalf("update snapshot = %+v, want 5/10", u.Snapshot)
		}
		if !u.HasETA {
			t.Fatalf("expected an ETA once current > 0")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no update received")
	}

	r.Stop()
	r.Stop()
}

func TestReporterDisabledInterval(t *testing.T) {
	r := NewReporter(0, func() Snapshot { return Snapshot{} }, func(Update) {
		t.Errorf("disabled reporter must not emit")
	})
	r.Start(time.Now())
	r.Stop()
}
