package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitReturnsValue(t *testing.T) {
	p := NewPool(2)
	defer p.Close()

	f := Submit(p, func() (int, error) { return 42, nil })
	got, err := f.Wait(context.Background())
	if err != nil || got != 42 {
		t.Fatalf("expected 42, got %d (%v)", got, err)
	}

	boom := errors.New("boom")
	if _, err := Submit(p, func() (string, error) { return "", boom }).Wait(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected job error, got %v", err)
	}
}

func TestPanicBecomesError(t *testing.T) {
	p := NewPool(1)
	defer p.Close()
	_, err := Submit(p, func() (int, error) { panic("kaboom") }).Wait(context.Background())
	if err == nil {
		t.Fatal("expected panic to surface as error")
	}
}

func TestBoundedConcurrency(t *testing.T) {
	p := NewPool(2)
	var running, peak int32
	futures := make([]*Future[struct{}], 8)
	for i := range futures {
		futures[i] = Submit(p, func() (struct{}, error) {
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return struct{}{}, nil
		})
	}
	p.Wait()
	for _, f := range futures {
		if _, err := f.Wait(context.Background()); err != nil {
			t.Fatalf("job failed: %v", err)
		}
	}
	if peak > 2 {
		t.Fatalf("expected at most 2 concurrent jobs, saw %d", peak)
	}
}

func TestAbandonedWaitLeavesJobRunning(t *testing.T) {
	p := NewPool(1)
	release := make(chan struct{})
	var finished atomic.Bool
	f := Submit(p, func() (int, error) {
		<-release
		finished.Store(true)
		return 1, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}

	close(release)
	p.Close()
	if !finished.Load() {
		t.Fatal("abandoned job should still run to completion")
	}
	if _, err := Submit(p, func() (int, error) { return 0, nil }).Wait(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}

func TestActiveTracksRunningJobs(t *testing.T) {
	p := NewPool(3)
	defer p.Close()
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		Submit(p, func() (int, error) {
			started <- struct{}{}
			<-release
			return 0, nil
		})
	}
	<-started
	<-started
	if got := p.Active(); got != 2 {
		t.Fatalf("expected 2 active jobs, got %d", got)
	}
	close(release)
	p.Wait()
	if got := p.Active(); got != 0 {
		t.Fatalf("expected idle pool, got %d active", got)
	}
}
