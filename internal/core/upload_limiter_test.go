package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestUploadLimiter_AcquireRelease(t *testing.T) {
	limiter := NewUploadLimiter(2, time.Second)

	if got := limiter.Available(); got != 2 {
		t.Errorf("initial Available = %d, want 2", got)
	}

	ctx := context.Background()
	release1, err := limiter.Acquire(ctx)
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	release2, err := limiter.Acquire(ctx)
	if err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}

	if got := limiter.ActiveCount(); got != 2 {
		t.Errorf("after two Acquires, ActiveCount = %d, want 2", got)
	}
	if got := limiter.Available(); got != 0 {
		t.Errorf("after two Acquires, Available = %d, want 0", got)
	}

	release1()
	release1() // second call is a no-op

	if got := limiter.ActiveCount(); got != 1 {
		t.Errorf("after Release, ActiveCount = %d, want 1", got)
	}

	release2()

	if got := limiter.Available(); got != 2 {
		t.Errorf("after all Releases, Available = %d, want 2", got)
	}
}

func TestUploadLimiter_Defaults(t *testing.T) {
	limiter := NewUploadLimiter(0, 0)
	if got := limiter.MaxConcurrent(); got != DefaultMaxConcurrentUploads {
		t.Errorf("MaxConcurrent = %d, want %d", got, DefaultMaxConcurrentUploads)
	}
}

func TestUploadLimiter_TimesOutWhenFull(t *testing.T) {
	limiter := NewUploadLimiter(1, 50*time.Millisecond)

	release, err := limiter.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer release()

	if _, err := limiter.Acquire(context.Background()); !errors.Is(err, ErrTooManyUploads) {
		t.Errorf("expected ErrTooManyUploads, got %v", err)
	}
}

func TestUploadLimiter_ContextCancelled(t *testing.T) {
	limiter := NewUploadLimiter(1, time.Minute)

	release, err := limiter.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := limiter.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestUploadLimiter_ConcurrentAccess(t *testing.T) {
	const maxConcurrent = 3
	const totalRequests = 10

	limiter := NewUploadLimiter(maxConcurrent, 5*time.Second)

	var wg sync.WaitGroup
	var mu sync.Mutex
	maxObserved := 0

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			release, err := limiter.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			defer release()

			mu.Lock()
			if current := limiter.ActiveCount(); current > maxObserved {
				maxObserved = current
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)
		}()
	}

	wg.Wait()

	if maxObserved > maxConcurrent {
		t.Errorf("observed %d concurrent uploads, limit is %d", maxObserved, maxConcurrent)
	}
	if got := limiter.ActiveCount(); got != 0 {
		t.Errorf("final ActiveCount = %d, want 0", got)
	}
}
