package core

// upload_limiter.go bounds how many chunked uploads run at once through one
// Uploader.
//
// Every chunk of an upload resends the station's sensor file, so two uploads
// to the same station running side by side would race sensor upserts against
// measurement inserts. The default of one slot serializes uploads; callers
// that target distinct stations may raise it.

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrTooManyUploads is returned when all upload slots are occupied and the
// wait timeout expires.
var ErrTooManyUploads = errors.New("too many concurrent uploads, please try again later")

// DefaultMaxConcurrentUploads is the default limit for parallel uploads.
const DefaultMaxConcurrentUploads = 1

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// UploadLimiter controls concurrent uploads using a semaphore.
type UploadLimiter struct {
	slots   chan struct{}
	maxWait time.Duration
	active  atomic.Int32
}

// NewUploadLimiter creates a limiter that allows at most maxConcurrent simultaneous uploads.
// Waits longer than maxWait fail with ErrTooManyUploads.
func NewUploadLimiter(maxConcurrent int, maxWait time.Duration) *UploadLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentUploads
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	return &UploadLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire waits for a free slot. On success the returned func must be called
// exactly once to give the slot back.
func (l *UploadLimiter) Acquire(ctx context.Context) (release func(), err error) {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		var once atomic.Bool
		return func() {
			if once.CompareAndSwap(false, true) {
				l.active.Add(-1)
				<-l.slots
			}
		}, nil

	case <-timer.C:
		return nil, ErrTooManyUploads

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ActiveCount returns the number of uploads holding a slot.
func (l *UploadLimiter) ActiveCount() int {
	return int(l.active.Load())
}

// MaxConcurrent returns the maximum allowed concurrent uploads.
func (l *UploadLimiter) MaxConcurrent() int {
	return cap(l.slots)
}

// Available returns the number of free slots.
func (l *UploadLimiter) Available() int {
	return cap(l.slots) - len(l.slots)
}
