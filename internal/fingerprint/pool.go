package fingerprint

import (
	"context"
)

// Pool runs fingerprint computations on a bounded number of worker
// goroutines, so the HTTP reactor never blocks on file I/O or the DCT.
// The queue is the semaphore itself: Submit blocks until a slot frees,
// which is the backpressure bound on concurrent fingerprint work.
type Pool struct {
	sem chan struct{}
}

// NewPool builds a Pool that runs at most size fingerprint jobs
// concurrently. size must be positive.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Submit computes both fingerprints for path on a pool goroutine and
// blocks the caller until the result (or an error) is available.
// Cancellation abandons the caller but does not stop an in-flight
// computation once started.
func (p *Pool) Submit(ctx context.Context, path string) (*Result, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	type out struct {
		res *Result
		err error
	}
	done := make(chan out, 1)
	go func() {
		// The slot is released by the worker, not the caller: a cancelled
		// caller abandons the result, but the computation still counts
		// against the pool bound until it finishes.
		defer func() { <-p.sem }()
		sha, err := SHA256OfFile(path)
		if err != nil {
			done <- out{err: err}
			return
		}
		ph, err := PHashOfFile(path)
		if err != nil {
			done <- out{err: err}
			return
		}
		done <- out{res: &Result{SHA256: sha, PHash: ph}}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
