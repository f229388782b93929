// Package workpool implements the bounded worker pools the coordinator
// uses to cap conversion concurrency per backend. Built on
// golang.org/x/sync/semaphore so slot acquisition composes with
// context.Context cancellation.
package workpool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many callers may run concurrently.
type Pool struct {
	sem *semaphore.Weighted
}

// New creates a pool allowing up to n concurrent Run calls. n <= 0 means
// unbounded: Run executes fn immediately.
func New(n int) *Pool {
	if n <= 0 {
		return &Pool{}
	}
	return &Pool{sem: semaphore.NewWeighted(int64(n))}
}

// Run acquires a slot, runs fn, and releases the slot. If ctx is canceled
// before a slot becomes available, Run returns ctx.Err() without running
// fn — this is the cooperative-cancellation suspension point for queued
// backend work.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}
