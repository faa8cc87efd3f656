package transport

import (
	"golang.org/x/sync/semaphore"
)

// Guard admits at most one transmission at a time. TryAcquire must be
// atomic: two callers racing on a free guard never both succeed.
type Guard interface {
	TryAcquire() bool
	Release()
}

type semaphoreGuard struct {
	sem *semaphore.Weighted
}

// NewGuard returns a Guard backed by a weighted semaphore of size one.
func NewGuard() Guard {
	return &semaphoreGuard{sem: semaphore.NewWeighted(1)}
}

func (g *semaphoreGuard) TryAcquire() bool {
	return g.sem.TryAcquire(1)
}

func (g *semaphoreGuard) Release() {
	g.sem.Release(1)
}
