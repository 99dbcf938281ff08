package scheduler

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ResourceLockManager provides keyed mutual exclusion. The execution engine
// keys it by agent ID so that no agent receives two dispatches at once, while
// different agents proceed in parallel.
type ResourceLockManager struct {
	mu    sync.Mutex                     // Guards the locks map itself
	locks map[string]*semaphore.Weighted // Per-key binary semaphores
}

// NewResourceLockManager creates a new ResourceLockManager.
func NewResourceLockManager() *ResourceLockManager {
	return &ResourceLockManager{
		locks: make(map[string]*semaphore.Weighted),
	}
}

func (r *ResourceLockManager) get(key string) *semaphore.Weighted {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, exists := r.locks[key]
	if !exists {
		l = semaphore.NewWeighted(1)
		r.locks[key] = l
	}
	return l
}

// Lock acquires the lock for key, waiting until it is free or ctx is done.
func (r *ResourceLockManager) Lock(ctx context.Context, key string) error {
	// Acquire outside the manager lock to avoid contention
	return r.get(key).Acquire(ctx, 1)
}

// TryLock acquires the lock for key only if it is free.
func (r *ResourceLockManager) TryLock(key string) bool {
	return r.get(key).TryAcquire(1)
}

// Unlock releases the lock for key. Unlocking an unknown key is a no-op;
// unlocking a known key that is not held panics.
func (r *ResourceLockManager) Unlock(key string) {
	r.mu.Lock()
	l, exists := r.locks[key]
	r.mu.Unlock()

	if exists {
		l.Release(1)
	}
}
