package scheduler

import (
	"context"
	"sort"
	"sync"
)

// ResourceLocks serializes tasks that declare the same shared resource.
// Each resource gets a one-slot channel, so waiting can be cancelled.
type ResourceLocks struct {
	mu    sync.Mutex               // Guards the slots map itself
	slots map[string]chan struct{} // Per-resource semaphores
}

// NewResourceLocks creates an empty lock set.
func NewResourceLocks() *ResourceLocks {
	return &ResourceLocks{
		slots: make(map[string]chan struct{}),
	}
}

func (r *ResourceLocks) slot(resource string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, exists := r.slots[resource]
	if !exists {
		ch = make(chan struct{}, 1)
		r.slots[resource] = ch
	}
	return ch
}

// Acquire takes every named resource, in sorted order so two callers with
// overlapping sets cannot deadlock. On cancellation the resources already
// taken are released and ctx.Err() is returned. The release func is safe to
// call once.
func (r *ResourceLocks) Acquire(ctx context.Context, resources []string) (func(), error) {
	sorted := make([]string, 0, len(resources))
	seen := make(map[string]bool, len(resources))
	for _, res := range resources {
		if !seen[res] {
			seen[res] = true
			sorted = append(sorted, res)
		}
	}
	sort.Strings(sorted)

	held := make([]chan struct{}, 0, len(sorted))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}

	for _, res := range sorted {
		ch := r.slot(res)
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}
