package daemon

import (
	"context"
	"sync"
	"time"
)

// scanSlots bounds the number of scans executing at once. Scans waiting for a
// slot stay in the registry at progress 0.
type scanSlots struct {
	capacity  int
	semaphore chan struct{}
	mu        sync.Mutex
	running   map[string]time.Time
}

func newScanSlots(capacity int) *scanSlots {
	if capacity <= 0 {
		return nil
	}
	return &scanSlots{
		capacity:  capacity,
		semaphore: make(chan struct{}, capacity),
		running:   make(map[string]time.Time),
	}
}

// acquire blocks until a slot is free for id or ctx is done. The returned
// func releases the slot. A nil scanSlots never blocks.
func (l *scanSlots) acquire(ctx context.Context, id string) (func(), error) {
	if l == nil {
		return func() {}, nil
	}

	select {
	case l.semaphore <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	l.mu.Lock()
	l.running[id] = time.Now()
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.running, id)
			l.mu.Unlock()
			<-l.semaphore
		})
	}, nil
}

// inUse returns the number of held slots.
func (l *scanSlots) inUse() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.running)
}

// available returns the number of free slots, -1 when unbounded.
func (l *scanSlots) available() int {
	if l == nil {
		return -1
	}
	return l.capacity - l.inUse()
}
