package events

import (
	"context"
	"sync"

	"pizzaRun/models"
)

// Feed is an unbounded FIFO of order changes. Publishing never blocks and
// never drops, because a lost delivered edge would lose stats.
type Feed struct {
	mu      sync.Mutex
	pending []models.OrderChange
	ready   chan struct{}
}

func NewFeed() *Feed {
	return &Feed{ready: make(chan struct{}, 1)}
}

// PublishOrderChange enqueues a change. It implements repository.ChangeFeed.
func (f *Feed) PublishOrderChange(c models.OrderChange) {
	f.mu.Lock()
	f.pending = append(f.pending, c)
	f.mu.Unlock()
	select {
	case f.ready <- struct{}{}:
	default:
	}
}

// Next blocks until a change is available or ctx is done.
func (f *Feed) Next(ctx context.Context) (models.OrderChange, error) {
	for {
		if c, ok := f.pop(); ok {
			return c, nil
		}
		select {
		case <-ctx.Done():
			return models.OrderChange{}, ctx.Err()
		case <-f.ready:
		}
	}
}

// Len returns the number of queued changes.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

func (f *Feed) pop() (models.OrderChange, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return models.OrderChange{}, false
	}
	c := f.pending[0]
	f.pending[0] = models.OrderChange{}
	f.pending = f.pending[1:]
	return c, true
}
