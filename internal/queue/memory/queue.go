// Package memory provides the bounded in-process queue that feeds roster
// sites to visitors.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
)

// ErrClosed is returned by Enqueue after Close, and by Dequeue once a closed
// queue is drained.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded FIFO of roster sites. The item channel is never closed;
// done signals the end instead, so Close never races a blocked producer.
type Queue struct {
	items     chan crawler.QueueItem
	done      chan struct{}
	closeOnce sync.Once
}

var _ crawler.Queue = (*Queue)(nil)

// NewQueue returns a queue holding up to capacity waiting sites. A capacity
// of zero makes every Enqueue wait for a Dequeue.
func NewQueue(capacity int) *Queue {
	return &Queue{
		items: make(chan crawler.QueueItem, max(capacity, 0)),
		done:  make(chan struct{}),
	}
}

// Enqueue blocks while the queue is full.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if q.isClosed() {
		return ErrClosed
	}
	select {
	case q.items <- item:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	}
}

// Dequeue pops the next site. Sites queued before Close are still handed out.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	select {
	case item := <-q.items:
		return item, nil
	default:
	}
	select {
	case item := <-q.items:
		return item, nil
	case <-q.done:
		select {
		case item := <-q.items:
			return item, nil
		default:
			return crawler.QueueItem{}, ErrClosed
		}
	case <-ctx.Done():
		return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	}
}

// Len is the number of waiting sites.
func (q *Queue) Len() int {
	return len(q.items)
}

// Close stops accepting sites and wakes blocked producers and consumers.
// Calling it again is a no-op.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

func (q *Queue) isClosed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}
