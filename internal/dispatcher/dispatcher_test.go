package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
	"github.com/JakeFAU/practice-vendor-crawler/internal/queue/memory"
)

type fakeVisitor struct {
	mu       sync.Mutex
	visited  []string
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	failOn   string
	onVisit  func(id string)
}

func (v *fakeVisitor) Visit(ctx context.Context, site crawler.InputSite) (crawler.DetectionRecord, error) {
	n := v.inFlight.Add(1)
	defer v.inFlight.Add(-1)
	for {
		p := v.peak.Load()
		if n <= p || v.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if v.onVisit != nil {
		v.onVisit(site.ID)
	}
	time.Sleep(v.delay)
	if site.ID == v.failOn {
		return crawler.DetectionRecord{}, fmt.Errorf("%w: disk full", crawler.ErrSinkWrite)
	}
	v.mu.Lock()
	v.visited = append(v.visited, site.ID)
	v.mu.Unlock()
	return crawler.DetectionRecord{ID: site.ID, Partial: ctx.Err() != nil}, nil
}

type countingRecorder struct {
	n atomic.Int32
}

func (r *countingRecorder) Record(crawler.DetectionRecord) { r.n.Add(1) }

func roster(n int) []crawler.InputSite {
	sites := make([]crawler.InputSite, n)
	for i := range sites {
		sites[i] = crawler.InputSite{ID: fmt.Sprint(i)}
	}
	return sites
}

func TestRunVisitsEverySiteWithinCeiling(t *testing.T) {
	t.Parallel()

	v := &fakeVisitor{delay: 2 * time.Millisecond}
	rec := &countingRecorder{}
	d := New(memory.NewQueue(4), v, rec, Config{Concurrency: 3}, nil)

	require.NoError(t, d.Run(context.Background(), roster(25)))
	assert.Len(t, v.visited, 25)
	assert.EqualValues(t, 25, rec.n.Load())
	assert.LessOrEqual(t, v.peak.Load(), int32(3))
}

func TestRunEmptyRoster(t *testing.T) {
	t.Parallel()

	d := New(memory.NewQueue(1), &fakeVisitor{}, nil, Config{}, nil)
	require.NoError(t, d.Run(context.Background(), nil))
}

func TestRunFatalErrorStopsWorkers(t *testing.T) {
	t.Parallel()

	v := &fakeVisitor{failOn: "2", delay: time.Millisecond}
	d := New(memory.NewQueue(1), v, nil, Config{Concurrency: 2}, nil)

	err := d.Run(context.Background(), roster(50))
	require.Error(t, err)
	assert.True(t, errors.Is(err, crawler.ErrSinkWrite))
	assert.Less(t, len(v.visited), 50)
}

func TestRunStopSignalFinishesInFlight(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v := &fakeVisitor{delay: 5 * time.Millisecond}
	v.onVisit = func(id string) {
		if id == "3" {
			cancel()
		}
	}
	rec := &countingRecorder{}
	d := New(memory.NewQueue(1), v, rec, Config{Concurrency: 1}, nil)

	require.NoError(t, d.Run(ctx, roster(100)))
	assert.Contains(t, v.visited, "3", "the visit in flight still completes")
	assert.Less(t, len(v.visited), 100)
	assert.EqualValues(t, len(v.visited), rec.n.Load())
}
