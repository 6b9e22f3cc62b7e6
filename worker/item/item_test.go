package item_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/vaulthub/log"
	"github.com/oasisprotocol/vaulthub/worker/item"
)

const testsTimeout = 10 * time.Second

var testConfig = item.Config{
	BatchSize:           3,
	StopIfQueueEmptyFor: 200 * time.Millisecond,
}

type mockItem struct {
	id         uint64
	canProcess bool // whether or not the item should return an error during processing.
}

type mockProcessor struct {
	lock sync.Mutex
	// Items not yet handed out by GetItems.
	queue []*mockItem
	// Ids in the order ProcessItem saw them.
	seen []uint64
	// Ids processed without error.
	processed map[uint64]struct{}
}

var _ item.ItemProcessor[*mockItem] = (*mockProcessor)(nil)

func newMockProcessor(items ...*mockItem) *mockProcessor {
	return &mockProcessor{queue: items, processed: map[uint64]struct{}{}}
}

func (p *mockProcessor) GetItems(_ context.Context, limit uint64) ([]*mockItem, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	n := int(limit)
	if n > len(p.queue) {
		n = len(p.queue)
	}
	out := p.queue[:n]
	p.queue = p.queue[n:]
	return out, nil
}

func (p *mockProcessor) ProcessItem(_ context.Context, it *mockItem) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.seen = append(p.seen, it.id)
	if !it.canProcess {
		return fmt.Errorf("item %d failed", it.id)
	}
	p.processed[it.id] = struct{}{}
	return nil
}

func (p *mockProcessor) QueueLength(context.Context) (int, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.queue), nil
}

func runWorker(t *testing.T, p *mockProcessor) {
	ctx, cancel := context.WithTimeout(context.Background(), testsTimeout)
	defer cancel()
	w := item.NewWorker[*mockItem]("item_test", testConfig, p, log.NewDiscardLogger("item_test"))
	require.Equal(t, "item_test", w.Name())

	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("worker did not stop on an empty queue")
	}
}

func TestProcessesAllItemsInOrder(t *testing.T) {
	p := newMockProcessor()
	for i := uint64(1); i <= 7; i++ {
		p.queue = append(p.queue, &mockItem{id: i, canProcess: true})
	}
	runWorker(t, p)

	require.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7}, p.seen)
	require.Len(t, p.processed, 7)
}

func TestFailedItemDoesNotBlockBatch(t *testing.T) {
	p := newMockProcessor(
		&mockItem{id: 1, canProcess: true},
		&mockItem{id: 2, canProcess: false},
		&mockItem{id: 3, canProcess: true},
		&mockItem{id: 4, canProcess: true},
	)
	runWorker(t, p)

	require.Equal(t, []uint64{1, 2, 3, 4}, p.seen)
	require.Contains(t, p.processed, uint64(3))
	require.NotContains(t, p.processed, uint64(2))
}

func TestStopsOnCancel(t *testing.T) {
	p := newMockProcessor()
	ctx, cancel := context.WithCancel(context.Background())
	w := item.NewWorker[*mockItem]("item_test_cancel", item.Config{Interval: time.Hour}, p, log.NewDiscardLogger("item_test"))

	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(testsTimeout):
		t.Fatal("worker did not stop on cancellation")
	}
}
