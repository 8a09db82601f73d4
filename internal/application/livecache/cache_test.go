package livecache

import (
	"context"
	"sync"
	"testing"

	"github.com/erp/orderboard/internal/domain/order"
	"github.com/erp/orderboard/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

type countingRecorder struct {
	mu       sync.Mutex
	events   map[string]int
	replaces []int
}

func (r *countingRecorder) RecordEvent(_ context.Context, operation, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = map[string]int{}
	}
	r.events[operation+"/"+outcome]++
}

func (r *countingRecorder) RecordReplace(_ context.Context, size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replaces = append(r.replaces, size)
}

func newTestCache(pub shared.EventPublisher, rec Recorder) *Cache {
	return New(Config{
		SessionID: "sess-1",
		Dashboard: MustLookup(DashboardBilling),
		Viewer:    viewer,
		Publisher: pub,
		Recorder:  rec,
	})
}

func TestCache_GenerationTracksMutations(t *testing.T) {
	c := newTestCache(nil, nil)
	ctx := context.Background()
	assert.Equal(t, uint64(0), c.Generation())

	gen := c.ReplaceAll(ctx, records(t, "a", "b"))
	assert.Equal(t, uint64(1), gen)
	assert.Equal(t, 2, c.Len())

	_, err := c.ApplyEvent(ctx, event(order.OperationDelete, "missing"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c.Generation(), "no-op does not bump the generation")

	outcome, err := c.ApplyEvent(ctx, event(order.OperationInsert, "c"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, outcome)
	assert.Equal(t, uint64(2), c.Generation())

	_, err = c.ApplyEvent(ctx, order.ChangeEvent{OperationType: order.OperationUpdate, DocumentID: "a"})
	assert.ErrorIs(t, err, order.ErrMalformedEvent)
	assert.Equal(t, uint64(2), c.Generation())
	assert.Equal(t, 3, c.Len())

	c.Clear(ctx, "fetch failed")
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, uint64(3), c.Generation())
}

func TestCache_GetAllReturnsCopy(t *testing.T) {
	c := newTestCache(nil, nil)
	c.ReplaceAll(context.Background(), records(t, "a"))

	all := c.GetAll()
	all[0].CustomerName = "mutated"

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Empty(t, got.CustomerName)
}

func TestCache_PublishesChanges(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(events []shared.DomainEvent) bool {
		if len(events) != 1 {
			return false
		}
		ev, ok := events[0].(*CacheChangedEvent)
		return ok && ev.AggregateID() == "sess-1" && ev.Outcome == OutcomeRemoved && ev.DocumentID == "a"
	})).Return(nil).Once()
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)

	c := newTestCache(pub, nil)
	ctx := context.Background()
	c.ReplaceAll(ctx, records(t, "a"))

	_, err := c.ApplyEvent(ctx, event(order.OperationUpdate, "a", "billStatus", "Billing Complete"))
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())

	// ignored events publish nothing
	_, err = c.ApplyEvent(ctx, event(order.OperationDelete, "a"))
	require.NoError(t, err)

	pub.AssertNumberOfCalls(t, "Publish", 2)
	pub.AssertExpectations(t)
}

func TestCache_RecordsMetrics(t *testing.T) {
	rec := &countingRecorder{}
	c := newTestCache(nil, rec)
	ctx := context.Background()

	c.ReplaceAll(ctx, records(t, "a", "b"))
	_, _ = c.ApplyEvent(ctx, event(order.OperationInsert, "c"))
	_, _ = c.ApplyEvent(ctx, event(order.OperationInsert, "c"))
	_, _ = c.ApplyEvent(ctx, order.ChangeEvent{OperationType: order.OperationInsert})

	assert.Equal(t, []int{2}, rec.replaces)
	assert.Equal(t, 1, rec.events["insert/inserted"])
	assert.Equal(t, 1, rec.events["insert/unchanged"])
	assert.Equal(t, 1, rec.events["insert/dropped"])
}

func TestCache_ConcurrentReaders(t *testing.T) {
	c := newTestCache(nil, nil)
	ctx := context.Background()
	c.ReplaceAll(ctx, records(t, "a"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				state, gen := c.Snapshot()
				assert.GreaterOrEqual(t, gen, uint64(1))
				_ = state.Records()
			}
		}()
	}
	for j := 0; j < 50; j++ {
		_, _ = c.ApplyEvent(ctx, event(order.OperationUpdate, "a", "remarks", string(rune('a'+j%26))))
	}
	wg.Wait()
	assert.Equal(t, 1, c.Len())
}
