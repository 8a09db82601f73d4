package livecache

import (
	"context"
	"sync"

	"github.com/erp/orderboard/internal/domain/order"
	"github.com/erp/orderboard/internal/domain/shared"
	"go.uber.org/zap"
)

// Recorder receives cache activity for metrics
type Recorder interface {
	RecordEvent(ctx context.Context, operation, outcome string)
	RecordReplace(ctx context.Context, size int)
}

type nopRecorder struct{}

func (nopRecorder) RecordEvent(context.Context, string, string) {}
func (nopRecorder) RecordReplace(context.Context, int)          {}

// Config configures a Cache
type Config struct {
	SessionID string
	Dashboard Dashboard
	Viewer    order.Viewer
	Publisher shared.EventPublisher
	Recorder  Recorder
	Logger    *zap.Logger
}

// Cache is the live order cache of one dashboard session. Every successful
// mutation bumps the generation, which downstream stages use as their
// memoization key.
type Cache struct {
	sessionID string
	dashboard Dashboard
	viewer    order.Viewer
	publisher shared.EventPublisher
	recorder  Recorder
	logger    *zap.Logger

	mu         sync.RWMutex
	state      State
	generation uint64
}

// New creates an empty cache
func New(cfg Config) *Cache {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	return &Cache{
		sessionID: cfg.SessionID,
		dashboard: cfg.Dashboard,
		viewer:    cfg.Viewer,
		publisher: cfg.Publisher,
		recorder:  cfg.Recorder,
		logger: cfg.Logger.With(
			zap.String("session_id", cfg.SessionID),
			zap.String("dashboard", cfg.Dashboard.Name),
		),
		state: EmptyState(),
	}
}

// Dashboard returns the dashboard whose rules the cache applies
func (c *Cache) Dashboard() Dashboard {
	return c.dashboard
}

// ReplaceAll swaps in the result of a full fetch and returns the new generation
func (c *Cache) ReplaceAll(ctx context.Context, records []order.Record) uint64 {
	next := ReplaceAll(records, c.dashboard, c.viewer)

	c.mu.Lock()
	c.state = next
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	c.recorder.RecordReplace(ctx, next.Len())
	c.logger.Debug("cache replaced",
		zap.Int("fetched", len(records)),
		zap.Int("kept", next.Len()),
		zap.Uint64("generation", gen),
	)
	c.publish(ctx, NewCacheChangedEvent(c.sessionID, c.dashboard.Name, gen, "replace_all", "", OutcomeUpdated, next.Len()))
	return gen
}

// ApplyEvent merges one change event. A malformed event is dropped and the
// returned error describes it; the cache is left untouched.
func (c *Cache) ApplyEvent(ctx context.Context, ev order.ChangeEvent) (Outcome, error) {
	c.mu.Lock()
	next, outcome, err := Reduce(c.state, ev, c.dashboard, c.viewer)
	if outcome.Changed() {
		c.state = next
		c.generation++
	}
	gen := c.generation
	size := c.state.Len()
	c.mu.Unlock()

	c.recorder.RecordEvent(ctx, string(ev.OperationType), string(outcome))
	if err != nil {
		c.logger.Warn("dropped malformed change event",
			zap.String("operation", string(ev.OperationType)),
			zap.String("document_id", ev.DocumentID),
			zap.Error(err),
		)
		return outcome, err
	}

	c.logger.Debug("change event applied",
		zap.String("operation", string(ev.OperationType)),
		zap.String("document_id", ev.DocumentID),
		zap.String("outcome", string(outcome)),
		zap.Uint64("generation", gen),
	)
	if outcome.Changed() {
		c.publish(ctx, NewCacheChangedEvent(c.sessionID, c.dashboard.Name, gen, string(ev.OperationType), ev.DocumentID, outcome, size))
	}
	return outcome, nil
}

// Clear empties the cache, used when a full fetch fails
func (c *Cache) Clear(ctx context.Context, reason string) uint64 {
	c.mu.Lock()
	c.state = EmptyState()
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	c.recorder.RecordReplace(ctx, 0)
	c.publish(ctx, NewCacheClearedEvent(c.sessionID, c.dashboard.Name, gen, reason))
	return gen
}

// Snapshot returns the current state together with its generation
func (c *Cache) Snapshot() (State, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state, c.generation
}

// GetAll returns a copy of the cached records in cache order
func (c *Cache) GetAll() []order.Record {
	state, _ := c.Snapshot()
	return state.Records()
}

// Get returns the cached record with the given id
func (c *Cache) Get(id string) (order.Record, bool) {
	state, _ := c.Snapshot()
	return state.Get(id)
}

// Len returns the number of cached records
func (c *Cache) Len() int {
	state, _ := c.Snapshot()
	return state.Len()
}

// Generation returns the current generation
func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

func (c *Cache) publish(ctx context.Context, ev shared.DomainEvent) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Publish(ctx, ev); err != nil {
		c.logger.Warn("failed to publish cache event",
			zap.String("event_type", ev.EventType()),
			zap.Error(err),
		)
	}
}
