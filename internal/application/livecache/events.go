package livecache

import (
	"github.com/erp/orderboard/internal/domain/shared"
)

// Event type constants
const (
	EventTypeCacheChanged = "OrderCacheChanged"
	EventTypeCacheCleared = "OrderCacheCleared"
)

// AggregateTypeSession is the aggregate type of cache events; the aggregate id
// is the owning dashboard session
const AggregateTypeSession = "DashboardSession"

// CacheChangedEvent is published after every mutation of a session's cache
type CacheChangedEvent struct {
	shared.BaseDomainEvent
	Dashboard  string  `json:"dashboard"`
	Generation uint64  `json:"generation"`
	Operation  string  `json:"operation"`
	DocumentID string  `json:"document_id,omitempty"`
	Outcome    Outcome `json:"outcome"`
	Size       int     `json:"size"`
}

// NewCacheChangedEvent creates a new CacheChangedEvent
func NewCacheChangedEvent(sessionID, dashboard string, generation uint64, operation, documentID string, outcome Outcome, size int) *CacheChangedEvent {
	return &CacheChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeCacheChanged, AggregateTypeSession, sessionID),
		Dashboard:       dashboard,
		Generation:      generation,
		Operation:       operation,
		DocumentID:      documentID,
		Outcome:         outcome,
		Size:            size,
	}
}

// CacheClearedEvent is published when a failed fetch empties the cache
type CacheClearedEvent struct {
	shared.BaseDomainEvent
	Dashboard  string `json:"dashboard"`
	Generation uint64 `json:"generation"`
	Reason     string `json:"reason"`
}

// NewCacheClearedEvent creates a new CacheClearedEvent
func NewCacheClearedEvent(sessionID, dashboard string, generation uint64, reason string) *CacheClearedEvent {
	return &CacheClearedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeCacheCleared, AggregateTypeSession, sessionID),
		Dashboard:       dashboard,
		Generation:      generation,
		Reason:          reason,
	}
}
