// Package dashboard runs dashboard sessions: one live cache per viewer and
// dashboard, fed by full fetches and push events on a single event loop, with
// memoized view, rollup and display stages on top.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/erp/orderboard/internal/application/livecache"
	"github.com/erp/orderboard/internal/domain/order"
)

// OrderFetcher loads the full order list on behalf of a bearer token
type OrderFetcher interface {
	FetchOrders(ctx context.Context, token string) ([]json.RawMessage, error)
}

// PushSink receives the output of a push subscription. Calls arrive from the
// subscription's goroutine in delivery order.
type PushSink interface {
	OnEvent(ev order.ChangeEvent)
	OnMalformed(err error)
	OnReconnect()
	OnError(err error)
}

// Subscription is a live push subscription
type Subscription interface {
	Close() error
}

// PushSource opens push subscriptions
type PushSource interface {
	Subscribe(ctx context.Context, sink PushSink) (Subscription, error)
}

// TeamDirectory resolves the members a leader is responsible for
type TeamDirectory interface {
	MembersOf(ctx context.Context, leaderID string) ([]string, error)
}

// Metrics receives session activity
type Metrics interface {
	livecache.Recorder
	RecordRefresh(ctx context.Context, outcome string, elapsed time.Duration)
	RecordStage(ctx context.Context, stage string, elapsed time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RecordEvent(context.Context, string, string)          {}
func (nopMetrics) RecordReplace(context.Context, int)                   {}
func (nopMetrics) RecordRefresh(context.Context, string, time.Duration) {}
func (nopMetrics) RecordStage(context.Context, string, time.Duration)   {}

// UserFacingError is implemented by infrastructure errors that map to a
// notification category with a fixed message
type UserFacingError interface {
	error
	Category() string
	UserMessage() string
}

// Categorize returns the notification category and message for err
func Categorize(err error) (string, string) {
	var uf UserFacingError
	if errors.As(err, &uf) {
		return uf.Category(), uf.UserMessage()
	}
	return CategoryGeneric, "Failed to load orders. Please try again."
}
