package push

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/erp/orderboard/internal/domain/order"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConnClosed = errors.New("connection closed")

type frameOrErr struct {
	frame Frame
	err   error
}

type fakeConn struct {
	items     chan frameOrErr
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{items: make(chan frameOrErr, 16), closed: make(chan struct{})}
}

func (c *fakeConn) Next(ctx context.Context) (Frame, error) {
	select {
	case it := <-c.items:
		return it.frame, it.err
	case <-c.closed:
		return Frame{}, errConnClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) send(payload string) {
	c.items <- frameOrErr{frame: Frame{Kind: FrameMessage, Payload: []byte(payload)}}
}

func (c *fakeConn) push(kind FrameKind) {
	c.items <- frameOrErr{frame: Frame{Kind: kind}}
}

func (c *fakeConn) fail(err error) {
	c.items <- frameOrErr{err: err}
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (d *fakeDialer) dial(context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

type recordingSink struct {
	mu         sync.Mutex
	events     []order.ChangeEvent
	malformed  int
	reconnects int
	errs       []error
}

func (s *recordingSink) OnEvent(ev order.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) OnMalformed(error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.malformed++
}

func (s *recordingSink) OnReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
}

func (s *recordingSink) OnError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *recordingSink) snapshot() (events []string, malformed, reconnects int, errs []error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		events = append(events, string(ev.OperationType)+":"+ev.DocumentID)
	}
	return events, s.malformed, s.reconnects, append([]error(nil), s.errs...)
}

var fastReconnect = Config{MaxReconnectAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

func TestChannel_DeliversInOrder(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	sink := &recordingSink{}

	sub, err := NewChannel(dialer.dial, fastReconnect, nil).Subscribe(context.Background(), sink)
	require.NoError(t, err)
	defer sub.Close()

	conn.push(FrameSubscribed)
	conn.send(`{"operationType":"insert","documentId":"a","fullDocument":{"x":1}}`)
	conn.send(`not json`)
	conn.push(FramePing)
	conn.send(`{"operationType":"update","documentId":"a","fullDocument":{"x":2}}`)
	conn.send(`{"operationType":"delete","documentKey":{"_id":"a"}}`)

	require.Eventually(t, func() bool {
		events, _, _, _ := sink.snapshot()
		return len(events) == 3
	}, time.Second, time.Millisecond)

	events, malformed, reconnects, errs := sink.snapshot()
	assert.Equal(t, []string{"insert:a", "update:a", "delete:a"}, events)
	assert.Equal(t, 1, malformed)
	assert.Zero(t, reconnects, "the first subscription is not a reconnect")
	assert.Empty(t, errs)
}

func TestChannel_ReconnectsAfterConnectionLoss(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{first, second}}
	sink := &recordingSink{}

	sub, err := NewChannel(dialer.dial, fastReconnect, nil).Subscribe(context.Background(), sink)
	require.NoError(t, err)
	defer sub.Close()

	first.push(FrameSubscribed)
	first.fail(errors.New("connection reset"))

	second.push(FrameSubscribed)
	second.send(`{"operationType":"insert","documentId":"b","fullDocument":{}}`)

	require.Eventually(t, func() bool {
		events, _, reconnects, _ := sink.snapshot()
		return reconnects == 1 && len(events) == 1
	}, time.Second, time.Millisecond)

	_, _, _, errs := sink.snapshot()
	require.Len(t, errs, 1)
	assert.True(t, first.isClosed())
	assert.Equal(t, 2, dialer.dials)
}

func TestChannel_ReconnectBudgetExhausted(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	sink := &recordingSink{}

	sub, err := NewChannel(dialer.dial, fastReconnect, nil).Subscribe(context.Background(), sink)
	require.NoError(t, err)
	defer sub.Close()

	conn.fail(errors.New("gone"))

	require.Eventually(t, func() bool {
		_, _, _, errs := sink.snapshot()
		return len(errs) == 2
	}, time.Second, time.Millisecond)

	_, _, _, errs := sink.snapshot()
	assert.ErrorIs(t, errs[1], ErrReconnectExhausted)
	assert.Equal(t, 1+fastReconnect.MaxReconnectAttempts, dialer.dials)
}

func TestChannel_CloseStopsDelivery(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	sink := &recordingSink{}

	sub, err := NewChannel(dialer.dial, fastReconnect, nil).Subscribe(context.Background(), sink)
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.True(t, conn.isClosed())

	_, _, _, errs := sink.snapshot()
	assert.Empty(t, errs, "closing is not a connection error")
	assert.Equal(t, 1, dialer.dials)
}

func TestChannel_InitialDialFailure(t *testing.T) {
	dialer := &fakeDialer{}
	_, err := NewChannel(dialer.dial, fastReconnect, nil).Subscribe(context.Background(), &recordingSink{})
	assert.Error(t, err)
}

func TestChannel_Backoff(t *testing.T) {
	c := NewChannel(nil, Config{MaxReconnectAttempts: 5, InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}, nil)
	assert.Equal(t, 100*time.Millisecond, c.backoff(0))
	assert.Equal(t, 200*time.Millisecond, c.backoff(1))
	assert.Equal(t, 800*time.Millisecond, c.backoff(3))
	assert.Equal(t, time.Second, c.backoff(4))
}
