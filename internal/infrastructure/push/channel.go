// Package push delivers order change events from the push transport to
// dashboard sessions, reconnecting with bounded exponential backoff.
package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/erp/orderboard/internal/application/dashboard"
	"github.com/erp/orderboard/internal/domain/order"
	"go.uber.org/zap"
)

const defaultCloseTimeout = 5 * time.Second

// ErrReconnectExhausted is reported once the reconnect budget is spent
var ErrReconnectExhausted = errors.New("push: reconnect attempts exhausted")

// FrameKind distinguishes transport frames
type FrameKind int

const (
	// FrameSubscribed confirms a (re)established subscription
	FrameSubscribed FrameKind = iota
	// FrameMessage carries one change event payload
	FrameMessage
	// FramePing is a keepalive and carries nothing
	FramePing
)

// Frame is one unit read from a connection
type Frame struct {
	Kind    FrameKind
	Payload []byte
}

// Conn is one live transport connection
type Conn interface {
	// Next blocks for the next frame
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// Dialer opens a connection
type Dialer func(ctx context.Context) (Conn, error)

// Config controls reconnect behavior
type Config struct {
	MaxReconnectAttempts int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = 30 * time.Second
		if c.MaxBackoff < c.InitialBackoff {
			c.MaxBackoff = c.InitialBackoff
		}
	}
	return c
}

// Channel opens push subscriptions over a Dialer
type Channel struct {
	dial   Dialer
	cfg    Config
	logger *zap.Logger
}

var _ dashboard.PushSource = (*Channel)(nil)

// NewChannel creates a push channel
func NewChannel(dial Dialer, cfg Config, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{dial: dial, cfg: cfg.withDefaults(), logger: logger.Named("push")}
}

// Subscribe dials the transport and starts delivering frames to sink until
// the returned subscription is closed or ctx is cancelled. A failed initial
// dial is returned to the caller and not retried.
func (c *Channel) Subscribe(ctx context.Context, sink dashboard.PushSink) (dashboard.Subscription, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("push: dial: %w", err)
	}
	subCtx, cancel := context.WithCancel(ctx)
	s := &subscription{
		channel: c,
		sink:    sink,
		conn:    conn,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.run(subCtx)
	return s, nil
}

func (c *Channel) backoff(attempt int) time.Duration {
	if attempt > 30 {
		return c.cfg.MaxBackoff
	}
	delay := c.cfg.InitialBackoff * time.Duration(1<<uint(attempt))
	if delay > c.cfg.MaxBackoff {
		delay = c.cfg.MaxBackoff
	}
	return delay
}

type subscription struct {
	channel *Channel
	sink    dashboard.PushSink
	cancel  context.CancelFunc
	done    chan struct{}

	mu        sync.Mutex
	conn      Conn
	closeOnce sync.Once
}

// Close stops delivery and waits for the reader to exit
func (s *subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.mu.Lock()
		if s.conn != nil {
			err = s.conn.Close()
			s.conn = nil
		}
		s.mu.Unlock()

		select {
		case <-s.done:
		case <-time.After(defaultCloseTimeout):
			s.channel.logger.Warn("timeout waiting for push reader to stop")
		}
	})
	return err
}

func (s *subscription) current() Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *subscription) drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func (s *subscription) run(ctx context.Context) {
	defer close(s.done)
	logger := s.channel.logger
	established, redialed := false, false

	for {
		conn := s.current()
		if conn == nil {
			return
		}
		frame, err := conn.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("push connection lost", zap.Error(err))
			s.sink.OnError(err)
			if !s.reconnect(ctx) {
				return
			}
			redialed = true
			continue
		}

		switch frame.Kind {
		case FrameSubscribed:
			if established || redialed {
				logger.Info("push subscription re-established")
				s.sink.OnReconnect()
			}
			established, redialed = true, false
		case FrameMessage:
			ev, err := order.ParseChangeEvent(frame.Payload)
			if err != nil {
				s.sink.OnMalformed(err)
				continue
			}
			s.sink.OnEvent(ev)
		}
	}
}

// reconnect redials with backoff. It reports false when ctx ended or the
// attempt budget ran out.
func (s *subscription) reconnect(ctx context.Context) bool {
	cfg := s.channel.cfg
	s.drop()
	for attempt := 0; attempt < cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-time.After(s.channel.backoff(attempt)):
		case <-ctx.Done():
			return false
		}
		conn, err := s.channel.dial(ctx)
		if err != nil {
			s.channel.logger.Warn("push reconnect failed",
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", cfg.MaxReconnectAttempts),
				zap.Error(err),
			)
			continue
		}
		s.mu.Lock()
		if ctx.Err() != nil {
			s.mu.Unlock()
			_ = conn.Close()
			return false
		}
		s.conn = conn
		s.mu.Unlock()
		return true
	}
	s.sink.OnError(ErrReconnectExhausted)
	return false
}
