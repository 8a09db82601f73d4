package push

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/erp/orderboard/internal/domain/order"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel is the Pub/Sub channel order changes are published on
const DefaultChannel = "orderboard:orders:changes"

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Channel  string
}

// NewRedisClient creates a client and checks the connection
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisDialer subscribes to channel on each dial
func NewRedisDialer(client *redis.Client, channel string) Dialer {
	if channel == "" {
		channel = DefaultChannel
	}
	return func(ctx context.Context) (Conn, error) {
		return &redisConn{pubsub: client.Subscribe(ctx, channel)}, nil
	}
}

type redisConn struct {
	pubsub *redis.PubSub
}

// Next maps go-redis Pub/Sub messages onto frames. go-redis re-subscribes
// transparently after a dropped connection, which surfaces here as a second
// subscription confirmation.
func (c *redisConn) Next(ctx context.Context) (Frame, error) {
	msg, err := c.pubsub.Receive(ctx)
	if err != nil {
		return Frame{}, err
	}
	switch m := msg.(type) {
	case *redis.Subscription:
		if m.Kind == "subscribe" {
			return Frame{Kind: FrameSubscribed}, nil
		}
		return Frame{Kind: FramePing}, nil
	case *redis.Message:
		return Frame{Kind: FrameMessage, Payload: []byte(m.Payload)}, nil
	default:
		return Frame{Kind: FramePing}, nil
	}
}

func (c *redisConn) Close() error {
	return c.pubsub.Close()
}

// RedisPublisher publishes change events to other dashboard instances
type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisPublisher creates a publisher on channel
func NewRedisPublisher(client *redis.Client, channel string, logger *zap.Logger) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPublisher{client: client, channel: channel, logger: logger.Named("push")}
}

// Publish sends ev to every subscriber
func (p *RedisPublisher) Publish(ctx context.Context, ev order.ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		p.logger.Error("Failed to publish change event",
			zap.String("channel", p.channel),
			zap.String("document_id", ev.DocumentID),
			zap.Error(err))
		return fmt.Errorf("failed to publish change event: %w", err)
	}
	p.logger.Debug("Published change event",
		zap.String("operation", string(ev.OperationType)),
		zap.String("document_id", ev.DocumentID))
	return nil
}
