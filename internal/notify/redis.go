package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/enisisuko/ICee-agent/internal/domain"
)

const (
	// DefaultRedisChannel is the pub/sub channel notifications go to.
	DefaultRedisChannel = "icee:runs"

	redisQueueSize      = 1024
	redisPublishTimeout = 2 * time.Second
)

// Publisher is the part of a Redis client the sink uses. *redis.Client
// satisfies it.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisSink publishes notifications as JSON on a Redis pub/sub channel so
// that other processes can follow runs. Publishing happens on a background
// loop; Notify only enqueues.
type RedisSink struct {
	client  Publisher
	channel string
	queue   chan domain.Notification
	logger  *zap.Logger
}

// NewRedisSink creates a sink. Call Run to start publishing.
func NewRedisSink(client Publisher, channel string, logger *zap.Logger) *RedisSink {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSink{
		client:  client,
		channel: channel,
		queue:   make(chan domain.Notification, redisQueueSize),
		logger:  logger,
	}
}

// Notify implements Sink. When the queue is full the notification is dropped.
func (s *RedisSink) Notify(n domain.Notification) {
	select {
	case s.queue <- n:
	default:
		s.logger.Warn("redis notification queue full, dropping",
			zap.String("type", string(n.Type)), zap.String("run_id", n.RunID))
	}
}

// Run publishes queued notifications until ctx is done, then drains what is
// left with a short deadline.
func (s *RedisSink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return nil
		case n := <-s.queue:
			s.publish(ctx, n)
		}
	}
}

func (s *RedisSink) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), redisPublishTimeout)
	defer cancel()
	for {
		select {
		case n := <-s.queue:
			s.publish(ctx, n)
		default:
			return
		}
	}
}

func (s *RedisSink) publish(ctx context.Context, n domain.Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		s.logger.Error("failed to encode notification", zap.String("run_id", n.RunID), zap.Error(err))
		return
	}
	pctx, cancel := context.WithTimeout(ctx, redisPublishTimeout)
	defer cancel()
	if err := s.client.Publish(pctx, s.channel, data).Err(); err != nil {
		s.logger.Error("failed to publish notification",
			zap.String("channel", s.channel),
			zap.String("type", string(n.Type)),
			zap.String("run_id", n.RunID),
			zap.Error(err))
	}
}
