package journal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultChannel = "cryptoexchange:orders"
	publishTimeout = 3 * time.Second
)

// RedisPublisher publishes every event as JSON on a channel.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Channel() string { return p.channel }

func (p *RedisPublisher) Record(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshal order event")
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return errors.Wrapf(err, "publish to %s", p.channel)
	}
	return nil
}
