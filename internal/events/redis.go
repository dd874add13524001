package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"phonon/internal/calls"
)

// publisher is the subset of *redis.Client used here.
type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisPublisher mirrors events onto redis pub/sub so other processes can follow calls.
// Each event goes to "<prefix>:<call_id>" and "<prefix>:all".
type RedisPublisher struct {
	rdb     publisher
	prefix  string
	timeout time.Duration
	log     *slog.Logger
}

func NewRedisPublisher(rdb publisher, prefix string, log *slog.Logger) *RedisPublisher {
	if prefix == "" {
		prefix = "phonon:calls"
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisPublisher{rdb: rdb, prefix: prefix, timeout: 2 * time.Second, log: log}
}

func (p *RedisPublisher) Channel(callID string) string { return p.prefix + ":" + callID }

func (p *RedisPublisher) AllChannel() string { return p.prefix + ":all" }

// Handler returns a dispatcher handler. Publish failures are logged and dropped.
func (p *RedisPublisher) Handler() Handler {
	return func(e calls.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		for _, ch := range []string{p.Channel(e.CallID), p.AllChannel()} {
			if err := p.rdb.Publish(ctx, ch, e).Err(); err != nil {
				p.log.Warn("event publish failed", "channel", ch, "call_id", e.CallID, "err", err)
			}
		}
	}
}
