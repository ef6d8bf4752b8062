package beat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"taskbeat/internal/logging"
	"taskbeat/internal/services"
)

// Redis beats queues named by messages published on a channel. An empty
// message beats every queue.
type Redis struct {
	Client  redis.UniversalClient
	Channel string
	Logger  *slog.Logger
}

// NewRedis connects to url and verifies the server answers.
func NewRedis(ctx context.Context, url, channel string, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "beat", "parse redis url", "", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, services.Wrap(services.ErrTransient, "beat", "ping redis", opts.Addr, err)
	}
	return &Redis{Client: client, Channel: channel, Logger: logger}, nil
}

func (r *Redis) Name() string { return "redis" }

// Run subscribes to Channel and triggers a beat per message until ctx is done.
func (r *Redis) Run(ctx context.Context, trigger Trigger) error {
	logger := logging.NewComponentLogger(r.Logger, "beat-redis")
	sub := r.Client.Subscribe(ctx, r.Channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", r.Channel, err)
	}
	logger.Info("beat subscription started", logging.String("channel", r.Channel))

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			name := QueueFromMessage(msg.Payload)
			logger.Debug("beat message received", logging.String(logging.FieldQueue, name))
			trigger(name)
		}
	}
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.Client.Close()
}

// QueueFromMessage extracts the target queue from a beat message body.
func QueueFromMessage(payload string) string {
	return strings.TrimSpace(payload)
}
