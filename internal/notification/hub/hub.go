package hub

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/quotehive/quotehive/internal/config"
)

func NewRedisClient(lc fx.Lifecycle, cfg config.Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}

// Hub fans live notifications out over redis pub/sub so every API
// instance sees deliveries made by the worker.
type Hub struct {
	rdb *redis.Client
	log *zap.Logger
}

func New(rdb *redis.Client, log *zap.Logger) *Hub {
	return &Hub{rdb: rdb, log: log.Named("notification.hub")}
}

func channelFor(userID int64) string {
	return "notify:" + strconv.FormatInt(userID, 10)
}

// Publish is best effort: a pub/sub failure never fails the delivery,
// the inbox row is the source of truth.
func (h *Hub) Publish(ctx context.Context, userID int64, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("failed to marshal live notification", zap.Error(err))
		return
	}
	if err := h.rdb.Publish(ctx, channelFor(userID), data).Err(); err != nil {
		h.log.Warn("failed to publish live notification",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
	}
}

// Subscribe returns a channel of raw notification payloads for the user.
// The subscription closes when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, userID int64) (<-chan []byte, error) {
	sub := h.rdb.Subscribe(ctx, channelFor(userID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					// Slow consumer; drop rather than block the hub.
				}
			}
		}
	}()
	return out, nil
}
