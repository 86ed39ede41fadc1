package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/collabmart/wallet-api/pkg/config"
	"github.com/collabmart/wallet-api/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	WebhookQueue      = "webhook_events"
	FailedQueue       = "failed_webhook_events"
	NotificationQueue = "notification_events"
)

type RedisClient struct {
	Client *redis.Client
}

// WebhookEvent is the payment provider confirmation pushed by the webhook
// handler and consumed by the wallet worker.
type WebhookEvent struct {
	Event     string    `json:"event"`
	Reference string    `json:"reference"`
	Status    string    `json:"status"`
	Amount    int64     `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// Notification is published after every wallet state transition and
// consumed by the notification dispatcher. Delivery is fire-and-forget.
type Notification struct {
	UserID    string                 `json:"user_id"`
	EventType string                 `json:"event_type"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func NewRedisClient(cfg config.Config) *RedisClient {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("Failed to parse Redis url", logger.Fields{"error": err.Error(), "url": cfg.RedisURL})
		opt = &redis.Options{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       0,
		}
	}

	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		logger.Error("Failed to connect to Redis", logger.Fields{"error": err.Error(), "url": cfg.RedisURL})

	} else {
		logger.Info("Connected to Redis", logger.Fields{"url": cfg.RedisURL})
	}

	return &RedisClient{Client: rdb}
}

func (r *RedisClient) PublishEvent(ctx context.Context, event WebhookEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %v", err)
	}

	if err := r.Client.RPush(ctx, WebhookQueue, data).Err(); err != nil {
		return fmt.Errorf("failed to push event to redis: %v", err)
	}

	return nil
}

func (r *RedisClient) PushToDLQ(ctx context.Context, data []byte) error {
	if err := r.Client.RPush(ctx, FailedQueue, data).Err(); err != nil {
		return fmt.Errorf("failed to push event to DLQ: %v", err)
	}
	return nil
}

// Notify publishes a notification event. Failures are logged and swallowed
// so a dispatch problem never rolls back the ledger operation it follows.
func (r *RedisClient) Notify(ctx context.Context, userID, eventType string, payload map[string]interface{}) {
	if r == nil || r.Client == nil {
		return
	}

	n := Notification{
		UserID:    userID,
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(n)
	if err != nil {
		logger.Error("Failed to marshal notification", logger.Fields{"error": err.Error(), "event_type": eventType})
		return
	}

	if err := r.Client.RPush(ctx, NotificationQueue, data).Err(); err != nil {
		logger.Warn("Failed to publish notification", logger.Fields{
			"error":      err.Error(),
			"user_id":    userID,
			"event_type": eventType,
		})
	}
}
