package wallet

import (
	"context"
	"encoding/json"
	"time"

	"github.com/collabmart/wallet-api/pkg/config"
	"github.com/collabmart/wallet-api/pkg/events"
	"github.com/collabmart/wallet-api/pkg/logger"
)

// WebhookWorker consumes provider confirmations off the Redis queue and
// applies them to the ledger. Transient failures retry with linear backoff;
// events that keep failing land on the dead-letter queue. Settlement is
// idempotent, so a retried event can never double-credit.
type WebhookWorker struct {
	Config      config.Config
	Repo        Repository
	RedisClient *events.RedisClient
}

func NewWebhookWorker(cfg config.Config, repo Repository, redisClient *events.RedisClient) *WebhookWorker {
	return &WebhookWorker{Config: cfg, Repo: repo, RedisClient: redisClient}
}

func (w *WebhookWorker) Start() {
	logger.Info("Starting webhook worker...")
	go w.processEvents()
}

func (w *WebhookWorker) processEvents() {
	for {
		result, err := w.RedisClient.Client.BLPop(context.Background(), 5*time.Second, events.WebhookQueue).Result()
		if err != nil {
			continue
		}

		eventData := []byte(result[1])
		var event events.WebhookEvent
		if err := json.Unmarshal(eventData, &event); err != nil {
			logger.Error("WebhookWorker: Failed to unmarshal event", logger.Fields{"error": err.Error(), "data": string(eventData)})
			w.moveToDLQ(eventData)
			continue
		}

		w.handleEvent(event, eventData)
	}
}

func (w *WebhookWorker) handleEvent(event events.WebhookEvent, rawData []byte) {
	maxRetries := 3
	for i := 0; i < maxRetries; i++ {
		var err error
		switch event.Event {
		case "charge.success":
			err = w.Repo.SettleCredit(event.Reference, event.Amount)
			if err == nil {
				w.notifyCredit(event)
			}
		case "charge.failed":
			err = w.Repo.FailTransaction(event.Reference)
		default:
			logger.Warn("WebhookWorker: Unknown event type", logger.Fields{"event": event.Event, "reference": event.Reference})
			return
		}

		if err == nil {
			logger.Info("WebhookWorker: Successfully processed event", logger.Fields{"event": event.Event, "reference": event.Reference})
			return
		}

		logger.Warn("WebhookWorker: Failed to process event, retrying", logger.Fields{
			"event":     event.Event,
			"reference": event.Reference,
			"attempt":   i + 1,
			"error":     err.Error(),
		})
		time.Sleep(time.Duration(i+1) * time.Second)
	}

	logger.Error("WebhookWorker: Max retries exhausted, moving to DLQ", logger.Fields{"reference": event.Reference})
	w.moveToDLQ(rawData)
}

func (w *WebhookWorker) notifyCredit(event events.WebhookEvent) {
	tx, err := w.Repo.GetTransactionByReference(event.Reference)
	if err != nil {
		logger.Warn("WebhookWorker: Settled credit not found for notification", logger.Fields{"reference": event.Reference})
		return
	}

	w.RedisClient.Notify(context.Background(), tx.UserID.String(), "deposit_completed", map[string]interface{}{
		"reference": event.Reference,
		"amount":    event.Amount,
	})
}

func (w *WebhookWorker) moveToDLQ(data []byte) {
	if err := w.RedisClient.PushToDLQ(context.Background(), data); err != nil {
		logger.Error("Worker: Failed to push to DLQ", logger.Fields{"error": err.Error()})
	}
}
