package wallet

import (
	"testing"

	"github.com/collabmart/wallet-api/pkg/events"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerSettlesSuccessfulCharge(t *testing.T) {
	repo := newMemRepo()
	userID := uuid.New()
	repo.seedWallet(userID, 0, 0, false)

	_, err := repo.CreatePendingCredit(userID, 5000, "dep-ref-1", "Wallet deposit via checkout")
	require.NoError(t, err)

	w := NewWebhookWorker(testConfig(), repo, nil)
	event := events.WebhookEvent{Event: "charge.success", Reference: "dep-ref-1", Status: "success", Amount: 5000}
	w.handleEvent(event, nil)

	assert.Equal(t, int64(5000), repo.balance(userID))

	tx, err := repo.GetTransactionByReference("dep-ref-1")
	require.NoError(t, err)
	assert.Equal(t, TransactionCompleted, tx.Status)

	// redelivery of the same event must not credit twice
	w.handleEvent(event, nil)
	assert.Equal(t, int64(5000), repo.balance(userID))
}

func TestWorkerFailsDeclinedCharge(t *testing.T) {
	repo := newMemRepo()
	userID := uuid.New()
	repo.seedWallet(userID, 0, 0, false)

	_, err := repo.CreatePendingCredit(userID, 5000, "dep-ref-2", "Wallet deposit via checkout")
	require.NoError(t, err)

	w := NewWebhookWorker(testConfig(), repo, nil)
	w.handleEvent(events.WebhookEvent{Event: "charge.failed", Reference: "dep-ref-2", Status: "failed"}, nil)

	assert.Equal(t, int64(0), repo.balance(userID))

	tx, err := repo.GetTransactionByReference("dep-ref-2")
	require.NoError(t, err)
	assert.Equal(t, TransactionFailed, tx.Status)
}

func TestWorkerIgnoresUnknownEvent(t *testing.T) {
	repo := newMemRepo()
	userID := uuid.New()
	repo.seedWallet(userID, 1000, 0, false)

	w := NewWebhookWorker(testConfig(), repo, nil)
	w.handleEvent(events.WebhookEvent{Event: "transfer.success", Reference: "unrelated"}, nil)

	assert.Equal(t, int64(1000), repo.balance(userID))
}
