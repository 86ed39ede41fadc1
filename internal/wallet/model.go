package wallet

import (
	"time"

	"github.com/google/uuid"
)

// Wallet is the authoritative balance/points record for one user. Balance
// is held in minor units (cents). Mutation happens only through the
// repository's atomic apply-delta paths; there is no setter for balance or
// points anywhere else.
type Wallet struct {
	ID            uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primary_key" json:"id"`
	UserID        uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	Balance       int64     `gorm:"not null;default:0" json:"balance"`
	Points        int64     `gorm:"not null;default:0" json:"points"`
	Currency      string    `gorm:"not null;default:USD" json:"currency"`
	IsKycVerified bool      `gorm:"not null;default:false" json:"is_kyc_verified"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type TransactionType string

const (
	TransactionCredit           TransactionType = "credit"
	TransactionDebit            TransactionType = "debit"
	TransactionReferralBonus    TransactionType = "referral_bonus"
	TransactionCampaignSpend    TransactionType = "campaign_spend"
	TransactionCampaignEarning  TransactionType = "campaign_earning"
	TransactionWithdrawal       TransactionType = "withdrawal"
	TransactionPointsConversion TransactionType = "points_conversion"
)

var AllowedAdjustmentTypes = []TransactionType{
	TransactionCredit,
	TransactionDebit,
	TransactionReferralBonus,
	TransactionCampaignSpend,
	TransactionCampaignEarning,
}

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
	TransactionCancelled TransactionStatus = "cancelled"
)

// Transaction is an append-only journal entry. Amount and points are signed
// deltas in the wallet's currency minor unit. Once Status is completed the
// entry is immutable.
type Transaction struct {
	ID          uuid.UUID         `gorm:"type:uuid;default:uuid_generate_v4();primary_key" json:"id"`
	WalletID    uuid.UUID         `gorm:"type:uuid;not null;index" json:"wallet_id"`
	UserID      uuid.UUID         `gorm:"type:uuid;not null;index" json:"user_id"`
	Amount      int64             `gorm:"not null" json:"amount"`
	Points      int64             `gorm:"not null;default:0" json:"points"`
	Type        TransactionType   `gorm:"not null" json:"type"`
	Status      TransactionStatus `gorm:"not null" json:"status"`
	Description string            `json:"description"`
	Reference   *string           `gorm:"uniqueIndex" json:"reference,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

type PaymentMethod string

const (
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentPaypal       PaymentMethod = "paypal"
	PaymentUpi          PaymentMethod = "upi"
)

// PaymentDetails holds the method-specific payout fields. Exactly the
// fields required by the chosen method must be present; Validate names the
// first missing one.
type PaymentDetails struct {
	AccountName   string `json:"account_name,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	BankName      string `json:"bank_name,omitempty"`
	RoutingCode   string `json:"routing_code,omitempty"`
	PaypalEmail   string `json:"paypal_email,omitempty"`
	UpiID         string `json:"upi_id,omitempty"`
}

func (d PaymentDetails) Validate(method PaymentMethod) error {
	switch method {
	case PaymentBankTransfer:
		if d.AccountName == "" {
			return &ValidationError{Field: "account_name"}
		}
		if d.AccountNumber == "" {
			return &ValidationError{Field: "account_number"}
		}
		if d.BankName == "" {
			return &ValidationError{Field: "bank_name"}
		}
		if d.RoutingCode == "" {
			return &ValidationError{Field: "routing_code"}
		}
	case PaymentPaypal:
		if d.PaypalEmail == "" {
			return &ValidationError{Field: "paypal_email"}
		}
	case PaymentUpi:
		if d.UpiID == "" {
			return &ValidationError{Field: "upi_id"}
		}
	default:
		return &ValidationError{Field: "payment_method", Reason: "unsupported method"}
	}
	return nil
}

type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "pending"
	WithdrawalApproved  WithdrawalStatus = "approved"
	WithdrawalRejected  WithdrawalStatus = "rejected"
	WithdrawalProcessed WithdrawalStatus = "processed"
)

// CanTransitionTo encodes the withdrawal lifecycle:
// pending -> approved -> processed, with rejection allowed from pending or
// approved. rejected and processed are terminal.
func (s WithdrawalStatus) CanTransitionTo(next WithdrawalStatus) bool {
	switch s {
	case WithdrawalPending:
		return next == WithdrawalApproved || next == WithdrawalRejected
	case WithdrawalApproved:
		return next == WithdrawalProcessed || next == WithdrawalRejected
	default:
		return false
	}
}

// WithdrawalRequest tracks one payout attempt. The requested amount is
// reserved (deducted from the available balance) the moment the request is
// created, so two concurrent requests cannot spend the same funds.
type WithdrawalRequest struct {
	ID                uuid.UUID        `gorm:"type:uuid;default:uuid_generate_v4();primary_key" json:"id"`
	UserID            uuid.UUID        `gorm:"type:uuid;not null;index" json:"user_id"`
	WalletID          uuid.UUID        `gorm:"type:uuid;not null" json:"wallet_id"`
	Amount            int64            `gorm:"not null" json:"amount"`
	PaymentMethod     PaymentMethod    `gorm:"not null" json:"payment_method"`
	PaymentDetails    PaymentDetails   `gorm:"serializer:json" json:"payment_details"`
	Status            WithdrawalStatus `gorm:"not null;default:pending;index" json:"status"`
	AdminNotes        string           `json:"admin_notes,omitempty"`
	ProviderReference string           `json:"provider_reference,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}
