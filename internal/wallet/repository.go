package wallet

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TransactionFilter narrows the journal listing. Zero values mean "no
// filter" for that dimension.
type TransactionFilter struct {
	Type   TransactionType
	Status TransactionStatus
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

type Repository interface {
	GetOrCreateWallet(userID uuid.UUID, currency string) (*Wallet, error)
	SetKycVerified(userID uuid.UUID, verified bool) (*Wallet, error)

	CreatePendingCredit(userID uuid.UUID, amount int64, reference, description string) (*Transaction, error)
	SettleCredit(reference string, amount int64) error
	FailTransaction(reference string) error
	RecordAdjustment(userID uuid.UUID, amount, points int64, txType TransactionType, description string, reference *string) (*Transaction, error)
	GetTransactionByReference(reference string) (*Transaction, error)
	ListTransactions(userID uuid.UUID, filter TransactionFilter) ([]Transaction, int64, error)

	CreateWithdrawal(userID uuid.UUID, amount int64, method PaymentMethod, details PaymentDetails) (*WithdrawalRequest, error)
	GetWithdrawal(id uuid.UUID) (*WithdrawalRequest, error)
	ListWithdrawals(userID uuid.UUID, limit, offset int) ([]WithdrawalRequest, error)
	ListWithdrawalsByStatus(status WithdrawalStatus, limit, offset int) ([]WithdrawalRequest, error)
	ApproveWithdrawal(id uuid.UUID, notes string) (*WithdrawalRequest, error)
	RejectWithdrawal(id uuid.UUID, notes string) (*WithdrawalRequest, error)
	ProcessWithdrawal(id uuid.UUID, providerRef string) (*WithdrawalRequest, error)

	ConvertPoints(userID uuid.UUID, points int64, policy ConversionPolicy) (*Transaction, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// applyDelta is the single mutation path for balance and points. The
// conditional UPDATE serializes concurrent writers on the wallet row and
// rejects any delta that would drive either field negative. Callers must
// pair it with a journal write inside the same database transaction.
func applyDelta(tx *gorm.DB, walletID uuid.UUID, amountDelta, pointsDelta int64) error {
	res := tx.Model(&Wallet{}).
		Where("id = ? AND balance + ? >= 0 AND points + ? >= 0", walletID, amountDelta, pointsDelta).
		UpdateColumns(map[string]interface{}{
			"balance":    gorm.Expr("balance + ?", amountDelta),
			"points":     gorm.Expr("points + ?", pointsDelta),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var w Wallet
		if err := tx.Where("id = ?", walletID).First(&w).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrWalletNotFound
			}
			return err
		}
		if w.Balance+amountDelta < 0 {
			return ErrInsufficientFunds
		}
		return ErrInsufficientPoints
	}
	return nil
}

// markStatus transitions a journal entry. Completed entries are immutable.
func markStatus(tx *gorm.DB, reference string, status TransactionStatus) error {
	res := tx.Model(&Transaction{}).
		Where("reference = ? AND status <> ?", reference, TransactionCompleted).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := tx.Model(&Transaction{}).Where("reference = ?", reference).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return gorm.ErrRecordNotFound
		}
		return ErrImmutableTransaction
	}
	return nil
}

func translateDuplicate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateReference
	}
	return err
}

func (r *repository) GetOrCreateWallet(userID uuid.UUID, currency string) (*Wallet, error) {
	var w Wallet
	err := r.db.Where(Wallet{UserID: userID}).
		Attrs(Wallet{ID: uuid.New(), Currency: currency}).
		FirstOrCreate(&w).Error
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *repository) SetKycVerified(userID uuid.UUID, verified bool) (*Wallet, error) {
	wallet, err := r.GetOrCreateWallet(userID, "")
	if err != nil {
		return nil, err
	}

	if err := r.db.Model(&Wallet{}).Where("id = ?", wallet.ID).Update("is_kyc_verified", verified).Error; err != nil {
		return nil, err
	}
	wallet.IsKycVerified = verified
	return wallet, nil
}

func (r *repository) CreatePendingCredit(userID uuid.UUID, amount int64, reference, description string) (*Transaction, error) {
	wallet, err := r.GetOrCreateWallet(userID, "")
	if err != nil {
		return nil, err
	}

	tx := Transaction{
		WalletID:    wallet.ID,
		UserID:      userID,
		Amount:      amount,
		Type:        TransactionCredit,
		Status:      TransactionPending,
		Description: description,
		Reference:   &reference,
	}
	if err := r.db.Create(&tx).Error; err != nil {
		return nil, translateDuplicate(err)
	}
	return &tx, nil
}

// SettleCredit applies a provider-confirmed credit. The completion is a
// conditional UPDATE, so concurrent deliveries of the same confirmation
// race on the row and exactly one applies the balance delta; the rest see
// an already-completed entry and return nil.
func (r *repository) SettleCredit(reference string, amount int64) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Transaction{}).
			Where("reference = ? AND status <> ?", reference, TransactionCompleted).
			UpdateColumns(map[string]interface{}{
				"amount":     amount,
				"status":     TransactionCompleted,
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&Transaction{}).Where("reference = ?", reference).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return gorm.ErrRecordNotFound
			}
			return nil
		}

		var entry Transaction
		if err := tx.Where("reference = ?", reference).First(&entry).Error; err != nil {
			return err
		}
		return applyDelta(tx, entry.WalletID, amount, 0)
	})
}

func (r *repository) FailTransaction(reference string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return markStatus(tx, reference, TransactionFailed)
	})
}

// RecordAdjustment applies a signed balance/points delta and writes the
// matching completed journal entry as one unit. A duplicate reference
// reports ErrDuplicateReference with nothing applied.
func (r *repository) RecordAdjustment(userID uuid.UUID, amount, points int64, txType TransactionType, description string, reference *string) (*Transaction, error) {
	wallet, err := r.GetOrCreateWallet(userID, "")
	if err != nil {
		return nil, err
	}

	entry := Transaction{
		WalletID:    wallet.ID,
		UserID:      userID,
		Amount:      amount,
		Points:      points,
		Type:        txType,
		Status:      TransactionCompleted,
		Description: description,
		Reference:   reference,
	}

	err = r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&entry).Error; err != nil {
			return translateDuplicate(err)
		}
		return applyDelta(tx, wallet.ID, amount, points)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) GetTransactionByReference(reference string) (*Transaction, error) {
	var tx Transaction
	if err := r.db.Where("reference = ?", reference).First(&tx).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *repository) ListTransactions(userID uuid.UUID, filter TransactionFilter) ([]Transaction, int64, error) {
	q := r.db.Model(&Transaction{}).Where("user_id = ?", userID)
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.From != nil {
		q = q.Where("created_at >= ?", filter.From)
	}
	if filter.To != nil {
		q = q.Where("created_at <= ?", filter.To)
	}

	var count int64
	if err := q.Count(&count).Error; err != nil {
		return nil, 0, err
	}

	var txs []Transaction
	err := q.Order("created_at desc").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&txs).Error
	return txs, count, err
}

func withdrawalReference(id uuid.UUID) string {
	return "wd-" + id.String()
}

// CreateWithdrawal reserves the requested amount immediately: the request
// row, the balance deduction and the pending journal entry land in one
// database transaction, so concurrent requests cannot double-spend.
func (r *repository) CreateWithdrawal(userID uuid.UUID, amount int64, method PaymentMethod, details PaymentDetails) (*WithdrawalRequest, error) {
	req := WithdrawalRequest{
		ID:             uuid.New(),
		UserID:         userID,
		Amount:         amount,
		PaymentMethod:  method,
		PaymentDetails: details,
		Status:         WithdrawalPending,
	}

	err := r.db.Transaction(func(tx *gorm.DB) error {
		var wallet Wallet
		if err := tx.Where("user_id = ?", userID).First(&wallet).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrWalletNotFound
			}
			return err
		}

		if !wallet.IsKycVerified {
			return ErrKycRequired
		}

		req.WalletID = wallet.ID
		if err := applyDelta(tx, wallet.ID, -amount, 0); err != nil {
			return err
		}

		if err := tx.Create(&req).Error; err != nil {
			return err
		}

		ref := withdrawalReference(req.ID)
		entry := Transaction{
			WalletID:    wallet.ID,
			UserID:      userID,
			Amount:      -amount,
			Type:        TransactionWithdrawal,
			Status:      TransactionPending,
			Description: "Withdrawal via " + string(method),
			Reference:   &ref,
		}
		return tx.Create(&entry).Error
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *repository) GetWithdrawal(id uuid.UUID) (*WithdrawalRequest, error) {
	var req WithdrawalRequest
	if err := r.db.Where("id = ?", id).First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}
	return &req, nil
}

func (r *repository) ListWithdrawals(userID uuid.UUID, limit, offset int) ([]WithdrawalRequest, error) {
	var reqs []WithdrawalRequest
	err := r.db.Where("user_id = ?", userID).
		Order("created_at desc").
		Limit(limit).
		Offset(offset).
		Find(&reqs).Error
	return reqs, err
}

func (r *repository) ListWithdrawalsByStatus(status WithdrawalStatus, limit, offset int) ([]WithdrawalRequest, error) {
	var reqs []WithdrawalRequest
	q := r.db.Order("created_at asc").Limit(limit).Offset(offset)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Find(&reqs).Error
	return reqs, err
}

// transitionWithdrawal validates the state machine and hands the row to
// apply for the side effects of the transition. The final UPDATE is
// conditional on the status the row was read at, so a concurrent
// transition that commits first turns this one into ErrInvalidTransition
// and rolls its side effects back.
func (r *repository) transitionWithdrawal(id uuid.UUID, next WithdrawalStatus, apply func(tx *gorm.DB, req *WithdrawalRequest) error) (*WithdrawalRequest, error) {
	var req WithdrawalRequest
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&req).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrWithdrawalNotFound
			}
			return err
		}

		if !req.Status.CanTransitionTo(next) {
			return ErrInvalidTransition
		}

		if err := apply(tx, &req); err != nil {
			return err
		}

		prev := req.Status
		req.Status = next
		res := tx.Model(&WithdrawalRequest{}).
			Where("id = ? AND status = ?", id, prev).
			UpdateColumns(map[string]interface{}{
				"status":             req.Status,
				"admin_notes":        req.AdminNotes,
				"provider_reference": req.ProviderReference,
				"updated_at":         time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidTransition
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// ApproveWithdrawal moves pending -> approved. No ledger effect: the funds
// were already reserved at request time.
func (r *repository) ApproveWithdrawal(id uuid.UUID, notes string) (*WithdrawalRequest, error) {
	return r.transitionWithdrawal(id, WithdrawalApproved, func(tx *gorm.DB, req *WithdrawalRequest) error {
		req.AdminNotes = notes
		return nil
	})
}

// RejectWithdrawal releases the reservation: the amount returns to the
// balance and the original journal entry is marked failed.
func (r *repository) RejectWithdrawal(id uuid.UUID, notes string) (*WithdrawalRequest, error) {
	return r.transitionWithdrawal(id, WithdrawalRejected, func(tx *gorm.DB, req *WithdrawalRequest) error {
		req.AdminNotes = notes
		if err := applyDelta(tx, req.WalletID, req.Amount, 0); err != nil {
			return err
		}
		return markStatus(tx, withdrawalReference(req.ID), TransactionFailed)
	})
}

// ProcessWithdrawal moves approved -> processed once the payout provider
// confirms. The journal entry becomes completed; no further delta, the
// deduction happened at request time.
func (r *repository) ProcessWithdrawal(id uuid.UUID, providerRef string) (*WithdrawalRequest, error) {
	return r.transitionWithdrawal(id, WithdrawalProcessed, func(tx *gorm.DB, req *WithdrawalRequest) error {
		req.ProviderReference = providerRef
		return markStatus(tx, withdrawalReference(req.ID), TransactionCompleted)
	})
}

// ConvertPoints exchanges points for balance at the policy rate, writing
// the journal entry and both deltas atomically.
func (r *repository) ConvertPoints(userID uuid.UUID, points int64, policy ConversionPolicy) (*Transaction, error) {
	var entry Transaction
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var wallet Wallet
		if err := tx.Where("user_id = ?", userID).First(&wallet).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrWalletNotFound
			}
			return err
		}

		if err := policy.Check(points, wallet.Points); err != nil {
			return err
		}

		cash := policy.CashValueMinor(points)
		if err := applyDelta(tx, wallet.ID, cash, -points); err != nil {
			return err
		}

		entry = Transaction{
			WalletID:    wallet.ID,
			UserID:      userID,
			Amount:      cash,
			Points:      -points,
			Type:        TransactionPointsConversion,
			Status:      TransactionCompleted,
			Description: "Points conversion",
		}
		return tx.Create(&entry).Error
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
