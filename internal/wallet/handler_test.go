package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/collabmart/wallet-api/internal/user"
	"github.com/collabmart/wallet-api/pkg/config"
	"github.com/collabmart/wallet-api/pkg/utils"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// memRepo is an in-memory Repository honoring the same contract as the
// database-backed one: every mutation is atomic under the mutex, balances
// never go negative and every balance change has a journal entry.
type memRepo struct {
	mu          sync.Mutex
	wallets     map[uuid.UUID]*Wallet // keyed by user id
	journal     []*Transaction
	byReference map[string]*Transaction
	withdrawals map[uuid.UUID]*WithdrawalRequest
}

func newMemRepo() *memRepo {
	return &memRepo{
		wallets:     make(map[uuid.UUID]*Wallet),
		byReference: make(map[string]*Transaction),
		withdrawals: make(map[uuid.UUID]*WithdrawalRequest),
	}
}

func (m *memRepo) seedWallet(userID uuid.UUID, balance, points int64, kyc bool) *Wallet {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := &Wallet{ID: uuid.New(), UserID: userID, Balance: balance, Points: points, Currency: "USD", IsKycVerified: kyc}
	m.wallets[userID] = w
	return w
}

func (m *memRepo) walletByID(walletID uuid.UUID) *Wallet {
	for _, w := range m.wallets {
		if w.ID == walletID {
			return w
		}
	}
	return nil
}

func (m *memRepo) applyDelta(w *Wallet, amountDelta, pointsDelta int64) error {
	if w.Balance+amountDelta < 0 {
		return ErrInsufficientFunds
	}
	if w.Points+pointsDelta < 0 {
		return ErrInsufficientPoints
	}
	w.Balance += amountDelta
	w.Points += pointsDelta
	return nil
}

func (m *memRepo) record(tx *Transaction) error {
	if tx.Reference != nil {
		if _, exists := m.byReference[*tx.Reference]; exists {
			return ErrDuplicateReference
		}
	}
	tx.ID = uuid.New()
	tx.CreatedAt = time.Now()
	m.journal = append(m.journal, tx)
	if tx.Reference != nil {
		m.byReference[*tx.Reference] = tx
	}
	return nil
}

func (m *memRepo) GetOrCreateWallet(userID uuid.UUID, currency string) (*Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.wallets[userID]; ok {
		cp := *w
		return &cp, nil
	}
	w := &Wallet{ID: uuid.New(), UserID: userID, Currency: currency}
	m.wallets[userID] = w
	cp := *w
	return &cp, nil
}

func (m *memRepo) SetKycVerified(userID uuid.UUID, verified bool) (*Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[userID]
	if !ok {
		w = &Wallet{ID: uuid.New(), UserID: userID}
		m.wallets[userID] = w
	}
	w.IsKycVerified = verified
	cp := *w
	return &cp, nil
}

func (m *memRepo) CreatePendingCredit(userID uuid.UUID, amount int64, reference, description string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[userID]
	if !ok {
		w = &Wallet{ID: uuid.New(), UserID: userID}
		m.wallets[userID] = w
	}
	tx := &Transaction{WalletID: w.ID, UserID: userID, Amount: amount, Type: TransactionCredit, Status: TransactionPending, Description: description, Reference: &reference}
	if err := m.record(tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (m *memRepo) SettleCredit(reference string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.byReference[reference]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if tx.Status == TransactionCompleted {
		return nil
	}
	w := m.walletByID(tx.WalletID)
	if w == nil {
		return ErrWalletNotFound
	}
	if err := m.applyDelta(w, amount, 0); err != nil {
		return err
	}
	tx.Amount = amount
	tx.Status = TransactionCompleted
	return nil
}

func (m *memRepo) FailTransaction(reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markStatus(reference, TransactionFailed)
}

func (m *memRepo) markStatus(reference string, status TransactionStatus) error {
	tx, ok := m.byReference[reference]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if tx.Status == TransactionCompleted {
		return ErrImmutableTransaction
	}
	tx.Status = status
	return nil
}

func (m *memRepo) RecordAdjustment(userID uuid.UUID, amount, points int64, txType TransactionType, description string, reference *string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[userID]
	if !ok {
		w = &Wallet{ID: uuid.New(), UserID: userID}
		m.wallets[userID] = w
	}
	tx := &Transaction{WalletID: w.ID, UserID: userID, Amount: amount, Points: points, Type: txType, Status: TransactionCompleted, Description: description, Reference: reference}
	if err := m.record(tx); err != nil {
		return nil, err
	}
	if err := m.applyDelta(w, amount, points); err != nil {
		return nil, err
	}
	return tx, nil
}

func (m *memRepo) GetTransactionByReference(reference string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.byReference[reference]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *tx
	return &cp, nil
}

func (m *memRepo) ListTransactions(userID uuid.UUID, filter TransactionFilter) ([]Transaction, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []Transaction
	for _, tx := range m.journal {
		if tx.UserID != userID {
			continue
		}
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		if filter.From != nil && tx.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && tx.CreatedAt.After(*filter.To) {
			continue
		}
		matched = append(matched, *tx)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	count := int64(len(matched))
	if filter.Offset < len(matched) {
		matched = matched[filter.Offset:]
	} else {
		matched = nil
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, count, nil
}

func (m *memRepo) CreateWithdrawal(userID uuid.UUID, amount int64, method PaymentMethod, details PaymentDetails) (*WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[userID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	if !w.IsKycVerified {
		return nil, ErrKycRequired
	}
	if err := m.applyDelta(w, -amount, 0); err != nil {
		return nil, err
	}
	req := &WithdrawalRequest{ID: uuid.New(), UserID: userID, WalletID: w.ID, Amount: amount, PaymentMethod: method, PaymentDetails: details, Status: WithdrawalPending, CreatedAt: time.Now()}
	m.withdrawals[req.ID] = req
	ref := withdrawalReference(req.ID)
	entry := &Transaction{WalletID: w.ID, UserID: userID, Amount: -amount, Type: TransactionWithdrawal, Status: TransactionPending, Reference: &ref}
	if err := m.record(entry); err != nil {
		return nil, err
	}
	cp := *req
	return &cp, nil
}

func (m *memRepo) GetWithdrawal(id uuid.UUID) (*WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.withdrawals[id]
	if !ok {
		return nil, ErrWithdrawalNotFound
	}
	cp := *req
	return &cp, nil
}

func (m *memRepo) ListWithdrawals(userID uuid.UUID, limit, offset int) ([]WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var reqs []WithdrawalRequest
	for _, req := range m.withdrawals {
		if req.UserID == userID {
			reqs = append(reqs, *req)
		}
	}
	return reqs, nil
}

func (m *memRepo) ListWithdrawalsByStatus(status WithdrawalStatus, limit, offset int) ([]WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var reqs []WithdrawalRequest
	for _, req := range m.withdrawals {
		if status == "" || req.Status == status {
			reqs = append(reqs, *req)
		}
	}
	return reqs, nil
}

func (m *memRepo) transition(id uuid.UUID, next WithdrawalStatus, apply func(req *WithdrawalRequest) error) (*WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.withdrawals[id]
	if !ok {
		return nil, ErrWithdrawalNotFound
	}
	if !req.Status.CanTransitionTo(next) {
		return nil, ErrInvalidTransition
	}
	if err := apply(req); err != nil {
		return nil, err
	}
	req.Status = next
	cp := *req
	return &cp, nil
}

func (m *memRepo) ApproveWithdrawal(id uuid.UUID, notes string) (*WithdrawalRequest, error) {
	return m.transition(id, WithdrawalApproved, func(req *WithdrawalRequest) error {
		req.AdminNotes = notes
		return nil
	})
}

func (m *memRepo) RejectWithdrawal(id uuid.UUID, notes string) (*WithdrawalRequest, error) {
	return m.transition(id, WithdrawalRejected, func(req *WithdrawalRequest) error {
		req.AdminNotes = notes
		w := m.walletByID(req.WalletID)
		if w == nil {
			return ErrWalletNotFound
		}
		if err := m.applyDelta(w, req.Amount, 0); err != nil {
			return err
		}
		return m.markStatus(withdrawalReference(req.ID), TransactionFailed)
	})
}

func (m *memRepo) ProcessWithdrawal(id uuid.UUID, providerRef string) (*WithdrawalRequest, error) {
	return m.transition(id, WithdrawalProcessed, func(req *WithdrawalRequest) error {
		req.ProviderReference = providerRef
		return m.markStatus(withdrawalReference(req.ID), TransactionCompleted)
	})
}

func (m *memRepo) ConvertPoints(userID uuid.UUID, points int64, policy ConversionPolicy) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[userID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	if err := policy.Check(points, w.Points); err != nil {
		return nil, err
	}
	cash := policy.CashValueMinor(points)
	if err := m.applyDelta(w, cash, -points); err != nil {
		return nil, err
	}
	tx := &Transaction{WalletID: w.ID, UserID: userID, Amount: cash, Points: -points, Type: TransactionPointsConversion, Status: TransactionCompleted}
	if err := m.record(tx); err != nil {
		return nil, err
	}
	cp := *tx
	return &cp, nil
}

func (m *memRepo) balance(userID uuid.UUID) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wallets[userID].Balance
}

func (m *memRepo) points(userID uuid.UUID) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wallets[userID].Points
}

func testConfig() config.Config {
	return config.Config{
		Currency:       "USD",
		ConversionRate: decimal.RequireFromString("0.10"),
		MinConvertible: 100,
		MinWithdrawal:  500,
		ProviderSecret: "whsec_test",
	}
}

func newTestHandler() (*Handler, *memRepo) {
	repo := newMemRepo()
	return &Handler{Config: testConfig(), Repo: repo}, repo
}

func authedRequest(method, target string, body interface{}, userID uuid.UUID) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	ctx := context.WithValue(req.Context(), utils.UserKey, user.User{ID: userID, Email: "test@example.com"})
	return req.WithContext(ctx)
}

func TestRequestWithdrawalKycGate(t *testing.T) {
	h, repo := newTestHandler()
	userID := uuid.New()
	repo.seedWallet(userID, 10000, 0, false)

	req := authedRequest("POST", "/api/wallet/withdrawals", WithdrawalRequestBody{
		Amount:         1000,
		PaymentMethod:  PaymentUpi,
		PaymentDetails: PaymentDetails{UpiID: "a@b"},
	}, userID)
	rr := httptest.NewRecorder()
	h.RequestWithdrawal(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, int64(10000), repo.balance(userID))
}

func TestRequestWithdrawalValidation(t *testing.T) {
	h, repo := newTestHandler()
	userID := uuid.New()
	repo.seedWallet(userID, 10000, 0, true)

	tests := []struct {
		name string
		body WithdrawalRequestBody
	}{
		{"zero amount", WithdrawalRequestBody{Amount: 0, PaymentMethod: PaymentUpi, PaymentDetails: PaymentDetails{UpiID: "a@b"}}},
		{"below minimum", WithdrawalRequestBody{Amount: 100, PaymentMethod: PaymentUpi, PaymentDetails: PaymentDetails{UpiID: "a@b"}}},
		{"missing upi id", WithdrawalRequestBody{Amount: 1000, PaymentMethod: PaymentUpi}},
		{"missing bank fields", WithdrawalRequestBody{Amount: 1000, PaymentMethod: PaymentBankTransfer, PaymentDetails: PaymentDetails{AccountName: "Jane"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.RequestWithdrawal(rr, authedRequest("POST", "/api/wallet/withdrawals", tt.body, userID))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, int64(10000), repo.balance(userID))
		})
	}
}

func TestWithdrawalReserveAndReject(t *testing.T) {
	h, repo := newTestHandler()
	userID := uuid.New()
	repo.seedWallet(userID, 10000, 0, true)

	rr := httptest.NewRecorder()
	h.RequestWithdrawal(rr, authedRequest("POST", "/api/wallet/withdrawals", WithdrawalRequestBody{
		Amount:         4000,
		PaymentMethod:  PaymentUpi,
		PaymentDetails: PaymentDetails{UpiID: "a@b"},
	}, userID))
	require.Equal(t, http.StatusCreated, rr.Code)

	// reservation removes the amount from the available balance immediately
	assert.Equal(t, int64(6000), repo.balance(userID))

	reqs, err := repo.ListWithdrawals(userID, 10, 0)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, WithdrawalPending, reqs[0].Status)

	rejectReq := authedRequest("POST", "/api/admin/withdrawals/x/reject", ReviewRequest{Notes: "account mismatch"}, userID)
	rejectReq = mux.SetURLVars(rejectReq, map[string]string{"id": reqs[0].ID.String()})
	rr = httptest.NewRecorder()
	h.AdminRejectWithdrawal(rr, rejectReq)
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, int64(10000), repo.balance(userID))

	rejected, err := repo.GetWithdrawal(reqs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, WithdrawalRejected, rejected.Status)

	entry, err := repo.GetTransactionByReference(withdrawalReference(reqs[0].ID))
	require.NoError(t, err)
	assert.Equal(t, TransactionFailed, entry.Status)
}

func TestWithdrawalApproveThenProcess(t *testing.T) {
	h, repo := newTestHandler()
	userID := uuid.New()
	repo.seedWallet(userID, 10000, 0, true)

	rr := httptest.NewRecorder()
	h.RequestWithdrawal(rr, authedRequest("POST", "/api/wallet/withdrawals", WithdrawalRequestBody{
		Amount:         4000,
		PaymentMethod:  PaymentPaypal,
		PaymentDetails: PaymentDetails{PaypalEmail: "jane@example.com"},
	}, userID))
	require.Equal(t, http.StatusCreated, rr.Code)

	reqs, _ := repo.ListWithdrawals(userID, 10, 0)
	require.Len(t, reqs, 1)
	id := reqs[0].ID

	// pending cannot jump straight to processed
	processReq := mux.SetURLVars(authedRequest("POST", "/x", ReviewRequest{ProviderReference: "po_1"}, userID), map[string]string{"id": id.String()})
	rr = httptest.NewRecorder()
	h.AdminProcessWithdrawal(rr, processReq)
	assert.Equal(t, http.StatusConflict, rr.Code)

	approveReq := mux.SetURLVars(authedRequest("POST", "/x", ReviewRequest{Notes: "ok"}, userID), map[string]string{"id": id.String()})
	rr = httptest.NewRecorder()
	h.AdminApproveWithdrawal(rr, approveReq)
	require.Equal(t, http.StatusOK, rr.Code)

	// approval reserves nothing further
	assert.Equal(t, int64(6000), repo.balance(userID))

	processReq = mux.SetURLVars(authedRequest("POST", "/x", ReviewRequest{ProviderReference: "po_1"}, userID), map[string]string{"id": id.String()})
	rr = httptest.NewRecorder()
	h.AdminProcessWithdrawal(rr, processReq)
	require.Equal(t, http.StatusOK, rr.Code)

	processed, err := repo.GetWithdrawal(id)
	require.NoError(t, err)
	assert.Equal(t, WithdrawalProcessed, processed.Status)
	assert.Equal(t, "po_1", processed.ProviderReference)

	entry, err := repo.GetTransactionByReference(withdrawalReference(id))
	require.NoError(t, err)
	assert.Equal(t, TransactionCompleted, entry.Status)
	assert.Equal(t, int64(-4000), entry.Amount)

	// terminal: a processed request rejects any further transition
	rejectReq := mux.SetURLVars(authedRequest("POST", "/x", ReviewRequest{Notes: "late"}, userID), map[string]string{"id": id.String()})
	rr = httptest.NewRecorder()
	h.AdminRejectWithdrawal(rr, rejectReq)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, int64(6000), repo.balance(userID))
}

func TestConcurrentWithdrawalsCannotOverdraw(t *testing.T) {
	h, repo := newTestHandler()
	userID := uuid.New()
	repo.seedWallet(userID, 10000, 0, true)

	codes := make(chan int, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rr := httptest.NewRecorder()
			h.RequestWithdrawal(rr, authedRequest("POST", "/api/wallet/withdrawals", WithdrawalRequestBody{
				Amount:         6000,
				PaymentMethod:  PaymentUpi,
				PaymentDetails: PaymentDetails{UpiID: "a@b"},
			}, userID))
			codes <- rr.Code
		}()
	}
	wg.Wait()
	close(codes)

	var created, rejected int
	for code := range codes {
		switch code {
		case http.StatusCreated:
			created++
		case http.StatusBadRequest:
			rejected++
		}
	}

	assert.Equal(t, 1, created, "exactly one withdrawal may reserve the funds")
	assert.Equal(t, 1, rejected, "the loser must fail with insufficient funds")
	assert.Equal(t, int64(4000), repo.balance(userID))
}

func TestConvertPoints(t *testing.T) {
	h, repo := newTestHandler()
	userID := uuid.New()
	repo.seedWallet(userID, 0, 250, false)

	rr := httptest.NewRecorder()
	h.ConvertPoints(rr, authedRequest("POST", "/api/wallet/convert", ConvertPointsRequest{Points: 200}, userID))
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, int64(50), repo.points(userID))
	assert.Equal(t, int64(2000), repo.balance(userID))

	txs, count, err := repo.ListTransactions(userID, TransactionFilter{Type: TransactionPointsConversion, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	require.Len(t, txs, 1)
	assert.Equal(t, TransactionCompleted, txs[0].Status)
	assert.Equal(t, int64(2000), txs[0].Amount)
	assert.Equal(t, int64(-200), txs[0].Points)
}

func TestConvertPointsFailures(t *testing.T) {
	h, repo := newTestHandler()
	userID := uuid.New()
	repo.seedWallet(userID, 0, 250, false)

	tests := []struct {
		name   string
		points int64
	}{
		{"below minimum", 50},
		{"more than available", 300},
		{"zero", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ConvertPoints(rr, authedRequest("POST", "/api/wallet/convert", ConvertPointsRequest{Points: tt.points}, userID))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}

	assert.Equal(t, int64(250), repo.points(userID))
	assert.Equal(t, int64(0), repo.balance(userID))
}

func TestRejectTwiceRefundsOnce(t *testing.T) {
	h, repo := newTestHandler()
	userID := uuid.New()
	repo.seedWallet(userID, 10000, 0, true)

	rr := httptest.NewRecorder()
	h.RequestWithdrawal(rr, authedRequest("POST", "/api/wallet/withdrawals", WithdrawalRequestBody{
		Amount:         4000,
		PaymentMethod:  PaymentUpi,
		PaymentDetails: PaymentDetails{UpiID: "a@b"},
	}, userID))
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, int64(6000), repo.balance(userID))

	reqs, _ := repo.ListWithdrawals(userID, 10, 0)
	require.Len(t, reqs, 1)
	id := reqs[0].ID

	reject := func() int {
		req := mux.SetURLVars(authedRequest("POST", "/x", ReviewRequest{Notes: "account mismatch"}, userID), map[string]string{"id": id.String()})
		rr := httptest.NewRecorder()
		h.AdminRejectWithdrawal(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, reject())
	assert.Equal(t, int64(10000), repo.balance(userID))

	// a replayed reject must not refund the reservation a second time
	assert.Equal(t, http.StatusConflict, reject())
	assert.Equal(t, int64(10000), repo.balance(userID))

	entry, err := repo.GetTransactionByReference(withdrawalReference(id))
	require.NoError(t, err)
	assert.Equal(t, TransactionFailed, entry.Status)
}

func TestSettleCreditIsIdempotent(t *testing.T) {
	repo := newMemRepo()
	userID := uuid.New()
	repo.seedWallet(userID, 0, 0, false)

	_, err := repo.CreatePendingCredit(userID, 5000, "sess_1", "Wallet deposit via checkout")
	require.NoError(t, err)

	require.NoError(t, repo.SettleCredit("sess_1", 5000))
	require.NoError(t, repo.SettleCredit("sess_1", 5000))

	assert.Equal(t, int64(5000), repo.balance(userID))

	tx, err := repo.GetTransactionByReference("sess_1")
	require.NoError(t, err)
	assert.Equal(t, TransactionCompleted, tx.Status)
	assert.Equal(t, TransactionCredit, tx.Type)
}

func TestConcurrentSettleCreditAppliesOnce(t *testing.T) {
	repo := newMemRepo()
	userID := uuid.New()
	repo.seedWallet(userID, 0, 0, false)

	_, err := repo.CreatePendingCredit(userID, 5000, "dep-race-1", "Wallet deposit via checkout")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.SettleCredit("dep-race-1", 5000))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5000), repo.balance(userID))
}

func TestFailTransactionRefusesCompletedEntry(t *testing.T) {
	repo := newMemRepo()
	userID := uuid.New()
	repo.seedWallet(userID, 0, 0, false)

	_, err := repo.CreatePendingCredit(userID, 5000, "dep-done-1", "Wallet deposit via checkout")
	require.NoError(t, err)
	require.NoError(t, repo.SettleCredit("dep-done-1", 5000))

	assert.ErrorIs(t, repo.FailTransaction("dep-done-1"), ErrImmutableTransaction)
	assert.Equal(t, int64(5000), repo.balance(userID))

	tx, err := repo.GetTransactionByReference("dep-done-1")
	require.NoError(t, err)
	assert.Equal(t, TransactionCompleted, tx.Status)

	rr := httptest.NewRecorder()
	writeDomainError(rr, ErrImmutableTransaction)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestLedgerReconciliation(t *testing.T) {
	repo := newMemRepo()
	userID := uuid.New()

	_, err := repo.GetOrCreateWallet(userID, "USD")
	require.NoError(t, err)
	_, err = repo.SetKycVerified(userID, true)
	require.NoError(t, err)

	_, err = repo.RecordAdjustment(userID, 10000, 300, TransactionCredit, "signup grant", nil)
	require.NoError(t, err)

	_, err = repo.CreatePendingCredit(userID, 5000, "dep-rec-1", "Wallet deposit via checkout")
	require.NoError(t, err)
	require.NoError(t, repo.SettleCredit("dep-rec-1", 5000))

	_, err = repo.ConvertPoints(userID, 200, policyWith("0.10", 100))
	require.NoError(t, err)

	processed, err := repo.CreateWithdrawal(userID, 4000, PaymentUpi, PaymentDetails{UpiID: "a@b"})
	require.NoError(t, err)
	_, err = repo.ApproveWithdrawal(processed.ID, "ok")
	require.NoError(t, err)
	_, err = repo.ProcessWithdrawal(processed.ID, "po_9")
	require.NoError(t, err)

	rejected, err := repo.CreateWithdrawal(userID, 1500, PaymentPaypal, PaymentDetails{PaypalEmail: "jane@example.com"})
	require.NoError(t, err)
	_, err = repo.RejectWithdrawal(rejected.ID, "details mismatch")
	require.NoError(t, err)

	_, err = repo.CreateWithdrawal(userID, 1000, PaymentUpi, PaymentDetails{UpiID: "a@b"})
	require.NoError(t, err)

	// 10000 + 5000 + 2000 - 4000, with 1000 still reserved
	assert.Equal(t, int64(12000), repo.balance(userID))
	assert.Equal(t, int64(100), repo.points(userID))

	// the balance must equal the sum of completed journal amounts plus the
	// reservations of still-pending withdrawal entries
	txs, _, err := repo.ListTransactions(userID, TransactionFilter{Limit: 100})
	require.NoError(t, err)

	var completedAmounts, completedPoints, pendingReservations int64
	for _, tx := range txs {
		switch {
		case tx.Status == TransactionCompleted:
			completedAmounts += tx.Amount
			completedPoints += tx.Points
		case tx.Type == TransactionWithdrawal && tx.Status == TransactionPending:
			pendingReservations += tx.Amount
		}
	}

	assert.Equal(t, repo.balance(userID), completedAmounts+pendingReservations)
	assert.Equal(t, repo.points(userID), completedPoints)
}

func TestAdjustmentDuplicateReference(t *testing.T) {
	h, repo := newTestHandler()
	userID := uuid.New()
	repo.seedWallet(userID, 0, 0, false)

	body := AdjustmentRequest{Points: 500, Type: TransactionReferralBonus, Description: "referral signup", Reference: "ref-bonus-1"}

	first := mux.SetURLVars(authedRequest("POST", "/x", body, userID), map[string]string{"userId": userID.String()})
	rr := httptest.NewRecorder()
	h.AdminAdjustWallet(rr, first)
	require.Equal(t, http.StatusOK, rr.Code)

	second := mux.SetURLVars(authedRequest("POST", "/x", body, userID), map[string]string{"userId": userID.String()})
	rr = httptest.NewRecorder()
	h.AdminAdjustWallet(rr, second)
	assert.Equal(t, http.StatusConflict, rr.Code)

	// applied exactly once
	assert.Equal(t, int64(500), repo.points(userID))
}

func TestAdjustmentRejectsWithdrawalType(t *testing.T) {
	h, repo := newTestHandler()
	userID := uuid.New()
	repo.seedWallet(userID, 1000, 0, false)

	body := AdjustmentRequest{Amount: -1000, Type: TransactionWithdrawal, Description: "sneaky"}
	req := mux.SetURLVars(authedRequest("POST", "/x", body, userID), map[string]string{"userId": userID.String()})
	rr := httptest.NewRecorder()
	h.AdminAdjustWallet(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, int64(1000), repo.balance(userID))
}

func TestProviderWebhookRejectsBadSignature(t *testing.T) {
	h, _ := newTestHandler()

	payload := fmt.Sprintf(`{"event":"charge.success","data":{"reference":"dep-%s-1","status":"success","amount":5000}}`, uuid.New())
	req := httptest.NewRequest("POST", "/api/wallet/provider/webhook", bytes.NewReader([]byte(payload)))
	req.Header.Set("x-provider-signature", "not-the-right-hmac")

	rr := httptest.NewRecorder()
	h.ProviderWebhook(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestDepositRejectsNonPositiveAmount(t *testing.T) {
	h, _ := newTestHandler()
	userID := uuid.New()

	rr := httptest.NewRecorder()
	h.WalletDeposit(rr, authedRequest("POST", "/api/wallet/deposit", DepositRequest{Amount: -100}, userID))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
