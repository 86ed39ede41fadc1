package wallet

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/collabmart/wallet-api/internal/user"
	"github.com/collabmart/wallet-api/pkg/config"
	"github.com/collabmart/wallet-api/pkg/events"
	"github.com/collabmart/wallet-api/pkg/logger"
	"github.com/collabmart/wallet-api/pkg/utils"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type Handler struct {
	Config   config.Config
	Repo     Repository
	Redis    *events.RedisClient
	Checkout *CheckoutClient
}

func NewHandler(cfg config.Config, repo Repository, redisClient *events.RedisClient) *Handler {
	return &Handler{
		Config:   cfg,
		Repo:     repo,
		Redis:    redisClient,
		Checkout: NewCheckoutClient(cfg),
	}
}

func (h *Handler) policy() ConversionPolicy {
	return ConversionPolicy{
		Rate:          h.Config.ConversionRate,
		MinimumPoints: h.Config.MinConvertible,
	}
}

// writeDomainError maps the ledger's error taxonomy onto HTTP statuses.
// Business-rule violations surface their specific message to the caller.
func writeDomainError(w http.ResponseWriter, err error) {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		utils.BuildErrorResponse(w, http.StatusBadRequest, ve.Error(), map[string]string{"field": ve.Field})
	case errors.Is(err, ErrKycRequired):
		utils.BuildErrorResponse(w, http.StatusForbidden, "KYC verification required before withdrawal", nil)
	case errors.Is(err, ErrInsufficientFunds):
		utils.BuildErrorResponse(w, http.StatusBadRequest, "Insufficient funds", nil)
	case errors.Is(err, ErrInsufficientPoints):
		utils.BuildErrorResponse(w, http.StatusBadRequest, "Insufficient points", nil)
	case errors.Is(err, ErrBelowMinimum):
		utils.BuildErrorResponse(w, http.StatusBadRequest, "Points below conversion minimum", nil)
	case errors.Is(err, ErrWalletNotFound):
		utils.BuildErrorResponse(w, http.StatusNotFound, "Wallet not found", nil)
	case errors.Is(err, ErrWithdrawalNotFound):
		utils.BuildErrorResponse(w, http.StatusNotFound, "Withdrawal request not found", nil)
	case errors.Is(err, ErrInvalidTransition):
		utils.BuildErrorResponse(w, http.StatusConflict, "Withdrawal is not in a state that allows this action", nil)
	case errors.Is(err, ErrImmutableTransaction):
		utils.BuildErrorResponse(w, http.StatusConflict, "Transaction is already completed", nil)
	case errors.Is(err, ErrDuplicateReference):
		utils.BuildErrorResponse(w, http.StatusConflict, "Reference already used", nil)
	default:
		utils.BuildErrorResponse(w, http.StatusInternalServerError, "Operation failed", nil)
	}
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	usr, _ := r.Context().Value(utils.UserKey).(user.User)

	wallet, err := h.Repo.GetOrCreateWallet(usr.ID, h.Config.Currency)
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusInternalServerError, "Failed to load wallet", nil)
		return
	}

	utils.BuildSuccessResponse(w, http.StatusOK, "Wallet Details", wallet)
}

func (h *Handler) GetWalletBalance(w http.ResponseWriter, r *http.Request) {
	usr, _ := r.Context().Value(utils.UserKey).(user.User)

	wallet, err := h.Repo.GetOrCreateWallet(usr.ID, h.Config.Currency)
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusInternalServerError, "Failed to load wallet", nil)
		return
	}

	utils.BuildSuccessResponse(w, http.StatusOK, "Wallet Balance", map[string]any{
		"balance":  wallet.Balance,
		"points":   wallet.Points,
		"currency": wallet.Currency,
	})
}

func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	usr, _ := r.Context().Value(utils.UserKey).(user.User)

	limit, offset, page := utils.GetPaginationDetails(r)
	filter := TransactionFilter{
		Type:   TransactionType(r.URL.Query().Get("type")),
		Status: TransactionStatus(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	}
	if from := r.URL.Query().Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filter.From = &t
		}
	}
	if to := r.URL.Query().Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.To = &t
		}
	}

	txs, count, err := h.Repo.ListTransactions(usr.ID, filter)
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusInternalServerError, "Failed to fetch transactions", nil)
		return
	}

	totalPages := int(math.Ceil(float64(count) / float64(limit)))
	utils.BuildSuccessResponse(w, http.StatusOK, "Transaction History", map[string]interface{}{
		"transactions": txs,
		"meta": map[string]interface{}{
			"total_items":  count,
			"total_pages":  totalPages,
			"current_page": page,
			"limit":        limit,
		},
	})
}

type DepositRequest struct {
	Amount int64 `json:"amount"` // minor units
}

func (h *Handler) WalletDeposit(w http.ResponseWriter, r *http.Request) {
	usr, _ := r.Context().Value(utils.UserKey).(user.User)

	var req DepositRequest
	if status, err := utils.DecodeJSONBody(w, r, &req); err != nil {
		utils.BuildErrorResponse(w, status, "Invalid request", map[string]string{"error": err.Error()})
		return
	}

	if req.Amount <= 0 {
		utils.BuildErrorResponse(w, http.StatusBadRequest, "Amount must be positive", nil)
		return
	}

	wallet, err := h.Repo.GetOrCreateWallet(usr.ID, h.Config.Currency)
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusInternalServerError, "Failed to load wallet", nil)
		return
	}

	reference := fmt.Sprintf("dep-%s-%d", usr.ID.String(), time.Now().UnixNano())

	session, err := h.Checkout.CreateCheckoutSession(
		usr.Email,
		req.Amount,
		wallet.Currency,
		reference,
		fmt.Sprintf("%s/api/wallet/deposit/callback", h.Config.Host),
		map[string]interface{}{"wallet_id": wallet.ID.String()},
	)
	if err != nil {
		logger.Error("Checkout initialization failed", logger.Fields{"error": err.Error(), "reference": reference})
		utils.BuildErrorResponse(w, http.StatusBadGateway, "Payment provider error", nil)
		return
	}

	if _, err := h.Repo.CreatePendingCredit(usr.ID, req.Amount, reference, "Wallet deposit via checkout"); err != nil {
		utils.BuildErrorResponse(w, http.StatusInternalServerError, "Failed to register transaction", nil)
		return
	}

	utils.BuildSuccessResponse(w, http.StatusOK, "Deposit initialized", session)
}

// ProviderWebhook verifies the provider signature and hands the event to
// the queue. Processing, retries and idempotency live in the worker; the
// webhook itself only acknowledges receipt.
func (h *Handler) ProviderWebhook(w http.ResponseWriter, r *http.Request) {
	signature := r.Header.Get("x-provider-signature")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Error("Webhook: Failed to read body", logger.Fields{"error": err.Error()})
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	hash := hmac.New(sha512.New, []byte(h.Config.ProviderSecret))
	hash.Write(body)
	expectedSig := hex.EncodeToString(hash.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expectedSig)) {
		logger.Warn("Webhook: Signature mismatch", logger.Fields{"remote_addr": r.RemoteAddr})
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var payload struct {
		Event string `json:"event"`
		Data  struct {
			Reference string `json:"reference"`
			Status    string `json:"status"`
			Amount    int64  `json:"amount"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	event := events.WebhookEvent{
		Event:     payload.Event,
		Reference: payload.Data.Reference,
		Status:    payload.Data.Status,
		Amount:    payload.Data.Amount,
		Timestamp: time.Now().UTC(),
	}

	if err := h.Redis.PublishEvent(r.Context(), event); err != nil {
		logger.Error("Webhook: Failed to enqueue event", logger.Fields{"error": err.Error(), "reference": event.Reference})
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) GetDepositStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	reference := vars["reference"]
	if reference == "" || !strings.HasPrefix(reference, "dep-") {
		utils.BuildErrorResponse(w, http.StatusBadRequest, "Invalid reference format", nil)
		return
	}

	tx, err := h.Repo.GetTransactionByReference(reference)
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusNotFound, "Transaction not found", nil)
		return
	}

	response := map[string]interface{}{
		"reference": reference,
		"status":    tx.Status,
		"amount":    tx.Amount,
	}

	if tx.Status == TransactionPending {
		providerStatus, err := h.Checkout.VerifySession(reference)
		if err == nil {
			response["provider_status"] = providerStatus
		} else {
			response["provider_status"] = "unknown"
		}
	} else {
		response["provider_status"] = "not_checked"
	}

	utils.BuildSuccessResponse(w, http.StatusOK, "Transaction status retrieved", response)
}

type WithdrawalRequestBody struct {
	Amount         int64          `json:"amount"`
	PaymentMethod  PaymentMethod  `json:"payment_method"`
	PaymentDetails PaymentDetails `json:"payment_details"`
}

func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	usr, _ := r.Context().Value(utils.UserKey).(user.User)

	var req WithdrawalRequestBody
	if status, err := utils.DecodeJSONBody(w, r, &req); err != nil {
		utils.BuildErrorResponse(w, status, "Invalid request", map[string]string{"error": err.Error()})
		return
	}

	if req.Amount <= 0 {
		writeDomainError(w, &ValidationError{Field: "amount", Reason: "must be positive"})
		return
	}
	if req.Amount < h.Config.MinWithdrawal {
		writeDomainError(w, &ValidationError{Field: "amount", Reason: fmt.Sprintf("minimum withdrawal is %d", h.Config.MinWithdrawal)})
		return
	}
	if err := req.PaymentDetails.Validate(req.PaymentMethod); err != nil {
		writeDomainError(w, err)
		return
	}

	withdrawal, err := h.Repo.CreateWithdrawal(usr.ID, req.Amount, req.PaymentMethod, req.PaymentDetails)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.Redis.Notify(r.Context(), usr.ID.String(), "withdrawal_requested", map[string]interface{}{
		"withdrawal_id": withdrawal.ID.String(),
		"amount":        withdrawal.Amount,
	})

	utils.BuildSuccessResponse(w, http.StatusCreated, "Withdrawal request submitted", withdrawal)
}

func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	usr, _ := r.Context().Value(utils.UserKey).(user.User)

	limit, offset, _ := utils.GetPaginationDetails(r)
	reqs, err := h.Repo.ListWithdrawals(usr.ID, limit, offset)
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusInternalServerError, "Failed to fetch withdrawal requests", nil)
		return
	}

	utils.BuildSuccessResponse(w, http.StatusOK, "Withdrawal Requests", reqs)
}

type ConvertPointsRequest struct {
	Points int64 `json:"points"`
}

func (h *Handler) ConvertPoints(w http.ResponseWriter, r *http.Request) {
	usr, _ := r.Context().Value(utils.UserKey).(user.User)

	var req ConvertPointsRequest
	if status, err := utils.DecodeJSONBody(w, r, &req); err != nil {
		utils.BuildErrorResponse(w, status, "Invalid request", map[string]string{"error": err.Error()})
		return
	}

	if req.Points <= 0 {
		writeDomainError(w, &ValidationError{Field: "points", Reason: "must be positive"})
		return
	}

	entry, err := h.Repo.ConvertPoints(usr.ID, req.Points, h.policy())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.Redis.Notify(r.Context(), usr.ID.String(), "points_converted", map[string]interface{}{
		"points": req.Points,
		"amount": entry.Amount,
	})

	utils.BuildSuccessResponse(w, http.StatusOK, "Points converted", entry)
}

// --- administrative review surface ---

func (h *Handler) AdminListWithdrawals(w http.ResponseWriter, r *http.Request) {
	limit, offset, _ := utils.GetPaginationDetails(r)
	status := WithdrawalStatus(r.URL.Query().Get("status"))

	reqs, err := h.Repo.ListWithdrawalsByStatus(status, limit, offset)
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusInternalServerError, "Failed to fetch withdrawal requests", nil)
		return
	}

	utils.BuildSuccessResponse(w, http.StatusOK, "Withdrawal Requests", reqs)
}

type ReviewRequest struct {
	Notes             string `json:"notes"`
	ProviderReference string `json:"provider_reference"`
}

func (h *Handler) reviewWithdrawal(w http.ResponseWriter, r *http.Request, transition func(id uuid.UUID, body ReviewRequest) (*WithdrawalRequest, error), eventType, message string) {
	vars := mux.Vars(r)
	id, err := uuid.Parse(vars["id"])
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusBadRequest, "Invalid withdrawal id", nil)
		return
	}

	var body ReviewRequest
	if r.ContentLength > 0 {
		if status, err := utils.DecodeJSONBody(w, r, &body); err != nil {
			utils.BuildErrorResponse(w, status, "Invalid request", map[string]string{"error": err.Error()})
			return
		}
	}

	req, err := transition(id, body)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.Redis.Notify(r.Context(), req.UserID.String(), eventType, map[string]interface{}{
		"withdrawal_id": req.ID.String(),
		"amount":        req.Amount,
		"status":        req.Status,
	})

	utils.BuildSuccessResponse(w, http.StatusOK, message, req)
}

func (h *Handler) AdminApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.reviewWithdrawal(w, r, func(id uuid.UUID, body ReviewRequest) (*WithdrawalRequest, error) {
		return h.Repo.ApproveWithdrawal(id, body.Notes)
	}, "withdrawal_approved", "Withdrawal approved")
}

func (h *Handler) AdminRejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.reviewWithdrawal(w, r, func(id uuid.UUID, body ReviewRequest) (*WithdrawalRequest, error) {
		if body.Notes == "" {
			return nil, &ValidationError{Field: "notes", Reason: "required when rejecting"}
		}
		return h.Repo.RejectWithdrawal(id, body.Notes)
	}, "withdrawal_rejected", "Withdrawal rejected")
}

func (h *Handler) AdminProcessWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.reviewWithdrawal(w, r, func(id uuid.UUID, body ReviewRequest) (*WithdrawalRequest, error) {
		return h.Repo.ProcessWithdrawal(id, body.ProviderReference)
	}, "withdrawal_processed", "Withdrawal processed")
}

type KycRequest struct {
	Verified bool `json:"verified"`
}

func (h *Handler) AdminSetKyc(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID, err := uuid.Parse(vars["userId"])
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusBadRequest, "Invalid user id", nil)
		return
	}

	var req KycRequest
	if status, err := utils.DecodeJSONBody(w, r, &req); err != nil {
		utils.BuildErrorResponse(w, status, "Invalid request", map[string]string{"error": err.Error()})
		return
	}

	wallet, err := h.Repo.SetKycVerified(userID, req.Verified)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.Redis.Notify(r.Context(), userID.String(), "kyc_updated", map[string]interface{}{
		"verified": req.Verified,
	})

	utils.BuildSuccessResponse(w, http.StatusOK, "KYC status updated", wallet)
}

type AdjustmentRequest struct {
	Amount      int64           `json:"amount"`
	Points      int64           `json:"points"`
	Type        TransactionType `json:"type"`
	Description string          `json:"description"`
	Reference   string          `json:"reference"`
}

// AdminAdjustWallet is how referral bonuses and campaign settlements reach
// the ledger. The caller supplies an idempotency reference; replays are
// rejected as already-applied.
func (h *Handler) AdminAdjustWallet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID, err := uuid.Parse(vars["userId"])
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusBadRequest, "Invalid user id", nil)
		return
	}

	var req AdjustmentRequest
	if status, err := utils.DecodeJSONBody(w, r, &req); err != nil {
		utils.BuildErrorResponse(w, status, "Invalid request", map[string]string{"error": err.Error()})
		return
	}

	allowed := false
	for _, t := range AllowedAdjustmentTypes {
		if req.Type == t {
			allowed = true
			break
		}
	}
	if !allowed {
		writeDomainError(w, &ValidationError{Field: "type", Reason: "unsupported adjustment type"})
		return
	}
	if req.Amount == 0 && req.Points == 0 {
		writeDomainError(w, &ValidationError{Field: "amount", Reason: "adjustment must move balance or points"})
		return
	}

	var reference *string
	if req.Reference != "" {
		reference = &req.Reference
	}

	entry, err := h.Repo.RecordAdjustment(userID, req.Amount, req.Points, req.Type, req.Description, reference)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.Redis.Notify(r.Context(), userID.String(), "wallet_adjusted", map[string]interface{}{
		"type":   string(req.Type),
		"amount": req.Amount,
		"points": req.Points,
	})

	utils.BuildSuccessResponse(w, http.StatusOK, "Adjustment applied", entry)
}
