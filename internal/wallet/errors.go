package wallet

import (
	"errors"
	"fmt"
)

var (
	ErrWalletNotFound       = errors.New("wallet not found")
	ErrWithdrawalNotFound   = errors.New("withdrawal request not found")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientPoints   = errors.New("insufficient points")
	ErrKycRequired          = errors.New("kyc verification required")
	ErrBelowMinimum         = errors.New("points below conversion minimum")
	ErrDuplicateReference   = errors.New("duplicate reference")
	ErrImmutableTransaction = errors.New("transaction already completed")
	ErrInvalidTransition    = errors.New("invalid withdrawal status transition")
)

// ValidationError reports a missing or malformed input field. It carries
// the field name so the UI can surface exactly what to fix.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("missing required field: %s", e.Field)
}
