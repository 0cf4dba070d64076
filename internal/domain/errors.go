package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is the root of every "entity missing" error
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when an operation is illegal for the current lifecycle state
	ErrInvalidState = errors.New("invalid state")

	// ErrAccountNotFound is returned when an account doesn't exist
	ErrAccountNotFound = fmt.Errorf("account %w", ErrNotFound)

	// ErrPaymentNotFound is returned when a payment doesn't exist
	ErrPaymentNotFound = fmt.Errorf("payment %w", ErrNotFound)

	// ErrUserNotFound is returned when a user doesn't exist
	ErrUserNotFound = fmt.Errorf("user %w", ErrNotFound)

	// ErrUserNotActive is returned when a deactivated user tries to open an account
	ErrUserNotActive = fmt.Errorf("%w: user is not active", ErrInvalidState)

	// ErrDuplicateEmail is returned by persistence when an email is already registered
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrDuplicateDocument is returned by persistence when a document is already registered
	ErrDuplicateDocument = errors.New("document already registered")

	// ErrInvalidAmount is returned when an amount is not positive or has more than 2 decimal places
	ErrInvalidAmount = errors.New("invalid amount: must be positive with at most 2 decimal places")

	// ErrInsufficientFunds is returned when the source doesn't have enough balance
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAccountNotActive is returned when an account is blocked or closed
	ErrAccountNotActive = errors.New("account is not active")

	// ErrSameAccount is returned when source and destination are the same
	ErrSameAccount = errors.New("source and destination must be different accounts")

	// ErrMissingSourceAccount is returned when the instrument requires a source account
	ErrMissingSourceAccount = errors.New("payment type requires a source account")

	// ErrNonZeroBalance is returned when closing an account that still holds funds
	ErrNonZeroBalance = errors.New("account balance must be zero to close")

	// ErrDuplicateTransactionID is returned by persistence when a transaction id is reused
	ErrDuplicateTransactionID = errors.New("duplicate transaction id")

	// ErrDuplicateAccountNumber is returned by persistence when an account number is reused
	ErrDuplicateAccountNumber = errors.New("duplicate account number")

	// ErrInvalidRequest is returned for malformed input that is not an amount problem
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidTransition is returned for an account status change the lifecycle does not allow
	ErrInvalidTransition = fmt.Errorf("%w: illegal status transition", ErrInvalidState)

	// ErrAlreadySettled is returned when cancelling a completed payment
	ErrAlreadySettled = fmt.Errorf("%w: payment already settled", ErrInvalidState)

	// ErrAlreadyCancelled is returned when cancelling a cancelled payment
	ErrAlreadyCancelled = fmt.Errorf("%w: payment already cancelled", ErrInvalidState)

	// ErrSettlementInProgress is returned when cancelling a payment whose funds are already moving
	ErrSettlementInProgress = fmt.Errorf("%w: settlement in progress", ErrInvalidState)

	// ErrStateConflict is returned by repositories when a conditional update's precondition no longer holds
	ErrStateConflict = errors.New("state changed concurrently")
)

// isBusinessFailure reports whether err is a ledger outcome that settlement
// records on the payment rather than treating as a system fault.
func isBusinessFailure(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrAccountNotActive)
}
