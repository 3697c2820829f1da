package stellar

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates an asset, wallet, or offer is absent from the store
// or the ledger.
var ErrNotFound = errors.New("not found")

// CommsError wraps any raw network or Horizon fault before it crosses a
// component boundary. The original cause is preserved for diagnostics and
// can be recovered with errors.Unwrap / errors.As.
type CommsError struct {
	Op  string // the ledger operation that failed, e.g. "submit_transaction"
	Err error
}

func (e *CommsError) Error() string {
	return fmt.Sprintf("ledger communication failed during %s: %v", e.Op, e.Err)
}

func (e *CommsError) Unwrap() error { return e.Err }

// NewCommsError wraps err as a ledger communications failure.
func NewCommsError(op string, err error) *CommsError {
	return &CommsError{Op: op, Err: err}
}

// IsCommsError reports whether err is (or wraps) a CommsError.
func IsCommsError(err error) bool {
	var ce *CommsError
	return errors.As(err, &ce)
}

// InsufficientFundsError is a business-rule failure raised before any ledger
// call is attempted: the payor's balance for the given asset code does not
// cover the required amount.
type InsufficientFundsError struct {
	Address  string
	Code     string
	Required string
	Held     string
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: wallet %s holds %s %s, needs %s",
		e.Address, e.Held, e.Code, e.Required)
}

// DuplicateNameError indicates an asset code already exists.
type DuplicateNameError struct {
	Code string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("asset code %q already exists", e.Code)
}

// InvalidNameError indicates an asset code that fails format validation.
type InvalidNameError struct {
	Code string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("asset code %q is invalid: must match ^[A-Z0-9]{3,12}$", e.Code)
}

// SecurityError indicates a signing or authorization failure, e.g. a seed
// that cannot be parsed or a wallet with no key material.
type SecurityError struct {
	Reason string
	Err    error
}

func (e *SecurityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("security error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("security error: %s", e.Reason)
}

func (e *SecurityError) Unwrap() error { return e.Err }
