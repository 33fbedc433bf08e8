/*
errors.go - Centralized error types

PURPOSE:
  All error types in one place for consistency and discoverability.
  Packages wrap these with context; callers test with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Validation errors - Local, recoverable, block submission
  2. Transport errors  - Network/server failures, form state preserved
  3. Rejections        - The backend refused the document with a message
  4. Session errors    - Missing user identity
  5. Store errors      - Backend persistence failures

USAGE:
  if errors.Is(err, inventory.ErrValidation) {
      var ve *inventory.ValidationError
      errors.As(err, &ve)
      fmt.Println(ve.Rule, ve.MaterialName)
  }

SEE ALSO:
  - issue/validator.go: Produces ValidationError for issue forms
  - receipt/form.go: Produces ValidationError for receipt forms
  - client/client.go: Produces TransportError and RejectedError
*/
package inventory

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when a form fails a local rule.
	ErrValidation = errors.New("validation failed")

	// ErrTransport is returned when the backend could not be reached or
	// answered with something other than a well-formed response.
	ErrTransport = errors.New("cannot connect to server")

	// ErrRejected is returned when the backend refused the operation.
	ErrRejected = errors.New("rejected by server")

	// ErrNoIdentity is returned when no user is signed in. Sign in again.
	ErrNoIdentity = errors.New("user session missing, please sign in again")

	// ErrSubmitInProgress is returned for overlapping submissions.
	ErrSubmitInProgress = errors.New("submission already in progress")

	// ErrRequestNotApproved is returned when selecting a request that is not
	// in the approved list, or issuing against one that is no longer approved.
	ErrRequestNotApproved = errors.New("request is not approved")

	// ErrSelectionSuperseded is returned when another request was selected
	// while stock for this one was still being resolved.
	ErrSelectionSuperseded = errors.New("selection superseded by a newer one")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientStock is returned when a lot or material cannot cover a quantity.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrDuplicateSubmission is returned when an idempotency key was already used.
	ErrDuplicateSubmission = errors.New("duplicate submission")

	// ErrLocked is returned when another create call holds the request lock.
	ErrLocked = errors.New("request is being processed")

	// ErrInvalidStatus is returned when a request's status does not allow the action.
	ErrInvalidStatus = errors.New("request status does not allow this action")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// Rule identifies which form rule failed.
type Rule string

const (
	RuleRequestRequired      Rule = "request_required"
	RuleReceiverRequired     Rule = "receiver_required"
	RuleQtyNotPositive       Rule = "qty_not_positive"
	RuleQtyExceedsRequested  Rule = "qty_exceeds_requested"
	RuleQtyExceedsLot        Rule = "qty_exceeds_lot"
	RuleInsufficientStock    Rule = "insufficient_stock"
	RuleLotRequired          Rule = "lot_required"
	RuleManufacturerRequired Rule = "manufacturer_required"
	RuleCountryRequired      Rule = "country_required"

	RuleSupplierRequired Rule = "supplier_required"
	RuleMaterialRequired Rule = "material_required"
	RulePriceInvalid     Rule = "price_invalid"
	RuleLotNumberMissing Rule = "lot_number_required"
	RuleLastItem         Rule = "last_item"
)

// ValidationError names the violated rule and, for line rules, the material.
type ValidationError struct {
	Rule         Rule
	MaterialID   MaterialID
	MaterialName string
	Message      string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrValidation }

// TransportError wraps a failed backend call.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrTransport, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// RejectedError carries the backend's refusal message.
type RejectedError struct {
	Op      string
	Status  int
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %v (status %d)", e.Op, ErrRejected, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *RejectedError) Unwrap() error { return ErrRejected }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the same submission might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrLocked)
}

// IsClientError returns true if the error is due to invalid input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrRequestNotApproved) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrDuplicateSubmission)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
