package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeValidation represents malformed input (missing name, empty context)
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeDuplicate represents a contact that already exists for the account
	ErrorTypeDuplicate ErrorType = "duplicate"
	// ErrorTypeIdentity represents races on first-seen channel bindings
	ErrorTypeIdentity ErrorType = "identity"
	// ErrorTypeStorage represents store timeouts and connection failures
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeNotFound represents lookups of records that do not exist
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeContext represents context cancellation/timeout errors
	ErrorTypeContext ErrorType = "context"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// Kind reports the category. Typed errors embedding *BaseError inherit it,
// which is what IsErrorType relies on.
func (e *BaseError) Kind() ErrorType {
	return e.Type
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Validation Errors

// ErrValidation is returned when caller input violates a precondition
type ErrValidation struct {
	*BaseError
	Field  string
	Reason string
}

func NewValidation(field, reason string) *ErrValidation {
	return &ErrValidation{
		BaseError: NewBaseError(ErrorTypeValidation, fmt.Sprintf("invalid %s: %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// ErrNoPendingFlow is returned when context text arrives with no card awaiting it
type ErrNoPendingFlow struct {
	*BaseError
	AccountID       string
	ConversationKey string
}

func NewNoPendingFlow(accountID, conversationKey string) *ErrNoPendingFlow {
	return &ErrNoPendingFlow{
		BaseError:       NewBaseError(ErrorTypeValidation, "no contact card is waiting for context", nil),
		AccountID:       accountID,
		ConversationKey: conversationKey,
	}
}

// Duplicate Errors

// ErrDuplicateContact is returned when a candidate matches an existing contact
type ErrDuplicateContact struct {
	*BaseError
	ExistingContactID string
	ExistingName      string
	MatchedOn         string // "phone_number" or "external_id"
}

func NewDuplicateContact(existingID, existingName, matchedOn string) *ErrDuplicateContact {
	return &ErrDuplicateContact{
		BaseError:         NewBaseError(ErrorTypeDuplicate, fmt.Sprintf("contact already exists: %s", existingID), nil),
		ExistingContactID: existingID,
		ExistingName:      existingName,
		MatchedOn:         matchedOn,
	}
}

// Identity Errors

// ErrIdentityConflict is returned by a store when a concurrent writer created
// the (channel, external_id) binding first. The resolver recovers from it.
type ErrIdentityConflict struct {
	*BaseError
	Channel    string
	ExternalID string
}

func NewIdentityConflict(channel, externalID string, err error) *ErrIdentityConflict {
	return &ErrIdentityConflict{
		BaseError:  NewBaseError(ErrorTypeIdentity, fmt.Sprintf("binding already created: %s/%s", channel, externalID), err),
		Channel:    channel,
		ExternalID: externalID,
	}
}

// Storage Errors

// ErrStorageUnavailable is returned when the store times out or cannot be reached
type ErrStorageUnavailable struct {
	*BaseError
	Operation string
}

func NewStorageUnavailable(operation string, err error) *ErrStorageUnavailable {
	return &ErrStorageUnavailable{
		BaseError: NewBaseError(ErrorTypeStorage, fmt.Sprintf("store unavailable during %s", operation), err),
		Operation: operation,
	}
}

// Not Found Errors

// ErrContactNotFound is returned when a contact is not owned by the account
type ErrContactNotFound struct {
	*BaseError
	AccountID string
	ContactID string
}

func NewContactNotFound(accountID, contactID string) *ErrContactNotFound {
	return &ErrContactNotFound{
		BaseError: NewBaseError(ErrorTypeNotFound, fmt.Sprintf("contact not found: %s", contactID), nil),
		AccountID: accountID,
		ContactID: contactID,
	}
}

// ErrAccountNotFound is returned when an account id does not exist
type ErrAccountNotFound struct {
	*BaseError
	AccountID string
}

func NewAccountNotFound(accountID string) *ErrAccountNotFound {
	return &ErrAccountNotFound{
		BaseError: NewBaseError(ErrorTypeNotFound, fmt.Sprintf("account not found: %s", accountID), nil),
		AccountID: accountID,
	}
}

// Context Errors

// ErrContextTimeout is returned when context times out
type ErrContextTimeout struct {
	*BaseError
	Operation string
	Timeout   time.Duration
}

func NewContextTimeout(operation string, timeout time.Duration) *ErrContextTimeout {
	return &ErrContextTimeout{
		BaseError: NewBaseError(ErrorTypeContext, fmt.Sprintf("context timeout: %s (timeout: %v)", operation, timeout), nil),
		Operation: operation,
		Timeout:   timeout,
	}
}

// Config Errors

// ErrConfigValidationFailed is returned when configuration validation fails
type ErrConfigValidationFailed struct {
	*BaseError
	Field  string
	Reason string
}

func NewConfigValidationFailed(field, reason string) *ErrConfigValidationFailed {
	return &ErrConfigValidationFailed{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("config validation failed: %s - %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// ErrConfigMissingRequired is returned when a required config value is missing
type ErrConfigMissingRequired struct {
	*BaseError
	Field string
}

func NewConfigMissingRequired(field string) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// Helper functions

type kinded interface {
	Kind() ErrorType
}

// IsErrorType checks if an error, or anything it wraps, is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	for err != nil {
		if k, ok := err.(kinded); ok && k.Kind() == errType {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// TypeOf returns the category of the first typed error in the chain
func TypeOf(err error) (ErrorType, bool) {
	var k kinded
	if stderrors.As(err, &k) {
		return k.Kind(), true
	}
	return "", false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	// Context errors are not retryable
	if IsErrorType(err, ErrorTypeContext) {
		return false
	}
	// Store outages are all-or-nothing, so the same call can be repeated
	return IsErrorType(err, ErrorTypeStorage)
}

// AsDuplicate extracts a duplicate error from the chain
func AsDuplicate(err error) (*ErrDuplicateContact, bool) {
	var dup *ErrDuplicateContact
	if stderrors.As(err, &dup) {
		return dup, true
	}
	return nil, false
}

// AsValidation extracts a validation error from the chain
func AsValidation(err error) (*ErrValidation, bool) {
	var v *ErrValidation
	if stderrors.As(err, &v) {
		return v, true
	}
	return nil, false
}
