package types

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// ErrorKind classifies failures for callers that need to branch on them.
type ErrorKind string

const (
	KindValidation          ErrorKind = "ValidationError"
	KindNotFound            ErrorKind = "NotFoundError"
	KindPaymentVerification ErrorKind = "PaymentVerificationError"
	KindPaymentSettlement   ErrorKind = "PaymentSettlementError"
	KindGrantWrite          ErrorKind = "GrantWriteError"
	KindDecryption          ErrorKind = "DecryptionError"
	KindTransientNetwork    ErrorKind = "TransientNetworkError"
	KindUserRejected        ErrorKind = "UserRejectedError"
	KindInternal            ErrorKind = "InternalError"
)

// Common error codes
const (
	ErrInvalidPayload      = "INVALID_PAYLOAD"
	ErrInvalidRequirements = "INVALID_REQUIREMENTS"
	ErrInvalidContentID    = "INVALID_CONTENT_ID"
	ErrInvalidAddress      = "INVALID_ADDRESS"
	ErrInvalidAmount       = "INVALID_AMOUNT"
	ErrInvalidIdentity     = "INVALID_IDENTITY"
	ErrContentNotFound     = "CONTENT_NOT_FOUND"
	ErrUnsupportedNetwork  = "UNSUPPORTED_NETWORK"
	ErrVerificationFailed  = "VERIFICATION_FAILED"
	ErrSettlementFailed    = "SETTLEMENT_FAILED"
	ErrGrantFailed         = "GRANT_FAILED"
	ErrDecryptFailed       = "DECRYPT_FAILED"
	ErrNetworkError        = "NETWORK_ERROR"
	ErrConfirmationTimeout = "CONFIRMATION_TIMEOUT"
	ErrUserRejected        = "USER_REJECTED"
	ErrConfigError         = "CONFIG_ERROR"
	ErrRateLimited         = "RATE_LIMITED"
	ErrInternal            = "INTERNAL_ERROR"
)

// Error is the coded error used across packages.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// NewError builds a coded error.
func NewError(kind ErrorKind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds a coded error around cause.
func WrapError(cause error, kind ErrorKind, code, format string, args ...any) *Error {
	e := NewError(kind, code, format, args...)
	e.cause = cause
	return e
}

// WithData attaches structured data that is safe to expose to callers.
func (e *Error) WithData(data any) *Error {
	e.Data = data
	return e
}

// AsError extracts the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal when it carries none.
func KindOf(err error) ErrorKind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	e, ok := AsError(err)
	return ok && e.Kind == kind
}

// StatusOf maps err to an HTTP status code.
func StatusOf(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindPaymentVerification, KindPaymentSettlement:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// IsUserRejection reports whether err means a wallet or signer declined the request.
func IsUserRejection(err error) bool {
	if err == nil {
		return false
	}
	if IsKind(err, KindUserRejected) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "user rejected") ||
		strings.Contains(msg, "user denied") ||
		strings.Contains(msg, "code 4001") ||
		strings.Contains(msg, "rejected the request")
}
