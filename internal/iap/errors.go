package iap

import (
	"errors"
	"fmt"
)

var (
	ErrNotConfigured     = errors.New("iap: session is not configured")
	ErrClosed            = errors.New("iap: session is closed")
	ErrUnsupported       = errors.New("iap: operation not supported on this platform")
	ErrProductNotFetched = errors.New("iap: product has not been fetched")
	ErrNoBackend         = errors.New("iap: native backend is nil")
)

// ErrorType is the fixed error category of an IAPError.
type ErrorType string

const (
	ErrorTypeFetchProducts ErrorType = "FETCH_PRODUCTS"
	ErrorTypePurchase      ErrorType = "PURCHASE"
	ErrorTypeConnection    ErrorType = "CONNECTION"
)

// Native cancel codes. Callers branch on IAPError.IsUserCanceled rather
// than on these directly.
const (
	GoogleUserCanceled = 1
	AppleUserCanceled  = 2
)

// Operation names the call an error came from, it decides the category.
type Operation string

const (
	OpConfigure     Operation = "configure"
	OpFetchProducts Operation = "fetchProducts"
	OpPurchase      Operation = "purchase"
	OpFinalize      Operation = "finalize"
	OpFlush         Operation = "flush"
	OpFetchReceipt  Operation = "fetchReceipt"
	OpRestore       Operation = "restore"
)

// IAPError is the normalized failure shape. Message is diagnostic only.
type IAPError struct {
	Type      ErrorType `json:"type"`
	Code      *int      `json:"code,omitempty"`
	Message   string    `json:"message"`
	Platform  Platform  `json:"platform,omitempty"`
	ProductID string    `json:"product_id,omitempty"`
}

func (e *IAPError) Error() string {
	if e.Code != nil {
		return fmt.Sprintf("iap %s error (code %d): %s", e.Type, *e.Code, e.Message)
	}
	return fmt.Sprintf("iap %s error: %s", e.Type, e.Message)
}

// IsUserCanceled reports whether the error is a user cancellation of the
// purchase flow on the error's platform.
func (e *IAPError) IsUserCanceled() bool {
	if e == nil || e.Type != ErrorTypePurchase || e.Code == nil {
		return false
	}
	switch e.Platform {
	case PlatformGoogle:
		return *e.Code == GoogleUserCanceled
	case PlatformApple:
		return *e.Code == AppleUserCanceled
	}
	return false
}

// NativeError is what a native client reports. Connection marks failures
// of the billing service itself rather than of the request.
type NativeError struct {
	Code       int
	Message    string
	Connection bool
}

func (e *NativeError) Error() string {
	return fmt.Sprintf("native error %d: %s", e.Code, e.Message)
}

func codePtr(code int) *int {
	return &code
}

func NewFetchProductsError(platform Platform, code int, message string) *IAPError {
	return &IAPError{Type: ErrorTypeFetchProducts, Code: codePtr(code), Message: message, Platform: platform}
}

func NewPurchaseError(platform Platform, code int, message string) *IAPError {
	return &IAPError{Type: ErrorTypePurchase, Code: codePtr(code), Message: message, Platform: platform}
}

// NewConnectionError builds a CONNECTION error. Only Google models billing
// service availability; on Apple use Classify, which folds it.
func NewConnectionError(platform Platform, code int, message string) *IAPError {
	return &IAPError{Type: ErrorTypeConnection, Code: codePtr(code), Message: message, Platform: platform}
}

// categoryFor maps the failing operation onto fetch-products or purchase.
// Everything that is not a product query belongs to the purchase flow.
func categoryFor(op Operation) ErrorType {
	if op == OpFetchProducts {
		return ErrorTypeFetchProducts
	}
	return ErrorTypePurchase
}

// Classify maps any failure from either platform onto an IAPError.
func Classify(platform Platform, op Operation, err error) *IAPError {
	if err == nil {
		return nil
	}

	var iapErr *IAPError
	if errors.As(err, &iapErr) {
		out := *iapErr
		if out.Platform == "" {
			out.Platform = platform
		}
		if out.Type == ErrorTypeConnection && platform != PlatformGoogle {
			out.Type = categoryFor(op)
		}
		return &out
	}

	var nativeErr *NativeError
	if errors.As(err, &nativeErr) {
		category := categoryFor(op)
		if nativeErr.Connection && platform == PlatformGoogle {
			category = ErrorTypeConnection
		}
		return &IAPError{Type: category, Code: codePtr(nativeErr.Code), Message: nativeErr.Message, Platform: platform}
	}

	return &IAPError{Type: categoryFor(op), Message: err.Error(), Platform: platform}
}

// ValidType reports whether t is one of the three fixed categories.
func ValidType(t ErrorType) bool {
	switch t {
	case ErrorTypeFetchProducts, ErrorTypePurchase, ErrorTypeConnection:
		return true
	}
	return false
}
