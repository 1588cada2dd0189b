package apple

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// StoreKit error codes (SKErrorCode).
const (
	SKErrorUnknown                             = 0
	SKErrorClientInvalid                       = 1
	SKErrorPaymentCancelled                    = 2
	SKErrorPaymentInvalid                      = 3
	SKErrorPaymentNotAllowed                   = 4
	SKErrorStoreProductNotAvailable            = 5
	SKErrorCloudServiceNetworkConnectionFailed = 7
)

type SKError struct {
	Code    int
	Message string
}

func (e *SKError) Error() string {
	return fmt.Sprintf("storekit error %d: %s", e.Code, e.Message)
}

type TransactionState int

const (
	StatePurchasing TransactionState = iota
	StatePurchased
	StateFailed
	StateRestored
	StateDeferred
)

func (s TransactionState) String() string {
	switch s {
	case StatePurchasing:
		return "purchasing"
	case StatePurchased:
		return "purchased"
	case StateFailed:
		return "failed"
	case StateRestored:
		return "restored"
	case StateDeferred:
		return "deferred"
	}
	return "unknown"
}

type Product struct {
	ProductID      string
	Title          string
	Description    string
	FormattedPrice string
	CurrencyCode   string
}

// PaymentDiscount is a signed promotional offer attached to a payment.
type PaymentDiscount struct {
	Identifier    string
	KeyIdentifier string
	Nonce         string
	Signature     string
	Timestamp     int64
}

type Payment struct {
	ProductID           string
	Quantity            int
	ApplicationUsername string
	Discount            *PaymentDiscount
}

// PaymentTransaction is an entry of the payment queue. Error is set only for
// failed transactions.
type PaymentTransaction struct {
	TransactionID string
	Payment       Payment
	State         TransactionState
	Date          time.Time
	Error         *SKError
}

// TransactionObserver receives payment queue updates.
type TransactionObserver interface {
	UpdatedTransactions(transactions []PaymentTransaction)
	RestoreCompleted(err error)
}

// StoreKit is the slice of the payment queue and product request APIs this
// package uses. Transactions stay queued until FinishTransaction.
type StoreKit interface {
	CanMakePayments() bool
	// SetObserver replaces the queue observer; nil removes it.
	SetObserver(observer TransactionObserver)
	RequestProducts(ctx context.Context, productIDs []string) (products []Product, invalid []string, err error)
	AddPayment(ctx context.Context, payment Payment) error
	FinishTransaction(ctx context.Context, transactionID string) error
	Transactions(ctx context.Context) ([]PaymentTransaction, error)
	RestoreCompletedTransactions(ctx context.Context, applicationUsername string) error
	// AppStoreReceipt returns nil when the device holds no receipt.
	AppStoreReceipt(ctx context.Context) ([]byte, error)
}

// ErrTransactionNotFound is returned by FinishTransaction for an id that is
// not in the queue.
var ErrTransactionNotFound = errors.New("apple: transaction not in payment queue")
