package sandbox

import (
	"context"
	"errors"
	"sync"

	"iap-reconciler/internal/iap"
	"iap-reconciler/internal/iap/apple"
	"iap-reconciler/internal/models"
	"iap-reconciler/pkg/logging"
)

// AppStore is an apple.StoreKit backed by the sandbox store. Every
// unfinished transaction stays in the payment queue.
type AppStore struct {
	sb *Sandbox

	mu       sync.RWMutex
	observer apple.TransactionObserver
}

var _ apple.StoreKit = (*AppStore)(nil)

func networkError() *apple.SKError {
	return &apple.SKError{Code: apple.SKErrorCloudServiceNetworkConnectionFailed, Message: "the network connection was lost"}
}

func (a *AppStore) CanMakePayments() bool {
	return a.sb.Available()
}

func (a *AppStore) SetObserver(observer apple.TransactionObserver) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observer = observer
}

func (a *AppStore) currentObserver() apple.TransactionObserver {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.observer
}

func (a *AppStore) RequestProducts(ctx context.Context, productIDs []string) ([]apple.Product, []string, error) {
	if !a.sb.Available() {
		return nil, nil, networkError()
	}
	products, invalid, err := a.sb.products(ctx, iap.PlatformApple, productIDs)
	if err != nil {
		return nil, nil, err
	}
	out := make([]apple.Product, 0, len(products))
	for _, p := range products {
		out = append(out, apple.Product{
			ProductID:      p.ProductID,
			Title:          p.Title,
			Description:    p.Description,
			FormattedPrice: p.FormattedPrice,
			CurrencyCode:   p.Currency,
		})
	}
	return out, invalid, nil
}

// AddPayment queues a purchasing transaction. With auto-approve it moves
// to purchased straight away.
func (a *AppStore) AddPayment(ctx context.Context, payment apple.Payment) error {
	if !a.sb.Available() {
		return &apple.SKError{Code: apple.SKErrorPaymentNotAllowed, Message: "payments are not allowed"}
	}
	if _, ok, err := a.sb.product(ctx, iap.PlatformApple, payment.ProductID); err != nil {
		return err
	} else if !ok {
		return &apple.SKError{Code: apple.SKErrorStoreProductNotAvailable, Message: "product not available"}
	}

	purchase := &models.SandboxPurchase{
		Platform:            string(iap.PlatformApple),
		ProductID:           payment.ProductID,
		ApplicationUsername: payment.ApplicationUsername,
	}
	if payment.Discount != nil {
		purchase.DiscountID = payment.Discount.Identifier
	}
	if err := a.sb.newPurchase(ctx, purchase); err != nil {
		return err
	}
	a.deliver(purchase)

	if a.sb.autoApprove {
		if err := a.sb.settle(ctx, purchase); err != nil {
			return err
		}
		a.deliver(purchase)
	} else {
		logging.Infof("Sandbox transaction pending approval - transaction: %s, token: %s", purchase.OrderID, purchase.PurchaseToken)
	}
	return nil
}

// FinishTransaction removes a purchased, restored or failed transaction
// from the queue.
func (a *AppStore) FinishTransaction(ctx context.Context, transactionID string) error {
	purchase, err := a.sb.store.PurchaseByOrderID(ctx, string(iap.PlatformApple), transactionID)
	switch {
	case errors.Is(err, ErrPurchaseNotFound):
		return apple.ErrTransactionNotFound
	case err != nil:
		return err
	}

	switch purchase.State {
	case models.SandboxStatePurchased, models.SandboxStateRestored, models.SandboxStateFailed:
	case models.SandboxStatePending:
		return &apple.SKError{Code: apple.SKErrorPaymentInvalid, Message: "cannot finish a purchasing transaction"}
	default:
		return apple.ErrTransactionNotFound
	}

	purchase.State = models.SandboxStateFinished
	return a.sb.store.SavePurchase(ctx, purchase)
}

func (a *AppStore) Transactions(ctx context.Context) ([]apple.PaymentTransaction, error) {
	queued, err := a.sb.store.Purchases(ctx, string(iap.PlatformApple),
		models.SandboxStatePending, models.SandboxStatePurchased, models.SandboxStateRestored, models.SandboxStateFailed)
	if err != nil {
		return nil, err
	}
	out := make([]apple.PaymentTransaction, 0, len(queued))
	for _, p := range queued {
		out = append(out, paymentTransaction(p))
	}
	return out, nil
}

// RestoreCompletedTransactions queues a restored replay of every finished
// non-consumable purchase, then reports completion.
func (a *AppStore) RestoreCompletedTransactions(ctx context.Context, applicationUsername string) error {
	observer := a.currentObserver()
	if !a.sb.Available() {
		if observer != nil {
			observer.RestoreCompleted(networkError())
		}
		return nil
	}

	finished, err := a.sb.store.Purchases(ctx, string(iap.PlatformApple), models.SandboxStateFinished)
	if err != nil {
		return err
	}

	var restored []apple.PaymentTransaction
	for _, p := range finished {
		if p.OriginalOrderID != "" || p.ErrorCode != 0 || p.PurchasedAt.IsZero() {
			continue
		}
		if applicationUsername != "" && p.ApplicationUsername != applicationUsername {
			continue
		}
		product, ok, err := a.sb.product(ctx, iap.PlatformApple, p.ProductID)
		if err != nil {
			return err
		}
		if !ok || product.Consumable {
			continue
		}

		replay := &models.SandboxPurchase{
			Platform:            p.Platform,
			ProductID:           p.ProductID,
			ApplicationUsername: p.ApplicationUsername,
			OriginalOrderID:     p.OrderID,
		}
		if err := a.sb.newPurchase(ctx, replay); err != nil {
			return err
		}
		replay.State = models.SandboxStateRestored
		replay.PurchasedAt = p.PurchasedAt
		if err := a.sb.store.SavePurchase(ctx, replay); err != nil {
			return err
		}
		restored = append(restored, paymentTransaction(*replay))
	}

	logging.Infof("Sandbox restored %d transactions", len(restored))
	if observer != nil {
		if len(restored) > 0 {
			observer.UpdatedTransactions(restored)
		}
		observer.RestoreCompleted(nil)
	}
	return nil
}

// AppStoreReceipt returns nil until the first completed purchase.
func (a *AppStore) AppStoreReceipt(ctx context.Context) ([]byte, error) {
	purchases, err := a.sb.store.Purchases(ctx, string(iap.PlatformApple),
		models.SandboxStatePurchased, models.SandboxStateRestored, models.SandboxStateFinished)
	if err != nil {
		return nil, err
	}
	if len(purchases) == 0 {
		return nil, nil
	}
	return appReceipt(purchases)
}

// deliver reports the current state of a transaction to the observer.
func (a *AppStore) deliver(purchase *models.SandboxPurchase) {
	observer := a.currentObserver()
	if observer == nil {
		logging.Warnf("No transaction observer, transaction %s stays queued", purchase.OrderID)
		return
	}
	observer.UpdatedTransactions([]apple.PaymentTransaction{paymentTransaction(*purchase)})
}

func paymentTransaction(p models.SandboxPurchase) apple.PaymentTransaction {
	t := apple.PaymentTransaction{
		TransactionID: p.OrderID,
		Payment: apple.Payment{
			ProductID:           p.ProductID,
			Quantity:            1,
			ApplicationUsername: p.ApplicationUsername,
		},
		Date: p.PurchasedAt,
	}
	switch p.State {
	case models.SandboxStatePending:
		t.State = apple.StatePurchasing
	case models.SandboxStatePurchased, models.SandboxStateFinished:
		t.State = apple.StatePurchased
	case models.SandboxStateRestored:
		t.State = apple.StateRestored
	case models.SandboxStateFailed:
		t.State = apple.StateFailed
		t.Error = &apple.SKError{Code: p.ErrorCode, Message: "payment cancelled"}
	}
	return t
}
