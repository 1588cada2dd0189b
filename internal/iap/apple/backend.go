// Package apple adapts the StoreKit payment queue to the iap.Backend
// operation set.
package apple

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"iap-reconciler/internal/iap"
	"iap-reconciler/pkg/logging"
)

// Backend is the StoreKit variant of iap.Backend. It also restores
// completed transactions.
type Backend struct {
	store StoreKit

	mu        sync.RWMutex
	sink      iap.RawSink
	observing bool
	products  map[string]Product
}

var (
	_ iap.Backend  = (*Backend)(nil)
	_ iap.Restorer = (*Backend)(nil)
)

func NewBackend(store StoreKit) *Backend {
	return &Backend{
		store:    store,
		products: make(map[string]Product),
	}
}

func (b *Backend) Platform() iap.Platform {
	return iap.PlatformApple
}

func (b *Backend) Attach(sink iap.RawSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sink = sink
}

// Configure installs the queue observer once and reports whether the device
// may make payments.
func (b *Backend) Configure(_ context.Context, _ iap.Options) (bool, error) {
	if b.store == nil {
		return false, iap.ErrNoBackend
	}

	b.mu.Lock()
	install := !b.observing
	b.observing = true
	b.mu.Unlock()

	if install {
		b.store.SetObserver(b)
	}
	return b.store.CanMakePayments(), nil
}

func (b *Backend) FetchProducts(ctx context.Context, requests []iap.ProductRequest) {
	ids := make([]string, 0, len(requests))
	for _, req := range requests {
		if req.ID != "" {
			ids = append(ids, req.ID)
		}
	}

	products, invalid, err := b.store.RequestProducts(ctx, ids)
	if err != nil {
		mapped := iap.Classify(iap.PlatformApple, iap.OpFetchProducts, nativeError(err))
		b.emit(iap.RawEvent{Channel: iap.ChannelFetchProductsFailure, Code: mapped.Code, Message: mapped.Message})
		return
	}
	if len(invalid) > 0 {
		logging.Warnf("Invalid product identifiers: %v", invalid)
	}

	out := make([]iap.Product, 0, len(products))
	b.mu.Lock()
	for _, p := range products {
		b.products[p.ProductID] = p
		out = append(out, iap.Product{
			ProductID:   p.ProductID,
			Title:       p.Title,
			Description: p.Description,
			Price:       p.FormattedPrice,
			Currency:    p.CurrencyCode,
		})
	}
	b.mu.Unlock()

	b.emit(iap.RawEvent{Channel: iap.ChannelFetchProductsSuccess, Products: out})
}

// Purchase queues a payment. A promotional offer is attached only when all
// of its signature fields are present.
func (b *Backend) Purchase(ctx context.Context, productID string, args iap.PurchaseArgs) {
	b.mu.RLock()
	_, ok := b.products[productID]
	b.mu.RUnlock()
	if !ok {
		b.emitFailure(SKErrorStoreProductNotAvailable, fmt.Sprintf("%v: %s", iap.ErrProductNotFetched, productID), productID)
		return
	}

	payment := Payment{
		ProductID:           productID,
		Quantity:            1,
		ApplicationUsername: args.UserID,
	}
	if args.HasPromotionalOffer() {
		payment.Discount = &PaymentDiscount{
			Identifier:    args.OfferID,
			KeyIdentifier: args.KeyIdentifier,
			Nonce:         args.Nonce,
			Signature:     args.Signature,
			Timestamp:     args.Timestamp,
		}
	}

	if err := b.store.AddPayment(ctx, payment); err != nil {
		mapped := iap.Classify(iap.PlatformApple, iap.OpPurchase, nativeError(err))
		b.emit(iap.RawEvent{Channel: iap.ChannelPurchaseFailure, Code: mapped.Code, Message: mapped.Message, ProductID: productID})
	}
}

// Finalize finishes the queued transaction. isConsumable does not apply to
// StoreKit; a transaction already gone from the queue counts as finished.
func (b *Backend) Finalize(ctx context.Context, tx iap.Transaction, _ bool) error {
	if tx.TransactionID == "" {
		return iap.NewPurchaseError(iap.PlatformApple, SKErrorPaymentInvalid, "transaction has no transaction id")
	}

	err := b.store.FinishTransaction(ctx, tx.TransactionID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTransactionNotFound):
		logging.Infof("Finish of transaction no longer queued ignored - transaction: %s", tx.TransactionID)
		return nil
	}
	return iap.Classify(iap.PlatformApple, iap.OpFinalize, nativeError(err))
}

func (b *Backend) FlushPending(ctx context.Context) ([]iap.Transaction, error) {
	queued, err := b.store.Transactions(ctx)
	if err != nil {
		return nil, iap.Classify(iap.PlatformApple, iap.OpFlush, nativeError(err))
	}

	receipt := b.receipt(ctx)
	var out []iap.Transaction
	seen := make(map[string]struct{})
	for _, t := range queued {
		if t.State != StatePurchased && t.State != StateRestored {
			continue
		}
		if _, dup := seen[t.TransactionID]; dup {
			continue
		}
		seen[t.TransactionID] = struct{}{}
		out = append(out, transactionFrom(t, receipt))
	}
	return out, nil
}

func (b *Backend) FetchReceipt(ctx context.Context) (string, bool, error) {
	data, err := b.store.AppStoreReceipt(ctx)
	if err != nil {
		return "", false, iap.Classify(iap.PlatformApple, iap.OpFetchReceipt, nativeError(err))
	}
	if len(data) == 0 {
		return "", false, nil
	}
	return base64.StdEncoding.EncodeToString(data), true, nil
}

// Restore asks the queue to replay completed transactions. They arrive on
// the purchase path in the restored state.
func (b *Backend) Restore(ctx context.Context) error {
	if err := b.store.RestoreCompletedTransactions(ctx, ""); err != nil {
		return iap.Classify(iap.PlatformApple, iap.OpRestore, nativeError(err))
	}
	return nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	observing := b.observing
	b.observing = false
	b.products = make(map[string]Product)
	b.mu.Unlock()

	if observing && b.store != nil {
		b.store.SetObserver(nil)
	}
	return nil
}

// UpdatedTransactions implements TransactionObserver.
func (b *Backend) UpdatedTransactions(transactions []PaymentTransaction) {
	for _, t := range transactions {
		switch t.State {
		case StatePurchased, StateRestored:
			tx := transactionFrom(t, b.receipt(context.Background()))
			b.emit(iap.RawEvent{Channel: iap.ChannelPurchaseSuccess, Transaction: &tx})
		case StateFailed:
			code, message := SKErrorUnknown, "transaction failed"
			if t.Error != nil {
				code, message = t.Error.Code, t.Error.Message
			}
			b.emitFailure(code, message, t.Payment.ProductID)
			if err := b.store.FinishTransaction(context.Background(), t.TransactionID); err != nil && !errors.Is(err, ErrTransactionNotFound) {
				logging.Errorf("Failed to finish failed transaction %s: %v", t.TransactionID, err)
			}
		default:
			logging.Debugf("Transaction %s for %s is %s", t.TransactionID, t.Payment.ProductID, t.State)
		}
	}
}

// RestoreCompleted implements TransactionObserver.
func (b *Backend) RestoreCompleted(err error) {
	if err == nil {
		logging.Infof("Restore of completed transactions finished")
		return
	}
	mapped := iap.Classify(iap.PlatformApple, iap.OpRestore, nativeError(err))
	b.emit(iap.RawEvent{Channel: iap.ChannelPurchaseFailure, Code: mapped.Code, Message: mapped.Message, Restore: true})
}

func (b *Backend) receipt(ctx context.Context) string {
	receipt, _, err := b.FetchReceipt(ctx)
	if err != nil {
		logging.Warnf("App receipt unavailable: %v", err)
	}
	return receipt
}

func (b *Backend) emitFailure(code int, message, productID string) {
	b.emit(iap.RawEvent{Channel: iap.ChannelPurchaseFailure, Code: &code, Message: message, ProductID: productID})
}

func (b *Backend) emit(raw iap.RawEvent) {
	b.mu.RLock()
	sink := b.sink
	b.mu.RUnlock()
	if sink != nil {
		sink(raw)
	}
}

// nativeError lifts an SKError into the shared native error shape. Other
// errors pass through unchanged.
func nativeError(err error) error {
	var skErr *SKError
	if errors.As(err, &skErr) {
		return &iap.NativeError{
			Code:       skErr.Code,
			Message:    skErr.Message,
			Connection: skErr.Code == SKErrorCloudServiceNetworkConnectionFailed,
		}
	}
	return err
}

// transactionFrom maps a queue entry. StoreKit has no purchase token, the
// transaction id serves as the finalize handle.
func transactionFrom(t PaymentTransaction, receipt string) iap.Transaction {
	return iap.Transaction{
		ProductIDs:      []string{t.Payment.ProductID},
		TransactionID:   t.TransactionID,
		TransactionDate: t.Date,
		Receipt:         receipt,
		PurchaseToken:   t.TransactionID,
	}
}
