package apple

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iap-reconciler/internal/iap"
)

type fakeStore struct {
	mu sync.Mutex

	canPay      bool
	observer    TransactionObserver
	setObserver int
	catalog     map[string]Product
	requestErr  error
	payments    []Payment
	paymentErr  error
	queue       []PaymentTransaction
	finished    []string
	finishErr   error
	receipt     []byte
	restores    int
}

func (s *fakeStore) CanMakePayments() bool { return s.canPay }

func (s *fakeStore) SetObserver(observer TransactionObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = observer
	s.setObserver++
}

func (s *fakeStore) RequestProducts(_ context.Context, ids []string) ([]Product, []string, error) {
	if s.requestErr != nil {
		return nil, nil, s.requestErr
	}
	var found []Product
	var invalid []string
	for _, id := range ids {
		if p, ok := s.catalog[id]; ok {
			found = append(found, p)
		} else {
			invalid = append(invalid, id)
		}
	}
	return found, invalid, nil
}

func (s *fakeStore) AddPayment(_ context.Context, payment Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments = append(s.payments, payment)
	return s.paymentErr
}

func (s *fakeStore) FinishTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, id)
	if s.finishErr != nil {
		return s.finishErr
	}
	for i, t := range s.queue {
		if t.TransactionID == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return nil
		}
	}
	return ErrTransactionNotFound
}

func (s *fakeStore) Transactions(context.Context) ([]PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PaymentTransaction(nil), s.queue...), nil
}

func (s *fakeStore) RestoreCompletedTransactions(context.Context, string) error {
	s.restores++
	return nil
}

func (s *fakeStore) AppStoreReceipt(context.Context) ([]byte, error) {
	return s.receipt, nil
}

type recorder struct {
	mu     sync.Mutex
	events []iap.RawEvent
}

func (r *recorder) sink(raw iap.RawEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, raw)
}

func (r *recorder) all() []iap.RawEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]iap.RawEvent(nil), r.events...)
}

func newTestBackend(t *testing.T, store *fakeStore) (*Backend, *recorder) {
	t.Helper()
	backend := NewBackend(store)
	rec := &recorder{}
	backend.Attach(rec.sink)
	_, err := backend.Configure(context.Background(), iap.Options{})
	require.NoError(t, err)
	return backend, rec
}

func catalog() map[string]Product {
	return map[string]Product{
		"sku.a": {ProductID: "sku.a", Title: "A", Description: "first", FormattedPrice: "$0.99", CurrencyCode: "USD"},
	}
}

func TestConfigure(t *testing.T) {
	store := &fakeStore{canPay: true}
	backend := NewBackend(store)

	ok, err := backend.Configure(context.Background(), iap.Options{})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = backend.Configure(context.Background(), iap.Options{AlternativeBilling: true})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, store.setObserver, "observer is installed once")

	store.canPay = false
	ok, err = backend.Configure(context.Background(), iap.Options{})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = NewBackend(nil).Configure(context.Background(), iap.Options{})
	assert.ErrorIs(t, err, iap.ErrNoBackend)
}

func TestFetchProducts(t *testing.T) {
	store := &fakeStore{canPay: true, catalog: catalog()}
	backend, rec := newTestBackend(t, store)

	backend.FetchProducts(context.Background(), []iap.ProductRequest{{ID: "sku.a"}, {ID: "sku.missing"}, {ID: ""}})

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, iap.ChannelFetchProductsSuccess, events[0].Channel)
	assert.Equal(t, []iap.Product{{ProductID: "sku.a", Title: "A", Description: "first", Price: "$0.99", Currency: "USD"}}, events[0].Products)
}

func TestFetchProducts_Failure(t *testing.T) {
	store := &fakeStore{canPay: true, requestErr: &SKError{Code: SKErrorCloudServiceNetworkConnectionFailed, Message: "offline"}}
	backend, rec := newTestBackend(t, store)

	backend.FetchProducts(context.Background(), []iap.ProductRequest{{ID: "sku.a"}})

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, iap.ChannelFetchProductsFailure, events[0].Channel)
	assert.Equal(t, SKErrorCloudServiceNetworkConnectionFailed, *events[0].Code)
}

func TestPurchase(t *testing.T) {
	store := &fakeStore{canPay: true, catalog: catalog()}
	backend, rec := newTestBackend(t, store)
	ctx := context.Background()

	backend.Purchase(ctx, "sku.a", iap.PurchaseArgs{})
	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, iap.ChannelPurchaseFailure, events[0].Channel)
	assert.Equal(t, "sku.a", events[0].ProductID)
	assert.Empty(t, store.payments)

	backend.FetchProducts(ctx, []iap.ProductRequest{{ID: "sku.a"}})
	backend.Purchase(ctx, "sku.a", iap.PurchaseArgs{UserID: "user-1", OfferID: "promo", KeyIdentifier: "key"})
	backend.Purchase(ctx, "sku.a", iap.PurchaseArgs{OfferID: "promo", KeyIdentifier: "key", Nonce: "n", Signature: "sig", Timestamp: 42})

	require.Len(t, store.payments, 2)
	assert.Equal(t, "user-1", store.payments[0].ApplicationUsername)
	assert.Nil(t, store.payments[0].Discount, "incomplete promotional offers are dropped")
	assert.Equal(t, &PaymentDiscount{Identifier: "promo", KeyIdentifier: "key", Nonce: "n", Signature: "sig", Timestamp: 42}, store.payments[1].Discount)
}

func TestPurchase_AddPaymentFailure(t *testing.T) {
	store := &fakeStore{canPay: true, catalog: catalog(), paymentErr: &SKError{Code: SKErrorPaymentNotAllowed, Message: "restricted"}}
	backend, rec := newTestBackend(t, store)
	backend.FetchProducts(context.Background(), []iap.ProductRequest{{ID: "sku.a"}})

	backend.Purchase(context.Background(), "sku.a", iap.PurchaseArgs{})

	events := rec.all()
	last := events[len(events)-1]
	assert.Equal(t, iap.ChannelPurchaseFailure, last.Channel)
	assert.Equal(t, SKErrorPaymentNotAllowed, *last.Code)
	assert.Equal(t, "sku.a", last.ProductID)
}

func TestUpdatedTransactions(t *testing.T) {
	store := &fakeStore{canPay: true, receipt: []byte("receipt-bytes")}
	_, rec := newTestBackend(t, store)
	when := time.Unix(1700000000, 0)

	store.queue = []PaymentTransaction{{TransactionID: "1002", Payment: Payment{ProductID: "sku.b"}, State: StateFailed}}
	store.observer.UpdatedTransactions([]PaymentTransaction{
		{TransactionID: "1000", Payment: Payment{ProductID: "sku.a"}, State: StatePurchasing},
		{TransactionID: "1001", Payment: Payment{ProductID: "sku.a"}, State: StatePurchased, Date: when},
		{TransactionID: "1002", Payment: Payment{ProductID: "sku.b"}, State: StateFailed, Error: &SKError{Code: SKErrorPaymentCancelled, Message: "cancelled"}},
		{TransactionID: "1003", Payment: Payment{ProductID: "sku.c"}, State: StateDeferred},
	})

	events := rec.all()
	require.Len(t, events, 2)
	assert.Equal(t, iap.ChannelPurchaseSuccess, events[0].Channel)
	assert.Equal(t, iap.Transaction{
		ProductIDs:      []string{"sku.a"},
		TransactionID:   "1001",
		TransactionDate: when,
		Receipt:         base64.StdEncoding.EncodeToString([]byte("receipt-bytes")),
		PurchaseToken:   "1001",
	}, *events[0].Transaction)

	assert.Equal(t, iap.ChannelPurchaseFailure, events[1].Channel)
	assert.Equal(t, SKErrorPaymentCancelled, *events[1].Code)
	assert.Equal(t, "sku.b", events[1].ProductID)
	assert.Equal(t, []string{"1002"}, store.finished, "failed transactions leave the queue")
}

func TestFinalize(t *testing.T) {
	store := &fakeStore{canPay: true, queue: []PaymentTransaction{{TransactionID: "1001", State: StatePurchased}}}
	backend, _ := newTestBackend(t, store)
	ctx := context.Background()

	require.NoError(t, backend.Finalize(ctx, iap.Transaction{TransactionID: "1001"}, true))
	require.NoError(t, backend.Finalize(ctx, iap.Transaction{TransactionID: "1001"}, true))
	assert.Empty(t, store.queue)

	assert.Error(t, backend.Finalize(ctx, iap.Transaction{PurchaseToken: "tok"}, false))

	store.finishErr = errors.New("queue unavailable")
	err := backend.Finalize(ctx, iap.Transaction{TransactionID: "1005"}, false)
	var iapErr *iap.IAPError
	require.ErrorAs(t, err, &iapErr)
	assert.Equal(t, iap.ErrorTypePurchase, iapErr.Type)
}

func TestFlushPending(t *testing.T) {
	store := &fakeStore{canPay: true, queue: []PaymentTransaction{
		{TransactionID: "1", Payment: Payment{ProductID: "sku.a"}, State: StatePurchased},
		{TransactionID: "2", Payment: Payment{ProductID: "sku.b"}, State: StatePurchasing},
		{TransactionID: "3", Payment: Payment{ProductID: "sku.c"}, State: StateRestored},
		{TransactionID: "1", Payment: Payment{ProductID: "sku.a"}, State: StatePurchased},
		{TransactionID: "4", Payment: Payment{ProductID: "sku.d"}, State: StateDeferred},
	}}
	backend, _ := newTestBackend(t, store)

	pending, err := backend.FlushPending(context.Background())
	require.NoError(t, err)

	var ids []string
	for _, tx := range pending {
		ids = append(ids, tx.TransactionID)
		assert.Empty(t, tx.Receipt, "no receipt on device")
	}
	assert.Equal(t, []string{"1", "3"}, ids)
}

func TestFetchReceipt(t *testing.T) {
	store := &fakeStore{canPay: true}
	backend, _ := newTestBackend(t, store)

	_, ok, err := backend.FetchReceipt(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	store.receipt = []byte{0x01, 0x02}
	receipt, ok, err := backend.FetchReceipt(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "AQI=", receipt)
}

func TestRestoreAndClose(t *testing.T) {
	store := &fakeStore{canPay: true}
	backend, rec := newTestBackend(t, store)

	require.NoError(t, backend.Restore(context.Background()))
	assert.Equal(t, 1, store.restores)

	store.observer.RestoreCompleted(&SKError{Code: SKErrorUnknown, Message: "restore failed"})
	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, iap.ChannelPurchaseFailure, events[0].Channel)
	assert.True(t, events[0].Restore)
	assert.Empty(t, events[0].ProductID)

	require.NoError(t, backend.Close())
	assert.Nil(t, store.observer)
}
