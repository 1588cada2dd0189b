package iap_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"iap-reconciler/internal/iap"
)

// fakeBackend keeps unfinalized transactions in memory the way a native
// queue would, and emits raw events synchronously.
type fakeBackend struct {
	platform iap.Platform

	mu             sync.Mutex
	sink           iap.RawSink
	configureCalls int
	configured     []iap.Options
	configureDelay time.Duration
	configureOK    bool
	products       map[string]iap.Product
	pending        map[string]iap.Transaction
	order          []string
	finalizeCalls  map[string]int
	grants         map[string]int
	nextID         int
	failPurchase   *iap.RawEvent
	holdPurchases  bool
	receipt        string
	closed         bool
}

func newFakeBackend(platform iap.Platform) *fakeBackend {
	return &fakeBackend{
		platform:      platform,
		configureOK:   true,
		products:      map[string]iap.Product{},
		pending:       map[string]iap.Transaction{},
		finalizeCalls: map[string]int{},
		grants:        map[string]int{},
	}
}

func (b *fakeBackend) Platform() iap.Platform { return b.platform }

func (b *fakeBackend) Attach(sink iap.RawSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sink = sink
}

func (b *fakeBackend) emit(raw iap.RawEvent) {
	b.mu.Lock()
	sink := b.sink
	b.mu.Unlock()
	if sink != nil {
		sink(raw)
	}
}

func (b *fakeBackend) Configure(_ context.Context, opts iap.Options) (bool, error) {
	b.mu.Lock()
	b.configureCalls++
	b.configured = append(b.configured, opts)
	delay := b.configureDelay
	ok := b.configureOK
	b.mu.Unlock()
	time.Sleep(delay)
	return ok, nil
}

func (b *fakeBackend) FetchProducts(_ context.Context, requests []iap.ProductRequest) {
	var out []iap.Product
	for _, req := range requests {
		out = append(out, iap.Product{ProductID: req.ID, Title: "Title " + req.ID, Price: "$0.99", Currency: "USD"})
	}
	b.mu.Lock()
	for _, p := range out {
		b.products[p.ProductID] = p
	}
	b.mu.Unlock()
	b.emit(iap.RawEvent{Channel: iap.ChannelFetchProductsSuccess, Products: out})
}

func (b *fakeBackend) Purchase(_ context.Context, productID string, _ iap.PurchaseArgs) {
	b.mu.Lock()
	if b.holdPurchases {
		b.mu.Unlock()
		return
	}
	if b.failPurchase != nil {
		raw := *b.failPurchase
		b.mu.Unlock()
		b.emit(raw)
		return
	}
	b.nextID++
	tx := iap.Transaction{
		ProductIDs:      []string{productID},
		TransactionID:   fmt.Sprintf("tx-%d", b.nextID),
		TransactionDate: time.Unix(1700000000, 0),
		Receipt:         "receipt",
		PurchaseToken:   "token-" + productID,
	}
	b.pending[tx.TransactionID] = tx
	b.order = append(b.order, tx.TransactionID)
	b.mu.Unlock()
	b.emit(iap.RawEvent{Channel: iap.ChannelPurchaseSuccess, Transaction: &tx})
}

func (b *fakeBackend) Finalize(_ context.Context, tx iap.Transaction, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finalizeCalls[tx.TransactionID]++
	if _, ok := b.pending[tx.TransactionID]; ok {
		b.grants[tx.TransactionID]++
		delete(b.pending, tx.TransactionID)
	}
	return nil
}

func (b *fakeBackend) FlushPending(_ context.Context) ([]iap.Transaction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []iap.Transaction
	for _, id := range b.order {
		if tx, ok := b.pending[id]; ok {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (b *fakeBackend) FetchReceipt(_ context.Context) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.receipt, b.receipt != "", nil
}

func (b *fakeBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// restoringBackend adds the Restorer capability.
type restoringBackend struct {
	*fakeBackend
	restores int
}

func (b *restoringBackend) Restore(_ context.Context) error {
	b.restores++
	return nil
}
