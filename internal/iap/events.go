package iap

import (
	"sync"
)

// Channel is a raw notification channel emitted by a native backend.
type Channel string

const (
	ChannelFetchProductsSuccess Channel = "iap:onFetchProductsSuccess"
	ChannelFetchProductsFailure Channel = "iap:onFetchProductsFailure"
	ChannelPurchaseSuccess      Channel = "iap:onPurchaseSuccess"
	ChannelPurchaseFailure      Channel = "iap:onPurchaseFailure"
	ChannelConnectionFailure    Channel = "iap:onConnectionFailure"
	ChannelAlternativeBilling   Channel = "iap:onAlternativeBillingFlow"
)

// RawEvent is one platform notification before normalization. Which fields
// are set depends on Channel.
type RawEvent struct {
	Channel     Channel
	Products    []Product
	Transaction *Transaction
	Token       string
	Code        *int
	Message     string
	ProductID   string
	// Restore marks a failure of a restore request, which no purchase
	// attempt is waiting on.
	Restore bool
}

// RawSink receives raw events from a backend.
type RawSink func(RawEvent)

// EventKind is one of the four canonical event classes.
type EventKind string

const (
	EventFetchProducts      EventKind = "products"
	EventPurchase           EventKind = "purchase"
	EventAlternativeBilling EventKind = "alternative_billing"
	EventError              EventKind = "error"
)

type (
	FetchProductsListener      func(products []Product)
	PurchaseListener           func(tx Transaction)
	AlternativeBillingListener func(token string)
	ErrorListener              func(err *IAPError)
)

type listenerEntry[T any] struct {
	id uint64
	fn T
}

type listenerList[T any] struct {
	entries []listenerEntry[T]
}

func (l *listenerList[T]) add(id uint64, fn T) {
	l.entries = append(l.entries, listenerEntry[T]{id: id, fn: fn})
}

func (l *listenerList[T]) remove(id uint64) {
	for i, entry := range l.entries {
		if entry.id == id {
			l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
			return
		}
	}
}

func (l *listenerList[T]) snapshot() []T {
	out := make([]T, 0, len(l.entries))
	for _, entry := range l.entries {
		out = append(out, entry.fn)
	}
	return out
}

// Emitter is the subscription registry for canonical events. Registration
// is additive; identical listeners are not deduplicated.
type Emitter struct {
	platform Platform

	mu                 sync.RWMutex
	nextID             uint64
	fetchProducts      listenerList[FetchProductsListener]
	purchase           listenerList[PurchaseListener]
	alternativeBilling listenerList[AlternativeBillingListener]
	errors             listenerList[ErrorListener]
}

func NewEmitter(platform Platform) *Emitter {
	return &Emitter{platform: platform}
}

func (e *Emitter) OnFetchProducts(fn FetchProductsListener) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.fetchProducts.add(id, fn)
	return func() { e.unsubscribe(func() { e.fetchProducts.remove(id) }) }
}

func (e *Emitter) OnPurchase(fn PurchaseListener) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.purchase.add(id, fn)
	return func() { e.unsubscribe(func() { e.purchase.remove(id) }) }
}

func (e *Emitter) OnAlternativeBillingFlow(fn AlternativeBillingListener) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.alternativeBilling.add(id, fn)
	return func() { e.unsubscribe(func() { e.alternativeBilling.remove(id) }) }
}

func (e *Emitter) OnError(fn ErrorListener) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.errors.add(id, fn)
	return func() { e.unsubscribe(func() { e.errors.remove(id) }) }
}

func (e *Emitter) unsubscribe(remove func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	remove()
}

// Clear drops every subscription on all four events.
func (e *Emitter) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fetchProducts = listenerList[FetchProductsListener]{}
	e.purchase = listenerList[PurchaseListener]{}
	e.alternativeBilling = listenerList[AlternativeBillingListener]{}
	e.errors = listenerList[ErrorListener]{}
}

// ListenerCount returns the number of live subscriptions for kind.
func (e *Emitter) ListenerCount(kind EventKind) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	switch kind {
	case EventFetchProducts:
		return len(e.fetchProducts.entries)
	case EventPurchase:
		return len(e.purchase.entries)
	case EventAlternativeBilling:
		return len(e.alternativeBilling.entries)
	case EventError:
		return len(e.errors.entries)
	}
	return 0
}

// Dispatch maps a raw event onto its canonical event and delivers it to the
// listeners registered at this moment. Listeners run outside the lock.
func (e *Emitter) Dispatch(raw RawEvent) {
	switch raw.Channel {
	case ChannelFetchProductsSuccess:
		e.emitProducts(raw.Products)
	case ChannelPurchaseSuccess:
		if raw.Transaction != nil {
			e.EmitPurchase(*raw.Transaction)
		}
	case ChannelAlternativeBilling:
		e.emitAlternativeBilling(raw.Token)
	case ChannelFetchProductsFailure:
		e.EmitError(e.errorFrom(ErrorTypeFetchProducts, raw))
	case ChannelPurchaseFailure:
		e.EmitError(e.errorFrom(ErrorTypePurchase, raw))
	case ChannelConnectionFailure:
		// only Google models billing service availability
		if e.platform == PlatformGoogle {
			e.EmitError(e.errorFrom(ErrorTypeConnection, raw))
		}
	}
}

func (e *Emitter) errorFrom(t ErrorType, raw RawEvent) *IAPError {
	return &IAPError{Type: t, Code: raw.Code, Message: raw.Message, Platform: e.platform, ProductID: raw.ProductID}
}

func (e *Emitter) emitProducts(products []Product) {
	e.mu.RLock()
	listeners := e.fetchProducts.snapshot()
	e.mu.RUnlock()

	if products == nil {
		products = []Product{}
	}
	for _, fn := range listeners {
		fn(products)
	}
}

// EmitPurchase delivers tx on the purchase-completed path. Flush uses it to
// re-deliver recovered transactions.
func (e *Emitter) EmitPurchase(tx Transaction) {
	e.mu.RLock()
	listeners := e.purchase.snapshot()
	e.mu.RUnlock()

	for _, fn := range listeners {
		fn(tx)
	}
}

func (e *Emitter) emitAlternativeBilling(token string) {
	e.mu.RLock()
	listeners := e.alternativeBilling.snapshot()
	e.mu.RUnlock()

	for _, fn := range listeners {
		fn(token)
	}
}

// EmitError delivers err to the error listeners.
func (e *Emitter) EmitError(err *IAPError) {
	if err == nil {
		return
	}
	e.mu.RLock()
	listeners := e.errors.snapshot()
	e.mu.RUnlock()

	for _, fn := range listeners {
		fn(err)
	}
}
