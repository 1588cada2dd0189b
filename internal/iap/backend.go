package iap

import (
	"context"
)

// Backend is the normalized operation set over one native purchase SDK.
// Results of FetchProducts and Purchase arrive only as raw events on the
// sink passed to Attach.
type Backend interface {
	Platform() Platform
	Attach(sink RawSink)

	// Configure sets up the native session. It must be idempotent. A
	// recoverable setup failure is (false, nil); an error means misuse.
	Configure(ctx context.Context, opts Options) (bool, error)

	FetchProducts(ctx context.Context, requests []ProductRequest)
	Purchase(ctx context.Context, productID string, args PurchaseArgs)

	// Finalize consumes or acknowledges tx. Finalizing an already finalized
	// transaction succeeds without granting twice. Platforms without a
	// consumable distinction ignore isConsumable.
	Finalize(ctx context.Context, tx Transaction, isConsumable bool) error

	// FlushPending returns every transaction the native layer still holds
	// unfinalized, each exactly once.
	FlushPending(ctx context.Context) ([]Transaction, error)

	// FetchReceipt returns the platform receipt and whether one exists.
	FetchReceipt(ctx context.Context) (string, bool, error)

	Close() error
}

// Restorer is implemented by backends that can replay completed
// transactions through the purchase event path.
type Restorer interface {
	Restore(ctx context.Context) error
}
