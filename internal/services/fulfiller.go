package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"iap-reconciler/internal/iap"
	"iap-reconciler/internal/models"
	"iap-reconciler/pkg/logging"
)

// Outcome is what one fulfillment run did with a transaction.
type Outcome string

const (
	OutcomeGranted        Outcome = "granted"
	OutcomeAlreadyGranted Outcome = "already_granted"
	OutcomeDenied         Outcome = "denied"
	OutcomeInFlight       Outcome = "in_flight"
	OutcomeFailed         Outcome = "failed"
)

// Fulfiller is the purchase-completed handler: claim, validate, record the
// grant, finalize. Live completions and flush redeliveries take the same
// path. A denied or failed transaction stays unfinalized and comes back on
// the next flush.
type Fulfiller struct {
	source      PurchaseSource
	validator   Validator
	grants      GrantStore
	claims      ClaimStore
	consumables map[string]bool
	now         func() time.Time

	wg        sync.WaitGroup
	mu        sync.Mutex
	observers []func(iap.Transaction, Outcome, error)
}

func NewFulfiller(source PurchaseSource, validator Validator, grants GrantStore, claims ClaimStore, consumableProducts []string) *Fulfiller {
	consumables := make(map[string]bool, len(consumableProducts))
	for _, id := range consumableProducts {
		consumables[id] = true
	}
	return &Fulfiller{
		source:      source,
		validator:   validator,
		grants:      grants,
		claims:      claims,
		consumables: consumables,
		now:         time.Now,
	}
}

// Start subscribes to purchase completions. Each transaction is handled on
// its own goroutine under ctx.
func (f *Fulfiller) Start(ctx context.Context) (stop func()) {
	return f.source.OnPurchase(func(tx iap.Transaction) {
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			_, _ = f.Handle(ctx, tx)
		}()
	})
}

// Wait blocks until every handler started so far has returned.
func (f *Fulfiller) Wait() {
	f.wg.Wait()
}

// OnOutcome registers fn to observe every handled transaction.
func (f *Fulfiller) OnOutcome(fn func(tx iap.Transaction, outcome Outcome, err error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observers = append(f.observers, fn)
}

// Handle runs one fulfillment of tx.
func (f *Fulfiller) Handle(ctx context.Context, tx iap.Transaction) (Outcome, error) {
	outcome, err := f.handle(ctx, tx)

	f.mu.Lock()
	observers := append([]func(iap.Transaction, Outcome, error){}, f.observers...)
	f.mu.Unlock()
	for _, fn := range observers {
		fn(tx, outcome, err)
	}
	return outcome, err
}

func (f *Fulfiller) handle(ctx context.Context, tx iap.Transaction) (Outcome, error) {
	key := tx.Key()
	if key == "" {
		return OutcomeFailed, errors.New("transaction has neither id nor purchase token")
	}
	platform := f.source.Platform()
	claimKey := string(platform) + ":" + key

	claimed, err := f.claims.Claim(ctx, claimKey)
	if err != nil {
		logging.Errorf("Failed to claim transaction %s: %v", key, err)
		return OutcomeFailed, err
	}
	if !claimed {
		logging.Infof("Transaction %s is already being fulfilled, skipping", key)
		return OutcomeInFlight, nil
	}
	defer func() {
		if err := f.claims.Release(context.WithoutCancel(ctx), claimKey); err != nil {
			logging.Warnf("Failed to release claim on %s: %v", key, err)
		}
	}()

	// a recorded grant means validation already passed, only finalize is left
	existing, err := f.grants.Find(ctx, string(platform), key)
	switch {
	case err == nil:
		if err := f.finalize(ctx, tx, existing); err != nil {
			return OutcomeFailed, err
		}
		logging.Infof("Transaction %s was already granted, finalized again", key)
		return OutcomeAlreadyGranted, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		logging.Errorf("Failed to look up grant for %s: %v", key, err)
		return OutcomeFailed, err
	}

	decision, err := f.validator.Validate(ctx, platform, tx)
	if err != nil {
		logging.Errorf("Validation failed for transaction %s, leaving it unfinalized: %v", key, err)
		return OutcomeFailed, fmt.Errorf("validate %s: %w", key, err)
	}
	if !decision.Granted {
		logging.Warnf("Transaction %s denied, leaving it unfinalized - reason: %s", key, decision.Reason)
		f.source.Reject(tx)
		return OutcomeDenied, nil
	}

	grant := &models.Grant{
		Platform:        string(platform),
		TransactionKey:  key,
		TransactionID:   tx.TransactionID,
		PurchaseToken:   tx.PurchaseToken,
		ProductIDs:      models.JoinProducts(tx.ProductIDs),
		Consumable:      f.isConsumable(tx, decision.Consumable),
		Reason:          decision.Reason,
		TransactionDate: tx.TransactionDate,
	}
	if err := f.grants.Record(ctx, grant); err != nil {
		logging.Errorf("Failed to record grant for %s: %v", key, err)
		return OutcomeFailed, err
	}

	if err := f.finalize(ctx, tx, grant); err != nil {
		return OutcomeFailed, err
	}

	logging.Infof("Transaction granted and finalized - transaction: %s, products: %v, consumable: %t", key, tx.ProductIDs, grant.Consumable)
	return OutcomeGranted, nil
}

func (f *Fulfiller) finalize(ctx context.Context, tx iap.Transaction, grant *models.Grant) error {
	if err := f.source.Finalize(ctx, tx, grant.Consumable); err != nil {
		logging.Errorf("Failed to finalize transaction %s: %v", tx.Key(), err)
		return fmt.Errorf("finalize %s: %w", tx.Key(), err)
	}

	if grant.FinalizedAt.IsZero() {
		grant.FinalizedAt = f.now()
		if err := f.grants.Record(ctx, grant); err != nil {
			logging.Warnf("Finalized %s but failed to stamp the grant: %v", tx.Key(), err)
		}
	}
	return nil
}

// isConsumable prefers the validator's answer and falls back to the
// configured consumable products.
func (f *Fulfiller) isConsumable(tx iap.Transaction, fromValidator *bool) bool {
	if fromValidator != nil {
		return *fromValidator
	}
	for _, id := range tx.ProductIDs {
		if !f.consumables[id] {
			return false
		}
	}
	return len(tx.ProductIDs) > 0
}
