package iap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"iap-reconciler/pkg/logging"
)

// AttemptState is the reconciler state of one purchase attempt.
type AttemptState string

const (
	StateInitiated     AttemptState = "initiated"
	StatePendingResult AttemptState = "pending_result"
	StateCompleted     AttemptState = "completed"
	StateFinalized     AttemptState = "finalized"
	StateErrored       AttemptState = "errored"
)

// PurchaseAttempt is the in-flight record of one Purchase call.
type PurchaseAttempt struct {
	ProductID     string       `json:"product_id"`
	State         AttemptState `json:"state"`
	StartedAt     time.Time    `json:"started_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	TransactionID string       `json:"transaction_id,omitempty"`
}

func (a *PurchaseAttempt) awaitingResult() bool {
	return a.State == StateInitiated || a.State == StatePendingResult
}

// Session is one explicitly owned purchase session over a single backend.
// It holds only in-flight state; durable transaction state belongs to the
// native backend, which may be shared with other processes.
type Session struct {
	backend Backend
	events  *Emitter
	now     func() time.Time

	flight singleflight.Group

	mu         sync.Mutex
	configured bool
	closed     bool
	attempts   []*PurchaseAttempt
}

// NewSession binds backend to a fresh emitter. Nothing talks to the native
// layer until Configure.
func NewSession(backend Backend) (*Session, error) {
	if backend == nil {
		return nil, ErrNoBackend
	}
	s := &Session{
		backend: backend,
		events:  NewEmitter(backend.Platform()),
		now:     time.Now,
	}
	backend.Attach(s.handleRaw)
	return s, nil
}

func (s *Session) Platform() Platform {
	return s.backend.Platform()
}

func (s *Session) OnFetchProducts(fn FetchProductsListener) func() {
	return s.events.OnFetchProducts(fn)
}

func (s *Session) OnPurchase(fn PurchaseListener) func() {
	return s.events.OnPurchase(fn)
}

func (s *Session) OnAlternativeBillingFlow(fn AlternativeBillingListener) func() {
	return s.events.OnAlternativeBillingFlow(fn)
}

func (s *Session) OnError(fn ErrorListener) func() {
	return s.events.OnError(fn)
}

// Clear removes every listener on every canonical event.
func (s *Session) Clear() {
	s.events.Clear()
}

// Configure sets up the native session. Concurrent callers share one
// in-flight call.
func (s *Session) Configure(ctx context.Context, opts Options) (bool, error) {
	if err := s.usable(false); err != nil {
		return false, err
	}

	key := fmt.Sprintf("configure:alternative_billing=%t", opts.AlternativeBilling)
	v, err, shared := s.flight.Do(key, func() (interface{}, error) {
		return s.backend.Configure(ctx, opts)
	})
	if err != nil {
		return false, fmt.Errorf("configure %s backend: %w", s.Platform(), err)
	}
	ok := v.(bool)
	if shared {
		logging.Debugf("Configure joined an in-flight call - platform: %s", s.Platform())
	}

	s.mu.Lock()
	if ok {
		s.configured = true
	}
	s.mu.Unlock()

	logging.Infof("Purchase session configured - platform: %s, ok: %v, alternative_billing: %v", s.Platform(), ok, opts.AlternativeBilling)
	return ok, nil
}

// FetchProducts fires the product query. Results arrive through
// OnFetchProducts or OnError.
func (s *Session) FetchProducts(ctx context.Context, requests []ProductRequest) error {
	if err := s.usable(true); err != nil {
		return err
	}

	reqs := append([]ProductRequest(nil), requests...)
	detached := context.WithoutCancel(ctx)
	go s.backend.FetchProducts(detached, reqs)
	return nil
}

// Purchase launches the purchase flow for productID. The outcome arrives
// through OnPurchase or OnError; a pending purchase cannot be canceled here.
func (s *Session) Purchase(ctx context.Context, productID string, args PurchaseArgs) error {
	if err := s.usable(true); err != nil {
		return err
	}

	now := s.now()
	attempt := &PurchaseAttempt{ProductID: productID, State: StateInitiated, StartedAt: now, UpdatedAt: now}

	s.mu.Lock()
	s.attempts = append(s.attempts, attempt)
	s.mu.Unlock()

	logging.Infof("Purchase initiated - platform: %s, product: %s", s.Platform(), productID)

	detached := context.WithoutCancel(ctx)
	go func() {
		s.backend.Purchase(detached, productID, args)

		s.mu.Lock()
		defer s.mu.Unlock()
		if attempt.State == StateInitiated {
			attempt.State = StatePendingResult
			attempt.UpdatedAt = s.now()
		}
	}()
	return nil
}

// Finalize grants tx natively. Concurrent calls for the same transaction in
// this process share one native call; repeated calls rely on the native
// finalize being idempotent.
func (s *Session) Finalize(ctx context.Context, tx Transaction, isConsumable bool) error {
	if err := s.usable(true); err != nil {
		return err
	}
	if tx.Key() == "" {
		return fmt.Errorf("finalize: transaction has neither id nor purchase token")
	}

	_, err, _ := s.flight.Do("finalize:"+tx.Key(), func() (interface{}, error) {
		return nil, s.backend.Finalize(ctx, tx, isConsumable)
	})
	if err != nil {
		logging.Errorf("Finalize failed - platform: %s, transaction: %s, error: %v", s.Platform(), tx.Key(), err)
		return err
	}

	s.mu.Lock()
	s.dropFinalized(tx)
	s.mu.Unlock()

	logging.Infof("Transaction finalized - platform: %s, transaction: %s, consumable: %v", s.Platform(), tx.Key(), isConsumable)
	return nil
}

// Flush returns the transactions the native layer still holds unfinalized
// and re-delivers each through OnPurchase, so recovered purchases take the
// same validate-then-finalize path as live ones.
func (s *Session) Flush(ctx context.Context) ([]Transaction, error) {
	if err := s.usable(true); err != nil {
		return nil, err
	}

	pending, err := s.backend.FlushPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("flush %s backend: %w", s.Platform(), err)
	}

	logging.Infof("Flush found %d unfinalized transactions - platform: %s", len(pending), s.Platform())
	for _, tx := range pending {
		s.events.EmitPurchase(tx)
	}
	return pending, nil
}

// FetchReceipt returns the platform receipt, ok is false when none exists.
func (s *Session) FetchReceipt(ctx context.Context) (string, bool, error) {
	if err := s.usable(true); err != nil {
		return "", false, err
	}
	return s.backend.FetchReceipt(ctx)
}

// Restore replays completed transactions on backends that support it.
func (s *Session) Restore(ctx context.Context) error {
	if err := s.usable(true); err != nil {
		return err
	}
	restorer, ok := s.backend.(Restorer)
	if !ok {
		return ErrUnsupported
	}
	return restorer.Restore(ctx)
}

// Attempts returns a snapshot of the purchase attempts still in flight.
func (s *Session) Attempts() []PurchaseAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PurchaseAttempt, 0, len(s.attempts))
	for _, a := range s.attempts {
		out = append(out, *a)
	}
	return out
}

// Close clears every listener and tears the native session down.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.events.Clear()
	return s.backend.Close()
}

func (s *Session) usable(requireConfigured bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if requireConfigured && !s.configured {
		return ErrNotConfigured
	}
	return nil
}

// handleRaw advances in-flight attempts, then normalizes the event.
func (s *Session) handleRaw(raw RawEvent) {
	s.mu.Lock()
	closed := s.closed
	switch raw.Channel {
	case ChannelPurchaseSuccess:
		if raw.Transaction != nil {
			s.complete(*raw.Transaction)
		}
	case ChannelPurchaseFailure:
		if !raw.Restore {
			s.fail(raw.ProductID)
		}
	case ChannelConnectionFailure:
		// setup failures carry no product and belong to no attempt
		if raw.ProductID != "" {
			s.fail(raw.ProductID)
		}
	case ChannelAlternativeBilling:
		s.handOff(raw.ProductID)
	}
	s.mu.Unlock()

	if closed {
		return
	}
	s.events.Dispatch(raw)
}

// complete moves the oldest awaiting attempt of every covered product to
// completed. Transactions nobody is waiting for (restores, deliveries after
// a restart) pass through untouched.
func (s *Session) complete(tx Transaction) {
	for _, productID := range tx.ProductIDs {
		if a := s.oldestAwaiting(productID); a != nil {
			a.State = StateCompleted
			a.TransactionID = tx.Key()
			a.UpdatedAt = s.now()
		}
	}
}

// fail moves an awaiting attempt to errored and drops it.
func (s *Session) fail(productID string) {
	target := s.attributed(productID)
	if target == nil {
		return
	}
	target.State = StateErrored
	target.UpdatedAt = s.now()
	s.remove(target)
}

// handOff drops the attempt the user moved to alternative billing. The
// purchase completes outside the store and never reports back here.
func (s *Session) handOff(productID string) {
	target := s.attributed(productID)
	if target == nil {
		return
	}
	logging.Infof("Purchase handed off to alternative billing - platform: %s, product: %s", s.Platform(), target.ProductID)
	s.remove(target)
}

// Reject drops the completed attempts tx settled without finalizing it.
// The transaction stays unfinalized natively and returns on the next flush.
func (s *Session) Reject(tx Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle(tx, StateErrored)
}

func (s *Session) dropFinalized(tx Transaction) {
	s.settle(tx, StateFinalized)
}

// settle moves every completed attempt of tx to state and drops it.
func (s *Session) settle(tx Transaction, state AttemptState) {
	key := tx.Key()
	kept := s.attempts[:0]
	for _, a := range s.attempts {
		if a.State == StateCompleted && a.TransactionID == key && tx.Covers(a.ProductID) {
			a.State = state
			a.UpdatedAt = s.now()
			continue
		}
		kept = append(kept, a)
	}
	for i := len(kept); i < len(s.attempts); i++ {
		s.attempts[i] = nil
	}
	s.attempts = kept
}

// attributed finds the attempt an event about productID belongs to. Events
// without a product id can only be attributed when exactly one attempt is
// waiting.
func (s *Session) attributed(productID string) *PurchaseAttempt {
	if productID != "" {
		return s.oldestAwaiting(productID)
	}
	var target *PurchaseAttempt
	for _, a := range s.attempts {
		if !a.awaitingResult() {
			continue
		}
		if target != nil {
			return nil
		}
		target = a
	}
	return target
}

func (s *Session) oldestAwaiting(productID string) *PurchaseAttempt {
	for _, a := range s.attempts {
		if a.ProductID == productID && a.awaitingResult() {
			return a
		}
	}
	return nil
}

func (s *Session) remove(target *PurchaseAttempt) {
	for i, a := range s.attempts {
		if a == target {
			s.attempts = append(s.attempts[:i], s.attempts[i+1:]...)
			return
		}
	}
}
