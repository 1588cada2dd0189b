// Package google adapts Play Billing to the iap.Backend operation set.
package google

import (
	"context"
	"fmt"
	"sync"

	"iap-reconciler/internal/iap"
	"iap-reconciler/pkg/logging"
)

// Backend is the Play Billing variant of iap.Backend.
type Backend struct {
	newClient ClientFactory

	configureMu sync.Mutex

	mu      sync.RWMutex
	client  BillingClient
	applied *iap.Options
	sink    iap.RawSink
	details map[string]ProductDetails
}

var _ iap.Backend = (*Backend)(nil)

func NewBackend(factory ClientFactory) *Backend {
	return &Backend{
		newClient: factory,
		details:   make(map[string]ProductDetails),
	}
}

func (b *Backend) Platform() iap.Platform {
	return iap.PlatformGoogle
}

func (b *Backend) Attach(sink iap.RawSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sink = sink
}

// Configure reuses a ready client built with the same options and rebuilds
// the client when the options changed.
func (b *Backend) Configure(ctx context.Context, opts iap.Options) (bool, error) {
	if b.newClient == nil {
		return false, iap.ErrNoBackend
	}

	b.configureMu.Lock()
	defer b.configureMu.Unlock()

	b.mu.Lock()
	previous := b.client
	sameOptions := b.applied != nil && *b.applied == opts
	b.mu.Unlock()

	if previous != nil {
		if previous.IsReady() && sameOptions {
			return true, nil
		}
		previous.EndConnection()
	}

	var userChoice UserChoiceListener
	if opts.AlternativeBilling {
		userChoice = b.onUserChoice
	}
	client := b.newClient(ClientConfig{UserChoiceBilling: opts.AlternativeBilling, PendingPurchases: true}, b.onPurchasesUpdated, userChoice)
	if client == nil {
		return false, fmt.Errorf("google: client factory returned nil")
	}

	applied := opts
	b.mu.Lock()
	b.client = client
	b.applied = &applied
	b.mu.Unlock()

	result := client.StartConnection(ctx)
	if !result.OK() {
		logging.Warnf("Billing service setup failed - code: %d, message: %s", result.ResponseCode, result.DebugMessage)
		b.emitError(iap.ChannelConnectionFailure, result, "")
		return false, nil
	}
	return true, nil
}

// FetchProducts queries each product type in its own call. A request
// without a type hint is looked up as both, one-time products first.
func (b *Backend) FetchProducts(ctx context.Context, requests []iap.ProductRequest) {
	client, err := b.connect(ctx)
	if err != nil {
		b.emitConnectError(err, "")
		return
	}

	groups := make(map[string][]ProductQuery, 2)
	for _, req := range requests {
		if req.ID == "" {
			continue
		}
		for _, productType := range lookupTypes(req.Type) {
			groups[productType] = append(groups[productType], ProductQuery{ProductID: req.ID, ProductType: productType})
		}
	}
	if len(groups) == 0 {
		// Let the billing client reject the empty list in its own words.
		groups[ProductTypeInApp] = nil
	}

	found := make(map[string]ProductDetails)
	for _, productType := range []string{ProductTypeInApp, ProductTypeSubs} {
		queries, ok := groups[productType]
		if !ok {
			continue
		}
		details, result := client.QueryProductDetails(ctx, queries)
		if !result.OK() {
			b.emitError(iap.ChannelFetchProductsFailure, result, "")
			return
		}
		for _, d := range details {
			found[detailsKey(d.ProductType, d.ProductID)] = d
		}
	}

	products := make([]iap.Product, 0, len(requests))
	for _, req := range requests {
		if req.ID == "" {
			continue
		}
		for _, productType := range lookupTypes(req.Type) {
			d, ok := found[detailsKey(productType, req.ID)]
			if !ok {
				continue
			}
			if product, ok := productFrom(req, d); ok {
				products = append(products, product)
			}
			break
		}
	}

	b.mu.Lock()
	for _, d := range found {
		b.details[d.ProductID] = d
	}
	b.mu.Unlock()

	b.emit(iap.RawEvent{Channel: iap.ChannelFetchProductsSuccess, Products: products})
}

func lookupTypes(t iap.ProductType) []string {
	switch {
	case t == "":
		return []string{ProductTypeInApp, ProductTypeSubs}
	case t.Valid():
		return []string{string(t)}
	}
	return nil
}

func detailsKey(productType, productID string) string {
	return productType + "/" + productID
}

// productFrom renders one requested product. Subscriptions resolve to the
// first offer matching the requested plan and offer.
func productFrom(req iap.ProductRequest, d ProductDetails) (iap.Product, bool) {
	product := iap.Product{
		ProductID:   d.ProductID,
		OfferID:     req.OfferID,
		Title:       d.Title,
		Description: d.Description,
	}

	if d.ProductType != ProductTypeSubs {
		if d.OneTimeOffer != nil {
			product.Price = d.OneTimeOffer.FormattedPrice
			product.Currency = d.OneTimeOffer.PriceCurrencyCode
		}
		return product, true
	}

	offer, ok := selectOffer(d.SubscriptionOffers, req.PlanID, req.OfferID)
	if !ok || len(offer.PricingPhases) == 0 {
		return iap.Product{}, false
	}
	product.PlanID = offer.BasePlanID
	product.Price = offer.PricingPhases[0].FormattedPrice
	product.Currency = offer.PricingPhases[0].PriceCurrencyCode
	return product, true
}

func selectOffer(offers []SubscriptionOffer, planID, offerID string) (SubscriptionOffer, bool) {
	for _, offer := range offers {
		if planID != "" && offer.BasePlanID != planID {
			continue
		}
		if offerID != "" && offer.OfferID != offerID {
			continue
		}
		return offer, true
	}
	return SubscriptionOffer{}, false
}

func (b *Backend) Purchase(ctx context.Context, productID string, args iap.PurchaseArgs) {
	client, err := b.connect(ctx)
	if err != nil {
		b.emitConnectError(err, productID)
		return
	}

	b.mu.RLock()
	details, ok := b.details[productID]
	b.mu.RUnlock()
	if !ok {
		b.emitError(iap.ChannelPurchaseFailure, Result(ItemUnavailable, fmt.Sprintf("%v: %s", iap.ErrProductNotFetched, productID)), productID)
		return
	}

	params := FlowParams{
		ProductDetails:      details,
		ObfuscatedAccountID: args.ObfuscatedAccountID,
		ObfuscatedProfileID: args.ObfuscatedProfileID,
		OldPurchaseToken:    args.OriginalPurchaseToken,
	}
	if offer, ok := selectOffer(details.SubscriptionOffers, args.PlanID, args.OfferID); ok {
		params.OfferToken = offer.OfferToken
	}

	result := client.LaunchBillingFlow(ctx, params)
	if !result.OK() {
		b.emitError(iap.ChannelPurchaseFailure, result, productID)
	}
}

// Finalize consumes or acknowledges by purchase token. ItemNotOwned means
// the token was already consumed, which also settles a later acknowledge.
func (b *Backend) Finalize(ctx context.Context, tx iap.Transaction, isConsumable bool) error {
	if tx.PurchaseToken == "" {
		return iap.NewPurchaseError(iap.PlatformGoogle, DeveloperError, "transaction has no purchase token")
	}

	client, err := b.connect(ctx)
	if err != nil {
		return err
	}

	var result BillingResult
	if isConsumable {
		result = client.Consume(ctx, tx.PurchaseToken)
	} else {
		result = client.Acknowledge(ctx, tx.PurchaseToken)
	}

	switch result.ResponseCode {
	case OK:
		return nil
	case ItemNotOwned:
		logging.Infof("Finalize of already consumed purchase ignored - transaction: %s, consumable: %v", tx.Key(), isConsumable)
		return nil
	}
	return iap.Classify(iap.PlatformGoogle, iap.OpFinalize, nativeError(result))
}

// FlushPending lists purchased, unacknowledged in-app purchases and then
// subscriptions.
func (b *Backend) FlushPending(ctx context.Context) ([]iap.Transaction, error) {
	client, err := b.connect(ctx)
	if err != nil {
		return nil, err
	}

	var out []iap.Transaction
	seen := make(map[string]struct{})
	for _, productType := range []string{ProductTypeInApp, ProductTypeSubs} {
		purchases, result := client.QueryPurchases(ctx, productType)
		if !result.OK() {
			return nil, iap.Classify(iap.PlatformGoogle, iap.OpFlush, nativeError(result))
		}
		for _, p := range purchases {
			if p.Acknowledged || p.State != PurchaseStatePurchased {
				continue
			}
			if _, dup := seen[p.PurchaseToken]; dup {
				continue
			}
			seen[p.PurchaseToken] = struct{}{}
			out = append(out, transactionFrom(p))
		}
	}
	return out, nil
}

// FetchReceipt reports no receipt: Play has no app-wide receipt, the
// purchase token on each transaction is the proof of purchase.
func (b *Backend) FetchReceipt(_ context.Context) (string, bool, error) {
	return "", false, nil
}

func (b *Backend) Close() error {
	b.configureMu.Lock()
	defer b.configureMu.Unlock()

	b.mu.Lock()
	client := b.client
	b.client = nil
	b.applied = nil
	b.details = make(map[string]ProductDetails)
	b.mu.Unlock()

	if client != nil {
		client.EndConnection()
	}
	return nil
}

func (b *Backend) onPurchasesUpdated(result BillingResult, purchases []Purchase) {
	if !result.OK() {
		productID := ""
		if len(purchases) == 1 && len(purchases[0].Products) == 1 {
			productID = purchases[0].Products[0]
		}
		b.emitError(iap.ChannelPurchaseFailure, result, productID)
		return
	}

	for _, p := range purchases {
		if p.State != PurchaseStatePurchased {
			logging.Infof("Purchase pending on the store - products: %v", p.Products)
			continue
		}
		tx := transactionFrom(p)
		b.emit(iap.RawEvent{Channel: iap.ChannelPurchaseSuccess, Transaction: &tx})
	}
}

func (b *Backend) onUserChoice(details UserChoiceDetails) {
	productID := ""
	if len(details.Products) == 1 {
		productID = details.Products[0]
	}
	b.emit(iap.RawEvent{Channel: iap.ChannelAlternativeBilling, Token: details.ExternalTransactionToken, ProductID: productID})
}

// connect returns a ready client, reconnecting when the service dropped.
func (b *Backend) connect(ctx context.Context) (BillingClient, error) {
	b.mu.RLock()
	client := b.client
	b.mu.RUnlock()

	if client == nil {
		return nil, iap.ErrNotConfigured
	}
	if client.IsReady() {
		return client, nil
	}

	result := client.StartConnection(ctx)
	if !result.OK() {
		return nil, iap.NewConnectionError(iap.PlatformGoogle, result.ResponseCode, result.DebugMessage)
	}
	return client, nil
}

func (b *Backend) emitConnectError(err error, productID string) {
	mapped := iap.Classify(iap.PlatformGoogle, iap.OpConfigure, err)
	if mapped.Type != iap.ErrorTypeConnection {
		logging.Errorf("Billing client unavailable: %v", err)
		return
	}
	b.emit(iap.RawEvent{Channel: iap.ChannelConnectionFailure, Code: mapped.Code, Message: mapped.Message, ProductID: productID})
}

func (b *Backend) emitError(channel iap.Channel, result BillingResult, productID string) {
	code := result.ResponseCode
	b.emit(iap.RawEvent{Channel: channel, Code: &code, Message: result.DebugMessage, ProductID: productID})
}

func (b *Backend) emit(raw iap.RawEvent) {
	b.mu.RLock()
	sink := b.sink
	b.mu.RUnlock()
	if sink != nil {
		sink(raw)
	}
}

func nativeError(result BillingResult) *iap.NativeError {
	connection := false
	switch result.ResponseCode {
	case ServiceDisconnected, ServiceUnavailable, BillingUnavailable:
		connection = true
	}
	return &iap.NativeError{Code: result.ResponseCode, Message: result.DebugMessage, Connection: connection}
}

func transactionFrom(p Purchase) iap.Transaction {
	return iap.Transaction{
		ProductIDs:      append([]string(nil), p.Products...),
		TransactionID:   p.OrderID,
		TransactionDate: p.PurchaseTime,
		Receipt:         p.OriginalJSON,
		PurchaseToken:   p.PurchaseToken,
	}
}
