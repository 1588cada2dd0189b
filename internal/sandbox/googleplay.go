package sandbox

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"iap-reconciler/internal/iap"
	"iap-reconciler/internal/iap/google"
	"iap-reconciler/internal/models"
	"iap-reconciler/pkg/logging"
)

// GooglePlay is a google.BillingClient backed by the sandbox store.
type GooglePlay struct {
	sb         *Sandbox
	cfg        google.ClientConfig
	purchases  google.PurchasesUpdatedListener
	userChoice google.UserChoiceListener

	mu    sync.Mutex
	ready bool
}

var _ google.BillingClient = (*GooglePlay)(nil)

func (g *GooglePlay) StartConnection(context.Context) google.BillingResult {
	if !g.sb.Available() {
		return google.Result(google.BillingUnavailable, "billing service unavailable")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ready = true
	return google.Result(google.OK, "")
}

func (g *GooglePlay) EndConnection() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ready = false
}

func (g *GooglePlay) IsReady() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ready && g.sb.Available()
}

func (g *GooglePlay) disconnected() (google.BillingResult, bool) {
	if !g.IsReady() {
		return google.Result(google.ServiceDisconnected, "billing service disconnected"), true
	}
	return google.BillingResult{}, false
}

func (g *GooglePlay) QueryProductDetails(ctx context.Context, queries []google.ProductQuery) ([]google.ProductDetails, google.BillingResult) {
	if result, down := g.disconnected(); down {
		return nil, result
	}
	if len(queries) == 0 {
		return nil, google.Result(google.DeveloperError, "product list must not be empty")
	}

	ids := make([]string, 0, len(queries))
	wantType := make(map[string]string, len(queries))
	for _, q := range queries {
		ids = append(ids, q.ProductID)
		wantType[q.ProductID] = q.ProductType
	}

	products, _, err := g.sb.products(ctx, iap.PlatformGoogle, ids)
	if err != nil {
		logging.Errorf("Sandbox product query failed: %v", err)
		return nil, google.Result(google.Error, err.Error())
	}

	details := make([]google.ProductDetails, 0, len(products))
	for _, p := range products {
		if wantType[p.ProductID] != p.ProductType {
			continue
		}
		details = append(details, productDetails(p))
	}
	return details, google.Result(google.OK, "")
}

func productDetails(p models.SandboxProduct) google.ProductDetails {
	d := google.ProductDetails{
		ProductID:   p.ProductID,
		ProductType: p.ProductType,
		Title:       p.Title,
		Description: p.Description,
	}
	if p.ProductType == google.ProductTypeInApp {
		d.OneTimeOffer = &google.OneTimeOffer{
			FormattedPrice:    p.FormattedPrice,
			PriceCurrencyCode: p.Currency,
			PriceAmountMicros: p.PriceMicros,
		}
		return d
	}
	for _, o := range p.Offers {
		d.SubscriptionOffers = append(d.SubscriptionOffers, google.SubscriptionOffer{
			BasePlanID: o.BasePlanID,
			OfferID:    o.OfferID,
			OfferToken: o.OfferToken,
			PricingPhases: []google.PricingPhase{{
				FormattedPrice:    o.FormattedPrice,
				PriceCurrencyCode: o.Currency,
				PriceAmountMicros: o.PriceMicros,
			}},
		})
	}
	return d
}

// LaunchBillingFlow records a pending purchase. With auto-approve it
// settles at once and is delivered to the purchases listener.
func (g *GooglePlay) LaunchBillingFlow(ctx context.Context, params google.FlowParams) google.BillingResult {
	if result, down := g.disconnected(); down {
		return result
	}

	productID := params.ProductDetails.ProductID
	product, ok, err := g.sb.product(ctx, iap.PlatformGoogle, productID)
	if err != nil {
		return google.Result(google.Error, err.Error())
	}
	if !ok {
		return google.Result(google.ItemUnavailable, "item unavailable")
	}
	if product.ProductType == google.ProductTypeSubs && !hasOffer(product, params.OfferToken) {
		return google.Result(google.DeveloperError, "offer token is required for subscriptions")
	}

	// consumables must be consumed before they can be bought again
	owned, err := g.sb.store.Purchases(ctx, string(iap.PlatformGoogle), models.SandboxStatePurchased)
	if err != nil {
		return google.Result(google.Error, err.Error())
	}
	for _, p := range owned {
		if p.ProductID == productID && p.PurchaseToken != params.OldPurchaseToken {
			return google.Result(google.ItemAlreadyOwned, "item already owned")
		}
	}

	if g.cfg.UserChoiceBilling && g.userChoice != nil && g.sb.prefersAlternative() {
		token := uuid.NewString()
		logging.Infof("Sandbox user chose alternative billing - product: %s", productID)
		g.userChoice(google.UserChoiceDetails{ExternalTransactionToken: token, Products: []string{productID}})
		return google.Result(google.OK, "")
	}

	purchase := &models.SandboxPurchase{
		Platform:      string(iap.PlatformGoogle),
		ProductID:     productID,
		AccountID:     params.ObfuscatedAccountID,
		ProfileID:     params.ObfuscatedProfileID,
		OfferToken:    params.OfferToken,
		ReplacesToken: params.OldPurchaseToken,
	}
	if err := g.sb.newPurchase(ctx, purchase); err != nil {
		return google.Result(google.Error, err.Error())
	}

	if g.sb.autoApprove {
		if err := g.sb.settle(ctx, purchase); err != nil {
			return google.Result(google.Error, err.Error())
		}
		g.deliver(ctx, purchase)
	} else {
		logging.Infof("Sandbox purchase pending approval - order: %s, token: %s", purchase.OrderID, purchase.PurchaseToken)
	}
	return google.Result(google.OK, "")
}

func hasOffer(p models.SandboxProduct, token string) bool {
	for _, o := range p.Offers {
		if o.OfferToken == token {
			return true
		}
	}
	return false
}

// QueryPurchases lists the purchases the user still owns for a product
// type: purchased ones and those pending approval.
func (g *GooglePlay) QueryPurchases(ctx context.Context, productType string) ([]google.Purchase, google.BillingResult) {
	if result, down := g.disconnected(); down {
		return nil, result
	}

	owned, err := g.sb.store.Purchases(ctx, string(iap.PlatformGoogle), models.SandboxStatePending, models.SandboxStatePurchased)
	if err != nil {
		return nil, google.Result(google.Error, err.Error())
	}

	ids := make([]string, 0, len(owned))
	for _, p := range owned {
		ids = append(ids, p.ProductID)
	}
	products, _, err := g.sb.products(ctx, iap.PlatformGoogle, ids)
	if err != nil {
		return nil, google.Result(google.Error, err.Error())
	}
	typeOf := make(map[string]string, len(products))
	for _, p := range products {
		typeOf[p.ProductID] = p.ProductType
	}

	out := make([]google.Purchase, 0, len(owned))
	for _, p := range owned {
		if typeOf[p.ProductID] != productType {
			continue
		}
		out = append(out, googlePurchase(p))
	}
	return out, google.Result(google.OK, "")
}

func (g *GooglePlay) Acknowledge(ctx context.Context, token string) google.BillingResult {
	return g.finish(ctx, token, func(p *models.SandboxPurchase) {
		p.Acknowledged = true
	})
}

func (g *GooglePlay) Consume(ctx context.Context, token string) google.BillingResult {
	return g.finish(ctx, token, func(p *models.SandboxPurchase) {
		p.Acknowledged = true
		p.State = models.SandboxStateConsumed
	})
}

func (g *GooglePlay) finish(ctx context.Context, token string, apply func(*models.SandboxPurchase)) google.BillingResult {
	if result, down := g.disconnected(); down {
		return result
	}

	purchase, err := g.sb.store.PurchaseByToken(ctx, token)
	switch {
	case errors.Is(err, ErrPurchaseNotFound):
		return google.Result(google.ItemNotOwned, "item not owned")
	case err != nil:
		return google.Result(google.Error, err.Error())
	}

	switch purchase.State {
	case models.SandboxStatePurchased:
	case models.SandboxStatePending:
		return google.Result(google.DeveloperError, "purchase is pending")
	default:
		return google.Result(google.ItemNotOwned, "item not owned")
	}

	apply(purchase)
	if err := g.sb.store.SavePurchase(ctx, purchase); err != nil {
		return google.Result(google.Error, err.Error())
	}
	return google.Result(google.OK, "")
}

// deliver reports a settled or failed purchase to the purchases listener.
func (g *GooglePlay) deliver(_ context.Context, purchase *models.SandboxPurchase) {
	if !g.IsReady() {
		logging.Warnf("Billing client not connected, purchase %s stays queued", purchase.OrderID)
		return
	}
	if purchase.State == models.SandboxStateFailed {
		g.purchases(google.Result(purchase.ErrorCode, "user canceled"), []google.Purchase{googlePurchase(*purchase)})
		return
	}
	g.purchases(google.Result(google.OK, ""), []google.Purchase{googlePurchase(*purchase)})
}

func googlePurchase(p models.SandboxPurchase) google.Purchase {
	state := google.PurchaseStatePending
	if p.State == models.SandboxStatePurchased || p.State == models.SandboxStateConsumed {
		state = google.PurchaseStatePurchased
	}
	if p.State == models.SandboxStateFailed {
		state = google.PurchaseStateUnspecified
	}
	return google.Purchase{
		OrderID:       p.OrderID,
		Products:      []string{p.ProductID},
		PurchaseTime:  p.PurchasedAt,
		PurchaseToken: p.PurchaseToken,
		OriginalJSON:  originalJSON(p),
		State:         state,
		Acknowledged:  p.Acknowledged,
		AccountID:     p.AccountID,
		ProfileID:     p.ProfileID,
	}
}
