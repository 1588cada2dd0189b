// Package sandbox simulates the Play Billing and StoreKit native layers on
// top of gorm, so the purchase lifecycle can run without a device. Pending
// purchases are durable and survive a restart like they would on a store.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"iap-reconciler/internal/iap"
	"iap-reconciler/internal/iap/google"
	"iap-reconciler/internal/models"
	"iap-reconciler/pkg/logging"
)

var (
	ErrPurchaseNotFound = errors.New("sandbox: purchase not found")
	ErrNotPending       = errors.New("sandbox: purchase is not pending")
	ErrUnknownPlatform  = errors.New("sandbox: unknown platform")
)

// Sandbox is the shared state behind the simulated clients of both
// platforms.
type Sandbox struct {
	store       *Store
	cache       *ProductCache
	autoApprove bool
	now         func() time.Time

	mu                sync.RWMutex
	available         bool
	preferAlternative bool
	googleClient      *GooglePlay
	appStore          *AppStore
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithClock overrides the purchase timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Sandbox) { s.now = now }
}

func New(db *gorm.DB, redisClient *redis.Client, cacheTTL time.Duration, autoApprove bool, opts ...Option) *Sandbox {
	s := &Sandbox{
		store:       NewStore(db),
		cache:       NewProductCache(redisClient, cacheTTL),
		autoApprove: autoApprove,
		now:         time.Now,
		available:   true,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.appStore = &AppStore{sb: s}
	return s
}

// GooglePlayFactory builds billing clients bound to this sandbox. The most
// recently built client receives purchase updates.
func (s *Sandbox) GooglePlayFactory() google.ClientFactory {
	return func(cfg google.ClientConfig, purchases google.PurchasesUpdatedListener, userChoice google.UserChoiceListener) google.BillingClient {
		client := &GooglePlay{sb: s, cfg: cfg, purchases: purchases, userChoice: userChoice}
		s.mu.Lock()
		s.googleClient = client
		s.mu.Unlock()
		return client
	}
}

// AppStore returns the simulated StoreKit.
func (s *Sandbox) AppStore() *AppStore {
	return s.appStore
}

// SetAvailable toggles the simulated store service. While unavailable,
// Google connections fail and StoreKit refuses payments.
func (s *Sandbox) SetAvailable(available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = available
	logging.Infof("Sandbox store availability set to %v", available)
}

func (s *Sandbox) Available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.available
}

// SetPreferAlternative makes the simulated user pick alternative billing
// whenever a Google client offers user choice.
func (s *Sandbox) SetPreferAlternative(prefer bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preferAlternative = prefer
}

func (s *Sandbox) prefersAlternative() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.preferAlternative
}

// OfferSpec describes one subscription offer of a ProductSpec.
type OfferSpec struct {
	BasePlanID  string `json:"base_plan_id" binding:"required"`
	OfferID     string `json:"offer_id"`
	Price       string `json:"price"`
	Currency    string `json:"currency"`
	PriceMicros int64  `json:"price_micros"`
}

// ProductSpec is a catalog entry as submitted by the admin API.
type ProductSpec struct {
	Platform    iap.Platform    `json:"platform" binding:"required"`
	ProductID   string          `json:"product_id" binding:"required"`
	Type        iap.ProductType `json:"type"`
	Consumable  bool            `json:"consumable"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Price       string          `json:"price"`
	Currency    string          `json:"currency"`
	PriceMicros int64           `json:"price_micros"`
	Offers      []OfferSpec     `json:"offers"`
}

// AddProduct creates or replaces a catalog entry.
func (s *Sandbox) AddProduct(ctx context.Context, spec ProductSpec) (*models.SandboxProduct, error) {
	if spec.Platform != iap.PlatformApple && spec.Platform != iap.PlatformGoogle {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, spec.Platform)
	}
	if spec.ProductID == "" {
		return nil, errors.New("sandbox: product id is required")
	}
	productType := spec.Type
	if productType == "" {
		productType = iap.ProductTypeInApp
	}
	if !productType.Valid() {
		return nil, fmt.Errorf("sandbox: unknown product type %q", spec.Type)
	}
	if productType == iap.ProductTypeSubscription && spec.Platform == iap.PlatformGoogle && len(spec.Offers) == 0 {
		return nil, errors.New("sandbox: subscriptions need at least one offer")
	}

	product := &models.SandboxProduct{
		Platform:       string(spec.Platform),
		ProductID:      spec.ProductID,
		ProductType:    string(productType),
		Consumable:     spec.Consumable && productType == iap.ProductTypeInApp,
		Title:          spec.Title,
		Description:    spec.Description,
		FormattedPrice: spec.Price,
		Currency:       spec.Currency,
		PriceMicros:    spec.PriceMicros,
	}
	for _, o := range spec.Offers {
		product.Offers = append(product.Offers, models.SandboxOffer{
			BasePlanID:     o.BasePlanID,
			OfferID:        o.OfferID,
			OfferToken:     uuid.NewString(),
			FormattedPrice: o.Price,
			Currency:       o.Currency,
			PriceMicros:    o.PriceMicros,
		})
	}

	if err := s.store.UpsertProduct(ctx, product); err != nil {
		return nil, fmt.Errorf("failed to save sandbox product: %w", err)
	}
	s.cache.Invalidate(ctx, product.Platform, product.ProductID)

	logging.Infof("Sandbox product saved - platform: %s, product: %s, type: %s, offers: %d", product.Platform, product.ProductID, product.ProductType, len(product.Offers))
	return product, nil
}

// products resolves ids in request order through the cache. Unknown ids
// are returned as invalid.
func (s *Sandbox) products(ctx context.Context, platform iap.Platform, productIDs []string) ([]models.SandboxProduct, []string, error) {
	found := make(map[string]models.SandboxProduct, len(productIDs))
	var misses []string
	seen := make(map[string]bool, len(productIDs))
	for _, id := range productIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if p, ok := s.cache.Get(ctx, string(platform), id); ok {
			found[id] = p
			continue
		}
		misses = append(misses, id)
	}

	if len(misses) > 0 {
		loaded, err := s.store.Products(ctx, string(platform), misses)
		if err != nil {
			return nil, nil, err
		}
		for _, p := range loaded {
			found[p.ProductID] = p
			s.cache.Set(ctx, p)
		}
	}

	var (
		out     []models.SandboxProduct
		invalid []string
	)
	emitted := make(map[string]bool, len(productIDs))
	for _, id := range productIDs {
		if emitted[id] {
			continue
		}
		emitted[id] = true
		if p, ok := found[id]; ok {
			out = append(out, p)
		} else {
			invalid = append(invalid, id)
		}
	}
	return out, invalid, nil
}

func (s *Sandbox) product(ctx context.Context, platform iap.Platform, productID string) (models.SandboxProduct, bool, error) {
	products, _, err := s.products(ctx, platform, []string{productID})
	if err != nil || len(products) == 0 {
		return models.SandboxProduct{}, false, err
	}
	return products[0], true, nil
}

// newPurchase stores a pending purchase.
func (s *Sandbox) newPurchase(ctx context.Context, purchase *models.SandboxPurchase) error {
	purchase.State = models.SandboxStatePending
	purchase.PurchaseToken = uuid.NewString()
	if purchase.OrderID == "" {
		purchase.OrderID = newOrderID(iap.Platform(purchase.Platform))
	}
	return s.store.CreatePurchase(ctx, purchase)
}

func newOrderID(platform iap.Platform) string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	if platform == iap.PlatformGoogle {
		return "GPA." + id[:4] + "-" + id[4:8] + "-" + id[8:12] + "-" + id[12:17]
	}
	return id[:16]
}

// settle moves a pending purchase to purchased.
func (s *Sandbox) settle(ctx context.Context, purchase *models.SandboxPurchase) error {
	purchase.State = models.SandboxStatePurchased
	purchase.PurchasedAt = s.now()
	return s.store.SavePurchase(ctx, purchase)
}

// Approve completes a pending purchase and notifies the platform client.
func (s *Sandbox) Approve(ctx context.Context, token string) (*models.SandboxPurchase, error) {
	purchase, err := s.pending(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.settle(ctx, purchase); err != nil {
		return nil, err
	}
	logging.Infof("Sandbox purchase approved - platform: %s, order: %s", purchase.Platform, purchase.OrderID)

	s.deliver(ctx, purchase)
	return purchase, nil
}

// Decline fails a pending purchase with the platform's user cancel code.
func (s *Sandbox) Decline(ctx context.Context, token string) (*models.SandboxPurchase, error) {
	purchase, err := s.pending(ctx, token)
	if err != nil {
		return nil, err
	}
	purchase.State = models.SandboxStateFailed
	if purchase.Platform == string(iap.PlatformApple) {
		purchase.ErrorCode = iap.AppleUserCanceled
	} else {
		purchase.ErrorCode = iap.GoogleUserCanceled
	}
	if err := s.store.SavePurchase(ctx, purchase); err != nil {
		return nil, err
	}
	logging.Infof("Sandbox purchase declined - platform: %s, order: %s", purchase.Platform, purchase.OrderID)

	s.deliver(ctx, purchase)
	return purchase, nil
}

// PendingPurchases lists purchases awaiting Approve or Decline.
func (s *Sandbox) PendingPurchases(ctx context.Context, platform iap.Platform) ([]models.SandboxPurchase, error) {
	return s.store.Purchases(ctx, string(platform), models.SandboxStatePending)
}

func (s *Sandbox) pending(ctx context.Context, token string) (*models.SandboxPurchase, error) {
	purchase, err := s.store.PurchaseByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if purchase.State != models.SandboxStatePending {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotPending, purchase.OrderID, purchase.State)
	}
	return purchase, nil
}

// deliver routes a resolved purchase to the client of its platform.
func (s *Sandbox) deliver(ctx context.Context, purchase *models.SandboxPurchase) {
	switch iap.Platform(purchase.Platform) {
	case iap.PlatformGoogle:
		s.mu.RLock()
		client := s.googleClient
		s.mu.RUnlock()
		if client == nil {
			logging.Warnf("No billing client connected, purchase %s stays queued", purchase.OrderID)
			return
		}
		client.deliver(ctx, purchase)
	case iap.PlatformApple:
		s.appStore.deliver(purchase)
	}
}
