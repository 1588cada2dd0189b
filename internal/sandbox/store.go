package sandbox

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"iap-reconciler/internal/models"
)

// Store persists the simulated store's catalog and purchases.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// UpsertProduct creates the product or replaces the existing one for the
// same platform and product id, offers included.
func (s *Store) UpsertProduct(ctx context.Context, product *models.SandboxProduct) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.SandboxProduct
		found := tx.Where("platform = ? AND product_id = ?", product.Platform, product.ProductID).Limit(1).Find(&existing)
		if found.Error != nil {
			return found.Error
		}
		if found.RowsAffected == 0 {
			return tx.Create(product).Error
		}

		if err := tx.Unscoped().Where("sandbox_product_id = ?", existing.ID).Delete(&models.SandboxOffer{}).Error; err != nil {
			return fmt.Errorf("failed to replace offers: %w", err)
		}

		product.ID = existing.ID
		product.CreatedAt = existing.CreatedAt
		offers := product.Offers
		product.Offers = nil
		if err := tx.Save(product).Error; err != nil {
			return err
		}
		for i := range offers {
			offers[i].ID = 0
			offers[i].SandboxProductID = product.ID
		}
		if len(offers) > 0 {
			if err := tx.Create(&offers).Error; err != nil {
				return err
			}
		}
		product.Offers = offers
		return nil
	})
}

// Products loads the given products of one platform with their offers.
func (s *Store) Products(ctx context.Context, platform string, productIDs []string) ([]models.SandboxProduct, error) {
	var products []models.SandboxProduct
	err := s.db.WithContext(ctx).
		Preload("Offers", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("platform = ? AND product_id IN ?", platform, productIDs).
		Find(&products).Error
	return products, err
}

func (s *Store) CreatePurchase(ctx context.Context, purchase *models.SandboxPurchase) error {
	return s.db.WithContext(ctx).Create(purchase).Error
}

func (s *Store) SavePurchase(ctx context.Context, purchase *models.SandboxPurchase) error {
	return s.db.WithContext(ctx).Save(purchase).Error
}

// PurchaseByToken returns ErrPurchaseNotFound for an unknown token.
func (s *Store) PurchaseByToken(ctx context.Context, token string) (*models.SandboxPurchase, error) {
	return s.findPurchase(ctx, "purchase_token = ?", token)
}

func (s *Store) PurchaseByOrderID(ctx context.Context, platform, orderID string) (*models.SandboxPurchase, error) {
	return s.findPurchase(ctx, "platform = ? AND order_id = ?", platform, orderID)
}

func (s *Store) findPurchase(ctx context.Context, query string, args ...interface{}) (*models.SandboxPurchase, error) {
	var purchase models.SandboxPurchase
	found := s.db.WithContext(ctx).Where(query, args...).Order("id ASC").Limit(1).Find(&purchase)
	if found.Error != nil {
		return nil, found.Error
	}
	if found.RowsAffected == 0 {
		return nil, ErrPurchaseNotFound
	}
	return &purchase, nil
}

// Purchases lists a platform's purchases in creation order, optionally
// restricted to some states.
func (s *Store) Purchases(ctx context.Context, platform string, states ...string) ([]models.SandboxPurchase, error) {
	query := s.db.WithContext(ctx).Where("platform = ?", platform).Order("id ASC")
	if len(states) > 0 {
		query = query.Where("state IN ?", states)
	}
	var purchases []models.SandboxPurchase
	err := query.Find(&purchases).Error
	return purchases, err
}
