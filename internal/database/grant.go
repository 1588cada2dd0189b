package database

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"iap-reconciler/internal/models"
	"iap-reconciler/pkg/logging"
)

// GrantRepository stores the fulfillment ledger.
type GrantRepository struct {
	db *gorm.DB
}

func NewGrantRepository(db *gorm.DB) *GrantRepository {
	return &GrantRepository{db: db}
}

// Record 创建或更新履约记录
// A second grant for the same platform and transaction key updates the
// existing row, so a redelivered transaction never produces two rows.
func (r *GrantRepository) Record(ctx context.Context, grant *models.Grant) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Grant
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("platform = ? AND transaction_key = ?", grant.Platform, grant.TransactionKey).
			First(&existing).Error

		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return tx.Create(grant).Error
			}
			return err
		}

		logging.Infof("Updating grant - platform: %s, transaction: %s", grant.Platform, grant.TransactionKey)
		existing.TransactionID = grant.TransactionID
		existing.PurchaseToken = grant.PurchaseToken
		existing.ProductIDs = grant.ProductIDs
		existing.Consumable = grant.Consumable
		existing.Reason = grant.Reason
		existing.TransactionDate = grant.TransactionDate
		existing.FinalizedAt = grant.FinalizedAt

		if err := tx.Save(&existing).Error; err != nil {
			return err
		}
		*grant = existing
		return nil
	})
}

// Find returns the grant for a transaction, or gorm.ErrRecordNotFound.
func (r *GrantRepository) Find(ctx context.Context, platform, transactionKey string) (*models.Grant, error) {
	var grant models.Grant
	err := r.db.WithContext(ctx).
		Where("platform = ? AND transaction_key = ?", platform, transactionKey).
		First(&grant).Error
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

// List returns the newest grants first. A limit of zero or less returns
// every row.
func (r *GrantRepository) List(ctx context.Context, platform string, limit int) ([]models.Grant, error) {
	query := r.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if platform != "" {
		query = query.Where("platform = ?", platform)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var grants []models.Grant
	err := query.Find(&grants).Error
	return grants, err
}
