package services

import (
	"context"

	"iap-reconciler/internal/iap"
	"iap-reconciler/internal/models"
	"iap-reconciler/internal/validation"
)

// Validator decides whether a completed transaction is granted.
//
//go:generate mockgen -destination=mocks/mock_services.go -package=mocks -source=interface.go
type Validator interface {
	Validate(ctx context.Context, platform iap.Platform, tx iap.Transaction) (validation.Decision, error)
}

// GrantStore is the fulfillment ledger.
type GrantStore interface {
	Record(ctx context.Context, grant *models.Grant) error
	// Find returns gorm.ErrRecordNotFound for an unknown transaction.
	Find(ctx context.Context, platform, transactionKey string) (*models.Grant, error)
}

// PurchaseSource is the slice of *iap.Session the fulfiller drives.
type PurchaseSource interface {
	Platform() iap.Platform
	OnPurchase(fn iap.PurchaseListener) (unsubscribe func())
	Finalize(ctx context.Context, tx iap.Transaction, isConsumable bool) error
	// Reject settles the in-flight attempt of a transaction that will not
	// be finalized.
	Reject(tx iap.Transaction)
}

// ClaimStore hands out short-lived exclusive claims on a key.
type ClaimStore interface {
	// Claim reports false when the key is already claimed.
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}
