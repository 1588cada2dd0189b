// Package iap reconciles the Apple StoreKit and Google Play Billing purchase
// lifecycles into one: product lookup, purchase, asynchronous completion,
// finalization, and recovery of purchases left unfinalized.
package iap

import (
	"time"
)

// Platform identifies the native purchase backend behind a session.
type Platform string

const (
	PlatformApple  Platform = "ios"
	PlatformGoogle Platform = "android"
)

// ProductType is the Google product type hint. Apple ignores it.
type ProductType string

const (
	ProductTypeInApp        ProductType = "inapp"
	ProductTypeSubscription ProductType = "subs"
)

// Valid reports whether t is a product type Google Play understands.
func (t ProductType) Valid() bool {
	return t == ProductTypeInApp || t == ProductTypeSubscription
}

// ProductRequest asks for one product. PlanID and OfferID select a
// subscription base plan and offer on Google.
type ProductRequest struct {
	ID      string      `json:"id"`
	Type    ProductType `json:"type,omitempty"`
	PlanID  string      `json:"plan_id,omitempty"`
	OfferID string      `json:"offer_id,omitempty"`
}

// Product is a fetched, localized product. Immutable once fetched.
type Product struct {
	ProductID   string `json:"product_id"`
	PlanID      string `json:"plan_id,omitempty"`
	OfferID     string `json:"offer_id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       string `json:"price"`
	Currency    string `json:"currency"`
}

// PurchaseArgs is the superset of both platforms' purchase arguments.
// Fields the active platform does not support are ignored.
type PurchaseArgs struct {
	// Google
	PlanID                string `json:"plan_id,omitempty"`
	OfferID               string `json:"offer_id,omitempty"`
	OriginalPurchaseToken string `json:"original_purchase_token,omitempty"`
	ObfuscatedAccountID   string `json:"obfuscated_account_id,omitempty"`
	ObfuscatedProfileID   string `json:"obfuscated_profile_id,omitempty"`

	// Apple
	UserID        string `json:"user_id,omitempty"`
	KeyIdentifier string `json:"key_identifier,omitempty"`
	Nonce         string `json:"nonce,omitempty"`
	Signature     string `json:"signature,omitempty"`
	Timestamp     int64  `json:"timestamp,omitempty"`
}

// HasPromotionalOffer reports whether every field of an Apple promotional
// offer signature is present.
func (a PurchaseArgs) HasPromotionalOffer() bool {
	return a.OfferID != "" && a.KeyIdentifier != "" && a.Nonce != "" && a.Signature != "" && a.Timestamp != 0
}

// Transaction is a purchase reported by the native backend. It stays
// unfinalized until Finalize succeeds natively.
type Transaction struct {
	ProductIDs      []string  `json:"product_ids"`
	TransactionID   string    `json:"transaction_id"`
	TransactionDate time.Time `json:"transaction_date"`
	Receipt         string    `json:"receipt"`
	PurchaseToken   string    `json:"purchase_token"`
}

// Covers reports whether the transaction includes productID.
func (t Transaction) Covers(productID string) bool {
	for _, id := range t.ProductIDs {
		if id == productID {
			return true
		}
	}
	return false
}

// Key identifies the transaction within one platform. Google order ids can
// be empty for some test purchases, so the purchase token is the fallback.
func (t Transaction) Key() string {
	if t.TransactionID != "" {
		return t.TransactionID
	}
	return t.PurchaseToken
}

// Options are the configure options.
type Options struct {
	// AlternativeBilling enables Google user choice billing.
	AlternativeBilling bool `json:"alternative_billing"`
}
