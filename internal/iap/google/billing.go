package google

import (
	"context"
	"time"
)

// Billing response codes as reported by Play Billing.
const (
	ServiceDisconnected = -1
	OK                  = 0
	UserCanceled        = 1
	ServiceUnavailable  = 2
	BillingUnavailable  = 3
	ItemUnavailable     = 4
	DeveloperError      = 5
	Error               = 6
	ItemAlreadyOwned    = 7
	ItemNotOwned        = 8
	NetworkError        = 12
)

const (
	ProductTypeInApp = "inapp"
	ProductTypeSubs  = "subs"
)

type BillingResult struct {
	ResponseCode int
	DebugMessage string
}

func (r BillingResult) OK() bool {
	return r.ResponseCode == OK
}

func Result(code int, message string) BillingResult {
	return BillingResult{ResponseCode: code, DebugMessage: message}
}

// ClientConfig mirrors the builder options of a billing client.
type ClientConfig struct {
	UserChoiceBilling bool
	PendingPurchases  bool
}

type ProductQuery struct {
	ProductID   string
	ProductType string
}

type PricingPhase struct {
	FormattedPrice    string
	PriceCurrencyCode string
	PriceAmountMicros int64
}

type SubscriptionOffer struct {
	BasePlanID    string
	OfferID       string
	OfferToken    string
	PricingPhases []PricingPhase
}

type OneTimeOffer struct {
	FormattedPrice    string
	PriceCurrencyCode string
	PriceAmountMicros int64
}

type ProductDetails struct {
	ProductID          string
	ProductType        string
	Title              string
	Description        string
	OneTimeOffer       *OneTimeOffer
	SubscriptionOffers []SubscriptionOffer
}

type PurchaseState int

const (
	PurchaseStateUnspecified PurchaseState = iota
	PurchaseStatePurchased
	PurchaseStatePending
)

type Purchase struct {
	OrderID       string
	Products      []string
	PurchaseTime  time.Time
	PurchaseToken string
	OriginalJSON  string
	State         PurchaseState
	Acknowledged  bool
	AccountID     string
	ProfileID     string
}

type FlowParams struct {
	ProductDetails      ProductDetails
	OfferToken          string
	ObfuscatedAccountID string
	ObfuscatedProfileID string
	OldPurchaseToken    string
}

// UserChoiceDetails describes a purchase the user moved to alternative
// billing.
type UserChoiceDetails struct {
	ExternalTransactionToken string
	Products                 []string
}

type (
	PurchasesUpdatedListener func(result BillingResult, purchases []Purchase)
	UserChoiceListener       func(details UserChoiceDetails)
)

// BillingClient is the narrow surface of the Play Billing client this
// package needs. Purchase outcomes are delivered to the listener the client
// was built with, never returned from LaunchBillingFlow.
type BillingClient interface {
	StartConnection(ctx context.Context) BillingResult
	EndConnection()
	IsReady() bool
	QueryProductDetails(ctx context.Context, queries []ProductQuery) ([]ProductDetails, BillingResult)
	LaunchBillingFlow(ctx context.Context, params FlowParams) BillingResult
	QueryPurchases(ctx context.Context, productType string) ([]Purchase, BillingResult)
	Acknowledge(ctx context.Context, purchaseToken string) BillingResult
	Consume(ctx context.Context, purchaseToken string) BillingResult
}

// ClientFactory builds a billing client. userChoice is nil unless user
// choice billing is enabled.
type ClientFactory func(cfg ClientConfig, purchases PurchasesUpdatedListener, userChoice UserChoiceListener) BillingClient
