package models

import (
	"time"
)

// Sandbox purchase states. Google purchases move pending → purchased →
// consumed; Apple transactions move pending → purchased|restored → finished.
const (
	SandboxStatePending   = "pending"
	SandboxStatePurchased = "purchased"
	SandboxStateRestored  = "restored"
	SandboxStateFailed    = "failed"
	SandboxStateConsumed  = "consumed"
	SandboxStateFinished  = "finished"
)

// SandboxProduct is a catalog entry of the simulated store.
type SandboxProduct struct {
	BaseModel

	Platform    string `json:"platform" gorm:"not null;size:20;uniqueIndex:idx_sandbox_product"`
	ProductID   string `json:"product_id" gorm:"not null;size:100;uniqueIndex:idx_sandbox_product"`
	ProductType string `json:"product_type" gorm:"not null;size:10;default:inapp"` // inapp 或 subs
	Consumable  bool   `json:"consumable"`

	Title          string `json:"title" gorm:"size:255"`
	Description    string `json:"description" gorm:"type:text"`
	FormattedPrice string `json:"formatted_price" gorm:"size:50"`
	Currency       string `json:"currency" gorm:"size:10"`
	PriceMicros    int64  `json:"price_micros"`

	Offers []SandboxOffer `json:"offers,omitempty" gorm:"foreignKey:SandboxProductID;constraint:OnDelete:CASCADE"`
}

// TableName 指定表名
func (SandboxProduct) TableName() string {
	return "sandbox_products"
}

// SandboxOffer is a subscription base plan offer. Offers keep their
// insertion order.
type SandboxOffer struct {
	BaseModel

	SandboxProductID uint   `json:"-" gorm:"not null;index"`
	BasePlanID       string `json:"base_plan_id" gorm:"not null;size:100"`
	OfferID          string `json:"offer_id" gorm:"size:100"`
	OfferToken       string `json:"offer_token" gorm:"not null;size:100;uniqueIndex"`
	FormattedPrice   string `json:"formatted_price" gorm:"size:50"`
	Currency         string `json:"currency" gorm:"size:10"`
	PriceMicros      int64  `json:"price_micros"`
}

// TableName 指定表名
func (SandboxOffer) TableName() string {
	return "sandbox_offers"
}

// SandboxPurchase is a purchase held by the simulated store until it is
// consumed, acknowledged or finished.
type SandboxPurchase struct {
	BaseModel

	Platform      string `json:"platform" gorm:"not null;size:20;index"`
	OrderID       string `json:"order_id" gorm:"not null;size:100;uniqueIndex"` // Google order id / Apple transaction id
	PurchaseToken string `json:"purchase_token" gorm:"not null;size:100;uniqueIndex"`
	ProductID     string `json:"product_id" gorm:"not null;size:100;index"`
	State         string `json:"state" gorm:"not null;size:20;index"`
	Acknowledged  bool   `json:"acknowledged"`

	// 购买参数
	AccountID           string `json:"account_id,omitempty" gorm:"size:100"`
	ProfileID           string `json:"profile_id,omitempty" gorm:"size:100"`
	ApplicationUsername string `json:"application_username,omitempty" gorm:"size:100"`
	OfferToken          string `json:"offer_token,omitempty" gorm:"size:100"`
	DiscountID          string `json:"discount_id,omitempty" gorm:"size:100"`
	ReplacesToken       string `json:"replaces_token,omitempty" gorm:"size:100"`
	OriginalOrderID     string `json:"original_order_id,omitempty" gorm:"size:100"` // restored transactions

	ErrorCode   int       `json:"error_code,omitempty"`
	PurchasedAt time.Time `json:"purchased_at"`
}

// TableName 指定表名
func (SandboxPurchase) TableName() string {
	return "sandbox_purchases"
}
