package models

import (
	"strings"
	"time"
)

// Grant 履约记录
// One row per transaction the service validated and finalized.
type Grant struct {
	BaseModel

	// 交易标识
	Platform       string `json:"platform" gorm:"not null;size:20;uniqueIndex:idx_grant_transaction"`
	TransactionKey string `json:"transaction_key" gorm:"not null;size:200;uniqueIndex:idx_grant_transaction"` // transaction id, else purchase token
	TransactionID  string `json:"transaction_id" gorm:"size:100;index"`
	PurchaseToken  string `json:"purchase_token" gorm:"type:text"`

	// 产品信息
	ProductIDs string `json:"product_ids" gorm:"size:500"` // comma separated
	Consumable bool   `json:"consumable"`

	// 校验结果
	Reason string `json:"reason" gorm:"size:255"`

	// 时间
	TransactionDate time.Time `json:"transaction_date"`
	FinalizedAt     time.Time `json:"finalized_at"`
}

// TableName 指定表名
func (Grant) TableName() string {
	return "grants"
}

// Products splits ProductIDs.
func (g Grant) Products() []string {
	if g.ProductIDs == "" {
		return nil
	}
	return strings.Split(g.ProductIDs, ",")
}

// JoinProducts is the inverse of Products.
func JoinProducts(ids []string) string {
	return strings.Join(ids, ",")
}
