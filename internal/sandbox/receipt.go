package sandbox

import (
	"encoding/json"
	"sort"

	"iap-reconciler/internal/models"
)

const sandboxBundle = "dev.iap-reconciler.sandbox"

type playPurchaseJSON struct {
	OrderID          string `json:"orderId"`
	PackageName      string `json:"packageName"`
	ProductID        string `json:"productId"`
	PurchaseTime     int64  `json:"purchaseTime"`
	PurchaseState    int    `json:"purchaseState"`
	PurchaseToken    string `json:"purchaseToken"`
	Acknowledged     bool   `json:"acknowledged"`
	ObfuscatedAcctID string `json:"obfuscatedAccountId,omitempty"`
}

// originalJSON renders the purchase the way Play signs it.
func originalJSON(p models.SandboxPurchase) string {
	state := 4 // pending
	if p.State == models.SandboxStatePurchased || p.State == models.SandboxStateConsumed {
		state = 0
	}
	data, _ := json.Marshal(playPurchaseJSON{
		OrderID:          p.OrderID,
		PackageName:      sandboxBundle,
		ProductID:        p.ProductID,
		PurchaseTime:     p.PurchasedAt.UnixMilli(),
		PurchaseState:    state,
		PurchaseToken:    p.PurchaseToken,
		Acknowledged:     p.Acknowledged,
		ObfuscatedAcctID: p.AccountID,
	})
	return string(data)
}

type receiptInApp struct {
	ProductID             string `json:"product_id"`
	TransactionID         string `json:"transaction_id"`
	OriginalTransactionID string `json:"original_transaction_id"`
	PurchaseDateMS        int64  `json:"purchase_date_ms"`
}

type appReceiptJSON struct {
	BundleID string         `json:"bundle_id"`
	InApp    []receiptInApp `json:"in_app"`
}

// appReceipt builds the unsigned sandbox app receipt listing completed
// purchases, oldest first.
func appReceipt(purchases []models.SandboxPurchase) ([]byte, error) {
	receipt := appReceiptJSON{BundleID: sandboxBundle}
	for _, p := range purchases {
		original := p.OriginalOrderID
		if original == "" {
			original = p.OrderID
		}
		receipt.InApp = append(receipt.InApp, receiptInApp{
			ProductID:             p.ProductID,
			TransactionID:         p.OrderID,
			OriginalTransactionID: original,
			PurchaseDateMS:        p.PurchasedAt.UnixMilli(),
		})
	}
	sort.SliceStable(receipt.InApp, func(i, j int) bool {
		return receipt.InApp[i].PurchaseDateMS < receipt.InApp[j].PurchaseDateMS
	})
	return json.Marshal(receipt)
}
