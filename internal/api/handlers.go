package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"iap-reconciler/internal/iap"
	"iap-reconciler/internal/models"
	"iap-reconciler/internal/response"
	"iap-reconciler/internal/sandbox"
	"iap-reconciler/internal/services"
	"iap-reconciler/pkg/logging"
)

// GrantLister reads the fulfillment ledger.
type GrantLister interface {
	List(ctx context.Context, platform string, limit int) ([]models.Grant, error)
}

// Handlers serves one purchase session over HTTP.
type Handlers struct {
	session *iap.Session
	grants  GrantLister
	sandbox *sandbox.Sandbox
	hub     *EventHub

	mu       sync.RWMutex
	products []iap.Product
	fetched  time.Time
}

// NewHandlers subscribes to the session's events; sb may be nil when no
// sandbox backs the session.
func NewHandlers(session *iap.Session, grants GrantLister, sb *sandbox.Sandbox) *Handlers {
	h := &Handlers{
		session: session,
		grants:  grants,
		sandbox: sb,
		hub:     NewEventHub(32),
	}

	session.OnFetchProducts(func(products []iap.Product) {
		h.mu.Lock()
		h.products = products
		h.fetched = time.Now()
		h.mu.Unlock()
		h.hub.Publish(EventProducts, products)
	})
	session.OnPurchase(func(tx iap.Transaction) {
		h.hub.Publish(EventPurchase, tx)
	})
	session.OnAlternativeBillingFlow(func(token string) {
		h.hub.Publish(EventAlternativeBilling, gin.H{"token": token})
	})
	session.OnError(func(err *iap.IAPError) {
		h.hub.Publish(EventError, err)
	})
	return h
}

// Hub returns the event fan-out behind GET /api/events.
func (h *Handlers) Hub() *EventHub {
	return h.hub
}

// PublishOutcome forwards a fulfillment result to the event streams.
func (h *Handlers) PublishOutcome(tx iap.Transaction, outcome services.Outcome, err error) {
	data := gin.H{"transaction": tx, "outcome": outcome}
	if err != nil {
		data["error"] = err.Error()
	}
	h.hub.Publish(EventFulfillment, data)
}

// Health reports service liveness
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"service":  "iap-reconciler",
		"platform": h.session.Platform(),
	})
}

// ConfigureRequest represents configure request
type ConfigureRequest struct {
	AlternativeBilling bool `json:"alternative_billing"`
}

// Configure sets up the native session
// POST /api/session/configure
func (h *Handlers) Configure(c *gin.Context) {
	var req ConfigureRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}

	ok, err := h.session.Configure(c.Request.Context(), iap.Options{AlternativeBilling: req.AlternativeBilling})
	if err != nil {
		logging.Errorf("Configure failed: %v", err)
		h.fail(c, err)
		return
	}
	response.SuccessJSON(c, gin.H{"configured": ok})
}

// FetchProductsRequest represents fetch products request
type FetchProductsRequest struct {
	Products []iap.ProductRequest `json:"products" binding:"required,min=1"`
}

// FetchProducts starts a product query, results arrive as a products event
// POST /api/products/fetch
func (h *Handlers) FetchProducts(c *gin.Context) {
	var req FetchProductsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}

	if err := h.session.FetchProducts(c.Request.Context(), req.Products); err != nil {
		h.fail(c, err)
		return
	}
	response.MessageJSON(c, http.StatusAccepted, "Product fetch started", nil)
}

// ListProducts returns the payload of the last products event
// GET /api/products
func (h *Handlers) ListProducts(c *gin.Context) {
	h.mu.RLock()
	products := h.products
	fetched := h.fetched
	h.mu.RUnlock()

	if products == nil {
		products = []iap.Product{}
	}
	data := gin.H{"products": products}
	if !fetched.IsZero() {
		data["fetched_at"] = fetched
	}
	response.SuccessJSON(c, data)
}

// PurchaseRequest represents purchase request
type PurchaseRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	iap.PurchaseArgs
}

// Purchase launches a purchase flow, the outcome arrives as a purchase or
// error event
// POST /api/purchases
func (h *Handlers) Purchase(c *gin.Context) {
	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}

	if err := h.session.Purchase(c.Request.Context(), req.ProductID, req.PurchaseArgs); err != nil {
		h.fail(c, err)
		return
	}
	response.MessageJSON(c, http.StatusAccepted, "Purchase started", gin.H{"product_id": req.ProductID})
}

// PendingPurchases lists purchase attempts still in flight
// GET /api/purchases/pending
func (h *Handlers) PendingPurchases(c *gin.Context) {
	response.SuccessJSON(c, gin.H{"attempts": h.session.Attempts()})
}

// FinalizeRequest represents finalize request
type FinalizeRequest struct {
	Transaction  iap.Transaction `json:"transaction"`
	IsConsumable bool            `json:"is_consumable"`
}

// Finalize grants a transaction natively
// POST /api/transactions/finalize
func (h *Handlers) Finalize(c *gin.Context) {
	var req FinalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}
	if req.Transaction.Key() == "" {
		response.ErrorJSON(c, http.StatusBadRequest, "transaction_id or purchase_token is required")
		return
	}

	if err := h.session.Finalize(c.Request.Context(), req.Transaction, req.IsConsumable); err != nil {
		h.fail(c, err)
		return
	}
	response.MessageJSON(c, http.StatusOK, "Transaction finalized", gin.H{"transaction_id": req.Transaction.Key()})
}

// Flush lists unfinalized transactions and re-delivers them as purchase
// events
// POST /api/transactions/flush
func (h *Handlers) Flush(c *gin.Context) {
	pending, err := h.session.Flush(c.Request.Context())
	if err != nil {
		logging.Errorf("Flush failed: %v", err)
		h.fail(c, err)
		return
	}
	if pending == nil {
		pending = []iap.Transaction{}
	}
	response.SuccessJSON(c, gin.H{"transactions": pending})
}

// Restore replays completed transactions where the platform supports it
// POST /api/transactions/restore
func (h *Handlers) Restore(c *gin.Context) {
	if err := h.session.Restore(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	response.MessageJSON(c, http.StatusAccepted, "Restore started", nil)
}

// Receipt returns the platform receipt
// GET /api/receipt
func (h *Handlers) Receipt(c *gin.Context) {
	receipt, ok, err := h.session.FetchReceipt(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.SuccessJSON(c, gin.H{"receipt": receipt, "available": ok})
}

// Events streams session events as server-sent events
// GET /api/events
func (h *Handlers) Events(c *gin.Context) {
	events, unsubscribe := h.hub.Subscribe()
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	c.SSEvent("ready", gin.H{"platform": h.session.Platform()})
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, ev.Data)
			return true
		}
	})
}

// fail maps session errors onto status codes.
func (h *Handlers) fail(c *gin.Context, err error) {
	var iapErr *iap.IAPError
	switch {
	case errors.Is(err, iap.ErrNotConfigured):
		response.ErrorJSON(c, http.StatusConflict, "Session is not configured")
	case errors.Is(err, iap.ErrClosed):
		response.ErrorJSON(c, http.StatusServiceUnavailable, "Session is closed")
	case errors.Is(err, iap.ErrUnsupported):
		response.ErrorJSON(c, http.StatusNotImplemented, "Operation not supported on "+string(h.session.Platform()))
	case errors.As(err, &iapErr):
		c.JSON(http.StatusBadGateway, response.Response{Success: false, Message: iapErr.Message, Data: iapErr})
	default:
		response.ErrorJSON(c, http.StatusInternalServerError, err.Error())
	}
}
