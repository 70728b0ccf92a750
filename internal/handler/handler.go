package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/amifistore/cekot-sub000/internal/config"
	"github.com/amifistore/cekot-sub000/internal/engine"
	"github.com/amifistore/cekot-sub000/internal/repository"
	"github.com/amifistore/cekot-sub000/internal/service"
	"github.com/amifistore/cekot-sub000/internal/webhook"
	"github.com/amifistore/cekot-sub000/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Handler is the narrow interface the chat front-end and the upstream
// provider talk to. The front-end owns menus and conversation state; this
// surface owns the money.
type Handler struct {
	cfg            *config.Config
	eng            *engine.Engine
	walletService  *service.WalletService
	topupService   *service.TopupService
	catalogService *service.CatalogService
	orderRepo      *repository.OrderRepository
	audit          *webhook.AuditLog
}

func NewHandler(db *gorm.DB, cfg *config.Config, eng *engine.Engine, walletService *service.WalletService, topupService *service.TopupService, catalogService *service.CatalogService, audit *webhook.AuditLog) *Handler {
	return &Handler{
		cfg:            cfg,
		eng:            eng,
		walletService:  walletService,
		topupService:   topupService,
		catalogService: catalogService,
		orderRepo:      repository.NewOrderRepository(db),
		audit:          audit,
	}
}

// ============================================================
// Webhook intake
// ============================================================

// Webhook accepts provider push messages, POST body (JSON or form) with a
// GET query fallback. The raw payload hits the audit log before any parsing.
func (h *Handler) Webhook(c *gin.Context) {
	raw := h.rawPayload(c)

	if err := h.audit.Record("webhook", c.ClientIP(), raw); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit write failed"})
		return
	}

	message := extractMessage(c, raw)
	if message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no message field"})
		return
	}

	ev, err := webhook.Parse(message)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unrecognized format"})
		return
	}

	err = h.eng.ApplyStatusEvent(c.Request.Context(), engine.StatusEvent{
		ProviderRef: ev.ProviderRef,
		Observed:    ev.Status,
		SN:          ev.SN,
		Note:        ev.Keterangan,
	})
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			// Unknown ref after retries: acknowledge and let the reconciler
			// sort it out, the provider must not keep re-posting.
			c.JSON(http.StatusOK, gin.H{"status": "dropped"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) rawPayload(c *gin.Context) string {
	if c.Request.Method == http.MethodGet {
		return c.Request.URL.RawQuery
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		return ""
	}
	return string(body)
}

// extractMessage looks for the provider text in JSON body, form body, then
// query string, in that order.
func extractMessage(c *gin.Context, raw string) string {
	var parsed struct {
		Message string `json:"message"`
		Data    string `json:"data"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Data != "" {
			return parsed.Data
		}
	}

	if c.Request.Method != http.MethodGet {
		if v, err := url.ParseQuery(raw); err == nil {
			if m := v.Get("message"); m != "" {
				return m
			}
		}
	}

	return c.Query("message")
}

// ============================================================
// Health and order snapshot
// ============================================================

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// OrderSnapshot returns the current order row for a provider ref.
// GET /order/:provider_ref
func (h *Handler) OrderSnapshot(c *gin.Context) {
	ref := c.Param("provider_ref")
	order, err := h.orderRepo.GetByProviderRef(c.Request.Context(), ref)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			response.NotFound(c, "order not found")
			return
		}
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, order)
}

// ============================================================
// Orders
// ============================================================

type PlaceOrderRequest struct {
	ChatID        string `json:"chat_id" binding:"required"`
	ProductCode   string `json:"product_code" binding:"required"`
	CustomerInput string `json:"customer_input" binding:"required"`
}

// PlaceOrder runs the purchase pipeline: debit, dispatch, first transition.
// POST /api/v1/order/place
func (h *Handler) PlaceOrder(c *gin.Context) {
	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	order, err := h.eng.PlaceOrder(c.Request.Context(), req.ChatID, req.ProductCode, req.CustomerInput)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrInsufficientFunds):
			response.BusinessError(c, response.CodeInsufficientFunds, "saldo tidak cukup")
		case errors.Is(err, repository.ErrProductNotFound):
			response.NotFound(c, "product not found")
		case errors.Is(err, engine.ErrProductUnavailable):
			response.BusinessError(c, response.CodeProductInactive, "produk sedang tidak tersedia")
		case errors.Is(err, engine.ErrInvalidTarget):
			response.BusinessError(c, response.CodeInvalidTarget, "nomor tujuan tidak valid")
		default:
			response.ServerError(c, err.Error())
		}
		return
	}

	response.Success(c, gin.H{
		"provider_ref": order.ProviderRef,
		"status":       order.Status,
		"product":      order.ProductName,
		"price":        order.Price,
	})
}

// ListOrders returns a user's order history.
// GET /api/v1/order/list?chat_id=xxx&page=1&page_size=10
func (h *Handler) ListOrders(c *gin.Context) {
	chatID := c.Query("chat_id")
	if chatID == "" {
		response.ParamError(c, "chat_id is required")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	orders, total, err := h.orderRepo.ListByUser(c.Request.Context(), chatID, page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":      orders,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// Wallet
// ============================================================

// GetBalance registers the user on first contact and returns the balance.
// GET /api/v1/account/balance?chat_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	chatID := c.Query("chat_id")
	if chatID == "" {
		response.ParamError(c, "chat_id is required")
		return
	}

	user, err := h.walletService.Register(c.Request.Context(), chatID, c.Query("username"), c.Query("full_name"))
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"chat_id": user.ChatID,
		"balance": user.Balance,
	})
}

// WalletHistory lists ledger rows for a user.
// GET /api/v1/account/history?chat_id=xxx&page=1&page_size=10
func (h *Handler) WalletHistory(c *gin.Context) {
	chatID := c.Query("chat_id")
	if chatID == "" {
		response.ParamError(c, "chat_id is required")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	transactions, total, err := h.walletService.History(c.Request.Context(), chatID, page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":      transactions,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

type AdjustRequest struct {
	ChatID string `json:"chat_id" binding:"required"`
	Amount int64  `json:"amount" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

// Adjust applies a manual balance correction (operator only).
// POST /api/v1/admin/account/adjust
func (h *Handler) Adjust(c *gin.Context) {
	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	err := h.walletService.Adjust(c.Request.Context(), operatorID(c), req.ChatID, req.Amount, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrUserNotFound):
			response.NotFound(c, "user not found")
		case errors.Is(err, repository.ErrInsufficientFunds):
			response.BusinessError(c, response.CodeInsufficientFunds, "saldo tidak cukup")
		default:
			response.ServerError(c, err.Error())
		}
		return
	}

	response.Success(c, gin.H{"message": "adjusted"})
}

// ============================================================
// Top-up
// ============================================================

type TopupRequestBody struct {
	ChatID   string `json:"chat_id" binding:"required"`
	Amount   int64  `json:"amount" binding:"required,gt=0"`
	ProofRef string `json:"proof_ref"`
}

// RequestTopup opens a pending top-up with the uniqueness tail applied.
// POST /api/v1/topup/request
func (h *Handler) RequestTopup(c *gin.Context) {
	var req TopupRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	topup, err := h.topupService.Request(c.Request.Context(), req.ChatID, req.Amount, req.ProofRef)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"request_id":      topup.ID,
		"transfer_amount": topup.Amount,
		"status":          topup.Status,
	})
}

type SettleTopupRequest struct {
	RequestID int64 `json:"request_id" binding:"required"`
}

// ApproveTopup credits the wallet once per request (operator only).
// POST /api/v1/admin/topup/approve
func (h *Handler) ApproveTopup(c *gin.Context) {
	var req SettleTopupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	err := h.topupService.Approve(c.Request.Context(), operatorID(c), req.RequestID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrTopupNotFound):
			response.BusinessError(c, response.CodeTopupNotFound, "topup request not found")
		case errors.Is(err, repository.ErrTopupSettled):
			response.BusinessError(c, response.CodeTopupSettled, "topup request already settled")
		default:
			response.ServerError(c, err.Error())
		}
		return
	}

	response.Success(c, gin.H{"message": "approved"})
}

// RejectTopup settles a pending request with no ledger effect (operator only).
// POST /api/v1/admin/topup/reject
func (h *Handler) RejectTopup(c *gin.Context) {
	var req SettleTopupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	err := h.topupService.Reject(c.Request.Context(), operatorID(c), req.RequestID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrTopupNotFound):
			response.BusinessError(c, response.CodeTopupNotFound, "topup request not found")
		case errors.Is(err, repository.ErrTopupSettled):
			response.BusinessError(c, response.CodeTopupSettled, "topup request already settled")
		default:
			response.ServerError(c, err.Error())
		}
		return
	}

	response.Success(c, gin.H{"message": "rejected"})
}

// ListPendingTopups shows the operator queue.
// GET /api/v1/admin/topup/pending
func (h *Handler) ListPendingTopups(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	reqs, err := h.topupService.ListPending(c.Request.Context(), limit)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"list": reqs})
}

// ============================================================
// Catalog
// ============================================================

// ListProducts returns active catalog entries.
// GET /api/v1/product/list
func (h *Handler) ListProducts(c *gin.Context) {
	products, err := h.catalogService.ListActive(c.Request.Context())
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"list": products})
}

// RefreshCatalog re-imports the provider catalog (operator only).
// POST /api/v1/admin/catalog/refresh
func (h *Handler) RefreshCatalog(c *gin.Context) {
	count, err := h.catalogService.Refresh(c.Request.Context(), operatorID(c))
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"imported": count})
}
